package billing

import "time"

// DateOf truncates t to its calendar date at UTC midnight.
// Billing works with calendar dates only; time of day never matters.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a calendar date
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// BillingPeriodOf returns the YYYY-MM period a due date belongs to
func BillingPeriodOf(due time.Time) string {
	return due.Format("2006-01")
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock
type SystemClock struct{}

// Now returns time.Now
func (SystemClock) Now() time.Time {
	return time.Now()
}

// FixedClock always returns the same instant
type FixedClock struct {
	At time.Time
}

// Now returns the fixed instant
func (c FixedClock) Now() time.Time {
	return c.At
}
