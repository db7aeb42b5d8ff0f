package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stallmarket/backend/internal/domain/shared"
)

// BalanceEpsilon is the tolerance below which a remaining balance counts as settled
var BalanceEpsilon = decimal.RequireFromString("0.005")

const (
	MinDueDay             = 1
	MaxDueDay             = 28
	MinGraceDays          = 0
	MaxGraceDays          = 10
	MinThrottleWindow     = 15 * time.Minute
	DefaultThrottleWindow = 24 * time.Hour
)

// Policy holds the billing rules configured for the market
type Policy struct {
	DueDay               int
	GraceDays            int
	ReminderOffsets      []int
	RemindOnDueDay       bool
	RemindOnLastGraceDay bool
	ThrottleWindow       time.Duration
	Currency             string
}

// DefaultPolicy returns the out-of-the-box billing rules
func DefaultPolicy() Policy {
	return Policy{
		DueDay:               1,
		GraceDays:            5,
		ReminderOffsets:      []int{3, 1},
		RemindOnDueDay:       true,
		RemindOnLastGraceDay: true,
		ThrottleWindow:       DefaultThrottleWindow,
		Currency:             "USD",
	}
}

// Validate checks the policy ranges
func (p Policy) Validate() error {
	if p.DueDay < MinDueDay || p.DueDay > MaxDueDay {
		return shared.NewValidationError("INVALID_DUE_DAY", fmt.Sprintf("due day must be between %d and %d", MinDueDay, MaxDueDay))
	}
	if p.GraceDays < MinGraceDays || p.GraceDays > MaxGraceDays {
		return shared.NewValidationError("INVALID_GRACE_DAYS", fmt.Sprintf("grace days must be between %d and %d", MinGraceDays, MaxGraceDays))
	}
	for _, off := range p.ReminderOffsets {
		if off <= 0 {
			return shared.NewValidationError("INVALID_REMINDER_OFFSET", "reminder offsets must be positive")
		}
	}
	if p.ThrottleWindow < MinThrottleWindow {
		return shared.NewValidationError("INVALID_THROTTLE_WINDOW", fmt.Sprintf("throttle window must be at least %s", MinThrottleWindow))
	}
	if len(p.Currency) != 3 {
		return shared.NewValidationError("INVALID_CURRENCY", "currency must be a 3-letter ISO code")
	}
	return nil
}

// EffectiveDueDay clamps the configured due day into [1, 28]
func (p Policy) EffectiveDueDay() int {
	switch {
	case p.DueDay < MinDueDay:
		return MinDueDay
	case p.DueDay > MaxDueDay:
		return MaxDueDay
	}
	return p.DueDay
}

// DueDateFor returns the due date of the invoice a lease should have for
// today's month. A lease that starts after this month's due day is first
// billed on next month's due day.
func (p Policy) DueDateFor(lease *Lease, today time.Time) time.Time {
	today = DateOf(today)
	due := Date(today.Year(), today.Month(), p.EffectiveDueDay())
	if !lease.StartDate.IsZero() && DateOf(lease.StartDate).After(due) {
		due = due.AddDate(0, 1, 0)
	}
	return due
}

// GraceDeadline is the last calendar day on which an invoice due on due may be paid
func (p Policy) GraceDeadline(due time.Time) time.Time {
	return DateOf(due).AddDate(0, 0, p.GraceDays)
}

// WithinGrace reports whether today is on or before the grace deadline
func (p Policy) WithinGrace(due, today time.Time) bool {
	return !DateOf(today).After(p.GraceDeadline(due))
}

// GraceExpired reports whether the grace window has fully elapsed.
// An invoice due on D with G grace days is terminable from D+G+1.
func (p Policy) GraceExpired(due, today time.Time) bool {
	return DateOf(today).After(p.GraceDeadline(due))
}

// RemindersDue lists the reminder kinds an unpaid invoice qualifies for today
func (p Policy) RemindersDue(due, today time.Time) []ReminderKind {
	due = DateOf(due)
	today = DateOf(today)
	var kinds []ReminderKind
	for _, off := range p.ReminderOffsets {
		if due.Equal(today.AddDate(0, 0, off)) {
			kinds = append(kinds, BeforeDueReminder(off))
		}
	}
	if p.RemindOnDueDay && due.Equal(today) {
		kinds = append(kinds, ReminderDueDay)
	}
	if p.RemindOnLastGraceDay && p.GraceDeadline(due).Equal(today) {
		kinds = append(kinds, ReminderLastGraceDay)
	}
	return kinds
}
