package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stallmarket/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Policy)
		wantErr string
	}{
		{"default is valid", func(p *Policy) {}, ""},
		{"due day too low", func(p *Policy) { p.DueDay = 0 }, "INVALID_DUE_DAY"},
		{"due day too high", func(p *Policy) { p.DueDay = 29 }, "INVALID_DUE_DAY"},
		{"grace too high", func(p *Policy) { p.GraceDays = 11 }, "INVALID_GRACE_DAYS"},
		{"negative grace", func(p *Policy) { p.GraceDays = -1 }, "INVALID_GRACE_DAYS"},
		{"zero offset", func(p *Policy) { p.ReminderOffsets = []int{3, 0} }, "INVALID_REMINDER_OFFSET"},
		{"throttle below minimum", func(p *Policy) { p.ThrottleWindow = 14 * time.Minute }, "INVALID_THROTTLE_WINDOW"},
		{"throttle at minimum", func(p *Policy) { p.ThrottleWindow = 15 * time.Minute }, ""},
		{"bad currency", func(p *Policy) { p.Currency = "US" }, "INVALID_CURRENCY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, shared.CodeOf(err))
		})
	}
}

func TestPolicy_DueDateFor(t *testing.T) {
	p := DefaultPolicy()
	p.DueDay = 10

	t.Run("lease started before due day bills this month", func(t *testing.T) {
		lease := &Lease{StartDate: Date(2024, 6, 1)}
		assert.Equal(t, Date(2025, 3, 10), p.DueDateFor(lease, Date(2025, 3, 4)))
	})

	t.Run("lease starting after due day bills next month", func(t *testing.T) {
		lease := &Lease{StartDate: Date(2025, 3, 15)}
		assert.Equal(t, Date(2025, 4, 10), p.DueDateFor(lease, Date(2025, 3, 4)))
	})

	t.Run("december rolls into next year", func(t *testing.T) {
		lease := &Lease{StartDate: Date(2025, 12, 20)}
		assert.Equal(t, Date(2026, 1, 10), p.DueDateFor(lease, Date(2025, 12, 2)))
	})

	t.Run("due day is clamped to 28", func(t *testing.T) {
		p := DefaultPolicy()
		p.DueDay = 31
		assert.Equal(t, Date(2025, 2, 28), p.DueDateFor(&Lease{}, Date(2025, 2, 3)))
	})
}

func TestPolicy_GraceBoundary(t *testing.T) {
	p := DefaultPolicy()
	p.GraceDays = 5
	due := Date(2025, 1, 1)

	assert.True(t, p.WithinGrace(due, Date(2025, 1, 6)), "last grace day is still payable")
	assert.False(t, p.GraceExpired(due, Date(2025, 1, 6)), "not terminable on D+G")
	assert.True(t, p.GraceExpired(due, Date(2025, 1, 7)), "terminable from D+G+1")
	assert.False(t, p.WithinGrace(due, Date(2025, 1, 7)))
}

func TestPolicy_RemindersDue(t *testing.T) {
	p := DefaultPolicy()
	p.GraceDays = 5
	due := Date(2025, 1, 10)

	tests := []struct {
		today time.Time
		want  []ReminderKind
	}{
		{Date(2025, 1, 6), nil},
		{Date(2025, 1, 7), []ReminderKind{BeforeDueReminder(3)}},
		{Date(2025, 1, 9), []ReminderKind{BeforeDueReminder(1)}},
		{Date(2025, 1, 10), []ReminderKind{ReminderDueDay}},
		{Date(2025, 1, 15), []ReminderKind{ReminderLastGraceDay}},
		{Date(2025, 1, 16), nil},
	}
	for _, tt := range tests {
		t.Run(tt.today.Format("2006-01-02"), func(t *testing.T) {
			assert.Equal(t, tt.want, p.RemindersDue(due, tt.today))
		})
	}

	t.Run("disabled rules do not fire", func(t *testing.T) {
		p := DefaultPolicy()
		p.RemindOnDueDay = false
		p.RemindOnLastGraceDay = false
		assert.Empty(t, p.RemindersDue(due, due))
		assert.Empty(t, p.RemindersDue(due, p.GraceDeadline(due)))
	})
}

func TestLease_IsBillable(t *testing.T) {
	today := Date(2025, 3, 4)
	end := Date(2025, 3, 1)
	future := Date(2025, 12, 31)

	tests := []struct {
		name  string
		lease Lease
		want  bool
	}{
		{"active", Lease{Status: LeaseStatusActive}, true},
		{"ongoing past end date", Lease{Status: LeaseStatusOngoing, EndDate: &end}, true},
		{"terminated", Lease{Status: LeaseStatusTerminated}, false},
		{"expired", Lease{Status: LeaseStatusExpired}, false},
		{"other status inside window", Lease{Status: LeaseStatusPendingRenewal, StartDate: Date(2025, 1, 1), EndDate: &future}, true},
		{"other status open ended", Lease{Status: LeaseStatusPendingRenewal, StartDate: Date(2025, 1, 1)}, true},
		{"other status before start", Lease{Status: LeaseStatusPendingRenewal, StartDate: Date(2025, 4, 1)}, false},
		{"other status after end", Lease{Status: LeaseStatusPendingRenewal, StartDate: Date(2024, 1, 1), EndDate: &end}, false},
		{"pending inside window", Lease{Status: LeaseStatusPending, StartDate: Date(2025, 3, 1), EndDate: &future}, true},
		{"pending before start", Lease{Status: LeaseStatusPending, StartDate: Date(2025, 3, 5)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.lease.IsBillable(today))
		})
	}
}

func TestLease_Terminate(t *testing.T) {
	now := time.Date(2025, 1, 7, 9, 30, 0, 0, time.UTC)
	lease := &Lease{Status: LeaseStatusActive, Notes: "corner stall"}
	lease.ID = uuid.New()

	require.NoError(t, lease.Terminate(now, "rent unpaid after grace"))
	assert.Equal(t, LeaseStatusTerminated, lease.Status)
	assert.Contains(t, lease.Notes, "corner stall\n[2025-01-07] terminated: rent unpaid after grace")

	err := lease.Terminate(now, "again")
	assert.ErrorIs(t, err, ErrLeaseInactive)
}
