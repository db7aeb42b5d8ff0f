package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	appbilling "github.com/stallmarket/backend/internal/application/billing"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newReminders(t *testing.T, env *testEnv, clock billing.Clock) *appbilling.ReminderScheduler {
	return appbilling.NewReminderScheduler(env.invoices, env.leases, env.reminders, env.notifier,
		billing.DefaultPolicy(), clock, nil, zaptest.NewLogger(t))
}

func TestReminderScheduler_SendsEachSlotOnce(t *testing.T) {
	env := newTestEnv(t)
	vendor := env.f.Vendor("ana")
	lease := env.f.Lease(vendor, env.f.Stall("A-01"), "120")
	inv := env.f.Invoice(lease, billing.Date(2024, time.April, 1))

	// three days before the due date
	rs := newReminders(t, env, clockAt(2024, time.March, 29, 8))
	ctx := context.Background()

	result, err := rs.SendReminders(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, appbilling.ReminderResult{Sent: 1}, *result)

	sent := env.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, vendor, sent[0].VendorID)
	assert.Equal(t, billing.NotifyReminder, sent[0].Msg.Kind)
	require.NotNil(t, sent[0].Msg.InvoiceID)
	assert.Equal(t, inv.ID, *sent[0].Msg.InvoiceID)
	assert.Contains(t, sent[0].Msg.Body, "120.00")

	again, err := rs.SendReminders(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, appbilling.ReminderResult{Duplicates: 1}, *again)
	assert.Len(t, env.notifier.Sent(), 1)
}

func TestReminderScheduler_DueDayAndLastGraceDay(t *testing.T) {
	env := newTestEnv(t)
	lease := env.f.Lease(env.f.Vendor("ana"), env.f.Stall("A-01"), "120")
	env.f.Invoice(lease, billing.Date(2024, time.April, 1))
	ctx := context.Background()

	_, err := newReminders(t, env, clockAt(2024, time.April, 1, 8)).SendReminders(ctx, nil)
	require.NoError(t, err)
	_, err = newReminders(t, env, clockAt(2024, time.April, 6, 8)).SendReminders(ctx, nil)
	require.NoError(t, err)

	sent := env.notifier.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "Rent due today", sent[0].Msg.Subject)
	assert.Equal(t, "Final day to pay rent", sent[1].Msg.Subject)
}

func TestReminderScheduler_SkipsPaidAndInactive(t *testing.T) {
	env := newTestEnv(t)
	vendor := env.f.Vendor("ana")
	paid := env.f.Invoice(env.f.Lease(vendor, env.f.Stall("A-01"), "100"), billing.Date(2024, time.April, 1))
	env.f.SetInvoiceState(paid.ID, billing.InvoiceStatusPaid, "100")
	env.f.Invoice(env.f.Lease(vendor, env.f.Stall("A-02"), "100",
		testutil.WithLeaseStatus(billing.LeaseStatusTerminated)), billing.Date(2024, time.April, 1))

	result, err := newReminders(t, env, clockAt(2024, time.April, 1, 8)).SendReminders(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, appbilling.ReminderResult{}, *result)
	assert.Empty(t, env.notifier.Sent())
}

func TestReminderScheduler_NotifierFailureIsCountedNotRetried(t *testing.T) {
	env := newTestEnv(t)
	env.f.Invoice(env.f.Lease(env.f.Vendor("ana"), env.f.Stall("A-01"), "100"), billing.Date(2024, time.April, 1))
	env.notifier.err = errors.New("smtp down")
	rs := newReminders(t, env, clockAt(2024, time.April, 1, 8))

	result, err := rs.SendReminders(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, appbilling.ReminderResult{Failed: 1}, *result)

	env.notifier.err = nil
	again, err := rs.SendReminders(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Duplicates, "the slot was claimed before dispatch")
}
