package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	appbilling "github.com/stallmarket/backend/internal/application/billing"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type failingThrottle struct{}

func (failingThrottle) Claim(context.Context, uuid.UUID, time.Time, time.Duration) (bool, error) {
	return false, errors.New("throttle store unavailable")
}

func newBootstrap(t *testing.T, env *testEnv, throttle billing.ThrottleStore, clock billing.Clock) *appbilling.BillingBootstrap {
	log := zaptest.NewLogger(t)
	policy := billing.DefaultPolicy()
	return appbilling.NewBillingBootstrap(
		throttle,
		appbilling.NewInvoiceGenerator(env.leases, env.invoices, policy, clock, nil, log),
		appbilling.NewGraceEnforcer(env.leases, env.invoices, env.tx, env.notifier, env.auditor, policy, clock, nil, log),
		appbilling.NewReminderScheduler(env.invoices, env.leases, env.reminders, env.notifier, policy, clock, nil, log),
		policy.ThrottleWindow, clock, nil, log,
	)
}

func TestBillingBootstrap_RunsPipelineOncePerWindow(t *testing.T) {
	env := newTestEnv(t)
	vendor := env.f.Vendor("ana")
	env.f.Lease(vendor, env.f.Stall("A-01"), "100")
	ctx := context.Background()

	// the due day itself: invoice is created and the due-day reminder goes out
	first, err := newBootstrap(t, env, env.throttle, clockAt(2024, time.March, 1, 9)).Run(ctx, vendor)
	require.NoError(t, err)
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Generation.Created)
	assert.Equal(t, 1, first.Reminders.Sent)
	assert.Empty(t, first.Enforcement.Terminated)

	second, err := newBootstrap(t, env, env.throttle, clockAt(2024, time.March, 1, 20)).Run(ctx, vendor)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Nil(t, second.Generation)

	// grace over, window reopened
	third, err := newBootstrap(t, env, env.throttle, clockAt(2024, time.March, 7, 9)).Run(ctx, vendor)
	require.NoError(t, err)
	assert.False(t, third.Skipped)
	assert.Equal(t, 1, third.Generation.Skipped)
	assert.Len(t, third.Enforcement.Terminated, 1)
}

func TestBillingBootstrap_InMemoryThrottleIsPerVendor(t *testing.T) {
	env := newTestEnv(t)
	ana := env.f.Vendor("ana")
	ben := env.f.Vendor("ben")
	throttle := cache.NewInMemoryThrottleStore()
	bootstrap := newBootstrap(t, env, throttle, clockAt(2024, time.March, 10, 9))
	ctx := context.Background()

	r, err := bootstrap.Run(ctx, ana)
	require.NoError(t, err)
	assert.False(t, r.Skipped)

	r, err = bootstrap.Run(ctx, ben)
	require.NoError(t, err)
	assert.False(t, r.Skipped)

	r, err = bootstrap.Run(ctx, ana)
	require.NoError(t, err)
	assert.True(t, r.Skipped)
}

func TestBillingBootstrap_ThrottleError(t *testing.T) {
	env := newTestEnv(t)
	_, err := newBootstrap(t, env, failingThrottle{}, clockAt(2024, time.March, 10, 9)).Run(context.Background(), uuid.New())
	assert.ErrorContains(t, err, "throttle store unavailable")
}
