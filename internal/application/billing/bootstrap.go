package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"github.com/stallmarket/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// BootstrapResult reports what a vendor billing pass did.
// Skipped is set when the throttle window was still closed.
type BootstrapResult struct {
	Skipped     bool               `json:"skipped"`
	Generation  *GenerationResult  `json:"generation,omitempty"`
	Enforcement *EnforcementResult `json:"enforcement,omitempty"`
	Reminders   *ReminderResult    `json:"reminders,omitempty"`
}

// BillingBootstrap runs the billing pipeline for one vendor at most once
// per throttle window
type BillingBootstrap struct {
	throttle  billing.ThrottleStore
	generator *InvoiceGenerator
	enforcer  *GraceEnforcer
	reminders *ReminderScheduler
	window    time.Duration
	clock     billing.Clock
	metrics   *telemetry.BillingMetrics
	logger    *zap.Logger
}

// NewBillingBootstrap creates a new BillingBootstrap. A window below the
// minimum is raised to it.
func NewBillingBootstrap(
	throttle billing.ThrottleStore,
	generator *InvoiceGenerator,
	enforcer *GraceEnforcer,
	reminders *ReminderScheduler,
	window time.Duration,
	clock billing.Clock,
	metrics *telemetry.BillingMetrics,
	logger *zap.Logger,
) *BillingBootstrap {
	if window < billing.MinThrottleWindow {
		window = billing.MinThrottleWindow
	}
	return &BillingBootstrap{
		throttle:  throttle,
		generator: generator,
		enforcer:  enforcer,
		reminders: reminders,
		window:    window,
		clock:     orSystemClock(clock),
		metrics:   metrics,
		logger:    orNop(logger),
	}
}

// Run claims the vendor's throttle window and, if it was open, generates
// invoices, enforces grace deadlines and sends reminders in that order.
// Stage failures do not stop later stages; they are joined into the error.
func (b *BillingBootstrap) Run(ctx context.Context, vendorID uuid.UUID) (*BootstrapResult, error) {
	log := logger.For(ctx, b.logger).With(zap.String("vendor_id", vendorID.String()))
	started := time.Now()

	claimed, err := b.throttle.Claim(ctx, vendorID, b.clock.Now().UTC(), b.window)
	if err != nil {
		log.Error("Failed to claim billing throttle", zap.Error(err))
		return nil, err
	}
	if !claimed {
		b.metrics.RecordBootstrap(ctx, true, 0)
		return &BootstrapResult{Skipped: true}, nil
	}

	result := &BootstrapResult{}
	var errs []error

	if result.Generation, err = b.generator.EnsureInvoices(ctx, &vendorID); err != nil {
		errs = append(errs, err)
	}
	if result.Enforcement, err = b.enforcer.TerminateExpired(ctx, &vendorID); err != nil {
		errs = append(errs, err)
	}
	if result.Reminders, err = b.reminders.SendReminders(ctx, &vendorID); err != nil {
		errs = append(errs, err)
	}

	elapsed := time.Since(started)
	b.metrics.RecordBootstrap(ctx, false, elapsed)
	if len(errs) > 0 {
		log.Warn("Billing pass finished with errors", zap.Errors("errors", errs))
		return result, errors.Join(errs...)
	}
	log.Debug("Billing pass finished", zap.Duration("elapsed", elapsed))
	return result, nil
}
