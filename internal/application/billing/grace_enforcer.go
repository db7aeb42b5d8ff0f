package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"github.com/stallmarket/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// EnforcementResult summarises one grace enforcement pass
type EnforcementResult struct {
	Terminated []uuid.UUID `json:"terminated"`
	Resolved   int         `json:"resolved"`
	Failed     int         `json:"failed"`
}

// GraceEnforcer terminates leases whose invoices stay unpaid past the grace
// window and releases their stalls
type GraceEnforcer struct {
	leases   billing.LeaseRepository
	invoices billing.InvoiceRepository
	txScope  TransactionScope
	policy   billing.Policy
	clock    billing.Clock
	metrics  *telemetry.BillingMetrics
	dispatch dispatcher
}

// NewGraceEnforcer creates a new GraceEnforcer
func NewGraceEnforcer(
	leases billing.LeaseRepository,
	invoices billing.InvoiceRepository,
	txScope TransactionScope,
	notifier billing.Notifier,
	auditor billing.Auditor,
	policy billing.Policy,
	clock billing.Clock,
	metrics *telemetry.BillingMetrics,
	logger *zap.Logger,
) *GraceEnforcer {
	return &GraceEnforcer{
		leases:   leases,
		invoices: invoices,
		txScope:  txScope,
		policy:   policy,
		clock:    orSystemClock(clock),
		metrics:  metrics,
		dispatch: dispatcher{notifier: notifier, auditor: auditor, logger: orNop(logger)},
	}
}

// TerminateExpired finds active leases with an invoice past its grace
// deadline and terminates each in its own transaction. The condition is
// re-checked under the lease lock so a payment that lands in between wins.
func (e *GraceEnforcer) TerminateExpired(ctx context.Context, vendorID *uuid.UUID) (*EnforcementResult, error) {
	log := logger.For(ctx, e.dispatch.logger)
	now := e.clock.Now().UTC()

	invoices, err := e.invoices.FindOpen(ctx, vendorID)
	if err != nil {
		log.Error("Failed to load open invoices for enforcement", zap.Error(err))
		return nil, err
	}
	expired := lo.Filter(invoices, func(inv billing.Invoice, _ int) bool {
		return inv.HasBalance() && e.policy.GraceExpired(inv.DueDate, now)
	})

	result := &EnforcementResult{Terminated: []uuid.UUID{}}
	if len(expired) == 0 {
		return result, nil
	}

	leaseIDs := lo.Uniq(lo.Map(expired, func(inv billing.Invoice, _ int) uuid.UUID { return inv.LeaseID }))
	leases, err := e.leases.FindByIDs(ctx, leaseIDs)
	if err != nil {
		log.Error("Failed to load leases for enforcement", zap.Error(err))
		return nil, err
	}

	for i := range leases {
		if !leases[i].Status.IsActiveLike() {
			continue
		}
		leaseID := leases[i].ID

		lease, invoice, err := e.terminate(ctx, leaseID, now)
		switch {
		case err != nil:
			result.Failed++
			e.metrics.RecordLeaseTermination(ctx, "failed")
			log.Error("Failed to terminate lease",
				zap.String("lease_id", leaseID.String()),
				zap.Error(err))
		case lease == nil:
			result.Resolved++
			e.metrics.RecordLeaseTermination(ctx, "resolved")
		default:
			result.Terminated = append(result.Terminated, lease.ID)
			e.metrics.RecordLeaseTermination(ctx, "terminated")
			log.Info("Lease terminated for non-payment",
				zap.String("lease_id", lease.ID.String()),
				zap.String("vendor_id", lease.VendorID.String()),
				zap.String("invoice_id", invoice.ID.String()))

			e.dispatch.notify(ctx, lease.VendorID, terminationMessage(lease, invoice))
			e.dispatch.audit(ctx, billing.SystemActor, "lease.terminated", "lease", lease.ID.String(), now, map[string]any{
				"invoice_id":     invoice.ID.String(),
				"billing_period": invoice.BillingPeriod,
				"due_date":       invoice.DueDate.Format("2006-01-02"),
				"remaining":      invoice.Remaining().StringFixed(2),
				"stall_id":       lease.StallID.String(),
			})
		}
	}

	return result, nil
}

// terminate returns a nil lease when the lease no longer qualifies
func (e *GraceEnforcer) terminate(ctx context.Context, leaseID uuid.UUID, now time.Time) (*billing.Lease, *billing.Invoice, error) {
	var (
		terminated *billing.Lease
		culprit    *billing.Invoice
	)
	err := e.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		lease, err := repos.LeaseRepo().FindForUpdate(ctx, leaseID)
		if err != nil {
			return err
		}
		if !lease.Status.IsActiveLike() {
			return nil
		}

		overdue, err := e.lockExpiredInvoice(ctx, repos.InvoiceRepo(), leaseID, now)
		if err != nil || overdue == nil {
			return err
		}

		reason := fmt.Sprintf("invoice %s for %s unpaid after grace deadline %s",
			overdue.ID, overdue.BillingPeriod, e.policy.GraceDeadline(overdue.DueDate).Format("2006-01-02"))
		if err := lease.Terminate(now, reason); err != nil {
			return err
		}
		if err := repos.LeaseRepo().Save(ctx, lease); err != nil {
			return err
		}

		stall, err := repos.StallRepo().FindForUpdate(ctx, lease.StallID)
		if err != nil {
			return err
		}
		stall.Release(now)
		if err := repos.StallRepo().Save(ctx, stall); err != nil {
			return err
		}

		terminated = lease
		culprit = overdue
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return terminated, culprit, nil
}

// lockExpiredInvoice row-locks the lease's expired candidates oldest first and
// returns the first one still unpaid once locked. A settlement holding the
// invoice lock finishes before the re-check reads it.
func (e *GraceEnforcer) lockExpiredInvoice(ctx context.Context, invoices billing.InvoiceRepository, leaseID uuid.UUID, now time.Time) (*billing.Invoice, error) {
	open, err := invoices.FindOpenByLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	candidates := lo.Filter(open, func(inv billing.Invoice, _ int) bool {
		return e.policy.GraceExpired(inv.DueDate, now)
	})
	for i := range candidates {
		locked, err := invoices.FindForUpdate(ctx, candidates[i].ID)
		if err != nil {
			return nil, err
		}
		if locked.Status.IsOpen() && locked.HasBalance() {
			return locked, nil
		}
	}
	return nil, nil
}
