package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"github.com/stallmarket/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// GenerationResult summarises one invoice generation pass
type GenerationResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// InvoiceGenerator ensures every billable lease has an invoice for the
// current billing period
type InvoiceGenerator struct {
	leases   billing.LeaseRepository
	invoices billing.InvoiceRepository
	policy   billing.Policy
	clock    billing.Clock
	metrics  *telemetry.BillingMetrics
	logger   *zap.Logger
}

// NewInvoiceGenerator creates a new InvoiceGenerator
func NewInvoiceGenerator(
	leases billing.LeaseRepository,
	invoices billing.InvoiceRepository,
	policy billing.Policy,
	clock billing.Clock,
	metrics *telemetry.BillingMetrics,
	logger *zap.Logger,
) *InvoiceGenerator {
	return &InvoiceGenerator{
		leases:   leases,
		invoices: invoices,
		policy:   policy,
		clock:    orSystemClock(clock),
		metrics:  metrics,
		logger:   orNop(logger),
	}
}

// EnsureInvoices creates the current period's invoice for each billable lease,
// restricted to one vendor when vendorID is set. A failure on one lease is
// logged and counted; it never aborts the pass.
func (g *InvoiceGenerator) EnsureInvoices(ctx context.Context, vendorID *uuid.UUID) (*GenerationResult, error) {
	log := logger.For(ctx, g.logger)
	now := g.clock.Now().UTC()

	leases, err := g.leases.ListOpen(ctx, vendorID)
	if err != nil {
		log.Error("Failed to list leases for invoicing", zap.Error(err))
		return nil, err
	}

	result := &GenerationResult{}
	for i := range leases {
		lease := &leases[i]
		if !lease.IsBillable(now) {
			result.Skipped++
			continue
		}

		due := g.policy.DueDateFor(lease, now)
		invoice, err := billing.NewInvoice(lease, due, now)
		if err != nil {
			result.Failed++
			log.Warn("Lease cannot be invoiced",
				zap.String("lease_id", lease.ID.String()),
				zap.Error(err))
			continue
		}

		created, err := g.invoices.CreateIfAbsent(ctx, invoice)
		if err != nil {
			result.Failed++
			log.Error("Failed to create invoice",
				zap.String("lease_id", lease.ID.String()),
				zap.String("billing_period", invoice.BillingPeriod),
				zap.Error(err))
			continue
		}
		if !created {
			result.Skipped++
			continue
		}

		result.Created++
		log.Info("Invoice created",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("lease_id", lease.ID.String()),
			zap.String("billing_period", invoice.BillingPeriod),
			zap.String("amount", invoice.Amount.StringFixed(2)))
	}

	g.metrics.RecordInvoicesGenerated(ctx, result.Created, result.Skipped, result.Failed)
	return result, nil
}
