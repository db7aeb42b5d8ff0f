package billing

import (
	"context"
	"time"

	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"github.com/stallmarket/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// OverdueSweep moves unpaid invoices past their due date to overdue
type OverdueSweep struct {
	invoices billing.InvoiceRepository
	clock    billing.Clock
	metrics  *telemetry.BillingMetrics
	logger   *zap.Logger
}

// NewOverdueSweep creates a new OverdueSweep
func NewOverdueSweep(invoices billing.InvoiceRepository, clock billing.Clock, metrics *telemetry.BillingMetrics, logger *zap.Logger) *OverdueSweep {
	return &OverdueSweep{
		invoices: invoices,
		clock:    orSystemClock(clock),
		metrics:  metrics,
		logger:   orNop(logger),
	}
}

// MarkOverdue sweeps as of the given day. Running it twice for the same day
// changes nothing the second time.
func (s *OverdueSweep) MarkOverdue(ctx context.Context, today time.Time) (int64, error) {
	n, err := s.invoices.MarkOverdue(ctx, billing.DateOf(today))
	if err != nil {
		logger.For(ctx, s.logger).Error("Overdue sweep failed", zap.Error(err))
		return 0, err
	}
	s.metrics.RecordOverdueSwept(ctx, n)
	logger.For(ctx, s.logger).Info("Overdue sweep finished",
		zap.String("today", billing.DateOf(today).Format("2006-01-02")),
		zap.Int64("marked", n))
	return n, nil
}

// Run sweeps as of the clock's current day
func (s *OverdueSweep) Run(ctx context.Context) (int64, error) {
	return s.MarkOverdue(ctx, s.clock.Now().UTC())
}
