package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BillingMetrics records rent billing and payment activity.
// All recording methods are safe on a nil receiver so services can run
// without metrics wired.
type BillingMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	invoicesGenerated *Counter
	remindersTotal    *Counter
	leasesTerminated  *Counter
	ordersCreated     *Counter
	capturesTotal     *Counter
	capturedAmount    *Counter
	webhookEvents     *Counter
	gatewayRetries    *Counter
	overdueSwept      *Counter
	bootstrapRuns     *Counter
	gatewayDuration   *Histogram
	bootstrapDuration *Histogram
	invoicesByStatus  *Gauge

	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	statsProvider   BillingStatsProvider
	collectInterval time.Duration
}

// BillingStatsProvider supplies point-in-time invoice counts for gauges.
type BillingStatsProvider interface {
	CountInvoicesByStatus(ctx context.Context) (map[string]int64, error)
}

// BillingMetricsConfig holds configuration for billing metrics.
type BillingMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CollectInterval time.Duration // Default: 5 minutes
	StatsProvider   BillingStatsProvider
}

// NewBillingMetrics creates the billing instruments.
func NewBillingMetrics(cfg BillingMetricsConfig) (*BillingMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bm := &BillingMetrics{
		meter:         cfg.Meter,
		logger:        logger,
		stopChan:      make(chan struct{}),
		statsProvider: cfg.StatsProvider,
	}
	bm.collectInterval = cfg.CollectInterval

	counters := []struct {
		dst  **Counter
		name string
		desc string
		unit string
	}{
		{&bm.invoicesGenerated, "stall_invoices_generated_total", "Invoice generation outcomes per lease", "{invoices}"},
		{&bm.remindersTotal, "stall_reminders_total", "Payment reminders evaluated", "{reminders}"},
		{&bm.leasesTerminated, "stall_leases_terminated_total", "Leases terminated after the grace window", "{leases}"},
		{&bm.ordersCreated, "stall_payment_orders_total", "Gateway orders created or reused", "{orders}"},
		{&bm.capturesTotal, "stall_captures_total", "Capture settlement outcomes", "{captures}"},
		{&bm.capturedAmount, "stall_captured_amount_total", "Captured amount in minor currency units", "{cents}"},
		{&bm.webhookEvents, "stall_webhook_events_total", "Gateway webhook deliveries", "{events}"},
		{&bm.gatewayRetries, "stall_gateway_retries_total", "Retried gateway calls", "{retries}"},
		{&bm.overdueSwept, "stall_invoices_overdue_swept_total", "Invoices moved to overdue by the sweep", "{invoices}"},
		{&bm.bootstrapRuns, "stall_billing_bootstrap_total", "Vendor billing passes", "{runs}"},
	}
	for _, c := range counters {
		counter, err := NewCounter(cfg.Meter, c.name, c.desc, c.unit)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	var err error
	bm.gatewayDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "stall_gateway_request_duration_seconds",
		Description: "Gateway request duration including retries",
		Unit:        "s",
		Boundaries:  HTTPDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	bm.bootstrapDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "stall_billing_bootstrap_duration_seconds",
		Description: "Duration of a vendor billing pass",
		Unit:        "s",
		Boundaries:  HTTPDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	bm.invoicesByStatus, err = NewGauge(cfg.Meter, "stall_invoices", "Invoices by status", "{invoices}")
	if err != nil {
		return nil, err
	}

	return bm, nil
}

// RecordInvoicesGenerated records one generation pass.
func (bm *BillingMetrics) RecordInvoicesGenerated(ctx context.Context, created, skipped, failed int) {
	if bm == nil {
		return
	}
	bm.invoicesGenerated.Add(ctx, int64(created), AttrOutcome.String("created"))
	bm.invoicesGenerated.Add(ctx, int64(skipped), AttrOutcome.String("skipped"))
	bm.invoicesGenerated.Add(ctx, int64(failed), AttrOutcome.String("failed"))
}

// RecordReminder records a reminder decision: sent, failed or duplicate.
func (bm *BillingMetrics) RecordReminder(ctx context.Context, kind, outcome string) {
	if bm == nil {
		return
	}
	bm.remindersTotal.Inc(ctx, AttrReminderKind.String(kind), AttrOutcome.String(outcome))
}

// RecordLeaseTermination records an enforcement outcome: terminated, resolved or failed.
func (bm *BillingMetrics) RecordLeaseTermination(ctx context.Context, outcome string) {
	if bm == nil {
		return
	}
	bm.leasesTerminated.Inc(ctx, AttrOutcome.String(outcome))
}

// RecordOrder records a created or reused gateway order.
func (bm *BillingMetrics) RecordOrder(ctx context.Context, outcome string) {
	if bm == nil {
		return
	}
	bm.ordersCreated.Inc(ctx, AttrOutcome.String(outcome))
}

// RecordCapture records a settlement outcome and, when credited, its amount.
func (bm *BillingMetrics) RecordCapture(ctx context.Context, source, outcome string, amount decimal.Decimal) {
	if bm == nil {
		return
	}
	bm.capturesTotal.Inc(ctx, AttrCaptureSource.String(source), AttrOutcome.String(outcome))
	if outcome == "credited" && amount.IsPositive() {
		bm.capturedAmount.Add(ctx, amount.Shift(2).IntPart(), AttrCaptureSource.String(source))
	}
}

// RecordWebhook records a webhook delivery outcome.
func (bm *BillingMetrics) RecordWebhook(ctx context.Context, eventType, outcome string) {
	if bm == nil {
		return
	}
	bm.webhookEvents.Inc(ctx, AttrEventType.String(eventType), AttrOutcome.String(outcome))
}

// RecordGatewayRetry records one retried gateway attempt.
func (bm *BillingMetrics) RecordGatewayRetry(ctx context.Context, operation string) {
	if bm == nil {
		return
	}
	bm.gatewayRetries.Inc(ctx, AttrGatewayOperation.String(operation))
}

// RecordGatewayCall records a finished gateway call.
func (bm *BillingMetrics) RecordGatewayCall(ctx context.Context, operation string, d time.Duration, err error) {
	if bm == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	bm.gatewayDuration.RecordDuration(ctx, d, AttrGatewayOperation.String(operation), AttrOutcome.String(outcome))
}

// RecordOverdueSwept records invoices moved to overdue.
func (bm *BillingMetrics) RecordOverdueSwept(ctx context.Context, n int64) {
	if bm == nil {
		return
	}
	bm.overdueSwept.Add(ctx, n)
}

// RecordBootstrap records a vendor billing pass.
func (bm *BillingMetrics) RecordBootstrap(ctx context.Context, skipped bool, d time.Duration) {
	if bm == nil {
		return
	}
	outcome := "ran"
	if skipped {
		outcome = "throttled"
	}
	bm.bootstrapRuns.Inc(ctx, AttrOutcome.String(outcome))
	if !skipped {
		bm.bootstrapDuration.RecordDuration(ctx, d)
	}
}

// StartPeriodicCollection starts periodic collection of invoice gauges.
// This is non-blocking - use Stop() to stop collection.
func (bm *BillingMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	if bm == nil {
		return
	}
	bm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = bm.collectInterval
		}
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		go bm.runPeriodicCollection(ctx, interval)
	})
}

func (bm *BillingMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	bm.collectInvoiceGauges(ctx)

	for {
		select {
		case <-bm.stopChan:
			bm.logger.Info("Stopping periodic billing metrics collection")
			return
		case <-ctx.Done():
			bm.logger.Info("Context cancelled, stopping periodic billing metrics collection")
			return
		case <-ticker.C:
			bm.collectInvoiceGauges(ctx)
		}
	}
}

func (bm *BillingMetrics) collectInvoiceGauges(ctx context.Context) {
	if bm.statsProvider == nil {
		bm.logger.Debug("No stats provider configured, skipping invoice gauges")
		return
	}
	counts, err := bm.statsProvider.CountInvoicesByStatus(ctx)
	if err != nil {
		bm.logger.Warn("Failed to count invoices by status", zap.Error(err))
		return
	}
	for status, n := range counts {
		bm.invoicesByStatus.Record(ctx, n, AttrInvoiceStatus.String(status))
	}
}

// Stop stops the periodic collection.
func (bm *BillingMetrics) Stop() {
	if bm == nil {
		return
	}
	bm.stopOnce.Do(func() {
		close(bm.stopChan)
	})
}

// GormBillingStatsProvider implements BillingStatsProvider over the invoices table.
type GormBillingStatsProvider struct {
	db *gorm.DB
}

// NewGormBillingStatsProvider creates a new GormBillingStatsProvider.
func NewGormBillingStatsProvider(db *gorm.DB) *GormBillingStatsProvider {
	return &GormBillingStatsProvider{db: db}
}

// CountInvoicesByStatus groups invoices by status.
func (p *GormBillingStatsProvider) CountInvoicesByStatus(ctx context.Context) (map[string]int64, error) {
	type result struct {
		Status string `gorm:"column:status"`
		Count  int64  `gorm:"column:count"`
	}

	var results []result
	err := p.db.WithContext(ctx).
		Table("invoices").
		Select("status, COUNT(*) as count").
		Group("status").
		Find(&results).Error
	if err != nil {
		return nil, err
	}

	m := make(map[string]int64, len(results))
	for _, r := range results {
		m[r.Status] = r.Count
	}
	return m, nil
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewBillingMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
