package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fixedStats map[string]int64

func (f fixedStats) CountInvoicesByStatus(context.Context) (map[string]int64, error) {
	return f, nil
}

func sumByAttr(t *testing.T, m metricdata.Metrics, key attribute.Key) map[string]int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	out := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(key)
		out[v.AsString()] += dp.Value
	}
	return out
}

func TestNewBillingMetrics_RequiresMeter(t *testing.T) {
	_, err := NewBillingMetrics(BillingMetricsConfig{})
	assert.ErrorIs(t, err, ErrMeterNil)
}

func TestBillingMetrics_NilReceiverIsSafe(t *testing.T) {
	var bm *BillingMetrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		bm.RecordInvoicesGenerated(ctx, 1, 0, 0)
		bm.RecordCapture(ctx, "sync", "credited", decimal.NewFromInt(10))
		bm.RecordGatewayCall(ctx, "capture", time.Second, nil)
		bm.RecordBootstrap(ctx, false, time.Second)
		bm.StartPeriodicCollection(ctx, time.Second)
		bm.Stop()
	})
}

func TestBillingMetrics_Record(t *testing.T) {
	reader, provider := setupTestMeter(t)
	bm, err := NewBillingMetrics(BillingMetricsConfig{Meter: provider.Meter("billing")})
	require.NoError(t, err)
	ctx := context.Background()

	bm.RecordInvoicesGenerated(ctx, 3, 1, 0)
	bm.RecordCapture(ctx, "sync", "credited", decimal.RequireFromString("120.50"))
	bm.RecordCapture(ctx, "webhook", "duplicate", decimal.RequireFromString("120.50"))
	bm.RecordGatewayRetry(ctx, "capture")
	bm.RecordGatewayCall(ctx, "capture", 300*time.Millisecond, errors.New("timeout"))
	bm.RecordBootstrap(ctx, true, 0)
	bm.RecordBootstrap(ctx, false, time.Second)
	bm.RecordOverdueSwept(ctx, 4)

	metrics := collect(t, reader)

	generated := sumByAttr(t, metrics["stall_invoices_generated_total"], AttrOutcome)
	assert.Equal(t, int64(3), generated["created"])
	assert.Equal(t, int64(1), generated["skipped"])

	captured := sumByAttr(t, metrics["stall_captured_amount_total"], AttrCaptureSource)
	assert.Equal(t, map[string]int64{"sync": 12050}, captured)

	captures := sumByAttr(t, metrics["stall_captures_total"], AttrOutcome)
	assert.Equal(t, int64(1), captures["duplicate"])

	runs := sumByAttr(t, metrics["stall_billing_bootstrap_total"], AttrOutcome)
	assert.Equal(t, map[string]int64{"ran": 1, "throttled": 1}, runs)

	swept := sumByAttr(t, metrics["stall_invoices_overdue_swept_total"], AttrOutcome)
	assert.Equal(t, int64(4), swept[""])

	duration := metrics["stall_gateway_request_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.Len(t, duration.DataPoints, 1)
	outcome, _ := duration.DataPoints[0].Attributes.Value(AttrOutcome)
	assert.Equal(t, "error", outcome.AsString())
}

func TestBillingMetrics_InvoiceGauges(t *testing.T) {
	reader, provider := setupTestMeter(t)
	bm, err := NewBillingMetrics(BillingMetricsConfig{
		Meter:         provider.Meter("billing"),
		StatsProvider: fixedStats{"pending": 5, "overdue": 2},
	})
	require.NoError(t, err)

	bm.collectInvoiceGauges(context.Background())

	gauge := collect(t, reader)["stall_invoices"].Data.(metricdata.Gauge[int64])
	byStatus := map[string]int64{}
	for _, dp := range gauge.DataPoints {
		v, _ := dp.Attributes.Value(AttrInvoiceStatus)
		byStatus[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"pending": 5, "overdue": 2}, byStatus)
}
