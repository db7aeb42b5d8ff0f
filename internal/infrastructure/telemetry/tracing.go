package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of billing spans.
const TracerName = "stallmarket-billing"

// Span attribute keys.
const (
	SpanAttrInvoiceID = "invoice_id"
	SpanAttrLeaseID   = "lease_id"
	SpanAttrVendorID  = "vendor_id"
	SpanAttrOrderID   = "gateway.order_id"
	SpanAttrCaptureID = "gateway.capture_id"
	SpanAttrEventID   = "gateway.event_id"
	SpanAttrAmount    = "amount"
)

// StartServiceSpan starts an internal span named {service}.{method}.
// keyValues are alternating string keys and values.
//
//	ctx, span := telemetry.StartServiceSpan(ctx, "payment_capture", "capture")
//	defer span.End()
func StartServiceSpan(ctx context.Context, service, method string, keyValues ...any) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, service+"."+method,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(toAttributes(keyValues)...),
	)
}

// StartClientSpan starts a client span for an outbound call.
func StartClientSpan(ctx context.Context, name string, keyValues ...any) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(toAttributes(keyValues)...),
	)
}

// SetAttributes adds alternating key/value attributes to span.
func SetAttributes(span trace.Span, keyValues ...any) {
	span.SetAttributes(toAttributes(keyValues)...)
}

// RecordError records err and marks the span failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// EndSpan records *errp, if any, and ends the span. Meant for defer with a
// named error result.
func EndSpan(span trace.Span, errp *error) {
	if errp != nil {
		RecordError(span, *errp)
	}
	span.End()
}

// GetTraceID returns the active trace ID or "".
func GetTraceID(ctx context.Context) string {
	traceID := trace.SpanFromContext(ctx).SpanContext().TraceID()
	if !traceID.IsValid() {
		return ""
	}
	return traceID.String()
}

func toAttributes(keyValues []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(keyValues)/2)
	for i := 0; i+1 < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, toAttribute(key, keyValues[i+1]))
	}
	return attrs
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
