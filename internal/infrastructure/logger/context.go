package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
	vendorIDKey  contextKey = "vendor_id"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRequestID stores the request ID on the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithVendorID stores the acting vendor on the context
func WithVendorID(ctx context.Context, vendorID string) context.Context {
	return context.WithValue(ctx, vendorIDKey, vendorID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetVendorID retrieves the vendor ID from context
func GetVendorID(ctx context.Context) string {
	if vendorID, ok := ctx.Value(vendorIDKey).(string); ok {
		return vendorID
	}
	return ""
}

// Fields returns the correlation fields carried by ctx: trace and span ids
// from the active span plus request and vendor ids when present.
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		fields = append(fields,
			zap.String("trace_id", spanCtx.TraceID().String()),
			zap.String("span_id", spanCtx.SpanID().String()),
		)
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if vendorID := GetVendorID(ctx); vendorID != "" {
		fields = append(fields, zap.String("vendor_id", vendorID))
	}
	return fields
}

// L returns the context's logger enriched with correlation fields.
// Usage: logger.L(ctx).Info("message", zap.String("key", "value"))
func L(ctx context.Context) *zap.Logger {
	return For(ctx, FromContext(ctx))
}

// For enriches base with the correlation fields carried by ctx.
// Services hold their own logger and use this to pick up request context.
func For(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	if fields := Fields(ctx); len(fields) > 0 {
		return base.With(fields...)
	}
	return base
}
