package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// LogSink writes notifications and audit entries to the structured log.
// Used when Kafka is disabled.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink on the given logger
func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{logger: log.Named("notify")}
}

// Notify implements billing.Notifier
func (s *LogSink) Notify(ctx context.Context, vendorID uuid.UUID, msg billing.Message) error {
	fields := []zap.Field{
		zap.String("vendor_id", vendorID.String()),
		zap.String("kind", msg.Kind),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	}
	if msg.InvoiceID != nil {
		fields = append(fields, zap.String("invoice_id", msg.InvoiceID.String()))
	}
	if msg.LeaseID != nil {
		fields = append(fields, zap.String("lease_id", msg.LeaseID.String()))
	}
	logger.For(ctx, s.logger).Info("vendor notification", fields...)
	return nil
}

// Audit implements billing.Auditor
func (s *LogSink) Audit(ctx context.Context, entry billing.AuditEntry) error {
	logger.For(ctx, s.logger).Info("audit",
		zap.String("actor", entry.Actor),
		zap.String("action", entry.Action),
		zap.String("entity_type", entry.EntityType),
		zap.String("entity_id", entry.EntityID),
		zap.Time("at", entry.At),
		zap.Any("details", entry.Details),
	)
	return nil
}

var (
	_ billing.Notifier = (*LogSink)(nil)
	_ billing.Auditor  = (*LogSink)(nil)
)
