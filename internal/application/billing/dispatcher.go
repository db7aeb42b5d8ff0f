package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// dispatcher delivers notifications and audit entries after commit.
// Failures are logged and never returned.
type dispatcher struct {
	notifier billing.Notifier
	auditor  billing.Auditor
	logger   *zap.Logger
}

func (d dispatcher) notify(ctx context.Context, vendorID uuid.UUID, msg billing.Message) bool {
	if d.notifier == nil {
		return false
	}
	if err := d.notifier.Notify(ctx, vendorID, msg); err != nil {
		logger.For(ctx, d.logger).Warn("Notification failed",
			zap.String("vendor_id", vendorID.String()),
			zap.String("kind", msg.Kind),
			zap.Error(err))
		return false
	}
	return true
}

func (d dispatcher) audit(ctx context.Context, actor, action, entityType, entityID string, at time.Time, details map[string]any) {
	if d.auditor == nil {
		return
	}
	entry := billing.AuditEntry{
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		At:         at,
		Details:    details,
	}
	if err := d.auditor.Audit(ctx, entry); err != nil {
		logger.For(ctx, d.logger).Warn("Audit write failed",
			zap.String("action", action),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func orSystemClock(c billing.Clock) billing.Clock {
	if c == nil {
		return billing.SystemClock{}
	}
	return c
}
