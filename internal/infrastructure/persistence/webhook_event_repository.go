package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/persistence/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormWebhookEventRepository implements billing.WebhookEventRepository using GORM
type GormWebhookEventRepository struct {
	db *gorm.DB
}

// NewGormWebhookEventRepository creates a new GormWebhookEventRepository
func NewGormWebhookEventRepository(db *gorm.DB) *GormWebhookEventRepository {
	return &GormWebhookEventRepository{db: db}
}

// Record inserts the event unless its id is known and returns the stored row,
// so a redelivery sees the original ProcessedAt.
func (r *GormWebhookEventRepository) Record(ctx context.Context, event *billing.WebhookEvent) (*billing.WebhookEvent, error) {
	payload := event.Payload
	if !json.Valid(payload) {
		payload = []byte("{}")
	}
	model := models.WebhookEventModel{
		EventID:    event.EventID,
		EventType:  event.EventType,
		ResourceID: event.ResourceID,
		Payload:    datatypes.JSON(payload),
		ReceivedAt: event.ReceivedAt,
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error; err != nil {
		return nil, err
	}

	var stored models.WebhookEventModel
	if err := r.db.WithContext(ctx).Where("event_id = ?", event.EventID).First(&stored).Error; err != nil {
		return nil, err
	}
	return stored.ToDomain(), nil
}

// MarkProcessed stamps the event as applied
func (r *GormWebhookEventRepository) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEventModel{}).
		Where("event_id = ? AND processed_at IS NULL", eventID).
		Update("processed_at", at).Error
}

var _ billing.WebhookEventRepository = (*GormWebhookEventRepository)(nil)
