package persistence

import (
	"context"

	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormReminderLogRepository implements billing.ReminderLogRepository using GORM
type GormReminderLogRepository struct {
	db *gorm.DB
}

// NewGormReminderLogRepository creates a new GormReminderLogRepository
func NewGormReminderLogRepository(db *gorm.DB) *GormReminderLogRepository {
	return &GormReminderLogRepository{db: db}
}

// Claim inserts the (invoice, kind, date) row unless it exists
func (r *GormReminderLogRepository) Claim(ctx context.Context, log *billing.ReminderLog) (bool, error) {
	model := models.ReminderLogModel{
		InvoiceID:    log.InvoiceID,
		Kind:         log.Kind,
		ReminderDate: billing.DateOf(log.ReminderDate),
		SentAt:       log.SentAt,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

var _ billing.ReminderLogRepository = (*GormReminderLogRepository)(nil)
