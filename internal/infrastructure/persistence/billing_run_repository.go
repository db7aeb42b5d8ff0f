package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormThrottleStore implements billing.ThrottleStore over billing_runs.
// A claim is a conditional update of last_run_at; the first pass for a
// vendor inserts its row.
type GormThrottleStore struct {
	db *gorm.DB
}

// NewGormThrottleStore creates a new GormThrottleStore
func NewGormThrottleStore(db *gorm.DB) *GormThrottleStore {
	return &GormThrottleStore{db: db}
}

// Claim succeeds when the vendor's last pass is older than window
func (s *GormThrottleStore) Claim(ctx context.Context, vendorID uuid.UUID, now time.Time, window time.Duration) (bool, error) {
	now = now.UTC()
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.BillingRunModel{VendorID: vendorID, LastRunAt: now})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	result = s.db.WithContext(ctx).Model(&models.BillingRunModel{}).
		Where("vendor_id = ? AND last_run_at <= ?", vendorID, now.Add(-window)).
		Update("last_run_at", now)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

var _ billing.ThrottleStore = (*GormThrottleStore)(nil)
