package persistence

import (
	"context"
	"errors"

	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCaptureAuditRepository implements billing.CaptureAuditRepository using GORM
type GormCaptureAuditRepository struct {
	db *gorm.DB
}

// NewGormCaptureAuditRepository creates a new GormCaptureAuditRepository
func NewGormCaptureAuditRepository(db *gorm.DB) *GormCaptureAuditRepository {
	return &GormCaptureAuditRepository{db: db}
}

// FindByCaptureID returns nil, nil when the capture was never recorded
func (r *GormCaptureAuditRepository) FindByCaptureID(ctx context.Context, captureID string) (*billing.CaptureAudit, error) {
	var model models.CaptureAuditModel
	if err := r.db.WithContext(ctx).Where("gateway_capture_id = ?", captureID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Append inserts the audit row; a duplicate capture id is ErrCaptureAlreadyAudited
func (r *GormCaptureAuditRepository) Append(ctx context.Context, audit *billing.CaptureAudit) error {
	var model models.CaptureAuditModel
	model.FromDomain(audit)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return billing.ErrCaptureAlreadyAudited
	}
	return nil
}

// GormOrderPinRepository implements billing.OrderPinRepository using GORM
type GormOrderPinRepository struct {
	db *gorm.DB
}

// NewGormOrderPinRepository creates a new GormOrderPinRepository
func NewGormOrderPinRepository(db *gorm.DB) *GormOrderPinRepository {
	return &GormOrderPinRepository{db: db}
}

// Save upserts the pin for its order
func (r *GormOrderPinRepository) Save(ctx context.Context, pin *billing.OrderPin) error {
	var model models.OrderPinModel
	model.FromDomain(pin)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"invoice_id", "vendor_id", "pending_payment_id", "expected_amount", "currency", "expires_at"}),
		}).
		Create(&model).Error
}

// FindByOrderID returns nil, nil when the order has no pin
func (r *GormOrderPinRepository) FindByOrderID(ctx context.Context, orderID string) (*billing.OrderPin, error) {
	var model models.OrderPinModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Delete removes the pin; deleting a missing pin is not an error
func (r *GormOrderPinRepository) Delete(ctx context.Context, orderID string) error {
	return r.db.WithContext(ctx).Where("order_id = ?", orderID).Delete(&models.OrderPinModel{}).Error
}

var (
	_ billing.CaptureAuditRepository = (*GormCaptureAuditRepository)(nil)
	_ billing.OrderPinRepository     = (*GormOrderPinRepository)(nil)
)
