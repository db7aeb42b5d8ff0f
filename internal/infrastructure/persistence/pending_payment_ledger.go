package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPendingPaymentLedger implements billing.PendingPaymentLedger using GORM.
// Idempotency rests on two unique indexes: the partial index over open
// (vendor, lease, amount, type) rows and the index on gateway_order_id.
type GormPendingPaymentLedger struct {
	db *gorm.DB
}

// NewGormPendingPaymentLedger creates a new GormPendingPaymentLedger
func NewGormPendingPaymentLedger(db *gorm.DB) *GormPendingPaymentLedger {
	return &GormPendingPaymentLedger{db: db}
}

// Open returns the open record for the intent, inserting it when absent
func (l *GormPendingPaymentLedger) Open(ctx context.Context, intent billing.OpenIntent) (*billing.PendingPayment, error) {
	record, err := billing.NewPendingPayment(intent, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	var model models.PendingPaymentModel
	model.FromDomain(record)
	if err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error; err != nil {
		return nil, fmt.Errorf("open pending payment: %w", err)
	}

	var stored models.PendingPaymentModel
	err = l.db.WithContext(ctx).
		Where("vendor_id = ? AND lease_id = ? AND amount = ? AND type = ? AND status = ?",
			record.VendorID, record.LeaseID, record.Amount, record.Type, billing.PendingStatusPending).
		Order("created_at ASC").
		First(&stored).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// the conflicting row left the pending state between insert and read
			return nil, fmt.Errorf("open pending payment: %w", billing.ErrPendingNotFound)
		}
		return nil, err
	}
	return stored.ToDomain(), nil
}

// AttachOrder sets the gateway order on a record that has none
func (l *GormPendingPaymentLedger) AttachOrder(ctx context.Context, id uuid.UUID, orderID, approvalURL string) error {
	result := l.db.WithContext(ctx).Model(&models.PendingPaymentModel{}).
		Where("id = ? AND gateway_order_id IS NULL", id).
		Updates(map[string]any{
			"gateway_order_id": orderID,
			"approval_url":     approvalURL,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return billing.ErrOrderAlreadyAttached
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := l.FindByID(ctx, id); err != nil {
			return err
		}
		return billing.ErrOrderAlreadyAttached
	}
	return nil
}

// FindByOrder returns nil, nil when no record carries the order
func (l *GormPendingPaymentLedger) FindByOrder(ctx context.Context, orderID string) (*billing.PendingPayment, error) {
	if orderID == "" {
		return nil, nil
	}
	var model models.PendingPaymentModel
	if err := l.db.WithContext(ctx).Where("gateway_order_id = ?", orderID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByID finds a pending payment by its ID
func (l *GormPendingPaymentLedger) FindByID(ctx context.Context, id uuid.UUID) (*billing.PendingPayment, error) {
	var model models.PendingPaymentModel
	if err := l.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrPendingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// MarkProcessed moves the record from pending to processed. The status check
// in the predicate makes a repeated call a no-op.
func (l *GormPendingPaymentLedger) MarkProcessed(ctx context.Context, id uuid.UUID, captureID string, at time.Time) (bool, error) {
	result := l.db.WithContext(ctx).Model(&models.PendingPaymentModel{}).
		Where("id = ? AND status = ?", id, billing.PendingStatusPending).
		Updates(map[string]any{
			"status":             billing.PendingStatusProcessed,
			"gateway_capture_id": captureID,
			"processed_at":       at,
			"updated_at":         at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Cancel moves the record from pending to cancelled
func (l *GormPendingPaymentLedger) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	result := l.db.WithContext(ctx).Model(&models.PendingPaymentModel{}).
		Where("id = ? AND status = ?", id, billing.PendingStatusPending).
		Updates(map[string]any{
			"status":     billing.PendingStatusCancelled,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

var _ billing.PendingPaymentLedger = (*GormPendingPaymentLedger)(nil)
