package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormInvoiceRepository implements billing.InvoiceRepository using GORM
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

// CreateIfAbsent inserts with ON CONFLICT DO NOTHING on (lease_id, billing_period).
// RowsAffected tells whether this insert won.
func (r *GormInvoiceRepository) CreateIfAbsent(ctx context.Context, invoice *billing.Invoice) (bool, error) {
	var model models.InvoiceModel
	model.FromDomain(invoice)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "lease_id"}, {Name: "billing_period"}},
			DoNothing: true,
		}).
		Create(&model)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FindByID finds an invoice by its ID
func (r *GormInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	return r.findOne(r.db.WithContext(ctx).Where("id = ?", id), billing.ErrInvoiceNotFound)
}

// FindForUpdate loads the invoice with SELECT ... FOR UPDATE
func (r *GormInvoiceRepository) FindForUpdate(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	return r.findOne(
		r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id),
		billing.ErrInvoiceNotFound,
	)
}

// FindByOrderID finds the invoice currently collecting the gateway order
func (r *GormInvoiceRepository) FindByOrderID(ctx context.Context, orderID string) (*billing.Invoice, error) {
	if orderID == "" {
		return nil, billing.ErrOrderNotFound
	}
	return r.findOne(r.db.WithContext(ctx).Where("gateway_order_id = ?", orderID), billing.ErrOrderNotFound)
}

func (r *GormInvoiceRepository) findOne(query *gorm.DB, notFound error) (*billing.Invoice, error) {
	var model models.InvoiceModel
	if err := query.First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindOpen returns payable invoices ordered by due date
func (r *GormInvoiceRepository) FindOpen(ctx context.Context, vendorID *uuid.UUID) ([]billing.Invoice, error) {
	query := r.db.WithContext(ctx).Where("status IN ?", billing.OpenInvoiceStatuses)
	if vendorID != nil {
		query = query.Where("vendor_id = ?", *vendorID)
	}
	return r.findMany(query)
}

// FindOpenByLease returns the payable invoices of one lease
func (r *GormInvoiceRepository) FindOpenByLease(ctx context.Context, leaseID uuid.UUID) ([]billing.Invoice, error) {
	return r.findMany(r.db.WithContext(ctx).
		Where("lease_id = ? AND status IN ?", leaseID, billing.OpenInvoiceStatuses))
}

func (r *GormInvoiceRepository) findMany(query *gorm.DB) ([]billing.Invoice, error) {
	var rows []models.InvoiceModel
	if err := query.Order("due_date ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	invoices := make([]billing.Invoice, len(rows))
	for i := range rows {
		invoices[i] = *rows[i].ToDomain()
	}
	return invoices, nil
}

// AttachOrder points the invoice at a new order and clears the per-order capture id
func (r *GormInvoiceRepository) AttachOrder(ctx context.Context, invoiceID uuid.UUID, orderID string) error {
	result := r.db.WithContext(ctx).Model(&models.InvoiceModel{}).
		Where("id = ?", invoiceID).
		Updates(map[string]any{
			"gateway_order_id":   orderID,
			"gateway_capture_id": nil,
			"updated_at":         time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return billing.ErrInvoiceNotFound
	}
	return nil
}

// ApplyCapture writes a credited capture. The update only matches while
// amount_paid is still previousPaid and the capture id has not been stored.
func (r *GormInvoiceRepository) ApplyCapture(ctx context.Context, invoice *billing.Invoice, previousPaid decimal.Decimal, captureID string) error {
	result := r.db.WithContext(ctx).Model(&models.InvoiceModel{}).
		Where("id = ? AND amount_paid = ?", invoice.ID, previousPaid).
		Where("gateway_capture_id IS NULL OR gateway_capture_id <> ?", captureID).
		Updates(map[string]any{
			"amount_paid":        invoice.AmountPaid,
			"status":             invoice.Status,
			"gateway_capture_id": captureID,
			"receipt_number":     invoice.ReceiptNumber,
			"paid_at":            invoice.PaidAt,
			"updated_at":         invoice.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return billing.ErrCaptureConflict
	}
	return nil
}

// UpdateStatus is a compare-and-set on the stored status
func (r *GormInvoiceRepository) UpdateStatus(ctx context.Context, invoice *billing.Invoice, from billing.InvoiceStatus) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.InvoiceModel{}).
		Where("id = ? AND status = ?", invoice.ID, from).
		Updates(map[string]any{
			"status":     invoice.Status,
			"updated_at": invoice.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkOverdue moves pending and partial invoices due before today to overdue
func (r *GormInvoiceRepository) MarkOverdue(ctx context.Context, today time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.InvoiceModel{}).
		Where("status IN ? AND due_date < ?",
			[]billing.InvoiceStatus{billing.InvoiceStatusPending, billing.InvoiceStatusPartial},
			billing.DateOf(today)).
		Updates(map[string]any{
			"status":     billing.InvoiceStatusOverdue,
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

var _ billing.InvoiceRepository = (*GormInvoiceRepository)(nil)
