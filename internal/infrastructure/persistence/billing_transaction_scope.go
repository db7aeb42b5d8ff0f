package persistence

import (
	"context"

	appbilling "github.com/stallmarket/backend/internal/application/billing"
	"github.com/stallmarket/backend/internal/domain/billing"
	"gorm.io/gorm"
)

// GormBillingTransactionScope implements TransactionScope using GORM transactions.
type GormBillingTransactionScope struct {
	db *gorm.DB
}

// NewGormBillingTransactionScope creates a new GormBillingTransactionScope.
func NewGormBillingTransactionScope(db *gorm.DB) *GormBillingTransactionScope {
	return &GormBillingTransactionScope{db: db}
}

// Execute runs fn within a database transaction.
// If fn returns an error, the transaction is rolled back.
func (s *GormBillingTransactionScope) Execute(ctx context.Context, fn func(repos appbilling.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormBillingRepositories{tx: tx})
	})
}

// gormBillingRepositories hands out repositories bound to one transaction.
type gormBillingRepositories struct {
	tx *gorm.DB
}

func (r *gormBillingRepositories) LeaseRepo() billing.LeaseRepository {
	return NewGormLeaseRepository(r.tx)
}

func (r *gormBillingRepositories) StallRepo() billing.StallRepository {
	return NewGormStallRepository(r.tx)
}

func (r *gormBillingRepositories) InvoiceRepo() billing.InvoiceRepository {
	return NewGormInvoiceRepository(r.tx)
}

func (r *gormBillingRepositories) PendingPaymentRepo() billing.PendingPaymentLedger {
	return NewGormPendingPaymentLedger(r.tx)
}

func (r *gormBillingRepositories) CaptureAuditRepo() billing.CaptureAuditRepository {
	return NewGormCaptureAuditRepository(r.tx)
}

// Ensure GormBillingTransactionScope implements TransactionScope
var _ appbilling.TransactionScope = (*GormBillingTransactionScope)(nil)

// Ensure gormBillingRepositories implements TransactionalRepositories
var _ appbilling.TransactionalRepositories = (*gormBillingRepositories)(nil)
