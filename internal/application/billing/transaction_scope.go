package billing

import (
	"context"

	"github.com/stallmarket/backend/internal/domain/billing"
)

// TransactionScope provides transactional access to billing repositories.
// All repository operations performed inside Execute are committed or rolled
// back together.
type TransactionScope interface {
	// Execute runs fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides the repositories that share one transaction.
//
// Aggregate notes:
//   - InvoiceRepo is the single source of truth for payment state.
//   - PendingPaymentRepo is a secondary idempotency index and never decides amount_paid.
//   - CaptureAuditRepo is append-only; its unique capture id is the permanent credit key.
type TransactionalRepositories interface {
	LeaseRepo() billing.LeaseRepository
	StallRepo() billing.StallRepository
	InvoiceRepo() billing.InvoiceRepository
	PendingPaymentRepo() billing.PendingPaymentLedger
	CaptureAuditRepo() billing.CaptureAuditRepository
}
