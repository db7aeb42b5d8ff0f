package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LeaseRepository defines persistence for leases.
// Find methods return ErrLeaseNotFound when the lease does not exist.
type LeaseRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Lease, error)
	// FindForUpdate loads and row-locks the lease; only meaningful inside a transaction
	FindForUpdate(ctx context.Context, id uuid.UUID) (*Lease, error)
	// ListOpen returns leases that are neither terminated nor expired,
	// optionally restricted to one vendor
	ListOpen(ctx context.Context, vendorID *uuid.UUID) ([]Lease, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]Lease, error)
	Save(ctx context.Context, lease *Lease) error
}

// StallRepository defines persistence for stalls
type StallRepository interface {
	FindForUpdate(ctx context.Context, id uuid.UUID) (*Stall, error)
	Save(ctx context.Context, stall *Stall) error
}

// InvoiceRepository defines persistence for invoices
type InvoiceRepository interface {
	// CreateIfAbsent inserts the invoice unless one already exists for the
	// same (lease, billing period). Returns whether this call created it.
	CreateIfAbsent(ctx context.Context, invoice *Invoice) (bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// FindForUpdate loads and row-locks the invoice inside a transaction
	FindForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// FindByOrderID returns ErrOrderNotFound when no invoice references the order
	FindByOrderID(ctx context.Context, orderID string) (*Invoice, error)
	// FindOpen returns invoices in OpenInvoiceStatuses, optionally for one vendor
	FindOpen(ctx context.Context, vendorID *uuid.UUID) ([]Invoice, error)
	FindOpenByLease(ctx context.Context, leaseID uuid.UUID) ([]Invoice, error)
	AttachOrder(ctx context.Context, invoiceID uuid.UUID, orderID string) error
	// ApplyCapture persists a credited capture with a conditional update on
	// the previous paid amount and the capture id. Returns ErrCaptureConflict
	// when the row no longer matches.
	ApplyCapture(ctx context.Context, invoice *Invoice, previousPaid decimal.Decimal, captureID string) error
	// UpdateStatus persists invoice.Status when the stored status is still from
	UpdateStatus(ctx context.Context, invoice *Invoice, from InvoiceStatus) (bool, error)
	// MarkOverdue moves pending and partial invoices due before today to overdue
	MarkOverdue(ctx context.Context, today time.Time) (int64, error)
}

// PendingPaymentLedger tracks in-flight gateway payments
type PendingPaymentLedger interface {
	// Open returns the pending record for the same (vendor, lease, amount,
	// type) or creates it
	Open(ctx context.Context, intent OpenIntent) (*PendingPayment, error)
	// AttachOrder sets the order on a record that has none. The first writer
	// wins; later writers get ErrOrderAlreadyAttached.
	AttachOrder(ctx context.Context, id uuid.UUID, orderID, approvalURL string) error
	// FindByOrder returns nil, nil when no record carries the order
	FindByOrder(ctx context.Context, orderID string) (*PendingPayment, error)
	FindByID(ctx context.Context, id uuid.UUID) (*PendingPayment, error)
	// MarkProcessed moves a pending record to processed exactly once.
	// Returns false when it was not pending.
	MarkProcessed(ctx context.Context, id uuid.UUID, captureID string, at time.Time) (bool, error)
	// Cancel moves a pending record to cancelled. Returns false when it was not pending.
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
}

// CaptureAuditRepository is the append-only capture trail
type CaptureAuditRepository interface {
	// FindByCaptureID returns nil, nil when the capture was never recorded
	FindByCaptureID(ctx context.Context, captureID string) (*CaptureAudit, error)
	// Append returns ErrCaptureAlreadyAudited on a duplicate capture id
	Append(ctx context.Context, audit *CaptureAudit) error
}

// OrderPinRepository persists order pins
type OrderPinRepository interface {
	Save(ctx context.Context, pin *OrderPin) error
	// FindByOrderID returns nil, nil when the order has no pin
	FindByOrderID(ctx context.Context, orderID string) (*OrderPin, error)
	Delete(ctx context.Context, orderID string) error
}

// ReminderLogRepository claims reminder slots
type ReminderLogRepository interface {
	// Claim inserts the log unless the slot is taken. Returns whether this call claimed it.
	Claim(ctx context.Context, log *ReminderLog) (bool, error)
}

// WebhookEventRepository records received gateway events
type WebhookEventRepository interface {
	// Record stores the event unless already present and returns the stored row
	Record(ctx context.Context, event *WebhookEvent) (*WebhookEvent, error)
	MarkProcessed(ctx context.Context, eventID string, at time.Time) error
}

// ThrottleStore claims a per-vendor bootstrap window
type ThrottleStore interface {
	// Claim succeeds when no pass ran for the vendor within window before now
	Claim(ctx context.Context, vendorID uuid.UUID, now time.Time, window time.Duration) (bool, error)
}
