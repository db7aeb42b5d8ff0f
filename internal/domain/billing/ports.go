package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Notification kinds
const (
	NotifyReminder        = "invoice.reminder"
	NotifyLeaseTerminated = "lease.terminated"
	NotifyPaymentReceived = "payment.received"
)

// Message is a vendor notification
type Message struct {
	Kind      string
	Subject   string
	Body      string
	InvoiceID *uuid.UUID
	LeaseID   *uuid.UUID
}

// Notifier delivers vendor notifications. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, vendorID uuid.UUID, msg Message) error
}

// AuditEntry records who did what to which entity
type AuditEntry struct {
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	At         time.Time
	Details    map[string]any
}

// Auditor appends to the external audit trail
type Auditor interface {
	Audit(ctx context.Context, entry AuditEntry) error
}

// VendorDirectory answers whether a vendor account is in good standing
type VendorDirectory interface {
	IsActiveVendor(ctx context.Context, vendorID uuid.UUID) (bool, error)
}

// SystemActor is the audit actor for unattended passes
const SystemActor = "system"

// ConfirmationClaims binds a confirmation to one order, invoice and vendor
type ConfirmationClaims struct {
	OrderID   string
	InvoiceID uuid.UUID
	VendorID  uuid.UUID
	ExpiresAt time.Time
}

// ConfirmationSigner issues and verifies the short-lived token a vendor
// must present to capture an order
type ConfirmationSigner interface {
	Sign(claims ConfirmationClaims) (string, error)
	// Verify returns ErrInvalidConfirmation for forged, expired or malformed tokens
	Verify(token string) (*ConfirmationClaims, error)
}

// PayloadArchive keeps a copy of verified webhook bodies
type PayloadArchive interface {
	Archive(ctx context.Context, eventID string, body []byte) error
}
