package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stallmarket/backend/internal/domain/shared"
)

// PendingPaymentStatus is the state of a local payment intent
type PendingPaymentStatus string

const (
	PendingStatusPending   PendingPaymentStatus = "pending"
	PendingStatusProcessed PendingPaymentStatus = "processed"
	PendingStatusCancelled PendingPaymentStatus = "cancelled"
)

// PaymentType distinguishes what a pending payment is for
type PaymentType string

const (
	PaymentTypeRent PaymentType = "rent"
)

// PendingPayment is the local record of a payment intent sent to the gateway.
// At most one pending record exists per (vendor, lease, amount, type).
type PendingPayment struct {
	shared.BaseEntity
	VendorID         uuid.UUID
	LeaseID          uuid.UUID
	InvoiceID        uuid.UUID
	Amount           decimal.Decimal
	Currency         string
	Type             PaymentType
	Status           PendingPaymentStatus
	GatewayOrderID   *string
	ApprovalURL      string
	GatewayCaptureID *string
	ProcessedAt      *time.Time
}

// OpenIntent identifies the payment a vendor is about to start
type OpenIntent struct {
	VendorID  uuid.UUID
	LeaseID   uuid.UUID
	InvoiceID uuid.UUID
	Amount    decimal.Decimal
	Currency  string
	Type      PaymentType
}

// NewPendingPayment validates an intent and builds its pending record
func NewPendingPayment(intent OpenIntent, now time.Time) (*PendingPayment, error) {
	if intent.VendorID == uuid.Nil || intent.LeaseID == uuid.Nil || intent.InvoiceID == uuid.Nil {
		return nil, shared.ErrInvalidInput.WithMessage("Vendor, lease and invoice are required")
	}
	if !intent.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	typ := intent.Type
	if typ == "" {
		typ = PaymentTypeRent
	}
	return &PendingPayment{
		BaseEntity: shared.NewBaseEntity(now),
		VendorID:   intent.VendorID,
		LeaseID:    intent.LeaseID,
		InvoiceID:  intent.InvoiceID,
		Amount:     intent.Amount,
		Currency:   strings.ToUpper(intent.Currency),
		Type:       typ,
		Status:     PendingStatusPending,
	}, nil
}

// HasOrder reports whether a gateway order is attached
func (p *PendingPayment) HasOrder() bool {
	return p.GatewayOrderID != nil && *p.GatewayOrderID != ""
}

// IsProcessed reports whether the capture for this intent was credited
func (p *PendingPayment) IsProcessed() bool {
	return p.Status == PendingStatusProcessed
}

// OrderID returns the attached order id or ""
func (p *PendingPayment) OrderID() string {
	if p.GatewayOrderID == nil {
		return ""
	}
	return *p.GatewayOrderID
}
