package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CaptureSource tells which path credited a capture
type CaptureSource string

const (
	CaptureSourceSync    CaptureSource = "sync"
	CaptureSourceWebhook CaptureSource = "webhook"
)

// CaptureAudit is the append-only record of a credited capture.
// GatewayCaptureID is unique across all invoices.
type CaptureAudit struct {
	ID               uuid.UUID
	InvoiceID        uuid.UUID
	PendingPaymentID *uuid.UUID
	GatewayOrderID   string
	GatewayCaptureID string
	Amount           decimal.Decimal
	Currency         string
	Source           CaptureSource
	CapturedAt       time.Time
}

// OrderPin is the amount a vendor was shown and agreed to pay for a gateway
// order. A capture that disagrees with the pin is never credited.
type OrderPin struct {
	OrderID          string
	InvoiceID        uuid.UUID
	VendorID         uuid.UUID
	PendingPaymentID uuid.UUID
	ExpectedAmount   decimal.Decimal
	Currency         string
	ExpiresAt        time.Time
	CreatedAt        time.Time
}

// Matches reports whether a captured amount and currency agree with the pin
func (p *OrderPin) Matches(amount decimal.Decimal, currency string) bool {
	return strings.EqualFold(p.Currency, currency) &&
		p.ExpectedAmount.Sub(amount).Abs().LessThan(BalanceEpsilon)
}

// Expired reports whether the pin outlived its TTL
func (p *OrderPin) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// ReceiptNumberer issues receipt numbers unique across processes
type ReceiptNumberer interface {
	NextReceiptNumber(at time.Time) string
}
