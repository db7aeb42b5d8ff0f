package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway event types handled by reconciliation
const (
	EventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	EventCaptureDenied    = "PAYMENT.CAPTURE.DENIED"
	EventCaptureRefunded  = "PAYMENT.CAPTURE.REFUNDED"
)

// CreateOrderRequest asks the gateway for an order the vendor can approve
type CreateOrderRequest struct {
	// IdempotencyKey makes retried creates return the same order
	IdempotencyKey string
	// ReferenceID identifies the invoice on the gateway side
	ReferenceID string
	// CustomID carries the pending payment id back in webhooks
	CustomID    string
	Amount      decimal.Decimal
	Currency    string
	Description string
	ReturnURL   string
	CancelURL   string
}

// GatewayOrder is a created order awaiting vendor approval
type GatewayOrder struct {
	ID          string
	Status      string
	ApprovalURL string
}

// GatewayCapture is the result of capturing an approved order
type GatewayCapture struct {
	OrderID   string
	CaptureID string
	Status    string
	Amount    decimal.Decimal
	Currency  string
	CustomID  string
}

// IsCompleted reports whether money actually moved
func (c *GatewayCapture) IsCompleted() bool {
	return c.Status == "COMPLETED"
}

// WebhookVerification carries the transmission headers and raw body the
// gateway needs to verify a webhook signature
type WebhookVerification struct {
	TransmissionID   string
	TransmissionTime string
	CertURL          string
	AuthAlgo         string
	TransmissionSig  string
	Body             []byte
}

// Gateway is the external two-phase payment provider.
// Adapters wrap ErrGatewayUnavailable for transient failures and
// ErrGatewayRejected for permanent ones.
type Gateway interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*GatewayOrder, error)
	CaptureOrder(ctx context.Context, orderID, idempotencyKey string) (*GatewayCapture, error)
	VerifyWebhookSignature(ctx context.Context, v WebhookVerification) (bool, error)
}
