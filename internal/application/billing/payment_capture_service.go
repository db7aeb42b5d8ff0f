package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"github.com/stallmarket/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// PaymentState is where a vendor's checkout stands
type PaymentState string

const (
	PaymentStateAwaitingConfirmation PaymentState = "AWAITING_CONFIRMATION"
	PaymentStateCapturing            PaymentState = "CAPTURING"
	PaymentStateCaptured             PaymentState = "CAPTURED"
	PaymentStateFailed               PaymentState = "FAILED"
)

// ConfirmView is what the vendor sees before agreeing to the capture
type ConfirmView struct {
	State             PaymentState    `json:"state"`
	OrderID           string          `json:"order_id"`
	InvoiceID         uuid.UUID       `json:"invoice_id"`
	BillingPeriod     string          `json:"billing_period"`
	DueDate           string          `json:"due_date"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Remaining         decimal.Decimal `json:"remaining"`
	InvoiceStatus     string          `json:"invoice_status"`
	ReceiptNumber     string          `json:"receipt_number,omitempty"`
	ConfirmationToken string          `json:"confirmation_token,omitempty"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"`
}

// CaptureCommand is the vendor's explicit confirmation of a capture
type CaptureCommand struct {
	VendorID  uuid.UUID
	OrderID   string
	InvoiceID uuid.UUID
	Token     string
}

// CaptureResult is the invoice state after a capture
type CaptureResult struct {
	State           PaymentState    `json:"state"`
	OrderID         string          `json:"order_id"`
	InvoiceID       uuid.UUID       `json:"invoice_id"`
	CaptureID       string          `json:"capture_id,omitempty"`
	AmountCaptured  decimal.Decimal `json:"amount_captured"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	Remaining       decimal.Decimal `json:"remaining"`
	InvoiceStatus   string          `json:"invoice_status"`
	ReceiptNumber   string          `json:"receipt_number,omitempty"`
	AlreadyCaptured bool            `json:"already_captured"`
}

// PaymentCaptureServiceConfig contains configuration for PaymentCaptureService
type PaymentCaptureServiceConfig struct {
	ConfirmationTTL time.Duration
}

// DefaultPaymentCaptureServiceConfig returns default configuration
func DefaultPaymentCaptureServiceConfig() PaymentCaptureServiceConfig {
	return PaymentCaptureServiceConfig{ConfirmationTTL: 15 * time.Minute}
}

// PaymentCaptureServiceDeps groups the collaborators of PaymentCaptureService
type PaymentCaptureServiceDeps struct {
	Invoices billing.InvoiceRepository
	Leases   billing.LeaseRepository
	Ledger   billing.PendingPaymentLedger
	Pins     billing.OrderPinRepository
	Vendors  billing.VendorDirectory
	Gateway  billing.Gateway
	Signer   billing.ConfirmationSigner
	Settler  *Settler
	Notifier billing.Notifier
	Auditor  billing.Auditor
	Policy   billing.Policy
	Clock    billing.Clock
	Metrics  *telemetry.BillingMetrics
	Logger   *zap.Logger
}

// PaymentCaptureService runs the two-step checkout: Confirm shows the pinned
// amount and issues a confirmation token, Capture moves the money
type PaymentCaptureService struct {
	invoices billing.InvoiceRepository
	leases   billing.LeaseRepository
	ledger   billing.PendingPaymentLedger
	pins     billing.OrderPinRepository
	vendors  billing.VendorDirectory
	gateway  billing.Gateway
	signer   billing.ConfirmationSigner
	settler  *Settler
	policy   billing.Policy
	clock    billing.Clock
	metrics  *telemetry.BillingMetrics
	dispatch dispatcher
	tokenTTL time.Duration
}

// NewPaymentCaptureService creates a new PaymentCaptureService
func NewPaymentCaptureService(deps PaymentCaptureServiceDeps, config PaymentCaptureServiceConfig) *PaymentCaptureService {
	if config.ConfirmationTTL <= 0 {
		config.ConfirmationTTL = DefaultPaymentCaptureServiceConfig().ConfirmationTTL
	}
	return &PaymentCaptureService{
		invoices: deps.Invoices,
		leases:   deps.Leases,
		ledger:   deps.Ledger,
		pins:     deps.Pins,
		vendors:  deps.Vendors,
		gateway:  deps.Gateway,
		signer:   deps.Signer,
		settler:  deps.Settler,
		policy:   deps.Policy,
		clock:    orSystemClock(deps.Clock),
		metrics:  deps.Metrics,
		dispatch: dispatcher{notifier: deps.Notifier, auditor: deps.Auditor, logger: orNop(deps.Logger)},
		tokenTTL: config.ConfirmationTTL,
	}
}

// Confirm returns the amount the vendor is about to pay for an approved
// order along with a confirmation token. It changes nothing.
func (s *PaymentCaptureService) Confirm(ctx context.Context, vendorID uuid.UUID, orderID string) (*ConfirmView, error) {
	now := s.clock.Now().UTC()

	inv, lease, pending, err := s.loadOrder(ctx, vendorID, orderID)
	if err != nil {
		return nil, err
	}

	view := &ConfirmView{
		OrderID:       orderID,
		InvoiceID:     inv.ID,
		BillingPeriod: inv.BillingPeriod,
		DueDate:       inv.DueDate.Format("2006-01-02"),
		Currency:      inv.Currency,
		Remaining:     inv.Remaining(),
		InvoiceStatus: string(inv.Status),
	}
	if inv.ReceiptNumber != nil {
		view.ReceiptNumber = *inv.ReceiptNumber
	}
	if (pending != nil && pending.IsProcessed()) || inv.Status == billing.InvoiceStatusPaid {
		view.State = PaymentStateCaptured
		if pending != nil {
			view.Amount = pending.Amount
		}
		return view, nil
	}

	if err := s.checkPayable(inv, lease, now); err != nil {
		return nil, err
	}
	pin, err := s.activePin(ctx, orderID, now)
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(s.tokenTTL)
	token, err := s.signer.Sign(billing.ConfirmationClaims{
		OrderID:   orderID,
		InvoiceID: inv.ID,
		VendorID:  vendorID,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, err
	}

	view.State = PaymentStateAwaitingConfirmation
	view.Amount = pin.ExpectedAmount
	view.Currency = pin.Currency
	view.ConfirmationToken = token
	view.ExpiresAt = &expiresAt
	return view, nil
}

// Capture captures an approved order after the vendor confirmed it and
// credits the invoice
func (s *PaymentCaptureService) Capture(ctx context.Context, cmd CaptureCommand) (*CaptureResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment_capture", "capture",
		telemetry.SpanAttrOrderID, cmd.OrderID,
		telemetry.SpanAttrVendorID, cmd.VendorID.String())
	defer span.End()

	res, err := s.capture(ctx, cmd)
	telemetry.RecordError(span, err)
	return res, err
}

func (s *PaymentCaptureService) capture(ctx context.Context, cmd CaptureCommand) (*CaptureResult, error) {
	log := logger.For(ctx, s.dispatch.logger).With(
		zap.String("order_id", cmd.OrderID),
		zap.String("vendor_id", cmd.VendorID.String()))
	now := s.clock.Now().UTC()

	claims, err := s.signer.Verify(cmd.Token)
	if err != nil {
		return nil, billing.ErrInvalidConfirmation
	}
	if claims.OrderID != cmd.OrderID || claims.VendorID != cmd.VendorID {
		return nil, billing.ErrInvalidConfirmation
	}
	if claims.InvoiceID != cmd.InvoiceID {
		return nil, billing.ErrInvoiceMismatch
	}

	inv, lease, pending, err := s.loadOrder(ctx, cmd.VendorID, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if inv.ID != cmd.InvoiceID {
		return nil, billing.ErrInvoiceMismatch
	}

	if (pending != nil && pending.IsProcessed()) || inv.Status == billing.InvoiceStatusPaid {
		s.metrics.RecordCapture(ctx, string(billing.CaptureSourceSync), "duplicate", decimal.Zero)
		res := captureResult(inv, cmd.OrderID, decimal.Zero)
		res.AlreadyCaptured = true
		if pending != nil && pending.GatewayCaptureID != nil {
			res.CaptureID = *pending.GatewayCaptureID
		}
		return res, nil
	}

	if err := s.checkPayable(inv, lease, now); err != nil {
		return nil, err
	}
	pin, err := s.activePin(ctx, cmd.OrderID, now)
	if err != nil {
		return nil, err
	}

	log.Info("Capturing order", zap.String("state", string(PaymentStateCapturing)))
	capture, err := s.gateway.CaptureOrder(ctx, cmd.OrderID, "capture-"+cmd.OrderID)
	if err != nil {
		s.metrics.RecordCapture(ctx, string(billing.CaptureSourceSync), "gateway_error", decimal.Zero)
		log.Warn("Gateway capture failed", zap.String("state", string(PaymentStateFailed)), zap.Error(err))
		return nil, err
	}
	if !capture.IsCompleted() {
		s.metrics.RecordCapture(ctx, string(billing.CaptureSourceSync), "not_completed", decimal.Zero)
		log.Warn("Gateway capture not completed",
			zap.String("state", string(PaymentStateFailed)),
			zap.String("capture_status", capture.Status))
		return nil, billing.ErrGatewayRejected.WithMessage(fmt.Sprintf("Capture status %s", capture.Status))
	}
	if !pin.Matches(capture.Amount, capture.Currency) {
		s.metrics.RecordCapture(ctx, string(billing.CaptureSourceSync), "amount_mismatch", decimal.Zero)
		log.Error("Captured amount differs from confirmed amount",
			zap.String("capture_id", capture.CaptureID),
			zap.String("expected", pin.ExpectedAmount.StringFixed(2)+" "+pin.Currency),
			zap.String("captured", capture.Amount.StringFixed(2)+" "+capture.Currency))
		return nil, billing.ErrAmountMismatch
	}

	pendingID := pin.PendingPaymentID
	if pending != nil {
		pendingID = pending.ID
	}
	settled, err := s.settler.Settle(ctx, SettleInput{
		InvoiceID:        inv.ID,
		PendingPaymentID: &pendingID,
		OrderID:          cmd.OrderID,
		CaptureID:        capture.CaptureID,
		Amount:           capture.Amount,
		Currency:         capture.Currency,
		Source:           billing.CaptureSourceSync,
	})
	if err != nil {
		s.metrics.RecordCapture(ctx, string(billing.CaptureSourceSync), "failed", decimal.Zero)
		log.Error("Settlement failed",
			zap.String("capture_id", capture.CaptureID),
			zap.Error(err))
		return nil, err
	}

	res := captureResult(settled.Invoice, cmd.OrderID, capture.Amount)
	res.CaptureID = capture.CaptureID
	if settled.Duplicate {
		res.AlreadyCaptured = true
		res.AmountCaptured = decimal.Zero
		s.metrics.RecordCapture(ctx, string(billing.CaptureSourceSync), "duplicate", decimal.Zero)
	} else {
		s.metrics.RecordCapture(ctx, string(billing.CaptureSourceSync), "credited", capture.Amount)
		creditNotice(ctx, s.dispatch, settled, cmd.VendorID, cmd.VendorID.String(), billing.CaptureSourceSync, capture.CaptureID, now)
		log.Info("Payment captured",
			zap.String("state", string(PaymentStateCaptured)),
			zap.String("capture_id", capture.CaptureID),
			zap.String("amount", capture.Amount.StringFixed(2)),
			zap.String("invoice_status", res.InvoiceStatus))
	}

	if err := s.pins.Delete(ctx, cmd.OrderID); err != nil {
		log.Warn("Failed to delete order pin", zap.Error(err))
	}
	return res, nil
}

// creditNotice notifies the vendor and writes the audit entry for a credited capture
func creditNotice(ctx context.Context, d dispatcher, settled *SettleResult, vendorID uuid.UUID, actor string, source billing.CaptureSource, captureID string, now time.Time) {
	inv := settled.Invoice
	d.notify(ctx, vendorID, paymentReceivedMessage(inv, settled.Outcome.Credited))
	d.audit(ctx, actor, "invoice.payment_captured", "invoice", inv.ID.String(), now, map[string]any{
		"capture_id":     captureID,
		"source":         string(source),
		"amount":         settled.Outcome.Credited.StringFixed(2),
		"previous_paid":  settled.Outcome.PreviousPaid.StringFixed(2),
		"amount_paid":    inv.AmountPaid.StringFixed(2),
		"status":         string(inv.Status),
		"receipt_number": settled.Outcome.Receipt,
	})
}

// loadOrder resolves the invoice an order was created for and authorizes the vendor
func (s *PaymentCaptureService) loadOrder(ctx context.Context, vendorID uuid.UUID, orderID string) (*billing.Invoice, *billing.Lease, *billing.PendingPayment, error) {
	if orderID == "" {
		return nil, nil, nil, billing.ErrOrderNotFound
	}
	inv, err := s.invoices.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}
	lease, err := s.leases.FindByID(ctx, inv.LeaseID)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := authorizeVendor(ctx, s.vendors, vendorID, inv, lease); err != nil {
		return nil, nil, nil, err
	}
	pending, err := s.ledger.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}
	return inv, lease, pending, nil
}

func (s *PaymentCaptureService) checkPayable(inv *billing.Invoice, lease *billing.Lease, now time.Time) error {
	if !lease.Status.IsActiveLike() {
		return billing.ErrLeaseInactive
	}
	if !inv.Status.IsOpen() {
		return billing.ErrInvoiceNotPayable.WithMessage(fmt.Sprintf("Invoice is %s", inv.Status))
	}
	if !s.policy.WithinGrace(inv.DueDate, now) {
		return billing.ErrGraceExpired
	}
	return nil
}

func (s *PaymentCaptureService) activePin(ctx context.Context, orderID string, now time.Time) (*billing.OrderPin, error) {
	pin, err := s.pins.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if pin == nil || pin.Expired(now) {
		return nil, billing.ErrOrderNotPinned
	}
	return pin, nil
}

func captureResult(inv *billing.Invoice, orderID string, captured decimal.Decimal) *CaptureResult {
	res := &CaptureResult{
		State:          PaymentStateCaptured,
		OrderID:        orderID,
		InvoiceID:      inv.ID,
		AmountCaptured: captured,
		AmountPaid:     inv.AmountPaid,
		Remaining:      inv.Remaining(),
		InvoiceStatus:  string(inv.Status),
	}
	if inv.ReceiptNumber != nil {
		res.ReceiptNumber = *inv.ReceiptNumber
	}
	return res
}
