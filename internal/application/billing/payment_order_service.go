package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"github.com/stallmarket/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// CreateOrderCommand starts a payment for an invoice.
// PartialAmount pays part of the remaining balance; nil pays all of it.
type CreateOrderCommand struct {
	VendorID      uuid.UUID
	InvoiceID     uuid.UUID
	PartialAmount *decimal.Decimal
}

// OrderResult is a gateway order the vendor can approve
type OrderResult struct {
	OrderID          string          `json:"order_id"`
	ApprovalURL      string          `json:"approval_url"`
	InvoiceID        uuid.UUID       `json:"invoice_id"`
	PendingPaymentID uuid.UUID       `json:"pending_payment_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Reused           bool            `json:"reused"`
}

// PaymentOrderServiceConfig contains configuration for PaymentOrderService
type PaymentOrderServiceConfig struct {
	// PinTTL bounds how long an order's confirmed amount stays valid
	PinTTL time.Duration
}

// DefaultPaymentOrderServiceConfig returns default configuration
func DefaultPaymentOrderServiceConfig() PaymentOrderServiceConfig {
	return PaymentOrderServiceConfig{PinTTL: 24 * time.Hour}
}

// PaymentOrderService creates gateway orders for invoices
type PaymentOrderService struct {
	invoices billing.InvoiceRepository
	leases   billing.LeaseRepository
	ledger   billing.PendingPaymentLedger
	pins     billing.OrderPinRepository
	vendors  billing.VendorDirectory
	gateway  billing.Gateway
	policy   billing.Policy
	clock    billing.Clock
	metrics  *telemetry.BillingMetrics
	logger   *zap.Logger
	pinTTL   time.Duration
}

// PaymentOrderServiceDeps groups the collaborators of PaymentOrderService.
// Vendors, Clock, Metrics and Logger are optional.
type PaymentOrderServiceDeps struct {
	Invoices billing.InvoiceRepository
	Leases   billing.LeaseRepository
	Ledger   billing.PendingPaymentLedger
	Pins     billing.OrderPinRepository
	Vendors  billing.VendorDirectory
	Gateway  billing.Gateway
	Policy   billing.Policy
	Clock    billing.Clock
	Metrics  *telemetry.BillingMetrics
	Logger   *zap.Logger
}

// NewPaymentOrderService creates a new PaymentOrderService
func NewPaymentOrderService(deps PaymentOrderServiceDeps, config PaymentOrderServiceConfig) *PaymentOrderService {
	if config.PinTTL <= 0 {
		config.PinTTL = DefaultPaymentOrderServiceConfig().PinTTL
	}
	return &PaymentOrderService{
		invoices: deps.Invoices,
		leases:   deps.Leases,
		ledger:   deps.Ledger,
		pins:     deps.Pins,
		vendors:  deps.Vendors,
		gateway:  deps.Gateway,
		policy:   deps.Policy,
		clock:    orSystemClock(deps.Clock),
		metrics:  deps.Metrics,
		logger:   orNop(deps.Logger),
		pinTTL:   config.PinTTL,
	}
}

// CreateOrder validates that the invoice can be paid now, then opens (or
// reuses) the pending payment and its gateway order. Retried requests for the
// same amount converge on the same order.
func (s *PaymentOrderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*OrderResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment_order", "create",
		telemetry.SpanAttrInvoiceID, cmd.InvoiceID.String(),
		telemetry.SpanAttrVendorID, cmd.VendorID.String())
	defer span.End()

	res, err := s.createOrder(ctx, cmd)
	telemetry.RecordError(span, err)
	return res, err
}

func (s *PaymentOrderService) createOrder(ctx context.Context, cmd CreateOrderCommand) (*OrderResult, error) {
	log := logger.For(ctx, s.logger).With(
		zap.String("invoice_id", cmd.InvoiceID.String()),
		zap.String("vendor_id", cmd.VendorID.String()))
	now := s.clock.Now().UTC()

	inv, lease, err := s.payableInvoice(ctx, cmd.VendorID, cmd.InvoiceID, now)
	if err != nil {
		return nil, err
	}

	amount := inv.Remaining()
	if cmd.PartialAmount != nil {
		p := cmd.PartialAmount.Round(2)
		if !p.IsPositive() || p.GreaterThan(amount) {
			return nil, billing.ErrInvalidPartialAmount
		}
		amount = p
	}

	intent := billing.OpenIntent{
		VendorID:  cmd.VendorID,
		LeaseID:   lease.ID,
		InvoiceID: inv.ID,
		Amount:    amount,
		Currency:  inv.Currency,
		Type:      billing.PaymentTypeRent,
	}
	pending, err := s.openPending(ctx, intent)
	if err != nil {
		log.Error("Failed to open pending payment", zap.Error(err))
		return nil, err
	}

	result := &OrderResult{
		InvoiceID:        inv.ID,
		PendingPaymentID: pending.ID,
		Amount:           amount,
		Currency:         inv.Currency,
	}

	if pending.HasOrder() {
		result.OrderID = pending.OrderID()
		result.ApprovalURL = pending.ApprovalURL
		result.Reused = true
	} else {
		order, err := s.gateway.CreateOrder(ctx, billing.CreateOrderRequest{
			IdempotencyKey: pending.ID.String(),
			ReferenceID:    inv.ID.String(),
			CustomID:       pending.ID.String(),
			Amount:         amount,
			Currency:       inv.Currency,
			Description:    fmt.Sprintf("Stall rent %s", inv.BillingPeriod),
		})
		if err != nil {
			s.metrics.RecordOrder(ctx, "failed")
			log.Warn("Gateway order creation failed", zap.Error(err))
			return nil, err
		}
		result.OrderID = order.ID
		result.ApprovalURL = order.ApprovalURL

		if err := s.ledger.AttachOrder(ctx, pending.ID, order.ID, order.ApprovalURL); err != nil {
			if !errors.Is(err, billing.ErrOrderAlreadyAttached) {
				log.Error("Failed to attach order to pending payment", zap.Error(err))
				return nil, err
			}
			// A concurrent request attached its order first; converge on it
			winner, err := s.ledger.FindByID(ctx, pending.ID)
			if err != nil {
				return nil, err
			}
			result.OrderID = winner.OrderID()
			result.ApprovalURL = winner.ApprovalURL
			result.Reused = true
		}
	}

	if inv.GatewayOrderID == nil || *inv.GatewayOrderID != result.OrderID {
		if err := s.invoices.AttachOrder(ctx, inv.ID, result.OrderID); err != nil {
			log.Error("Failed to attach order to invoice", zap.Error(err))
			return nil, err
		}
	}

	if err := s.pins.Save(ctx, &billing.OrderPin{
		OrderID:          result.OrderID,
		InvoiceID:        inv.ID,
		VendorID:         cmd.VendorID,
		PendingPaymentID: pending.ID,
		ExpectedAmount:   amount,
		Currency:         inv.Currency,
		ExpiresAt:        now.Add(s.pinTTL),
		CreatedAt:        now,
	}); err != nil {
		log.Error("Failed to pin order amount", zap.Error(err))
		return nil, err
	}

	outcome := "created"
	if result.Reused {
		outcome = "reused"
	}
	s.metrics.RecordOrder(ctx, outcome)
	log.Info("Payment order ready",
		zap.String("order_id", result.OrderID),
		zap.String("amount", amount.StringFixed(2)),
		zap.Bool("reused", result.Reused))
	return result, nil
}

// payableInvoice applies the preconditions shared by order creation and
// checkout, in order: existence, ownership, vendor standing, lease state,
// invoice state, grace window, balance.
func (s *PaymentOrderService) payableInvoice(ctx context.Context, vendorID, invoiceID uuid.UUID, now time.Time) (*billing.Invoice, *billing.Lease, error) {
	inv, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, nil, err
	}
	lease, err := s.leases.FindByID(ctx, inv.LeaseID)
	if err != nil {
		return nil, nil, err
	}
	if err := authorizeVendor(ctx, s.vendors, vendorID, inv, lease); err != nil {
		return nil, nil, err
	}
	if !lease.Status.IsActiveLike() {
		return nil, nil, billing.ErrLeaseInactive
	}
	if !inv.Status.IsOpen() {
		return nil, nil, billing.ErrInvoiceNotPayable.WithMessage(fmt.Sprintf("Invoice is %s", inv.Status))
	}
	if !s.policy.WithinGrace(inv.DueDate, now) {
		return nil, nil, billing.ErrGraceExpired
	}
	if !inv.HasBalance() {
		return nil, nil, billing.ErrNoRemainingBalance
	}
	return inv, lease, nil
}

// openPending returns the pending record for the intent. A pending record
// left over from another invoice with the same amount is cancelled first.
func (s *PaymentOrderService) openPending(ctx context.Context, intent billing.OpenIntent) (*billing.PendingPayment, error) {
	pending, err := s.ledger.Open(ctx, intent)
	if err != nil {
		return nil, err
	}
	if pending.InvoiceID == intent.InvoiceID {
		return pending, nil
	}

	s.logger.Info("Cancelling stale pending payment",
		zap.String("pending_payment_id", pending.ID.String()),
		zap.String("stale_invoice_id", pending.InvoiceID.String()))
	if _, err := s.ledger.Cancel(ctx, pending.ID); err != nil {
		return nil, err
	}
	return s.ledger.Open(ctx, intent)
}

// authorizeVendor accepts a vendor that owns the invoice directly or through
// its lease, and whose account is active
func authorizeVendor(ctx context.Context, vendors billing.VendorDirectory, vendorID uuid.UUID, inv *billing.Invoice, lease *billing.Lease) error {
	if vendorID == uuid.Nil || (!inv.BelongsTo(vendorID) && lease.VendorID != vendorID) {
		return billing.ErrNotInvoiceOwner
	}
	if vendors == nil {
		return nil
	}
	active, err := vendors.IsActiveVendor(ctx, vendorID)
	if err != nil {
		return err
	}
	if !active {
		return billing.ErrVendorInactive
	}
	return nil
}
