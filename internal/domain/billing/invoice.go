package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stallmarket/backend/internal/domain/shared"
)

// InvoiceStatus is the payment state of an invoice
type InvoiceStatus string

const (
	InvoiceStatusPending  InvoiceStatus = "pending"
	InvoiceStatusPartial  InvoiceStatus = "partial"
	InvoiceStatusOverdue  InvoiceStatus = "overdue"
	InvoiceStatusPaid     InvoiceStatus = "paid"
	InvoiceStatusFailed   InvoiceStatus = "failed"
	InvoiceStatusRefunded InvoiceStatus = "refunded"
)

// OpenInvoiceStatuses are the statuses an invoice can be paid, reminded
// about or enforced in. A failed capture leaves the invoice payable.
var OpenInvoiceStatuses = []InvoiceStatus{
	InvoiceStatusPending,
	InvoiceStatusPartial,
	InvoiceStatusOverdue,
	InvoiceStatusFailed,
}

// IsOpen reports whether the status accepts payments. Failed invoices stay
// payable: a denied capture leaves the balance owed and the vendor may retry.
func (s InvoiceStatus) IsOpen() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusPartial, InvoiceStatusOverdue, InvoiceStatusFailed:
		return true
	}
	return false
}

// Invoice is one month of rent owed on a lease.
// Invariant: 0 <= AmountPaid <= Amount, and Status is paid exactly when the
// remaining balance is within BalanceEpsilon.
type Invoice struct {
	shared.BaseEntity
	LeaseID       uuid.UUID
	VendorID      uuid.UUID
	BillingPeriod string
	Amount        decimal.Decimal
	AmountPaid    decimal.Decimal
	Currency      string
	Status        InvoiceStatus
	DueDate       time.Time

	// GatewayOrderID is the order currently collecting this invoice.
	// GatewayCaptureID is the capture credited for that order and is
	// cleared whenever a new order is attached.
	GatewayOrderID   *string
	GatewayCaptureID *string
	ReceiptNumber    *string
	PaidAt           *time.Time
}

// NewInvoice creates the pending invoice for a lease falling due on due
func NewInvoice(lease *Lease, due time.Time, now time.Time) (*Invoice, error) {
	if lease == nil {
		return nil, ErrLeaseNotFound
	}
	if !lease.MonthlyRent.IsPositive() {
		return nil, ErrInvalidAmount.WithMessage("Lease monthly rent must be greater than zero")
	}
	due = DateOf(due)
	return &Invoice{
		BaseEntity:    shared.NewBaseEntity(now),
		LeaseID:       lease.ID,
		VendorID:      lease.VendorID,
		BillingPeriod: BillingPeriodOf(due),
		Amount:        lease.MonthlyRent,
		AmountPaid:    decimal.Zero,
		Currency:      strings.ToUpper(lease.Currency),
		Status:        InvoiceStatusPending,
		DueDate:       due,
	}, nil
}

// Remaining returns amount minus amount paid
func (i *Invoice) Remaining() decimal.Decimal {
	return i.Amount.Sub(i.AmountPaid)
}

// HasBalance reports whether more than BalanceEpsilon is still owed
func (i *Invoice) HasBalance() bool {
	return i.Remaining().GreaterThan(BalanceEpsilon)
}

// BelongsTo reports whether the vendor owns the invoice
func (i *Invoice) BelongsTo(vendorID uuid.UUID) bool {
	return i.VendorID == vendorID
}

// HasCapture reports whether captureID was already credited for the current order
func (i *Invoice) HasCapture(captureID string) bool {
	return i.GatewayCaptureID != nil && *i.GatewayCaptureID == captureID
}

// AttachOrder points the invoice at a new gateway order
func (i *Invoice) AttachOrder(orderID string, now time.Time) {
	i.GatewayOrderID = &orderID
	i.GatewayCaptureID = nil
	i.Touch(now)
}

// CaptureOutcome describes what crediting a capture did to the invoice
type CaptureOutcome struct {
	PreviousPaid decimal.Decimal
	Credited     decimal.Decimal
	BecamePaid   bool
	Receipt      string
}

// RecordCapture credits a gateway capture. The receipt number is assigned the
// first time the invoice reaches paid. Captures that would push the paid
// amount past the invoice amount are refused without crediting anything.
func (i *Invoice) RecordCapture(amount decimal.Decimal, currency, captureID string, now time.Time, receipts ReceiptNumberer) (*CaptureOutcome, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !strings.EqualFold(currency, i.Currency) {
		return nil, ErrCurrencyMismatch.WithMessage(fmt.Sprintf("Captured %s against a %s invoice", currency, i.Currency))
	}
	if !i.Status.IsOpen() {
		if i.Status == InvoiceStatusPaid {
			return nil, ErrOverpayment.WithMessage("Invoice is already paid")
		}
		return nil, ErrInvoiceNotPayable.WithMessage(fmt.Sprintf("Invoice is %s", i.Status))
	}

	previous := i.AmountPaid
	newPaid := previous.Add(amount)
	if newPaid.GreaterThan(i.Amount.Add(BalanceEpsilon)) {
		return nil, ErrOverpayment.WithMessage(fmt.Sprintf("Capture of %s exceeds remaining balance %s", amount.StringFixed(2), i.Remaining().StringFixed(2)))
	}

	outcome := &CaptureOutcome{PreviousPaid: previous, Credited: amount}
	if i.Amount.Sub(newPaid).LessThanOrEqual(BalanceEpsilon) {
		// within tolerance of the full amount; keep AmountPaid <= Amount
		if newPaid.GreaterThan(i.Amount) {
			newPaid = i.Amount
		}
		i.Status = InvoiceStatusPaid
		paidAt := now
		i.PaidAt = &paidAt
		outcome.BecamePaid = true
		if i.ReceiptNumber == nil && receipts != nil {
			rn := receipts.NextReceiptNumber(now)
			i.ReceiptNumber = &rn
		}
	} else {
		i.Status = InvoiceStatusPartial
	}
	if i.ReceiptNumber != nil {
		outcome.Receipt = *i.ReceiptNumber
	}
	i.AmountPaid = newPaid
	i.GatewayCaptureID = &captureID
	i.Touch(now)
	return outcome, nil
}

// MarkFailed records a denied capture. Paid invoices and invoices that
// already received money keep their status. Returns whether it changed.
func (i *Invoice) MarkFailed(now time.Time) bool {
	if i.Status == InvoiceStatusPaid || i.Status == InvoiceStatusFailed || i.Status == InvoiceStatusRefunded {
		return false
	}
	if i.AmountPaid.IsPositive() {
		return false
	}
	i.Status = InvoiceStatusFailed
	i.Touch(now)
	return true
}

// MarkRefunded records a gateway refund. Returns whether it changed.
func (i *Invoice) MarkRefunded(now time.Time) bool {
	if i.Status == InvoiceStatusRefunded {
		return false
	}
	i.Status = InvoiceStatusRefunded
	i.Touch(now)
	return true
}

// IsOverdue reports whether a pending or partial invoice is past its due date
func (i *Invoice) IsOverdue(today time.Time) bool {
	if i.Status != InvoiceStatusPending && i.Status != InvoiceStatusPartial {
		return false
	}
	return DateOf(today).After(DateOf(i.DueDate))
}
