package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stallmarket/backend/internal/domain/billing"
)

// SettleInput describes a completed gateway capture to credit
type SettleInput struct {
	InvoiceID        uuid.UUID
	PendingPaymentID *uuid.UUID
	OrderID          string
	CaptureID        string
	Amount           decimal.Decimal
	Currency         string
	Source           billing.CaptureSource
}

// SettleResult is the invoice after settlement.
// Duplicate is set when the capture had already been credited; Outcome is nil then.
type SettleResult struct {
	Invoice   *billing.Invoice
	Outcome   *billing.CaptureOutcome
	Duplicate bool
}

// Settler credits captures to invoices. The synchronous capture path and
// webhook reconciliation both settle through it, and the capture id is the
// idempotency key: however many times and through whichever path a capture
// arrives, it is credited once.
type Settler struct {
	txScope  TransactionScope
	invoices billing.InvoiceRepository
	audits   billing.CaptureAuditRepository
	receipts billing.ReceiptNumberer
	clock    billing.Clock
}

// NewSettler creates a new Settler. invoices and audits are used outside the
// transaction to resolve lost races.
func NewSettler(
	txScope TransactionScope,
	invoices billing.InvoiceRepository,
	audits billing.CaptureAuditRepository,
	receipts billing.ReceiptNumberer,
	clock billing.Clock,
) *Settler {
	return &Settler{
		txScope:  txScope,
		invoices: invoices,
		audits:   audits,
		receipts: receipts,
		clock:    orSystemClock(clock),
	}
}

// Settle locks the invoice and, unless the capture was already audited,
// applies it, appends the audit row and closes the pending record in one
// transaction.
func (s *Settler) Settle(ctx context.Context, in SettleInput) (*SettleResult, error) {
	if in.CaptureID == "" {
		return nil, billing.ErrInvalidAmount.WithMessage("Capture id is required")
	}
	now := s.clock.Now().UTC()

	var result *SettleResult
	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		inv, err := repos.InvoiceRepo().FindForUpdate(ctx, in.InvoiceID)
		if err != nil {
			return err
		}

		existing, err := repos.CaptureAuditRepo().FindByCaptureID(ctx, in.CaptureID)
		if err != nil {
			return err
		}
		if existing != nil || inv.HasCapture(in.CaptureID) {
			if err := s.closePending(ctx, repos, in, now); err != nil {
				return err
			}
			result = &SettleResult{Invoice: inv, Duplicate: true}
			return nil
		}

		outcome, err := inv.RecordCapture(in.Amount, in.Currency, in.CaptureID, now, s.receipts)
		if err != nil {
			return err
		}
		if err := repos.InvoiceRepo().ApplyCapture(ctx, inv, outcome.PreviousPaid, in.CaptureID); err != nil {
			return err
		}
		if err := repos.CaptureAuditRepo().Append(ctx, &billing.CaptureAudit{
			ID:               uuid.New(),
			InvoiceID:        inv.ID,
			PendingPaymentID: in.PendingPaymentID,
			GatewayOrderID:   in.OrderID,
			GatewayCaptureID: in.CaptureID,
			Amount:           in.Amount,
			Currency:         inv.Currency,
			Source:           in.Source,
			CapturedAt:       now,
		}); err != nil {
			return err
		}
		if err := s.closePending(ctx, repos, in, now); err != nil {
			return err
		}

		result = &SettleResult{Invoice: inv, Outcome: outcome}
		return nil
	})
	if err == nil {
		return result, nil
	}

	// A concurrent settlement of the same capture committed first
	if errors.Is(err, billing.ErrCaptureAlreadyAudited) || errors.Is(err, billing.ErrCaptureConflict) {
		if dup, lookupErr := s.duplicateOf(ctx, in); lookupErr == nil && dup != nil {
			return dup, nil
		}
	}
	return nil, err
}

func (s *Settler) closePending(ctx context.Context, repos TransactionalRepositories, in SettleInput, now time.Time) error {
	if in.PendingPaymentID == nil {
		return nil
	}
	_, err := repos.PendingPaymentRepo().MarkProcessed(ctx, *in.PendingPaymentID, in.CaptureID, now)
	if errors.Is(err, billing.ErrPendingNotFound) {
		return nil
	}
	return err
}

func (s *Settler) duplicateOf(ctx context.Context, in SettleInput) (*SettleResult, error) {
	audit, err := s.audits.FindByCaptureID(ctx, in.CaptureID)
	if err != nil || audit == nil {
		return nil, err
	}
	inv, err := s.invoices.FindByID(ctx, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	return &SettleResult{Invoice: inv, Duplicate: true}, nil
}
