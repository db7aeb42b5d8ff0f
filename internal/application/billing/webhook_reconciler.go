package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/domain/shared"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"github.com/stallmarket/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// WebhookHeaders are the gateway transmission headers
type WebhookHeaders struct {
	TransmissionID   string
	TransmissionTime string
	CertURL          string
	AuthAlgo         string
	TransmissionSig  string
}

// Missing lists the names of absent headers
func (h WebhookHeaders) Missing() []string {
	var missing []string
	for _, hv := range [][2]string{
		{"transmission-id", h.TransmissionID},
		{"transmission-time", h.TransmissionTime},
		{"cert-url", h.CertURL},
		{"auth-algo", h.AuthAlgo},
		{"transmission-sig", h.TransmissionSig},
	} {
		if hv[1] == "" {
			missing = append(missing, hv[0])
		}
	}
	return missing
}

// Webhook outcomes
const (
	WebhookCredited      = "credited"
	WebhookDuplicate     = "duplicate"
	WebhookFailed        = "marked_failed"
	WebhookRefunded      = "refunded"
	WebhookIgnored       = "ignored"
	WebhookUnmatched     = "unmatched"
	WebhookRejected      = "rejected"
	WebhookAmountDiffers = "amount_mismatch"
)

// WebhookResult tells the transport what to answer. StatusCode is always set.
type WebhookResult struct {
	StatusCode int
	EventID    string
	EventType  string
	Outcome    string
	InvoiceID  *uuid.UUID
}

// WebhookReconcilerDeps groups the collaborators of WebhookReconciler.
// Archive, Notifier, Auditor, Metrics and Logger are optional.
type WebhookReconcilerDeps struct {
	Gateway  billing.Gateway
	Events   billing.WebhookEventRepository
	Invoices billing.InvoiceRepository
	Ledger   billing.PendingPaymentLedger
	Audits   billing.CaptureAuditRepository
	Pins     billing.OrderPinRepository
	Settler  *Settler
	Archive  billing.PayloadArchive
	Notifier billing.Notifier
	Auditor  billing.Auditor
	Clock    billing.Clock
	Metrics  *telemetry.BillingMetrics
	Logger   *zap.Logger
}

// WebhookReconciler applies verified gateway notifications. Every event is
// safe to receive any number of times.
type WebhookReconciler struct {
	gateway  billing.Gateway
	events   billing.WebhookEventRepository
	invoices billing.InvoiceRepository
	ledger   billing.PendingPaymentLedger
	audits   billing.CaptureAuditRepository
	pins     billing.OrderPinRepository
	settler  *Settler
	archive  billing.PayloadArchive
	clock    billing.Clock
	metrics  *telemetry.BillingMetrics
	dispatch dispatcher
}

// NewWebhookReconciler creates a new WebhookReconciler
func NewWebhookReconciler(deps WebhookReconcilerDeps) *WebhookReconciler {
	return &WebhookReconciler{
		gateway:  deps.Gateway,
		events:   deps.Events,
		invoices: deps.Invoices,
		ledger:   deps.Ledger,
		audits:   deps.Audits,
		pins:     deps.Pins,
		settler:  deps.Settler,
		archive:  deps.Archive,
		clock:    orSystemClock(deps.Clock),
		metrics:  deps.Metrics,
		dispatch: dispatcher{notifier: deps.Notifier, auditor: deps.Auditor, logger: orNop(deps.Logger)},
	}
}

// Handle verifies, records and applies one webhook delivery.
// The returned error explains a non-2xx status and is meant for logs only.
func (r *WebhookReconciler) Handle(ctx context.Context, raw []byte, headers WebhookHeaders) (*WebhookResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "webhook", "handle")
	defer span.End()

	result := &WebhookResult{}
	finish := func(status int, outcome string, err error) (*WebhookResult, error) {
		result.StatusCode = status
		result.Outcome = outcome
		r.metrics.RecordWebhook(ctx, result.EventType, outcome)
		telemetry.SetAttributes(span,
			telemetry.SpanAttrEventID, result.EventID,
			"webhook.event_type", result.EventType,
			"webhook.outcome", outcome)
		telemetry.RecordError(span, err)
		return result, err
	}

	if missing := headers.Missing(); len(missing) > 0 {
		return finish(http.StatusBadRequest, WebhookRejected, fmt.Errorf("missing webhook headers: %v", missing))
	}
	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || !env.valid() {
		return finish(http.StatusBadRequest, WebhookRejected, errors.New("malformed webhook body"))
	}
	result.EventID = env.ID
	result.EventType = env.EventType

	log := logger.For(ctx, r.dispatch.logger).With(
		zap.String("event_id", env.ID),
		zap.String("event_type", env.EventType))

	verified, err := r.gateway.VerifyWebhookSignature(ctx, billing.WebhookVerification{
		TransmissionID:   headers.TransmissionID,
		TransmissionTime: headers.TransmissionTime,
		CertURL:          headers.CertURL,
		AuthAlgo:         headers.AuthAlgo,
		TransmissionSig:  headers.TransmissionSig,
		Body:             raw,
	})
	if err != nil {
		log.Error("Webhook signature verification unavailable", zap.Error(err))
		return finish(http.StatusInternalServerError, WebhookRejected, err)
	}
	if !verified {
		log.Warn("Webhook signature rejected")
		return finish(http.StatusForbidden, WebhookRejected, errors.New("webhook signature verification failed"))
	}

	now := r.clock.Now().UTC()
	stored, err := r.events.Record(ctx, &billing.WebhookEvent{
		EventID:    env.ID,
		EventType:  env.EventType,
		ResourceID: resourceID(env.Resource),
		Payload:    raw,
		ReceivedAt: now,
	})
	if err != nil {
		log.Error("Failed to record webhook event", zap.Error(err))
		return finish(http.StatusInternalServerError, WebhookRejected, err)
	}
	if stored.IsProcessed() {
		log.Debug("Webhook event already processed")
		return finish(http.StatusOK, WebhookDuplicate, nil)
	}

	if r.archive != nil {
		if err := r.archive.Archive(ctx, env.ID, raw); err != nil {
			log.Warn("Failed to archive webhook payload", zap.Error(err))
		}
	}

	var outcome string
	switch env.EventType {
	case billing.EventCaptureCompleted:
		outcome, err = r.captureCompleted(ctx, log, env.Resource, result)
	case billing.EventCaptureDenied:
		outcome, err = r.captureDenied(ctx, log, env.Resource, result)
	case billing.EventCaptureRefunded:
		outcome, err = r.captureRefunded(ctx, log, env.Resource, result)
	default:
		outcome = WebhookIgnored
	}
	if err != nil {
		log.Error("Webhook processing failed", zap.Error(err))
		return finish(http.StatusInternalServerError, WebhookRejected, err)
	}

	if err := r.events.MarkProcessed(ctx, env.ID, r.clock.Now().UTC()); err != nil {
		// Side effects are idempotent; a redelivery replays them harmlessly
		log.Warn("Failed to mark webhook event processed", zap.Error(err))
	}
	log.Info("Webhook event processed", zap.String("outcome", outcome))
	return finish(http.StatusOK, outcome, nil)
}

func (r *WebhookReconciler) captureCompleted(ctx context.Context, log *zap.Logger, raw json.RawMessage, result *WebhookResult) (string, error) {
	var res captureResource
	if err := json.Unmarshal(raw, &res); err != nil || res.ID == "" {
		log.Warn("Capture resource unreadable")
		return WebhookIgnored, nil
	}
	amount, err := res.Amount.decimal()
	if err != nil {
		log.Warn("Capture amount unreadable", zap.String("value", res.Amount.Value))
		return WebhookIgnored, nil
	}
	orderID := res.orderID()

	audit, err := r.audits.FindByCaptureID(ctx, res.ID)
	if err != nil {
		return "", err
	}
	if audit != nil {
		result.InvoiceID = &audit.InvoiceID
		return WebhookDuplicate, nil
	}

	inv, pending, err := r.locate(ctx, orderID, res.CustomID)
	if err != nil {
		return "", err
	}
	if inv == nil {
		log.Warn("Capture does not match any invoice",
			zap.String("capture_id", res.ID),
			zap.String("order_id", orderID))
		return WebhookUnmatched, nil
	}
	result.InvoiceID = &inv.ID

	if orderID != "" {
		pin, err := r.pins.FindByOrderID(ctx, orderID)
		if err != nil {
			return "", err
		}
		if pin != nil && !pin.Matches(amount, res.Amount.CurrencyCode) {
			r.metrics.RecordCapture(ctx, string(billing.CaptureSourceWebhook), "amount_mismatch", decimal.Zero)
			log.Error("Captured amount differs from confirmed amount",
				zap.String("capture_id", res.ID),
				zap.String("expected", pin.ExpectedAmount.StringFixed(2)+" "+pin.Currency),
				zap.String("captured", amount.StringFixed(2)+" "+res.Amount.CurrencyCode))
			return WebhookAmountDiffers, nil
		}
	}

	var pendingID *uuid.UUID
	if pending != nil {
		pendingID = &pending.ID
	}
	settled, err := r.settler.Settle(ctx, SettleInput{
		InvoiceID:        inv.ID,
		PendingPaymentID: pendingID,
		OrderID:          orderID,
		CaptureID:        res.ID,
		Amount:           amount,
		Currency:         res.Amount.CurrencyCode,
		Source:           billing.CaptureSourceWebhook,
	})
	if err != nil {
		switch shared.KindOf(err) {
		case shared.KindIntegrity, shared.KindStateConflict, shared.KindValidation:
			// The capture can never apply; a redelivery would fail the same way
			r.metrics.RecordCapture(ctx, string(billing.CaptureSourceWebhook), "rejected", decimal.Zero)
			log.Error("Capture rejected by invoice",
				zap.String("capture_id", res.ID),
				zap.String("code", shared.CodeOf(err)),
				zap.Error(err))
			return WebhookRejected, nil
		}
		return "", err
	}
	if settled.Duplicate {
		r.metrics.RecordCapture(ctx, string(billing.CaptureSourceWebhook), "duplicate", decimal.Zero)
		return WebhookDuplicate, nil
	}

	r.metrics.RecordCapture(ctx, string(billing.CaptureSourceWebhook), "credited", amount)
	creditNotice(ctx, r.dispatch, settled, inv.VendorID, billing.SystemActor, billing.CaptureSourceWebhook, res.ID, r.clock.Now().UTC())
	if orderID != "" {
		if err := r.pins.Delete(ctx, orderID); err != nil {
			log.Warn("Failed to delete order pin", zap.Error(err))
		}
	}
	return WebhookCredited, nil
}

func (r *WebhookReconciler) captureDenied(ctx context.Context, log *zap.Logger, raw json.RawMessage, result *WebhookResult) (string, error) {
	var res captureResource
	if err := json.Unmarshal(raw, &res); err != nil {
		return WebhookIgnored, nil
	}
	inv, pending, err := r.locate(ctx, res.orderID(), res.CustomID)
	if err != nil {
		return "", err
	}
	if pending != nil {
		if _, err := r.ledger.Cancel(ctx, pending.ID); err != nil {
			return "", err
		}
	}
	if inv == nil {
		return WebhookUnmatched, nil
	}
	result.InvoiceID = &inv.ID

	now := r.clock.Now().UTC()
	from := inv.Status
	if !inv.MarkFailed(now) {
		return WebhookIgnored, nil
	}
	if _, err := r.invoices.UpdateStatus(ctx, inv, from); err != nil {
		return "", err
	}
	log.Info("Invoice marked failed after denied capture", zap.String("invoice_id", inv.ID.String()))
	r.dispatch.audit(ctx, billing.SystemActor, "invoice.payment_denied", "invoice", inv.ID.String(), now, map[string]any{
		"capture_id": res.ID,
		"order_id":   res.orderID(),
	})
	return WebhookFailed, nil
}

func (r *WebhookReconciler) captureRefunded(ctx context.Context, log *zap.Logger, raw json.RawMessage, result *WebhookResult) (string, error) {
	var res refundResource
	if err := json.Unmarshal(raw, &res); err != nil {
		return WebhookIgnored, nil
	}

	var inv *billing.Invoice
	if captureID := res.captureID(); captureID != "" {
		audit, err := r.audits.FindByCaptureID(ctx, captureID)
		if err != nil {
			return "", err
		}
		if audit != nil {
			inv, err = r.invoices.FindByID(ctx, audit.InvoiceID)
			if err != nil && !errors.Is(err, billing.ErrInvoiceNotFound) {
				return "", err
			}
		}
	}
	if inv == nil {
		var err error
		inv, _, err = r.locate(ctx, "", res.CustomID)
		if err != nil {
			return "", err
		}
	}
	if inv == nil {
		return WebhookUnmatched, nil
	}
	result.InvoiceID = &inv.ID

	now := r.clock.Now().UTC()
	from := inv.Status
	if !inv.MarkRefunded(now) {
		return WebhookIgnored, nil
	}
	if _, err := r.invoices.UpdateStatus(ctx, inv, from); err != nil {
		return "", err
	}
	log.Info("Invoice refunded", zap.String("invoice_id", inv.ID.String()))
	r.dispatch.audit(ctx, billing.SystemActor, "invoice.refunded", "invoice", inv.ID.String(), now, map[string]any{
		"refund_id":  res.ID,
		"capture_id": res.captureID(),
		"amount":     res.Amount.Value,
	})
	return WebhookRefunded, nil
}

// locate finds the invoice for an event by order id, then by the pending
// payment id carried in custom_id. Both results are nil when nothing matches.
func (r *WebhookReconciler) locate(ctx context.Context, orderID, customID string) (*billing.Invoice, *billing.PendingPayment, error) {
	var pending *billing.PendingPayment
	if orderID != "" {
		p, err := r.ledger.FindByOrder(ctx, orderID)
		if err != nil {
			return nil, nil, err
		}
		pending = p

		inv, err := r.invoices.FindByOrderID(ctx, orderID)
		switch {
		case err == nil:
			return inv, pending, nil
		case !errors.Is(err, billing.ErrOrderNotFound):
			return nil, nil, err
		}
	}

	if pending == nil && customID != "" {
		if id, err := uuid.Parse(customID); err == nil {
			p, err := r.ledger.FindByID(ctx, id)
			switch {
			case err == nil:
				pending = p
			case !errors.Is(err, billing.ErrPendingNotFound):
				return nil, nil, err
			}
		}
	}
	if pending == nil {
		return nil, nil, nil
	}

	inv, err := r.invoices.FindByID(ctx, pending.InvoiceID)
	if errors.Is(err, billing.ErrInvoiceNotFound) {
		return nil, pending, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return inv, pending, nil
}

func resourceID(raw json.RawMessage) string {
	var r struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return ""
	}
	return r.ID
}
