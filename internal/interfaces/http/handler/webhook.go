package handler

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	appbilling "github.com/stallmarket/backend/internal/application/billing"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"github.com/stallmarket/backend/internal/interfaces/http/dto"
	"github.com/stallmarket/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// Gateway transmission headers. Deliveries may carry either the
// PAYPAL- prefixed names or the bare ones; the prefixed name wins.
const (
	HeaderTransmissionID   = "PAYPAL-TRANSMISSION-ID"
	HeaderTransmissionTime = "PAYPAL-TRANSMISSION-TIME"
	HeaderCertURL          = "PAYPAL-CERT-URL"
	HeaderAuthAlgo         = "PAYPAL-AUTH-ALGO"
	HeaderTransmissionSig  = "PAYPAL-TRANSMISSION-SIG"

	headerPrefix = "PAYPAL-"
)

// Webhook error codes. The gateway only looks at the status.
const (
	ErrCodeWebhookRejected  = "WEBHOOK_REJECTED"
	ErrCodeInvalidSignature = "INVALID_SIGNATURE"
)

// WebhookProcessor applies gateway notifications
type WebhookProcessor interface {
	Handle(ctx context.Context, raw []byte, headers appbilling.WebhookHeaders) (*appbilling.WebhookResult, error)
}

// WebhookHandler receives gateway notifications. It is unauthenticated;
// the processor verifies every delivery with the gateway.
type WebhookHandler struct {
	BaseHandler
	processor WebhookProcessor
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(processor WebhookProcessor, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: newBaseHandler(log),
		processor:   processor,
	}
}

// webhookAck is the body of an accepted delivery
type webhookAck struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"`
}

// transmissionHeaders reads the transmission headers, falling back to the
// unprefixed name when the prefixed one is absent
func transmissionHeaders(c *gin.Context) appbilling.WebhookHeaders {
	get := func(name string) string {
		if v := c.GetHeader(name); v != "" {
			return v
		}
		return c.GetHeader(strings.TrimPrefix(name, headerPrefix))
	}
	return appbilling.WebhookHeaders{
		TransmissionID:   get(HeaderTransmissionID),
		TransmissionTime: get(HeaderTransmissionTime),
		CertURL:          get(HeaderCertURL),
		AuthAlgo:         get(HeaderAuthAlgo),
		TransmissionSig:  get(HeaderTransmissionSig),
	}
}

// Receive handles POST /webhooks/gateway
func (h *WebhookHandler) Receive(c *gin.Context) {
	requestID := middleware.GetRequestID(c)
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(ErrCodeWebhookRejected, "Unreadable body", requestID))
		return
	}

	ctx := c.Request.Context()
	result, err := h.processor.Handle(ctx, raw, transmissionHeaders(c))
	if result == nil {
		logger.For(ctx, h.logger).Error("Webhook processor returned no result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(dto.ErrCodeInternal, internalMessage, requestID))
		return
	}
	if err != nil {
		logger.For(ctx, h.logger).Warn("Webhook delivery not accepted",
			zap.Int("status", result.StatusCode),
			zap.String("event_id", result.EventID),
			zap.Error(err),
		)
	}

	switch {
	case result.StatusCode < http.StatusBadRequest:
		c.JSON(result.StatusCode, dto.NewSuccessResponse(webhookAck{EventID: result.EventID, Outcome: result.Outcome}))
	case result.StatusCode == http.StatusForbidden:
		c.JSON(result.StatusCode, dto.NewErrorResponse(ErrCodeInvalidSignature, "Signature verification failed", requestID))
	case result.StatusCode < http.StatusInternalServerError:
		c.JSON(result.StatusCode, dto.NewErrorResponse(ErrCodeWebhookRejected, "Malformed webhook delivery", requestID))
	default:
		c.JSON(result.StatusCode, dto.NewErrorResponse(dto.ErrCodeInternal, internalMessage, requestID))
	}
}
