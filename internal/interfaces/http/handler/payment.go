package handler

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appbilling "github.com/stallmarket/backend/internal/application/billing"
	"github.com/stallmarket/backend/internal/interfaces/http/dto"
	"github.com/stallmarket/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// OrderCreator opens gateway orders for invoices
type OrderCreator interface {
	CreateOrder(ctx context.Context, cmd appbilling.CreateOrderCommand) (*appbilling.OrderResult, error)
}

// PaymentCapturer runs the confirm and capture steps of a checkout
type PaymentCapturer interface {
	Confirm(ctx context.Context, vendorID uuid.UUID, orderID string) (*appbilling.ConfirmView, error)
	Capture(ctx context.Context, cmd appbilling.CaptureCommand) (*appbilling.CaptureResult, error)
}

// DefaultInvoicePageURL is where failed payments send the vendor back to
const DefaultInvoicePageURL = "/vendor/invoices"

// PaymentHandler serves the vendor checkout endpoints
type PaymentHandler struct {
	BaseHandler
	orders      OrderCreator
	captures    PaymentCapturer
	invoicePage string
}

// NewPaymentHandler creates a new PaymentHandler. An empty invoicePage uses
// DefaultInvoicePageURL.
func NewPaymentHandler(orders OrderCreator, captures PaymentCapturer, invoicePage string, log *zap.Logger) *PaymentHandler {
	if invoicePage == "" {
		invoicePage = DefaultInvoicePageURL
	}
	return &PaymentHandler{
		BaseHandler: newBaseHandler(log),
		orders:      orders,
		captures:    captures,
		invoicePage: strings.TrimRight(invoicePage, "/"),
	}
}

// retryURL is the invoice page to restart from, or the invoice list when the
// invoice is unknown
func (h *PaymentHandler) retryURL(invoiceID string) string {
	if invoiceID == "" {
		return h.invoicePage
	}
	return h.invoicePage + "/" + invoiceID
}

// CreateOrder handles POST /vendor/invoices/:id/orders
func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	vendor, ok := vendorID(c)
	if !ok {
		return
	}

	var uri dto.InvoiceURI
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.HandleValidationError(c, err)
		return
	}

	result, err := h.orders.CreateOrder(c.Request.Context(), appbilling.CreateOrderCommand{
		VendorID:      vendor,
		InvoiceID:     uuid.MustParse(uri.ID),
		PartialAmount: req.PartialAmount,
	})
	if err != nil {
		h.HandleError(c, err, h.retryURL(uri.ID))
		return
	}
	h.Created(c, result)
}

// Confirm handles GET /vendor/payments/:order_id/confirm, the step that shows
// the vendor the amount about to be captured
func (h *PaymentHandler) Confirm(c *gin.Context) {
	vendor, ok := vendorID(c)
	if !ok {
		return
	}

	var uri dto.OrderURI
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	view, err := h.captures.Confirm(c.Request.Context(), vendor, uri.OrderID)
	if err != nil {
		h.HandleError(c, err, h.retryURL(""))
		return
	}
	h.Success(c, view)
}

// Capture handles POST /vendor/payments/:order_id/capture
func (h *PaymentHandler) Capture(c *gin.Context) {
	vendor, ok := vendorID(c)
	if !ok {
		return
	}

	var uri dto.OrderURI
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	var req dto.CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	result, err := h.captures.Capture(c.Request.Context(), appbilling.CaptureCommand{
		VendorID:  vendor,
		OrderID:   uri.OrderID,
		InvoiceID: uuid.MustParse(req.InvoiceID),
		Token:     req.ConfirmationToken,
	})
	if err != nil {
		h.HandleError(c, err, h.retryURL(req.InvoiceID))
		return
	}
	h.Success(c, result)
}
