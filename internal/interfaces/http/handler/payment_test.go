package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	appbilling "github.com/stallmarket/backend/internal/application/billing"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/interfaces/http/dto"
	"github.com/stallmarket/backend/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type paymentFixture struct {
	vendorID uuid.UUID
	orders   *mockOrders
	captures *mockCaptures
	engine   http.Handler
}

func newPaymentFixture(t *testing.T, vendorID uuid.UUID) *paymentFixture {
	f := &paymentFixture{vendorID: vendorID, orders: &mockOrders{}, captures: &mockCaptures{}}
	h := NewPaymentHandler(f.orders, f.captures, "/pay/invoices/", nil)
	f.engine = newTestEngine(vendorID, func(r *gin.Engine) {
		r.POST("/vendor/invoices/:id/orders", h.CreateOrder)
		r.GET("/vendor/payments/:order_id/confirm", h.Confirm)
		r.POST("/vendor/payments/:order_id/capture", h.Capture)
	})
	t.Cleanup(func() {
		f.orders.AssertExpectations(t)
		f.captures.AssertExpectations(t)
	})
	return f
}

func TestPaymentHandler_CreateOrder(t *testing.T) {
	vendorID, invoiceID := uuid.New(), uuid.New()
	path := "/vendor/invoices/" + invoiceID.String() + "/orders"

	t.Run("full balance without a body", func(t *testing.T) {
		f := newPaymentFixture(t, vendorID)
		f.orders.On("CreateOrder", mock.Anything, appbilling.CreateOrderCommand{VendorID: vendorID, InvoiceID: invoiceID}).
			Return(&appbilling.OrderResult{OrderID: "ORDER-1", ApprovalURL: "https://gateway.test/approve", InvoiceID: invoiceID}, nil)

		w := testutil.Perform(t, f.engine, http.MethodPost, path, nil, nil)

		require.Equal(t, http.StatusCreated, w.Code)
		data := testutil.AssertSuccessResponse(t, w)
		assert.Equal(t, "ORDER-1", data["order_id"])
		assert.Equal(t, "https://gateway.test/approve", data["approval_url"])
	})

	t.Run("partial amount", func(t *testing.T) {
		f := newPaymentFixture(t, vendorID)
		f.orders.On("CreateOrder", mock.Anything, mock.MatchedBy(func(cmd appbilling.CreateOrderCommand) bool {
			return cmd.PartialAmount != nil && cmd.PartialAmount.Equal(decimal.RequireFromString("40.50"))
		})).Return(&appbilling.OrderResult{OrderID: "ORDER-2"}, nil)

		w := testutil.Perform(t, f.engine, http.MethodPost, path, []byte(`{"partial_amount":"40.50"}`), nil)
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("domain rejection carries code and retry url", func(t *testing.T) {
		f := newPaymentFixture(t, vendorID)
		f.orders.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, billing.ErrGraceExpired)

		w := testutil.Perform(t, f.engine, http.MethodPost, path, nil, nil)

		resp := testutil.AssertErrorResponse(t, w, http.StatusConflict, "GRACE_EXPIRED")
		assert.Equal(t, "/pay/invoices/"+invoiceID.String(), resp["retry_url"])
	})

	t.Run("unexpected error text is hidden", func(t *testing.T) {
		f := newPaymentFixture(t, vendorID)
		f.orders.On("CreateOrder", mock.Anything, mock.Anything).
			Return(nil, assert.AnError)

		w := testutil.Perform(t, f.engine, http.MethodPost, path, nil, nil)

		resp := testutil.AssertErrorResponse(t, w, http.StatusInternalServerError, dto.ErrCodeInternal)
		errMap := resp["error"].(map[string]interface{})
		assert.Equal(t, internalMessage, errMap["message"])
		assert.NotContains(t, w.Body.String(), assert.AnError.Error())
	})

	t.Run("gateway outage is 503", func(t *testing.T) {
		f := newPaymentFixture(t, vendorID)
		f.orders.On("CreateOrder", mock.Anything, mock.Anything).
			Return(nil, billing.ErrGatewayUnavailable.WithCause(assert.AnError))

		w := testutil.Perform(t, f.engine, http.MethodPost, path, nil, nil)
		testutil.AssertErrorResponse(t, w, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE")
		assert.NotContains(t, w.Body.String(), assert.AnError.Error())
	})

	t.Run("bad invoice id", func(t *testing.T) {
		f := newPaymentFixture(t, vendorID)
		w := testutil.Perform(t, f.engine, http.MethodPost, "/vendor/invoices/nope/orders", nil, nil)
		testutil.AssertErrorResponse(t, w, http.StatusBadRequest, dto.ErrCodeValidation)
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newPaymentFixture(t, vendorID)
		w := testutil.Perform(t, f.engine, http.MethodPost, path, []byte(`{"partial_amount":`), nil)
		testutil.AssertErrorResponse(t, w, http.StatusBadRequest, dto.ErrCodeValidation)
	})

	t.Run("no vendor", func(t *testing.T) {
		f := newPaymentFixture(t, uuid.Nil)
		w := testutil.Perform(t, f.engine, http.MethodPost, path, nil, nil)
		testutil.AssertErrorResponse(t, w, http.StatusUnauthorized, dto.ErrCodeUnauthorized)
	})
}

func TestPaymentHandler_Confirm(t *testing.T) {
	vendorID := uuid.New()

	t.Run("shows pinned amount", func(t *testing.T) {
		f := newPaymentFixture(t, vendorID)
		f.captures.On("Confirm", mock.Anything, vendorID, "ORDER-1").Return(&appbilling.ConfirmView{
			State:             appbilling.PaymentStateAwaitingConfirmation,
			OrderID:           "ORDER-1",
			Amount:            decimal.RequireFromString("120.00"),
			Currency:          "USD",
			ConfirmationToken: "tok",
		}, nil)

		w := testutil.Perform(t, f.engine, http.MethodGet, "/vendor/payments/ORDER-1/confirm", nil, nil)

		require.Equal(t, http.StatusOK, w.Code)
		data := testutil.AssertSuccessResponse(t, w)
		assert.Equal(t, "AWAITING_CONFIRMATION", data["state"])
		assert.Equal(t, "120", data["amount"])
		assert.Equal(t, "tok", data["confirmation_token"])
	})

	t.Run("unknown order retries from the invoice list", func(t *testing.T) {
		f := newPaymentFixture(t, vendorID)
		f.captures.On("Confirm", mock.Anything, vendorID, "ORDER-9").Return(nil, billing.ErrOrderNotFound)

		w := testutil.Perform(t, f.engine, http.MethodGet, "/vendor/payments/ORDER-9/confirm", nil, nil)

		resp := testutil.AssertErrorResponse(t, w, http.StatusNotFound, "ORDER_NOT_FOUND")
		assert.Equal(t, "/pay/invoices", resp["retry_url"])
	})
}

func TestPaymentHandler_Capture(t *testing.T) {
	vendorID, invoiceID := uuid.New(), uuid.New()
	body := map[string]string{"invoice_id": invoiceID.String(), "confirmation_token": "tok"}

	t.Run("captures", func(t *testing.T) {
		f := newPaymentFixture(t, vendorID)
		f.captures.On("Capture", mock.Anything, appbilling.CaptureCommand{
			VendorID: vendorID, OrderID: "ORDER-1", InvoiceID: invoiceID, Token: "tok",
		}).Return(&appbilling.CaptureResult{
			State:         appbilling.PaymentStateCaptured,
			InvoiceStatus: "paid",
			ReceiptNumber: "RCT-20240303-1",
		}, nil)

		w := testutil.Perform(t, f.engine, http.MethodPost, "/vendor/payments/ORDER-1/capture", body, nil)

		require.Equal(t, http.StatusOK, w.Code)
		data := testutil.AssertSuccessResponse(t, w)
		assert.Equal(t, "CAPTURED", data["state"])
		assert.Equal(t, "RCT-20240303-1", data["receipt_number"])
	})

	t.Run("amount mismatch is an integrity error", func(t *testing.T) {
		f := newPaymentFixture(t, vendorID)
		f.captures.On("Capture", mock.Anything, mock.Anything).Return(nil, billing.ErrAmountMismatch)

		w := testutil.Perform(t, f.engine, http.MethodPost, "/vendor/payments/ORDER-1/capture", body, nil)

		resp := testutil.AssertErrorResponse(t, w, http.StatusUnprocessableEntity, "AMOUNT_MISMATCH")
		assert.Equal(t, "/pay/invoices/"+invoiceID.String(), resp["retry_url"])
	})

	t.Run("forged confirmation", func(t *testing.T) {
		f := newPaymentFixture(t, vendorID)
		f.captures.On("Capture", mock.Anything, mock.Anything).Return(nil, billing.ErrInvalidConfirmation)

		w := testutil.Perform(t, f.engine, http.MethodPost, "/vendor/payments/ORDER-1/capture", body, nil)
		testutil.AssertErrorResponse(t, w, http.StatusForbidden, "INVALID_CONFIRMATION")
	})

	t.Run("missing token", func(t *testing.T) {
		f := newPaymentFixture(t, vendorID)
		w := testutil.Perform(t, f.engine, http.MethodPost, "/vendor/payments/ORDER-1/capture",
			map[string]string{"invoice_id": invoiceID.String()}, nil)
		testutil.AssertErrorResponse(t, w, http.StatusBadRequest, dto.ErrCodeValidation)
	})
}
