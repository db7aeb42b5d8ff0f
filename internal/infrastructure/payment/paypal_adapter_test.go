package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/domain/shared"
)

type fakePayPal struct {
	tokenCalls  atomic.Int32
	handler     func(w http.ResponseWriter, r *http.Request)
	lastBody    []byte
	lastHeaders http.Header
}

func newFakePayPal(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*fakePayPal, *httptest.Server) {
	f := &fakePayPal{handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == paypalTokenPath {
			f.tokenCalls.Add(1)
			user, pass, ok := r.BasicAuth()
			if !ok || user != "client" || pass != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"Client Authentication failed"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(paypalTokenResponse{AccessToken: "tok-1", TokenType: "Bearer", ExpiresIn: 3600})
			return
		}
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		f.lastBody, _ = io.ReadAll(r.Body)
		f.lastHeaders = r.Header.Clone()
		f.handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestAdapter(t *testing.T, baseURL string, opts ...PayPalOption) *PayPalAdapter {
	t.Helper()
	a, err := NewPayPalAdapter(&PayPalConfig{
		Mode:         "sandbox",
		BaseURL:      baseURL,
		ClientID:     "client",
		ClientSecret: "secret",
		WebhookID:    "WH-1",
		ReturnURL:    "https://stalls.example.com/pay/return",
		CancelURL:    "https://stalls.example.com/pay/cancel",
		BrandName:    "Central Market",
		Retry:        RetryPolicy{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxJitter: time.Millisecond},
	}, opts...)
	require.NoError(t, err)
	a.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return a
}

func TestPayPalConfig_Validate(t *testing.T) {
	valid := PayPalConfig{
		Mode: "sandbox", ClientID: "c", ClientSecret: "s", WebhookID: "w",
		ReturnURL: "https://r", CancelURL: "https://c",
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		mutate  func(c *PayPalConfig)
		wantErr error
	}{
		{"bad mode", func(c *PayPalConfig) { c.Mode = "prod" }, ErrPayPalInvalidMode},
		{"missing client id", func(c *PayPalConfig) { c.ClientID = "" }, ErrPayPalMissingClientID},
		{"missing secret", func(c *PayPalConfig) { c.ClientSecret = "" }, ErrPayPalMissingSecret},
		{"missing webhook id", func(c *PayPalConfig) { c.WebhookID = "" }, ErrPayPalMissingWebhookID},
		{"missing cancel url", func(c *PayPalConfig) { c.CancelURL = "" }, ErrPayPalMissingRedirectURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), tt.wantErr)
		})
	}
}

func TestPayPalConfig_APIBaseURL(t *testing.T) {
	assert.Equal(t, paypalSandboxBaseURL, (&PayPalConfig{Mode: "sandbox"}).APIBaseURL())
	assert.Equal(t, paypalLiveBaseURL, (&PayPalConfig{Mode: "live"}).APIBaseURL())
	assert.Equal(t, "http://localhost:9999", (&PayPalConfig{Mode: "live", BaseURL: "http://localhost:9999/"}).APIBaseURL())
}

func TestPayPalAdapter_CreateOrder(t *testing.T) {
	fake, srv := newFakePayPal(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, paypalOrdersPath, r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"PAYER_ACTION_REQUIRED","links":[
			{"href":"https://api/v2/checkout/orders/ORDER-1","rel":"self"},
			{"href":"https://www.sandbox.paypal.com/checkoutnow?token=ORDER-1","rel":"payer-action"}]}`))
	})
	a := newTestAdapter(t, srv.URL)

	order, err := a.CreateOrder(context.Background(), billing.CreateOrderRequest{
		IdempotencyKey: "pending-1",
		ReferenceID:    "invoice-1",
		CustomID:       "pending-1",
		Amount:         decimal.RequireFromString("1000"),
		Currency:       "usd",
		Description:    "Stall rent 2025-01",
	})
	require.NoError(t, err)
	assert.Equal(t, "ORDER-1", order.ID)
	assert.Equal(t, "https://www.sandbox.paypal.com/checkoutnow?token=ORDER-1", order.ApprovalURL)
	assert.Equal(t, "pending-1", fake.lastHeaders.Get("PayPal-Request-Id"))

	var sent paypalCreateOrderRequest
	require.NoError(t, json.Unmarshal(fake.lastBody, &sent))
	assert.Equal(t, "CAPTURE", sent.Intent)
	require.Len(t, sent.PurchaseUnits, 1)
	assert.Equal(t, "1000.00", sent.PurchaseUnits[0].Amount.Value)
	assert.Equal(t, "USD", sent.PurchaseUnits[0].Amount.CurrencyCode)
	assert.Equal(t, "pending-1", sent.PurchaseUnits[0].CustomID)
	assert.Equal(t, "https://stalls.example.com/pay/return", sent.PaymentSource.PayPal.ExperienceContext.ReturnURL)
}

func TestPayPalAdapter_TokenIsCached(t *testing.T) {
	fake, srv := newFakePayPal(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"verification_status":"SUCCESS"}`))
	})
	a := newTestAdapter(t, srv.URL)

	for i := 0; i < 3; i++ {
		ok, err := a.VerifyWebhookSignature(context.Background(), billing.WebhookVerification{Body: []byte(`{"id":"WH"}`)})
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, int32(1), fake.tokenCalls.Load())
}

func TestPayPalAdapter_CaptureOrder(t *testing.T) {
	_, srv := newFakePayPal(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/checkout/orders/ORDER-1/capture", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"COMPLETED","purchase_units":[{"custom_id":"pending-1",
			"payments":{"captures":[{"id":"CAP-1","status":"COMPLETED","amount":{"currency_code":"USD","value":"500.00"}}]}}]}`))
	})
	a := newTestAdapter(t, srv.URL)

	capture, err := a.CaptureOrder(context.Background(), "ORDER-1", "capture-ORDER-1")
	require.NoError(t, err)
	assert.Equal(t, "CAP-1", capture.CaptureID)
	assert.True(t, capture.IsCompleted())
	assert.True(t, capture.Amount.Equal(decimal.RequireFromString("500")))
	assert.Equal(t, "USD", capture.Currency)
	assert.Equal(t, "pending-1", capture.CustomID)
}

func TestPayPalAdapter_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	_, srv := newFakePayPal(t, func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`{"verification_status":"FAILURE"}`))
		}
	})
	a := newTestAdapter(t, srv.URL)
	var waits []time.Duration
	a.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	ok, err := a.VerifyWebhookSignature(context.Background(), billing.WebhookVerification{Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, waits, 2)
	assert.Equal(t, time.Second, waits[0], "Retry-After is honored")
	assert.GreaterOrEqual(t, waits[1], 2*time.Millisecond)
}

func TestPayPalAdapter_ExhaustedRetriesAreTransient(t *testing.T) {
	var calls atomic.Int32
	_, srv := newFakePayPal(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	a := newTestAdapter(t, srv.URL)

	_, err := a.CaptureOrder(context.Background(), "ORDER-1", "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrGatewayUnavailable)
	assert.Equal(t, shared.KindTransientGateway, shared.KindOf(err))
	assert.Equal(t, int32(4), calls.Load())
}

func TestPayPalAdapter_PermanentFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	_, srv := newFakePayPal(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"name":"UNPROCESSABLE_ENTITY","message":"ORDER_NOT_APPROVED","debug_id":"abc"}`))
	})
	a := newTestAdapter(t, srv.URL)

	_, err := a.CaptureOrder(context.Background(), "ORDER-1", "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrGatewayRejected)
	assert.Equal(t, int32(1), calls.Load())

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "UNPROCESSABLE_ENTITY", se.Name)
	assert.Equal(t, "abc", se.DebugID)
}

func TestPayPalAdapter_BadCredentialsArePermanent(t *testing.T) {
	_, srv := newFakePayPal(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Fail(t, "API must not be called without a token")
	})
	a := newTestAdapter(t, srv.URL)
	a.config.ClientSecret = "wrong"

	_, err := a.CreateOrder(context.Background(), billing.CreateOrderRequest{Amount: decimal.NewFromInt(1), Currency: "USD"})
	assert.ErrorIs(t, err, billing.ErrGatewayRejected)
}

func TestPayPalAdapter_TransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	closedURL := srv.URL
	srv.Close()

	a := newTestAdapter(t, closedURL)
	_, err := a.VerifyWebhookSignature(context.Background(), billing.WebhookVerification{Body: []byte(`{}`)})
	assert.ErrorIs(t, err, billing.ErrGatewayUnavailable)
}

func TestPayPalAdapter_VerifyRejectsInvalidBodyLocally(t *testing.T) {
	a := newTestAdapter(t, "http://127.0.0.1:1")
	ok, err := a.VerifyWebhookSignature(context.Background(), billing.WebhookVerification{Body: []byte(`not json`)})
	require.NoError(t, err)
	assert.False(t, ok)
}
