package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/telemetry"
)

// tokenSkew renews the access token this long before PayPal expires it
const tokenSkew = 60 * time.Second

// PayPalAdapter implements billing.Gateway against the PayPal Orders v2 API
type PayPalAdapter struct {
	config     *PayPalConfig
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *telemetry.BillingMetrics
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// PayPalOption customises a PayPalAdapter
type PayPalOption func(*PayPalAdapter)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) PayPalOption {
	return func(a *PayPalAdapter) { a.httpClient = c }
}

// WithLogger sets the logger used for retries and failures
func WithLogger(l *zap.Logger) PayPalOption {
	return func(a *PayPalAdapter) { a.logger = l }
}

// WithMetrics records call durations and retries
func WithMetrics(m *telemetry.BillingMetrics) PayPalOption {
	return func(a *PayPalAdapter) { a.metrics = m }
}

// NewPayPalAdapter creates a new PayPal adapter
func NewPayPalAdapter(config *PayPalConfig, opts ...PayPalOption) (*PayPalAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	a := &PayPalAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: zap.NewNop(),
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

var _ billing.Gateway = (*PayPalAdapter)(nil)

// CreateOrder creates a CAPTURE-intent order for exactly req.Amount
func (a *PayPalAdapter) CreateOrder(ctx context.Context, req billing.CreateOrderRequest) (*billing.GatewayOrder, error) {
	if !req.Amount.IsPositive() {
		return nil, billing.ErrGatewayRejected.WithMessage("Order amount must be positive")
	}

	body := paypalCreateOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: req.ReferenceID,
			CustomID:    req.CustomID,
			Description: req.Description,
			Amount: paypalMoney{
				CurrencyCode: strings.ToUpper(req.Currency),
				Value:        req.Amount.StringFixed(2),
			},
		}},
	}
	exp := &body.PaymentSource.PayPal.ExperienceContext
	exp.BrandName = a.config.BrandName
	exp.ShippingPreference = "NO_SHIPPING"
	exp.UserAction = "PAY_NOW"
	exp.ReturnURL = firstNonEmpty(req.ReturnURL, a.config.ReturnURL)
	exp.CancelURL = firstNonEmpty(req.CancelURL, a.config.CancelURL)

	var resp paypalOrderResponse
	err := a.call(ctx, "create_order", func(ctx context.Context) error {
		return a.doJSON(ctx, "create_order", http.MethodPost, paypalOrdersPath, body, req.IdempotencyKey, &resp)
	})
	if err != nil {
		return nil, err
	}

	return &billing.GatewayOrder{
		ID:          resp.ID,
		Status:      resp.Status,
		ApprovalURL: approvalLink(resp.Links),
	}, nil
}

// CaptureOrder captures an approved order. Retries with the same
// idempotency key return the original capture.
func (a *PayPalAdapter) CaptureOrder(ctx context.Context, orderID, idempotencyKey string) (*billing.GatewayCapture, error) {
	if orderID == "" {
		return nil, billing.ErrGatewayRejected.WithMessage("Order id is required")
	}

	var resp paypalOrderResponse
	path := fmt.Sprintf(paypalCapturePath, url.PathEscape(orderID))
	err := a.call(ctx, "capture_order", func(ctx context.Context) error {
		return a.doJSON(ctx, "capture_order", http.MethodPost, path, struct{}{}, idempotencyKey, &resp)
	})
	if err != nil {
		return nil, err
	}

	for _, pu := range resp.PurchaseUnits {
		for _, c := range pu.Payments.Captures {
			amount, err := decimal.NewFromString(c.Amount.Value)
			if err != nil {
				return nil, billing.ErrGatewayRejected.WithCause(fmt.Errorf("paypal: capture amount %q: %w", c.Amount.Value, err))
			}
			return &billing.GatewayCapture{
				OrderID:   resp.ID,
				CaptureID: c.ID,
				Status:    c.Status,
				Amount:    amount,
				Currency:  strings.ToUpper(c.Amount.CurrencyCode),
				CustomID:  firstNonEmpty(c.CustomID, pu.CustomID),
			}, nil
		}
	}
	return nil, billing.ErrGatewayRejected.WithMessage(fmt.Sprintf("Order %s returned no capture (status %s)", resp.ID, resp.Status))
}

// VerifyWebhookSignature asks PayPal whether a delivery is authentic.
// Returns false for a FAILURE verdict and an error when PayPal could not answer.
func (a *PayPalAdapter) VerifyWebhookSignature(ctx context.Context, v billing.WebhookVerification) (bool, error) {
	if !json.Valid(v.Body) {
		return false, nil
	}
	body := paypalVerifyRequest{
		AuthAlgo:         v.AuthAlgo,
		CertURL:          v.CertURL,
		TransmissionID:   v.TransmissionID,
		TransmissionSig:  v.TransmissionSig,
		TransmissionTime: v.TransmissionTime,
		WebhookID:        a.config.WebhookID,
		WebhookEvent:     json.RawMessage(v.Body),
	}

	var resp paypalVerifyResponse
	err := a.call(ctx, "verify_webhook", func(ctx context.Context) error {
		return a.doJSON(ctx, "verify_webhook", http.MethodPost, paypalVerifyWebhookPath, body, "", &resp)
	})
	if err != nil {
		return false, err
	}
	return strings.EqualFold(resp.VerificationStatus, "SUCCESS"), nil
}

// call runs attempt under the retry policy and classifies the final error
func (a *PayPalAdapter) call(ctx context.Context, op string, attempt func(ctx context.Context) error) (err error) {
	ctx, span := telemetry.StartClientSpan(ctx, "paypal."+op)
	defer telemetry.EndSpan(span, &err)

	policy := a.config.Retry
	started := a.now()

	for n := 1; ; n++ {
		err = attempt(ctx)
		if err == nil {
			break
		}
		transient, retryAfter := retryable(err)
		if !transient || n >= policy.MaxAttempts {
			break
		}

		wait := policy.Backoff(n, retryAfter)
		a.metrics.RecordGatewayRetry(ctx, op)
		a.logger.Warn("Retrying gateway call",
			zap.String("operation", op),
			zap.Int("attempt", n),
			zap.Duration("wait", wait),
			zap.Error(err))
		if sleepErr := a.sleep(ctx, wait); sleepErr != nil {
			err = &transportError{err: sleepErr}
			break
		}
	}
	a.metrics.RecordGatewayCall(ctx, op, a.now().Sub(started), err)

	if err == nil {
		return nil
	}
	if transient, _ := retryable(err); transient {
		a.logger.Error("Gateway unavailable", zap.String("operation", op), zap.Error(err))
		return billing.ErrGatewayUnavailable.WithCause(err)
	}
	a.logger.Warn("Gateway rejected request", zap.String("operation", op), zap.Error(err))
	return billing.ErrGatewayRejected.WithCause(err)
}

// doJSON performs one authenticated attempt
func (a *PayPalAdapter) doJSON(ctx context.Context, op, method, path string, in any, requestID string, out any) error {
	token, err := a.token(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("paypal: failed to encode %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.config.APIBaseURL()+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("paypal: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Prefer", "return=representation")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	respBody, err := a.send(op, req)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
			// Token revoked early; the next attempt fetches a fresh one
			a.invalidateToken()
			se.StatusCode = http.StatusServiceUnavailable
		}
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("paypal: failed to decode %s response: %w", op, err)
	}
	return nil
}

// token returns a cached access token, fetching a new one when needed
func (a *PayPalAdapter) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && a.now().Before(a.tokenExpiry) {
		return a.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.APIBaseURL()+paypalTokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("paypal: failed to create token request: %w", err)
	}
	req.SetBasicAuth(a.config.ClientID, a.config.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := a.send("oauth_token", req)
	if err != nil {
		return "", err
	}
	var tr paypalTokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return "", fmt.Errorf("paypal: malformed token response")
	}

	a.accessToken = tr.AccessToken
	lifetime := time.Duration(tr.ExpiresIn) * time.Second
	if lifetime > tokenSkew {
		lifetime -= tokenSkew
	}
	a.tokenExpiry = a.now().Add(lifetime)
	return a.accessToken, nil
}

func (a *PayPalAdapter) invalidateToken() {
	a.mu.Lock()
	a.accessToken = ""
	a.mu.Unlock()
}

// send executes req and returns the body of a 2xx response
func (a *PayPalAdapter) send(op string, req *http.Request) ([]byte, error) {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, &transportError{err: ctxErr}
		}
		return nil, &transportError{err: fmt.Errorf("paypal %s: %w", op, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("paypal %s: failed to read response: %w", op, err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	se := &StatusError{
		Op:         op,
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), a.now()),
	}
	var errResp paypalErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		se.Name = firstNonEmpty(errResp.Name, errResp.Error)
		se.Message = firstNonEmpty(errResp.Message, errResp.ErrorDescription)
		se.DebugID = errResp.DebugID
	}
	return nil, se
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
