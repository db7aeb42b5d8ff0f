package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appbilling "github.com/stallmarket/backend/internal/application/billing"
	"github.com/stallmarket/backend/internal/interfaces/http/dto"
	"github.com/stallmarket/backend/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockWebhooks struct{ mock.Mock }

func (m *mockWebhooks) Handle(ctx context.Context, raw []byte, headers appbilling.WebhookHeaders) (*appbilling.WebhookResult, error) {
	args := m.Called(ctx, raw, headers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appbilling.WebhookResult), args.Error(1)
}

func gatewayHeaders() map[string]string {
	return map[string]string{
		HeaderTransmissionID:   "tx-1",
		HeaderTransmissionTime: "2024-03-03T10:00:00Z",
		HeaderCertURL:          "https://api.sandbox.paypal.com/cert",
		HeaderAuthAlgo:         "SHA256withRSA",
		HeaderTransmissionSig:  "sig",
	}
}

func TestWebhookHandler_Receive(t *testing.T) {
	payload := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{}}`)

	tests := []struct {
		name    string
		result  *appbilling.WebhookResult
		err     error
		status  int
		errCode string
	}{
		{"credited", &appbilling.WebhookResult{StatusCode: http.StatusOK, EventID: "WH-1", Outcome: appbilling.WebhookCredited}, nil, http.StatusOK, ""},
		{"duplicate acknowledged", &appbilling.WebhookResult{StatusCode: http.StatusOK, EventID: "WH-1", Outcome: appbilling.WebhookDuplicate}, nil, http.StatusOK, ""},
		{"bad signature", &appbilling.WebhookResult{StatusCode: http.StatusForbidden}, errors.New("signature rejected"), http.StatusForbidden, ErrCodeInvalidSignature},
		{"malformed", &appbilling.WebhookResult{StatusCode: http.StatusBadRequest}, errors.New("bad envelope"), http.StatusBadRequest, ErrCodeWebhookRejected},
		{"redelivery wanted", &appbilling.WebhookResult{StatusCode: http.StatusInternalServerError}, errors.New("db down"), http.StatusInternalServerError, dto.ErrCodeInternal},
		{"no result", nil, errors.New("boom"), http.StatusInternalServerError, dto.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &mockWebhooks{}
			processor.On("Handle", mock.Anything, payload, appbilling.WebhookHeaders{
				TransmissionID:   "tx-1",
				TransmissionTime: "2024-03-03T10:00:00Z",
				CertURL:          "https://api.sandbox.paypal.com/cert",
				AuthAlgo:         "SHA256withRSA",
				TransmissionSig:  "sig",
			}).Return(tt.result, tt.err)

			h := NewWebhookHandler(processor, nil)
			engine := newTestEngine(uuid.Nil, func(r *gin.Engine) {
				r.POST("/webhooks/gateway", h.Receive)
			})

			w := testutil.Perform(t, engine, http.MethodPost, "/webhooks/gateway", payload, gatewayHeaders())

			if tt.errCode == "" {
				require.Equal(t, tt.status, w.Code)
				data := testutil.AssertSuccessResponse(t, w)
				assert.Equal(t, tt.result.Outcome, data["outcome"])
			} else {
				testutil.AssertErrorResponse(t, w, tt.status, tt.errCode)
				assert.NotContains(t, w.Body.String(), tt.err.Error())
			}
			processor.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_UnprefixedTransmissionHeaders(t *testing.T) {
	payload := []byte(`{"id":"WH-2","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{}}`)
	want := appbilling.WebhookHeaders{
		TransmissionID:   "tx-2",
		TransmissionTime: "2024-03-03T10:00:00Z",
		CertURL:          "https://api.sandbox.paypal.com/cert",
		AuthAlgo:         "SHA256withRSA",
		TransmissionSig:  "sig-2",
	}

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{
			name: "bare names",
			headers: map[string]string{
				"transmission-id":   "tx-2",
				"transmission-time": "2024-03-03T10:00:00Z",
				"cert-url":          "https://api.sandbox.paypal.com/cert",
				"auth-algo":         "SHA256withRSA",
				"transmission-sig":  "sig-2",
			},
		},
		{
			name: "prefixed name wins",
			headers: map[string]string{
				HeaderTransmissionID:  "tx-2",
				"transmission-id":     "tx-ignored",
				"transmission-time":   "2024-03-03T10:00:00Z",
				HeaderCertURL:         "https://api.sandbox.paypal.com/cert",
				"auth-algo":           "SHA256withRSA",
				HeaderTransmissionSig: "sig-2",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &mockWebhooks{}
			processor.On("Handle", mock.Anything, payload, want).
				Return(&appbilling.WebhookResult{StatusCode: http.StatusOK, EventID: "WH-2", Outcome: appbilling.WebhookCredited}, nil)

			h := NewWebhookHandler(processor, nil)
			engine := newTestEngine(uuid.Nil, func(r *gin.Engine) {
				r.POST("/webhooks/gateway", h.Receive)
			})

			w := testutil.Perform(t, engine, http.MethodPost, "/webhooks/gateway", payload, tt.headers)

			require.Equal(t, http.StatusOK, w.Code)
			data := testutil.AssertSuccessResponse(t, w)
			assert.Equal(t, appbilling.WebhookCredited, data["outcome"])
			processor.AssertExpectations(t)
		})
	}
}
