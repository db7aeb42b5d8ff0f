package dto

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stallmarket/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind shared.ErrorKind
		want int
	}{
		{shared.KindValidation, http.StatusBadRequest},
		{shared.KindAuthorization, http.StatusForbidden},
		{shared.KindNotFound, http.StatusNotFound},
		{shared.KindStateConflict, http.StatusConflict},
		{shared.KindIntegrity, http.StatusUnprocessableEntity},
		{shared.KindTransientGateway, http.StatusServiceUnavailable},
		{shared.KindPermanentGateway, http.StatusBadGateway},
		{shared.KindInternal, http.StatusInternalServerError},
		{shared.ErrorKind("something_else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForKind(tt.kind))
		})
	}
}

func TestErrorResponseShape(t *testing.T) {
	resp := NewErrorResponse("GRACE_EXPIRED", "Grace period has ended", "req-1").
		WithRetryURL("/vendor/invoices/abc")

	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "/vendor/invoices/abc", body["retry_url"])
	errInfo := body["error"].(map[string]any)
	assert.Equal(t, "GRACE_EXPIRED", errInfo["code"])
	assert.Equal(t, "req-1", errInfo["request_id"])
	assert.NotContains(t, body, "data")
}
