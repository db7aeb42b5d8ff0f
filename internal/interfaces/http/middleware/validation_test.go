package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stallmarket/backend/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleValidationError(t *testing.T) {
	SetupValidator()

	router := gin.New()
	router.Use(RequestID())
	router.POST("/payments/:order_id/capture", func(c *gin.Context) {
		var req dto.CaptureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.NewSuccessResponse(req))
	})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/payments/ORDER-1/capture", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("reports fields by json name", func(t *testing.T) {
		w := post(`{"invoice_id":"not-a-uuid"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		assert.NotEmpty(t, resp.Error.RequestID)

		fields := map[string]string{}
		for _, d := range resp.Error.Details {
			fields[d.Field] = d.Message
		}
		assert.Equal(t, "Invalid UUID format", fields["invoice_id"])
		assert.Equal(t, "This field is required", fields["confirmation_token"])
	})

	t.Run("malformed json has no details", func(t *testing.T) {
		w := post(`{"invoice_id":`)
		require.Equal(t, http.StatusBadRequest, w.Code)

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Empty(t, resp.Error.Details)
	})

	t.Run("valid body passes", func(t *testing.T) {
		w := post(`{"invoice_id":"6f1c2f9e-7f0a-4b43-9d3b-1c2d3e4f5a6b","confirmation_token":"tok"}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
