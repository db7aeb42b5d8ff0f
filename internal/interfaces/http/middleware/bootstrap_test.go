package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appbilling "github.com/stallmarket/backend/internal/application/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubRunner struct {
	calls []uuid.UUID
	err   error
}

func (r *stubRunner) Run(_ context.Context, vendorID uuid.UUID) (*appbilling.BootstrapResult, error) {
	r.calls = append(r.calls, vendorID)
	return &appbilling.BootstrapResult{}, r.err
}

func bootstrapRouter(runner BootstrapRunner, log *zap.Logger, vendorID *uuid.UUID) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if vendorID != nil {
			c.Set(VendorIDKey, *vendorID)
		}
		c.Next()
	})
	router.Use(BillingBootstrap(runner, log))
	router.GET("/vendor/invoices", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestBillingBootstrap(t *testing.T) {
	vendorID := uuid.New()

	t.Run("runs for the authenticated vendor", func(t *testing.T) {
		runner := &stubRunner{}
		w := httptest.NewRecorder()
		bootstrapRouter(runner, nil, &vendorID).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/vendor/invoices", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []uuid.UUID{vendorID}, runner.calls)
	})

	t.Run("failure is logged and the request proceeds", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		runner := &stubRunner{err: errors.New("throttle store down")}
		w := httptest.NewRecorder()
		bootstrapRouter(runner, zap.New(core), &vendorID).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/vendor/invoices", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, 1, logs.FilterMessage("Billing bootstrap failed").Len())
	})

	t.Run("skipped without a vendor", func(t *testing.T) {
		runner := &stubRunner{}
		w := httptest.NewRecorder()
		bootstrapRouter(runner, nil, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/vendor/invoices", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, runner.calls)
	})
}
