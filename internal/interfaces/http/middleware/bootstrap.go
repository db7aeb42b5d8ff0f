package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appbilling "github.com/stallmarket/backend/internal/application/billing"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// BootstrapRunner runs the throttled billing pass for a vendor
type BootstrapRunner interface {
	Run(ctx context.Context, vendorID uuid.UUID) (*appbilling.BootstrapResult, error)
}

// BillingBootstrap runs the vendor billing pass before the handler on every
// authenticated page view. The runner throttles itself; failures are logged
// and never fail the request. Place it after VendorAuth.
func BillingBootstrap(runner BootstrapRunner, base *zap.Logger) gin.HandlerFunc {
	if base == nil {
		base = zap.NewNop()
	}
	return func(c *gin.Context) {
		vendorID, ok := GetVendorID(c)
		if !ok || runner == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		if _, err := runner.Run(ctx, vendorID); err != nil {
			logger.For(ctx, base).Warn("Billing bootstrap failed",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
		}
		c.Next()
	}
}
