package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/stallmarket/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// BootstrapHandler lets a vendor page trigger the billing pass explicitly
type BootstrapHandler struct {
	BaseHandler
	runner middleware.BootstrapRunner
}

// NewBootstrapHandler creates a new BootstrapHandler
func NewBootstrapHandler(runner middleware.BootstrapRunner, log *zap.Logger) *BootstrapHandler {
	return &BootstrapHandler{BaseHandler: newBaseHandler(log), runner: runner}
}

// Run handles POST /vendor/billing/bootstrap. A pass that ran with stage
// failures still answers 200 with what it did; the failures are logged.
func (h *BootstrapHandler) Run(c *gin.Context) {
	vendor, ok := vendorID(c)
	if !ok {
		return
	}

	result, err := h.runner.Run(c.Request.Context(), vendor)
	if result == nil {
		h.HandleError(c, err, "")
		return
	}
	if err != nil {
		h.logger.Warn("Billing bootstrap finished with errors",
			zap.String("vendor_id", vendor.String()),
			zap.Error(err),
		)
	}
	h.Success(c, result)
}
