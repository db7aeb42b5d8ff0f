package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stallmarket/backend/internal/interfaces/http/dto"
	"github.com/stallmarket/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// Pinger reports database reachability
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler serves the liveness probe
type HealthHandler struct {
	BaseHandler
	db      Pinger
	timeout time.Duration
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db Pinger, log *zap.Logger) *HealthHandler {
	return &HealthHandler{BaseHandler: newBaseHandler(log), db: db, timeout: 2 * time.Second}
}

// Check handles GET /health
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Error("Database ping failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(dto.ErrCodeUnavailable, "Database unreachable", middleware.GetRequestID(c)))
		return
	}
	h.Success(c, dto.HealthResponse{Status: "ok", Database: "ok"})
}
