// Package handler holds the gin handlers of the billing API.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stallmarket/backend/internal/domain/shared"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"github.com/stallmarket/backend/internal/interfaces/http/dto"
	"github.com/stallmarket/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// internalMessage replaces the message of errors that are not domain errors
const internalMessage = "An unexpected error occurred"

// BaseHandler provides common handler utilities
type BaseHandler struct {
	logger *zap.Logger
}

func newBaseHandler(log *zap.Logger) BaseHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return BaseHandler{logger: log}
}

// Success sends a 200 response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// BadRequest sends a 400 response with a transport error code
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, dto.NewErrorResponse(dto.ErrCodeBadRequest, message, middleware.GetRequestID(c)))
}

// HandleError sends err as an error response. Domain errors keep their code
// and message; anything else is reported as an internal error without its
// text. retryURL, when set, points the client back at the payment page.
func (h *BaseHandler) HandleError(c *gin.Context, err error, retryURL string) {
	if err == nil {
		return
	}

	kind := shared.KindOf(err)
	status := dto.StatusForKind(kind)
	code, message := shared.CodeOf(err), internalMessage
	if de := domainError(err); de != nil && kind != shared.KindInternal {
		message = de.Message
	}

	log := logger.For(c.Request.Context(), h.logger).With(
		zap.String("code", code),
		zap.Int("status", status),
		zap.Error(err),
	)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed")
	} else {
		log.Info("Request rejected")
	}

	resp := dto.NewErrorResponse(code, message, middleware.GetRequestID(c))
	if retryURL != "" {
		resp = resp.WithRetryURL(retryURL)
	}
	c.JSON(status, resp)
}

func domainError(err error) *shared.DomainError {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de
	}
	return nil
}

// vendorID returns the authenticated vendor. VendorAuth guarantees it on
// vendor routes, so a miss is answered as unauthenticated.
func vendorID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.GetVendorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, dto.NewErrorResponse(dto.ErrCodeUnauthorized, "Authentication required", middleware.GetRequestID(c)))
	}
	return id, ok
}
