package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appbilling "github.com/stallmarket/backend/internal/application/billing"
	"github.com/stallmarket/backend/internal/interfaces/http/middleware"
	"github.com/stretchr/testify/mock"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

type mockOrders struct{ mock.Mock }

func (m *mockOrders) CreateOrder(ctx context.Context, cmd appbilling.CreateOrderCommand) (*appbilling.OrderResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appbilling.OrderResult), args.Error(1)
}

type mockCaptures struct{ mock.Mock }

func (m *mockCaptures) Confirm(ctx context.Context, vendorID uuid.UUID, orderID string) (*appbilling.ConfirmView, error) {
	args := m.Called(ctx, vendorID, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appbilling.ConfirmView), args.Error(1)
}

func (m *mockCaptures) Capture(ctx context.Context, cmd appbilling.CaptureCommand) (*appbilling.CaptureResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appbilling.CaptureResult), args.Error(1)
}

// asVendor stands in for VendorAuth
func asVendor(vendorID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		if vendorID != uuid.Nil {
			c.Set(middleware.VendorIDKey, vendorID)
		}
		c.Next()
	}
}

func newTestEngine(vendorID uuid.UUID, register func(r *gin.Engine)) http.Handler {
	r := gin.New()
	r.Use(middleware.RequestID(), asVendor(vendorID))
	register(r)
	return r
}
