package router

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"github.com/stallmarket/backend/internal/interfaces/http/handler"
	"github.com/stallmarket/backend/internal/interfaces/http/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Handlers are the endpoints of the billing API
type Handlers struct {
	Payments  *handler.PaymentHandler
	Webhooks  *handler.WebhookHandler
	Bootstrap *handler.BootstrapHandler
	Health    *handler.HealthHandler
}

// EngineConfig wires the billing API. Meter and BootstrapRunner are optional.
type EngineConfig struct {
	Logger          *zap.Logger
	Meter           metric.Meter
	Tracing         middleware.TracingConfig
	Auth            middleware.VendorAuthConfig
	BootstrapRunner middleware.BootstrapRunner
	Handlers        Handlers
	MaxBodySize     int64
	TrustedProxies  []string
}

// NewEngine builds the gin engine with the global middleware chain, the
// unversioned health probe and the /api/v1 billing routes
func NewEngine(cfg EngineConfig) (*gin.Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	engine.Use(
		middleware.RequestID(),
		logger.Recovery(log),
		logger.GinMiddleware(log),
		middleware.Secure(),
		middleware.Tracing(cfg.Tracing),
		middleware.SpanErrorMarker(),
		middleware.HTTPMetrics(cfg.Meter),
	)
	if cfg.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}

	if cfg.Handlers.Health != nil {
		engine.GET("/health", cfg.Handlers.Health.Check)
	}

	r := NewRouter(engine)
	for _, group := range billingGroups(cfg, log) {
		r.Register(group)
	}
	r.Setup()
	return engine, nil
}

// billingGroups defines the vendor and gateway route groups
func billingGroups(cfg EngineConfig, log *zap.Logger) []*DomainGroup {
	auth := cfg.Auth
	if auth.Logger == nil {
		auth.Logger = log
	}

	vendor := NewDomainGroup("vendor", "/vendor").Use(
		middleware.VendorAuth(auth),
		middleware.TracingAttributeInjector(),
		middleware.BillingBootstrap(cfg.BootstrapRunner, log),
	)
	if h := cfg.Handlers.Payments; h != nil {
		vendor.POST("/invoices/:id/orders", h.CreateOrder)
		vendor.GET("/payments/:order_id/confirm", h.Confirm)
		vendor.POST("/payments/:order_id/capture", h.Capture)
	}

	// The explicit trigger skips the page-view middleware, which would
	// otherwise claim the throttle window first.
	vendorBilling := NewDomainGroup("vendor-billing", "/vendor/billing").Use(
		middleware.VendorAuth(auth),
		middleware.TracingAttributeInjector(),
	)
	if h := cfg.Handlers.Bootstrap; h != nil {
		vendorBilling.POST("/bootstrap", h.Run)
	}

	webhooks := NewDomainGroup("webhooks", "/webhooks")
	if h := cfg.Handlers.Webhooks; h != nil {
		webhooks.POST("/gateway", h.Receive)
	}

	return []*DomainGroup{vendor, vendorBilling, webhooks}
}
