package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	appbilling "github.com/stallmarket/backend/internal/application/billing"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/auth"
	"github.com/stallmarket/backend/internal/infrastructure/cache"
	"github.com/stallmarket/backend/internal/infrastructure/config"
	"github.com/stallmarket/backend/internal/infrastructure/idgen"
	"github.com/stallmarket/backend/internal/infrastructure/notify"
	"github.com/stallmarket/backend/internal/infrastructure/payment"
	"github.com/stallmarket/backend/internal/infrastructure/persistence"
	"github.com/stallmarket/backend/internal/infrastructure/scheduler"
	"github.com/stallmarket/backend/internal/infrastructure/storage"
	"github.com/stallmarket/backend/internal/infrastructure/telemetry"
	"github.com/stallmarket/backend/internal/interfaces/http/handler"
	"github.com/stallmarket/backend/internal/interfaces/http/middleware"
	"github.com/stallmarket/backend/internal/interfaces/http/router"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// application holds the wired billing services and the resources main must release
type application struct {
	vendorAuth   middleware.VendorAuthConfig
	bootstrap    *appbilling.BillingBootstrap
	handlers     router.Handlers
	metrics      *telemetry.BillingMetrics
	sweepTrigger *scheduler.DailyTrigger

	redisClient *redis.Client
	publisher   *notify.KafkaPublisher
	log         *zap.Logger
}

// close releases the broker and cache connections
func (a *application) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("Error closing Kafka publisher", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Error closing Redis client", zap.Error(err))
		}
	}
}

// wire builds repositories, adapters and services from configuration
func wire(ctx context.Context, cfg *config.Config, db *persistence.Database, meter metric.Meter, log *zap.Logger) (*application, error) {
	app := &application{log: log}
	policy := cfg.Billing.Policy()
	clock := billing.SystemClock{}

	// Repositories
	leases := persistence.NewGormLeaseRepository(db.DB)
	vendors := persistence.NewGormVendorDirectory(db.DB)
	invoices := persistence.NewGormInvoiceRepository(db.DB)
	ledger := persistence.NewGormPendingPaymentLedger(db.DB)
	audits := persistence.NewGormCaptureAuditRepository(db.DB)
	pins := persistence.NewGormOrderPinRepository(db.DB)
	reminders := persistence.NewGormReminderLogRepository(db.DB)
	events := persistence.NewGormWebhookEventRepository(db.DB)
	txScope := persistence.NewGormBillingTransactionScope(db.DB)

	billingMetrics, err := telemetry.NewBillingMetrics(telemetry.BillingMetricsConfig{
		Meter:         meter,
		Logger:        log,
		StatsProvider: telemetry.NewGormBillingStatsProvider(db.DB),
	})
	if err != nil {
		return nil, fmt.Errorf("billing metrics: %w", err)
	}
	app.metrics = billingMetrics

	// Throttle store and token revocation share the Redis client when configured
	throttle, redisClient, err := cache.NewThrottleStoreFactory(cfg.Billing, cfg.Redis,
		cache.WithLogger(log),
		cache.WithFallback(persistence.NewGormThrottleStore(db.DB)),
	).CreateStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("throttle store: %w", err)
	}
	app.redisClient = redisClient

	var revocations auth.RevocationList = auth.NewInMemoryRevocationList()
	if redisClient != nil {
		revocations = auth.NewRedisRevocationList(redisClient)
	}
	app.vendorAuth = middleware.VendorAuthConfig{
		JWTService:  auth.NewJWTService(cfg.Auth),
		Revocations: revocations,
		Logger:      log,
	}

	var (
		notifier billing.Notifier
		auditor  billing.Auditor
	)
	if cfg.Kafka.Enabled {
		app.publisher = notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic, cfg.Kafka.AuditTopic, log)
		notifier, auditor = app.publisher, app.publisher
		log.Info("Publishing notifications to Kafka", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		sink := notify.NewLogSink(log)
		notifier, auditor = sink, sink
	}

	var archive billing.PayloadArchive
	if cfg.Storage.Enabled {
		s3Archive, err := storage.NewS3WebhookArchive(ctx, &cfg.Storage, storage.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("webhook archive: %w", err)
		}
		if err := s3Archive.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("webhook archive bucket: %w", err)
		}
		archive = s3Archive
	}

	gateway, err := payment.NewPayPalAdapter(&payment.PayPalConfig{
		Mode:         cfg.Gateway.Mode,
		BaseURL:      cfg.Gateway.BaseURL,
		ClientID:     cfg.Gateway.ClientID,
		ClientSecret: cfg.Gateway.ClientSecret,
		WebhookID:    cfg.Gateway.WebhookID,
		ReturnURL:    cfg.Gateway.ReturnURL,
		CancelURL:    cfg.Gateway.CancelURL,
		BrandName:    cfg.Gateway.BrandName,
		Timeout:      cfg.Gateway.Timeout,
		Retry: payment.RetryPolicy{
			MaxAttempts:  cfg.Gateway.MaxAttempts,
			InitialDelay: cfg.Gateway.InitialDelay,
		},
	}, payment.WithLogger(log), payment.WithMetrics(billingMetrics))
	if err != nil {
		return nil, fmt.Errorf("payment gateway: %w", err)
	}

	receipts, err := idgen.NewReceiptGenerator(cfg.IDGen.NodeID)
	if err != nil {
		return nil, fmt.Errorf("receipt generator: %w", err)
	}
	signer, err := auth.NewConfirmationSigner(cfg.Payment.ConfirmationSecret, cfg.Auth.Issuer)
	if err != nil {
		return nil, fmt.Errorf("confirmation signer: %w", err)
	}

	// Billing services
	generator := appbilling.NewInvoiceGenerator(leases, invoices, policy, clock, billingMetrics, log)
	enforcer := appbilling.NewGraceEnforcer(leases, invoices, txScope, notifier, auditor, policy, clock, billingMetrics, log)
	reminderScheduler := appbilling.NewReminderScheduler(invoices, leases, reminders, notifier, policy, clock, billingMetrics, log)
	app.bootstrap = appbilling.NewBillingBootstrap(throttle, generator, enforcer, reminderScheduler,
		cfg.Billing.ThrottleWindow(), clock, billingMetrics, log)

	settler := appbilling.NewSettler(txScope, invoices, audits, receipts, clock)
	orders := appbilling.NewPaymentOrderService(appbilling.PaymentOrderServiceDeps{
		Invoices: invoices,
		Leases:   leases,
		Ledger:   ledger,
		Pins:     pins,
		Vendors:  vendors,
		Gateway:  gateway,
		Policy:   policy,
		Clock:    clock,
		Metrics:  billingMetrics,
		Logger:   log,
	}, appbilling.PaymentOrderServiceConfig{PinTTL: cfg.Payment.PinTTL})
	captures := appbilling.NewPaymentCaptureService(appbilling.PaymentCaptureServiceDeps{
		Invoices: invoices,
		Leases:   leases,
		Ledger:   ledger,
		Pins:     pins,
		Vendors:  vendors,
		Gateway:  gateway,
		Signer:   signer,
		Settler:  settler,
		Notifier: notifier,
		Auditor:  auditor,
		Policy:   policy,
		Clock:    clock,
		Metrics:  billingMetrics,
		Logger:   log,
	}, appbilling.PaymentCaptureServiceConfig{ConfirmationTTL: cfg.Payment.ConfirmationTTL})
	reconciler := appbilling.NewWebhookReconciler(appbilling.WebhookReconcilerDeps{
		Gateway:  gateway,
		Events:   events,
		Invoices: invoices,
		Ledger:   ledger,
		Audits:   audits,
		Pins:     pins,
		Settler:  settler,
		Archive:  archive,
		Notifier: notifier,
		Auditor:  auditor,
		Clock:    clock,
		Metrics:  billingMetrics,
		Logger:   log,
	})

	sqlDB, err := db.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("sql handle: %w", err)
	}
	app.handlers = router.Handlers{
		Payments:  handler.NewPaymentHandler(orders, captures, handler.DefaultInvoicePageURL, log),
		Webhooks:  handler.NewWebhookHandler(reconciler, log),
		Bootstrap: handler.NewBootstrapHandler(app.bootstrap, log),
		Health:    handler.NewHealthHandler(sqlDB, log),
	}

	if cfg.Sweep.Enabled {
		sweep := appbilling.NewOverdueSweep(invoices, clock, billingMetrics, log)
		trigger, err := scheduler.NewDailyTrigger(scheduler.DailyTriggerConfig{
			Name:          "overdue-sweep",
			Hour:          cfg.Sweep.Hour,
			Minute:        cfg.Sweep.Minute,
			CheckInterval: time.Minute,
			RunOnStart:    true,
		}, func(ctx context.Context) error {
			_, err := sweep.Run(ctx)
			return err
		}, log)
		if err != nil {
			return nil, fmt.Errorf("overdue sweep trigger: %w", err)
		}
		app.sweepTrigger = trigger
	}

	return app, nil
}
