package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/stallmarket/backend/internal/infrastructure/config"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"github.com/stallmarket/backend/internal/infrastructure/persistence"
	"github.com/stallmarket/backend/internal/infrastructure/telemetry"
	"github.com/stallmarket/backend/internal/interfaces/http/middleware"
	"github.com/stallmarket/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	baseLog, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()

	tracerProvider, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, cfg.Telemetry, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, cfg.Telemetry, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	log := loggerProvider.Bridge(baseLog, cfg.Telemetry.ServiceName, logger.ParseLevel(cfg.Log.Level))
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting stall-market billing",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("gateway_mode", cfg.Gateway.Mode),
	)

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	meter := meterProvider.Meter(cfg.Telemetry.ServiceName)
	if err := telemetry.InstrumentDB(db.DB, cfg.Telemetry, meter, log); err != nil {
		log.Fatal("Failed to instrument database", zap.Error(err))
	}

	app, err := wire(ctx, cfg, db, meter, log)
	if err != nil {
		log.Fatal("Failed to wire billing services", zap.Error(err))
	}
	defer app.close()

	engine, err := router.NewEngine(router.EngineConfig{
		Logger: log,
		Meter:  meter,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     tracerProvider.IsEnabled(),
		},
		Auth:            app.vendorAuth,
		BootstrapRunner: app.bootstrap,
		Handlers:        app.handlers,
		MaxBodySize:     cfg.HTTP.MaxBodySize,
		TrustedProxies:  cfg.HTTP.TrustedProxies,
	})
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	if app.sweepTrigger != nil {
		if err := app.sweepTrigger.Start(ctx); err != nil {
			log.Fatal("Failed to start overdue sweep", zap.Error(err))
		}
	}
	if app.metrics != nil {
		app.metrics.StartPeriodicCollection(ctx, 0)
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if app.sweepTrigger != nil {
		if err := app.sweepTrigger.Stop(shutdownCtx); err != nil {
			log.Warn("Overdue sweep did not stop cleanly", zap.Error(err))
		}
	}
	if app.metrics != nil {
		app.metrics.Stop()
	}
	for name, shutdown := range map[string]func(context.Context) error{
		"tracer": tracerProvider.Shutdown,
		"meter":  meterProvider.Shutdown,
		"logger": loggerProvider.Shutdown,
	} {
		if err := shutdown(shutdownCtx); err != nil {
			log.Warn("Telemetry provider shutdown failed", zap.String("provider", name), zap.Error(err))
		}
	}

	log.Info("Server exited gracefully")
}
