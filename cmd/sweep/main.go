// Command sweep marks unpaid invoices past their due date as overdue once and
// exits. It is meant for cron or a Kubernetes CronJob when the server's
// in-process sweep is disabled.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	appbilling "github.com/stallmarket/backend/internal/application/billing"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/config"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"github.com/stallmarket/backend/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

func main() {
	var (
		asOf    string
		timeout time.Duration
	)
	flag.StringVar(&asOf, "date", "", "UTC day to sweep as of, YYYY-MM-DD (default: today)")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "Abort the sweep after this long")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	day := time.Now().UTC()
	if asOf != "" {
		day, err = time.Parse(time.DateOnly, asOf)
		if err != nil {
			log.Fatal("Invalid -date", zap.String("value", asOf), zap.Error(err))
		}
	}

	db, err := persistence.NewDatabase(&cfg.Database,
		logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level)))
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	sweep := appbilling.NewOverdueSweep(persistence.NewGormInvoiceRepository(db.DB), billing.SystemClock{}, nil, log)
	n, err := sweep.MarkOverdue(ctx, day)
	if err != nil {
		log.Fatal("Overdue sweep failed", zap.Error(err))
	}
	log.Info("Overdue sweep finished",
		zap.String("as_of", day.Format(time.DateOnly)),
		zap.Int64("invoices_marked", n),
	)
}
