package telemetry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stallmarket/backend/internal/infrastructure/config"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type dbContextKey struct{}

// DBQueryPlugin is a GORM plugin recording query duration and errors and
// flagging statements slower than a threshold.
type DBQueryPlugin struct {
	slowThreshold time.Duration
	logger        *zap.Logger
	duration      *Histogram
	errors        *Counter
	now           func() time.Time
}

// NewDBQueryPlugin creates the plugin. A nil meter disables the instruments
// but keeps slow query detection.
func NewDBQueryPlugin(meter metric.Meter, slowThreshold time.Duration, logger *zap.Logger) (*DBQueryPlugin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &DBQueryPlugin{
		slowThreshold: slowThreshold,
		logger:        logger.Named("db"),
		now:           time.Now,
	}
	if meter == nil {
		return p, nil
	}

	var err error
	p.duration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Database query duration",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	p.errors, err = NewCounter(meter, "db_query_errors_total", "Failed database queries", "{errors}")
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Name implements gorm.Plugin.
func (p *DBQueryPlugin) Name() string {
	return "stall_db_query"
}

// Initialize implements gorm.Plugin.
func (p *DBQueryPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	return errors.Join(
		cb.Create().Before("gorm:create").Register("stall_db:before_create", p.before),
		cb.Query().Before("gorm:query").Register("stall_db:before_query", p.before),
		cb.Update().Before("gorm:update").Register("stall_db:before_update", p.before),
		cb.Delete().Before("gorm:delete").Register("stall_db:before_delete", p.before),
		cb.Row().Before("gorm:row").Register("stall_db:before_row", p.before),
		cb.Raw().Before("gorm:raw").Register("stall_db:before_raw", p.before),

		cb.Create().After("gorm:create").Register("stall_db:after_create", p.after("INSERT")),
		cb.Query().After("gorm:query").Register("stall_db:after_query", p.after("SELECT")),
		cb.Update().After("gorm:update").Register("stall_db:after_update", p.after("UPDATE")),
		cb.Delete().After("gorm:delete").Register("stall_db:after_delete", p.after("DELETE")),
		cb.Row().After("gorm:row").Register("stall_db:after_row", p.after("")),
		cb.Raw().After("gorm:raw").Register("stall_db:after_raw", p.after("")),
	)
}

func (p *DBQueryPlugin) before(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	db.Statement.Context = context.WithValue(ctx, dbContextKey{}, p.now())
}

func (p *DBQueryPlugin) after(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			return
		}
		start, ok := ctx.Value(dbContextKey{}).(time.Time)
		if !ok {
			return
		}
		elapsed := p.now().Sub(start)

		op := operation
		if op == "" {
			op = detectOperation(db.Statement.SQL.String())
		}
		attrs := []attribute.KeyValue{AttrDBOperation.String(op), AttrDBTable.String(db.Statement.Table)}

		if p.duration != nil {
			p.duration.RecordDuration(ctx, elapsed, attrs...)
		}
		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) && p.errors != nil {
			p.errors.Inc(ctx, attrs...)
		}

		if p.slowThreshold > 0 && elapsed > p.slowThreshold {
			span := trace.SpanFromContext(ctx)
			if span.IsRecording() {
				span.SetAttributes(
					attribute.Bool("db.slow_query", true),
					attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
				)
			}
			p.logger.Warn("Slow query",
				zap.String("operation", op),
				zap.String("table", db.Statement.Table),
				zap.Duration("elapsed", elapsed),
				zap.Duration("threshold", p.slowThreshold),
			)
		}
	}
}

func detectOperation(sql string) string {
	sql = strings.ToUpper(strings.TrimSpace(sql))
	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.HasPrefix(sql, op) {
			return op
		}
	}
	return "OTHER"
}

// InstrumentDB registers otelgorm spans when DB tracing is enabled and the
// query plugin always. Query variables never reach span attributes.
func InstrumentDB(db *gorm.DB, cfg config.TelemetryConfig, meter metric.Meter, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Enabled && cfg.DBTraceEnabled {
		if err := db.Use(otelgorm.NewPlugin(
			otelgorm.WithDBName("postgresql"),
			otelgorm.WithoutQueryVariables(),
		)); err != nil {
			return err
		}
		logger.Info("Database tracing enabled")
	}

	plugin, err := NewDBQueryPlugin(meter, cfg.DBSlowQueryThresh, logger)
	if err != nil {
		return err
	}
	return db.Use(plugin)
}
