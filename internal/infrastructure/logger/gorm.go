package logger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger routes GORM's statement log through zap, carrying the request
// and vendor fields of the calling context
type GormLogger struct {
	logger        *zap.Logger
	logLevel      gormlogger.LogLevel
	slowThreshold time.Duration
	// expected errors are outcomes the repositories branch on, not failures
	expected []error
}

// GormLoggerOption is a function that configures a GormLogger
type GormLoggerOption func(*GormLogger)

// WithSlowThreshold sets the slow query threshold. Zero disables slow query warnings.
func WithSlowThreshold(threshold time.Duration) GormLoggerOption {
	return func(l *GormLogger) {
		l.slowThreshold = threshold
	}
}

// WithExpectedErrors adds errors that are logged at debug instead of error
func WithExpectedErrors(errs ...error) GormLoggerOption {
	return func(l *GormLogger) {
		l.expected = append(l.expected, errs...)
	}
}

// NewGormLogger creates a new GORM logger backed by zap. Record-not-found and
// duplicate-key errors are expected by default: lookups miss and
// insert-if-absent races lose as part of normal billing flow.
func NewGormLogger(zapLogger *zap.Logger, level gormlogger.LogLevel, opts ...GormLoggerOption) *GormLogger {
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	gl := &GormLogger{
		logger:        zapLogger.Named("gorm"),
		logLevel:      level,
		slowThreshold: 200 * time.Millisecond,
		expected:      []error{gormlogger.ErrRecordNotFound, gorm.ErrDuplicatedKey},
	}
	for _, opt := range opts {
		opt(gl)
	}
	return gl
}

// LogMode implements gormlogger.Interface
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.logLevel = level
	return &clone
}

// Info implements gormlogger.Interface
func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Info {
		For(ctx, l.logger).Sugar().Infof(msg, data...)
	}
}

// Warn implements gormlogger.Interface
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Warn {
		For(ctx, l.logger).Sugar().Warnf(msg, data...)
	}
}

// Error implements gormlogger.Interface
func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Error {
		For(ctx, l.logger).Sugar().Errorf(msg, data...)
	}
}

func (l *GormLogger) isExpected(err error) bool {
	for _, e := range l.expected {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// Trace implements gormlogger.Interface
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.logLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	slow := l.slowThreshold > 0 && elapsed > l.slowThreshold
	failed := err != nil && !l.isExpected(err)

	// Render the statement only when something will be written
	switch {
	case failed && l.logLevel >= gormlogger.Error:
	case slow && l.logLevel >= gormlogger.Warn:
	case l.logLevel >= gormlogger.Info:
	default:
		return
	}

	sql, rows := fc()
	log := For(ctx, l.logger)
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	}

	switch {
	case failed:
		log.Error("SQL error", append(fields, zap.Error(err))...)
	case slow:
		log.Warn("Slow SQL", append(fields, zap.Duration("threshold", l.slowThreshold))...)
	case err != nil:
		log.Debug("SQL expected error", append(fields, zap.Error(err))...)
	default:
		log.Debug("SQL query", fields...)
	}
}

// MapGormLogLevel maps the application log level to GORM's. Debug and info
// trace every statement; anything unknown keeps slow query warnings.
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
