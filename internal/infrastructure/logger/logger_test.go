package logger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestNew(t *testing.T) {
	t.Run("writes to file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		l, err := New(&Config{Level: "debug", Format: "json", Output: path})
		require.NoError(t, err)
		l.Info("hello")
		require.NoError(t, l.Sync())
	})

	t.Run("tees into extra cores", func(t *testing.T) {
		core, recorded := observer.New(zapcore.InfoLevel)
		l, err := New(&Config{Level: "info", Format: "json", Output: "stderr"}, core)
		require.NoError(t, err)
		l.Info("mirrored")
		assert.Equal(t, 1, recorded.FilterMessage("mirrored").Len())
	})

	t.Run("unwritable file is an error", func(t *testing.T) {
		_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "app.log")})
		assert.Error(t, err)
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("nonsense"))
}

func TestL_CorrelationFields(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})

	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = WithContext(ctx, base)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithVendorID(ctx, "vendor-9")

	L(ctx).Info("correlated")

	fields := findEntry(t, recorded, "correlated").ContextMap()
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", fields["span_id"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "vendor-9", fields["vendor_id"])
}

func TestL_WithoutLoggerIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		L(context.Background()).Info("dropped")
		For(context.Background(), nil).Info("dropped")
	})
}

func TestGormLogger_Trace(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), gormlogger.Info, WithSlowThreshold(10*time.Millisecond))
	ctx := WithRequestID(context.Background(), "req-7")
	sql := func() (string, int64) { return "SELECT 1", 1 }

	gl.Trace(ctx, time.Now(), sql, nil)
	gl.Trace(ctx, time.Now().Add(-time.Second), sql, nil)
	gl.Trace(ctx, time.Now(), sql, gormlogger.ErrRecordNotFound)
	gl.Trace(ctx, time.Now(), sql, gorm.ErrDuplicatedKey)
	gl.Trace(ctx, time.Now(), sql, errors.New("deadlock detected"))

	assert.Equal(t, 1, recorded.FilterMessage("SQL query").Len())
	assert.Equal(t, 1, recorded.FilterMessage("Slow SQL").Len())
	assert.Equal(t, 2, recorded.FilterMessage("SQL expected error").Len())
	errs := recorded.FilterMessage("SQL error").All()
	require.Len(t, errs, 1, "misses and lost insert races are not errors")
	assert.Equal(t, "req-7", errs[0].ContextMap()["request_id"])

	silent := gl.LogMode(gormlogger.Silent)
	silent.Trace(ctx, time.Now(), sql, errors.New("ignored"))
	assert.Len(t, recorded.FilterMessage("SQL error").All(), 1)
}

func TestGormLogger_WarnLevelSkipsRendering(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), gormlogger.Warn, WithExpectedErrors(context.Canceled))
	rendered := 0
	sql := func() (string, int64) { rendered++; return "SELECT 1", 0 }

	gl.Trace(context.Background(), time.Now(), sql, nil)
	gl.Trace(context.Background(), time.Now(), sql, context.Canceled)
	assert.Zero(t, rendered)
	assert.Zero(t, recorded.Len())
}
