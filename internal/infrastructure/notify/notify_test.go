package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafkaPublisher_Notify(t *testing.T) {
	w := &recordingWriter{}
	p := newKafkaPublisher(w, "notifications", "audit", zap.NewNop())
	fixed := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	vendorID := uuid.New()
	invoiceID := uuid.New()
	ctx := logger.WithRequestID(context.Background(), "req-1")

	err := p.Notify(ctx, vendorID, billing.Message{
		Kind:      billing.NotifyReminder,
		Subject:   "Rent due soon",
		Body:      "Your rent of $120.00 is due on 1 March.",
		InvoiceID: &invoiceID,
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "notifications", msg.Topic)
	assert.Equal(t, vendorID.String(), string(msg.Key))
	assert.Equal(t, billing.NotifyReminder, header(msg, "event_type"))
	assert.Equal(t, "req-1", header(msg, "request_id"))

	var event NotificationEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, vendorID, event.VendorID)
	assert.Equal(t, "Rent due soon", event.Subject)
	require.NotNil(t, event.InvoiceID)
	assert.Equal(t, invoiceID, *event.InvoiceID)
	assert.Nil(t, event.LeaseID)
	assert.True(t, fixed.Equal(event.CreatedAt))
	assert.NotEmpty(t, event.EventID)
}

func TestKafkaPublisher_Audit(t *testing.T) {
	w := &recordingWriter{}
	p := newKafkaPublisher(w, "notifications", "audit", zap.NewNop())
	leaseID := uuid.NewString()

	err := p.Audit(context.Background(), billing.AuditEntry{
		Actor:      billing.SystemActor,
		Action:     "lease.terminated",
		EntityType: "lease",
		EntityID:   leaseID,
		At:         time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC),
		Details:    map[string]any{"reason": "unpaid"},
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "audit", msg.Topic)
	assert.Equal(t, "lease:"+leaseID, string(msg.Key))
	assert.Empty(t, header(msg, "request_id"))

	var event AuditEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, "lease.terminated", event.Action)
	assert.Equal(t, "unpaid", event.Details["reason"])
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	p := newKafkaPublisher(w, "notifications", "audit", zap.NewNop())

	err := p.Notify(context.Background(), uuid.New(), billing.Message{Kind: billing.NotifyPaymentReceived})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &recordingWriter{}
	p := newKafkaPublisher(w, "n", "a", zap.NewNop())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))
	leaseID := uuid.New()

	require.NoError(t, sink.Notify(context.Background(), uuid.New(), billing.Message{
		Kind:    billing.NotifyLeaseTerminated,
		Subject: "Lease terminated",
		LeaseID: &leaseID,
	}))
	require.NoError(t, sink.Audit(context.Background(), billing.AuditEntry{
		Actor:  billing.SystemActor,
		Action: "lease.terminated",
	}))

	entries := logs.FilterMessage("vendor notification").All()
	require.Len(t, entries, 1)
	assert.Equal(t, leaseID.String(), entries[0].ContextMap()["lease_id"])
	assert.Equal(t, 1, logs.FilterMessage("audit").Len())
}
