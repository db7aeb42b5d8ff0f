package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// messageWriter is the subset of *kafka.Writer the publisher needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NotificationEvent is the payload written to the notification topic
type NotificationEvent struct {
	EventID   string     `json:"event_id"`
	VendorID  uuid.UUID  `json:"vendor_id"`
	Kind      string     `json:"kind"`
	Subject   string     `json:"subject"`
	Body      string     `json:"body"`
	InvoiceID *uuid.UUID `json:"invoice_id,omitempty"`
	LeaseID   *uuid.UUID `json:"lease_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// AuditEvent is the payload written to the audit topic
type AuditEvent struct {
	EventID    string         `json:"event_id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	At         time.Time      `json:"at"`
	Details    map[string]any `json:"details,omitempty"`
}

// KafkaPublisher delivers vendor notifications and audit entries to Kafka.
// Notifications are keyed by vendor and audit entries by entity so each
// stream stays ordered per key.
type KafkaPublisher struct {
	writer            messageWriter
	notificationTopic string
	auditTopic        string
	logger            *zap.Logger
	now               func() time.Time
}

// NewKafkaPublisher creates a publisher writing to the given brokers.
// The writer has no default topic; each message names its own.
func NewKafkaPublisher(brokers []string, notificationTopic, auditTopic string, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		AllowAutoTopicCreation: false,
		Logger:                 kafka.LoggerFunc(func(msg string, args ...interface{}) { log.Debug(fmt.Sprintf(msg, args...)) }),
		ErrorLogger:            kafka.LoggerFunc(func(msg string, args ...interface{}) { log.Error(fmt.Sprintf(msg, args...)) }),
	}
	return newKafkaPublisher(writer, notificationTopic, auditTopic, log)
}

func newKafkaPublisher(writer messageWriter, notificationTopic, auditTopic string, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer:            writer,
		notificationTopic: notificationTopic,
		auditTopic:        auditTopic,
		logger:            log,
		now:               time.Now,
	}
}

// Notify implements billing.Notifier
func (p *KafkaPublisher) Notify(ctx context.Context, vendorID uuid.UUID, msg billing.Message) error {
	event := NotificationEvent{
		EventID:   uuid.NewString(),
		VendorID:  vendorID,
		Kind:      msg.Kind,
		Subject:   msg.Subject,
		Body:      msg.Body,
		InvoiceID: msg.InvoiceID,
		LeaseID:   msg.LeaseID,
		CreatedAt: p.now().UTC(),
	}
	return p.publish(ctx, p.notificationTopic, vendorID.String(), event, msg.Kind)
}

// Audit implements billing.Auditor
func (p *KafkaPublisher) Audit(ctx context.Context, entry billing.AuditEntry) error {
	event := AuditEvent{
		EventID:    uuid.NewString(),
		Actor:      entry.Actor,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		At:         entry.At.UTC(),
		Details:    entry.Details,
	}
	return p.publish(ctx, p.auditTopic, entry.EntityType+":"+entry.EntityID, event, entry.Action)
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, key string, payload any, eventType string) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", eventType, err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if requestID := logger.GetRequestID(ctx); requestID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "request_id", Value: []byte(requestID)})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", eventType, topic, err)
	}

	logger.For(ctx, p.logger).Debug("published event",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.String("event_type", eventType),
	)
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}

var (
	_ billing.Notifier = (*KafkaPublisher)(nil)
	_ billing.Auditor  = (*KafkaPublisher)(nil)
)
