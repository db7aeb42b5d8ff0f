package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReminderKind identifies which reminder rule fired
type ReminderKind string

const (
	ReminderDueDay       ReminderKind = "due_day"
	ReminderLastGraceDay ReminderKind = "last_grace_day"
)

// BeforeDueReminder is the kind for a reminder sent days before the due date
func BeforeDueReminder(days int) ReminderKind {
	return ReminderKind(fmt.Sprintf("before_due_%d", days))
}

// ReminderLog claims a (invoice, kind, day) reminder slot.
// The slot is claimed before dispatch, so a reminder goes out at most once.
type ReminderLog struct {
	InvoiceID    uuid.UUID
	Kind         ReminderKind
	ReminderDate time.Time
	SentAt       time.Time
}

// WebhookEvent is a verified gateway notification as received
type WebhookEvent struct {
	EventID     string
	EventType   string
	ResourceID  string
	Payload     []byte
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// IsProcessed reports whether the event's side effects were applied
func (e *WebhookEvent) IsProcessed() bool {
	return e.ProcessedAt != nil
}
