package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"github.com/stallmarket/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ReminderResult summarises one reminder pass
type ReminderResult struct {
	Sent       int `json:"sent"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// ReminderScheduler sends due-date reminders for unpaid invoices
type ReminderScheduler struct {
	invoices  billing.InvoiceRepository
	leases    billing.LeaseRepository
	reminders billing.ReminderLogRepository
	policy    billing.Policy
	clock     billing.Clock
	metrics   *telemetry.BillingMetrics
	dispatch  dispatcher
}

// NewReminderScheduler creates a new ReminderScheduler
func NewReminderScheduler(
	invoices billing.InvoiceRepository,
	leases billing.LeaseRepository,
	reminders billing.ReminderLogRepository,
	notifier billing.Notifier,
	policy billing.Policy,
	clock billing.Clock,
	metrics *telemetry.BillingMetrics,
	logger *zap.Logger,
) *ReminderScheduler {
	return &ReminderScheduler{
		invoices:  invoices,
		leases:    leases,
		reminders: reminders,
		policy:    policy,
		clock:     orSystemClock(clock),
		metrics:   metrics,
		dispatch:  dispatcher{notifier: notifier, logger: orNop(logger)},
	}
}

// SendReminders evaluates every open invoice with a balance on an active
// lease. Each (invoice, kind, day) slot is claimed before the notification is
// sent, so a reminder goes out at most once even across concurrent passes.
func (s *ReminderScheduler) SendReminders(ctx context.Context, vendorID *uuid.UUID) (*ReminderResult, error) {
	log := logger.For(ctx, s.dispatch.logger)
	now := s.clock.Now().UTC()
	today := billing.DateOf(now)

	invoices, err := s.invoices.FindOpen(ctx, vendorID)
	if err != nil {
		log.Error("Failed to load open invoices for reminders", zap.Error(err))
		return nil, err
	}
	invoices = lo.Filter(invoices, func(inv billing.Invoice, _ int) bool {
		return inv.HasBalance()
	})
	if len(invoices) == 0 {
		return &ReminderResult{}, nil
	}

	leaseIDs := lo.Uniq(lo.Map(invoices, func(inv billing.Invoice, _ int) uuid.UUID { return inv.LeaseID }))
	leases, err := s.leases.FindByIDs(ctx, leaseIDs)
	if err != nil {
		log.Error("Failed to load leases for reminders", zap.Error(err))
		return nil, err
	}
	active := lo.SliceToMap(leases, func(l billing.Lease) (uuid.UUID, bool) {
		return l.ID, l.Status.IsActiveLike()
	})

	result := &ReminderResult{}
	for i := range invoices {
		inv := &invoices[i]
		if !active[inv.LeaseID] {
			continue
		}
		for _, kind := range s.policy.RemindersDue(inv.DueDate, today) {
			claimed, err := s.reminders.Claim(ctx, &billing.ReminderLog{
				InvoiceID:    inv.ID,
				Kind:         kind,
				ReminderDate: today,
				SentAt:       now,
			})
			if err != nil {
				result.Failed++
				s.metrics.RecordReminder(ctx, string(kind), "failed")
				log.Error("Failed to claim reminder slot",
					zap.String("invoice_id", inv.ID.String()),
					zap.String("kind", string(kind)),
					zap.Error(err))
				continue
			}
			if !claimed {
				result.Duplicates++
				s.metrics.RecordReminder(ctx, string(kind), "duplicate")
				continue
			}

			if s.dispatch.notify(ctx, inv.VendorID, reminderMessage(inv, kind, s.policy)) {
				result.Sent++
				s.metrics.RecordReminder(ctx, string(kind), "sent")
			} else {
				result.Failed++
				s.metrics.RecordReminder(ctx, string(kind), "failed")
			}
		}
	}

	if result.Sent > 0 || result.Failed > 0 {
		log.Info("Reminder pass finished",
			zap.Int("sent", result.Sent),
			zap.Int("duplicates", result.Duplicates),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}
