package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	appbilling "github.com/stallmarket/backend/internal/application/billing"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/persistence"
	"github.com/stallmarket/backend/tests/testutil"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

type sentMessage struct {
	VendorID uuid.UUID
	Msg      billing.Message
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, vendorID uuid.UUID, msg billing.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMessage{VendorID: vendorID, Msg: msg})
	return nil
}

func (n *recordingNotifier) Sent() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []billing.AuditEntry
}

func (a *recordingAuditor) Audit(_ context.Context, entry billing.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *recordingAuditor) Entries() []billing.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]billing.AuditEntry(nil), a.entries...)
}

// testEnv wires the GORM repositories to a private SQLite database.
type testEnv struct {
	db        *gorm.DB
	f         *testutil.Fixtures
	leases    *persistence.GormLeaseRepository
	stalls    *persistence.GormStallRepository
	vendors   *persistence.GormVendorDirectory
	invoices  *persistence.GormInvoiceRepository
	pending   *persistence.GormPendingPaymentLedger
	audits    *persistence.GormCaptureAuditRepository
	pins      *persistence.GormOrderPinRepository
	reminders *persistence.GormReminderLogRepository
	webhooks  *persistence.GormWebhookEventRepository
	throttle  *persistence.GormThrottleStore
	tx        *persistence.GormBillingTransactionScope
	notifier  *recordingNotifier
	auditor   *recordingAuditor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	return &testEnv{
		db:        db,
		f:         testutil.NewFixtures(t, db),
		leases:    persistence.NewGormLeaseRepository(db),
		stalls:    persistence.NewGormStallRepository(db),
		vendors:   persistence.NewGormVendorDirectory(db),
		invoices:  persistence.NewGormInvoiceRepository(db),
		pending:   persistence.NewGormPendingPaymentLedger(db),
		audits:    persistence.NewGormCaptureAuditRepository(db),
		pins:      persistence.NewGormOrderPinRepository(db),
		reminders: persistence.NewGormReminderLogRepository(db),
		webhooks:  persistence.NewGormWebhookEventRepository(db),
		throttle:  persistence.NewGormThrottleStore(db),
		tx:        persistence.NewGormBillingTransactionScope(db),
		notifier:  &recordingNotifier{},
		auditor:   &recordingAuditor{},
	}
}

func clockAt(year int, month time.Month, day, hour int) billing.FixedClock {
	return billing.FixedClock{At: time.Date(year, month, day, hour, 0, 0, 0, time.UTC)}
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateOrder(ctx context.Context, req billing.CreateOrderRequest) (*billing.GatewayOrder, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.GatewayOrder), args.Error(1)
}

func (m *mockGateway) CaptureOrder(ctx context.Context, orderID, idempotencyKey string) (*billing.GatewayCapture, error) {
	args := m.Called(ctx, orderID, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.GatewayCapture), args.Error(1)
}

func (m *mockGateway) VerifyWebhookSignature(ctx context.Context, v billing.WebhookVerification) (bool, error) {
	args := m.Called(ctx, v)
	return args.Bool(0), args.Error(1)
}

func (e *testEnv) orderService(gw billing.Gateway, clock billing.Clock) *appbilling.PaymentOrderService {
	return appbilling.NewPaymentOrderService(appbilling.PaymentOrderServiceDeps{
		Invoices: e.invoices,
		Leases:   e.leases,
		Ledger:   e.pending,
		Pins:     e.pins,
		Vendors:  e.vendors,
		Gateway:  gw,
		Policy:   billing.DefaultPolicy(),
		Clock:    clock,
	}, appbilling.DefaultPaymentOrderServiceConfig())
}
