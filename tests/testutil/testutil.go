// Package testutil provides common test utilities for the billing backend.
// It sets up in-memory databases, seeds billing fixtures and wraps gin test
// contexts.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var sqliteSeq atomic.Int64

// NewSQLiteDB opens a private in-memory SQLite database with the billing
// schema. A single connection is used, so code under test must not issue
// queries outside a transaction it is holding open.
func NewSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:billing_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), sqliteSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err, "Failed to open SQLite database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.BillingModels()...), "Failed to migrate billing schema")
	return db
}

// MockDB wraps a GORM database with sqlmock for testing.
type MockDB struct {
	DB    *gorm.DB
	Mock  sqlmock.Sqlmock
	SqlDB *sql.DB
}

// NewMockDB creates a new mock database for testing.
// The caller is responsible for calling Close() when done.
func NewMockDB(t *testing.T) *MockDB {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err, "Failed to create sqlmock")

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err, "Failed to open GORM connection")

	return &MockDB{
		DB:    gormDB,
		Mock:  mock,
		SqlDB: mockDB,
	}
}

// Close closes the mock database connection.
func (m *MockDB) Close() error {
	return m.SqlDB.Close()
}

// ExpectationsWereMet verifies that all expectations were met.
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	t.Helper()
	err := m.Mock.ExpectationsWereMet()
	require.NoError(t, err, "Unmet database expectations")
}

// Fixtures seeds billing rows directly through the persistence models.
type Fixtures struct {
	t  *testing.T
	db *gorm.DB
}

// NewFixtures binds seeding helpers to a database.
func NewFixtures(t *testing.T, db *gorm.DB) *Fixtures {
	return &Fixtures{t: t, db: db}
}

// Vendor inserts an active vendor.
func (f *Fixtures) Vendor(name string) uuid.UUID {
	f.t.Helper()
	m := models.VendorModel{Name: name, Email: name + "@example.test", Status: billing.VendorStatusActive}
	m.ID = uuid.New()
	m.CreatedAt, m.UpdatedAt = time.Now().UTC(), time.Now().UTC()
	require.NoError(f.t, f.db.Create(&m).Error)
	return m.ID
}

// SuspendVendor flips a vendor to suspended.
func (f *Fixtures) SuspendVendor(id uuid.UUID) {
	f.t.Helper()
	require.NoError(f.t, f.db.Model(&models.VendorModel{}).Where("id = ?", id).
		Update("status", billing.VendorStatusSuspended).Error)
}

// Stall inserts an occupied stall.
func (f *Fixtures) Stall(code string) uuid.UUID {
	f.t.Helper()
	m := models.StallModel{Code: code, Status: billing.StallStatusOccupied}
	m.ID = uuid.New()
	m.CreatedAt, m.UpdatedAt = time.Now().UTC(), time.Now().UTC()
	require.NoError(f.t, f.db.Create(&m).Error)
	return m.ID
}

// LeaseOption customizes a seeded lease.
type LeaseOption func(*billing.Lease)

// WithLeaseStatus sets the lease status.
func WithLeaseStatus(s billing.LeaseStatus) LeaseOption {
	return func(l *billing.Lease) { l.Status = s }
}

// WithStartDate sets the lease start date.
func WithStartDate(d time.Time) LeaseOption {
	return func(l *billing.Lease) { l.StartDate = d }
}

// WithEndDate sets the lease end date.
func WithEndDate(d time.Time) LeaseOption {
	return func(l *billing.Lease) { l.EndDate = &d }
}

// Lease inserts an active USD lease starting 2024-01-01.
func (f *Fixtures) Lease(vendorID, stallID uuid.UUID, rent string, opts ...LeaseOption) *billing.Lease {
	f.t.Helper()
	now := time.Now().UTC()
	lease := &billing.Lease{
		VendorID:    vendorID,
		StallID:     stallID,
		MonthlyRent: decimal.RequireFromString(rent),
		Currency:    "USD",
		StartDate:   billing.Date(2024, 1, 1),
		Status:      billing.LeaseStatusActive,
	}
	lease.ID = uuid.New()
	lease.CreatedAt, lease.UpdatedAt = now, now
	for _, opt := range opts {
		opt(lease)
	}
	var m models.LeaseModel
	m.FromDomain(lease)
	require.NoError(f.t, f.db.Create(&m).Error)
	return lease
}

// Invoice inserts a pending invoice for the lease due on due.
func (f *Fixtures) Invoice(lease *billing.Lease, due time.Time) *billing.Invoice {
	f.t.Helper()
	inv, err := billing.NewInvoice(lease, due, time.Now().UTC())
	require.NoError(f.t, err)
	var m models.InvoiceModel
	m.FromDomain(inv)
	require.NoError(f.t, f.db.Create(&m).Error)
	return inv
}

// SetInvoiceState overwrites status and amount paid of a seeded invoice.
func (f *Fixtures) SetInvoiceState(id uuid.UUID, status billing.InvoiceStatus, paid string) {
	f.t.Helper()
	require.NoError(f.t, f.db.Model(&models.InvoiceModel{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "amount_paid": decimal.RequireFromString(paid)}).Error)
}

// SetLeaseStatus overwrites the status of a seeded lease.
func (f *Fixtures) SetLeaseStatus(id uuid.UUID, status billing.LeaseStatus) {
	f.t.Helper()
	require.NoError(f.t, f.db.Model(&models.LeaseModel{}).Where("id = ?", id).Update("status", status).Error)
}

// LoadInvoice reads an invoice back.
func (f *Fixtures) LoadInvoice(id uuid.UUID) *billing.Invoice {
	f.t.Helper()
	var m models.InvoiceModel
	require.NoError(f.t, f.db.First(&m, "id = ?", id).Error)
	return m.ToDomain()
}

// LoadLease reads a lease back.
func (f *Fixtures) LoadLease(id uuid.UUID) *billing.Lease {
	f.t.Helper()
	var m models.LeaseModel
	require.NoError(f.t, f.db.First(&m, "id = ?", id).Error)
	return m.ToDomain()
}

// LoadStall reads a stall back.
func (f *Fixtures) LoadStall(id uuid.UUID) *billing.Stall {
	f.t.Helper()
	var m models.StallModel
	require.NoError(f.t, f.db.First(&m, "id = ?", id).Error)
	return m.ToDomain()
}

// Count returns the number of rows of model matching the optional condition.
func (f *Fixtures) Count(model any, query string, args ...any) int64 {
	f.t.Helper()
	var n int64
	q := f.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(f.t, q.Count(&n).Error)
	return n
}

// TestContext wraps a Gin test context with HTTP recorder.
type TestContext struct {
	Context  *gin.Context
	Recorder *httptest.ResponseRecorder
	Engine   *gin.Engine
}

// NewTestContext creates a new Gin test context.
func NewTestContext(t *testing.T) *TestContext {
	t.Helper()

	w := httptest.NewRecorder()
	c, engine := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	return &TestContext{
		Context:  c,
		Recorder: w,
		Engine:   engine,
	}
}

// SetHeader sets a header on the request.
func (tc *TestContext) SetHeader(key, value string) {
	tc.Context.Request.Header.Set(key, value)
}

// ResponseBody returns the response body as bytes.
func (tc *TestContext) ResponseBody() []byte {
	return tc.Recorder.Body.Bytes()
}

// ResponseCode returns the HTTP status code.
func (tc *TestContext) ResponseCode() int {
	return tc.Recorder.Code
}

// NewTestUUID generates a deterministic UUID for testing.
func NewTestUUID(seed string) uuid.UUID {
	namespace := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	return uuid.NewSHA1(namespace, []byte(seed))
}

// ContextWithTimeout creates a context with a timeout for tests.
func ContextWithTimeout(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), timeout)
}

// AssertEventually retries an assertion function until it passes or times out.
func AssertEventually(t *testing.T, condition func() bool, timeout, interval time.Duration, msgAndArgs ...interface{}) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(interval)
	}

	t.Fatalf("Condition not met within %v: %v", timeout, msgAndArgs)
}
