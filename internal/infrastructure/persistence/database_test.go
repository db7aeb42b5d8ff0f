package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newMockGorm creates a GORM handle over a mocked Postgres connection
func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	require.NoError(t, err)

	return gormDB, mock, mockDB
}

func TestDatabase_Ping(t *testing.T) {
	gormDB, mock, mockDB := newMockGorm(t)
	defer mockDB.Close()
	db := &Database{DB: gormDB}

	mock.ExpectPing()
	assert.NoError(t, db.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_Close(t *testing.T) {
	gormDB, mock, _ := newMockGorm(t)
	db := &Database{DB: gormDB}

	mock.ExpectClose()
	assert.NoError(t, db.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormInvoiceRepository_ApplyCapture_SQL(t *testing.T) {
	now := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	invoice := &billing.Invoice{
		BaseEntity: shared.BaseEntity{ID: uuid.New(), UpdatedAt: now},
		Amount:     decimal.NewFromInt(100),
		AmountPaid: decimal.NewFromInt(100),
		Status:     billing.InvoiceStatusPaid,
	}

	t.Run("conditional update matched", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGorm(t)
		defer mockDB.Close()

		mock.ExpectExec(`UPDATE "invoices" SET .* WHERE \(id = \$\d+ AND amount_paid = \$\d+\) AND \(gateway_capture_id IS NULL OR gateway_capture_id <> \$\d+\)`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := NewGormInvoiceRepository(gormDB).ApplyCapture(context.Background(), invoice, decimal.NewFromInt(40), "CAP-1")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero rows is a capture conflict", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGorm(t)
		defer mockDB.Close()

		mock.ExpectExec(`UPDATE "invoices" SET`).WillReturnResult(sqlmock.NewResult(0, 0))

		err := NewGormInvoiceRepository(gormDB).ApplyCapture(context.Background(), invoice, decimal.NewFromInt(40), "CAP-1")
		assert.ErrorIs(t, err, billing.ErrCaptureConflict)
	})

	t.Run("driver errors propagate", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGorm(t)
		defer mockDB.Close()

		mock.ExpectExec(`UPDATE "invoices" SET`).WillReturnError(sql.ErrConnDone)

		err := NewGormInvoiceRepository(gormDB).ApplyCapture(context.Background(), invoice, decimal.NewFromInt(40), "CAP-1")
		assert.ErrorIs(t, err, sql.ErrConnDone)
	})
}

func TestGormInvoiceRepository_CreateIfAbsent_SQL(t *testing.T) {
	gormDB, mock, mockDB := newMockGorm(t)
	defer mockDB.Close()

	lease := &billing.Lease{
		BaseEntity:  shared.BaseEntity{ID: uuid.New()},
		VendorID:    uuid.New(),
		MonthlyRent: decimal.NewFromInt(250),
		Currency:    "usd",
	}
	invoice, err := billing.NewInvoice(lease, billing.Date(2024, 3, 1), time.Now())
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO "invoices" .* ON CONFLICT \("lease_id","billing_period"\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := NewGormInvoiceRepository(gormDB).CreateIfAbsent(context.Background(), invoice)
	require.NoError(t, err)
	assert.False(t, created, "conflict means another caller created it")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormInvoiceRepository_MarkOverdue_SQL(t *testing.T) {
	gormDB, mock, mockDB := newMockGorm(t)
	defer mockDB.Close()

	mock.ExpectExec(`UPDATE "invoices" SET .* WHERE status IN \(\$\d+,\$\d+\) AND due_date < \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := NewGormInvoiceRepository(gormDB).MarkOverdue(context.Background(), billing.Date(2024, 3, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
