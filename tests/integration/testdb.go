// Package integration runs the billing flows against a real PostgreSQL started
// with testcontainers and migrated with the repository's SQL migrations.
package integration

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	mpg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	sharedOnce sync.Once
	sharedDSN  string
	sharedErr  error
	sharedCtr  testcontainers.Container
)

// TestDB is a migrated database connection scoped to one test
type TestDB struct {
	DB    *gorm.DB
	SqlDB *sql.DB
	t     *testing.T
}

// NewTestDB connects to the package's shared PostgreSQL container, starting
// and migrating it on first use, and truncates the billing tables. Skipped
// under -short.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test requires Docker; skipped with -short")
	}

	sharedOnce.Do(func() {
		sharedDSN, sharedErr = startPostgres(context.Background())
	})
	require.NoError(t, sharedErr, "Failed to start PostgreSQL container")

	db, sqlDB := connectToDatabase(t, sharedDSN)
	tdb := &TestDB{DB: db, SqlDB: sqlDB, t: t}
	tdb.CleanTables()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return tdb
}

func startPostgres(ctx context.Context) (string, error) {
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("stallmarket_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return "", err
	}
	sharedCtr = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", err
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return "", err
	}
	defer sqlDB.Close()
	if err := runMigrations(sqlDB); err != nil {
		return "", err
	}
	return dsn, nil
}

// CleanTables truncates every table except the migration bookkeeping
func (tdb *TestDB) CleanTables() {
	tdb.t.Helper()

	var tables []string
	err := tdb.DB.Raw(`
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		AND tablename != 'schema_migrations'
	`).Scan(&tables).Error
	require.NoError(tdb.t, err, "Failed to get table names")

	for _, table := range tables {
		require.NoError(tdb.t, tdb.DB.Exec(`TRUNCATE TABLE "`+table+`" CASCADE`).Error,
			"Failed to truncate %s", table)
	}
}

func connectToDatabase(t *testing.T, dsn string) (*gorm.DB, *sql.DB) {
	t.Helper()

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}
	if os.Getenv("TEST_DB_DEBUG") != "" {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(gormpostgres.Open(dsn), gormConfig)
	require.NoError(t, err, "Failed to connect to database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)
	return db, sqlDB
}

func runMigrations(sqlDB *sql.DB) error {
	path := findMigrationsPath()
	if path == "" {
		return errors.New("migrations directory not found")
	}
	driver, err := mpg.WithInstance(sqlDB, &mpg.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+path, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// findMigrationsPath walks up from this file to the module's migrations/
func findMigrationsPath() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	dir := filepath.Dir(filename)
	for i := 0; i < 4; i++ {
		candidate := filepath.Join(dir, "migrations")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		dir = filepath.Dir(dir)
	}
	return ""
}

// TerminateShared stops the shared container. Called from TestMain.
func TerminateShared() {
	if sharedCtr == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = sharedCtr.Terminate(ctx)
}
