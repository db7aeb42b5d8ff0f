// Command migrate manages the billing schema.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/stallmarket/backend/internal/infrastructure/config"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"github.com/stallmarket/backend/internal/infrastructure/migration"
	"go.uber.org/zap"
)

const defaultMigrationsPath = "migrations"

// dbCommand runs against an open migrator with the remaining arguments
type dbCommand func(m *migration.Migrator, args []string, log *zap.Logger) error

var dbCommands = map[string]dbCommand{
	"up":      func(m *migration.Migrator, _ []string, _ *zap.Logger) error { return m.Up() },
	"down":    func(m *migration.Migrator, _ []string, _ *zap.Logger) error { return m.Down() },
	"step":    runStep,
	"goto":    runGoto,
	"version": runVersion,
	"force":   runForce,
}

func main() {
	var (
		migrationsPath string
		logLevel       string
	)
	flag.StringVar(&migrationsPath, "path", "", "Path to migrations directory (default: ./migrations)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command, rest := args[0], args[1:]

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	path, err := resolveMigrationsPath(migrationsPath)
	if err != nil {
		log.Fatal("Failed to resolve migrations path", zap.Error(err))
	}
	log.Info("Migration CLI started",
		zap.String("command", command),
		zap.String("migrations_path", path),
	)

	switch command {
	case "create":
		if len(rest) < 1 {
			log.Fatal("Migration name required. Usage: migrate create <name> [description]")
		}
		description := ""
		if len(rest) > 1 {
			description = rest[1]
		}
		mf, err := migration.CreateMigration(path, rest[0], description)
		if err != nil {
			log.Fatal("Failed to create migration", zap.Error(err))
		}
		log.Info("Migration created",
			zap.String("version", mf.Version),
			zap.String("up_file", mf.UpPath),
			zap.String("down_file", mf.DownPath),
		)
		return
	case "list":
		files, err := migration.ListMigrations(path)
		if err != nil {
			log.Fatal("Failed to list migrations", zap.Error(err))
		}
		log.Info("Available migrations", zap.Int("count", len(files)))
		for _, f := range files {
			fmt.Println("  -", f)
		}
		return
	}

	run, ok := dbCommands[command]
	if !ok {
		log.Error("Unknown command", zap.String("command", command))
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal("Failed to ping database", zap.Error(err))
	}

	m, err := migration.New(db, path, log)
	if err != nil {
		log.Fatal("Failed to create migrator", zap.Error(err))
	}
	defer m.Close()

	if err := run(m, rest, log); err != nil {
		log.Fatal("Migration command failed", zap.String("command", command), zap.Error(err))
	}
}

// resolveMigrationsPath prefers the flag, then ./migrations, then the
// directory two levels above the binary
func resolveMigrationsPath(flagPath string) (string, error) {
	path := flagPath
	if path == "" {
		path = defaultMigrationsPath
		if _, err := os.Stat(path); err != nil {
			if exe, err := os.Executable(); err == nil {
				candidate := filepath.Join(filepath.Dir(exe), "..", "..", defaultMigrationsPath)
				if _, err := os.Stat(candidate); err == nil {
					path = candidate
				}
			}
		}
	}
	return filepath.Abs(path)
}

func runStep(m *migration.Migrator, args []string, _ *zap.Logger) error {
	if len(args) < 1 {
		return fmt.Errorf("step count required: migrate step <n>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid step count %q", args[0])
	}
	return m.Steps(n)
}

func runGoto(m *migration.Migrator, args []string, _ *zap.Logger) error {
	if len(args) < 1 {
		return fmt.Errorf("version required: migrate goto <version>")
	}
	version, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid version %q", args[0])
	}
	return m.GoTo(uint(version))
}

func runVersion(m *migration.Migrator, _ []string, log *zap.Logger) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		log.Info("No migrations applied")
		return nil
	}
	log.Info("Current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func runForce(m *migration.Migrator, args []string, log *zap.Logger) error {
	if len(args) < 1 {
		return fmt.Errorf("version required: migrate force <version>")
	}
	version, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid version %q", args[0])
	}
	log.Warn("Forcing migration version", zap.Int("version", version))
	return m.Force(version)
}

func printUsage() {
	fmt.Println(`Stall market billing schema migrations

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    Apply all pending migrations
  down                  Roll back all migrations
  step <n>              Apply n migrations (positive=up, negative=down)
  goto <version>        Migrate to a specific version
  version               Show current migration version
  force <version>       Force set migration version after a failed run
  create <name> [desc]  Create a new migration file pair
  list                  List available migrations

Flags:
  -path string          Path to migrations directory (default: ./migrations)
  -log-level string     Log level: debug, info, warn, error (default: info)

Environment Variables:
  STALL_DATABASE_HOST, STALL_DATABASE_PORT, STALL_DATABASE_USER,
  STALL_DATABASE_PASSWORD, STALL_DATABASE_DBNAME, STALL_DATABASE_SSLMODE`)
}
