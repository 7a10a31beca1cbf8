// Package main provides a CLI tool for database migrations. By default it
// applies the migration set embedded in the binary; -path switches to a
// directory on disk.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/welldanyogia/home-iot/internal/config"
	"github.com/welldanyogia/home-iot/internal/logger"
	"github.com/welldanyogia/home-iot/migrations"
)

// Version is set at build time
var Version = "dev"

const defaultMigrationTimeout = 5 * time.Minute

// Options holds migration settings
type Options struct {
	DatabaseURL    string
	MigrationsPath string // empty means the embedded set
	Timeout        time.Duration
	DryRun         bool
}

var log = logger.New(logger.Config{Level: "info", Format: "text", Output: "stderr"})

func main() {
	_ = godotenv.Load()

	var (
		dbHost     = flag.String("db-host", getEnv("DB_HOST", "localhost"), "Database host")
		dbPort     = flag.String("db-port", getEnv("DB_PORT", "5432"), "Database port")
		dbUser     = flag.String("db-user", getEnv("DB_USER", "postgres"), "Database user")
		dbPassword = flag.String("db-password", getEnv("DB_PASSWORD", ""), "Database password")
		dbName     = flag.String("db-name", getEnv("DB_NAME", "home_iot"), "Database name")
		dbSSLMode  = flag.String("db-sslmode", getEnv("DB_SSLMODE", "disable"), "Database SSL mode")
		migrPath   = flag.String("path", getEnv("MIGRATIONS_PATH", ""), "Path to migrations directory (default: embedded)")
		timeout    = flag.Duration("timeout", defaultMigrationTimeout, "Timeout per migration")
		dryRun     = flag.Bool("dry-run", false, "Show what would be done without executing")
		version    = flag.Bool("version", false, "Print version and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Database migration tool for the home IoT collector\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  up [N]       Apply all or N up migrations\n")
		fmt.Fprintf(os.Stderr, "  down [N]     Apply all or N down migrations\n")
		fmt.Fprintf(os.Stderr, "  goto V       Migrate to version V\n")
		fmt.Fprintf(os.Stderr, "  force V      Set version V without running migrations (use with caution)\n")
		fmt.Fprintf(os.Stderr, "  version      Print current migration version\n")
		fmt.Fprintf(os.Stderr, "  drop         Drop all tables (use with extreme caution)\n")
		fmt.Fprintf(os.Stderr, "  create NAME  Create a new migration file pair (requires -path)\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *version {
		fmt.Printf("migrate version %s\n", Version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	db := config.DatabaseConfig{
		Host:     *dbHost,
		Port:     *dbPort,
		User:     *dbUser,
		Password: *dbPassword,
		DBName:   *dbName,
		SSLMode:  *dbSSLMode,
	}

	opts := &Options{
		DatabaseURL:    db.URL(),
		MigrationsPath: *migrPath,
		Timeout:        *timeout,
		DryRun:         *dryRun,
	}

	if err := runCommand(opts, args[0], args[1:]); err != nil {
		log.Error("Migration command failed", slog.String("command", args[0]), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// runCommand executes the specified migration command
func runCommand(opts *Options, cmd string, args []string) error {
	switch cmd {
	case "create":
		if len(args) < 1 {
			return errors.New("create requires a migration name")
		}
		return createMigration(opts, args[0])
	case "version":
		return showVersion(opts)
	case "up", "down":
		steps, err := optionalInt(args)
		if err != nil {
			return err
		}
		return migrateSteps(opts, cmd, steps)
	case "goto":
		v, err := requiredInt(cmd, args)
		if err != nil {
			return err
		}
		if v < 0 {
			return fmt.Errorf("invalid version: %d", v)
		}
		return migrateGoto(opts, uint(v))
	case "force":
		v, err := requiredInt(cmd, args)
		if err != nil {
			return err
		}
		return migrateForce(opts, v)
	case "drop":
		return migrateDrop(opts)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func optionalInt(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number of steps: %s", args[0])
	}
	return n, nil
}

func requiredInt(cmd string, args []string) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("%s requires a version number", cmd)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid version: %s", args[0])
	}
	return n, nil
}

// createMigration creates a new migration file pair in MigrationsPath
func createMigration(opts *Options, name string) error {
	if opts.MigrationsPath == "" {
		return errors.New("create requires -path pointing at the migrations directory")
	}

	nextNum, err := nextMigrationNumber(opts.MigrationsPath)
	if err != nil {
		return fmt.Errorf("failed to determine next migration number: %w", err)
	}

	upFile := filepath.Join(opts.MigrationsPath, fmt.Sprintf("%06d_%s.up.sql", nextNum, name))
	downFile := filepath.Join(opts.MigrationsPath, fmt.Sprintf("%06d_%s.down.sql", nextNum, name))

	if opts.DryRun {
		log.Info("[DRY RUN] Would create migration", slog.String("up", upFile), slog.String("down", downFile))
		return nil
	}

	if err := os.MkdirAll(opts.MigrationsPath, 0755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}

	created := time.Now().Format(time.RFC3339)
	if err := os.WriteFile(upFile, []byte(fmt.Sprintf("-- Migration: %s\n-- Created: %s\n", name, created)), 0644); err != nil {
		return fmt.Errorf("failed to create up migration: %w", err)
	}
	if err := os.WriteFile(downFile, []byte(fmt.Sprintf("-- Migration: %s (rollback)\n-- Created: %s\n", name, created)), 0644); err != nil {
		return fmt.Errorf("failed to create down migration: %w", err)
	}

	log.Info("Created migration files", slog.String("up", upFile), slog.String("down", downFile))
	return nil
}

// nextMigrationNumber finds the next available migration number
func nextMigrationNumber(migrationsPath string) (int, error) {
	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}

	maxNum := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var num int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &num); err == nil && num > maxNum {
			maxNum = num
		}
	}

	return maxNum + 1, nil
}

// showVersion displays the current migration version
func showVersion(opts *Options) error {
	m, err := newMigrate(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info("No migrations have been applied yet")
			return nil
		}
		return fmt.Errorf("failed to get version: %w", err)
	}

	log.Info("Current migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	return nil
}

// migrateSteps applies all or steps migrations in direction "up" or "down"
func migrateSteps(opts *Options, direction string, steps int) error {
	if opts.DryRun {
		log.Info("[DRY RUN] Would apply migrations", slog.String("direction", direction), slog.Int("steps", steps))
		return nil
	}

	m, err := newMigrate(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	from, _, _ := m.Version()

	switch {
	case direction == "up" && steps > 0:
		err = m.Steps(steps)
	case direction == "up":
		err = m.Up()
	case steps > 0:
		err = m.Steps(-steps)
	default:
		err = m.Down()
	}

	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("No migrations to apply", slog.String("direction", direction))
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	to, _, _ := m.Version()
	log.Info("Migration completed", slog.Uint64("from", uint64(from)), slog.Uint64("to", uint64(to)))
	return nil
}

// migrateGoto migrates to a specific version
func migrateGoto(opts *Options, version uint) error {
	if opts.DryRun {
		log.Info("[DRY RUN] Would migrate", slog.Uint64("to", uint64(version)))
		return nil
	}

	m, err := newMigrate(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Migrate(version); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("Already at version", slog.Uint64("version", uint64(version)))
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("Migration completed", slog.Uint64("to", uint64(version)))
	return nil
}

// migrateForce sets the version without running migrations
func migrateForce(opts *Options, version int) error {
	if opts.DryRun {
		log.Info("[DRY RUN] Would force version", slog.Int("version", version))
		return nil
	}

	m, err := newMigrate(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Force(version); err != nil {
		return fmt.Errorf("force failed: %w", err)
	}

	log.Warn("Version forced", slog.Int("version", version))
	return nil
}

// migrateDrop drops all tables after interactive confirmation
func migrateDrop(opts *Options) error {
	if opts.DryRun {
		log.Info("[DRY RUN] Would drop all tables")
		return nil
	}

	fmt.Fprintln(os.Stderr, "WARNING: This will drop ALL tables in the database!")
	fmt.Fprintln(os.Stderr, "Type 'yes' to confirm:")

	var confirm string
	if _, err := fmt.Scanln(&confirm); err != nil || confirm != "yes" {
		log.Info("Aborted")
		return nil
	}

	m, err := newMigrate(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Drop(); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}

	log.Warn("All tables dropped")
	return nil
}

// newMigrate opens the database and builds a migrator over the embedded set
// or the directory in MigrationsPath
func newMigrate(opts *Options) (*migrate.Migrate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	db, err := sql.Open("pgx", opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var m *migrate.Migrate
	if opts.MigrationsPath == "" {
		m, err = migrations.New(db)
	} else {
		m, err = newFileMigrate(db, opts.MigrationsPath)
	}
	if err != nil {
		db.Close()
		return nil, err
	}

	m.LockTimeout = opts.Timeout
	return m, nil
}

func newFileMigrate(db *sql.DB, path string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+abs, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
