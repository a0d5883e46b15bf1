// Package migrations wires golang-migrate execution for the result archive.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migrations loader
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	dbmigrations "github.com/coachpo/pricebridge/db/migrations"
	"github.com/coachpo/pricebridge/internal/infra/telemetry"
)

var (
	errNotDirectory = errors.New("migrations path must be a directory")

	migrationsCounter   metric.Int64Counter
	migrationsCounterMu sync.Once
)

// Direction selects whether migrations are applied or rolled back.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Apply runs the embedded migrations against dsn.
func Apply(ctx context.Context, dsn string, logger zerolog.Logger) error {
	return Run(ctx, dsn, "", Up, logger)
}

// Run executes migrations in direction. An empty migrationsDir uses the embedded SQL files;
// otherwise the directory is loaded through the file source.
func Run(ctx context.Context, dsn, migrationsDir string, direction Direction, logger zerolog.Logger) error {
	if strings.TrimSpace(migrationsDir) != "" {
		if _, err := resolveDir(migrationsDir); err != nil {
			return err
		}
	}
	switch direction {
	case Up, Down, "":
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("database migrations close")
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	m, location, err := newMigrate(migrationsDir, driver)
	if err != nil {
		return err
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			logger.Warn().Err(sourceErr).Msg("database migrations source close")
		}
		if dbErr != nil {
			logger.Warn().Err(dbErr).Msg("database migrations db close")
		}
	}()

	logger.Info().Str("source", location).Str("direction", string(direction)).Msg("running database migrations")

	var runErr error
	switch direction {
	case Down:
		runErr = m.Down()
	default:
		runErr = m.Up()
	}
	if runErr != nil {
		if errors.Is(runErr, migrate.ErrNoChange) {
			recordMigrationMetric(ctx, "noop")
			logger.Info().Msg("database migrations up-to-date")
			return nil
		}
		recordMigrationMetric(ctx, "failed")
		return fmt.Errorf("apply migrations: %w", runErr)
	}

	logger.Info().Msg("database migrations applied successfully")
	recordMigrationMetric(ctx, "applied")
	return nil
}

func newMigrate(migrationsDir string, driver database.Driver) (*migrate.Migrate, string, error) {
	if strings.TrimSpace(migrationsDir) == "" {
		src, err := embeddedSource(dbmigrations.Files)
		if err != nil {
			return nil, "", err
		}
		m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
		if err != nil {
			return nil, "", fmt.Errorf("initialise migrate instance: %w", err)
		}
		return m, "embedded", nil
	}
	resolvedDir, err := resolveDir(migrationsDir)
	if err != nil {
		return nil, "", err
	}
	m, err := migrate.NewWithDatabaseInstance(fileURL(resolvedDir), "pgx5", driver)
	if err != nil {
		return nil, "", fmt.Errorf("initialise migrate instance: %w", err)
	}
	return m, resolvedDir, nil
}

func embeddedSource(files fs.FS) (source.Driver, error) {
	src, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	return src, nil
}

func resolveDir(dir string) (string, error) {
	clean := strings.TrimSpace(dir)
	if clean == "" {
		return "", fmt.Errorf("migrations path required")
	}

	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("migrations directory: %w", err)
		}
		return "", fmt.Errorf("stat migrations directory: %w", err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("migrations directory: %w", errNotDirectory)
	}

	return abs, nil
}

func fileURL(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := new(url.URL)
	u.Scheme = "file"
	u.Path = slashed
	return u.String()
}

func recordMigrationMetric(ctx context.Context, result string) {
	migrationsCounterMu.Do(func() {
		meter := otel.Meter("persistence.migrations")
		counter, err := meter.Int64Counter(telemetry.MetricMigrations,
			metric.WithDescription("Total migrations executed via golang-migrate"),
			metric.WithUnit("{migration}"))
		if err == nil {
			migrationsCounter = counter
		}
	})
	if migrationsCounter == nil {
		return
	}
	migrationsCounter.Add(ctx, 1, metric.WithAttributes(telemetry.MigrationAttributes(result)...))
}
