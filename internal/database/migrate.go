package database

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" //nolint:blankimports // postgres driver
	_ "github.com/golang-migrate/migrate/v4/source/file"       //nolint:blankimports // file source driver

	infraconfig "github.com/pglemos/ml-bling-sync/infrastructure/config"
	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
)

// Migration directions.
const (
	MigrateUp   = "up"
	MigrateDown = "down"
)

// Migrate applies (up) or rolls back (down) the schema in migrationsPath.
// Down rolls back steps migrations, at least one.
func Migrate(cfg infraconfig.DatabaseConfig, migrationsPath, direction string, steps int, log infralogger.Logger) error {
	if direction != MigrateUp && direction != MigrateDown {
		return fmt.Errorf("invalid direction %q: must be %q or %q", direction, MigrateUp, MigrateDown)
	}

	if absPath, err := filepath.Abs(migrationsPath); err == nil {
		migrationsPath = absPath
	}

	m, err := migrate.New("file://"+migrationsPath, cfg.URL())
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case MigrateUp:
		err = m.Up()
	case MigrateDown:
		err = m.Steps(-max(steps, 1))
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("No migrations to apply",
			infralogger.String("direction", direction),
			infralogger.String("migrations_path", migrationsPath),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}

	log.Info("Migrations applied",
		infralogger.String("direction", direction),
		infralogger.String("migrations_path", migrationsPath),
	)
	return nil
}
