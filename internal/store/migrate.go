package store

import (
	"errors"
	"fmt"

	"github.com/Ae-Ti/BMN-sub000/internal/store/migrations"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Changed bool
	// Recovered is set when an interrupted migration was found and rerun.
	Recovered bool
}

// Migrate brings the cache schema up to date. It is safe to call on every
// start.
func (db *DB) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	result := &MigrateResult{}
	if result.Recovered, err = clearDirty(m); err != nil {
		return nil, err
	}

	result.Changed = true
	if err := m.Up(); errors.Is(err, migrate.ErrNoChange) {
		result.Changed = false
	} else if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("migration version: %w", err)
	}
	result.Version = version
	return result, nil
}

// clearDirty rolls the recorded version back past a migration that did not
// finish. Each migration runs in its own transaction, so nothing of it was
// applied. Versions are consecutive, so the previous one is version-1.
func clearDirty(m *migrate.Migrate) (bool, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) || (err == nil && !dirty) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("migration version: %w", err)
	}
	prev := int(version) - 1
	if prev == 0 {
		prev = -1 // no migration applied
	}
	if err := m.Force(prev); err != nil {
		return false, fmt.Errorf("clear dirty version %d: %w", version, err)
	}
	return true, nil
}
