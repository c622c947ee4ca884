package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/storage/sqlite/migrations"
)

// RunMigrations applies all registered migrations newer than the database's
// recorded version, each in its own transaction. Migrations are written to
// be idempotent so a database created from the current baseline schema
// passes through them unchanged.
func RunMigrations(db *sql.DB) error {
	var current sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_versions`).Scan(&current); err != nil {
		return fmt.Errorf("%w: read schema version: %v", storage.ErrSchema, err)
	}

	for _, m := range migrations.All() {
		if current.Valid && int64(m.Version) <= current.Int64 {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("%w: migration %d (%s): %v", storage.ErrSchema, m.Version, m.Description, err)
		}
	}
	return nil
}

func applyMigration(db *sql.DB, m migrations.Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := m.Apply(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_versions (version, description) VALUES (?, ?)`,
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

// SchemaVersion reports the highest applied migration version.
func SchemaVersion(db *sql.DB) (int, error) {
	var current sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_versions`).Scan(&current); err != nil {
		return 0, fmt.Errorf("%w: read schema version: %v", storage.ErrSchema, err)
	}
	if !current.Valid {
		return 0, nil
	}
	return int(current.Int64), nil
}
