// Package migrations holds ordered, idempotent schema migrations. Each
// migration lives in its own numbered file and registers itself at init
// time. The baseline schema always reflects the latest shape, so every
// migration must first check whether its change is already present.
package migrations

import (
	"database/sql"
	"fmt"
	"sort"
)

type Migration struct {
	Version     int
	Description string
	Apply       func(tx *sql.Tx) error
}

var registry []Migration

func register(m Migration) {
	registry = append(registry, m)
}

// All returns the registered migrations in ascending version order.
func All() []Migration {
	out := make([]Migration, len(registry))
	copy(out, registry)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// columnExists reports whether table already has the named column. Used by
// column-adding migrations to stay idempotent against the baseline schema.
func columnExists(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, fmt.Errorf("table_info %s: %w", table, err)
	}

	found := false
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			rows.Close()
			return false, fmt.Errorf("scan table_info %s: %w", table, err)
		}
		if name == column {
			found = true
		}
	}
	// Close before the caller issues DDL on the same connection, or the
	// pending rows handle deadlocks the statement.
	if err := rows.Close(); err != nil {
		return false, err
	}
	return found, rows.Err()
}
