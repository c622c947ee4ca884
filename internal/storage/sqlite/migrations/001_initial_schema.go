package migrations

import "database/sql"

// The baseline schema is created by the store before migrations run, so
// version 1 only anchors the version history.
func init() {
	register(Migration{
		Version:     1,
		Description: "initial schema",
		Apply: func(tx *sql.Tx) error {
			return nil
		},
	})
}
