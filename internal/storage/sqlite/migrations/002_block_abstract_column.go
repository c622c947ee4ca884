package migrations

import "database/sql"

// Abstracts were added to note_blocks after the first release; databases
// created before then need the column backfilled as empty.
func init() {
	register(Migration{
		Version:     2,
		Description: "add note_blocks.abstract",
		Apply: func(tx *sql.Tx) error {
			exists, err := columnExists(tx, "note_blocks", "abstract")
			if err != nil {
				return err
			}
			if exists {
				return nil
			}
			_, err = tx.Exec(`ALTER TABLE note_blocks ADD COLUMN abstract TEXT NOT NULL DEFAULT ''`)
			return err
		},
	})
}
