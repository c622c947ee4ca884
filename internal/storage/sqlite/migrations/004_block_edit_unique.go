package migrations

import "database/sql"

func init() {
	register(Migration{
		Version:     4,
		Description: "dedupe note block edit history",
		Apply: func(tx *sql.Tx) error {
			// Collapse duplicates before the unique index lands.
			if _, err := tx.Exec(`DELETE FROM note_block_edits WHERE id NOT IN (
				SELECT MIN(id) FROM note_block_edits GROUP BY block_id, edited_at
			)`); err != nil {
				return err
			}
			_, err := tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_note_block_edits_key
				ON note_block_edits(block_id, edited_at)`)
			return err
		},
	})
}
