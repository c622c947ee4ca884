package migrations

import "database/sql"

// Job records originally only distinguished status; kind arrived with the
// import endpoints so history listings could label each run.
func init() {
	register(Migration{
		Version:     3,
		Description: "add jobs.kind",
		Apply: func(tx *sql.Tx) error {
			exists, err := columnExists(tx, "jobs", "kind")
			if err != nil {
				return err
			}
			if exists {
				return nil
			}
			if _, err := tx.Exec(`ALTER TABLE jobs ADD COLUMN kind TEXT NOT NULL DEFAULT ''`); err != nil {
				return err
			}
			_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_started ON jobs(started_at)`)
			return err
		},
	})
}
