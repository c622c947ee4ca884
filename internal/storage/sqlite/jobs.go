package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chronicle-dev/chronicle/internal/types"
)

// PutJob writes a job record, replacing any prior state for the id. The
// tracker calls this on every lifecycle transition.
func (s *Store) PutJob(ctx context.Context, j *types.Job) error {
	if j.JobID == "" {
		return fmt.Errorf("invalid job: job_id is required")
	}
	if j.Status == "" {
		return fmt.Errorf("invalid job: status is required")
	}

	counters, err := json.Marshal(j.Counters)
	if err != nil {
		return fmt.Errorf("encode job counters: %w", err)
	}
	startedAt := j.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	var completedAt any
	if j.CompletedAt != nil {
		completedAt = *j.CompletedAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, kind, status, started_at, completed_at, error, progress, counters)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			kind = excluded.kind,
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			error = excluded.error,
			progress = excluded.progress,
			counters = excluded.counters`,
		j.JobID, j.Kind, j.Status, startedAt, completedAt, j.Error, j.Progress, string(counters),
	)
	return wrapDBErrorf(err, "put job %s", j.JobID)
}

const jobCols = `job_id, kind, status, started_at, completed_at, error, progress, counters`

func scanJob(row scannable) (*types.Job, error) {
	var (
		j         types.Job
		completed sql.NullTime
		counters  string
	)
	err := row.Scan(&j.JobID, &j.Kind, &j.Status, &j.StartedAt, &completed, &j.Error, &j.Progress, &counters)
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		t := completed.Time
		j.CompletedAt = &t
	}
	if counters != "" && counters != "{}" {
		if err := json.Unmarshal([]byte(counters), &j.Counters); err != nil {
			return nil, fmt.Errorf("decode job counters: %w", err)
		}
	}
	return &j, nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobCols+` FROM jobs WHERE job_id = ?`, jobID)
	j, err := scanJob(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get job %s", jobID)
	}
	return j, nil
}

func (s *Store) ListRecentJobs(ctx context.Context, limit int) ([]*types.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobCols+` FROM jobs ORDER BY started_at DESC, job_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, wrapDBError("list recent jobs", err)
	}
	defer rows.Close()

	var out []*types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, wrapDBError("scan job", err)
		}
		out = append(out, j)
	}
	return out, wrapDBError("list recent jobs", rows.Err())
}
