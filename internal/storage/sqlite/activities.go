package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chronicle-dev/chronicle/internal/types"
)

const rawActivityCols = `id, date, time, duration_minutes, details, source, source_event_id, source_link, source_payload, created_at, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanRawActivity(row scannable) (*types.RawActivity, error) {
	var (
		a       types.RawActivity
		payload string
	)
	err := row.Scan(
		&a.ID, &a.Date, &a.Time, &a.DurationMinutes, &a.Details,
		&a.Source, &a.SourceEventID, &a.SourceLink, &payload,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.SourcePayload = json.RawMessage(payload)
	return &a, nil
}

func (s *Store) UpsertRawActivity(ctx context.Context, a *types.RawActivity) (int64, bool, error) {
	return upsertRawActivity(ctx, s.db, a)
}

// upsertRawActivity writes an observation, updating in place when its
// identity key already exists. Identity is (source, source_event_id, date,
// time) when the provider supplied an event id, else (source, source_link).
// A row recorded under the link key is adopted and given the event id when
// one later appears for the same link.
func upsertRawActivity(ctx context.Context, q dbtx, a *types.RawActivity) (int64, bool, error) {
	if err := a.Validate(); err != nil {
		return 0, false, fmt.Errorf("invalid raw activity: %w", err)
	}

	payload := string(a.SourcePayload)
	if payload == "" {
		payload = "{}"
	}

	id, err := findRawActivityKey(ctx, q, a)
	if err != nil {
		return 0, false, err
	}

	if id != 0 {
		_, err := q.ExecContext(ctx, `
			UPDATE raw_activities
			SET date = ?, time = ?, duration_minutes = ?, details = ?,
			    source_event_id = ?, source_link = ?, source_payload = ?
			WHERE id = ?`,
			a.Date, a.Time, a.DurationMinutes, a.Details,
			a.SourceEventID, a.SourceLink, payload, id,
		)
		if err != nil {
			return 0, false, wrapDBError("update raw activity", err)
		}
		a.ID = id
		return id, false, nil
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO raw_activities (date, time, duration_minutes, details, source, source_event_id, source_link, source_payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Date, a.Time, a.DurationMinutes, a.Details,
		a.Source, a.SourceEventID, a.SourceLink, payload,
	)
	if err != nil {
		// A concurrent writer can insert the same key between our lookup
		// and insert; converge on its row.
		if isUniqueConstraintError(err) {
			if id, lookupErr := findRawActivityKey(ctx, q, a); lookupErr == nil && id != 0 {
				if _, updErr := q.ExecContext(ctx, `
					UPDATE raw_activities
					SET duration_minutes = ?, details = ?, source_event_id = ?, source_link = ?, source_payload = ?
					WHERE id = ?`,
					a.DurationMinutes, a.Details, a.SourceEventID, a.SourceLink, payload, id,
				); updErr != nil {
					return 0, false, wrapDBError("update raw activity", updErr)
				}
				a.ID = id
				return id, false, nil
			}
		}
		return 0, false, wrapDBError("insert raw activity", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, wrapDBError("insert raw activity", err)
	}
	a.ID = id
	return id, true, nil
}

// findRawActivityKey resolves the existing row id for a's identity key, or 0.
func findRawActivityKey(ctx context.Context, q dbtx, a *types.RawActivity) (int64, error) {
	var id int64
	if a.SourceEventID != "" {
		err := q.QueryRowContext(ctx, `
			SELECT id FROM raw_activities
			WHERE source = ? AND source_event_id = ? AND date = ? AND time = ?`,
			a.Source, a.SourceEventID, a.Date, a.Time,
		).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, wrapDBError("lookup raw activity by event id", err)
		}
	}
	if a.SourceLink != "" {
		err := q.QueryRowContext(ctx, `
			SELECT id FROM raw_activities
			WHERE source = ? AND source_link = ? AND source_event_id = ''`,
			a.Source, a.SourceLink,
		).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, wrapDBError("lookup raw activity by link", err)
		}
	}
	return 0, nil
}

func (s *Store) GetRawActivity(ctx context.Context, id int64) (*types.RawActivity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rawActivityCols+` FROM raw_activities WHERE id = ?`, id)
	a, err := scanRawActivity(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get raw activity %d", id)
	}
	return a, nil
}

func (s *Store) ListRawActivities(ctx context.Context, filter types.ActivityFilter) ([]*types.RawActivity, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, filter.Source)
	}
	conds, args = dateRange(conds, args, "date", filter.DateStart, filter.DateEnd)
	where := whereClause(conds)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_activities`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, wrapDBError("count raw activities", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rawActivityCols+` FROM raw_activities`+where+
			` ORDER BY date DESC, time DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, wrapDBError("list raw activities", err)
	}
	defer rows.Close()

	var out []*types.RawActivity
	for rows.Next() {
		a, err := scanRawActivity(rows)
		if err != nil {
			return nil, 0, wrapDBError("scan raw activity", err)
		}
		out = append(out, a)
	}
	return out, total, wrapDBError("list raw activities", rows.Err())
}

// ListRawActivitiesInRange returns every activity in the date range in
// processing order: ascending by date, then time, then id.
func (s *Store) ListRawActivitiesInRange(ctx context.Context, dateStart, dateEnd string) ([]*types.RawActivity, error) {
	var (
		conds []string
		args  []any
	)
	conds, args = dateRange(conds, args, "date", dateStart, dateEnd)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rawActivityCols+` FROM raw_activities`+whereClause(conds)+
			` ORDER BY date ASC, time ASC, id ASC`,
		args...,
	)
	if err != nil {
		return nil, wrapDBError("list raw activities in range", err)
	}
	defer rows.Close()

	var out []*types.RawActivity
	for rows.Next() {
		a, err := scanRawActivity(rows)
		if err != nil {
			return nil, wrapDBError("scan raw activity", err)
		}
		out = append(out, a)
	}
	return out, wrapDBError("list raw activities in range", rows.Err())
}

// GetRawActivitiesByIDs returns the activities that exist, in the order the
// ids were given. Missing ids are skipped.
func (s *Store) GetRawActivitiesByIDs(ctx context.Context, ids []int64) ([]*types.RawActivity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rawActivityCols+` FROM raw_activities WHERE id IN (`+placeholders(len(ids))+`)`,
		int64Args(ids)...,
	)
	if err != nil {
		return nil, wrapDBError("get raw activities by ids", err)
	}
	defer rows.Close()

	byID := make(map[int64]*types.RawActivity, len(ids))
	for rows.Next() {
		a, err := scanRawActivity(rows)
		if err != nil {
			return nil, wrapDBError("scan raw activity", err)
		}
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("get raw activities by ids", err)
	}

	out := make([]*types.RawActivity, 0, len(byID))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}
