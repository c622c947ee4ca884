package sqlite

import (
	"context"
	"fmt"

	"github.com/chronicle-dev/chronicle/internal/types"
)

const processedCols = `id, date, time, total_duration_minutes, combined_details, raw_activity_ids, sources, created_at, updated_at`

func scanProcessedActivity(row scannable) (*types.ProcessedActivity, error) {
	var (
		p            types.ProcessedActivity
		rawIDs, srcs string
	)
	err := row.Scan(
		&p.ID, &p.Date, &p.Time, &p.TotalDurationMinutes, &p.CombinedDetails,
		&rawIDs, &srcs, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.RawActivityIDs, err = unmarshalInt64s(rawIDs); err != nil {
		return nil, err
	}
	if p.Sources, err = unmarshalStrings(srcs); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProcessedActivity(ctx context.Context, p *types.ProcessedActivity) (int64, error) {
	return createProcessedActivity(ctx, s.db, p)
}

func createProcessedActivity(ctx context.Context, q dbtx, p *types.ProcessedActivity) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, fmt.Errorf("invalid processed activity: %w", err)
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO processed_activities (date, time, total_duration_minutes, combined_details, raw_activity_ids, sources)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.Date, p.Time, p.TotalDurationMinutes, p.CombinedDetails,
		marshalInt64s(p.RawActivityIDs), marshalStrings(p.Sources),
	)
	if err != nil {
		return 0, wrapDBError("create processed activity", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapDBError("create processed activity", err)
	}
	p.ID = id
	return id, nil
}

func (s *Store) GetProcessedActivity(ctx context.Context, id int64) (*types.ProcessedActivity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+processedCols+` FROM processed_activities WHERE id = ?`, id)
	p, err := scanProcessedActivity(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get processed activity %d", id)
	}
	tags, err := loadActivityTags(ctx, s.db, []int64{id})
	if err != nil {
		return nil, err
	}
	p.Tags = tags[id]
	return p, nil
}

func (s *Store) ListProcessedActivities(ctx context.Context, filter types.ProcessedFilter) ([]*types.ProcessedActivity, int, error) {
	var (
		conds []string
		args  []any
	)
	conds, args = dateRange(conds, args, "date", filter.DateStart, filter.DateEnd)
	if len(filter.Tags) > 0 {
		names := make([]string, len(filter.Tags))
		for i, n := range filter.Tags {
			names[i] = types.NormalizeTagName(n)
		}
		conds = append(conds, `EXISTS (
			SELECT 1 FROM activity_tags at
			JOIN tags t ON t.id = at.tag_id
			WHERE at.processed_activity_id = processed_activities.id
			  AND t.name IN (`+placeholders(len(names))+`))`)
		args = append(args, stringArgs(names)...)
	}
	where := whereClause(conds)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_activities`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, wrapDBError("count processed activities", err)
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
		`SELECT `+processedCols+` FROM processed_activities`+where+
			` ORDER BY date DESC, time DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, wrapDBError("list processed activities", err)
	}
	defer rows.Close()

	var (
		out []*types.ProcessedActivity
		ids []int64
	)
	for rows.Next() {
		p, err := scanProcessedActivity(rows)
		if err != nil {
			return nil, 0, wrapDBError("scan processed activity", err)
		}
		out = append(out, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, wrapDBError("list processed activities", err)
	}

	tags, err := loadActivityTags(ctx, s.db, ids)
	if err != nil {
		return nil, 0, err
	}
	for _, p := range out {
		p.Tags = tags[p.ID]
	}
	return out, total, nil
}

func (s *Store) DeleteProcessedActivitiesInRange(ctx context.Context, dateStart, dateEnd string) (int64, error) {
	return deleteProcessedActivitiesInRange(ctx, s.db, dateStart, dateEnd)
}

// deleteProcessedActivitiesInRange removes processed rows in the date range.
// Their tag links go with them via cascade, and the link triggers keep
// usage counts in step.
func deleteProcessedActivitiesInRange(ctx context.Context, q dbtx, dateStart, dateEnd string) (int64, error) {
	var (
		conds []string
		args  []any
	)
	conds, args = dateRange(conds, args, "date", dateStart, dateEnd)

	res, err := q.ExecContext(ctx,
		`DELETE FROM processed_activities`+whereClause(conds), args...)
	if err != nil {
		return 0, wrapDBError("delete processed activities", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDBError("delete processed activities", err)
	}
	return n, nil
}

func (s *Store) AddActivityTag(ctx context.Context, at *types.ActivityTag) error {
	return addActivityTag(ctx, s.db, at)
}

// addActivityTag links a tag to a processed activity. Re-adding an existing
// link keeps the higher confidence.
func addActivityTag(ctx context.Context, q dbtx, at *types.ActivityTag) error {
	if err := at.Validate(); err != nil {
		return fmt.Errorf("invalid activity tag: %w", err)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO activity_tags (processed_activity_id, tag_id, confidence)
		VALUES (?, ?, ?)
		ON CONFLICT(processed_activity_id, tag_id) DO UPDATE SET
			confidence = max(confidence, excluded.confidence)`,
		at.ProcessedActivityID, at.TagID, at.Confidence,
	)
	return wrapDBError("add activity tag", err)
}

// rangeActivitySubquery builds "processed_activity_id IN (SELECT ...)" for
// a date range; returns "" when the range is fully open.
func rangeActivitySubquery(dateStart, dateEnd string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	conds, args = dateRange(conds, args, "date", dateStart, dateEnd)
	if len(conds) == 0 {
		return "", nil
	}
	return ` AND processed_activity_id IN (
		SELECT id FROM processed_activities` + whereClause(conds) + `)`, args
}

func (s *Store) DeleteActivityTagsForTag(ctx context.Context, tagID int64, dateStart, dateEnd string) (int64, error) {
	return deleteActivityTagsForTag(ctx, s.db, tagID, dateStart, dateEnd)
}

func deleteActivityTagsForTag(ctx context.Context, q dbtx, tagID int64, dateStart, dateEnd string) (int64, error) {
	sub, args := rangeActivitySubquery(dateStart, dateEnd)
	res, err := q.ExecContext(ctx,
		`DELETE FROM activity_tags WHERE tag_id = ?`+sub,
		append([]any{tagID}, args...)...)
	if err != nil {
		return 0, wrapDBErrorf(err, "delete links for tag %d", tagID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDBError("delete links for tag", err)
	}
	return n, nil
}

func (s *Store) MergeActivityTags(ctx context.Context, fromTagID, toTagID int64, dateStart, dateEnd string) (int64, error) {
	return mergeActivityTags(ctx, s.db, fromTagID, toTagID, dateStart, dateEnd)
}

// mergeActivityTags repoints links from one tag to another. Links whose
// activity already carries the target tag are dropped first so the rewrite
// cannot violate the per-activity uniqueness of links; the result is the
// union of the two tags' activities.
func mergeActivityTags(ctx context.Context, q dbtx, fromTagID, toTagID int64, dateStart, dateEnd string) (int64, error) {
	if fromTagID == toTagID {
		return 0, fmt.Errorf("merge tags: from and to are the same tag (%d)", fromTagID)
	}

	sub, rangeArgs := rangeActivitySubquery(dateStart, dateEnd)

	args := append([]any{fromTagID, toTagID}, rangeArgs...)
	if _, err := q.ExecContext(ctx, `
		DELETE FROM activity_tags
		WHERE tag_id = ?
		  AND processed_activity_id IN (
			SELECT processed_activity_id FROM activity_tags WHERE tag_id = ?)`+sub,
		args...,
	); err != nil {
		return 0, wrapDBError("merge tags: drop duplicate links", err)
	}

	args = append([]any{toTagID, fromTagID}, rangeArgs...)
	res, err := q.ExecContext(ctx,
		`UPDATE activity_tags SET tag_id = ? WHERE tag_id = ?`+sub, args...)
	if err != nil {
		return 0, wrapDBError("merge tags: repoint links", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDBError("merge tags", err)
	}
	return n, nil
}

func (s *Store) ListTagsUsedInRange(ctx context.Context, dateStart, dateEnd string) ([]*types.Tag, error) {
	var (
		conds []string
		args  []any
	)
	conds, args = dateRange(conds, args, "pa.date", dateStart, dateEnd)

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT t.id, t.name, t.description, t.color, t.usage_count, t.created_at, t.updated_at
		FROM tags t
		JOIN activity_tags at ON at.tag_id = t.id
		JOIN processed_activities pa ON pa.id = at.processed_activity_id`+
		whereClause(conds)+` ORDER BY t.name ASC`,
		args...,
	)
	if err != nil {
		return nil, wrapDBError("list tags used in range", err)
	}
	defer rows.Close()

	var out []*types.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, wrapDBError("scan tag", err)
		}
		out = append(out, t)
	}
	return out, wrapDBError("list tags used in range", rows.Err())
}

// SampleTagActivities returns up to limit recent activity detail strings
// carrying the tag, for use as review context.
func (s *Store) SampleTagActivities(ctx context.Context, tagID int64, limit int, dateStart, dateEnd string) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	conds := []string{"at.tag_id = ?"}
	args := []any{tagID}
	conds, args = dateRange(conds, args, "pa.date", dateStart, dateEnd)

	rows, err := s.db.QueryContext(ctx, `
		SELECT pa.combined_details
		FROM processed_activities pa
		JOIN activity_tags at ON at.processed_activity_id = pa.id`+
		whereClause(conds)+` ORDER BY pa.date DESC, pa.id DESC LIMIT ?`,
		append(args, limit)...,
	)
	if err != nil {
		return nil, wrapDBErrorf(err, "sample activities for tag %d", tagID)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var details string
		if err := rows.Scan(&details); err != nil {
			return nil, wrapDBError("scan activity sample", err)
		}
		out = append(out, details)
	}
	return out, wrapDBError("sample tag activities", rows.Err())
}

// loadActivityTags fetches tag links for a set of processed activities,
// highest confidence first.
func loadActivityTags(ctx context.Context, q dbtx, ids []int64) (map[int64][]types.TagLink, error) {
	out := make(map[int64][]types.TagLink, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT at.processed_activity_id, at.tag_id, t.name, at.confidence
		FROM activity_tags at
		JOIN tags t ON t.id = at.tag_id
		WHERE at.processed_activity_id IN (`+placeholders(len(ids))+`)
		ORDER BY at.confidence DESC, t.name ASC`,
		int64Args(ids)...,
	)
	if err != nil {
		return nil, wrapDBError("load activity tags", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			activityID int64
			link       types.TagLink
		)
		if err := rows.Scan(&activityID, &link.TagID, &link.Name, &link.Confidence); err != nil {
			return nil, wrapDBError("scan activity tag", err)
		}
		out[activityID] = append(out[activityID], link)
	}
	return out, wrapDBError("load activity tags", rows.Err())
}
