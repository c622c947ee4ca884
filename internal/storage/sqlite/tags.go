package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/chronicle-dev/chronicle/internal/types"
)

const tagCols = `id, name, description, color, usage_count, created_at, updated_at`

func scanTag(row scannable) (*types.Tag, error) {
	var t types.Tag
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Color, &t.UsageCount, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTag(ctx context.Context, t *types.Tag) (*types.Tag, error) {
	return createTag(ctx, s.db, t)
}

// createTag inserts a tag with a normalized name. A name that already
// exists surfaces as storage.ErrConflict.
func createTag(ctx context.Context, q dbtx, t *types.Tag) (*types.Tag, error) {
	t.Name = types.NormalizeTagName(t.Name)
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tag: %w", err)
	}

	res, err := q.ExecContext(ctx,
		`INSERT INTO tags (name, description, color) VALUES (?, ?, ?)`,
		t.Name, t.Description, t.Color)
	if err != nil {
		return nil, wrapDBErrorf(err, "create tag %q", t.Name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, wrapDBError("create tag", err)
	}
	return getTagByID(ctx, q, id)
}

func (s *Store) GetTag(ctx context.Context, id int64) (*types.Tag, error) {
	return getTagByID(ctx, s.db, id)
}

func getTagByID(ctx context.Context, q dbtx, id int64) (*types.Tag, error) {
	t, err := scanTag(q.QueryRowContext(ctx,
		`SELECT `+tagCols+` FROM tags WHERE id = ?`, id))
	if err != nil {
		return nil, wrapDBErrorf(err, "get tag %d", id)
	}
	return t, nil
}

func (s *Store) GetTagByName(ctx context.Context, name string) (*types.Tag, error) {
	return getTagByName(ctx, s.db, name)
}

func getTagByName(ctx context.Context, q dbtx, name string) (*types.Tag, error) {
	name = types.NormalizeTagName(name)
	t, err := scanTag(q.QueryRowContext(ctx,
		`SELECT `+tagCols+` FROM tags WHERE name = ?`, name))
	if err != nil {
		return nil, wrapDBErrorf(err, "get tag %q", name)
	}
	return t, nil
}

func (s *Store) ListTags(ctx context.Context, opts types.TagListOptions) ([]*types.Tag, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tags`).Scan(&total); err != nil {
		return nil, 0, wrapDBError("count tags", err)
	}

	order := "name ASC"
	switch opts.SortBy {
	case types.TagSortUsageCount:
		order = "usage_count DESC, name ASC"
	case types.TagSortCreatedAt:
		order = "created_at DESC, name ASC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tagCols+` FROM tags ORDER BY `+order+` LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, wrapDBError("list tags", err)
	}
	defer rows.Close()

	var out []*types.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, 0, wrapDBError("scan tag", err)
		}
		out = append(out, t)
	}
	return out, total, wrapDBError("list tags", rows.Err())
}

// UpdateTag applies a whitelisted set of field updates and returns the
// fresh row. Renaming onto an existing name surfaces as storage.ErrConflict.
func (s *Store) UpdateTag(ctx context.Context, id int64, updates map[string]interface{}) (*types.Tag, error) {
	var (
		sets []string
		args []any
	)
	for key, val := range updates {
		switch key {
		case "name":
			name, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("invalid tag update: name must be a string")
			}
			name = types.NormalizeTagName(name)
			if !types.ValidTagName(name) {
				return nil, fmt.Errorf("invalid tag update: bad name %q", name)
			}
			sets = append(sets, "name = ?")
			args = append(args, name)
		case "description":
			desc, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("invalid tag update: description must be a string")
			}
			sets = append(sets, "description = ?")
			args = append(args, desc)
		case "color":
			color, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("invalid tag update: color must be a string")
			}
			if color != "" && !types.ValidColor(color) {
				return nil, fmt.Errorf("invalid tag update: bad color %q", color)
			}
			sets = append(sets, "color = ?")
			args = append(args, color)
		default:
			return nil, fmt.Errorf("invalid tag update: unknown field %q", key)
		}
	}
	if len(sets) == 0 {
		return getTagByID(ctx, s.db, id)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tags SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		append(args, id)...)
	if err != nil {
		return nil, wrapDBErrorf(err, "update tag %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, wrapDBError("update tag", err)
	}
	if n == 0 {
		return nil, wrapDBErrorf(sql.ErrNoRows, "update tag %d", id)
	}
	return getTagByID(ctx, s.db, id)
}

func (s *Store) DeleteTag(ctx context.Context, id int64) error {
	return deleteTag(ctx, s.db, id)
}

func deleteTag(ctx context.Context, q dbtx, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	if err != nil {
		return wrapDBErrorf(err, "delete tag %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("delete tag", err)
	}
	if n == 0 {
		return wrapDBErrorf(sql.ErrNoRows, "delete tag %d", id)
	}
	return nil
}

func (s *Store) RecomputeTagUsage(ctx context.Context, tagIDs []int64) error {
	return recomputeTagUsage(ctx, s.db, tagIDs)
}

// recomputeTagUsage resets usage_count from the link table. An empty id
// list recomputes every tag.
func recomputeTagUsage(ctx context.Context, q dbtx, tagIDs []int64) error {
	query := `UPDATE tags SET usage_count = (
		SELECT COUNT(*) FROM activity_tags WHERE activity_tags.tag_id = tags.id)`
	var args []any
	if len(tagIDs) > 0 {
		query += ` WHERE id IN (` + placeholders(len(tagIDs)) + `)`
		args = int64Args(tagIDs)
	}
	_, err := q.ExecContext(ctx, query, args...)
	return wrapDBError("recompute tag usage", err)
}
