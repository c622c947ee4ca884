package sqlite

import (
	"context"
	"database/sql"
	"errors"
)

func (s *Store) PutResource(ctx context.Context, namespace, name, content string) (int, error) {
	return putResource(ctx, s.db, namespace, name, content)
}

// putResource appends the next version of a named resource. Prior versions
// are retained; readers take the highest. Concurrent writers race on the
// version primary key, so losers re-read and retry.
func putResource(ctx context.Context, q dbtx, namespace, name, content string) (int, error) {
	for attempt := 0; ; attempt++ {
		var current sql.NullInt64
		err := q.QueryRowContext(ctx,
			`SELECT MAX(version) FROM resources WHERE namespace = ? AND name = ?`,
			namespace, name,
		).Scan(&current)
		if err != nil {
			return 0, wrapDBErrorf(err, "read resource version %s/%s", namespace, name)
		}
		next := 1
		if current.Valid {
			next = int(current.Int64) + 1
		}

		_, err = q.ExecContext(ctx,
			`INSERT INTO resources (namespace, name, version, content) VALUES (?, ?, ?, ?)`,
			namespace, name, next, content)
		if err == nil {
			return next, nil
		}
		if isUniqueConstraintError(err) && attempt < 3 {
			continue
		}
		return 0, wrapDBErrorf(err, "put resource %s/%s", namespace, name)
	}
}

func (s *Store) GetLatestResource(ctx context.Context, namespace, name string) (string, int, error) {
	return getLatestResource(ctx, s.db, namespace, name)
}

func getLatestResource(ctx context.Context, q dbtx, namespace, name string) (string, int, error) {
	var (
		content string
		version int
	)
	err := q.QueryRowContext(ctx, `
		SELECT content, version FROM resources
		WHERE namespace = ? AND name = ?
		ORDER BY version DESC LIMIT 1`,
		namespace, name,
	).Scan(&content, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, wrapDBErrorf(err, "resource %s/%s", namespace, name)
		}
		return "", 0, wrapDBErrorf(err, "get resource %s/%s", namespace, name)
	}
	return content, version, nil
}
