package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/types"
)

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func (s *Store) UpsertNotePage(ctx context.Context, p *types.NotePage) error {
	if p.PageID == "" {
		return fmt.Errorf("invalid note page: page_id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO note_pages (page_id, title, url, last_edited_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(page_id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			last_edited_at = excluded.last_edited_at`,
		p.PageID, p.Title, p.URL, nullTime(p.LastEditedAt),
	)
	return wrapDBError("upsert note page", err)
}

func (s *Store) GetNotePage(ctx context.Context, pageID string) (*types.NotePage, error) {
	var (
		p      types.NotePage
		edited sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT page_id, title, url, last_edited_at, created_at, updated_at
		FROM note_pages WHERE page_id = ?`, pageID,
	).Scan(&p.PageID, &p.Title, &p.URL, &edited, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, wrapDBErrorf(err, "get note page %s", pageID)
	}
	p.LastEditedAt = edited.Time
	return &p, nil
}

func (s *Store) ListNotePages(ctx context.Context) ([]*types.NotePage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT page_id, title, url, last_edited_at, created_at, updated_at
		FROM note_pages ORDER BY last_edited_at DESC, page_id ASC`)
	if err != nil {
		return nil, wrapDBError("list note pages", err)
	}
	defer rows.Close()

	var out []*types.NotePage
	for rows.Next() {
		var (
			p      types.NotePage
			edited sql.NullTime
		)
		if err := rows.Scan(&p.PageID, &p.Title, &p.URL, &edited, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, wrapDBError("scan note page", err)
		}
		p.LastEditedAt = edited.Time
		out = append(out, &p)
	}
	return out, wrapDBError("list note pages", rows.Err())
}

// UpsertNoteBlock writes a block, preserving any stored abstract unless the
// text changed, in which case the abstract is cleared so the indexer
// regenerates it.
func (s *Store) UpsertNoteBlock(ctx context.Context, b *types.NoteBlock) error {
	if b.BlockID == "" || b.PageID == "" {
		return fmt.Errorf("invalid note block: block_id and page_id are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO note_blocks (block_id, page_id, parent_block_id, block_type, is_leaf, text, last_edited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(block_id) DO UPDATE SET
			page_id = excluded.page_id,
			parent_block_id = excluded.parent_block_id,
			block_type = excluded.block_type,
			is_leaf = excluded.is_leaf,
			text = excluded.text,
			abstract = CASE WHEN excluded.text != note_blocks.text THEN '' ELSE note_blocks.abstract END,
			last_edited_at = excluded.last_edited_at`,
		b.BlockID, b.PageID, b.ParentBlockID, b.BlockType, boolToInt(b.IsLeaf),
		b.Text, nullTime(b.LastEditedAt),
	)
	return wrapDBError("upsert note block", err)
}

const noteBlockCols = `block_id, page_id, parent_block_id, block_type, is_leaf, text, abstract, last_edited_at, created_at, updated_at`

func scanNoteBlock(row scannable) (*types.NoteBlock, error) {
	var (
		b      types.NoteBlock
		isLeaf int
		edited sql.NullTime
	)
	err := row.Scan(
		&b.BlockID, &b.PageID, &b.ParentBlockID, &b.BlockType, &isLeaf,
		&b.Text, &b.Abstract, &edited, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.IsLeaf = isLeaf != 0
	b.LastEditedAt = edited.Time
	return &b, nil
}

func (s *Store) GetNoteBlock(ctx context.Context, blockID string) (*types.NoteBlock, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+noteBlockCols+` FROM note_blocks WHERE block_id = ?`, blockID)
	b, err := scanNoteBlock(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get note block %s", blockID)
	}
	return b, nil
}

func (s *Store) SetBlockAbstract(ctx context.Context, blockID, abstract string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE note_blocks SET abstract = ? WHERE block_id = ?`, abstract, blockID)
	if err != nil {
		return wrapDBErrorf(err, "set abstract for block %s", blockID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("set block abstract", err)
	}
	if n == 0 {
		return wrapDBErrorf(sql.ErrNoRows, "set abstract for block %s", blockID)
	}
	return nil
}

// ListLeafBlocks returns leaf blocks matching the filter, oldest edit first.
// With MissingIndex set, only leaves lacking an abstract or lacking an
// embedding under filter.Model are returned.
func (s *Store) ListLeafBlocks(ctx context.Context, filter storage.LeafFilter) ([]*types.NoteBlock, error) {
	conds := []string{"is_leaf = 1"}
	var args []any

	if !filter.EditedAfter.IsZero() {
		conds = append(conds, "last_edited_at > ?")
		args = append(args, filter.EditedAfter)
	}
	if !filter.EditedBefore.IsZero() {
		conds = append(conds, "last_edited_at < ?")
		args = append(args, filter.EditedBefore)
	}
	if filter.MissingIndex {
		if filter.Model != "" {
			conds = append(conds, `(abstract = '' OR NOT EXISTS (
				SELECT 1 FROM embeddings e WHERE e.block_id = note_blocks.block_id AND e.model = ?))`)
			args = append(args, filter.Model)
		} else {
			conds = append(conds, "abstract = ''")
		}
	}

	query := `SELECT ` + noteBlockCols + ` FROM note_blocks` + whereClause(conds) +
		` ORDER BY last_edited_at ASC, block_id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list leaf blocks", err)
	}
	defer rows.Close()

	var out []*types.NoteBlock
	for rows.Next() {
		b, err := scanNoteBlock(rows)
		if err != nil {
			return nil, wrapDBError("scan note block", err)
		}
		out = append(out, b)
	}
	return out, wrapDBError("list leaf blocks", rows.Err())
}

func (s *Store) CountChildBlocks(ctx context.Context, blockID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM note_blocks WHERE parent_block_id = ?`, blockID,
	).Scan(&n)
	if err != nil {
		return 0, wrapDBError("count child blocks", err)
	}
	return n, nil
}

func (s *Store) AppendBlockEdit(ctx context.Context, blockID string, editedAt time.Time) error {
	// OR IGNORE keeps re-traversal of an unchanged tree from duplicating
	// history rows.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO note_block_edits (block_id, edited_at) VALUES (?, ?)`,
		blockID, editedAt)
	return wrapDBError("append block edit", err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
