package sqlite

import (
	"context"
	"fmt"

	"github.com/chronicle-dev/chronicle/internal/types"
)

// UpsertEmbedding replaces the live vector for (block, model). Dim is
// derived from the vector length.
func (s *Store) UpsertEmbedding(ctx context.Context, e *types.Embedding) error {
	if e.BlockID == "" || e.Model == "" {
		return fmt.Errorf("invalid embedding: block_id and model are required")
	}
	if len(e.Vector) == 0 {
		return fmt.Errorf("invalid embedding: vector is empty")
	}
	e.Dim = len(e.Vector)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (block_id, model, vector, dim)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(block_id, model) DO UPDATE SET
			vector = excluded.vector,
			dim = excluded.dim,
			created_at = CURRENT_TIMESTAMP`,
		e.BlockID, e.Model, encodeVector(e.Vector), e.Dim,
	)
	return wrapDBError("upsert embedding", err)
}

func (s *Store) GetEmbedding(ctx context.Context, blockID, model string) (*types.Embedding, error) {
	var (
		e    types.Embedding
		blob []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, block_id, model, vector, dim, created_at
		FROM embeddings WHERE block_id = ? AND model = ?`,
		blockID, model,
	).Scan(&e.ID, &e.BlockID, &e.Model, &blob, &e.Dim, &e.CreatedAt)
	if err != nil {
		return nil, wrapDBErrorf(err, "get embedding for block %s", blockID)
	}
	vec, err := decodeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("get embedding for block %s: %w", blockID, err)
	}
	e.Vector = vec
	return &e, nil
}

// GetEmbeddings returns the stored vectors for the given blocks under one
// model, keyed by block id. Blocks without a vector are absent from the map.
func (s *Store) GetEmbeddings(ctx context.Context, model string, blockIDs []string) (map[string]*types.Embedding, error) {
	out := make(map[string]*types.Embedding, len(blockIDs))
	if len(blockIDs) == 0 {
		return out, nil
	}

	args := append([]any{model}, stringArgs(blockIDs)...)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, block_id, model, vector, dim, created_at
		FROM embeddings
		WHERE model = ? AND block_id IN (`+placeholders(len(blockIDs))+`)`,
		args...,
	)
	if err != nil {
		return nil, wrapDBError("get embeddings", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e    types.Embedding
			blob []byte
		)
		if err := rows.Scan(&e.ID, &e.BlockID, &e.Model, &blob, &e.Dim, &e.CreatedAt); err != nil {
			return nil, wrapDBError("scan embedding", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for block %s: %w", e.BlockID, err)
		}
		e.Vector = vec
		out[e.BlockID] = &e
	}
	return out, wrapDBError("get embeddings", rows.Err())
}
