// Package retrieve ranks leaf note blocks against a query text within a
// temporal window. The calendar-as-query flow feeds each event's text
// through here to find the note context written around the same time.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/chronicle-dev/chronicle/internal/embed"
	"github.com/chronicle-dev/chronicle/internal/logging"
	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/types"
)

const (
	// DefaultHours is the recency window for Retrieve.
	DefaultHours = 24
	// DefaultDaysWindow is the day span either side of the anchor date.
	DefaultDaysWindow = 1
	// DefaultK is the result count when none is requested.
	DefaultK = 5
)

// ScoredBlock is one ranked result.
type ScoredBlock struct {
	Block *types.NoteBlock `json:"block"`
	Score float64          `json:"score"`
}

// Retriever scores leaf blocks by cosine similarity of their stored
// vectors against the query, under the same model the indexer writes.
// Candidates without a live embedding are excluded, never imputed.
type Retriever struct {
	store    storage.Store
	provider embed.Provider
	log      *slog.Logger
}

// New returns a Retriever reading vectors written under provider's model.
func New(store storage.Store, provider embed.Provider) *Retriever {
	return &Retriever{
		store:    store,
		provider: provider,
		log:      logging.Component("retrieve"),
	}
}

// Retrieve ranks leaf blocks edited within the last hours against query.
// hours <= 0 means DefaultHours; k <= 0 means DefaultK. An empty query
// returns an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string, hours, k int) ([]ScoredBlock, error) {
	if hours <= 0 {
		hours = DefaultHours
	}
	filter := storage.LeafFilter{
		EditedAfter: time.Now().UTC().Add(-time.Duration(hours) * time.Hour),
	}
	return r.rank(ctx, query, filter, k)
}

// RetrieveByDate ranks leaf blocks edited within daysWindow days either
// side of the anchor date (whole days, inclusive). daysWindow < 0 is an
// error; 0 restricts to the anchor day itself.
func (r *Retriever) RetrieveByDate(ctx context.Context, query, date string, daysWindow, k int) ([]ScoredBlock, error) {
	if !types.ValidDate(date) {
		return nil, fmt.Errorf("date must be YYYY-MM-DD (got %q)", date)
	}
	if daysWindow < 0 {
		return nil, fmt.Errorf("days_window cannot be negative (got %d)", daysWindow)
	}

	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("date must be YYYY-MM-DD (got %q)", date)
	}
	// Half-open day window: midnight of the first day (inclusive) up to
	// midnight after the last day (exclusive). The store compares
	// strictly, so nudge the lower bound just below midnight.
	filter := storage.LeafFilter{
		EditedAfter:  day.AddDate(0, 0, -daysWindow).Add(-time.Millisecond),
		EditedBefore: day.AddDate(0, 0, daysWindow+1),
	}
	return r.rank(ctx, query, filter, k)
}

func (r *Retriever) rank(ctx context.Context, query string, filter storage.LeafFilter, k int) ([]ScoredBlock, error) {
	if k <= 0 {
		k = DefaultK
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []ScoredBlock{}, nil
	}

	blocks, err := r.store.ListLeafBlocks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing candidate blocks: %w", err)
	}
	if len(blocks) == 0 {
		return []ScoredBlock{}, nil
	}

	vecs, err := r.provider.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding query: provider returned %d vectors", len(vecs))
	}
	queryVec := vecs[0]

	ids := make([]string, len(blocks))
	for i, b := range blocks {
		ids[i] = b.BlockID
	}
	stored, err := r.store.GetEmbeddings(ctx, r.provider.Model(), ids)
	if err != nil {
		return nil, fmt.Errorf("loading block embeddings: %w", err)
	}

	scored := make([]ScoredBlock, 0, len(blocks))
	for _, b := range blocks {
		e := stored[b.BlockID]
		if e == nil {
			continue
		}
		scored = append(scored, ScoredBlock{
			Block: b,
			Score: embed.CosineSimilarity(queryVec, e.Vector),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].Block.LastEditedAt.Equal(scored[j].Block.LastEditedAt) {
			return scored[i].Block.LastEditedAt.After(scored[j].Block.LastEditedAt)
		}
		return scored[i].Block.BlockID < scored[j].Block.BlockID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	r.log.Debug("retrieval complete",
		"candidates", len(blocks),
		"scored", len(scored),
		"model", r.provider.Model(),
	)
	return scored, nil
}
