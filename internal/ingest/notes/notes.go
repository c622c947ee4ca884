// Package notes traverses the note workspace page tree and upserts pages
// and blocks with source=notes semantics: parent links preserved, leaf
// marking, and an edit-timestamp history feeding the indexer.
package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chronicle-dev/chronicle/internal/logging"
	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/types"
)

// Page is a provider-neutral workspace page.
type Page struct {
	ID           string
	Title        string
	URL          string
	LastEditedAt time.Time
}

// Block is one node of a page's block tree. TextBearing reports whether the
// block type can carry prose; the leaf rule requires it.
type Block struct {
	ID           string
	Type         string
	HasChildren  bool
	TextBearing  bool
	Text         string
	LastEditedAt time.Time
}

// PageSource is the workspace provider. Implementations paginate internally
// and retry transient failures.
type PageSource interface {
	SearchPages(ctx context.Context) ([]Page, error)
	GetPage(ctx context.Context, pageID string) (*Page, error)
	ChildBlocks(ctx context.Context, blockID string) ([]Block, error)
}

// Progress reports traversal advancement to the caller, once per batch.
type Progress struct {
	Batch  int `json:"batch"`
	Pages  int `json:"pages"`
	Blocks int `json:"blocks"`
}

// Result summarizes one traversal run.
type Result struct {
	Pages      int `json:"pages"`
	Blocks     int `json:"blocks"`
	Leaves     int `json:"leaves"`
	Activities int `json:"activities"`
	Failed     int `json:"failed"`
}

// Options tune batching and progress reporting.
type Options struct {
	// BatchSize is the number of pages per batch. Default 8.
	BatchSize int
	// OnProgress, when set, is called after each batch.
	OnProgress func(Progress)
}

const defaultBatchSize = 8

// Ingestor owns the page-tree walk. Blocks are visited iteratively through
// an explicit stack; provider depth never becomes call-stack depth.
type Ingestor struct {
	store  storage.Store
	source PageSource
	opts   Options
	log    *slog.Logger
}

// New creates a note ingestor.
func New(store storage.Store, source PageSource, opts Options) *Ingestor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Ingestor{
		store:  store,
		source: source,
		opts:   opts,
		log:    logging.Component("notes"),
	}
}

// Ingest walks the workspace. With seed page ids the walk is restricted to
// those pages; otherwise the whole workspace is discovered via search.
// Re-traversal updates mutable fields and never duplicates rows; stored
// abstracts survive unless the block text changed.
func (ing *Ingestor) Ingest(ctx context.Context, seedPageIDs []string) (*Result, error) {
	res := &Result{}

	var pages []Page
	if len(seedPageIDs) > 0 {
		for _, id := range seedPageIDs {
			p, err := ing.source.GetPage(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				res.Failed++
				ing.log.Warn("fetching seed page failed", "page", id, "error", err)
				continue
			}
			pages = append(pages, *p)
		}
	} else {
		var err error
		pages, err = ing.source.SearchPages(ctx)
		if err != nil {
			return res, fmt.Errorf("searching workspace: %w", err)
		}
	}

	batch := 0
	for start := 0; start < len(pages); start += ing.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch++
		end := start + ing.opts.BatchSize
		if end > len(pages) {
			end = len(pages)
		}
		for _, p := range pages[start:end] {
			if err := ing.ingestPage(ctx, p, res); err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				res.Failed++
				ing.log.Warn("page ingestion failed", "page", p.ID, "error", err)
				continue
			}
			res.Pages++
		}
		if ing.opts.OnProgress != nil {
			ing.opts.OnProgress(Progress{Batch: batch, Pages: res.Pages, Blocks: res.Blocks})
		}
	}

	ing.log.Info("note ingestion complete",
		"pages", res.Pages, "blocks", res.Blocks, "leaves", res.Leaves,
		"activities", res.Activities, "failed", res.Failed)
	return res, nil
}

// recordPageActivity upserts the RawActivity for a page edit. Pages with
// no known edit timestamp carry no date and are skipped.
func (ing *Ingestor) recordPageActivity(ctx context.Context, p Page) error {
	if p.LastEditedAt.IsZero() {
		return nil
	}

	link := p.URL
	if link == "" {
		link = p.ID
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = "Untitled"
	}
	payload, err := json.Marshal(map[string]string{"page_id": p.ID})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	edited := p.LastEditedAt.UTC()
	_, _, err = ing.store.UpsertRawActivity(ctx, &types.RawActivity{
		Date:          edited.Format("2006-01-02"),
		Time:          edited.Format("15:04"),
		Details:       title,
		Source:        types.SourceNotes,
		SourceLink:    link,
		SourcePayload: payload,
	})
	return err
}

// ingestPage upserts one page and walks its block tree depth-first with an
// explicit stack. A failed child fetch skips that subtree and continues.
func (ing *Ingestor) ingestPage(ctx context.Context, p Page, res *Result) error {
	err := ing.store.UpsertNotePage(ctx, &types.NotePage{
		PageID:       p.ID,
		Title:        p.Title,
		URL:          p.URL,
		LastEditedAt: p.LastEditedAt,
	})
	if err != nil {
		return fmt.Errorf("upserting page: %w", err)
	}

	// The page edit itself is an observation: one raw activity per page,
	// keyed on source_link so re-traversal updates in place. An activity
	// failure does not stop the block walk.
	if err := ing.recordPageActivity(ctx, p); err != nil {
		res.Failed++
		ing.log.Warn("recording page activity failed", "page", p.ID, "error", err)
	} else if !p.LastEditedAt.IsZero() {
		res.Activities++
	}

	// "" means the page root; anything else is a parent block id.
	stack := []string{""}
	for len(stack) > 0 {
		parent := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		container := parent
		if container == "" {
			container = p.ID
		}
		blocks, err := ing.source.ChildBlocks(ctx, container)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res.Failed++
			ing.log.Warn("fetching children failed, skipping subtree",
				"page", p.ID, "block", container, "error", err)
			continue
		}

		for _, b := range blocks {
			isLeaf := !b.HasChildren && b.TextBearing && strings.TrimSpace(b.Text) != ""
			err := ing.store.UpsertNoteBlock(ctx, &types.NoteBlock{
				BlockID:       b.ID,
				PageID:        p.ID,
				ParentBlockID: parent,
				BlockType:     b.Type,
				IsLeaf:        isLeaf,
				Text:          b.Text,
				LastEditedAt:  b.LastEditedAt,
			})
			if err != nil {
				res.Failed++
				ing.log.Warn("block upsert failed", "page", p.ID, "block", b.ID, "error", err)
				continue
			}
			res.Blocks++
			if isLeaf {
				res.Leaves++
			}
			if !b.LastEditedAt.IsZero() {
				if err := ing.store.AppendBlockEdit(ctx, b.ID, b.LastEditedAt); err != nil {
					ing.log.Warn("recording edit failed", "block", b.ID, "error", err)
				}
			}
			if b.HasChildren {
				stack = append(stack, b.ID)
			}
		}
	}
	return nil
}
