package notes

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/storage/sqlite"
	"github.com/chronicle-dev/chronicle/internal/types"
)

type fakeWorkspace struct {
	pages     []Page
	children  map[string][]Block
	fetchErrs map[string]error
	searchErr error

	searchCalls int
	getCalls    int
}

func (f *fakeWorkspace) SearchPages(_ context.Context) ([]Page, error) {
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.pages, nil
}

func (f *fakeWorkspace) GetPage(_ context.Context, pageID string) (*Page, error) {
	f.getCalls++
	for _, p := range f.pages {
		if p.ID == pageID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("page %s not found", pageID)
}

func (f *fakeWorkspace) ChildBlocks(_ context.Context, blockID string) ([]Block, error) {
	if err := f.fetchErrs[blockID]; err != nil {
		return nil, err
	}
	return f.children[blockID], nil
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "chronicle.db"), 0)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var edited = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// treeWorkspace builds one page with a paragraph leaf, a toggle containing a
// nested leaf, a divider, and an empty paragraph.
func treeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{
		pages: []Page{{ID: "page-1", Title: "Journal", URL: "https://notes/page-1", LastEditedAt: edited}},
		children: map[string][]Block{
			"page-1": {
				{ID: "b-leaf", Type: "paragraph", TextBearing: true, Text: "Reviewed auth design", LastEditedAt: edited},
				{ID: "b-toggle", Type: "toggle", TextBearing: true, Text: "Work log", HasChildren: true, LastEditedAt: edited},
				{ID: "b-divider", Type: "divider"},
				{ID: "b-empty", Type: "paragraph", TextBearing: true, Text: "   "},
			},
			"b-toggle": {
				{ID: "b-nested", Type: "bulleted_list_item", TextBearing: true, Text: "Shipped the retry fix", LastEditedAt: edited.Add(time.Hour)},
			},
		},
	}
}

func TestIngestWalksTreeAndMarksLeaves(t *testing.T) {
	store := newTestStore(t)
	ws := treeWorkspace()
	ing := New(store, ws, Options{})
	ctx := context.Background()

	res, err := ing.Ingest(ctx, nil)
	if err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	if res.Pages != 1 || res.Blocks != 5 || res.Leaves != 2 || res.Failed != 0 {
		t.Errorf("result = %+v, want 1 page, 5 blocks, 2 leaves", res)
	}

	page, err := store.GetNotePage(ctx, "page-1")
	if err != nil {
		t.Fatalf("page not stored: %v", err)
	}
	if page.Title != "Journal" {
		t.Errorf("title = %q, want Journal", page.Title)
	}

	tests := []struct {
		blockID    string
		wantParent string
		wantLeaf   bool
	}{
		{"b-leaf", "", true},
		{"b-toggle", "", false},  // has children
		{"b-divider", "", false}, // not text-bearing
		{"b-empty", "", false},   // no text
		{"b-nested", "b-toggle", true},
	}
	for _, tt := range tests {
		b, err := store.GetNoteBlock(ctx, tt.blockID)
		if err != nil {
			t.Fatalf("block %s not stored: %v", tt.blockID, err)
		}
		if b.ParentBlockID != tt.wantParent {
			t.Errorf("%s parent = %q, want %q", tt.blockID, b.ParentBlockID, tt.wantParent)
		}
		if b.IsLeaf != tt.wantLeaf {
			t.Errorf("%s is_leaf = %v, want %v", tt.blockID, b.IsLeaf, tt.wantLeaf)
		}
	}

	n, err := store.CountChildBlocks(ctx, "b-toggle")
	if err != nil {
		t.Fatalf("counting children: %v", err)
	}
	if n != 1 {
		t.Errorf("toggle children = %d, want 1", n)
	}
}

func TestIngestIdempotent(t *testing.T) {
	store := newTestStore(t)
	ws := treeWorkspace()
	ing := New(store, ws, Options{})
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, nil); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if _, err := ing.Ingest(ctx, nil); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.NoteBlocks != 5 {
		t.Errorf("note blocks after re-ingest = %d, want 5", stats.NoteBlocks)
	}
	if stats.NotePages != 1 {
		t.Errorf("note pages after re-ingest = %d, want 1", stats.NotePages)
	}
}

func TestIngestSeedPagesSkipsSearch(t *testing.T) {
	store := newTestStore(t)
	ws := treeWorkspace()
	ing := New(store, ws, Options{})

	res, err := ing.Ingest(context.Background(), []string{"page-1", "page-missing"})
	if err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	if ws.searchCalls != 0 {
		t.Errorf("search called %d times with explicit seeds, want 0", ws.searchCalls)
	}
	if ws.getCalls != 2 {
		t.Errorf("GetPage called %d times, want 2", ws.getCalls)
	}
	if res.Pages != 1 || res.Failed != 1 {
		t.Errorf("result = %+v, want 1 page ingested, 1 failed seed", res)
	}
}

func TestIngestSearchFailureAborts(t *testing.T) {
	store := newTestStore(t)
	ws := &fakeWorkspace{searchErr: errors.New("http 503")}
	ing := New(store, ws, Options{})

	if _, err := ing.Ingest(context.Background(), nil); err == nil {
		t.Fatal("Ingest() should fail when workspace search fails")
	}
}

func TestIngestSubtreeFailureContinues(t *testing.T) {
	store := newTestStore(t)
	ws := treeWorkspace()
	ws.fetchErrs = map[string]error{"b-toggle": errors.New("http 500")}
	ing := New(store, ws, Options{})
	ctx := context.Background()

	res, err := ing.Ingest(ctx, nil)
	if err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("failed = %d, want 1 for the broken subtree", res.Failed)
	}
	// Top-level blocks still landed.
	if _, err := store.GetNoteBlock(ctx, "b-leaf"); err != nil {
		t.Errorf("sibling block should be stored: %v", err)
	}
	// The unreachable child did not.
	if _, err := store.GetNoteBlock(ctx, "b-nested"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("nested block error = %v, want not found", err)
	}
}

func TestIngestBatchesAndReportsProgress(t *testing.T) {
	store := newTestStore(t)
	ws := &fakeWorkspace{children: map[string][]Block{}}
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("page-%d", i)
		ws.pages = append(ws.pages, Page{ID: id, Title: id, LastEditedAt: edited})
		ws.children[id] = []Block{
			{ID: id + "-b", Type: "paragraph", TextBearing: true, Text: "entry", LastEditedAt: edited},
		}
	}

	var progress []Progress
	ing := New(store, ws, Options{
		BatchSize:  2,
		OnProgress: func(p Progress) { progress = append(progress, p) },
	})

	res, err := ing.Ingest(context.Background(), nil)
	if err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	if res.Pages != 5 || res.Blocks != 5 {
		t.Errorf("result = %+v, want 5 pages and 5 blocks", res)
	}
	if len(progress) != 3 {
		t.Fatalf("got %d progress reports, want 3 (batches of 2,2,1)", len(progress))
	}
	last := progress[len(progress)-1]
	if last.Batch != 3 || last.Pages != 5 || last.Blocks != 5 {
		t.Errorf("final progress = %+v, want batch 3 with all work counted", last)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i].Pages < progress[i-1].Pages {
			t.Errorf("pages progressed backwards: %+v", progress)
		}
	}
}

func TestIngestRecordsPageActivity(t *testing.T) {
	store := newTestStore(t)
	ws := treeWorkspace()
	ing := New(store, ws, Options{})
	ctx := context.Background()

	res, err := ing.Ingest(ctx, nil)
	if err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	if res.Activities != 1 {
		t.Errorf("activities = %d, want 1", res.Activities)
	}

	acts, total, err := store.ListRawActivities(ctx, types.ActivityFilter{Source: types.SourceNotes, Limit: 10})
	if err != nil {
		t.Fatalf("listing raw activities: %v", err)
	}
	if total != 1 {
		t.Fatalf("raw activities = %d, want 1 per page", total)
	}
	a := acts[0]
	if a.SourceLink != "https://notes/page-1" {
		t.Errorf("source_link = %q, want page URL", a.SourceLink)
	}
	if a.Date != "2026-03-01" || a.Time != "12:00" {
		t.Errorf("date/time = %s %s, want 2026-03-01 12:00", a.Date, a.Time)
	}
	if a.Details != "Journal" {
		t.Errorf("details = %q, want page title", a.Details)
	}

	// Re-traversal updates the row keyed on source_link, never duplicates.
	ws.pages[0].Title = "Journal (renamed)"
	if _, err := ing.Ingest(ctx, nil); err != nil {
		t.Fatalf("re-ingest failed: %v", err)
	}
	acts, total, err = store.ListRawActivities(ctx, types.ActivityFilter{Source: types.SourceNotes, Limit: 10})
	if err != nil {
		t.Fatalf("listing raw activities: %v", err)
	}
	if total != 1 {
		t.Fatalf("raw activities after re-ingest = %d, want 1", total)
	}
	if acts[0].Details != "Journal (renamed)" {
		t.Errorf("details = %q, want updated title", acts[0].Details)
	}
}

func TestIngestRecordsEditHistory(t *testing.T) {
	store := newTestStore(t)
	ws := treeWorkspace()
	ing := New(store, ws, Options{})
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, nil); err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}

	blocks, err := store.ListLeafBlocks(ctx, storage.LeafFilter{EditedAfter: edited.Add(30 * time.Minute)})
	if err != nil {
		t.Fatalf("leaf filter: %v", err)
	}
	if len(blocks) != 1 || blocks[0].BlockID != "b-nested" {
		ids := make([]string, len(blocks))
		for i, b := range blocks {
			ids[i] = b.BlockID
		}
		t.Errorf("leaves edited after cutoff = %v, want [b-nested]", ids)
	}

	// Divider and empty paragraph carry no timestamp, so three blocks leave
	// history rows. Re-ingestion must not duplicate them.
	if _, err := ing.Ingest(ctx, nil); err != nil {
		t.Fatalf("re-ingest failed: %v", err)
	}
	var n int
	err = store.(*sqlite.Store).UnderlyingDB().
		QueryRow(`SELECT COUNT(*) FROM note_block_edits`).Scan(&n)
	if err != nil {
		t.Fatalf("counting edits: %v", err)
	}
	if n != 3 {
		t.Errorf("edit rows = %d, want 3", n)
	}
}
