package index

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chronicle-dev/chronicle/internal/embed"
	"github.com/chronicle-dev/chronicle/internal/llm"
	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/storage/sqlite"
	"github.com/chronicle-dev/chronicle/internal/types"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "chronicle.db"), 0)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedLeaf(t *testing.T, store storage.Store, blockID, text string, editedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	err := store.UpsertNotePage(ctx, &types.NotePage{
		PageID: "page-1", Title: "Journal", LastEditedAt: editedAt,
	})
	if err != nil {
		t.Fatalf("seeding page: %v", err)
	}
	err = store.UpsertNoteBlock(ctx, &types.NoteBlock{
		BlockID: blockID, PageID: "page-1", BlockType: "paragraph",
		IsLeaf: true, Text: text, LastEditedAt: editedAt,
	})
	if err != nil {
		t.Fatalf("seeding block %s: %v", blockID, err)
	}
}

// fakeLLM returns a canned abstract or a fixed error.
type fakeLLM struct {
	out   string
	err   error
	calls atomic.Int64
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

func (f *fakeLLM) Model() string { return "fake-model" }

// fakeProvider simulates a remote embedding service.
type fakeProvider struct {
	model string
	dim   int
	err   error
	short bool // drop one vector to simulate a count mismatch
	calls atomic.Int64
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	n := len(texts)
	if f.short && n > 0 {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		vec := make([]float32, f.dim)
		for j := range vec {
			vec[j] = 1
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeProvider) Model() string { return f.model }
func (f *fakeProvider) Dim() int      { return f.dim }

func wordsOf(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestIndexAllFillsAbstractsAndEmbeddings(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	seedLeaf(t, store, "b-1", "Team sync about auth module. Implemented OAuth2 and JWT middleware.", now)
	seedLeaf(t, store, "b-2", "Grocery run and meal prep for the week.", now)

	mock := &fakeLLM{out: wordsOf(40)}
	ix := New(store, mock, embed.NewHash())

	res, err := ix.Index(context.Background(), ScopeAll, 0)
	if err != nil {
		t.Fatalf("Index() failed: %v", err)
	}
	if res.Blocks != 2 || res.Abstracts != 2 || res.Embeddings != 2 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.Processed() != 2 {
		t.Errorf("Processed() = %d, want 2", res.Processed())
	}

	b, err := store.GetNoteBlock(context.Background(), "b-1")
	if err != nil {
		t.Fatalf("GetNoteBlock: %v", err)
	}
	if n := len(strings.Fields(b.Abstract)); n != 40 {
		t.Errorf("abstract has %d words, want 40", n)
	}

	e, err := store.GetEmbedding(context.Background(), "b-1", embed.HashModel)
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if e.Dim != embed.HashDim {
		t.Errorf("dim = %d, want %d", e.Dim, embed.HashDim)
	}

	// The abstract, not the raw text, is the embedded document.
	want := embed.HashVector(b.Abstract)
	for i := range want {
		if e.Vector[i] != want[i] {
			t.Fatalf("vector[%d] = %g, want %g (abstract should be embedded)", i, e.Vector[i], want[i])
		}
	}
}

func TestIndexSkipsUpToDateBlocks(t *testing.T) {
	store := newTestStore(t)
	seedLeaf(t, store, "b-1", "Reviewed the retry design with the platform team today.", time.Now().UTC())

	mock := &fakeLLM{out: wordsOf(35)}
	ix := New(store, mock, embed.NewHash())

	if _, err := ix.Index(context.Background(), ScopeAll, 0); err != nil {
		t.Fatalf("first Index() failed: %v", err)
	}
	res, err := ix.Index(context.Background(), ScopeAll, 0)
	if err != nil {
		t.Fatalf("second Index() failed: %v", err)
	}
	if res.Blocks != 0 {
		t.Errorf("second run selected %d blocks, want 0", res.Blocks)
	}
	if n := mock.calls.Load(); n != 1 {
		t.Errorf("LLM called %d times, want 1", n)
	}
}

func TestIndexRecentWindow(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	seedLeaf(t, store, "b-old", "Old quarterly planning notes from before the reorg.", now.Add(-48*time.Hour))
	seedLeaf(t, store, "b-new", "Debugged the flaky websocket reconnect test this morning.", now.Add(-time.Hour))

	ix := New(store, &fakeLLM{out: wordsOf(33)}, embed.NewHash())

	res, err := ix.Index(context.Background(), ScopeRecent, 24)
	if err != nil {
		t.Fatalf("Index() failed: %v", err)
	}
	if res.Blocks != 1 {
		t.Fatalf("recent run selected %d blocks, want 1", res.Blocks)
	}

	old, err := store.GetNoteBlock(context.Background(), "b-old")
	if err != nil {
		t.Fatalf("GetNoteBlock: %v", err)
	}
	if old.Abstract != "" {
		t.Errorf("old block gained an abstract %q, want untouched", old.Abstract)
	}
}

func TestIndexLLMFailureFallsBackToTruncation(t *testing.T) {
	store := newTestStore(t)
	text := wordsOf(80)
	seedLeaf(t, store, "b-1", text, time.Now().UTC())

	ix := New(store, &fakeLLM{err: errors.New("model overloaded")}, embed.NewHash())

	res, err := ix.Index(context.Background(), ScopeAll, 0)
	if err != nil {
		t.Fatalf("Index() failed: %v", err)
	}
	if res.Failed != 0 || res.Abstracts != 1 {
		t.Fatalf("result = %+v", res)
	}

	b, err := store.GetNoteBlock(context.Background(), "b-1")
	if err != nil {
		t.Fatalf("GetNoteBlock: %v", err)
	}
	got := strings.Fields(b.Abstract)
	if len(got) != fallbackAbstractWords {
		t.Errorf("fallback abstract has %d words, want %d", len(got), fallbackAbstractWords)
	}
	if got[0] != "w0" {
		t.Errorf("fallback should be a prefix of the text, starts with %q", got[0])
	}
}

func TestIndexNilLLMUsesFallback(t *testing.T) {
	store := newTestStore(t)
	seedLeaf(t, store, "b-1", "Short   note\nwith uneven   whitespace.", time.Now().UTC())

	ix := New(store, nil, embed.NewHash())

	if _, err := ix.Index(context.Background(), ScopeAll, 0); err != nil {
		t.Fatalf("Index() failed: %v", err)
	}
	b, err := store.GetNoteBlock(context.Background(), "b-1")
	if err != nil {
		t.Fatalf("GetNoteBlock: %v", err)
	}
	if b.Abstract != "Short note with uneven whitespace." {
		t.Errorf("abstract = %q, want whitespace-normalized text", b.Abstract)
	}
}

func TestIndexClampsOversizedAbstracts(t *testing.T) {
	store := newTestStore(t)
	seedLeaf(t, store, "b-1", "A long meeting recap.", time.Now().UTC())

	ix := New(store, &fakeLLM{out: wordsOf(150)}, embed.NewHash())

	if _, err := ix.Index(context.Background(), ScopeAll, 0); err != nil {
		t.Fatalf("Index() failed: %v", err)
	}
	b, err := store.GetNoteBlock(context.Background(), "b-1")
	if err != nil {
		t.Fatalf("GetNoteBlock: %v", err)
	}
	if n := len(strings.Fields(b.Abstract)); n != maxAbstractWords {
		t.Errorf("abstract has %d words, want clamp to %d", n, maxAbstractWords)
	}
}

func TestIndexProviderFailureFallsBackToHash(t *testing.T) {
	store := newTestStore(t)
	seedLeaf(t, store, "b-1", "Sketched the migration plan for the billing tables.", time.Now().UTC())

	remote := &fakeProvider{model: "text-embedding-3-small", dim: 1536, err: errors.New("quota exceeded")}
	ix := New(store, &fakeLLM{out: wordsOf(31)}, remote)

	res, err := ix.Index(context.Background(), ScopeAll, 0)
	if err != nil {
		t.Fatalf("Index() failed: %v", err)
	}
	if res.Failed != 0 || res.Embeddings != 1 {
		t.Fatalf("result = %+v", res)
	}

	ctx := context.Background()
	if _, err := store.GetEmbedding(ctx, "b-1", embed.HashModel); err != nil {
		t.Fatalf("hash-model embedding missing: %v", err)
	}
	if _, err := store.GetEmbedding(ctx, "b-1", remote.Model()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("provider-model embedding err = %v, want ErrNotFound", err)
	}

	// The block still lacks a provider-model vector, so the next run
	// retries it (and skips the abstract, which is already stored).
	res, err = ix.Index(context.Background(), ScopeAll, 0)
	if err != nil {
		t.Fatalf("second Index() failed: %v", err)
	}
	if res.Blocks != 1 || res.Abstracts != 0 {
		t.Fatalf("second run result = %+v, want retry without abstract rewrite", res)
	}
}

func TestIndexProviderCountMismatchFallsBack(t *testing.T) {
	store := newTestStore(t)
	seedLeaf(t, store, "b-1", "Paired on the cache eviction bug.", time.Now().UTC())
	seedLeaf(t, store, "b-2", "Wrote the incident review draft.", time.Now().UTC())

	remote := &fakeProvider{model: "text-embedding-3-small", dim: 1536, short: true}
	ix := New(store, &fakeLLM{out: wordsOf(30)}, remote)

	res, err := ix.Index(context.Background(), ScopeAll, 0)
	if err != nil {
		t.Fatalf("Index() failed: %v", err)
	}
	if res.Embeddings != 2 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
	for _, id := range []string{"b-1", "b-2"} {
		if _, err := store.GetEmbedding(context.Background(), id, embed.HashModel); err != nil {
			t.Errorf("block %s missing hash embedding: %v", id, err)
		}
	}
}

func TestIndexRejectsUnknownScope(t *testing.T) {
	store := newTestStore(t)
	ix := New(store, nil, embed.NewHash())
	if _, err := ix.Index(context.Background(), Scope("hourly"), 0); err == nil {
		t.Fatal("Index() should reject unknown scope")
	}
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in      string
		want    Scope
		wantErr bool
	}{
		{"all", ScopeAll, false},
		{"recent", ScopeRecent, false},
		{"", ScopeRecent, false},
		{"ALL", "", true},
		{"everything", "", true},
	}
	for _, tt := range tests {
		got, err := ParseScope(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseScope(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseScope(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseScope(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFallbackAbstract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short text unchanged", "one two three", "one two three"},
		{"whitespace normalized", "  a\t b\nc  ", "a b c"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		if got := fallbackAbstract(tt.in); got != tt.want {
			t.Errorf("%s: fallbackAbstract() = %q, want %q", tt.name, got, tt.want)
		}
	}

	long := fallbackAbstract(wordsOf(200))
	if n := len(strings.Fields(long)); n != fallbackAbstractWords {
		t.Errorf("long text truncated to %d words, want %d", n, fallbackAbstractWords)
	}
}
