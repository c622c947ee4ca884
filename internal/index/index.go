// Package index fills abstracts and embeddings for leaf note blocks.
//
// An index run selects leaves that are missing either piece, produces a
// short abstract per block (LLM with a deterministic truncation fallback),
// and embeds the abstract under the configured model (provider with a
// deterministic hash fallback). Blocks with both pieces present are
// skipped, so runs are idempotent and cheap to repeat.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"text/template"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chronicle-dev/chronicle/internal/embed"
	"github.com/chronicle-dev/chronicle/internal/llm"
	"github.com/chronicle-dev/chronicle/internal/logging"
	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/types"
)

// Scope selects which leaves an index run visits.
type Scope string

const (
	// ScopeAll visits every leaf block missing an abstract or embedding.
	ScopeAll Scope = "all"
	// ScopeRecent restricts the run to leaves edited within the window.
	ScopeRecent Scope = "recent"
)

const (
	// DefaultRecentHours is the recent-scope window when none is given.
	DefaultRecentHours = 24

	// maxAbstractWords caps stored abstracts; the fallback truncates lower.
	maxAbstractWords      = 100
	fallbackAbstractWords = 60

	abstractMaxTokens = 300

	embedBatchSize   = 16
	embedConcurrency = 4
)

// ParseScope validates a scope string from the API layer. Empty defaults
// to recent.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeAll, ScopeRecent:
		return Scope(s), nil
	case "":
		return ScopeRecent, nil
	}
	return "", fmt.Errorf("invalid index scope %q (want all or recent)", s)
}

// Result summarizes one index run.
type Result struct {
	Blocks     int `json:"blocks"`     // leaves selected for work
	Abstracts  int `json:"abstracts"`  // abstracts written
	Embeddings int `json:"embeddings"` // vectors written
	Failed     int `json:"failed"`     // blocks with a failed store write
}

// Processed is the count of selected blocks brought fully up to date.
func (r Result) Processed() int { return r.Blocks - r.Failed }

// Indexer drives abstract and embedding generation for leaf blocks.
type Indexer struct {
	store    storage.Store
	llm      llm.Client // nil disables the LLM path; fallback abstracts only
	provider embed.Provider
	log      *slog.Logger
}

// New returns an Indexer over the given store and collaborators. A nil
// LLM client is allowed for offline operation.
func New(store storage.Store, client llm.Client, provider embed.Provider) *Indexer {
	return &Indexer{
		store:    store,
		llm:      client,
		provider: provider,
		log:      logging.Component("index"),
	}
}

// Index runs one pass over the selected leaves. hours bounds the recent
// scope and is ignored for scope all; hours <= 0 means DefaultRecentHours.
// Per-block failures are counted and logged, never propagated; the
// returned error reflects listing failures or context cancellation.
func (ix *Indexer) Index(ctx context.Context, scope Scope, hours int) (Result, error) {
	var res Result

	filter := storage.LeafFilter{
		MissingIndex: true,
		Model:        ix.provider.Model(),
	}
	switch scope {
	case ScopeAll:
	case ScopeRecent:
		if hours <= 0 {
			hours = DefaultRecentHours
		}
		// Stored edit times are UTC; the bound must match for the
		// text comparison in the store to hold.
		filter.EditedAfter = time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	default:
		return res, fmt.Errorf("invalid index scope %q (want all or recent)", scope)
	}

	start := time.Now()
	blocks, err := ix.store.ListLeafBlocks(ctx, filter)
	if err != nil {
		return res, fmt.Errorf("listing leaf blocks: %w", err)
	}
	res.Blocks = len(blocks)
	if len(blocks) == 0 {
		ix.log.Debug("nothing to index", "scope", scope)
		return res, nil
	}

	var (
		mu     sync.Mutex
		failed = make(map[string]bool)
	)
	markFailed := func(blockID string) {
		mu.Lock()
		failed[blockID] = true
		mu.Unlock()
	}

	abstracts, fallbacks, err := ix.fillAbstracts(ctx, blocks, markFailed)
	res.Abstracts = abstracts
	if err != nil {
		res.Failed = len(failed)
		return res, err
	}

	embedded, hashed, err := ix.fillEmbeddings(ctx, blocks, markFailed)
	res.Embeddings = embedded
	res.Failed = len(failed)
	if err != nil {
		return res, err
	}

	ix.log.Info("index run complete",
		"scope", scope,
		"blocks", res.Blocks,
		"abstracts", res.Abstracts,
		"abstract_fallbacks", fallbacks,
		"embeddings", res.Embeddings,
		"hash_fallbacks", hashed,
		"failed", res.Failed,
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	return res, nil
}

// fillAbstracts writes an abstract for every block lacking one. LLM calls
// run serially; a block whose store write fails is marked and skipped.
func (ix *Indexer) fillAbstracts(ctx context.Context, blocks []*types.NoteBlock, markFailed func(string)) (written, fallbacks int, err error) {
	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return written, fallbacks, err
		}
		if b.Abstract != "" {
			continue
		}

		abstract, fromFallback := ix.abstract(ctx, b.Text)
		if fromFallback {
			fallbacks++
		}
		if err := ix.store.SetBlockAbstract(ctx, b.BlockID, abstract); err != nil {
			ix.log.Warn("storing abstract failed", "block_id", b.BlockID, "error", err)
			markFailed(b.BlockID)
			continue
		}
		b.Abstract = abstract
		written++
	}
	return written, fallbacks, nil
}

// fillEmbeddings embeds blocks lacking a live vector for the provider's
// model. Batches fan out concurrently; a failed provider call downgrades
// the whole batch to hash vectors.
func (ix *Indexer) fillEmbeddings(ctx context.Context, blocks []*types.NoteBlock, markFailed func(string)) (int, int, error) {
	ids := make([]string, len(blocks))
	for i, b := range blocks {
		ids[i] = b.BlockID
	}
	existing, err := ix.store.GetEmbeddings(ctx, ix.provider.Model(), ids)
	if err != nil {
		return 0, 0, fmt.Errorf("loading existing embeddings: %w", err)
	}

	var need []*types.NoteBlock
	for _, b := range blocks {
		if existing[b.BlockID] == nil {
			need = append(need, b)
		}
	}
	if len(need) == 0 {
		return 0, 0, nil
	}

	var written, hashed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for start := 0; start < len(need); start += embedBatchSize {
		batch := need[start:min(start+embedBatchSize, len(need))]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			docs := make([]string, len(batch))
			for i, b := range batch {
				docs[i] = embedDoc(b)
			}

			model, dim := ix.provider.Model(), ix.provider.Dim()
			vecs, err := ix.provider.Embed(gctx, docs)
			if err != nil || len(vecs) != len(docs) {
				if err == nil {
					err = fmt.Errorf("provider returned %d vectors for %d documents", len(vecs), len(docs))
				}
				ix.log.Warn("embedding provider failed, using hash vectors", "model", model, "error", err)
				model, dim = embed.HashModel, embed.HashDim
				vecs = make([][]float32, len(docs))
				for i, doc := range docs {
					vecs[i] = embed.HashVector(doc)
				}
				hashed.Add(int64(len(batch)))
			}

			for i, b := range batch {
				e := &types.Embedding{BlockID: b.BlockID, Model: model, Vector: vecs[i], Dim: dim}
				if err := ix.store.UpsertEmbedding(gctx, e); err != nil {
					ix.log.Warn("storing embedding failed", "block_id", b.BlockID, "error", err)
					markFailed(b.BlockID)
					continue
				}
				written.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(written.Load()), int(hashed.Load()), err
	}
	return int(written.Load()), int(hashed.Load()), nil
}

// abstract produces the summary for one block. The second return reports
// whether the deterministic fallback was used.
func (ix *Indexer) abstract(ctx context.Context, text string) (string, bool) {
	if ix.llm == nil {
		return fallbackAbstract(text), true
	}

	prompt, err := renderAbstractPrompt(text)
	if err != nil {
		return fallbackAbstract(text), true
	}
	out, err := ix.llm.Complete(ctx, llm.Request{
		Prompt:    prompt,
		MaxTokens: abstractMaxTokens,
		Operation: "abstract",
	})
	if err != nil {
		ix.log.Warn("abstract generation failed, using truncation fallback", "error", err)
		return fallbackAbstract(text), true
	}

	words := strings.Fields(out)
	if len(words) == 0 {
		return fallbackAbstract(text), true
	}
	if len(words) > maxAbstractWords {
		words = words[:maxAbstractWords]
	}
	return strings.Join(words, " "), false
}

// embedDoc picks the document to embed: the abstract, or the raw text
// when no abstract could be stored.
func embedDoc(b *types.NoteBlock) string {
	if b.Abstract != "" {
		return b.Abstract
	}
	return b.Text
}

// fallbackAbstract whitespace-normalizes the text and truncates it to a
// fixed word budget. Shorter texts pass through unchanged.
func fallbackAbstract(text string) string {
	words := strings.Fields(text)
	if len(words) > fallbackAbstractWords {
		words = words[:fallbackAbstractWords]
	}
	return strings.Join(words, " ")
}

var abstractTmpl = template.Must(template.New("abstract").Parse(abstractPromptTemplate))

func renderAbstractPrompt(text string) (string, error) {
	var sb strings.Builder
	if err := abstractTmpl.Execute(&sb, struct{ Text string }{Text: text}); err != nil {
		return "", err
	}
	return sb.String(), nil
}

const abstractPromptTemplate = `You are indexing a personal note for semantic search. Write an abstract of the note below in 30-100 words. Capture the concrete topics, names, decisions, and outcomes so the note can be found later. Plain prose only - no headers, no bullets, no commentary.

Note:
{{.Text}}`
