// Package tagger assigns 1-3 taxonomy tags to each raw activity and
// persists the processed activity with its tag links.
//
// Tags come from a cascade: a cheap synonym/keyword pass over the active
// taxonomy, an LLM pass constrained to the taxonomy vocabulary, content
// heuristics, and a terminal fallback. Later stages run only when earlier
// ones produce nothing acceptable, so most activities never touch the LLM.
package tagger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/chronicle-dev/chronicle/internal/llm"
	"github.com/chronicle-dev/chronicle/internal/logging"
	"github.com/chronicle-dev/chronicle/internal/retrieve"
	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/taxonomy"
	"github.com/chronicle-dev/chronicle/internal/types"
)

const (
	// acceptThreshold ends the cascade after the synonym/keyword pass.
	acceptThreshold = 0.7
	// DefaultReviewThreshold flags low-confidence decisions for review.
	DefaultReviewThreshold = 0.5

	maxTags = 3

	shortcutConfidence = 0.95
	synonymCap         = 0.9
	keywordCap         = 0.8

	fuzzyThreshold = 0.8

	fallbackTag        = "personal"
	fallbackConfidence = 0.3

	tagMaxTokens = 256
)

// TagContext is the input the cascade sees for one activity. NoteContext
// carries retrieved note abstracts; only the LLM pass sees it, so the
// deterministic confidences stay a function of the activity text alone.
type TagContext struct {
	ActivityText string
	Source       string
	Duration     int
	TimeOfDay    string
	TaxonomyTags []string
	NoteContext  string
}

// Decision is the cascade outcome for one activity. Stage names the
// mechanism that produced the winning tag.
type Decision struct {
	Tags        []types.TagAssignment
	Stage       string
	NeedsReview bool
}

// Options tune a Tagger. Zero values take defaults.
type Options struct {
	ReviewThreshold float64 // <= 0 means DefaultReviewThreshold
	LogFile         string  // JSONL decision log; empty disables
}

// Tagger runs the cascade and persists results. Safe for concurrent use;
// the active taxonomy is swapped atomically on reload.
type Tagger struct {
	store     storage.Store
	llm       llm.Client          // nil skips the LLM pass
	retriever *retrieve.Retriever // nil skips note context enrichment

	mu  sync.RWMutex
	tax taxonomy.Taxonomy
	syn taxonomy.Synonyms

	reviewThreshold float64
	decisions       *DecisionLog
	log             *slog.Logger
}

// New returns a Tagger seeded with the latest stored taxonomy (or the
// built-in defaults when none exists).
func New(ctx context.Context, store storage.Store, client llm.Client, opts Options) (*Tagger, error) {
	tax, syn, _, err := taxonomy.Load(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("loading taxonomy: %w", err)
	}
	if opts.ReviewThreshold <= 0 {
		opts.ReviewThreshold = DefaultReviewThreshold
	}
	return &Tagger{
		store:           store,
		llm:             client,
		tax:             tax,
		syn:             syn,
		reviewThreshold: opts.ReviewThreshold,
		decisions:       NewDecisionLog(opts.LogFile),
		log:             logging.Component("tagger"),
	}, nil
}

// SetRetriever enables note context enrichment: calendar activities get
// the abstracts of same-day note blocks appended to their LLM prompt.
func (t *Tagger) SetRetriever(r *retrieve.Retriever) {
	t.retriever = r
}

// SetTaxonomy swaps the active pair. Used by the seed watcher and after
// taxonomy rebuilds.
func (t *Tagger) SetTaxonomy(tax taxonomy.Taxonomy, syn taxonomy.Synonyms) {
	t.mu.Lock()
	t.tax = tax
	t.syn = syn
	t.mu.Unlock()
}

// ReloadTaxonomy re-reads the latest stored artifacts.
func (t *Tagger) ReloadTaxonomy(ctx context.Context) error {
	tax, syn, version, err := taxonomy.Load(ctx, t.store)
	if err != nil {
		return err
	}
	t.SetTaxonomy(tax, syn)
	t.log.Debug("taxonomy reloaded", "version", version, "categories", len(tax))
	return nil
}

// Close releases the decision log.
func (t *Tagger) Close() error {
	return t.decisions.Close()
}

func (t *Tagger) active() (taxonomy.Taxonomy, taxonomy.Synonyms) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tax, t.syn
}

// ContextFor builds the cascade input for a raw activity. With a
// retriever configured, calendar activities also get same-day note
// abstracts as LLM context; retrieval failure just means no context.
func (t *Tagger) ContextFor(ctx context.Context, raw *types.RawActivity) TagContext {
	tax, _ := t.active()
	tc := TagContext{
		ActivityText: raw.Details,
		Source:       string(raw.Source),
		Duration:     raw.DurationMinutes,
		TimeOfDay:    timeOfDay(raw.Time),
		TaxonomyTags: tax.Names(),
	}
	if t.retriever != nil && raw.Source == types.SourceCalendar {
		tc.NoteContext = t.noteContext(ctx, raw)
	}
	return tc
}

const noteContextK = 3

// noteContext joins the abstracts of the top same-day note blocks.
func (t *Tagger) noteContext(ctx context.Context, raw *types.RawActivity) string {
	scored, err := t.retriever.RetrieveByDate(ctx, raw.Details, raw.Date, retrieve.DefaultDaysWindow, noteContextK)
	if err != nil {
		t.log.Debug("note context retrieval failed, tagging without it",
			"raw_id", raw.ID, "error", err)
		return ""
	}
	var parts []string
	for _, sb := range scored {
		text := sb.Block.Abstract
		if text == "" {
			text = sb.Block.Text
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// timeOfDay buckets an HH:MM wall time.
func timeOfDay(hhmm string) string {
	if len(hhmm) < 2 {
		return "unknown"
	}
	switch hour := hhmm[:2]; {
	case hour >= "05" && hour < "12":
		return "morning"
	case hour >= "12" && hour < "17":
		return "afternoon"
	case hour >= "17" && hour < "22":
		return "evening"
	default:
		return "night"
	}
}

// candidate is an in-cascade tag with its provenance.
type candidate struct {
	name  string
	conf  float64
	stage string
}

// Assign runs the cascade for one context. It always returns 1-3 tags.
func (t *Tagger) Assign(ctx context.Context, tc TagContext) Decision {
	tax, syn := t.active()

	cands := synonymPass(tc.ActivityText, tax, syn)
	if best(cands) >= acceptThreshold {
		return t.finish(cands)
	}

	if llmCands := t.llmPass(ctx, tc, tax); len(llmCands) > 0 {
		return t.finish(llmCands)
	}

	if heurCands := heuristicPass(tc.ActivityText, tax); len(heurCands) > 0 {
		return t.finish(heurCands)
	}

	return t.finish([]candidate{{name: fallbackTag, conf: fallbackConfidence, stage: "fallback"}})
}

// finish dedupes, clamps to the top three, and sets the review flag.
func (t *Tagger) finish(cands []candidate) Decision {
	cands = dedupe(cands)
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].conf != cands[j].conf {
			return cands[i].conf > cands[j].conf
		}
		return cands[i].name < cands[j].name
	})
	if len(cands) > maxTags {
		cands = cands[:maxTags]
	}

	dec := Decision{
		Tags:        make([]types.TagAssignment, len(cands)),
		Stage:       cands[0].stage,
		NeedsReview: cands[0].conf < t.reviewThreshold,
	}
	for i, c := range cands {
		dec.Tags[i] = types.TagAssignment{Name: c.name, Confidence: c.conf}
	}
	return dec
}

func best(cands []candidate) float64 {
	b := 0.0
	for _, c := range cands {
		if c.conf > b {
			b = c.conf
		}
	}
	return b
}

func dedupe(cands []candidate) []candidate {
	byName := make(map[string]candidate, len(cands))
	for _, c := range cands {
		if prev, ok := byName[c.name]; !ok || c.conf > prev.conf {
			byName[c.name] = c
		}
	}
	out := make([]candidate, 0, len(byName))
	for _, c := range byName {
		out = append(out, c)
	}
	return out
}

// synonymPass scores categories by personal shortcuts, general synonyms,
// and keyword hits found as substrings of the activity text.
func synonymPass(text string, tax taxonomy.Taxonomy, syn taxonomy.Synonyms) []candidate {
	lower := strings.ToLower(text)
	var cands []candidate

	for shortcut, categories := range syn.PersonalShortcuts {
		if !strings.Contains(lower, shortcut) {
			continue
		}
		for _, cat := range categories {
			cands = append(cands, candidate{name: cat, conf: shortcutConfidence, stage: "shortcut"})
		}
	}

	for cat, terms := range syn.Categories {
		for _, term := range terms {
			if term == "" || !strings.Contains(lower, term) {
				continue
			}
			conf := float64(len(term)) / 20
			if conf > synonymCap {
				conf = synonymCap
			}
			cands = append(cands, candidate{name: cat, conf: conf, stage: "synonym"})
		}
	}

	for cat, def := range tax {
		if len(def.Keywords) == 0 {
			continue
		}
		matches := 0
		for _, kw := range def.Keywords {
			if kw != "" && strings.Contains(lower, kw) {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		conf := float64(matches) / float64(len(def.Keywords)) * 2
		if conf > keywordCap {
			conf = keywordCap
		}
		cands = append(cands, candidate{name: cat, conf: conf, stage: "keyword"})
	}
	return dedupe(cands)
}

// llmPass asks the model to choose from the taxonomy vocabulary. A parse
// failure degrades to comma splitting with fuzzy matching; any other
// failure yields nothing and the cascade moves on.
func (t *Tagger) llmPass(ctx context.Context, tc TagContext, tax taxonomy.Taxonomy) []candidate {
	if t.llm == nil || len(tc.TaxonomyTags) == 0 {
		return nil
	}

	prompt, err := renderTagPrompt(tc)
	if err != nil {
		t.log.Warn("rendering tag prompt failed", "error", err)
		return nil
	}
	out, err := t.llm.Complete(ctx, llm.Request{
		Prompt:    prompt,
		MaxTokens: tagMaxTokens,
		Operation: "tag",
	})
	if err != nil {
		t.log.Warn("tag generation failed, falling through to heuristics", "error", err)
		return nil
	}

	var payload struct {
		Tags []struct {
			Name       string  `json:"name"`
			Confidence float64 `json:"confidence"`
		} `json:"tags"`
	}
	if err := llm.ParseJSONRelaxed(out, &payload); err != nil {
		return fuzzyMap(out, tc.TaxonomyTags)
	}

	var cands []candidate
	for _, tag := range payload.Tags {
		name := types.NormalizeTagName(tag.Name)
		if !tax.Has(name) {
			continue
		}
		conf := tag.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		cands = append(cands, candidate{name: name, conf: conf, stage: "llm"})
	}
	return dedupe(cands)
}

// fuzzyMap salvages a non-JSON response: split on commas and keep tokens
// that map onto a taxonomy tag at the similarity threshold. The ratio
// doubles as the confidence.
func fuzzyMap(out string, vocab []string) []candidate {
	var cands []candidate
	for _, token := range strings.Split(out, ",") {
		token = types.NormalizeTagName(strings.Trim(token, " \t\r\n\"'{}[]().:;"))
		if token == "" {
			continue
		}
		bestTag, bestRatio := "", 0.0
		for _, tag := range vocab {
			if r := ratio(token, tag); r > bestRatio {
				bestTag, bestRatio = tag, r
			}
		}
		if bestRatio >= fuzzyThreshold {
			cands = append(cands, candidate{name: bestTag, conf: bestRatio, stage: "fuzzy"})
		}
	}
	return dedupe(cands)
}

// TagActivity runs the cascade for one raw activity and persists the
// processed activity with its tag links in one transaction.
func (t *Tagger) TagActivity(ctx context.Context, raw *types.RawActivity) (*types.ProcessedActivity, Decision, error) {
	dec := t.Assign(ctx, t.ContextFor(ctx, raw))

	pa := &types.ProcessedActivity{
		Date:                 raw.Date,
		Time:                 raw.Time,
		TotalDurationMinutes: raw.DurationMinutes,
		CombinedDetails:      raw.Details,
		RawActivityIDs:       []int64{raw.ID},
		Sources:              []string{string(raw.Source)},
	}

	err := t.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		id, err := tx.CreateProcessedActivity(ctx, pa)
		if err != nil {
			return err
		}
		pa.ID = id
		for _, assignment := range dec.Tags {
			tag, err := ensureTag(ctx, tx, assignment.Name)
			if err != nil {
				return err
			}
			err = tx.AddActivityTag(ctx, &types.ActivityTag{
				ProcessedActivityID: id,
				TagID:               tag.ID,
				Confidence:          assignment.Confidence,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, dec, fmt.Errorf("persisting activity %d: %w", raw.ID, err)
	}

	t.decisions.Record(raw, dec)
	if dec.NeedsReview {
		t.log.Debug("activity flagged for review",
			"raw_id", raw.ID, "stage", dec.Stage, "confidence", dec.Tags[0].Confidence)
	}
	return pa, dec, nil
}

// ensureTag resolves a tag by name, creating it when absent. A creation
// race is settled by the unique constraint; the loser reads the winner's
// row.
func ensureTag(ctx context.Context, tx storage.Transaction, name string) (*types.Tag, error) {
	tag, err := tx.GetTagByName(ctx, name)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	created, err := tx.CreateTag(ctx, &types.Tag{Name: name})
	if err == nil {
		return created, nil
	}
	if errors.Is(err, storage.ErrConflict) {
		return tx.GetTagByName(ctx, name)
	}
	return nil, err
}

var tagTmpl = template.Must(template.New("tag").Parse(tagPromptTemplate))

func renderTagPrompt(tc TagContext) (string, error) {
	var sb strings.Builder
	if err := tagTmpl.Execute(&sb, tc); err != nil {
		return "", err
	}
	return sb.String(), nil
}

const tagPromptTemplate = `You are tagging one activity from a personal activity tracker.

Activity: {{.ActivityText}}
Source: {{.Source}}
Duration minutes: {{.Duration}}
Time of day: {{.TimeOfDay}}
{{if .NoteContext}}
Notes from the same day:
{{.NoteContext}}
{{end}}
Allowed tags - use ONLY these, never invent new ones:
{{range .TaxonomyTags}}- {{.}}
{{end}}
Choose 1 to 3 tags that fit the activity, each with a confidence between 0 and 1. Respond with ONLY JSON in this shape, no prose:

{"tags": [{"name": "...", "confidence": 0.0}]}`
