package taxonomy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/chronicle-dev/chronicle/internal/llm"
	"github.com/chronicle-dev/chronicle/internal/logging"
	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/types"
)

const (
	// DefaultSampleLimit bounds each corpus kind (events, abstracts).
	DefaultSampleLimit = 100
	// defaultWindowDays is the corpus window when no dates are given.
	defaultWindowDays = 90

	taxonomyMaxTokens = 2000

	fallbackTopTokens      = 50
	fallbackKeywordsPerCat = 20
	fallbackSubTags        = 10
)

// BuildOptions scopes a taxonomy build. With both dates empty the build
// samples the last 90 days.
type BuildOptions struct {
	DateStart   string // YYYY-MM-DD
	DateEnd     string
	SampleLimit int // per corpus kind; <= 0 means DefaultSampleLimit
}

// Builder produces taxonomy artifacts from the stored corpus.
type Builder struct {
	store    storage.Store
	llm      llm.Client // nil forces the deterministic fallback
	seedPath string
	log      *slog.Logger
}

// NewBuilder returns a Builder. seedPath may be empty when no operator
// seed file is configured.
func NewBuilder(store storage.Store, client llm.Client, seedPath string) *Builder {
	return &Builder{
		store:    store,
		llm:      client,
		seedPath: seedPath,
		log:      logging.Component("taxonomy"),
	}
}

// Build samples the corpus, generates a taxonomy and synonyms, merges the
// seed file, and writes a new artifact version. The generated pair and
// its version are returned.
func (b *Builder) Build(ctx context.Context, opts BuildOptions) (Taxonomy, Synonyms, int, error) {
	if opts.SampleLimit <= 0 {
		opts.SampleLimit = DefaultSampleLimit
	}
	dateStart, dateEnd := opts.DateStart, opts.DateEnd
	if dateStart == "" && dateEnd == "" {
		now := time.Now().UTC()
		dateEnd = now.Format("2006-01-02")
		dateStart = now.AddDate(0, 0, -defaultWindowDays).Format("2006-01-02")
	}
	if !types.ValidDate(dateStart) || !types.ValidDate(dateEnd) {
		return nil, Synonyms{}, 0, fmt.Errorf("build window must be YYYY-MM-DD dates (got %q..%q)", opts.DateStart, opts.DateEnd)
	}

	events, notes, err := b.sampleCorpus(ctx, dateStart, dateEnd, opts.SampleLimit)
	if err != nil {
		return nil, Synonyms{}, 0, err
	}

	tax, syn, generated := b.generate(ctx, events, notes)
	tax = tax.normalize()
	syn = syn.normalize(tax)

	if b.seedPath != "" {
		seed, err := LoadSeedFile(b.seedPath)
		if err != nil {
			b.log.Warn("seed file unusable, building without it", "path", b.seedPath, "error", err)
		} else if seed != nil {
			tax, syn = seed.Merge(tax, syn)
			syn = syn.normalize(tax)
		}
	}

	version, err := Save(ctx, b.store, tax, syn)
	if err != nil {
		return nil, Synonyms{}, 0, err
	}
	b.log.Info("taxonomy built",
		"version", version,
		"categories", len(tax),
		"events_sampled", len(events),
		"notes_sampled", len(notes),
		"llm", generated,
	)
	return tax, syn, version, nil
}

// sampleCorpus pulls up to limit event texts and limit note abstracts
// (text when no abstract exists) from the window.
func (b *Builder) sampleCorpus(ctx context.Context, dateStart, dateEnd string, limit int) ([]string, []string, error) {
	raws, err := b.store.ListRawActivitiesInRange(ctx, dateStart, dateEnd)
	if err != nil {
		return nil, nil, fmt.Errorf("sampling events: %w", err)
	}
	events := make([]string, 0, min(len(raws), limit))
	for _, r := range raws {
		if len(events) >= limit {
			break
		}
		if text := strings.TrimSpace(r.Details); text != "" {
			events = append(events, text)
		}
	}

	startDay, _ := time.Parse("2006-01-02", dateStart)
	endDay, _ := time.Parse("2006-01-02", dateEnd)
	leaves, err := b.store.ListLeafBlocks(ctx, storage.LeafFilter{
		EditedAfter:  startDay.Add(-time.Millisecond),
		EditedBefore: endDay.AddDate(0, 0, 1),
		Limit:        limit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("sampling note blocks: %w", err)
	}
	notes := make([]string, 0, len(leaves))
	for _, leaf := range leaves {
		text := leaf.Abstract
		if text == "" {
			text = leaf.Text
		}
		if text = strings.TrimSpace(text); text != "" {
			notes = append(notes, text)
		}
	}
	return events, notes, nil
}

// generate asks the LLM for a taxonomy; any failure degrades to the
// deterministic builder. The bool reports whether the LLM pair was used.
func (b *Builder) generate(ctx context.Context, events, notes []string) (Taxonomy, Synonyms, bool) {
	if b.llm == nil {
		tax, syn := fallbackBuild(append(append([]string{}, events...), notes...))
		return tax, syn, false
	}

	prompt, err := renderTaxonomyPrompt(events, notes)
	if err != nil {
		b.log.Warn("rendering taxonomy prompt failed", "error", err)
		tax, syn := fallbackBuild(append(append([]string{}, events...), notes...))
		return tax, syn, false
	}

	out, err := b.llm.Complete(ctx, llm.Request{
		Prompt:    prompt,
		MaxTokens: taxonomyMaxTokens,
		Operation: "taxonomy",
	})
	if err == nil {
		var payload struct {
			Taxonomy Taxonomy `json:"taxonomy"`
			Synonyms Synonyms `json:"synonyms"`
		}
		if perr := llm.ParseJSONRelaxed(out, &payload); perr != nil {
			err = perr
		} else if len(payload.Taxonomy) == 0 {
			err = fmt.Errorf("response carried no categories")
		} else {
			return payload.Taxonomy, payload.Synonyms, true
		}
	}

	b.log.Warn("taxonomy generation degraded to deterministic fallback", "error", err)
	tax, syn := fallbackBuild(append(append([]string{}, events...), notes...))
	return tax, syn, false
}

// fallbackBuild partitions the corpus's frequent tokens into the fixed
// bucket skeleton. An empty corpus yields the defaults unchanged.
func fallbackBuild(corpus []string) (Taxonomy, Synonyms) {
	tax, syn := Defaults()

	counts := make(map[string]int)
	for _, text := range corpus {
		for _, token := range tokenize(text) {
			if len(token) < 3 || stopwords[token] {
				continue
			}
			counts[token]++
		}
	}
	if len(counts) == 0 {
		return tax, syn
	}

	tokens := make([]string, 0, len(counts))
	for token := range counts {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if counts[tokens[i]] != counts[tokens[j]] {
			return counts[tokens[i]] > counts[tokens[j]]
		}
		return tokens[i] < tokens[j]
	})
	if len(tokens) > fallbackTopTokens {
		tokens = tokens[:fallbackTopTokens]
	}

	known := make(map[string]bool)
	for _, cat := range tax {
		for _, kw := range cat.Keywords {
			known[kw] = true
		}
	}

	var extraSubTags []string
	for _, token := range tokens {
		if known[token] {
			continue
		}
		known[token] = true

		bucket := bucketFor(token)
		if bucket == "" {
			if len(extraSubTags) < fallbackSubTags {
				extraSubTags = append(extraSubTags, token)
			}
			continue
		}
		cat := tax[bucket]
		if len(cat.Keywords) < fallbackKeywordsPerCat {
			cat.Keywords = append(cat.Keywords, token)
			tax[bucket] = cat
		}
	}
	if len(extraSubTags) > 0 {
		cat := tax["personal"]
		cat.SubTags = append(cat.SubTags, extraSubTags...)
		tax["personal"] = cat
	}
	return tax, syn
}

// bucketHints route fallback tokens to buckets by substring affinity.
var bucketHints = map[string][]string{
	"work":        {"meeting", "standup", "review", "sprint", "project", "offic", "code", "deploy", "ship", "client", "team", "email", "design", "release", "interview"},
	"health":      {"health", "gym", "workout", "yoga", "doctor", "dentist", "run", "fitness", "walk", "bike", "swim", "sleep"},
	"personal":    {"read", "book", "journal", "game", "music", "movie", "shop", "trip", "travel", "hobby"},
	"social":      {"dinner", "lunch", "coffee", "party", "birthday", "family", "friend", "visit", "date", "wedding"},
	"maintenance": {"clean", "laundry", "repair", "fix", "grocer", "cook", "chore", "bill", "garden", "wash"},
}

func bucketFor(token string) string {
	for _, b := range defaultBuckets {
		for _, hint := range bucketHints[b.name] {
			if strings.Contains(token, hint) || strings.Contains(hint, token) {
				return b.name
			}
		}
	}
	return ""
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "about": true, "have": true, "will": true,
	"your": true, "are": true, "was": true, "were": true, "been": true,
	"has": true, "had": true, "not": true, "but": true, "you": true,
	"all": true, "can": true, "out": true, "get": true, "got": true,
	"into": true, "over": true, "then": true, "than": true, "some": true,
	"what": true, "when": true, "where": true, "while": true, "also": true,
}

var taxonomyTmpl = template.Must(template.New("taxonomy").Parse(taxonomyPromptTemplate))

func renderTaxonomyPrompt(events, notes []string) (string, error) {
	var sb strings.Builder
	err := taxonomyTmpl.Execute(&sb, struct {
		Events []string
		Notes  []string
	}{Events: events, Notes: notes})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

const taxonomyPromptTemplate = `You are building a personal activity taxonomy from a user's recent calendar events and notes.

Calendar events:
{{range .Events}}- {{.}}
{{end}}
Note abstracts:
{{range .Notes}}- {{.}}
{{end}}
Create 4 to 8 top-level categories that cover this corpus. Category names must be lowercase single words or short phrases. Keywords are literal substrings likely to appear in this user's activity text. Sub-tags are finer activities inside the category.

Respond with ONLY a JSON object in exactly this shape, no prose before or after:

{"taxonomy": {"<category>": {"description": "...", "keywords": ["..."], "sub_tags": ["..."]}}, "synonyms": {"<category>": ["<alternate term>"], "personal_shortcuts": {"<shortcut>": ["<category>"]}}}`
