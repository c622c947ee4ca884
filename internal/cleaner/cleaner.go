// Package cleaner removes meaningless tags and merges redundant ones in
// two strictly ordered phases.
//
// Phase A deletes the links (and, in a global run, the tag rows) of tags
// classified remove at or above the removal threshold. Phase B then merges
// surviving tags into surviving targets at or above the merge threshold.
// The ordering is a hard contract: Phase B never merges into a tag that
// Phase A removed, and Phase A never merges anything.
package cleaner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/chronicle-dev/chronicle/internal/llm"
	"github.com/chronicle-dev/chronicle/internal/logging"
	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/types"
)

const (
	// DefaultRemovalThreshold gates Phase A deletions.
	DefaultRemovalThreshold = 0.8
	// DefaultMergeThreshold gates Phase B merges.
	DefaultMergeThreshold = 0.6
	// DefaultSampleLimit bounds the activity details sampled per tag.
	DefaultSampleLimit = 5

	cleanupMaxTokens = 2000
)

// Action is a cleanup classification verb.
type Action string

const (
	ActionKeep   Action = "keep"
	ActionRemove Action = "remove"
	ActionMerge  Action = "merge"
)

// Options scope one cleanup run. Empty dates mean a global run, which may
// delete tag rows; a scoped run only touches links inside the window.
type Options struct {
	DateStart        string
	DateEnd          string
	DryRun           bool
	RemovalThreshold float64 // <= 0 means DefaultRemovalThreshold
	MergeThreshold   float64 // <= 0 means DefaultMergeThreshold
	SampleLimit      int     // <= 0 means DefaultSampleLimit
}

func (o *Options) scoped() bool { return o.DateStart != "" || o.DateEnd != "" }

// classification is one analyzed tag with its verdict.
type classification struct {
	Tag        string  `json:"tag"`
	Action     Action  `json:"action"`
	Target     string  `json:"target,omitempty"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Outcome reports what happened to one tag.
type Outcome struct {
	Tag           string  `json:"tag"`
	Action        Action  `json:"action"`
	Target        string  `json:"target,omitempty"`
	Confidence    float64 `json:"confidence"`
	Applied       bool    `json:"applied"`
	LinksAffected int64   `json:"links_affected"`
	Reason        string  `json:"reason,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// Summary is the result of one cleanup run.
type Summary struct {
	Analyzed int       `json:"analyzed"`
	Removed  int       `json:"removed"`
	Merged   int       `json:"merged"`
	Failed   int       `json:"failed"`
	DryRun   bool      `json:"dry_run"`
	Scoped   bool      `json:"scoped"`
	LLM      bool      `json:"llm"`
	Actions  []Outcome `json:"actions"`
}

// Cleaner analyzes and mutates the tag set. A nil LLM client always uses
// the deterministic rules.
type Cleaner struct {
	store storage.Store
	llm   llm.Client
	log   *slog.Logger
}

// New creates a Cleaner.
func New(store storage.Store, client llm.Client) *Cleaner {
	return &Cleaner{
		store: store,
		llm:   client,
		log:   logging.Component("cleaner"),
	}
}

// Clean runs the two-phase cleanup. Per-tag failures are recorded in the
// summary and the run continues.
func (c *Cleaner) Clean(ctx context.Context, opts Options) (*Summary, error) {
	if opts.RemovalThreshold <= 0 {
		opts.RemovalThreshold = DefaultRemovalThreshold
	}
	if opts.MergeThreshold <= 0 {
		opts.MergeThreshold = DefaultMergeThreshold
	}
	if opts.SampleLimit <= 0 {
		opts.SampleLimit = DefaultSampleLimit
	}

	candidates, err := c.gather(ctx, opts)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Analyzed: len(candidates),
		DryRun:   opts.DryRun,
		Scoped:   opts.scoped(),
	}
	if len(candidates) == 0 {
		return summary, nil
	}

	classes, usedLLM := c.analyze(ctx, candidates)
	summary.LLM = usedLLM

	byName := make(map[string]*types.Tag, len(candidates))
	for _, cand := range candidates {
		byName[cand.Tag.Name] = cand.Tag
	}

	removed := c.removePhase(ctx, opts, classes, byName, summary)
	c.mergePhase(ctx, opts, classes, byName, removed, summary)

	c.log.Info("cleanup finished",
		"analyzed", summary.Analyzed,
		"removed", summary.Removed,
		"merged", summary.Merged,
		"failed", summary.Failed,
		"dry_run", summary.DryRun,
		"scoped", summary.Scoped,
		"llm", summary.LLM,
	)
	return summary, nil
}

// gather collects the candidate tags with usage and sample details. A
// scoped run only considers tags linked to activities inside the window.
func (c *Cleaner) gather(ctx context.Context, opts Options) ([]storage.TagCleanupCandidate, error) {
	var (
		tags []*types.Tag
		err  error
	)
	if opts.scoped() {
		tags, err = c.store.ListTagsUsedInRange(ctx, opts.DateStart, opts.DateEnd)
	} else {
		// A global run walks the whole tag table page by page.
		for {
			page, total, perr := c.store.ListTags(ctx, types.TagListOptions{
				SortBy: types.TagSortName,
				Limit:  500,
				Offset: len(tags),
			})
			if perr != nil {
				err = perr
				break
			}
			tags = append(tags, page...)
			if len(page) == 0 || len(tags) >= total {
				break
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("gathering cleanup candidates: %w", err)
	}

	out := make([]storage.TagCleanupCandidate, 0, len(tags))
	for _, tag := range tags {
		samples, err := c.store.SampleTagActivities(ctx, tag.ID, opts.SampleLimit, opts.DateStart, opts.DateEnd)
		if err != nil {
			c.log.Warn("sampling activities failed, analyzing tag without samples",
				"tag", tag.Name, "error", err)
			samples = nil
		}
		out = append(out, storage.TagCleanupCandidate{Tag: tag, Samples: samples})
	}
	return out, nil
}

// analyze classifies every candidate, via the LLM when available and the
// deterministic rules otherwise. The bool reports whether the LLM verdicts
// were used.
func (c *Cleaner) analyze(ctx context.Context, candidates []storage.TagCleanupCandidate) ([]classification, bool) {
	if c.llm != nil {
		classes, err := c.analyzeLLM(ctx, candidates)
		if err == nil {
			return classes, true
		}
		c.log.Warn("cleanup analysis degraded to deterministic rules", "error", err)
	}
	return analyzeRules(candidates), false
}

func (c *Cleaner) analyzeLLM(ctx context.Context, candidates []storage.TagCleanupCandidate) ([]classification, error) {
	prompt, err := renderCleanupPrompt(candidates)
	if err != nil {
		return nil, err
	}
	out, err := c.llm.Complete(ctx, llm.Request{
		Prompt:    prompt,
		MaxTokens: cleanupMaxTokens,
		Operation: "cleanup",
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Classifications []classification `json:"classifications"`
	}
	if err := llm.ParseJSONRelaxed(out, &payload); err != nil {
		return nil, fmt.Errorf("parsing cleanup response: %w", err)
	}
	if len(payload.Classifications) == 0 {
		return nil, fmt.Errorf("response carried no classifications")
	}

	// Keep only verdicts about tags we actually asked about, one per tag.
	known := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		known[cand.Tag.Name] = true
	}
	seen := make(map[string]bool, len(payload.Classifications))
	classes := make([]classification, 0, len(candidates))
	for _, cl := range payload.Classifications {
		cl.Tag = types.NormalizeTagName(cl.Tag)
		cl.Target = types.NormalizeTagName(cl.Target)
		if !known[cl.Tag] || seen[cl.Tag] {
			continue
		}
		if cl.Action != ActionKeep && cl.Action != ActionRemove && cl.Action != ActionMerge {
			continue
		}
		if cl.Action == ActionMerge && (cl.Target == "" || cl.Target == cl.Tag) {
			continue
		}
		if cl.Confidence < 0 {
			cl.Confidence = 0
		}
		if cl.Confidence > 1 {
			cl.Confidence = 1
		}
		seen[cl.Tag] = true
		classes = append(classes, cl)
	}
	return classes, nil
}

// removePhase is Phase A. It returns the set of removed tag names.
func (c *Cleaner) removePhase(ctx context.Context, opts Options, classes []classification, byName map[string]*types.Tag, summary *Summary) map[string]bool {
	removed := make(map[string]bool)
	for _, cl := range classes {
		if cl.Action != ActionRemove || cl.Confidence < opts.RemovalThreshold {
			continue
		}
		tag := byName[cl.Tag]
		if tag == nil {
			continue
		}

		outcome := Outcome{
			Tag:        cl.Tag,
			Action:     ActionRemove,
			Confidence: cl.Confidence,
			Reason:     cl.Reason,
		}
		if opts.DryRun {
			removed[cl.Tag] = true
			summary.Removed++
			summary.Actions = append(summary.Actions, outcome)
			continue
		}

		if err := c.removeTag(ctx, opts, tag, &outcome); err != nil {
			outcome.Error = err.Error()
			summary.Failed++
			c.log.Warn("removing tag failed, continuing", "tag", cl.Tag, "error", err)
		} else {
			outcome.Applied = true
			removed[cl.Tag] = true
			summary.Removed++
		}
		summary.Actions = append(summary.Actions, outcome)
	}
	return removed
}

// removeTag deletes the tag's links in scope and, on a global run, the tag
// row itself. One transaction per tag keeps lock windows short.
func (c *Cleaner) removeTag(ctx context.Context, opts Options, tag *types.Tag, outcome *Outcome) error {
	return c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		n, err := tx.DeleteActivityTagsForTag(ctx, tag.ID, opts.DateStart, opts.DateEnd)
		if err != nil {
			return err
		}
		outcome.LinksAffected = n
		if opts.scoped() {
			return tx.RecomputeTagUsage(ctx, []int64{tag.ID})
		}
		if err := tx.DeleteTag(ctx, tag.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return nil
	})
}

// mergePhase is Phase B. Merges apply only when both the source and the
// target survived Phase A.
func (c *Cleaner) mergePhase(ctx context.Context, opts Options, classes []classification, byName map[string]*types.Tag, removed map[string]bool, summary *Summary) {
	for _, cl := range classes {
		if cl.Action != ActionMerge || cl.Confidence < opts.MergeThreshold {
			continue
		}
		if removed[cl.Tag] || removed[cl.Target] {
			continue
		}
		source := byName[cl.Tag]
		if source == nil {
			continue
		}

		outcome := Outcome{
			Tag:        cl.Tag,
			Action:     ActionMerge,
			Target:     cl.Target,
			Confidence: cl.Confidence,
			Reason:     cl.Reason,
		}

		// The target may live outside the candidate window.
		target := byName[cl.Target]
		if target == nil {
			t, err := c.store.GetTagByName(ctx, cl.Target)
			if err != nil {
				c.log.Debug("merge target does not exist, skipping",
					"tag", cl.Tag, "target", cl.Target)
				continue
			}
			target = t
		}

		if opts.DryRun {
			summary.Merged++
			summary.Actions = append(summary.Actions, outcome)
			continue
		}

		if err := c.mergeTag(ctx, opts, source, target, &outcome); err != nil {
			outcome.Error = err.Error()
			summary.Failed++
			c.log.Warn("merging tag failed, continuing",
				"tag", cl.Tag, "target", cl.Target, "error", err)
		} else {
			outcome.Applied = true
			summary.Merged++
		}
		summary.Actions = append(summary.Actions, outcome)
	}
}

// mergeTag rewrites the source tag's links to the target (union per
// processed activity, never duplicating) and recomputes both usage counts.
// On a global run a fully drained source tag is deleted.
func (c *Cleaner) mergeTag(ctx context.Context, opts Options, source, target *types.Tag, outcome *Outcome) error {
	return c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		n, err := tx.MergeActivityTags(ctx, source.ID, target.ID, opts.DateStart, opts.DateEnd)
		if err != nil {
			return err
		}
		outcome.LinksAffected = n
		if err := tx.RecomputeTagUsage(ctx, []int64{source.ID, target.ID}); err != nil {
			return err
		}
		if !opts.scoped() {
			if err := tx.DeleteTag(ctx, source.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}
		return nil
	})
}

// Deterministic rule set, used when the LLM is unavailable or misbehaves.

var (
	systemArtifactsRe  = regexp.MustCompile(`(^|[_ -])(scheduled|generated|imported|synced|auto|system|untitled)([_ -]|$)`)
	genericProcessesRe = regexp.MustCompile(`^(processing|process|task|tasks|activity|activities|event|events|item|items|misc|general|stuff|things|other)$`)
	metaTagsRe         = regexp.MustCompile(`^(tag|tags|category|categories|label|labels|metadata|uncategorized|unknown|none)$`)
)

// analyzeRules classifies candidates without the LLM. Removal patterns are
// checked first; survivors get a singular/plural merge check against the
// rest of the candidate set.
func analyzeRules(candidates []storage.TagCleanupCandidate) []classification {
	names := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		names[cand.Tag.Name] = true
	}

	removable := func(name string) (string, float64) {
		switch {
		case systemArtifactsRe.MatchString(name):
			return "system_artifacts", 0.9
		case genericProcessesRe.MatchString(name):
			return "generic_processes", 0.85
		case metaTagsRe.MatchString(name):
			return "meta_tags", 0.85
		case len(name) < 3:
			return "empty_concepts", 0.8
		}
		return "", 0
	}

	var classes []classification
	for _, cand := range candidates {
		name := cand.Tag.Name

		if reason, conf := removable(name); reason != "" {
			classes = append(classes, classification{
				Tag: name, Action: ActionRemove, Confidence: conf, Reason: reason,
			})
			continue
		}

		// Plural folds into an existing singular, but never into a tag
		// that is itself removable.
		if singular := singularOf(name); singular != "" && names[singular] {
			if reason, _ := removable(singular); reason == "" {
				classes = append(classes, classification{
					Tag: name, Action: ActionMerge, Target: singular,
					Confidence: 0.9, Reason: "redundant_plurals",
				})
				continue
			}
		}

		classes = append(classes, classification{
			Tag: name, Action: ActionKeep, Confidence: 0.5,
		})
	}
	return classes
}

// singularOf returns the singular form of an English plural, or "" when
// the name does not look plural.
func singularOf(name string) string {
	switch {
	case strings.HasSuffix(name, "ies") && len(name) > 4:
		return name[:len(name)-3] + "y"
	case strings.HasSuffix(name, "es") && len(name) > 4 &&
		(strings.HasSuffix(name, "ches") || strings.HasSuffix(name, "shes") ||
			strings.HasSuffix(name, "sses") || strings.HasSuffix(name, "xes")):
		return name[:len(name)-2]
	case strings.HasSuffix(name, "s") && !strings.HasSuffix(name, "ss") && len(name) > 3:
		return name[:len(name)-1]
	}
	return ""
}

var cleanupTmpl = template.Must(template.New("cleanup").Parse(cleanupPromptTemplate))

func renderCleanupPrompt(candidates []storage.TagCleanupCandidate) (string, error) {
	type tagView struct {
		Name    string
		Usage   int
		Samples []string
	}
	views := make([]tagView, len(candidates))
	for i, cand := range candidates {
		views[i] = tagView{Name: cand.Tag.Name, Usage: cand.Tag.UsageCount, Samples: cand.Samples}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })

	var sb strings.Builder
	if err := cleanupTmpl.Execute(&sb, views); err != nil {
		return "", err
	}
	return sb.String(), nil
}

const cleanupPromptTemplate = `You are reviewing the tag set of a personal activity tracker. Classify every tag below as keep, remove, or merge.

remove: meaningless tags - system artifacts, generic process words, meta tags, empty concepts.
merge: redundant tags - plural/singular or synonym duplicates of another tag in THIS list; name the target.
keep: everything else.

Tags:
{{range .}}- {{.Name}} (used {{.Usage}} times){{range .Samples}}
    example: {{.}}{{end}}
{{end}}
Respond with ONLY JSON in this shape, one entry per tag, no prose:

{"classifications": [{"tag": "...", "action": "keep|remove|merge", "target": "only for merge", "confidence": 0.0, "reason": "..."}]}`
