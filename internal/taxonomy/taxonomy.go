// Package taxonomy builds and stores the personalized category taxonomy
// and synonym maps the tagger draws its vocabulary from.
//
// Artifacts are versioned JSON documents in the resources table. A build
// samples the recent corpus, asks the LLM for a taxonomy constrained to a
// fixed JSON shape, falls back to a deterministic token-frequency builder
// when the LLM is unavailable or misbehaves, merges operator overrides
// from a TOML seed file, and writes a new artifact version.
package taxonomy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/types"
)

const (
	// ResourceNamespace scopes taxonomy artifacts in the resources table.
	ResourceNamespace = "taxonomy"

	taxonomyResource = "hierarchical_taxonomy_generated"
	synonymsResource = "synonyms_generated"
)

// Category is one taxonomy bucket.
type Category struct {
	Description string   `json:"description" toml:"description"`
	Keywords    []string `json:"keywords" toml:"keywords"`
	SubTags     []string `json:"sub_tags" toml:"sub_tags"`
}

// Taxonomy maps category name to its definition. Names are normalized
// lowercase tag names.
type Taxonomy map[string]Category

// Names returns the category names sorted ascending. This is the tag
// vocabulary the tagger is allowed to emit.
func (t Taxonomy) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is a category, after normalization.
func (t Taxonomy) Has(name string) bool {
	_, ok := t[types.NormalizeTagName(name)]
	return ok
}

// normalize lowercases category names and drops entries whose names do
// not satisfy the tag naming rules.
func (t Taxonomy) normalize() Taxonomy {
	out := make(Taxonomy, len(t))
	for name, cat := range t {
		name = types.NormalizeTagName(name)
		if !types.ValidTagName(name) {
			continue
		}
		out[name] = Category{
			Description: cat.Description,
			Keywords:    normalizeTerms(cat.Keywords),
			SubTags:     normalizeTerms(cat.SubTags),
		}
	}
	return out
}

// Synonyms carries per-category alternate terms plus personal shortcuts
// (a shortcut substring mapping straight to one or more categories).
//
// The JSON wire shape nests shortcuts under the reserved key
// "personal_shortcuts" next to the category entries:
//
//	{"work": ["job"], "personal_shortcuts": {"standup": ["work"]}}
type Synonyms struct {
	Categories        map[string][]string
	PersonalShortcuts map[string][]string
}

// MarshalJSON flattens categories and shortcuts into one object.
func (s Synonyms) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(s.Categories)+1)
	for cat, terms := range s.Categories {
		out[cat] = terms
	}
	if len(s.PersonalShortcuts) > 0 {
		out["personal_shortcuts"] = s.PersonalShortcuts
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits the flattened object back into categories and
// shortcuts.
func (s *Synonyms) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Categories = make(map[string][]string)
	s.PersonalShortcuts = make(map[string][]string)
	for key, val := range raw {
		if key == "personal_shortcuts" {
			if err := json.Unmarshal(val, &s.PersonalShortcuts); err != nil {
				return fmt.Errorf("personal_shortcuts: %w", err)
			}
			continue
		}
		var terms []string
		if err := json.Unmarshal(val, &terms); err != nil {
			return fmt.Errorf("synonyms for %q: %w", key, err)
		}
		s.Categories[key] = terms
	}
	return nil
}

// normalize lowercases everything and drops shortcut targets that are
// not categories of tax, so shortcuts can never mint free-form tags.
func (s Synonyms) normalize(tax Taxonomy) Synonyms {
	out := Synonyms{
		Categories:        make(map[string][]string, len(s.Categories)),
		PersonalShortcuts: make(map[string][]string, len(s.PersonalShortcuts)),
	}
	for cat, terms := range s.Categories {
		cat = types.NormalizeTagName(cat)
		if _, ok := tax[cat]; !ok {
			continue
		}
		out.Categories[cat] = normalizeTerms(terms)
	}
	for shortcut, cats := range s.PersonalShortcuts {
		shortcut = types.NormalizeTagName(shortcut)
		if shortcut == "" {
			continue
		}
		var kept []string
		for _, cat := range cats {
			cat = types.NormalizeTagName(cat)
			if _, ok := tax[cat]; ok {
				kept = append(kept, cat)
			}
		}
		if len(kept) > 0 {
			out.PersonalShortcuts[shortcut] = kept
		}
	}
	return out
}

func normalizeTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		term = types.NormalizeTagName(term)
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		out = append(out, term)
	}
	return out
}

// defaultBuckets is the fixed category skeleton the deterministic
// fallback partitions corpus tokens into.
var defaultBuckets = []struct {
	name        string
	description string
	keywords    []string
}{
	{"work", "Job, projects, meetings, and professional tasks",
		[]string{"meeting", "standup", "review", "project", "sprint", "planning", "deadline", "interview", "demo", "sync"}},
	{"health", "Exercise, medical care, and wellbeing",
		[]string{"gym", "workout", "run", "yoga", "doctor", "dentist", "therapy", "sleep"}},
	{"personal", "Errands, hobbies, and individual downtime",
		[]string{"reading", "hobby", "shopping", "errand", "movie", "travel", "journal"}},
	{"social", "Time with family and friends",
		[]string{"dinner", "lunch", "party", "birthday", "family", "friends", "visit"}},
	{"maintenance", "Chores and upkeep of home and tools",
		[]string{"cleaning", "laundry", "repair", "groceries", "cooking", "chores", "bills"}},
}

// Defaults returns the built-in taxonomy and synonyms. Callers receive
// fresh copies and may mutate them.
func Defaults() (Taxonomy, Synonyms) {
	tax := make(Taxonomy, len(defaultBuckets))
	for _, b := range defaultBuckets {
		tax[b.name] = Category{
			Description: b.description,
			Keywords:    append([]string(nil), b.keywords...),
			SubTags:     []string{},
		}
	}
	syn := Synonyms{
		Categories: map[string][]string{
			"work":        {"job", "office", "standup"},
			"health":      {"fitness", "exercise", "wellness"},
			"personal":    {"leisure", "hobby"},
			"social":      {"friends", "family", "hangout"},
			"maintenance": {"chores", "upkeep", "housework"},
		},
		PersonalShortcuts: map[string][]string{},
	}
	return tax, syn
}

// Save marshals the pair and writes both artifacts, returning the new
// taxonomy artifact version.
func Save(ctx context.Context, store storage.Store, tax Taxonomy, syn Synonyms) (int, error) {
	taxJSON, err := json.MarshalIndent(tax, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshaling taxonomy: %w", err)
	}
	synJSON, err := json.MarshalIndent(syn, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshaling synonyms: %w", err)
	}

	version, err := store.PutResource(ctx, ResourceNamespace, taxonomyResource, string(taxJSON))
	if err != nil {
		return 0, fmt.Errorf("storing taxonomy artifact: %w", err)
	}
	if _, err := store.PutResource(ctx, ResourceNamespace, synonymsResource, string(synJSON)); err != nil {
		return 0, fmt.Errorf("storing synonyms artifact: %w", err)
	}
	return version, nil
}

// Load returns the latest stored pair. When no artifacts exist yet the
// built-in defaults are returned with version 0.
func Load(ctx context.Context, store storage.Store) (Taxonomy, Synonyms, int, error) {
	content, version, err := store.GetLatestResource(ctx, ResourceNamespace, taxonomyResource)
	if errors.Is(err, storage.ErrNotFound) {
		tax, syn := Defaults()
		return tax, syn, 0, nil
	}
	if err != nil {
		return nil, Synonyms{}, 0, fmt.Errorf("loading taxonomy artifact: %w", err)
	}

	var tax Taxonomy
	if err := json.Unmarshal([]byte(content), &tax); err != nil {
		return nil, Synonyms{}, 0, fmt.Errorf("parsing taxonomy artifact v%d: %w", version, err)
	}

	var syn Synonyms
	synContent, _, err := store.GetLatestResource(ctx, ResourceNamespace, synonymsResource)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		_, syn = Defaults()
	case err != nil:
		return nil, Synonyms{}, 0, fmt.Errorf("loading synonyms artifact: %w", err)
	default:
		if err := json.Unmarshal([]byte(synContent), &syn); err != nil {
			return nil, Synonyms{}, 0, fmt.Errorf("parsing synonyms artifact: %w", err)
		}
	}
	return tax, syn, version, nil
}
