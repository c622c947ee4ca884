package taxonomy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"github.com/chronicle-dev/chronicle/internal/logging"
)

// Seed is the operator-maintained override set merged into every build.
// Categories extend or replace generated ones; shortcut entries replace
// generated shortcuts key by key.
type Seed struct {
	Taxonomy Taxonomy
	Synonyms Synonyms
}

type seedFile struct {
	Taxonomy map[string]Category `toml:"taxonomy"`
	Synonyms struct {
		Categories        map[string][]string `toml:"categories"`
		PersonalShortcuts map[string][]string `toml:"personal_shortcuts"`
	} `toml:"synonyms"`
}

// LoadSeedFile parses the TOML seed. A missing file returns (nil, nil)
// so callers can treat the seed as optional.
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var f seedFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("toml: %w", err)
	}

	seed := &Seed{
		Taxonomy: Taxonomy(f.Taxonomy).normalize(),
		Synonyms: Synonyms{
			Categories:        f.Synonyms.Categories,
			PersonalShortcuts: f.Synonyms.PersonalShortcuts,
		},
	}
	if seed.Taxonomy == nil {
		seed.Taxonomy = Taxonomy{}
	}
	if seed.Synonyms.Categories == nil {
		seed.Synonyms.Categories = map[string][]string{}
	}
	if seed.Synonyms.PersonalShortcuts == nil {
		seed.Synonyms.PersonalShortcuts = map[string][]string{}
	}
	return seed, nil
}

// Merge applies the seed on top of a generated pair and returns the
// merged result. Seed categories win on description; keyword and sub-tag
// lists are unioned.
func (s *Seed) Merge(tax Taxonomy, syn Synonyms) (Taxonomy, Synonyms) {
	out := make(Taxonomy, len(tax)+len(s.Taxonomy))
	for name, cat := range tax {
		out[name] = cat
	}
	for name, seedCat := range s.Taxonomy {
		cat, ok := out[name]
		if !ok {
			out[name] = seedCat
			continue
		}
		if seedCat.Description != "" {
			cat.Description = seedCat.Description
		}
		cat.Keywords = unionTerms(cat.Keywords, seedCat.Keywords)
		cat.SubTags = unionTerms(cat.SubTags, seedCat.SubTags)
		out[name] = cat
	}

	merged := Synonyms{
		Categories:        make(map[string][]string, len(syn.Categories)),
		PersonalShortcuts: make(map[string][]string, len(syn.PersonalShortcuts)),
	}
	for cat, terms := range syn.Categories {
		merged.Categories[cat] = terms
	}
	for cat, terms := range s.Synonyms.Categories {
		merged.Categories[cat] = unionTerms(merged.Categories[cat], terms)
	}
	for shortcut, cats := range syn.PersonalShortcuts {
		merged.PersonalShortcuts[shortcut] = cats
	}
	for shortcut, cats := range s.Synonyms.PersonalShortcuts {
		merged.PersonalShortcuts[shortcut] = cats
	}
	return out, merged
}

func unionTerms(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	out := append([]string(nil), base...)
	for _, term := range base {
		seen[term] = true
	}
	for _, term := range normalizeTerms(extra) {
		if !seen[term] {
			seen[term] = true
			out = append(out, term)
		}
	}
	return out
}

const watchDebounce = 500 * time.Millisecond

// WatchSeed watches the seed file for writes and invokes onChange after a
// short debounce. The watch runs until ctx is done. The parent directory
// is watched rather than the file so editor save-and-replace is seen.
func WatchSeed(ctx context.Context, path string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	base := filepath.Base(path)
	log := logging.Component("taxonomy")

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, func() {
					log.Info("taxonomy seed changed, reloading", "path", path)
					onChange()
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("seed watcher error", "error", err)
			}
		}
	}()
	return nil
}
