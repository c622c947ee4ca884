package taxonomy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chronicle-dev/chronicle/internal/llm"
	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/types"
)

type fakeLLM struct {
	out string
	err error
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

func (f *fakeLLM) Model() string { return "fake-model" }

func seedActivity(t *testing.T, store storage.Store, date, details string) {
	t.Helper()
	_, _, err := store.UpsertRawActivity(context.Background(), &types.RawActivity{
		Date: date, Details: details, Source: types.SourceCalendar,
		SourceEventID: details,
	})
	if err != nil {
		t.Fatalf("seeding activity: %v", err)
	}
}

func buildWindow() BuildOptions {
	end := time.Now().UTC().Format("2006-01-02")
	start := time.Now().UTC().AddDate(0, 0, -7).Format("2006-01-02")
	return BuildOptions{DateStart: start, DateEnd: end}
}

func TestBuildEmptyCorpusFallback(t *testing.T) {
	store := newTestStore(t)
	b := NewBuilder(store, nil, "")

	tax, syn, version, err := b.Build(context.Background(), BuildOptions{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}
	if len(tax) == 0 || len(syn.Categories) == 0 {
		t.Fatal("empty corpus must still yield a non-empty taxonomy and synonyms")
	}
	for _, name := range []string{"work", "health", "personal", "social", "maintenance"} {
		if _, ok := tax[name]; !ok {
			t.Errorf("fallback taxonomy missing bucket %q", name)
		}
	}

	// The artifact is readable back as the active pair.
	loaded, _, loadedVersion, err := Load(context.Background(), store)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loadedVersion != version || len(loaded) != len(tax) {
		t.Errorf("loaded v%d with %d categories, want v%d with %d", loadedVersion, len(loaded), version, len(tax))
	}
}

func TestBuildFallbackPartitionsCorpusTokens(t *testing.T) {
	store := newTestStore(t)
	today := time.Now().UTC().Format("2006-01-02")
	seedActivity(t, store, today, "deploy service deploy deploy")
	seedActivity(t, store, today, "falconry practice falconry falconry")

	b := NewBuilder(store, nil, "")
	tax, _, _, err := b.Build(context.Background(), buildWindow())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var found bool
	for _, kw := range tax["work"].Keywords {
		if kw == "deploy" {
			found = true
		}
	}
	if !found {
		t.Errorf("work keywords = %v, want corpus token deploy", tax["work"].Keywords)
	}

	found = false
	for _, st := range tax["personal"].SubTags {
		if st == "falconry" {
			found = true
		}
	}
	if !found {
		t.Errorf("personal sub_tags = %v, want unmatched token falconry", tax["personal"].SubTags)
	}
}

func TestBuildUsesLLMResponse(t *testing.T) {
	store := newTestStore(t)
	today := time.Now().UTC().Format("2006-01-02")
	seedActivity(t, store, today, "Standup")

	mock := &fakeLLM{out: "```json\n" + `{
		"taxonomy": {
			"Coding": {"description": "Software work", "keywords": ["deploy", "review"], "sub_tags": ["backend"]},
			"errands": {"description": "Out and about", "keywords": ["bank"], "sub_tags": []}
		},
		"synonyms": {
			"coding": ["programming"],
			"personal_shortcuts": {"standup": ["Coding"]}
		}
	}` + "\n```"}

	b := NewBuilder(store, mock, "")
	tax, syn, version, err := b.Build(context.Background(), buildWindow())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}
	if _, ok := tax["coding"]; !ok {
		t.Fatalf("taxonomy = %v, want normalized coding category", tax.Names())
	}
	if _, ok := tax["Coding"]; ok {
		t.Error("category names should be normalized to lowercase")
	}
	if got := syn.PersonalShortcuts["standup"]; len(got) != 1 || got[0] != "coding" {
		t.Errorf("shortcut = %v, want [coding]", got)
	}
	if got := syn.Categories["coding"]; len(got) != 1 || got[0] != "programming" {
		t.Errorf("synonyms = %v, want [programming]", got)
	}
}

func TestBuildDegradesOnUnparseableLLM(t *testing.T) {
	store := newTestStore(t)
	b := NewBuilder(store, &fakeLLM{out: "I could not produce a taxonomy today."}, "")

	tax, _, _, err := b.Build(context.Background(), buildWindow())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, ok := tax["work"]; !ok {
		t.Errorf("taxonomy = %v, want deterministic fallback buckets", tax.Names())
	}
}

func TestBuildDegradesOnLLMError(t *testing.T) {
	store := newTestStore(t)
	b := NewBuilder(store, &fakeLLM{err: errors.New("overloaded")}, "")

	tax, _, _, err := b.Build(context.Background(), buildWindow())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(tax) != 5 {
		t.Errorf("got %d categories, want the 5 fallback buckets", len(tax))
	}
}

func TestBuildMergesSeedFile(t *testing.T) {
	store := newTestStore(t)
	seedPath := filepath.Join(t.TempDir(), "taxonomy_seed.toml")
	seedTOML := `
[taxonomy.work]
keywords = ["retro"]

[taxonomy.gardening]
description = "Allotment and plants"
keywords = ["allotment", "seedlings"]

[synonyms.categories]
gardening = ["plants"]

[synonyms.personal_shortcuts]
veg = ["gardening"]
`
	if err := os.WriteFile(seedPath, []byte(seedTOML), 0o644); err != nil {
		t.Fatalf("writing seed: %v", err)
	}

	b := NewBuilder(store, nil, seedPath)
	tax, syn, _, err := b.Build(context.Background(), buildWindow())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if _, ok := tax["gardening"]; !ok {
		t.Fatalf("taxonomy = %v, want seed category gardening", tax.Names())
	}
	if !strings.Contains(strings.Join(tax["work"].Keywords, " "), "retro") {
		t.Errorf("work keywords = %v, want union with seed keyword retro", tax["work"].Keywords)
	}
	if got := syn.PersonalShortcuts["veg"]; len(got) != 1 || got[0] != "gardening" {
		t.Errorf("shortcut = %v, want [gardening]", got)
	}
	if got := syn.Categories["gardening"]; len(got) != 1 || got[0] != "plants" {
		t.Errorf("seed synonyms = %v, want [plants]", got)
	}
}

func TestBuildRejectsBadWindow(t *testing.T) {
	b := NewBuilder(newTestStore(t), nil, "")
	_, _, _, err := b.Build(context.Background(), BuildOptions{DateStart: "08/01/2025", DateEnd: "2025-08-02"})
	if err == nil {
		t.Fatal("Build should reject a non-ISO window")
	}
}

func TestLoadSeedFileMissing(t *testing.T) {
	seed, err := LoadSeedFile(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing seed should not error: %v", err)
	}
	if seed != nil {
		t.Fatalf("seed = %+v, want nil for a missing file", seed)
	}
}

func TestLoadSeedFileRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[taxonomy\nbroken"), 0o644); err != nil {
		t.Fatalf("writing seed: %v", err)
	}
	if _, err := LoadSeedFile(path); err == nil {
		t.Fatal("malformed TOML should error")
	}
}

func TestWatchSeedFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taxonomy_seed.toml")
	if err := os.WriteFile(path, []byte("[taxonomy.work]\nkeywords = []\n"), 0o644); err != nil {
		t.Fatalf("writing seed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 1)
	err := WatchSeed(ctx, path, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("WatchSeed failed: %v", err)
	}

	// Give the watcher a moment to settle before touching the file.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[taxonomy.work]\nkeywords = [\"retro\"]\n"), 0o644); err != nil {
		t.Fatalf("rewriting seed: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not observe the seed write")
	}
}
