package processor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chronicle-dev/chronicle/internal/jobs"
	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/storage/sqlite"
	"github.com/chronicle-dev/chronicle/internal/tagger"
	"github.com/chronicle-dev/chronicle/internal/taxonomy"
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

func newTestProcessor(t *testing.T, store storage.Store) *Processor {
	t.Helper()
	tg, err := tagger.New(context.Background(), store, nil, tagger.Options{})
	if err != nil {
		t.Fatalf("creating tagger: %v", err)
	}
	t.Cleanup(func() { tg.Close() })
	tg.SetTaxonomy(taxonomy.Taxonomy{
		"work":     {Keywords: []string{"meeting", "standup"}},
		"personal": {Keywords: []string{"reading"}},
	}, taxonomy.Synonyms{})
	return New(store, tg, nil, RegenPolicy{})
}

func seedRaw(t *testing.T, store storage.Store, date, tm, details string) int64 {
	t.Helper()
	id, _, err := store.UpsertRawActivity(context.Background(), &types.RawActivity{
		Date: date, Time: tm, DurationMinutes: 30, Details: details,
		Source: types.SourceCalendar, SourceEventID: "evt-" + date + "-" + tm,
	})
	if err != nil {
		t.Fatalf("seeding raw activity: %v", err)
	}
	return id
}

func TestRunProcessesAllActivities(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	proc := newTestProcessor(t, store)

	seedRaw(t, store, "2025-08-02", "10:00", "Standup meeting")
	seedRaw(t, store, "2025-08-01", "15:00", "Reading a book")
	seedRaw(t, store, "2025-08-01", "09:00", "Planning meeting")

	counters, err := proc.Run(ctx, Options{UseDatabase: true}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if counters.RawActivities != 3 || counters.ProcessedActivities != 3 {
		t.Fatalf("counters = %+v, want 3 raw, 3 processed", counters)
	}
	if counters.Failed != 0 {
		t.Errorf("failed = %d, want 0", counters.Failed)
	}

	processed, _, err := store.ListProcessedActivities(ctx, types.ProcessedFilter{Limit: 10})
	if err != nil {
		t.Fatalf("listing processed: %v", err)
	}
	if len(processed) != 3 {
		t.Fatalf("processed rows = %d, want 3", len(processed))
	}
}

func TestRunIsIdempotentOverRange(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	proc := newTestProcessor(t, store)

	seedRaw(t, store, "2025-08-01", "09:00", "Standup meeting")
	seedRaw(t, store, "2025-08-02", "09:00", "Reading")

	opts := Options{DateStart: "2025-08-01", DateEnd: "2025-08-02", UseDatabase: true}
	if _, err := proc.Run(ctx, opts, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	counters, err := proc.Run(ctx, opts, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if counters.ProcessedActivities != 2 {
		t.Fatalf("second run processed = %d, want 2", counters.ProcessedActivities)
	}

	// The rerun replaced, not duplicated.
	_, total, err := store.ListProcessedActivities(ctx, types.ProcessedFilter{Limit: 10})
	if err != nil {
		t.Fatalf("listing processed: %v", err)
	}
	if total != 2 {
		t.Errorf("processed rows after rerun = %d, want 2", total)
	}
}

func TestRunScopedLeavesOtherDatesAlone(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	proc := newTestProcessor(t, store)

	seedRaw(t, store, "2025-08-01", "09:00", "Standup meeting")
	seedRaw(t, store, "2025-09-01", "09:00", "Reading")

	if _, err := proc.Run(ctx, Options{UseDatabase: true}, nil); err != nil {
		t.Fatalf("full run: %v", err)
	}
	counters, err := proc.Run(ctx, Options{
		DateStart: "2025-08-01", DateEnd: "2025-08-31", UseDatabase: true,
	}, nil)
	if err != nil {
		t.Fatalf("scoped run: %v", err)
	}
	if counters.RawActivities != 1 {
		t.Fatalf("scoped run saw %d raw activities, want 1", counters.RawActivities)
	}

	_, total, err := store.ListProcessedActivities(ctx, types.ProcessedFilter{Limit: 10})
	if err != nil {
		t.Fatalf("listing processed: %v", err)
	}
	if total != 2 {
		t.Errorf("processed rows = %d, want 2 (September untouched)", total)
	}
}

func TestRunThroughJobRunnerPublishesMonotonicProgress(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	proc := newTestProcessor(t, store)

	for i := 0; i < 5; i++ {
		seedRaw(t, store, "2025-08-01", "0"+string(rune('0'+i))+":00", "Standup meeting")
	}

	tracker := jobs.NewTracker(store)
	job, err := tracker.Run(ctx, "process",
		func(ctx context.Context, p *jobs.Progress) (types.JobCounters, error) {
			return proc.Run(ctx, Options{UseDatabase: true}, p)
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	lastCurrent := 0
	for {
		jb, err := tracker.Status(ctx, job.JobID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		snap, err := tracker.Snapshot(ctx, job.JobID)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if snap.Current < lastCurrent {
			t.Fatalf("progress went backwards: %d -> %d", lastCurrent, snap.Current)
		}
		lastCurrent = snap.Current
		if jb.Status != types.JobRunning {
			if jb.Status != types.JobCompleted {
				t.Fatalf("job status = %s, want completed (error=%q)", jb.Status, jb.Error)
			}
			if jb.Counters.ProcessedActivities != 5 {
				t.Errorf("counters = %+v, want 5 processed", jb.Counters)
			}
			break
		}
	}
}

func TestRunCancellation(t *testing.T) {
	store := newTestStore(t)
	proc := newTestProcessor(t, store)
	seedRaw(t, store, "2025-08-01", "09:00", "Standup meeting")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := proc.Run(ctx, Options{UseDatabase: true}, nil); err == nil {
		t.Fatal("Run with a cancelled context should fail")
	}
}

func TestCountersAverageTags(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	proc := newTestProcessor(t, store)

	seedRaw(t, store, "2025-08-01", "09:00", "Standup meeting")
	seedRaw(t, store, "2025-08-01", "10:00", "Reading")

	counters, err := proc.Run(ctx, Options{UseDatabase: true}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if counters.UniqueTags == 0 {
		t.Error("unique tags = 0, want > 0")
	}
	if counters.AverageTagsPerActivity <= 0 {
		t.Errorf("average tags per activity = %g, want > 0", counters.AverageTagsPerActivity)
	}
}
