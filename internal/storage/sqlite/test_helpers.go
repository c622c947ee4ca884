package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chronicle-dev/chronicle/internal/types"
)

// newTestStore creates a file-backed store in a temp directory and registers
// cleanup.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), filepath.Join(t.TempDir(), "chronicle.db"), 0)
	if err != nil {
		t.Fatalf("create test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close test store: %v", err)
		}
	})
	return store
}

// seedRawActivity inserts a calendar activity keyed by an event id.
func seedRawActivity(t *testing.T, s *Store, date, tm, details string) int64 {
	t.Helper()
	id, _, err := s.UpsertRawActivity(context.Background(), &types.RawActivity{
		Date:            date,
		Time:            tm,
		DurationMinutes: 60,
		Details:         details,
		Source:          types.SourceCalendar,
		SourceEventID:   "evt-" + date + "-" + tm + "-" + details,
	})
	if err != nil {
		t.Fatalf("seed raw activity: %v", err)
	}
	return id
}

// seedTag creates a tag and returns it.
func seedTag(t *testing.T, s *Store, name string) *types.Tag {
	t.Helper()
	tag, err := s.CreateTag(context.Background(), &types.Tag{Name: name})
	if err != nil {
		t.Fatalf("seed tag %q: %v", name, err)
	}
	return tag
}

// seedProcessed creates a processed activity over one raw activity and links
// the named tags at the given confidence.
func seedProcessed(t *testing.T, s *Store, date string, minutes int, details string, tags map[string]float64) int64 {
	t.Helper()
	ctx := context.Background()

	rawID := seedRawActivity(t, s, date, "09:00", details)
	id, err := s.CreateProcessedActivity(ctx, &types.ProcessedActivity{
		Date:                 date,
		Time:                 "09:00",
		TotalDurationMinutes: minutes,
		CombinedDetails:      details,
		RawActivityIDs:       []int64{rawID},
		Sources:              []string{string(types.SourceCalendar)},
	})
	if err != nil {
		t.Fatalf("seed processed activity: %v", err)
	}

	for name, conf := range tags {
		tag, err := s.GetTagByName(ctx, name)
		if err != nil {
			tag, err = s.CreateTag(ctx, &types.Tag{Name: name})
			if err != nil {
				t.Fatalf("seed tag %q: %v", name, err)
			}
		}
		if err := s.AddActivityTag(ctx, &types.ActivityTag{
			ProcessedActivityID: id,
			TagID:               tag.ID,
			Confidence:          conf,
		}); err != nil {
			t.Fatalf("link tag %q: %v", name, err)
		}
	}
	return id
}
