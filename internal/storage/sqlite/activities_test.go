package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/chronicle-dev/chronicle/internal/types"
)

func TestUpsertRawActivityByEventID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := &types.RawActivity{
		Date:            "2026-03-02",
		Time:            "14:00",
		DurationMinutes: 30,
		Details:         "1:1 with sam",
		Source:          types.SourceCalendar,
		SourceEventID:   "evt-123",
	}
	id, inserted, err := store.UpsertRawActivity(ctx, a)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !inserted {
		t.Error("first upsert should insert")
	}

	// Same key with changed payload updates in place.
	a2 := &types.RawActivity{
		Date:            "2026-03-02",
		Time:            "14:00",
		DurationMinutes: 45,
		Details:         "1:1 with sam (moved room)",
		Source:          types.SourceCalendar,
		SourceEventID:   "evt-123",
	}
	id2, inserted2, err := store.UpsertRawActivity(ctx, a2)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if inserted2 {
		t.Error("second upsert should update, not insert")
	}
	if id2 != id {
		t.Errorf("update returned id %d, want %d", id2, id)
	}

	got, err := store.GetRawActivity(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DurationMinutes != 45 || got.Details != "1:1 with sam (moved room)" {
		t.Errorf("row not updated: %+v", got)
	}
}

func TestUpsertRawActivityRecurringEventDistinctTimes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Recurring events share an event id; date+time keep occurrences apart.
	for _, tm := range []string{"09:00", "15:00"} {
		_, inserted, err := store.UpsertRawActivity(ctx, &types.RawActivity{
			Date:          "2026-03-02",
			Time:          tm,
			Source:        types.SourceCalendar,
			SourceEventID: "recurring-1",
		})
		if err != nil {
			t.Fatalf("upsert at %s: %v", tm, err)
		}
		if !inserted {
			t.Errorf("occurrence at %s should be a distinct row", tm)
		}
	}

	_, total, err := store.ListRawActivities(ctx, types.ActivityFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
}

func TestUpsertRawActivityDateOnlyDedupes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// All-day events have no time; the empty time still participates in
	// the identity key so re-imports do not duplicate them.
	for i := 0; i < 2; i++ {
		_, _, err := store.UpsertRawActivity(ctx, &types.RawActivity{
			Date:          "2026-03-03",
			Source:        types.SourceCalendar,
			SourceEventID: "allday-1",
		})
		if err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	_, total, err := store.ListRawActivities(ctx, types.ActivityFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestUpsertRawActivityAdoptsLinkRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _, err := store.UpsertRawActivity(ctx, &types.RawActivity{
		Date:       "2026-03-04",
		Source:     types.SourceNotes,
		SourceLink: "https://notes.example/p/abc",
		Details:    "draft",
	})
	if err != nil {
		t.Fatalf("insert by link: %v", err)
	}

	// The same link later arrives with a provider event id; the existing
	// row is adopted rather than duplicated.
	id2, inserted, err := store.UpsertRawActivity(ctx, &types.RawActivity{
		Date:          "2026-03-04",
		Source:        types.SourceNotes,
		SourceEventID: "page-abc",
		SourceLink:    "https://notes.example/p/abc",
		Details:       "draft, revised",
	})
	if err != nil {
		t.Fatalf("upsert with event id: %v", err)
	}
	if inserted || id2 != id {
		t.Fatalf("got id %d inserted=%v, want adoption of row %d", id2, inserted, id)
	}

	got, err := store.GetRawActivity(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SourceEventID != "page-abc" {
		t.Errorf("source_event_id = %q, want %q", got.SourceEventID, "page-abc")
	}
}

func TestListRawActivitiesFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedRawActivity(t, store, "2026-03-01", "09:00", "a")
	seedRawActivity(t, store, "2026-03-05", "09:00", "b")
	seedRawActivity(t, store, "2026-03-10", "09:00", "c")
	if _, _, err := store.UpsertRawActivity(ctx, &types.RawActivity{
		Date:          "2026-03-05",
		Source:        types.SourceNotes,
		SourceEventID: "note-b",
	}); err != nil {
		t.Fatalf("seed note activity: %v", err)
	}

	tests := []struct {
		name      string
		filter    types.ActivityFilter
		wantTotal int
	}{
		{"all", types.ActivityFilter{}, 4},
		{"calendar only", types.ActivityFilter{Source: types.SourceCalendar}, 3},
		{"date window", types.ActivityFilter{DateStart: "2026-03-02", DateEnd: "2026-03-06"}, 2},
		{"open start", types.ActivityFilter{DateEnd: "2026-03-01"}, 1},
		{"paged", types.ActivityFilter{Limit: 2}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := store.ListRawActivities(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			if tt.filter.Limit > 0 && len(got) > tt.filter.Limit {
				t.Errorf("page size %d exceeds limit %d", len(got), tt.filter.Limit)
			}
		})
	}

	// Newest first.
	got, _, err := store.ListRawActivities(ctx, types.ActivityFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Date < got[i].Date {
			t.Errorf("listing not date-descending at %d: %s < %s", i, got[i-1].Date, got[i].Date)
		}
	}
}

func TestListRawActivitiesInRangeOrderedForProcessing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedRawActivity(t, store, "2026-03-02", "15:00", "later")
	seedRawActivity(t, store, "2026-03-02", "09:00", "earlier")
	seedRawActivity(t, store, "2026-03-01", "23:00", "previous day")

	got, err := store.ListRawActivitiesInRange(ctx, "2026-03-01", "2026-03-02")
	if err != nil {
		t.Fatalf("list in range: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
	wantOrder := []string{"previous day", "earlier", "later"}
	for i, want := range wantOrder {
		if got[i].Details != want {
			t.Errorf("position %d = %q, want %q", i, got[i].Details, want)
		}
	}
}

func TestGetRawActivitiesByIDsPreservesOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1 := seedRawActivity(t, store, "2026-03-01", "09:00", "one")
	id2 := seedRawActivity(t, store, "2026-03-02", "09:00", "two")

	got, err := store.GetRawActivitiesByIDs(ctx, []int64{id2, 999, id1})
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2 (missing id skipped)", len(got))
	}
	if got[0].ID != id2 || got[1].ID != id1 {
		t.Errorf("order = [%d %d], want [%d %d]", got[0].ID, got[1].ID, id2, id1)
	}
}

func TestUpsertRawActivityRejectsInvalid(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.UpsertRawActivity(ctx, &types.RawActivity{
		Date:   "2026-03-01",
		Source: types.SourceCalendar,
		// no source_event_id and no source_link
	})
	if err == nil {
		t.Fatal("expected validation error for missing identity key")
	}
}

func TestListRawActivitiesLargePageHonorsRequestedLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const rows = 600
	for i := 0; i < rows; i++ {
		_, _, err := store.UpsertRawActivity(ctx, &types.RawActivity{
			Date:          "2026-03-02",
			Time:          fmt.Sprintf("%02d:%02d", i/60, i%60),
			Details:       fmt.Sprintf("entry %d", i),
			Source:        types.SourceCalendar,
			SourceEventID: fmt.Sprintf("evt-%d", i),
		})
		if err != nil {
			t.Fatalf("seeding row %d: %v", i, err)
		}
	}

	// A page larger than 500 must return that many rows, not a silently
	// smaller one, so offset-stepping clients never skip rows.
	got, total, err := store.ListRawActivities(ctx, types.ActivityFilter{Limit: 1000})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != rows {
		t.Fatalf("total = %d, want %d", total, rows)
	}
	if len(got) != rows {
		t.Fatalf("page of limit 1000 returned %d rows, want %d", len(got), rows)
	}

	first, _, err := store.ListRawActivities(ctx, types.ActivityFilter{Limit: 550})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	second, _, err := store.ListRawActivities(ctx, types.ActivityFilter{Limit: 550, Offset: 550})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(first) != 550 || len(second) != rows-550 {
		t.Fatalf("pages = %d + %d rows, want 550 + %d", len(first), len(second), rows-550)
	}
	seen := make(map[int64]bool, rows)
	for _, a := range append(first, second...) {
		if seen[a.ID] {
			t.Fatalf("row %d appeared on both pages", a.ID)
		}
		seen[a.ID] = true
	}
	if len(seen) != rows {
		t.Errorf("paging covered %d distinct rows, want %d", len(seen), rows)
	}
}
