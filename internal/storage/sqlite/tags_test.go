package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/types"
)

func TestCreateTagNormalizesName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tag, err := store.CreateTag(ctx, &types.Tag{Name: "  Deep Work  "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tag.Name != "deep work" {
		t.Errorf("name = %q, want %q", tag.Name, "deep work")
	}
	if tag.UsageCount != 0 {
		t.Errorf("usage_count = %d, want 0", tag.UsageCount)
	}
}

func TestCreateTagDuplicateConflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTag(t, store, "work")
	_, err := store.CreateTag(ctx, &types.Tag{Name: "Work"})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict for case-variant duplicate", err)
	}
}

func TestGetTagByNameCaseInsensitive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := seedTag(t, store, "health")
	got, err := store.GetTagByName(ctx, "HEALTH")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("id = %d, want %d", got.ID, created.ID)
	}
}

func TestListTagsSorting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTag(t, store, "zebra")
	seedTag(t, store, "apple")
	busy := seedTag(t, store, "busy")
	seedProcessed(t, store, "2026-03-01", 60, "meeting", map[string]float64{"busy": 0.9})

	byName, _, err := store.ListTags(ctx, types.TagListOptions{SortBy: types.TagSortName})
	if err != nil {
		t.Fatalf("list by name: %v", err)
	}
	if byName[0].Name != "apple" {
		t.Errorf("first by name = %q, want apple", byName[0].Name)
	}

	byUsage, total, err := store.ListTags(ctx, types.TagListOptions{SortBy: types.TagSortUsageCount})
	if err != nil {
		t.Fatalf("list by usage: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if byUsage[0].ID != busy.ID || byUsage[0].UsageCount != 1 {
		t.Errorf("first by usage = %q (count %d), want busy with count 1",
			byUsage[0].Name, byUsage[0].UsageCount)
	}
}

func TestUpdateTag(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tag := seedTag(t, store, "old name")

	got, err := store.UpdateTag(ctx, tag.ID, map[string]interface{}{
		"name":        "New Name",
		"description": "renamed",
		"color":       "#ff8800",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Name != "new name" || got.Description != "renamed" || got.Color != "#ff8800" {
		t.Errorf("updated tag = %+v", got)
	}

	if _, err := store.UpdateTag(ctx, tag.ID, map[string]interface{}{"usage_count": 99}); err == nil {
		t.Error("expected error for non-whitelisted field")
	}

	if _, err := store.UpdateTag(ctx, 9999, map[string]interface{}{"name": "ghost"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	seedTag(t, store, "taken")
	if _, err := store.UpdateTag(ctx, tag.ID, map[string]interface{}{"name": "taken"}); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict on rename collision", err)
	}
}

func TestDeleteTagCascadesLinks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	activityID := seedProcessed(t, store, "2026-03-01", 60, "gym", map[string]float64{"health": 0.9, "social": 0.5})
	tag, err := store.GetTagByName(ctx, "health")
	if err != nil {
		t.Fatalf("get tag: %v", err)
	}

	if err := store.DeleteTag(ctx, tag.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetTag(ctx, tag.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}

	got, err := store.GetProcessedActivity(ctx, activityID)
	if err != nil {
		t.Fatalf("get activity: %v", err)
	}
	if len(got.Tags) != 1 || got.Tags[0].Name != "social" {
		t.Errorf("remaining tags = %v, want only social", got.Tags)
	}

	if err := store.DeleteTag(ctx, tag.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestUsageCountTracksLinks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedProcessed(t, store, "2026-03-01", 60, "a", map[string]float64{"work": 0.9})
	seedProcessed(t, store, "2026-03-02", 30, "b", map[string]float64{"work": 0.8})

	tag, err := store.GetTagByName(ctx, "work")
	if err != nil {
		t.Fatalf("get tag: %v", err)
	}
	if tag.UsageCount != 2 {
		t.Errorf("usage_count = %d, want 2", tag.UsageCount)
	}

	// Deleting activities in range drops the links and the count follows.
	if _, err := store.DeleteProcessedActivitiesInRange(ctx, "2026-03-02", "2026-03-02"); err != nil {
		t.Fatalf("delete range: %v", err)
	}
	tag, err = store.GetTagByName(ctx, "work")
	if err != nil {
		t.Fatalf("get tag after delete: %v", err)
	}
	if tag.UsageCount != 1 {
		t.Errorf("usage_count = %d, want 1 after range delete", tag.UsageCount)
	}
}

func TestRecomputeTagUsage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedProcessed(t, store, "2026-03-01", 60, "a", map[string]float64{"work": 0.9})
	tag, err := store.GetTagByName(ctx, "work")
	if err != nil {
		t.Fatalf("get tag: %v", err)
	}

	// Corrupt the derived count directly, then repair it.
	if _, err := store.UnderlyingDB().Exec(
		`UPDATE tags SET usage_count = 42 WHERE id = ?`, tag.ID); err != nil {
		t.Fatalf("corrupt count: %v", err)
	}
	if err := store.RecomputeTagUsage(ctx, []int64{tag.ID}); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	tag, err = store.GetTagByName(ctx, "work")
	if err != nil {
		t.Fatalf("get tag after recompute: %v", err)
	}
	if tag.UsageCount != 1 {
		t.Errorf("usage_count = %d, want 1 after recompute", tag.UsageCount)
	}
}
