package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/storage/sqlite"
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

// waitTerminal polls until the job leaves the running state.
func waitTerminal(t *testing.T, tracker *Tracker, jobID string) *types.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := tracker.Status(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if job.Status != types.JobRunning {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestRunCompletes(t *testing.T) {
	tracker := NewTracker(newTestStore(t))

	job, err := tracker.Run(context.Background(), "process",
		func(ctx context.Context, p *Progress) (types.JobCounters, error) {
			for i := 1; i <= 3; i++ {
				p.Publish(i, 3, "activity", []string{"work"})
			}
			return types.JobCounters{RawActivities: 3, ProcessedActivities: 3}, nil
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.JobID == "" || job.Status != types.JobRunning {
		t.Fatalf("initial job = %+v, want running with id", job)
	}

	final := waitTerminal(t, tracker, job.JobID)
	if final.Status != types.JobCompleted {
		t.Fatalf("status = %s, want completed (error=%q)", final.Status, final.Error)
	}
	if final.Progress != 1 {
		t.Errorf("progress = %g, want 1", final.Progress)
	}
	if final.Counters.ProcessedActivities != 3 {
		t.Errorf("counters = %+v, want 3 processed", final.Counters)
	}
	if final.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestRunFailure(t *testing.T) {
	tracker := NewTracker(newTestStore(t))

	job, err := tracker.Run(context.Background(), "process",
		func(ctx context.Context, p *Progress) (types.JobCounters, error) {
			p.Publish(1, 4, "activity", nil)
			return types.JobCounters{Failed: 1}, errors.New("boom")
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	final := waitTerminal(t, tracker, job.JobID)
	if final.Status != types.JobFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.Error != "boom" {
		t.Errorf("error = %q, want boom", final.Error)
	}

	snap, err := tracker.Snapshot(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Status != types.JobFailed || snap.Error != "boom" {
		t.Errorf("snapshot = %+v, want failed with error", snap)
	}
}

func TestCancelIsCooperative(t *testing.T) {
	tracker := NewTracker(newTestStore(t))
	started := make(chan struct{})

	job, err := tracker.Run(context.Background(), "process",
		func(ctx context.Context, p *Progress) (types.JobCounters, error) {
			close(started)
			<-ctx.Done()
			return types.JobCounters{}, ctx.Err()
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	<-started
	if !tracker.Cancel(job.JobID) {
		t.Fatal("Cancel returned false for a running job")
	}

	final := waitTerminal(t, tracker, job.JobID)
	if final.Status != types.JobFailed {
		t.Fatalf("status = %s, want failed after cancellation", final.Status)
	}

	// Cancelling a finished job is a no-op.
	if tracker.Cancel(job.JobID) {
		t.Error("Cancel returned true for a finished job")
	}
}

func TestJobOutlivesCallerContext(t *testing.T) {
	tracker := NewTracker(newTestStore(t))

	callerCtx, cancelCaller := context.WithCancel(context.Background())
	release := make(chan struct{})

	job, err := tracker.Run(callerCtx, "process",
		func(ctx context.Context, p *Progress) (types.JobCounters, error) {
			<-release
			if ctx.Err() != nil {
				return types.JobCounters{}, ctx.Err()
			}
			return types.JobCounters{RawActivities: 1}, nil
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The HTTP request that triggered the job ends here.
	cancelCaller()
	close(release)

	final := waitTerminal(t, tracker, job.JobID)
	if final.Status != types.JobCompleted {
		t.Fatalf("status = %s, want completed despite caller cancellation", final.Status)
	}
}

func TestSnapshotClipsBounds(t *testing.T) {
	tracker := NewTracker(newTestStore(t))

	// Multi-byte runes: clipping must count characters, not bytes, and
	// never emit invalid UTF-8.
	longText := strings.Repeat("активность", 50) // 500 runes
	manyTags := make([]string, 25)
	for i := range manyTags {
		manyTags[i] = "tag"
	}

	block := make(chan struct{})
	job, err := tracker.Run(context.Background(), "process",
		func(ctx context.Context, p *Progress) (types.JobCounters, error) {
			p.Publish(1, 2, longText, manyTags)
			<-block
			return types.JobCounters{}, nil
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var snap *types.ProgressSnapshot
	for time.Now().Before(deadline) {
		snap, err = tracker.Snapshot(context.Background(), job.JobID)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if snap.Current == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(block)

	if n := utf8.RuneCountInString(snap.ActivityText); n != 200 {
		t.Errorf("activity text = %d runes, want clipped to 200", n)
	}
	if !utf8.ValidString(snap.ActivityText) {
		t.Error("clipped activity text is not valid UTF-8")
	}
	if len(snap.Tags) != 10 {
		t.Errorf("tags = %d, want clipped to 10", len(snap.Tags))
	}
	waitTerminal(t, tracker, job.JobID)
}

func TestHistory(t *testing.T) {
	tracker := NewTracker(newTestStore(t))

	for i := 0; i < 3; i++ {
		job, err := tracker.Run(context.Background(), "process",
			func(ctx context.Context, p *Progress) (types.JobCounters, error) {
				return types.JobCounters{}, nil
			})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		waitTerminal(t, tracker, job.JobID)
	}

	history, err := tracker.History(context.Background(), 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
}
