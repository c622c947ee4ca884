// Package jobs runs asynchronous pipeline work and tracks its lifecycle.
//
// A job is persisted to the jobs table on every state transition so that
// history survives restarts. Per-activity progress stays in process memory:
// the owning worker is the single writer and stores an immutable snapshot
// through an atomic pointer, so status readers never take a lock and never
// block the worker. Snapshots overwrite each other; readers observe the
// latest value and tolerate missed intermediates.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/chronicle-dev/chronicle/internal/logging"
	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/types"
)

const (
	// snapshotTextLimit clips the activity text carried in a snapshot.
	snapshotTextLimit = 200
	// snapshotTagLimit clips the tag list carried in a snapshot.
	snapshotTagLimit = 10
)

// WorkFn is the body of a job. It reports progress through p and returns
// the final counters. A non-nil error marks the job failed.
type WorkFn func(ctx context.Context, p *Progress) (types.JobCounters, error)

// Tracker owns running jobs and their progress snapshots.
type Tracker struct {
	store storage.Store
	log   *slog.Logger

	mu     sync.Mutex
	active map[string]*handle
}

// handle is the in-memory state of one running job.
type handle struct {
	jobID  string
	cancel context.CancelFunc
	snap   atomic.Pointer[types.ProgressSnapshot]
}

// NewTracker returns a Tracker persisting through store.
func NewTracker(store storage.Store) *Tracker {
	return &Tracker{
		store:  store,
		log:    logging.Component("jobs"),
		active: make(map[string]*handle),
	}
}

// Run persists a new running job and starts fn on its own goroutine. The
// worker context is detached from the caller's so that the job survives
// the triggering HTTP request; cancellation goes through Cancel.
func (t *Tracker) Run(ctx context.Context, kind string, fn WorkFn) (*types.Job, error) {
	job := &types.Job{
		JobID:     uuid.NewString(),
		Kind:      kind,
		Status:    types.JobRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := t.store.PutJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persisting job: %w", err)
	}

	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &handle{jobID: job.JobID, cancel: cancel}
	h.snap.Store(&types.ProgressSnapshot{
		JobID:     job.JobID,
		Status:    types.JobRunning,
		UpdatedAt: job.StartedAt,
	})

	t.mu.Lock()
	t.active[job.JobID] = h
	t.mu.Unlock()

	go t.work(workCtx, cancel, job, h, fn)

	return job, nil
}

func (t *Tracker) work(ctx context.Context, cancel context.CancelFunc, job *types.Job, h *handle, fn WorkFn) {
	defer cancel()

	counters, err := fn(ctx, &Progress{h: h})

	now := time.Now().UTC()
	job.CompletedAt = &now
	job.Counters = counters
	last := h.snap.Load()

	if err != nil {
		job.Status = types.JobFailed
		job.Error = err.Error()
		job.Progress = last.Progress()
		t.log.Warn("job failed", "job_id", job.JobID, "kind", job.Kind, "error", err)
	} else {
		job.Status = types.JobCompleted
		job.Progress = 1
		t.log.Info("job completed", "job_id", job.JobID, "kind", job.Kind,
			"duration", now.Sub(job.StartedAt).Round(time.Millisecond))
	}

	h.snap.Store(&types.ProgressSnapshot{
		JobID:        job.JobID,
		Status:       job.Status,
		Current:      last.Current,
		Total:        last.Total,
		ActivityText: last.ActivityText,
		Tags:         last.Tags,
		Error:        job.Error,
		UpdatedAt:    now,
	})

	// Retire the handle before persisting so that readers observing the
	// terminal row never race a still-cancellable in-memory handle.
	t.mu.Lock()
	delete(t.active, job.JobID)
	t.mu.Unlock()

	// Persisting the terminal state must not inherit the worker's
	// cancellation; a cancelled job still records that it was cancelled.
	if perr := t.store.PutJob(context.WithoutCancel(ctx), job); perr != nil {
		t.log.Error("persisting terminal job state failed", "job_id", job.JobID, "error", perr)
	}
}

// Cancel requests cooperative cancellation of a running job. Returns false
// when the job is not running in this process.
func (t *Tracker) Cancel(jobID string) bool {
	t.mu.Lock()
	h, ok := t.active[jobID]
	t.mu.Unlock()
	if ok {
		h.cancel()
	}
	return ok
}

// Status returns the persisted job, overlaid with live progress when the
// job is still running in this process.
func (t *Tracker) Status(ctx context.Context, jobID string) (*types.Job, error) {
	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	h, ok := t.active[jobID]
	t.mu.Unlock()
	if ok {
		job.Progress = h.snap.Load().Progress()
	}
	return job, nil
}

// Snapshot returns the latest progress of a job. For jobs no longer (or
// never) running here, a snapshot is reconstructed from the persisted row.
func (t *Tracker) Snapshot(ctx context.Context, jobID string) (*types.ProgressSnapshot, error) {
	t.mu.Lock()
	h, ok := t.active[jobID]
	t.mu.Unlock()
	if ok {
		return h.snap.Load(), nil
	}

	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	snap := &types.ProgressSnapshot{
		JobID:     job.JobID,
		Status:    job.Status,
		Error:     job.Error,
		UpdatedAt: job.StartedAt,
	}
	if job.CompletedAt != nil {
		snap.UpdatedAt = *job.CompletedAt
	}
	return snap, nil
}

// History returns the most recent jobs, newest first.
func (t *Tracker) History(ctx context.Context, limit int) ([]*types.Job, error) {
	return t.store.ListRecentJobs(ctx, limit)
}

// Progress is the worker's write handle for snapshots. Not safe for use
// from more than one goroutine; the owning worker is the single writer.
type Progress struct {
	h *handle
}

// Publish overwrites the job's snapshot. Text and tags are clipped to the
// snapshot bounds; text is clipped in runes so a multi-byte character is
// never split.
func (p *Progress) Publish(current, total int, activityText string, tags []string) {
	if utf8.RuneCountInString(activityText) > snapshotTextLimit {
		runes := []rune(activityText)
		activityText = string(runes[:snapshotTextLimit])
	}
	if len(tags) > snapshotTagLimit {
		tags = tags[:snapshotTagLimit]
	}
	p.h.snap.Store(&types.ProgressSnapshot{
		JobID:        p.h.jobID,
		Status:       types.JobRunning,
		Current:      current,
		Total:        total,
		ActivityText: activityText,
		Tags:         tags,
		UpdatedAt:    time.Now().UTC(),
	})
}
