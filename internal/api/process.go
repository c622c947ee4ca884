package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chronicle-dev/chronicle/internal/apperr"
	"github.com/chronicle-dev/chronicle/internal/jobs"
	"github.com/chronicle-dev/chronicle/internal/processor"
	"github.com/chronicle-dev/chronicle/internal/types"
)

// processBody is the request shape of POST /process/daily.
type processBody struct {
	DateStart            string `json:"date_start"`
	DateEnd              string `json:"date_end"`
	UseDatabase          *bool  `json:"use_database"`
	RegenerateSystemTags bool   `json:"regenerate_system_tags"`
}

// handleProcessDaily serves POST /process/daily: it starts a processing
// job and returns immediately; counters arrive through the status
// endpoint when the job completes.
func (s *Server) handleProcessDaily(w http.ResponseWriter, r *http.Request) {
	var body processBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.DateStart != "" && !types.ValidDate(body.DateStart) {
		writeError(w, apperr.Validationf("date_start must be YYYY-MM-DD (got %q)", body.DateStart))
		return
	}
	if body.DateEnd != "" && !types.ValidDate(body.DateEnd) {
		writeError(w, apperr.Validationf("date_end must be YYYY-MM-DD (got %q)", body.DateEnd))
		return
	}

	opts := processor.Options{
		DateStart:            body.DateStart,
		DateEnd:              body.DateEnd,
		UseDatabase:          true,
		RegenerateSystemTags: body.RegenerateSystemTags,
	}
	if body.UseDatabase != nil {
		opts.UseDatabase = *body.UseDatabase
	}

	job, err := s.svc.Tracker.Run(r.Context(), "process",
		func(ctx context.Context, p *jobs.Progress) (types.JobCounters, error) {
			return s.svc.Processor.Run(ctx, opts, p)
		})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": string(job.Status),
		"job_id": job.JobID,
	})
}

// processStatusResponse pairs the persisted job with its live snapshot.
type processStatusResponse struct {
	*types.Job
	ProgressDetail *types.ProgressSnapshot `json:"progress_detail,omitempty"`
}

// handleProcessStatus serves GET /process/status/{job_id}.
func (s *Server) handleProcessStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, apperr.Validationf("job_id is required"))
		return
	}

	job, err := s.svc.Tracker.Status(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.svc.Tracker.Snapshot(r.Context(), jobID)
	if err != nil {
		snap = nil
	}
	writeJSON(w, http.StatusOK, processStatusResponse{Job: job, ProgressDetail: snap})
}

// handleProcessHistory serves GET /process/history.
func (s *Server) handleProcessHistory(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLimit {
			writeError(w, apperr.Validationf("limit must be an integer in [1, %d] (got %q)", maxLimit, raw))
			return
		}
		limit = n
	}

	history, err := s.svc.Tracker.History(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if history == nil {
		history = []*types.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": history})
}
