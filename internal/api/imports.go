package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/chronicle-dev/chronicle/internal/apperr"
	"github.com/chronicle-dev/chronicle/internal/index"
	"github.com/chronicle-dev/chronicle/internal/types"
)

// ImportRegistry tracks the last run of each ingestion source for the
// status endpoint and the health aggregate.
type ImportRegistry struct {
	mu       sync.Mutex
	statuses map[string]*types.ImportStatus
}

// NewImportRegistry returns an empty registry.
func NewImportRegistry() *ImportRegistry {
	return &ImportRegistry{statuses: make(map[string]*types.ImportStatus)}
}

// RecordRun stores the outcome of one ingestion run.
func (ir *ImportRegistry) RecordRun(source string, count int, err error) {
	now := time.Now().UTC()
	status := &types.ImportStatus{
		Source:    source,
		LastRunAt: &now,
		LastCount: count,
		Healthy:   err == nil,
	}
	if err != nil {
		status.LastError = err.Error()
	}
	ir.mu.Lock()
	ir.statuses[source] = status
	ir.mu.Unlock()
}

// Get returns the last recorded status of a source, or nil.
func (ir *ImportRegistry) Get(source string) *types.ImportStatus {
	ir.mu.Lock()
	defer ir.mu.Unlock()
	return ir.statuses[source]
}

// importBody is the request shape of the import endpoints.
type importBody struct {
	HoursSinceLastUpdate int `json:"hours_since_last_update"`
}

const maxImportHours = 8760 // one year

// window converts the hours lookback into an inclusive date range ending
// today (UTC).
func (b importBody) window(now time.Time) (dateStart, dateEnd string) {
	end := now.UTC()
	start := end.Add(-time.Duration(b.HoursSinceLastUpdate) * time.Hour)
	return start.Format("2006-01-02"), end.Format("2006-01-02")
}

func parseImportBody(r *http.Request) (importBody, error) {
	body := importBody{HoursSinceLastUpdate: 24}
	if err := decodeBody(r, &body); err != nil {
		return body, err
	}
	if body.HoursSinceLastUpdate < 1 || body.HoursSinceLastUpdate > maxImportHours {
		return body, apperr.Validationf("hours_since_last_update must be in [1, %d] (got %d)",
			maxImportHours, body.HoursSinceLastUpdate)
	}
	return body, nil
}

// handleImportCalendar serves POST /import/calendar: a synchronous pull of
// the configured calendars over the lookback window.
func (s *Server) handleImportCalendar(w http.ResponseWriter, r *http.Request) {
	if s.svc.Calendar == nil {
		writeError(w, apperr.Validationf("calendar provider is not configured"))
		return
	}
	body, err := parseImportBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	dateStart, dateEnd := body.window(time.Now())
	res, err := s.svc.Calendar.IngestWindow(r.Context(), dateStart, dateEnd, s.svc.CalendarIDs)
	if err != nil {
		s.svc.Imports.RecordRun("calendar", 0, err)
		writeError(w, apperr.Providerf("calendar import failed: %v", err))
		return
	}
	s.svc.Imports.RecordRun("calendar", res.Inserted+res.Updated, nil)

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "completed",
		"window": map[string]string{"date_start": dateStart, "date_end": dateEnd},
		"counts": res,
	})
}

// handleImportNotes serves POST /import/notion: a synchronous workspace
// traversal followed by an indexing pass over the recently edited leaves.
func (s *Server) handleImportNotes(w http.ResponseWriter, r *http.Request) {
	if s.svc.Notes == nil {
		writeError(w, apperr.Validationf("notes provider is not configured"))
		return
	}
	body, err := parseImportBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.svc.Notes.Ingest(r.Context(), nil)
	if err != nil {
		s.svc.Imports.RecordRun("notes", 0, err)
		writeError(w, apperr.Providerf("notes import failed: %v", err))
		return
	}
	s.svc.Imports.RecordRun("notes", res.Blocks, nil)

	response := map[string]any{
		"status": "completed",
		"counts": res,
	}

	if s.svc.Indexer != nil {
		idx, err := s.svc.Indexer.Index(r.Context(), index.ScopeRecent, body.HoursSinceLastUpdate)
		if err != nil {
			s.log.Warn("post-import indexing failed", "error", err)
			response["indexing_error"] = err.Error()
		} else {
			response["indexed"] = idx
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// handleImportStatus serves GET /import/status.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	sources := []struct {
		name       string
		configured bool
	}{
		{"calendar", s.svc.Calendar != nil},
		{"notes", s.svc.Notes != nil},
	}

	out := make([]types.ImportStatus, 0, len(sources))
	for _, src := range sources {
		if status := s.svc.Imports.Get(src.name); status != nil {
			out = append(out, *status)
			continue
		}
		out = append(out, types.ImportStatus{
			Source:  src.name,
			Healthy: src.configured,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}
