package api

import (
	"net/http"
	"strings"

	"github.com/chronicle-dev/chronicle/internal/apperr"
	"github.com/chronicle-dev/chronicle/internal/types"
)

// handleListRawActivities serves GET /activities/raw.
func (s *Server) handleListRawActivities(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, err)
		return
	}
	dateStart, dateEnd, err := parseDateRange(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var source types.Source
	if raw := r.URL.Query().Get("source"); raw != "" {
		source = types.Source(raw)
		if !source.IsValid() {
			writeError(w, apperr.Validationf("source must be one of {notes, calendar} (got %q)", raw))
			return
		}
	}

	items, total, err := s.svc.Store.ListRawActivities(r.Context(), types.ActivityFilter{
		Source:    source,
		DateStart: dateStart,
		DateEnd:   dateEnd,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPaginated(items, total, limit, offset))
}

// handleListProcessedActivities serves GET /activities/processed. Tags is
// a csv filter; an activity matches when it carries any of the named tags.
func (s *Server) handleListProcessedActivities(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, err)
		return
	}
	dateStart, dateEnd, err := parseDateRange(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var tags []string
	if raw := r.URL.Query().Get("tags"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			name = types.NormalizeTagName(name)
			if name == "" {
				continue
			}
			if !types.ValidTagName(name) {
				writeError(w, apperr.Validationf("invalid tag name in filter: %q", name))
				return
			}
			tags = append(tags, name)
		}
	}

	items, total, err := s.svc.Store.ListProcessedActivities(r.Context(), types.ProcessedFilter{
		DateStart: dateStart,
		DateEnd:   dateEnd,
		Tags:      tags,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPaginated(items, total, limit, offset))
}
