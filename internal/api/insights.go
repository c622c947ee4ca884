package api

import (
	"net/http"

	"github.com/chronicle-dev/chronicle/internal/apperr"
	"github.com/chronicle-dev/chronicle/internal/types"
)

// handleOverview serves GET /insights/overview.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	dateStart, dateEnd, err := parseDateRange(r)
	if err != nil {
		writeError(w, err)
		return
	}
	overview, err := s.svc.Store.Overview(r.Context(), dateStart, dateEnd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// handleTimeDistribution serves GET /insights/time-distribution.
func (s *Server) handleTimeDistribution(w http.ResponseWriter, r *http.Request) {
	dateStart, dateEnd, err := parseDateRange(r)
	if err != nil {
		writeError(w, err)
		return
	}

	groupBy := types.GroupByDay
	if raw := r.URL.Query().Get("group_by"); raw != "" {
		groupBy = types.GroupBy(raw)
		if !groupBy.IsValid() {
			writeError(w, apperr.Validationf("group_by must be one of {day, week, month} (got %q)", raw))
			return
		}
	}

	dist, err := s.svc.Store.TimeDistribution(r.Context(), dateStart, dateEnd, groupBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dist)
}
