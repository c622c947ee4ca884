package api

import (
	"net/http"
	"time"
)

// componentHealth is one entry of the aggregate health report.
type componentHealth struct {
	Status string `json:"status"` // ok | degraded | down | unconfigured
	Detail string `json:"detail,omitempty"`
}

// healthReport is the payload of GET /system/health.
type healthReport struct {
	Status     string                     `json:"status"`
	Components map[string]componentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// handleSystemHealth serves GET /system/health: store reachability plus
// per-provider import health. A down store marks the whole system down;
// provider trouble only degrades it.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	report := healthReport{
		Status:     "ok",
		Components: make(map[string]componentHealth),
		CheckedAt:  time.Now().UTC(),
	}

	if err := s.svc.Store.Ping(r.Context()); err != nil {
		report.Status = "down"
		report.Components["store"] = componentHealth{Status: "down", Detail: err.Error()}
	} else {
		report.Components["store"] = componentHealth{Status: "ok"}
	}

	for _, src := range []struct {
		name       string
		configured bool
	}{
		{"calendar", s.svc.Calendar != nil},
		{"notes", s.svc.Notes != nil},
	} {
		if !src.configured {
			report.Components[src.name] = componentHealth{Status: "unconfigured"}
			continue
		}
		status := s.svc.Imports.Get(src.name)
		switch {
		case status == nil || status.LastRunAt == nil:
			report.Components[src.name] = componentHealth{Status: "ok", Detail: "no runs yet"}
		case status.Healthy:
			report.Components[src.name] = componentHealth{Status: "ok"}
		default:
			report.Components[src.name] = componentHealth{Status: "degraded", Detail: status.LastError}
			if report.Status == "ok" {
				report.Status = "degraded"
			}
		}
	}

	code := http.StatusOK
	if report.Status == "down" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

// handleSystemStats serves GET /system/stats.
func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Store.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleLiveness serves GET /healthz.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness serves GET /readyz: ready means the store answers.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
