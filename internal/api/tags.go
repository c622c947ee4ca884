package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chronicle-dev/chronicle/internal/apperr"
	"github.com/chronicle-dev/chronicle/internal/cleaner"
	"github.com/chronicle-dev/chronicle/internal/types"
)

// handleListTags serves GET /tags.
func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sortBy := types.TagSortName
	if raw := r.URL.Query().Get("sort_by"); raw != "" {
		sortBy = types.TagSort(raw)
		if !sortBy.IsValid() {
			writeError(w, apperr.Validationf("sort_by must be one of {name, usage_count, created_at} (got %q)", raw))
			return
		}
	}

	items, total, err := s.svc.Store.ListTags(r.Context(), types.TagListOptions{
		SortBy: sortBy,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPaginated(items, total, limit, offset))
}

// handleGetTag serves GET /tags/{id}.
func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	tag, err := s.svc.Store.GetTag(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

// tagBody is the request shape of POST /tags and PUT /tags/{id}.
type tagBody struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
}

// handleCreateTag serves POST /tags.
func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var body tagBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Name == nil {
		writeError(w, apperr.Validationf("name is required"))
		return
	}

	tag := &types.Tag{Name: types.NormalizeTagName(*body.Name)}
	if body.Description != nil {
		tag.Description = *body.Description
	}
	if body.Color != nil {
		tag.Color = *body.Color
	}
	if err := tag.Validate(); err != nil {
		writeError(w, apperr.Validationf("%v", err))
		return
	}

	created, err := s.svc.Store.CreateTag(r.Context(), tag)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateTag serves PUT /tags/{id}. Only the fields present in the
// body change.
func (s *Server) handleUpdateTag(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var body tagBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	updates := make(map[string]interface{})
	if body.Name != nil {
		name := types.NormalizeTagName(*body.Name)
		if !types.ValidTagName(name) {
			writeError(w, apperr.Validationf("invalid tag name: %q", *body.Name))
			return
		}
		updates["name"] = name
	}
	if body.Description != nil {
		updates["description"] = *body.Description
	}
	if body.Color != nil {
		if *body.Color != "" && !types.ValidColor(*body.Color) {
			writeError(w, apperr.Validationf("color must match #rrggbb (got %q)", *body.Color))
			return
		}
		updates["color"] = *body.Color
	}
	if len(updates) == 0 {
		writeError(w, apperr.Validationf("no updatable fields in body"))
		return
	}

	tag, err := s.svc.Store.UpdateTag(r.Context(), id, updates)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

// handleDeleteTag serves DELETE /tags/{id}. Links cascade.
func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.Store.DeleteTag(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// cleanupBody is the request shape of POST /tags/cleanup.
type cleanupBody struct {
	DateStart        string  `json:"date_start"`
	DateEnd          string  `json:"date_end"`
	DryRun           bool    `json:"dry_run"`
	RemovalThreshold float64 `json:"removal_threshold"`
	MergeThreshold   float64 `json:"merge_threshold"`
}

// handleTagCleanup serves POST /tags/cleanup. The run is synchronous: tag
// sets are small and the summary is the response.
func (s *Server) handleTagCleanup(w http.ResponseWriter, r *http.Request) {
	var body cleanupBody
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
	if body.RemovalThreshold < 0 || body.RemovalThreshold > 1 {
		writeError(w, apperr.Validationf("removal_threshold must be in [0,1]"))
		return
	}
	if body.MergeThreshold < 0 || body.MergeThreshold > 1 {
		writeError(w, apperr.Validationf("merge_threshold must be in [0,1]"))
		return
	}

	summary, err := s.svc.Cleaner.Clean(r.Context(), cleaner.Options{
		DateStart:        body.DateStart,
		DateEnd:          body.DateEnd,
		DryRun:           body.DryRun,
		RemovalThreshold: body.RemovalThreshold,
		MergeThreshold:   body.MergeThreshold,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
