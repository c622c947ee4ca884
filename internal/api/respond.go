package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/chronicle-dev/chronicle/internal/apperr"
	"github.com/chronicle-dev/chronicle/internal/storage"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

// pageInfo is the pagination envelope block.
type pageInfo struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// paginated is the envelope of every list response.
type paginated struct {
	Items      any      `json:"items"`
	TotalCount int      `json:"total_count"`
	PageInfo   pageInfo `json:"page_info"`
}

// newPaginated wraps items. A nil slice still serializes as [].
func newPaginated[T any](items []T, total, limit, offset int) paginated {
	if items == nil {
		items = []T{}
	}
	return paginated{
		Items:      items,
		TotalCount: total,
		PageInfo: pageInfo{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+limit < total,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps an error to its HTTP status. Anything unrecognized
// collapses to a generic 500 so internals never leak.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal_error"
	message := "internal server error"

	switch {
	case errors.Is(err, apperr.ErrValidation):
		status, kind, message = http.StatusUnprocessableEntity, "validation_error", err.Error()
	case errors.Is(err, storage.ErrNotFound):
		status, kind, message = http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, storage.ErrConflict):
		status, kind, message = http.StatusConflict, "conflict", err.Error()
	case errors.Is(err, apperr.ErrAuth):
		status, kind, message = http.StatusUnauthorized, "unauthorized", err.Error()
	case errors.Is(err, apperr.ErrRateLimited):
		status, kind, message = http.StatusTooManyRequests, "rate_limited", err.Error()
	}

	writeJSON(w, status, errorBody{Error: kind, Message: message, StatusCode: status})
}

// writeRateLimited is writeError for the limiter, with Retry-After.
func writeRateLimited(w http.ResponseWriter, retryAfterSeconds int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Error:      "rate_limited",
		Message:    fmt.Sprintf("rate limit exceeded, retry in %ds", retryAfterSeconds),
		StatusCode: http.StatusTooManyRequests,
	})
}

// decodeBody parses a JSON request body into v. An empty body is allowed
// and leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Validationf("invalid JSON body: %v", err)
	}
	return nil
}
