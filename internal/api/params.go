package api

import (
	"net/http"
	"strconv"

	"github.com/chronicle-dev/chronicle/internal/apperr"
	"github.com/chronicle-dev/chronicle/internal/types"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// parsePagination reads limit (1-1000, default 100) and offset (>= 0).
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, perr := strconv.Atoi(raw)
		if perr != nil || n < 1 || n > maxLimit {
			return 0, 0, apperr.Validationf("limit must be an integer in [1, %d] (got %q)", maxLimit, raw)
		}
		limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, perr := strconv.Atoi(raw)
		if perr != nil || n < 0 {
			return 0, 0, apperr.Validationf("offset must be a non-negative integer (got %q)", raw)
		}
		offset = n
	}
	return limit, offset, nil
}

// parseDateRange reads optional date_start/date_end. Each must be
// YYYY-MM-DD when present. An inverted range is allowed; it simply yields
// empty results downstream.
func parseDateRange(r *http.Request) (dateStart, dateEnd string, err error) {
	dateStart = r.URL.Query().Get("date_start")
	dateEnd = r.URL.Query().Get("date_end")
	if dateStart != "" && !types.ValidDate(dateStart) {
		return "", "", apperr.Validationf("date_start must be YYYY-MM-DD (got %q)", dateStart)
	}
	if dateEnd != "" && !types.ValidDate(dateEnd) {
		return "", "", apperr.Validationf("date_end must be YYYY-MM-DD (got %q)", dateEnd)
	}
	return dateStart, dateEnd, nil
}

// parseID reads a positive integer path parameter.
func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validationf("id must be a positive integer (got %q)", raw)
	}
	return id, nil
}
