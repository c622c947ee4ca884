// Package calendar pulls events from external calendars and upserts them as
// raw activities with source=calendar.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chronicle-dev/chronicle/internal/logging"
	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/types"
)

// Event is a provider-neutral calendar event. Start and End hold either an
// RFC 3339 instant or, for all-day events, a bare YYYY-MM-DD date.
type Event struct {
	ID      string
	Summary string
	Link    string
	Start   string
	End     string
	AllDay  bool
	Payload json.RawMessage
}

// EventSource lists the events of one calendar inside a window. timeMin and
// timeMax are RFC 3339 instants; implementations follow pagination until
// exhausted.
type EventSource interface {
	Events(ctx context.Context, calendarID, timeMin, timeMax string) ([]Event, error)
}

// Result summarizes one ingestion run.
type Result struct {
	Events   int `json:"events"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}

// Ingestor upserts calendar events into the store. External identifier
// mapping (event id, html link) is owned here; dedup is owned by the store.
type Ingestor struct {
	store  storage.Store
	source EventSource
	log    *slog.Logger
}

// New creates a calendar ingestor.
func New(store storage.Store, source EventSource) *Ingestor {
	return &Ingestor{
		store:  store,
		source: source,
		log:    logging.Component("calendar"),
	}
}

// DefaultCalendarIDs is used when no calendar list is configured.
var DefaultCalendarIDs = []string{"primary"}

// IngestWindow pulls events for the inclusive date range [dateStart, dateEnd]
// from every listed calendar. Per-event failures are logged and counted; a
// failing calendar is skipped and the rest still run. The error is non-nil
// only when the range is invalid or every calendar failed.
func (ing *Ingestor) IngestWindow(ctx context.Context, dateStart, dateEnd string, calendarIDs []string) (*Result, error) {
	if !types.ValidDate(dateStart) || !types.ValidDate(dateEnd) {
		return nil, fmt.Errorf("dates must be YYYY-MM-DD (got %q..%q)", dateStart, dateEnd)
	}
	if dateEnd < dateStart {
		return nil, fmt.Errorf("date_end %s before date_start %s", dateEnd, dateStart)
	}
	if len(calendarIDs) == 0 {
		calendarIDs = DefaultCalendarIDs
	}

	timeMin := dateStart + "T00:00:00Z"
	timeMax := dateEnd + "T23:59:59Z"

	res := &Result{}
	var calendarErrs []error
	for _, calID := range calendarIDs {
		events, err := ing.source.Events(ctx, calID, timeMin, timeMax)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			ing.log.Warn("calendar fetch failed, skipping calendar",
				"calendar", calID, "error", err)
			calendarErrs = append(calendarErrs, fmt.Errorf("calendar %s: %w", calID, err))
			continue
		}

		for _, e := range events {
			res.Events++
			activity, err := activityFromEvent(e)
			if err != nil {
				res.Failed++
				ing.log.Warn("skipping event", "calendar", calID, "event", e.ID, "error", err)
				continue
			}
			_, inserted, err := ing.store.UpsertRawActivity(ctx, activity)
			if err != nil {
				res.Failed++
				ing.log.Warn("upsert failed", "calendar", calID, "event", e.ID, "error", err)
				continue
			}
			if inserted {
				res.Inserted++
			} else {
				res.Updated++
			}
		}
	}

	if len(calendarErrs) == len(calendarIDs) {
		return res, errors.Join(calendarErrs...)
	}
	ing.log.Info("calendar ingestion complete",
		"range", dateStart+".."+dateEnd,
		"events", res.Events, "inserted", res.Inserted,
		"updated", res.Updated, "failed", res.Failed)
	return res, nil
}

// activityFromEvent maps a provider event to a raw activity row.
func activityFromEvent(e Event) (*types.RawActivity, error) {
	date, hhmm, duration, err := parseEventTimes(e)
	if err != nil {
		return nil, err
	}

	details := strings.TrimSpace(e.Summary)
	if details == "" {
		details = "(untitled event)"
	}

	return &types.RawActivity{
		Date:            date,
		Time:            hhmm,
		DurationMinutes: duration,
		Details:         details,
		Source:          types.SourceCalendar,
		SourceEventID:   e.ID,
		SourceLink:      e.Link,
		SourcePayload:   e.Payload,
	}, nil
}

// parseEventTimes derives (date, HH:MM, duration minutes) from an event.
// All-day events carry an empty time; their duration is the day span between
// start and the exclusive end date (1440 for a one-day event). Durations
// never go negative; a missing or malformed end yields zero.
func parseEventTimes(e Event) (date, hhmm string, durationMinutes int, err error) {
	if e.Start == "" {
		return "", "", 0, fmt.Errorf("event %s has no start", e.ID)
	}
	if e.AllDay {
		start, startErr := time.Parse("2006-01-02", e.Start)
		if startErr != nil {
			return "", "", 0, fmt.Errorf("event %s: bad all-day start %q", e.ID, e.Start)
		}
		if e.End != "" {
			if end, endErr := time.Parse("2006-01-02", e.End); endErr == nil {
				if d := end.Sub(start); d > 0 {
					durationMinutes = int(d / time.Minute)
				}
			}
		}
		return e.Start, "", durationMinutes, nil
	}

	start, err := time.Parse(time.RFC3339, e.Start)
	if err != nil {
		return "", "", 0, fmt.Errorf("event %s: bad start %q: %w", e.ID, e.Start, err)
	}
	date = start.Format("2006-01-02")
	hhmm = start.Format("15:04")

	if e.End != "" {
		if end, endErr := time.Parse(time.RFC3339, e.End); endErr == nil {
			if d := end.Sub(start); d > 0 {
				durationMinutes = int(d / time.Minute)
			}
		}
	}
	return date, hhmm, durationMinutes, nil
}
