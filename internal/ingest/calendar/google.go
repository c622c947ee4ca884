package calendar

import (
	"context"
	"fmt"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const pageSize = 250

// googleSource reads events through the Google Calendar API.
type googleSource struct {
	svc *gcal.Service
}

// NewGoogleSource builds an EventSource backed by the Google Calendar API.
// credentialsPath points at a service account or OAuth client file; when
// empty, Application Default Credentials are used.
func NewGoogleSource(ctx context.Context, credentialsPath string) (EventSource, error) {
	opts := []option.ClientOption{option.WithScopes(gcal.CalendarReadonlyScope)}
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing calendar service: %w", err)
	}
	return &googleSource{svc: svc}, nil
}

// Events pages through one calendar's events. Recurring events are expanded
// into single instances ordered by start time.
func (g *googleSource) Events(ctx context.Context, calendarID, timeMin, timeMax string) ([]Event, error) {
	var out []Event
	pageToken := ""
	for {
		call := g.svc.Events.List(calendarID).
			TimeMin(timeMin).
			TimeMax(timeMax).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(pageSize)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("listing events for %s: %w", calendarID, err)
		}
		for _, item := range resp.Items {
			out = append(out, fromGoogleEvent(item))
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = resp.NextPageToken
	}
}

func fromGoogleEvent(item *gcal.Event) Event {
	e := Event{
		ID:      item.Id,
		Summary: item.Summary,
		Link:    item.HtmlLink,
	}
	if item.Start != nil {
		if item.Start.DateTime != "" {
			e.Start = item.Start.DateTime
		} else {
			e.Start = item.Start.Date
			e.AllDay = true
		}
	}
	if item.End != nil {
		if item.End.DateTime != "" {
			e.End = item.End.DateTime
		} else {
			e.End = item.End.Date
		}
	}
	if raw, err := item.MarshalJSON(); err == nil {
		e.Payload = raw
	}
	return e
}
