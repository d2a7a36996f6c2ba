package google

import (
	"context"
	"time"

	calendarv3 "google.golang.org/api/calendar/v3"

	"github.com/carebridge/inbox-triage/internal/provider"
)

const primaryCalendar = "primary"

type calendarClient struct {
	svc     *calendarv3.Service
	timeout time.Duration
}

// ListEvents lists changed events since the sync token, paging until the API
// hands back the next token. An empty token requests a bounded full listing.
// A 410 on the token surfaces as ErrInvalidCursor.
func (c *calendarClient) ListEvents(ctx context.Context, syncToken string, max int64) (provider.EventsPage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var page provider.EventsPage
	pageToken := ""
	for {
		call := c.svc.Events.List(primaryCalendar).
			ShowDeleted(true).
			SingleEvents(true).
			MaxResults(max).
			Context(ctx)
		if syncToken != "" {
			call = call.SyncToken(syncToken)
		} else {
			// First listing is bounded to the future; history is the mail
			// pipeline's job.
			call = call.TimeMin(time.Now().UTC().Format(time.RFC3339))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return provider.EventsPage{}, mapCursorErr(err)
		}
		for _, item := range resp.Items {
			page.Events = append(page.Events, convertEvent(item))
		}
		if resp.NextSyncToken != "" {
			page.NextSyncToken = resp.NextSyncToken
		}
		if resp.NextPageToken == "" {
			return page, nil
		}
		pageToken = resp.NextPageToken
	}
}

func convertEvent(item *calendarv3.Event) provider.Event {
	ev := provider.Event{
		ID:          item.Id,
		ICalUID:     item.ICalUID,
		Status:      item.Status,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		HTMLLink:    item.HtmlLink,
	}
	if item.Organizer != nil {
		ev.Organizer = item.Organizer.Email
	}
	ev.Start = eventTime(item.Start)
	ev.End = eventTime(item.End)
	return ev
}

// eventTime handles both timed events (DateTime) and all-day events (Date).
func eventTime(edt *calendarv3.EventDateTime) *time.Time {
	if edt == nil {
		return nil
	}
	if edt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, edt.DateTime); err == nil {
			t = t.UTC()
			return &t
		}
	}
	if edt.Date != "" {
		if t, err := time.Parse("2006-01-02", edt.Date); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
