// Package provider defines the abstract mail/calendar client surface the
// pipelines consume, plus the error kinds the sync layer branches on. The
// Google implementation lives in provider/google.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/carebridge/inbox-triage/internal/mailparse"
)

var (
	// ErrAuthRevoked means the refresh credential is no longer valid
	// (invalid_grant). The source must be re-authenticated by the user.
	ErrAuthRevoked = errors.New("provider auth revoked")

	// ErrInvalidCursor means the stored history id / sync token was rejected
	// (410 Gone or 404). The caller should retry once without a cursor.
	ErrInvalidCursor = errors.New("provider cursor invalid")
)

// Message is a fully fetched mail message. Payload bodies are already
// transport-decoded; Payload.Headers carry the raw (undecoded) header values.
type Message struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	SizeEstimate int64
	Snippet      string
	Payload      mailparse.Part
}

// HistoryDelta is one page of the mail history API.
type HistoryDelta struct {
	MessageIDs    []string
	NextHistoryID string
}

// MailClient is the mail provider surface the mail pipeline needs.
type MailClient interface {
	// ListHistory returns message ids added since startHistoryID plus the
	// next cursor. ErrInvalidCursor signals a stale cursor.
	ListHistory(ctx context.Context, startHistoryID string, max int64) (HistoryDelta, error)

	// SearchMessages is the query-based fallback used when no usable cursor
	// exists.
	SearchMessages(ctx context.Context, query string, max int64) ([]string, error)

	// CurrentHistoryID returns the mailbox's present cursor, used to seed a
	// source after a fallback listing.
	CurrentHistoryID(ctx context.Context) (string, error)

	// GetMessage fetches the full message payload.
	GetMessage(ctx context.Context, id string) (*Message, error)
}

// Event is one calendar event from a sync-token listing.
type Event struct {
	ID          string
	ICalUID     string
	Status      string
	Summary     string
	Description string
	Location    string
	Organizer   string
	HTMLLink    string
	Start       *time.Time
	End         *time.Time
}

// EventsPage is one page of a calendar events listing.
type EventsPage struct {
	Events        []Event
	NextSyncToken string
}

// CalendarClient is the calendar provider surface the calendar pipeline needs.
type CalendarClient interface {
	// ListEvents lists changed events for the sync token; an empty token
	// requests a full listing. ErrInvalidCursor signals a stale token.
	ListEvents(ctx context.Context, syncToken string, max int64) (EventsPage, error)
}

// WatchRegistration is the result of registering a push watch or channel.
type WatchRegistration struct {
	ID         string
	ResourceID string
	Expiration time.Time
}

// WatchClient registers and renews provider push subscriptions.
type WatchClient interface {
	RegisterMailWatch(ctx context.Context, topic string) (WatchRegistration, error)
	RegisterCalendarChannel(ctx context.Context, address, token string) (WatchRegistration, error)
	StopCalendarChannel(ctx context.Context, channelID, resourceID string) error
}

// ExternalID returns the idempotency key for a calendar event: the iCalUID
// when present, else the event id.
func (e Event) ExternalID() string {
	if e.ICalUID != "" {
		return e.ICalUID
	}
	return e.ID
}
