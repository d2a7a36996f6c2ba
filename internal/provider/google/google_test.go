package google

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	calendarv3 "google.golang.org/api/calendar/v3"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/carebridge/inbox-triage/internal/provider"
)

func TestConvertPartDecodesBodies(t *testing.T) {
	payload := &gmailv1.MessagePart{
		MimeType: "multipart/alternative",
		Headers: []*gmailv1.MessagePartHeader{
			{Name: "Subject", Value: "Appointment"},
			{Name: "From", Value: "office@clinic.example.com"},
		},
		Parts: []*gmailv1.MessagePart{
			{
				MimeType: "text/plain",
				Body:     &gmailv1.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("see you soon"))},
			},
			{
				MimeType: "text/calendar",
				Filename: "invite.ics",
				Body:     &gmailv1.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("BEGIN:VEVENT"))},
			},
		},
	}

	part := convertPart(payload)
	assert.Equal(t, "Appointment", part.Headers["Subject"])
	require.Len(t, part.Parts, 2)
	assert.Equal(t, "see you soon", part.Parts[0].Body)
	assert.Equal(t, "BEGIN:VEVENT", part.Parts[1].Body)
	assert.Equal(t, "invite.ics", part.Parts[1].Filename)
}

func TestDecodeBodyUndecodableDropped(t *testing.T) {
	assert.Equal(t, "", decodeBody("!!not base64!!"))
}

func TestEventTimeShapes(t *testing.T) {
	timed := eventTime(&calendarv3.EventDateTime{DateTime: "2026-01-21T14:30:00-05:00"})
	require.NotNil(t, timed)
	assert.Equal(t, time.Date(2026, 1, 21, 19, 30, 0, 0, time.UTC), *timed)

	allDay := eventTime(&calendarv3.EventDateTime{Date: "2026-01-21"})
	require.NotNil(t, allDay)
	assert.Equal(t, time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC), *allDay)

	assert.Nil(t, eventTime(nil))
}

func TestMapCursorErr(t *testing.T) {
	gone := &googleapi.Error{Code: 410, Message: "sync token expired"}
	assert.ErrorIs(t, mapCursorErr(gone), provider.ErrInvalidCursor)

	missing := &googleapi.Error{Code: 404}
	assert.ErrorIs(t, mapCursorErr(missing), provider.ErrInvalidCursor)

	unauthorized := &googleapi.Error{Code: 401}
	assert.ErrorIs(t, mapCursorErr(unauthorized), provider.ErrAuthRevoked)

	assert.NoError(t, mapCursorErr(nil))
}
