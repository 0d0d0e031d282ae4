package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamsync/core/pkg/config"
	"github.com/teamsync/core/pkg/models"
)

const calendarViewPayload = `{
	"value": [
		{
			"id": "evt-1",
			"subject": "Design Review",
			"type": "occurrence",
			"start": {"dateTime": "2026-03-02T14:00:00.0000000", "timeZone": "Europe/Berlin"},
			"end": {"dateTime": "2026-03-02T15:00:00.0000000", "timeZone": "Europe/Berlin"},
			"location": {"displayName": "Room 4"},
			"isOnlineMeeting": true,
			"onlineMeeting": {"joinUrl": "https://teams.example.com/l/meetup-join/19%3ameeting_YWJj%40thread.v2/0"},
			"attendees": [
				{"emailAddress": {"name": "Ada", "address": "ada@example.com"}},
				{"emailAddress": {"name": "Lin", "address": "lin@example.com"}}
			]
		},
		{
			"id": "evt-2",
			"subject": "Broken",
			"start": {"dateTime": "not-a-time", "timeZone": "UTC"},
			"end": {"dateTime": "2026-03-02T16:00:00", "timeZone": "UTC"}
		}
	]
}`

func newCalendarClient(t *testing.T, handler http.Handler) *CalendarClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCalendarClient(&config.CalendarProviderConfig{BaseURL: srv.URL}, newStubTokens("tok"))
}

func TestListEvents_NormalizesAndPreservesLocalTime(t *testing.T) {
	client := newCalendarClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/calendarView", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("startDateTime"))
		w.Write([]byte(calendarViewPayload)) //nolint:errcheck
	}))

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	meetings, err := client.ListEvents(context.Background(), "user-1", from, from.AddDate(0, 1, 0))
	require.NoError(t, err)

	// The unparseable event is skipped, not fatal.
	require.Len(t, meetings, 1)
	m := meetings[0]
	assert.Equal(t, "evt-1", m.ExternalMeetingID)
	assert.Equal(t, "Design Review", m.Title)
	// The wall clock is the provider's local reading, never shifted.
	assert.Equal(t, "2026-03-02T14:00:00", m.StartTime.Format("2006-01-02T15:04:05"))
	assert.Equal(t, "Europe/Berlin", m.StartTimezone)
	assert.Len(t, m.Attendees, 2)
	assert.Equal(t, true, m.Metadata[models.MetaRecurring])
	assert.Contains(t, m.URL, "19%3ameeting_")
}

func TestListTranscripts_NotFoundMeansNone(t *testing.T) {
	client := newCalendarClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	transcripts, err := client.ListTranscripts(context.Background(), "user-1", "19:meeting_abc@thread.v2")
	require.NoError(t, err)
	assert.Empty(t, transcripts)
}

func TestFetchTranscriptContent(t *testing.T) {
	client := newCalendarClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/transcripts/tr-1/content")
		w.Write([]byte("WEBVTT\n\n00:00:01 --> 00:00:04\nhello world")) //nolint:errcheck
	}))

	content, err := client.FetchTranscriptContent(context.Background(), "user-1", "19:meeting_abc@thread.v2", "tr-1")
	require.NoError(t, err)
	assert.Contains(t, content, "hello world")
}

func TestSearchFiles(t *testing.T) {
	client := newCalendarClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value": [
			{"id": "f-1", "name": "Design Review-transcript.vtt", "lastModifiedDateTime": "2026-03-02T15:05:00Z"},
			{"id": "f-2", "name": "notes.txt", "lastModifiedDateTime": "2026-03-01T10:00:00Z"}
		]}`)) //nolint:errcheck
	}))

	files, err := client.SearchFiles(context.Background(), "user-1", "Design Review")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "Design Review-transcript.vtt", files[0].Name)
}
