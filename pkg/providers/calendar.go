package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/teamsync/core/pkg/config"
	"github.com/teamsync/core/pkg/faults"
	"github.com/teamsync/core/pkg/models"
)

// CalendarClient talks to the Graph-style calendar provider: events,
// online-meeting transcripts and the drive fallback for recording
// artifacts.
type CalendarClient struct {
	baseURL string
	req     *requester
	content *requester // long-deadline requester for transcript/file bodies
}

func NewCalendarClient(cfg *config.CalendarProviderConfig, tokens TokenSource) *CalendarClient {
	return &CalendarClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		req:     newRequester(models.ServiceCalendar, tokens, defaultTimeout),
		content: newRequester(models.ServiceCalendar, tokens, contentTimeout),
	}
}

type calendarEvent struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Start   struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	} `json:"end"`
	Location struct {
		DisplayName string `json:"displayName"`
	} `json:"location"`
	Attendees []struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"attendees"`
	IsOnlineMeeting bool   `json:"isOnlineMeeting"`
	Type            string `json:"type"` // singleInstance, occurrence, seriesMaster
	OnlineMeeting   *struct {
		JoinURL string `json:"joinUrl"`
	} `json:"onlineMeeting"`
	WebLink string `json:"webLink"`
}

type calendarEventPage struct {
	Value    []calendarEvent `json:"value"`
	NextLink string          `json:"@odata.nextLink"`
}

// ListEvents queries the calendar view between from and to and
// normalizes every event. Wall-clock times are preserved exactly as the
// provider reports them, with their zone names alongside.
func (c *CalendarClient) ListEvents(ctx context.Context, userID string, from, to time.Time) ([]*models.Meeting, error) {
	const op = "calendar.list_events"

	endpoint := fmt.Sprintf("%s/me/calendarView?startDateTime=%s&endDateTime=%s&$top=100&$orderby=start/dateTime",
		c.baseURL,
		url.QueryEscape(from.UTC().Format(time.RFC3339)),
		url.QueryEscape(to.UTC().Format(time.RFC3339)))

	var meetings []*models.Meeting
	for endpoint != "" {
		var page calendarEventPage
		if err := c.req.do(ctx, userID, op, request{method: "GET", url: endpoint}, &page); err != nil {
			return nil, err
		}
		for i := range page.Value {
			m, err := normalizeEvent(userID, &page.Value[i])
			if err != nil {
				// Unexpected shape: keep the event out rather than abort
				// the whole window.
				c.req.logger.Warn("Skipping unparseable event",
					"event_id", page.Value[i].ID, "error", err)
				continue
			}
			meetings = append(meetings, m)
		}
		endpoint = page.NextLink
	}
	return meetings, nil
}

// GetEvent fetches a single event by id.
func (c *CalendarClient) GetEvent(ctx context.Context, userID, eventID string) (*models.Meeting, error) {
	const op = "calendar.get_event"

	var ev calendarEvent
	endpoint := fmt.Sprintf("%s/me/events/%s", c.baseURL, url.PathEscape(eventID))
	if err := c.req.do(ctx, userID, op, request{method: "GET", url: endpoint}, &ev); err != nil {
		return nil, err
	}
	m, err := normalizeEvent(userID, &ev)
	if err != nil {
		return nil, faults.New(faults.KindParseFailure, op, err)
	}
	return m, nil
}

func normalizeEvent(userID string, ev *calendarEvent) (*models.Meeting, error) {
	start, err := parseNaive(ev.Start.DateTime)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	end, err := parseNaive(ev.End.DateTime)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}

	m := &models.Meeting{
		UserID:            userID,
		ExternalMeetingID: ev.ID,
		Title:             ev.Subject,
		StartTime:         start,
		EndTime:           end,
		StartTimezone:     ev.Start.TimeZone,
		EndTimezone:       ev.End.TimeZone,
		Location:          ev.Location.DisplayName,
		Metadata: map[string]any{
			models.MetaPlatform:  "teams",
			models.MetaRecurring: ev.Type == "occurrence" || ev.Type == "seriesMaster",
		},
	}
	if ev.OnlineMeeting != nil && ev.OnlineMeeting.JoinURL != "" {
		m.URL = ev.OnlineMeeting.JoinURL
	} else {
		m.URL = ev.WebLink
	}
	for _, a := range ev.Attendees {
		m.Attendees = append(m.Attendees, models.Attendee{
			Name:  a.EmailAddress.Name,
			Email: a.EmailAddress.Address,
		})
	}
	return m, nil
}

// Transcript is one transcript artifact attached to an online meeting.
type Transcript struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdDateTime"`
}

// ListTranscripts returns the transcripts recorded for an online
// meeting, newest first. A 404 means "none yet" and returns empty.
func (c *CalendarClient) ListTranscripts(ctx context.Context, userID, onlineMeetingID string) ([]Transcript, error) {
	const op = "calendar.list_transcripts"

	var page struct {
		Value []Transcript `json:"value"`
	}
	endpoint := fmt.Sprintf("%s/me/onlineMeetings/%s/transcripts",
		c.baseURL, url.PathEscape(onlineMeetingID))
	err := c.req.do(ctx, userID, op, request{method: "GET", url: endpoint}, &page)
	if err != nil {
		if Absent(err) {
			return nil, nil
		}
		return nil, err
	}
	return page.Value, nil
}

// FetchTranscriptContent downloads one transcript body as text. The
// long content deadline applies.
func (c *CalendarClient) FetchTranscriptContent(ctx context.Context, userID, onlineMeetingID, transcriptID string) (string, error) {
	const op = "calendar.fetch_transcript_content"

	endpoint := fmt.Sprintf("%s/me/onlineMeetings/%s/transcripts/%s/content?$format=text/vtt",
		c.baseURL, url.PathEscape(onlineMeetingID), url.PathEscape(transcriptID))

	var body []byte
	err := c.content.do(ctx, userID, op, request{method: "GET", url: endpoint, raw: true}, &body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchRecapNotes returns the provider-generated structured notes for
// an online meeting, if any have been produced. Absence is not an
// error.
func (c *CalendarClient) FetchRecapNotes(ctx context.Context, userID, onlineMeetingID string) (string, error) {
	const op = "calendar.fetch_recap_notes"

	var page struct {
		Value []struct {
			MeetingNotes []struct {
				Title string `json:"title"`
				Text  string `json:"text"`
			} `json:"meetingNotes"`
		} `json:"value"`
	}
	endpoint := fmt.Sprintf("%s/me/onlineMeetings/%s/aiInsights",
		c.baseURL, url.PathEscape(onlineMeetingID))
	err := c.req.do(ctx, userID, op, request{method: "GET", url: endpoint}, &page)
	if err != nil {
		if Absent(err) {
			return "", nil
		}
		return "", err
	}
	if len(page.Value) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, note := range page.Value[0].MeetingNotes {
		if note.Title != "" {
			sb.WriteString(note.Title)
			sb.WriteString("\n")
		}
		if note.Text != "" {
			sb.WriteString(note.Text)
			sb.WriteString("\n")
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// DriveFile is one drive item from the fallback search.
type DriveFile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LastModified time.Time `json:"lastModifiedDateTime"`
	Size         int64     `json:"size"`
}

// SearchFiles searches the user's drive for the given query string.
func (c *CalendarClient) SearchFiles(ctx context.Context, userID, query string) ([]DriveFile, error) {
	const op = "calendar.search_files"

	var page struct {
		Value []DriveFile `json:"value"`
	}
	endpoint := fmt.Sprintf("%s/me/drive/root/search(q='%s')?$top=50",
		c.baseURL, url.PathEscape(query))
	err := c.req.do(ctx, userID, op, request{method: "GET", url: endpoint}, &page)
	if err != nil {
		if Absent(err) {
			return nil, nil
		}
		return nil, err
	}
	return page.Value, nil
}

// DownloadFile fetches a drive item's content with the long deadline.
func (c *CalendarClient) DownloadFile(ctx context.Context, userID, fileID string) ([]byte, error) {
	const op = "calendar.download_file"

	endpoint := fmt.Sprintf("%s/me/drive/items/%s/content", c.baseURL, url.PathEscape(fileID))
	var body []byte
	if err := c.content.do(ctx, userID, op, request{method: "GET", url: endpoint, raw: true}, &body); err != nil {
		return nil, err
	}
	return body, nil
}
