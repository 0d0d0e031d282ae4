package models

import "time"

// Attendee is a single meeting participant as reported by the calendar
// provider. Order is preserved from the provider response.
type Attendee struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ActionItem is one structured action item extracted from a summary.
type ActionItem struct {
	Task  string `json:"task"`
	Owner string `json:"owner,omitempty"`
	Due   string `json:"due,omitempty"`
}

// Meeting metadata keys. Stored inside Meeting.Metadata so transcript
// state travels with the row without widening the schema.
const (
	MetaOnlineMeetingID     = "online_meeting_id"
	MetaTranscript          = "transcript"
	MetaTranscriptID        = "transcript_id"
	MetaTranscriptFetchedAt = "transcript_fetched_at"
	MetaTranscriptSource    = "source"
	MetaPlatform            = "platform"
	MetaRecurring           = "recurring"
)

// Meeting is a calendar meeting normalized into the unified timeline.
//
// StartTime and EndTime are naive timestamps in the provider-returned
// local timezone; StartTimezone/EndTimezone carry the IANA zone. The
// store never converts them to UTC.
type Meeting struct {
	ID                int64          `json:"id"`
	UserID            string         `json:"user_id"`
	ExternalMeetingID string         `json:"external_meeting_id"`
	Title             string         `json:"title"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           time.Time      `json:"end_time"`
	StartTimezone     string         `json:"start_timezone"`
	EndTimezone       string         `json:"end_timezone"`
	Location          string         `json:"location,omitempty"`
	URL               string         `json:"url,omitempty"`
	Attendees         []Attendee     `json:"attendees"`
	IsImportant       bool           `json:"is_important"`
	ImportanceScore   int            `json:"importance_score"`
	ManualNotes       *string        `json:"manual_notes,omitempty"`
	AISummary         *string        `json:"ai_summary,omitempty"`
	KeyDecisions      []string       `json:"key_decisions,omitempty"`
	ActionItems       []ActionItem   `json:"action_items,omitempty"`
	CopilotNotes      *string        `json:"copilot_notes,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Transcript returns the stored transcript text, if any.
func (m *Meeting) Transcript() string {
	if m.Metadata == nil {
		return ""
	}
	if t, ok := m.Metadata[MetaTranscript].(string); ok {
		return t
	}
	return ""
}

// OnlineMeetingID returns the resolved online-meeting identity, if any.
func (m *Meeting) OnlineMeetingID() string {
	if m.Metadata == nil {
		return ""
	}
	if id, ok := m.Metadata[MetaOnlineMeetingID].(string); ok {
		return id
	}
	return ""
}

// HasTranscript reports whether any transcript text is stored.
func (m *Meeting) HasTranscript() bool { return m.Transcript() != "" }

// MeetingFilter narrows ListMeetings results. Zero value means "all
// meetings for the user", newest first.
type MeetingFilter struct {
	ExternalIDs []string   // id-set selection; exclusive with time range
	From        *time.Time // start_time >= From
	To          *time.Time // start_time <= To
	Important   *bool
	Limit       int
	OrderAsc    bool // default: start_time DESC
}
