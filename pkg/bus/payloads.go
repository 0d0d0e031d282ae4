package bus

import (
	"time"

	"github.com/teamsync/core/pkg/models"
)

// StepStats summarizes one orchestrator step within a cycle.
type StepStats struct {
	Step     string        `json:"step"` // meetings, transcripts, issues, code
	Fetched  int           `json:"fetched"`
	Upserted int           `json:"upserted"`
	Deleted  int           `json:"deleted"`
	Enqueued int           `json:"enqueued"`
	Err      string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// SyncCompletedPayload is published on TopicSyncCompleted at the end of
// every per-user sync cycle, whether or not individual steps failed.
type SyncCompletedPayload struct {
	UserID string      `json:"user_id"`
	At     time.Time   `json:"at"`
	Steps  []StepStats `json:"per_step_stats"`
}

// TranscriptAvailablePayload is published on TopicTranscriptAvailable
// whenever transcript acquisition reaches DONE_OK for a meeting.
type TranscriptAvailablePayload struct {
	UserID    string `json:"user_id"`
	MeetingID string `json:"meeting_id"` // external meeting id
	Source    string `json:"source"`     // "api" or "file_fallback"
}

// CredentialInvalidatedPayload is published on
// TopicCredentialInvalidated when a credential row is deleted after an
// unrecoverable auth failure. The UI observes this to prompt reconnect.
type CredentialInvalidatedPayload struct {
	UserID  string         `json:"user_id"`
	Service models.Service `json:"service"`
	Reason  string         `json:"reason"` // e.g. "invalid_grant", "site_gone"
}
