// Package store defines the persistence contracts for the sync engine.
// Implementations live in subpackages; pg is the production backend.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/teamsync/core/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// MeetingStore persists calendar meetings.
//
// Upsert is merge-preserving: provider-owned fields (title, times,
// location, url, attendees) overwrite, while locally-written fields
// (manual notes, AI summary, decisions, action items, importance,
// transcript metadata) survive re-ingestion unchanged.
type MeetingStore interface {
	// Upsert inserts or merge-updates by (user_id, external_meeting_id).
	// Returns true when a new row was created. m.ID is populated.
	Upsert(ctx context.Context, m *models.Meeting) (created bool, err error)

	// UpdateTranscript writes only the transcript metadata keys. It is
	// the single write path for acquired transcripts and never touches
	// provider-owned or manual fields.
	UpdateTranscript(ctx context.Context, userID string, meetingID int64, transcript, transcriptID, source string, fetchedAt time.Time) error

	// SetOnlineMeetingID persists the resolved online-meeting identity
	// into the row's metadata without touching any other field.
	SetOnlineMeetingID(ctx context.Context, userID string, meetingID int64, onlineMeetingID string) error

	// SetCopilotNotes writes provider-generated structured notes.
	SetCopilotNotes(ctx context.Context, userID string, meetingID int64, notes string) error

	// UpdateSummary writes the AI-derived fields of one meeting.
	UpdateSummary(ctx context.Context, userID string, meetingID int64, summary string, decisions []string, items []models.ActionItem) error

	// SetManualNotes replaces the user-authored notes of one meeting.
	SetManualNotes(ctx context.Context, userID string, meetingID int64, notes string) error

	GetByID(ctx context.Context, userID string, id int64) (*models.Meeting, error)
	GetByExternalID(ctx context.Context, userID, externalID string) (*models.Meeting, error)
	List(ctx context.Context, userID string, filter models.MeetingFilter) ([]*models.Meeting, error)
}

// UpdateStore persists issue-tracker and code-host activity rows.
type UpdateStore interface {
	// Upsert inserts or updates by (user_id, update_type, external_id),
	// regenerating content_text from the row fields. An existing
	// linked_meeting_id survives when the incoming row carries none.
	Upsert(ctx context.Context, u *models.Update) (created bool, err error)

	// SetLinkedMeeting back-references an update row to a meeting.
	SetLinkedMeeting(ctx context.Context, userID string, updateID, meetingID int64) error

	// AddLinkedKeys appends external keys to a row's
	// linked_external_keys, deduplicated. updated_at is untouched so
	// back-referencing never reorders dashboards or widens deletion
	// windows.
	AddLinkedKeys(ctx context.Context, userID string, updateID int64, keys []string) error

	// DeleteMissing removes rows of the given types whose updated_at
	// falls in [from, to] and whose external_id is not in keep. Returns
	// rows deleted and rows in the window before deletion.
	DeleteMissing(ctx context.Context, userID string, types []models.UpdateType, from, to time.Time, keep []string) (deleted, total int64, err error)

	// DeleteOlderThan prunes rows across all users for retention.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	List(ctx context.Context, userID string, filter models.UpdateFilter) ([]*models.Update, error)
}

// CredentialStore persists integration credentials. Token refresh
// policy lives above this layer; these are plain row operations.
type CredentialStore interface {
	Upsert(ctx context.Context, c *models.Credential) error
	Get(ctx context.Context, userID string, service models.Service) (*models.Credential, error)
	List(ctx context.Context, userID string) ([]*models.Credential, error)
	UpdateTokens(ctx context.Context, userID string, service models.Service, accessToken, refreshToken string, expiresAt time.Time) error
	Delete(ctx context.Context, userID string, service models.Service) error
}

// CodeChunkStore persists metadata about indexed code fragments.
type CodeChunkStore interface {
	UpsertBatch(ctx context.Context, chunks []*models.CodeChunk) error
	ListRepositories(ctx context.Context, userID string) ([]models.Repository, error)
	DeleteRepository(ctx context.Context, userID string, repo models.Repository) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Meetings    MeetingStore
	Updates     UpdateStore
	Credentials CredentialStore
	CodeChunks  CodeChunkStore
}
