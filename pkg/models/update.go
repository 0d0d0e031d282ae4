package models

import "time"

// UpdateType discriminates rows in the update_entry table.
type UpdateType string

const (
	UpdateTypeIssueCreated UpdateType = "issue_created"
	UpdateTypeIssueUpdated UpdateType = "issue_updated"
	UpdateTypeIssueComment UpdateType = "issue_comment"
	UpdateTypeCodePR       UpdateType = "code_pr"
	UpdateTypeCodeCommit   UpdateType = "code_commit"
)

// IssueUpdateTypes are the types subject to dynamic deletion
// reconciliation. Code rows are never deleted by sync.
var IssueUpdateTypes = []UpdateType{UpdateTypeIssueCreated, UpdateTypeIssueUpdated}

// Valid reports whether t is one of the known update types.
func (t UpdateType) Valid() bool {
	switch t {
	case UpdateTypeIssueCreated, UpdateTypeIssueUpdated, UpdateTypeIssueComment,
		UpdateTypeCodePR, UpdateTypeCodeCommit:
		return true
	}
	return false
}

// Update is one issue-tracker or code-host activity row.
//
// ContentText is denormalized on every upsert: a concatenation of
// title, description, status and key metadata fields, so dashboard
// substring filters never traverse JSON.
type Update struct {
	ID                 int64          `json:"id"`
	UserID             string         `json:"user_id"`
	UpdateType         UpdateType     `json:"update_type"`
	ExternalID         string         `json:"external_id"`
	Title              string         `json:"title"`
	Description        string         `json:"description,omitempty"`
	ContentText        string         `json:"content_text"`
	Author             string         `json:"author,omitempty"`
	Status             string         `json:"status,omitempty"`
	Priority           string         `json:"priority,omitempty"`
	Project            string         `json:"project,omitempty"`
	LinkedMeetingID    *int64         `json:"linked_meeting_id,omitempty"`
	LinkedExternalKeys []string       `json:"linked_external_keys,omitempty"`
	URL                string         `json:"url,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// UpdateFilter narrows ListUpdates results. Zero value means "all
// updates for the user", newest first by updated_at.
type UpdateFilter struct {
	ExternalIDs []string
	Types       []UpdateType
	From        *time.Time // updated_at >= From
	To          *time.Time // updated_at <= To
	Search      string     // case-insensitive substring over content_text
	Limit       int
}
