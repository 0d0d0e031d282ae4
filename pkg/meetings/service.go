// Package meetings implements the meeting intelligence layer:
// calendar ingestion with invariant-preserving upserts, importance
// scoring for new rows, and LLM summary generation.
package meetings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teamsync/core/pkg/llm"
	"github.com/teamsync/core/pkg/models"
	"github.com/teamsync/core/pkg/store"
)

// CalendarSource lists normalized events; the calendar provider client
// is the production implementation.
type CalendarSource interface {
	ListEvents(ctx context.Context, userID string, from, to time.Time) ([]*models.Meeting, error)
}

// IngestStats summarizes one ingestion pass.
type IngestStats struct {
	Fetched  int
	Created  int
	Updated  int
}

// Service is the meeting intelligence service.
type Service struct {
	meetings store.MeetingStore
	calendar CalendarSource
	llm      llm.Client
	logger   *slog.Logger
}

func NewService(meetings store.MeetingStore, calendar CalendarSource, llmClient llm.Client) *Service {
	return &Service{
		meetings: meetings,
		calendar: calendar,
		llm:      llmClient,
		logger:   slog.Default().With("component", "meetings"),
	}
}

// Ingest lists calendar events in [from, to] and upserts each one.
// Importance is scored only for rows that did not exist before; the
// merge-preserving upsert keeps every locally-written field intact on
// re-ingestion.
func (s *Service) Ingest(ctx context.Context, userID string, from, to time.Time) (IngestStats, error) {
	var stats IngestStats

	events, err := s.calendar.ListEvents(ctx, userID, from, to)
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(events)

	for _, event := range events {
		// Score before the write so a fresh insert lands with its score;
		// for existing rows the upsert discards these fields.
		event.ImportanceScore = ScoreImportance(event)

		created, err := s.meetings.Upsert(ctx, event)
		if err != nil {
			s.logger.Error("Failed to upsert meeting",
				"user_id", userID, "external_id", event.ExternalMeetingID, "error", err)
			return stats, err
		}
		if created {
			stats.Created++
		} else {
			stats.Updated++
		}
	}

	s.logger.Info("Meeting ingestion complete",
		"user_id", userID, "fetched", stats.Fetched,
		"created", stats.Created, "updated", stats.Updated)
	return stats, nil
}

// summaryPrompt instructs the model to return strict JSON.
const summaryPrompt = `You summarize meeting transcripts and notes.
Respond with a single JSON object and nothing else, using this shape:
{"summary": "...", "key_decisions": ["..."], "action_items": [{"task": "...", "owner": "...", "due": "..."}], "topics": ["..."]}
Omit owner/due when unknown. Keep the summary under 200 words.`

type summaryResponse struct {
	Summary      string              `json:"summary"`
	KeyDecisions []string            `json:"key_decisions"`
	ActionItems  []models.ActionItem `json:"action_items"`
	Topics       []string            `json:"topics"`
}

// Summarize generates and stores ai_summary, key_decisions and
// action_items for one meeting from its transcript or notes text.
//
// Parse failures are not errors: the raw completion is stored as the
// summary and the structured arrays stay empty.
func (s *Service) Summarize(ctx context.Context, userID string, meetingID int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("no text to summarize for meeting %d", meetingID)
	}

	completion, err := s.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: summaryPrompt},
		{Role: llm.RoleUser, Content: text},
	})
	if err != nil {
		return err
	}

	parsed, ok := parseSummary(completion)
	if !ok {
		s.logger.Warn("Summary response was not valid JSON, storing raw text",
			"user_id", userID, "meeting_id", meetingID)
		return s.meetings.UpdateSummary(ctx, userID, meetingID, completion, nil, nil)
	}

	return s.meetings.UpdateSummary(ctx, userID, meetingID,
		parsed.Summary, parsed.KeyDecisions, parsed.ActionItems)
}

// parseSummary tolerates completions that wrap the JSON object in
// markdown fences or prose.
func parseSummary(completion string) (*summaryResponse, bool) {
	text := strings.TrimSpace(completion)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var parsed summaryResponse
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return nil, false
	}
	if parsed.Summary == "" {
		return nil, false
	}
	return &parsed, true
}
