package meetings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamsync/core/pkg/llm"
	"github.com/teamsync/core/pkg/models"
	"github.com/teamsync/core/pkg/store"
)

// memMeetingStore implements store.MeetingStore with the same merge
// contract as the Postgres backend, for service-level tests.
type memMeetingStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[string]*models.Meeting // userID/externalID
}

func newMemMeetingStore() *memMeetingStore {
	return &memMeetingStore{rows: make(map[string]*models.Meeting)}
}

func (s *memMeetingStore) key(userID, externalID string) string {
	return userID + "/" + externalID
}

func (s *memMeetingStore) Upsert(_ context.Context, m *models.Meeting) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rows[s.key(m.UserID, m.ExternalMeetingID)]
	if !ok {
		s.nextID++
		m.ID = s.nextID
		cp := *m
		s.rows[s.key(m.UserID, m.ExternalMeetingID)] = &cp
		return true, nil
	}

	existing.Title = m.Title
	existing.StartTime = m.StartTime
	existing.EndTime = m.EndTime
	existing.Attendees = m.Attendees
	m.ID = existing.ID
	m.ImportanceScore = existing.ImportanceScore
	m.IsImportant = existing.IsImportant
	return false, nil
}

func (s *memMeetingStore) UpdateTranscript(_ context.Context, userID string, id int64, transcript, transcriptID, source string, fetchedAt time.Time) error {
	return nil
}

func (s *memMeetingStore) UpdateSummary(_ context.Context, userID string, id int64, summary string, decisions []string, items []models.ActionItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.rows {
		if m.UserID == userID && m.ID == id {
			m.AISummary = &summary
			m.KeyDecisions = decisions
			m.ActionItems = items
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *memMeetingStore) SetManualNotes(context.Context, string, int64, string) error { return nil }

func (s *memMeetingStore) SetOnlineMeetingID(context.Context, string, int64, string) error {
	return nil
}

func (s *memMeetingStore) SetCopilotNotes(context.Context, string, int64, string) error { return nil }

func (s *memMeetingStore) GetByID(_ context.Context, userID string, id int64) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.rows {
		if m.UserID == userID && m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memMeetingStore) GetByExternalID(_ context.Context, userID, externalID string) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.rows[s.key(userID, externalID)]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (s *memMeetingStore) List(_ context.Context, userID string, _ models.MeetingFilter) ([]*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Meeting
	for _, m := range s.rows {
		if m.UserID == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

type stubCalendar struct {
	events []*models.Meeting
	err    error
}

func (s *stubCalendar) ListEvents(context.Context, string, time.Time, time.Time) ([]*models.Meeting, error) {
	return s.events, s.err
}

type stubLLM struct {
	response string
	err      error
	prompts  []llm.Message
}

func (s *stubLLM) Complete(_ context.Context, messages []llm.Message) (string, error) {
	s.prompts = messages
	return s.response, s.err
}

func TestIngest_ScoresOnlyNewRows(t *testing.T) {
	meetingStore := newMemMeetingStore()
	cal := &stubCalendar{events: []*models.Meeting{
		{
			UserID: "user-1", ExternalMeetingID: "m-1",
			Title: "Standup", Attendees: attendees(7),
		},
	}}
	svc := NewService(meetingStore, cal, &stubLLM{})

	stats, err := svc.Ingest(context.Background(), "user-1", time.Now(), time.Now().AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, IngestStats{Fetched: 1, Created: 1}, stats)

	got, err := meetingStore.GetByExternalID(context.Background(), "user-1", "m-1")
	require.NoError(t, err)
	assert.Equal(t, 100, got.ImportanceScore) // standup +30, >=5 attendees +20
	assert.False(t, got.IsImportant)

	// Re-ingest with more attendees: attendee list updates, score does not.
	cal.events = []*models.Meeting{
		{
			UserID: "user-1", ExternalMeetingID: "m-1",
			Title: "Standup", Attendees: attendees(12),
		},
	}
	stats, err = svc.Ingest(context.Background(), "user-1", time.Now(), time.Now().AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, IngestStats{Fetched: 1, Updated: 1}, stats)

	got, err = meetingStore.GetByExternalID(context.Background(), "user-1", "m-1")
	require.NoError(t, err)
	assert.Len(t, got.Attendees, 12)
	assert.Equal(t, 100, got.ImportanceScore)
}

func TestIngest_ProviderFailurePropagates(t *testing.T) {
	svc := NewService(newMemMeetingStore(), &stubCalendar{err: errors.New("boom")}, &stubLLM{})

	_, err := svc.Ingest(context.Background(), "user-1", time.Now(), time.Now().Add(time.Hour))
	assert.Error(t, err)
}

func TestSummarize_ParsesStructuredResponse(t *testing.T) {
	meetingStore := newMemMeetingStore()
	m := &models.Meeting{UserID: "user-1", ExternalMeetingID: "m-1", Title: "Review"}
	_, err := meetingStore.Upsert(context.Background(), m)
	require.NoError(t, err)

	ai := &stubLLM{response: "```json\n" + `{
		"summary": "We agreed on the rollout plan.",
		"key_decisions": ["Ship Friday"],
		"action_items": [{"task": "Update runbook", "owner": "Ada"}],
		"topics": ["rollout"]
	}` + "\n```"}
	svc := NewService(meetingStore, &stubCalendar{}, ai)

	require.NoError(t, svc.Summarize(context.Background(), "user-1", m.ID, "transcript text"))

	got, err := meetingStore.GetByID(context.Background(), "user-1", m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AISummary)
	assert.Equal(t, "We agreed on the rollout plan.", *got.AISummary)
	assert.Equal(t, []string{"Ship Friday"}, got.KeyDecisions)
	require.Len(t, got.ActionItems, 1)
	assert.Equal(t, "Update runbook", got.ActionItems[0].Task)

	// The transcript went to the model as the user turn.
	require.Len(t, ai.prompts, 2)
	assert.Equal(t, llm.RoleUser, ai.prompts[1].Role)
	assert.Equal(t, "transcript text", ai.prompts[1].Content)
}

func TestSummarize_ParseFailureStoresRawText(t *testing.T) {
	meetingStore := newMemMeetingStore()
	m := &models.Meeting{UserID: "user-1", ExternalMeetingID: "m-1"}
	_, err := meetingStore.Upsert(context.Background(), m)
	require.NoError(t, err)

	svc := NewService(meetingStore, &stubCalendar{},
		&stubLLM{response: "Here is a plain prose summary with no JSON."})

	require.NoError(t, svc.Summarize(context.Background(), "user-1", m.ID, "transcript"))

	got, err := meetingStore.GetByID(context.Background(), "user-1", m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AISummary)
	assert.Equal(t, "Here is a plain prose summary with no JSON.", *got.AISummary)
	assert.Empty(t, got.KeyDecisions)
	assert.Empty(t, got.ActionItems)
}

func TestSummarize_EmptyTextRejected(t *testing.T) {
	svc := NewService(newMemMeetingStore(), &stubCalendar{}, &stubLLM{})
	assert.Error(t, svc.Summarize(context.Background(), "user-1", 1, "   "))
}
