package transcripts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamsync/core/pkg/bus"
	"github.com/teamsync/core/pkg/config"
	"github.com/teamsync/core/pkg/models"
	"github.com/teamsync/core/pkg/providers"
	"github.com/teamsync/core/pkg/store"
)

// memMeetingStore is an in-memory store.MeetingStore for engine tests.
type memMeetingStore struct {
	mu   sync.Mutex
	rows map[int64]*models.Meeting
}

func newMemMeetingStore(meetings ...*models.Meeting) *memMeetingStore {
	s := &memMeetingStore{rows: make(map[int64]*models.Meeting)}
	for _, m := range meetings {
		s.rows[m.ID] = m
	}
	return s
}

func (s *memMeetingStore) Upsert(_ context.Context, m *models.Meeting) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.rows[m.ID]
	s.rows[m.ID] = m
	return !existed, nil
}

func (s *memMeetingStore) UpdateTranscript(_ context.Context, userID string, id int64, transcript, transcriptID, source string, fetchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok || m.UserID != userID {
		return store.ErrNotFound
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	m.Metadata[models.MetaTranscript] = transcript
	m.Metadata[models.MetaTranscriptID] = transcriptID
	m.Metadata[models.MetaTranscriptSource] = source
	m.Metadata[models.MetaTranscriptFetchedAt] = fetchedAt.UTC().Format(time.RFC3339)
	return nil
}

func (s *memMeetingStore) SetOnlineMeetingID(_ context.Context, userID string, id int64, onlineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok || m.UserID != userID {
		return store.ErrNotFound
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	m.Metadata[models.MetaOnlineMeetingID] = onlineID
	return nil
}

func (s *memMeetingStore) SetCopilotNotes(_ context.Context, userID string, id int64, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok || m.UserID != userID {
		return store.ErrNotFound
	}
	m.CopilotNotes = &notes
	return nil
}

func (s *memMeetingStore) UpdateSummary(context.Context, string, int64, string, []string, []models.ActionItem) error {
	return nil
}

func (s *memMeetingStore) SetManualNotes(context.Context, string, int64, string) error { return nil }

func (s *memMeetingStore) GetByID(_ context.Context, userID string, id int64) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok || m.UserID != userID {
		return nil, store.ErrNotFound
	}
	cp := *m
	cp.Metadata = make(map[string]any, len(m.Metadata))
	for k, v := range m.Metadata {
		cp.Metadata[k] = v
	}
	return &cp, nil
}

func (s *memMeetingStore) GetByExternalID(context.Context, string, string) (*models.Meeting, error) {
	return nil, store.ErrNotFound
}

func (s *memMeetingStore) List(context.Context, string, models.MeetingFilter) ([]*models.Meeting, error) {
	return nil, nil
}

// stubProvider serves transcripts after a configurable number of list
// calls, with optional drive fallback files.
type stubProvider struct {
	mu             sync.Mutex
	listCalls      int
	readyAtCall    int // 0 means never
	content        string
	files          []providers.DriveFile
	fileBody       []byte
	recap          string
	eventURL       string
	downloadCalled bool
}

func (p *stubProvider) GetEvent(_ context.Context, userID, eventID string) (*models.Meeting, error) {
	return &models.Meeting{UserID: userID, ExternalMeetingID: eventID, URL: p.eventURL}, nil
}

func (p *stubProvider) ListTranscripts(context.Context, string, string) ([]providers.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls++
	if p.readyAtCall > 0 && p.listCalls >= p.readyAtCall {
		return []providers.Transcript{
			{ID: "tr-old", CreatedAt: time.Now().Add(-time.Hour)},
			{ID: "tr-new", CreatedAt: time.Now()},
		}, nil
	}
	return nil, nil
}

func (p *stubProvider) FetchTranscriptContent(context.Context, string, string, string) (string, error) {
	return p.content, nil
}

func (p *stubProvider) FetchRecapNotes(context.Context, string, string) (string, error) {
	return p.recap, nil
}

func (p *stubProvider) SearchFiles(context.Context, string, string) ([]providers.DriveFile, error) {
	return p.files, nil
}

func (p *stubProvider) DownloadFile(context.Context, string, string) ([]byte, error) {
	p.mu.Lock()
	p.downloadCalled = true
	p.mu.Unlock()
	return p.fileBody, nil
}

func (p *stubProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listCalls
}

type stubSummarizer struct {
	mu    sync.Mutex
	calls int
	text  string
}

func (s *stubSummarizer) Summarize(_ context.Context, _ string, _ int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.text = text
	return nil
}

func (s *stubSummarizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type eventSink struct {
	mu       sync.Mutex
	payloads []bus.TranscriptAvailablePayload
}

func (s *eventSink) attach(b *bus.Bus) {
	b.Subscribe(bus.TopicTranscriptAvailable, "test-sink", func(payload any) {
		p, ok := payload.(bus.TranscriptAvailablePayload)
		if !ok {
			return
		}
		s.mu.Lock()
		s.payloads = append(s.payloads, p)
		s.mu.Unlock()
	})
}

func (s *eventSink) all() []bus.TranscriptAvailablePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bus.TranscriptAvailablePayload(nil), s.payloads...)
}

func testTranscriptConfig() *config.TranscriptConfig {
	return &config.TranscriptConfig{
		InitialDelay:      120 * time.Second,
		MaxDelay:          1800 * time.Second,
		MaxAttempts:       10,
		RecentWindow:      5 * time.Minute,
		EligibleWindow:    24 * time.Hour,
		MaxConcurrentJobs: 2,
	}
}

func importantMeeting() *models.Meeting {
	return &models.Meeting{
		ID: 1, UserID: "user-1", ExternalMeetingID: "ext-1",
		Title:       "Sprint Planning",
		IsImportant: true,
		URL:         "https://teams.example.com/l/meetup-join/19:meeting_abc123@thread.v2/0",
		EndTime:     time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Second),
	}
}

// startEngine wires an engine whose retry timer fires immediately and
// records the requested delays.
func startEngine(t *testing.T, meetings store.MeetingStore, provider Provider, summarizer Summarizer, events *bus.Bus) (*Engine, func() []time.Duration) {
	t.Helper()

	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	e := NewEngine(testTranscriptConfig(), meetings, provider, summarizer, events)
	e.after = func(d time.Duration) <-chan time.Time {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return e, func() []time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Duration(nil), delays...)
	}
}

func TestRetryDelay(t *testing.T) {
	cfg := testTranscriptConfig()

	assert.Equal(t, 120*time.Second, retryDelay(cfg, 1))
	assert.Equal(t, 180*time.Second, retryDelay(cfg, 2))
	assert.Equal(t, 270*time.Second, retryDelay(cfg, 3))
	assert.Equal(t, 405*time.Second, retryDelay(cfg, 4))

	// Monotone, capped, never above max.
	prev := time.Duration(0)
	for i := 1; i <= cfg.MaxAttempts; i++ {
		d := retryDelay(cfg, i)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, cfg.MaxDelay)
		prev = d
	}
	assert.Equal(t, cfg.MaxDelay, retryDelay(cfg, 10))
}

func TestEngine_AcquiresAfterRetries(t *testing.T) {
	meeting := importantMeeting()
	meetings := newMemMeetingStore(meeting)
	provider := &stubProvider{readyAtCall: 4, content: "WEBVTT\n00:00 hello"}
	summarizer := &stubSummarizer{}
	events := bus.New()
	sink := &eventSink{}
	sink.attach(events)

	engine, delays := startEngine(t, meetings, provider, summarizer, events)
	require.True(t, engine.Enqueue(meeting, true))

	require.Eventually(t, func() bool { return engine.ActiveJobs() == 0 },
		2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 4, provider.calls())
	assert.Equal(t, []time.Duration{
		120 * time.Second, 180 * time.Second, 270 * time.Second,
	}, delays())

	got, err := meetings.GetByID(context.Background(), "user-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "WEBVTT\n00:00 hello", got.Transcript())
	assert.Equal(t, "tr-new", got.Metadata[models.MetaTranscriptID])
	assert.Equal(t, SourceAPI, got.Metadata[models.MetaTranscriptSource])
	assert.NotEmpty(t, got.Metadata[models.MetaTranscriptFetchedAt])
	assert.Equal(t, "19:meeting_abc123@thread.v2", got.OnlineMeetingID())

	payloads := sink.all()
	require.Len(t, payloads, 1)
	assert.Equal(t, bus.TranscriptAvailablePayload{
		UserID: "user-1", MeetingID: "ext-1", Source: SourceAPI,
	}, payloads[0])

	// No provider notes, so the AI fallback summary ran.
	assert.Equal(t, 1, summarizer.callCount())
}

func TestEngine_RecapNotesSuppressFallbackSummary(t *testing.T) {
	meeting := importantMeeting()
	meetings := newMemMeetingStore(meeting)
	provider := &stubProvider{readyAtCall: 1, content: "WEBVTT\ntext", recap: "Decisions: ship it"}
	summarizer := &stubSummarizer{}
	events := bus.New()

	engine, _ := startEngine(t, meetings, provider, summarizer, events)
	require.True(t, engine.Enqueue(meeting, true))
	require.Eventually(t, func() bool { return engine.ActiveJobs() == 0 },
		2*time.Second, 5*time.Millisecond)

	got, err := meetings.GetByID(context.Background(), "user-1", 1)
	require.NoError(t, err)
	require.NotNil(t, got.CopilotNotes)
	assert.Equal(t, "Decisions: ship it", *got.CopilotNotes)
	assert.Zero(t, summarizer.callCount())
}

func TestEngine_FileFallback(t *testing.T) {
	meeting := importantMeeting()
	meetings := newMemMeetingStore(meeting)
	provider := &stubProvider{
		files: []providers.DriveFile{
			{ID: "f-1", Name: "Sprint Planning transcript.vtt", LastModified: time.Now()},
			{ID: "f-2", Name: "recording.mp4", LastModified: time.Now()},
		},
		fileBody: []byte("WEBVTT\nfrom file"),
	}
	events := bus.New()
	sink := &eventSink{}
	sink.attach(events)

	engine, _ := startEngine(t, meetings, provider, &stubSummarizer{}, events)
	require.True(t, engine.Enqueue(meeting, true))
	require.Eventually(t, func() bool { return engine.ActiveJobs() == 0 },
		2*time.Second, 5*time.Millisecond)

	got, err := meetings.GetByID(context.Background(), "user-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "WEBVTT\nfrom file", got.Transcript())
	assert.Equal(t, SourceFileFallback, got.Metadata[models.MetaTranscriptSource])
	assert.Equal(t, "f-1", got.Metadata[models.MetaTranscriptID])

	payloads := sink.all()
	require.Len(t, payloads, 1)
	assert.Equal(t, SourceFileFallback, payloads[0].Source)
}

func TestEngine_NonAggressiveSingleAttempt(t *testing.T) {
	meeting := importantMeeting()
	meetings := newMemMeetingStore(meeting)
	provider := &stubProvider{} // never produces a transcript

	engine, delays := startEngine(t, meetings, provider, &stubSummarizer{}, bus.New())
	require.True(t, engine.Enqueue(meeting, false))
	require.Eventually(t, func() bool { return engine.ActiveJobs() == 0 },
		2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, provider.calls())
	assert.Empty(t, delays())
}

func TestEngine_NotAnOnlineMeeting(t *testing.T) {
	meeting := importantMeeting()
	meeting.URL = "https://example.com/webLink-only"
	meetings := newMemMeetingStore(meeting)
	provider := &stubProvider{eventURL: "https://example.com/still-no-thread"}

	engine, _ := startEngine(t, meetings, provider, &stubSummarizer{}, bus.New())
	require.True(t, engine.Enqueue(meeting, true))
	require.Eventually(t, func() bool { return engine.ActiveJobs() == 0 },
		2*time.Second, 5*time.Millisecond)

	// Terminal before the transcript API was ever consulted.
	assert.Zero(t, provider.calls())
	got, err := meetings.GetByID(context.Background(), "user-1", 1)
	require.NoError(t, err)
	assert.False(t, got.HasTranscript())
}

func TestEngine_EnqueueDeduplicatesAndFilters(t *testing.T) {
	meeting := importantMeeting()
	engine := NewEngine(testTranscriptConfig(), newMemMeetingStore(meeting), &stubProvider{}, nil, bus.New())

	assert.True(t, engine.Enqueue(meeting, true))
	assert.False(t, engine.Enqueue(meeting, true), "already tracked")
	assert.Equal(t, 1, engine.ActiveJobs())

	unimportant := importantMeeting()
	unimportant.ID = 2
	unimportant.IsImportant = false
	assert.False(t, engine.Enqueue(unimportant, true))

	done := importantMeeting()
	done.ID = 3
	done.Metadata = map[string]any{models.MetaTranscript: "already here"}
	assert.False(t, engine.Enqueue(done, true))
}

func TestEnded(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	m := &models.Meeting{
		EndTime:     time.Date(2026, 7, 1, 11, 30, 0, 0, time.UTC),
		EndTimezone: "UTC",
	}
	d, ended := Ended(m, now)
	assert.True(t, ended)
	assert.Equal(t, 30*time.Minute, d)

	// Naive end time in a non-UTC zone compares against that zone's
	// wall clock, not UTC.
	berlin := &models.Meeting{
		EndTime:     time.Date(2026, 7, 1, 13, 30, 0, 0, time.UTC), // 13:30 local
		EndTimezone: "Europe/Berlin",                               // 14:00 local now
	}
	d, ended = Ended(berlin, now)
	assert.True(t, ended)
	assert.Equal(t, 30*time.Minute, d)

	future := &models.Meeting{
		EndTime:     time.Date(2026, 7, 1, 12, 30, 0, 0, time.UTC),
		EndTimezone: "UTC",
	}
	_, ended = Ended(future, now)
	assert.False(t, ended)
}
