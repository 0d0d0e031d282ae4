// Package transcripts implements transcript acquisition for important
// meetings that have ended: online-meeting-id resolution, the
// transcript API with a drive-file fallback, and a capped exponential
// retry schedule. All writes go through the transcript-only store path
// so user-authored fields are never touched.
package transcripts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teamsync/core/pkg/bus"
	"github.com/teamsync/core/pkg/config"
	"github.com/teamsync/core/pkg/faults"
	"github.com/teamsync/core/pkg/models"
	"github.com/teamsync/core/pkg/providers"
	"github.com/teamsync/core/pkg/store"
)

// Provider is the calendar-provider surface the engine consumes.
type Provider interface {
	GetEvent(ctx context.Context, userID, eventID string) (*models.Meeting, error)
	ListTranscripts(ctx context.Context, userID, onlineMeetingID string) ([]providers.Transcript, error)
	FetchTranscriptContent(ctx context.Context, userID, onlineMeetingID, transcriptID string) (string, error)
	FetchRecapNotes(ctx context.Context, userID, onlineMeetingID string) (string, error)
	SearchFiles(ctx context.Context, userID, query string) ([]providers.DriveFile, error)
	DownloadFile(ctx context.Context, userID, fileID string) ([]byte, error)
}

// Summarizer generates the AI summary when no provider notes exist.
type Summarizer interface {
	Summarize(ctx context.Context, userID string, meetingID int64, text string) error
}

// Transcript source labels stored in meeting metadata.
const (
	SourceAPI          = "api"
	SourceFileFallback = "file_fallback"
)

type outcome int

const (
	outcomeDone outcome = iota
	outcomeUnavailable
	outcomeRetry
)

type job struct {
	userID     string
	meetingID  int64
	externalID string
	attempt    int
	aggressive bool
}

// Engine runs transcript acquisition jobs on a bounded worker pool.
// Excess jobs queue in FIFO order; an active set keyed by meeting id
// prevents duplicate jobs for the same meeting.
type Engine struct {
	cfg        *config.TranscriptConfig
	meetings   store.MeetingStore
	provider   Provider
	summarizer Summarizer
	events     *bus.Bus
	logger     *slog.Logger
	now        func() time.Time
	after      func(time.Duration) <-chan time.Time

	jobs chan job

	mu     sync.Mutex
	active map[int64]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(cfg *config.TranscriptConfig, meetings store.MeetingStore, provider Provider, summarizer Summarizer, events *bus.Bus) *Engine {
	return &Engine{
		cfg:        cfg,
		meetings:   meetings,
		provider:   provider,
		summarizer: summarizer,
		events:     events,
		logger:     slog.Default().With("component", "transcripts"),
		now:        time.Now,
		after:      time.After,
		jobs:       make(chan job, 8*cfg.MaxConcurrentJobs),
		active:     make(map[int64]bool),
	}
}

// Start spawns the worker pool. Must be called before Enqueue.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)

	for i := 0; i < e.cfg.MaxConcurrentJobs; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.logger.Info("Transcript engine started", "workers", e.cfg.MaxConcurrentJobs)
}

// Stop cancels in-flight jobs and waits for the workers to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.logger.Info("Transcript engine stopped")
}

// Enqueue schedules acquisition for one meeting. Aggressive jobs follow
// the full retry schedule; non-aggressive jobs get a single attempt.
// Returns false when the meeting is ineligible, already tracked, or the
// queue is saturated.
func (e *Engine) Enqueue(m *models.Meeting, aggressive bool) bool {
	if !m.IsImportant || m.HasTranscript() {
		return false
	}

	e.mu.Lock()
	if e.active[m.ID] {
		e.mu.Unlock()
		return false
	}
	e.active[m.ID] = true
	e.mu.Unlock()

	j := job{
		userID:     m.UserID,
		meetingID:  m.ID,
		externalID: m.ExternalMeetingID,
		attempt:    1,
		aggressive: aggressive,
	}
	select {
	case e.jobs <- j:
		return true
	default:
		// Saturated queue: release the slot so the next sync cycle can
		// enqueue again.
		e.clearActive(m.ID)
		e.logger.Warn("Transcript queue full, dropping job",
			"user_id", m.UserID, "meeting_id", m.ID)
		return false
	}
}

// ActiveJobs reports the number of tracked meetings, queued or running.
func (e *Engine) ActiveJobs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func (e *Engine) clearActive(meetingID int64) {
	e.mu.Lock()
	delete(e.active, meetingID)
	e.mu.Unlock()
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case j := <-e.jobs:
			e.run(j)
		}
	}
}

func (e *Engine) run(j job) {
	switch e.attempt(e.ctx, j) {
	case outcomeDone:
		e.clearActive(j.meetingID)
	case outcomeUnavailable:
		e.clearActive(j.meetingID)
		e.logger.Info("Transcript unavailable",
			"user_id", j.userID, "meeting_id", j.meetingID, "attempts", j.attempt)
	case outcomeRetry:
		if !j.aggressive || j.attempt >= e.cfg.MaxAttempts {
			e.clearActive(j.meetingID)
			e.logger.Info("Transcript attempts exhausted",
				"user_id", j.userID, "meeting_id", j.meetingID, "attempts", j.attempt)
			return
		}
		e.scheduleRetry(j)
	}
}

// scheduleRetry re-enqueues the job after the backoff delay. The
// meeting stays in the active set the whole time.
func (e *Engine) scheduleRetry(j job) {
	delay := retryDelay(e.cfg, j.attempt)
	next := j
	next.attempt++

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		select {
		case <-e.ctx.Done():
			e.clearActive(next.meetingID)
		case <-e.after(delay):
			select {
			case <-e.ctx.Done():
				e.clearActive(next.meetingID)
			case e.jobs <- next:
			}
		}
	}()
}

// retryDelay is the wait after attempt number attempt:
// initial_delay * 1.5^(attempt-1), capped at max_delay.
func retryDelay(cfg *config.TranscriptConfig, attempt int) time.Duration {
	d := float64(cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= 1.5
		if d >= float64(cfg.MaxDelay) {
			return cfg.MaxDelay
		}
	}
	if d >= float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(d)
}

// attempt runs one pass of the acquisition state machine.
func (e *Engine) attempt(ctx context.Context, j job) outcome {
	meeting, err := e.meetings.GetByID(ctx, j.userID, j.meetingID)
	if errors.Is(err, store.ErrNotFound) {
		return outcomeUnavailable
	}
	if err != nil {
		e.logger.Error("Failed to load meeting",
			"user_id", j.userID, "meeting_id", j.meetingID, "error", err)
		return outcomeRetry
	}
	if meeting.HasTranscript() {
		return outcomeDone
	}

	onlineID, out := e.resolveOnlineMeetingID(ctx, j, meeting)
	if out != outcomeDone {
		return out
	}

	transcripts, err := e.provider.ListTranscripts(ctx, j.userID, onlineID)
	if err != nil {
		if terminalFault(err) {
			return outcomeUnavailable
		}
		e.logger.Warn("Listing transcripts failed",
			"user_id", j.userID, "meeting_id", j.meetingID, "error", err)
		return outcomeRetry
	}
	if len(transcripts) > 0 {
		newest := transcripts[0]
		for _, t := range transcripts[1:] {
			if t.CreatedAt.After(newest.CreatedAt) {
				newest = t
			}
		}
		content, err := e.provider.FetchTranscriptContent(ctx, j.userID, onlineID, newest.ID)
		if err != nil && terminalFault(err) {
			return outcomeUnavailable
		}
		if err == nil && strings.TrimSpace(content) != "" {
			return e.storeTranscript(ctx, j, meeting, onlineID, newest.ID, content, SourceAPI)
		}
	}

	return e.fallbackFromFiles(ctx, j, meeting, onlineID)
}

// resolveOnlineMeetingID derives the online-meeting identity from
// metadata, the stored join URL, or a fresh event fetch. Returns
// outcomeDone with the id on success.
func (e *Engine) resolveOnlineMeetingID(ctx context.Context, j job, meeting *models.Meeting) (string, outcome) {
	if id := meeting.OnlineMeetingID(); id != "" {
		return id, outcomeDone
	}

	id := ParseOnlineMeetingID(meeting.URL)
	if id == "" {
		event, err := e.provider.GetEvent(ctx, j.userID, meeting.ExternalMeetingID)
		if err != nil {
			if terminalFault(err) || faults.Is(err, faults.KindProviderNotFound) {
				return "", outcomeUnavailable
			}
			e.logger.Warn("Event fetch failed during id resolution",
				"user_id", j.userID, "meeting_id", j.meetingID, "error", err)
			return "", outcomeRetry
		}
		id = ParseOnlineMeetingID(event.URL)
	}
	if id == "" {
		// not_an_online_meeting: nothing to acquire, ever.
		return "", outcomeUnavailable
	}

	if err := e.meetings.SetOnlineMeetingID(ctx, j.userID, j.meetingID, id); err != nil {
		e.logger.Warn("Failed to persist online meeting id",
			"user_id", j.userID, "meeting_id", j.meetingID, "error", err)
	}
	return id, outcomeDone
}

func (e *Engine) fallbackFromFiles(ctx context.Context, j job, meeting *models.Meeting, onlineID string) outcome {
	files, err := e.provider.SearchFiles(ctx, j.userID, meeting.Title)
	if err != nil {
		if terminalFault(err) {
			return outcomeUnavailable
		}
		e.logger.Warn("Fallback file search failed",
			"user_id", j.userID, "meeting_id", j.meetingID, "error", err)
		return outcomeRetry
	}

	file := pickFallbackFile(files, meeting.Title)
	if file == nil {
		return outcomeRetry
	}

	body, err := e.provider.DownloadFile(ctx, j.userID, file.ID)
	if err != nil || len(body) == 0 {
		if err != nil && terminalFault(err) {
			return outcomeUnavailable
		}
		e.logger.Warn("Fallback file download failed",
			"user_id", j.userID, "meeting_id", j.meetingID, "file", file.Name, "error", err)
		return outcomeRetry
	}

	return e.storeTranscript(ctx, j, meeting, onlineID, file.ID, string(body), SourceFileFallback)
}

// storeTranscript writes the acquired text, fetches provider notes
// best-effort, emits transcript-available, and falls back to an AI
// summary when no provider notes exist.
func (e *Engine) storeTranscript(ctx context.Context, j job, meeting *models.Meeting, onlineID, transcriptID, content, source string) outcome {
	err := e.meetings.UpdateTranscript(ctx, j.userID, j.meetingID, content, transcriptID, source, e.now())
	if err != nil {
		e.logger.Error("Failed to store transcript",
			"user_id", j.userID, "meeting_id", j.meetingID, "error", err)
		return outcomeRetry
	}

	notes := ""
	if recap, err := e.provider.FetchRecapNotes(ctx, j.userID, onlineID); err == nil {
		notes = recap
	} else {
		e.logger.Warn("Recap notes fetch failed",
			"user_id", j.userID, "meeting_id", j.meetingID, "error", err)
	}
	if notes != "" {
		if err := e.meetings.SetCopilotNotes(ctx, j.userID, j.meetingID, notes); err != nil {
			e.logger.Warn("Failed to store recap notes",
				"user_id", j.userID, "meeting_id", j.meetingID, "error", err)
			notes = ""
		}
	}

	e.events.Publish(bus.TopicTranscriptAvailable, bus.TranscriptAvailablePayload{
		UserID:    j.userID,
		MeetingID: j.externalID,
		Source:    source,
	})
	e.logger.Info("Transcript acquired",
		"user_id", j.userID, "meeting_id", j.meetingID,
		"source", source, "attempts", j.attempt)

	hasNotes := notes != "" ||
		(meeting.CopilotNotes != nil && strings.TrimSpace(*meeting.CopilotNotes) != "")
	if !hasNotes && e.summarizer != nil {
		if err := e.summarizer.Summarize(ctx, j.userID, j.meetingID, content); err != nil {
			e.logger.Warn("Fallback summary failed",
				"user_id", j.userID, "meeting_id", j.meetingID, "error", err)
		}
	}
	return outcomeDone
}

// terminalFault reports faults that further retries cannot fix.
func terminalFault(err error) bool {
	switch faults.KindOf(err) {
	case faults.KindCredentialMissing, faults.KindCredentialInvalidated,
		faults.KindProviderPermission:
		return true
	}
	return false
}

// Ended reports how long ago a meeting ended, comparing its naive end
// time against the current wall clock in the meeting's own zone.
func Ended(m *models.Meeting, now time.Time) (time.Duration, bool) {
	if m.EndTime.IsZero() {
		return 0, false
	}
	d := naiveNow(m.EndTimezone, now).Sub(m.EndTime)
	return d, d >= 0
}

// naiveNow renders now as a naive timestamp in the given zone, matching
// how meeting times are stored.
func naiveNow(zone string, now time.Time) time.Time {
	if zone != "" {
		if loc, err := time.LoadLocation(zone); err == nil {
			now = now.In(loc)
		}
	}
	return time.Date(now.Year(), now.Month(), now.Day(),
		now.Hour(), now.Minute(), now.Second(), 0, time.UTC)
}
