// Package syncer runs the per-user sync orchestration: a supervisor
// spawns one cancellable worker per active user, and each worker runs
// the four-step cycle immediately, on a periodic interval, and on
// demand. Steps are isolated; a failing step logs and the cycle moves
// on.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teamsync/core/pkg/bus"
	"github.com/teamsync/core/pkg/config"
	"github.com/teamsync/core/pkg/meetings"
	"github.com/teamsync/core/pkg/models"
	"github.com/teamsync/core/pkg/store"
	"github.com/teamsync/core/pkg/tasks"
	"github.com/teamsync/core/pkg/transcripts"
)

// MeetingIngester runs the calendar step.
type MeetingIngester interface {
	Ingest(ctx context.Context, userID string, from, to time.Time) (meetings.IngestStats, error)
}

// TaskIngester runs the issues and code steps.
type TaskIngester interface {
	IngestIssues(ctx context.Context, userID string, since time.Time) (tasks.IssueStats, error)
	IngestCode(ctx context.Context, userID string, since time.Time) (tasks.CodeStats, error)
}

// TranscriptEnqueuer accepts transcript acquisition jobs.
type TranscriptEnqueuer interface {
	Enqueue(m *models.Meeting, aggressive bool) bool
}

// Supervisor owns the per-user workers.
type Supervisor struct {
	syncCfg       *config.SyncConfig
	transcriptCfg *config.TranscriptConfig
	meetings      MeetingIngester
	tasks         TaskIngester
	transcripts   TranscriptEnqueuer
	meetingStore  store.MeetingStore
	events        *bus.Bus
	logger        *slog.Logger
	now           func() time.Time

	mu      sync.Mutex
	workers map[string]*worker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type worker struct {
	userID string
	cancel context.CancelFunc
	kick   chan struct{} // capacity 1; extra requests coalesce
}

func NewSupervisor(
	syncCfg *config.SyncConfig,
	transcriptCfg *config.TranscriptConfig,
	meetingIngester MeetingIngester,
	taskIngester TaskIngester,
	enqueuer TranscriptEnqueuer,
	meetingStore store.MeetingStore,
	events *bus.Bus,
) *Supervisor {
	return &Supervisor{
		syncCfg:       syncCfg,
		transcriptCfg: transcriptCfg,
		meetings:      meetingIngester,
		tasks:         taskIngester,
		transcripts:   enqueuer,
		meetingStore:  meetingStore,
		events:        events,
		logger:        slog.Default().With("component", "syncer"),
		now:           time.Now,
		workers:       make(map[string]*worker),
	}
}

// Start prepares the supervisor. Workers are added per user session via
// StartUser.
func (s *Supervisor) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("Sync supervisor started",
		"interval", s.syncCfg.Interval)
}

// Stop cancels every worker and waits up to the shutdown timeout.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("Sync supervisor stopped")
	case <-time.After(s.syncCfg.ShutdownTimeout):
		s.logger.Warn("Sync supervisor shutdown timed out",
			"timeout", s.syncCfg.ShutdownTimeout)
	}
}

// StartUser spawns a worker for the user unless one is running. The
// worker cycles immediately, then every sync interval.
func (s *Supervisor) StartUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.workers[userID]; running {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	w := &worker{
		userID: userID,
		cancel: cancel,
		kick:   make(chan struct{}, 1),
	}
	s.workers[userID] = w

	s.wg.Add(1)
	go s.runWorker(ctx, w)
	s.logger.Info("Sync worker started", "user_id", userID)
}

// StopUser cancels the user's worker, ending any in-flight cycle.
func (s *Supervisor) StopUser(userID string) {
	s.mu.Lock()
	w, ok := s.workers[userID]
	if ok {
		delete(s.workers, userID)
	}
	s.mu.Unlock()

	if ok {
		w.cancel()
		s.logger.Info("Sync worker stopped", "user_id", userID)
	}
}

// SyncNow requests an immediate cycle for the user. A request arriving
// while a cycle is in flight coalesces with it; there is never more
// than one cycle per user. Returns false when no worker is running.
func (s *Supervisor) SyncNow(userID string) bool {
	s.mu.Lock()
	w, ok := s.workers[userID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case w.kick <- struct{}{}:
	default:
	}
	return true
}

func (s *Supervisor) runWorker(ctx context.Context, w *worker) {
	defer s.wg.Done()

	s.cycle(ctx, w.userID)

	ticker := time.NewTicker(s.syncCfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle(ctx, w.userID)
		case <-w.kick:
			s.cycle(ctx, w.userID)
		}
	}
}

// cycle runs the four ordered steps for one user and publishes
// sync-completed with per-step stats, whatever the step outcomes were.
func (s *Supervisor) cycle(ctx context.Context, userID string) {
	started := s.now()
	steps := make([]bus.StepStats, 0, 4)

	steps = append(steps, s.meetingsStep(ctx, userID))
	steps = append(steps, s.transcriptsStep(ctx, userID))
	steps = append(steps, s.issuesStep(ctx, userID))
	steps = append(steps, s.codeStep(ctx, userID))

	s.events.Publish(bus.TopicSyncCompleted, bus.SyncCompletedPayload{
		UserID: userID,
		At:     s.now(),
		Steps:  steps,
	})
	s.logger.Info("Sync cycle complete",
		"user_id", userID, "elapsed", s.now().Sub(started))
}

func (s *Supervisor) meetingsStep(ctx context.Context, userID string) bus.StepStats {
	started := s.now()
	stats := bus.StepStats{Step: "meetings"}

	from := s.now()
	result, err := s.meetings.Ingest(ctx, userID, from, from.Add(s.syncCfg.MeetingsForward))
	if err != nil {
		s.logger.Error("Meetings step failed", "user_id", userID, "error", err)
		stats.Err = err.Error()
	}
	stats.Fetched = result.Fetched
	stats.Upserted = result.Created + result.Updated
	stats.Elapsed = s.now().Sub(started)
	return stats
}

// transcriptsStep enqueues acquisition for important meetings that
// ended inside the eligible window and still lack a transcript. Those
// that ended moments ago get the aggressive retry schedule; the rest a
// single attempt.
func (s *Supervisor) transcriptsStep(ctx context.Context, userID string) bus.StepStats {
	started := s.now()
	stats := bus.StepStats{Step: "transcripts"}

	important := true
	// The lookback is padded because stored times are naive wall
	// clocks; exact eligibility is decided per meeting in its own zone.
	from := s.now().UTC().Add(-s.transcriptCfg.EligibleWindow - 14*time.Hour)
	candidates, err := s.meetingStore.List(ctx, userID, models.MeetingFilter{
		Important: &important,
		From:      &from,
	})
	if err != nil {
		s.logger.Error("Transcripts step failed", "user_id", userID, "error", err)
		stats.Err = err.Error()
		stats.Elapsed = s.now().Sub(started)
		return stats
	}

	now := s.now()
	for _, m := range candidates {
		if !m.IsImportant || m.HasTranscript() {
			continue
		}
		endedAgo, ended := transcripts.Ended(m, now)
		if !ended || endedAgo > s.transcriptCfg.EligibleWindow {
			continue
		}
		aggressive := endedAgo <= s.transcriptCfg.RecentWindow
		if s.transcripts.Enqueue(m, aggressive) {
			stats.Enqueued++
		}
	}
	stats.Elapsed = s.now().Sub(started)
	return stats
}

func (s *Supervisor) issuesStep(ctx context.Context, userID string) bus.StepStats {
	started := s.now()
	stats := bus.StepStats{Step: "issues"}

	result, err := s.tasks.IngestIssues(ctx, userID, s.now().Add(-s.syncCfg.UpdatesBack))
	if err != nil {
		s.logger.Error("Issues step failed", "user_id", userID, "error", err)
		stats.Err = err.Error()
	}
	stats.Fetched = result.Fetched
	stats.Upserted = result.Created + result.Updated
	stats.Deleted = result.Deleted
	stats.Elapsed = s.now().Sub(started)
	return stats
}

func (s *Supervisor) codeStep(ctx context.Context, userID string) bus.StepStats {
	started := s.now()
	stats := bus.StepStats{Step: "code"}

	result, err := s.tasks.IngestCode(ctx, userID, s.now().Add(-s.syncCfg.UpdatesBack))
	if err != nil {
		s.logger.Error("Code step failed", "user_id", userID, "error", err)
		stats.Err = err.Error()
	}
	stats.Fetched = result.Fetched
	stats.Upserted = result.Created + result.Updated
	stats.Elapsed = s.now().Sub(started)
	return stats
}

// ActiveUsers lists users with a running worker.
func (s *Supervisor) ActiveUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, 0, len(s.workers))
	for id := range s.workers {
		users = append(users, id)
	}
	return users
}
