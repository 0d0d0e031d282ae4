// Package cleanup enforces data retention: old update rows and stale
// code-chunk metadata are pruned on a fixed interval.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/teamsync/core/pkg/config"
	"github.com/teamsync/core/pkg/store"
)

// Service periodically prunes:
//   - update_entry rows older than the update retention window
//   - code-chunk metadata older than the chunk retention window
//
// All operations are idempotent.
type Service struct {
	config  *config.RetentionConfig
	updates store.UpdateStore
	chunks  store.CodeChunkStore
	now     func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new retention service.
func NewService(cfg *config.RetentionConfig, updates store.UpdateStore, chunks store.CodeChunkStore) *Service {
	return &Service{
		config:  cfg,
		updates: updates,
		chunks:  chunks,
		now:     time.Now,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"update_retention_days", s.config.UpdateRetentionDays,
		"chunk_retention_days", s.config.ChunkRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

// RunAll executes one pruning pass immediately.
func (s *Service) RunAll(ctx context.Context) { s.runAll(ctx) }

func (s *Service) runAll(ctx context.Context) {
	s.pruneUpdates(ctx)
	s.pruneChunks(ctx)
}

func (s *Service) pruneUpdates(ctx context.Context) {
	cutoff := s.now().AddDate(0, 0, -s.config.UpdateRetentionDays)
	count, err := s.updates.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: update pruning failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned old updates", "count", count, "cutoff", cutoff)
	}
}

func (s *Service) pruneChunks(ctx context.Context) {
	cutoff := s.now().AddDate(0, 0, -s.config.ChunkRetentionDays)
	count, err := s.chunks.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: chunk pruning failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned stale code chunks", "count", count, "cutoff", cutoff)
	}
}
