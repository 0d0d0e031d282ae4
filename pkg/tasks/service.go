// Package tasks implements issue-tracker and code-host intelligence:
// windowed ingestion, dynamic deletion reconciliation, and issue-key
// cross-referencing between commits, pull requests and issues.
package tasks

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/teamsync/core/pkg/models"
	"github.com/teamsync/core/pkg/store"
)

// IssueSource lists recently touched issues; the issues provider
// client is the production implementation.
type IssueSource interface {
	ListRecentUpdates(ctx context.Context, userID string, since time.Time) ([]*models.Update, error)
}

// CodeSource lists repositories and their recent activity.
type CodeSource interface {
	ListRepositories(ctx context.Context, userID string) ([]models.Repository, error)
	ListPullRequests(ctx context.Context, userID string, repo models.Repository, since time.Time) ([]*models.Update, error)
	ListCommits(ctx context.Context, userID string, repo models.Repository, since time.Time) ([]*models.Update, error)
}

// IssueStats summarizes one issue ingestion pass.
type IssueStats struct {
	Fetched int
	Created int
	Updated int
	Deleted int
}

// CodeStats summarizes one code ingestion pass.
type CodeStats struct {
	Repositories int
	Fetched      int
	Created      int
	Updated      int
	Linked       int
}

// Service is the task and code intelligence service.
type Service struct {
	updates store.UpdateStore
	issues  IssueSource
	code    CodeSource
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(updates store.UpdateStore, issues IssueSource, code CodeSource) *Service {
	return &Service{
		updates: updates,
		issues:  issues,
		code:    code,
		logger:  slog.Default().With("component", "tasks"),
		now:     time.Now,
	}
}

// IngestIssues fetches issues touched since the window start, upserts
// each, then reconciles the window: rows of the issue types whose
// external id the provider no longer returns are deleted. Per-row and
// reconciliation failures are logged and never abort the pass.
func (s *Service) IngestIssues(ctx context.Context, userID string, since time.Time) (IssueStats, error) {
	var stats IssueStats

	issues, err := s.issues.ListRecentUpdates(ctx, userID, since)
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(issues)

	// Every fetched id stays in the keep set even when its upsert
	// failed, so a transient store error never cascades into deletion.
	keep := make([]string, 0, len(issues))
	for _, issue := range issues {
		keep = append(keep, issue.ExternalID)

		created, err := s.updates.Upsert(ctx, issue)
		if err != nil {
			s.logger.Error("Failed to upsert issue update",
				"user_id", userID, "external_id", issue.ExternalID, "error", err)
			continue
		}
		if created {
			stats.Created++
		} else {
			stats.Updated++
		}
	}

	deleted, total, err := s.updates.DeleteMissing(ctx, userID, models.IssueUpdateTypes, since, s.now(), keep)
	if err != nil {
		s.logger.Error("Issue reconciliation failed",
			"user_id", userID, "error", err)
		return stats, nil
	}
	stats.Deleted = int(deleted)
	if total > 0 && deleted*2 > total {
		s.logger.Warn("Reconciliation deleted more than half of the window",
			"user_id", userID, "deleted", deleted, "window_total", total)
	}

	s.logger.Info("Issue ingestion complete",
		"user_id", userID, "fetched", stats.Fetched, "created", stats.Created,
		"updated", stats.Updated, "deleted", stats.Deleted)
	return stats, nil
}

// IngestCode fetches pull requests and commits since the window start
// across the user's repositories and upserts each. Issue keys found in
// titles and messages land in linked_external_keys, and matching issue
// rows get the activity's external id back-referenced. Per-repository
// failures are logged and skip to the next repository.
func (s *Service) IngestCode(ctx context.Context, userID string, since time.Time) (CodeStats, error) {
	var stats CodeStats

	repos, err := s.code.ListRepositories(ctx, userID)
	if err != nil {
		return stats, err
	}
	stats.Repositories = len(repos)

	for _, repo := range repos {
		var activity []*models.Update

		prs, err := s.code.ListPullRequests(ctx, userID, repo, since)
		if err != nil {
			s.logger.Error("Failed to list pull requests",
				"user_id", userID, "repo", repo.String(), "error", err)
		} else {
			activity = append(activity, prs...)
		}

		commits, err := s.code.ListCommits(ctx, userID, repo, since)
		if err != nil {
			s.logger.Error("Failed to list commits",
				"user_id", userID, "repo", repo.String(), "error", err)
		} else {
			activity = append(activity, commits...)
		}

		for _, u := range activity {
			stats.Fetched++
			u.LinkedExternalKeys = ExtractIssueKeys(u.Title + "\n" + u.Description)

			created, err := s.updates.Upsert(ctx, u)
			if err != nil {
				s.logger.Error("Failed to upsert code update",
					"user_id", userID, "external_id", u.ExternalID, "error", err)
				continue
			}
			if created {
				stats.Created++
			} else {
				stats.Updated++
			}

			stats.Linked += s.backReference(ctx, userID, u)
		}
	}

	s.logger.Info("Code ingestion complete",
		"user_id", userID, "repositories", stats.Repositories,
		"fetched", stats.Fetched, "created", stats.Created,
		"updated", stats.Updated, "linked", stats.Linked)
	return stats, nil
}

// backReference adds u's external id to the linked keys of every issue
// row whose external id u mentions. Returns the number of issue rows
// touched.
func (s *Service) backReference(ctx context.Context, userID string, u *models.Update) int {
	if len(u.LinkedExternalKeys) == 0 {
		return 0
	}

	matches, err := s.updates.List(ctx, userID, models.UpdateFilter{
		ExternalIDs: u.LinkedExternalKeys,
		Types:       models.IssueUpdateTypes,
	})
	if err != nil {
		s.logger.Error("Failed to look up referenced issues",
			"user_id", userID, "external_id", u.ExternalID, "error", err)
		return 0
	}

	linked := 0
	for _, issue := range matches {
		if err := s.updates.AddLinkedKeys(ctx, userID, issue.ID, []string{u.ExternalID}); err != nil {
			s.logger.Error("Failed to back-reference issue",
				"user_id", userID, "issue", issue.ExternalID, "error", err)
			continue
		}
		linked++
	}
	return linked
}

// issueKeyPattern matches tracker keys such as PROJ-123 or AB2-9.
var issueKeyPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]+-\d+\b`)

// ExtractIssueKeys returns the distinct issue keys mentioned in text,
// in order of first appearance.
func ExtractIssueKeys(text string) []string {
	raw := issueKeyPattern.FindAllString(text, -1)
	if len(raw) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(raw))
	var keys []string
	for _, k := range raw {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}
