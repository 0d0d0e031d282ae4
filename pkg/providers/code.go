package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/teamsync/core/pkg/config"
	"github.com/teamsync/core/pkg/models"
)

// CodeClient talks to the source-code host: repositories, pull
// requests and commits.
type CodeClient struct {
	baseURL string
	req     *requester
}

func NewCodeClient(cfg *config.CodeProviderConfig, tokens TokenSource) *CodeClient {
	return &CodeClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		req:     newRequester(models.ServiceCode, tokens, defaultTimeout),
	}
}

type repoPayload struct {
	Name  string `json:"name"`
	Owner struct {
		Login string `json:"login"`
	} `json:"owner"`
	PushedAt time.Time `json:"pushed_at"`
	Archived bool      `json:"archived"`
}

// ListRepositories returns the repositories the credential can see,
// most recently pushed first. Archived repositories are skipped.
func (c *CodeClient) ListRepositories(ctx context.Context, userID string) ([]models.Repository, error) {
	const op = "code.list_repositories"

	var repos []models.Repository
	for page := 1; page <= 5; page++ {
		var payload []repoPayload
		endpoint := fmt.Sprintf("%s/user/repos?sort=pushed&per_page=100&page=%d", c.baseURL, page)
		if err := c.req.do(ctx, userID, op, request{method: "GET", url: endpoint}, &payload); err != nil {
			return nil, err
		}
		for _, r := range payload {
			if r.Archived {
				continue
			}
			repos = append(repos, models.Repository{Owner: r.Owner.Login, Name: r.Name})
		}
		if len(payload) < 100 {
			break
		}
	}
	return repos, nil
}

type pullPayload struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	User   struct {
		Login string `json:"login"`
	} `json:"user"`
	HTMLURL   string     `json:"html_url"`
	UpdatedAt time.Time  `json:"updated_at"`
	MergedAt  *time.Time `json:"merged_at"`
}

// ListPullRequests returns PRs of one repository updated since the
// given instant, normalized into update rows.
func (c *CodeClient) ListPullRequests(ctx context.Context, userID string, repo models.Repository, since time.Time) ([]*models.Update, error) {
	const op = "code.list_pull_requests"

	endpoint := fmt.Sprintf("%s/repos/%s/%s/pulls?state=all&sort=updated&direction=desc&per_page=50",
		c.baseURL, url.PathEscape(repo.Owner), url.PathEscape(repo.Name))

	var payload []pullPayload
	if err := c.req.do(ctx, userID, op, request{method: "GET", url: endpoint}, &payload); err != nil {
		if Absent(err) {
			return nil, nil
		}
		return nil, err
	}

	var updates []*models.Update
	for _, pr := range payload {
		if pr.UpdatedAt.Before(since) {
			// Results are sorted by updated desc; everything after this
			// is older.
			break
		}
		state := pr.State
		if pr.MergedAt != nil {
			state = "merged"
		}
		updates = append(updates, &models.Update{
			UserID:     userID,
			UpdateType: models.UpdateTypeCodePR,
			ExternalID: fmt.Sprintf("%s#%d", repo.String(), pr.Number),
			Title:      pr.Title,
			Description: pr.Body,
			Author:     pr.User.Login,
			Status:     state,
			Project:    repo.String(),
			URL:        pr.HTMLURL,
		})
	}
	return updates, nil
}

type commitPayload struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Author *struct {
		Login string `json:"login"`
	} `json:"author"`
	HTMLURL string `json:"html_url"`
}

// ListCommits returns commits of one repository since the given
// instant, normalized into update rows.
func (c *CodeClient) ListCommits(ctx context.Context, userID string, repo models.Repository, since time.Time) ([]*models.Update, error) {
	const op = "code.list_commits"

	endpoint := fmt.Sprintf("%s/repos/%s/%s/commits?since=%s&per_page=100",
		c.baseURL, url.PathEscape(repo.Owner), url.PathEscape(repo.Name),
		url.QueryEscape(since.UTC().Format(time.RFC3339)))

	var payload []commitPayload
	if err := c.req.do(ctx, userID, op, request{method: "GET", url: endpoint}, &payload); err != nil {
		if Absent(err) {
			// Empty repositories answer 404/409 on the commits listing.
			return nil, nil
		}
		return nil, err
	}

	var updates []*models.Update
	for _, cm := range payload {
		author := cm.Commit.Author.Name
		if cm.Author != nil && cm.Author.Login != "" {
			author = cm.Author.Login
		}
		title, description, _ := strings.Cut(cm.Commit.Message, "\n")
		updates = append(updates, &models.Update{
			UserID:      userID,
			UpdateType:  models.UpdateTypeCodeCommit,
			ExternalID:  fmt.Sprintf("%s@%s", repo.String(), cm.SHA),
			Title:       strings.TrimSpace(title),
			Description: strings.TrimSpace(description),
			Author:      author,
			Project:     repo.String(),
			URL:         cm.HTMLURL,
		})
	}
	return updates, nil
}
