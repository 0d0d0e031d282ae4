package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/teamsync/core/pkg/config"
	"github.com/teamsync/core/pkg/models"
)

// IssuesClient talks to the cloud issue tracker through its API
// gateway. The site id discovered at connect time is read from
// credential metadata and interpolated into every request path.
type IssuesClient struct {
	apiBaseURL string
	req        *requester
}

func NewIssuesClient(cfg *config.IssuesProviderConfig, tokens TokenSource) *IssuesClient {
	req := newRequester(models.ServiceIssues, tokens, defaultTimeout)
	req.invalidateOnGone = true
	return &IssuesClient{
		apiBaseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		req:        req,
	}
}

func (c *IssuesClient) siteBase(ctx context.Context, userID string) (string, error) {
	meta, err := c.req.tokens.GetMetadata(ctx, userID, models.ServiceIssues)
	if err != nil {
		return "", err
	}
	siteID := meta[models.CredMetaSiteID]
	if siteID == "" {
		return "", fmt.Errorf("issues credential has no %s", models.CredMetaSiteID)
	}
	return fmt.Sprintf("%s/ex/jira/%s/rest/api/3", c.apiBaseURL, siteID), nil
}

type issuePayload struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string          `json:"summary"`
		Description json.RawMessage `json:"description"`
		Status      struct {
			Name string `json:"name"`
		} `json:"status"`
		Priority struct {
			Name string `json:"name"`
		} `json:"priority"`
		Project struct {
			Key string `json:"key"`
		} `json:"project"`
		Assignee struct {
			DisplayName string `json:"displayName"`
		} `json:"assignee"`
		Created string `json:"created"`
		Updated string `json:"updated"`
	} `json:"fields"`
}

type searchPage struct {
	Issues     []issuePayload `json:"issues"`
	StartAt    int            `json:"startAt"`
	MaxResults int            `json:"maxResults"`
	Total      int            `json:"total"`
}

// SearchIssues runs a JQL query and normalizes the results, paging
// through up to maxIssues rows.
func (c *IssuesClient) SearchIssues(ctx context.Context, userID, jql string, maxIssues int) ([]*models.Update, error) {
	const op = "issues.search_issues"

	base, err := c.siteBase(ctx, userID)
	if err != nil {
		return nil, err
	}

	const pageSize = 50
	var updates []*models.Update
	for startAt := 0; ; startAt += pageSize {
		endpoint := fmt.Sprintf("%s/search?jql=%s&startAt=%d&maxResults=%d&fields=summary,description,status,priority,project,assignee,created,updated",
			base, url.QueryEscape(jql), startAt, pageSize)

		var page searchPage
		if err := c.req.do(ctx, userID, op, request{method: "GET", url: endpoint}, &page); err != nil {
			return nil, err
		}
		for i := range page.Issues {
			updates = append(updates, c.normalizeIssue(userID, &page.Issues[i]))
		}
		if startAt+len(page.Issues) >= page.Total || len(page.Issues) == 0 {
			break
		}
		if maxIssues > 0 && len(updates) >= maxIssues {
			updates = updates[:maxIssues]
			break
		}
	}
	return updates, nil
}

// ListRecentUpdates returns issues touched since the given instant,
// newest first, for the dynamic reconciliation window.
func (c *IssuesClient) ListRecentUpdates(ctx context.Context, userID string, since time.Time) ([]*models.Update, error) {
	jql := fmt.Sprintf(`updated >= "%s" ORDER BY updated DESC`,
		since.UTC().Format("2006-01-02 15:04"))
	return c.SearchIssues(ctx, userID, jql, 0)
}

func (c *IssuesClient) normalizeIssue(userID string, issue *issuePayload) *models.Update {
	updateType := models.UpdateTypeIssueUpdated
	created := parseIssueTime(issue.Fields.Created)
	updated := parseIssueTime(issue.Fields.Updated)
	// A row whose first and last touch coincide is a creation.
	if !created.IsZero() && !updated.IsZero() && updated.Sub(created) < time.Minute {
		updateType = models.UpdateTypeIssueCreated
	}

	description := FlattenADF(issue.Fields.Description)

	u := &models.Update{
		UserID:      userID,
		UpdateType:  updateType,
		ExternalID:  issue.Key,
		Title:       issue.Fields.Summary,
		Description: description,
		Author:      issue.Fields.Assignee.DisplayName,
		Status:      issue.Fields.Status.Name,
		Priority:    issue.Fields.Priority.Name,
		Project:     issue.Fields.Project.Key,
		Metadata:    map[string]any{},
	}
	if len(issue.Fields.Description) > 0 && description == "" && string(issue.Fields.Description) != "null" {
		// Keep the raw payload when the shape was not understood.
		u.Metadata["raw_description"] = json.RawMessage(issue.Fields.Description)
	}
	return u
}

// issueTimeLayout matches the tracker's offset timestamps,
// e.g. 2026-03-02T10:15:30.000+0100.
const issueTimeLayout = "2006-01-02T15:04:05.000-0700"

func parseIssueTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(issueTimeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

// adfNode is one node of the rich-text document format used for issue
// descriptions and comments.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

// FlattenADF extracts the plain text from a rich-text document by
// walking its node tree and collecting text leaves. Block-level nodes
// become line breaks. A payload that is not a document (or fails to
// parse) yields empty text.
func FlattenADF(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	// Descriptions are occasionally plain strings on old rows.
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}

	var b strings.Builder
	flattenNode(&b, &doc)
	return strings.TrimSpace(b.String())
}

func flattenNode(b *strings.Builder, n *adfNode) {
	if n.Text != "" {
		b.WriteString(n.Text)
	}
	for i := range n.Content {
		flattenNode(b, &n.Content[i])
	}
	switch n.Type {
	case "paragraph", "heading", "listItem", "codeBlock", "blockquote":
		b.WriteString("\n")
	case "hardBreak":
		b.WriteString("\n")
	}
}
