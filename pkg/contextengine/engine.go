// Package contextengine assembles per-question context from meetings,
// issue-tracker updates and indexed code, asks the LLM, and reports the
// exact sources that went into the prompt.
package contextengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teamsync/core/pkg/codequery"
	"github.com/teamsync/core/pkg/config"
	"github.com/teamsync/core/pkg/faults"
	"github.com/teamsync/core/pkg/llm"
	"github.com/teamsync/core/pkg/models"
	"github.com/teamsync/core/pkg/store"
)

// CodeQuerier is the repository-scoped code retrieval contract.
type CodeQuerier interface {
	Query(ctx context.Context, userID string, repo models.Repository, question string) (*codequery.QueryResult, error)
}

// FilteredContext is an explicit user selection. When present, only the
// named items are retrieved; when every list is empty, the question is
// answered without context.
type FilteredContext struct {
	MeetingIDs   []string            `json:"meeting_ids"`
	TaskIDs      []string            `json:"task_ids"`
	Repositories []models.Repository `json:"repositories"`
}

func (fc *FilteredContext) empty() bool {
	return len(fc.MeetingIDs) == 0 && len(fc.TaskIDs) == 0 && len(fc.Repositories) == 0
}

// AskOptions tune a single question.
type AskOptions struct {
	FilteredContext *FilteredContext `json:"filtered_context,omitempty"`
	SessionID       string           `json:"session_id,omitempty"`
}

// Source is one context item that fed the prompt. Built mechanically
// from the retrieved rows, never parsed out of the LLM response.
type Source struct {
	Type       string  `json:"type"` // meeting, task, code
	IDOrPath   string  `json:"id_or_path"`
	Title      string  `json:"title_or_name"`
	Similarity float32 `json:"similarity,omitempty"`
}

// ContextUsed counts the items per category.
type ContextUsed struct {
	Meetings   int `json:"meetings"`
	Tasks      int `json:"tasks"`
	CodeChunks int `json:"code_chunks"`
}

// Answer is the ask result.
type Answer struct {
	Answer      string      `json:"answer"`
	Sources     []Source    `json:"sources"`
	ContextUsed ContextUsed `json:"context_used"`
}

// systemPrompt is the behavioral contract: tasks describe planned work
// and are never evidence of implementation; only retrieved code is.
const systemPrompt = `You are a work assistant with access to three context categories: meetings, issue-tracker tasks, and code from the repository. Distinguish them strictly:
- Issue tasks describe planned work; they are NOT evidence that code exists.
- Only code explicitly present under "Codebase Information" is evidence of implementation.
- If asked whether a feature described in a task is implemented, answer YES only when matching code appears under "Codebase Information"; otherwise answer NO and note that the task exists but no implementation is shown.
- Match response verbosity to question verbosity; greetings get brief replies.`

// Engine answers questions over assembled context.
type Engine struct {
	cfg      *config.ContextConfig
	meetings store.MeetingStore
	updates  store.UpdateStore
	code     CodeQuerier
	llm      llm.Client
	logger   *slog.Logger
	history  *sessionHistory
}

func NewEngine(cfg *config.ContextConfig, meetings store.MeetingStore, updates store.UpdateStore, code CodeQuerier, llmClient llm.Client) *Engine {
	return &Engine{
		cfg:      cfg,
		meetings: meetings,
		updates:  updates,
		code:     code,
		llm:      llmClient,
		logger:   slog.Default().With("component", "contextengine"),
		history:  newSessionHistory(cfg.HistoryTurns),
	}
}

// retrieved is the assembled context for one question.
type retrieved struct {
	meetings []*models.Meeting
	updates  []*models.Update
	code     []codequery.CodeSource
}

// Ask retrieves context per the options, prompts the LLM and returns
// the answer together with the mechanical source list. A failing LLM
// call still returns the sources; the answer names the failure kind.
func (e *Engine) Ask(ctx context.Context, userID, question string, opts AskOptions) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("empty question")
	}

	rc := e.retrieve(ctx, userID, question, opts)
	answer := &Answer{
		Sources: buildSources(rc),
		ContextUsed: ContextUsed{
			Meetings:   len(rc.meetings),
			Tasks:      len(rc.updates),
			CodeChunks: len(rc.code),
		},
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}
	for _, t := range e.history.turns(opts.SessionID) {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: t.question},
			llm.Message{Role: llm.RoleAssistant, Content: t.answer},
		)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: buildPrompt(rc, question)})

	completion, err := e.llm.Complete(ctx, messages)
	if err != nil {
		e.logger.Error("Ask completion failed",
			"user_id", userID, "kind", faults.KindOf(err).String(), "error", err)
		answer.Answer = fmt.Sprintf(
			"I could not generate an answer (%s). Please try again.",
			faults.KindOf(err))
		return answer, nil
	}

	answer.Answer = completion
	e.history.add(opts.SessionID, question, completion)
	return answer, nil
}

// EndSession discards a session's conversation history.
func (e *Engine) EndSession(sessionID string) { e.history.drop(sessionID) }

// retrieve gathers context. Explicit selections are exclusive; absent
// ones fall back to the most recent items; retrieval errors degrade to
// less context rather than failing the question.
func (e *Engine) retrieve(ctx context.Context, userID, question string, opts AskOptions) retrieved {
	var rc retrieved

	fc := opts.FilteredContext
	if fc != nil && fc.empty() {
		return rc
	}

	meetingFilter := models.MeetingFilter{Limit: e.cfg.DefaultMeetings}
	updateFilter := models.UpdateFilter{Limit: e.cfg.DefaultUpdates}
	var repos []models.Repository
	if fc != nil {
		meetingFilter = models.MeetingFilter{ExternalIDs: fc.MeetingIDs}
		updateFilter = models.UpdateFilter{ExternalIDs: fc.TaskIDs}
		repos = fc.Repositories
	}

	if fc == nil || len(fc.MeetingIDs) > 0 {
		ms, err := e.meetings.List(ctx, userID, meetingFilter)
		if err != nil {
			e.logger.Error("Meeting retrieval failed", "user_id", userID, "error", err)
		} else {
			rc.meetings = ms
		}
	}
	if fc == nil || len(fc.TaskIDs) > 0 {
		us, err := e.updates.List(ctx, userID, updateFilter)
		if err != nil {
			e.logger.Error("Update retrieval failed", "user_id", userID, "error", err)
		} else {
			rc.updates = us
		}
	}
	for _, repo := range repos {
		res, err := e.code.Query(ctx, userID, repo, question)
		if err != nil {
			e.logger.Error("Code retrieval failed",
				"user_id", userID, "repo", repo.String(), "error", err)
			continue
		}
		rc.code = append(rc.code, res.Sources...)
	}
	return rc
}

// buildPrompt renders the context sections followed by the question.
// Empty categories are omitted; with no context at all the prompt is
// the bare question.
func buildPrompt(rc retrieved, question string) string {
	var sb strings.Builder

	if len(rc.meetings) > 0 {
		sb.WriteString("Recent Meetings:\n")
		for _, m := range rc.meetings {
			sb.WriteString(fmt.Sprintf("- %s (%s)", m.Title, m.StartTime.Format("2006-01-02 15:04")))
			if m.AISummary != nil && *m.AISummary != "" {
				sb.WriteString(fmt.Sprintf(" [Summary: %s]", *m.AISummary))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(rc.updates) > 0 {
		sb.WriteString("Recent Updates:\n")
		for _, u := range rc.updates {
			sb.WriteString(fmt.Sprintf("- [%s] %s\n", u.UpdateType, u.Title))
		}
		sb.WriteString("\n")
	}

	if len(rc.code) > 0 {
		sb.WriteString("Codebase Information:\n")
		for _, c := range rc.code {
			sb.WriteString(fmt.Sprintf("File: %s (lines %d-%d)\n%s\n\n",
				c.FilePath, c.StartLine, c.EndLine, c.Snippet))
		}
	}

	sb.WriteString(question)
	return sb.String()
}

func buildSources(rc retrieved) []Source {
	sources := make([]Source, 0, len(rc.meetings)+len(rc.updates)+len(rc.code))
	for _, m := range rc.meetings {
		sources = append(sources, Source{
			Type: "meeting", IDOrPath: m.ExternalMeetingID, Title: m.Title,
		})
	}
	for _, u := range rc.updates {
		sources = append(sources, Source{
			Type: "task", IDOrPath: u.ExternalID, Title: u.Title,
		})
	}
	for _, c := range rc.code {
		title := c.ChunkName
		if title == "" {
			title = c.FilePath
		}
		sources = append(sources, Source{
			Type: "code", IDOrPath: c.FilePath, Title: title, Similarity: c.Similarity,
		})
	}
	return sources
}
