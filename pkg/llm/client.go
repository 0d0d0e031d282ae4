// Package llm is a minimal chat-completion client for OpenAI-compatible
// APIs. The engine uses it for meeting summaries and question answering.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/teamsync/core/pkg/config"
	"github.com/teamsync/core/pkg/faults"
)

// Role constants for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the chat-completion interface the rest of the engine
// depends on; tests substitute a stub.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// maxRetryAfter caps how long a 429 Retry-After is honored.
const maxRetryAfter = 30 * time.Second

func NewHTTPClient(cfg *config.LLMConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  os.Getenv(cfg.APIKeyEnv),
		client:  &http.Client{Timeout: timeout},
		logger:  slog.Default().With("component", "llm"),
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the messages array and returns the completion text.
//
// Failure policy: timeouts retry once; 429 honors Retry-After up to
// 30 s then retries once; 5xx fails soft with a transient error the
// caller turns into a degraded answer.
func (c *HTTPClient) Complete(ctx context.Context, messages []Message) (string, error) {
	const op = "llm.complete"

	text, err := c.doComplete(ctx, messages)
	if err == nil {
		return text, nil
	}

	var (
		retryIn time.Duration
		rle     *rateLimitError
	)
	switch {
	case isTimeout(err):
		c.logger.Warn("Completion timed out, retrying once")
	case errors.As(err, &rle):
		retryIn = rle.retryAfter
		c.logger.Warn("Rate limited, retrying after delay", "delay", retryIn)
	default:
		return "", faults.New(faults.KindProviderTransient, op, err)
	}

	if retryIn > 0 {
		select {
		case <-time.After(retryIn):
		case <-ctx.Done():
			return "", faults.New(faults.KindProviderTransient, op, ctx.Err())
		}
	}

	text, err = c.doComplete(ctx, messages)
	if err != nil {
		return "", faults.New(faults.KindProviderTransient, op, err)
	}
	return text, nil
}

type rateLimitError struct {
	retryAfter time.Duration
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.retryAfter)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *HTTPClient) doComplete(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return "", &rateLimitError{retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("completion endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("completion error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("completion response had no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil {
		d := time.Duration(secs) * time.Second
		if d > maxRetryAfter {
			return maxRetryAfter
		}
		if d <= 0 {
			return time.Second
		}
		return d
	}
	return time.Second
}
