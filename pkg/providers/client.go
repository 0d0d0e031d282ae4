// Package providers contains the HTTP clients for the three external
// integrations. All clients share one request layer that injects access
// tokens, retries once after a forced refresh on 401, and maps status
// codes into the shared fault taxonomy.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teamsync/core/pkg/faults"
	"github.com/teamsync/core/pkg/models"
)

// defaultTimeout applies to ordinary provider calls; transcript content
// downloads use contentTimeout.
const (
	defaultTimeout = 30 * time.Second
	contentTimeout = 120 * time.Second
)

// TokenSource supplies and maintains access tokens. The credential
// manager is the production implementation.
type TokenSource interface {
	GetAccessToken(ctx context.Context, userID string, service models.Service) (string, error)
	ForceRefresh(ctx context.Context, userID string, service models.Service) (string, error)
	GetMetadata(ctx context.Context, userID string, service models.Service) (map[string]string, error)
	Invalidate(ctx context.Context, userID string, service models.Service, reason string) error
}

// requester is the shared authenticated HTTP layer.
type requester struct {
	service models.Service
	tokens  TokenSource
	client  *http.Client
	logger  *slog.Logger

	// issues provider treats 410 Gone as credential invalidation
	invalidateOnGone bool
}

func newRequester(service models.Service, tokens TokenSource, timeout time.Duration) *requester {
	return &requester{
		service: service,
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
		logger:  slog.Default().With("component", "providers", "service", service),
	}
}

type request struct {
	method  string
	url     string
	body    any
	headers map[string]string
	// accept raw body instead of JSON decoding
	raw bool
}

// do performs one authenticated call. On 401 the token is force
// refreshed and the call retried exactly once; a second 401 invalidates
// the credential.
func (r *requester) do(ctx context.Context, userID, op string, req request, out any) error {
	token, err := r.tokens.GetAccessToken(ctx, userID, r.service)
	if err != nil {
		return err
	}

	status, body, err := r.send(ctx, token, req)
	if err != nil {
		return faults.New(faults.KindProviderTransient, op, err)
	}

	if status == http.StatusUnauthorized {
		r.logger.Info("Got 401, forcing token refresh", "op", op, "user_id", userID)
		token, err = r.tokens.ForceRefresh(ctx, userID, r.service)
		if err != nil {
			return err
		}
		status, body, err = r.send(ctx, token, req)
		if err != nil {
			return faults.New(faults.KindProviderTransient, op, err)
		}
		if status == http.StatusUnauthorized {
			return r.tokens.Invalidate(ctx, userID, r.service, "401 after forced refresh")
		}
	}

	if err := r.mapStatus(ctx, userID, op, status, body); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if req.raw {
		*(out.(*[]byte)) = body
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return faults.New(faults.KindParseFailure, op, err)
	}
	return nil
}

func (r *requester) send(ctx context.Context, token string, req request) (int, []byte, error) {
	var bodyReader io.Reader
	if req.body != nil {
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, bodyReader)
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (r *requester) mapStatus(ctx context.Context, userID, op string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusForbidden:
		return faults.New(faults.KindProviderPermission, op, statusError(status, body))
	case status == http.StatusNotFound:
		return faults.New(faults.KindProviderNotFound, op, statusError(status, body))
	case status == http.StatusGone && r.invalidateOnGone:
		return r.tokens.Invalidate(ctx, userID, r.service, "site_gone")
	case status == http.StatusTooManyRequests || status >= 500:
		return faults.New(faults.KindProviderTransient, op, statusError(status, body))
	default:
		return faults.New(faults.KindProviderTransient, op, statusError(status, body))
	}
}

func statusError(status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 300 {
		detail = detail[:300]
	}
	return fmt.Errorf("status %d: %s", status, detail)
}

// naiveLayouts are the timestamp shapes calendar providers return for
// local wall-clock values (fractional seconds vary).
var naiveLayouts = []string{
	"2006-01-02T15:04:05.0000000",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseNaive(s string) (time.Time, error) {
	for _, layout := range naiveLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// errAbsent marks "the resource does not exist" results that callers
// should treat as empty, not failed.
var errAbsent = errors.New("absent")

// Absent reports whether err is a not-found that callers should treat
// as "no data".
func Absent(err error) bool {
	return errors.Is(err, errAbsent) || faults.Is(err, faults.KindProviderNotFound)
}
