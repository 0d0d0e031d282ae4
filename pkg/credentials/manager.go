// Package credentials owns token lifecycle for the three integrations:
// expiry checks, OAuth refresh, app-installation token minting and
// invalidation. Callers only ever ask for a usable access token.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/teamsync/core/pkg/bus"
	"github.com/teamsync/core/pkg/config"
	"github.com/teamsync/core/pkg/faults"
	"github.com/teamsync/core/pkg/models"
	"github.com/teamsync/core/pkg/store"
)

const (
	// refreshWindow: tokens expiring within this window are refreshed
	// before use, so a returned token is always valid for at least
	// minValidity.
	refreshWindow = 5 * time.Minute
	minValidity   = 60 * time.Second
)

// refreshRetryDelays paces transient refresh retries.
var refreshRetryDelays = []time.Duration{time.Second, 2 * time.Second}

// Manager hands out valid access tokens and owns refresh policy.
type Manager struct {
	creds  store.CredentialStore
	events *bus.Bus
	cfg    *config.ProvidersConfig
	logger *slog.Logger

	// Per-(user,service) refresh serialization.
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

func NewManager(creds store.CredentialStore, events *bus.Bus, cfg *config.ProvidersConfig) *Manager {
	return &Manager{
		creds:  creds,
		events: events,
		cfg:    cfg,
		logger: slog.Default().With("component", "credentials"),
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

func (m *Manager) lockFor(userID string, service models.Service) *sync.Mutex {
	key := userID + "/" + string(service)
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// GetAccessToken returns an access token guaranteed valid for at least
// 60 seconds, refreshing first when fewer than 5 minutes remain.
func (m *Manager) GetAccessToken(ctx context.Context, userID string, service models.Service) (string, error) {
	const op = "credentials.get_access_token"

	lock := m.lockFor(userID, service)
	lock.Lock()
	defer lock.Unlock()

	cred, err := m.creds.Get(ctx, userID, service)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", faults.New(faults.KindCredentialMissing, op, nil)
		}
		return "", err
	}

	if !m.needsRefresh(cred) {
		return cred.AccessToken, nil
	}

	refreshed, err := m.refresh(ctx, cred)
	if err != nil {
		return "", err
	}
	return refreshed, nil
}

// ForceRefresh refreshes regardless of stored expiry. Providers call
// it when the current token bounced with a 401.
func (m *Manager) ForceRefresh(ctx context.Context, userID string, service models.Service) (string, error) {
	const op = "credentials.force_refresh"

	lock := m.lockFor(userID, service)
	lock.Lock()
	defer lock.Unlock()

	cred, err := m.creds.Get(ctx, userID, service)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", faults.New(faults.KindCredentialMissing, op, nil)
		}
		return "", err
	}

	// Personal tokens cannot be refreshed; a 401 means the token itself
	// was revoked.
	if cred.AuthType == models.AuthTypePersonalToken {
		return "", m.invalidate(ctx, cred, "personal token rejected")
	}
	return m.refresh(ctx, cred)
}

// GetMetadata returns the credential metadata map for (user, service),
// e.g. the issues site id discovered at connect time.
func (m *Manager) GetMetadata(ctx context.Context, userID string, service models.Service) (map[string]string, error) {
	cred, err := m.creds.Get(ctx, userID, service)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, faults.New(faults.KindCredentialMissing, "credentials.get_metadata", nil)
		}
		return nil, err
	}
	return cred.Metadata, nil
}

func (m *Manager) needsRefresh(cred *models.Credential) bool {
	switch cred.AuthType {
	case models.AuthTypePersonalToken:
		// Personal tokens carry no expiry; pass through as stored.
		return false
	default:
		if cred.TokenExpiresAt.IsZero() {
			return cred.AccessToken == ""
		}
		return cred.ExpiresWithin(refreshWindow, m.now())
	}
}

func (m *Manager) refresh(ctx context.Context, cred *models.Credential) (string, error) {
	op := fmt.Sprintf("credentials.refresh.%s", cred.Service)

	var lastErr error
	for attempt := 0; attempt <= len(refreshRetryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(refreshRetryDelays[attempt-1]):
			case <-ctx.Done():
				return "", faults.New(faults.KindCredentialRefreshFailed, op, ctx.Err())
			}
		}

		token, err := m.refreshOnce(ctx, cred)
		if err == nil {
			return token, nil
		}
		if isInvalidGrant(err) {
			return "", m.invalidate(ctx, cred, "refresh rejected by provider")
		}
		lastErr = err
		m.logger.Warn("Token refresh failed",
			"user_id", cred.UserID, "service", cred.Service,
			"attempt", attempt+1, "error", err)
	}

	return "", faults.New(faults.KindCredentialRefreshFailed, op, lastErr)
}

func (m *Manager) refreshOnce(ctx context.Context, cred *models.Credential) (string, error) {
	switch cred.AuthType {
	case models.AuthTypeOAuthPKCE, models.AuthTypeOAuthSecret:
		return m.refreshOAuth(ctx, cred)
	case models.AuthTypeAppInstallation:
		return m.refreshInstallation(ctx, cred)
	case models.AuthTypePersonalToken:
		return cred.AccessToken, nil
	default:
		return "", faults.New(faults.KindInternal, "credentials.refresh",
			fmt.Errorf("unknown auth type %q", cred.AuthType))
	}
}

// refreshOAuth exchanges the stored refresh token at the provider's
// token endpoint.
func (m *Manager) refreshOAuth(ctx context.Context, cred *models.Credential) (string, error) {
	oc := m.oauthConfig(cred.Service)
	if oc == nil {
		return "", fmt.Errorf("no oauth configuration for service %q", cred.Service)
	}
	if cred.RefreshToken == "" {
		return "", &invalidGrantError{reason: "no refresh token stored"}
	}

	conf := &oauth2.Config{
		ClientID:     oc.ClientID,
		ClientSecret: os.Getenv(oc.ClientSecretEnv),
		Endpoint: oauth2.Endpoint{
			AuthURL:  oc.AuthURL,
			TokenURL: oc.TokenURL,
		},
		Scopes: oc.Scopes,
	}

	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	token, err := src.Token()
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) {
			body := string(retrieve.Body)
			if retrieve.Response.StatusCode == 401 || strings.Contains(body, "invalid_grant") {
				return "", &invalidGrantError{reason: body}
			}
		}
		return "", err
	}

	newRefresh := ""
	if token.RefreshToken != cred.RefreshToken {
		newRefresh = token.RefreshToken
	}
	if err := m.creds.UpdateTokens(ctx, cred.UserID, cred.Service,
		token.AccessToken, newRefresh, token.Expiry); err != nil {
		return "", err
	}

	cred.AccessToken = token.AccessToken
	cred.TokenExpiresAt = token.Expiry
	m.logger.Info("Refreshed OAuth token",
		"user_id", cred.UserID, "service", cred.Service, "expires_at", token.Expiry)
	return token.AccessToken, nil
}

// Invalidate deletes the credential and announces it on the bus.
// Providers call this on 401 responses that a forced refresh did not
// cure, and on 410 Gone from the issues provider.
func (m *Manager) Invalidate(ctx context.Context, userID string, service models.Service, reason string) error {
	lock := m.lockFor(userID, service)
	lock.Lock()
	defer lock.Unlock()

	cred, err := m.creds.Get(ctx, userID, service)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return faults.New(faults.KindCredentialInvalidated, "credentials.invalidate", nil)
		}
		return err
	}
	return m.invalidate(ctx, cred, reason)
}

func (m *Manager) invalidate(ctx context.Context, cred *models.Credential, reason string) error {
	m.logger.Warn("Credential invalidated",
		"user_id", cred.UserID, "service", cred.Service, "reason", reason)

	if err := m.creds.Delete(ctx, cred.UserID, cred.Service); err != nil {
		return err
	}
	m.events.Publish(bus.TopicCredentialInvalidated, bus.CredentialInvalidatedPayload{
		UserID:  cred.UserID,
		Service: cred.Service,
		Reason:  reason,
	})
	return faults.New(faults.KindCredentialInvalidated, "credentials.invalidate", nil)
}

func (m *Manager) oauthConfig(service models.Service) *config.OAuthClientConfig {
	if m.cfg == nil {
		return nil
	}
	switch service {
	case models.ServiceCalendar:
		if m.cfg.Calendar != nil {
			return m.cfg.Calendar.OAuth
		}
	case models.ServiceIssues:
		if m.cfg.Issues != nil {
			return m.cfg.Issues.OAuth
		}
	case models.ServiceCode:
		if m.cfg.Code != nil {
			return m.cfg.Code.OAuth
		}
	}
	return nil
}

type invalidGrantError struct {
	reason string
}

func (e *invalidGrantError) Error() string {
	return "invalid grant: " + e.reason
}

func isInvalidGrant(err error) bool {
	var ige *invalidGrantError
	return errors.As(err, &ige)
}
