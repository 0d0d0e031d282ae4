// Package oauth runs the interactive authorization flows: a loopback
// callback server per service on a fixed port, PKCE or client-secret
// code exchange, and credential persistence. The issues provider gets
// an extra accessible-sites discovery step whose result lands in the
// credential metadata.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/teamsync/core/pkg/config"
	"github.com/teamsync/core/pkg/models"
	"github.com/teamsync/core/pkg/store"
)

const successPage = `<!DOCTYPE html>
<html><head><title>Connected</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 20vh;">
<h2>Connection successful</h2>
<p>You can close this window and return to the app.</p>
</body></html>`

// flow is one in-progress authorization, keyed by its state value.
type flow struct {
	userID   string
	service  models.Service
	authType models.AuthType
	verifier string // empty for non-PKCE flows
	oauth    *oauth2.Config
}

// Manager starts and completes authorization flows.
type Manager struct {
	providers *config.ProvidersConfig
	creds     store.CredentialStore
	client    *http.Client
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	flows   map[string]*flow
	servers map[models.Service]*http.Server
}

func NewManager(providers *config.ProvidersConfig, creds store.CredentialStore) *Manager {
	return &Manager{
		providers: providers,
		creds:     creds,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    slog.Default().With("component", "oauth"),
		now:       time.Now,
		flows:     make(map[string]*flow),
		servers:   make(map[models.Service]*http.Server),
	}
}

// BeginFlow starts an authorization for (user, service) and returns the
// URL the user's browser must open. The loopback callback server for
// the service is started if not already listening.
func (m *Manager) BeginFlow(userID string, service models.Service) (string, error) {
	oc, authType, err := m.oauthConfig(service)
	if err != nil {
		return "", err
	}

	state := uuid.NewString()
	f := &flow{
		userID:   userID,
		service:  service,
		authType: authType,
		oauth:    oc,
	}

	var opts []oauth2.AuthCodeOption
	if authType == models.AuthTypeOAuthPKCE {
		f.verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(f.verifier))
	}
	opts = append(opts, oauth2.AccessTypeOffline)

	m.mu.Lock()
	m.flows[state] = f
	m.mu.Unlock()

	if err := m.ensureCallbackServer(service); err != nil {
		m.mu.Lock()
		delete(m.flows, state)
		m.mu.Unlock()
		return "", err
	}

	m.logger.Info("Authorization flow started",
		"user_id", userID, "service", service)
	return oc.AuthCodeURL(state, opts...), nil
}

// oauthConfig builds the x/oauth2 configuration for one service.
func (m *Manager) oauthConfig(service models.Service) (*oauth2.Config, models.AuthType, error) {
	var clientCfg *config.OAuthClientConfig
	switch service {
	case models.ServiceCalendar:
		if m.providers.Calendar != nil {
			clientCfg = m.providers.Calendar.OAuth
		}
	case models.ServiceIssues:
		if m.providers.Issues != nil {
			clientCfg = m.providers.Issues.OAuth
		}
	case models.ServiceCode:
		if m.providers.Code != nil {
			clientCfg = m.providers.Code.OAuth
		}
	default:
		return nil, "", fmt.Errorf("unknown service %q", service)
	}
	if clientCfg == nil {
		return nil, "", fmt.Errorf("service %s has no oauth configuration", service)
	}

	secret := ""
	authType := models.AuthTypeOAuthPKCE
	if clientCfg.ClientSecretEnv != "" {
		secret = os.Getenv(clientCfg.ClientSecretEnv)
		authType = models.AuthTypeOAuthSecret
	}

	return &oauth2.Config{
		ClientID:     clientCfg.ClientID,
		ClientSecret: secret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  clientCfg.AuthURL,
			TokenURL: clientCfg.TokenURL,
		},
		RedirectURL: fmt.Sprintf("http://127.0.0.1:%d/callback", clientCfg.CallbackPort),
		Scopes:      clientCfg.Scopes,
	}, authType, nil
}

// ensureCallbackServer starts the loopback listener for the service's
// fixed port, once.
func (m *Manager) ensureCallbackServer(service models.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.servers[service]; running {
		return nil
	}

	oc, _, err := m.oauthConfig(service)
	if err != nil {
		return err
	}
	// RedirectURL is http://127.0.0.1:{port}/callback.
	var port int
	if _, err := fmt.Sscanf(oc.RedirectURL, "http://127.0.0.1:%d/callback", &port); err != nil {
		return fmt.Errorf("bad redirect url %q: %w", oc.RedirectURL, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", m.CallbackHandler())
	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: mux,
	}
	m.servers[service] = srv

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Callback server failed",
				"service", service, "error", err)
		}
	}()
	return nil
}

// CallbackHandler completes a flow: verifies state, exchanges the code,
// persists the credential and renders the success page.
func (m *Manager) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := r.URL.Query().Get("state")
		code := r.URL.Query().Get("code")

		m.mu.Lock()
		f, ok := m.flows[state]
		if ok {
			delete(m.flows, state)
		}
		m.mu.Unlock()
		if !ok || code == "" {
			http.Error(w, "unknown or expired authorization flow", http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), oauth2.HTTPClient, m.client)
		var opts []oauth2.AuthCodeOption
		if f.verifier != "" {
			opts = append(opts, oauth2.VerifierOption(f.verifier))
		}
		token, err := f.oauth.Exchange(ctx, code, opts...)
		if err != nil {
			m.logger.Error("Token exchange failed",
				"user_id", f.userID, "service", f.service, "error", err)
			http.Error(w, "token exchange failed", http.StatusBadGateway)
			return
		}

		cred := &models.Credential{
			UserID:         f.userID,
			Service:        f.service,
			AccessToken:    token.AccessToken,
			RefreshToken:   token.RefreshToken,
			TokenExpiresAt: token.Expiry,
			AuthType:       f.authType,
			Scopes:         f.oauth.Scopes,
			ConnectedAt:    m.now(),
		}

		if f.service == models.ServiceIssues {
			siteID, siteURL, err := m.discoverSite(r.Context(), token.AccessToken)
			if err != nil {
				m.logger.Error("Site discovery failed",
					"user_id", f.userID, "error", err)
				http.Error(w, "could not discover an accessible site", http.StatusBadGateway)
				return
			}
			cred.Metadata = map[string]string{
				models.CredMetaSiteID:  siteID,
				models.CredMetaSiteURL: siteURL,
			}
		}

		if err := m.creds.Upsert(r.Context(), cred); err != nil {
			m.logger.Error("Failed to persist credential",
				"user_id", f.userID, "service", f.service, "error", err)
			http.Error(w, "could not store the credential", http.StatusInternalServerError)
			return
		}

		m.logger.Info("Integration connected",
			"user_id", f.userID, "service", f.service)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, successPage)
	}
}

// discoverSite fetches the accessible sites for a fresh issues token
// and returns the first one's id and URL.
func (m *Manager) discoverSite(ctx context.Context, accessToken string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.providers.Issues.SitesURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("sites lookup returned %d", resp.StatusCode)
	}

	var sites []struct {
		ID   string `json:"id"`
		URL  string `json:"url"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sites); err != nil {
		return "", "", fmt.Errorf("parsing sites response: %w", err)
	}
	if len(sites) == 0 {
		return "", "", fmt.Errorf("no accessible sites for this account")
	}
	return sites[0].ID, sites[0].URL, nil
}

// Shutdown stops every callback server and drops pending flows.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	servers := m.servers
	m.servers = make(map[models.Service]*http.Server)
	m.flows = make(map[string]*flow)
	m.mu.Unlock()

	for service, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			m.logger.Warn("Callback server shutdown failed",
				"service", service, "error", err)
		}
	}
}
