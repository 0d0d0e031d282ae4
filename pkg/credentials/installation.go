package credentials

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/teamsync/core/pkg/models"
)

// installationTokenLifetime documents the provider-side lifetime; the
// refresh window in needsRefresh is what actually triggers re-minting.
const installationTokenLifetime = time.Hour

var installationHTTP = &http.Client{Timeout: 30 * time.Second}

// refreshInstallation mints a short-lived app JWT, then exchanges it
// for an installation access token.
func (m *Manager) refreshInstallation(ctx context.Context, cred *models.Credential) (string, error) {
	if m.cfg == nil || m.cfg.Code == nil {
		return "", errors.New("code provider is not configured")
	}
	cfg := m.cfg.Code

	appID := cred.Metadata[models.CredMetaAppID]
	if appID == "" {
		appID = cfg.AppID
	}
	installationID := cred.Metadata[models.CredMetaInstallationID]
	if appID == "" || installationID == "" {
		return "", &invalidGrantError{reason: "credential is missing app or installation id"}
	}

	key, err := loadPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return "", fmt.Errorf("loading app private key: %w", err)
	}

	appJWT, err := signAppJWT(appID, key, m.now())
	if err != nil {
		return "", fmt.Errorf("signing app JWT: %w", err)
	}

	token, expiresAt, err := m.exchangeInstallationToken(ctx, cfg.BaseURL, installationID, appJWT)
	if err != nil {
		return "", err
	}

	if err := m.creds.UpdateTokens(ctx, cred.UserID, cred.Service, token, "", expiresAt); err != nil {
		return "", err
	}

	cred.AccessToken = token
	cred.TokenExpiresAt = expiresAt
	m.logger.Info("Minted installation token",
		"user_id", cred.UserID, "installation_id", installationID, "expires_at", expiresAt)
	return token, nil
}

// signAppJWT builds the RS256 app assertion. iat is backdated 60 s to
// tolerate clock skew; exp is capped at 10 minutes by the provider.
func signAppJWT(appID string, key *rsa.PrivateKey, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
}

func (m *Manager) exchangeInstallationToken(ctx context.Context, baseURL, installationID, appJWT string) (string, time.Time, error) {
	url := fmt.Sprintf("%s/app/installations/%s/access_tokens",
		strings.TrimRight(baseURL, "/"), installationID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := installationHTTP.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", time.Time{}, &invalidGrantError{reason: string(raw)}
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", time.Time{}, fmt.Errorf("token exchange returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", time.Time{}, fmt.Errorf("decoding token exchange response: %w", err)
	}
	if parsed.Token == "" {
		return "", time.Time{}, errors.New("token exchange response had no token")
	}
	if parsed.ExpiresAt.IsZero() {
		parsed.ExpiresAt = m.now().Add(installationTokenLifetime)
	}
	return parsed.Token, parsed.ExpiresAt, nil
}
