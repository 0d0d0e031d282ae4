package models

import "time"

// Service identifies one of the three external integrations.
type Service string

const (
	ServiceCalendar Service = "calendar"
	ServiceIssues   Service = "issues"
	ServiceCode     Service = "code"
)

// Valid reports whether s is a known service.
func (s Service) Valid() bool {
	switch s {
	case ServiceCalendar, ServiceIssues, ServiceCode:
		return true
	}
	return false
}

// AuthType discriminates the credential refresh protocol.
type AuthType string

const (
	AuthTypeOAuthPKCE       AuthType = "oauth_pkce"
	AuthTypeOAuthSecret     AuthType = "oauth_secret"
	AuthTypeAppInstallation AuthType = "app_installation"
	AuthTypePersonalToken   AuthType = "personal_token"
)

// IsOAuth reports whether the auth type refreshes via an OAuth token
// endpoint (and therefore must carry a refresh token).
func (a AuthType) IsOAuth() bool {
	return a == AuthTypeOAuthPKCE || a == AuthTypeOAuthSecret
}

// Credential metadata keys.
const (
	CredMetaSiteID         = "site_id"         // issues provider cloud site
	CredMetaSiteURL        = "site_url"        // issues provider site base URL
	CredMetaInstallationID = "installation_id" // code host app installation
	CredMetaAppID          = "app_id"          // code host app id
)

// Credential is one per-user, per-service integration credential.
// Tokens are opaque bytes to the engine; only the credential store
// interprets expiry and refresh semantics.
type Credential struct {
	UserID         string            `json:"user_id"`
	Service        Service           `json:"service"`
	AccessToken    string            `json:"-"`
	RefreshToken   string            `json:"-"`
	TokenExpiresAt time.Time         `json:"token_expires_at"`
	AuthType       AuthType          `json:"auth_type"`
	Scopes         []string          `json:"scopes,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ConnectedAt    time.Time         `json:"connected_at"`
}

// ExpiresWithin reports whether the access token expires within d.
func (c *Credential) ExpiresWithin(d time.Duration, now time.Time) bool {
	return c.TokenExpiresAt.Before(now.Add(d))
}
