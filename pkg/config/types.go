package config

import "time"

// SyncConfig controls the per-user sync orchestrator.
type SyncConfig struct {
	// Interval is the gap between per-user sync cycles.
	Interval time.Duration `yaml:"interval"`

	// MeetingsForward is the future horizon for the meetings step.
	MeetingsForward time.Duration `yaml:"meetings_forward"`

	// UpdatesBack is the lookback window for issues and code steps.
	UpdatesBack time.Duration `yaml:"updates_back"`

	// ShutdownTimeout is the max wait for workers to stop on shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TranscriptConfig controls the transcript acquisition engine.
type TranscriptConfig struct {
	// InitialDelay is d_0 of the retry backoff.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay is d_max: the backoff cap.
	MaxDelay time.Duration `yaml:"max_delay"`

	// MaxAttempts caps acquisition attempts per meeting.
	MaxAttempts int `yaml:"max_attempts"`

	// RecentWindow: meetings ended within this window get the aggressive
	// retry schedule; older eligible meetings get a single attempt.
	RecentWindow time.Duration `yaml:"recent_window"`

	// EligibleWindow: meetings ended within this window are eligible for
	// acquisition at all.
	EligibleWindow time.Duration `yaml:"eligible_window"`

	// MaxConcurrentJobs bounds in-flight acquisition jobs globally;
	// excess jobs wait in FIFO order.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`
}

// ContextConfig controls the context assembly engine.
type ContextConfig struct {
	// CodeQueryLimit is the max chunks returned per code query.
	CodeQueryLimit int `yaml:"code_query_limit"`

	// CodeQueryMinSimilarity drops chunks below this similarity.
	CodeQueryMinSimilarity float32 `yaml:"code_query_min_similarity"`

	// HistoryTurns is the per-session in-memory conversation ring size.
	HistoryTurns int `yaml:"history_turns"`

	// DefaultMeetings / DefaultUpdates are the fallback retrieval sizes
	// when no filtered context is supplied.
	DefaultMeetings int `yaml:"default_meetings"`
	DefaultUpdates  int `yaml:"default_updates"`
}

// RetentionConfig controls background pruning of old rows.
type RetentionConfig struct {
	// UpdateRetentionDays: update rows older than this are pruned.
	UpdateRetentionDays int `yaml:"update_retention_days"`

	// ChunkRetentionDays: code-chunk metadata older than this is pruned.
	ChunkRetentionDays int `yaml:"chunk_retention_days"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// APIConfig controls the local control API server.
type APIConfig struct {
	// ListenAddr is the loopback address the control API binds to.
	ListenAddr string `yaml:"listen_addr"`
}

// OAuthClientConfig holds one provider's OAuth application settings.
// Secrets are referenced by env var name, never stored in YAML.
type OAuthClientConfig struct {
	ClientID        string   `yaml:"client_id"`
	ClientSecretEnv string   `yaml:"client_secret_env,omitempty"`
	AuthURL         string   `yaml:"auth_url"`
	TokenURL        string   `yaml:"token_url"`
	Scopes          []string `yaml:"scopes"`

	// CallbackPort is the fixed loopback port for this flow. Each
	// service uses a distinct port so concurrent flows never collide.
	CallbackPort int `yaml:"callback_port"`
}

// CalendarProviderConfig configures the calendar/meeting provider.
type CalendarProviderConfig struct {
	BaseURL string             `yaml:"base_url"`
	OAuth   *OAuthClientConfig `yaml:"oauth"`
}

// IssuesProviderConfig configures the issue tracker provider.
type IssuesProviderConfig struct {
	// APIBaseURL is the cloud API gateway; the site id from credential
	// metadata is interpolated into request paths.
	APIBaseURL string `yaml:"api_base_url"`

	// SitesURL lists the accessible sites after token exchange.
	SitesURL string `yaml:"sites_url"`

	OAuth *OAuthClientConfig `yaml:"oauth"`
}

// CodeProviderConfig configures the source-code host provider.
type CodeProviderConfig struct {
	BaseURL string `yaml:"base_url"`

	// AppID and PrivateKeyPath configure app-installation auth. The key
	// is a PEM-encoded RS256 private key.
	AppID          string `yaml:"app_id,omitempty"`
	PrivateKeyPath string `yaml:"private_key_path,omitempty"`

	OAuth *OAuthClientConfig `yaml:"oauth,omitempty"`
}

// ProvidersConfig groups the three external provider configurations.
type ProvidersConfig struct {
	Calendar *CalendarProviderConfig `yaml:"calendar"`
	Issues   *IssuesProviderConfig   `yaml:"issues"`
	Code     *CodeProviderConfig     `yaml:"code"`
}

// LLMConfig configures the chat-completion provider.
type LLMConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding provider used by the code
// query adapter.
type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	CacheSize int    `yaml:"cache_size"`
}

// CodeIndexConfig configures the local vector index.
type CodeIndexConfig struct {
	// PersistPath is where vector collections are persisted. Empty
	// means in-memory only.
	PersistPath string `yaml:"persist_path"`
}
