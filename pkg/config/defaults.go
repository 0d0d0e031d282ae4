package config

import "time"

// DefaultSyncConfig returns the built-in sync defaults.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Interval:        15 * time.Minute,
		MeetingsForward: 30 * 24 * time.Hour,
		UpdatesBack:     7 * 24 * time.Hour,
		ShutdownTimeout: 5 * time.Second,
	}
}

// DefaultTranscriptConfig returns the built-in transcript defaults.
func DefaultTranscriptConfig() *TranscriptConfig {
	return &TranscriptConfig{
		InitialDelay:      120 * time.Second,
		MaxDelay:          1800 * time.Second,
		MaxAttempts:       10,
		RecentWindow:      5 * time.Minute,
		EligibleWindow:    24 * time.Hour,
		MaxConcurrentJobs: 32,
	}
}

// DefaultContextConfig returns the built-in context assembly defaults.
func DefaultContextConfig() *ContextConfig {
	return &ContextConfig{
		CodeQueryLimit:         15,
		CodeQueryMinSimilarity: 0.20,
		HistoryTurns:           20,
		DefaultMeetings:        10,
		DefaultUpdates:         20,
	}
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		UpdateRetentionDays: 90,
		ChunkRetentionDays:  30,
		CleanupInterval:     6 * time.Hour,
	}
}

// DefaultAPIConfig returns the built-in control API defaults.
func DefaultAPIConfig() *APIConfig {
	return &APIConfig{
		ListenAddr: "127.0.0.1:8787",
	}
}

// DefaultLLMConfig returns the built-in LLM client defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		BaseURL:   "https://api.openai.com/v1",
		Model:     "gpt-4o-mini",
		APIKeyEnv: "LLM_API_KEY",
		Timeout:   60 * time.Second,
	}
}

// DefaultEmbeddingConfig returns the built-in embedding defaults.
func DefaultEmbeddingConfig() *EmbeddingConfig {
	return &EmbeddingConfig{
		BaseURL:   "https://api.openai.com/v1",
		Model:     "text-embedding-3-small",
		APIKeyEnv: "EMBEDDING_API_KEY",
		CacheSize: 10000,
	}
}
