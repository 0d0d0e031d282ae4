package config

import (
	"errors"
	"fmt"
)

// validate checks the merged configuration for values the engine cannot
// run with. Provider sections are optional: a user who never connects a
// service does not need its configuration.
func validate(cfg *Config) error {
	var errs []error

	if cfg.Sync.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sync.interval must be positive, got %s", cfg.Sync.Interval))
	}
	if cfg.Sync.MeetingsForward <= 0 {
		errs = append(errs, fmt.Errorf("sync.meetings_forward must be positive, got %s", cfg.Sync.MeetingsForward))
	}
	if cfg.Sync.UpdatesBack <= 0 {
		errs = append(errs, fmt.Errorf("sync.updates_back must be positive, got %s", cfg.Sync.UpdatesBack))
	}

	if cfg.Transcript.InitialDelay <= 0 {
		errs = append(errs, fmt.Errorf("transcripts.initial_delay must be positive, got %s", cfg.Transcript.InitialDelay))
	}
	if cfg.Transcript.MaxDelay < cfg.Transcript.InitialDelay {
		errs = append(errs, fmt.Errorf("transcripts.max_delay (%s) must be >= initial_delay (%s)",
			cfg.Transcript.MaxDelay, cfg.Transcript.InitialDelay))
	}
	if cfg.Transcript.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("transcripts.max_attempts must be at least 1, got %d", cfg.Transcript.MaxAttempts))
	}
	if cfg.Transcript.MaxConcurrentJobs < 1 {
		errs = append(errs, fmt.Errorf("transcripts.max_concurrent_jobs must be at least 1, got %d", cfg.Transcript.MaxConcurrentJobs))
	}

	if cfg.Context.CodeQueryLimit < 1 {
		errs = append(errs, fmt.Errorf("context.code_query_limit must be at least 1, got %d", cfg.Context.CodeQueryLimit))
	}
	if cfg.Context.CodeQueryMinSimilarity < 0 || cfg.Context.CodeQueryMinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("context.code_query_min_similarity must be in [0,1], got %g", cfg.Context.CodeQueryMinSimilarity))
	}
	if cfg.Context.HistoryTurns < 1 {
		errs = append(errs, fmt.Errorf("context.history_turns must be at least 1, got %d", cfg.Context.HistoryTurns))
	}

	if cfg.LLM.BaseURL == "" {
		errs = append(errs, errors.New("llm.base_url is required"))
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if cfg.Embedding.BaseURL == "" {
		errs = append(errs, errors.New("embedding.base_url is required"))
	}
	if cfg.Embedding.Model == "" {
		errs = append(errs, errors.New("embedding.model is required"))
	}

	if cfg.Providers != nil {
		errs = append(errs, validateProviders(cfg.Providers)...)
	}

	return errors.Join(errs...)
}

func validateProviders(p *ProvidersConfig) []error {
	var errs []error

	if p.Calendar != nil {
		if p.Calendar.BaseURL == "" {
			errs = append(errs, errors.New("providers.calendar.base_url is required"))
		}
		errs = append(errs, validateOAuth("providers.calendar", p.Calendar.OAuth)...)
	}

	if p.Issues != nil {
		if p.Issues.APIBaseURL == "" {
			errs = append(errs, errors.New("providers.issues.api_base_url is required"))
		}
		if p.Issues.SitesURL == "" {
			errs = append(errs, errors.New("providers.issues.sites_url is required"))
		}
		errs = append(errs, validateOAuth("providers.issues", p.Issues.OAuth)...)
	}

	if p.Code != nil {
		if p.Code.BaseURL == "" {
			errs = append(errs, errors.New("providers.code.base_url is required"))
		}
		// Code host accepts app-installation, OAuth, or personal-token auth;
		// config only needs to carry whichever the user sets up.
		if p.Code.AppID != "" && p.Code.PrivateKeyPath == "" {
			errs = append(errs, errors.New("providers.code.private_key_path is required when app_id is set"))
		}
		if p.Code.OAuth != nil {
			errs = append(errs, validateOAuth("providers.code", p.Code.OAuth)...)
		}
	}

	return errs
}

func validateOAuth(prefix string, o *OAuthClientConfig) []error {
	if o == nil {
		return nil
	}
	var errs []error
	if o.ClientID == "" {
		errs = append(errs, fmt.Errorf("%s.oauth.client_id is required", prefix))
	}
	if o.AuthURL == "" {
		errs = append(errs, fmt.Errorf("%s.oauth.auth_url is required", prefix))
	}
	if o.TokenURL == "" {
		errs = append(errs, fmt.Errorf("%s.oauth.token_url is required", prefix))
	}
	if o.CallbackPort <= 0 || o.CallbackPort > 65535 {
		errs = append(errs, fmt.Errorf("%s.oauth.callback_port must be a valid port, got %d", prefix, o.CallbackPort))
	}
	return errs
}
