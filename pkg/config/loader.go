package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved engine configuration.
type Config struct {
	configDir string

	Sync       *SyncConfig
	Transcript *TranscriptConfig
	Context    *ContextConfig
	Retention  *RetentionConfig
	Providers  *ProvidersConfig
	LLM        *LLMConfig
	Embedding  *EmbeddingConfig
	CodeIndex  *CodeIndexConfig
	API        *APIConfig
}

// teamsyncYAML mirrors the teamsync.yaml file structure.
type teamsyncYAML struct {
	Sync       *SyncConfig       `yaml:"sync"`
	Transcript *TranscriptConfig `yaml:"transcripts"`
	Context    *ContextConfig    `yaml:"context"`
	Retention  *RetentionConfig  `yaml:"retention"`
	LLM        *LLMConfig        `yaml:"llm"`
	Embedding  *EmbeddingConfig  `yaml:"embedding"`
	CodeIndex  *CodeIndexConfig  `yaml:"code_index"`
	API        *APIConfig        `yaml:"api"`
}

// providersYAML mirrors the providers.yaml file structure.
type providersYAML struct {
	Providers *ProvidersConfig `yaml:"providers"`
}

// Initialize loads, merges, validates, and returns ready-to-use
// configuration. This is the primary entry point.
//
// Steps:
//  1. Load teamsync.yaml and providers.yaml from configDir
//  2. Expand {{.VAR}} environment templates
//  3. Merge user values over built-in defaults
//  4. Validate
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"sync_interval", cfg.Sync.Interval,
		"transcript_max_attempts", cfg.Transcript.MaxAttempts,
		"code_query_limit", cfg.Context.CodeQueryLimit)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	var core teamsyncYAML
	if err := loader.loadYAML("teamsync.yaml", &core); err != nil {
		return nil, NewLoadError("teamsync.yaml", err)
	}

	var prov providersYAML
	if err := loader.loadYAML("providers.yaml", &prov); err != nil {
		return nil, NewLoadError("providers.yaml", err)
	}

	cfg := &Config{
		configDir:  configDir,
		Sync:       DefaultSyncConfig(),
		Transcript: DefaultTranscriptConfig(),
		Context:    DefaultContextConfig(),
		Retention:  DefaultRetentionConfig(),
		LLM:        DefaultLLMConfig(),
		Embedding:  DefaultEmbeddingConfig(),
		CodeIndex:  &CodeIndexConfig{},
		API:        DefaultAPIConfig(),
		Providers:  prov.Providers,
	}

	// User-provided values override defaults; unset fields keep them.
	merges := []struct {
		dst, src any
	}{
		{cfg.Sync, core.Sync},
		{cfg.Transcript, core.Transcript},
		{cfg.Context, core.Context},
		{cfg.Retention, core.Retention},
		{cfg.LLM, core.LLM},
		{cfg.Embedding, core.Embedding},
		{cfg.CodeIndex, core.CodeIndex},
		{cfg.API, core.API},
	}
	for _, m := range merges {
		if isNil(m.src) {
			continue
		}
		if err := mergo.Merge(m.dst, m.src, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config section: %w", err)
		}
	}

	return cfg, nil
}

func isNil(v any) bool {
	switch x := v.(type) {
	case *SyncConfig:
		return x == nil
	case *TranscriptConfig:
		return x == nil
	case *ContextConfig:
		return x == nil
	case *RetentionConfig:
		return x == nil
	case *LLMConfig:
		return x == nil
	case *EmbeddingConfig:
		return x == nil
	case *CodeIndexConfig:
		return x == nil
	case *APIConfig:
		return x == nil
	}
	return v == nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}
