// TeamSync engine daemon: runs per-user sync workers, the transcript
// acquisition pool, retention, and the local control API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/teamsync/core/pkg/api"
	"github.com/teamsync/core/pkg/bus"
	"github.com/teamsync/core/pkg/cleanup"
	"github.com/teamsync/core/pkg/codequery"
	"github.com/teamsync/core/pkg/config"
	"github.com/teamsync/core/pkg/contextengine"
	"github.com/teamsync/core/pkg/credentials"
	"github.com/teamsync/core/pkg/database"
	"github.com/teamsync/core/pkg/llm"
	"github.com/teamsync/core/pkg/meetings"
	"github.com/teamsync/core/pkg/oauth"
	"github.com/teamsync/core/pkg/providers"
	"github.com/teamsync/core/pkg/store/pg"
	"github.com/teamsync/core/pkg/syncer"
	"github.com/teamsync/core/pkg/tasks"
	"github.com/teamsync/core/pkg/transcripts"
	"github.com/teamsync/core/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	userID := getEnv("TEAMSYNC_USER", "local")

	slog.Info("Starting TeamSync engine",
		"version", version.Full(),
		"config_dir", *configDir,
		"user_id", userID)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	stores := pg.NewPGStores(dbClient.DB())
	events := bus.New()

	// 3. Credentials and provider clients
	credManager := credentials.NewManager(stores.Credentials, events, cfg.Providers)
	calendarClient := providers.NewCalendarClient(cfg.Providers.Calendar, credManager)
	issuesClient := providers.NewIssuesClient(cfg.Providers.Issues, credManager)
	codeClient := providers.NewCodeClient(cfg.Providers.Code, credManager)

	// 4. LLM and code index
	llmClient := llm.NewHTTPClient(cfg.LLM)
	embedder, err := codequery.NewEmbedder(cfg.Embedding)
	if err != nil {
		slog.Error("Failed to initialize embedder", "error", err)
		os.Exit(1)
	}
	codeIndex, err := codequery.NewAdapter(cfg.CodeIndex, cfg.Context, embedder, stores.CodeChunks)
	if err != nil {
		slog.Error("Failed to initialize code index", "error", err)
		os.Exit(1)
	}

	// 5. Domain services
	meetingService := meetings.NewService(stores.Meetings, calendarClient, llmClient)
	taskService := tasks.NewService(stores.Updates, issuesClient, codeClient)

	transcriptEngine := transcripts.NewEngine(cfg.Transcript, stores.Meetings, calendarClient, meetingService, events)
	transcriptEngine.Start(ctx)

	supervisor := syncer.NewSupervisor(cfg.Sync, cfg.Transcript, meetingService, taskService,
		transcriptEngine, stores.Meetings, events)
	supervisor.Start(ctx)
	supervisor.StartUser(userID)

	askEngine := contextengine.NewEngine(cfg.Context, stores.Meetings, stores.Updates, codeIndex, llmClient)

	oauthManager := oauth.NewManager(cfg.Providers, stores.Credentials)

	cleanupService := cleanup.NewService(cfg.Retention, stores.Updates, stores.CodeChunks)
	cleanupService.Start(ctx)

	// 6. Control API (non-blocking)
	apiServer := api.NewServer(cfg.API, askEngine, supervisor, oauthManager,
		stores.Credentials, stores.Meetings, stores.Updates, dbClient)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("TeamSync engine started",
		"api_addr", cfg.API.ListenAddr,
		"sync_interval", cfg.Sync.Interval)

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Control API error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: stop producers before the stores go away.
	supervisor.Stop()
	transcriptEngine.Stop()
	cleanupService.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	oauthManager.Shutdown(shutdownCtx)
	if err := apiServer.Stop(shutdownCtx); err != nil {
		slog.Error("Control API shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
