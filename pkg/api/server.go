// Package api is the local control surface: a loopback HTTP server the
// desktop shell talks to. It never binds beyond the loopback interface
// and carries no authentication of its own.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/teamsync/core/pkg/config"
	"github.com/teamsync/core/pkg/contextengine"
	"github.com/teamsync/core/pkg/models"
	"github.com/teamsync/core/pkg/store"
)

// AskEngine answers questions over assembled context.
type AskEngine interface {
	Ask(ctx context.Context, userID, question string, opts contextengine.AskOptions) (*contextengine.Answer, error)
	EndSession(sessionID string)
}

// SyncController triggers out-of-band sync cycles.
type SyncController interface {
	SyncNow(userID string) bool
}

// FlowStarter begins an interactive authorization flow.
type FlowStarter interface {
	BeginFlow(userID string, service models.Service) (string, error)
}

// HealthChecker reports storage reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server wires the engine components behind the control API routes.
type Server struct {
	cfg      *config.APIConfig
	ask      AskEngine
	sync     SyncController
	flows    FlowStarter
	creds    store.CredentialStore
	meetings store.MeetingStore
	updates  store.UpdateStore
	health   HealthChecker
	logger   *slog.Logger

	httpSrv *http.Server
}

func NewServer(cfg *config.APIConfig, ask AskEngine, sync SyncController, flows FlowStarter,
	creds store.CredentialStore, meetings store.MeetingStore, updates store.UpdateStore,
	health HealthChecker) *Server {
	return &Server{
		cfg:      cfg,
		ask:      ask,
		sync:     sync,
		flows:    flows,
		creds:    creds,
		meetings: meetings,
		updates:  updates,
		health:   health,
		logger:   slog.Default().With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.healthHandler)

	api := r.Group("/api")
	{
		api.POST("/ask", s.askHandler)
		api.POST("/sync/now", s.syncNowHandler)
		api.GET("/integrations", s.listIntegrationsHandler)
		api.POST("/integrations/:service/connect", s.connectIntegrationHandler)
		api.DELETE("/integrations/:service", s.deleteIntegrationHandler)
		api.GET("/meetings", s.listMeetingsHandler)
		api.GET("/updates", s.listUpdatesHandler)
	}
	return r
}

// Start begins serving on the configured loopback address. Blocks until
// the server stops.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("Control API listening", "addr", s.cfg.ListenAddr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests within the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.health.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
