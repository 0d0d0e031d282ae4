package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/teamsync/core/pkg/contextengine"
	"github.com/teamsync/core/pkg/models"
	"github.com/teamsync/core/pkg/store"
)

type askRequest struct {
	UserID          string                         `json:"user_id" binding:"required"`
	Question        string                         `json:"question" binding:"required"`
	SessionID       string                         `json:"session_id"`
	FilteredContext *contextengine.FilteredContext `json:"filtered_context"`
}

// askHandler handles POST /api/ask.
func (s *Server) askHandler(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	answer, err := s.ask.Ask(c.Request.Context(), req.UserID, req.Question, contextengine.AskOptions{
		FilteredContext: req.FilteredContext,
		SessionID:       req.SessionID,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, answer)
}

type syncNowRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// syncNowHandler handles POST /api/sync/now. The cycle runs in the
// user's worker; the response only acknowledges the kick.
func (s *Server) syncNowHandler(c *gin.Context) {
	var req syncNowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !s.sync.SyncNow(req.UserID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active sync worker for user"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

// listIntegrationsHandler handles GET /api/integrations. Token fields
// never serialize; the credential model hides them.
func (s *Server) listIntegrationsHandler(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	creds, err := s.creds.List(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error("Listing integrations failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list integrations"})
		return
	}
	if creds == nil {
		creds = []*models.Credential{}
	}
	c.JSON(http.StatusOK, gin.H{"integrations": creds})
}

// connectIntegrationHandler handles POST /api/integrations/:service/connect.
func (s *Server) connectIntegrationHandler(c *gin.Context) {
	service := models.Service(c.Param("service"))
	if !service.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown service"})
		return
	}

	var req syncNowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	authURL, err := s.flows.BeginFlow(req.UserID, service)
	if err != nil {
		s.logger.Error("Starting authorization flow failed",
			"user_id", req.UserID, "service", service, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start authorization"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorize_url": authURL})
}

// deleteIntegrationHandler handles DELETE /api/integrations/:service.
func (s *Server) deleteIntegrationHandler(c *gin.Context) {
	service := models.Service(c.Param("service"))
	if !service.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown service"})
		return
	}
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	if err := s.creds.Delete(c.Request.Context(), userID, service); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "integration not connected"})
			return
		}
		s.logger.Error("Deleting integration failed",
			"user_id", userID, "service", service, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete integration"})
		return
	}
	c.Status(http.StatusNoContent)
}

// listMeetingsHandler handles GET /api/meetings.
func (s *Server) listMeetingsHandler(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	filter, err := meetingFilterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	meetings, err := s.meetings.List(c.Request.Context(), userID, filter)
	if err != nil {
		s.logger.Error("Listing meetings failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list meetings"})
		return
	}
	if meetings == nil {
		meetings = []*models.Meeting{}
	}
	c.JSON(http.StatusOK, gin.H{"meetings": meetings})
}

// listUpdatesHandler handles GET /api/updates.
func (s *Server) listUpdatesHandler(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	filter, err := updateFilterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates, err := s.updates.List(c.Request.Context(), userID, filter)
	if err != nil {
		s.logger.Error("Listing updates failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list updates"})
		return
	}
	if updates == nil {
		updates = []*models.Update{}
	}
	c.JSON(http.StatusOK, gin.H{"updates": updates})
}

func meetingFilterFromQuery(c *gin.Context) (models.MeetingFilter, error) {
	var filter models.MeetingFilter

	from, err := timeQuery(c, "from")
	if err != nil {
		return filter, err
	}
	to, err := timeQuery(c, "to")
	if err != nil {
		return filter, err
	}
	filter.From, filter.To = from, to

	if v := c.Query("important"); v != "" {
		important, err := strconv.ParseBool(v)
		if err != nil {
			return filter, errors.New("important must be a boolean")
		}
		filter.Important = &important
	}

	filter.Limit, err = limitQuery(c)
	return filter, err
}

func updateFilterFromQuery(c *gin.Context) (models.UpdateFilter, error) {
	var filter models.UpdateFilter

	from, err := timeQuery(c, "from")
	if err != nil {
		return filter, err
	}
	to, err := timeQuery(c, "to")
	if err != nil {
		return filter, err
	}
	filter.From, filter.To = from, to
	filter.Search = c.Query("search")

	if v := c.Query("types"); v != "" {
		for _, t := range strings.Split(v, ",") {
			filter.Types = append(filter.Types, models.UpdateType(strings.TrimSpace(t)))
		}
	}

	filter.Limit, err = limitQuery(c)
	return filter, err
}

func timeQuery(c *gin.Context, name string) (*time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errors.New(name + " must be RFC 3339")
	}
	return &t, nil
}

func limitQuery(c *gin.Context) (int, error) {
	v := c.Query("limit")
	if v == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return limit, nil
}
