package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamsync/core/pkg/config"
	"github.com/teamsync/core/pkg/contextengine"
	"github.com/teamsync/core/pkg/models"
	"github.com/teamsync/core/pkg/store"
)

type stubAsk struct {
	answer   *contextengine.Answer
	err      error
	lastOpts contextengine.AskOptions
	lastUser string
}

func (s *stubAsk) Ask(_ context.Context, userID, _ string, opts contextengine.AskOptions) (*contextengine.Answer, error) {
	s.lastUser = userID
	s.lastOpts = opts
	return s.answer, s.err
}

func (s *stubAsk) EndSession(string) {}

type stubSync struct {
	known map[string]bool
	kicks []string
}

func (s *stubSync) SyncNow(userID string) bool {
	s.kicks = append(s.kicks, userID)
	return s.known[userID]
}

type stubFlows struct {
	url string
	err error
}

func (s *stubFlows) BeginFlow(string, models.Service) (string, error) { return s.url, s.err }

type stubCreds struct {
	creds     []*models.Credential
	deleteErr error
	deleted   []models.Service
}

func (s *stubCreds) Upsert(context.Context, *models.Credential) error { return nil }
func (s *stubCreds) Get(context.Context, string, models.Service) (*models.Credential, error) {
	return nil, store.ErrNotFound
}
func (s *stubCreds) List(context.Context, string) ([]*models.Credential, error) {
	return s.creds, nil
}
func (s *stubCreds) UpdateTokens(context.Context, string, models.Service, string, string, time.Time) error {
	return nil
}
func (s *stubCreds) Delete(_ context.Context, _ string, service models.Service) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, service)
	return nil
}

type stubMeetingList struct {
	rows       []*models.Meeting
	lastFilter models.MeetingFilter
}

func (s *stubMeetingList) List(_ context.Context, _ string, filter models.MeetingFilter) ([]*models.Meeting, error) {
	s.lastFilter = filter
	return s.rows, nil
}
func (s *stubMeetingList) Upsert(context.Context, *models.Meeting) (bool, error) { return false, nil }
func (s *stubMeetingList) UpdateTranscript(context.Context, string, int64, string, string, string, time.Time) error {
	return nil
}
func (s *stubMeetingList) SetOnlineMeetingID(context.Context, string, int64, string) error {
	return nil
}
func (s *stubMeetingList) SetCopilotNotes(context.Context, string, int64, string) error { return nil }
func (s *stubMeetingList) UpdateSummary(context.Context, string, int64, string, []string, []models.ActionItem) error {
	return nil
}
func (s *stubMeetingList) SetManualNotes(context.Context, string, int64, string) error { return nil }
func (s *stubMeetingList) GetByID(context.Context, string, int64) (*models.Meeting, error) {
	return nil, store.ErrNotFound
}
func (s *stubMeetingList) GetByExternalID(context.Context, string, string) (*models.Meeting, error) {
	return nil, store.ErrNotFound
}

type stubUpdateList struct {
	rows       []*models.Update
	lastFilter models.UpdateFilter
}

func (s *stubUpdateList) List(_ context.Context, _ string, filter models.UpdateFilter) ([]*models.Update, error) {
	s.lastFilter = filter
	return s.rows, nil
}
func (s *stubUpdateList) Upsert(context.Context, *models.Update) (bool, error)         { return false, nil }
func (s *stubUpdateList) SetLinkedMeeting(context.Context, string, int64, int64) error { return nil }
func (s *stubUpdateList) AddLinkedKeys(context.Context, string, int64, []string) error { return nil }
func (s *stubUpdateList) DeleteOlderThan(context.Context, time.Time) (int64, error)    { return 0, nil }
func (s *stubUpdateList) DeleteMissing(context.Context, string, []models.UpdateType, time.Time, time.Time, []string) (int64, int64, error) {
	return 0, 0, nil
}

type stubHealth struct{ err error }

func (s *stubHealth) HealthCheck(context.Context) error { return s.err }

type testServer struct {
	*Server
	ask      *stubAsk
	sync     *stubSync
	creds    *stubCreds
	meetings *stubMeetingList
	updates  *stubUpdateList
	health   *stubHealth
}

func newTestServer() *testServer {
	ts := &testServer{
		ask:      &stubAsk{answer: &contextengine.Answer{Answer: "ok"}},
		sync:     &stubSync{known: map[string]bool{"user-1": true}},
		creds:    &stubCreds{},
		meetings: &stubMeetingList{},
		updates:  &stubUpdateList{},
		health:   &stubHealth{},
	}
	ts.Server = NewServer(config.DefaultAPIConfig(), ts.ask, ts.sync, &stubFlows{url: "https://auth.example.com/x"},
		ts.creds, ts.meetings, ts.updates, ts.health)
	return ts
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestAskEndpoint(t *testing.T) {
	ts := newTestServer()
	ts.ask.answer = &contextengine.Answer{
		Answer:  "It shipped last week.",
		Sources: []contextengine.Source{{Type: "meeting", IDOrPath: "m-1", Title: "Standup"}},
	}

	rec := doJSON(t, ts.Server, http.MethodPost, "/api/ask",
		`{"user_id":"user-1","question":"Did it ship?","session_id":"s-1",
		  "filtered_context":{"meeting_ids":["m-1"]}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got contextengine.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "It shipped last week.", got.Answer)
	require.Len(t, got.Sources, 1)

	assert.Equal(t, "user-1", ts.ask.lastUser)
	assert.Equal(t, "s-1", ts.ask.lastOpts.SessionID)
	require.NotNil(t, ts.ask.lastOpts.FilteredContext)
	assert.Equal(t, []string{"m-1"}, ts.ask.lastOpts.FilteredContext.MeetingIDs)
}

func TestAskEndpoint_MissingFields(t *testing.T) {
	ts := newTestServer()
	rec := doJSON(t, ts.Server, http.MethodPost, "/api/ask", `{"user_id":"user-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncNowEndpoint(t *testing.T) {
	ts := newTestServer()

	rec := doJSON(t, ts.Server, http.MethodPost, "/api/sync/now", `{"user_id":"user-1"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, ts.Server, http.MethodPost, "/api/sync/now", `{"user_id":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIntegrationsEndpoints(t *testing.T) {
	ts := newTestServer()
	ts.creds.creds = []*models.Credential{{
		UserID:      "user-1",
		Service:     models.ServiceCalendar,
		AccessToken: "must-not-leak",
		AuthType:    models.AuthTypeOAuthPKCE,
	}}

	rec := doJSON(t, ts.Server, http.MethodGet, "/api/integrations?user_id=user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"calendar"`)
	assert.NotContains(t, rec.Body.String(), "must-not-leak")

	rec = doJSON(t, ts.Server, http.MethodGet, "/api/integrations", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, ts.Server, http.MethodPost, "/api/integrations/calendar/connect", `{"user_id":"user-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://auth.example.com/x")

	rec = doJSON(t, ts.Server, http.MethodPost, "/api/integrations/bogus/connect", `{"user_id":"user-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, ts.Server, http.MethodDelete, "/api/integrations/issues?user_id=user-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []models.Service{models.ServiceIssues}, ts.creds.deleted)

	ts.creds.deleteErr = store.ErrNotFound
	rec = doJSON(t, ts.Server, http.MethodDelete, "/api/integrations/issues?user_id=user-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMeetingsEndpoint_FilterParsing(t *testing.T) {
	ts := newTestServer()
	ts.meetings.rows = []*models.Meeting{{Title: "Planning"}}

	rec := doJSON(t, ts.Server, http.MethodGet,
		"/api/meetings?user_id=user-1&from=2026-07-01T00:00:00Z&important=true&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Planning")

	f := ts.meetings.lastFilter
	require.NotNil(t, f.From)
	assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), f.From.UTC())
	require.NotNil(t, f.Important)
	assert.True(t, *f.Important)
	assert.Equal(t, 5, f.Limit)

	rec = doJSON(t, ts.Server, http.MethodGet, "/api/meetings?user_id=user-1&from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListUpdatesEndpoint_FilterParsing(t *testing.T) {
	ts := newTestServer()

	rec := doJSON(t, ts.Server, http.MethodGet,
		"/api/updates?user_id=user-1&types=issue_created,code_pr&search=throttle", "")
	require.Equal(t, http.StatusOK, rec.Code)

	f := ts.updates.lastFilter
	assert.Equal(t, []models.UpdateType{models.UpdateTypeIssueCreated, models.UpdateTypeCodePR}, f.Types)
	assert.Equal(t, "throttle", f.Search)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer()

	rec := doJSON(t, ts.Server, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.health.err = errors.New("connection refused")
	rec = doJSON(t, ts.Server, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}
