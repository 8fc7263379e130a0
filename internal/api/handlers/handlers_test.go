package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kkhushie/fetchfriends.dev/internal/api/middleware"
	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"github.com/kkhushie/fetchfriends.dev/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// 필요한 메서드만 덮어쓴다. 나머지를 부르면 nil 인터페이스라 panic
type stubQueue struct {
	QueueAPI
	enqueue func(userID string, mode models.QueueMode, params models.QueueParams) (*service.EnqueueResult, error)
	dequeue func(userID string) (*models.QueueEntry, error)
}

func (s *stubQueue) Enqueue(_ context.Context, userID string, mode models.QueueMode, params models.QueueParams) (*service.EnqueueResult, error) {
	return s.enqueue(userID, mode, params)
}

func (s *stubQueue) Dequeue(_ context.Context, userID string) (*models.QueueEntry, error) {
	return s.dequeue(userID)
}

func (s *stubQueue) PositionInQueue(context.Context, string) (int, error) { return 3, nil }

func (s *stubQueue) EstimateWait(_ context.Context, mode models.QueueMode) (int, error) {
	if !mode.Valid() {
		return 0, service.ErrInvalidMode
	}
	return 90, nil
}

type stubSessions struct {
	SessionAPI
	accept       func(userID, sessionID string) (*models.Session, error)
	matchHistory func(userID string, limit, offset int) (*models.SessionPage, error)
}

func (s *stubSessions) Accept(_ context.Context, userID, sessionID string) (*models.Session, error) {
	return s.accept(userID, sessionID)
}

func (s *stubSessions) MatchHistory(_ context.Context, userID string, limit, offset int) (*models.SessionPage, error) {
	return s.matchHistory(userID, limit, offset)
}

type stubFeedback struct {
	FeedbackAPI
	submit func(from, sessionID string, req models.SubmitFeedbackRequest) (*models.Feedback, error)
}

func (s *stubFeedback) Submit(_ context.Context, from, sessionID string, req models.SubmitFeedbackRequest) (*models.Feedback, error) {
	return s.submit(from, sessionID, req)
}

type stubUsers struct {
	UserAPI
	search   func(q models.UserSearch) ([]models.PublicProfile, error)
	settings func(id string, patch json.RawMessage) (*models.UserSettings, error)
	statuses []string
}

func (s *stubUsers) Search(_ context.Context, q models.UserSearch) ([]models.PublicProfile, error) {
	return s.search(q)
}

func (s *stubUsers) UpdateSettings(_ context.Context, id string, patch json.RawMessage) (*models.UserSettings, error) {
	return s.settings(id, patch)
}

func (s *stubUsers) SetAvailability(_ context.Context, id string, u models.AvailabilityUpdate) (*models.Availability, error) {
	s.statuses = append(s.statuses, id+"="+string(*u.Status))
	return &models.Availability{Status: *u.Status}, nil
}

type stubAuth struct {
	AuthAPI
	callback func(provider, code string) (*service.LoginResult, error)
}

func (s *stubAuth) AuthCodeURL(provider, state string) (string, error) {
	if provider != "github" {
		return "", service.ErrInvalidProvider
	}
	return "https://github.com/login/oauth/authorize?state=" + state, nil
}

func (s *stubAuth) Callback(_ context.Context, provider, code string) (*service.LoginResult, error) {
	return s.callback(provider, code)
}

// asUser 인증 미들웨어 대신 사용자 ID 를 심는다
func asUser(id string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserID, id)
		c.Next()
	}
}

func serve(r *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestMatchHandler_JoinQueue(t *testing.T) {
	var gotMode models.QueueMode
	var existing bool
	queue := &stubQueue{
		enqueue: func(userID string, mode models.QueueMode, params models.QueueParams) (*service.EnqueueResult, error) {
			if mode == "bogus" {
				return nil, service.ErrInvalidMode
			}
			gotMode = mode
			return &service.EnqueueResult{
				Entry:    &models.QueueEntry{ID: "q1", UserID: userID, Mode: models.QueueModeSkill, Params: params},
				Existing: existing,
			}, nil
		},
	}
	h := NewMatchHandler(queue, &stubSessions{})
	r := gin.New()
	r.POST("/match/join", asUser("alice"), h.JoinQueue)

	w := serve(r, http.MethodPost, "/match/join", `{"mode":"skill","params":{"languages":["go"]}}`)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, models.QueueModeSkill, gotMode)
	assert.Equal(t, false, body["existing"])
	assert.Equal(t, float64(3), body["position"])
	assert.Equal(t, float64(90), body["estimatedWait"])

	existing = true
	w = serve(r, http.MethodPost, "/match/join", `{"mode":"skill"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["existing"])

	w = serve(r, http.MethodPost, "/match/join", `{"mode":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 본문 없이도 기본 모드로 참가
	w = serve(r, http.MethodPost, "/match/join", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.QueueMode(""), gotMode)
}

func TestMatchHandler_LeaveQueue(t *testing.T) {
	var entry *models.QueueEntry
	queue := &stubQueue{
		dequeue: func(string) (*models.QueueEntry, error) { return entry, nil },
	}
	h := NewMatchHandler(queue, &stubSessions{})
	r := gin.New()
	r.POST("/match/leave", asUser("alice"), h.LeaveQueue)

	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, "/match/leave", "").Code)

	entry = &models.QueueEntry{ID: "q1", Status: models.QueueStatusCancelled}
	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/match/leave", "").Code)
}

func TestMatchHandler_AcceptErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{service.ErrSessionNotFound, http.StatusNotFound},
		{service.ErrNotParticipant, http.StatusForbidden},
		{fmt.Errorf("%w: session is not waiting", service.ErrInvalidSessionState), http.StatusBadRequest},
		{fmt.Errorf("failed to activate session: %w", assert.AnError), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			sessions := &stubSessions{
				accept: func(string, string) (*models.Session, error) { return nil, tc.err },
			}
			h := NewMatchHandler(&stubQueue{}, sessions)
			r := gin.New()
			r.POST("/match/accept/:sessionId", asUser("alice"), h.AcceptMatch)

			w := serve(r, http.MethodPost, "/match/accept/s1", "")
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusInternalServerError {
				// 내부 에러 내용은 노출하지 않는다
				assert.Equal(t, "Failed to accept match", decode(t, w)["error"])
			}
		})
	}
}

func TestMatchHandler_MatchHistoryPagination(t *testing.T) {
	var gotLimit, gotOffset int
	sessions := &stubSessions{
		matchHistory: func(_ string, limit, offset int) (*models.SessionPage, error) {
			gotLimit, gotOffset = limit, offset
			return &models.SessionPage{Sessions: []*models.Session{}, Limit: limit, Offset: offset}, nil
		},
	}
	h := NewMatchHandler(&stubQueue{}, sessions)
	r := gin.New()
	r.GET("/match/history", asUser("alice"), h.MatchHistory)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/match/history?limit=5&offset=10", "").Code)
	assert.Equal(t, 5, gotLimit)
	assert.Equal(t, 10, gotOffset)

	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/match/history?limit=abc", "").Code)
}

func TestFeedbackHandler_Submit(t *testing.T) {
	feedback := &stubFeedback{
		submit: func(from, sessionID string, req models.SubmitFeedbackRequest) (*models.Feedback, error) {
			if sessionID == "dup" {
				return nil, service.ErrFeedbackExists
			}
			return &models.Feedback{ID: "f1", SessionID: sessionID, FromUserID: from, Rating: *req.Rating}, nil
		},
	}
	h := NewFeedbackHandler(feedback)
	r := gin.New()
	r.POST("/feedback/session/:sessionId", asUser("alice"), h.Submit)

	w := serve(r, http.MethodPost, "/feedback/session/s1", `{"rating":4}`)
	require.Equal(t, http.StatusCreated, w.Code)
	fb := decode(t, w)["feedback"].(map[string]interface{})
	assert.Equal(t, "alice", fb["from"])
	assert.Equal(t, float64(4), fb["rating"])

	w = serve(r, http.MethodPost, "/feedback/session/dup", `{"rating":4}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUserHandler_Search(t *testing.T) {
	var got models.UserSearch
	users := &stubUsers{
		search: func(q models.UserSearch) ([]models.PublicProfile, error) {
			got = q
			return []models.PublicProfile{{ID: "u1", Name: "Ada"}}, nil
		},
	}
	h := NewUserHandler(users)
	r := gin.New()
	r.GET("/users/search", asUser("alice"), h.SearchUsers)

	w := serve(r, http.MethodGet, "/users/search?q=ada&languages=go,%20rust,&experience=expert&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ada", got.Query)
	assert.Equal(t, []string{"go", "rust"}, got.Languages)
	assert.Equal(t, models.ExperienceLevel("expert"), got.Experience)
	assert.Equal(t, 5, got.Limit)
	assert.Equal(t, float64(1), decode(t, w)["count"])
}

func TestUserHandler_UpdateSettings(t *testing.T) {
	var gotPatch string
	users := &stubUsers{
		settings: func(_ string, patch json.RawMessage) (*models.UserSettings, error) {
			gotPatch = string(patch)
			if !strings.HasPrefix(gotPatch, "{") {
				return nil, fmt.Errorf("%w: settings must be an object", service.ErrInvalidInput)
			}
			return &models.UserSettings{Editor: models.EditorSettings{Theme: "dark"}}, nil
		},
	}
	h := NewUserHandler(users)
	r := gin.New()
	r.PUT("/users/me/settings", asUser("alice"), h.UpdateSettings)

	w := serve(r, http.MethodPut, "/users/me/settings", `{"editor":{"theme":"dark"}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"editor":{"theme":"dark"}}`, gotPatch)

	w = serve(r, http.MethodPut, "/users/me/settings", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandler_LoginAndCallback(t *testing.T) {
	auth := &stubAuth{
		callback: func(provider, code string) (*service.LoginResult, error) {
			if code != "good" {
				return nil, service.ErrUnauthorized
			}
			return &service.LoginResult{User: &models.User{ID: "u1"}, Token: "jwt-token", Created: true}, nil
		},
	}
	h := NewAuthHandler(auth, &stubUsers{}, "http://localhost:3000/", false)
	r := gin.New()
	r.GET("/auth/:provider", h.Login)
	r.GET("/auth/:provider/callback", h.Callback)

	w := serve(r, http.MethodGet, "/auth/github", "")
	require.Equal(t, http.StatusTemporaryRedirect, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == stateCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, state, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/auth/myspace", "").Code)

	callback := func(query string, withCookie bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/auth/github/callback?"+query, nil)
		if withCookie {
			req.AddCookie(&http.Cookie{Name: stateCookie, Value: state})
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w = callback("code=good&state="+state, true)
	require.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "http://localhost:3000/auth/callback?new=true&token=jwt-token", w.Header().Get("Location"))

	w = callback("code=good&state=forged", true)
	assert.Equal(t, "http://localhost:3000/auth/callback?error=invalid_state", w.Header().Get("Location"))

	w = callback("code=good&state="+state, false)
	assert.Equal(t, "http://localhost:3000/auth/callback?error=invalid_state", w.Header().Get("Location"))

	w = callback("code=bad&state="+state, true)
	assert.Equal(t, "http://localhost:3000/auth/callback?error=auth_failed", w.Header().Get("Location"))

	w = callback("error=access_denied", true)
	assert.Equal(t, "http://localhost:3000/auth/callback?error=access_denied", w.Header().Get("Location"))
}

func TestAuthHandler_Logout(t *testing.T) {
	users := &stubUsers{}
	h := NewAuthHandler(&stubAuth{}, users, "http://localhost:3000", false)
	r := gin.New()
	r.POST("/auth/logout", asUser("alice"), h.Logout)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/auth/logout", "").Code)
	assert.Equal(t, []string{"alice=offline"}, users.statuses)
}

func TestHealthHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return assert.AnError }

	r := gin.New()
	r.GET("/health", NewHealthHandler(map[string]Pinger{"database": ok}).HealthCheck)
	r.GET("/degraded", NewHealthHandler(map[string]Pinger{"database": ok, "redis": down}).HealthCheck)

	w := serve(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = serve(r, http.MethodGet, "/degraded", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "down", body["components"].(map[string]interface{})["redis"])
}
