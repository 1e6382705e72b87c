package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/huntr-cli/internal/config"
	"github.com/xkilldash9x/huntr-cli/internal/session"
	"github.com/xkilldash9x/huntr-cli/internal/store"
)

// fakeController implements SessionController with scripted results.
type fakeController struct {
	hub *session.ActivityHub

	startErr  error
	stopErr   error
	pauseErr  error
	resumeErr error

	startedWith session.StartParams
	infos       []session.Info
}

func newFakeController() *fakeController {
	return &fakeController{hub: session.NewActivityHub(0)}
}

func (f *fakeController) Start(id string, params session.StartParams) error {
	f.startedWith = params
	return f.startErr
}
func (f *fakeController) Stop(string) error   { return f.stopErr }
func (f *fakeController) Pause(string) error  { return f.pauseErr }
func (f *fakeController) Resume(string) error { return f.resumeErr }
func (f *fakeController) StatusOf(id string) (session.Info, error) {
	for _, info := range f.infos {
		if info.ID == id {
			return info, nil
		}
	}
	return session.Info{}, session.ErrNotFound
}
func (f *fakeController) All() []session.Info       { return f.infos }
func (f *fakeController) Hub() *session.ActivityHub { return f.hub }

type fakeLister struct {
	apps []store.Application
	err  error
}

func (f *fakeLister) ListApplications(_ context.Context, userID string, limit int) ([]store.Application, error) {
	return f.apps, f.err
}

func newTestServer(ctrl SessionController, apps ApplicationLister, cfg config.ServerConfig) *httptest.Server {
	s := NewServer(zap.NewNop(), cfg, ctrl, apps)
	return httptest.NewServer(s.Handler())
}

func doJSON(t *testing.T, method, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestSessionLifecycleRoutes(t *testing.T) {
	ctrl := newFakeController()
	ts := newTestServer(ctrl, nil, config.ServerConfig{})
	defer ts.Close()

	t.Run("start accepts params", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/run-1/start",
			`{"userId":"user-1","platform":"linkedin","starterUrl":"https://example.com","criteria":{"skills":"go"}}`, nil)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		resp.Body.Close()

		assert.Equal(t, "user-1", ctrl.startedWith.UserID)
		assert.Equal(t, "linkedin", ctrl.startedWith.Platform)
		assert.Equal(t, "go", ctrl.startedWith.Criteria["skills"])
	})

	t.Run("start conflict when already live", func(t *testing.T) {
		ctrl.startErr = session.ErrAlreadyRunning
		defer func() { ctrl.startErr = nil }()

		resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/run-1/start", "", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("stop unknown is 404", func(t *testing.T) {
		ctrl.stopErr = session.ErrNotFound
		defer func() { ctrl.stopErr = nil }()

		resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/ghost/stop", "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("stop timeout is accepted", func(t *testing.T) {
		ctrl.stopErr = session.ErrStopTimeout
		defer func() { ctrl.stopErr = nil }()

		resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/run-1/stop", "", nil)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		var body map[string]string
		decodeBody(t, resp, &body)
		assert.Equal(t, "stopping", body["status"])
	})

	t.Run("status round trips info", func(t *testing.T) {
		ctrl.infos = []session.Info{{
			ID:        "run-1",
			Status:    session.StatusRunning,
			Running:   true,
			StartedAt: time.Now().UTC(),
		}}
		defer func() { ctrl.infos = nil }()

		resp := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/run-1/status", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var info session.Info
		decodeBody(t, resp, &info)
		assert.Equal(t, "run-1", info.ID)
		assert.Equal(t, session.StatusRunning, info.Status)
		assert.True(t, info.Running)
	})

	t.Run("pause and resume", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/run-1/pause", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = doJSON(t, http.MethodPost, ts.URL+"/api/sessions/run-1/resume", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("list sessions", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestObserverRoutes(t *testing.T) {
	ctrl := newFakeController()
	ts := newTestServer(ctrl, nil, config.ServerConfig{})
	defer ts.Close()

	// Entries published before registration are discarded.
	ctrl.hub.Publish("run-1", session.Entry{Kind: session.KindStatus, Message: "early"})

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/run-1/observer", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	ctrl.hub.Publish("run-1", session.Entry{Kind: session.KindAction, Message: "clicked apply"})

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/sessions/run-1/activity", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []session.Entry
	decodeBody(t, resp, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "clicked apply", entries[0].Message)

	// Drained; second poll is an empty array, not null.
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/sessions/run-1/activity", "", nil)
	var empty []session.Entry
	decodeBody(t, resp, &empty)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/sessions/run-1/observer", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.False(t, ctrl.hub.Registered("run-1"))
}

func TestApplicationsRoute(t *testing.T) {
	t.Run("requires userId", func(t *testing.T) {
		ts := newTestServer(newFakeController(), &fakeLister{}, config.ServerConfig{})
		defer ts.Close()

		resp := doJSON(t, http.MethodGet, ts.URL+"/api/applications", "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("returns rows", func(t *testing.T) {
		lister := &fakeLister{apps: []store.Application{{
			ID: "app-1", UserID: "user-1", Platform: "indeed",
			Org: "Acme", Title: "Go Engineer", Status: store.StatusApplied,
		}}}
		ts := newTestServer(newFakeController(), lister, config.ServerConfig{})
		defer ts.Close()

		resp := doJSON(t, http.MethodGet, ts.URL+"/api/applications?userId=user-1&limit=10", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var apps []store.Application
		decodeBody(t, resp, &apps)
		require.Len(t, apps, 1)
		assert.Equal(t, "Acme", apps[0].Org)
	})

	t.Run("no database configured", func(t *testing.T) {
		ts := newTestServer(newFakeController(), nil, config.ServerConfig{})
		defer ts.Close()

		resp := doJSON(t, http.MethodGet, ts.URL+"/api/applications?userId=user-1", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestBearerAuth(t *testing.T) {
	const secret = "test-secret"
	ts := newTestServer(newFakeController(), nil, config.ServerConfig{AuthSecret: secret})
	defer ts.Close()

	t.Run("healthz is open", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/healthz", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("missing token", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("garbage token", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/", "",
			map[string]string{"Authorization": "Bearer not-a-jwt"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("wrong signing key", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "user-1",
		}).SignedString([]byte("other-secret"))
		require.NoError(t, err)

		resp := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/", "",
			map[string]string{"Authorization": "Bearer " + token})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		require.NoError(t, err)

		resp := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/", "",
			map[string]string{"Authorization": "Bearer " + token})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	})
}
