package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcmi/proxy-server/internal/config"
	"github.com/vcmi/proxy-server/internal/events"
	"github.com/vcmi/proxy-server/internal/lobby"
)

func newTestServer(token string) *Server {
	cfg := config.DefaultConfig()
	app := cfg.GetApplicationData()
	app.API.Token = token
	cfg.SetApplicationData(app)

	lb := lobby.NewLobby(cfg, events.NewEventBus(), lobby.NewStats())
	s := NewServer(cfg, lb, "test")
	s.router = s.buildRouter()
	return s
}

func doRequest(s *Server, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	s := newTestServer("")

	w := doRequest(s, "/api/public/ping", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestInfo(t *testing.T) {
	s := newTestServer("")

	w := doRequest(s, "/api/public/info", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, float64(0), body["users"])
	assert.Contains(t, body, "lobby_addr")
	assert.Contains(t, body, "protocol_min")
}

func TestMonitorEndpointsRequireToken(t *testing.T) {
	s := newTestServer("secret")

	for _, path := range []string{
		"/api/monitor/users",
		"/api/monitor/rooms",
		"/api/monitor/sessions",
		"/api/monitor/stats",
	} {
		w := doRequest(s, path, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)

		w = doRequest(s, path, "wrong")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)

		w = doRequest(s, path, "secret")
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestEmptyTokenDisablesAuth(t *testing.T) {
	s := newTestServer("")

	w := doRequest(s, "/api/monitor/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatsPayload(t *testing.T) {
	s := newTestServer("")
	s.lobby.Stats().Inc("sessions")

	w := doRequest(s, "/api/monitor/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Stats map[string]int `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Stats["sessions"])
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer("")

	w := doRequest(s, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
