package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/fateline/internal/app"
	"github.com/ternarybob/fateline/internal/common"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("FATELINE_GEMINI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = filepath.Join(t.TempDir(), "db")
	cfg.Session.SweepSchedule = ""

	application, err := app.New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })

	return New(application)
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"version", http.MethodGet, "/api/version", "", http.StatusOK},
		{"version wrong method", http.MethodPost, "/api/version", "", http.StatusMethodNotAllowed},
		{"health", http.MethodGet, "/api/health", "", http.StatusOK},
		{"analyze wrong method", http.MethodGet, "/api/fate/analyze", "", http.StatusMethodNotAllowed},
		{"kline bad body", http.MethodPost, "/api/fate/kline", "{", http.StatusBadRequest},
		{"yearly cache miss", http.MethodPost, "/api/fate/yearly", `{"requestId":"none"}`, http.StatusConflict},
		{"export cache miss", http.MethodGet, "/api/fate/export?requestId=none", "", http.StatusConflict},
		{"unknown path", http.MethodGet, "/api/nope", "", http.StatusNotFound},
		{"preflight", http.MethodOptions, "/api/fate/analyze", "", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestHealth_ReportsMissingKey(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.True(t, strings.HasPrefix(body["llm"].(string), "unavailable"))
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := newTestServer(t)

	h := srv.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal server error")
}
