package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/fateline/internal/common"
	"github.com/ternarybob/fateline/internal/interfaces"
	"github.com/ternarybob/fateline/internal/models"
	"github.com/ternarybob/fateline/internal/services/export"
	"github.com/ternarybob/fateline/internal/services/fate"
	"github.com/ternarybob/fateline/internal/services/kline"
	"github.com/ternarybob/fateline/internal/services/session"
	"github.com/ternarybob/fateline/internal/storage/badger"
)

// MockLLMService is a mock implementation of LLMService
type MockLLMService struct {
	mock.Mock
}

func (m *MockLLMService) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	args := m.Called(ctx, messages)
	return args.String(0), args.Error(1)
}

func (m *MockLLMService) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockLLMService) Close() error {
	return nil
}

type testEnv struct {
	fate     *FateHandler
	system   *SystemHandler
	sessions *session.Service
	llm      *MockLLMService
}

// newTestEnv wires real services around an LLM that is always offline
func newTestEnv(t *testing.T, fallback bool) *testEnv {
	t.Helper()
	logger := arbor.NewLogger()

	manager, err := badger.NewManager(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "sessions"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	sessions, err := session.NewService(manager.SessionStorage(), common.SessionConfig{TTL: "30m"}, logger)
	require.NoError(t, err)

	engine, err := kline.NewEngine(kline.DefaultRules())
	require.NoError(t, err)

	llm := new(MockLLMService)
	llm.On("Chat", mock.Anything, mock.Anything).Return("", errors.New("offline"))
	llm.On("HealthCheck", mock.Anything).Return(nil)

	fateService := fate.NewService(
		llm,
		engine,
		common.EngineConfig{RuleLength: 100, RepairLength: 80, Seed: 42, FixedSeed: true},
		common.FateConfig{FallbackEnabled: fallback, MaxFactsAge: 100},
		logger,
	)

	return &testEnv{
		fate:     NewFateHandler(fateService, sessions, export.NewService(common.ExportConfig{}, logger), logger),
		system:   NewSystemHandler(llm, manager.SessionStorage(), logger),
		sessions: sessions,
		llm:      llm,
	}
}

func birth(requestID string) models.BirthRequest {
	return models.BirthRequest{
		RequestID: requestID,
		Year:      1990,
		Month:     6,
		Day:       15,
		Hour:      12,
		Gender:    "male",
	}
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeStep(t *testing.T, w *httptest.ResponseRecorder) models.StepResponse {
	t.Helper()
	var resp models.StepResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestBaZiHandler_CachesBaseline(t *testing.T) {
	env := newTestEnv(t, true)

	w := doJSON(t, env.fate.BaZiHandler, http.MethodPost, "/api/fate/bazi", birth("req-1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeStep(t, w)
	assert.Equal(t, "req-1", resp.RequestID)
	require.NotNil(t, resp.BaZiInfo)
	assert.Equal(t, "庚午", resp.BaZiInfo.YearPillar)

	cached, err := env.sessions.Get(context.Background(), "req-1")
	require.NoError(t, err)
	require.NotNil(t, cached.Baseline)
	assert.Equal(t, fate.DefaultBaseline, *cached.Baseline)
}

func TestBaZiHandler_BadRequests(t *testing.T) {
	env := newTestEnv(t, true)

	tests := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"malformed json", http.MethodPost, "{", http.StatusBadRequest},
		{"month out of range", http.MethodPost, `{"year":1990,"month":13,"day":1,"gender":"male"}`, http.StatusBadRequest},
		{"missing gender", http.MethodPost, `{"year":1990,"month":6,"day":1}`, http.StatusBadRequest},
		{"nonexistent date", http.MethodPost, `{"year":1990,"month":2,"day":30,"gender":"male"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/fate/bazi", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			env.fate.BaZiHandler(w, req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestKLineHandler_Modes(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		length int
	}{
		{"repair", "", 80},
		{"rules", "rules", 100},
		{"rules upper case", "RULES", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, true)

			w := doJSON(t, env.fate.KLineHandler, http.MethodPost, "/api/fate/kline", models.KLineRequest{
				Request:   birth(""),
				RequestID: "kline-1",
				Mode:      tt.mode,
			})
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			resp := decodeStep(t, w)
			assert.Equal(t, "kline-1", resp.RequestID)
			require.Len(t, resp.KLineData, tt.length)
			require.NotNil(t, resp.Summary)
			assert.Equal(t, fate.DefaultBaseline, resp.KLineData[0].Open)

			cached, err := env.sessions.Get(context.Background(), "kline-1")
			require.NoError(t, err)
			assert.Len(t, cached.KLine, tt.length)
			require.NotNil(t, cached.Baseline)
		})
	}
}

func TestKLineHandler_RepairsSuppliedItems(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	bazi := &models.BaZiInfo{YearPillar: "庚午", BirthYear: 1990}
	require.NoError(t, env.sessions.UpsertBaseline(ctx, "kline-2", bazi, 60, "cached"))

	score := 90
	w := doJSON(t, env.fate.KLineHandler, http.MethodPost, "/api/fate/kline", models.KLineRequest{
		Request:     birth("kline-2"),
		YearlyItems: []kline.CandidateItem{{Age: 1, Score: &score}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeStep(t, w)
	require.Len(t, resp.KLineData, 80)
	assert.Equal(t, 60, resp.KLineData[0].Open)
	assert.Equal(t, kline.TrendBullish, resp.KLineData[0].Trend)

	// cached baseline was used, so the model was never asked
	env.llm.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)

	cached, err := env.sessions.Get(ctx, "kline-2")
	require.NoError(t, err)
	assert.Equal(t, "庚午", cached.BaZi.YearPillar)
	assert.Len(t, cached.YearlyItems, 1)
}

func TestYearlyHandler(t *testing.T) {
	env := newTestEnv(t, true)

	w := doJSON(t, env.fate.YearlyHandler, http.MethodPost, "/api/fate/yearly", map[string]string{"requestId": "missing"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"requestId":"missing"`)

	w = doJSON(t, env.fate.YearlyHandler, http.MethodPost, "/api/fate/yearly", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, env.fate.KLineHandler, http.MethodPost, "/api/fate/kline", models.KLineRequest{Request: birth("yearly-1")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, env.fate.YearlyHandler, http.MethodPost, "/api/fate/yearly", map[string]string{"requestId": "yearly-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeStep(t, w)
	assert.Len(t, resp.KLineData, 80)
	require.NotNil(t, resp.Summary)
}

func TestExportHandler(t *testing.T) {
	env := newTestEnv(t, true)

	w := doJSON(t, env.fate.KLineHandler, http.MethodPost, "/api/fate/kline", models.KLineRequest{Request: birth("export-1")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	tests := []struct {
		name        string
		query       string
		status      int
		contentType string
	}{
		{"pdf default", "requestId=export-1", http.StatusOK, "application/pdf"},
		{"html", "requestId=export-1&format=html", http.StatusOK, "text/html; charset=utf-8"},
		{"unknown format", "requestId=export-1&format=docx", http.StatusBadRequest, "application/json"},
		{"missing id", "format=pdf", http.StatusBadRequest, "application/json"},
		{"cache miss", "requestId=nope", http.StatusConflict, "application/json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/fate/export?"+tt.query, nil)
			w := httptest.NewRecorder()
			env.fate.ExportHandler(w, req)

			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.contentType, w.Header().Get("Content-Type"))
			if tt.status == http.StatusOK {
				assert.Contains(t, w.Header().Get("Content-Disposition"), "fateline-export-1")
				assert.NotEmpty(t, w.Body.Bytes())
			}
		})
	}
}

func TestAnalyzeHandler(t *testing.T) {
	env := newTestEnv(t, true)

	w := doJSON(t, env.fate.AnalyzeHandler, http.MethodPost, "/api/fate/analyze", birth("analyze-1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.FateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "analyze-1", resp.RequestID)
	assert.Len(t, resp.KLineData, 80)
	require.NotNil(t, resp.AnalysisReport)
	require.NotNil(t, resp.AnalysisReport.Overall)

	cached, err := env.sessions.Get(context.Background(), "analyze-1")
	require.NoError(t, err)
	assert.Len(t, cached.KLine, 80)
	assert.NotNil(t, cached.Report)
}

func TestHandlers_GenerationFailure(t *testing.T) {
	env := newTestEnv(t, false)

	w := doJSON(t, env.fate.AnalyzeHandler, http.MethodPost, "/api/fate/analyze", birth("fail-1"))
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = doJSON(t, env.fate.BaZiHandler, http.MethodPost, "/api/fate/bazi", birth("fail-2"))
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = doJSON(t, env.fate.ReportHandler, http.MethodPost, "/api/fate/report", birth("fail-3"))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestReportHandler_Fallback(t *testing.T) {
	env := newTestEnv(t, true)

	w := doJSON(t, env.fate.ReportHandler, http.MethodPost, "/api/fate/report", birth("report-1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeStep(t, w)
	require.NotNil(t, resp.AnalysisReport)
	for _, s := range resp.AnalysisReport.Sections() {
		require.NotNil(t, s.Section, s.Key)
		assert.NotEmpty(t, s.Section.Content, s.Key)
	}
}

func TestSystemHandlers(t *testing.T) {
	env := newTestEnv(t, true)

	w := doJSON(t, env.fate.BaZiHandler, http.MethodPost, "/api/fate/bazi", birth("sys-1"))
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, env.system.HealthHandler, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "ok", health["llm"])
	assert.EqualValues(t, 1, health["sessions"])

	w = doJSON(t, env.system.VersionHandler, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version"`)

	w = doJSON(t, env.system.VersionHandler, http.MethodPost, "/api/version", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
