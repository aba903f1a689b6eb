package fate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/fateline/internal/common"
	"github.com/ternarybob/fateline/internal/interfaces"
	"github.com/ternarybob/fateline/internal/models"
	"github.com/ternarybob/fateline/internal/services/kline"
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

// promptContaining matches a conversation whose user turn contains marker
func promptContaining(marker string) interface{} {
	return mock.MatchedBy(func(messages []interfaces.Message) bool {
		for _, msg := range messages {
			if msg.Role == "user" && strings.Contains(msg.Content, marker) {
				return true
			}
		}
		return false
	})
}

const (
	baselineMarker = "定命格基线"
	factsMarker    = "命理事实表"
	yearlyMarker   = "K 线数据"
	reportMarker   = "投资人生运势报告"
)

func newTestEngine() *kline.Engine {
	engine, err := kline.NewEngine(kline.DefaultRules())
	if err != nil {
		panic(err)
	}
	return engine
}

func newTestService(llm interfaces.LLMService, fallback bool) *Service {
	return NewService(
		llm,
		newTestEngine(),
		common.EngineConfig{RuleLength: 100, RepairLength: 80, Seed: 42, FixedSeed: true},
		common.FateConfig{FallbackEnabled: fallback, MaxFactsAge: 100},
		arbor.NewLogger(),
	)
}

func testBaZi() *models.BaZiInfo {
	return &models.BaZiInfo{
		YearPillar:  "庚午",
		MonthPillar: "辛巳",
		DayPillar:   "庚辰",
		HourPillar:  "壬午",
		BirthYear:   1990,
		DaYunList: []models.DaYunInfo{
			{StartAge: 8, StartYear: 1997, GanZhi: "壬午"},
			{StartAge: 18, StartYear: 2007, GanZhi: "癸未"},
		},
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"quoted", `"{\"a\":1}"`, `{\"a\":1}`},
		{"chatter", `Here you go: {"a":{"b":2}} hope it helps`, `{"a":{"b":2}}`},
		{"no object", "  nothing  ", "nothing"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractJSON(tt.raw))
		})
	}
}

func TestEnsureSections(t *testing.T) {
	report := ensureSections(nil, "")
	for _, s := range report.Sections() {
		require.NotNil(t, s.Section, s.Key)
		assert.Empty(t, s.Section.Content)
	}

	partial := &models.AnalysisReport{Overall: &models.ReportSection{Score: 8, Content: "好", Summary: ""}}
	report = ensureSections(partial, "不可用")
	assert.Equal(t, 8, report.Overall.Score)
	assert.Equal(t, "好", report.Overall.Content)
	assert.Equal(t, "不可用", report.Overall.Summary)
	assert.Equal(t, "不可用", report.Family.Content)
	assert.Equal(t, 0, report.Family.Score)
}

func TestGenerateBaseline(t *testing.T) {
	tests := []struct {
		name             string
		reply            string
		err              error
		expectedBaseline int
		expectedAnalysis string
	}{
		{"valid", `{"baseline": 62, "analysis": "身强用财"}`, nil, 62, "身强用财"},
		{"clamped high", `{"baseline": 95, "analysis": "x"}`, nil, 80, "x"},
		{"clamped low", `{"baseline": 3.4, "analysis": "x"}`, nil, 20, "x"},
		{"missing baseline", `{"analysis": "x"}`, nil, 50, "x"},
		{"empty analysis", "```json\n{\"baseline\": 55}\n```", nil, 55, baselineEmptyAnalysis},
		{"unparseable", "no json here", nil, 50, baselineFailedAnalysis},
		{"call failed", "", errors.New("quota"), 50, baselineFailedAnalysis},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := new(MockLLMService)
			llm.On("Chat", mock.Anything, promptContaining(baselineMarker)).Return(tt.reply, tt.err)

			result, err := newTestService(llm, true).GenerateBaseline(context.Background(), testBaZi(), "男", "rid")
			require.NoError(t, err)
			assert.Equal(t, tt.expectedBaseline, result.Baseline)
			assert.Equal(t, tt.expectedAnalysis, result.Analysis)
			llm.AssertExpectations(t)
		})
	}
}

func TestGenerateBaseline_FallbackDisabled(t *testing.T) {
	llm := new(MockLLMService)
	llm.On("Chat", mock.Anything, mock.Anything).Return("", errors.New("unauthorized"))

	_, err := newTestService(llm, false).GenerateBaseline(context.Background(), testBaZi(), "男", "rid")
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestGenerateFacts(t *testing.T) {
	llm := new(MockLLMService)
	llm.On("Chat", mock.Anything, promptContaining(factsMarker)).Return(`{"items": [
		{"age": 1, "dayun": "童限", "dayun_effect": "扶身", "liunian": "庚午", "relations": ["合"], "judgement": "偏吉", "comment": "启蒙顺利"},
		{"age": 2, "dayun_effect": "克身", "relations": ["冲"], "judgement": "偏凶"},
		{"age": 0, "dayun_effect": "中性"},
		{"age": 101, "dayun_effect": "中性"}
	]}`, nil)

	facts, err := newTestService(llm, true).GenerateFacts(context.Background(), testBaZi(), "男", "rid")
	require.NoError(t, err)
	require.Len(t, facts, 2)

	assert.Equal(t, 1, facts[0].Age)
	assert.Equal(t, kline.EffectSupportive, facts[0].LifePeriodEffect)
	assert.Equal(t, kline.JudgementFavorable, facts[0].Judgement)
	assert.Equal(t, "庚午", facts[0].CycleLabel)
	assert.Equal(t, "启蒙顺利", facts[0].Narrative)
	assert.Equal(t, kline.EffectAdverse, facts[1].LifePeriodEffect)
	assert.Equal(t, []string{"冲"}, facts[1].RelationTags)
}

func TestGenerateFacts_Fallback(t *testing.T) {
	llm := new(MockLLMService)
	llm.On("Chat", mock.Anything, mock.Anything).Return("", errors.New("timeout"))

	facts, err := newTestService(llm, true).GenerateFacts(context.Background(), testBaZi(), "男", "rid")
	require.NoError(t, err)
	assert.Empty(t, facts)

	_, err = newTestService(llm, false).GenerateFacts(context.Background(), testBaZi(), "男", "rid")
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestGenerateYearlyScores(t *testing.T) {
	llm := new(MockLLMService)
	llm.On("Chat", mock.Anything, promptContaining(yearlyMarker)).Return(`{"items": [
		{"age": 1, "open": 50, "close": 55.0, "content": "平稳"},
		{"age": 2, "open": 55, "close": 52, "score": 0},
		{"age": 3, "score": 7, "trend": "Bullish"}
	]}`, nil)

	items, err := newTestService(llm, true).GenerateYearlyScores(context.Background(), testBaZi(), "男", 50, "rid")
	require.NoError(t, err)
	require.Len(t, items, 3)

	require.NotNil(t, items[0].Score)
	assert.Equal(t, 55, *items[0].Score)
	assert.Equal(t, "平稳", items[0].Narrative)
	require.NotNil(t, items[1].Score)
	assert.Equal(t, 52, *items[1].Score)
	assert.Equal(t, 7, *items[2].Score)
	assert.Nil(t, items[2].Close)
	assert.Equal(t, "Bullish", items[2].Trend)
}

func TestGenerateReport(t *testing.T) {
	t.Run("partial report is completed", func(t *testing.T) {
		llm := new(MockLLMService)
		llm.On("Chat", mock.Anything, promptContaining(reportMarker)).
			Return(`{"overall": {"score": 7, "content": "**格局清**", "summary": "中上"}}`, nil)

		report, err := newTestService(llm, true).GenerateReport(context.Background(), testBaZi(), "女", "rid")
		require.NoError(t, err)
		assert.Equal(t, 7, report.Overall.Score)
		require.NotNil(t, report.Health)
		assert.Empty(t, report.Health.Content)
	})

	t.Run("parse failure uses notice", func(t *testing.T) {
		llm := new(MockLLMService)
		llm.On("Chat", mock.Anything, mock.Anything).Return("抱歉，无法生成", nil)

		report, err := newTestService(llm, true).GenerateReport(context.Background(), testBaZi(), "女", "rid")
		require.NoError(t, err)
		assert.Equal(t, reportParseFailedMessage, report.Career.Summary)
	})

	t.Run("call failure without fallback", func(t *testing.T) {
		llm := new(MockLLMService)
		llm.On("Chat", mock.Anything, mock.Anything).Return("", errors.New("503"))

		_, err := newTestService(llm, false).GenerateReport(context.Background(), testBaZi(), "女", "rid")
		assert.ErrorIs(t, err, ErrGenerationFailed)
	})
}

func TestBuildRuleKLine(t *testing.T) {
	svc := newTestService(new(MockLLMService), true)
	facts := []kline.YearlyFact{
		{Age: 10, LifePeriodEffect: kline.EffectSupportive, RelationTags: []string{"生"}},
		{Age: 11, LifePeriodEffect: kline.EffectAdverse, RelationTags: []string{"冲"}},
	}

	points, err := svc.BuildRuleKLine(facts, testBaZi(), 60, "rid")
	require.NoError(t, err)
	require.Len(t, points, 100)
	assert.Equal(t, 60, points[0].Open)
	assert.Equal(t, 1990, points[0].Year)
	assert.Equal(t, "庚午", points[0].CycleLabel)
	assert.Equal(t, "童限", points[0].PeriodLabel)
	assert.Equal(t, "壬午", points[7].PeriodLabel)
	assert.Equal(t, kline.TrendBullish, points[9].Trend)
	assert.Equal(t, kline.TrendBearish, points[10].Trend)
}

func TestBuildRepairedKLine_SeedFromRequestID(t *testing.T) {
	svc := NewService(
		new(MockLLMService),
		newTestEngine(),
		common.EngineConfig{RuleLength: 100, RepairLength: 80},
		common.FateConfig{FallbackEnabled: true},
		arbor.NewLogger(),
	)

	a, err := svc.BuildRepairedKLine(nil, testBaZi(), 50, "request-a")
	require.NoError(t, err)
	again, err := svc.BuildRepairedKLine(nil, testBaZi(), 50, "request-a")
	require.NoError(t, err)
	require.Len(t, a, 80)
	assert.Equal(t, a, again)
}

func TestAnalyze(t *testing.T) {
	llm := new(MockLLMService)
	llm.On("Chat", mock.Anything, promptContaining(baselineMarker)).
		Return(`{"baseline": 90, "analysis": "身旺"}`, nil)
	llm.On("Chat", mock.Anything, promptContaining(reportMarker)).
		Return(`{"overall": {"score": 8, "content": "好", "summary": "好"}}`, nil)
	llm.On("Chat", mock.Anything, promptContaining(yearlyMarker)).
		Return("```json\n{\"items\":[{\"age\":1,\"open\":80,\"close\":85}]}\n```", nil)

	resp, err := newTestService(llm, true).Analyze(context.Background(), &models.BirthRequest{
		RequestID: "analyze-1",
		Year:      1990, Month: 5, Day: 15, Hour: 12,
		Gender: "男",
	})
	require.NoError(t, err)

	assert.Equal(t, "analyze-1", resp.RequestID)
	assert.Equal(t, "庚午", resp.BaZiInfo.YearPillar)
	assert.Equal(t, 8, resp.AnalysisReport.Overall.Score)
	require.Len(t, resp.KLineData, 80)
	assert.Equal(t, 80, resp.KLineData[0].Open)
	assert.Equal(t, kline.TrendBullish, resp.KLineData[0].Trend)
	require.NotNil(t, resp.Summary)
	assert.Equal(t, 80, resp.Summary.Points)
	require.NoError(t, kline.CheckInvariants(resp.KLineData, kline.DefaultRules(), 80))
	llm.AssertExpectations(t)
}

func TestAnalyze_InvalidRequest(t *testing.T) {
	_, err := newTestService(new(MockLLMService), true).Analyze(context.Background(), &models.BirthRequest{Year: 1990})
	assert.Error(t, err)
}
