package fate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/fateline/internal/common"
	"github.com/ternarybob/fateline/internal/interfaces"
	"github.com/ternarybob/fateline/internal/models"
	"github.com/ternarybob/fateline/internal/services/calendar"
	"github.com/ternarybob/fateline/internal/services/kline"
)

// ErrGenerationFailed is returned when a model call fails and fallbacks are disabled
var ErrGenerationFailed = errors.New("generation failed")

const (
	// DefaultBaseline is used when the model gives no usable baseline
	DefaultBaseline = 50
	// MinBaseline and MaxBaseline bound any baseline the model returns
	MinBaseline = 20
	MaxBaseline = 80

	rawLogLimit = 200

	baselineEmptyAnalysis  = "baseline 已生成（内容为空，可能是模型输出缺失）。"
	baselineFailedAnalysis = "baseline 生成失败，已使用默认值 50。"
)

// BaselineResult is the long-run mean estimated for a chart
type BaselineResult struct {
	Baseline int    `json:"baseline"`
	Analysis string `json:"analysis"`
}

// Service turns birth data into charts, narrative and K-lines using an LLM
// for the qualitative parts and the kline engine for the numbers.
type Service struct {
	llm          interfaces.LLMService
	engine       *kline.Engine
	engineConfig common.EngineConfig
	fateConfig   common.FateConfig
	logger       arbor.ILogger
}

// NewService creates a new fate service
func NewService(
	llm interfaces.LLMService,
	engine *kline.Engine,
	engineConfig common.EngineConfig,
	fateConfig common.FateConfig,
	logger arbor.ILogger,
) *Service {
	return &Service{
		llm:          llm,
		engine:       engine,
		engineConfig: engineConfig,
		fateConfig:   fateConfig,
		logger:       logger,
	}
}

// Engine exposes the K-line engine the service builds with
func (s *Service) Engine() *kline.Engine {
	return s.engine
}

// CalculateBaZi computes the natal chart; no model call is involved
func (s *Service) CalculateBaZi(req *models.BirthRequest) (*models.BaZiInfo, error) {
	return calendar.Calculate(req)
}

// chat runs a single-turn conversation and logs the abbreviated reply
func (s *Service) chat(ctx context.Context, step, requestID, prompt string) (string, error) {
	raw, err := s.llm.Chat(ctx, []interfaces.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", err
	}

	s.logger.Info().
		Str("request_id", requestID).
		Str("step", step).
		Str("raw", common.Abbreviate(raw, rawLogLimit)).
		Msg("Model output received")
	return raw, nil
}

// fail returns err wrapped in ErrGenerationFailed when fallbacks are disabled,
// nil otherwise
func (s *Service) fail(step, requestID string, err error) error {
	s.logger.Error().
		Str("request_id", requestID).
		Str("step", step).
		Bool("fallback_enabled", s.fateConfig.FallbackEnabled).
		Err(err).
		Msg("Generation step failed")

	if s.fateConfig.FallbackEnabled {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrGenerationFailed, step, err)
}

// GenerateBaseline estimates the chart's long-run mean, clamped to [20, 80]
func (s *Service) GenerateBaseline(ctx context.Context, bazi *models.BaZiInfo, gender, requestID string) (*BaselineResult, error) {
	var parsed struct {
		Baseline *float64 `json:"baseline"`
		Analysis string   `json:"analysis"`
	}

	raw, err := s.chat(ctx, "baseline", requestID, baselinePrompt(bazi, gender))
	if err == nil {
		err = decodeModelJSON(raw, &parsed)
	}
	if err != nil {
		if failErr := s.fail("baseline", requestID, err); failErr != nil {
			return nil, failErr
		}
		return &BaselineResult{Baseline: DefaultBaseline, Analysis: baselineFailedAnalysis}, nil
	}

	baseline := DefaultBaseline
	if b := roundPtr(parsed.Baseline); b != nil {
		baseline = *b
	}

	result := &BaselineResult{
		Baseline: ClampBaseline(baseline),
		Analysis: strings.TrimSpace(parsed.Analysis),
	}
	if result.Analysis == "" {
		result.Analysis = baselineEmptyAnalysis
	}
	return result, nil
}

// ClampBaseline bounds a baseline to [MinBaseline, MaxBaseline]
func ClampBaseline(b int) int {
	return min(max(b, MinBaseline), MaxBaseline)
}

// factItem is one record of the facts prompt's output
type factItem struct {
	Age         float64  `json:"age"`
	DaYun       string   `json:"dayun"`
	DaYunEffect string   `json:"dayun_effect"`
	LiuNian     string   `json:"liunian"`
	Relations   []string `json:"relations"`
	Judgement   string   `json:"judgement"`
	Comment     string   `json:"comment"`
}

// GenerateFacts asks for the qualitative per-year fact table. Records outside
// 1..max_facts_age are dropped.
func (s *Service) GenerateFacts(ctx context.Context, bazi *models.BaZiInfo, gender, requestID string) ([]kline.YearlyFact, error) {
	maxAge := s.fateConfig.MaxFactsAge
	if maxAge <= 0 {
		maxAge = s.engineConfig.RuleLength
	}

	var parsed struct {
		Items []factItem `json:"items"`
	}

	raw, err := s.chat(ctx, "facts", requestID, factsPrompt(bazi, gender, maxAge))
	if err == nil {
		err = decodeModelJSON(raw, &parsed)
	}
	if err != nil {
		if failErr := s.fail("facts", requestID, err); failErr != nil {
			return nil, failErr
		}
		return nil, nil
	}

	facts := make([]kline.YearlyFact, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		age := int(it.Age)
		if age < 1 || age > maxAge {
			continue
		}
		facts = append(facts, kline.YearlyFact{
			Age:              age,
			PeriodLabel:      strings.TrimSpace(it.DaYun),
			LifePeriodEffect: kline.ParseEffect(it.DaYunEffect),
			CycleLabel:       strings.TrimSpace(it.LiuNian),
			RelationTags:     it.Relations,
			Judgement:        kline.ParseJudgement(it.Judgement),
			Narrative:        strings.TrimSpace(it.Comment),
		})
	}

	s.logger.Debug().
		Str("request_id", requestID).
		Int("facts", len(facts)).
		Msg("Yearly facts parsed")
	return facts, nil
}

// yearlyItem is one record of the yearly-score prompt's output. Numbers are
// decoded as floats since models often emit 55.0.
type yearlyItem struct {
	Age     float64  `json:"age"`
	Score   *float64 `json:"score"`
	Open    *float64 `json:"open"`
	Close   *float64 `json:"close"`
	Trend   string   `json:"trend"`
	Content string   `json:"content"`
	GanZhi  string   `json:"ganZhi"`
	DaYun   string   `json:"daYun"`
}

// GenerateYearlyScores asks for a one-shot per-year score series. An item
// without a positive score takes its close as the declared score.
func (s *Service) GenerateYearlyScores(ctx context.Context, bazi *models.BaZiInfo, gender string, baseline int, requestID string) ([]kline.CandidateItem, error) {
	var parsed struct {
		Items []yearlyItem `json:"items"`
	}

	prompt := yearlyScoresPrompt(bazi, gender, ClampBaseline(baseline), s.engineConfig.RepairLength)
	raw, err := s.chat(ctx, "yearly", requestID, prompt)
	if err == nil {
		err = decodeModelJSON(raw, &parsed)
	}
	if err != nil {
		if failErr := s.fail("yearly", requestID, err); failErr != nil {
			return nil, failErr
		}
		return nil, nil
	}

	items := make([]kline.CandidateItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		item := kline.CandidateItem{
			Age:         int(it.Age),
			Score:       roundPtr(it.Score),
			Open:        roundPtr(it.Open),
			Close:       roundPtr(it.Close),
			Trend:       it.Trend,
			Narrative:   strings.TrimSpace(it.Content),
			CycleLabel:  strings.TrimSpace(it.GanZhi),
			PeriodLabel: strings.TrimSpace(it.DaYun),
		}
		if (item.Score == nil || *item.Score <= 0) && item.Close != nil {
			closing := *item.Close
			item.Score = &closing
		}
		items = append(items, item)
	}
	return items, nil
}

// GenerateReport asks for the narrative report. The result always carries all
// seven sections; on failure with fallbacks enabled they hold a notice instead.
func (s *Service) GenerateReport(ctx context.Context, bazi *models.BaZiInfo, gender, requestID string) (*models.AnalysisReport, error) {
	raw, err := s.chat(ctx, "report", requestID, reportPrompt(bazi, gender))
	if err != nil {
		if failErr := s.fail("report", requestID, err); failErr != nil {
			return nil, failErr
		}
		return ensureSections(nil, reportCallFailedMessage), nil
	}

	var report models.AnalysisReport
	if err := decodeModelJSON(raw, &report); err != nil {
		if failErr := s.fail("report", requestID, err); failErr != nil {
			return nil, failErr
		}
		return ensureSections(nil, reportParseFailedMessage), nil
	}
	return ensureSections(&report, ""), nil
}

// walkOptions assembles engine options for a request
func (s *Service) walkOptions(length int, bazi *models.BaZiInfo, baseline int, requestID string) kline.Options {
	seed := kline.SeedFromRequestID(requestID)
	if s.engineConfig.FixedSeed {
		seed = s.engineConfig.Seed
	}

	opts := kline.Options{
		Length:   length,
		Baseline: baseline,
		Noise:    kline.NewSeededNoise(seed),
	}
	if bazi != nil {
		opts.Labels = calendar.NewLabeler(bazi)
	}
	return opts
}

// BuildRuleKLine walks the fact table through the quantization rules
func (s *Service) BuildRuleKLine(facts []kline.YearlyFact, bazi *models.BaZiInfo, baseline int, requestID string) ([]kline.Point, error) {
	opts := s.walkOptions(s.engineConfig.RuleLength, bazi, baseline, requestID)
	points, err := s.engine.Build(facts, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule K-line: %w", err)
	}
	if err := kline.CheckInvariants(points, s.engine.Rules(), baseline); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("request_id", requestID).
		Int("facts", len(facts)).
		Int("points", len(points)).
		Msg("Rule K-line built")
	return points, nil
}

// BuildRepairedKLine turns untrusted per-year candidates into a valid series
func (s *Service) BuildRepairedKLine(items []kline.CandidateItem, bazi *models.BaZiInfo, baseline int, requestID string) ([]kline.Point, error) {
	opts := s.walkOptions(s.engineConfig.RepairLength, bazi, baseline, requestID)
	points, err := s.engine.Normalize(items, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to repair K-line: %w", err)
	}
	if err := kline.CheckInvariants(points, s.engine.Rules(), baseline); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("request_id", requestID).
		Int("candidates", len(items)).
		Int("points", len(points)).
		Msg("Repaired K-line built")
	return points, nil
}

// Analyze runs the whole flow for one request: chart, then baseline and report
// concurrently, then yearly scores repaired into a K-line.
func (s *Service) Analyze(ctx context.Context, req *models.BirthRequest) (*models.FateResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	requestID := common.EnsureRequestID(req.RequestID)
	gender := req.GenderLabel()

	bazi, err := s.CalculateBaZi(req)
	if err != nil {
		return nil, err
	}

	var (
		baseline *BaselineResult
		report   *models.AnalysisReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		baseline, err = s.GenerateBaseline(gctx, bazi, gender, requestID)
		return err
	})
	g.Go(func() error {
		var err error
		report, err = s.GenerateReport(gctx, bazi, gender, requestID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items, err := s.GenerateYearlyScores(ctx, bazi, gender, baseline.Baseline, requestID)
	if err != nil {
		return nil, err
	}

	points, err := s.BuildRepairedKLine(items, bazi, baseline.Baseline, requestID)
	if err != nil {
		return nil, err
	}

	summary, err := kline.Summarize(points)
	if err != nil {
		return nil, err
	}

	return &models.FateResponse{
		RequestID:      requestID,
		BaZiInfo:       bazi,
		AnalysisReport: report,
		KLineData:      points,
		Summary:        &summary,
	}, nil
}
