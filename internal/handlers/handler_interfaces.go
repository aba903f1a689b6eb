package handlers

import (
	"context"

	"github.com/ternarybob/fateline/internal/models"
	"github.com/ternarybob/fateline/internal/services/fate"
	"github.com/ternarybob/fateline/internal/services/kline"
)

// FateGenerator is the part of the fate service the HTTP layer drives
type FateGenerator interface {
	CalculateBaZi(req *models.BirthRequest) (*models.BaZiInfo, error)
	GenerateBaseline(ctx context.Context, bazi *models.BaZiInfo, gender, requestID string) (*fate.BaselineResult, error)
	GenerateFacts(ctx context.Context, bazi *models.BaZiInfo, gender, requestID string) ([]kline.YearlyFact, error)
	GenerateYearlyScores(ctx context.Context, bazi *models.BaZiInfo, gender string, baseline int, requestID string) ([]kline.CandidateItem, error)
	GenerateReport(ctx context.Context, bazi *models.BaZiInfo, gender, requestID string) (*models.AnalysisReport, error)
	BuildRuleKLine(facts []kline.YearlyFact, bazi *models.BaZiInfo, baseline int, requestID string) ([]kline.Point, error)
	BuildRepairedKLine(items []kline.CandidateItem, bazi *models.BaZiInfo, baseline int, requestID string) ([]kline.Point, error)
	Analyze(ctx context.Context, req *models.BirthRequest) (*models.FateResponse, error)
}

// SessionCache holds step results between requests
type SessionCache interface {
	Get(ctx context.Context, requestID string) (*models.FateSession, error)
	UpsertBaseline(ctx context.Context, requestID string, bazi *models.BaZiInfo, baseline int, analysis string) error
	UpsertKLine(ctx context.Context, requestID string, bazi *models.BaZiInfo, items []kline.CandidateItem, points []kline.Point) error
	UpsertReport(ctx context.Context, requestID string, bazi *models.BaZiInfo, report *models.AnalysisReport) error
}
