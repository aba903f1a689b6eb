package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ternarybob/fateline/internal/services/kline"
)

// BirthRequest is the birth data submitted by a client.
// All fields are validated using go-playground/validator tags.
type BirthRequest struct {
	RequestID string   `json:"requestId,omitempty" yaml:"requestId,omitempty"`
	Name      string   `json:"name,omitempty" yaml:"name,omitempty" validate:"max=64"`
	Year      int      `json:"year" yaml:"year" validate:"required,min=1900,max=2100"`
	Month     int      `json:"month" yaml:"month" validate:"required,min=1,max=12"`
	Day       int      `json:"day" yaml:"day" validate:"required,min=1,max=31"`
	Hour      int      `json:"hour" yaml:"hour" validate:"min=0,max=23"`
	Minute    int      `json:"minute" yaml:"minute" validate:"min=0,max=59"`
	Gender    string   `json:"gender" yaml:"gender" validate:"required,oneof=男 女 male female"`
	City      string   `json:"city,omitempty" yaml:"city,omitempty" validate:"max=64"`
	Longitude *float64 `json:"longitude,omitempty" yaml:"longitude,omitempty" validate:"omitempty,min=-180,max=180"`
}

var requestValidator = validator.New()

// Validate checks field ranges. Calendar validity (e.g. Feb 30) is left to the
// calendar calculation.
func (r *BirthRequest) Validate() error {
	if err := requestValidator.Struct(r); err != nil {
		return fmt.Errorf("invalid birth request: %w", err)
	}
	return nil
}

// IsMale reports whether the gender is male in either language
func (r *BirthRequest) IsMale() bool {
	g := strings.ToLower(strings.TrimSpace(r.Gender))
	return g == "男" || g == "male"
}

// GenderLabel is the label used in prompts
func (r *BirthRequest) GenderLabel() string {
	if r.IsMale() {
		return "男"
	}
	return "女"
}

// BaZiInfo is the natal chart: four pillars plus luck periods
type BaZiInfo struct {
	YearPillar  string      `json:"yearPillar"`
	MonthPillar string      `json:"monthPillar"`
	DayPillar   string      `json:"dayPillar"`
	HourPillar  string      `json:"hourPillar"`
	SolarTime   string      `json:"solarTime"` // true solar time, longitude adjusted
	LunarDate   string      `json:"lunarDate"`
	BirthYear   int         `json:"birthYear"`
	DaYunList   []DaYunInfo `json:"daYunList"`
}

// DaYunInfo is one ten-year luck period
type DaYunInfo struct {
	StartAge  int    `json:"startAge"`
	StartYear int    `json:"startYear"`
	GanZhi    string `json:"ganZhi"`
}

// ReportSection is one part of the narrative report
type ReportSection struct {
	Score   int    `json:"score"`   // 0-10
	Content string `json:"content"` // markdown
	Summary string `json:"summary"`
}

// AnalysisReport is the narrative report with its fixed sections
type AnalysisReport struct {
	Overall    *ReportSection `json:"overall"`
	Investment *ReportSection `json:"investment"`
	Career     *ReportSection `json:"career"`
	Wealth     *ReportSection `json:"wealth"`
	Love       *ReportSection `json:"love"`
	Health     *ReportSection `json:"health"`
	Family     *ReportSection `json:"family"`
}

// NamedSection pairs a section with its display title
type NamedSection struct {
	Key     string
	Title   string
	Section *ReportSection
}

// Sections lists the report sections in display order
func (r *AnalysisReport) Sections() []NamedSection {
	return []NamedSection{
		{"overall", "命理总评", r.Overall},
		{"investment", "投资运势", r.Investment},
		{"career", "事业分析", r.Career},
		{"wealth", "财富层级", r.Wealth},
		{"love", "情感婚姻", r.Love},
		{"health", "健康状况", r.Health},
		{"family", "六亲家庭", r.Family},
	}
}

// KLineRequest asks for a K-line for a birth request. YearlyItems, when given,
// are repaired instead of generating new scores.
type KLineRequest struct {
	Request     BirthRequest          `json:"request"`
	RequestID   string                `json:"requestId,omitempty"`
	YearlyItems []kline.CandidateItem `json:"yearlyItems,omitempty"`
	Mode        string                `json:"mode,omitempty"` // "rules" or repair (default)
}

// KLineModeRules selects the fact-driven rule walk
const KLineModeRules = "rules"

// StepResponse is returned by the step endpoints; absent parts are omitted
type StepResponse struct {
	RequestID      string                `json:"requestId"`
	BaZiInfo       *BaZiInfo             `json:"baziInfo,omitempty"`
	AnalysisReport *AnalysisReport       `json:"analysisReport,omitempty"`
	YearlyItems    []kline.CandidateItem `json:"yearlyItems,omitempty"`
	KLineData      []kline.Point         `json:"kLineData,omitempty"`
	Summary        *kline.Summary        `json:"summary,omitempty"`
}

// FateResponse is the complete one-shot analysis
type FateResponse struct {
	RequestID      string          `json:"requestId"`
	BaZiInfo       *BaZiInfo       `json:"baziInfo"`
	AnalysisReport *AnalysisReport `json:"analysisReport"`
	KLineData      []kline.Point   `json:"kLineData"`
	Summary        *kline.Summary  `json:"summary,omitempty"`
}

// FateSession is the per-request cache entry shared across the step endpoints
type FateSession struct {
	RequestID        string                `json:"request_id" badgerhold:"key"`
	BaZi             *BaZiInfo             `json:"bazi,omitempty"`
	Baseline         *int                  `json:"baseline,omitempty"`
	BaselineAnalysis string                `json:"baseline_analysis,omitempty"`
	Report           *AnalysisReport       `json:"report,omitempty"`
	YearlyItems      []kline.CandidateItem `json:"yearly_items,omitempty"`
	KLine            []kline.Point         `json:"kline,omitempty"`
	CreatedAt        time.Time             `json:"created_at" badgerhold:"index"`
}

// Expired reports whether the entry is older than ttl at now
func (s *FateSession) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(s.CreatedAt) > ttl
}

// ExportDocument is what the export service renders
type ExportDocument struct {
	RequestID string
	BaZi      *BaZiInfo
	Points    []kline.Point
	Report    *AnalysisReport
}
