// Package kline builds per-age fortune score candlestick series.
//
// Two entry points share one walk: Engine.Build drives the series from qualitative
// per-age facts through the quantization rule table, and Engine.Normalize repairs an
// untrusted candidate sequence. Both guarantee the same invariants (continuity, bounds,
// trend consistency, per-age volatility cap). All functions are pure and perform no I/O.
package kline

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidLength is returned when the requested series length is not positive
	ErrInvalidLength = errors.New("series length must be positive")
	// ErrInvalidBaseline is returned when the baseline is outside [0, 100]
	ErrInvalidBaseline = errors.New("baseline must be within [0, 100]")
	// ErrInvalidRules is returned when a quantization rule set fails validation
	ErrInvalidRules = errors.New("invalid quantization rules")
)

// LifePeriodEffect is the influence of the current long-duration life period
type LifePeriodEffect string

const (
	EffectSupportive LifePeriodEffect = "supportive"
	EffectAdverse    LifePeriodEffect = "adverse"
	EffectNeutral    LifePeriodEffect = "neutral"
)

// ParseEffect accepts the English names and the collaborator's labels (扶身/克身/中性).
// Anything unrecognised is Neutral.
func ParseEffect(s string) LifePeriodEffect {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case v == string(EffectSupportive) || strings.Contains(v, "扶身"):
		return EffectSupportive
	case v == string(EffectAdverse) || strings.Contains(v, "克身"):
		return EffectAdverse
	default:
		return EffectNeutral
	}
}

// Judgement is the collaborator's overall verdict for a year
type Judgement string

const (
	JudgementFavorable   Judgement = "favorable"
	JudgementUnfavorable Judgement = "unfavorable"
	JudgementBalanced    Judgement = "balanced"
)

// ParseJudgement accepts the English names and 偏吉/偏凶/中平. Anything else is Balanced.
func ParseJudgement(s string) Judgement {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case v == string(JudgementFavorable) || strings.Contains(v, "偏吉"):
		return JudgementFavorable
	case v == string(JudgementUnfavorable) || strings.Contains(v, "偏凶"):
		return JudgementUnfavorable
	default:
		return JudgementBalanced
	}
}

// RelationClass is the normalized interaction between a year and the natal chart
type RelationClass string

const (
	RelationMutualClash      RelationClass = "mutual-clash"
	RelationMutualHarm       RelationClass = "mutual-harm"
	RelationMutualGeneration RelationClass = "mutual-generation"
	RelationClash            RelationClass = "clash"
	RelationHarm             RelationClass = "harm"
	RelationDomination       RelationClass = "domination"
	RelationHalfCombine      RelationClass = "half-combine"
	RelationCombine          RelationClass = "combine"
	RelationGeneration       RelationClass = "generation"
	RelationNone             RelationClass = "none"
)

// Echo marks the self-reinforcing (伏吟) and self-reversing (反吟) configurations
type Echo int

const (
	EchoNone Echo = iota
	EchoSelfReinforcement
	EchoSelfReversal
)

func (e Echo) String() string {
	switch e {
	case EchoSelfReinforcement:
		return "self-reinforcement"
	case EchoSelfReversal:
		return "self-reversal"
	default:
		return "none"
	}
}

// Direction is the movement a rule or hint asks for
type Direction int

const (
	DirectionOscillate Direction = iota
	DirectionUp
	DirectionDown
)

// ParseDirection accepts up/down/oscillate
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up":
		return DirectionUp, true
	case "down":
		return DirectionDown, true
	case "oscillate":
		return DirectionOscillate, true
	default:
		return DirectionOscillate, false
	}
}

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	default:
		return "oscillate"
	}
}

func (d Direction) sign() int {
	switch d {
	case DirectionUp:
		return 1
	case DirectionDown:
		return -1
	default:
		return 0
	}
}

func (d Direction) opposite() Direction {
	switch d {
	case DirectionUp:
		return DirectionDown
	case DirectionDown:
		return DirectionUp
	default:
		return d
	}
}

// Trend is the candle colour
type Trend string

const (
	TrendBullish Trend = "Bullish"
	TrendBearish Trend = "Bearish"
)

// YearlyFact is one qualitative record from the fact collaborator
type YearlyFact struct {
	Age              int              `json:"age" yaml:"age"`
	PeriodLabel      string           `json:"periodLabel,omitempty" yaml:"periodLabel,omitempty"`
	LifePeriodEffect LifePeriodEffect `json:"effect" yaml:"effect"`
	CycleLabel       string           `json:"cycleLabel,omitempty" yaml:"cycleLabel,omitempty"`
	RelationTags     []string         `json:"relations,omitempty" yaml:"relations,omitempty"`
	Judgement        Judgement        `json:"judgement,omitempty" yaml:"judgement,omitempty"`
	Narrative        string           `json:"narrative,omitempty" yaml:"narrative,omitempty"`
}

// CandidateItem is an untrusted per-age entry for the normalizer. Any field may be
// absent or contradict the others. JSON names follow the score collaborator's output.
type CandidateItem struct {
	Age         int    `json:"age" yaml:"age"`
	Score       *int   `json:"score,omitempty" yaml:"score,omitempty"`
	Open        *int   `json:"open,omitempty" yaml:"open,omitempty"`
	Close       *int   `json:"close,omitempty" yaml:"close,omitempty"`
	Trend       string `json:"trend,omitempty" yaml:"trend,omitempty"`
	Narrative   string `json:"content,omitempty" yaml:"content,omitempty"`
	CycleLabel  string `json:"ganZhi,omitempty" yaml:"ganZhi,omitempty"`
	PeriodLabel string `json:"daYun,omitempty" yaml:"daYun,omitempty"`
}

// Point is one produced candle
type Point struct {
	Age         int    `json:"age" yaml:"age"`
	Year        int    `json:"year" yaml:"year"`
	CycleLabel  string `json:"ganZhi" yaml:"ganZhi"`
	PeriodLabel string `json:"daYun" yaml:"daYun"`
	Score       int    `json:"score" yaml:"score"`
	Open        int    `json:"open" yaml:"open"`
	Close       int    `json:"close" yaml:"close"`
	High        int    `json:"high" yaml:"high"`
	Low         int    `json:"low" yaml:"low"`
	Trend       Trend  `json:"trend" yaml:"trend"`
	Narrative   string `json:"description" yaml:"description"`
}

// Labeler supplies calendar metadata for an age when the input carries none
type Labeler interface {
	Label(age int) (year int, cycleLabel, periodLabel string)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat64(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
