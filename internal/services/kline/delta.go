package kline

import (
	"math"
	"strings"
)

// StepInput is everything the calculator needs for one age. Direction must
// already be resolved to Up or Down.
type StepInput struct {
	Age       int
	Open      int
	Baseline  int
	Direction Direction
	Magnitude float64 // raw step before noise
	Echoes    []Echo
	Streak    int // same-direction run length including this step
}

// Calculator applies the quantization rules to produce bounded step sizes
type Calculator struct {
	rules *QuantRules
}

// NewCalculator binds a calculator to a rule table
func NewCalculator(rules *QuantRules) *Calculator {
	return &Calculator{rules: rules}
}

// ResolveRuleDirection looks up the direction table. Oscillate follows a polar
// judgement and otherwise regresses toward the baseline.
func (c *Calculator) ResolveRuleDirection(in Interpretation, open, baseline int) Direction {
	switch c.rules.Direction(in.Effect, in.Relation) {
	case DirectionUp:
		return DirectionUp
	case DirectionDown:
		return DirectionDown
	}

	switch in.Judgement {
	case JudgementFavorable:
		return DirectionUp
	case JudgementUnfavorable:
		return DirectionDown
	}
	if open <= baseline {
		return DirectionUp
	}
	return DirectionDown
}

// ResolveCandidateDirection picks a repair-mode direction: explicit trend hint,
// then declared score against the previous resolved score, then Up. Equal scores
// resolve Up.
func ResolveCandidateDirection(trendHint string, declared, previous int, hasPrevious bool) Direction {
	hint := strings.ToLower(strings.TrimSpace(trendHint))
	switch {
	case strings.Contains(hint, "bull"), strings.Contains(hint, "涨"):
		return DirectionUp
	case strings.Contains(hint, "bear"), strings.Contains(hint, "跌"):
		return DirectionDown
	}

	if hasPrevious && declared > 0 && previous > 0 {
		if declared >= previous {
			return DirectionUp
		}
		return DirectionDown
	}
	return DirectionUp
}

// RuleMagnitude is the pre-noise step for a fact
func (c *Calculator) RuleMagnitude(age int, effect LifePeriodEffect, relation RelationClass) float64 {
	return 100.0 *
		c.rules.BaseAmplitude(age) *
		c.rules.EffectMultiplier(effect) *
		c.rules.RelationMultiplier(relation) *
		c.rules.BodyScale()
}

// HintMagnitude scales a desired step from the candidate layer
func (c *Calculator) HintMagnitude(desired int) float64 {
	if desired < 1 {
		desired = 1
	}
	return float64(desired) * c.rules.BodyScale()
}

// NoiseFactor maps a uniform draw into the configured noise range
func (c *Calculator) NoiseFactor(u float64) float64 {
	n := c.rules.Noise()
	return n.Min + clampFloat64(u, 0, 1)*(n.Max-n.Min)
}

// Delta runs noise, streak decay, echo, reflection, mean reversion and the
// per-age cap, in that order. The result is always in [1, MaxStep(age)].
func (c *Calculator) Delta(in StepInput, draw float64) int {
	age := in.Age
	if age < 1 {
		age = 1
	}
	open := clampInt(in.Open, MinValue, MaxValue)
	baseline := clampInt(in.Baseline, MinValue, MaxValue)

	raw := math.Max(0, in.Magnitude)
	raw *= c.NoiseFactor(draw)

	streak := c.rules.Streak()
	if in.Streak > streak.Threshold {
		decay := streak.FavorableDecay
		if in.Direction == DirectionDown {
			decay = streak.UnfavorableDecay
		}
		raw *= math.Pow(decay, float64(in.Streak-streak.Threshold))
	}

	for _, e := range in.Echoes {
		rule, ok := c.rules.Echo(e)
		if !ok {
			continue
		}
		raw *= rule.Multiplier
		ceiling := math.Max(1, math.Round(100*rule.Cap))
		raw = math.Min(raw, ceiling)
	}

	ref := c.rules.Reflection()
	level := float64(open) / 100.0
	if in.Direction == DirectionUp && level >= ref.High {
		raw *= ref.HighDamping
	}
	if in.Direction == DirectionDown && level <= ref.Low {
		raw *= ref.LowDamping
	}

	rev := c.rules.Reversion()
	drift := open - baseline
	if in.Direction == DirectionUp && drift > rev.Margin {
		raw *= rev.Factor
	}
	if in.Direction == DirectionDown && drift < -rev.Margin {
		raw *= rev.Factor
	}

	delta := int(math.Round(raw))
	if maxStep := c.rules.MaxStep(age); delta > maxStep {
		delta = maxStep
	}
	if delta < 1 {
		delta = 1
	}
	return delta
}
