package kline

import (
	"fmt"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

// Series limits shared by both walks
const (
	MinValue         = 0
	MaxValue         = 100
	MinStartBaseline = 20
	MaxStartBaseline = 80
	DefaultBaseline  = 50
)

// StageAmplitude is the base amplitude ratio for ages up to MaxAge
type StageAmplitude struct {
	MaxAge int     `toml:"max_age"`
	Ratio  float64 `toml:"ratio"`
}

// StageStep is the per-step volatility cap for ages up to MaxAge
type StageStep struct {
	MaxAge int `toml:"max_age"`
	Step   int `toml:"step"`
}

// StreakRule decays sustained one-directional runs
type StreakRule struct {
	Threshold        int     `toml:"threshold"`
	FavorableDecay   float64 `toml:"favorable_decay"`
	UnfavorableDecay float64 `toml:"unfavorable_decay"`
}

// EchoRule amplifies an echo configuration up to Cap (fraction of full scale)
type EchoRule struct {
	Multiplier float64 `toml:"multiplier"`
	Cap        float64 `toml:"cap"`
}

// ReflectionRule damps moves further into an extreme
type ReflectionRule struct {
	High        float64 `toml:"high"`
	HighDamping float64 `toml:"high_damping"`
	Low         float64 `toml:"low"`
	LowDamping  float64 `toml:"low_damping"`
}

// ReversionRule scales steps that move further away from the baseline
type ReversionRule struct {
	Margin int     `toml:"margin"`
	Factor float64 `toml:"factor"`
}

// NoiseRange bounds the multiplicative noise factor
type NoiseRange struct {
	Min float64 `toml:"min"`
	Max float64 `toml:"max"`
}

// DirectionRule is one entry of the direction lookup
type DirectionRule struct {
	Effect    LifePeriodEffect `toml:"effect"`
	Relation  RelationClass    `toml:"relation"`
	Direction string           `toml:"direction"`
}

// RuleSet is the editable form of the quantization tables. It is only used to
// construct QuantRules and may be decoded from TOML.
type RuleSet struct {
	Directions          []DirectionRule    `toml:"directions"`
	Amplitudes          []StageAmplitude   `toml:"amplitudes"`
	EffectMultipliers   map[string]float64 `toml:"effect_multipliers"`
	RelationMultipliers map[string]float64 `toml:"relation_multipliers"`
	MaxSteps            []StageStep        `toml:"max_steps"`
	Streak              StreakRule         `toml:"streak"`
	SelfReinforcement   EchoRule           `toml:"self_reinforcement"`
	SelfReversal        EchoRule           `toml:"self_reversal"`
	Reflection          ReflectionRule     `toml:"reflection"`
	Reversion           ReversionRule      `toml:"reversion"`
	BodyScale           float64            `toml:"body_scale"`
	Noise               NoiseRange         `toml:"noise"`
}

// DefaultRuleSet returns the production quantization constants
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Directions: []DirectionRule{
			{Effect: EffectSupportive, Relation: RelationGeneration, Direction: "up"},
			{Effect: EffectSupportive, Relation: RelationCombine, Direction: "up"},
			{Effect: EffectSupportive, Relation: RelationHalfCombine, Direction: "oscillate"},
			{Effect: EffectAdverse, Relation: RelationDomination, Direction: "down"},
			{Effect: EffectAdverse, Relation: RelationClash, Direction: "down"},
			{Effect: EffectAdverse, Relation: RelationHarm, Direction: "down"},
			{Effect: EffectNeutral, Relation: RelationMutualClash, Direction: "oscillate"},
			{Effect: EffectNeutral, Relation: RelationMutualHarm, Direction: "oscillate"},
			{Effect: EffectNeutral, Relation: RelationMutualGeneration, Direction: "oscillate"},
			{Effect: EffectNeutral, Relation: RelationNone, Direction: "oscillate"},
		},
		Amplitudes: []StageAmplitude{
			{MaxAge: 20, Ratio: 0.05},
			{MaxAge: 40, Ratio: 0.03},
			{MaxAge: 60, Ratio: 0.02},
			{MaxAge: 80, Ratio: 0.01},
			{MaxAge: 100, Ratio: 0.005},
		},
		EffectMultipliers: map[string]float64{
			string(EffectSupportive): 1.2,
			string(EffectAdverse):    1.5,
			string(EffectNeutral):    1.0,
		},
		RelationMultipliers: map[string]float64{
			string(RelationGeneration):  1.1,
			string(RelationDomination):  1.3,
			string(RelationCombine):     1.05,
			string(RelationClash):       1.4,
			string(RelationHarm):        1.35,
			string(RelationHalfCombine): 1.02,
		},
		MaxSteps: []StageStep{
			{MaxAge: 12, Step: 4},
			{MaxAge: 25, Step: 8},
			{MaxAge: 45, Step: 12},
			{MaxAge: 65, Step: 8},
			{MaxAge: 120, Step: 4},
		},
		Streak:            StreakRule{Threshold: 3, FavorableDecay: 0.8, UnfavorableDecay: 0.7},
		SelfReinforcement: EchoRule{Multiplier: 1.7, Cap: 0.15},
		SelfReversal:      EchoRule{Multiplier: 1.6, Cap: 0.10},
		Reflection:        ReflectionRule{High: 0.9, HighDamping: 0.5, Low: 0.1, LowDamping: 0.6},
		Reversion:         ReversionRule{Margin: 10, Factor: 0.5},
		BodyScale:         2.0,
		Noise:             NoiseRange{Min: 0.85, Max: 1.15},
	}
}

// ParseRuleSet decodes TOML over the defaults. Tables present in data replace the
// corresponding default table.
func ParseRuleSet(data []byte) (RuleSet, error) {
	set := DefaultRuleSet()
	if err := toml.Unmarshal(data, &set); err != nil {
		return RuleSet{}, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	return set, nil
}

type directionKey struct {
	effect   LifePeriodEffect
	relation RelationClass
}

// QuantRules is the immutable quantization table. Construct it once with
// NewQuantRules and share it; no method mutates it.
type QuantRules struct {
	direction    map[directionKey]Direction
	amplitudes   []StageAmplitude
	effectMult   map[LifePeriodEffect]float64
	relationMult map[RelationClass]float64
	steps        []StageStep
	streak       StreakRule
	echo         map[Echo]EchoRule
	reflection   ReflectionRule
	reversion    ReversionRule
	bodyScale    float64
	noise        NoiseRange
}

var knownEffects = map[LifePeriodEffect]bool{
	EffectSupportive: true,
	EffectAdverse:    true,
	EffectNeutral:    true,
}

var knownRelations = map[RelationClass]bool{
	RelationMutualClash:      true,
	RelationMutualHarm:       true,
	RelationMutualGeneration: true,
	RelationClash:            true,
	RelationHarm:             true,
	RelationDomination:       true,
	RelationHalfCombine:      true,
	RelationCombine:          true,
	RelationGeneration:       true,
	RelationNone:             true,
}

// NewQuantRules validates set and copies it into an immutable table
func NewQuantRules(set RuleSet) (*QuantRules, error) {
	r := &QuantRules{
		direction:    make(map[directionKey]Direction, len(set.Directions)),
		effectMult:   make(map[LifePeriodEffect]float64, len(set.EffectMultipliers)),
		relationMult: make(map[RelationClass]float64, len(set.RelationMultipliers)),
		echo: map[Echo]EchoRule{
			EchoSelfReinforcement: set.SelfReinforcement,
			EchoSelfReversal:      set.SelfReversal,
		},
		streak:     set.Streak,
		reflection: set.Reflection,
		reversion:  set.Reversion,
		bodyScale:  set.BodyScale,
		noise:      set.Noise,
	}

	for i, d := range set.Directions {
		if !knownEffects[d.Effect] {
			return nil, fmt.Errorf("%w: direction %d has unknown effect %q", ErrInvalidRules, i, d.Effect)
		}
		if !knownRelations[d.Relation] {
			return nil, fmt.Errorf("%w: direction %d has unknown relation %q", ErrInvalidRules, i, d.Relation)
		}
		dir, ok := ParseDirection(d.Direction)
		if !ok {
			return nil, fmt.Errorf("%w: direction %d has unknown value %q", ErrInvalidRules, i, d.Direction)
		}
		r.direction[directionKey{d.Effect, d.Relation}] = dir
	}

	if len(set.Amplitudes) == 0 {
		return nil, fmt.Errorf("%w: no amplitude stages", ErrInvalidRules)
	}
	r.amplitudes = append([]StageAmplitude(nil), set.Amplitudes...)
	sort.Slice(r.amplitudes, func(i, j int) bool { return r.amplitudes[i].MaxAge < r.amplitudes[j].MaxAge })
	for _, a := range r.amplitudes {
		if a.Ratio <= 0 || a.Ratio >= 1 {
			return nil, fmt.Errorf("%w: amplitude for ages <= %d is %v, want (0,1)", ErrInvalidRules, a.MaxAge, a.Ratio)
		}
	}

	if len(set.MaxSteps) == 0 {
		return nil, fmt.Errorf("%w: no max step stages", ErrInvalidRules)
	}
	r.steps = append([]StageStep(nil), set.MaxSteps...)
	sort.Slice(r.steps, func(i, j int) bool { return r.steps[i].MaxAge < r.steps[j].MaxAge })
	for _, s := range r.steps {
		if s.Step < 1 {
			return nil, fmt.Errorf("%w: max step for ages <= %d is %d, want >= 1", ErrInvalidRules, s.MaxAge, s.Step)
		}
	}

	for k, v := range set.EffectMultipliers {
		effect := LifePeriodEffect(k)
		if !knownEffects[effect] {
			return nil, fmt.Errorf("%w: unknown effect multiplier %q", ErrInvalidRules, k)
		}
		if v <= 0 {
			return nil, fmt.Errorf("%w: effect multiplier %q is %v", ErrInvalidRules, k, v)
		}
		r.effectMult[effect] = v
	}
	for k, v := range set.RelationMultipliers {
		rel := RelationClass(k)
		if !knownRelations[rel] {
			return nil, fmt.Errorf("%w: unknown relation multiplier %q", ErrInvalidRules, k)
		}
		if v <= 0 {
			return nil, fmt.Errorf("%w: relation multiplier %q is %v", ErrInvalidRules, k, v)
		}
		r.relationMult[rel] = v
	}

	if set.Streak.Threshold < 0 {
		return nil, fmt.Errorf("%w: streak threshold %d", ErrInvalidRules, set.Streak.Threshold)
	}
	if !inUnitRange(set.Streak.FavorableDecay) || !inUnitRange(set.Streak.UnfavorableDecay) {
		return nil, fmt.Errorf("%w: streak decay must be within (0,1]", ErrInvalidRules)
	}
	for e, rule := range r.echo {
		if rule.Multiplier <= 0 || !inUnitRange(rule.Cap) {
			return nil, fmt.Errorf("%w: %s echo multiplier %v cap %v", ErrInvalidRules, e, rule.Multiplier, rule.Cap)
		}
	}
	ref := set.Reflection
	if ref.High <= 0 || ref.High >= 1 || ref.Low <= 0 || ref.Low >= ref.High ||
		!inUnitRange(ref.HighDamping) || !inUnitRange(ref.LowDamping) {
		return nil, fmt.Errorf("%w: reflection %+v", ErrInvalidRules, ref)
	}
	if set.Reversion.Margin < 0 || !inUnitRange(set.Reversion.Factor) {
		return nil, fmt.Errorf("%w: reversion %+v", ErrInvalidRules, set.Reversion)
	}
	if set.BodyScale <= 0 {
		return nil, fmt.Errorf("%w: body scale %v", ErrInvalidRules, set.BodyScale)
	}
	if set.Noise.Min <= 0 || set.Noise.Max < set.Noise.Min {
		return nil, fmt.Errorf("%w: noise range [%v, %v]", ErrInvalidRules, set.Noise.Min, set.Noise.Max)
	}

	return r, nil
}

// DefaultRules builds the production table. The defaults are known to validate.
func DefaultRules() *QuantRules {
	r, err := NewQuantRules(DefaultRuleSet())
	if err != nil {
		panic(err)
	}
	return r
}

func inUnitRange(v float64) bool {
	return v > 0 && v <= 1
}

// Direction looks up the table; unknown keys oscillate
func (r *QuantRules) Direction(effect LifePeriodEffect, relation RelationClass) Direction {
	if d, ok := r.direction[directionKey{effect, relation}]; ok {
		return d
	}
	return DirectionOscillate
}

// BaseAmplitude returns the ratio for the age's stage bucket
func (r *QuantRules) BaseAmplitude(age int) float64 {
	for _, a := range r.amplitudes {
		if age <= a.MaxAge {
			return a.Ratio
		}
	}
	return r.amplitudes[len(r.amplitudes)-1].Ratio
}

// EffectMultiplier defaults to 1
func (r *QuantRules) EffectMultiplier(effect LifePeriodEffect) float64 {
	if m, ok := r.effectMult[effect]; ok {
		return m
	}
	return 1.0
}

// RelationMultiplier defaults to 1
func (r *QuantRules) RelationMultiplier(relation RelationClass) float64 {
	if m, ok := r.relationMult[relation]; ok {
		return m
	}
	return 1.0
}

// MaxStep is the volatility cap for an age
func (r *QuantRules) MaxStep(age int) int {
	for _, s := range r.steps {
		if age <= s.MaxAge {
			return s.Step
		}
	}
	return r.steps[len(r.steps)-1].Step
}

func (r *QuantRules) Streak() StreakRule         { return r.streak }
func (r *QuantRules) Reflection() ReflectionRule { return r.reflection }
func (r *QuantRules) Reversion() ReversionRule   { return r.reversion }
func (r *QuantRules) BodyScale() float64         { return r.bodyScale }
func (r *QuantRules) Noise() NoiseRange          { return r.noise }

// Echo returns the rule for an echo configuration
func (r *QuantRules) Echo(e Echo) (EchoRule, bool) {
	rule, ok := r.echo[e]
	return rule, ok
}
