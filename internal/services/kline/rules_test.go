package kline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules_Lookups(t *testing.T) {
	rules := DefaultRules()

	steps := []struct{ age, want int }{
		{1, 4}, {12, 4}, {13, 8}, {25, 8}, {26, 12}, {45, 12}, {46, 8}, {65, 8}, {66, 4}, {120, 4}, {150, 4},
	}
	for _, s := range steps {
		assert.Equal(t, s.want, rules.MaxStep(s.age), "max step at %d", s.age)
	}

	amplitudes := []struct {
		age  int
		want float64
	}{
		{1, 0.05}, {20, 0.05}, {21, 0.03}, {60, 0.02}, {80, 0.01}, {100, 0.005}, {130, 0.005},
	}
	for _, a := range amplitudes {
		assert.Equal(t, a.want, rules.BaseAmplitude(a.age), "amplitude at %d", a.age)
	}

	assert.Equal(t, DirectionUp, rules.Direction(EffectSupportive, RelationGeneration))
	assert.Equal(t, DirectionDown, rules.Direction(EffectAdverse, RelationHarm))
	assert.Equal(t, DirectionOscillate, rules.Direction(EffectNeutral, RelationNone))
	assert.Equal(t, DirectionOscillate, rules.Direction(EffectSupportive, RelationClash))

	assert.Equal(t, 1.5, rules.EffectMultiplier(EffectAdverse))
	assert.Equal(t, 1.4, rules.RelationMultiplier(RelationClash))
	assert.Equal(t, 1.0, rules.RelationMultiplier(RelationMutualClash))
	assert.Equal(t, 2.0, rules.BodyScale())

	echo, ok := rules.Echo(EchoSelfReversal)
	require.True(t, ok)
	assert.Equal(t, 1.6, echo.Multiplier)
	_, ok = rules.Echo(EchoNone)
	assert.False(t, ok)
}

func TestNewQuantRules_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RuleSet)
	}{
		{"unknown effect", func(s *RuleSet) { s.Directions[0].Effect = "lucky" }},
		{"unknown relation", func(s *RuleSet) { s.Directions[0].Relation = "orbit" }},
		{"unknown direction", func(s *RuleSet) { s.Directions[0].Direction = "sideways" }},
		{"no amplitudes", func(s *RuleSet) { s.Amplitudes = nil }},
		{"amplitude out of range", func(s *RuleSet) { s.Amplitudes[0].Ratio = 1.5 }},
		{"no max steps", func(s *RuleSet) { s.MaxSteps = nil }},
		{"zero max step", func(s *RuleSet) { s.MaxSteps[0].Step = 0 }},
		{"negative multiplier", func(s *RuleSet) { s.EffectMultipliers["adverse"] = -1 }},
		{"unknown multiplier key", func(s *RuleSet) { s.RelationMultipliers["orbit"] = 1.1 }},
		{"decay above one", func(s *RuleSet) { s.Streak.FavorableDecay = 1.2 }},
		{"echo cap zero", func(s *RuleSet) { s.SelfReversal.Cap = 0 }},
		{"reflection inverted", func(s *RuleSet) { s.Reflection.Low = 0.95 }},
		{"reversion factor zero", func(s *RuleSet) { s.Reversion.Factor = 0 }},
		{"zero body scale", func(s *RuleSet) { s.BodyScale = 0 }},
		{"inverted noise", func(s *RuleSet) { s.Noise = NoiseRange{Min: 1.2, Max: 0.8} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := DefaultRuleSet()
			tt.mutate(&set)
			_, err := NewQuantRules(set)
			assert.ErrorIs(t, err, ErrInvalidRules)
		})
	}
}

func TestNewQuantRules_SortsStages(t *testing.T) {
	set := DefaultRuleSet()
	set.MaxSteps = []StageStep{{MaxAge: 120, Step: 2}, {MaxAge: 10, Step: 6}}

	rules, err := NewQuantRules(set)
	require.NoError(t, err)
	assert.Equal(t, 6, rules.MaxStep(5))
	assert.Equal(t, 2, rules.MaxStep(11))
}

func TestNewQuantRules_DoesNotAlias(t *testing.T) {
	set := DefaultRuleSet()
	rules, err := NewQuantRules(set)
	require.NoError(t, err)

	set.MaxSteps[0].Step = 99
	set.EffectMultipliers["adverse"] = 9
	assert.Equal(t, 4, rules.MaxStep(1))
	assert.Equal(t, 1.5, rules.EffectMultiplier(EffectAdverse))
}

func TestParseRuleSet(t *testing.T) {
	data := []byte(`
body_scale = 3.0

[noise]
min = 0.9
max = 1.1

[streak]
threshold = 2
favorable_decay = 0.9
unfavorable_decay = 0.6
`)

	set, err := ParseRuleSet(data)
	require.NoError(t, err)
	assert.Equal(t, 3.0, set.BodyScale)
	assert.Equal(t, NoiseRange{Min: 0.9, Max: 1.1}, set.Noise)
	assert.Equal(t, 2, set.Streak.Threshold)
	assert.Equal(t, DefaultRuleSet().Reversion, set.Reversion)

	rules, err := NewQuantRules(set)
	require.NoError(t, err)
	assert.Equal(t, 3.0, rules.BodyScale())
}

func TestParseRuleSet_Malformed(t *testing.T) {
	_, err := ParseRuleSet([]byte("body_scale = ["))
	assert.ErrorIs(t, err, ErrInvalidRules)
}
