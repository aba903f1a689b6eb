package kline

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLabeler struct{}

func (stubLabeler) Label(age int) (int, string, string) {
	return 1989 + age, fmt.Sprintf("cycle-%d", age), "period"
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultRules())
	require.NoError(t, err)
	return engine
}

func intPtr(v int) *int { return &v }

func TestNewEngine_NilRules(t *testing.T) {
	_, err := NewEngine(nil)
	assert.ErrorIs(t, err, ErrInvalidRules)
}

func TestBuild_NeutralTrace(t *testing.T) {
	engine := newTestEngine(t)

	facts := make([]YearlyFact, 0, 5)
	for age := 1; age <= 5; age++ {
		facts = append(facts, YearlyFact{Age: age, LifePeriodEffect: EffectNeutral})
	}

	points, err := engine.Build(facts, Options{Length: 5, Baseline: 50, Noise: ConstantNoise(0.5)})
	require.NoError(t, err)
	require.Len(t, points, 5)

	wantOpen := []int{50, 54, 50, 54, 50}
	wantClose := []int{54, 50, 54, 50, 54}
	for i, p := range points {
		assert.Equal(t, i+1, p.Age)
		assert.Equal(t, wantOpen[i], p.Open, "age %d open", p.Age)
		assert.Equal(t, wantClose[i], p.Close, "age %d close", p.Age)
		assert.Equal(t, 4, p.Score)
		assert.Equal(t, max(p.Open, p.Close), p.High)
		assert.Equal(t, min(p.Open, p.Close), p.Low)
	}
	assert.Equal(t, TrendBullish, points[0].Trend)
	assert.Equal(t, RuleBullishNarrative, points[0].Narrative)
	assert.Equal(t, TrendBearish, points[1].Trend)
	assert.Equal(t, RuleBearishNarrative, points[1].Narrative)

	require.NoError(t, CheckInvariants(points, engine.Rules(), 50))
}

func TestBuild_SupportiveGenerationRises(t *testing.T) {
	engine := newTestEngine(t)

	facts := []YearlyFact{{
		Age:              10,
		LifePeriodEffect: "扶身",
		RelationTags:     []string{"generation"},
		Narrative:        "贵人相助",
	}}

	for seed := int64(1); seed <= 20; seed++ {
		points, err := engine.Build(facts, Options{Length: 20, Baseline: 50, Noise: NewSeededNoise(seed)})
		require.NoError(t, err)
		p := points[9]
		assert.Greater(t, p.Close, p.Open, "seed %d", seed)
		assert.Equal(t, "贵人相助", p.Narrative)
	}
}

func TestBuild_AdverseClashFalls(t *testing.T) {
	engine := newTestEngine(t)

	facts := []YearlyFact{{Age: 3, LifePeriodEffect: EffectAdverse, RelationTags: []string{"子午冲"}}}
	points, err := engine.Build(facts, Options{Length: 3, Baseline: 50, Noise: ConstantNoise(0.5)})
	require.NoError(t, err)
	assert.Less(t, points[2].Close, points[2].Open)
}

func TestBuild_DuplicateAgesKeepFirst(t *testing.T) {
	engine := newTestEngine(t)

	facts := []YearlyFact{
		{Age: 1, LifePeriodEffect: EffectAdverse, RelationTags: []string{"clash"}, Narrative: "first"},
		{Age: 1, LifePeriodEffect: EffectSupportive, RelationTags: []string{"combine"}, Narrative: "second"},
	}
	points, err := engine.Build(facts, Options{Length: 1, Baseline: 50, Noise: ConstantNoise(0.5)})
	require.NoError(t, err)
	assert.Equal(t, "first", points[0].Narrative)
	assert.Equal(t, TrendBearish, points[0].Trend)
}

func TestBuild_StartClamped(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name     string
		baseline int
		want     int
	}{
		{"high baseline", 95, 80},
		{"low baseline", 5, 20},
		{"zero baseline", 0, 20},
		{"in range", 63, 63},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points, err := engine.Build(nil, Options{Length: 10, Baseline: tt.baseline})
			require.NoError(t, err)
			assert.Equal(t, tt.want, points[0].Open)
			assert.NoError(t, CheckInvariants(points, engine.Rules(), tt.baseline))
		})
	}
}

func TestBuild_InvalidOptions(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name    string
		opts    Options
		wantErr error
	}{
		{"zero length", Options{Length: 0, Baseline: 50}, ErrInvalidLength},
		{"negative length", Options{Length: -3, Baseline: 50}, ErrInvalidLength},
		{"baseline above range", Options{Length: 10, Baseline: 101}, ErrInvalidBaseline},
		{"baseline below range", Options{Length: 10, Baseline: -1}, ErrInvalidBaseline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Build(nil, tt.opts)
			assert.ErrorIs(t, err, tt.wantErr)
			_, err = engine.Normalize(nil, tt.opts)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBuild_Deterministic(t *testing.T) {
	engine := newTestEngine(t)
	facts := randomFacts(rand.New(rand.NewSource(7)), 100)

	first, err := engine.Build(facts, Options{Length: 100, Baseline: 55, Noise: NewSeededNoise(99)})
	require.NoError(t, err)
	second, err := engine.Build(facts, Options{Length: 100, Baseline: 55, Noise: NewSeededNoise(99)})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBuild_Labels(t *testing.T) {
	engine := newTestEngine(t)

	facts := []YearlyFact{{Age: 2, CycleLabel: "甲子", PeriodLabel: "乙丑"}}
	points, err := engine.Build(facts, Options{Length: 3, Baseline: 50, Labels: stubLabeler{}})
	require.NoError(t, err)

	assert.Equal(t, 1990, points[0].Year)
	assert.Equal(t, "cycle-1", points[0].CycleLabel)
	assert.Equal(t, "period", points[0].PeriodLabel)
	assert.Equal(t, 1991, points[1].Year)
	assert.Equal(t, "甲子", points[1].CycleLabel)
	assert.Equal(t, "乙丑", points[1].PeriodLabel)
}

func TestBuild_InvariantsHoldForRandomFacts(t *testing.T) {
	engine := newTestEngine(t)

	for seed := int64(1); seed <= 40; seed++ {
		r := rand.New(rand.NewSource(seed))
		baseline := r.Intn(101)
		points, err := engine.Build(randomFacts(r, 100), Options{Length: 100, Baseline: baseline, Noise: NewSeededNoise(seed)})
		require.NoError(t, err)
		require.Len(t, points, 100)
		assert.NoError(t, CheckInvariants(points, engine.Rules(), baseline), "seed %d", seed)
	}
}

func TestNormalize_SparseCandidates(t *testing.T) {
	engine := newTestEngine(t)

	candidates := []CandidateItem{{Age: 3, Score: intPtr(40)}}
	points, err := engine.Normalize(candidates, Options{Length: 10, Baseline: 50, Noise: NewSeededNoise(3)})
	require.NoError(t, err)
	require.Len(t, points, 10)

	assert.Equal(t, engine.Rules().MaxStep(3), points[2].Score)
	assert.NoError(t, CheckInvariants(points, engine.Rules(), 50))
	for _, p := range points {
		assert.NotEmpty(t, p.Narrative)
	}
}

func TestNormalize_RepairsInconsistentCandidates(t *testing.T) {
	engine := newTestEngine(t)

	candidates := []CandidateItem{
		{Age: 1, Open: intPtr(10), Close: intPtr(95), Trend: "Bearish", Narrative: "剧烈波动"},
		{Age: 2, Score: intPtr(-5), Open: intPtr(95), Close: intPtr(95)},
		{Age: 4, Score: intPtr(100), Trend: "bullish", CycleLabel: "丙寅"},
	}
	points, err := engine.Normalize(candidates, Options{Length: 6, Baseline: 50, Noise: ConstantNoise(0.5)})
	require.NoError(t, err)
	require.NoError(t, CheckInvariants(points, engine.Rules(), 50))

	assert.Equal(t, 50, points[0].Open)
	assert.Equal(t, TrendBearish, points[0].Trend)
	assert.Equal(t, "剧烈波动", points[0].Narrative)
	assert.Equal(t, TrendBullish, points[3].Trend)
	assert.Equal(t, "丙寅", points[3].CycleLabel)
	assert.Equal(t, RepairBullishNarrative, points[3].Narrative)
}

func TestNormalize_ScoreComparisonDirection(t *testing.T) {
	engine := newTestEngine(t)

	// Age 1 resolves Up with a capped score of 4; age 2 declares less and falls.
	candidates := []CandidateItem{
		{Age: 1, Score: intPtr(30)},
		{Age: 2, Score: intPtr(2)},
	}
	points, err := engine.Normalize(candidates, Options{Length: 2, Baseline: 50, Noise: ConstantNoise(0.5)})
	require.NoError(t, err)

	assert.Equal(t, TrendBullish, points[0].Trend)
	assert.Equal(t, 4, points[0].Score)
	assert.Equal(t, TrendBearish, points[1].Trend)
}

func TestNormalize_InvariantsHoldForRandomCandidates(t *testing.T) {
	engine := newTestEngine(t)
	trends := []string{"", "Bullish", "Bearish", "涨", "跌", "sideways"}

	for seed := int64(1); seed <= 40; seed++ {
		r := rand.New(rand.NewSource(seed))
		candidates := make([]CandidateItem, 0, 80)
		for age := 1; age <= 80; age++ {
			if r.Intn(4) == 0 {
				continue
			}
			c := CandidateItem{Age: age, Trend: trends[r.Intn(len(trends))]}
			if r.Intn(2) == 0 {
				c.Score = intPtr(r.Intn(120) - 10)
			}
			if r.Intn(2) == 0 {
				c.Open = intPtr(r.Intn(140) - 20)
				c.Close = intPtr(r.Intn(140) - 20)
			}
			candidates = append(candidates, c)
		}

		baseline := r.Intn(101)
		points, err := engine.Normalize(candidates, Options{Length: 80, Baseline: baseline, Noise: NewSeededNoise(seed)})
		require.NoError(t, err)
		require.Len(t, points, 80)
		assert.NoError(t, CheckInvariants(points, engine.Rules(), baseline), "seed %d", seed)
	}
}

func TestWalk_PinnedBoundFlips(t *testing.T) {
	engine := newTestEngine(t)

	// Every step is hinted Up; the series must still stay within bounds and move.
	candidates := make([]CandidateItem, 0, 100)
	for age := 1; age <= 100; age++ {
		candidates = append(candidates, CandidateItem{Age: age, Score: intPtr(100), Trend: "bullish"})
	}
	points, err := engine.Normalize(candidates, Options{Length: 100, Baseline: 80, Noise: ConstantNoise(1)})
	require.NoError(t, err)
	assert.NoError(t, CheckInvariants(points, engine.Rules(), 80))
}

func randomFacts(r *rand.Rand, n int) []YearlyFact {
	effects := []string{"扶身", "克身", "中性", "supportive", "adverse", ""}
	tags := []string{"冲", "合", "半合", "害", "克", "生", "相冲", "相害", "相生", "伏吟", "反吟", "clash", "combine", ""}
	judgements := []string{"偏吉", "偏凶", "中平", ""}

	facts := make([]YearlyFact, 0, n)
	for age := 1; age <= n; age++ {
		if r.Intn(5) == 0 {
			continue
		}
		facts = append(facts, YearlyFact{
			Age:              age,
			LifePeriodEffect: LifePeriodEffect(effects[r.Intn(len(effects))]),
			RelationTags:     []string{tags[r.Intn(len(tags))], tags[r.Intn(len(tags))]},
			Judgement:        Judgement(judgements[r.Intn(len(judgements))]),
		})
	}
	return facts
}
