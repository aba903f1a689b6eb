package kline

import "fmt"

// Narrative defaults when the input carries none
const (
	RuleBullishNarrative   = "偏吉"
	RuleBearishNarrative   = "偏凶"
	RepairBullishNarrative = "该年运势偏吉，宜顺势而为。"
	RepairBearishNarrative = "该年运势偏凶，宜守不宜攻。"
)

// Engine produces candlestick series. It is safe for concurrent use: the rule
// table is read-only and every call owns its walk state.
type Engine struct {
	rules *QuantRules
	calc  *Calculator
}

// NewEngine binds an engine to a validated rule table
func NewEngine(rules *QuantRules) (*Engine, error) {
	if rules == nil {
		return nil, fmt.Errorf("%w: nil rule table", ErrInvalidRules)
	}
	return &Engine{rules: rules, calc: NewCalculator(rules)}, nil
}

// Rules exposes the table the engine was built with
func (e *Engine) Rules() *QuantRules {
	return e.rules
}

// Build walks ages 1..opts.Length driven by facts. Missing ages are treated as
// (Neutral, NoRelation); duplicate ages keep the first record.
func (e *Engine) Build(facts []YearlyFact, opts Options) ([]Point, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	byAge := make(map[int]YearlyFact, len(facts))
	for _, f := range facts {
		if _, exists := byAge[f.Age]; !exists {
			byAge[f.Age] = f
		}
	}

	plan := func(age int, st walkState) stepPlan {
		var fact *YearlyFact
		if f, ok := byAge[age]; ok {
			fact = &f
		}
		in := Interpret(fact)

		p := stepPlan{
			direction: e.calc.ResolveRuleDirection(in, st.open, st.baseline),
			magnitude: e.calc.RuleMagnitude(age, in.Effect, in.Relation),
			echoes:    in.Echoes,
		}
		if fact != nil {
			p.narrative = fact.Narrative
			p.cycleLabel = fact.CycleLabel
			p.periodLabel = fact.PeriodLabel
		}
		return p
	}

	return e.walk(opts, narrativeDefaults{bullish: RuleBullishNarrative, bearish: RuleBearishNarrative}, plan), nil
}

// Normalize repairs candidates into a full 1..opts.Length series. Only the
// structural fields are re-derived; narrative and labels are kept when present.
func (e *Engine) Normalize(candidates []CandidateItem, opts Options) ([]Point, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	byAge := make(map[int]CandidateItem, len(candidates))
	for _, c := range candidates {
		if _, exists := byAge[c.Age]; !exists {
			byAge[c.Age] = c
		}
	}

	plan := func(age int, st walkState) stepPlan {
		c, ok := byAge[age]
		_, hasPrevious := byAge[age-1]

		declared := 0
		if ok && c.Score != nil {
			declared = *c.Score
		}

		desired := declared
		if desired <= 0 && ok && c.Open != nil && c.Close != nil {
			desired = absInt(*c.Close - *c.Open)
		}
		if desired <= 0 {
			desired = 1 + age%e.rules.MaxStep(age)
		}

		p := stepPlan{
			direction: ResolveCandidateDirection(c.Trend, declared, st.prevScore, hasPrevious && age > 1),
			magnitude: e.calc.HintMagnitude(desired),
		}
		if ok {
			p.narrative = c.Narrative
			p.cycleLabel = c.CycleLabel
			p.periodLabel = c.PeriodLabel
		}
		return p
	}

	return e.walk(opts, narrativeDefaults{bullish: RepairBullishNarrative, bearish: RepairBearishNarrative}, plan), nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
