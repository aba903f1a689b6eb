package kline

import "fmt"

// Options control one walk
type Options struct {
	Length   int
	Baseline int
	Noise    NoiseSource // nil uses DefaultSeed
	Labels   Labeler     // optional
}

func (o Options) validate() error {
	if o.Length <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidLength, o.Length)
	}
	if o.Baseline < MinValue || o.Baseline > MaxValue {
		return fmt.Errorf("%w: got %d", ErrInvalidBaseline, o.Baseline)
	}
	return nil
}

// walkState is the state machine carried between ages
type walkState struct {
	open       int
	baseline   int
	bullStreak int
	bearStreak int
	prevScore  int
}

// stepPlan is what a mode contributes for one age
type stepPlan struct {
	direction   Direction
	magnitude   float64
	echoes      []Echo
	narrative   string
	cycleLabel  string
	periodLabel string
}

type narrativeDefaults struct {
	bullish string
	bearish string
}

type planFunc func(age int, st walkState) stepPlan

// walk is the single place where continuity, bounds, trend and cap are enforced
func (e *Engine) walk(opts Options, defaults narrativeDefaults, plan planFunc) []Point {
	noise := opts.Noise
	if noise == nil {
		noise = NewSeededNoise(DefaultSeed)
	}

	start := clampInt(opts.Baseline, MinStartBaseline, MaxStartBaseline)
	st := walkState{open: start, baseline: start}
	points := make([]Point, 0, opts.Length)

	for age := 1; age <= opts.Length; age++ {
		p := plan(age, st)

		dir := p.direction
		if dir == DirectionOscillate {
			dir = DirectionUp
			if st.open > st.baseline {
				dir = DirectionDown
			}
		}
		// A value pinned at a bound cannot move further; reflect instead.
		if (dir == DirectionUp && st.open >= MaxValue) || (dir == DirectionDown && st.open <= MinValue) {
			dir = dir.opposite()
		}

		var streak int
		if dir == DirectionUp {
			st.bullStreak++
			st.bearStreak = 0
			streak = st.bullStreak
		} else {
			st.bearStreak++
			st.bullStreak = 0
			streak = st.bearStreak
		}

		delta := e.calc.Delta(StepInput{
			Age:       age,
			Open:      st.open,
			Baseline:  st.baseline,
			Direction: dir,
			Magnitude: p.magnitude,
			Echoes:    p.echoes,
			Streak:    streak,
		}, noise.Float64())

		closing := clampInt(st.open+dir.sign()*delta, MinValue, MaxValue)
		if dir == DirectionUp && closing <= st.open {
			closing = clampInt(st.open+1, MinValue, MaxValue)
		}
		if dir == DirectionDown && closing >= st.open {
			closing = clampInt(st.open-1, MinValue, MaxValue)
		}

		point := newPoint(age, st.open, closing)
		point.Narrative = p.narrative
		if point.Narrative == "" {
			point.Narrative = defaults.bearish
			if point.Trend == TrendBullish {
				point.Narrative = defaults.bullish
			}
		}
		point.CycleLabel = p.cycleLabel
		point.PeriodLabel = p.periodLabel
		if opts.Labels != nil {
			year, cycle, period := opts.Labels.Label(age)
			point.Year = year
			if point.CycleLabel == "" {
				point.CycleLabel = cycle
			}
			if point.PeriodLabel == "" {
				point.PeriodLabel = period
			}
		}

		points = append(points, point)
		st.prevScore = point.Score
		st.open = closing
	}
	return points
}

func newPoint(age, open, closing int) Point {
	p := Point{
		Age:   age,
		Open:  open,
		Close: closing,
		High:  open,
		Low:   closing,
		Trend: TrendBearish,
	}
	if closing > open {
		p.Trend = TrendBullish
		p.High = closing
		p.Low = open
	}
	p.Score = p.High - p.Low
	return p
}
