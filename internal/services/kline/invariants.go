package kline

import (
	"errors"
	"fmt"
)

// ErrInvariant is wrapped by every CheckInvariants failure
var ErrInvariant = errors.New("series invariant violated")

// CheckInvariants verifies a produced series against the rule table and the
// baseline it was built from. It returns the first violation found.
func CheckInvariants(points []Point, rules *QuantRules, baseline int) error {
	for i, p := range points {
		if p.Age != i+1 {
			return fmt.Errorf("%w: point %d has age %d", ErrInvariant, i, p.Age)
		}
		if i == 0 {
			if want := clampInt(baseline, MinStartBaseline, MaxStartBaseline); p.Open != want {
				return fmt.Errorf("%w: first open %d, want %d", ErrInvariant, p.Open, want)
			}
		} else if p.Open != points[i-1].Close {
			return fmt.Errorf("%w: age %d open %d != previous close %d", ErrInvariant, p.Age, p.Open, points[i-1].Close)
		}
		if p.Open < MinValue || p.Open > MaxValue || p.Close < MinValue || p.Close > MaxValue {
			return fmt.Errorf("%w: age %d out of bounds (%d, %d)", ErrInvariant, p.Age, p.Open, p.Close)
		}
		if p.Open == p.Close {
			return fmt.Errorf("%w: age %d has a flat body", ErrInvariant, p.Age)
		}
		if (p.Trend == TrendBullish) != (p.Close > p.Open) {
			return fmt.Errorf("%w: age %d trend %s with open %d close %d", ErrInvariant, p.Age, p.Trend, p.Open, p.Close)
		}
		if p.Score != absInt(p.Close-p.Open) {
			return fmt.Errorf("%w: age %d score %d", ErrInvariant, p.Age, p.Score)
		}
		if maxStep := rules.MaxStep(p.Age); p.Score > maxStep {
			return fmt.Errorf("%w: age %d score %d exceeds cap %d", ErrInvariant, p.Age, p.Score, maxStep)
		}
	}
	return nil
}
