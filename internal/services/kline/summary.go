package kline

import (
	"fmt"

	"github.com/montanaflynn/stats"
)

// Summary describes a produced series
type Summary struct {
	Points         int     `json:"points"`
	MeanClose      float64 `json:"mean_close"`
	StdDevClose    float64 `json:"stddev_close"`
	MinClose       float64 `json:"min_close"`
	MaxClose       float64 `json:"max_close"`
	FinalClose     int     `json:"final_close"`
	Bullish        int     `json:"bullish"`
	Bearish        int     `json:"bearish"`
	LongestBullRun int     `json:"longest_bull_run"`
	LongestBearRun int     `json:"longest_bear_run"`
}

// Summarize computes close statistics and run lengths. An empty series yields a
// zero Summary.
func Summarize(points []Point) (Summary, error) {
	s := Summary{Points: len(points)}
	if len(points) == 0 {
		return s, nil
	}

	closes := make([]float64, len(points))
	run := 0
	var last Trend
	for i, p := range points {
		closes[i] = float64(p.Close)
		if p.Trend == TrendBullish {
			s.Bullish++
		} else {
			s.Bearish++
		}

		if p.Trend == last {
			run++
		} else {
			run = 1
			last = p.Trend
		}
		if p.Trend == TrendBullish && run > s.LongestBullRun {
			s.LongestBullRun = run
		}
		if p.Trend == TrendBearish && run > s.LongestBearRun {
			s.LongestBearRun = run
		}
	}
	s.FinalClose = points[len(points)-1].Close

	var err error
	if s.MeanClose, err = stats.Mean(closes); err != nil {
		return s, fmt.Errorf("failed to compute mean close: %w", err)
	}
	if s.StdDevClose, err = stats.StandardDeviation(closes); err != nil {
		return s, fmt.Errorf("failed to compute close deviation: %w", err)
	}
	if s.MinClose, err = stats.Min(closes); err != nil {
		return s, fmt.Errorf("failed to compute min close: %w", err)
	}
	if s.MaxClose, err = stats.Max(closes); err != nil {
		return s, fmt.Errorf("failed to compute max close: %w", err)
	}
	return s, nil
}
