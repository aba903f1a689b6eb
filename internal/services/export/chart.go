package export

import (
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/ternarybob/fateline/internal/services/kline"
)

const (
	chartLeft   = 25.0
	chartTop    = 45.0
	chartWidth  = 170.0
	chartHeight = 110.0
)

type rgb struct{ r, g, b int }

var (
	bullishColor  = rgb{38, 166, 91}
	bearishColor  = rgb{214, 48, 49}
	gridColor     = rgb{220, 220, 220}
	baselineColor = rgb{52, 101, 164}
)

// chartY maps a value in [MinValue, MaxValue] to page coordinates
func chartY(v int) float64 {
	span := float64(kline.MaxValue - kline.MinValue)
	return chartTop + chartHeight*(1-float64(v-kline.MinValue)/span)
}

// drawChart draws a candlestick chart of points with a dashed line at the
// starting level
func drawChart(pdf *fpdf.Fpdf, fonts fontSet, points []kline.Point) {
	fonts.set(pdf, "", 7)
	pdf.SetLineWidth(0.1)
	pdf.SetDrawColor(gridColor.r, gridColor.g, gridColor.b)
	for v := kline.MinValue; v <= kline.MaxValue; v += 20 {
		y := chartY(v)
		pdf.Line(chartLeft, y, chartLeft+chartWidth, y)
		pdf.Text(chartLeft-7, y+1, fmt.Sprint(v))
	}

	pdf.SetDrawColor(baselineColor.r, baselineColor.g, baselineColor.b)
	pdf.SetDashPattern([]float64{1.5, 1.5}, 0)
	startY := chartY(points[0].Open)
	pdf.Line(chartLeft, startY, chartLeft+chartWidth, startY)
	pdf.SetDashPattern([]float64{}, 0)

	slot := chartWidth / float64(len(points))
	body := max(slot*0.6, 0.2)
	pdf.SetLineWidth(min(0.2, slot*0.2))

	for i, p := range points {
		c := bearishColor
		if p.Trend == kline.TrendBullish {
			c = bullishColor
		}
		pdf.SetDrawColor(c.r, c.g, c.b)
		pdf.SetFillColor(c.r, c.g, c.b)

		x := chartLeft + slot*(float64(i)+0.5)
		pdf.Line(x, chartY(p.High), x, chartY(p.Low))

		top := chartY(max(p.Open, p.Close))
		height := max(chartY(min(p.Open, p.Close))-top, 0.3)
		pdf.Rect(x-body/2, top, body, height, "F")

		if i == 0 || p.Age%10 == 0 {
			pdf.Text(x-1.5, chartTop+chartHeight+5, fmt.Sprint(p.Age))
		}
	}

	pdf.SetDrawColor(0, 0, 0)
	pdf.SetFillColor(255, 255, 255)
	pdf.SetLineWidth(0.2)
}
