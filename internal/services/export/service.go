package export

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/fateline/internal/common"
	"github.com/ternarybob/fateline/internal/interfaces"
	"github.com/ternarybob/fateline/internal/models"
	"github.com/ternarybob/fateline/internal/services/kline"
)

// ErrNothingToExport is returned for a document without points
var ErrNothingToExport = errors.New("no K-line points to export")

// Service implements interfaces.ExportService
type Service struct {
	fontPath string
	logger   arbor.ILogger
}

var _ interfaces.ExportService = (*Service)(nil)

// NewService creates a new export service
func NewService(config common.ExportConfig, logger arbor.ILogger) *Service {
	return &Service{
		fontPath: config.FontPath,
		logger:   logger,
	}
}

// RenderPDF draws the chart page, summary, point table and report sections
func (s *Service) RenderPDF(doc *models.ExportDocument) ([]byte, error) {
	if doc == nil || len(doc.Points) == 0 {
		return nil, ErrNothingToExport
	}

	summary, err := kline.Summarize(doc.Points)
	if err != nil {
		return nil, err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetTitle("Fateline K-line "+doc.RequestID, true)
	pdf.SetCreator("fateline "+common.GetVersion(), true)

	fonts, err := loadFonts(pdf, s.fontPath)
	if err != nil {
		return nil, err
	}

	pdf.AddPage()
	fonts.set(pdf, "B", 16)
	pdf.CellFormat(0, 8, "Life K-line", "", 1, "L", false, 0, "")
	fonts.set(pdf, "", 9)
	pdf.CellFormat(0, 5, fonts.text("Request "+doc.RequestID), "", 1, "L", false, 0, "")
	if doc.BaZi != nil {
		pdf.CellFormat(0, 5, fonts.text(fmt.Sprintf("Pillars %s %s %s %s  Solar time %s",
			doc.BaZi.YearPillar, doc.BaZi.MonthPillar, doc.BaZi.DayPillar, doc.BaZi.HourPillar, doc.BaZi.SolarTime)),
			"", 1, "L", false, 0, "")
	}

	drawChart(pdf, fonts, doc.Points)
	pdf.SetXY(15, chartTop+chartHeight+12)
	fonts.set(pdf, "", 9)
	for _, line := range summaryLines(summary) {
		pdf.CellFormat(0, 5, line, "", 1, "L", false, 0, "")
	}

	pdf.AddPage()
	fonts.set(pdf, "B", 12)
	pdf.CellFormat(0, 7, "Yearly points", "", 1, "L", false, 0, "")
	renderTable(pdf, fonts, pointRows(doc.Points))

	if doc.Report != nil {
		pdf.AddPage()
		if err := renderMarkdown(pdf, fonts, reportMarkdown(doc.Report), 9); err != nil {
			return nil, fmt.Errorf("failed to render report: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		s.logger.Error().Err(err).Str("request_id", doc.RequestID).Msg("Failed to generate PDF output")
		return nil, fmt.Errorf("failed to generate PDF output: %w", err)
	}

	s.logger.Debug().
		Str("request_id", doc.RequestID).
		Int("points", len(doc.Points)).
		Int("pdf_size", buf.Len()).
		Bool("unicode_font", fonts.unicode).
		Msg("K-line PDF generated")
	return buf.Bytes(), nil
}

// RenderHTML renders the same content as markdown converted by goldmark
func (s *Service) RenderHTML(doc *models.ExportDocument) ([]byte, error) {
	if doc == nil || len(doc.Points) == 0 {
		return nil, ErrNothingToExport
	}

	summary, err := kline.Summarize(doc.Points)
	if err != nil {
		return nil, err
	}

	var md strings.Builder
	md.WriteString("# Life K-line\n\n")
	fmt.Fprintf(&md, "Request `%s`\n\n", doc.RequestID)
	if doc.BaZi != nil {
		fmt.Fprintf(&md, "Pillars **%s %s %s %s**, solar time %s\n\n",
			doc.BaZi.YearPillar, doc.BaZi.MonthPillar, doc.BaZi.DayPillar, doc.BaZi.HourPillar, doc.BaZi.SolarTime)
	}
	for _, line := range summaryLines(summary) {
		fmt.Fprintf(&md, "- %s\n", line)
	}
	md.WriteString("\n## Yearly points\n\n")
	rows := pointRows(doc.Points)
	for i, row := range rows {
		md.WriteString("| " + strings.Join(escapeCells(row), " | ") + " |\n")
		if i == 0 {
			md.WriteString(strings.Repeat("|---", len(row)) + "|\n")
		}
	}
	if doc.Report != nil {
		md.WriteString("\n")
		md.WriteString(reportMarkdown(doc.Report))
	}

	var body bytes.Buffer
	if err := newMarkdown().Convert([]byte(md.String()), &body); err != nil {
		return nil, fmt.Errorf("failed to render HTML: %w", err)
	}

	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Fateline K-line</title></head><body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	return page.Bytes(), nil
}

func summaryLines(s kline.Summary) []string {
	return []string{
		fmt.Sprintf("Points %d, final close %d", s.Points, s.FinalClose),
		fmt.Sprintf("Mean close %.1f, std dev %.1f, range %.0f-%.0f", s.MeanClose, s.StdDevClose, s.MinClose, s.MaxClose),
		fmt.Sprintf("Bullish %d, bearish %d, longest runs %d up / %d down", s.Bullish, s.Bearish, s.LongestBullRun, s.LongestBearRun),
	}
}

func pointRows(points []kline.Point) [][]string {
	rows := make([][]string, 0, len(points)+1)
	rows = append(rows, []string{"Age", "Year", "GanZhi", "DaYun", "Open", "Close", "High", "Low", "Score", "Trend"})
	for _, p := range points {
		rows = append(rows, []string{
			fmt.Sprint(p.Age), fmt.Sprint(p.Year), p.CycleLabel, p.PeriodLabel,
			fmt.Sprint(p.Open), fmt.Sprint(p.Close), fmt.Sprint(p.High), fmt.Sprint(p.Low),
			fmt.Sprint(p.Score), string(p.Trend),
		})
	}
	return rows
}

func escapeCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.ReplaceAll(c, "|", `\|`)
	}
	return out
}

// reportMarkdown lays the report sections out as markdown headings
func reportMarkdown(report *models.AnalysisReport) string {
	var md strings.Builder
	md.WriteString("# Report\n\n")
	for _, s := range report.Sections() {
		if s.Section == nil {
			continue
		}
		fmt.Fprintf(&md, "## %s %s (%d/10)\n\n", s.Title, s.Key, s.Section.Score)
		if summary := strings.TrimSpace(s.Section.Summary); summary != "" {
			fmt.Fprintf(&md, "**%s**\n\n", summary)
		}
		if content := strings.TrimSpace(s.Section.Content); content != "" {
			md.WriteString(content)
			md.WriteString("\n\n")
		}
	}
	return md.String()
}
