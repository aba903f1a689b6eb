package fate

import (
	"strings"

	"github.com/ternarybob/fateline/internal/models"
)

const (
	reportParseFailedMessage = "AI 输出非 JSON 或解析失败（请检查模型配置与输出）"
	reportCallFailedMessage  = "AI 报告生成失败（请检查 API Key 与模型配额）"
)

// ensureSections returns a report with all seven sections present. When
// fallbackMessage is set it fills every empty summary and content; scores stay 0
// so clients can tell a section is unavailable.
func ensureSections(report *models.AnalysisReport, fallbackMessage string) *models.AnalysisReport {
	safe := report
	if safe == nil {
		safe = &models.AnalysisReport{}
	}

	for _, slot := range []**models.ReportSection{
		&safe.Overall, &safe.Investment, &safe.Career, &safe.Wealth,
		&safe.Love, &safe.Health, &safe.Family,
	} {
		if *slot == nil {
			*slot = &models.ReportSection{}
		}
		if fallbackMessage != "" {
			applyFallbackMessage(*slot, fallbackMessage)
		}
	}

	return safe
}

func applyFallbackMessage(section *models.ReportSection, msg string) {
	if strings.TrimSpace(section.Summary) == "" {
		section.Summary = msg
	}
	if strings.TrimSpace(section.Content) == "" {
		section.Content = msg
	}
}
