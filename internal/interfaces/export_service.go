package interfaces

import (
	"github.com/ternarybob/fateline/internal/models"
)

// ExportService renders a cached K-line (and report, when present) for download
type ExportService interface {
	// RenderPDF returns a PDF with the candlestick chart, the point table and the report
	RenderPDF(doc *models.ExportDocument) ([]byte, error)

	// RenderHTML returns a standalone UTF-8 HTML page with the same content
	RenderHTML(doc *models.ExportDocument) ([]byte, error)
}
