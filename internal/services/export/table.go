package export

import (
	"github.com/go-pdf/fpdf"
)

const (
	pageWidth     = 180.0
	pageBottom    = 297.0 - 15.0
	tableFontSize = 8.0
	tableLineH    = 4.0
	maxCellLines  = 8
)

// renderTable draws rows (header first) with measured column widths and word wrap
func renderTable(pdf *fpdf.Fpdf, fonts fontSet, rows [][]string) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}
	numCols := len(rows[0])

	for i := range rows {
		for j := range rows[i] {
			rows[i][j] = fonts.text(rows[i][j])
		}
	}

	pdf.Ln(2)
	colWidths := columnWidths(pdf, fonts, rows, numCols)

	for i, row := range rows {
		style := ""
		if i == 0 {
			style = "B"
		}
		fonts.set(pdf, style, tableFontSize)

		lines := 1
		for j, cell := range row {
			if j < numCols {
				lines = max(lines, len(wrapText(pdf, cell, colWidths[j]-2)))
			}
		}
		lines = min(lines, maxCellLines)

		rowHeight := float64(lines)*tableLineH + 2
		startX := pdf.GetX()
		startY := pdf.GetY()
		if startY+rowHeight > pageBottom {
			pdf.AddPage()
			startY = pdf.GetY()
			if i > 0 {
				// repeat the header on the new page
				drawRow(pdf, fonts, rows[0], colWidths, startX, startY, 1, true)
				startY = pdf.GetY()
				fonts.set(pdf, "", tableFontSize)
			}
		}

		drawRow(pdf, fonts, row, colWidths, startX, startY, lines, i == 0)
	}

	pdf.Ln(3)
}

func drawRow(pdf *fpdf.Fpdf, fonts fontSet, row []string, colWidths []float64, startX, startY float64, lines int, header bool) {
	if header {
		fonts.set(pdf, "B", tableFontSize)
		pdf.SetFillColor(230, 230, 230)
	}

	rowHeight := float64(lines)*tableLineH + 2
	x := startX
	for j, cell := range row {
		if j >= len(colWidths) {
			break
		}
		if header {
			pdf.Rect(x, startY, colWidths[j], rowHeight, "FD")
		} else {
			pdf.Rect(x, startY, colWidths[j], rowHeight, "D")
		}

		wrapped := wrapText(pdf, cell, colWidths[j]-2)
		pdf.SetXY(x+1, startY+1)
		for k := 0; k < len(wrapped) && k < lines; k++ {
			pdf.SetX(x + 1)
			pdf.CellFormat(colWidths[j]-2, tableLineH, wrapped[k], "", 2, "L", false, 0, "")
		}
		x += colWidths[j]
	}

	pdf.SetFillColor(255, 255, 255)
	pdf.SetXY(startX, startY+rowHeight)
}

// columnWidths measures each column, clamps to [12, page/3] and scales to the page
func columnWidths(pdf *fpdf.Fpdf, fonts fontSet, rows [][]string, numCols int) []float64 {
	widths := make([]float64, numCols)

	for i, row := range rows {
		style := ""
		if i == 0 {
			style = "B"
		}
		fonts.set(pdf, style, tableFontSize)
		for j, cell := range row {
			if j < numCols {
				widths[j] = max(widths[j], pdf.GetStringWidth(cell)+4)
			}
		}
	}

	const minWidth = 12.0
	maxWidth := pageWidth / 3.0
	total := 0.0
	for i := range widths {
		widths[i] = min(max(widths[i], minWidth), maxWidth)
		total += widths[i]
	}

	scale := 1.0
	if total > pageWidth {
		scale = pageWidth / total
	} else if total < pageWidth*0.9 {
		scale = min((pageWidth*0.95)/total, 1.5)
	}
	for i := range widths {
		widths[i] *= scale
	}
	return widths
}

// wrapText breaks s into lines no wider than width. Words longer than a line
// (and unspaced CJK runs) are split by rune.
func wrapText(pdf *fpdf.Fpdf, s string, width float64) []string {
	if s == "" || width <= 0 {
		return []string{s}
	}

	var lines []string
	current := ""
	for _, r := range s {
		if r == '\n' {
			lines = append(lines, current)
			current = ""
			continue
		}
		next := current + string(r)
		if current != "" && pdf.GetStringWidth(next) > width {
			lines = append(lines, current)
			current = string(r)
			if r == ' ' {
				current = ""
			}
			continue
		}
		current = next
	}
	if current != "" || len(lines) == 0 {
		lines = append(lines, current)
	}
	return lines
}
