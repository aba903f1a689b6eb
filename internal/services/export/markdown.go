package export

import (
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// newMarkdown returns the goldmark instance shared by the PDF and HTML paths
func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify),
	)
}

// markdownRenderer writes a goldmark AST onto the current PDF page
type markdownRenderer struct {
	pdf       *fpdf.Fpdf
	fonts     fontSet
	source    []byte
	size      float64
	bold      bool
	italic    bool
	listLevel int
}

func renderMarkdown(pdf *fpdf.Fpdf, fonts fontSet, markdown string, size float64) error {
	source := []byte(markdown)
	doc := newMarkdown().Parser().Parse(text.NewReader(source))

	r := &markdownRenderer{
		pdf:    pdf,
		fonts:  fonts,
		source: source,
		size:   size,
	}
	r.updateFont()
	if err := ast.Walk(doc, r.walk); err != nil {
		return err
	}
	return pdf.Error()
}

func (r *markdownRenderer) updateFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.fonts.set(r.pdf, style, r.size)
}

func (r *markdownRenderer) write(s string) {
	if s = r.fonts.text(s); s != "" {
		r.pdf.Write(5, s)
	}
}

func (r *markdownRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch n.Kind() {
	case ast.KindHeading:
		return r.handleHeading(n.(*ast.Heading), entering)
	case ast.KindParagraph:
		if !entering {
			r.pdf.Ln(7)
		}
	case ast.KindText:
		if entering {
			t := n.(*ast.Text)
			r.write(string(t.Segment.Value(r.source)))
			if t.SoftLineBreak() {
				r.write(" ")
			}
		}
	case ast.KindEmphasis:
		if n.(*ast.Emphasis).Level == 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.updateFont()
	case ast.KindCodeSpan:
		return r.handleCodeSpan(n, entering)
	case ast.KindFencedCodeBlock, ast.KindCodeBlock:
		if entering {
			r.renderCodeBlock(n.Lines())
			return ast.WalkSkipChildren, nil
		}
	case ast.KindList:
		r.handleList(entering)
	case ast.KindListItem:
		if entering {
			r.pdf.Ln(5)
			r.pdf.SetX(15 + float64(r.listLevel)*5.0)
			r.write("- ")
		}
	case ast.KindThematicBreak:
		if entering {
			r.pdf.Ln(2)
			r.pdf.Line(15, r.pdf.GetY(), 195, r.pdf.GetY())
			r.pdf.Ln(2)
		}
	case extast.KindTable:
		if entering {
			renderTable(r.pdf, r.fonts, tableRows(n.(*extast.Table), r.source))
			r.updateFont()
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

func (r *markdownRenderer) handleHeading(n *ast.Heading, entering bool) (ast.WalkStatus, error) {
	if !entering {
		r.pdf.Ln(6)
		r.updateFont()
		return ast.WalkContinue, nil
	}

	r.pdf.Ln(4)
	size := 10.0
	switch n.Level {
	case 1:
		size = 14
	case 2:
		size = 12
	case 3:
		size = 11
	}
	r.fonts.set(r.pdf, "B", size)
	return ast.WalkContinue, nil
}

func (r *markdownRenderer) handleCodeSpan(n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	r.fonts.setMono(r.pdf, r.size)
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			r.write(string(t.Segment.Value(r.source)))
		}
	}
	r.updateFont()
	return ast.WalkSkipChildren, nil
}

func (r *markdownRenderer) renderCodeBlock(lines *text.Segments) {
	r.pdf.Ln(2)
	r.fonts.setMono(r.pdf, r.size)
	r.pdf.SetFillColor(245, 245, 245)

	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		r.pdf.MultiCell(0, 5, r.fonts.text(strings.TrimRight(string(line.Value(r.source)), "\n")), "", "L", true)
	}

	r.pdf.SetFillColor(255, 255, 255)
	r.updateFont()
	r.pdf.Ln(2)
}

func (r *markdownRenderer) handleList(entering bool) {
	if entering {
		r.listLevel++
		return
	}
	r.listLevel--
	if r.listLevel == 0 {
		r.pdf.Ln(2)
	}
}

// tableRows flattens a goldmark table (header first) into cell text
func tableRows(n *extast.Table, source []byte) [][]string {
	var rows [][]string
	var collect func(node ast.Node)
	collect = func(node ast.Node) {
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			switch child.(type) {
			case *extast.TableHeader, *extast.TableRow:
				if child.FirstChild() != nil {
					if _, nested := child.FirstChild().(*extast.TableRow); nested {
						collect(child)
						continue
					}
				}
				var row []string
				for cell := child.FirstChild(); cell != nil; cell = cell.NextSibling() {
					row = append(row, cellText(cell, source))
				}
				rows = append(rows, row)
			}
		}
	}
	collect(n)
	return rows
}

func cellText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if t, ok := node.(*ast.Text); ok && entering {
			b.Write(t.Segment.Value(source))
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
