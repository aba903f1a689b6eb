package export

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-pdf/fpdf"
)

const unicodeFamily = "fateline"

// fontSet picks between the core Latin fonts and a loaded UTF-8 font. Core
// fonts cannot draw CJK, so text is reduced to ASCII when no font is loaded.
type fontSet struct {
	family  string
	unicode bool
}

func loadFonts(pdf *fpdf.Fpdf, fontPath string) (fontSet, error) {
	if fontPath == "" {
		return fontSet{family: "Arial"}, nil
	}

	data, err := os.ReadFile(fontPath)
	if err != nil {
		return fontSet{}, fmt.Errorf("failed to read export font: %w", err)
	}

	pdf.AddUTF8FontFromBytes(unicodeFamily, "", data)
	if err := pdf.Error(); err != nil {
		return fontSet{}, fmt.Errorf("failed to load export font %s: %w", fontPath, err)
	}
	return fontSet{family: unicodeFamily, unicode: true}, nil
}

// set selects the family at size. Only the regular face of a UTF-8 font is
// registered, so styles are dropped for it.
func (f fontSet) set(pdf *fpdf.Fpdf, style string, size float64) {
	if f.unicode {
		style = ""
	}
	pdf.SetFont(f.family, style, size)
}

func (f fontSet) setMono(pdf *fpdf.Fpdf, size float64) {
	if f.unicode {
		pdf.SetFont(f.family, "", size)
		return
	}
	pdf.SetFont("Courier", "", size)
}

// text prepares s for the current font
func (f fontSet) text(s string) string {
	if f.unicode {
		return s
	}
	return asciiOnly(s)
}

func asciiOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || (r >= 0x20 && r < 0x7f) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
