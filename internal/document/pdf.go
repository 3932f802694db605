package document

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/summary"
)

// ContentType of rendered documents
const ContentType = "application/pdf"

// ErrEmptySummary is returned when there is no text to render
var ErrEmptySummary = errors.New("summary has no text")

// Table rows are set in a fixed-width font so the columns stay aligned
var tableRow = regexp.MustCompile(`^\s*(S\.No|\d+)\s{2,}`)

// Renderer lays out summaries as A4 PDF documents
type Renderer struct {
	brand string
}

// NewRenderer creates a renderer that prints brand in the page header
func NewRenderer(brand string) *Renderer {
	return &Renderer{brand: brand}
}

// Render returns s as a PDF document
func (r *Renderer) Render(s summary.Summary) ([]byte, error) {
	text := strings.TrimSpace(s.Text)
	if text == "" {
		return nil, ErrEmptySummary
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Product Inquiry Summary", true)
	pdf.SetAuthor(r.brand, true)
	pdf.SetSubject(s.SessionID, true)
	pdf.SetCatalogSort(true)
	if !s.CreatedAt.IsZero() {
		pdf.SetCreationDate(s.CreatedAt)
		pdf.SetModificationDate(s.CreatedAt)
	}
	pdf.SetMargins(18, 18, 18)
	pdf.SetAutoPageBreak(true, 18)

	// Core fonts are cp1252
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-14)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 6, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	if r.brand != "" {
		pdf.SetFont("Helvetica", "B", 16)
		pdf.SetTextColor(20, 40, 90)
		pdf.CellFormat(0, 10, tr(r.brand), "B", 1, "L", false, 0, "")
		pdf.Ln(4)
	}

	pdf.SetTextColor(0, 0, 0)
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t\r")
		switch {
		case line == "":
			pdf.Ln(3)
		case i == 0:
			pdf.SetFont("Helvetica", "B", 13)
			pdf.MultiCell(0, 7, tr(line), "", "L", false)
		case tableRow.MatchString(line):
			pdf.SetFont("Courier", "", 9)
			pdf.MultiCell(0, 5, tr(line), "", "L", false)
		case isHeading(line):
			pdf.SetFont("Helvetica", "B", 11)
			pdf.MultiCell(0, 6, tr(line), "", "L", false)
		default:
			pdf.SetFont("Helvetica", "", 11)
			pdf.MultiCell(0, 6, tr(line), "", "L", false)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func isHeading(line string) bool {
	upper := strings.ToUpper(line)
	return upper == line && strings.ContainsAny(line, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
}
