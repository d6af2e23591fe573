package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// GridCell is one slot entry of a weekly grid document.
type GridCell struct {
	Primary   string
	Secondary string
}

// GridDocument lays out a period-by-day matrix for grid rendering.
type GridDocument struct {
	Title      string
	Subtitle   string
	DayHeaders []string
	RowLabels  []string
	// Cells is indexed [row][column] and must match RowLabels x DayHeaders.
	Cells [][]GridCell
}

// GridPDFExporter renders a weekly timetable matrix as a landscape PDF.
type GridPDFExporter struct{}

// NewGridPDFExporter constructs a grid PDF exporter.
func NewGridPDFExporter() *GridPDFExporter {
	return &GridPDFExporter{}
}

// Render creates a PDF page with one bordered cell per day/period slot.
func (e *GridPDFExporter) Render(doc GridDocument) ([]byte, error) {
	if len(doc.DayHeaders) == 0 || len(doc.RowLabels) == 0 {
		return nil, fmt.Errorf("grid requires day and period headers")
	}
	if len(doc.Cells) != len(doc.RowLabels) {
		return nil, fmt.Errorf("grid rows mismatch: %d cells for %d labels", len(doc.Cells), len(doc.RowLabels))
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.AddPage()

	if doc.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 9, doc.Title, "", 1, "C", false, 0, "")
	}
	if doc.Subtitle != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, doc.Subtitle, "", 1, "C", false, 0, "")
	}
	pdf.Ln(3)

	const labelWidth = 24.0
	const rowHeight = 16.0
	const lineHeight = rowHeight / 2
	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	colWidth := (pageWidth - left - right - labelWidth) / float64(len(doc.DayHeaders))

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(labelWidth, 8, "Period", "1", 0, "C", false, 0, "")
	for _, day := range doc.DayHeaders {
		pdf.CellFormat(colWidth, 8, day, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	for i, label := range doc.RowLabels {
		if len(doc.Cells[i]) != len(doc.DayHeaders) {
			return nil, fmt.Errorf("grid row %d mismatch: %d cells for %d days", i, len(doc.Cells[i]), len(doc.DayHeaders))
		}
		startY := pdf.GetY()
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(labelWidth, rowHeight, label, "1", 0, "C", false, 0, "")
		pdf.SetFont("Arial", "", 8)
		for _, cell := range doc.Cells[i] {
			x := pdf.GetX()
			secondary := cell.Secondary
			if secondary == "" {
				secondary = " "
			}
			primary := cell.Primary
			if primary == "" {
				primary = "-"
			}
			pdf.MultiCell(colWidth, lineHeight, primary+"\n"+secondary, "1", "C", false)
			pdf.SetXY(x+colWidth, startY)
		}
		pdf.SetXY(left, startY+rowHeight)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render grid pdf: %w", err)
	}
	return buf.Bytes(), nil
}
