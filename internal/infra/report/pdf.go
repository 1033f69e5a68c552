package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/calyxbio/embryograde/internal/domain/review"
)

const disclaimer = "This report is generated from an automated AI assessment and is intended " +
	"to support, not replace, evaluation by a qualified embryologist. Grading and risk " +
	"figures are advisory only and must not be used as the sole basis for clinical decisions."

// Generator renders the fixed-layout assessment report.
type Generator struct{}

func NewGenerator() *Generator { return &Generator{} }

// Generate writes the report for a graded item to a temp file and returns
// its path. The caller owns the file (typically UploadAndCleanup).
func (g *Generator) Generate(it *review.Item) (string, error) {
	if it.Result == nil {
		return "", fmt.Errorf("item %s has no assessment to report", it.ID)
	}

	f, err := os.CreateTemp("", "embryograde-report-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create report temp file: %w", err)
	}
	defer f.Close()

	if err := g.Render(f, it); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Render writes the paged report to w.
func (g *Generator) Render(w io.Writer, it *review.Item) error {
	res := it.Result
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Embryo Assessment Report", false)

	pdf.SetFooterFunc(func() {
		pdf.SetY(-22)
		pdf.SetFont("Helvetica", "I", 7)
		pdf.SetTextColor(110, 110, 110)
		pdf.MultiCell(0, 3.2, disclaimer, "T", "L", false)
	})

	pdf.AddPage()

	// Header block
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 9, "Embryo Assessment Report", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(80, 80, 80)
	pdf.CellFormat(0, 5, fmt.Sprintf("Specimen: %s    Media: %s    Generated: %s",
		it.Name, it.MediaKind, time.Now().Format("2006-01-02 15:04 MST")), "", 1, "L", false, 0, "")
	if p := it.Patient; p != nil {
		line := make([]string, 0, 3)
		if p.Name != "" {
			line = append(line, "Patient: "+p.Name)
		}
		if p.MaternalAge > 0 {
			line = append(line, fmt.Sprintf("Maternal age: %d", p.MaternalAge))
		}
		if p.RetrievalDate != "" {
			line = append(line, "Retrieval: "+p.RetrievalDate)
		}
		pdf.CellFormat(0, 5, strings.Join(line, "    "), "", 1, "L", false, 0, "")
	}
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(3)

	// Score summary
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 7, "Score Summary", "B", 1, "L", false, 0, "")
	pdf.Ln(1)
	pdf.SetFont("Helvetica", "", 10)
	writeKV(pdf, "Gardner score", orDash(res.GardnerScore))
	writeKV(pdf, "Overall grade", orDash(res.Grade))
	writeKV(pdf, "Implantation probability", fmt.Sprintf("%.1f%%", res.ImplantationProbability))
	writeKV(pdf, "Viability score", fmt.Sprintf("%.1f", res.ViabilityScore))
	writeKV(pdf, "Aneuploidy risk", orDash(res.AneuploidyRisk))
	pdf.Ln(3)

	// Alerts
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 7, "Alerts", "B", 1, "L", false, 0, "")
	pdf.Ln(1)
	pdf.SetFont("Helvetica", "", 10)
	alerts := res.Anomalies
	if res.AneuploidyRisk == "High" {
		alerts = append([]string{"High aneuploidy risk flagged by the model"}, alerts...)
	}
	if len(alerts) == 0 {
		pdf.CellFormat(0, 5.5, "No anomalies flagged.", "", 1, "L", false, 0, "")
	}
	for _, a := range alerts {
		pdf.SetTextColor(160, 30, 30)
		pdf.CellFormat(0, 5.5, "- "+a, "", 1, "L", false, 0, "")
	}
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(3)

	// Timeline table
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 7, "Development Timeline", "B", 1, "L", false, 0, "")
	pdf.Ln(1)
	if len(res.Timeline) == 0 {
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(0, 5.5, "No timeline events reported.", "", 1, "L", false, 0, "")
	} else {
		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(235, 235, 235)
		pdf.CellFormat(25, 6, "hpi", "1", 0, "C", true, 0, "")
		pdf.CellFormat(45, 6, "Stage", "1", 0, "L", true, 0, "")
		pdf.CellFormat(120, 6, "Description", "1", 1, "L", true, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		for _, ev := range res.Timeline {
			pdf.CellFormat(25, 6, fmt.Sprintf("%.1f", ev.HPI), "1", 0, "C", false, 0, "")
			pdf.CellFormat(45, 6, ev.Stage, "1", 0, "L", false, 0, "")
			pdf.CellFormat(120, 6, ev.Description, "1", 1, "L", false, 0, "")
		}
	}
	pdf.Ln(3)

	// Morphology table
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 7, "Morphology", "B", 1, "L", false, 0, "")
	pdf.Ln(1)
	pdf.SetFont("Helvetica", "", 10)
	m := res.Morphology
	writeKV(pdf, "ICM grade", orDash(m.ICMGrade))
	writeKV(pdf, "TE grade", orDash(m.TEGrade))
	writeKV(pdf, "Expansion degree", fmt.Sprintf("%d", m.Expansion))
	writeKV(pdf, "Cell count", fmt.Sprintf("%d", m.CellCount))
	writeKV(pdf, "Fragmentation", fmt.Sprintf("%.1f%%", m.Fragmentation))
	writeKV(pdf, "Symmetry score", fmt.Sprintf("%.2f", m.SymmetryScore))
	pdf.Ln(3)

	// Findings & recommendation
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 7, "Findings", "B", 1, "L", false, 0, "")
	pdf.Ln(1)
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5, orDash(res.Findings), "", "L", false)
	if res.Recommendation != "" {
		pdf.Ln(2)
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(0, 5.5, "Recommendation", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 5, res.Recommendation, "", "L", false)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func writeKV(pdf *fpdf.Fpdf, key, value string) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(55, 5.5, key, "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 5.5, value, "", 1, "L", false, 0, "")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
