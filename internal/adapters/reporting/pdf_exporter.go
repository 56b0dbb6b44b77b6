package reporting

import (
	"bytes"
	"fmt"

	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders gap analysis results to PDF format
type PDFExporter struct{}

// NewPDFExporter creates a new PDF exporter instance
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// ExportGapReport generates a compliance gap report PDF from an analysis result
func (e *PDFExporter) ExportGapReport(result *domain.GapAnalysisResult, framework *domain.ComplianceFramework) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	e.addHeader(pdf, result, framework)
	e.addCoverageScore(pdf, result)
	e.addStatistics(pdf, result)
	e.addGapTable(pdf, result)
	e.addRecommendations(pdf, result)
	e.addFooter(pdf, result)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// addHeader adds the report header
func (e *PDFExporter) addHeader(pdf *gofpdf.Fpdf, result *domain.GapAnalysisResult, framework *domain.ComplianceFramework) {
	pdf.SetFont("Arial", "B", 24)
	pdf.SetTextColor(0, 51, 102) // Dark blue
	pdf.CellFormat(0, 15, "Compliance Gap Report", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 14)
	pdf.SetTextColor(100, 100, 100) // Gray
	title := framework.Name
	if framework.Version != "" {
		title = fmt.Sprintf("%s (%s)", framework.Name, framework.Version)
	}
	pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(120, 120, 120)
	pdf.CellFormat(0, 6, fmt.Sprintf("Organization: %s", result.OrganizationID), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s", result.GeneratedAt.Format("2006-01-02 15:04")), "", 1, "L", false, 0, "")

	pdf.Ln(8)
}

// addCoverageScore adds the prominent coverage display
func (e *PDFExporter) addCoverageScore(pdf *gofpdf.Fpdf, result *domain.GapAnalysisResult) {
	r, g, b := e.getCoverageColor(result.OverallCoverage)

	pdf.SetFillColor(r, g, b)
	pdf.Rect(20, pdf.GetY(), 170, 30, "F")

	y := pdf.GetY()

	pdf.SetFont("Arial", "B", 36)
	pdf.SetTextColor(255, 255, 255) // White
	pdf.SetXY(25, y+5)
	pdf.CellFormat(80, 20, fmt.Sprintf("%.1f%%", result.OverallCoverage), "", 0, "L", false, 0, "")

	pdf.SetFont("Arial", "B", 14)
	pdf.SetXY(110, y+5)
	pdf.CellFormat(80, 10, "Overall Coverage", "", 0, "L", false, 0, "")

	pdf.SetFont("Arial", "", 12)
	pdf.SetXY(110, y+16)
	pdf.CellFormat(80, 10, fmt.Sprintf("Maturity Score: %.1f", result.MaturityScore), "", 0, "L", false, 0, "")

	pdf.SetY(y + 35)
	pdf.Ln(5)
}

// getCoverageColor returns RGB color based on coverage percentage
func (e *PDFExporter) getCoverageColor(coverage float64) (r, g, b int) {
	switch {
	case coverage >= 90:
		return 52, 199, 89 // Green
	case coverage >= 70:
		return 255, 204, 0 // Yellow
	case coverage >= 40:
		return 255, 149, 0 // Orange
	default:
		return 220, 53, 69 // Red
	}
}

// addStatistics adds gap counts by severity
func (e *PDFExporter) addStatistics(pdf *gofpdf.Fpdf, result *domain.GapAnalysisResult) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 10, "Gap Overview", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	counts := map[domain.GapSeverity]int{}
	mandatory := 0
	for _, gap := range result.Gaps {
		counts[gap.Severity]++
		if gap.Mandatory {
			mandatory++
		}
	}

	stats := []struct {
		label string
		value string
		color []int
	}{
		{"Total Gaps", fmt.Sprintf("%d", len(result.Gaps)), []int{0, 102, 204}},
		{"Mandatory Gaps", fmt.Sprintf("%d", mandatory), []int{0, 102, 204}},
		{"Critical", fmt.Sprintf("%d", counts[domain.SeverityCritical]), []int{220, 53, 69}},
		{"High", fmt.Sprintf("%d", counts[domain.SeverityHigh]), []int{255, 149, 0}},
		{"Medium", fmt.Sprintf("%d", counts[domain.SeverityMedium]), []int{255, 204, 0}},
		{"Low", fmt.Sprintf("%d", counts[domain.SeverityLow]), []int{52, 199, 89}},
	}

	// Display in 2 columns
	colWidth := 85.0
	for i, stat := range stats {
		x := 20.0
		if i%2 == 1 {
			x = 105.0
		}

		pdf.SetXY(x, pdf.GetY())

		pdf.SetFont("Arial", "", 10)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(50, 7, stat.label+":", "", 0, "L", false, 0, "")

		pdf.SetFont("Arial", "B", 11)
		pdf.SetTextColor(stat.color[0], stat.color[1], stat.color[2])
		pdf.CellFormat(colWidth-50, 7, stat.value, "", 0, "R", false, 0, "")

		if i%2 == 1 {
			pdf.Ln(7)
		}
	}

	pdf.Ln(10)
}

// addGapTable adds the open gaps table, severity-ordered
func (e *PDFExporter) addGapTable(pdf *gofpdf.Fpdf, result *domain.GapAnalysisResult) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 10, "Coverage Gaps", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if len(result.Gaps) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(0, 7, "No coverage gaps identified", "", 1, "L", false, 0, "")
		pdf.Ln(5)
		return
	}

	// Table header
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(60, 60, 60)

	pdf.CellFormat(30, 8, "Requirement", "1", 0, "L", true, 0, "")
	pdf.CellFormat(25, 8, "Severity", "1", 0, "C", true, 0, "")
	pdf.CellFormat(25, 8, "Missing %", "1", 0, "C", true, 0, "")
	pdf.CellFormat(25, 8, "Mandatory", "1", 0, "C", true, 0, "")
	pdf.CellFormat(35, 8, "Status", "1", 0, "C", true, 0, "")
	pdf.CellFormat(30, 8, "Effort (h)", "1", 1, "C", true, 0, "")

	// Table rows
	pdf.SetFont("Arial", "", 9)
	for _, gap := range result.Gaps {
		if pdf.GetY() > 260 {
			pdf.AddPage()
		}

		r, g, b := e.getSeverityColor(gap.Severity)

		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(30, 7, gap.RequirementCode, "1", 0, "L", false, 0, "")

		pdf.SetTextColor(r, g, b)
		pdf.CellFormat(25, 7, string(gap.Severity), "1", 0, "C", false, 0, "")

		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(25, 7, fmt.Sprintf("%.0f", gap.MissingCoverage), "1", 0, "C", false, 0, "")

		mandatory := "no"
		if gap.Mandatory {
			mandatory = "yes"
		}
		pdf.CellFormat(25, 7, mandatory, "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 7, string(gap.Status), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 7, fmt.Sprintf("%d", gap.EstimatedEffort), "1", 1, "C", false, 0, "")
	}

	pdf.Ln(8)
}

// getSeverityColor returns RGB color based on gap severity
func (e *PDFExporter) getSeverityColor(severity domain.GapSeverity) (r, g, b int) {
	switch severity {
	case domain.SeverityCritical:
		return 220, 53, 69 // Red
	case domain.SeverityHigh:
		return 255, 149, 0 // Orange
	case domain.SeverityMedium:
		return 255, 204, 0 // Yellow
	default:
		return 52, 199, 89 // Green
	}
}

// addRecommendations lists remediation actions for the top gaps
func (e *PDFExporter) addRecommendations(pdf *gofpdf.Fpdf, result *domain.GapAnalysisResult) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 10, "Priority Recommendations", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	shown := 0
	for _, gap := range result.Gaps {
		if len(gap.RecommendedActions) == 0 {
			continue
		}
		if shown >= 5 { // Limit to 5 gaps
			break
		}
		shown++

		if pdf.GetY() > 250 {
			pdf.AddPage()
		}

		// Severity badge
		r, g, b := e.getSeverityColor(gap.Severity)
		pdf.SetFillColor(r, g, b)
		pdf.SetTextColor(255, 255, 255)
		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(25, 6, string(gap.Severity), "", 0, "C", true, 0, "")

		pdf.SetFont("Arial", "B", 11)
		pdf.SetTextColor(0, 51, 102)
		pdf.CellFormat(0, 6, "  "+gap.RequirementCode, "", 1, "L", false, 0, "")
		pdf.Ln(1)

		pdf.SetFont("Arial", "", 9)
		pdf.SetTextColor(60, 60, 60)
		for _, action := range gap.RecommendedActions {
			if len(action) > 100 {
				action = action[:97] + "..."
			}
			pdf.CellFormat(5, 5, "", "", 0, "L", false, 0, "")
			pdf.CellFormat(0, 5, "- "+action, "", 1, "L", false, 0, "")
		}

		pdf.SetFont("Arial", "I", 8)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(0, 5, fmt.Sprintf("Estimated Effort: %dh", gap.EstimatedEffort), "", 1, "L", false, 0, "")

		pdf.Ln(5)
	}

	if shown == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(0, 7, "No remediation actions pending", "", 1, "L", false, 0, "")
	}
}

// addFooter adds the report footer
func (e *PDFExporter) addFooter(pdf *gofpdf.Fpdf, result *domain.GapAnalysisResult) {
	pdf.SetY(-20)

	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(20, pdf.GetY(), 190, pdf.GetY())
	pdf.Ln(3)

	pdf.SetFont("Arial", "I", 8)
	pdf.SetTextColor(120, 120, 120)
	footerText := fmt.Sprintf("covmap | %s / %s", result.OrganizationID, result.FrameworkID)
	pdf.CellFormat(0, 5, footerText, "", 1, "C", false, 0, "")
}
