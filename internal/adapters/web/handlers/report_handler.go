package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jortega-grc/covmap/internal/adapters/reporting"
	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/jortega-grc/covmap/internal/core/ports"
)

// ReportHandler renders gap analysis results as downloadable reports
type ReportHandler struct {
	Gaps        ports.GapRepository
	Catalog     ports.Catalog
	PDFExporter *reporting.PDFExporter
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(gaps ports.GapRepository, catalog ports.Catalog, exporter *reporting.PDFExporter) *ReportHandler {
	return &ReportHandler{Gaps: gaps, Catalog: catalog, PDFExporter: exporter}
}

// HandleDownloadGapReport serves the last gap analysis as a PDF attachment
func (h *ReportHandler) HandleDownloadGapReport(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	org, frameworkID := vars["org"], vars["framework"]

	result, err := h.Gaps.GetResult(r.Context(), org, frameworkID)
	if err != nil {
		http.Error(w, "Failed to get analysis result: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if result == nil {
		http.Error(w, "No analysis result available", http.StatusNotFound)
		return
	}

	framework, err := h.Catalog.GetFramework(r.Context(), frameworkID)
	if err != nil {
		if errors.Is(err, domain.ErrFrameworkNotFound) {
			http.Error(w, "Framework not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get framework: "+err.Error(), http.StatusInternalServerError)
		return
	}

	pdfBytes, err := h.PDFExporter.ExportGapReport(result, framework)
	if err != nil {
		http.Error(w, "Failed to generate PDF: "+err.Error(), http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("covmap_gap_report_%s_%s.pdf", frameworkID, time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Write(pdfBytes)
}
