package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/jortega-grc/covmap/internal/core/ports"
)

// GapHandler serves gap analysis results and remediation status updates
type GapHandler struct {
	Gaps ports.GapRepository
}

// NewGapHandler creates a new GapHandler
func NewGapHandler(gaps ports.GapRepository) *GapHandler {
	return &GapHandler{Gaps: gaps}
}

// HandleGetResult returns the last persisted gap analysis for an
// (organization, framework) pair.
func (h *GapHandler) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	org, framework := vars["org"], vars["framework"]

	result, err := h.Gaps.GetResult(r.Context(), org, framework)
	if err != nil {
		http.Error(w, "Failed to get analysis result: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if result == nil {
		http.Error(w, "No analysis result available", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleListStatuses returns the remediation status per requirement,
// including resolved gaps that no longer appear in the result.
func (h *GapHandler) HandleListStatuses(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	statuses, err := h.Gaps.ListStatuses(r.Context(), vars["org"], vars["framework"])
	if err != nil {
		http.Error(w, "Failed to list statuses: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, statuses)
}

// HandleUpdateStatus transitions the remediation status of a single gap
func (h *GapHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	r.Body = http.MaxBytesReader(w, r.Body, 1048576)
	var body struct {
		Status domain.GapStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	switch body.Status {
	case domain.GapOpen, domain.GapInRemediation, domain.GapResolved, domain.GapVerified, domain.GapReopened:
	default:
		http.Error(w, "Invalid gap status", http.StatusBadRequest)
		return
	}

	err := h.Gaps.UpdateStatus(r.Context(), vars["org"], vars["framework"], vars["requirement"], body.Status)
	if err != nil {
		if errors.Is(err, domain.ErrGapNotFound) {
			http.Error(w, "Gap not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to update status: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"requirement_id": vars["requirement"],
		"status":         string(body.Status),
	})
}
