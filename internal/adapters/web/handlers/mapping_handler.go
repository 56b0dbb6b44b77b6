package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/jortega-grc/covmap/internal/core/ports"
)

// MappingHandler serves control mapping queries and review actions
type MappingHandler struct {
	Mappings ports.MappingRepository
}

// NewMappingHandler creates a new MappingHandler
func NewMappingHandler(mappings ports.MappingRepository) *MappingHandler {
	return &MappingHandler{Mappings: mappings}
}

// HandleList returns mappings for an (organization, framework) pair.
// With ?requirement=<id> it narrows to the active mappings of one requirement.
func (h *MappingHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	org := r.URL.Query().Get("org")
	framework := r.URL.Query().Get("framework")
	requirement := r.URL.Query().Get("requirement")

	if org == "" {
		http.Error(w, "org parameter is required", http.StatusBadRequest)
		return
	}

	var (
		mappings []domain.ControlMapping
		err      error
	)
	switch {
	case requirement != "":
		mappings, err = h.Mappings.ListActiveByRequirement(r.Context(), org, requirement)
	case framework != "":
		mappings, err = h.Mappings.ListByOrgFramework(r.Context(), org, framework)
	default:
		mappings, err = h.Mappings.ListActiveByOrg(r.Context(), org)
	}
	if err != nil {
		http.Error(w, "Failed to list mappings: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mappings": mappings,
		"count":    len(mappings),
	})
}

// HandleGet returns a single mapping by ID
func (h *MappingHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	m, err := h.Mappings.GetMapping(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrMappingNotFound) {
			http.Error(w, "Mapping not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get mapping: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// HandleVerify records a human confirmation of a proposed mapping
func (h *MappingHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	r.Body = http.MaxBytesReader(w, r.Body, 1048576)
	var body struct {
		VerifiedBy string `json:"verified_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	m, err := h.Mappings.GetMapping(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrMappingNotFound) {
			http.Error(w, "Mapping not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get mapping: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if err := m.Verify(body.VerifiedBy); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	if err := h.Mappings.UpdateMapping(r.Context(), *m); err != nil {
		http.Error(w, "Failed to update mapping: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// HandleRetire removes a mapping from the active set
func (h *MappingHandler) HandleRetire(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	m, err := h.Mappings.GetMapping(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrMappingNotFound) {
			http.Error(w, "Mapping not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get mapping: "+err.Error(), http.StatusInternalServerError)
		return
	}

	m.Retire()
	if err := h.Mappings.UpdateMapping(r.Context(), *m); err != nil {
		http.Error(w, "Failed to update mapping: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
