package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jortega-grc/covmap/internal/adapters/registry"
	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/jortega-grc/covmap/internal/core/ports"
	"gorm.io/gorm"
)

// ControlHandler manages organization control snapshots. Mutations feed
// the change stream and trigger incremental recomputation downstream.
type ControlHandler struct {
	Registry *registry.GormRegistry
	Mappings ports.MappingRepository
}

// NewControlHandler creates a new ControlHandler
func NewControlHandler(reg *registry.GormRegistry, mappings ports.MappingRepository) *ControlHandler {
	return &ControlHandler{Registry: reg, Mappings: mappings}
}

// HandleList returns all controls of an organization
func (h *ControlHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	org := r.URL.Query().Get("org")
	if org == "" {
		http.Error(w, "org parameter is required", http.StatusBadRequest)
		return
	}

	controls, err := h.Registry.ListControls(r.Context(), org)
	if err != nil {
		http.Error(w, "Failed to list controls: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"controls": controls,
		"count":    len(controls),
	})
}

// HandleGet returns a single control snapshot
func (h *ControlHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	control, err := h.Registry.GetControl(r.Context(), id)
	if err != nil {
		http.Error(w, "Failed to get control: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if control == nil {
		http.Error(w, "Control not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, control)
}

// HandleUpsert stores a control snapshot. Existing mappings of the control
// are marked stale until the triggered recomputation refreshes them.
func (h *ControlHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)

	var control domain.Control
	if err := json.NewDecoder(r.Body).Decode(&control); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	control.ID = mux.Vars(r)["id"]

	if err := domain.ValidateControl(control); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Mappings.MarkStaleByControl(r.Context(), control.OrganizationID, control.ID); err != nil {
		http.Error(w, "Failed to mark mappings stale: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.Registry.UpsertControl(r.Context(), control); err != nil {
		http.Error(w, "Failed to store control: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, control)
}

// HandleDelete removes a control and retires its mappings
func (h *ControlHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	org := r.URL.Query().Get("org")
	if org == "" {
		http.Error(w, "org parameter is required", http.StatusBadRequest)
		return
	}

	if err := h.Mappings.RetireByControl(r.Context(), org, id); err != nil {
		http.Error(w, "Failed to retire mappings: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.Registry.DeleteControl(r.Context(), org, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Control not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to delete control: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
