package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jortega-grc/covmap/internal/adapters/catalog"
	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/jortega-grc/covmap/internal/core/ports"
)

// CatalogHandler serves framework catalog queries and the seed reload
// trigger that feeds requirement changes into incremental recomputation
type CatalogHandler struct {
	Catalog ports.Catalog
	Loader  *catalog.SeedLoader
	SeedDir string
}

// NewCatalogHandler creates a new CatalogHandler
func NewCatalogHandler(cat ports.Catalog, loader *catalog.SeedLoader, seedDir string) *CatalogHandler {
	return &CatalogHandler{Catalog: cat, Loader: loader, SeedDir: seedDir}
}

// HandleListFrameworks returns all framework versions
func (h *CatalogHandler) HandleListFrameworks(w http.ResponseWriter, r *http.Request) {
	frameworks, err := h.Catalog.ListFrameworks(r.Context())
	if err != nil {
		http.Error(w, "Failed to list frameworks: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"frameworks": frameworks,
		"count":      len(frameworks),
	})
}

// HandleGetFramework returns one framework with its requirement IDs
func (h *CatalogHandler) HandleGetFramework(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	fw, err := h.Catalog.GetFramework(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrFrameworkNotFound) {
			http.Error(w, "Framework not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get framework: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, fw)
}

// HandleListRequirements returns the requirements of a framework
func (h *CatalogHandler) HandleListRequirements(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	reqs, err := h.Catalog.ListRequirements(r.Context(), id)
	if err != nil {
		http.Error(w, "Failed to list requirements: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requirements": reqs,
		"count":        len(reqs),
	})
}

// HandleReload re-reads the seed directory. New and changed requirements
// are published as change events so affected pairs recompute incrementally.
func (h *CatalogHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if h.Loader == nil || h.SeedDir == "" {
		http.Error(w, "No seed directory configured", http.StatusServiceUnavailable)
		return
	}

	if err := h.Loader.LoadFromDir(r.Context(), h.SeedDir); err != nil {
		http.Error(w, "Failed to reload catalog: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
