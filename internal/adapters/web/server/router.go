package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jortega-grc/covmap/internal/adapters/web/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(s *Server) http.Handler {
	r := mux.NewRouter()

	// Rate limiter for the expensive recomputation trigger, budgeted per
	// (organization, framework) pair
	recomputeLimiter := middleware.NewLimiter(10, 1*time.Minute)
	limit := middleware.RateLimit(recomputeLimiter, middleware.PairKey)

	// WebSocket endpoint for job progress and analysis events
	r.HandleFunc("/ws", s.WSManager.HandleWebSocket)

	api := r.PathPrefix("/api").Subrouter()

	// Framework catalog (read-only)
	api.HandleFunc("/frameworks", s.CatalogHandler.HandleListFrameworks).Methods(http.MethodGet)
	api.HandleFunc("/frameworks/{id}", s.CatalogHandler.HandleGetFramework).Methods(http.MethodGet)
	api.HandleFunc("/frameworks/{id}/requirements", s.CatalogHandler.HandleListRequirements).Methods(http.MethodGet)
	api.HandleFunc("/catalog/reload", s.CatalogHandler.HandleReload).Methods(http.MethodPost)

	// Control registry
	api.HandleFunc("/controls", s.ControlHandler.HandleList).Methods(http.MethodGet)
	api.HandleFunc("/controls/{id}", s.ControlHandler.HandleGet).Methods(http.MethodGet)
	api.HandleFunc("/controls/{id}", s.ControlHandler.HandleUpsert).Methods(http.MethodPut)
	api.HandleFunc("/controls/{id}", s.ControlHandler.HandleDelete).Methods(http.MethodDelete)

	// Mappings
	api.HandleFunc("/mappings", s.MappingHandler.HandleList).Methods(http.MethodGet)
	api.HandleFunc("/mappings/{id}", s.MappingHandler.HandleGet).Methods(http.MethodGet)
	api.HandleFunc("/mappings/{id}/verify", s.MappingHandler.HandleVerify).Methods(http.MethodPost)
	api.HandleFunc("/mappings/{id}/retire", s.MappingHandler.HandleRetire).Methods(http.MethodPost)

	// Gap analysis results and remediation workflow
	api.HandleFunc("/gaps/{org}/{framework}", s.GapHandler.HandleGetResult).Methods(http.MethodGet)
	api.HandleFunc("/gaps/{org}/{framework}/statuses", s.GapHandler.HandleListStatuses).Methods(http.MethodGet)
	api.HandleFunc("/gaps/{org}/{framework}/{requirement}/status", s.GapHandler.HandleUpdateStatus).Methods(http.MethodPut)

	// Recomputation jobs
	api.Handle("/recompute/{org}/{framework}", limit(http.HandlerFunc(s.JobHandler.HandleTrigger))).Methods(http.MethodPost)
	api.HandleFunc("/recompute/{org}/{framework}", s.JobHandler.HandleStatus).Methods(http.MethodGet)
	api.HandleFunc("/recompute/{org}/{framework}", s.JobHandler.HandleCancel).Methods(http.MethodDelete)
	api.HandleFunc("/jobs", s.JobHandler.HandleList).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.JobHandler.HandleGet).Methods(http.MethodGet)

	// Reports
	api.HandleFunc("/reports/gap/{org}/{framework}/download", s.ReportHandler.HandleDownloadGapReport).Methods(http.MethodGet)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Liveness probe
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
