package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/jortega-grc/covmap/internal/core/ports"
	"github.com/jortega-grc/covmap/internal/core/services/recompute"
)

// JobHandler exposes recomputation triggers and job status
type JobHandler struct {
	Coordinator *recompute.Coordinator
	Jobs        ports.JobRepository
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(coordinator *recompute.Coordinator, jobs ports.JobRepository) *JobHandler {
	return &JobHandler{Coordinator: coordinator, Jobs: jobs}
}

// HandleTrigger starts or merges a recomputation for the (organization,
// framework) pair in the path. An optional JSON body narrows the scope.
// Returns 202 with the job handle; a trigger while a run is in flight
// merges into the pending generation instead of starting a second worker.
func (h *JobHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	org, frameworkID := vars["org"], vars["framework"]

	if !domain.IsValidID(org) || !domain.IsValidID(frameworkID) {
		http.Error(w, "Invalid organization or framework ID", http.StatusBadRequest)
		return
	}

	var body struct {
		Scope domain.JobScope `json:"scope"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	job, started := h.Coordinator.Trigger(org, frameworkID, body.Scope)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job":     job,
		"started": started,
	})
}

// HandleCancel cancels the pending generation of a running recomputation
func (h *JobHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if h.Coordinator.CancelPending(vars["org"], vars["framework"]) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
		return
	}
	http.Error(w, "No pending recomputation", http.StatusNotFound)
}

// HandleStatus returns the in-flight job for an (organization, framework)
// pair, falling back to the last persisted job.
func (h *JobHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if job, ok := h.Coordinator.Job(vars["org"], vars["framework"]); ok {
		writeJSON(w, http.StatusOK, job)
		return
	}
	http.Error(w, "No recomputation recorded", http.StatusNotFound)
}

// HandleGet returns a persisted job record by ID
func (h *JobHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := h.Jobs.GetJob(r.Context(), id)
	if err != nil {
		http.Error(w, "Failed to get job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// HandleList returns recent job records, newest first
func (h *JobHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	jobs, err := h.Jobs.ListRecent(r.Context(), limit)
	if err != nil {
		http.Error(w, "Failed to list jobs: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}
