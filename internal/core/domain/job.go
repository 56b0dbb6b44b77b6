package domain

import "time"

// JobState is the lifecycle of a recomputation job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobCancelled JobState = "cancelled"
	JobFailed    JobState = "failed"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobCancelled || s == JobFailed
}

// FailureKind distinguishes job-level failure causes so callers can apply
// different retry policies.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureTimeout     FailureKind = "timeout"
	FailureCatalog     FailureKind = "catalog_unavailable"
	FailureRegistry    FailureKind = "registry_unavailable"
	FailurePersistence FailureKind = "persistence"
)

// JobScope bounds what a recomputation generation covers. An empty scope
// means a full (organization, framework) recompute; otherwise only the
// named entity is scored against the opposite set.
type JobScope struct {
	ControlID     string `json:"control_id,omitempty"`
	RequirementID string `json:"requirement_id,omitempty"`
}

// Full reports whether the scope covers the whole control x requirement space.
func (s JobScope) Full() bool {
	return s.ControlID == "" && s.RequirementID == ""
}

// Merge combines two scopes. Two different incremental scopes collapse to a
// full recompute; identical scopes stay incremental.
func (s JobScope) Merge(other JobScope) JobScope {
	if s == other {
		return s
	}
	return JobScope{}
}

// JobProgress is reported at batch checkpoints for UI consumers.
type JobProgress struct {
	PairsScored int `json:"pairs_scored"`
	PairsTotal  int `json:"pairs_total"`
}

// PairError records a recoverable per-pair scoring failure. Erroring pairs
// are omitted from the mapping set and surfaced for manual review.
type PairError struct {
	ControlID     string `json:"control_id"`
	RequirementID string `json:"requirement_id"`
	Message       string `json:"message"`
}

// Job is the handle returned by a recomputation trigger. Callers poll it or
// subscribe to the event stream for completion.
type Job struct {
	ID             string      `json:"id"`
	OrganizationID string      `json:"organization_id"`
	FrameworkID    string      `json:"framework_id"`
	Generation     uint64      `json:"generation"`
	Scope          JobScope    `json:"scope"`
	State          JobState    `json:"state"`
	Progress       JobProgress `json:"progress"`
	Errors         []PairError `json:"errors,omitempty"`
	Failure        FailureKind `json:"failure,omitempty"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at,omitempty"`
}
