package ports

import (
	"context"

	"github.com/jortega-grc/covmap/internal/core/domain"
)

// Catalog provides read-only access to versioned framework definitions.
type Catalog interface {
	GetFramework(ctx context.Context, frameworkID string) (*domain.ComplianceFramework, error)
	ListFrameworks(ctx context.Context) ([]domain.ComplianceFramework, error)
	GetRequirement(ctx context.Context, requirementID string) (*domain.ComplianceRequirement, error)
	ListRequirements(ctx context.Context, frameworkID string) ([]domain.ComplianceRequirement, error)
}

// ControlRegistry exposes organization control snapshots and a change
// event stream that feeds incremental recomputation.
type ControlRegistry interface {
	ListControls(ctx context.Context, organizationID string) ([]domain.Control, error)
	GetControl(ctx context.Context, controlID string) (*domain.Control, error)
	// Subscribe returns a channel of change events. The channel is closed
	// when the registry shuts down.
	Subscribe() <-chan domain.ChangeEvent
}

// ScoreContext carries the cross-framework knowledge a scorer needs while
// remaining a pure function of its inputs.
type ScoreContext struct {
	// RelatedActiveMappings lists the IDs among the requirement's related
	// requirements that already hold an active mapping to the same control
	// in another framework.
	RelatedActiveMappings []string
}

// ScoreResult is the outcome of scoring one (control, requirement) pair.
type ScoreResult struct {
	Confidence        float64
	MatchedDimensions []string // subset of the requirement's required dimensions, sorted

	// Contributions to the confidence, used by the classifier to decide
	// whether the cross-framework equivalence bonus dominated.
	CategoryContribution  float64
	DimensionContribution float64
	EquivalenceBonus      float64
}

// Scorer is the pluggable similarity strategy. Implementations must be
// pure functions of their inputs: identical inputs yield identical results.
type Scorer interface {
	Score(control domain.Control, requirement domain.ComplianceRequirement, sctx ScoreContext) (ScoreResult, error)
}

// MappingRepository persists control mappings. Rows are append-mostly;
// superseded mappings keep their row for audit purposes.
type MappingRepository interface {
	// CommitGeneration atomically replaces the live mappings inside the
	// job scope with the new rows: prior live rows whose pair was re-scored
	// are superseded (or updated in place when identical), prior live rows
	// inside the scope that produced no new mapping are superseded too.
	// A failed commit leaves the prior state untouched.
	CommitGeneration(ctx context.Context, orgID, frameworkID string, scope domain.JobScope, mappings []domain.ControlMapping) error
	GetMapping(ctx context.Context, id string) (*domain.ControlMapping, error)
	UpdateMapping(ctx context.Context, m domain.ControlMapping) error
	ListByOrgFramework(ctx context.Context, orgID, frameworkID string) ([]domain.ControlMapping, error)
	ListActiveByRequirement(ctx context.Context, orgID, requirementID string) ([]domain.ControlMapping, error)
	// ListActiveByOrg returns all live mappings for an organization across
	// frameworks, used to build the cross-framework equivalence index.
	ListActiveByOrg(ctx context.Context, orgID string) ([]domain.ControlMapping, error)
	MarkStaleByControl(ctx context.Context, orgID, controlID string) error
	RetireByControl(ctx context.Context, orgID, controlID string) error
}

// GapRepository persists gap rows with their remediation status history.
type GapRepository interface {
	SaveResult(ctx context.Context, result domain.GapAnalysisResult) error
	GetResult(ctx context.Context, orgID, frameworkID string) (*domain.GapAnalysisResult, error)
	// ListStatuses returns the last persisted status per requirement ID,
	// the substrate for the reopen rule.
	ListStatuses(ctx context.Context, orgID, frameworkID string) (map[string]domain.GapStatus, error)
	UpdateStatus(ctx context.Context, orgID, frameworkID, requirementID string, status domain.GapStatus) error
}

// JobRepository persists recomputation job records for the status endpoint.
type JobRepository interface {
	SaveJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Job, error)
}

// JobNotifier receives job lifecycle events for UI/reporting consumers.
type JobNotifier interface {
	NotifyJob(job domain.Job)
	NotifyGapResult(result domain.GapAnalysisResult)
}
