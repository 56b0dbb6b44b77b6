package domain

import (
	"errors"
	"fmt"
	"time"
)

// MappingType classifies how a control satisfies a requirement.
type MappingType string

const (
	MappingDirect       MappingType = "direct"
	MappingPartial      MappingType = "partial"
	MappingInherited    MappingType = "inherited"
	MappingCompensating MappingType = "compensating"
)

// MappingStatus tracks the lifecycle of a mapping row.
type MappingStatus string

const (
	StatusProposed   MappingStatus = "proposed"
	StatusVerified   MappingStatus = "verified"
	StatusStale      MappingStatus = "stale"
	StatusSuperseded MappingStatus = "superseded"
	StatusRetired    MappingStatus = "retired"
)

// Domain Errors
var (
	ErrConfidenceRange   = errors.New("confidence out of range [0,1]")
	ErrCoverageRange     = errors.New("coverage out of range [0,100]")
	ErrInvalidMapType    = errors.New("invalid mapping type")
	ErrInvalidMapStatus  = errors.New("invalid mapping status")
	ErrNotVerifiable     = errors.New("only proposed mappings can be verified")
	ErrMissingVerifier   = errors.New("verifier identity is required")
	ErrMappingNotFound   = errors.New("mapping not found")
	ErrFrameworkNotFound = errors.New("framework not found")
)

// ControlMapping links a control to a requirement with a classification,
// a coverage percentage and a scorer confidence. Rows are append-mostly:
// superseded and retired mappings keep their row for audit purposes.
type ControlMapping struct {
	ID             string        `json:"id"`
	ControlID      string        `json:"control_id"`
	RequirementID  string        `json:"requirement_id"`
	FrameworkID    string        `json:"framework_id"`
	OrganizationID string        `json:"organization_id"`
	Type           MappingType   `json:"type"`
	Coverage       float64       `json:"coverage"`   // 0-100
	Confidence     float64       `json:"confidence"` // 0.0-1.0
	Automated      bool          `json:"automated"`
	Status         MappingStatus `json:"status"`

	// EvidenceDimensionsCovered is the subset of the requirement's required
	// dimensions this control satisfies, kept sorted for determinism.
	EvidenceDimensionsCovered []string `json:"evidence_dimensions_covered"`

	VerifiedBy     string    `json:"verified_by,omitempty"`
	LastAssessed   time.Time `json:"last_assessed"`
	NextAssessment time.Time `json:"next_assessment"`
}

// PairKey identifies the (control, requirement) pair a mapping belongs to.
// At most one mapping per pair may be in a live status (proposed, verified
// or stale); all others must be superseded or retired.
func (m ControlMapping) PairKey() string {
	return m.ControlID + "|" + m.RequirementID
}

// IsActive reports whether the mapping contributes to aggregate coverage.
// Stale mappings still count until a recomputation supersedes them.
func (m ControlMapping) IsActive() bool {
	return m.Status != StatusSuperseded && m.Status != StatusRetired
}

// Validate checks range and enum invariants. Persisted mappings must
// always pass this.
func (m ControlMapping) Validate() error {
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("%w: %f", ErrConfidenceRange, m.Confidence)
	}
	if m.Coverage < 0 || m.Coverage > 100 {
		return fmt.Errorf("%w: %f", ErrCoverageRange, m.Coverage)
	}
	switch m.Type {
	case MappingDirect, MappingPartial, MappingInherited, MappingCompensating:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMapType, m.Type)
	}
	switch m.Status {
	case StatusProposed, StatusVerified, StatusStale, StatusSuperseded, StatusRetired:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMapStatus, m.Status)
	}
	return nil
}

// Supersede transitions the mapping out of the live set. A recomputation
// that produced a replacement for the same pair calls this on the old row.
func (m *ControlMapping) Supersede() {
	m.Status = StatusSuperseded
}

// MarkStale flags the mapping after its source control or requirement
// changed. The mapping stays active until recomputed.
func (m *ControlMapping) MarkStale() {
	if m.Status == StatusProposed || m.Status == StatusVerified {
		m.Status = StatusStale
	}
}

// Verify records a human confirmation of a proposed mapping.
func (m *ControlMapping) Verify(verifiedBy string) error {
	if verifiedBy == "" {
		return ErrMissingVerifier
	}
	if m.Status != StatusProposed {
		return fmt.Errorf("%w (status=%s)", ErrNotVerifiable, m.Status)
	}
	m.Status = StatusVerified
	m.VerifiedBy = verifiedBy
	return nil
}

// Retire removes the mapping from the active set, e.g. when the source
// control was deleted in the registry.
func (m *ControlMapping) Retire() {
	m.Status = StatusRetired
}
