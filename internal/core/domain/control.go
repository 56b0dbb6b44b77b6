package domain

import "time"

// Control is an organizational safeguard owned by the external Control
// Registry. The engine only reads snapshots of it; mutations arrive as
// ControlChange events.
type Control struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Category       string `json:"category"` // e.g., "iam", "encryption"
	Type           string `json:"type"`     // preventive, detective, corrective
	Description    string `json:"description"`

	// EvidenceDimensions are the evidence tags this control can produce.
	EvidenceDimensions []string `json:"evidence_dimensions"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ChangeKind distinguishes the entity a change event refers to.
type ChangeKind string

const (
	ChangeControl     ChangeKind = "control"
	ChangeRequirement ChangeKind = "requirement"
)

// ChangeEvent signals that a control or requirement changed and the
// affected (organization, framework) pairs need incremental recomputation.
type ChangeEvent struct {
	Kind           ChangeKind `json:"kind"`
	EntityID       string     `json:"entity_id"`
	OrganizationID string     `json:"organization_id,omitempty"` // empty for requirement changes
	FrameworkID    string     `json:"framework_id,omitempty"`    // empty for control changes
	OccurredAt     time.Time  `json:"occurred_at"`
}
