package domain

import (
	"errors"
	"time"
)

// ErrGapNotFound is returned when a remediation status update targets a
// requirement with no persisted gap row.
var ErrGapNotFound = errors.New("gap not found")

// GapSeverity grades how urgent a coverage gap is.
type GapSeverity string

const (
	SeverityNone     GapSeverity = "none"
	SeverityLow      GapSeverity = "low"
	SeverityMedium   GapSeverity = "medium"
	SeverityHigh     GapSeverity = "high"
	SeverityCritical GapSeverity = "critical"
)

// severityRank orders severities for sorting and step-wise downgrades.
var severityRank = map[GapSeverity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric order of the severity (none=0 .. critical=4).
func (s GapSeverity) Rank() int {
	return severityRank[s]
}

// Downgrade returns the severity one step lower, bottoming out at none.
func (s GapSeverity) Downgrade() GapSeverity {
	switch s {
	case SeverityCritical:
		return SeverityHigh
	case SeverityHigh:
		return SeverityMedium
	case SeverityMedium:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// GapStatus tracks the remediation lifecycle of a gap.
type GapStatus string

const (
	GapOpen          GapStatus = "open"
	GapInRemediation GapStatus = "in_remediation"
	GapResolved      GapStatus = "resolved"
	GapVerified      GapStatus = "verified"
	GapReopened      GapStatus = "reopened"
)

// Gap is a requirement whose aggregate coverage is below 100%.
type Gap struct {
	RequirementID   string      `json:"requirement_id"`
	RequirementCode string      `json:"requirement_code"`
	Severity        GapSeverity `json:"severity"`
	MissingCoverage float64     `json:"missing_coverage"` // 100 - aggregate coverage
	Mandatory       bool        `json:"mandatory"`
	Status          GapStatus   `json:"status"`

	RecommendedActions []string `json:"recommended_actions,omitempty"`

	// EstimatedEffort is a rough remediation estimate in hours, used for
	// prioritization only.
	EstimatedEffort int `json:"estimated_effort"`
}

// GapAnalysisResult is the per (organization, framework) outcome of a gap
// analysis run.
type GapAnalysisResult struct {
	OrganizationID  string    `json:"organization_id"`
	FrameworkID     string    `json:"framework_id"`
	OverallCoverage float64   `json:"overall_coverage"` // 0-100
	MaturityScore   float64   `json:"maturity_score"`   // 0-100, domain-weighted
	Gaps            []Gap     `json:"gaps"`
	GeneratedAt     time.Time `json:"generated_at"`
}
