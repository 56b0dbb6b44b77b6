package domain

import "time"

// Priority classifies how important a requirement is within its framework.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// AssessmentFrequency defines how often a requirement must be re-assessed.
type AssessmentFrequency string

const (
	FrequencyContinuous AssessmentFrequency = "continuous"
	FrequencyMonthly    AssessmentFrequency = "monthly"
	FrequencyQuarterly  AssessmentFrequency = "quarterly"
	FrequencyAnnual     AssessmentFrequency = "annual"
)

// Interval returns the re-assessment interval for the frequency.
// Continuous requirements are re-checked daily.
func (f AssessmentFrequency) Interval() time.Duration {
	switch f {
	case FrequencyContinuous:
		return 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	case FrequencyQuarterly:
		return 90 * 24 * time.Hour
	case FrequencyAnnual:
		return 365 * 24 * time.Hour
	default:
		return 90 * 24 * time.Hour
	}
}

// FrameworkDomain groups requirements inside a framework. The weight is
// used when computing the framework maturity score.
type FrameworkDomain struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// ComplianceFramework is a versioned, immutable set of requirements.
// A regulatory update produces a new framework ID, never an in-place change.
type ComplianceFramework struct {
	ID             string            `json:"id"` // e.g., "soc2-2017"
	Name           string            `json:"name"`
	Version        string            `json:"version"`
	Domains        []FrameworkDomain `json:"domains"`
	RequirementIDs []string          `json:"requirement_ids"`
}

// DomainWeight returns the weight for a domain ID, or 0 if unknown.
func (f ComplianceFramework) DomainWeight(domainID string) float64 {
	for _, d := range f.Domains {
		if d.ID == domainID {
			return d.Weight
		}
	}
	return 0
}

// ComplianceRequirement is a single obligation within a framework.
type ComplianceRequirement struct {
	ID          string              `json:"id"`
	FrameworkID string              `json:"framework_id"`
	DomainID    string              `json:"domain_id"`
	Code        string              `json:"code"` // e.g., "CC6.1"
	Category    string              `json:"category"`
	Priority    Priority            `json:"priority"`
	Mandatory   bool                `json:"mandatory"`
	Testable    bool                `json:"testable"`
	Frequency   AssessmentFrequency `json:"frequency"`

	// RequiredDimensions are the evidence-dimension tags a control set must
	// produce for this requirement to be fully covered.
	RequiredDimensions []string `json:"required_dimensions"`

	// RelatedRequirementIDs point at equivalent requirements in other
	// frameworks, enabling cross-framework mapping inheritance.
	RelatedRequirementIDs []string `json:"related_requirement_ids,omitempty"`
}
