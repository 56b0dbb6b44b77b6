package storage

import (
	"encoding/json"

	"github.com/jortega-grc/covmap/internal/core/domain"
)

// toMappingModel converts a domain entity to its database model.
func toMappingModel(m domain.ControlMapping) MappingModel {
	dims, _ := json.Marshal(m.EvidenceDimensionsCovered)
	return MappingModel{
		ID:                m.ID,
		ControlID:         m.ControlID,
		RequirementID:     m.RequirementID,
		FrameworkID:       m.FrameworkID,
		OrganizationID:    m.OrganizationID,
		Type:              string(m.Type),
		Coverage:          m.Coverage,
		Confidence:        m.Confidence,
		Automated:         m.Automated,
		Status:            string(m.Status),
		DimensionsCovered: string(dims),
		VerifiedBy:        m.VerifiedBy,
		LastAssessed:      m.LastAssessed,
		NextAssessment:    m.NextAssessment,
	}
}

// toMappingDomain converts a database model to a domain entity.
func toMappingDomain(m MappingModel) domain.ControlMapping {
	var dims []string
	if m.DimensionsCovered != "" {
		json.Unmarshal([]byte(m.DimensionsCovered), &dims)
	}
	return domain.ControlMapping{
		ID:                        m.ID,
		ControlID:                 m.ControlID,
		RequirementID:             m.RequirementID,
		FrameworkID:               m.FrameworkID,
		OrganizationID:            m.OrganizationID,
		Type:                      domain.MappingType(m.Type),
		Coverage:                  m.Coverage,
		Confidence:                m.Confidence,
		Automated:                 m.Automated,
		Status:                    domain.MappingStatus(m.Status),
		EvidenceDimensionsCovered: dims,
		VerifiedBy:                m.VerifiedBy,
		LastAssessed:              m.LastAssessed,
		NextAssessment:            m.NextAssessment,
	}
}

// toGapModel converts a gap entry for one (org, framework) result.
func toGapModel(orgID, frameworkID string, g domain.Gap) GapModel {
	actions, _ := json.Marshal(g.RecommendedActions)
	return GapModel{
		OrganizationID: orgID,
		FrameworkID:    frameworkID,
		RequirementID:  g.RequirementID,
		Code:           g.RequirementCode,
		Severity:       string(g.Severity),
		Missing:        g.MissingCoverage,
		Mandatory:      g.Mandatory,
		Status:         string(g.Status),
		Actions:        string(actions),
		Effort:         g.EstimatedEffort,
	}
}

func toGapDomain(m GapModel) domain.Gap {
	var actions []string
	if m.Actions != "" {
		json.Unmarshal([]byte(m.Actions), &actions)
	}
	return domain.Gap{
		RequirementID:      m.RequirementID,
		RequirementCode:    m.Code,
		Severity:           domain.GapSeverity(m.Severity),
		MissingCoverage:    m.Missing,
		Mandatory:          m.Mandatory,
		Status:             domain.GapStatus(m.Status),
		RecommendedActions: actions,
		EstimatedEffort:    m.Effort,
	}
}

func toJobModel(j domain.Job) JobModel {
	errs, _ := json.Marshal(j.Errors)
	return JobModel{
		ID:             j.ID,
		OrganizationID: j.OrganizationID,
		FrameworkID:    j.FrameworkID,
		Generation:     j.Generation,
		ScopeControl:   j.Scope.ControlID,
		ScopeReq:       j.Scope.RequirementID,
		State:          string(j.State),
		PairsScored:    j.Progress.PairsScored,
		PairsTotal:     j.Progress.PairsTotal,
		Errors:         string(errs),
		Failure:        string(j.Failure),
		StartedAt:      j.StartedAt,
		FinishedAt:     j.FinishedAt,
	}
}

func toJobDomain(m JobModel) domain.Job {
	var errs []domain.PairError
	if m.Errors != "" {
		json.Unmarshal([]byte(m.Errors), &errs)
	}
	return domain.Job{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		FrameworkID:    m.FrameworkID,
		Generation:     m.Generation,
		Scope:          domain.JobScope{ControlID: m.ScopeControl, RequirementID: m.ScopeReq},
		State:          domain.JobState(m.State),
		Progress:       domain.JobProgress{PairsScored: m.PairsScored, PairsTotal: m.PairsTotal},
		Errors:         errs,
		Failure:        domain.FailureKind(m.Failure),
		StartedAt:      m.StartedAt,
		FinishedAt:     m.FinishedAt,
	}
}
