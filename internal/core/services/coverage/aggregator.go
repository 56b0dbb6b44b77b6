package coverage

import (
	"sort"
	"strings"

	"github.com/jortega-grc/covmap/internal/core/domain"
)

// Aggregation is the per-requirement coverage rollup.
type Aggregation struct {
	RequirementID     string
	Coverage          float64 // 0-100
	CoveredDimensions []string
}

// Aggregator unions per-requirement coverage across active mappings.
// It is a pure computation: idempotent over an unchanged mapping set, and
// monotone under adding/removing active mappings.
type Aggregator struct{}

// NewAggregator creates an aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Aggregate computes the coverage for one requirement from its active
// mappings. Coverage is the size of the union of covered dimensions over
// the required set, never a sum, so overlapping controls are not double
// counted and the result is capped at 100.
func (a *Aggregator) Aggregate(req domain.ComplianceRequirement, mappings []domain.ControlMapping) Aggregation {
	agg := Aggregation{RequirementID: req.ID}

	required := make(map[string]bool, len(req.RequiredDimensions))
	for _, d := range req.RequiredDimensions {
		required[normalize(d)] = true
	}

	union := make(map[string]bool)
	maxSingle := 0.0
	for _, m := range mappings {
		if !m.IsActive() || m.RequirementID != req.ID {
			continue
		}
		for _, d := range m.EvidenceDimensionsCovered {
			tag := normalize(d)
			if required[tag] {
				union[tag] = true
			}
		}
		if m.Coverage > maxSingle {
			maxSingle = m.Coverage
		}
	}

	if len(required) == 0 {
		// No dimension set on the requirement: fall back to the strongest
		// single mapping, consistent with the engine's confidence-derived
		// per-mapping coverage.
		agg.Coverage = maxSingle
		return agg
	}

	agg.CoveredDimensions = make([]string, 0, len(union))
	for d := range union {
		agg.CoveredDimensions = append(agg.CoveredDimensions, d)
	}
	sort.Strings(agg.CoveredDimensions)

	agg.Coverage = 100 * float64(len(union)) / float64(len(required))
	return agg
}

func normalize(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
