package gap

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/jortega-grc/covmap/internal/core/ports"
	"github.com/jortega-grc/covmap/internal/core/services/coverage"
	"github.com/jortega-grc/covmap/internal/telemetry"
)

// Analyzer derives per-requirement gap severity, the framework maturity
// score and a prioritized remediation plan from committed mappings.
type Analyzer struct {
	catalog    ports.Catalog
	mappings   ports.MappingRepository
	gaps       ports.GapRepository
	aggregator *coverage.Aggregator
}

// NewAnalyzer creates a gap analyzer.
func NewAnalyzer(catalog ports.Catalog, mappings ports.MappingRepository, gaps ports.GapRepository) *Analyzer {
	return &Analyzer{
		catalog:    catalog,
		mappings:   mappings,
		gaps:       gaps,
		aggregator: coverage.NewAggregator(),
	}
}

// AnalyzeGaps computes the gap analysis for one (organization, framework)
// pair and persists it. Prior gap statuses are read first so remediation
// history survives recomputation: a gap previously resolved whose coverage
// regressed comes back as reopened, never silently as open.
func (a *Analyzer) AnalyzeGaps(ctx context.Context, orgID, frameworkID string) (*domain.GapAnalysisResult, error) {
	framework, err := a.catalog.GetFramework(ctx, frameworkID)
	if err != nil {
		return nil, fmt.Errorf("gap analysis: %w", err)
	}
	requirements, err := a.catalog.ListRequirements(ctx, frameworkID)
	if err != nil {
		return nil, fmt.Errorf("gap analysis: %w", err)
	}

	priorStatuses, err := a.gaps.ListStatuses(ctx, orgID, frameworkID)
	if err != nil {
		return nil, fmt.Errorf("gap analysis: %w", err)
	}

	result := &domain.GapAnalysisResult{
		OrganizationID: orgID,
		FrameworkID:    frameworkID,
		GeneratedAt:    time.Now().UTC(),
	}

	domainCoverage := make(map[string][]float64)
	var totalCoverage float64

	for _, req := range requirements {
		active, err := a.mappings.ListActiveByRequirement(ctx, orgID, req.ID)
		if err != nil {
			return nil, fmt.Errorf("gap analysis: %w", err)
		}
		agg := a.aggregator.Aggregate(req, active)

		totalCoverage += agg.Coverage
		domainCoverage[req.DomainID] = append(domainCoverage[req.DomainID], agg.Coverage)

		missing := 100 - agg.Coverage
		if missing <= 0 {
			continue
		}

		g := domain.Gap{
			RequirementID:   req.ID,
			RequirementCode: req.Code,
			Severity:        severity(req, missing, agg.Coverage),
			MissingCoverage: missing,
			Mandatory:       req.Mandatory,
			Status:          nextStatus(priorStatuses[req.ID]),
			EstimatedEffort: estimateEffort(req, agg),
		}
		g.RecommendedActions = recommend(req, agg)

		if g.Status == domain.GapReopened && priorStatuses[req.ID] != domain.GapReopened {
			telemetry.GapsReopened.Inc()
			slog.Info("gap reopened", "org", orgID, "framework", frameworkID, "requirement", req.ID)
		}

		result.Gaps = append(result.Gaps, g)
	}

	if len(requirements) > 0 {
		result.OverallCoverage = totalCoverage / float64(len(requirements))
	}
	result.MaturityScore = maturityScore(*framework, domainCoverage)

	sortGaps(result.Gaps)

	if err := a.gaps.SaveResult(ctx, *result); err != nil {
		return nil, fmt.Errorf("gap analysis: persist: %w", err)
	}
	return result, nil
}

// AnalyzeRequirements recomputes gaps for the affected requirements only,
// merging them into the last persisted result. Incremental recomputation
// never rescans the whole framework. Coverage for unaffected requirements
// is reconstructed from the prior result: a requirement absent from the
// gap list was fully covered.
func (a *Analyzer) AnalyzeRequirements(ctx context.Context, orgID, frameworkID string, requirementIDs []string) (*domain.GapAnalysisResult, error) {
	prior, err := a.gaps.GetResult(ctx, orgID, frameworkID)
	if err != nil {
		return nil, fmt.Errorf("gap analysis: %w", err)
	}
	if prior == nil {
		return a.AnalyzeGaps(ctx, orgID, frameworkID)
	}

	framework, err := a.catalog.GetFramework(ctx, frameworkID)
	if err != nil {
		return nil, fmt.Errorf("gap analysis: %w", err)
	}
	requirements, err := a.catalog.ListRequirements(ctx, frameworkID)
	if err != nil {
		return nil, fmt.Errorf("gap analysis: %w", err)
	}
	priorStatuses, err := a.gaps.ListStatuses(ctx, orgID, frameworkID)
	if err != nil {
		return nil, fmt.Errorf("gap analysis: %w", err)
	}

	affected := make(map[string]bool, len(requirementIDs))
	for _, id := range requirementIDs {
		affected[id] = true
	}

	reqsByID := make(map[string]domain.ComplianceRequirement, len(requirements))
	for _, r := range requirements {
		reqsByID[r.ID] = r
	}

	coverageByReq := make(map[string]float64, len(requirements))
	for _, r := range requirements {
		coverageByReq[r.ID] = 100
	}
	gapsByReq := make(map[string]domain.Gap, len(prior.Gaps))
	for _, g := range prior.Gaps {
		gapsByReq[g.RequirementID] = g
		coverageByReq[g.RequirementID] = 100 - g.MissingCoverage
	}

	for id := range affected {
		req, ok := reqsByID[id]
		if !ok {
			continue
		}
		active, err := a.mappings.ListActiveByRequirement(ctx, orgID, id)
		if err != nil {
			return nil, fmt.Errorf("gap analysis: %w", err)
		}
		agg := a.aggregator.Aggregate(req, active)
		coverageByReq[id] = agg.Coverage

		missing := 100 - agg.Coverage
		if missing <= 0 {
			delete(gapsByReq, id)
			continue
		}
		g := domain.Gap{
			RequirementID:   req.ID,
			RequirementCode: req.Code,
			Severity:        severity(req, missing, agg.Coverage),
			MissingCoverage: missing,
			Mandatory:       req.Mandatory,
			Status:          nextStatus(priorStatuses[id]),
			EstimatedEffort: estimateEffort(req, agg),
		}
		g.RecommendedActions = recommend(req, agg)
		if g.Status == domain.GapReopened && priorStatuses[id] != domain.GapReopened {
			telemetry.GapsReopened.Inc()
			slog.Info("gap reopened", "org", orgID, "framework", frameworkID, "requirement", id)
		}
		gapsByReq[id] = g
	}

	result := &domain.GapAnalysisResult{
		OrganizationID: orgID,
		FrameworkID:    frameworkID,
		GeneratedAt:    time.Now().UTC(),
	}
	domainCoverage := make(map[string][]float64)
	var totalCoverage float64
	for _, r := range requirements {
		c := coverageByReq[r.ID]
		totalCoverage += c
		domainCoverage[r.DomainID] = append(domainCoverage[r.DomainID], c)
	}
	if len(requirements) > 0 {
		result.OverallCoverage = totalCoverage / float64(len(requirements))
	}
	result.MaturityScore = maturityScore(*framework, domainCoverage)

	for _, g := range gapsByReq {
		result.Gaps = append(result.Gaps, g)
	}
	sortGaps(result.Gaps)

	if err := a.gaps.SaveResult(ctx, *result); err != nil {
		return nil, fmt.Errorf("gap analysis: persist: %w", err)
	}
	return result, nil
}

// severity grades a gap from (mandatory, priority, missingCoverage,
// testable). Mandatory critical-priority requirements missing more than
// half their coverage are critical; any mandatory gap is at least high;
// non-mandatory gaps cap at medium unless nothing covers them at all.
// Non-testable requirements with partial coverage are downgraded one step,
// since documentation-only obligations carry less residual risk once
// partially addressed.
func severity(req domain.ComplianceRequirement, missing, covered float64) domain.GapSeverity {
	var sev domain.GapSeverity
	switch {
	case missing > 75:
		sev = domain.SeverityHigh
	case missing > 40:
		sev = domain.SeverityMedium
	case missing > 0:
		sev = domain.SeverityLow
	default:
		return domain.SeverityNone
	}

	if req.Mandatory {
		if req.Priority == domain.PriorityCritical && missing > 50 {
			sev = domain.SeverityCritical
		} else if sev.Rank() < domain.SeverityHigh.Rank() {
			sev = domain.SeverityHigh
		}
	} else if sev.Rank() > domain.SeverityMedium.Rank() && missing < 100 {
		sev = domain.SeverityMedium
	}

	if !req.Testable && covered > 0 {
		sev = sev.Downgrade()
	}
	return sev
}

// nextStatus applies the reopen rule against the last persisted status.
func nextStatus(prior domain.GapStatus) domain.GapStatus {
	switch prior {
	case domain.GapResolved, domain.GapVerified, domain.GapReopened:
		return domain.GapReopened
	case domain.GapInRemediation:
		return domain.GapInRemediation
	default:
		return domain.GapOpen
	}
}

// maturityScore is the domain-weight-normalized average requirement
// coverage, 0-100.
func maturityScore(framework domain.ComplianceFramework, domainCoverage map[string][]float64) float64 {
	var weighted, totalWeight float64
	for _, d := range framework.Domains {
		coverages := domainCoverage[d.ID]
		if len(coverages) == 0 {
			continue
		}
		var sum float64
		for _, c := range coverages {
			sum += c
		}
		weighted += d.Weight * (sum / float64(len(coverages)))
		totalWeight += d.Weight
	}
	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}

// estimateEffort is a rough remediation estimate in hours used only for
// prioritization: a base per severity plus a per-missing-dimension cost.
func estimateEffort(req domain.ComplianceRequirement, agg coverage.Aggregation) int {
	missingDims := len(req.RequiredDimensions) - len(agg.CoveredDimensions)
	if missingDims < 0 {
		missingDims = 0
	}
	base := 8
	if req.Mandatory {
		base = 16
	}
	if !req.Testable {
		base /= 2
	}
	return base + missingDims*4
}

// recommend lists concrete follow-ups for the remediation plan.
func recommend(req domain.ComplianceRequirement, agg coverage.Aggregation) []string {
	var actions []string

	covered := make(map[string]bool, len(agg.CoveredDimensions))
	for _, d := range agg.CoveredDimensions {
		covered[d] = true
	}
	for _, d := range req.RequiredDimensions {
		if !covered[d] {
			actions = append(actions, fmt.Sprintf("Add or extend a control producing %q evidence for %s", d, req.Code))
		}
	}
	if len(actions) == 0 {
		actions = append(actions, fmt.Sprintf("Map an additional control to %s or verify existing partial mappings", req.Code))
	}
	if !req.Testable {
		actions = append(actions, fmt.Sprintf("Review documentation supporting %s; requirement is not automatically testable", req.Code))
	}
	return actions
}

// sortGaps orders the remediation plan: severity desc, mandatory first,
// cheapest effort first, requirement code as the deterministic tie-breaker.
func sortGaps(gaps []domain.Gap) {
	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].Severity.Rank() != gaps[j].Severity.Rank() {
			return gaps[i].Severity.Rank() > gaps[j].Severity.Rank()
		}
		if gaps[i].Mandatory != gaps[j].Mandatory {
			return gaps[i].Mandatory
		}
		if gaps[i].EstimatedEffort != gaps[j].EstimatedEffort {
			return gaps[i].EstimatedEffort < gaps[j].EstimatedEffort
		}
		return gaps[i].RequirementCode < gaps[j].RequirementCode
	})
}
