package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/jortega-grc/covmap/internal/core/ports"
	"github.com/jortega-grc/covmap/internal/core/services/scoring"
	"github.com/jortega-grc/covmap/internal/telemetry"
)

// Classification thresholds. The ordering and the discard-below-0.25
// contract are fixed; see DESIGN.md for the calibration notes.
const (
	directConfidence     = 0.80
	directDimensionRatio = 0.90
	inheritedConfidence  = 0.65
	partialConfidence    = 0.40
	compensatingFloor    = 0.25
)

// Options tune a single ComputeMappings run.
type Options struct {
	// Workers bounds the scoring pool. Zero means a single worker.
	Workers int
	// BatchSize is the number of pairs between checkpoints.
	BatchSize int
	// Checkpoint is invoked between batches. Returning an error aborts the
	// run; the coordinator uses it for cooperative cancellation and
	// generation bumps.
	Checkpoint func(scored, total int) error
	// Now stamps LastAssessed/NextAssessment. Timestamps are applied after
	// classification so they never influence the result.
	Now time.Time
}

// Result carries the mappings of one run plus recoverable per-pair errors.
type Result struct {
	Mappings   []domain.ControlMapping
	PairErrors []domain.PairError
	PairsTotal int
}

// Engine orchestrates scoring across the control x requirement space and
// classifies the results. Output is deterministic for identical inputs:
// pairs are generated from ID-sorted slices and results are re-sorted
// before classification, so worker scheduling never shows through.
type Engine struct {
	scorer ports.Scorer
}

// NewEngine creates a mapping engine with the given scoring strategy.
func NewEngine(scorer ports.Scorer) *Engine {
	return &Engine{scorer: scorer}
}

type pair struct {
	control     domain.Control
	requirement domain.ComplianceRequirement
}

type scoredPair struct {
	pair
	result ports.ScoreResult
	err    error
}

// ComputeMappings scores every category-compatible (control, requirement)
// pair and returns the classified mapping set. existing holds the
// organization's current live mappings across all frameworks; it feeds the
// cross-framework equivalence index and the supersede rules.
func (e *Engine) ComputeMappings(ctx context.Context, orgID, frameworkID string, controls []domain.Control, requirements []domain.ComplianceRequirement, existing []domain.ControlMapping, opts Options) (*Result, error) {
	res := &Result{}

	pairs := e.buildPairs(orgID, controls, requirements, res)
	res.PairsTotal = len(pairs)

	crossIdx := buildCrossFrameworkIndex(existing, frameworkID)
	prior := buildPriorIndex(existing, frameworkID)

	scored, err := e.scorePairs(ctx, pairs, crossIdx, opts)
	if err != nil {
		return nil, err
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	for _, sp := range scored {
		if sp.err != nil {
			// Scoring errors are recoverable: treated as confidence 0 and
			// flagged for manual review, never a batch abort.
			res.PairErrors = append(res.PairErrors, domain.PairError{
				ControlID:     sp.control.ID,
				RequirementID: sp.requirement.ID,
				Message:       sp.err.Error(),
			})
			continue
		}
		if sp.result.Confidence < 0 || sp.result.Confidence > 1 {
			// Out-of-range scorer output is treated as confidence 0 and
			// flagged, never defaulted into a false-positive mapping.
			res.PairErrors = append(res.PairErrors, domain.PairError{
				ControlID:     sp.control.ID,
				RequirementID: sp.requirement.ID,
				Message:       fmt.Sprintf("scorer confidence out of range: %f", sp.result.Confidence),
			})
			continue
		}
		m, ok := classify(sp, orgID, frameworkID)
		if !ok {
			continue
		}

		m.LastAssessed = now
		m.NextAssessment = now.Add(sp.requirement.Frequency.Interval())
		m.ID = mappingID(m)

		// Supersede semantics: the prior live row for this pair goes to
		// superseded; the new row keeps Verified only when the match is
		// byte-identical, otherwise a human must re-confirm.
		if old, found := prior[m.PairKey()]; found {
			if old.Status == domain.StatusVerified && old.Confidence == m.Confidence && old.Coverage == m.Coverage && old.Type == m.Type {
				m.Status = domain.StatusVerified
				m.VerifiedBy = old.VerifiedBy
			}
		}

		if err := m.Validate(); err != nil {
			res.PairErrors = append(res.PairErrors, domain.PairError{
				ControlID:     m.ControlID,
				RequirementID: m.RequirementID,
				Message:       err.Error(),
			})
			continue
		}

		telemetry.MappingsClassified.WithLabelValues(string(m.Type)).Inc()
		res.Mappings = append(res.Mappings, m)
	}

	return res, nil
}

// buildPairs generates the category-compatible pair list from ID-sorted
// inputs. Zero-compatibility pairs are skipped without scoring; malformed
// records are skipped and logged.
func (e *Engine) buildPairs(orgID string, controls []domain.Control, requirements []domain.ComplianceRequirement, res *Result) []pair {
	cs := make([]domain.Control, 0, len(controls))
	for _, c := range controls {
		if err := domain.ValidateControl(c); err != nil {
			slog.Warn("skipping malformed control", "control", c.ID, "org", orgID, "error", err)
			continue
		}
		cs = append(cs, c)
	}
	rs := make([]domain.ComplianceRequirement, 0, len(requirements))
	for _, r := range requirements {
		if err := domain.ValidateRequirement(r); err != nil {
			slog.Warn("skipping malformed requirement", "requirement", r.ID, "error", err)
			continue
		}
		rs = append(rs, r)
	}

	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })

	var pairs []pair
	for _, c := range cs {
		for _, r := range rs {
			if scoring.CategoryCompatibility(c.Category, r.Category) == 0 {
				continue
			}
			pairs = append(pairs, pair{control: c, requirement: r})
		}
	}
	return pairs
}

// scorePairs runs the worker pool over batches of pairs. Scoring is pure
// and side-effect-free, so pairs are scored concurrently; the output is
// re-sorted by (controlID, requirementID) to keep the run deterministic.
func (e *Engine) scorePairs(ctx context.Context, pairs []pair, crossIdx map[string]map[string]bool, opts Options) ([]scoredPair, error) {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = 250
	}

	scored := make([]scoredPair, 0, len(pairs))
	for start := 0; start < len(pairs); start += batchSize {
		end := start + batchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batch := pairs[start:end]

		out := make([]scoredPair, len(batch))
		jobs := make(chan int)

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					p := batch[i]
					sctx := ports.ScoreContext{
						RelatedActiveMappings: relatedActive(crossIdx, p.control.ID, p.requirement.RelatedRequirementIDs),
					}
					result, err := e.scorer.Score(p.control, p.requirement, sctx)
					telemetry.PairsScored.Inc()
					out[i] = scoredPair{pair: p, result: result, err: err}
				}
			}()
		}

		for i := range batch {
			jobs <- i
		}
		close(jobs)
		wg.Wait()

		scored = append(scored, out...)

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if opts.Checkpoint != nil {
			if err := opts.Checkpoint(len(scored), len(pairs)); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].control.ID != scored[j].control.ID {
			return scored[i].control.ID < scored[j].control.ID
		}
		return scored[i].requirement.ID < scored[j].requirement.ID
	})
	return scored, nil
}

// classify applies the classification rules in priority order. Pairs below
// the 0.25 floor are discarded: not persisted, not surfaced.
func classify(sp scoredPair, orgID, frameworkID string) (domain.ControlMapping, bool) {
	r := sp.result

	var dimRatio float64
	if n := len(sp.requirement.RequiredDimensions); n > 0 {
		dimRatio = float64(len(r.MatchedDimensions)) / float64(n)
	}

	var mtype domain.MappingType
	switch {
	case r.Confidence >= directConfidence && dimRatio >= directDimensionRatio:
		mtype = domain.MappingDirect
	case bonusDominates(r) && r.Confidence >= inheritedConfidence:
		mtype = domain.MappingInherited
	case r.Confidence >= partialConfidence:
		mtype = domain.MappingPartial
	case r.Confidence >= compensatingFloor && !sp.requirement.Mandatory:
		mtype = domain.MappingCompensating
	default:
		return domain.ControlMapping{}, false
	}

	coverage := dimRatio * 100
	if len(sp.requirement.RequiredDimensions) == 0 {
		// Requirements with no dimension set fall back to confidence-derived
		// coverage.
		coverage = r.Confidence * 100
	}

	return domain.ControlMapping{
		ControlID:                 sp.control.ID,
		RequirementID:             sp.requirement.ID,
		FrameworkID:               frameworkID,
		OrganizationID:            orgID,
		Type:                      mtype,
		Coverage:                  coverage,
		Confidence:                r.Confidence,
		Automated:                 true,
		Status:                    domain.StatusProposed,
		EvidenceDimensionsCovered: r.MatchedDimensions,
	}, true
}

// bonusDominates reports whether the cross-framework equivalence bonus was
// the dominant confidence contributor, the precondition for inherited.
func bonusDominates(r ports.ScoreResult) bool {
	return r.EquivalenceBonus > r.CategoryContribution && r.EquivalenceBonus > r.DimensionContribution
}

// buildCrossFrameworkIndex maps controlID -> active requirement IDs mapped
// in frameworks other than the one being computed.
func buildCrossFrameworkIndex(existing []domain.ControlMapping, frameworkID string) map[string]map[string]bool {
	idx := make(map[string]map[string]bool)
	for _, m := range existing {
		if m.FrameworkID == frameworkID || !m.IsActive() {
			continue
		}
		reqs, ok := idx[m.ControlID]
		if !ok {
			reqs = make(map[string]bool)
			idx[m.ControlID] = reqs
		}
		reqs[m.RequirementID] = true
	}
	return idx
}

// buildPriorIndex maps pair keys to the current live mapping in the target
// framework, used for the supersede/verified-carryover rules.
func buildPriorIndex(existing []domain.ControlMapping, frameworkID string) map[string]domain.ControlMapping {
	prior := make(map[string]domain.ControlMapping)
	for _, m := range existing {
		if m.FrameworkID != frameworkID || !m.IsActive() {
			continue
		}
		prior[m.PairKey()] = m
	}
	return prior
}

func relatedActive(crossIdx map[string]map[string]bool, controlID string, relatedReqIDs []string) []string {
	mapped := crossIdx[controlID]
	if len(mapped) == 0 || len(relatedReqIDs) == 0 {
		return nil
	}
	var related []string
	for _, id := range relatedReqIDs {
		if mapped[id] {
			related = append(related, id)
		}
	}
	sort.Strings(related)
	return related
}

// mappingID derives a stable UUID from the classified content of a mapping.
// Re-running the engine on unchanged inputs reproduces the same IDs, which
// makes generation commits idempotent; any change in the match produces a
// new ID and the prior row is superseded.
func mappingID(m domain.ControlMapping) string {
	seed := fmt.Sprintf("%s|%s|%s|%s|%s|%.6f|%.6f",
		m.OrganizationID, m.FrameworkID, m.ControlID, m.RequirementID,
		m.Type, m.Confidence, m.Coverage)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

// String implements a compact description for logs.
func (o Options) String() string {
	return fmt.Sprintf("workers=%d batch=%d", o.Workers, o.BatchSize)
}
