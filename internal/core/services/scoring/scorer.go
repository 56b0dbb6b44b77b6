package scoring

import (
	"sort"
	"strings"

	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/jortega-grc/covmap/internal/core/ports"
)

// Confidence weights. Dimension overlap carries most of the signal so that
// a category-only match stays below the 0.25 persistence threshold.
const (
	categoryWeight    = 0.20
	dimensionWeight   = 0.65
	equivalenceWeight = 0.50
)

// KeywordScorer is the default similarity strategy: category compatibility,
// evidence-dimension overlap and a cross-framework equivalence bonus.
// It holds no state; Score is a pure function of its inputs.
type KeywordScorer struct{}

// NewKeywordScorer creates the default scorer.
func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{}
}

// Score computes (confidence, matched dimensions) for a pair.
// Degenerate inputs (no description, no tags) yield confidence 0, never an
// error; the caller flags these for manual review.
func (s *KeywordScorer) Score(control domain.Control, req domain.ComplianceRequirement, sctx ports.ScoreContext) (ports.ScoreResult, error) {
	var res ports.ScoreResult

	if len(control.EvidenceDimensions) == 0 && strings.TrimSpace(control.Description) == "" {
		return res, nil
	}

	res.MatchedDimensions = matchDimensions(control.EvidenceDimensions, req.RequiredDimensions)

	res.CategoryContribution = categoryWeight * CategoryCompatibility(control.Category, req.Category)
	if n := len(req.RequiredDimensions); n > 0 {
		res.DimensionContribution = dimensionWeight * float64(len(res.MatchedDimensions)) / float64(n)
	} else if descriptionMentions(control.Description, req.Category) {
		// No dimensions defined on the requirement: fall back to a weak
		// description signal so such requirements are still mappable.
		res.DimensionContribution = dimensionWeight * 0.5
	}
	if len(sctx.RelatedActiveMappings) > 0 {
		res.EquivalenceBonus = equivalenceWeight
	}

	res.Confidence = res.CategoryContribution + res.DimensionContribution + res.EquivalenceBonus
	if res.Confidence > 1 {
		res.Confidence = 1
	}
	return res, nil
}

// matchDimensions intersects control dimensions with the requirement's
// required set. The result is sorted so scoring output is deterministic
// regardless of input ordering.
func matchDimensions(produced, required []string) []string {
	if len(produced) == 0 || len(required) == 0 {
		return nil
	}
	have := make(map[string]bool, len(produced))
	for _, d := range produced {
		have[normalizeTag(d)] = true
	}

	var matched []string
	seen := make(map[string]bool, len(required))
	for _, d := range required {
		tag := normalizeTag(d)
		if have[tag] && !seen[tag] {
			matched = append(matched, tag)
			seen[tag] = true
		}
	}
	sort.Strings(matched)
	return matched
}

// categoryAliases maps common category spellings to a canonical form.
var categoryAliases = map[string]string{
	"iam":                   "iam",
	"identity":              "iam",
	"identity-management":   "iam",
	"access-control":        "iam",
	"access control":        "iam",
	"authentication":        "iam",
	"encryption":            "encryption",
	"cryptography":          "encryption",
	"data-protection":       "encryption",
	"logging":               "monitoring",
	"monitoring":            "monitoring",
	"audit-logging":         "monitoring",
	"siem":                  "monitoring",
	"network":               "network",
	"network-security":      "network",
	"firewall":              "network",
	"vulnerability":         "vulnerability",
	"patching":              "vulnerability",
	"vulnerability-mgmt":    "vulnerability",
	"backup":                "resilience",
	"resilience":            "resilience",
	"disaster-recovery":     "resilience",
	"business-continuity":   "resilience",
	"hr":                    "people",
	"people":                "people",
	"awareness":             "people",
	"security-training":     "people",
	"vendor":                "third-party",
	"third-party":           "third-party",
	"supplier-management":   "third-party",
	"change-management":     "change",
	"change":                "change",
	"configuration":         "change",
	"physical":              "physical",
	"physical-security":     "physical",
	"facility":              "physical",
	"privacy":               "privacy",
	"data-privacy":          "privacy",
	"governance":            "governance",
	"policy":                "governance",
	"risk-management":       "governance",
	"incident-response":     "incident",
	"incident":              "incident",
	"incident-management":   "incident",
	"endpoint":              "endpoint",
	"endpoint-protection":   "endpoint",
	"device-management":     "endpoint",
	"asset-management":      "asset",
	"asset":                 "asset",
	"inventory":             "asset",
	"secure-development":    "sdlc",
	"sdlc":                  "sdlc",
	"application-security":  "sdlc",
}

// adjacentFamilies lists canonical categories close enough that a control
// from one may partially serve requirements in the other.
var adjacentFamilies = map[string][]string{
	"iam":        {"privacy", "endpoint"},
	"monitoring": {"incident", "vulnerability"},
	"incident":   {"monitoring", "resilience"},
	"encryption": {"privacy", "network"},
	"network":    {"encryption", "endpoint"},
	"governance": {"people", "third-party"},
	"asset":      {"endpoint", "change"},
}

// CategoryCompatibility returns 1.0 for an exact or alias match, 0.5 for an
// adjacent category family and 0 otherwise. Zero-compatibility pairs are
// skipped by the mapping engine without scoring.
func CategoryCompatibility(controlCategory, requirementCategory string) float64 {
	a := canonicalCategory(controlCategory)
	b := canonicalCategory(requirementCategory)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	for _, adj := range adjacentFamilies[a] {
		if adj == b {
			return 0.5
		}
	}
	return 0
}

func canonicalCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if canonical, ok := categoryAliases[c]; ok {
		return canonical
	}
	return c
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// descriptionMentions checks for a weak textual signal between a control
// description and a requirement category.
func descriptionMentions(description, category string) bool {
	if description == "" || category == "" {
		return false
	}
	desc := strings.ToLower(description)
	for _, token := range strings.FieldsFunc(strings.ToLower(category), func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	}) {
		if len(token) >= 3 && strings.Contains(desc, token) {
			return true
		}
	}
	return false
}

// Ensure interface compliance
var _ ports.Scorer = (*KeywordScorer)(nil)
