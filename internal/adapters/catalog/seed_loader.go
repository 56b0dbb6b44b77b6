package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"

	"github.com/goccy/go-yaml"
	"github.com/jortega-grc/covmap/internal/core/domain"
)

// RequirementChangeEmitter receives a notification for every requirement a
// catalog load created or modified, so downstream consumers can recompute
// incrementally. The control registry implements it.
type RequirementChangeEmitter interface {
	EmitRequirementChange(requirementID, frameworkID string)
}

// SeedLoader loads framework definitions from YAML files into the catalog.
type SeedLoader struct {
	repo    *SQLiteRepository
	emitter RequirementChangeEmitter
}

// NewSeedLoader creates a new seed loader. The emitter may be nil when no
// consumer cares about requirement changes, as in the offline loader CLI.
func NewSeedLoader(repo *SQLiteRepository, emitter RequirementChangeEmitter) *SeedLoader {
	return &SeedLoader{repo: repo, emitter: emitter}
}

// seedFile is the on-disk YAML shape of a framework definition.
type seedFile struct {
	Framework    frameworkSeed     `yaml:"framework"`
	Requirements []requirementSeed `yaml:"requirements"`
}

type frameworkSeed struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Domains []struct {
		ID     string  `yaml:"id"`
		Name   string  `yaml:"name"`
		Weight float64 `yaml:"weight"`
	} `yaml:"domains"`
}

type requirementSeed struct {
	ID          string   `yaml:"id"`
	DomainID    string   `yaml:"domain_id"`
	Code        string   `yaml:"code"`
	Category    string   `yaml:"category"`
	Priority    string   `yaml:"priority"`
	Mandatory   bool     `yaml:"mandatory"`
	Testable    bool     `yaml:"testable"`
	Frequency   string   `yaml:"frequency"`
	Dimensions  []string `yaml:"dimensions"`
	RelatedIDs  []string `yaml:"related_ids"`
}

// LoadFromFile loads a single framework definition from a YAML file.
func (s *SeedLoader) LoadFromFile(ctx context.Context, path string) error {
	slog.Info("loading framework seed", "file", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}
	if seed.Framework.ID == "" {
		return fmt.Errorf("seed file %s has no framework id", path)
	}

	fw := domain.ComplianceFramework{
		ID:      seed.Framework.ID,
		Name:    seed.Framework.Name,
		Version: seed.Framework.Version,
	}
	for _, d := range seed.Framework.Domains {
		fw.Domains = append(fw.Domains, domain.FrameworkDomain{ID: d.ID, Name: d.Name, Weight: d.Weight})
	}
	if err := s.repo.UpsertFramework(ctx, fw); err != nil {
		return fmt.Errorf("failed to store framework %s: %w", fw.ID, err)
	}

	loaded := 0
	failed := 0
	for _, rs := range seed.Requirements {
		req := domain.ComplianceRequirement{
			ID:                    rs.ID,
			FrameworkID:           fw.ID,
			DomainID:              rs.DomainID,
			Code:                  rs.Code,
			Category:              rs.Category,
			Priority:              domain.Priority(rs.Priority),
			Mandatory:             rs.Mandatory,
			Testable:              rs.Testable,
			Frequency:             domain.AssessmentFrequency(rs.Frequency),
			RequiredDimensions:    rs.Dimensions,
			RelatedRequirementIDs: rs.RelatedIDs,
		}
		if err := domain.ValidateRequirement(req); err != nil {
			slog.Warn("skipping invalid requirement", "id", rs.ID, "error", err)
			failed++
			continue
		}

		prior, err := s.repo.GetRequirement(ctx, req.ID)
		if err != nil {
			slog.Warn("failed to read prior requirement", "id", rs.ID, "error", err)
			failed++
			continue
		}
		if err := s.repo.UpsertRequirement(ctx, req); err != nil {
			slog.Warn("failed to store requirement", "id", rs.ID, "error", err)
			failed++
			continue
		}
		// Only new or materially changed requirements fan out as change
		// events. An unchanged re-load stays quiet.
		if s.emitter != nil && (prior == nil || !reflect.DeepEqual(*prior, req)) {
			s.emitter.EmitRequirementChange(req.ID, fw.ID)
		}
		loaded++
	}

	slog.Info("framework seed loaded", "framework", fw.ID, "requirements", loaded, "failed", failed)
	return nil
}

// LoadFromDir loads every .yaml file in a directory.
func (s *SeedLoader) LoadFromDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read seed directory: %w", err)
	}

	loaded := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := s.LoadFromFile(ctx, filepath.Join(dir, e.Name())); err != nil {
			slog.Error("failed to load seed file", "file", e.Name(), "error", err)
			continue
		}
		loaded++
	}

	slog.Info("seed directory processed", "dir", dir, "files", loaded)
	return nil
}
