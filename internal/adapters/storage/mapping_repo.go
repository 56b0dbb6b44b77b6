package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jortega-grc/covmap/internal/core/domain"
)

// liveStatuses are the statuses that make a mapping the current row for
// its (control, requirement) pair.
var liveStatuses = []string{
	string(domain.StatusProposed),
	string(domain.StatusVerified),
	string(domain.StatusStale),
}

// CommitGeneration atomically replaces the live mappings inside the job
// scope. Prior live rows re-produced with identical content are refreshed
// in place; changed or disappeared pairs are superseded. The transaction
// guarantees readers never observe a partially committed generation.
func (a *SQLiteAdapter) CommitGeneration(ctx context.Context, orgID, frameworkID string, scope domain.JobScope, mappings []domain.ControlMapping) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("organization_id = ? AND framework_id = ? AND status IN ?", orgID, frameworkID, liveStatuses)
		if scope.ControlID != "" {
			q = q.Where("control_id = ?", scope.ControlID)
		}
		if scope.RequirementID != "" {
			q = q.Where("requirement_id = ?", scope.RequirementID)
		}

		var prior []MappingModel
		if err := q.Find(&prior).Error; err != nil {
			return err
		}

		byPair := make(map[string]domain.ControlMapping, len(mappings))
		for _, m := range mappings {
			byPair[m.PairKey()] = m
		}

		consumed := make(map[string]bool, len(prior))
		for i := range prior {
			row := &prior[i]
			pair := row.ControlID + "|" + row.RequirementID
			next, ok := byPair[pair]
			if ok && next.ID == row.ID {
				// Unchanged match: refresh assessment timestamps, keep the row.
				row.Status = string(next.Status)
				row.VerifiedBy = next.VerifiedBy
				row.LastAssessed = next.LastAssessed
				row.NextAssessment = next.NextAssessment
				row.UpdatedAt = time.Now().UTC()
				consumed[pair] = true
			} else {
				row.Status = string(domain.StatusSuperseded)
			}
			if err := tx.Save(row).Error; err != nil {
				return err
			}
		}

		for _, m := range mappings {
			if consumed[m.PairKey()] {
				continue
			}
			model := toMappingModel(m)
			// A reverted match can reproduce a historical row ID; resurrect
			// it instead of violating the primary key.
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMapping retrieves a mapping by ID.
func (a *SQLiteAdapter) GetMapping(ctx context.Context, id string) (*domain.ControlMapping, error) {
	var model MappingModel
	if err := a.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMappingNotFound
		}
		return nil, err
	}
	m := toMappingDomain(model)
	return &m, nil
}

// UpdateMapping persists a status transition (verify, stale, retire).
func (a *SQLiteAdapter) UpdateMapping(ctx context.Context, m domain.ControlMapping) error {
	model := toMappingModel(m)
	return a.db.WithContext(ctx).Save(&model).Error
}

// ListByOrgFramework returns all mappings, including superseded and
// retired rows, for audit and reporting consumers.
func (a *SQLiteAdapter) ListByOrgFramework(ctx context.Context, orgID, frameworkID string) ([]domain.ControlMapping, error) {
	var models []MappingModel
	err := a.db.WithContext(ctx).
		Where("organization_id = ? AND framework_id = ?", orgID, frameworkID).
		Order("control_id, requirement_id, created_at").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toMappingDomains(models), nil
}

// ListActiveByRequirement returns the live mappings feeding a
// requirement's aggregate coverage.
func (a *SQLiteAdapter) ListActiveByRequirement(ctx context.Context, orgID, requirementID string) ([]domain.ControlMapping, error) {
	var models []MappingModel
	err := a.db.WithContext(ctx).
		Where("organization_id = ? AND requirement_id = ? AND status IN ?", orgID, requirementID, liveStatuses).
		Order("control_id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toMappingDomains(models), nil
}

// ListActiveByOrg returns all live mappings for an organization across
// frameworks, used for the cross-framework equivalence index.
func (a *SQLiteAdapter) ListActiveByOrg(ctx context.Context, orgID string) ([]domain.ControlMapping, error) {
	var models []MappingModel
	err := a.db.WithContext(ctx).
		Where("organization_id = ? AND status IN ?", orgID, liveStatuses).
		Order("control_id, requirement_id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toMappingDomains(models), nil
}

// MarkStaleByControl flags the control's live mappings after a registry
// change; they stay active until a recomputation supersedes them.
func (a *SQLiteAdapter) MarkStaleByControl(ctx context.Context, orgID, controlID string) error {
	return a.db.WithContext(ctx).Model(&MappingModel{}).
		Where("organization_id = ? AND control_id = ? AND status IN ?", orgID, controlID,
			[]string{string(domain.StatusProposed), string(domain.StatusVerified)}).
		Update("status", string(domain.StatusStale)).Error
}

// RetireByControl removes a deleted control's mappings from the active set.
func (a *SQLiteAdapter) RetireByControl(ctx context.Context, orgID, controlID string) error {
	return a.db.WithContext(ctx).Model(&MappingModel{}).
		Where("organization_id = ? AND control_id = ? AND status IN ?", orgID, controlID, liveStatuses).
		Update("status", string(domain.StatusRetired)).Error
}

func toMappingDomains(models []MappingModel) []domain.ControlMapping {
	mappings := make([]domain.ControlMapping, len(models))
	for i, m := range models {
		mappings[i] = toMappingDomain(m)
	}
	return mappings
}
