package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jortega-grc/covmap/internal/core/domain"
)

// SaveResult upserts the framework summary and the per-requirement gap
// rows. Rows for requirements no longer gapped are kept with their last
// status so remediation history survives; only the rows present in the
// result are touched.
func (a *SQLiteAdapter) SaveResult(ctx context.Context, result domain.GapAnalysisResult) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		summary := GapResultModel{
			OrganizationID:  result.OrganizationID,
			FrameworkID:     result.FrameworkID,
			OverallCoverage: result.OverallCoverage,
			MaturityScore:   result.MaturityScore,
			GeneratedAt:     result.GeneratedAt,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organization_id"}, {Name: "framework_id"}},
			UpdateAll: true,
		}).Create(&summary).Error; err != nil {
			return err
		}

		for _, g := range result.Gaps {
			model := toGapModel(result.OrganizationID, result.FrameworkID, g)
			model.UpdatedAt = time.Now().UTC()
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "organization_id"}, {Name: "framework_id"}, {Name: "requirement_id"}},
				UpdateAll: true,
			}).Create(&model).Error; err != nil {
				return err
			}
		}

		// Requirements that regained full coverage leave the gap list; mark
		// their rows resolved rather than deleting them.
		gapped := make([]string, 0, len(result.Gaps))
		for _, g := range result.Gaps {
			gapped = append(gapped, g.RequirementID)
		}
		q := tx.Model(&GapModel{}).
			Where("organization_id = ? AND framework_id = ?", result.OrganizationID, result.FrameworkID).
			Where("status NOT IN ?", []string{string(domain.GapResolved), string(domain.GapVerified)})
		if len(gapped) > 0 {
			q = q.Where("requirement_id NOT IN ?", gapped)
		}
		return q.Update("status", string(domain.GapResolved)).Error
	})
}

// GetResult returns the last persisted analysis for a key, or nil when
// none has run yet.
func (a *SQLiteAdapter) GetResult(ctx context.Context, orgID, frameworkID string) (*domain.GapAnalysisResult, error) {
	var summary GapResultModel
	err := a.db.WithContext(ctx).
		First(&summary, "organization_id = ? AND framework_id = ?", orgID, frameworkID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var models []GapModel
	err = a.db.WithContext(ctx).
		Where("organization_id = ? AND framework_id = ?", orgID, frameworkID).
		Where("status NOT IN ?", []string{string(domain.GapResolved), string(domain.GapVerified)}).
		Order("requirement_id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	result := &domain.GapAnalysisResult{
		OrganizationID:  summary.OrganizationID,
		FrameworkID:     summary.FrameworkID,
		OverallCoverage: summary.OverallCoverage,
		MaturityScore:   summary.MaturityScore,
		GeneratedAt:     summary.GeneratedAt,
	}
	for _, m := range models {
		result.Gaps = append(result.Gaps, toGapDomain(m))
	}
	return result, nil
}

// ListStatuses returns the last persisted status per requirement,
// including resolved rows, the substrate for the reopen rule.
func (a *SQLiteAdapter) ListStatuses(ctx context.Context, orgID, frameworkID string) (map[string]domain.GapStatus, error) {
	var models []GapModel
	err := a.db.WithContext(ctx).
		Select("requirement_id", "status").
		Where("organization_id = ? AND framework_id = ?", orgID, frameworkID).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	statuses := make(map[string]domain.GapStatus, len(models))
	for _, m := range models {
		statuses[m.RequirementID] = domain.GapStatus(m.Status)
	}
	return statuses, nil
}

// UpdateStatus records an external remediation workflow transition.
func (a *SQLiteAdapter) UpdateStatus(ctx context.Context, orgID, frameworkID, requirementID string, status domain.GapStatus) error {
	res := a.db.WithContext(ctx).Model(&GapModel{}).
		Where("organization_id = ? AND framework_id = ? AND requirement_id = ?", orgID, frameworkID, requirementID).
		Updates(map[string]interface{}{"status": string(status), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrGapNotFound
	}
	return nil
}
