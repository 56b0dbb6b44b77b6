package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jortega-grc/covmap/internal/core/domain"
)

// SaveJob upserts a job record.
func (a *SQLiteAdapter) SaveJob(ctx context.Context, job domain.Job) error {
	model := toJobModel(job)
	return a.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error
}

// GetJob retrieves a job by ID.
func (a *SQLiteAdapter) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var model JobModel
	if err := a.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	job := toJobDomain(model)
	return &job, nil
}

// ListRecent returns the latest job records, newest first.
func (a *SQLiteAdapter) ListRecent(ctx context.Context, limit int) ([]domain.Job, error) {
	var models []JobModel
	if err := a.db.WithContext(ctx).Order("started_at desc").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	jobs := make([]domain.Job, len(models))
	for i, m := range models {
		jobs[i] = toJobDomain(m)
	}
	return jobs, nil
}
