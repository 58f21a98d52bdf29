package repository

import (
	"synmigrate/internal/model"

	"gorm.io/gorm"
)

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Save stores the run together with its outcomes.
func (r *RunRepository) Save(run *model.Run) error {
	return r.db.Create(run).Error
}

func (r *RunRepository) GetRecent(limit int) ([]model.Run, error) {
	var runs []model.Run
	result := r.db.
		Preload("Outcomes", func(db *gorm.DB) *gorm.DB {
			return db.Order("position")
		}).
		Order("started_at desc").
		Limit(limit).
		Find(&runs)

	return runs, result.Error
}

func (r *RunRepository) GetByRunID(runID string) (model.Run, error) {
	var run model.Run
	result := r.db.
		Preload("Outcomes", func(db *gorm.DB) *gorm.DB {
			return db.Order("position")
		}).
		Where("run_id = ?", runID).
		First(&run)

	return run, result.Error
}

type Stats struct {
	Runs    int64 `json:"runs"`
	Repos   int64 `json:"repos"`
	Failed  int64 `json:"failed"`
	Partial int64 `json:"partial"`
}

func (r *RunRepository) GetStats() (Stats, error) {
	var stats Stats
	if err := r.db.Model(&model.Run{}).Count(&stats.Runs).Error; err != nil {
		return stats, err
	}

	if err := r.db.Model(&model.RepoOutcome{}).Count(&stats.Repos).Error; err != nil {
		return stats, err
	}

	if err := r.db.Model(&model.RepoOutcome{}).
		Where("status = ?", model.RepoStatusFailed).
		Count(&stats.Failed).Error; err != nil {
		return stats, err
	}

	if err := r.db.Model(&model.RepoOutcome{}).
		Where("status = ?", model.RepoStatusPartial).
		Count(&stats.Partial).Error; err != nil {
		return stats, err
	}

	return stats, nil
}
