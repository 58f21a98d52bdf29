package repository

import (
	"synmigrate/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FingerprintRepository struct {
	db *gorm.DB
}

func NewFingerprintRepository(db *gorm.DB) *FingerprintRepository {
	return &FingerprintRepository{db: db}
}

func (r *FingerprintRepository) GetByRepo(repoID string) ([]model.Fingerprint, error) {
	var records []model.Fingerprint
	result := r.db.
		Where("repo_id = ?", repoID).
		Order("path").
		Find(&records)

	return records, result.Error
}

// SaveAll upserts records in one transaction so either all of them or none
// become durable.
func (r *FingerprintRepository) SaveAll(records []model.Fingerprint) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now()
	for i := range records {
		records[i].ID = 0
		records[i].UpdatedAt = now
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "repo_id"}, {Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{"hash", "remote_id", "size", "updated_at"}),
		}).CreateInBatches(records, 200).Error
	})
}

func (r *FingerprintRepository) Repos() ([]string, error) {
	var repos []string
	result := r.db.Model(&model.Fingerprint{}).
		Distinct("repo_id").
		Order("repo_id").
		Pluck("repo_id", &repos)

	return repos, result.Error
}
