// Copyright (C) 2025 vulnix-dev
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package repositories

import (
	"github.com/google/uuid"
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type scanJobRepository struct {
	db *gorm.DB
	utils.Repository[uuid.UUID, models.ScanJob, *gorm.DB]
}

func NewScanJobRepository(db *gorm.DB) *scanJobRepository {
	return &scanJobRepository{
		db:         db,
		Repository: newGormRepository[uuid.UUID, models.ScanJob](db),
	}
}

// FindActive returns the queued or running jobs of a repository. Callers
// that enqueue based on the result must run inside a transaction and rely
// on the row lock to win races (see the orchestrator).
func (r *scanJobRepository) FindActive(tx *gorm.DB, repositoryID uuid.UUID) ([]models.ScanJob, error) {
	var jobs []models.ScanJob
	err := r.GetDB(tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("repository_id = ? AND status IN ?", repositoryID, []models.ScanJobStatus{models.ScanJobStatusQueued, models.ScanJobStatusRunning}).
		Find(&jobs).Error
	return jobs, err
}

func (r *scanJobRepository) FindActiveByPR(tx *gorm.DB, repositoryID uuid.UUID, prNumber int) ([]models.ScanJob, error) {
	var jobs []models.ScanJob
	err := r.GetDB(tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("repository_id = ? AND pr_number = ? AND status IN ?", repositoryID, prNumber, []models.ScanJobStatus{models.ScanJobStatusQueued, models.ScanJobStatusRunning}).
		Find(&jobs).Error
	return jobs, err
}

func (r *scanJobRepository) ReadForUpdate(tx *gorm.DB, id uuid.UUID) (models.ScanJob, error) {
	var job models.ScanJob
	err := r.GetDB(tx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&job, "id = ?", id).Error
	return job, err
}

// UpdateCounters stores the per-job result statistics without touching
// the state machine columns.
func (r *scanJobRepository) UpdateCounters(tx *gorm.DB, id uuid.UUID, findings, truePositives, falsePositives, autoFiltered int) error {
	return r.GetDB(tx).Model(&models.ScanJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"findings_count":        findings,
			"true_positives_count":  truePositives,
			"false_positives_count": falsePositives,
			"auto_filtered_count":   autoFiltered,
		}).Error
}

func (r *scanJobRepository) ListByRepository(repositoryID uuid.UUID, limit int) ([]models.ScanJob, error) {
	var jobs []models.ScanJob
	q := r.db.Where("repository_id = ?", repositoryID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&jobs).Error
	return jobs, err
}
