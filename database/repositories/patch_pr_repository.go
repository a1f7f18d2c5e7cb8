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
)

type patchPRRepository struct {
	db *gorm.DB
	utils.Repository[uuid.UUID, models.PatchPR, *gorm.DB]
}

func NewPatchPRRepository(db *gorm.DB) *patchPRRepository {
	return &patchPRRepository{
		db:         db,
		Repository: newGormRepository[uuid.UUID, models.PatchPR](db),
	}
}

func (r *patchPRRepository) FindByRepoAndPRNumber(tx *gorm.DB, repositoryID uuid.UUID, prNumber int) (models.PatchPR, error) {
	var pr models.PatchPR
	err := r.GetDB(tx).Where("repository_id = ? AND pr_number = ?", repositoryID, prNumber).First(&pr).Error
	return pr, err
}

func (r *patchPRRepository) FindByVulnerability(tx *gorm.DB, vulnerabilityID uuid.UUID) (models.PatchPR, error) {
	var pr models.PatchPR
	err := r.GetDB(tx).Where("vulnerability_id = ?", vulnerabilityID).First(&pr).Error
	return pr, err
}
