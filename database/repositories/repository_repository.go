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

type repositoryRepository struct {
	db *gorm.DB
	utils.Repository[uuid.UUID, models.Repository, *gorm.DB]
}

func NewRepositoryRepository(db *gorm.DB) *repositoryRepository {
	return &repositoryRepository{
		db:         db,
		Repository: newGormRepository[uuid.UUID, models.Repository](db),
	}
}

func (r *repositoryRepository) FindByPlatformRepoID(tx *gorm.DB, platform models.Platform, platformRepoID string) (models.Repository, error) {
	var repo models.Repository
	err := r.GetDB(tx).Where("platform = ? AND platform_repo_id = ?", platform, platformRepoID).First(&repo).Error
	return repo, err
}

func (r *repositoryRepository) FindByInstallationID(tx *gorm.DB, installationID int64) ([]models.Repository, error) {
	var repos []models.Repository
	err := r.GetDB(tx).Where("installation_id = ?", installationID).Find(&repos).Error
	return repos, err
}

func (r *repositoryRepository) ListActiveByTeam(teamID uuid.UUID) ([]models.Repository, error) {
	var repos []models.Repository
	err := r.db.Where("team_id = ? AND is_active = true", teamID).Order("created_at DESC").Find(&repos).Error
	return repos, err
}
