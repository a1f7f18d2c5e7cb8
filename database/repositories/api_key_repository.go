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

type apiKeyRepository struct {
	db *gorm.DB
	utils.Repository[uuid.UUID, models.ApiKey, *gorm.DB]
}

func NewApiKeyRepository(db *gorm.DB) *apiKeyRepository {
	return &apiKeyRepository{
		db:         db,
		Repository: newGormRepository[uuid.UUID, models.ApiKey](db),
	}
}

// FindActiveByPrefix narrows key verification to the few hashes sharing a
// prefix; the bcrypt comparison picks the real match.
func (r *apiKeyRepository) FindActiveByPrefix(tx *gorm.DB, prefix string) ([]models.ApiKey, error) {
	var keys []models.ApiKey
	err := r.GetDB(tx).Where("key_prefix = ? AND is_active = true", prefix).Find(&keys).Error
	return keys, err
}

func (r *apiKeyRepository) ListByTeam(teamID uuid.UUID) ([]models.ApiKey, error) {
	var keys []models.ApiKey
	err := r.db.Where("team_id = ?", teamID).Order("created_at DESC").Find(&keys).Error
	return keys, err
}
