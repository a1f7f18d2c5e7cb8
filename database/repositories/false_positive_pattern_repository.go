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

type falsePositivePatternRepository struct {
	db *gorm.DB
	utils.Repository[uuid.UUID, models.FalsePositivePattern, *gorm.DB]
}

func NewFalsePositivePatternRepository(db *gorm.DB) *falsePositivePatternRepository {
	return &falsePositivePatternRepository{
		db:         db,
		Repository: newGormRepository[uuid.UUID, models.FalsePositivePattern](db),
	}
}

func (r *falsePositivePatternRepository) FindActiveByTeam(tx *gorm.DB, teamID uuid.UUID) ([]models.FalsePositivePattern, error) {
	var patterns []models.FalsePositivePattern
	err := r.GetDB(tx).Where("team_id = ? AND is_active = true", teamID).Find(&patterns).Error
	return patterns, err
}

func (r *falsePositivePatternRepository) FindActiveByKey(tx *gorm.DB, teamID uuid.UUID, ruleID, filePattern string) (models.FalsePositivePattern, error) {
	var pattern models.FalsePositivePattern
	err := r.GetDB(tx).
		Where("team_id = ? AND semgrep_rule_id = ? AND file_pattern = ? AND is_active = true", teamID, ruleID, filePattern).
		First(&pattern).Error
	return pattern, err
}

func (r *falsePositivePatternRepository) ListByTeam(teamID uuid.UUID) ([]models.FalsePositivePattern, error) {
	var patterns []models.FalsePositivePattern
	err := r.db.Where("team_id = ?", teamID).Order("created_at DESC").Find(&patterns).Error
	return patterns, err
}

type falsePositiveLogRepository struct {
	db *gorm.DB
	utils.Repository[uuid.UUID, models.FalsePositiveLog, *gorm.DB]
}

func NewFalsePositiveLogRepository(db *gorm.DB) *falsePositiveLogRepository {
	return &falsePositiveLogRepository{
		db:         db,
		Repository: newGormRepository[uuid.UUID, models.FalsePositiveLog](db),
	}
}
