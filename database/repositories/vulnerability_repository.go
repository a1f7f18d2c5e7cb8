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

type vulnerabilityRepository struct {
	db *gorm.DB
	utils.Repository[uuid.UUID, models.Vulnerability, *gorm.DB]
}

func NewVulnerabilityRepository(db *gorm.DB) *vulnerabilityRepository {
	return &vulnerabilityRepository{
		db:         db,
		Repository: newGormRepository[uuid.UUID, models.Vulnerability](db),
	}
}

func (r *vulnerabilityRepository) FindByNaturalKey(tx *gorm.DB, scanJobID uuid.UUID, ruleID, filePath string, startLine int) (models.Vulnerability, error) {
	var vuln models.Vulnerability
	err := r.GetDB(tx).
		Where("scan_job_id = ? AND semgrep_rule_id = ? AND file_path = ? AND start_line = ?", scanJobID, ruleID, filePath, startLine).
		First(&vuln).Error
	return vuln, err
}

func (r *vulnerabilityRepository) FindByScanJob(scanJobID uuid.UUID) ([]models.Vulnerability, error) {
	var vulns []models.Vulnerability
	err := r.db.Where("scan_job_id = ?", scanJobID).Order("file_path, start_line").Find(&vulns).Error
	return vulns, err
}

func (r *vulnerabilityRepository) ListOpenByRepository(repositoryID uuid.UUID) ([]models.Vulnerability, error) {
	var vulns []models.Vulnerability
	err := r.db.Where("repository_id = ? AND status = ?", repositoryID, models.VulnStatusOpen).Order("detected_at DESC").Find(&vulns).Error
	return vulns, err
}
