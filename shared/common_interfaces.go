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

package shared

import (
	"github.com/google/uuid"
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/utils"
	"gorm.io/gorm"
)

type RepositoryRepository interface {
	utils.Repository[uuid.UUID, models.Repository, *gorm.DB]

	FindByPlatformRepoID(tx DB, platform models.Platform, platformRepoID string) (models.Repository, error)
	FindByInstallationID(tx DB, installationID int64) ([]models.Repository, error)
	ListActiveByTeam(teamID uuid.UUID) ([]models.Repository, error)
}

type ScanJobRepository interface {
	utils.Repository[uuid.UUID, models.ScanJob, *gorm.DB]

	FindActive(tx DB, repositoryID uuid.UUID) ([]models.ScanJob, error)
	FindActiveByPR(tx DB, repositoryID uuid.UUID, prNumber int) ([]models.ScanJob, error)
	ReadForUpdate(tx DB, id uuid.UUID) (models.ScanJob, error)
	UpdateCounters(tx DB, id uuid.UUID, findings, truePositives, falsePositives, autoFiltered int) error
	ListByRepository(repositoryID uuid.UUID, limit int) ([]models.ScanJob, error)
}

type VulnerabilityRepository interface {
	utils.Repository[uuid.UUID, models.Vulnerability, *gorm.DB]

	FindByNaturalKey(tx DB, scanJobID uuid.UUID, ruleID, filePath string, startLine int) (models.Vulnerability, error)
	FindByScanJob(scanJobID uuid.UUID) ([]models.Vulnerability, error)
	ListOpenByRepository(repositoryID uuid.UUID) ([]models.Vulnerability, error)
}

type PatchPRRepository interface {
	utils.Repository[uuid.UUID, models.PatchPR, *gorm.DB]

	FindByRepoAndPRNumber(tx DB, repositoryID uuid.UUID, prNumber int) (models.PatchPR, error)
	FindByVulnerability(tx DB, vulnerabilityID uuid.UUID) (models.PatchPR, error)
}

type FalsePositivePatternRepository interface {
	utils.Repository[uuid.UUID, models.FalsePositivePattern, *gorm.DB]

	FindActiveByTeam(tx DB, teamID uuid.UUID) ([]models.FalsePositivePattern, error)
	FindActiveByKey(tx DB, teamID uuid.UUID, ruleID, filePattern string) (models.FalsePositivePattern, error)
	ListByTeam(teamID uuid.UUID) ([]models.FalsePositivePattern, error)
}

type FalsePositiveLogRepository interface {
	utils.Repository[uuid.UUID, models.FalsePositiveLog, *gorm.DB]
}

type ApiKeyRepository interface {
	utils.Repository[uuid.UUID, models.ApiKey, *gorm.DB]

	FindActiveByPrefix(tx DB, prefix string) ([]models.ApiKey, error)
	ListByTeam(teamID uuid.UUID) ([]models.ApiKey, error)
}
