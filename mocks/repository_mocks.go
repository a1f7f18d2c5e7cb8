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

// Package mocks holds hand written testify mocks for the repository,
// broker and platform interfaces used across the service tests.
package mocks

import (
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/utils"
	"gorm.io/gorm"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// RepositoryBase implements the generic CRUD surface shared by every
// repository interface, so the per-entity mocks only add their finders.
type RepositoryBase[ID any, T utils.Tabler] struct {
	mock.Mock
}

func (m *RepositoryBase[ID, T]) Create(tx *gorm.DB, t *T) error {
	return m.Called(tx, t).Error(0)
}

func (m *RepositoryBase[ID, T]) Save(tx *gorm.DB, t *T) error {
	return m.Called(tx, t).Error(0)
}

func (m *RepositoryBase[ID, T]) Delete(tx *gorm.DB, id ID) error {
	return m.Called(tx, id).Error(0)
}

func (m *RepositoryBase[ID, T]) Read(id ID) (T, error) {
	ret := m.Called(id)
	var r0 T
	if v, ok := ret.Get(0).(T); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *RepositoryBase[ID, T]) List(ids []ID) ([]T, error) {
	ret := m.Called(ids)
	var r0 []T
	if v, ok := ret.Get(0).([]T); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *RepositoryBase[ID, T]) All() ([]T, error) {
	ret := m.Called()
	var r0 []T
	if v, ok := ret.Get(0).([]T); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *RepositoryBase[ID, T]) CreateBatch(tx *gorm.DB, ts []T) error {
	return m.Called(tx, ts).Error(0)
}

func (m *RepositoryBase[ID, T]) SaveBatch(tx *gorm.DB, ts []T) error {
	return m.Called(tx, ts).Error(0)
}

// Transaction runs the callback with a nil tx so service code under test
// exercises the same path it takes in production.
func (m *RepositoryBase[ID, T]) Transaction(f func(tx *gorm.DB) error) error {
	ret := m.Called(f)
	if ret.Error(0) != nil {
		return ret.Error(0)
	}
	return f(nil)
}

func (m *RepositoryBase[ID, T]) GetDB(tx *gorm.DB) *gorm.DB {
	ret := m.Called(tx)
	if db, ok := ret.Get(0).(*gorm.DB); ok {
		return db
	}
	return nil
}

func (m *RepositoryBase[ID, T]) Begin() *gorm.DB {
	ret := m.Called()
	if db, ok := ret.Get(0).(*gorm.DB); ok {
		return db
	}
	return nil
}

// --- RepositoryRepository ---

type RepositoryRepository struct {
	RepositoryBase[uuid.UUID, models.Repository]
}

func NewRepositoryRepository(t testingT) *RepositoryRepository {
	m := &RepositoryRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *RepositoryRepository) FindByPlatformRepoID(tx *gorm.DB, platform models.Platform, platformRepoID string) (models.Repository, error) {
	ret := m.Called(tx, platform, platformRepoID)
	var r0 models.Repository
	if v, ok := ret.Get(0).(models.Repository); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *RepositoryRepository) FindByInstallationID(tx *gorm.DB, installationID int64) ([]models.Repository, error) {
	ret := m.Called(tx, installationID)
	var r0 []models.Repository
	if v, ok := ret.Get(0).([]models.Repository); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *RepositoryRepository) ListActiveByTeam(teamID uuid.UUID) ([]models.Repository, error) {
	ret := m.Called(teamID)
	var r0 []models.Repository
	if v, ok := ret.Get(0).([]models.Repository); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

// --- ScanJobRepository ---

type ScanJobRepository struct {
	RepositoryBase[uuid.UUID, models.ScanJob]
}

func NewScanJobRepository(t testingT) *ScanJobRepository {
	m := &ScanJobRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *ScanJobRepository) FindActive(tx *gorm.DB, repositoryID uuid.UUID) ([]models.ScanJob, error) {
	ret := m.Called(tx, repositoryID)
	var r0 []models.ScanJob
	if v, ok := ret.Get(0).([]models.ScanJob); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *ScanJobRepository) FindActiveByPR(tx *gorm.DB, repositoryID uuid.UUID, prNumber int) ([]models.ScanJob, error) {
	ret := m.Called(tx, repositoryID, prNumber)
	var r0 []models.ScanJob
	if v, ok := ret.Get(0).([]models.ScanJob); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *ScanJobRepository) ReadForUpdate(tx *gorm.DB, id uuid.UUID) (models.ScanJob, error) {
	ret := m.Called(tx, id)
	var r0 models.ScanJob
	if v, ok := ret.Get(0).(models.ScanJob); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *ScanJobRepository) UpdateCounters(tx *gorm.DB, id uuid.UUID, findings, truePositives, falsePositives, autoFiltered int) error {
	ret := m.Called(tx, id, findings, truePositives, falsePositives, autoFiltered)
	return ret.Error(0)
}

func (m *ScanJobRepository) ListByRepository(repositoryID uuid.UUID, limit int) ([]models.ScanJob, error) {
	ret := m.Called(repositoryID, limit)
	var r0 []models.ScanJob
	if v, ok := ret.Get(0).([]models.ScanJob); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

// --- VulnerabilityRepository ---

type VulnerabilityRepository struct {
	RepositoryBase[uuid.UUID, models.Vulnerability]
}

func NewVulnerabilityRepository(t testingT) *VulnerabilityRepository {
	m := &VulnerabilityRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *VulnerabilityRepository) FindByNaturalKey(tx *gorm.DB, scanJobID uuid.UUID, ruleID, filePath string, startLine int) (models.Vulnerability, error) {
	ret := m.Called(tx, scanJobID, ruleID, filePath, startLine)
	var r0 models.Vulnerability
	if v, ok := ret.Get(0).(models.Vulnerability); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *VulnerabilityRepository) FindByScanJob(scanJobID uuid.UUID) ([]models.Vulnerability, error) {
	ret := m.Called(scanJobID)
	var r0 []models.Vulnerability
	if v, ok := ret.Get(0).([]models.Vulnerability); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *VulnerabilityRepository) ListOpenByRepository(repositoryID uuid.UUID) ([]models.Vulnerability, error) {
	ret := m.Called(repositoryID)
	var r0 []models.Vulnerability
	if v, ok := ret.Get(0).([]models.Vulnerability); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

// --- PatchPRRepository ---

type PatchPRRepository struct {
	RepositoryBase[uuid.UUID, models.PatchPR]
}

func NewPatchPRRepository(t testingT) *PatchPRRepository {
	m := &PatchPRRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *PatchPRRepository) FindByRepoAndPRNumber(tx *gorm.DB, repositoryID uuid.UUID, prNumber int) (models.PatchPR, error) {
	ret := m.Called(tx, repositoryID, prNumber)
	var r0 models.PatchPR
	if v, ok := ret.Get(0).(models.PatchPR); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *PatchPRRepository) FindByVulnerability(tx *gorm.DB, vulnerabilityID uuid.UUID) (models.PatchPR, error) {
	ret := m.Called(tx, vulnerabilityID)
	var r0 models.PatchPR
	if v, ok := ret.Get(0).(models.PatchPR); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

// --- FalsePositivePatternRepository ---

type FalsePositivePatternRepository struct {
	RepositoryBase[uuid.UUID, models.FalsePositivePattern]
}

func NewFalsePositivePatternRepository(t testingT) *FalsePositivePatternRepository {
	m := &FalsePositivePatternRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *FalsePositivePatternRepository) FindActiveByTeam(tx *gorm.DB, teamID uuid.UUID) ([]models.FalsePositivePattern, error) {
	ret := m.Called(tx, teamID)
	var r0 []models.FalsePositivePattern
	if v, ok := ret.Get(0).([]models.FalsePositivePattern); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *FalsePositivePatternRepository) FindActiveByKey(tx *gorm.DB, teamID uuid.UUID, ruleID, filePattern string) (models.FalsePositivePattern, error) {
	ret := m.Called(tx, teamID, ruleID, filePattern)
	var r0 models.FalsePositivePattern
	if v, ok := ret.Get(0).(models.FalsePositivePattern); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *FalsePositivePatternRepository) ListByTeam(teamID uuid.UUID) ([]models.FalsePositivePattern, error) {
	ret := m.Called(teamID)
	var r0 []models.FalsePositivePattern
	if v, ok := ret.Get(0).([]models.FalsePositivePattern); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

// --- FalsePositiveLogRepository ---

type FalsePositiveLogRepository struct {
	RepositoryBase[uuid.UUID, models.FalsePositiveLog]
}

func NewFalsePositiveLogRepository(t testingT) *FalsePositiveLogRepository {
	m := &FalsePositiveLogRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// --- ApiKeyRepository ---

type ApiKeyRepository struct {
	RepositoryBase[uuid.UUID, models.ApiKey]
}

func NewApiKeyRepository(t testingT) *ApiKeyRepository {
	m := &ApiKeyRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *ApiKeyRepository) FindActiveByPrefix(tx *gorm.DB, prefix string) ([]models.ApiKey, error) {
	ret := m.Called(tx, prefix)
	var r0 []models.ApiKey
	if v, ok := ret.Get(0).([]models.ApiKey); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *ApiKeyRepository) ListByTeam(teamID uuid.UUID) ([]models.ApiKey, error) {
	ret := m.Called(teamID)
	var r0 []models.ApiKey
	if v, ok := ret.Get(0).([]models.ApiKey); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}
