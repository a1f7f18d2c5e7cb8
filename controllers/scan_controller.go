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

package controllers

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/services"
	"github.com/vulnix-dev/vulnix/shared"
)

type ScanController struct {
	orchestrator            *services.ScanOrchestrator
	repositoryService       *services.RepositoryService
	scanJobRepository       shared.ScanJobRepository
	vulnerabilityRepository shared.VulnerabilityRepository
}

func NewScanController(orchestrator *services.ScanOrchestrator, repositoryService *services.RepositoryService, scanJobRepository shared.ScanJobRepository, vulnerabilityRepository shared.VulnerabilityRepository) *ScanController {
	return &ScanController{
		orchestrator:            orchestrator,
		repositoryService:       repositoryService,
		scanJobRepository:       scanJobRepository,
		vulnerabilityRepository: vulnerabilityRepository,
	}
}

type TriggerScanRequest struct {
	RepositoryID string `json:"repositoryId" validate:"required,uuid"`
	Branch       string `json:"branch"`
}

// @Summary Trigger a manual scan
// @Tags Scans
// @Accept json
// @Success 202 {object} models.ScanJob
// @Router /scans [post]
func (c *ScanController) Trigger(ctx shared.Context) error {
	var req TriggerScanRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(400, map[string]string{"error": "invalid request body"})
	}
	if err := shared.V.Struct(req); err != nil {
		return ctx.JSON(400, map[string]string{"error": err.Error()})
	}

	repository, err := c.repositoryService.GetRepository(uuid.MustParse(req.RepositoryID))
	if err != nil {
		return ctx.JSON(404, map[string]string{"error": "repository not found"})
	}

	branch := req.Branch
	if branch == "" {
		branch = repository.DefaultBranch
	}

	job, err := c.orchestrator.EnqueueScan(ctx.Request().Context(), services.EnqueueScanParams{
		Repository: repository,
		Trigger:    models.TriggerManual,
		ScanType:   models.ScanTypeInitial,
		Branch:     branch,
	})
	if errors.Is(err, services.ErrScanAlreadyActive) {
		return ctx.JSON(409, map[string]string{"error": "a scan is already active for this repository"})
	}
	if err != nil {
		return echo.NewHTTPError(500, "could not enqueue scan").WithInternal(err)
	}
	return ctx.JSON(202, job)
}

// @Summary Get a scan job
// @Tags Scans
// @Success 200 {object} models.ScanJob
// @Router /scans/{id} [get]
func (c *ScanController) Get(ctx shared.Context) error {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return ctx.JSON(400, map[string]string{"error": "invalid id format"})
	}

	job, err := c.scanJobRepository.Read(id)
	if err != nil {
		return ctx.JSON(404, map[string]string{"error": "scan job not found"})
	}
	return ctx.JSON(200, job)
}

// @Summary List a repository's scan jobs
// @Tags Scans
// @Success 200 {array} models.ScanJob
// @Router /repositories/{id}/scans [get]
func (c *ScanController) ListByRepository(ctx shared.Context) error {
	repositoryID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return ctx.JSON(400, map[string]string{"error": "invalid id format"})
	}

	jobs, err := c.scanJobRepository.ListByRepository(repositoryID, 50)
	if err != nil {
		return echo.NewHTTPError(500, "could not list scan jobs").WithInternal(err)
	}
	return ctx.JSON(200, jobs)
}

// @Summary Cancel a scan job
// @Tags Scans
// @Success 200 {object} models.ScanJob
// @Router /scans/{id}/cancel [post]
func (c *ScanController) Cancel(ctx shared.Context) error {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return ctx.JSON(400, map[string]string{"error": "invalid id format"})
	}

	if err := c.orchestrator.UpdateJobStatus(ctx.Request().Context(), id, models.ScanJobStatusCancelled, nil); err != nil {
		return echo.NewHTTPError(500, "could not cancel scan job").WithInternal(err)
	}

	job, err := c.scanJobRepository.Read(id)
	if err != nil {
		return ctx.JSON(404, map[string]string{"error": "scan job not found"})
	}
	return ctx.JSON(200, job)
}

// @Summary List open vulnerabilities of a repository
// @Tags Vulnerabilities
// @Success 200 {array} models.Vulnerability
// @Router /repositories/{id}/vulnerabilities [get]
func (c *ScanController) ListVulnerabilities(ctx shared.Context) error {
	repositoryID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return ctx.JSON(400, map[string]string{"error": "invalid id format"})
	}

	vulnerabilities, err := c.vulnerabilityRepository.ListOpenByRepository(repositoryID)
	if err != nil {
		return echo.NewHTTPError(500, "could not list vulnerabilities").WithInternal(err)
	}
	return ctx.JSON(200, vulnerabilities)
}
