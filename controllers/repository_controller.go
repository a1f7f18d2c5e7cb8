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
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/services"
	"github.com/vulnix-dev/vulnix/shared"
)

type RepositoryController struct {
	repositoryService *services.RepositoryService
}

func NewRepositoryController(repositoryService *services.RepositoryService) *RepositoryController {
	return &RepositoryController{repositoryService: repositoryService}
}

type ConnectRepositoryRequest struct {
	Platform         string `json:"platform" validate:"required,oneof=gitlab bitbucket"`
	PlatformRepoID   string `json:"platformRepoId" validate:"required"`
	FullName         string `json:"fullName" validate:"required"`
	DefaultBranch    string `json:"defaultBranch"`
	TeamID           string `json:"teamId" validate:"required,uuid"`
	AccessToken      string `json:"accessToken" validate:"required"`
	ExternalUsername string `json:"externalUsername"`
	PlatformBaseURL  string `json:"platformBaseUrl"`
}

// @Summary Connect a GitLab or Bitbucket repository
// @Tags Repositories
// @Accept json
// @Success 201 {object} models.Repository
// @Router /repositories [post]
func (c *RepositoryController) Connect(ctx shared.Context) error {
	var req ConnectRepositoryRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(400, map[string]string{"error": "invalid request body"})
	}
	if err := shared.V.Struct(req); err != nil {
		return ctx.JSON(400, map[string]string{"error": err.Error()})
	}

	repository, err := c.repositoryService.ConnectRepository(ctx.Request().Context(), services.ConnectRepositoryParams{
		Platform:         models.Platform(req.Platform),
		PlatformRepoID:   req.PlatformRepoID,
		FullName:         req.FullName,
		DefaultBranch:    req.DefaultBranch,
		TeamID:           uuid.MustParse(req.TeamID),
		AccessToken:      req.AccessToken,
		ExternalUsername: req.ExternalUsername,
		PlatformBaseURL:  req.PlatformBaseURL,
	})
	if err != nil {
		return echo.NewHTTPError(500, "could not connect repository").WithInternal(err)
	}
	return ctx.JSON(201, repository)
}

// @Summary List a team's active repositories
// @Tags Repositories
// @Success 200 {array} models.Repository
// @Router /teams/{teamId}/repositories [get]
func (c *RepositoryController) List(ctx shared.Context) error {
	teamID, err := uuid.Parse(ctx.Param("teamId"))
	if err != nil {
		return ctx.JSON(400, map[string]string{"error": "invalid team id"})
	}

	repositories, err := c.repositoryService.ListRepositories(teamID)
	if err != nil {
		return echo.NewHTTPError(500, "could not list repositories").WithInternal(err)
	}
	return ctx.JSON(200, repositories)
}
