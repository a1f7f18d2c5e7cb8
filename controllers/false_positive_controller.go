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
	"github.com/vulnix-dev/vulnix/services"
	"github.com/vulnix-dev/vulnix/shared"
)

type FalsePositiveController struct {
	falsePositiveService *services.FalsePositiveService
}

func NewFalsePositiveController(falsePositiveService *services.FalsePositiveService) *FalsePositiveController {
	return &FalsePositiveController{falsePositiveService: falsePositiveService}
}

type MarkFalsePositiveRequest struct {
	TeamID          string `json:"teamId" validate:"required,uuid"`
	VulnerabilityID string `json:"vulnerabilityId" validate:"required,uuid"`
	Reason          string `json:"reason" validate:"required"`
	FilePattern     string `json:"filePattern"`
	CreatedBy       string `json:"createdBy" validate:"required"`
}

// @Summary Mark a vulnerability as false positive and derive a pattern
// @Tags FalsePositives
// @Accept json
// @Success 201 {object} models.FalsePositivePattern
// @Router /false-positives [post]
func (c *FalsePositiveController) Create(ctx shared.Context) error {
	var req MarkFalsePositiveRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(400, map[string]string{"error": "invalid request body"})
	}
	if err := shared.V.Struct(req); err != nil {
		return ctx.JSON(400, map[string]string{"error": err.Error()})
	}

	pattern, err := c.falsePositiveService.CreateFromVulnerability(
		uuid.MustParse(req.TeamID),
		uuid.MustParse(req.VulnerabilityID),
		req.Reason,
		req.FilePattern,
		req.CreatedBy,
	)
	if err != nil {
		return echo.NewHTTPError(500, "could not create false positive pattern").WithInternal(err)
	}
	return ctx.JSON(201, pattern)
}

// @Summary List a team's false positive patterns
// @Tags FalsePositives
// @Success 200 {array} models.FalsePositivePattern
// @Router /teams/{teamId}/false-positives [get]
func (c *FalsePositiveController) List(ctx shared.Context) error {
	teamID, err := uuid.Parse(ctx.Param("teamId"))
	if err != nil {
		return ctx.JSON(400, map[string]string{"error": "invalid team id"})
	}

	patterns, err := c.falsePositiveService.ListByTeam(teamID)
	if err != nil {
		return echo.NewHTTPError(500, "could not list false positive patterns").WithInternal(err)
	}
	return ctx.JSON(200, patterns)
}

// @Summary Deactivate a false positive pattern
// @Tags FalsePositives
// @Success 200
// @Router /false-positives/{id} [delete]
func (c *FalsePositiveController) Deactivate(ctx shared.Context) error {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return ctx.JSON(400, map[string]string{"error": "invalid id format"})
	}

	if err := c.falsePositiveService.Deactivate(id); err != nil {
		return echo.NewHTTPError(500, "could not deactivate false positive pattern").WithInternal(err)
	}
	return ctx.JSON(200, map[string]string{"message": "pattern deactivated"})
}

// @Summary Restore a deactivated false positive pattern
// @Tags FalsePositives
// @Success 200
// @Router /false-positives/{id}/restore [post]
func (c *FalsePositiveController) Restore(ctx shared.Context) error {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return ctx.JSON(400, map[string]string{"error": "invalid id format"})
	}

	if err := c.falsePositiveService.Restore(id); err != nil {
		return ctx.JSON(409, map[string]string{"error": err.Error()})
	}
	return ctx.JSON(200, map[string]string{"message": "pattern restored"})
}
