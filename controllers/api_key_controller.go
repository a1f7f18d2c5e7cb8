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
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/vulnix-dev/vulnix/services"
	"github.com/vulnix-dev/vulnix/shared"
)

type ApiKeyController struct {
	apiKeyService *services.ApiKeyService
}

func NewApiKeyController(apiKeyService *services.ApiKeyService) *ApiKeyController {
	return &ApiKeyController{apiKeyService: apiKeyService}
}

type CreateApiKeyRequest struct {
	TeamID        string `json:"teamId" validate:"required,uuid"`
	Name          string `json:"name" validate:"required"`
	CreatedBy     string `json:"createdBy" validate:"required"`
	ExpiresInDays *int   `json:"expiresInDays" validate:"omitempty,gt=0"`
}

type createApiKeyResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"`
	KeyPrefix string     `json:"keyPrefix"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// @Summary Create an API key. The secret is returned exactly once.
// @Tags ApiKeys
// @Accept json
// @Success 201 {object} createApiKeyResponse
// @Router /api-keys [post]
func (c *ApiKeyController) Create(ctx shared.Context) error {
	var req CreateApiKeyRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(400, map[string]string{"error": "invalid request body"})
	}
	if err := shared.V.Struct(req); err != nil {
		return ctx.JSON(400, map[string]string{"error": err.Error()})
	}

	created, err := c.apiKeyService.CreateKey(uuid.MustParse(req.TeamID), req.Name, req.CreatedBy, req.ExpiresInDays)
	if err != nil {
		return echo.NewHTTPError(500, "could not create api key").WithInternal(err)
	}

	return ctx.JSON(201, createApiKeyResponse{
		ID:        created.Key.ID.String(),
		Name:      created.Key.Name,
		Key:       created.PlainText,
		KeyPrefix: created.Key.KeyPrefix,
		ExpiresAt: created.Key.ExpiresAt,
	})
}

// @Summary List a team's API keys
// @Tags ApiKeys
// @Success 200 {array} models.ApiKey
// @Router /teams/{teamId}/api-keys [get]
func (c *ApiKeyController) List(ctx shared.Context) error {
	teamID, err := uuid.Parse(ctx.Param("teamId"))
	if err != nil {
		return ctx.JSON(400, map[string]string{"error": "invalid team id"})
	}

	keys, err := c.apiKeyService.ListKeys(teamID)
	if err != nil {
		return echo.NewHTTPError(500, "could not list api keys").WithInternal(err)
	}
	return ctx.JSON(200, keys)
}

type RevokeApiKeyRequest struct {
	TeamID string `json:"teamId" validate:"required,uuid"`
}

// @Summary Revoke an API key
// @Tags ApiKeys
// @Success 200
// @Router /api-keys/{id} [delete]
func (c *ApiKeyController) Revoke(ctx shared.Context) error {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return ctx.JSON(400, map[string]string{"error": "invalid id format"})
	}

	var req RevokeApiKeyRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(400, map[string]string{"error": "invalid request body"})
	}
	if err := shared.V.Struct(req); err != nil {
		return ctx.JSON(400, map[string]string{"error": err.Error()})
	}

	if err := c.apiKeyService.RevokeKey(id, uuid.MustParse(req.TeamID)); err != nil {
		return ctx.JSON(404, map[string]string{"error": err.Error()})
	}
	return ctx.JSON(200, map[string]string{"message": "api key revoked"})
}
