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

package router

import (
	"github.com/labstack/echo/v4"
	"github.com/vulnix-dev/vulnix/controllers"
)

type ScanRouter struct {
	*echo.Group
}

// NewScanRouter mounts the scan, repository, false positive and api key
// management endpoints under /api/v1.
func NewScanRouter(apiV1Router APIV1Router,
	scanController *controllers.ScanController,
	repositoryController *controllers.RepositoryController,
	falsePositiveController *controllers.FalsePositiveController,
	apiKeyController *controllers.ApiKeyController,
) ScanRouter {
	group := apiV1Router.Group

	group.POST("/scans/", scanController.Trigger)
	group.GET("/scans/:id/", scanController.Get)
	group.POST("/scans/:id/cancel/", scanController.Cancel)

	group.POST("/repositories/", repositoryController.Connect)
	group.GET("/repositories/:id/scans/", scanController.ListByRepository)
	group.GET("/repositories/:id/vulnerabilities/", scanController.ListVulnerabilities)
	group.GET("/teams/:teamId/repositories/", repositoryController.List)

	group.POST("/false-positives/", falsePositiveController.Create)
	group.GET("/teams/:teamId/false-positives/", falsePositiveController.List)
	group.DELETE("/false-positives/:id/", falsePositiveController.Deactivate)
	group.POST("/false-positives/:id/restore/", falsePositiveController.Restore)

	group.POST("/api-keys/", apiKeyController.Create)
	group.GET("/teams/:teamId/api-keys/", apiKeyController.List)
	group.DELETE("/api-keys/:id/", apiKeyController.Revoke)

	return ScanRouter{
		Group: group,
	}
}
