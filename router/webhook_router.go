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
	"github.com/vulnix-dev/vulnix/middlewares"
)

type WebhookRouter struct {
	*echo.Group
}

// NewWebhookRouter mounts the platform webhook ingress endpoints. These are
// rate limited per source IP since they are unauthenticated at the HTTP layer;
// payload authenticity is checked by the controller via HMAC signatures.
func NewWebhookRouter(apiV1Router APIV1Router,
	webhookController *controllers.WebhookController,
) WebhookRouter {
	webhookRouter := apiV1Router.Group.Group("/webhooks", middlewares.RateLimit(10, 30))

	webhookRouter.POST("/github/", webhookController.HandleGithub)
	webhookRouter.POST("/gitlab/", webhookController.HandleGitlab)
	webhookRouter.POST("/bitbucket/", webhookController.HandleBitbucket)

	return WebhookRouter{
		Group: webhookRouter,
	}
}
