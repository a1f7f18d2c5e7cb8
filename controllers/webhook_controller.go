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
	"io"
	"log/slog"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/vulnix-dev/vulnix/monitoring"
	"github.com/vulnix-dev/vulnix/services"
	"github.com/vulnix-dev/vulnix/shared"
)

type WebhookController struct {
	webhookService *services.WebhookService
}

func NewWebhookController(webhookService *services.WebhookService) *WebhookController {
	return &WebhookController{webhookService: webhookService}
}

type webhookAcceptedResponse struct {
	ScanJobID *string `json:"scan_job_id"`
	Event     string  `json:"event"`
}

// @Summary GitHub webhook ingress
// @Tags Webhooks
// @Accept json
// @Success 202 {object} webhookAcceptedResponse
// @Router /webhooks/github [post]
func (c *WebhookController) HandleGithub(ctx shared.Context) error {
	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return echo.NewHTTPError(400, "could not read request body").WithInternal(err)
	}

	if err := services.VerifyHMACSignature(body, ctx.Request().Header.Get("X-Hub-Signature-256"), os.Getenv("GITHUB_WEBHOOK_SECRET")); err != nil {
		monitoring.WebhookEventsTotal.WithLabelValues("github", "rejected").Inc()
		return ctx.JSON(403, map[string]string{"error": "invalid signature"})
	}

	event := ctx.Request().Header.Get("X-GitHub-Event")
	if event == "" {
		return ctx.JSON(400, map[string]string{"error": "missing event header"})
	}
	if event == "ping" {
		return ctx.JSON(200, map[string]string{"message": "pong"})
	}

	outcome, err := c.webhookService.HandleGithubEvent(ctx.Request().Context(), event, body)
	return c.respond(ctx, "github", event, outcome, err)
}

// @Summary GitLab webhook ingress
// @Tags Webhooks
// @Accept json
// @Success 202 {object} webhookAcceptedResponse
// @Router /webhooks/gitlab [post]
func (c *WebhookController) HandleGitlab(ctx shared.Context) error {
	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return echo.NewHTTPError(400, "could not read request body").WithInternal(err)
	}

	if err := services.VerifySharedToken(ctx.Request().Header.Get("X-Gitlab-Token"), os.Getenv("GITLAB_WEBHOOK_SECRET")); err != nil {
		monitoring.WebhookEventsTotal.WithLabelValues("gitlab", "rejected").Inc()
		return ctx.JSON(403, map[string]string{"error": "invalid token"})
	}

	event := ctx.Request().Header.Get("X-Gitlab-Event")
	if event == "" {
		return ctx.JSON(400, map[string]string{"error": "missing event header"})
	}

	outcome, err := c.webhookService.HandleGitlabEvent(ctx.Request().Context(), event, body)
	return c.respond(ctx, "gitlab", event, outcome, err)
}

// @Summary Bitbucket webhook ingress
// @Tags Webhooks
// @Accept json
// @Success 202 {object} webhookAcceptedResponse
// @Router /webhooks/bitbucket [post]
func (c *WebhookController) HandleBitbucket(ctx shared.Context) error {
	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return echo.NewHTTPError(400, "could not read request body").WithInternal(err)
	}

	if err := services.VerifyHMACSignature(body, ctx.Request().Header.Get("X-Hub-Signature"), os.Getenv("BITBUCKET_WEBHOOK_SECRET")); err != nil {
		monitoring.WebhookEventsTotal.WithLabelValues("bitbucket", "rejected").Inc()
		return ctx.JSON(403, map[string]string{"error": "invalid signature"})
	}

	event := ctx.Request().Header.Get("X-Event-Key")
	if event == "" {
		return ctx.JSON(400, map[string]string{"error": "missing event header"})
	}
	if event == "ping" {
		return ctx.JSON(200, map[string]string{"message": "pong"})
	}

	outcome, err := c.webhookService.HandleBitbucketEvent(ctx.Request().Context(), event, body)
	return c.respond(ctx, "bitbucket", event, outcome, err)
}

func (c *WebhookController) respond(ctx shared.Context, platform, event string, outcome services.WebhookOutcome, err error) error {
	if err != nil {
		slog.Error("webhook handling failed", "platform", platform, "event", event, "err", err)
		monitoring.WebhookEventsTotal.WithLabelValues(platform, "error").Inc()
		return echo.NewHTTPError(500, "could not process webhook").WithInternal(err)
	}

	// events the dispatcher does not know stay a silent 200
	if outcome.Ignored && outcome.Reason == "unknown event" {
		monitoring.WebhookEventsTotal.WithLabelValues(platform, "unknown").Inc()
		return ctx.JSON(200, map[string]string{"message": "ignored"})
	}

	monitoring.WebhookEventsTotal.WithLabelValues(platform, "accepted").Inc()
	response := webhookAcceptedResponse{Event: event}
	if outcome.ScanJobID != nil {
		id := outcome.ScanJobID.String()
		response.ScanJobID = &id
	}
	return ctx.JSON(202, response)
}
