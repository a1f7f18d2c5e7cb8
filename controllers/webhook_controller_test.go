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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/mocks"
	"github.com/vulnix-dev/vulnix/services"
)

func githubSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHandleGithubWebhook(t *testing.T) {
	const secret = "hook-secret"
	t.Setenv("GITHUB_WEBHOOK_SECRET", secret)

	pushBody := `{
		"ref": "refs/heads/main",
		"after": "abc123",
		"repository": {"id": 123, "default_branch": "main"},
		"commits": [{"added": ["app/db.py"]}]
	}`

	newController := func(t *testing.T) (*WebhookController, *mocks.RepositoryRepository, *mocks.ScanJobRepository) {
		repositoryRepository := mocks.NewRepositoryRepository(t)
		scanJobRepository := mocks.NewScanJobRepository(t)
		patchPRRepository := mocks.NewPatchPRRepository(t)
		broker := mocks.NewBroker(t)
		platformFactory := mocks.NewPlatformClientFactory(t)

		orchestrator := services.NewScanOrchestrator(scanJobRepository, broker)
		webhookService := services.NewWebhookService(repositoryRepository, scanJobRepository, patchPRRepository, orchestrator, platformFactory)

		broker.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()
		return NewWebhookController(webhookService), repositoryRepository, scanJobRepository
	}

	invoke := func(controller *WebhookController, event, body, signature string) *httptest.ResponseRecorder {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/github/", strings.NewReader(body))
		req.Header.Set("X-Hub-Signature-256", signature)
		req.Header.Set("X-GitHub-Event", event)
		rec := httptest.NewRecorder()
		_ = controller.HandleGithub(e.NewContext(req, rec))
		return rec
	}

	t.Run("should answer an accepted push with the scan job id", func(t *testing.T) {
		controller, repositoryRepository, scanJobRepository := newController(t)

		repo := models.Repository{
			Platform:       models.PlatformGithub,
			PlatformRepoID: "123",
			FullName:       "acme/shop",
			DefaultBranch:  "main",
			IsActive:       true,
		}
		repo.ID = uuid.New()
		jobID := uuid.New()

		repositoryRepository.On("FindByPlatformRepoID", mock.Anything, models.PlatformGithub, "123").Return(repo, nil)
		scanJobRepository.On("Transaction", mock.Anything).Return(nil)
		scanJobRepository.On("FindActive", mock.Anything, repo.ID).Return([]models.ScanJob{}, nil)
		scanJobRepository.On("Create", mock.Anything, mock.AnythingOfType("*models.ScanJob")).Run(func(args mock.Arguments) {
			args.Get(1).(*models.ScanJob).ID = jobID
		}).Return(nil)

		rec := invoke(controller, "push", pushBody, githubSignature(secret, []byte(pushBody)))

		require.Equal(t, http.StatusAccepted, rec.Code)

		var response map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
		assert.Equal(t, jobID.String(), response["scan_job_id"])
		assert.Equal(t, "push", response["event"])
	})

	t.Run("should reject a bad signature", func(t *testing.T) {
		controller, _, _ := newController(t)

		rec := invoke(controller, "push", pushBody, "sha256=deadbeef")

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("should answer ping with pong", func(t *testing.T) {
		controller, _, _ := newController(t)

		body := `{"zen": "keep it logically awesome"}`
		rec := invoke(controller, "ping", body, githubSignature(secret, []byte(body)))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "pong")
	})
}
