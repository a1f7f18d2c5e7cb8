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

package services

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/platforms"
	"github.com/vulnix-dev/vulnix/shared"
)

// ConnectRepositoryParams registers a GitLab or Bitbucket repository by
// hand. GitHub repositories arrive through the installation webhook
// instead.
type ConnectRepositoryParams struct {
	Platform         models.Platform `validate:"required,oneof=gitlab bitbucket"`
	PlatformRepoID   string          `validate:"required"`
	FullName         string          `validate:"required"`
	DefaultBranch    string
	TeamID           uuid.UUID `validate:"required"`
	AccessToken      string    `validate:"required"`
	ExternalUsername string
	PlatformBaseURL  string
}

// RepositoryService handles repository registration outside the GitHub
// App flow: credential validation, webhook setup, the initial scan.
type RepositoryService struct {
	repositoryRepository shared.RepositoryRepository
	tokenCrypto          shared.TokenCrypto
	orchestrator         *ScanOrchestrator
	platformFactory      PlatformClientFactory
}

func NewRepositoryService(repositoryRepository shared.RepositoryRepository, tokenCrypto shared.TokenCrypto, orchestrator *ScanOrchestrator, platformFactory PlatformClientFactory) *RepositoryService {
	return &RepositoryService{
		repositoryRepository: repositoryRepository,
		tokenCrypto:          tokenCrypto,
		orchestrator:         orchestrator,
		platformFactory:      platformFactory,
	}
}

// ConnectRepository validates the supplied credentials, persists the
// repository with its token encrypted, registers the platform webhook
// and enqueues the initial scan.
func (s *RepositoryService) ConnectRepository(ctx context.Context, params ConnectRepositoryParams) (models.Repository, error) {
	if err := shared.V.Struct(params); err != nil {
		return models.Repository{}, errors.Wrap(err, "invalid connect request")
	}

	tokenEnc, err := s.tokenCrypto.Encrypt(params.AccessToken)
	if err != nil {
		return models.Repository{}, errors.Wrap(err, "could not encrypt access token")
	}

	defaultBranch := params.DefaultBranch
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	repository := models.Repository{
		Platform:         params.Platform,
		PlatformRepoID:   params.PlatformRepoID,
		FullName:         params.FullName,
		DefaultBranch:    defaultBranch,
		TeamID:           params.TeamID,
		AccessTokenEnc:   tokenEnc,
		ExternalUsername: params.ExternalUsername,
		PlatformBaseURL:  params.PlatformBaseURL,
		WebhookSecret:    uuid.NewString(),
		IsActive:         true,
	}

	// the client needs the persisted credential fields, build it off the
	// unsaved row first to fail fast on bad tokens
	client, err := s.platformFactory.ForRepository(repository)
	if err != nil {
		return models.Repository{}, errors.Wrap(err, "could not build platform client")
	}
	valid, err := client.ValidateCredentials(ctx)
	if err != nil {
		return models.Repository{}, errors.Wrap(err, "credential validation failed")
	}
	if !valid {
		return models.Repository{}, errors.New("platform rejected the supplied credentials")
	}

	// a reconnect of a known repository updates in place
	if existing, err := s.repositoryRepository.FindByPlatformRepoID(nil, params.Platform, params.PlatformRepoID); err == nil {
		repository.Model = existing.Model
		repository.IsInitialScanDone = existing.IsInitialScanDone
	}
	if err := s.repositoryRepository.Save(nil, &repository); err != nil {
		return models.Repository{}, errors.Wrap(err, "could not persist repository")
	}

	if err := s.registerWebhook(ctx, client, repository); err != nil {
		// the repo is connected, hooks can be retried from the UI
		slog.Warn("could not register webhook", "repository", repository.FullName, "err", err)
	}

	if !repository.IsInitialScanDone {
		if _, err := s.orchestrator.EnqueueScan(ctx, EnqueueScanParams{
			Repository: repository,
			Trigger:    models.TriggerManual,
			ScanType:   models.ScanTypeInitial,
			Branch:     repository.DefaultBranch,
		}); err != nil {
			slog.Warn("could not enqueue initial scan", "repository", repository.FullName, "err", err)
		}
	}

	return repository, nil
}

func (s *RepositoryService) registerWebhook(ctx context.Context, client platforms.Client, repository models.Repository) error {
	baseURL := os.Getenv("WEBHOOK_BASE_URL")
	if baseURL == "" {
		return errors.New("WEBHOOK_BASE_URL is not configured")
	}

	var path string
	var events []string
	switch repository.Platform {
	case models.PlatformGitlab:
		path = "/api/v1/webhooks/gitlab"
		events = []string{"push", "merge_request"}
	case models.PlatformBitbucket:
		path = "/api/v1/webhooks/bitbucket"
		events = []string{"repo:push", "pullrequest:created", "pullrequest:updated", "pullrequest:fulfilled", "pullrequest:rejected"}
	default:
		return errors.Errorf("webhook registration is not supported for %s", repository.Platform)
	}

	return client.RegisterWebhook(ctx, repository.FullName, baseURL+path, repository.WebhookSecret, events)
}

// ListRepositories returns the active repositories of a team.
func (s *RepositoryService) ListRepositories(teamID uuid.UUID) ([]models.Repository, error) {
	return s.repositoryRepository.ListActiveByTeam(teamID)
}

// GetRepository loads a single repository.
func (s *RepositoryService) GetRepository(id uuid.UUID) (models.Repository, error) {
	return s.repositoryRepository.Read(id)
}
