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
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/platforms"
	"github.com/vulnix-dev/vulnix/shared"
	"github.com/vulnix-dev/vulnix/utils"
)

// PlatformClientFactory resolves the platform client for a registered
// repository.
type PlatformClientFactory interface {
	ForRepository(repository models.Repository) (platforms.Client, error)
}

// WebhookOutcome is what an event handler decided. A nil ScanJobID with
// Ignored set means the event was understood but needs no scan.
type WebhookOutcome struct {
	ScanJobID *uuid.UUID
	Ignored   bool
	Reason    string
}

func ignored(reason string) WebhookOutcome {
	return WebhookOutcome{Ignored: true, Reason: reason}
}

// WebhookService turns verified platform events into scan jobs and
// PatchPR state updates. Signature checking happens a layer above.
type WebhookService struct {
	repositoryRepository shared.RepositoryRepository
	scanJobRepository    shared.ScanJobRepository
	patchPRRepository    shared.PatchPRRepository
	orchestrator         *ScanOrchestrator
	platformFactory      PlatformClientFactory
}

func NewWebhookService(repositoryRepository shared.RepositoryRepository, scanJobRepository shared.ScanJobRepository, patchPRRepository shared.PatchPRRepository, orchestrator *ScanOrchestrator, platformFactory PlatformClientFactory) *WebhookService {
	return &WebhookService{
		repositoryRepository: repositoryRepository,
		scanJobRepository:    scanJobRepository,
		patchPRRepository:    patchPRRepository,
		orchestrator:         orchestrator,
		platformFactory:      platformFactory,
	}
}

func (s *WebhookService) activeRepo(platform models.Platform, platformRepoID string) (models.Repository, bool) {
	repository, err := s.repositoryRepository.FindByPlatformRepoID(nil, platform, platformRepoID)
	if err != nil || !repository.IsActive {
		return models.Repository{}, false
	}
	return repository, true
}

// supportedChanged keeps the paths the scanner has rules for.
func supportedChanged(paths []string) []string {
	return utils.Unique(utils.Filter(paths, IsSupportedFile))
}

// --- GitHub ---

type githubPushPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		ID            int64  `json:"id"`
		DefaultBranch string `json:"default_branch"`
	} `json:"repository"`
	Commits []struct {
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
	} `json:"commits"`
}

type githubPullRequestPayload struct {
	Action     string `json:"action"`
	Repository struct {
		ID int64 `json:"id"`
	} `json:"repository"`
	PullRequest struct {
		Number int  `json:"number"`
		Merged bool `json:"merged"`
		Head   struct {
			SHA string `json:"sha"`
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
}

type githubInstallationPayload struct {
	Action       string `json:"action"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
	Repositories []struct {
		ID       int64  `json:"id"`
		FullName string `json:"full_name"`
		Private  bool   `json:"private"`
	} `json:"repositories"`
}

// HandleGithubEvent dispatches a verified GitHub event. Unknown events
// are silently ignored.
func (s *WebhookService) HandleGithubEvent(ctx context.Context, event string, body []byte) (WebhookOutcome, error) {
	switch event {
	case "push":
		var payload githubPushPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return WebhookOutcome{}, errors.Wrap(err, "could not parse push payload")
		}
		changed := make([]string, 0)
		for _, commit := range payload.Commits {
			changed = append(changed, commit.Added...)
			changed = append(changed, commit.Modified...)
		}
		return s.handlePush(ctx, models.PlatformGithub, strconv.FormatInt(payload.Repository.ID, 10), payload.Ref, payload.Repository.DefaultBranch, payload.After, changed, true)
	case "pull_request":
		var payload githubPullRequestPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return WebhookOutcome{}, errors.Wrap(err, "could not parse pull_request payload")
		}
		repoID := strconv.FormatInt(payload.Repository.ID, 10)
		switch payload.Action {
		case "opened", "synchronize", "reopened":
			return s.handlePullRequest(ctx, models.PlatformGithub, repoID, payload.PullRequest.Number, payload.PullRequest.Head.Ref, payload.PullRequest.Head.SHA, payload.Action == "synchronize")
		case "closed":
			status := models.PatchPRStatusClosed
			if payload.PullRequest.Merged {
				status = models.PatchPRStatusMerged
			}
			return s.updatePatchPRState(models.PlatformGithub, repoID, payload.PullRequest.Number, status)
		default:
			return ignored("unhandled pull_request action"), nil
		}
	case "installation":
		var payload githubInstallationPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return WebhookOutcome{}, errors.Wrap(err, "could not parse installation payload")
		}
		switch payload.Action {
		case "created":
			return s.handleInstallationCreated(ctx, payload)
		case "deleted":
			return s.handleInstallationDeleted(payload.Installation.ID)
		default:
			return ignored("unhandled installation action"), nil
		}
	default:
		return ignored("unknown event"), nil
	}
}

// --- GitLab ---

type gitlabPushPayload struct {
	Ref         string `json:"ref"`
	CheckoutSHA string `json:"checkout_sha"`
	Project     struct {
		ID            int64  `json:"id"`
		DefaultBranch string `json:"default_branch"`
	} `json:"project"`
	Commits []struct {
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
	} `json:"commits"`
}

type gitlabMergeRequestPayload struct {
	Project struct {
		ID int64 `json:"id"`
	} `json:"project"`
	ObjectAttributes struct {
		Action       string `json:"action"`
		IID          int    `json:"iid"`
		SourceBranch string `json:"source_branch"`
		LastCommit   struct {
			ID string `json:"id"`
		} `json:"last_commit"`
	} `json:"object_attributes"`
}

func (s *WebhookService) HandleGitlabEvent(ctx context.Context, event string, body []byte) (WebhookOutcome, error) {
	switch event {
	case "Push Hook":
		var payload gitlabPushPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return WebhookOutcome{}, errors.Wrap(err, "could not parse push payload")
		}
		changed := make([]string, 0)
		for _, commit := range payload.Commits {
			changed = append(changed, commit.Added...)
			changed = append(changed, commit.Modified...)
		}
		return s.handlePush(ctx, models.PlatformGitlab, strconv.FormatInt(payload.Project.ID, 10), payload.Ref, payload.Project.DefaultBranch, payload.CheckoutSHA, changed, true)
	case "Merge Request Hook":
		var payload gitlabMergeRequestPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return WebhookOutcome{}, errors.Wrap(err, "could not parse merge request payload")
		}
		projectID := strconv.FormatInt(payload.Project.ID, 10)
		switch payload.ObjectAttributes.Action {
		case "open", "update", "reopen":
			return s.handlePullRequest(ctx, models.PlatformGitlab, projectID, payload.ObjectAttributes.IID, payload.ObjectAttributes.SourceBranch, payload.ObjectAttributes.LastCommit.ID, payload.ObjectAttributes.Action == "update")
		case "merge":
			return s.updatePatchPRState(models.PlatformGitlab, projectID, payload.ObjectAttributes.IID, models.PatchPRStatusMerged)
		case "close":
			return s.updatePatchPRState(models.PlatformGitlab, projectID, payload.ObjectAttributes.IID, models.PatchPRStatusClosed)
		default:
			return ignored("unhandled merge request action"), nil
		}
	default:
		return ignored("unknown event"), nil
	}
}

// --- Bitbucket ---

type bitbucketPushPayload struct {
	Repository struct {
		FullName   string `json:"full_name"`
		MainBranch *struct {
			Name string `json:"name"`
		} `json:"mainbranch"`
	} `json:"repository"`
	Push struct {
		Changes []struct {
			New *struct {
				Type string `json:"type"`
				Name string `json:"name"`
			} `json:"new"`
			Commits []struct {
				Hash string `json:"hash"`
			} `json:"commits"`
		} `json:"changes"`
	} `json:"push"`
}

type bitbucketPullRequestPayload struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	PullRequest struct {
		ID     int `json:"id"`
		Source struct {
			Branch struct {
				Name string `json:"name"`
			} `json:"branch"`
			Commit struct {
				Hash string `json:"hash"`
			} `json:"commit"`
		} `json:"source"`
	} `json:"pullrequest"`
}

func (s *WebhookService) HandleBitbucketEvent(ctx context.Context, event string, body []byte) (WebhookOutcome, error) {
	switch event {
	case "repo:push":
		var payload bitbucketPushPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return WebhookOutcome{}, errors.Wrap(err, "could not parse push payload")
		}
		defaultBranch := "main"
		if payload.Repository.MainBranch != nil && payload.Repository.MainBranch.Name != "" {
			defaultBranch = payload.Repository.MainBranch.Name
		}
		pushedBranch := ""
		commitSHA := ""
		for _, change := range payload.Push.Changes {
			if change.New != nil && change.New.Type == "branch" {
				pushedBranch = change.New.Name
				if len(change.Commits) > 0 {
					commitSHA = change.Commits[0].Hash
				}
				break
			}
		}
		// the push payload carries no file lists, every default-branch
		// push is scanned
		return s.handlePush(ctx, models.PlatformBitbucket, payload.Repository.FullName, "refs/heads/"+pushedBranch, defaultBranch, commitSHA, nil, false)
	case "pullrequest:created", "pullrequest:updated":
		var payload bitbucketPullRequestPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return WebhookOutcome{}, errors.Wrap(err, "could not parse pullrequest payload")
		}
		return s.handlePullRequest(ctx, models.PlatformBitbucket, payload.Repository.FullName, payload.PullRequest.ID, payload.PullRequest.Source.Branch.Name, payload.PullRequest.Source.Commit.Hash, event == "pullrequest:updated")
	case "pullrequest:fulfilled":
		var payload bitbucketPullRequestPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return WebhookOutcome{}, errors.Wrap(err, "could not parse pullrequest payload")
		}
		return s.updatePatchPRState(models.PlatformBitbucket, payload.Repository.FullName, payload.PullRequest.ID, models.PatchPRStatusMerged)
	case "pullrequest:rejected":
		var payload bitbucketPullRequestPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return WebhookOutcome{}, errors.Wrap(err, "could not parse pullrequest payload")
		}
		return s.updatePatchPRState(models.PlatformBitbucket, payload.Repository.FullName, payload.PullRequest.ID, models.PatchPRStatusClosed)
	default:
		return ignored("unknown event"), nil
	}
}

// --- shared decision logic ---

// handlePush enqueues an incremental scan for a default-branch push.
// When filterFiles is set, pushes without a single supported file are
// skipped.
func (s *WebhookService) handlePush(ctx context.Context, platform models.Platform, platformRepoID, ref, defaultBranch, commitSHA string, changed []string, filterFiles bool) (WebhookOutcome, error) {
	pushedBranch := strings.TrimPrefix(ref, "refs/heads/")
	if pushedBranch != defaultBranch {
		return ignored("push to non-default branch"), nil
	}

	repository, found := s.activeRepo(platform, platformRepoID)
	if !found {
		return ignored("repository not registered"), nil
	}

	changedFiles := supportedChanged(changed)
	if filterFiles && len(changedFiles) == 0 {
		return ignored("no supported files changed"), nil
	}

	job, err := s.orchestrator.EnqueueScan(ctx, EnqueueScanParams{
		Repository:   repository,
		Trigger:      models.TriggerWebhook,
		ScanType:     models.ScanTypeIncremental,
		CommitSHA:    commitSHA,
		Branch:       pushedBranch,
		ChangedFiles: changedFiles,
	})
	if errors.Is(err, ErrScanAlreadyActive) {
		return ignored("scan already active"), nil
	}
	if err != nil {
		return WebhookOutcome{}, err
	}
	return WebhookOutcome{ScanJobID: &job.ID}, nil
}

// handlePullRequest enqueues a PR scan over the PR's changed files. An
// update to an already scanned PR cancels the stale jobs first.
func (s *WebhookService) handlePullRequest(ctx context.Context, platform models.Platform, platformRepoID string, prNumber int, sourceBranch, commitSHA string, isUpdate bool) (WebhookOutcome, error) {
	repository, found := s.activeRepo(platform, platformRepoID)
	if !found {
		return ignored("repository not registered"), nil
	}

	client, err := s.platformFactory.ForRepository(repository)
	if err != nil {
		return WebhookOutcome{}, errors.Wrap(err, "could not resolve platform client")
	}

	allChanged, err := client.GetChangedFiles(ctx, repository.FullName, prNumber)
	if err != nil {
		return WebhookOutcome{}, errors.Wrap(err, "could not fetch changed files")
	}
	changedFiles := supportedChanged(allChanged)
	if len(changedFiles) == 0 {
		return ignored("no supported files changed"), nil
	}

	if isUpdate {
		cancelled, err := s.orchestrator.CancelActiveScansForPR(repository.ID, prNumber)
		if err != nil {
			return WebhookOutcome{}, err
		}
		if cancelled > 0 {
			slog.Info("cancelled stale pull request scans", "repository", repository.FullName, "pr", prNumber, "count", cancelled)
		}
	}

	job, err := s.orchestrator.EnqueueScan(ctx, EnqueueScanParams{
		Repository:   repository,
		Trigger:      models.TriggerWebhook,
		ScanType:     models.ScanTypePR,
		CommitSHA:    commitSHA,
		Branch:       sourceBranch,
		PRNumber:     &prNumber,
		ChangedFiles: changedFiles,
	})
	if errors.Is(err, ErrScanAlreadyActive) {
		return ignored("scan already active"), nil
	}
	if err != nil {
		return WebhookOutcome{}, err
	}
	return WebhookOutcome{ScanJobID: &job.ID}, nil
}

func (s *WebhookService) handleInstallationCreated(ctx context.Context, payload githubInstallationPayload) (WebhookOutcome, error) {
	installationID := payload.Installation.ID
	var firstJobID *uuid.UUID

	for _, repoData := range payload.Repositories {
		platformRepoID := strconv.FormatInt(repoData.ID, 10)

		repository, err := s.repositoryRepository.FindByPlatformRepoID(nil, models.PlatformGithub, platformRepoID)
		if err == nil {
			repository.InstallationID = &installationID
			repository.IsActive = true
			repository.IsInitialScanDone = false
			if err := s.repositoryRepository.Save(nil, &repository); err != nil {
				slog.Error("could not reactivate repository", "fullName", repoData.FullName, "err", err)
				continue
			}
		} else {
			// TODO: resolve the team from the installation sender once
			// team onboarding carries the mapping
			repository = models.Repository{
				Platform:       models.PlatformGithub,
				PlatformRepoID: platformRepoID,
				FullName:       repoData.FullName,
				DefaultBranch:  "main",
				IsPrivate:      repoData.Private,
				TeamID:         uuid.New(),
				InstallationID: &installationID,
				IsActive:       true,
			}
			if err := s.repositoryRepository.Create(nil, &repository); err != nil {
				slog.Error("could not register repository", "fullName", repoData.FullName, "err", err)
				continue
			}
		}

		job, err := s.orchestrator.EnqueueScan(ctx, EnqueueScanParams{
			Repository: repository,
			Trigger:    models.TriggerWebhook,
			ScanType:   models.ScanTypeInitial,
			Branch:     repository.DefaultBranch,
		})
		if err != nil {
			slog.Error("could not enqueue initial scan", "fullName", repoData.FullName, "err", err)
			continue
		}
		if firstJobID == nil {
			firstJobID = &job.ID
		}
	}

	return WebhookOutcome{ScanJobID: firstJobID}, nil
}

// handleInstallationDeleted deactivates the covered repositories and
// cancels their scans. Nothing is deleted.
func (s *WebhookService) handleInstallationDeleted(installationID int64) (WebhookOutcome, error) {
	repositories, err := s.repositoryRepository.FindByInstallationID(nil, installationID)
	if err != nil {
		return WebhookOutcome{}, errors.Wrap(err, "could not load installation repositories")
	}

	for i := range repositories {
		repositories[i].IsActive = false
		repositories[i].InstallationID = nil
		if err := s.repositoryRepository.Save(nil, &repositories[i]); err != nil {
			slog.Error("could not deactivate repository", "repositoryID", repositories[i].ID, "err", err)
			continue
		}
		if _, err := s.orchestrator.CancelActiveScans(repositories[i].ID); err != nil {
			slog.Error("could not cancel scans of deactivated repository", "repositoryID", repositories[i].ID, "err", err)
		}
	}
	return ignored("installation removed"), nil
}

// updatePatchPRState mirrors an upstream PR merge or close onto the
// PatchPR row, if the PR is one of ours.
func (s *WebhookService) updatePatchPRState(platform models.Platform, platformRepoID string, prNumber int, status models.PatchPRStatus) (WebhookOutcome, error) {
	repository, err := s.repositoryRepository.FindByPlatformRepoID(nil, platform, platformRepoID)
	if err != nil {
		return ignored("repository not registered"), nil
	}

	patchPR, err := s.patchPRRepository.FindByRepoAndPRNumber(nil, repository.ID, prNumber)
	if err != nil {
		return ignored("not a vulnix pull request"), nil
	}

	patchPR.Status = status
	if status == models.PatchPRStatusMerged {
		now := time.Now()
		patchPR.MergedAt = &now
	}
	if err := s.patchPRRepository.Save(nil, &patchPR); err != nil {
		return WebhookOutcome{}, errors.Wrap(err, "could not update patch pull request state")
	}
	return ignored("patch pull request updated"), nil
}
