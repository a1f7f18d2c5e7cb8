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
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/monitoring"
	"github.com/vulnix-dev/vulnix/pubsub"
	"github.com/vulnix-dev/vulnix/shared"
)

const maxScanRetries = 3

// ErrScanAlreadyActive is returned by EnqueueScan when the repository
// already has a queued or running job.
var ErrScanAlreadyActive = errors.New("a scan is already active for this repository")

// EnqueueScanParams describes a scan to be queued.
type EnqueueScanParams struct {
	Repository   models.Repository
	Trigger      models.TriggerType
	ScanType     models.ScanType
	CommitSHA    string
	Branch       string
	PRNumber     *int
	ChangedFiles []string
}

// ScanOrchestrator owns the ScanJob state machine and the handoff onto
// the work queue.
type ScanOrchestrator struct {
	scanJobRepository shared.ScanJobRepository
	broker            pubsub.Broker
}

func NewScanOrchestrator(scanJobRepository shared.ScanJobRepository, broker pubsub.Broker) *ScanOrchestrator {
	return &ScanOrchestrator{
		scanJobRepository: scanJobRepository,
		broker:            broker,
	}
}

// EnqueueScan persists a queued ScanJob and publishes the matching queue
// message. The active-scan check and the insert share one transaction,
// FindActive locks existing active rows and the partial unique index on
// scan_jobs catches inserts racing on an empty set. The row is written
// even when the broker is down, workers are idempotent over job state so
// a later re-publish is safe.
func (o *ScanOrchestrator) EnqueueScan(ctx context.Context, params EnqueueScanParams) (models.ScanJob, error) {
	job := models.ScanJob{
		RepositoryID: params.Repository.ID,
		Status:       models.ScanJobStatusQueued,
		TriggerType:  params.Trigger,
		ScanType:     params.ScanType,
		CommitSHA:    params.CommitSHA,
		Branch:       params.Branch,
		PRNumber:     params.PRNumber,
		ChangedFiles: params.ChangedFiles,
	}
	err := o.scanJobRepository.Transaction(func(tx shared.DB) error {
		active, err := o.scanJobRepository.FindActive(tx, params.Repository.ID)
		if err != nil {
			return errors.Wrap(err, "could not check for active scans")
		}
		if len(active) > 0 {
			return ErrScanAlreadyActive
		}
		return o.scanJobRepository.Create(tx, &job)
	})
	if errors.Is(err, ErrScanAlreadyActive) {
		return models.ScanJob{}, err
	}
	if err != nil {
		return models.ScanJob{}, errors.Wrap(err, "could not persist scan job")
	}

	o.publishJob(ctx, job)
	monitoring.ScanJobsTotal.WithLabelValues(string(models.ScanJobStatusQueued)).Inc()
	return job, nil
}

func (o *ScanOrchestrator) publishJob(ctx context.Context, job models.ScanJob) {
	changedFiles := make([]any, len(job.ChangedFiles))
	for i, f := range job.ChangedFiles {
		changedFiles[i] = f
	}

	payload := map[string]any{
		"job_id":        job.ID.String(),
		"repo_id":       job.RepositoryID.String(),
		"trigger":       string(job.TriggerType),
		"commit_sha":    job.CommitSHA,
		"branch":        job.Branch,
		"pr_number":     nil,
		"scan_type":     string(job.ScanType),
		"changed_files": changedFiles,
		"created_at":    time.Now().UTC().Format(time.RFC3339),
	}
	if job.PRNumber != nil {
		payload["pr_number"] = *job.PRNumber
	}

	if err := o.broker.Publish(ctx, pubsub.NewSimpleMessage(pubsub.ChannelScans, payload)); err != nil {
		// the queued row survives, the republish daemon picks it up
		slog.Warn("could not publish scan job, leaving it queued", "jobID", job.ID, "err", err)
	}
}

// RepublishQueued re-publishes jobs that sat in queued state longer than
// the given age. Used by a daemon to recover from broker outages.
func (o *ScanOrchestrator) RepublishQueued(ctx context.Context, olderThan time.Duration) int {
	var jobs []models.ScanJob
	err := o.scanJobRepository.GetDB(nil).
		Where("status = ? AND updated_at < ?", models.ScanJobStatusQueued, time.Now().Add(-olderThan)).
		Find(&jobs).Error
	if err != nil {
		slog.Error("could not load stale queued jobs", "err", err)
		return 0
	}

	for _, job := range jobs {
		o.publishJob(ctx, job)
	}
	return len(jobs)
}

// HasActiveScan reports whether any queued or running job exists for
// the repository.
func (o *ScanOrchestrator) HasActiveScan(repositoryID uuid.UUID) (bool, error) {
	jobs, err := o.scanJobRepository.FindActive(nil, repositoryID)
	if err != nil {
		return false, err
	}
	return len(jobs) > 0, nil
}

// CancelActiveScansForPR cancels the queued and running jobs of one
// pull request. Returns the number of cancelled jobs.
func (o *ScanOrchestrator) CancelActiveScansForPR(repositoryID uuid.UUID, prNumber int) (int, error) {
	count := 0
	err := o.scanJobRepository.Transaction(func(tx shared.DB) error {
		jobs, err := o.scanJobRepository.FindActiveByPR(tx, repositoryID, prNumber)
		if err != nil {
			return err
		}
		for i := range jobs {
			if err := o.transitionLocked(tx, &jobs[i], models.ScanJobStatusCancelled, nil); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "could not cancel scans for pull request")
	}
	return count, nil
}

// CancelActiveScans cancels every queued or running job of a repository.
func (o *ScanOrchestrator) CancelActiveScans(repositoryID uuid.UUID) (int, error) {
	count := 0
	err := o.scanJobRepository.Transaction(func(tx shared.DB) error {
		jobs, err := o.scanJobRepository.FindActive(tx, repositoryID)
		if err != nil {
			return err
		}
		for i := range jobs {
			if err := o.transitionLocked(tx, &jobs[i], models.ScanJobStatusCancelled, nil); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "could not cancel scans")
	}
	return count, nil
}

// UpdateJobStatus drives the state machine. Transitions out of a
// terminal state are silent no-ops. A failure below the retry budget
// re-queues the job instead of failing it.
func (o *ScanOrchestrator) UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status models.ScanJobStatus, errorMessage *string) error {
	var requeued *models.ScanJob
	err := o.scanJobRepository.Transaction(func(tx shared.DB) error {
		job, err := o.scanJobRepository.ReadForUpdate(tx, jobID)
		if err != nil {
			return errors.Wrap(err, "could not read scan job")
		}
		if job.Status.IsTerminal() {
			slog.Debug("ignoring transition out of terminal state", "jobID", jobID, "from", job.Status, "to", status)
			return nil
		}

		if status == models.ScanJobStatusFailed && job.RetryCount < maxScanRetries {
			job.RetryCount++
			job.Status = models.ScanJobStatusQueued
			job.ErrorMessage = errorMessage
			job.StartedAt = nil
			if err := o.scanJobRepository.Save(tx, &job); err != nil {
				return err
			}
			requeued = &job
			return nil
		}

		return o.transitionLocked(tx, &job, status, errorMessage)
	})
	if err != nil {
		return err
	}

	if requeued != nil {
		slog.Info("scan job re-queued after failure", "jobID", jobID, "retry", requeued.RetryCount)
		o.publishJob(ctx, *requeued)
	}
	return nil
}

func (o *ScanOrchestrator) transitionLocked(tx shared.DB, job *models.ScanJob, status models.ScanJobStatus, errorMessage *string) error {
	if job.Status.IsTerminal() {
		return nil
	}

	now := time.Now()
	switch status {
	case models.ScanJobStatusRunning:
		job.StartedAt = &now
	case models.ScanJobStatusCompleted, models.ScanJobStatusFailed:
		job.CompletedAt = &now
		if job.StartedAt != nil {
			duration := now.Sub(*job.StartedAt).Seconds()
			job.DurationSeconds = &duration
			monitoring.ScanDuration.Observe(duration)
		}
	case models.ScanJobStatusCancelled:
		job.CompletedAt = &now
	}

	job.Status = status
	job.ErrorMessage = errorMessage
	if err := o.scanJobRepository.Save(tx, job); err != nil {
		return errors.Wrap(err, "could not save scan job transition")
	}
	monitoring.ScanJobsTotal.WithLabelValues(string(status)).Inc()
	return nil
}
