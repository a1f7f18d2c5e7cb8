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

package daemons

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/monitoring"
	"github.com/vulnix-dev/vulnix/platforms"
	"github.com/vulnix-dev/vulnix/pubsub"
	"github.com/vulnix-dev/vulnix/services"
	"github.com/vulnix-dev/vulnix/shared"
	"github.com/vulnix-dev/vulnix/utils"
	"gorm.io/datatypes"
)

const (
	// maxConcurrentJobs bounds how many scan jobs one worker process
	// executes at the same time.
	maxConcurrentJobs = 4
	// llmFileConcurrency bounds the parallel adjudication calls per job.
	llmFileConcurrency = 5
	// jobWallClock is the hard upper bound for one full pipeline run,
	// download, scan, adjudication and patch generation included.
	jobWallClock = 30 * time.Minute
	// republishInterval drives the stuck-job recovery sweep.
	republishInterval = 5 * time.Minute
	// republishAge is how long a job may sit in queued before the sweep
	// assumes its queue message was lost.
	republishAge = 10 * time.Minute
)

type scanEngine interface {
	PrepareTempDir(jobID string) (string, error)
	CleanupTempDir(dir string)
	Scan(ctx context.Context, workDir string) ([]services.Finding, error)
}

type falsePositiveFilter interface {
	Filter(teamID uuid.UUID, scanJobID uuid.UUID, findings []services.Finding) ([]services.Finding, int)
}

type findingAdjudicator interface {
	AnalyzeFindings(ctx context.Context, fileContent, filePath string, findings []services.Finding) ([]services.AnalysisResult, error)
}

type patchPRGenerator interface {
	GeneratePatchPRs(ctx context.Context, client platforms.Client, repository models.Repository, baseBranch string, scanJobID uuid.UUID, results []services.AnalysisResult, findings []services.Finding) ([]models.PatchPR, error)
}

// ScanWorker consumes scan jobs from the queue and runs the detection
// pipeline: snapshot download, static scan, false positive filtering, LLM
// adjudication, vulnerability persistence and patch PR generation.
type ScanWorker struct {
	repositoryRepository    shared.RepositoryRepository
	scanJobRepository       shared.ScanJobRepository
	vulnerabilityRepository shared.VulnerabilityRepository
	orchestrator            *services.ScanOrchestrator
	engine                  scanEngine
	falsePositiveService    falsePositiveFilter
	llmAgent                findingAdjudicator
	patchGenerator          patchPRGenerator
	platformFactory         services.PlatformClientFactory
	broker                  pubsub.Broker
}

func NewScanWorker(
	repositoryRepository shared.RepositoryRepository,
	scanJobRepository shared.ScanJobRepository,
	vulnerabilityRepository shared.VulnerabilityRepository,
	orchestrator *services.ScanOrchestrator,
	engine *services.SemgrepEngine,
	falsePositiveService *services.FalsePositiveService,
	llmAgent *services.LLMAgent,
	patchGenerator *services.PatchGenerator,
	platformFactory services.PlatformClientFactory,
	broker pubsub.Broker,
) *ScanWorker {
	return &ScanWorker{
		repositoryRepository:    repositoryRepository,
		scanJobRepository:       scanJobRepository,
		vulnerabilityRepository: vulnerabilityRepository,
		orchestrator:            orchestrator,
		engine:                  engine,
		falsePositiveService:    falsePositiveService,
		llmAgent:                llmAgent,
		patchGenerator:          patchGenerator,
		platformFactory:         platformFactory,
		broker:                  broker,
	}
}

// Start subscribes to the scan channel and dispatches incoming jobs onto
// worker goroutines. It returns once the subscription is established.
func (w *ScanWorker) Start(ctx context.Context) error {
	messages, err := w.broker.Subscribe(pubsub.ChannelScans)
	if err != nil {
		return errors.Wrap(err, "could not subscribe to scan channel")
	}

	sem := make(chan struct{}, maxConcurrentJobs)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-messages:
				if !ok {
					slog.Error("scan subscription channel closed")
					return
				}
				sem <- struct{}{}
				go func(payload map[string]any) {
					defer func() { <-sem }()
					w.handleMessage(ctx, payload)
				}(payload)
			}
		}
	}()

	go w.republishLoop(ctx)
	return nil
}

// republishLoop periodically re-publishes queue messages for jobs that
// stayed queued past the republish age, covering broker outages.
func (w *ScanWorker) republishLoop(ctx context.Context) {
	ticker := time.NewTicker(republishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := w.orchestrator.RepublishQueued(ctx, republishAge); n > 0 {
				slog.Info("republished stale queued scan jobs", "count", n)
			}
		}
	}
}

func (w *ScanWorker) handleMessage(ctx context.Context, payload map[string]any) {
	rawID, _ := payload["job_id"].(string)
	jobID, err := uuid.Parse(rawID)
	if err != nil {
		slog.Error("scan message without valid job id", "jobId", rawID, "err", err)
		return
	}

	job, err := w.scanJobRepository.Read(jobID)
	if err != nil {
		slog.Error("could not load scan job", "jobId", jobID, "err", err)
		return
	}
	// re-delivered messages for jobs already picked up are dropped
	if job.Status != models.ScanJobStatusQueued {
		slog.Debug("skipping scan job not in queued state", "jobId", jobID, "status", job.Status)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, jobWallClock)
	defer cancel()

	if err := w.orchestrator.UpdateJobStatus(ctx, jobID, models.ScanJobStatusRunning, nil); err != nil {
		slog.Error("could not transition scan job to running", "jobId", jobID, "err", err)
		return
	}

	if err := w.processJob(ctx, job); err != nil {
		slog.Error("scan job failed", "jobId", jobID, "err", err)
		msg := err.Error()
		if err := w.orchestrator.UpdateJobStatus(ctx, jobID, models.ScanJobStatusFailed, &msg); err != nil {
			slog.Error("could not transition scan job to failed", "jobId", jobID, "err", err)
		}
	}
}

type jobCounters struct {
	findings       int
	truePositives  int
	falsePositives int
	autoFiltered   int
}

func (w *ScanWorker) processJob(ctx context.Context, job models.ScanJob) error {
	repository, err := w.repositoryRepository.Read(job.RepositoryID)
	if err != nil {
		return errors.Wrap(err, "could not load repository")
	}
	if !repository.IsActive {
		return errors.New("repository is no longer active")
	}

	client, err := w.platformFactory.ForRepository(repository)
	if err != nil {
		return errors.Wrap(err, "could not build platform client")
	}

	workDir, err := w.engine.PrepareTempDir(job.ID.String())
	if err != nil {
		return errors.Wrap(err, "could not prepare scan working directory")
	}
	defer w.engine.CleanupTempDir(workDir)

	ref := job.CommitSHA
	if ref == "" {
		ref = job.Branch
	}
	if ref == "" {
		ref = repository.DefaultBranch
	}

	start := time.Now()
	if err := client.DownloadSnapshot(ctx, repository.FullName, ref, workDir); err != nil {
		return errors.Wrap(err, "could not download repository snapshot")
	}
	slog.Info("downloaded repository snapshot", "jobId", job.ID, "repo", repository.FullName, "ref", ref, "duration", time.Since(start))

	findings, err := w.engine.Scan(ctx, workDir)
	if err != nil {
		return errors.Wrap(err, "static scan failed")
	}

	// incremental and pr scans only act on the files the push touched
	if len(job.ChangedFiles) > 0 && job.ScanType != models.ScanTypeInitial {
		changed := job.ChangedFiles
		findings = utils.Filter(findings, func(f services.Finding) bool {
			return utils.Contains(changed, f.FilePath)
		})
	}

	counters := jobCounters{findings: len(findings)}
	monitoring.FindingsTotal.Add(float64(len(findings)))

	if len(findings) == 0 {
		return w.completeJob(ctx, job, repository, counters)
	}

	kept, autoFiltered := w.falsePositiveService.Filter(repository.TeamID, job.ID, findings)
	counters.autoFiltered = autoFiltered
	if len(kept) == 0 {
		slog.Info("all findings matched false positive patterns", "jobId", job.ID, "filtered", autoFiltered)
		return w.completeJob(ctx, job, repository, counters)
	}

	results, adjudicatedFindings := w.adjudicate(ctx, workDir, kept)
	truePositives := utils.Filter(results, func(r services.AnalysisResult) bool { return r.IsTruePositive })
	counters.truePositives = len(truePositives)
	counters.falsePositives = len(results) - len(truePositives)

	if err := w.persistVulnerabilities(job, repository, truePositives, adjudicatedFindings); err != nil {
		return errors.Wrap(err, "could not persist vulnerabilities")
	}

	// patch generation is isolated: a failed PR never fails the scan job
	if len(truePositives) > 0 {
		baseBranch := job.Branch
		if baseBranch == "" {
			baseBranch = repository.DefaultBranch
		}
		if _, err := w.patchGenerator.GeneratePatchPRs(ctx, client, repository, baseBranch, job.ID, truePositives, adjudicatedFindings); err != nil {
			slog.Error("patch generation failed", "jobId", job.ID, "err", err)
		}
	}

	return w.completeJob(ctx, job, repository, counters)
}

// adjudicate fans the kept findings out to the LLM grouped per file. A
// failed file is logged and contributes no results, the remaining files
// still count.
func (w *ScanWorker) adjudicate(ctx context.Context, workDir string, findings []services.Finding) ([]services.AnalysisResult, []services.Finding) {
	grouped := utils.GroupBy(findings, func(f services.Finding) string { return f.FilePath })

	type fileVerdict struct {
		results  []services.AnalysisResult
		findings []services.Finding
	}

	tasks := make([]func() (fileVerdict, error), 0, len(grouped))
	for filePath, fileFindings := range grouped {
		tasks = append(tasks, func() (fileVerdict, error) {
			content, err := os.ReadFile(filepath.Join(workDir, filepath.FromSlash(filePath)))
			if err != nil {
				return fileVerdict{}, errors.Wrapf(err, "could not read %s from working tree", filePath)
			}
			results, err := w.llmAgent.AnalyzeFindings(ctx, string(content), filePath, fileFindings)
			if err != nil {
				return fileVerdict{}, errors.Wrapf(err, "adjudication failed for %s", filePath)
			}
			return fileVerdict{results: results, findings: fileFindings}, nil
		})
	}

	verdicts, errs := utils.CollectErrors(llmFileConcurrency, tasks)
	for _, err := range errs {
		slog.Error("file adjudication skipped", "err", err)
	}

	var results []services.AnalysisResult
	var adjudicated []services.Finding
	for _, v := range verdicts {
		results = append(results, v.results...)
		adjudicated = append(adjudicated, v.findings...)
	}
	return results, adjudicated
}

func (w *ScanWorker) persistVulnerabilities(job models.ScanJob, repository models.Repository, truePositives []services.AnalysisResult, findings []services.Finding) error {
	if len(truePositives) == 0 {
		return nil
	}

	now := time.Now()
	vulns := make([]models.Vulnerability, 0, len(truePositives))
	for _, result := range truePositives {
		// a rule can fire at several locations in the same file, the
		// adjudicator answers per rule so every location gets a record
		matched := utils.Filter(findings, func(f services.Finding) bool { return f.RuleID == result.FindingID })
		if len(matched) == 0 {
			slog.Warn("adjudication verdict without matching finding", "jobId", job.ID, "ruleId", result.FindingID)
			continue
		}

		for _, finding := range matched {
			rawFinding, err := json.Marshal(finding)
			if err != nil {
				rawFinding = nil
			}

			info := services.LookupRule(finding.RuleID, finding.Severity)
			vuln := models.Vulnerability{
				ScanJobID:         job.ID,
				RepositoryID:      repository.ID,
				Status:            models.VulnStatusOpen,
				Severity:          services.CanonicalSeverity(result.Severity),
				VulnerabilityType: info.VulnerabilityType,
				CWEID:             info.CWEID,
				OWASPCategory:     info.OWASPCategory,
				SemgrepRuleID:     finding.RuleID,
				FilePath:          finding.FilePath,
				StartLine:         finding.StartLine,
				EndLine:           finding.EndLine,
				CodeSnippet:       finding.Snippet,
				Description:       finding.Message,
				LLMReasoning:      result.Reasoning,
				LLMConfidence:     result.Confidence,
				References:        result.References,
				RawFinding:        datatypes.JSON(rawFinding),
				DetectedAt:        now,
			}
			if result.VulnerabilityType != nil {
				vuln.VulnerabilityType = *result.VulnerabilityType
			}
			if result.OWASPCategory != nil {
				vuln.OWASPCategory = result.OWASPCategory
			}
			if result.Severity == "" {
				vuln.Severity = info.DefaultSeverity
			}
			vulns = append(vulns, vuln)
		}
	}

	if len(vulns) == 0 {
		return nil
	}
	// duplicate natural keys from re-delivered messages are dropped by
	// the batch insert's conflict clause
	return w.vulnerabilityRepository.CreateBatch(nil, vulns)
}

func (w *ScanWorker) completeJob(ctx context.Context, job models.ScanJob, repository models.Repository, counters jobCounters) error {
	err := w.scanJobRepository.UpdateCounters(nil, job.ID, counters.findings, counters.truePositives, counters.falsePositives, counters.autoFiltered)
	if err != nil {
		return errors.Wrap(err, "could not store scan counters")
	}

	if err := w.orchestrator.UpdateJobStatus(ctx, job.ID, models.ScanJobStatusCompleted, nil); err != nil {
		return errors.Wrap(err, "could not transition scan job to completed")
	}

	if job.ScanType == models.ScanTypeInitial && !repository.IsInitialScanDone {
		repository.IsInitialScanDone = true
		if err := w.repositoryRepository.Save(nil, &repository); err != nil {
			slog.Error("could not mark initial scan as done", "repositoryId", repository.ID, "err", err)
		}
	}

	slog.Info("scan job completed",
		"jobId", job.ID,
		"findings", counters.findings,
		"truePositives", counters.truePositives,
		"falsePositives", counters.falsePositives,
		"autoFiltered", counters.autoFiltered)
	return nil
}
