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
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/mocks"
	"github.com/vulnix-dev/vulnix/platforms"
	"github.com/vulnix-dev/vulnix/services"
	"gorm.io/gorm"
)

type fakeEngine struct {
	dir        string
	findings   []services.Finding
	scanErr    error
	cleanedUp  bool
	cleanupDir string
}

func (f *fakeEngine) PrepareTempDir(jobID string) (string, error) { return f.dir, nil }

func (f *fakeEngine) CleanupTempDir(dir string) {
	f.cleanedUp = true
	f.cleanupDir = dir
}

func (f *fakeEngine) Scan(ctx context.Context, workDir string) ([]services.Finding, error) {
	return f.findings, f.scanErr
}

type fakeFilter struct {
	kept     []services.Finding
	filtered int
	called   bool
}

func (f *fakeFilter) Filter(teamID uuid.UUID, scanJobID uuid.UUID, findings []services.Finding) ([]services.Finding, int) {
	f.called = true
	return f.kept, f.filtered
}

type fakeAdjudicator struct {
	results []services.AnalysisResult
	err     error
	called  bool
}

func (f *fakeAdjudicator) AnalyzeFindings(ctx context.Context, fileContent, filePath string, findings []services.Finding) ([]services.AnalysisResult, error) {
	f.called = true
	return f.results, f.err
}

type fakePatchGenerator struct {
	called bool
	err    error
}

func (f *fakePatchGenerator) GeneratePatchPRs(ctx context.Context, client platforms.Client, repository models.Repository, baseBranch string, scanJobID uuid.UUID, results []services.AnalysisResult, findings []services.Finding) ([]models.PatchPR, error) {
	f.called = true
	return nil, f.err
}

func TestHandleMessage(t *testing.T) {
	t.Run("should drop messages without a valid job id", func(t *testing.T) {
		scanJobRepository := mocks.NewScanJobRepository(t)
		w := &ScanWorker{scanJobRepository: scanJobRepository}

		w.handleMessage(context.Background(), map[string]any{"job_id": "not-a-uuid"})

		scanJobRepository.AssertNotCalled(t, "Read", mock.Anything)
	})

	t.Run("should drop messages for unknown jobs", func(t *testing.T) {
		jobID := uuid.New()

		scanJobRepository := mocks.NewScanJobRepository(t)
		scanJobRepository.On("Read", jobID).Return(models.ScanJob{}, gorm.ErrRecordNotFound)

		w := &ScanWorker{scanJobRepository: scanJobRepository}

		w.handleMessage(context.Background(), map[string]any{"job_id": jobID.String()})
	})

	t.Run("should skip re-delivered messages for jobs already picked up", func(t *testing.T) {
		jobID := uuid.New()
		job := models.ScanJob{Status: models.ScanJobStatusRunning}
		job.ID = jobID

		scanJobRepository := mocks.NewScanJobRepository(t)
		scanJobRepository.On("Read", jobID).Return(job, nil)

		w := &ScanWorker{scanJobRepository: scanJobRepository}

		w.handleMessage(context.Background(), map[string]any{"job_id": jobID.String()})
		// nothing else touched: no state transition, no pipeline run
		scanJobRepository.AssertNotCalled(t, "Transaction", mock.Anything)
	})
}

func TestPersistVulnerabilities(t *testing.T) {
	job := models.ScanJob{}
	job.ID = uuid.New()
	repository := models.Repository{}
	repository.ID = uuid.New()

	finding := services.Finding{
		RuleID:    "vulnix.python.injection.sql_format_string",
		Severity:  "ERROR",
		FilePath:  "app/db.py",
		StartLine: 10,
		EndLine:   12,
		Snippet:   "cursor.execute(q)",
		Message:   "possible sql injection",
	}

	t.Run("should map verdicts onto vulnerability rows", func(t *testing.T) {
		vulnerabilityRepository := mocks.NewVulnerabilityRepository(t)
		vulnerabilityRepository.On("CreateBatch", mock.Anything, mock.MatchedBy(func(vulns []models.Vulnerability) bool {
			if len(vulns) != 1 {
				return false
			}
			v := vulns[0]
			return v.ScanJobID == job.ID &&
				v.RepositoryID == repository.ID &&
				v.Status == models.VulnStatusOpen &&
				v.Severity == models.SeverityCritical &&
				v.VulnerabilityType == "sql_injection" &&
				v.CWEID != nil && *v.CWEID == "CWE-89" &&
				v.SemgrepRuleID == finding.RuleID &&
				v.FilePath == "app/db.py" &&
				v.StartLine == 10 &&
				v.LLMConfidence == 0.95 &&
				len(v.RawFinding) > 0
		})).Return(nil)

		w := &ScanWorker{vulnerabilityRepository: vulnerabilityRepository}

		results := []services.AnalysisResult{{
			FindingID:      finding.RuleID,
			IsTruePositive: true,
			Confidence:     0.95,
			Severity:       "critical",
			Reasoning:      "user input reaches the query",
		}}

		assert.NoError(t, w.persistVulnerabilities(job, repository, results, []services.Finding{finding}))
	})

	t.Run("should fall back to the catalog severity when the verdict has none", func(t *testing.T) {
		vulnerabilityRepository := mocks.NewVulnerabilityRepository(t)
		vulnerabilityRepository.On("CreateBatch", mock.Anything, mock.MatchedBy(func(vulns []models.Vulnerability) bool {
			return len(vulns) == 1 && vulns[0].Severity == models.SeverityCritical
		})).Return(nil)

		w := &ScanWorker{vulnerabilityRepository: vulnerabilityRepository}

		results := []services.AnalysisResult{{FindingID: finding.RuleID, IsTruePositive: true}}

		assert.NoError(t, w.persistVulnerabilities(job, repository, results, []services.Finding{finding}))
	})

	t.Run("should skip verdicts without a matching finding", func(t *testing.T) {
		vulnerabilityRepository := mocks.NewVulnerabilityRepository(t)

		w := &ScanWorker{vulnerabilityRepository: vulnerabilityRepository}

		results := []services.AnalysisResult{{FindingID: "some.other.rule", IsTruePositive: true}}

		assert.NoError(t, w.persistVulnerabilities(job, repository, results, []services.Finding{finding}))
		vulnerabilityRepository.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
	})

	t.Run("should write nothing without true positives", func(t *testing.T) {
		vulnerabilityRepository := mocks.NewVulnerabilityRepository(t)

		w := &ScanWorker{vulnerabilityRepository: vulnerabilityRepository}

		assert.NoError(t, w.persistVulnerabilities(job, repository, nil, []services.Finding{finding}))
		vulnerabilityRepository.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
	})

	t.Run("should honor the verdict's type override", func(t *testing.T) {
		override := "second_order_sql_injection"
		vulnerabilityRepository := mocks.NewVulnerabilityRepository(t)
		vulnerabilityRepository.On("CreateBatch", mock.Anything, mock.MatchedBy(func(vulns []models.Vulnerability) bool {
			return len(vulns) == 1 && vulns[0].VulnerabilityType == override
		})).Return(nil)

		w := &ScanWorker{vulnerabilityRepository: vulnerabilityRepository}

		results := []services.AnalysisResult{{
			FindingID:         finding.RuleID,
			IsTruePositive:    true,
			Severity:          "high",
			VulnerabilityType: &override,
		}}

		assert.NoError(t, w.persistVulnerabilities(job, repository, results, []services.Finding{finding}))
	})

	t.Run("should canonicalize the adjudicator's severity spelling", func(t *testing.T) {
		other := services.Finding{
			RuleID:    "vulnix.python.crypto.weak_hash",
			Severity:  "WARNING",
			FilePath:  "app/auth.py",
			StartLine: 3,
			EndLine:   3,
		}

		vulnerabilityRepository := mocks.NewVulnerabilityRepository(t)
		vulnerabilityRepository.On("CreateBatch", mock.Anything, mock.MatchedBy(func(vulns []models.Vulnerability) bool {
			return len(vulns) == 2 &&
				vulns[0].Severity == models.SeverityHigh &&
				vulns[1].Severity == models.SeverityMedium
		})).Return(nil)

		w := &ScanWorker{vulnerabilityRepository: vulnerabilityRepository}

		results := []services.AnalysisResult{
			{FindingID: finding.RuleID, IsTruePositive: true, Severity: "High"},
			{FindingID: other.RuleID, IsTruePositive: true, Severity: "Informational"},
		}

		assert.NoError(t, w.persistVulnerabilities(job, repository, results, []services.Finding{finding, other}))
	})

	t.Run("should persist one row per location when a rule fires more than once", func(t *testing.T) {
		secondHit := finding
		secondHit.StartLine = 40
		secondHit.EndLine = 42

		vulnerabilityRepository := mocks.NewVulnerabilityRepository(t)
		vulnerabilityRepository.On("CreateBatch", mock.Anything, mock.MatchedBy(func(vulns []models.Vulnerability) bool {
			return len(vulns) == 2 &&
				vulns[0].StartLine == 10 &&
				vulns[1].StartLine == 40 &&
				vulns[0].SemgrepRuleID == finding.RuleID &&
				vulns[1].SemgrepRuleID == finding.RuleID
		})).Return(nil)

		w := &ScanWorker{vulnerabilityRepository: vulnerabilityRepository}

		results := []services.AnalysisResult{{
			FindingID:      finding.RuleID,
			IsTruePositive: true,
			Severity:       "high",
		}}

		assert.NoError(t, w.persistVulnerabilities(job, repository, results, []services.Finding{finding, secondHit}))
	})
}

type pipelineFixture struct {
	repositoryRepository    *mocks.RepositoryRepository
	scanJobRepository       *mocks.ScanJobRepository
	vulnerabilityRepository *mocks.VulnerabilityRepository
	platformClient          *mocks.PlatformClient
	platformFactory         *mocks.PlatformClientFactory
	broker                  *mocks.Broker
	engine                  *fakeEngine
	filter                  *fakeFilter
	adjudicator             *fakeAdjudicator
	patchGenerator          *fakePatchGenerator
	worker                  *ScanWorker
}

func newPipelineFixture(t *testing.T, engine *fakeEngine) *pipelineFixture {
	f := &pipelineFixture{
		repositoryRepository:    mocks.NewRepositoryRepository(t),
		scanJobRepository:       mocks.NewScanJobRepository(t),
		vulnerabilityRepository: mocks.NewVulnerabilityRepository(t),
		platformClient:          mocks.NewPlatformClient(t),
		platformFactory:         mocks.NewPlatformClientFactory(t),
		broker:                  mocks.NewBroker(t),
		engine:                  engine,
		filter:                  &fakeFilter{},
		adjudicator:             &fakeAdjudicator{},
		patchGenerator:          &fakePatchGenerator{},
	}
	f.worker = &ScanWorker{
		repositoryRepository:    f.repositoryRepository,
		scanJobRepository:       f.scanJobRepository,
		vulnerabilityRepository: f.vulnerabilityRepository,
		orchestrator:            services.NewScanOrchestrator(f.scanJobRepository, f.broker),
		engine:                  f.engine,
		falsePositiveService:    f.filter,
		llmAgent:                f.adjudicator,
		patchGenerator:          f.patchGenerator,
		platformFactory:         f.platformFactory,
		broker:                  f.broker,
	}
	return f
}

func (f *pipelineFixture) expectDownload(repository models.Repository, job models.ScanJob, ref string) {
	f.repositoryRepository.On("Read", job.RepositoryID).Return(repository, nil)
	f.platformFactory.On("ForRepository", repository).Return(f.platformClient, nil)
	f.platformClient.On("DownloadSnapshot", mock.Anything, repository.FullName, ref, f.engine.dir).Return(nil)
}

func (f *pipelineFixture) expectCompletion(jobID uuid.UUID) {
	running := models.ScanJob{Status: models.ScanJobStatusRunning}
	running.ID = jobID
	f.scanJobRepository.On("Transaction", mock.Anything).Return(nil)
	f.scanJobRepository.On("ReadForUpdate", mock.Anything, jobID).Return(running, nil)
	f.scanJobRepository.On("Save", mock.Anything, mock.MatchedBy(func(j *models.ScanJob) bool {
		return j.Status == models.ScanJobStatusCompleted
	})).Return(nil)
}

func TestProcessJob(t *testing.T) {
	teamID := uuid.New()

	newJob := func(repositoryID uuid.UUID) models.ScanJob {
		job := models.ScanJob{
			RepositoryID: repositoryID,
			Status:       models.ScanJobStatusQueued,
			ScanType:     models.ScanTypeIncremental,
			CommitSHA:    "abc123",
			Branch:       "main",
		}
		job.ID = uuid.New()
		return job
	}

	newRepo := func() models.Repository {
		repository := models.Repository{
			Platform:      models.PlatformGithub,
			FullName:      "acme/shop",
			DefaultBranch: "main",
			TeamID:        teamID,
			IsActive:      true,
		}
		repository.ID = uuid.New()
		return repository
	}

	t.Run("should complete directly when the scan is clean", func(t *testing.T) {
		repository := newRepo()
		job := newJob(repository.ID)

		engine := &fakeEngine{dir: t.TempDir()}
		f := newPipelineFixture(t, engine)
		f.expectDownload(repository, job, "abc123")
		f.scanJobRepository.On("UpdateCounters", mock.Anything, job.ID, 0, 0, 0, 0).Return(nil)
		f.expectCompletion(job.ID)

		assert.NoError(t, f.worker.processJob(context.Background(), job))
		assert.False(t, f.filter.called)
		assert.False(t, f.adjudicator.called)
		assert.True(t, engine.cleanedUp)
	})

	t.Run("should complete without adjudication when every finding is pattern filtered", func(t *testing.T) {
		repository := newRepo()
		job := newJob(repository.ID)

		engine := &fakeEngine{
			dir: t.TempDir(),
			findings: []services.Finding{
				{RuleID: "r1", FilePath: "app/db.py", StartLine: 1},
				{RuleID: "r2", FilePath: "tests/test_db.py", StartLine: 5},
			},
		}
		f := newPipelineFixture(t, engine)
		f.filter.filtered = 2
		f.expectDownload(repository, job, "abc123")
		f.scanJobRepository.On("UpdateCounters", mock.Anything, job.ID, 2, 0, 0, 2).Return(nil)
		f.expectCompletion(job.ID)

		assert.NoError(t, f.worker.processJob(context.Background(), job))
		assert.True(t, f.filter.called)
		assert.False(t, f.adjudicator.called)
	})

	t.Run("should persist true positives and hand them to the patch generator", func(t *testing.T) {
		repository := newRepo()
		job := newJob(repository.ID)

		finding := services.Finding{RuleID: "vulnix.python.injection.sql_format_string", Severity: "ERROR", FilePath: "app/db.py", StartLine: 10, EndLine: 12}

		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "app"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "app", "db.py"), []byte("cursor.execute(q)\n"), 0o644))

		engine := &fakeEngine{dir: dir, findings: []services.Finding{finding}}
		f := newPipelineFixture(t, engine)
		f.filter.kept = []services.Finding{finding}
		f.adjudicator.results = []services.AnalysisResult{{
			FindingID:      finding.RuleID,
			IsTruePositive: true,
			Severity:       "critical",
			Confidence:     0.9,
		}}

		f.expectDownload(repository, job, "abc123")
		f.vulnerabilityRepository.On("CreateBatch", mock.Anything, mock.MatchedBy(func(vulns []models.Vulnerability) bool {
			return len(vulns) == 1 && vulns[0].SemgrepRuleID == finding.RuleID
		})).Return(nil)
		f.scanJobRepository.On("UpdateCounters", mock.Anything, job.ID, 1, 1, 0, 0).Return(nil)
		f.expectCompletion(job.ID)

		assert.NoError(t, f.worker.processJob(context.Background(), job))
		assert.True(t, f.adjudicator.called)
		assert.True(t, f.patchGenerator.called)
	})

	t.Run("should only adjudicate the files the push touched", func(t *testing.T) {
		repository := newRepo()
		job := newJob(repository.ID)
		job.ChangedFiles = []string{"app/db.py"}

		engine := &fakeEngine{
			dir: t.TempDir(),
			findings: []services.Finding{
				{RuleID: "r1", FilePath: "app/db.py", StartLine: 1},
				{RuleID: "r2", FilePath: "legacy/old.py", StartLine: 5},
			},
		}
		f := newPipelineFixture(t, engine)
		f.expectDownload(repository, job, "abc123")
		// only the touched file survives the filter, so the counters see one
		f.scanJobRepository.On("UpdateCounters", mock.Anything, job.ID, 1, 0, 0, 1).Return(nil)
		f.filter.filtered = 1
		f.expectCompletion(job.ID)

		assert.NoError(t, f.worker.processJob(context.Background(), job))
	})

	t.Run("should fail when the snapshot download fails and still clean up", func(t *testing.T) {
		repository := newRepo()
		job := newJob(repository.ID)

		engine := &fakeEngine{dir: t.TempDir()}
		f := newPipelineFixture(t, engine)
		f.repositoryRepository.On("Read", job.RepositoryID).Return(repository, nil)
		f.platformFactory.On("ForRepository", repository).Return(f.platformClient, nil)
		f.platformClient.On("DownloadSnapshot", mock.Anything, repository.FullName, "abc123", engine.dir).Return(fmt.Errorf("tarball fetch failed"))

		assert.Error(t, f.worker.processJob(context.Background(), job))
		assert.True(t, engine.cleanedUp)
		assert.Equal(t, engine.dir, engine.cleanupDir)
	})

	t.Run("should refuse jobs of deactivated repositories", func(t *testing.T) {
		repository := newRepo()
		repository.IsActive = false
		job := newJob(repository.ID)

		engine := &fakeEngine{dir: t.TempDir()}
		f := newPipelineFixture(t, engine)
		f.repositoryRepository.On("Read", job.RepositoryID).Return(repository, nil)

		assert.Error(t, f.worker.processJob(context.Background(), job))
	})

	t.Run("should not fail the job when patch generation fails", func(t *testing.T) {
		repository := newRepo()
		job := newJob(repository.ID)

		finding := services.Finding{RuleID: "vulnix.python.injection.sql_format_string", Severity: "ERROR", FilePath: "app/db.py", StartLine: 10}

		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "app"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "app", "db.py"), []byte("cursor.execute(q)\n"), 0o644))

		engine := &fakeEngine{dir: dir, findings: []services.Finding{finding}}
		f := newPipelineFixture(t, engine)
		f.filter.kept = []services.Finding{finding}
		f.adjudicator.results = []services.AnalysisResult{{FindingID: finding.RuleID, IsTruePositive: true, Severity: "high"}}
		f.patchGenerator.err = fmt.Errorf("branch already exists")

		f.expectDownload(repository, job, "abc123")
		f.vulnerabilityRepository.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
		f.scanJobRepository.On("UpdateCounters", mock.Anything, job.ID, 1, 1, 0, 0).Return(nil)
		f.expectCompletion(job.ID)

		assert.NoError(t, f.worker.processJob(context.Background(), job))
	})

	t.Run("should mark the repository after a completed initial scan", func(t *testing.T) {
		repository := newRepo()
		job := newJob(repository.ID)
		job.ScanType = models.ScanTypeInitial
		job.CommitSHA = ""
		job.Branch = ""

		engine := &fakeEngine{dir: t.TempDir()}
		f := newPipelineFixture(t, engine)
		// initial scans fall back to the default branch ref
		f.expectDownload(repository, job, "main")
		f.scanJobRepository.On("UpdateCounters", mock.Anything, job.ID, 0, 0, 0, 0).Return(nil)
		f.expectCompletion(job.ID)
		f.repositoryRepository.On("Save", mock.Anything, mock.MatchedBy(func(r *models.Repository) bool {
			return r.IsInitialScanDone
		})).Return(nil)

		assert.NoError(t, f.worker.processJob(context.Background(), job))
	})
}
