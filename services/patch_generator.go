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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/monitoring"
	"github.com/vulnix-dev/vulnix/platforms"
	"github.com/vulnix-dev/vulnix/shared"
	"github.com/vulnix-dev/vulnix/utils"
)

var severityPriorityMap = map[string]string{
	"critical": "P0",
	"high":     "P1",
	"medium":   "P2",
	"low":      "P3",
}

var severityBadgeMap = map[string]string{
	"critical": ":red_circle:",
	"high":     ":orange_circle:",
	"medium":   ":yellow_circle:",
	"low":      ":white_circle:",
}

// PatchGenerator turns confirmed findings with a patch into pull
// requests on the upstream platform, and writes manual-fix guides for
// the confirmed findings the model could not patch.
type PatchGenerator struct {
	vulnerabilityRepository shared.VulnerabilityRepository
	patchPRRepository       shared.PatchPRRepository
}

func NewPatchGenerator(vulnerabilityRepository shared.VulnerabilityRepository, patchPRRepository shared.PatchPRRepository) *PatchGenerator {
	return &PatchGenerator{
		vulnerabilityRepository: vulnerabilityRepository,
		patchPRRepository:       patchPRRepository,
	}
}

// GeneratePatchPRs processes the adjudicated results of one scan job.
// At most three pull requests are in flight at once; an individual
// failure is logged and skipped without touching its siblings.
func (g *PatchGenerator) GeneratePatchPRs(ctx context.Context, client platforms.Client, repository models.Repository, baseBranch string, scanJobID uuid.UUID, results []AnalysisResult, findings []Finding) ([]models.PatchPR, error) {
	if len(results) == 0 {
		return nil, nil
	}

	findingMap := make(map[string]Finding, len(findings))
	for _, f := range findings {
		findingMap[f.RuleID] = f
	}

	truePositives := utils.Filter(results, func(r AnalysisResult) bool {
		return r.IsTruePositive
	})

	for _, result := range truePositives {
		if result.PatchDiff == nil {
			g.handleUnpatchable(result, findingMap, scanJobID)
		}
	}

	patchable := utils.Filter(truePositives, func(r AnalysisResult) bool {
		return r.PatchDiff != nil
	})
	if len(patchable) == 0 {
		return nil, nil
	}

	// one SHA lookup amortized over the whole batch
	baseSHA, err := client.GetBranchSHA(ctx, repository.FullName, baseBranch)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve base branch sha")
	}

	tasks := utils.Map(patchable, func(result AnalysisResult) func() (models.PatchPR, error) {
		return func() (models.PatchPR, error) {
			return g.createPatchPR(ctx, client, repository, baseBranch, baseSHA, scanJobID, result, findingMap)
		}
	})

	patchPRs, errs := utils.CollectErrors(3, tasks)
	for _, err := range errs {
		slog.Warn("could not create patch pull request", "repository", repository.FullName, "err", err)
		monitoring.PatchPRsTotal.WithLabelValues("failed").Inc()
	}
	return patchPRs, nil
}

func (g *PatchGenerator) lookupVulnerability(scanJobID uuid.UUID, result AnalysisResult, findingMap map[string]Finding) (models.Vulnerability, bool) {
	if finding, ok := findingMap[result.FindingID]; ok {
		vulnerability, err := g.vulnerabilityRepository.FindByNaturalKey(nil, scanJobID, result.FindingID, finding.FilePath, finding.StartLine)
		if err == nil {
			return vulnerability, true
		}
	}

	// fall back to the rule id alone when the finding index misses
	vulnerabilities, err := g.vulnerabilityRepository.FindByScanJob(scanJobID)
	if err != nil {
		return models.Vulnerability{}, false
	}
	vulnerability, found := utils.Find(vulnerabilities, func(v models.Vulnerability) bool {
		return v.SemgrepRuleID == result.FindingID
	})
	return vulnerability, found
}

func (g *PatchGenerator) createPatchPR(ctx context.Context, client platforms.Client, repository models.Repository, baseBranch, baseSHA string, scanJobID uuid.UUID, result AnalysisResult, findingMap map[string]Finding) (models.PatchPR, error) {
	vulnerability, found := g.lookupVulnerability(scanJobID, result, findingMap)
	if !found {
		return models.PatchPR{}, errors.Errorf("no vulnerability matches rule %s", result.FindingID)
	}

	vulnerabilityType := "unknown"
	if result.VulnerabilityType != nil {
		vulnerabilityType = *result.VulnerabilityType
	}

	branchName := MakeBranchName(vulnerabilityType, vulnerability.FilePath, vulnerability.StartLine)
	if err := client.CreateBranch(ctx, repository.FullName, branchName, baseSHA); err != nil {
		return models.PatchPR{}, errors.Wrap(err, "could not create patch branch")
	}

	commitMessage := fmt.Sprintf("[Vulnix] Fix %s in %s", vulnerabilityType, vulnerability.FilePath)

	applied := g.applyAndCommit(ctx, client, repository.FullName, baseBranch, branchName, vulnerability.FilePath, *result.PatchDiff, commitMessage)
	if !applied {
		// base branch drifted under us, the PR still goes out carrying
		// the diff in its body for a human to apply
		slog.Warn("patch did not apply cleanly, opening pull request without a commit", "file", vulnerability.FilePath, "line", vulnerability.StartLine)
	}

	severity := string(CanonicalSeverity(result.Severity))
	body := buildPRBody(vulnerability, result, severity)
	title := commitMessage

	ref, err := client.CreatePullRequest(ctx, repository.FullName, branchName, baseBranch, title, body, []string{"security", "vulnix-auto-patch", severity})
	if err != nil {
		return models.PatchPR{}, errors.Wrap(err, "could not open pull request")
	}

	patchPR := models.PatchPR{
		VulnerabilityID:  vulnerability.ID,
		RepositoryID:     repository.ID,
		PRNumber:         ref.Number,
		PRURL:            ref.URL,
		BranchName:       branchName,
		Status:           models.PatchPRStatusCreated,
		PatchDiff:        *result.PatchDiff,
		PatchDescription: result.PatchDescription,
		TestSuggestion:   result.TestSuggestion,
	}
	if err := g.patchPRRepository.Create(nil, &patchPR); err != nil {
		return models.PatchPR{}, errors.Wrap(err, "could not persist patch pull request")
	}

	now := time.Now()
	vulnerability.Status = models.VulnStatusPatched
	vulnerability.ResolvedAt = &now
	if err := g.vulnerabilityRepository.Save(nil, &vulnerability); err != nil {
		slog.Warn("could not mark vulnerability as patched", "vulnerabilityID", vulnerability.ID, "err", err)
	}

	monitoring.PatchPRsTotal.WithLabelValues("created").Inc()
	return patchPR, nil
}

// applyAndCommit fetches the current file from the base branch, applies
// the diff and commits the result onto the patch branch. Returns false
// when the diff no longer applies.
func (g *PatchGenerator) applyAndCommit(ctx context.Context, client platforms.Client, fullName, baseBranch, branchName, filePath, patchDiff, message string) bool {
	file, err := client.GetFileContent(ctx, fullName, filePath, baseBranch)
	if err != nil {
		slog.Warn("could not fetch file for patching", "file", filePath, "err", err)
		return false
	}

	patched, ok := ApplyUnifiedDiff(file.Content, patchDiff)
	if !ok {
		return false
	}

	if err := client.CreateFileCommit(ctx, fullName, branchName, filePath, patched, message, file.SHA); err != nil {
		slog.Warn("could not commit patched file", "file", filePath, "err", err)
		return false
	}
	return true
}

// handleUnpatchable stores a manual-fix guide on the vulnerability. No
// PatchPR row is created for these.
func (g *PatchGenerator) handleUnpatchable(result AnalysisResult, findingMap map[string]Finding, scanJobID uuid.UUID) {
	vulnerability, found := g.lookupVulnerability(scanJobID, result, findingMap)
	if !found {
		return
	}

	severity := string(vulnerability.Severity)
	if severity == "" {
		severity = string(CanonicalSeverity(result.Severity))
	}
	priority, ok := severityPriorityMap[strings.ToLower(severity)]
	if !ok {
		priority = "P3"
	}

	vulnerabilityType := "unknown"
	if result.VulnerabilityType != nil {
		vulnerabilityType = *result.VulnerabilityType
	}

	recommended := result.PatchDescription
	if recommended == "" {
		recommended = "Fix the vulnerability manually."
	}

	var refs strings.Builder
	for _, ref := range result.References {
		fmt.Fprintf(&refs, "- %s\n", ref)
	}

	guide := fmt.Sprintf(`## Manual Fix Guide

### Vulnerability
- Type: %s
- File: %s (Line %d-%d)
- Severity: %s
- Priority: %s

### Why It Cannot Be Auto-Patched
%s

### Recommended Fix
%s

### References
%s`, vulnerabilityType, vulnerability.FilePath, vulnerability.StartLine, vulnerability.EndLine, strings.ToLower(severity), priority, result.Reasoning, recommended, refs.String())

	vulnerability.ManualGuide = &guide
	vulnerability.ManualPriority = &priority
	if err := g.vulnerabilityRepository.Save(nil, &vulnerability); err != nil {
		slog.Warn("could not store manual fix guide", "vulnerabilityID", vulnerability.ID, "err", err)
	}
}

// MakeBranchName derives the deterministic patch branch name for a
// finding. The short hash keeps re-scans of the same finding on the
// same branch.
func MakeBranchName(vulnerabilityType, filePath string, startLine int) string {
	raw := fmt.Sprintf("%s:%s:%d", vulnerabilityType, filePath, startLine)
	sum := sha256.Sum256([]byte(raw))
	shortHash := hex.EncodeToString(sum[:])[:7]
	safeType := strings.ReplaceAll(strings.ToLower(vulnerabilityType), "_", "-")
	return fmt.Sprintf("vulnix/fix-%s-%s", safeType, shortHash)
}

func buildPRBody(vulnerability models.Vulnerability, result AnalysisResult, severity string) string {
	cweID := ""
	if vulnerability.CWEID != nil {
		cweID = *vulnerability.CWEID
	}
	owasp := ""
	if result.OWASPCategory != nil {
		owasp = *result.OWASPCategory
	}

	vulnerabilityType := "unknown"
	if result.VulnerabilityType != nil {
		vulnerabilityType = *result.VulnerabilityType
	}

	refsText := "- none"
	if len(result.References) > 0 {
		refsText = strings.Join(utils.Map(result.References, func(ref string) string {
			return "- " + ref
		}), "\n")
	}

	patchDiff := ""
	if result.PatchDiff != nil {
		patchDiff = *result.PatchDiff
	}

	var body strings.Builder
	fmt.Fprintf(&body, `## Vulnix Security Patch

### Detected Vulnerability
- **Type**: %s (%s)
- **Severity**: %s %s
- **File**: `+"`%s`"+` (Line %d-%d)
- **OWASP**: %s

### Why Risky
%s

%s

### What Was Fixed
%s

### Changed Code
`+"```diff\n%s\n```"+`

### References
%s
`, vulnerabilityType, cweID, severityBadgeMap[severity], severity, vulnerability.FilePath, vulnerability.StartLine, vulnerability.EndLine, owasp, result.Reasoning, vulnerability.Description, result.PatchDescription, patchDiff, refsText)

	if result.TestSuggestion != nil && *result.TestSuggestion != "" {
		fmt.Fprintf(&body, "\n### Test Suggestion\n```\n%s\n```\n", *result.TestSuggestion)
	}

	body.WriteString("\n---\n> This pull request was generated automatically by the [Vulnix](https://vulnix.dev) security agent.\n> Review the change before merging.\n")
	return body.String()
}
