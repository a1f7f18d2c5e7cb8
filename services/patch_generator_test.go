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
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/mocks"
	"github.com/vulnix-dev/vulnix/platforms"
)

func TestMakeBranchName(t *testing.T) {
	t.Run("should be deterministic", func(t *testing.T) {
		a := MakeBranchName("sql_injection", "app/db.py", 42)
		b := MakeBranchName("sql_injection", "app/db.py", 42)
		assert.Equal(t, a, b)
	})

	t.Run("should lowercase and hyphenate the type and carry a 7 char hash", func(t *testing.T) {
		sum := sha256.Sum256([]byte("SQL_Injection:app/db.py:42"))
		expected := "vulnix/fix-sql-injection-" + hex.EncodeToString(sum[:])[:7]
		assert.Equal(t, expected, MakeBranchName("SQL_Injection", "app/db.py", 42))
	})

	t.Run("should differ per line", func(t *testing.T) {
		assert.NotEqual(t,
			MakeBranchName("xss", "a.py", 1),
			MakeBranchName("xss", "a.py", 2))
	})
}

func TestBuildPRBody(t *testing.T) {
	vuln := models.Vulnerability{
		FilePath:    "app/db.py",
		StartLine:   10,
		EndLine:     12,
		CWEID:       strPtr("CWE-89"),
		Description: "string formatted SQL query",
	}
	diff := "@@ -10,1 +10,1 @@\n-bad\n+good\n"
	result := AnalysisResult{
		Reasoning:         "user input reaches the query",
		PatchDiff:         &diff,
		PatchDescription:  "switched to a parameterized query",
		OWASPCategory:     strPtr("A03:2021-Injection"),
		VulnerabilityType: strPtr("sql_injection"),
		References:        []string{"https://cwe.mitre.org/data/definitions/89.html"},
	}

	t.Run("should render every section", func(t *testing.T) {
		body := buildPRBody(vuln, result, "critical")

		assert.Contains(t, body, "## Vulnix Security Patch")
		assert.Contains(t, body, "### Detected Vulnerability")
		assert.Contains(t, body, "- **Type**: sql_injection (CWE-89)")
		assert.Contains(t, body, ":red_circle: critical")
		assert.Contains(t, body, "`app/db.py` (Line 10-12)")
		assert.Contains(t, body, "### Why Risky")
		assert.Contains(t, body, "### What Was Fixed")
		assert.Contains(t, body, "```diff\n"+diff+"\n```")
		assert.Contains(t, body, "- https://cwe.mitre.org/data/definitions/89.html")
		assert.Contains(t, body, "> This pull request was generated automatically by the [Vulnix](https://vulnix.dev) security agent.")
		assert.NotContains(t, body, "### Test Suggestion")
	})

	t.Run("should attach the test suggestion when present", func(t *testing.T) {
		withTest := result
		withTest.TestSuggestion = strPtr("assert no rows with ' OR 1=1")

		body := buildPRBody(vuln, withTest, "high")

		assert.Contains(t, body, "### Test Suggestion")
		assert.Contains(t, body, "assert no rows with ' OR 1=1")
		assert.Contains(t, body, ":orange_circle: high")
	})

	t.Run("should fall back to none when there are no references", func(t *testing.T) {
		noRefs := result
		noRefs.References = nil

		body := buildPRBody(vuln, noRefs, "low")

		assert.Contains(t, body, "### References\n- none")
	})
}

func TestSeverityMaps(t *testing.T) {
	assert.Equal(t, "P0", severityPriorityMap["critical"])
	assert.Equal(t, "P1", severityPriorityMap["high"])
	assert.Equal(t, "P2", severityPriorityMap["medium"])
	assert.Equal(t, "P3", severityPriorityMap["low"])
	assert.Equal(t, ":red_circle:", severityBadgeMap["critical"])
	assert.Equal(t, ":white_circle:", severityBadgeMap["low"])
}

func TestGeneratePatchPRs(t *testing.T) {
	repo := models.Repository{FullName: "acme/shop", Platform: models.PlatformGithub}
	repo.ID = uuid.New()
	scanJobID := uuid.New()
	finding := Finding{RuleID: "rule-a", FilePath: "app/db.py", StartLine: 10, EndLine: 12, Severity: "ERROR"}

	t.Run("should skip everything when there is no true positive", func(t *testing.T) {
		g := NewPatchGenerator(mocks.NewVulnerabilityRepository(t), mocks.NewPatchPRRepository(t))

		prs, err := g.GeneratePatchPRs(context.Background(), mocks.NewPlatformClient(t), repo, "main", scanJobID, []AnalysisResult{
			{FindingID: "rule-a", IsTruePositive: false},
		}, []Finding{finding})

		assert.NoError(t, err)
		assert.Empty(t, prs)
	})

	t.Run("should store a manual guide for unpatchable findings", func(t *testing.T) {
		vuln := models.Vulnerability{
			ScanJobID:     scanJobID,
			SemgrepRuleID: "rule-a",
			FilePath:      "app/db.py",
			StartLine:     10,
			EndLine:       12,
			Severity:      models.SeverityHigh,
		}
		vuln.ID = uuid.New()

		vulnerabilityRepository := mocks.NewVulnerabilityRepository(t)
		vulnerabilityRepository.On("FindByNaturalKey", mock.Anything, scanJobID, "rule-a", "app/db.py", 10).Return(vuln, nil)
		vulnerabilityRepository.On("Save", mock.Anything, mock.MatchedBy(func(v *models.Vulnerability) bool {
			return v.ManualGuide != nil && strings.Contains(*v.ManualGuide, "## Manual Fix Guide") &&
				v.ManualPriority != nil && *v.ManualPriority == "P1"
		})).Return(nil)

		g := NewPatchGenerator(vulnerabilityRepository, mocks.NewPatchPRRepository(t))

		prs, err := g.GeneratePatchPRs(context.Background(), mocks.NewPlatformClient(t), repo, "main", scanJobID, []AnalysisResult{
			{FindingID: "rule-a", IsTruePositive: true, Severity: "high", Reasoning: "tainted input", VulnerabilityType: strPtr("sql_injection")},
		}, []Finding{finding})

		assert.NoError(t, err)
		assert.Empty(t, prs)
	})

	t.Run("should open a PR for a patchable true positive", func(t *testing.T) {
		diff := "@@ -10,1 +10,1 @@\n-bad line\n+good line\n"
		vuln := models.Vulnerability{
			ScanJobID:     scanJobID,
			RepositoryID:  repo.ID,
			SemgrepRuleID: "rule-a",
			FilePath:      "app/db.py",
			StartLine:     10,
			EndLine:       12,
			Severity:      models.SeverityCritical,
			CWEID:         strPtr("CWE-89"),
		}
		vuln.ID = uuid.New()

		vulnerabilityRepository := mocks.NewVulnerabilityRepository(t)
		vulnerabilityRepository.On("FindByNaturalKey", mock.Anything, scanJobID, "rule-a", "app/db.py", 10).Return(vuln, nil)
		vulnerabilityRepository.On("Save", mock.Anything, mock.MatchedBy(func(v *models.Vulnerability) bool {
			return v.Status == models.VulnStatusPatched && v.ResolvedAt != nil
		})).Return(nil)

		patchPRRepository := mocks.NewPatchPRRepository(t)
		patchPRRepository.On("Create", mock.Anything, mock.MatchedBy(func(pr *models.PatchPR) bool {
			return pr.Status == models.PatchPRStatusCreated && pr.PRNumber == 7
		})).Return(nil)

		branchName := MakeBranchName("sql_injection", "app/db.py", 10)

		client := mocks.NewPlatformClient(t)
		client.On("GetBranchSHA", mock.Anything, "acme/shop", "main").Return("abc123", nil)
		client.On("CreateBranch", mock.Anything, "acme/shop", branchName, "abc123").Return(nil)
		client.On("GetFileContent", mock.Anything, "acme/shop", "app/db.py", "main").Return(platforms.FileContent{
			Content: strings.Repeat("x\n", 9) + "bad line\n",
			SHA:     "blob1",
		}, nil)
		client.On("CreateFileCommit", mock.Anything, "acme/shop", branchName, "app/db.py",
			strings.Repeat("x\n", 9)+"good line\n",
			"[Vulnix] Fix sql_injection in app/db.py", "blob1").Return(nil)
		client.On("CreatePullRequest", mock.Anything, "acme/shop", branchName, "main",
			mock.AnythingOfType("string"), mock.AnythingOfType("string"),
			[]string{"security", "vulnix-auto-patch", "critical"}).Return(platforms.PullRequestRef{Number: 7, URL: "https://example.com/pr/7"}, nil)

		g := NewPatchGenerator(vulnerabilityRepository, patchPRRepository)

		prs, err := g.GeneratePatchPRs(context.Background(), client, repo, "main", scanJobID, []AnalysisResult{
			{
				FindingID:         "rule-a",
				IsTruePositive:    true,
				Severity:          "critical",
				Reasoning:         "tainted input",
				PatchDiff:         &diff,
				PatchDescription:  "parameterized the query",
				VulnerabilityType: strPtr("sql_injection"),
			},
		}, []Finding{finding})

		assert.NoError(t, err)
		assert.Len(t, prs, 1)
		assert.Equal(t, 7, prs[0].PRNumber)
	})

	t.Run("should report the batch error when the base branch cannot be resolved", func(t *testing.T) {
		diff := "@@ -1,1 +1,1 @@\n-a\n+b\n"

		client := mocks.NewPlatformClient(t)
		client.On("GetBranchSHA", mock.Anything, "acme/shop", "main").Return("", fmt.Errorf("branch not found"))

		g := NewPatchGenerator(mocks.NewVulnerabilityRepository(t), mocks.NewPatchPRRepository(t))

		_, err := g.GeneratePatchPRs(context.Background(), client, repo, "main", scanJobID, []AnalysisResult{
			{FindingID: "rule-a", IsTruePositive: true, PatchDiff: &diff},
		}, []Finding{finding})

		assert.Error(t, err)
	})
}
