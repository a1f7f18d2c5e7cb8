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
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/mocks"
)

func TestPatternMatches(t *testing.T) {
	finding := Finding{RuleID: "vulnix.python.injection.sql_format_string", FilePath: "app/db/queries.py"}

	t.Run("should not match a different rule", func(t *testing.T) {
		pattern := models.FalsePositivePattern{SemgrepRuleID: "vulnix.python.xss.template_autoescape_off"}
		assert.False(t, patternMatches(pattern, finding))
	})

	t.Run("should match every path when the file pattern is empty", func(t *testing.T) {
		pattern := models.FalsePositivePattern{SemgrepRuleID: finding.RuleID}
		assert.True(t, patternMatches(pattern, finding))
	})

	t.Run("should match a doublestar glob", func(t *testing.T) {
		pattern := models.FalsePositivePattern{SemgrepRuleID: finding.RuleID, FilePattern: "app/**"}
		assert.True(t, patternMatches(pattern, finding))
	})

	t.Run("should suppress test directories with tests glob", func(t *testing.T) {
		pattern := models.FalsePositivePattern{SemgrepRuleID: finding.RuleID, FilePattern: "tests/**"}
		assert.False(t, patternMatches(pattern, finding))
		assert.True(t, patternMatches(pattern, Finding{RuleID: finding.RuleID, FilePath: "tests/unit/test_queries.py"}))
	})

	t.Run("should not match an exact path pattern against a different file", func(t *testing.T) {
		pattern := models.FalsePositivePattern{SemgrepRuleID: finding.RuleID, FilePattern: "app/db/other.py"}
		assert.False(t, patternMatches(pattern, finding))
	})

	t.Run("should treat an invalid glob as non matching", func(t *testing.T) {
		pattern := models.FalsePositivePattern{SemgrepRuleID: finding.RuleID, FilePattern: "app/[unclosed"}
		assert.False(t, patternMatches(pattern, finding))
	})
}

func TestFalsePositiveFilter(t *testing.T) {
	teamID := uuid.New()
	scanJobID := uuid.New()
	findings := []Finding{
		{RuleID: "rule-a", FilePath: "src/a.py", StartLine: 10},
		{RuleID: "rule-b", FilePath: "src/b.py", StartLine: 20},
	}

	t.Run("should keep all findings when the patterns cannot be loaded", func(t *testing.T) {
		patternRepository := mocks.NewFalsePositivePatternRepository(t)
		patternRepository.On("FindActiveByTeam", mock.Anything, teamID).Return(nil, fmt.Errorf("connection refused"))

		s := NewFalsePositiveService(patternRepository, mocks.NewFalsePositiveLogRepository(t), mocks.NewVulnerabilityRepository(t))

		kept, filtered := s.Filter(teamID, scanJobID, findings)

		assert.Equal(t, findings, kept)
		assert.Zero(t, filtered)
	})

	t.Run("should keep all findings when no pattern exists", func(t *testing.T) {
		patternRepository := mocks.NewFalsePositivePatternRepository(t)
		patternRepository.On("FindActiveByTeam", mock.Anything, teamID).Return([]models.FalsePositivePattern{}, nil)

		s := NewFalsePositiveService(patternRepository, mocks.NewFalsePositiveLogRepository(t), mocks.NewVulnerabilityRepository(t))

		kept, filtered := s.Filter(teamID, scanJobID, findings)

		assert.Equal(t, findings, kept)
		assert.Zero(t, filtered)
	})

	t.Run("should drop matching findings and record the suppression", func(t *testing.T) {
		patternRepository := mocks.NewFalsePositivePatternRepository(t)
		patternRepository.On("FindActiveByTeam", mock.Anything, teamID).Return([]models.FalsePositivePattern{
			{SemgrepRuleID: "rule-a", FilePattern: "src/**"},
		}, nil)
		patternRepository.On("Save", mock.Anything, mock.MatchedBy(func(p *models.FalsePositivePattern) bool {
			return p.MatchedCount == 1 && p.LastMatchedAt != nil
		})).Return(nil)

		logRepository := mocks.NewFalsePositiveLogRepository(t)
		logRepository.On("Create", mock.Anything, mock.MatchedBy(func(l *models.FalsePositiveLog) bool {
			return l.ScanJobID == scanJobID && l.SemgrepRuleID == "rule-a" && l.FilePath == "src/a.py" && l.StartLine == 10
		})).Return(nil)

		s := NewFalsePositiveService(patternRepository, logRepository, mocks.NewVulnerabilityRepository(t))

		kept, filtered := s.Filter(teamID, scanJobID, findings)

		assert.Equal(t, 1, filtered)
		assert.Len(t, kept, 1)
		assert.Equal(t, "rule-b", kept[0].RuleID)
	})

	t.Run("should still drop the finding when bookkeeping fails", func(t *testing.T) {
		patternRepository := mocks.NewFalsePositivePatternRepository(t)
		patternRepository.On("FindActiveByTeam", mock.Anything, teamID).Return([]models.FalsePositivePattern{
			{SemgrepRuleID: "rule-a"},
		}, nil)
		patternRepository.On("Save", mock.Anything, mock.Anything).Return(fmt.Errorf("disk full"))

		logRepository := mocks.NewFalsePositiveLogRepository(t)
		logRepository.On("Create", mock.Anything, mock.Anything).Return(fmt.Errorf("disk full"))

		s := NewFalsePositiveService(patternRepository, logRepository, mocks.NewVulnerabilityRepository(t))

		kept, filtered := s.Filter(teamID, scanJobID, findings)

		assert.Equal(t, 1, filtered)
		assert.Len(t, kept, 1)
	})
}

func TestCreateFromVulnerability(t *testing.T) {
	teamID := uuid.New()
	vulnID := uuid.New()
	vuln := models.Vulnerability{
		SemgrepRuleID: "rule-a",
		FilePath:      "src/a.py",
		Status:        models.VulnStatusOpen,
	}
	vuln.ID = vulnID

	t.Run("should derive the file pattern from the vulnerability path", func(t *testing.T) {
		vulnerabilityRepository := mocks.NewVulnerabilityRepository(t)
		vulnerabilityRepository.On("Read", vulnID).Return(vuln, nil)
		vulnerabilityRepository.On("Save", mock.Anything, mock.MatchedBy(func(v *models.Vulnerability) bool {
			return v.Status == models.VulnStatusFalsePositive && v.ResolvedAt != nil
		})).Return(nil)

		patternRepository := mocks.NewFalsePositivePatternRepository(t)
		patternRepository.On("FindActiveByKey", mock.Anything, teamID, "rule-a", "src/a.py").Return(models.FalsePositivePattern{}, fmt.Errorf("record not found"))
		patternRepository.On("Create", mock.Anything, mock.MatchedBy(func(p *models.FalsePositivePattern) bool {
			return p.TeamID == teamID && p.SemgrepRuleID == "rule-a" && p.FilePattern == "src/a.py" && p.IsActive
		})).Return(nil)

		s := NewFalsePositiveService(patternRepository, mocks.NewFalsePositiveLogRepository(t), vulnerabilityRepository)

		pattern, err := s.CreateFromVulnerability(teamID, vulnID, "sanitized upstream", "", "alice")

		assert.NoError(t, err)
		assert.Equal(t, "src/a.py", pattern.FilePattern)
	})

	t.Run("should collapse onto an existing active pattern", func(t *testing.T) {
		existing := models.FalsePositivePattern{SemgrepRuleID: "rule-a", FilePattern: "src/**"}

		vulnerabilityRepository := mocks.NewVulnerabilityRepository(t)
		vulnerabilityRepository.On("Read", vulnID).Return(vuln, nil)
		vulnerabilityRepository.On("Save", mock.Anything, mock.Anything).Return(nil)

		patternRepository := mocks.NewFalsePositivePatternRepository(t)
		patternRepository.On("FindActiveByKey", mock.Anything, teamID, "rule-a", "src/**").Return(existing, nil)

		s := NewFalsePositiveService(patternRepository, mocks.NewFalsePositiveLogRepository(t), vulnerabilityRepository)

		pattern, err := s.CreateFromVulnerability(teamID, vulnID, "noise", "src/**", "alice")

		assert.NoError(t, err)
		assert.Equal(t, existing, pattern)
	})
}

func TestRestorePattern(t *testing.T) {
	patternID := uuid.New()

	t.Run("should refuse when an active duplicate exists", func(t *testing.T) {
		inactive := models.FalsePositivePattern{TeamID: uuid.New(), SemgrepRuleID: "rule-a", FilePattern: "src/**", IsActive: false}

		patternRepository := mocks.NewFalsePositivePatternRepository(t)
		patternRepository.On("Read", patternID).Return(inactive, nil)
		patternRepository.On("FindActiveByKey", mock.Anything, inactive.TeamID, "rule-a", "src/**").Return(models.FalsePositivePattern{}, nil)

		s := NewFalsePositiveService(patternRepository, mocks.NewFalsePositiveLogRepository(t), mocks.NewVulnerabilityRepository(t))

		assert.Error(t, s.Restore(patternID))
	})

	t.Run("should re-activate when the key is free", func(t *testing.T) {
		inactive := models.FalsePositivePattern{TeamID: uuid.New(), SemgrepRuleID: "rule-a", FilePattern: "src/**", IsActive: false}

		patternRepository := mocks.NewFalsePositivePatternRepository(t)
		patternRepository.On("Read", patternID).Return(inactive, nil)
		patternRepository.On("FindActiveByKey", mock.Anything, inactive.TeamID, "rule-a", "src/**").Return(models.FalsePositivePattern{}, fmt.Errorf("record not found"))
		patternRepository.On("Save", mock.Anything, mock.MatchedBy(func(p *models.FalsePositivePattern) bool {
			return p.IsActive
		})).Return(nil)

		s := NewFalsePositiveService(patternRepository, mocks.NewFalsePositiveLogRepository(t), mocks.NewVulnerabilityRepository(t))

		assert.NoError(t, s.Restore(patternID))
	})
}
