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
	"log/slog"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/shared"
	"github.com/vulnix-dev/vulnix/utils"
)

// FalsePositiveService applies team-scoped suppression patterns to raw
// findings before they ever reach the adjudication stage, and manages
// the pattern lifecycle.
type FalsePositiveService struct {
	patternRepository       shared.FalsePositivePatternRepository
	logRepository           shared.FalsePositiveLogRepository
	vulnerabilityRepository shared.VulnerabilityRepository
}

func NewFalsePositiveService(patternRepository shared.FalsePositivePatternRepository, logRepository shared.FalsePositiveLogRepository, vulnerabilityRepository shared.VulnerabilityRepository) *FalsePositiveService {
	return &FalsePositiveService{
		patternRepository:       patternRepository,
		logRepository:           logRepository,
		vulnerabilityRepository: vulnerabilityRepository,
	}
}

// patternMatches reports whether a pattern suppresses a finding. An
// empty file pattern matches every path for that rule.
func patternMatches(pattern models.FalsePositivePattern, finding Finding) bool {
	if pattern.SemgrepRuleID != finding.RuleID {
		return false
	}
	if pattern.FilePattern == "" {
		return true
	}
	matched, err := doublestar.Match(pattern.FilePattern, finding.FilePath)
	if err != nil {
		slog.Warn("invalid false positive file pattern", "pattern", pattern.FilePattern, "err", err)
		return false
	}
	return matched
}

// Filter drops findings that match an active pattern of the team.
// Pattern bookkeeping failures never suppress a finding: on any storage
// error the finding is kept and the error only alerted.
func (s *FalsePositiveService) Filter(teamID uuid.UUID, scanJobID uuid.UUID, findings []Finding) ([]Finding, int) {
	patterns, err := s.patternRepository.FindActiveByTeam(nil, teamID)
	if err != nil {
		slog.Error("could not load false positive patterns, keeping all findings", "teamID", teamID, "err", err)
		return findings, 0
	}
	if len(patterns) == 0 {
		return findings, 0
	}

	kept := make([]Finding, 0, len(findings))
	filtered := 0
	for _, finding := range findings {
		pattern, found := utils.Find(patterns, func(p models.FalsePositivePattern) bool {
			return patternMatches(p, finding)
		})
		if !found {
			kept = append(kept, finding)
			continue
		}

		filtered++
		s.recordMatch(pattern, scanJobID, finding)
	}
	return kept, filtered
}

func (s *FalsePositiveService) recordMatch(pattern models.FalsePositivePattern, scanJobID uuid.UUID, finding Finding) {
	now := time.Now()
	pattern.MatchedCount++
	pattern.LastMatchedAt = &now
	if err := s.patternRepository.Save(nil, &pattern); err != nil {
		slog.Warn("could not update false positive pattern stats", "patternID", pattern.ID, "err", err)
	}

	logEntry := models.FalsePositiveLog{
		PatternID:     pattern.ID,
		ScanJobID:     scanJobID,
		SemgrepRuleID: finding.RuleID,
		FilePath:      finding.FilePath,
		StartLine:     finding.StartLine,
	}
	if err := s.logRepository.Create(nil, &logEntry); err != nil {
		slog.Warn("could not record false positive suppression", "patternID", pattern.ID, "err", err)
	}
}

// CreateFromVulnerability marks a stored vulnerability as a false
// positive and derives a suppression pattern from it, so the same rule
// hit never surfaces again for the team. Creating the same pattern
// twice collapses onto the existing active one.
func (s *FalsePositiveService) CreateFromVulnerability(teamID uuid.UUID, vulnerabilityID uuid.UUID, reason string, filePattern string, createdBy string) (models.FalsePositivePattern, error) {
	vulnerability, err := s.vulnerabilityRepository.Read(vulnerabilityID)
	if err != nil {
		return models.FalsePositivePattern{}, errors.Wrap(err, "could not read vulnerability")
	}

	if filePattern == "" {
		filePattern = vulnerability.FilePath
	}

	if existing, err := s.patternRepository.FindActiveByKey(nil, teamID, vulnerability.SemgrepRuleID, filePattern); err == nil {
		s.resolveVulnerability(&vulnerability)
		return existing, nil
	}

	pattern := models.FalsePositivePattern{
		TeamID:                teamID,
		SemgrepRuleID:         vulnerability.SemgrepRuleID,
		FilePattern:           filePattern,
		Reason:                reason,
		IsActive:              true,
		SourceVulnerabilityID: &vulnerability.ID,
		CreatedBy:             createdBy,
	}
	if err := s.patternRepository.Create(nil, &pattern); err != nil {
		return models.FalsePositivePattern{}, errors.Wrap(err, "could not create false positive pattern")
	}

	s.resolveVulnerability(&vulnerability)
	return pattern, nil
}

func (s *FalsePositiveService) resolveVulnerability(vulnerability *models.Vulnerability) {
	now := time.Now()
	vulnerability.Status = models.VulnStatusFalsePositive
	vulnerability.ResolvedAt = &now
	if err := s.vulnerabilityRepository.Save(nil, vulnerability); err != nil {
		slog.Warn("could not mark vulnerability as false positive", "vulnerabilityID", vulnerability.ID, "err", err)
	}
}

// Deactivate turns a pattern off without losing its match history.
func (s *FalsePositiveService) Deactivate(patternID uuid.UUID) error {
	pattern, err := s.patternRepository.Read(patternID)
	if err != nil {
		return errors.Wrap(err, "could not read false positive pattern")
	}
	if !pattern.IsActive {
		return nil
	}
	pattern.IsActive = false
	return s.patternRepository.Save(nil, &pattern)
}

// Restore re-activates a previously deactivated pattern.
func (s *FalsePositiveService) Restore(patternID uuid.UUID) error {
	pattern, err := s.patternRepository.Read(patternID)
	if err != nil {
		return errors.Wrap(err, "could not read false positive pattern")
	}
	if pattern.IsActive {
		return nil
	}
	// another active pattern may have been created for the same key in
	// the meantime, the partial unique index would reject the restore
	if _, err := s.patternRepository.FindActiveByKey(nil, pattern.TeamID, pattern.SemgrepRuleID, pattern.FilePattern); err == nil {
		return errors.New("an active pattern with the same rule and file pattern already exists")
	}
	pattern.IsActive = true
	return s.patternRepository.Save(nil, &pattern)
}

// ListByTeam returns all patterns of a team, active and inactive.
func (s *FalsePositiveService) ListByTeam(teamID uuid.UUID) ([]models.FalsePositivePattern, error) {
	return s.patternRepository.ListByTeam(teamID)
}
