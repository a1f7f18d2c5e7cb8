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

package models

import (
	"time"

	"github.com/google/uuid"
)

// FalsePositivePattern is a team scoped suppression rule. Findings whose
// rule id matches SemgrepRuleID and whose path matches FilePattern (glob
// with ** semantics, empty pattern matches everything) are dropped before
// the LLM ever sees them.
//
// At most one active pattern may exist per (team, rule, pattern); the
// migration enforces this with a partial unique index.
type FalsePositivePattern struct {
	Model
	TeamID uuid.UUID `json:"teamId" gorm:"type:uuid;not null;index:idx_fp_pattern_team"`

	SemgrepRuleID string `json:"semgrepRuleId" gorm:"type:text;not null"`
	FilePattern   string `json:"filePattern" gorm:"type:text;not null;default:''"`
	Reason        string `json:"reason" gorm:"type:text"`

	IsActive      bool       `json:"isActive" gorm:"default:true"`
	MatchedCount  int        `json:"matchedCount" gorm:"default:0"`
	LastMatchedAt *time.Time `json:"lastMatchedAt"`

	// SourceVulnerabilityID points at the vulnerability the pattern was
	// learned from, when it was created through the mark-false-positive flow.
	SourceVulnerabilityID *uuid.UUID `json:"sourceVulnerabilityId" gorm:"type:uuid"`
	CreatedBy             string     `json:"createdBy" gorm:"type:text"`
}

func (FalsePositivePattern) TableName() string {
	return "false_positive_patterns"
}

// FalsePositiveLog records a single suppression event for audit purposes.
type FalsePositiveLog struct {
	Model
	PatternID uuid.UUID            `json:"patternId" gorm:"type:uuid;not null;index"`
	Pattern   FalsePositivePattern `json:"-" gorm:"foreignKey:PatternID;references:ID;constraint:OnDelete:CASCADE;"`
	ScanJobID uuid.UUID            `json:"scanJobId" gorm:"type:uuid;not null;index"`

	SemgrepRuleID string `json:"semgrepRuleId" gorm:"type:text;not null"`
	FilePath      string `json:"filePath" gorm:"type:text;not null"`
	StartLine     int    `json:"startLine"`
}

func (FalsePositiveLog) TableName() string {
	return "false_positive_logs"
}
