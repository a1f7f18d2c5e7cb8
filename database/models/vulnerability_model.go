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
	"gorm.io/datatypes"
)

type VulnerabilityStatus string

const (
	VulnStatusOpen          VulnerabilityStatus = "open"
	VulnStatusPatched       VulnerabilityStatus = "patched"
	VulnStatusIgnored       VulnerabilityStatus = "ignored"
	VulnStatusFalsePositive VulnerabilityStatus = "false_positive"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Vulnerability is an adjudicated true positive finding. The natural key
// (scan_job_id, semgrep_rule_id, file_path, start_line) keeps re-delivered
// queue messages from producing duplicate rows.
type Vulnerability struct {
	Model
	ScanJobID    uuid.UUID  `json:"scanJobId" gorm:"type:uuid;not null;uniqueIndex:idx_vuln_natural_key"`
	ScanJob      ScanJob    `json:"scanJob,omitempty" gorm:"foreignKey:ScanJobID;references:ID;constraint:OnDelete:CASCADE;"`
	RepositoryID uuid.UUID  `json:"repositoryId" gorm:"type:uuid;not null;index"`
	Repository   Repository `json:"repository,omitempty" gorm:"foreignKey:RepositoryID;references:ID;constraint:OnDelete:CASCADE;"`

	Status   VulnerabilityStatus `json:"status" gorm:"type:text;not null;default:'open'"`
	Severity Severity            `json:"severity" gorm:"type:text;not null"`
	// VulnerabilityType is the normalized class, e.g. sql_injection or xss.
	VulnerabilityType string  `json:"vulnerabilityType" gorm:"type:text;not null"`
	CWEID             *string `json:"cweId" gorm:"type:text"`
	OWASPCategory     *string `json:"owaspCategory" gorm:"type:text"`

	SemgrepRuleID string `json:"semgrepRuleId" gorm:"type:text;not null;uniqueIndex:idx_vuln_natural_key"`
	FilePath      string `json:"filePath" gorm:"type:text;not null;uniqueIndex:idx_vuln_natural_key"`
	StartLine     int    `json:"startLine" gorm:"not null;uniqueIndex:idx_vuln_natural_key"`
	EndLine       int    `json:"endLine"`
	CodeSnippet   string `json:"codeSnippet" gorm:"type:text"`
	Description   string `json:"description" gorm:"type:text"`

	LLMReasoning  string   `json:"llmReasoning" gorm:"type:text"`
	LLMConfidence float64  `json:"llmConfidence"`
	References    []string `json:"references" gorm:"type:jsonb;serializer:json"`
	// RawFinding is the engine's finding as scanned, kept for audits and
	// for re-adjudication without a rescan.
	RawFinding datatypes.JSON `json:"rawFinding,omitempty" gorm:"type:jsonb"`

	// ManualGuide carries the markdown fix instructions for findings the
	// patch generator could not auto patch.
	ManualGuide    *string `json:"manualGuide" gorm:"type:text"`
	ManualPriority *string `json:"manualPriority" gorm:"type:text"`

	DetectedAt time.Time  `json:"detectedAt"`
	ResolvedAt *time.Time `json:"resolvedAt"`
}

func (Vulnerability) TableName() string {
	return "vulnerabilities"
}
