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

type ScanJobStatus string

const (
	ScanJobStatusQueued    ScanJobStatus = "queued"
	ScanJobStatusRunning   ScanJobStatus = "running"
	ScanJobStatusCompleted ScanJobStatus = "completed"
	ScanJobStatusFailed    ScanJobStatus = "failed"
	ScanJobStatusCancelled ScanJobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from the status.
func (s ScanJobStatus) IsTerminal() bool {
	switch s {
	case ScanJobStatusCompleted, ScanJobStatusFailed, ScanJobStatusCancelled:
		return true
	}
	return false
}

type TriggerType string

const (
	TriggerWebhook  TriggerType = "webhook"
	TriggerManual   TriggerType = "manual"
	TriggerSchedule TriggerType = "schedule"
)

type ScanType string

const (
	ScanTypeInitial     ScanType = "initial"
	ScanTypeIncremental ScanType = "incremental"
	ScanTypePR          ScanType = "pr"
)

// ScanJob is a single execution of the detection pipeline for one
// (repository, commit, trigger) tuple.
type ScanJob struct {
	Model
	RepositoryID uuid.UUID  `json:"repositoryId" gorm:"type:uuid;not null;index:idx_scan_job_repo_status"`
	Repository   Repository `json:"repository,omitempty" gorm:"foreignKey:RepositoryID;references:ID;constraint:OnDelete:CASCADE;"`

	Status      ScanJobStatus `json:"status" gorm:"type:text;not null;default:'queued';index:idx_scan_job_repo_status"`
	TriggerType TriggerType   `json:"triggerType" gorm:"type:text;not null"`
	ScanType    ScanType      `json:"scanType" gorm:"type:text;not null"`

	CommitSHA    string   `json:"commitSha" gorm:"type:text"`
	Branch       string   `json:"branch" gorm:"type:text"`
	PRNumber     *int     `json:"prNumber"`
	ChangedFiles []string `json:"changedFiles" gorm:"type:jsonb;serializer:json"`

	FindingsCount       int `json:"findingsCount" gorm:"default:0"`
	TruePositivesCount  int `json:"truePositivesCount" gorm:"default:0"`
	FalsePositivesCount int `json:"falsePositivesCount" gorm:"default:0"`
	AutoFilteredCount   int `json:"autoFilteredCount" gorm:"default:0"`

	RetryCount      int        `json:"retryCount" gorm:"default:0"`
	ErrorMessage    *string    `json:"errorMessage" gorm:"type:text"`
	StartedAt       *time.Time `json:"startedAt"`
	CompletedAt     *time.Time `json:"completedAt"`
	DurationSeconds *float64   `json:"durationSeconds"`
}

func (ScanJob) TableName() string {
	return "scan_jobs"
}
