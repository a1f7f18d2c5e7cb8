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

type PatchPRStatus string

const (
	PatchPRStatusCreated  PatchPRStatus = "created"
	PatchPRStatusMerged   PatchPRStatus = "merged"
	PatchPRStatusClosed   PatchPRStatus = "closed"
	PatchPRStatusRejected PatchPRStatus = "rejected"
)

// PatchPR records the pull request the patch generator opened for a
// vulnerability. 1:1 with Vulnerability.
type PatchPR struct {
	Model
	VulnerabilityID uuid.UUID     `json:"vulnerabilityId" gorm:"type:uuid;not null;uniqueIndex"`
	Vulnerability   Vulnerability `json:"vulnerability,omitempty" gorm:"foreignKey:VulnerabilityID;references:ID;constraint:OnDelete:CASCADE;"`
	RepositoryID    uuid.UUID     `json:"repositoryId" gorm:"type:uuid;not null;index"`

	PRNumber   int           `json:"prNumber" gorm:"not null"`
	PRURL      string        `json:"prUrl" gorm:"type:text;not null"`
	BranchName string        `json:"branchName" gorm:"type:text;not null"`
	Status     PatchPRStatus `json:"status" gorm:"type:text;not null;default:'created'"`

	PatchDiff        string  `json:"patchDiff" gorm:"type:text"`
	PatchDescription string  `json:"patchDescription" gorm:"type:text"`
	TestSuggestion   *string `json:"testSuggestion" gorm:"type:text"`

	MergedAt *time.Time `json:"mergedAt"`
}

func (PatchPR) TableName() string {
	return "patch_prs"
}
