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

type Platform string

const (
	PlatformGithub    Platform = "github"
	PlatformGitlab    Platform = "gitlab"
	PlatformBitbucket Platform = "bitbucket"
)

// Repository is a connected source code repository. It is unique per
// (platform, platform_repo_id) and logically retained on disconnect.
type Repository struct {
	Model
	Platform       Platform `json:"platform" gorm:"type:text;not null;uniqueIndex:idx_repository_platform_repo"`
	PlatformRepoID string   `json:"platformRepoId" gorm:"type:text;not null;uniqueIndex:idx_repository_platform_repo"`
	FullName       string   `json:"fullName" gorm:"type:text;not null"`
	DefaultBranch  string   `json:"defaultBranch" gorm:"type:text;not null;default:'main'"`
	Language       string   `json:"language" gorm:"type:text"`
	IsPrivate      bool     `json:"isPrivate" gorm:"default:false"`

	TeamID uuid.UUID `json:"teamId" gorm:"type:uuid;not null;index"`

	// GitHub App installations carry no token of their own, the
	// installation id is exchanged for short lived tokens on demand.
	InstallationID *int64 `json:"installationId" gorm:"type:bigint"`
	// AccessTokenEnc holds the AES-GCM encrypted GitLab PAT or Bitbucket
	// app password. Never exposed over the API.
	AccessTokenEnc   string `json:"-" gorm:"type:text"`
	ExternalUsername string `json:"externalUsername" gorm:"type:text"`
	// PlatformBaseURL overrides the API base for self managed instances.
	PlatformBaseURL string `json:"platformBaseUrl" gorm:"type:text"`
	WebhookSecret   string `json:"-" gorm:"type:text"`

	IsActive          bool       `json:"isActive" gorm:"default:true"`
	IsInitialScanDone bool       `json:"isInitialScanDone" gorm:"default:false"`
	LastScannedAt     *time.Time `json:"lastScannedAt"`
}

func (Repository) TableName() string {
	return "repositories"
}
