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

// ApiKey is an IDE/CI credential. Only the bcrypt hash of the secret is
// stored; the clear text is returned exactly once at creation time.
type ApiKey struct {
	Model
	TeamID uuid.UUID `json:"teamId" gorm:"type:uuid;not null;index"`
	Name   string    `json:"name" gorm:"type:text;not null"`

	KeyHash string `json:"-" gorm:"type:text;not null"`
	// KeyPrefix is the first characters of the secret, kept in clear for
	// display in key listings.
	KeyPrefix string `json:"keyPrefix" gorm:"type:text;not null;index"`

	ExpiresAt  *time.Time `json:"expiresAt"`
	IsActive   bool       `json:"isActive" gorm:"default:true"`
	CreatedBy  string     `json:"createdBy" gorm:"type:text"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
}

func (ApiKey) TableName() string {
	return "api_keys"
}

func (k ApiKey) IsExpired() bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now())
}
