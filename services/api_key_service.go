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
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/shared"
	"golang.org/x/crypto/bcrypt"
)

const apiKeyPrefixLen = 8

// CreatedApiKey carries the secret exactly once, at creation time. It
// is never retrievable afterwards.
type CreatedApiKey struct {
	Key       models.ApiKey
	PlainText string
}

// ApiKeyService issues and verifies the IDE/CI credentials.
type ApiKeyService struct {
	apiKeyRepository shared.ApiKeyRepository
}

func NewApiKeyService(apiKeyRepository shared.ApiKeyRepository) *ApiKeyService {
	return &ApiKeyService{apiKeyRepository: apiKeyRepository}
}

// CreateKey mints a new key for the team. The stored hash is bcrypt,
// the clear-text prefix only exists so users can tell keys apart.
func (s *ApiKeyService) CreateKey(teamID uuid.UUID, name, createdBy string, expiresInDays *int) (CreatedApiKey, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return CreatedApiKey{}, errors.Wrap(err, "could not generate key material")
	}
	plainText := "vx_" + base64.RawURLEncoding.EncodeToString(secret)

	hash, err := bcrypt.GenerateFromPassword([]byte(plainText), bcrypt.DefaultCost)
	if err != nil {
		return CreatedApiKey{}, errors.Wrap(err, "could not hash key")
	}

	var expiresAt *time.Time
	if expiresInDays != nil {
		t := time.Now().UTC().AddDate(0, 0, *expiresInDays)
		expiresAt = &t
	}

	key := models.ApiKey{
		TeamID:    teamID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: plainText[:apiKeyPrefixLen],
		ExpiresAt: expiresAt,
		IsActive:  true,
		CreatedBy: createdBy,
	}
	if err := s.apiKeyRepository.Create(nil, &key); err != nil {
		return CreatedApiKey{}, errors.Wrap(err, "could not persist api key")
	}

	return CreatedApiKey{Key: key, PlainText: plainText}, nil
}

// VerifyKey resolves a presented key to its ApiKey row. Expired and
// revoked keys fail verification.
func (s *ApiKeyService) VerifyKey(plainText string) (models.ApiKey, error) {
	if len(plainText) < apiKeyPrefixLen {
		return models.ApiKey{}, errors.New("malformed api key")
	}

	candidates, err := s.apiKeyRepository.FindActiveByPrefix(nil, plainText[:apiKeyPrefixLen])
	if err != nil {
		return models.ApiKey{}, errors.Wrap(err, "could not look up api key")
	}

	for _, candidate := range candidates {
		if candidate.IsExpired() {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(candidate.KeyHash), []byte(plainText)) == nil {
			now := time.Now()
			candidate.LastUsedAt = &now
			_ = s.apiKeyRepository.Save(nil, &candidate)
			return candidate, nil
		}
	}
	return models.ApiKey{}, errors.New("unknown api key")
}

// RevokeKey deactivates a key of the team. The team id guards against
// cross-team revocation.
func (s *ApiKeyService) RevokeKey(keyID, teamID uuid.UUID) error {
	key, err := s.apiKeyRepository.Read(keyID)
	if err != nil {
		return errors.Wrap(err, "could not read api key")
	}
	if key.TeamID != teamID {
		return errors.New("api key belongs to another team")
	}
	if !key.IsActive {
		return nil
	}
	key.IsActive = false
	return s.apiKeyRepository.Save(nil, &key)
}

// ListKeys returns the team's keys, hashes and all secrets excluded by
// the model's marshalling rules.
func (s *ApiKeyService) ListKeys(teamID uuid.UUID) ([]models.ApiKey, error) {
	return s.apiKeyRepository.ListByTeam(teamID)
}
