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

package shared

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"os"

	"github.com/pkg/errors"
)

// TokenCrypto encrypts platform credentials (GitLab PATs, Bitbucket app
// passwords) at rest with AES-256-GCM. The key is derived from
// TOKEN_ENCRYPTION_KEY, so rotating the env var invalidates every stored
// credential.
type TokenCrypto struct {
	key [32]byte
}

func NewTokenCrypto(secret string) (TokenCrypto, error) {
	if secret == "" {
		return TokenCrypto{}, errors.New("token encryption secret must not be empty")
	}
	return TokenCrypto{key: sha256.Sum256([]byte(secret))}, nil
}

func TokenCryptoFactory() (TokenCrypto, error) {
	return NewTokenCrypto(os.Getenv("TOKEN_ENCRYPTION_KEY"))
}

func (t TokenCrypto) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(t.key[:])
	if err != nil {
		return "", errors.Wrap(err, "could not create cipher")
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "could not create gcm")
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "could not read nonce")
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (t TokenCrypto) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.Wrap(err, "could not decode ciphertext")
	}

	block, err := aes.NewCipher(t.key[:])
	if err != nil {
		return "", errors.Wrap(err, "could not create cipher")
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "could not create gcm")
	}

	if len(raw) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.Wrap(err, "could not decrypt token")
	}

	return string(plaintext), nil
}
