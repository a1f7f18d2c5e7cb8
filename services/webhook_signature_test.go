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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyHMACSignature(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	secret := "s3cret"

	t.Run("should accept a correctly signed body", func(t *testing.T) {
		assert.NoError(t, VerifyHMACSignature(body, sign(body, secret), secret))
	})

	t.Run("should reject a missing header", func(t *testing.T) {
		err := VerifyHMACSignature(body, "", secret)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("should reject a header without the sha256 prefix", func(t *testing.T) {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		err := VerifyHMACSignature(body, hex.EncodeToString(mac.Sum(nil)), secret)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("should reject a tampered body", func(t *testing.T) {
		err := VerifyHMACSignature([]byte(`{"ref":"refs/heads/evil"}`), sign(body, secret), secret)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("should reject a signature made with a different secret", func(t *testing.T) {
		err := VerifyHMACSignature(body, sign(body, "other"), secret)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})
}

func TestVerifySharedToken(t *testing.T) {
	t.Run("should accept the exact token", func(t *testing.T) {
		assert.NoError(t, VerifySharedToken("tok-1", "tok-1"))
	})

	t.Run("should reject a wrong token", func(t *testing.T) {
		assert.ErrorIs(t, VerifySharedToken("tok-2", "tok-1"), ErrSignatureInvalid)
	})

	t.Run("should reject an empty token", func(t *testing.T) {
		assert.ErrorIs(t, VerifySharedToken("", "tok-1"), ErrSignatureInvalid)
	})
}
