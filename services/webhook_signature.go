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
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// VerifyHMACSignature checks a "sha256=<hex>" header value against
// HMAC-SHA256(secret, body). Used for the GitHub and Bitbucket webhook
// signatures. The comparison is constant time.
func VerifyHMACSignature(body []byte, signatureHeader, secret string) error {
	if signatureHeader == "" {
		return errors.Wrap(ErrSignatureInvalid, "missing signature header")
	}
	if !strings.HasPrefix(signatureHeader, "sha256=") {
		return errors.Wrap(ErrSignatureInvalid, "unexpected signature format")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	provided := strings.TrimPrefix(signatureHeader, "sha256=")
	if subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
		return errors.Wrap(ErrSignatureInvalid, "signature mismatch")
	}
	return nil
}

// VerifySharedToken checks a plain shared-secret header, the GitLab
// convention. Constant time as well, token lengths are not secret but
// there is no reason to leak prefix matches.
func VerifySharedToken(token, secret string) error {
	if token == "" {
		return errors.Wrap(ErrSignatureInvalid, "missing token header")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return errors.Wrap(ErrSignatureInvalid, "token mismatch")
	}
	return nil
}
