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

package platforms

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appPrivateKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

func TestNewGithubClient(t *testing.T) {
	t.Run("should read the private key material from the environment", func(t *testing.T) {
		t.Setenv("GITHUB_APP_ID", "777")
		t.Setenv("GITHUB_APP_PRIVATE_KEY", appPrivateKeyPEM(t))

		client, err := NewGithubClient(900001)

		require.NoError(t, err)
		assert.NotNil(t, client)
		assert.Equal(t, int64(900001), client.installationID)
	})

	t.Run("should reject key material that is not a PEM block", func(t *testing.T) {
		t.Setenv("GITHUB_APP_ID", "777")
		t.Setenv("GITHUB_APP_PRIVATE_KEY", "/etc/vulnix/github-app.pem")

		_, err := NewGithubClient(900002)
		assert.Error(t, err)
	})

	t.Run("should fail fast without a key", func(t *testing.T) {
		t.Setenv("GITHUB_APP_ID", "777")
		t.Setenv("GITHUB_APP_PRIVATE_KEY", "")

		_, err := NewGithubClient(900003)
		assert.Error(t, err)
	})

	t.Run("should fail without an app id", func(t *testing.T) {
		t.Setenv("GITHUB_APP_ID", "")
		t.Setenv("GITHUB_APP_PRIVATE_KEY", appPrivateKeyPEM(t))

		_, err := NewGithubClient(900004)
		assert.Error(t, err)
	})
}
