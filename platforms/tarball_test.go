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
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTarball(t *testing.T, entries map[string]string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return &buf
}

func TestExtractTarball(t *testing.T) {
	t.Run("should strip the synthetic root directory", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "tree")
		archive := buildTarball(t, map[string]string{
			"acme-shop-abc123/app/db.py": "import sqlite3\n",
			"acme-shop-abc123/README.md": "# shop\n",
		})

		require.NoError(t, extractTarball(archive, target))

		content, err := os.ReadFile(filepath.Join(target, "app", "db.py"))
		require.NoError(t, err)
		assert.Equal(t, "import sqlite3\n", string(content))

		_, err = os.Stat(filepath.Join(target, "acme-shop-abc123"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("should reject entries escaping the target dir", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "tree")
		archive := buildTarball(t, map[string]string{
			"root/../../evil.py": "print('pwned')\n",
		})

		err := extractTarball(archive, target)
		assert.Error(t, err)

		// the partial output is cleaned up
		_, statErr := os.Stat(target)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("should fail on a non-gzip stream", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "tree")

		err := extractTarball(bytes.NewReader([]byte("plain text")), target)
		assert.Error(t, err)
	})
}

func TestStripRootDir(t *testing.T) {
	assert.Equal(t, "app/db.py", stripRootDir("acme-shop-abc123/app/db.py"))
	assert.Equal(t, "app/db.py", stripRootDir("./acme-shop-abc123/app/db.py"))
	assert.Equal(t, "", stripRootDir("acme-shop-abc123"))
	assert.Equal(t, "", stripRootDir("acme-shop-abc123/"))
}
