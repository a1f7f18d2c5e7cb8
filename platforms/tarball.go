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
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// extractTarball unpacks a gzipped tarball into targetDir. Every platform
// wraps the archive in a synthetic top level directory ("owner-repo-sha/"),
// which is stripped so the extracted tree matches the repository layout.
// On any error the partially written output is removed.
func extractTarball(r io.Reader, targetDir string) error {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return errors.Wrap(err, "could not create target dir")
	}

	err := untar(r, targetDir)
	if err != nil {
		// do not leave half an archive behind
		os.RemoveAll(targetDir)
		return err
	}
	return nil
}

func untar(r io.Reader, targetDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "could not open gzip stream")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "could not read tar entry")
		}

		rel := stripRootDir(header.Name)
		if rel == "" {
			continue
		}

		dest := filepath.Join(targetDir, filepath.FromSlash(rel))
		// reject entries escaping the target dir
		if !strings.HasPrefix(dest, filepath.Clean(targetDir)+string(os.PathSeparator)) {
			return errors.Errorf("tar entry %q escapes target dir", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return errors.Wrap(err, "could not create dir")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return errors.Wrap(err, "could not create parent dir")
			}
			f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)&0o777)
			if err != nil {
				return errors.Wrap(err, "could not create file")
			}
			if _, err := io.Copy(f, tr); err != nil { // nolint:gosec // scan trees are size bounded by the platform
				f.Close()
				return errors.Wrap(err, "could not write file")
			}
			f.Close()
		default:
			// symlinks and the like are skipped, the scanner only reads
			// regular files
		}
	}
}

// stripRootDir removes the first path element of a tar entry name.
func stripRootDir(name string) string {
	name = strings.TrimPrefix(name, "./")
	idx := strings.Index(name, "/")
	if idx < 0 {
		return ""
	}
	return strings.TrimPrefix(name[idx+1:], "/")
}
