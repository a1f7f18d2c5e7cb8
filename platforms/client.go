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

// Package platforms contains the API adapters for the supported git
// hosting platforms. All three adapters expose the same capability set
// behind the Client interface; the factory dispatches on the repository's
// platform column.
package platforms

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrFetchFailed marks a failed snapshot or content download.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrPlatformTransient marks 5xx responses, timeouts and connection
	// errors. Callers may retry.
	ErrPlatformTransient = errors.New("transient platform error")
	// ErrPlatformFatal marks 4xx responses other than rate limiting.
	// Never retried.
	ErrPlatformFatal = errors.New("fatal platform error")
)

const (
	// requestTimeout bounds every API call except snapshot downloads.
	requestTimeout = 30 * time.Second
	// snapshotTimeout bounds tarball downloads.
	snapshotTimeout = 120 * time.Second
)

// RepoRecord is the uniform repository listing entry returned by every
// platform adapter.
type RepoRecord struct {
	PlatformRepoID string `json:"platformRepoId"`
	FullName       string `json:"fullName"`
	DefaultBranch  string `json:"defaultBranch"`
	Language       string `json:"language"`
	Private        bool   `json:"private"`
}

// FileContent is the decoded content of a single file plus the blob
// identifier the platform needs to commit on top of it.
type FileContent struct {
	Content string
	SHA     string
}

// PullRequestRef identifies a created pull request.
type PullRequestRef struct {
	Number int
	URL    string
}

// Client is the uniform capability set of a platform adapter.
type Client interface {
	// ValidateCredentials returns false instead of an error on auth failures.
	ValidateCredentials(ctx context.Context) (bool, error)
	ListRepositories(ctx context.Context) ([]RepoRecord, error)
	// DownloadSnapshot fetches the tarball for ref and extracts it into
	// targetDir with the synthetic top level directory stripped. Partial
	// output is removed on failure.
	DownloadSnapshot(ctx context.Context, fullName, ref, targetDir string) error
	GetChangedFiles(ctx context.Context, fullName string, prNumber int) ([]string, error)
	GetFileContent(ctx context.Context, fullName, path, ref string) (FileContent, error)
	GetBranchSHA(ctx context.Context, fullName, branch string) (string, error)
	// CreateBranch is idempotent: an already existing branch is deleted
	// and recreated at baseSHA.
	CreateBranch(ctx context.Context, fullName, name, baseSHA string) error
	CreateFileCommit(ctx context.Context, fullName, branch, path, content, message, fileSHA string) error
	// CreatePullRequest opens the PR and best-effort attaches the labels;
	// label failures are logged, not returned.
	CreatePullRequest(ctx context.Context, fullName, head, base, title, body string, labels []string) (PullRequestRef, error)
	RegisterWebhook(ctx context.Context, fullName, url, secret string, events []string) error
}
