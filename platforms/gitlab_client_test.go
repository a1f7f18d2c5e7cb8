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
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newGitlabTestClient spins up a fake GitLab API and returns a client
// pointed at it. The handler receives the unescaped request path.
func newGitlabTestClient(t *testing.T, handler http.HandlerFunc) *gitlabClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewGitlabClient("glpat-test", srv.URL)
	require.NoError(t, err)
	return client
}

func TestGitlabProjectIDCaching(t *testing.T) {
	var lookups int
	client := newGitlabTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v4/projects/acme/app" {
			lookups++
			fmt.Fprint(w, `{"id": 4242, "path_with_namespace": "acme/app"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	first, err := client.projectID(context.Background(), "acme/app")
	require.NoError(t, err)
	assert.Equal(t, int64(4242), first)

	second, err := client.projectID(context.Background(), "acme/app")
	require.NoError(t, err)
	assert.Equal(t, int64(4242), second)

	assert.Equal(t, 1, lookups, "second lookup should be served from the cache")
}

func TestGitlabListRepositories(t *testing.T) {
	client := newGitlabTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v4/projects" {
			fmt.Fprint(w, `[{"id": 4242, "path_with_namespace": "acme/app", "default_branch": "main", "visibility": "private"}]`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	repos, err := client.ListRepositories(context.Background())
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "4242", repos[0].PlatformRepoID)
	assert.Equal(t, "acme/app", repos[0].FullName)
	assert.True(t, repos[0].Private)
}

func TestGitlabMergeRequestRoundTrip(t *testing.T) {
	var diffRequests int
	client := newGitlabTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v4/projects/acme/app":
			fmt.Fprint(w, `{"id": 4242, "path_with_namespace": "acme/app"}`)
		case r.URL.Path == "/api/v4/projects/4242/merge_requests" && r.Method == http.MethodPost:
			fmt.Fprint(w, `{"iid": 7, "web_url": "https://gitlab.example.com/acme/app/-/merge_requests/7"}`)
		case r.URL.Path == "/api/v4/projects/4242/merge_requests/7/diffs":
			diffRequests++
			fmt.Fprint(w, `[{"new_path": "app/db.py"}, {"new_path": "app/auth.py"}]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	pr, err := client.CreatePullRequest(context.Background(), "acme/app", "vulnix/fix", "main", "fix", "body", []string{"security"})
	require.NoError(t, err)
	assert.Equal(t, 7, pr.Number)

	files, err := client.GetChangedFiles(context.Background(), "acme/app", pr.Number)
	require.NoError(t, err)
	assert.Equal(t, []string{"app/db.py", "app/auth.py"}, files)
	assert.Equal(t, 1, diffRequests)
}
