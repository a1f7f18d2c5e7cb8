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
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v62/github"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/vulnix-dev/vulnix/utils"
)

// installation clients are cached process wide - the underlying
// ghinstallation transport refreshes its installation token on its own
// when less than the safety margin remains.
var githubClientCache = expirable.NewLRU[int64, *githubClient](64, nil, time.Hour)

type githubClient struct {
	*github.Client
	installationID int64
	// downloadClient carries the same transport but the longer snapshot timeout.
	downloadClient *http.Client
}

// NewGithubClient builds (or fetches from cache) the API client for a
// GitHub App installation. The App JWT is signed RS256 with the key from
// GITHUB_APP_PRIVATE_KEY and iss = GITHUB_APP_ID.
func NewGithubClient(installationID int64) (*githubClient, error) {
	if client, ok := githubClientCache.Get(installationID); ok {
		return client, nil
	}

	appID := os.Getenv("GITHUB_APP_ID")
	if appID == "" {
		return nil, errors.New("GITHUB_APP_ID is not set")
	}
	appIDInt, err := strconv.Atoi(appID)
	if err != nil {
		return nil, errors.Wrap(err, "GITHUB_APP_ID is not numeric")
	}

	privateKey := os.Getenv("GITHUB_APP_PRIVATE_KEY")
	if privateKey == "" {
		return nil, errors.New("GITHUB_APP_PRIVATE_KEY is not set")
	}

	// the env var holds the PEM itself, not a path to it
	itr, err := ghinstallation.New(http.DefaultTransport, int64(appIDInt), installationID, []byte(privateKey))
	if err != nil {
		return nil, errors.Wrap(err, "could not create github installation transport")
	}

	client := &githubClient{
		Client:         github.NewClient(&http.Client{Transport: itr, Timeout: requestTimeout}),
		installationID: installationID,
		downloadClient: &http.Client{Transport: itr, Timeout: snapshotTimeout},
	}

	githubClientCache.Add(installationID, client)
	return client, nil
}

func splitFullName(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Errorf("invalid repository full name %q", fullName)
	}
	return parts[0], parts[1], nil
}

// wrapGithubError maps a go-github error onto the shared platform error kinds.
func wrapGithubError(err error, resp *github.Response) error {
	if err == nil {
		return nil
	}
	if resp != nil {
		switch {
		case resp.StatusCode >= 500:
			return errors.Wrapf(ErrPlatformTransient, "github responded with %d: %v", resp.StatusCode, err)
		case resp.StatusCode >= 400:
			return errors.Wrapf(ErrPlatformFatal, "github responded with %d: %v", resp.StatusCode, err)
		}
	}
	return errors.Wrapf(ErrPlatformTransient, "github request failed: %v", err)
}

func (client *githubClient) ValidateCredentials(ctx context.Context) (bool, error) {
	_, resp, err := client.Apps.ListRepos(ctx, &github.ListOptions{PerPage: 1})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return false, nil
		}
		return false, wrapGithubError(err, resp)
	}
	return true, nil
}

func (client *githubClient) ListRepositories(ctx context.Context) ([]RepoRecord, error) {
	var repos []*github.Repository
	opts := &github.ListOptions{Page: 1, PerPage: 100}

	for {
		result, resp, err := client.Apps.ListRepos(ctx, opts)
		if err != nil {
			return nil, wrapGithubError(err, resp)
		}
		repos = append(repos, result.Repositories...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return utils.Map(repos, func(el *github.Repository) RepoRecord {
		return RepoRecord{
			PlatformRepoID: strconv.FormatInt(el.GetID(), 10),
			FullName:       el.GetFullName(),
			DefaultBranch:  el.GetDefaultBranch(),
			Language:       el.GetLanguage(),
			Private:        el.GetPrivate(),
		}
	}), nil
}

func (client *githubClient) DownloadSnapshot(ctx context.Context, fullName, ref, targetDir string) error {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return err
	}

	link, resp, err := client.Repositories.GetArchiveLink(ctx, owner, repo, github.Tarball, &github.RepositoryContentGetOptions{Ref: ref}, 3)
	if err != nil {
		return errors.Wrapf(ErrFetchFailed, "could not resolve archive link: %v", wrapGithubError(err, resp))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.String(), nil)
	if err != nil {
		return errors.Wrap(err, "could not build archive request")
	}

	res, err := client.downloadClient.Do(req)
	if err != nil {
		return errors.Wrapf(ErrFetchFailed, "archive download failed: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return errors.Wrapf(ErrFetchFailed, "archive download returned %d", res.StatusCode)
	}

	return extractTarball(res.Body, targetDir)
}

func (client *githubClient) GetChangedFiles(ctx context.Context, fullName string, prNumber int) ([]string, error) {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	var files []string
	opts := &github.ListOptions{Page: 1, PerPage: 100}
	for {
		commitFiles, resp, err := client.PullRequests.ListFiles(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return nil, wrapGithubError(err, resp)
		}
		for _, f := range commitFiles {
			files = append(files, f.GetFilename())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return files, nil
}

func (client *githubClient) GetFileContent(ctx context.Context, fullName, path, ref string) (FileContent, error) {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return FileContent{}, err
	}

	content, _, resp, err := client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return FileContent{}, wrapGithubError(err, resp)
	}
	if content == nil {
		return FileContent{}, errors.Wrapf(ErrPlatformFatal, "%s is not a file", path)
	}

	// go-github transparently handles the base64 transport encoding
	text, err := content.GetContent()
	if err != nil {
		return FileContent{}, errors.Wrap(err, "could not decode file content")
	}

	return FileContent{Content: text, SHA: content.GetSHA()}, nil
}

func (client *githubClient) GetBranchSHA(ctx context.Context, fullName, branch string) (string, error) {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return "", err
	}

	ref, resp, err := client.Git.GetRef(ctx, owner, repo, "refs/heads/"+branch)
	if err != nil {
		return "", wrapGithubError(err, resp)
	}
	return ref.GetObject().GetSHA(), nil
}

func (client *githubClient) CreateBranch(ctx context.Context, fullName, name, baseSHA string) error {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return err
	}

	ref := &github.Reference{
		Ref:    github.String("refs/heads/" + name),
		Object: &github.GitObject{SHA: github.String(baseSHA)},
	}

	_, resp, err := client.Git.CreateRef(ctx, owner, repo, ref)
	if err == nil {
		return nil
	}

	// 422 means the ref exists from an earlier attempt. Delete and
	// recreate so the branch ends up at the requested base.
	if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity {
		slog.Info("branch already exists, recreating", "branch", name, "repo", fullName)
		if _, err := client.Git.DeleteRef(ctx, owner, repo, "refs/heads/"+name); err != nil {
			return wrapGithubError(err, nil)
		}
		_, resp, err = client.Git.CreateRef(ctx, owner, repo, ref)
		return wrapGithubError(err, resp)
	}

	return wrapGithubError(err, resp)
}

func (client *githubClient) CreateFileCommit(ctx context.Context, fullName, branch, path, content, message, fileSHA string) error {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return err
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(content),
		Branch:  github.String(branch),
	}
	if fileSHA != "" {
		opts.SHA = github.String(fileSHA)
	}

	_, resp, err := client.Repositories.UpdateFile(ctx, owner, repo, path, opts)
	return wrapGithubError(err, resp)
}

func (client *githubClient) CreatePullRequest(ctx context.Context, fullName, head, base, title, body string, labels []string) (PullRequestRef, error) {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return PullRequestRef{}, err
	}

	pr, resp, err := client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(head),
		Base:  github.String(base),
		Body:  github.String(body),
	})
	if err != nil {
		return PullRequestRef{}, wrapGithubError(err, resp)
	}

	if len(labels) > 0 {
		if _, _, err := client.Issues.AddLabelsToIssue(ctx, owner, repo, pr.GetNumber(), labels); err != nil {
			// labels are cosmetic - never fail the PR over them
			slog.Warn("could not add labels to pull request", "repo", fullName, "pr", pr.GetNumber(), "err", err)
		}
	}

	return PullRequestRef{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

func (client *githubClient) RegisterWebhook(ctx context.Context, fullName, url, secret string, events []string) error {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return err
	}

	hook := &github.Hook{
		Active: github.Bool(true),
		Events: events,
		Config: &github.HookConfig{
			URL:         github.String(url),
			ContentType: github.String("json"),
			Secret:      github.String(secret),
		},
	}

	_, resp, err := client.Repositories.CreateHook(ctx, owner, repo, hook)
	if err != nil && resp != nil && resp.StatusCode == http.StatusUnprocessableEntity {
		// hook already exists - registration is idempotent
		return nil
	}
	return wrapGithubError(err, resp)
}
