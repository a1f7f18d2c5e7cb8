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
	"bytes"
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/vulnix-dev/vulnix/utils"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

type gitlabClient struct {
	*gitlab.Client

	// project ids resolved from path-with-namespace lookups. GitLab keys
	// everything by the numeric id, the full name is only used once.
	projectIDs   map[string]int64
	projectIDMux sync.Mutex
}

// NewGitlabClient builds a client authenticated with a personal access
// token. baseURL may be empty for gitlab.com or point at a self managed
// instance.
func NewGitlabClient(token, baseURL string) (*gitlabClient, error) {
	opts := []gitlab.ClientOptionFunc{}
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(baseURL))
	}

	client, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "could not create gitlab client")
	}

	return &gitlabClient{
		Client:     client,
		projectIDs: make(map[string]int64),
	}, nil
}

func wrapGitlabError(err error, resp *gitlab.Response) error {
	if err == nil {
		return nil
	}
	if resp != nil {
		switch {
		case resp.StatusCode >= 500:
			return errors.Wrapf(ErrPlatformTransient, "gitlab responded with %d: %v", resp.StatusCode, err)
		case resp.StatusCode >= 400:
			return errors.Wrapf(ErrPlatformFatal, "gitlab responded with %d: %v", resp.StatusCode, err)
		}
	}
	return errors.Wrapf(ErrPlatformTransient, "gitlab request failed: %v", err)
}

// projectID resolves the numeric project id for a path with namespace.
func (client *gitlabClient) projectID(ctx context.Context, fullName string) (int64, error) {
	client.projectIDMux.Lock()
	id, ok := client.projectIDs[fullName]
	client.projectIDMux.Unlock()
	if ok {
		return id, nil
	}

	project, resp, err := client.Projects.GetProject(fullName, nil, gitlab.WithContext(ctx))
	if err != nil {
		return 0, wrapGitlabError(err, resp)
	}

	client.projectIDMux.Lock()
	client.projectIDs[fullName] = project.ID
	client.projectIDMux.Unlock()
	return project.ID, nil
}

func (client *gitlabClient) ValidateCredentials(ctx context.Context) (bool, error) {
	_, resp, err := client.Users.CurrentUser(gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return false, nil
		}
		return false, wrapGitlabError(err, resp)
	}
	return true, nil
}

func (client *gitlabClient) ListRepositories(ctx context.Context) ([]RepoRecord, error) {
	var projects []*gitlab.Project
	opts := &gitlab.ListProjectsOptions{
		Membership:  gitlab.Ptr(true),
		ListOptions: gitlab.ListOptions{Page: 1, PerPage: 100},
	}

	for {
		page, resp, err := client.Projects.ListProjects(opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, wrapGitlabError(err, resp)
		}
		projects = append(projects, page...)
		// client-go reads the x-next-page header into resp.NextPage
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return utils.Map(projects, func(el *gitlab.Project) RepoRecord {
		return RepoRecord{
			PlatformRepoID: strconv.FormatInt(el.ID, 10),
			FullName:       el.PathWithNamespace,
			DefaultBranch:  el.DefaultBranch,
			Private:        el.Visibility == gitlab.PrivateVisibility,
		}
	}), nil
}

func (client *gitlabClient) DownloadSnapshot(ctx context.Context, fullName, ref, targetDir string) error {
	pid, err := client.projectID(ctx, fullName)
	if err != nil {
		return errors.Wrapf(ErrFetchFailed, "could not resolve project: %v", err)
	}

	opts := &gitlab.ArchiveOptions{Format: gitlab.Ptr("tar.gz")}
	if ref != "" {
		opts.SHA = gitlab.Ptr(ref)
	}

	archive, resp, err := client.Repositories.Archive(pid, opts, gitlab.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(ErrFetchFailed, "archive download failed: %v", wrapGitlabError(err, resp))
	}

	return extractTarball(bytes.NewReader(archive), targetDir)
}

func (client *gitlabClient) GetChangedFiles(ctx context.Context, fullName string, prNumber int) ([]string, error) {
	pid, err := client.projectID(ctx, fullName)
	if err != nil {
		return nil, err
	}

	var files []string
	opts := &gitlab.ListMergeRequestDiffsOptions{ListOptions: gitlab.ListOptions{Page: 1, PerPage: 100}}
	for {
		diffs, resp, err := client.MergeRequests.ListMergeRequestDiffs(pid, int64(prNumber), opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, wrapGitlabError(err, resp)
		}
		for _, d := range diffs {
			files = append(files, d.NewPath)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return files, nil
}

func (client *gitlabClient) GetFileContent(ctx context.Context, fullName, path, ref string) (FileContent, error) {
	pid, err := client.projectID(ctx, fullName)
	if err != nil {
		return FileContent{}, err
	}

	file, resp, err := client.RepositoryFiles.GetFile(pid, path, &gitlab.GetFileOptions{Ref: gitlab.Ptr(ref)}, gitlab.WithContext(ctx))
	if err != nil {
		return FileContent{}, wrapGitlabError(err, resp)
	}

	content := file.Content
	if file.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(file.Content)
		if err != nil {
			return FileContent{}, errors.Wrap(err, "could not decode file content")
		}
		content = string(decoded)
	}

	return FileContent{Content: content, SHA: file.BlobID}, nil
}

func (client *gitlabClient) GetBranchSHA(ctx context.Context, fullName, branch string) (string, error) {
	pid, err := client.projectID(ctx, fullName)
	if err != nil {
		return "", err
	}

	b, resp, err := client.Branches.GetBranch(pid, branch, gitlab.WithContext(ctx))
	if err != nil {
		return "", wrapGitlabError(err, resp)
	}
	return b.Commit.ID, nil
}

func (client *gitlabClient) CreateBranch(ctx context.Context, fullName, name, baseSHA string) error {
	pid, err := client.projectID(ctx, fullName)
	if err != nil {
		return err
	}

	opts := &gitlab.CreateBranchOptions{Branch: gitlab.Ptr(name), Ref: gitlab.Ptr(baseSHA)}

	_, resp, err := client.Branches.CreateBranch(pid, opts, gitlab.WithContext(ctx))
	if err == nil {
		return nil
	}

	// GitLab answers 400 when the branch already exists
	if resp != nil && (resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusConflict) {
		slog.Info("branch already exists, recreating", "branch", name, "repo", fullName)
		if resp, err := client.Branches.DeleteBranch(pid, name, gitlab.WithContext(ctx)); err != nil {
			return wrapGitlabError(err, resp)
		}
		_, resp, err = client.Branches.CreateBranch(pid, opts, gitlab.WithContext(ctx))
		return wrapGitlabError(err, resp)
	}

	return wrapGitlabError(err, resp)
}

func (client *gitlabClient) CreateFileCommit(ctx context.Context, fullName, branch, path, content, message, fileSHA string) error {
	pid, err := client.projectID(ctx, fullName)
	if err != nil {
		return err
	}

	action := gitlab.FileUpdate
	if fileSHA == "" {
		action = gitlab.FileCreate
	}

	_, resp, err := client.Commits.CreateCommit(pid, &gitlab.CreateCommitOptions{
		Branch:        gitlab.Ptr(branch),
		CommitMessage: gitlab.Ptr(message),
		Actions: []*gitlab.CommitActionOptions{
			{
				Action:   gitlab.Ptr(action),
				FilePath: gitlab.Ptr(path),
				Content:  gitlab.Ptr(content),
			},
		},
	}, gitlab.WithContext(ctx))
	return wrapGitlabError(err, resp)
}

func (client *gitlabClient) CreatePullRequest(ctx context.Context, fullName, head, base, title, body string, labels []string) (PullRequestRef, error) {
	pid, err := client.projectID(ctx, fullName)
	if err != nil {
		return PullRequestRef{}, err
	}

	opts := &gitlab.CreateMergeRequestOptions{
		Title:        gitlab.Ptr(title),
		Description:  gitlab.Ptr(body),
		SourceBranch: gitlab.Ptr(head),
		TargetBranch: gitlab.Ptr(base),
	}
	if len(labels) > 0 {
		labelOpts := gitlab.LabelOptions(labels)
		opts.Labels = &labelOpts
	}

	mr, resp, err := client.MergeRequests.CreateMergeRequest(pid, opts, gitlab.WithContext(ctx))
	if err != nil {
		return PullRequestRef{}, wrapGitlabError(err, resp)
	}

	return PullRequestRef{Number: int(mr.IID), URL: mr.WebURL}, nil
}

func (client *gitlabClient) RegisterWebhook(ctx context.Context, fullName, url, secret string, events []string) error {
	pid, err := client.projectID(ctx, fullName)
	if err != nil {
		return err
	}

	opts := &gitlab.AddProjectHookOptions{
		URL:   gitlab.Ptr(url),
		Token: gitlab.Ptr(secret),
	}
	for _, event := range events {
		switch event {
		case "push":
			opts.PushEvents = gitlab.Ptr(true)
		case "merge_request":
			opts.MergeRequestsEvents = gitlab.Ptr(true)
		}
	}

	_, resp, err := client.Projects.AddProjectHook(pid, opts, gitlab.WithContext(ctx))
	return wrapGitlabError(err, resp)
}
