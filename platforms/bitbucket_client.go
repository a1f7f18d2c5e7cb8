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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const bitbucketAPIBase = "https://api.bitbucket.org/2.0"

// bitbucketClient is a thin adapter over the Bitbucket Cloud REST 2.0 API.
// There is no maintained Go SDK for it, so the few endpoints the pipeline
// needs are called directly. Auth is HTTP Basic with username and app
// password; list endpoints paginate through the `next` URL in the body.
type bitbucketClient struct {
	username    string
	appPassword string
	httpClient  *http.Client
	// downloadClient carries the longer snapshot timeout.
	downloadClient *http.Client
}

func NewBitbucketClient(username, appPassword string) *bitbucketClient {
	return &bitbucketClient{
		username:       username,
		appPassword:    appPassword,
		httpClient:     &http.Client{Timeout: requestTimeout},
		downloadClient: &http.Client{Timeout: snapshotTimeout},
	}
}

func (client *bitbucketClient) do(ctx context.Context, method, rawURL string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, errors.Wrap(err, "could not build bitbucket request")
	}
	req.SetBasicAuth(client.username, client.appPassword)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	res, err := client.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrPlatformTransient, "bitbucket request failed: %v", err)
	}
	return res, nil
}

func wrapBitbucketStatus(res *http.Response) error {
	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return nil
	case res.StatusCode >= 500:
		return errors.Wrapf(ErrPlatformTransient, "bitbucket responded with %d", res.StatusCode)
	default:
		return errors.Wrapf(ErrPlatformFatal, "bitbucket responded with %d", res.StatusCode)
	}
}

func (client *bitbucketClient) getJSON(ctx context.Context, rawURL string, out any) error {
	res, err := client.do(ctx, http.MethodGet, rawURL, nil, "")
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := wrapBitbucketStatus(res); err != nil {
		return err
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (client *bitbucketClient) postJSON(ctx context.Context, rawURL string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "could not marshal payload")
	}

	res, err := client.do(ctx, http.MethodPost, rawURL, bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := wrapBitbucketStatus(res); err != nil {
		return err
	}
	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}

type bitbucketPage[T any] struct {
	Values []T    `json:"values"`
	Next   string `json:"next"`
}

// collectPages follows the body-level `next` URLs until the listing is
// exhausted.
func collectPages[T any](ctx context.Context, client *bitbucketClient, rawURL string) ([]T, error) {
	var all []T
	for rawURL != "" {
		var page bitbucketPage[T]
		if err := client.getJSON(ctx, rawURL, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Values...)
		rawURL = page.Next
	}
	return all, nil
}

func (client *bitbucketClient) ValidateCredentials(ctx context.Context) (bool, error) {
	res, err := client.do(ctx, http.MethodGet, bitbucketAPIBase+"/user", nil, "")
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return false, nil
	}
	if err := wrapBitbucketStatus(res); err != nil {
		return false, err
	}
	return true, nil
}

func (client *bitbucketClient) ListRepositories(ctx context.Context) ([]RepoRecord, error) {
	type bbRepo struct {
		UUID       string `json:"uuid"`
		FullName   string `json:"full_name"`
		Language   string `json:"language"`
		IsPrivate  bool   `json:"is_private"`
		MainBranch struct {
			Name string `json:"name"`
		} `json:"mainbranch"`
	}

	repos, err := collectPages[bbRepo](ctx, client, bitbucketAPIBase+"/repositories?role=member&pagelen=100")
	if err != nil {
		return nil, err
	}

	records := make([]RepoRecord, 0, len(repos))
	for _, r := range repos {
		defaultBranch := r.MainBranch.Name
		if defaultBranch == "" {
			defaultBranch = "main"
		}
		records = append(records, RepoRecord{
			PlatformRepoID: r.UUID,
			FullName:       r.FullName,
			DefaultBranch:  defaultBranch,
			Language:       r.Language,
			Private:        r.IsPrivate,
		})
	}
	return records, nil
}

func (client *bitbucketClient) DownloadSnapshot(ctx context.Context, fullName, ref, targetDir string) error {
	// the tarball endpoint lives on bitbucket.org, not the API host
	rawURL := fmt.Sprintf("https://bitbucket.org/%s/get/%s.tar.gz", fullName, url.PathEscape(ref))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errors.Wrap(err, "could not build archive request")
	}
	req.SetBasicAuth(client.username, client.appPassword)

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

func (client *bitbucketClient) GetChangedFiles(ctx context.Context, fullName string, prNumber int) ([]string, error) {
	type diffStat struct {
		New struct {
			Path string `json:"path"`
		} `json:"new"`
		Old struct {
			Path string `json:"path"`
		} `json:"old"`
	}

	rawURL := fmt.Sprintf("%s/repositories/%s/pullrequests/%d/diffstat?pagelen=100", bitbucketAPIBase, fullName, prNumber)
	stats, err := collectPages[diffStat](ctx, client, rawURL)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(stats))
	for _, s := range stats {
		path := s.New.Path
		if path == "" {
			path = s.Old.Path
		}
		if path != "" {
			files = append(files, path)
		}
	}
	return files, nil
}

func (client *bitbucketClient) GetFileContent(ctx context.Context, fullName, path, ref string) (FileContent, error) {
	rawURL := fmt.Sprintf("%s/repositories/%s/src/%s/%s", bitbucketAPIBase, fullName, url.PathEscape(ref), path)

	res, err := client.do(ctx, http.MethodGet, rawURL, nil, "")
	if err != nil {
		return FileContent{}, err
	}
	defer res.Body.Close()

	if err := wrapBitbucketStatus(res); err != nil {
		return FileContent{}, err
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return FileContent{}, errors.Wrap(err, "could not read file content")
	}

	// the src endpoint serves raw file bytes; the commit endpoint does not
	// take a blob id, so none is returned
	return FileContent{Content: string(raw)}, nil
}

func (client *bitbucketClient) GetBranchSHA(ctx context.Context, fullName, branch string) (string, error) {
	var ref struct {
		Target struct {
			Hash string `json:"hash"`
		} `json:"target"`
	}

	rawURL := fmt.Sprintf("%s/repositories/%s/refs/branches/%s", bitbucketAPIBase, fullName, url.PathEscape(branch))
	if err := client.getJSON(ctx, rawURL, &ref); err != nil {
		return "", err
	}
	return ref.Target.Hash, nil
}

func (client *bitbucketClient) CreateBranch(ctx context.Context, fullName, name, baseSHA string) error {
	rawURL := fmt.Sprintf("%s/repositories/%s/refs/branches", bitbucketAPIBase, fullName)
	payload := map[string]any{
		"name":   name,
		"target": map[string]any{"hash": baseSHA},
	}

	err := client.postJSON(ctx, rawURL, payload, nil)
	if err == nil {
		return nil
	}

	// an existing branch answers 400 - delete and recreate
	if errors.Is(err, ErrPlatformFatal) {
		slog.Info("branch already exists, recreating", "branch", name, "repo", fullName)
		deleteURL := fmt.Sprintf("%s/repositories/%s/refs/branches/%s", bitbucketAPIBase, fullName, url.PathEscape(name))
		res, derr := client.do(ctx, http.MethodDelete, deleteURL, nil, "")
		if derr != nil {
			return derr
		}
		res.Body.Close()
		if serr := wrapBitbucketStatus(res); serr != nil {
			return serr
		}
		return client.postJSON(ctx, rawURL, payload, nil)
	}

	return err
}

func (client *bitbucketClient) CreateFileCommit(ctx context.Context, fullName, branch, path, content, message, fileSHA string) error {
	// the src endpoint takes form data: one field per file path plus
	// branch and message
	form := url.Values{}
	form.Set(path, content)
	form.Set("branch", branch)
	form.Set("message", message)

	rawURL := fmt.Sprintf("%s/repositories/%s/src", bitbucketAPIBase, fullName)
	res, err := client.do(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return wrapBitbucketStatus(res)
}

func (client *bitbucketClient) CreatePullRequest(ctx context.Context, fullName, head, base, title, body string, labels []string) (PullRequestRef, error) {
	var created struct {
		ID    int `json:"id"`
		Links struct {
			HTML struct {
				Href string `json:"href"`
			} `json:"html"`
		} `json:"links"`
	}

	payload := map[string]any{
		"title":       title,
		"description": body,
		"source":      map[string]any{"branch": map[string]any{"name": head}},
		"destination": map[string]any{"branch": map[string]any{"name": base}},
	}

	rawURL := fmt.Sprintf("%s/repositories/%s/pullrequests", bitbucketAPIBase, fullName)
	if err := client.postJSON(ctx, rawURL, payload, &created); err != nil {
		return PullRequestRef{}, err
	}

	if len(labels) > 0 {
		// Bitbucket Cloud has no PR label API; keep parity with the other
		// platforms by noting them instead of failing
		slog.Debug("bitbucket does not support pull request labels", "labels", labels)
	}

	return PullRequestRef{Number: created.ID, URL: created.Links.HTML.Href}, nil
}

func (client *bitbucketClient) RegisterWebhook(ctx context.Context, fullName, hookURL, secret string, events []string) error {
	payload := map[string]any{
		"description": "vulnix",
		"url":         hookURL,
		"active":      true,
		"events":      events,
		"secret":      secret,
	}

	rawURL := fmt.Sprintf("%s/repositories/%s/hooks", bitbucketAPIBase, fullName)
	return client.postJSON(ctx, rawURL, payload, nil)
}
