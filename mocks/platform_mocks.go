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

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/platforms"
)

type PlatformClient struct {
	mock.Mock
}

func NewPlatformClient(t testingT) *PlatformClient {
	m := &PlatformClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *PlatformClient) ValidateCredentials(ctx context.Context) (bool, error) {
	ret := m.Called(ctx)
	return ret.Bool(0), ret.Error(1)
}

func (m *PlatformClient) ListRepositories(ctx context.Context) ([]platforms.RepoRecord, error) {
	ret := m.Called(ctx)
	var r0 []platforms.RepoRecord
	if v, ok := ret.Get(0).([]platforms.RepoRecord); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *PlatformClient) DownloadSnapshot(ctx context.Context, fullName, ref, targetDir string) error {
	return m.Called(ctx, fullName, ref, targetDir).Error(0)
}

func (m *PlatformClient) GetChangedFiles(ctx context.Context, fullName string, prNumber int) ([]string, error) {
	ret := m.Called(ctx, fullName, prNumber)
	var r0 []string
	if v, ok := ret.Get(0).([]string); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *PlatformClient) GetFileContent(ctx context.Context, fullName, path, ref string) (platforms.FileContent, error) {
	ret := m.Called(ctx, fullName, path, ref)
	var r0 platforms.FileContent
	if v, ok := ret.Get(0).(platforms.FileContent); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *PlatformClient) GetBranchSHA(ctx context.Context, fullName, branch string) (string, error) {
	ret := m.Called(ctx, fullName, branch)
	return ret.String(0), ret.Error(1)
}

func (m *PlatformClient) CreateBranch(ctx context.Context, fullName, name, baseSHA string) error {
	return m.Called(ctx, fullName, name, baseSHA).Error(0)
}

func (m *PlatformClient) CreateFileCommit(ctx context.Context, fullName, branch, path, content, message, fileSHA string) error {
	return m.Called(ctx, fullName, branch, path, content, message, fileSHA).Error(0)
}

func (m *PlatformClient) CreatePullRequest(ctx context.Context, fullName, head, base, title, body string, labels []string) (platforms.PullRequestRef, error) {
	ret := m.Called(ctx, fullName, head, base, title, body, labels)
	var r0 platforms.PullRequestRef
	if v, ok := ret.Get(0).(platforms.PullRequestRef); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}

func (m *PlatformClient) RegisterWebhook(ctx context.Context, fullName, url, secret string, events []string) error {
	return m.Called(ctx, fullName, url, secret, events).Error(0)
}

type PlatformClientFactory struct {
	mock.Mock
}

func NewPlatformClientFactory(t testingT) *PlatformClientFactory {
	m := &PlatformClientFactory{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *PlatformClientFactory) ForRepository(repository models.Repository) (platforms.Client, error) {
	ret := m.Called(repository)
	var r0 platforms.Client
	if v, ok := ret.Get(0).(platforms.Client); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}
