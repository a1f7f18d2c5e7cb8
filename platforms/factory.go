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
	"github.com/pkg/errors"
	"github.com/vulnix-dev/vulnix/database/models"
	"github.com/vulnix-dev/vulnix/shared"
)

// Factory hands out the right adapter for a repository, decrypting the
// stored credential material on the way.
type Factory struct {
	tokenCrypto shared.TokenCrypto
}

func NewFactory(tokenCrypto shared.TokenCrypto) *Factory {
	return &Factory{tokenCrypto: tokenCrypto}
}

// ForRepository dispatches on the repository's platform column.
func (f *Factory) ForRepository(repo models.Repository) (Client, error) {
	switch repo.Platform {
	case models.PlatformGithub:
		if repo.InstallationID == nil {
			return nil, errors.Errorf("github repository %s has no installation id", repo.FullName)
		}
		return NewGithubClient(*repo.InstallationID)

	case models.PlatformGitlab:
		token, err := f.tokenCrypto.Decrypt(repo.AccessTokenEnc)
		if err != nil {
			return nil, errors.Wrap(err, "could not decrypt gitlab token")
		}
		return NewGitlabClient(token, repo.PlatformBaseURL)

	case models.PlatformBitbucket:
		appPassword, err := f.tokenCrypto.Decrypt(repo.AccessTokenEnc)
		if err != nil {
			return nil, errors.Wrap(err, "could not decrypt bitbucket app password")
		}
		return NewBitbucketClient(repo.ExternalUsername, appPassword), nil

	default:
		return nil, errors.Errorf("unsupported platform %q", repo.Platform)
	}
}
