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

package repositories

import (
	"github.com/vulnix-dev/vulnix/shared"
	"go.uber.org/fx"
)

// Module provides all repository constructors as their interfaces
var Module = fx.Options(
	fx.Provide(fx.Annotate(NewRepositoryRepository, fx.As(new(shared.RepositoryRepository)))),
	fx.Provide(fx.Annotate(NewScanJobRepository, fx.As(new(shared.ScanJobRepository)))),
	fx.Provide(fx.Annotate(NewVulnerabilityRepository, fx.As(new(shared.VulnerabilityRepository)))),
	fx.Provide(fx.Annotate(NewPatchPRRepository, fx.As(new(shared.PatchPRRepository)))),
	fx.Provide(fx.Annotate(NewFalsePositivePatternRepository, fx.As(new(shared.FalsePositivePatternRepository)))),
	fx.Provide(fx.Annotate(NewFalsePositiveLogRepository, fx.As(new(shared.FalsePositiveLogRepository)))),
	fx.Provide(fx.Annotate(NewApiKeyRepository, fx.As(new(shared.ApiKeyRepository)))),
)
