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

package services

import (
	"github.com/vulnix-dev/vulnix/platforms"
	"github.com/vulnix-dev/vulnix/shared"
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(shared.TokenCryptoFactory),
	fx.Provide(
		fx.Annotate(
			platforms.NewFactory,
			fx.As(new(PlatformClientFactory)),
		),
	),
	fx.Provide(NewSemgrepEngine),
	fx.Provide(NewLLMAgent),
	fx.Provide(NewFalsePositiveService),
	fx.Provide(NewPatchGenerator),
	fx.Provide(NewScanOrchestrator),
	fx.Provide(NewWebhookService),
	fx.Provide(NewApiKeyService),
	fx.Provide(NewRepositoryService),
)
