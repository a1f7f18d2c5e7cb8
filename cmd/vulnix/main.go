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

package main

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/vulnix-dev/vulnix/cmd/vulnix/api"
	"github.com/vulnix-dev/vulnix/controllers"
	"github.com/vulnix-dev/vulnix/database"
	"github.com/vulnix-dev/vulnix/database/repositories"
	"github.com/vulnix-dev/vulnix/pubsub"
	"github.com/vulnix-dev/vulnix/router"
	"github.com/vulnix-dev/vulnix/services"
	"github.com/vulnix-dev/vulnix/shared"
	"go.uber.org/fx"

	_ "github.com/lib/pq"
)

var release string // Will be filled at build time

//	@title			vulnix API
//	@version		v1
//	@description	vulnix API

//	@contact.name	Support
//	@contact.url	https://github.com/vulnix-dev/vulnix/issues

//	@license.name	AGPL-3
//	@license.url	https://github.com/vulnix-dev/vulnix/blob/main/LICENSE.txt

// @host		localhost:8080
// @BasePath	/api/v1
func main() {
	shared.LoadConfig() // nolint: errcheck
	shared.InitLogger()

	if os.Getenv("ERROR_TRACKING_DSN") != "" {
		initSentry()

		// Catch panics
		defer func() {
			if err := recover(); err != nil {
				sentry.CurrentHub().Recover(err)
				// Wait for events to be send to server
				sentry.Flush(time.Second * 5)
			}
		}()
	}

	// the pgx pool backs gorm and is exposed separately for the info endpoint
	pool := database.NewPgxConnPool(database.GetPoolConfigFromEnv())
	db := database.NewGormDB(pool)

	disableAutoMigrate := os.Getenv("DISABLE_AUTOMIGRATE")
	if disableAutoMigrate != "true" {
		slog.Info("running database migrations...")
		if err := database.RunMigrationsWithDB(db); err != nil {
			slog.Error("failed to run database migrations", "error", err)
			panic(errors.New("Failed to run database migrations"))
		}
	} else {
		slog.Info("automatic migrations disabled via DISABLE_AUTOMIGRATE=true")
	}

	fx.New(
		fx.Supply(db),
		fx.Supply(pool),
		fx.Provide(pubsub.BrokerFactory),
		fx.Provide(api.NewServer),
		repositories.Module,
		services.Module,
		controllers.Module,
		router.RouterModule,

		// we need to invoke all routers to register their routes
		fx.Invoke(func(apiV1Router router.APIV1Router) {}),
		fx.Invoke(func(webhookRouter router.WebhookRouter) {}),
		fx.Invoke(func(scanRouter router.ScanRouter) {}),
	).Run()
}

func initSentry() {
	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "dev"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         os.Getenv("ERROR_TRACKING_DSN"),
		Environment: environment,
		Release:     release,

		Debug: environment == "dev",

		AttachStacktrace: true,

		// If this flag is enabled, certain personally identifiable information (PII) is added by active integrations.
		// By default, no such data is sent.
		SendDefaultPII: false,
	})
	if err != nil {
		slog.Error("Failed to init logger", "err", err)
	}
}
