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
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/vulnix-dev/vulnix/daemons"
	"github.com/vulnix-dev/vulnix/database"
	"github.com/vulnix-dev/vulnix/database/repositories"
	"github.com/vulnix-dev/vulnix/pubsub"
	"github.com/vulnix-dev/vulnix/services"
	"github.com/vulnix-dev/vulnix/shared"
	"go.uber.org/fx"

	_ "github.com/lib/pq"
)

var release string // Will be filled at build time

func main() {
	shared.LoadConfig() // nolint: errcheck
	shared.InitLogger()

	if os.Getenv("ERROR_TRACKING_DSN") != "" {
		initSentry()

		defer func() {
			if err := recover(); err != nil {
				sentry.CurrentHub().Recover(err)
				sentry.Flush(time.Second * 5)
			}
		}()
	}

	db, err := shared.DatabaseFactory()
	if err != nil {
		slog.Error(err.Error())
		panic(errors.New("Failed to setup database connection"))
	}

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
		fx.Provide(newWorkerBroker),
		repositories.Module,
		services.Module,
		daemons.Module,

		fx.Invoke(runScanWorker),
	).Run()
}

// newWorkerBroker builds a broker that also receives its own messages, so
// a single-process deployment still drains its own queue.
func newWorkerBroker(lc fx.Lifecycle) (pubsub.Broker, error) {
	broker, err := pubsub.NewPostgreSQLBroker(
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("POSTGRES_HOST"),
		os.Getenv("POSTGRES_PORT"),
		os.Getenv("POSTGRES_DB"),
	)
	if err != nil {
		return nil, err
	}
	broker.SetShouldReceiveOwnMessages(true)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return broker.Close()
		},
	})
	return broker, nil
}

func runScanWorker(lc fx.Lifecycle, worker *daemons.ScanWorker) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			slog.Info("starting scan worker")
			return worker.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return nil
		},
	})
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

		SendDefaultPII: false,
	})
	if err != nil {
		slog.Error("Failed to init logger", "err", err)
	}
}
