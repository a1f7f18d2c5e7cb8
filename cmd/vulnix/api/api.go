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

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vulnix-dev/vulnix/middlewares"
	"go.uber.org/fx"
)

// StartedAt is read by the info endpoint for uptime reporting.
var StartedAt = time.Now()

// Server wraps the echo instance the routers hang their groups off.
type Server struct {
	Echo *echo.Echo
}

// NewServer builds the echo server and binds its lifetime to the fx
// application.
func NewServer(lc fx.Lifecycle) Server {
	e := middlewares.Server()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("http server stopped", "err", err)
				}
			}()
			slog.Info("http server listening", "port", port)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})

	return Server{Echo: e}
}
