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

package middlewares

import (
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// ipRateLimiter hands out one token bucket per remote IP. Stale buckets
// stay in the map, webhook senders are a small fixed population.
type ipRateLimiter struct {
	mut      sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func (l *ipRateLimiter) get(ip string) *rate.Limiter {
	l.mut.Lock()
	defer l.mut.Unlock()
	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = limiter
	}
	return limiter
}

// RateLimit rejects callers that exceed perSecond sustained requests
// with the given burst headroom. Used in front of the webhook ingress.
func RateLimit(perSecond float64, burst int) echo.MiddlewareFunc {
	limiter := &ipRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if !limiter.get(ctx.RealIP()).Allow() {
				return ctx.JSON(429, map[string]string{"error": "rate limit exceeded"})
			}
			return next(ctx)
		}
	}
}
