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

package router

// InfoResponse is the typed response returned by the /api/v1/info/ endpoint.
type InfoResponse struct {
	Process  ProcessInfo  `json:"process"`
	Runtime  RuntimeInfo  `json:"runtime"`
	Database DatabaseInfo `json:"database"`
}

// ProcessInfo holds process-level diagnostics
type ProcessInfo struct {
	PID           int    `json:"pid"`
	Hostname      string `json:"hostname,omitempty"`
	UptimeSeconds int    `json:"uptimeSeconds"`
}

// RuntimeInfo aggregates Go runtime diagnostics
type RuntimeInfo struct {
	GoVersion     string   `json:"goVersion,omitempty"`
	NumGoroutines int      `json:"numGoroutines,omitempty"`
	Mem           MemStats `json:"mem,omitempty"`
}

// MemStats focuses on a small, relevant subset of runtime.MemStats
type MemStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"totalAlloc"`
	Sys        uint64 `json:"sys"`
	HeapAlloc  uint64 `json:"heapAlloc"`
}

// PoolInfo exposes non-sensitive pool configuration. Passwords are
// intentionally omitted.
type PoolInfo struct {
	DBName          string `json:"dbName,omitempty"`
	MaxOpenConns    int32  `json:"maxOpenConns,omitempty"`
	ConnMaxLifetime string `json:"connMaxLifetime,omitempty"`
	ConnMaxIdleTime string `json:"connMaxIdleTime,omitempty"`

	TotalConns    int `json:"totalConns,omitempty"`
	IdleConns     int `json:"idleConns,omitempty"`
	AcquiredConns int `json:"acquiredConns,omitempty"`
	MaxConns      int `json:"maxConns,omitempty"`
}

// DatabaseInfo describes DB connectivity and migration metadata
type DatabaseInfo struct {
	Status             string    `json:"status"`
	Error              *string   `json:"error,omitempty"`
	OpenConnections    int       `json:"openConnections,omitempty"`
	InUse              int       `json:"inUse,omitempty"`
	Idle               int       `json:"idle,omitempty"`
	MaxOpenConnections int       `json:"maxOpenConnections,omitempty"`
	MigrationVersion   *uint     `json:"migrationVersion,omitempty"`
	MigrationDirty     *bool     `json:"migrationDirty,omitempty"`
	MigrationError     *string   `json:"migrationError,omitempty"`
	Pool               *PoolInfo `json:"pool,omitempty"`
}
