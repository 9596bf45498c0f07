package database

import (
	"context"
	"database/sql"
	"time"
)

// PoolStats mirrors the parts of sql.DBStats the health endpoint reports.
type PoolStats struct {
	Open         int   `json:"open"`
	InUse        int   `json:"in_use"`
	Idle         int   `json:"idle"`
	MaxOpen      int   `json:"max_open"`
	WaitCount    int64 `json:"wait_count"`
	WaitDuration int64 `json:"wait_duration_ms"`
}

// HealthStatus is the database section of /health.
type HealthStatus struct {
	Status       string     `json:"status"`
	ResponseTime int64      `json:"response_time_ms"`
	Pool         *PoolStats `json:"pool,omitempty"`
}

// Health pings the database. The returned status is always non-nil so the
// caller can report it alongside the error.
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		return &HealthStatus{Status: "unhealthy", ResponseTime: time.Since(start).Milliseconds()}, err
	}

	s := db.Stats()
	return &HealthStatus{
		Status:       "healthy",
		ResponseTime: time.Since(start).Milliseconds(),
		Pool: &PoolStats{
			Open:         s.OpenConnections,
			InUse:        s.InUse,
			Idle:         s.Idle,
			MaxOpen:      s.MaxOpenConnections,
			WaitCount:    s.WaitCount,
			WaitDuration: s.WaitDuration.Milliseconds(),
		},
	}, nil
}
