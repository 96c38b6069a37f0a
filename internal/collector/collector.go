// Package collector pulls news from external sources on a schedule and
// feeds the items through the ingestion pipeline.
package collector

import (
	"context"
	"time"

	"github.com/sawpanic/marketfeed/internal/news"
)

// Source produces normalized news items published after the given cursor.
type Source interface {
	Name() string
	Collect(ctx context.Context, since time.Time) ([]news.Item, error)
}

// Stats accumulates over the process lifetime, not across restarts.
type Stats struct {
	TotalRuns      int `json:"totalRuns"`
	SuccessfulRuns int `json:"successfulRuns"`
	FailedRuns     int `json:"failedRuns"`
	ItemsCollected int `json:"itemsCollected"`
}

// Status is the per-collector health snapshot served by the status endpoint.
type Status struct {
	Collector     string     `json:"collector"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	IsRunning     bool       `json:"isRunning"`
	NextRunAt     *time.Time `json:"nextRunAt,omitempty"`
	Stats         Stats      `json:"stats"`
}
