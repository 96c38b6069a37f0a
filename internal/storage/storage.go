// Package storage defines the persisted records and repository interfaces
// for news ingestion. Implementations live in storage/postgres.
package storage

import (
	"context"
	"time"

	"github.com/sawpanic/marketfeed/internal/news"
)

// NewsItem is one persisted news record. HashID is the stable public
// identifier derived from the canonical URL.
type NewsItem struct {
	ID          int64      `json:"-" db:"id"`
	HashID      string     `json:"id" db:"hash_id"`
	Source      string     `json:"source" db:"source"`
	SourceID    *string    `json:"sourceId,omitempty" db:"source_id"`
	Title       string     `json:"title" db:"title"`
	URL         string     `json:"url" db:"url"`
	PublishedAt time.Time  `json:"publishedAt" db:"published_at"`
	Language    *string    `json:"language,omitempty" db:"language"`
	Summary     *string    `json:"summary,omitempty" db:"summary"`
	Raw         []byte     `json:"-" db:"raw_json"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	Tickers     []string   `json:"tickers,omitempty" db:"-"`
	Tags        []string   `json:"tags,omitempty" db:"-"`
}

// Ticker is a persisted symbol row, write-once by symbol.
type Ticker struct {
	ID     int64  `db:"id"`
	Symbol string `db:"symbol"`
	Market string `db:"market"`
	Name   *string `db:"name"`
}

// RunStats is the JSON blob persisted with every ingestion run.
type RunStats struct {
	Collected int      `json:"collected"`
	Inserted  int      `json:"inserted"`
	Updated   int      `json:"updated"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

// NewsRepo persists news items and serves the read API. It also carries
// the pipeline's write surface.
type NewsRepo interface {
	news.Store

	List(ctx context.Context, category string, limit int) ([]NewsItem, error)
	GetByHashID(ctx context.Context, hashID string) (*NewsItem, error)
	KnownSymbols(ctx context.Context) ([]string, error)
	LatestItemAt(ctx context.Context, source string) (time.Time, error)
}

// IngestionRepo tracks per-source cursors and run history.
type IngestionRepo interface {
	Cursor(ctx context.Context, source string) (time.Time, error)
	SetCursor(ctx context.Context, source string, at time.Time) error
	StartRun(ctx context.Context, source string) (int64, error)
	FinishRun(ctx context.Context, runID int64, stats RunStats, runErr error) error
}

// Repository bundles every repo behind one handle.
type Repository struct {
	News      NewsRepo
	Ingestion IngestionRepo
}

// Pinger is the readiness probe surface.
type Pinger interface {
	PingContext(ctx context.Context) error
}
