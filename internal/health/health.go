// Package health reports process, storage and ingestion health for the
// liveness, readiness and status endpoints.
package health

import (
	"context"
	"time"

	"github.com/sawpanic/marketfeed/internal/circuit"
	"github.com/sawpanic/marketfeed/internal/collector"
	"github.com/sawpanic/marketfeed/internal/storage"
	"github.com/sawpanic/marketfeed/internal/stream"
)

const (
	// DefaultFreshness is how old the newest stored item may be before
	// news is reported stale.
	DefaultFreshness = 2 * time.Hour

	// DefaultReadinessBudget bounds the storage ping in the readiness
	// probe.
	DefaultReadinessBudget = 2 * time.Second
)

// Options carries the optional dependencies; nil fields disable the
// corresponding section of the report.
type Options struct {
	DB              storage.Pinger
	News            storage.NewsRepo
	Scheduler       *collector.Scheduler
	Breakers        *circuit.Manager
	Hubs            map[string]*stream.Hub
	Freshness       time.Duration
	ReadinessBudget time.Duration
}

type Checker struct {
	opts      Options
	startedAt time.Time
}

func NewChecker(opts Options) *Checker {
	if opts.Freshness <= 0 {
		opts.Freshness = DefaultFreshness
	}
	if opts.ReadinessBudget <= 0 {
		opts.ReadinessBudget = DefaultReadinessBudget
	}
	return &Checker{opts: opts, startedAt: time.Now()}
}

// Liveness reports that the process is up. Always healthy.
type Liveness struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

func (c *Checker) Liveness() Liveness {
	return Liveness{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(c.startedAt).Seconds()),
	}
}

// Readiness is healthy when storage answers a ping inside the latency
// budget. Without storage configured the process is trivially ready.
type Readiness struct {
	Status    string `json:"status"`
	Storage   string `json:"storage"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

func (c *Checker) Readiness(ctx context.Context) (Readiness, bool) {
	if c.opts.DB == nil {
		return Readiness{Status: "ok", Storage: "disabled"}, true
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.ReadinessBudget)
	defer cancel()

	start := time.Now()
	err := c.opts.DB.PingContext(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return Readiness{Status: "unavailable", Storage: "down", LatencyMs: latency, Error: err.Error()}, false
	}
	return Readiness{Status: "ok", Storage: "up", LatencyMs: latency}, true
}

// NewsFreshness reports whether the newest stored item is recent enough.
type NewsFreshness struct {
	Fresh        bool       `json:"fresh"`
	LatestItemAt *time.Time `json:"latestItemAt,omitempty"`
	ThresholdMs  int64      `json:"thresholdMs"`
	Error        string     `json:"error,omitempty"`
}

func (c *Checker) Freshness(ctx context.Context) NewsFreshness {
	out := NewsFreshness{ThresholdMs: c.opts.Freshness.Milliseconds()}
	if c.opts.News == nil {
		return out
	}
	at, err := c.opts.News.LatestItemAt(ctx, "")
	if err != nil {
		out.Error = err.Error()
		return out
	}
	if at.IsZero() {
		return out
	}
	out.LatestItemAt = &at
	out.Fresh = time.Since(at) <= c.opts.Freshness
	return out
}

// StreamStats is one hub's fan-out counters.
type StreamStats struct {
	Clients   int   `json:"clients"`
	Symbols   int   `json:"symbols"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

// Report is the full status payload.
type Report struct {
	Status     string                      `json:"status"`
	Readiness  Readiness                   `json:"readiness"`
	News       NewsFreshness               `json:"news"`
	Collectors []collector.Status          `json:"collectors,omitempty"`
	Breakers   map[string]circuit.Snapshot `json:"breakers,omitempty"`
	Streams    map[string]StreamStats      `json:"streams,omitempty"`
}

func (c *Checker) Report(ctx context.Context) Report {
	ready, ok := c.Readiness(ctx)
	rep := Report{
		Status:    "ok",
		Readiness: ready,
		News:      c.Freshness(ctx),
	}
	if !ok {
		rep.Status = "degraded"
	}
	if c.opts.Scheduler != nil {
		rep.Collectors = c.opts.Scheduler.Statuses()
	}
	if c.opts.Breakers != nil {
		rep.Breakers = c.opts.Breakers.Snapshots()
	}
	if len(c.opts.Hubs) > 0 {
		rep.Streams = make(map[string]StreamStats, len(c.opts.Hubs))
		for name, hub := range c.opts.Hubs {
			st := hub.Stats()
			rep.Streams[name] = StreamStats{
				Clients:   st.Clients,
				Symbols:   st.Symbols,
				Delivered: st.Delivered,
				Dropped:   st.Dropped,
			}
		}
	}
	return rep
}
