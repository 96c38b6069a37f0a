package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/marketfeed/internal/news"
	"github.com/sawpanic/marketfeed/internal/storage"
)

// Runner executes one collector end to end: cursor lookup, collection
// behind a circuit breaker, pipeline ingestion, cursor advance and run
// bookkeeping. Overlapping runs are skipped.
type Runner struct {
	src    Source
	pipe   *news.Pipeline
	ingest storage.IngestionRepo
	cb     *gobreaker.CircuitBreaker

	// Metrics receives per-run outcomes when set.
	Metrics RunRecorder

	mu     sync.Mutex
	status Status
}

// RunRecorder is the metrics sink for collector runs.
type RunRecorder interface {
	RecordCollectorRun(collector string, err error, items int)
}

// NewRunner wires a source to the pipeline and the ingestion bookkeeping.
func NewRunner(src Source, pipe *news.Pipeline, ingest storage.IngestionRepo) *Runner {
	st := gobreaker.Settings{Name: src.Name()}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}
	return &Runner{
		src:    src,
		pipe:   pipe,
		ingest: ingest,
		cb:     gobreaker.NewCircuitBreaker(st),
		status: Status{Collector: src.Name()},
	}
}

// Run performs one collection cycle. It never returns an error; failures
// are recorded in the status snapshot and the run history.
func (r *Runner) Run(ctx context.Context) {
	r.mu.Lock()
	if r.status.IsRunning {
		r.mu.Unlock()
		log.Debug().Str("collector", r.src.Name()).Msg("previous run still active, skipping")
		return
	}
	now := time.Now()
	r.status.IsRunning = true
	r.status.LastRunAt = &now
	r.status.Stats.TotalRuns++
	r.mu.Unlock()

	collected, err := r.run(ctx)

	if r.Metrics != nil {
		r.Metrics.RecordCollectorRun(r.src.Name(), err, collected)
	}

	r.mu.Lock()
	r.status.IsRunning = false
	if err != nil {
		r.status.Stats.FailedRuns++
		r.status.LastError = err.Error()
	} else {
		r.status.Stats.SuccessfulRuns++
		t := time.Now()
		r.status.LastSuccessAt = &t
		r.status.LastError = ""
	}
	r.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("collector", r.src.Name()).Msg("collector run failed")
	}
}

func (r *Runner) run(ctx context.Context) (int, error) {
	name := r.src.Name()

	cursor, err := r.ingest.Cursor(ctx, name)
	if err != nil {
		// A lost cursor only means re-collecting items the pipeline
		// will dedup anyway.
		log.Warn().Err(err).Str("collector", name).Msg("cursor lookup failed, collecting from scratch")
		cursor = time.Time{}
	}

	runID, err := r.ingest.StartRun(ctx, name)
	if err != nil {
		log.Warn().Err(err).Str("collector", name).Msg("run bookkeeping unavailable")
		runID = 0
	}

	out, err := r.cb.Execute(func() (interface{}, error) {
		return r.src.Collect(ctx, cursor)
	})
	if err != nil {
		r.finish(ctx, runID, storage.RunStats{}, err)
		return 0, fmt.Errorf("collect %s: %w", name, err)
	}
	items := out.([]news.Item)

	res := r.pipe.Ingest(ctx, items)
	stats := storage.RunStats{
		Collected: len(items),
		Inserted:  res.Inserted,
		Updated:   res.Updated,
		Skipped:   res.Skipped,
		Errors:    res.Errors,
	}

	var newest time.Time
	for _, it := range items {
		if it.PublishedAt.After(newest) {
			newest = it.PublishedAt
		}
	}
	if newest.After(cursor) {
		if err := r.ingest.SetCursor(ctx, name, newest); err != nil {
			log.Warn().Err(err).Str("collector", name).Msg("cursor advance failed")
		}
	}

	r.finish(ctx, runID, stats, nil)

	r.mu.Lock()
	r.status.Stats.ItemsCollected += len(items)
	r.mu.Unlock()

	log.Info().
		Str("collector", name).
		Int("collected", stats.Collected).
		Int("inserted", stats.Inserted).
		Int("updated", stats.Updated).
		Int("skipped", stats.Skipped).
		Msg("collector run complete")
	return len(items), nil
}

func (r *Runner) finish(ctx context.Context, runID int64, stats storage.RunStats, runErr error) {
	if runID == 0 {
		return
	}
	if err := r.ingest.FinishRun(ctx, runID, stats, runErr); err != nil {
		log.Warn().Err(err).Str("collector", r.src.Name()).Msg("finish run failed")
	}
}

// Status returns a copy of the current snapshot.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Name reports the wrapped source's name.
func (r *Runner) Name() string { return r.src.Name() }
