package collector

import (
	"context"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketfeed/internal/news"
	"github.com/sawpanic/marketfeed/internal/storage"
)

// Scheduler drives runners on cron schedules and serves their combined
// status snapshot.
type Scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	runners []*Runner
	entries map[string]cron.EntryID
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

// Add schedules a runner. spec accepts the standard five-field cron
// syntax and @every durations.
func (s *Scheduler) Add(spec string, r *Runner) error {
	id, err := s.cron.AddFunc(spec, func() {
		r.Run(context.Background())
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.runners = append(s.runners, r)
	s.entries[r.Name()] = id
	s.mu.Unlock()
	log.Info().Str("collector", r.Name()).Str("schedule", spec).Msg("collector scheduled")
	return nil
}

// AddFunc schedules an auxiliary job, such as the tagger symbol refresh.
func (s *Scheduler) AddFunc(spec string, fn func()) error {
	_, err := s.cron.AddFunc(spec, fn)
	return err
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling. The returned context is done once in-flight
// jobs complete.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// Statuses returns every runner's snapshot, sorted by collector name,
// with the next scheduled fire time filled in.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	runners := make([]*Runner, len(s.runners))
	copy(runners, s.runners)
	entries := make(map[string]cron.EntryID, len(s.entries))
	for k, v := range s.entries {
		entries[k] = v
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(runners))
	for _, r := range runners {
		st := r.Status()
		if id, ok := entries[r.Name()]; ok {
			if next := s.cron.Entry(id).Next; !next.IsZero() {
				st.NextRunAt = &next
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Collector < out[j].Collector })
	return out
}

// RefreshSymbolFilter narrows the tagger to symbols known to storage so
// that literal matches only attach tickers that exist.
func RefreshSymbolFilter(ctx context.Context, repo storage.NewsRepo, tagger *news.Tagger) {
	syms, err := repo.KnownSymbols(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("symbol filter refresh failed")
		return
	}
	if len(syms) > 0 {
		tagger.SetSymbolFilter(syms)
	}
}
