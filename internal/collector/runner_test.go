package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sawpanic/marketfeed/internal/news"
	"github.com/sawpanic/marketfeed/internal/storage"
)

type fakeSource struct {
	mu    sync.Mutex
	name  string
	items []news.Item
	err   error
	calls int
	block chan struct{}
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Collect(ctx context.Context, since time.Time) ([]news.Item, error) {
	s.mu.Lock()
	s.calls++
	block := s.block
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	return s.items, s.err
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type finishedRun struct {
	id    int64
	stats storage.RunStats
	err   error
}

type fakeIngestion struct {
	mu       sync.Mutex
	cursors  map[string]time.Time
	nextRun  int64
	finished []finishedRun
}

func newFakeIngestion() *fakeIngestion {
	return &fakeIngestion{cursors: make(map[string]time.Time)}
}

func (f *fakeIngestion) Cursor(_ context.Context, source string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursors[source], nil
}

func (f *fakeIngestion) SetCursor(_ context.Context, source string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[source] = at
	return nil
}

func (f *fakeIngestion) StartRun(_ context.Context, source string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRun++
	return f.nextRun, nil
}

func (f *fakeIngestion) FinishRun(_ context.Context, runID int64, stats storage.RunStats, runErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, finishedRun{id: runID, stats: stats, err: runErr})
	return nil
}

type nullStore struct {
	mu       sync.Mutex
	inserted int
}

func (s *nullStore) ExistingURLs(context.Context, []string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (s *nullStore) InsertItems(_ context.Context, items []news.Item) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted += len(items)
	return len(items), nil
}

func (s *nullStore) UpdateRaw(context.Context, string, map[string]interface{}) error { return nil }

func (s *nullStore) ItemIDByURL(context.Context, string) (int64, error) { return 1, nil }

func (s *nullStore) AttachTicker(context.Context, int64, string, float64) (bool, error) {
	return false, nil
}

func (s *nullStore) AttachTag(context.Context, int64, string) (bool, error) { return false, nil }

func newTestRunner(src *fakeSource) (*Runner, *fakeIngestion, *nullStore) {
	store := &nullStore{}
	ingest := newFakeIngestion()
	pipe := news.NewPipeline(store, news.NewTagger(), 0)
	return NewRunner(src, pipe, ingest), ingest, store
}

func TestRunIngestsAndAdvancesCursor(t *testing.T) {
	t0 := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{name: "gdelt", items: []news.Item{
		{Source: "gdelt", Title: "older", URL: "https://example.com/a", PublishedAt: t0},
		{Source: "gdelt", Title: "newer", URL: "https://example.com/b", PublishedAt: t0.Add(time.Hour)},
	}}
	r, ingest, store := newTestRunner(src)

	r.Run(context.Background())

	if got := ingest.cursors["gdelt"]; !got.Equal(t0.Add(time.Hour)) {
		t.Errorf("cursor = %v, want %v", got, t0.Add(time.Hour))
	}
	if store.inserted != 2 {
		t.Errorf("inserted = %d", store.inserted)
	}
	if len(ingest.finished) != 1 {
		t.Fatalf("finished runs = %d", len(ingest.finished))
	}
	run := ingest.finished[0]
	if run.err != nil || run.stats.Collected != 2 || run.stats.Inserted != 2 {
		t.Errorf("run = %+v", run)
	}

	st := r.Status()
	if st.Stats.SuccessfulRuns != 1 || st.Stats.ItemsCollected != 2 || st.IsRunning {
		t.Errorf("status = %+v", st)
	}
	if st.LastSuccessAt == nil || st.LastRunAt == nil {
		t.Error("timestamps not recorded")
	}
}

func TestRunFailureKeepsCursorAndRecordsError(t *testing.T) {
	src := &fakeSource{name: "sec_rss", err: errors.New("feed unreachable")}
	r, ingest, _ := newTestRunner(src)
	ingest.cursors["sec_rss"] = time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

	r.Run(context.Background())

	if got := ingest.cursors["sec_rss"]; got.Hour() != 9 {
		t.Errorf("cursor moved to %v", got)
	}
	if len(ingest.finished) != 1 || ingest.finished[0].err == nil {
		t.Errorf("run history = %+v", ingest.finished)
	}
	st := r.Status()
	if st.Stats.FailedRuns != 1 || st.LastError == "" || st.LastSuccessAt != nil {
		t.Errorf("status = %+v", st)
	}
}

func TestBreakerStopsCallingAfterConsecutiveFailures(t *testing.T) {
	src := &fakeSource{name: "kap_rss", err: errors.New("down")}
	r, _, _ := newTestRunner(src)

	for i := 0; i < 4; i++ {
		r.Run(context.Background())
	}

	if got := src.callCount(); got != 3 {
		t.Errorf("source called %d times, want 3 before the breaker opens", got)
	}
	if st := r.Status(); st.Stats.FailedRuns != 4 {
		t.Errorf("failed runs = %d", st.Stats.FailedRuns)
	}
}

func TestRunSkipsWhileRunning(t *testing.T) {
	block := make(chan struct{})
	src := &fakeSource{name: "gdelt", block: block}
	r, _, _ := newTestRunner(src)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	for i := 0; i < 100; i++ {
		if r.Status().IsRunning {
			break
		}
		time.Sleep(time.Millisecond)
	}
	r.Run(context.Background())
	close(block)
	<-done

	if got := src.callCount(); got != 1 {
		t.Errorf("source called %d times, want 1", got)
	}
	if st := r.Status(); st.Stats.TotalRuns != 1 {
		t.Errorf("total runs = %d, want 1 (overlap skipped)", st.Stats.TotalRuns)
	}
}

func TestSuccessClearsLastError(t *testing.T) {
	src := &fakeSource{name: "gdelt", err: errors.New("flaky")}
	r, _, _ := newTestRunner(src)

	r.Run(context.Background())
	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()
	r.Run(context.Background())

	if st := r.Status(); st.LastError != "" {
		t.Errorf("lastError = %q, want cleared", st.LastError)
	}
}
