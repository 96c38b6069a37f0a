package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sawpanic/marketfeed/internal/apperr"
	"github.com/sawpanic/marketfeed/internal/cache"
	"github.com/sawpanic/marketfeed/internal/circuit"
	"github.com/sawpanic/marketfeed/internal/limiter"
	"github.com/sawpanic/marketfeed/internal/model"
	"github.com/sawpanic/marketfeed/internal/symbols"
)

// fakeExchange counts calls and serves scripted responses.
type fakeExchange struct {
	mu      sync.Mutex
	calls   int
	err     error
	price   float64
	blockCh chan struct{} // when set, GetTicker24h waits on it
}

func (f *fakeExchange) GetTicker24h(ctx context.Context, symbol string) (*model.Quote, error) {
	f.mu.Lock()
	f.calls++
	err, price, block := f.err, f.price, f.blockCh
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &model.Quote{
		Symbol:    symbol,
		Price:     price,
		Source:    "binance",
		FetchedAt: time.Now(),
	}, nil
}

func (f *fakeExchange) GetKlines(ctx context.Context, symbol string, iv symbols.Interval, limit int) ([]model.Candle, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	base := time.Unix(1718000000, 0)
	return []model.Candle{
		{Time: base, Open: 1, High: 2, Low: 1, Close: 2},
		{Time: base.Add(time.Minute), Open: 2, High: 3, Low: 2, Close: 3},
	}, nil
}

func (f *fakeExchange) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeExchange) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func newCryptoService(t *testing.T, f *fakeExchange, opts CryptoOptions) *CryptoService {
	t.Helper()
	if opts.Cache == nil {
		opts.Cache = cache.New(cache.Options{})
		t.Cleanup(opts.Cache.Stop)
	}
	if opts.Limiter == nil {
		opts.Limiter = limiter.New(4)
	}
	if opts.Breaker == nil {
		opts.Breaker = circuit.New(circuit.Config{Name: "test", FailureThreshold: 100, RecoveryTimeout: time.Minute})
	}
	return NewCryptoService(f, opts)
}

func TestQuoteAliasesShareOneCacheEntry(t *testing.T) {
	f := &fakeExchange{price: 43000}
	s := newCryptoService(t, f, CryptoOptions{})

	for _, raw := range []string{"BTC", "btc", "$BTC", "BTCUSDT", " btcusdt "} {
		q, err := s.Quote(context.Background(), raw)
		if err != nil {
			t.Fatalf("Quote(%q): %v", raw, err)
		}
		if q.Symbol != "BTCUSDT" {
			t.Errorf("Quote(%q) symbol = %s", raw, q.Symbol)
		}
	}
	if got := f.callCount(); got != 1 {
		t.Errorf("aliases should share one cache entry, upstream calls = %d", got)
	}
}

func TestQuoteCoalescesConcurrentMisses(t *testing.T) {
	f := &fakeExchange{price: 100, blockCh: make(chan struct{})}
	s := newCryptoService(t, f, CryptoOptions{})

	var wg sync.WaitGroup
	var failures atomic.Int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Quote(context.Background(), "ETH"); err != nil {
				failures.Add(1)
			}
		}()
	}
	// Let the goroutines pile onto the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(f.blockCh)
	wg.Wait()

	if failures.Load() != 0 {
		t.Fatalf("%d callers failed", failures.Load())
	}
	if got := f.callCount(); got != 1 {
		t.Errorf("concurrent misses should coalesce to one flight, upstream calls = %d", got)
	}
}

func TestQuoteStaleIfError(t *testing.T) {
	f := &fakeExchange{price: 180}
	s := newCryptoService(t, f, CryptoOptions{
		QuoteTTL:   30 * time.Millisecond,
		QuoteStale: 150 * time.Millisecond,
	})

	q, err := s.Quote(context.Background(), "AAPLUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if q.Stale || q.Price != 180 {
		t.Fatalf("fresh quote: stale=%v price=%v", q.Stale, q.Price)
	}

	// TTL passes and the upstream starts failing: the expired entry is
	// still inside the stale window.
	f.setErr(apperr.New(apperr.CodeProviderError, "upstream returned 500"))
	time.Sleep(60 * time.Millisecond)

	q, err = s.Quote(context.Background(), "AAPLUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if !q.Stale || q.Price != 180 {
		t.Errorf("expected stale 180, got stale=%v price=%v", q.Stale, q.Price)
	}

	// Past the stale window the error surfaces.
	time.Sleep(200 * time.Millisecond)
	_, err = s.Quote(context.Background(), "AAPLUSDT")
	if !apperr.Is(err, apperr.CodeProviderError) {
		t.Errorf("expected PROVIDER_ERROR past the stale window, got %v", err)
	}
}

func TestQuoteMockFallback(t *testing.T) {
	f := &fakeExchange{err: apperr.New(apperr.CodeNetworkError, "connection refused")}
	s := newCryptoService(t, f, CryptoOptions{MockFallback: true})

	q1, err := s.Quote(context.Background(), "BTC")
	if err != nil {
		t.Fatal(err)
	}
	if q1.Source != "mock" {
		t.Fatalf("source = %s", q1.Source)
	}
	q2, err := s.Quote(context.Background(), "BTC")
	if err != nil {
		t.Fatal(err)
	}
	if q1.Price != q2.Price {
		t.Errorf("mock prices must be deterministic: %v != %v", q1.Price, q2.Price)
	}
	if q1.PreviousClose == nil {
		t.Fatal("mock quote should carry previousClose")
	}
	if diff := q1.Change - (q1.Price - *q1.PreviousClose); diff > 1e-9 || diff < -1e-9 {
		t.Errorf("change invariant violated: %v", diff)
	}
}

func TestQuoteMockFallbackSkipsClientErrors(t *testing.T) {
	f := &fakeExchange{err: apperr.New(apperr.CodeSymbolNotFound, "unknown symbol")}
	s := newCryptoService(t, f, CryptoOptions{MockFallback: true})

	_, err := s.Quote(context.Background(), "NOPE")
	if !apperr.Is(err, apperr.CodeSymbolNotFound) {
		t.Errorf("not-found must surface, not be mocked away: %v", err)
	}
}

func TestQuoteInvalidSymbolRejectedBeforeUpstream(t *testing.T) {
	f := &fakeExchange{price: 1}
	s := newCryptoService(t, f, CryptoOptions{})

	_, err := s.Quote(context.Background(), "b t c")
	if !apperr.Is(err, apperr.CodeInvalidSymbol) {
		t.Fatalf("expected INVALID_SYMBOL, got %v", err)
	}
	if f.callCount() != 0 {
		t.Error("invalid symbols must not reach the upstream")
	}
}

func TestChartCachesPerIntervalAndRange(t *testing.T) {
	f := &fakeExchange{}
	s := newCryptoService(t, f, CryptoOptions{})

	ctx := context.Background()
	if _, err := s.Chart(ctx, "BTC", symbols.Interval1h, symbols.Range1d); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Chart(ctx, "BTC", symbols.Interval1h, symbols.Range1d); err != nil {
		t.Fatal(err)
	}
	if got := f.callCount(); got != 1 {
		t.Errorf("same interval+range should hit cache, upstream calls = %d", got)
	}
	if _, err := s.Chart(ctx, "BTC", symbols.Interval1d, symbols.Range1d); err != nil {
		t.Fatal(err)
	}
	if got := f.callCount(); got != 2 {
		t.Errorf("different interval is a different entry, upstream calls = %d", got)
	}
}

func TestChartEnvelope(t *testing.T) {
	f := &fakeExchange{}
	s := newCryptoService(t, f, CryptoOptions{})

	c, err := s.Chart(context.Background(), "ETH", symbols.Interval1m, symbols.Range1d)
	if err != nil {
		t.Fatal(err)
	}
	if c.Symbol != "ETHUSDT" || c.RequestedInterval != "1m" || c.ProviderInterval != "1m" {
		t.Errorf("envelope = %+v", c)
	}
	if c.FirstCandleTime == nil || c.LastCandleTime == nil {
		t.Fatal("first/last candle times should be set")
	}
	if !c.FirstCandleTime.Before(*c.LastCandleTime) {
		t.Error("candle time bounds out of order")
	}
}
