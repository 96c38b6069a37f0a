package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sawpanic/marketfeed/internal/apperr"
	"github.com/sawpanic/marketfeed/internal/cache"
	"github.com/sawpanic/marketfeed/internal/flight"
	"github.com/sawpanic/marketfeed/internal/limiter"
	"github.com/sawpanic/marketfeed/internal/model"
	"github.com/sawpanic/marketfeed/internal/symbols"
)

// Quoter is the per-symbol quote surface the batch service fans out to.
// CryptoService and MarketService both satisfy it.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (*model.Quote, error)
}

const (
	defaultChunkSize  = 15
	defaultMaxSymbols = 500
)

// BatchOptions tunes the batch service.
type BatchOptions struct {
	Cache *cache.TTLCache

	// Throttle gates chunk starts. Nil gets concurrency 2 with 300ms
	// between starts.
	Throttle *limiter.Throttled

	ChunkSize  int
	MaxSymbols int
	ScanTTL    time.Duration
	ScanStale  time.Duration
}

// BatchService fetches quotes for many symbols at once, in throttled
// chunks, returning partial results with per-symbol errors.
type BatchService struct {
	market  symbols.Market
	quoter  Quoter
	cache   *cache.TTLCache
	flights flight.Group
	limit   *limiter.Throttled

	chunkSize  int
	maxSymbols int
	scanTTL    time.Duration
	scanStale  time.Duration
}

// NewBatchService wires a batch service over a per-symbol quoter.
func NewBatchService(market symbols.Market, quoter Quoter, opts BatchOptions) *BatchService {
	s := &BatchService{
		market:     market,
		quoter:     quoter,
		cache:      opts.Cache,
		limit:      opts.Throttle,
		chunkSize:  opts.ChunkSize,
		maxSymbols: opts.MaxSymbols,
		scanTTL:    opts.ScanTTL,
		scanStale:  opts.ScanStale,
	}
	if s.limit == nil {
		s.limit = limiter.NewThrottled(2, 300*time.Millisecond)
	}
	if s.chunkSize <= 0 {
		s.chunkSize = defaultChunkSize
	}
	if s.maxSymbols <= 0 {
		s.maxSymbols = defaultMaxSymbols
	}
	if s.scanTTL <= 0 {
		s.scanTTL = DefaultScanTTL
	}
	if s.scanStale <= 0 {
		s.scanStale = DefaultScanStale
	}
	return s
}

// Scan fetches quotes for the given symbols. Invalid symbols become
// per-symbol errors without touching the upstream; the rest are fetched in
// chunks. Quotes and errors come back sorted by symbol.
func (s *BatchService) Scan(ctx context.Context, raws []string) (*model.Scan, error) {
	if len(raws) == 0 {
		return nil, apperr.New(apperr.CodeMissingParam, "symbols are required")
	}
	if len(raws) > s.maxSymbols {
		return nil, apperr.New(apperr.CodeTooManySymbols, "at most %d symbols per request", s.maxSymbols)
	}

	var invalid []model.ScanError
	seen := make(map[string]struct{}, len(raws))
	syms := make([]string, 0, len(raws))
	for _, raw := range raws {
		sym, err := symbols.Normalize(raw, s.market)
		if err != nil {
			invalid = append(invalid, model.ScanError{Symbol: strings.TrimSpace(raw), Error: apperr.From(err).Message})
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	key := "scan:" + string(s.market) + ":" + strings.Join(syms, ",")
	if v, ok := s.cache.Get(key); ok {
		return s.withInvalid(v.(*model.Scan), invalid), nil
	}

	v, _, err := s.flights.DoCtx(ctx, key, func() (interface{}, error) {
		if v, ok := s.cache.Get(key); ok {
			return v, nil
		}
		scan := s.fetchAll(ctx, syms)
		if scan.Success == 0 && scan.Failed > 0 {
			// Upstream is down across the board; serve the previous
			// aggregate when one is still within the stale window.
			if stale, wasStale, ok := s.cache.GetWithStale(key, s.scanStale); ok {
				prev := *(stale.(*model.Scan))
				prev.Stale = wasStale
				return &prev, nil
			}
		}
		s.cache.Set(key, scan, s.scanTTL)
		return scan, nil
	})
	if err != nil {
		return nil, err
	}
	return s.withInvalid(v.(*model.Scan), invalid), nil
}

// fetchAll runs the chunked fan-out. Each chunk passes through the
// throttled limiter before its symbols are fetched one by one.
func (s *BatchService) fetchAll(ctx context.Context, syms []string) *model.Scan {
	type result struct {
		quotes []model.Quote
		errs   []model.ScanError
	}

	var wg sync.WaitGroup
	results := make([]result, (len(syms)+s.chunkSize-1)/s.chunkSize)
	for i := 0; i < len(syms); i += s.chunkSize {
		chunk := syms[i:min(i+s.chunkSize, len(syms))]
		idx := i / s.chunkSize

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.limit.Do(ctx, func(ctx context.Context) error {
				for _, sym := range chunk {
					q, err := s.quoter.Quote(ctx, sym)
					if err != nil {
						results[idx].errs = append(results[idx].errs, model.ScanError{
							Symbol: sym,
							Error:  apperr.From(err).Message,
						})
						continue
					}
					results[idx].quotes = append(results[idx].quotes, *q)
				}
				return nil
			})
			if err != nil {
				// The caller gave up while this chunk was queued.
				for _, sym := range chunk {
					results[idx].errs = append(results[idx].errs, model.ScanError{Symbol: sym, Error: err.Error()})
				}
			}
		}()
	}
	wg.Wait()

	scan := &model.Scan{Market: string(s.market)}
	for _, r := range results {
		scan.Quotes = append(scan.Quotes, r.quotes...)
		scan.Errors = append(scan.Errors, r.errs...)
	}
	sort.Slice(scan.Quotes, func(i, j int) bool { return scan.Quotes[i].Symbol < scan.Quotes[j].Symbol })
	sort.Slice(scan.Errors, func(i, j int) bool { return scan.Errors[i].Symbol < scan.Errors[j].Symbol })
	scan.Success = len(scan.Quotes)
	scan.Failed = len(scan.Errors)
	scan.Count = scan.Success + scan.Failed
	return scan
}

// withInvalid folds validation failures into a copy of the cached
// aggregate so cache entries never carry request-specific junk.
func (s *BatchService) withInvalid(scan *model.Scan, invalid []model.ScanError) *model.Scan {
	out := *scan
	if len(invalid) > 0 {
		out.Errors = append(append([]model.ScanError{}, scan.Errors...), invalid...)
		sort.Slice(out.Errors, func(i, j int) bool { return out.Errors[i].Symbol < out.Errors[j].Symbol })
		out.Failed = len(out.Errors)
		out.Count = out.Success + out.Failed
	}
	return &out
}
