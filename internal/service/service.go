// Package service composes provider clients with the cache, coalescer,
// limiter and circuit breaker into the surface the API handlers consume.
// Every read follows the same path: cache, then one coalesced flight
// through the limiter and breaker, then stale-if-error fallback.
package service

import (
	"context"
	"time"

	"github.com/sawpanic/marketfeed/internal/apperr"
	"github.com/sawpanic/marketfeed/internal/cache"
	"github.com/sawpanic/marketfeed/internal/circuit"
	"github.com/sawpanic/marketfeed/internal/flight"
)

// Default TTLs and stale-if-error windows per component.
const (
	DefaultQuoteTTL  = 10 * time.Second
	DefaultTickerTTL = 15 * time.Second
	DefaultChartTTL  = time.Minute
	DefaultDetailTTL = 5 * time.Minute
	DefaultScanTTL   = 30 * time.Second

	DefaultQuoteStale  = 2 * time.Minute
	DefaultChartStale  = 2 * time.Minute
	DefaultDetailStale = 5 * time.Minute
	DefaultScanStale   = 2 * time.Minute
)

// runner is the limiter shape the pipeline needs. Both limiter.Limiter and
// limiter.Throttled satisfy it.
type runner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// pipeline is the shared fetch-through path. The cache is consulted first;
// a miss starts exactly one flight per key, admitted through the limiter
// and the breaker. A failed flight falls back to a stale cache entry
// within maxStale.
type pipeline struct {
	cache   *cache.TTLCache
	flights flight.Group
	limit   runner
	breaker *circuit.Breaker
}

// fetch returns the cached or freshly fetched value for key. The bool
// reports that the value came from the stale window after a failed fetch.
func (p *pipeline) fetch(ctx context.Context, key string, ttl, maxStale time.Duration, call func(ctx context.Context) (interface{}, error)) (interface{}, bool, error) {
	if v, ok := p.cache.Get(key); ok {
		return v, false, nil
	}

	v, _, err := p.flights.DoCtx(ctx, key, func() (interface{}, error) {
		// Another flight may have settled between our miss and this
		// registration.
		if v, ok := p.cache.Get(key); ok {
			return v, nil
		}
		var result interface{}
		err := p.limit.Do(ctx, func(ctx context.Context) error {
			return p.breaker.Execute(ctx, func(ctx context.Context) error {
				r, err := call(ctx)
				if err != nil {
					return err
				}
				result = r
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
		p.cache.Set(key, result, ttl)
		return result, nil
	})
	if err == nil {
		return v, false, nil
	}

	if stale, wasStale, ok := p.cache.GetWithStale(key, maxStale); ok {
		return stale, wasStale, nil
	}
	return nil, false, err
}

// upstreamDown reports whether err means the provider itself is failing,
// as opposed to rejecting a well-formed question about an unknown symbol.
func upstreamDown(err error) bool {
	switch apperr.From(err).Code {
	case apperr.CodeNetworkError, apperr.CodeProviderError,
		apperr.CodeProviderThrottled, apperr.CodeCircuitOpen:
		return true
	}
	return false
}
