package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/marketfeed/internal/cache"
	"github.com/sawpanic/marketfeed/internal/circuit"
	"github.com/sawpanic/marketfeed/internal/model"
	"github.com/sawpanic/marketfeed/internal/symbols"
)

// marketClient is the slice of the market-data client this service uses.
type marketClient interface {
	GetQuote(ctx context.Context, symbol string, market symbols.Market) (*model.Quote, error)
	GetChart(ctx context.Context, symbol string, market symbols.Market, interval symbols.Interval, r symbols.Range) (*model.Chart, error)
	GetDetail(ctx context.Context, symbol string, market symbols.Market) (*model.Detail, error)
}

// MarketOptions tunes a market service. Zero durations fall back to the
// package defaults.
type MarketOptions struct {
	Cache        *cache.TTLCache
	Limiter      runner
	Breaker      *circuit.Breaker
	MockFallback bool

	QuoteTTL    time.Duration
	ChartTTL    time.Duration
	DetailTTL   time.Duration
	QuoteStale  time.Duration
	ChartStale  time.Duration
	DetailStale time.Duration
}

// MarketService serves quotes, charts and fundamentals for one equity
// market (BIST or US) through the general market-data provider.
type MarketService struct {
	market symbols.Market
	client marketClient
	pipe   pipeline
	mock   bool

	quoteTTL    time.Duration
	chartTTL    time.Duration
	detailTTL   time.Duration
	quoteStale  time.Duration
	chartStale  time.Duration
	detailStale time.Duration
}

// NewMarketService wires a market service for one market.
func NewMarketService(market symbols.Market, client marketClient, opts MarketOptions) *MarketService {
	s := &MarketService{
		market: market,
		client: client,
		pipe: pipeline{
			cache:   opts.Cache,
			limit:   opts.Limiter,
			breaker: opts.Breaker,
		},
		mock:        opts.MockFallback,
		quoteTTL:    opts.QuoteTTL,
		chartTTL:    opts.ChartTTL,
		detailTTL:   opts.DetailTTL,
		quoteStale:  opts.QuoteStale,
		chartStale:  opts.ChartStale,
		detailStale: opts.DetailStale,
	}
	if s.quoteTTL <= 0 {
		s.quoteTTL = DefaultQuoteTTL
	}
	if s.chartTTL <= 0 {
		s.chartTTL = DefaultChartTTL
	}
	if s.detailTTL <= 0 {
		s.detailTTL = DefaultDetailTTL
	}
	if s.quoteStale <= 0 {
		s.quoteStale = DefaultQuoteStale
	}
	if s.chartStale <= 0 {
		s.chartStale = DefaultChartStale
	}
	if s.detailStale <= 0 {
		s.detailStale = DefaultDetailStale
	}
	return s
}

// Market returns the market tag this service serves.
func (s *MarketService) Market() symbols.Market { return s.market }

// Quote returns a normalized quote for one symbol.
func (s *MarketService) Quote(ctx context.Context, raw string) (*model.Quote, error) {
	sym, err := symbols.Normalize(raw, s.market)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s:quote:%s", s.market, sym)

	v, stale, err := s.pipe.fetch(ctx, key, s.quoteTTL, s.quoteStale, func(ctx context.Context) (interface{}, error) {
		return s.client.GetQuote(ctx, sym, s.market)
	})
	if err != nil {
		if s.mock && upstreamDown(err) {
			return mockQuote(sym), nil
		}
		return nil, err
	}

	q := *(v.(*model.Quote))
	q.Stale = stale
	return &q, nil
}

// Chart returns a candle series. The provider interval may be mapped down
// when the requested granularity is unsupported.
func (s *MarketService) Chart(ctx context.Context, raw string, interval symbols.Interval, r symbols.Range) (*model.Chart, error) {
	sym, err := symbols.Normalize(raw, s.market)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s:chart:%s:%s:%s", s.market, sym, interval, r)

	v, stale, err := s.pipe.fetch(ctx, key, s.chartTTL, s.chartStale, func(ctx context.Context) (interface{}, error) {
		return s.client.GetChart(ctx, sym, s.market, interval, r)
	})
	if err != nil {
		return nil, err
	}

	c := *(v.(*model.Chart))
	c.Stale = stale
	return &c, nil
}

// Detail returns fundamentals for one symbol. Unavailable fields are
// omitted rather than zeroed.
func (s *MarketService) Detail(ctx context.Context, raw string) (*model.Detail, error) {
	sym, err := symbols.Normalize(raw, s.market)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s:detail:%s", s.market, sym)

	v, stale, err := s.pipe.fetch(ctx, key, s.detailTTL, s.detailStale, func(ctx context.Context) (interface{}, error) {
		return s.client.GetDetail(ctx, sym, s.market)
	})
	if err != nil {
		return nil, err
	}

	d := *(v.(*model.Detail))
	d.Stale = stale
	return &d, nil
}
