package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/marketfeed/internal/cache"
	"github.com/sawpanic/marketfeed/internal/circuit"
	"github.com/sawpanic/marketfeed/internal/model"
	"github.com/sawpanic/marketfeed/internal/provider/binance"
	"github.com/sawpanic/marketfeed/internal/symbols"
)

// cryptoClient is the slice of the exchange client this service uses.
type cryptoClient interface {
	GetTicker24h(ctx context.Context, symbol string) (*model.Quote, error)
	GetKlines(ctx context.Context, symbol string, interval symbols.Interval, limit int) ([]model.Candle, error)
}

// CryptoOptions tunes the crypto service. Zero durations fall back to the
// package defaults.
type CryptoOptions struct {
	Cache        *cache.TTLCache
	Limiter      runner
	Breaker      *circuit.Breaker
	MockFallback bool

	QuoteTTL   time.Duration
	ChartTTL   time.Duration
	QuoteStale time.Duration
	ChartStale time.Duration
}

// CryptoService serves quotes and charts for the crypto market.
type CryptoService struct {
	client cryptoClient
	pipe   pipeline
	mock   bool

	quoteTTL   time.Duration
	chartTTL   time.Duration
	quoteStale time.Duration
	chartStale time.Duration
}

// NewCryptoService wires a crypto service around an exchange client.
func NewCryptoService(client cryptoClient, opts CryptoOptions) *CryptoService {
	s := &CryptoService{
		client: client,
		pipe: pipeline{
			cache:   opts.Cache,
			limit:   opts.Limiter,
			breaker: opts.Breaker,
		},
		mock:       opts.MockFallback,
		quoteTTL:   opts.QuoteTTL,
		chartTTL:   opts.ChartTTL,
		quoteStale: opts.QuoteStale,
		chartStale: opts.ChartStale,
	}
	if s.quoteTTL <= 0 {
		s.quoteTTL = DefaultTickerTTL
	}
	if s.chartTTL <= 0 {
		s.chartTTL = DefaultChartTTL
	}
	if s.quoteStale <= 0 {
		s.quoteStale = DefaultQuoteStale
	}
	if s.chartStale <= 0 {
		s.chartStale = DefaultChartStale
	}
	return s
}

// Quote returns the 24h ticker for a symbol. Aliases of the same pair
// (btc, BTC, $BTC, BTCUSDT) collapse to one cache entry.
func (s *CryptoService) Quote(ctx context.Context, raw string) (*model.Quote, error) {
	sym, err := symbols.Normalize(raw, symbols.MarketCrypto)
	if err != nil {
		return nil, err
	}
	key := "crypto:quote:" + sym

	v, stale, err := s.pipe.fetch(ctx, key, s.quoteTTL, s.quoteStale, func(ctx context.Context) (interface{}, error) {
		return s.client.GetTicker24h(ctx, sym)
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

// Chart returns a candle series for the symbol over the requested interval
// and range.
func (s *CryptoService) Chart(ctx context.Context, raw string, interval symbols.Interval, r symbols.Range) (*model.Chart, error) {
	sym, err := symbols.Normalize(raw, symbols.MarketCrypto)
	if err != nil {
		return nil, err
	}
	providerIv := symbols.ProviderInterval(interval, binance.SupportedIntervals)
	key := fmt.Sprintf("crypto:chart:%s:%s:%s", sym, interval, r)

	v, stale, err := s.pipe.fetch(ctx, key, s.chartTTL, s.chartStale, func(ctx context.Context) (interface{}, error) {
		limit := candleLimit(providerIv, r)
		candles, err := s.client.GetKlines(ctx, sym, providerIv, limit)
		if err != nil {
			return nil, err
		}
		chart := &model.Chart{
			Symbol:            sym,
			RequestedInterval: string(interval),
			ProviderInterval:  string(providerIv),
			RequestedRange:    string(r),
			Candles:           candles,
			Currency:          "USDT",
			Exchange:          "Binance",
			Source:            "binance",
			FetchedAt:         time.Now(),
		}
		if n := len(candles); n > 0 {
			first, last := candles[0].Time, candles[n-1].Time
			chart.FirstCandleTime = &first
			chart.LastCandleTime = &last
		}
		return chart, nil
	})
	if err != nil {
		return nil, err
	}

	c := *(v.(*model.Chart))
	c.Stale = stale
	return &c, nil
}

// Detail returns the fundamentals record for a crypto pair. Exchanges
// publish no fundamentals, so only identity fields are filled and the
// rest stay omitted.
func (s *CryptoService) Detail(ctx context.Context, raw string) (*model.Detail, error) {
	q, err := s.Quote(ctx, raw)
	if err != nil {
		return nil, err
	}
	return &model.Detail{
		Symbol:    q.Symbol,
		Name:      q.Name,
		Source:    q.Source,
		Stale:     q.Stale,
		FetchedAt: time.Now(),
	}, nil
}

// candleLimit sizes the kline request so the range is covered, within the
// exchange's 1000-candle ceiling.
func candleLimit(iv symbols.Interval, r symbols.Range) int {
	now := time.Now()
	span := now.Sub(symbols.PeriodStart(r, now))
	n := int(span / iv.Duration())
	if n < 1 {
		n = 1
	}
	if n > 1000 {
		n = 1000
	}
	return n
}
