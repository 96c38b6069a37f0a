// Package binance is the typed client for the crypto exchange REST and
// WebSocket APIs. It normalizes responses into the shared model types and
// maps upstream failures onto the taxonomy.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/sawpanic/marketfeed/internal/apperr"
	"github.com/sawpanic/marketfeed/internal/httpx"
	"github.com/sawpanic/marketfeed/internal/model"
	"github.com/sawpanic/marketfeed/internal/provider"
	"github.com/sawpanic/marketfeed/internal/symbols"
)

const (
	DefaultBaseURL = "https://api.binance.com"
	sourceName     = "binance"
)

// SupportedIntervals are the chart intervals the exchange serves natively.
var SupportedIntervals = []symbols.Interval{
	symbols.Interval1m, symbols.Interval5m, symbols.Interval15m,
	symbols.Interval30m, symbols.Interval1h, symbols.Interval4h, symbols.Interval1d,
}

// Client issues REST calls through the shared executor.
type Client struct {
	baseURL string
	exec    *httpx.Executor
}

// NewClient creates a client. baseURL empty means production.
func NewClient(baseURL string, exec *httpx.Executor) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{baseURL: baseURL, exec: exec}
}

type priceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type ticker24hResponse struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	PrevClosePrice     string `json:"prevClosePrice"`
	OpenPrice          string `json:"openPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	CloseTime          int64  `json:"closeTime"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// GetPrice fetches the last trade price for a symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	u := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", c.baseURL, url.QueryEscape(symbol))
	resp, err := c.exec.Get(ctx, u, nil)
	if err != nil {
		return 0, c.mapError(symbol, err)
	}

	var pr priceResponse
	if err := json.Unmarshal(resp.Body, &pr); err != nil {
		return 0, apperr.Wrap(apperr.CodeProviderError, err, "binance: malformed price response")
	}
	price, err := strconv.ParseFloat(pr.Price, 64)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeProviderError, err, "binance: unparseable price %q", pr.Price)
	}
	return price, nil
}

// GetTicker24h fetches the rolling 24h ticker and normalizes it to a Quote.
func (c *Client) GetTicker24h(ctx context.Context, symbol string) (*model.Quote, error) {
	u := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", c.baseURL, url.QueryEscape(symbol))
	resp, err := c.exec.Get(ctx, u, nil)
	if err != nil {
		return nil, c.mapError(symbol, err)
	}

	var tr ticker24hResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return nil, apperr.Wrap(apperr.CodeProviderError, err, "binance: malformed ticker response")
	}

	price := parseF(tr.LastPrice)
	prevClose := parseF(tr.PrevClosePrice)
	q := &model.Quote{
		Symbol:            tr.Symbol,
		Name:              tr.Symbol,
		Exchange:          "Binance",
		Currency:          "USDT",
		Price:             price,
		Change:            parseF(tr.PriceChange),
		ChangePercent:     parseF(tr.PriceChangePercent),
		ProviderTimestamp: time.UnixMilli(tr.CloseTime),
		Source:            sourceName,
		FetchedAt:         time.Now(),
	}
	if prevClose > 0 {
		q.PreviousClose = model.Float(prevClose)
	}
	if v := parseF(tr.OpenPrice); v > 0 {
		q.Open = model.Float(v)
	}
	if v := parseF(tr.HighPrice); v > 0 {
		q.DayHigh = model.Float(v)
	}
	if v := parseF(tr.LowPrice); v > 0 {
		q.DayLow = model.Float(v)
	}
	if v := parseF(tr.Volume); v > 0 {
		q.Volume = model.Float(v)
	}
	return q, nil
}

// GetKlines fetches OHLCV candles. The response is normalized: candles with
// a missing close or timestamp are dropped, output is sorted ascending,
// and open/high/low fall back to close when absent.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval symbols.Interval, limit int) ([]model.Candle, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	u := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		c.baseURL, url.QueryEscape(symbol), interval, limit)
	resp, err := c.exec.Get(ctx, u, nil)
	if err != nil {
		return nil, c.mapError(symbol, err)
	}

	// Klines arrive as arrays: [openTime, open, high, low, close, volume, ...]
	var rows [][]json.RawMessage
	if err := json.Unmarshal(resp.Body, &rows); err != nil {
		return nil, apperr.Wrap(apperr.CodeProviderError, err, "binance: malformed klines response")
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil || openTime == 0 {
			continue
		}
		closeV, ok := parseRawF(row[4])
		if !ok {
			continue
		}
		c := model.Candle{
			Time:   time.UnixMilli(openTime),
			Close:  closeV,
			Open:   closeV,
			High:   closeV,
			Low:    closeV,
		}
		if v, ok := parseRawF(row[1]); ok {
			c.Open = v
		}
		if v, ok := parseRawF(row[2]); ok {
			c.High = v
		}
		if v, ok := parseRawF(row[3]); ok {
			c.Low = v
		}
		if v, ok := parseRawF(row[5]); ok {
			c.Volume = v
		}
		candles = append(candles, c)
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	return candles, nil
}

// mapError handles the exchange's error body before falling back to the
// shared mapping. A 400 with code -1121 means the symbol does not exist.
func (c *Client) mapError(symbol string, err error) error {
	if he, ok := httpx.AsError(err); ok && he.Kind == httpx.KindStatus && he.Status == 400 {
		var ae apiError
		if jsonErr := json.Unmarshal([]byte(he.Snippet), &ae); jsonErr == nil && ae.Code == -1121 {
			return apperr.Wrap(apperr.CodeSymbolNotFound, err, "binance: unknown symbol %s", symbol)
		}
	}
	return provider.MapError(sourceName, err)
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseRawF(raw json.RawMessage) (float64, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return 0, false
		}
		v, err := strconv.ParseFloat(s, 64)
		return v, err == nil
	}
	var f *float64
	if err := json.Unmarshal(raw, &f); err == nil && f != nil {
		return *f, true
	}
	return 0, false
}
