// Package yahoo is the typed client for the general market-data provider:
// quotes, charts and fundamentals for equities. BIST symbols are exposed
// without their upstream .IS suffix.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sawpanic/marketfeed/internal/apperr"
	"github.com/sawpanic/marketfeed/internal/model"
	"github.com/sawpanic/marketfeed/internal/provider"
	"github.com/sawpanic/marketfeed/internal/symbols"
)

const (
	DefaultBaseURL = "https://query1.finance.yahoo.com"
	sourceName     = "yahoo"
)

// SupportedIntervals: the provider has no 4h granularity; 4h requests map
// down to 1h and the chart records both intervals.
var SupportedIntervals = []symbols.Interval{
	symbols.Interval1m, symbols.Interval5m, symbols.Interval15m,
	symbols.Interval30m, symbols.Interval1h, symbols.Interval1d,
}

// Client issues REST calls through the shared executor. The fetch function
// keeps the client testable against a plain closure.
type Client struct {
	baseURL string
	get     func(ctx context.Context, url string) ([]byte, error)
}

// NewClient creates a client around the shared executor's Get.
func NewClient(baseURL string, get func(ctx context.Context, url string) ([]byte, error)) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{baseURL: baseURL, get: get}
}

type quoteEnvelope struct {
	QuoteResponse struct {
		Result []quoteResult `json:"result"`
		Error  *apiError     `json:"error"`
	} `json:"quoteResponse"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type quoteResult struct {
	Symbol                     string   `json:"symbol"`
	ShortName                  string   `json:"shortName"`
	LongName                   string   `json:"longName"`
	FullExchangeName           string   `json:"fullExchangeName"`
	Currency                   string   `json:"currency"`
	RegularMarketPrice         *float64 `json:"regularMarketPrice"`
	RegularMarketChange        *float64 `json:"regularMarketChange"`
	RegularMarketChangePercent *float64 `json:"regularMarketChangePercent"`
	RegularMarketPreviousClose *float64 `json:"regularMarketPreviousClose"`
	RegularMarketOpen          *float64 `json:"regularMarketOpen"`
	RegularMarketDayHigh       *float64 `json:"regularMarketDayHigh"`
	RegularMarketDayLow        *float64 `json:"regularMarketDayLow"`
	RegularMarketVolume        *float64 `json:"regularMarketVolume"`
	MarketCap                  *float64 `json:"marketCap"`
	FiftyTwoWeekHigh           *float64 `json:"fiftyTwoWeekHigh"`
	FiftyTwoWeekLow            *float64 `json:"fiftyTwoWeekLow"`
	RegularMarketTime          int64    `json:"regularMarketTime"`
}

// GetQuote fetches one normalized quote. symbol is the exposed form; the
// market decides the upstream spelling.
func (c *Client) GetQuote(ctx context.Context, symbol string, market symbols.Market) (*model.Quote, error) {
	upstream := symbols.Upstream(symbol, market)
	u := fmt.Sprintf("%s/v7/finance/quote?symbols=%s", c.baseURL, url.QueryEscape(upstream))

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, provider.MapError(sourceName, err)
	}

	var env quoteEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperr.Wrap(apperr.CodeProviderError, err, "yahoo: malformed quote response")
	}
	if len(env.QuoteResponse.Result) == 0 || env.QuoteResponse.Result[0].RegularMarketPrice == nil {
		return nil, apperr.New(apperr.CodeSymbolNotFound, "yahoo: no quote for %s", symbol)
	}

	q := normalizeQuote(env.QuoteResponse.Result[0], symbol)
	return &q, nil
}

func normalizeQuote(r quoteResult, exposed string) model.Quote {
	name := r.LongName
	if name == "" {
		name = r.ShortName
	}
	q := model.Quote{
		Symbol:            exposed,
		Name:              name,
		DisplayName:       r.ShortName,
		Exchange:          r.FullExchangeName,
		Currency:          r.Currency,
		ProviderTimestamp: time.Unix(r.RegularMarketTime, 0),
		Source:            sourceName,
		FetchedAt:         time.Now(),
		PreviousClose:     r.RegularMarketPreviousClose,
		Open:              r.RegularMarketOpen,
		DayHigh:           r.RegularMarketDayHigh,
		DayLow:            r.RegularMarketDayLow,
		Volume:            r.RegularMarketVolume,
		MarketCap:         r.MarketCap,
		FiftyTwoWeekHigh:  r.FiftyTwoWeekHigh,
		FiftyTwoWeekLow:   r.FiftyTwoWeekLow,
	}
	if r.RegularMarketPrice != nil {
		q.Price = *r.RegularMarketPrice
	}
	if r.RegularMarketChange != nil {
		q.Change = *r.RegularMarketChange
	} else if r.RegularMarketPreviousClose != nil {
		q.Change = q.Price - *r.RegularMarketPreviousClose
	}
	if r.RegularMarketChangePercent != nil {
		q.ChangePercent = *r.RegularMarketChangePercent
	}
	return q
}

type chartEnvelope struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *apiError     `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Currency     string `json:"currency"`
		Symbol       string `json:"symbol"`
		ExchangeName string `json:"exchangeName"`
		Timezone     string `json:"timezone"`
		GMTOffset    int    `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp  []*int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// GetChart fetches candles for the requested interval and range and
// normalizes them: null closes and missing timestamps are dropped, output
// is sorted ascending, open/high/low fall back to close.
func (c *Client) GetChart(ctx context.Context, symbol string, market symbols.Market, requested symbols.Interval, r symbols.Range) (*model.Chart, error) {
	providerIv := symbols.ProviderInterval(requested, SupportedIntervals)
	upstream := symbols.Upstream(symbol, market)

	period1 := symbols.PeriodStart(r, time.Now())
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=%s&period1=%d&period2=%d",
		c.baseURL, url.PathEscape(upstream), providerIv, period1.Unix(), time.Now().Unix())

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, provider.MapError(sourceName, err)
	}

	var env chartEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperr.Wrap(apperr.CodeProviderError, err, "yahoo: malformed chart response")
	}
	if env.Chart.Error != nil && strings.EqualFold(env.Chart.Error.Code, "Not Found") {
		return nil, apperr.New(apperr.CodeSymbolNotFound, "yahoo: no chart for %s", symbol)
	}
	if len(env.Chart.Result) == 0 {
		return nil, apperr.New(apperr.CodeSymbolNotFound, "yahoo: no chart for %s", symbol)
	}

	res := env.Chart.Result[0]
	chart := &model.Chart{
		Symbol:            symbol,
		RequestedInterval: string(requested),
		ProviderInterval:  string(providerIv),
		RequestedRange:    string(r),
		Timezone:          res.Meta.Timezone,
		GMTOffset:         res.Meta.GMTOffset,
		Currency:          res.Meta.Currency,
		Exchange:          res.Meta.ExchangeName,
		Source:            sourceName,
		FetchedAt:         time.Now(),
	}
	chart.Candles = normalizeCandles(res)
	if n := len(chart.Candles); n > 0 {
		first, last := chart.Candles[0].Time, chart.Candles[n-1].Time
		chart.FirstCandleTime = &first
		chart.LastCandleTime = &last
	}
	return chart, nil
}

func normalizeCandles(res chartResult) []model.Candle {
	if len(res.Indicators.Quote) == 0 {
		return nil
	}
	q := res.Indicators.Quote[0]

	at := func(vals []*float64, i int) *float64 {
		if i < len(vals) {
			return vals[i]
		}
		return nil
	}

	candles := make([]model.Candle, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if ts == nil {
			continue
		}
		closeV := at(q.Close, i)
		if closeV == nil {
			continue
		}
		c := model.Candle{
			Time:  time.Unix(*ts, 0),
			Close: *closeV,
			Open:  *closeV,
			High:  *closeV,
			Low:   *closeV,
		}
		if v := at(q.Open, i); v != nil {
			c.Open = *v
		}
		if v := at(q.High, i); v != nil {
			c.High = *v
		}
		if v := at(q.Low, i); v != nil {
			c.Low = *v
		}
		if v := at(q.Volume, i); v != nil {
			c.Volume = *v
		}
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	return candles
}

type summaryEnvelope struct {
	QuoteSummary struct {
		Result []struct {
			SummaryProfile *struct {
				Sector   string `json:"sector"`
				Industry string `json:"industry"`
				Website  string `json:"website"`
			} `json:"summaryProfile"`
			SummaryDetail *struct {
				DividendYield    rawValue `json:"dividendYield"`
				DividendRate     rawValue `json:"dividendRate"`
				TrailingPE       rawValue `json:"trailingPE"`
				ForwardPE        rawValue `json:"forwardPE"`
				PriceToBook      rawValue `json:"priceToBook"`
				FiftyTwoWeekHigh rawValue `json:"fiftyTwoWeekHigh"`
				FiftyTwoWeekLow  rawValue `json:"fiftyTwoWeekLow"`
				FiftyDayAverage  rawValue `json:"fiftyDayAverage"`
				TwoHundredDayAvg rawValue `json:"twoHundredDayAverage"`
				MarketCap        rawValue `json:"marketCap"`
			} `json:"summaryDetail"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"quoteSummary"`
}

// rawValue is the provider's {raw, fmt} wrapper around numbers.
type rawValue struct {
	Raw *float64 `json:"raw"`
}

// GetDetail fetches fundamentals. Unavailable fields stay nil and are
// omitted from the JSON envelope.
func (c *Client) GetDetail(ctx context.Context, symbol string, market symbols.Market) (*model.Detail, error) {
	upstream := symbols.Upstream(symbol, market)
	u := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=summaryProfile,summaryDetail",
		c.baseURL, url.PathEscape(upstream))

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, provider.MapError(sourceName, err)
	}

	var env summaryEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperr.Wrap(apperr.CodeProviderError, err, "yahoo: malformed summary response")
	}
	if len(env.QuoteSummary.Result) == 0 {
		return nil, apperr.New(apperr.CodeSymbolNotFound, "yahoo: no detail for %s", symbol)
	}

	res := env.QuoteSummary.Result[0]
	d := &model.Detail{
		Symbol:    symbol,
		Source:    sourceName,
		FetchedAt: time.Now(),
	}
	if p := res.SummaryProfile; p != nil {
		d.Sector = p.Sector
		d.Industry = p.Industry
		d.Website = p.Website
	}
	if s := res.SummaryDetail; s != nil {
		d.DividendYield = s.DividendYield.Raw
		d.DividendRate = s.DividendRate.Raw
		d.TrailingPE = s.TrailingPE.Raw
		d.ForwardPE = s.ForwardPE.Raw
		d.PriceToBook = s.PriceToBook.Raw
		d.FiftyTwoWeekHigh = s.FiftyTwoWeekHigh.Raw
		d.FiftyTwoWeekLow = s.FiftyTwoWeekLow.Raw
		d.FiftyDayAverage = s.FiftyDayAverage.Raw
		d.TwoHundredDayAvg = s.TwoHundredDayAvg.Raw
		d.MarketCap = s.MarketCap.Raw
	}
	return d, nil
}
