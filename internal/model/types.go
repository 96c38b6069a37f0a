// Package model holds the normalized shapes returned by provider services.
// Values are returned by copy; callers never mutate cache-owned state.
package model

import "time"

// Quote is a normalized snapshot for one symbol.
type Quote struct {
	Symbol            string    `json:"symbol"`
	Name              string    `json:"name"`
	DisplayName       string    `json:"displayName,omitempty"`
	Exchange          string    `json:"exchange"`
	Currency          string    `json:"currency"`
	Price             float64   `json:"price"`
	Change            float64   `json:"change"`
	ChangePercent     float64   `json:"changePercent"`
	PreviousClose     *float64  `json:"previousClose,omitempty"`
	Open              *float64  `json:"open,omitempty"`
	DayHigh           *float64  `json:"dayHigh,omitempty"`
	DayLow            *float64  `json:"dayLow,omitempty"`
	Volume            *float64  `json:"volume,omitempty"`
	MarketCap         *float64  `json:"marketCap,omitempty"`
	FiftyTwoWeekHigh  *float64  `json:"fiftyTwoWeekHigh,omitempty"`
	FiftyTwoWeekLow   *float64  `json:"fiftyTwoWeekLow,omitempty"`
	ProviderTimestamp time.Time `json:"providerTimestamp"`
	Source            string    `json:"source"`
	Stale             bool      `json:"stale,omitempty"`
	FetchedAt         time.Time `json:"fetchedAt"`
}

// Candle is one OHLCV sample. Within a Chart, times strictly increase and
// low <= min(open, close) <= max(open, close) <= high.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Chart is a normalized candle series. ProviderInterval may differ from
// RequestedInterval when the provider lacks the requested granularity.
type Chart struct {
	Symbol            string     `json:"symbol"`
	RequestedInterval string     `json:"requestedInterval"`
	ProviderInterval  string     `json:"providerInterval"`
	RequestedRange    string     `json:"requestedRange"`
	Candles           []Candle   `json:"candles"`
	Timezone          string     `json:"timezone,omitempty"`
	GMTOffset         int        `json:"gmtOffset,omitempty"`
	Currency          string     `json:"currency,omitempty"`
	Exchange          string     `json:"exchange,omitempty"`
	FirstCandleTime   *time.Time `json:"firstCandleTime,omitempty"`
	LastCandleTime    *time.Time `json:"lastCandleTime,omitempty"`
	Source            string     `json:"source"`
	Stale             bool       `json:"stale,omitempty"`
	FetchedAt         time.Time  `json:"fetchedAt"`
}

// Detail is the fundamentals record for a symbol. Everything beyond
// identity is optional; unavailable fields are omitted from JSON.
type Detail struct {
	Symbol            string     `json:"symbol"`
	Name              string     `json:"name,omitempty"`
	Sector            string     `json:"sector,omitempty"`
	Industry          string     `json:"industry,omitempty"`
	Website           string     `json:"website,omitempty"`
	DividendYield     *float64   `json:"dividendYield,omitempty"`
	DividendRate      *float64   `json:"dividendRate,omitempty"`
	TrailingPE        *float64   `json:"trailingPE,omitempty"`
	ForwardPE         *float64   `json:"forwardPE,omitempty"`
	PriceToBook       *float64   `json:"priceToBook,omitempty"`
	FiftyTwoWeekHigh  *float64   `json:"fiftyTwoWeekHigh,omitempty"`
	FiftyTwoWeekLow   *float64   `json:"fiftyTwoWeekLow,omitempty"`
	FiftyDayAverage   *float64   `json:"fiftyDayAverage,omitempty"`
	TwoHundredDayAvg  *float64   `json:"twoHundredDayAverage,omitempty"`
	MarketCap         *float64   `json:"marketCap,omitempty"`
	ListingDate       *time.Time `json:"listingDate,omitempty"`
	Source            string     `json:"source"`
	Stale             bool       `json:"stale,omitempty"`
	FetchedAt         time.Time  `json:"fetchedAt"`
}

// Tick is a single upstream price or trade update.
type Tick struct {
	Symbol           string    `json:"symbol"`
	Price            float64   `json:"price"`
	Change24h        *float64  `json:"change24h,omitempty"`
	ChangePercent24h *float64  `json:"changePercent24h,omitempty"`
	High24h          *float64  `json:"high24h,omitempty"`
	Low24h           *float64  `json:"low24h,omitempty"`
	Volume24h        *float64  `json:"volume24h,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// ScanError records a per-symbol failure inside a market scan.
type ScanError struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// Scan is the batch market service aggregate.
type Scan struct {
	Market  string      `json:"market"`
	Count   int         `json:"count"`
	Success int         `json:"success"`
	Failed  int         `json:"failed"`
	Quotes  []Quote     `json:"quotes"`
	Errors  []ScanError `json:"errors"`
	Stale   bool        `json:"stale,omitempty"`
}

// Float returns a pointer to v, for optional fields.
func Float(v float64) *float64 { return &v }
