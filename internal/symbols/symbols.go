// Package symbols normalizes symbol, interval and range inputs across
// providers. Normalization is idempotent: applying it twice yields the
// same result, and equivalent spellings collapse to one canonical form.
package symbols

import (
	"regexp"
	"strings"
	"time"

	"github.com/sawpanic/marketfeed/internal/apperr"
)

// Market selects provider-specific symbol conventions.
type Market string

const (
	MarketCrypto Market = "crypto"
	MarketBIST   Market = "bist"
	MarketUS     Market = "us"
)

var symbolRe = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-=]*$`)

// quoteAssets are the Binance quote suffixes we accept as already-paired.
var quoteAssets = []string{"USDT", "USDC", "BUSD", "BTC", "ETH", "TRY", "EUR"}

// Normalize uppercases, trims and validates a raw symbol, applying
// per-market conventions: crypto symbols get a USDT quote suffix when bare
// (BTC -> BTCUSDT), BIST symbols are exposed without their .IS suffix, a
// leading $ is dropped everywhere.
func Normalize(raw string, market Market) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "$")
	if s == "" {
		return "", apperr.New(apperr.CodeMissingParam, "symbol is required")
	}

	switch market {
	case MarketCrypto:
		if !symbolRe.MatchString(s) {
			return "", apperr.New(apperr.CodeInvalidSymbol, "invalid symbol %q", raw)
		}
		if !hasQuoteSuffix(s) {
			s += "USDT"
		}
	case MarketBIST:
		s = strings.TrimSuffix(s, ".IS")
		if !symbolRe.MatchString(s) {
			return "", apperr.New(apperr.CodeInvalidSymbol, "invalid symbol %q", raw)
		}
	default:
		if !symbolRe.MatchString(s) {
			return "", apperr.New(apperr.CodeInvalidSymbol, "invalid symbol %q", raw)
		}
	}
	return s, nil
}

// Upstream converts a normalized symbol into the form the provider wants.
// BIST equities carry the .IS suffix upstream.
func Upstream(symbol string, market Market) string {
	if market == MarketBIST && !strings.HasSuffix(symbol, ".IS") {
		return symbol + ".IS"
	}
	return symbol
}

func hasQuoteSuffix(s string) bool {
	for _, q := range quoteAssets {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return true
		}
	}
	return false
}

// Interval is a requested chart interval.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

var intervalOrder = []Interval{Interval1m, Interval5m, Interval15m, Interval30m, Interval1h, Interval4h, Interval1d}

// Duration returns the wall-clock width of one candle at this interval.
func (iv Interval) Duration() time.Duration {
	switch iv {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval30m:
		return 30 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// ParseInterval validates the requested interval enum.
func ParseInterval(raw string) (Interval, error) {
	iv := Interval(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range intervalOrder {
		if iv == known {
			return iv, nil
		}
	}
	return "", apperr.New(apperr.CodeInvalidInterval, "invalid interval %q", raw)
}

// ProviderInterval maps a requested interval onto the nearest supported
// interval at or below it. supported must be in ascending order.
func ProviderInterval(requested Interval, supported []Interval) Interval {
	isSupported := func(iv Interval) bool {
		for _, s := range supported {
			if s == iv {
				return true
			}
		}
		return false
	}
	if isSupported(requested) {
		return requested
	}
	// Walk down from the requested interval.
	idx := 0
	for i, iv := range intervalOrder {
		if iv == requested {
			idx = i
			break
		}
	}
	for i := idx - 1; i >= 0; i-- {
		if isSupported(intervalOrder[i]) {
			return intervalOrder[i]
		}
	}
	if len(supported) > 0 {
		return supported[0]
	}
	return requested
}

// Range is a requested chart range.
type Range string

const (
	Range1d  Range = "1d"
	Range5d  Range = "5d"
	Range1mo Range = "1mo"
	Range3mo Range = "3mo"
	Range6mo Range = "6mo"
	Range1y  Range = "1y"
	Range2y  Range = "2y"
	Range5y  Range = "5y"
	Range10y Range = "10y"
	RangeYTD Range = "ytd"
	RangeMax Range = "max"
)

var ranges = map[Range]struct{}{
	Range1d: {}, Range5d: {}, Range1mo: {}, Range3mo: {}, Range6mo: {},
	Range1y: {}, Range2y: {}, Range5y: {}, Range10y: {}, RangeYTD: {}, RangeMax: {},
}

// ParseRange validates the requested range enum.
func ParseRange(raw string) (Range, error) {
	r := Range(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := ranges[r]; !ok {
		return "", apperr.New(apperr.CodeInvalidRange, "invalid range %q", raw)
	}
	return r, nil
}

// PeriodStart translates a range into the period1 start instant relative
// to now.
func PeriodStart(r Range, now time.Time) time.Time {
	switch r {
	case Range1d:
		return now.AddDate(0, 0, -1)
	case Range5d:
		return now.AddDate(0, 0, -5)
	case Range1mo:
		return now.AddDate(0, -1, 0)
	case Range3mo:
		return now.AddDate(0, -3, 0)
	case Range6mo:
		return now.AddDate(0, -6, 0)
	case Range1y:
		return now.AddDate(-1, 0, 0)
	case Range2y:
		return now.AddDate(-2, 0, 0)
	case Range5y:
		return now.AddDate(-5, 0, 0)
	case Range10y:
		return now.AddDate(-10, 0, 0)
	case RangeYTD:
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
	case RangeMax:
		return time.Unix(0, 0)
	default:
		return now.AddDate(0, -1, 0)
	}
}
