package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/sawpanic/marketfeed/internal/apperr"
	"github.com/sawpanic/marketfeed/internal/health"
	"github.com/sawpanic/marketfeed/internal/metrics"
	"github.com/sawpanic/marketfeed/internal/model"
	"github.com/sawpanic/marketfeed/internal/storage"
	"github.com/sawpanic/marketfeed/internal/symbols"
)

// MarketService is the per-market data surface behind the quote, chart
// and detail endpoints.
type MarketService interface {
	Quote(ctx context.Context, symbol string) (*model.Quote, error)
	Chart(ctx context.Context, symbol string, iv symbols.Interval, r symbols.Range) (*model.Chart, error)
	Detail(ctx context.Context, symbol string) (*model.Detail, error)
}

// Scanner serves the batch market aggregate.
type Scanner interface {
	Scan(ctx context.Context, symbols []string) (*model.Scan, error)
}

// NewsReader is the read side of the news store.
type NewsReader interface {
	List(ctx context.Context, category string, limit int) ([]storage.NewsItem, error)
	GetByHashID(ctx context.Context, hashID string) (*storage.NewsItem, error)
}

// defaultScanSymbols are used when a quotes/scan request names none.
var defaultScanSymbols = map[symbols.Market][]string{
	symbols.MarketCrypto: {"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT", "ADAUSDT", "DOGEUSDT", "AVAXUSDT"},
	symbols.MarketBIST:   {"THYAO", "GARAN", "AKBNK", "ASELS", "KCHOL", "SAHOL", "BIMAS", "TCELL", "EREGL", "SISE"},
	symbols.MarketUS:     {"AAPL", "MSFT", "GOOG", "AMZN", "NVDA", "META", "TSLA", "JPM"},
}

var newsCategories = map[string]struct{}{
	"crypto": {}, "bist": {}, "us": {}, "economy": {},
}

const (
	defaultNewsLimit = 20
	maxNewsLimit     = 50
)

// Handlers carries the wired services behind the HTTP surface. Nil
// optional fields disable their endpoints.
type Handlers struct {
	Markets map[symbols.Market]MarketService
	Scans   map[symbols.Market]Scanner
	News    NewsReader
	Checker *health.Checker
	Metrics *metrics.Registry
	Streams map[string]http.HandlerFunc
}

func (h *Handlers) market(r *http.Request) (symbols.Market, MarketService, error) {
	name := symbols.Market(mux.Vars(r)["market"])
	svc, ok := h.Markets[name]
	if !ok {
		return "", nil, apperr.New(apperr.CodeInvalidParam, "unknown market %q", name)
	}
	return name, svc, nil
}

func (h *Handlers) Quote(w http.ResponseWriter, r *http.Request) {
	_, svc, err := h.market(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sym := r.URL.Query().Get("symbol")
	if strings.TrimSpace(sym) == "" {
		writeError(w, apperr.New(apperr.CodeMissingParam, "symbol is required"))
		return
	}
	q, err := svc.Quote(r.Context(), sym)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, q)
}

func (h *Handlers) Quotes(w http.ResponseWriter, r *http.Request) {
	market := symbols.Market(mux.Vars(r)["market"])
	scanner, ok := h.Scans[market]
	if !ok {
		writeError(w, apperr.New(apperr.CodeInvalidParam, "unknown market %q", market))
		return
	}
	scan, err := scanner.Scan(r.Context(), h.requestedSymbols(r, market))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, scan)
}

// MarketScan serves GET /markets/{market} with the same aggregate as
// the quotes endpoint.
func (h *Handlers) MarketScan(w http.ResponseWriter, r *http.Request) {
	h.Quotes(w, r)
}

func (h *Handlers) requestedSymbols(r *http.Request, market symbols.Market) []string {
	raw := strings.TrimSpace(r.URL.Query().Get("symbols"))
	if raw == "" {
		return defaultScanSymbols[market]
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultScanSymbols[market]
	}
	return out
}

func (h *Handlers) Chart(w http.ResponseWriter, r *http.Request) {
	_, svc, err := h.market(r)
	if err != nil {
		writeError(w, err)
		return
	}
	query := r.URL.Query()

	sym := query.Get("symbol")
	if strings.TrimSpace(sym) == "" {
		writeError(w, apperr.New(apperr.CodeMissingParam, "symbol is required"))
		return
	}

	iv := symbols.Interval1h
	if raw := query.Get("interval"); raw != "" {
		if iv, err = symbols.ParseInterval(raw); err != nil {
			writeError(w, err)
			return
		}
	}

	rng, err := requestedRange(query.Get("range"), query.Get("rangeDays"))
	if err != nil {
		writeError(w, err)
		return
	}

	chart, err := svc.Chart(r.Context(), sym, iv, rng)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, chart)
}

// requestedRange resolves the range/rangeDays pair; range wins when both
// are present.
func requestedRange(rawRange, rawDays string) (symbols.Range, error) {
	if rawRange != "" {
		return symbols.ParseRange(rawRange)
	}
	if rawDays == "" {
		return symbols.Range1mo, nil
	}
	days, err := strconv.Atoi(rawDays)
	if err != nil || days <= 0 {
		return "", apperr.New(apperr.CodeInvalidRange, "invalid rangeDays %q", rawDays)
	}
	return rangeForDays(days), nil
}

func rangeForDays(days int) symbols.Range {
	switch {
	case days <= 1:
		return symbols.Range1d
	case days <= 5:
		return symbols.Range5d
	case days <= 31:
		return symbols.Range1mo
	case days <= 93:
		return symbols.Range3mo
	case days <= 186:
		return symbols.Range6mo
	case days <= 366:
		return symbols.Range1y
	case days <= 731:
		return symbols.Range2y
	case days <= 1827:
		return symbols.Range5y
	case days <= 3653:
		return symbols.Range10y
	default:
		return symbols.RangeMax
	}
}

func (h *Handlers) Detail(w http.ResponseWriter, r *http.Request) {
	_, svc, err := h.market(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sym := r.URL.Query().Get("symbol")
	if strings.TrimSpace(sym) == "" {
		writeError(w, apperr.New(apperr.CodeMissingParam, "symbol is required"))
		return
	}
	d, err := svc.Detail(r.Context(), sym)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, d)
}

func (h *Handlers) NewsList(w http.ResponseWriter, r *http.Request) {
	if h.News == nil {
		writeError(w, apperr.New(apperr.CodeNotFound, "news is not configured"))
		return
	}
	query := r.URL.Query()

	category := strings.ToLower(strings.TrimSpace(query.Get("category")))
	if category == "" {
		writeError(w, apperr.New(apperr.CodeMissingParam, "category is required"))
		return
	}
	if _, ok := newsCategories[category]; !ok {
		writeError(w, apperr.New(apperr.CodeInvalidCategory, "invalid category %q", category))
		return
	}

	limit := defaultNewsLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxNewsLimit {
			writeError(w, apperr.New(apperr.CodeInvalidLimit, "limit must be 1..%d", maxNewsLimit))
			return
		}
		limit = n
	}

	items, err := h.News.List(r.Context(), category, limit)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInternalError, err, "news lookup failed"))
		return
	}
	if items == nil {
		items = []storage.NewsItem{}
	}
	writeResult(w, items)
}

func (h *Handlers) NewsArticle(w http.ResponseWriter, r *http.Request) {
	if h.News == nil {
		writeError(w, apperr.New(apperr.CodeNotFound, "news is not configured"))
		return
	}
	id := mux.Vars(r)["id"]
	item, err := h.News.GetByHashID(r.Context(), id)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInternalError, err, "news lookup failed"))
		return
	}
	if item == nil {
		writeError(w, apperr.New(apperr.CodeNotFound, "article %s not found", id))
		return
	}
	writeResult(w, item)
}

func (h *Handlers) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.Checker.Liveness())
}

func (h *Handlers) HealthReady(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.Checker.Readiness(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{OK: ok, Result: rep})
}

func (h *Handlers) HealthReport(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.Checker.Report(r.Context()))
}

func (h *Handlers) HealthCollectors(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.Checker.Report(r.Context()).Collectors)
}

func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, apperr.New(apperr.CodeNotFound, "no such endpoint"))
}
