package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sawpanic/marketfeed/internal/apperr"
	"github.com/sawpanic/marketfeed/internal/httpx"
	"github.com/sawpanic/marketfeed/internal/symbols"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	exec, err := httpx.New(httpx.Config{MaxRetries: 0, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return NewClient(srv.URL, exec), srv
}

func TestGetPrice(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/price" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("symbol") != "BTCUSDT" {
			t.Errorf("symbol = %s", r.URL.Query().Get("symbol"))
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"43521.50"}`))
	})

	price, err := c.GetPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if price != 43521.50 {
		t.Errorf("price = %v", price)
	}
}

func TestGetTicker24hNormalization(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"symbol":"ETHUSDT","lastPrice":"2300.00","priceChange":"50.00",
			"priceChangePercent":"2.22","prevClosePrice":"2250.00",
			"openPrice":"2250.00","highPrice":"2350.00","lowPrice":"2200.00",
			"volume":"12345.6","closeTime":1718000000000}`))
	})

	q, err := c.GetTicker24h(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if q.Symbol != "ETHUSDT" || q.Price != 2300 || q.Change != 50 {
		t.Errorf("quote = %+v", q)
	}
	if q.PreviousClose == nil || *q.PreviousClose != 2250 {
		t.Error("previousClose should be set")
	}
	// change = price - previousClose within tolerance
	if diff := q.Change - (q.Price - *q.PreviousClose); diff > 1e-9 || diff < -1e-9 {
		t.Errorf("change invariant violated: %v", diff)
	}
	if q.Source != "binance" {
		t.Errorf("source = %s", q.Source)
	}
}

func TestUnknownSymbolMapsToSymbolNotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})

	_, err := c.GetPrice(context.Background(), "NOPEUSDT")
	if !apperr.Is(err, apperr.CodeSymbolNotFound) {
		t.Errorf("expected SYMBOL_NOT_FOUND, got %v", err)
	}
}

func TestThrottleMapsToProviderThrottled(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.GetPrice(context.Background(), "BTCUSDT")
	if !apperr.Is(err, apperr.CodeProviderThrottled) {
		t.Errorf("expected PROVIDER_THROTTLED, got %v", err)
	}
}

func TestGetKlinesNormalization(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Second row has a null close and must be dropped; rows arrive
		// out of order and must be sorted ascending.
		w.Write([]byte(`[
			[1718000120000,"101","103","100","102","11",1718000179999],
			[1718000060000,null,null,null,null,"0",1718000119999],
			[1718000000000,"100","102","99","101","10",1718000059999]
		]`))
	})

	candles, err := c.GetKlines(context.Background(), "BTCUSDT", symbols.Interval1m, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 2 {
		t.Fatalf("null-close candle should be dropped, got %d candles", len(candles))
	}
	if !candles[0].Time.Before(candles[1].Time) {
		t.Error("candles must be sorted ascending by time")
	}
	for _, cd := range candles {
		if cd.Low > cd.Open || cd.Low > cd.Close || cd.High < cd.Open || cd.High < cd.Close {
			t.Errorf("OHLC invariant violated: %+v", cd)
		}
	}
}
