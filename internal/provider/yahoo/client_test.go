package yahoo

import (
	"context"
	"strings"
	"testing"

	"github.com/sawpanic/marketfeed/internal/apperr"
	"github.com/sawpanic/marketfeed/internal/symbols"
)

func fixedGet(t *testing.T, wantSubstr, body string) func(context.Context, string) ([]byte, error) {
	t.Helper()
	return func(_ context.Context, u string) ([]byte, error) {
		if wantSubstr != "" && !strings.Contains(u, wantSubstr) {
			t.Errorf("url %q missing %q", u, wantSubstr)
		}
		return []byte(body), nil
	}
}

func TestGetQuoteBISTSuffix(t *testing.T) {
	body := `{"quoteResponse":{"result":[{
		"symbol":"THYAO.IS","shortName":"TURK HAVA YOLLARI","currency":"TRY",
		"fullExchangeName":"Istanbul",
		"regularMarketPrice":295.5,"regularMarketPreviousClose":290.0,
		"regularMarketTime":1718000000}],"error":null}}`

	c := NewClient("http://x", fixedGet(t, "symbols=THYAO.IS", body))
	q, err := c.GetQuote(context.Background(), "THYAO", symbols.MarketBIST)
	if err != nil {
		t.Fatal(err)
	}
	if q.Symbol != "THYAO" {
		t.Errorf("exposed symbol should drop the upstream suffix, got %s", q.Symbol)
	}
	// change falls back to price minus previous close when absent upstream
	if q.Change != 5.5 {
		t.Errorf("change = %v", q.Change)
	}
	if q.Source != "yahoo" {
		t.Errorf("source = %s", q.Source)
	}
}

func TestGetQuoteEmptyResultIsNotFound(t *testing.T) {
	c := NewClient("http://x", fixedGet(t, "", `{"quoteResponse":{"result":[],"error":null}}`))
	_, err := c.GetQuote(context.Background(), "NOPE", symbols.MarketUS)
	if !apperr.Is(err, apperr.CodeSymbolNotFound) {
		t.Errorf("expected SYMBOL_NOT_FOUND, got %v", err)
	}
}

func TestGetChartIntervalMappingAndNormalization(t *testing.T) {
	body := `{"chart":{"result":[{
		"meta":{"currency":"USD","symbol":"AAPL","exchangeName":"NMS","timezone":"America/New_York","gmtoffset":-14400},
		"timestamp":[1718003600,null,1718000000],
		"indicators":{"quote":[{
			"open":[230.5,null,230.0],
			"high":[231.0,null,230.8],
			"low":[230.1,null,229.9],
			"close":[230.9,null,230.4],
			"volume":[1000,null,900]}]}}],"error":null}}`

	c := NewClient("http://x", fixedGet(t, "interval=1h", body))
	chart, err := c.GetChart(context.Background(), "AAPL", symbols.MarketUS, symbols.Interval4h, symbols.Range1mo)
	if err != nil {
		t.Fatal(err)
	}
	if chart.RequestedInterval != "4h" || chart.ProviderInterval != "1h" {
		t.Errorf("interval mapping: requested=%s provider=%s", chart.RequestedInterval, chart.ProviderInterval)
	}
	if len(chart.Candles) != 2 {
		t.Fatalf("null timestamp row should be dropped, got %d", len(chart.Candles))
	}
	if !chart.Candles[0].Time.Before(chart.Candles[1].Time) {
		t.Error("candles must be sorted ascending")
	}
	if chart.FirstCandleTime == nil || chart.LastCandleTime == nil {
		t.Fatal("first/last candle times should be set")
	}
	if !chart.FirstCandleTime.Equal(chart.Candles[0].Time) {
		t.Error("firstCandleTime mismatch")
	}
}

func TestGetChartNotFound(t *testing.T) {
	body := `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`
	c := NewClient("http://x", fixedGet(t, "", body))
	_, err := c.GetChart(context.Background(), "NOPE", symbols.MarketUS, symbols.Interval1d, symbols.Range1mo)
	if !apperr.Is(err, apperr.CodeSymbolNotFound) {
		t.Errorf("expected SYMBOL_NOT_FOUND, got %v", err)
	}
}

func TestGetDetailPartialModules(t *testing.T) {
	body := `{"quoteSummary":{"result":[{
		"summaryProfile":{"sector":"Technology","industry":"Consumer Electronics","website":"https://www.apple.com"},
		"summaryDetail":{"trailingPE":{"raw":28.4,"fmt":"28.40"},"dividendYield":{}}}],"error":null}}`

	c := NewClient("http://x", fixedGet(t, "modules=summaryProfile,summaryDetail", body))
	d, err := c.GetDetail(context.Background(), "AAPL", symbols.MarketUS)
	if err != nil {
		t.Fatal(err)
	}
	if d.Sector != "Technology" {
		t.Errorf("sector = %s", d.Sector)
	}
	if d.TrailingPE == nil || *d.TrailingPE != 28.4 {
		t.Error("trailingPE should be populated")
	}
	if d.DividendYield != nil {
		t.Error("empty raw value must stay nil")
	}
}
