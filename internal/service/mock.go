package service

import (
	"hash/fnv"
	"time"

	"github.com/sawpanic/marketfeed/internal/model"
)

// mockSource marks synthesized values so clients can tell them apart from
// provider data.
const mockSource = "mock"

// mockQuote synthesizes a stable quote for a symbol. The same symbol
// always yields the same price so repeated fallbacks do not jitter.
func mockQuote(symbol string) *model.Quote {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	seed := h.Sum64()

	price := 10 + float64(seed%100000)/100      // 10.00 .. 1009.99
	pct := float64(int64(seed>>16%1001)-500)/100 // -5.00 .. +5.00
	change := price * pct / 100
	prev := price - change

	now := time.Now()
	return &model.Quote{
		Symbol:            symbol,
		Name:              symbol,
		Exchange:          mockSource,
		Currency:          "USD",
		Price:             price,
		Change:            change,
		ChangePercent:     pct,
		PreviousClose:     model.Float(prev),
		ProviderTimestamp: now,
		Source:            mockSource,
		FetchedAt:         now,
	}
}
