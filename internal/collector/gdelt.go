package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sawpanic/marketfeed/internal/news"
)

const (
	gdeltBaseURL      = "https://api.gdeltproject.org/api/v2/doc/doc"
	gdeltDefaultQuery = `(bitcoin OR ethereum OR "stock market" OR "borsa istanbul")`
	gdeltMaxRecords   = 75
	gdeltTimeLayout   = "20060102T150405Z"
)

// gdelt reports language as a full English word.
var gdeltLanguages = map[string]string{
	"English": "en",
	"Turkish": "tr",
}

// GDELT collects articles from the GDELT DOC 2.0 API.
type GDELT struct {
	baseURL string
	query   string
	max     int
	fetch   func(ctx context.Context, url string) ([]byte, error)
}

// NewGDELT creates the GDELT collector. An empty query selects the
// default market-news query.
func NewGDELT(query string, fetch func(ctx context.Context, url string) ([]byte, error)) *GDELT {
	if query == "" {
		query = gdeltDefaultQuery
	}
	return &GDELT{baseURL: gdeltBaseURL, query: query, max: gdeltMaxRecords, fetch: fetch}
}

func (g *GDELT) Name() string { return "gdelt" }

type gdeltResponse struct {
	Articles []gdeltArticle `json:"articles"`
}

type gdeltArticle struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	SeenDate      string `json:"seendate"`
	Language      string `json:"language"`
	Domain        string `json:"domain"`
	SourceCountry string `json:"sourcecountry"`
}

func (g *GDELT) Collect(ctx context.Context, since time.Time) ([]news.Item, error) {
	q := url.Values{}
	q.Set("query", g.query)
	q.Set("mode", "ArtList")
	q.Set("format", "json")
	q.Set("maxrecords", strconv.Itoa(g.max))
	q.Set("sort", "DateDesc")

	body, err := g.fetch(ctx, g.baseURL+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("fetch gdelt: %w", err)
	}

	var resp gdeltResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode gdelt response: %w", err)
	}

	now := time.Now()
	var out []news.Item
	for _, a := range resp.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		published, err := time.Parse(gdeltTimeLayout, a.SeenDate)
		if err != nil {
			continue
		}
		if !since.IsZero() && !published.After(since) {
			continue
		}
		out = append(out, news.Item{
			Source:      "gdelt",
			Title:       a.Title,
			URL:         a.URL,
			PublishedAt: published,
			Language:    gdeltLanguages[a.Language],
			Raw: map[string]interface{}{
				"domain":        a.Domain,
				"sourceCountry": a.SourceCountry,
			},
			DiscoveredAt: now,
		})
	}
	return out, nil
}
