package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketfeed/internal/news"
)

// Feed is one RSS/Atom endpoint polled by an RSS collector.
type Feed struct {
	URL      string
	Language string
}

// RSS collects items from one or more feeds under a single source name.
// A feed that fails is logged and skipped; the collector errors only
// when every feed fails.
type RSS struct {
	name   string
	source string
	feeds  []Feed
	fetch  func(ctx context.Context, url string) ([]byte, error)
}

// NewRSS creates a feed collector. name identifies the collector, source
// is stamped onto every produced item.
func NewRSS(name, source string, feeds []Feed, fetch func(ctx context.Context, url string) ([]byte, error)) *RSS {
	return &RSS{name: name, source: source, feeds: feeds, fetch: fetch}
}

// NewSECRSS collects U.S. regulator press releases and filings.
func NewSECRSS(fetch func(ctx context.Context, url string) ([]byte, error)) *RSS {
	return NewRSS("sec_rss", "sec", []Feed{
		{URL: "https://www.sec.gov/news/pressreleases.rss", Language: "en"},
		{URL: "https://www.sec.gov/rss/litigation/litreleases.xml", Language: "en"},
	}, fetch)
}

// NewKAPRSS collects Borsa Istanbul public disclosures.
func NewKAPRSS(fetch func(ctx context.Context, url string) ([]byte, error)) *RSS {
	return NewRSS("kap_rss", "kap", []Feed{
		{URL: "https://www.kap.org.tr/tr/rss/bildirim", Language: "tr"},
	}, fetch)
}

// NewGoogleNewsRSS collects market headlines from Google News search feeds.
func NewGoogleNewsRSS(fetch func(ctx context.Context, url string) ([]byte, error)) *RSS {
	return NewRSS("google_news_rss", "google_news", []Feed{
		{URL: "https://news.google.com/rss/search?q=stock%20market%20OR%20crypto&hl=en-US&gl=US&ceid=US:en", Language: "en"},
		{URL: "https://news.google.com/rss/search?q=borsa%20OR%20hisse&hl=tr&gl=TR&ceid=TR:tr", Language: "tr"},
	}, fetch)
}

func (r *RSS) Name() string { return r.name }

func (r *RSS) Collect(ctx context.Context, since time.Time) ([]news.Item, error) {
	now := time.Now()
	parser := gofeed.NewParser()

	var out []news.Item
	var lastErr error
	failed := 0
	for _, f := range r.feeds {
		body, err := r.fetch(ctx, f.URL)
		if err != nil {
			log.Warn().Err(err).Str("collector", r.name).Str("feed", f.URL).Msg("feed fetch failed")
			lastErr = err
			failed++
			continue
		}
		feed, err := parser.ParseString(string(body))
		if err != nil {
			log.Warn().Err(err).Str("collector", r.name).Str("feed", f.URL).Msg("feed parse failed")
			lastErr = fmt.Errorf("parse %s: %w", f.URL, err)
			failed++
			continue
		}
		out = append(out, r.feedItems(feed, f, since, now)...)
	}
	if failed == len(r.feeds) && lastErr != nil {
		return nil, fmt.Errorf("all feeds failed for %s: %w", r.name, lastErr)
	}
	return out, nil
}

func (r *RSS) feedItems(feed *gofeed.Feed, f Feed, since, now time.Time) []news.Item {
	var out []news.Item
	for _, it := range feed.Items {
		if it.Link == "" || it.Title == "" {
			continue
		}
		published := it.PublishedParsed
		if published == nil {
			published = it.UpdatedParsed
		}
		if published == nil {
			continue
		}
		if !since.IsZero() && !published.After(since) {
			continue
		}
		raw := map[string]interface{}{"feedTitle": feed.Title}
		if len(it.Categories) > 0 {
			raw["categories"] = it.Categories
		}
		out = append(out, news.Item{
			Source:       r.source,
			SourceID:     it.GUID,
			Title:        it.Title,
			URL:          it.Link,
			PublishedAt:  *published,
			Language:     f.Language,
			Summary:      it.Description,
			Raw:          raw,
			DiscoveredAt: now,
		})
	}
	return out
}
