package collector

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func fixedFetch(body string, err error) func(context.Context, string) ([]byte, error) {
	return func(context.Context, string) ([]byte, error) {
		if err != nil {
			return nil, err
		}
		return []byte(body), nil
	}
}

const gdeltFixture = `{
	"articles": [
		{"url": "https://example.com/btc", "title": "Bitcoin climbs", "seendate": "20260824T100000Z", "language": "English", "domain": "example.com", "sourcecountry": "US"},
		{"url": "https://example.com/bist", "title": "Borsa rallisi", "seendate": "20260824T090000Z", "language": "Turkish", "domain": "example.com", "sourcecountry": "TU"},
		{"url": "https://example.com/old", "title": "Stale", "seendate": "20260823T000000Z", "language": "English", "domain": "example.com", "sourcecountry": "US"},
		{"url": "", "title": "No URL", "seendate": "20260824T110000Z", "language": "English", "domain": "", "sourcecountry": ""},
		{"url": "https://example.com/bad", "title": "Bad date", "seendate": "yesterday", "language": "English", "domain": "", "sourcecountry": ""}
	]
}`

func TestGDELTCollect(t *testing.T) {
	g := NewGDELT("", fixedFetch(gdeltFixture, nil))
	since := time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC)

	items, err := g.Collect(context.Background(), since)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	first := items[0]
	if first.Source != "gdelt" || first.Language != "en" {
		t.Errorf("item = %+v", first)
	}
	if first.PublishedAt != time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC) {
		t.Errorf("publishedAt = %v", first.PublishedAt)
	}
	if items[1].Language != "tr" {
		t.Errorf("language = %q, want tr", items[1].Language)
	}
	if first.Raw["domain"] != "example.com" {
		t.Errorf("raw = %v", first.Raw)
	}
}

func TestGDELTCollectFetchError(t *testing.T) {
	g := NewGDELT("", fixedFetch("", errors.New("unreachable")))
	if _, err := g.Collect(context.Background(), time.Time{}); err == nil {
		t.Fatal("expected error")
	}
}

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>Press Releases</title>
	<item>
		<title>Enforcement action announced</title>
		<link>https://example.gov/release/1</link>
		<guid>release-1</guid>
		<description>Summary of the action.</description>
		<pubDate>Mon, 24 Aug 2026 10:30:00 GMT</pubDate>
		<category>Enforcement</category>
	</item>
	<item>
		<title>Old release</title>
		<link>https://example.gov/release/0</link>
		<pubDate>Sun, 23 Aug 2026 10:30:00 GMT</pubDate>
	</item>
	<item>
		<title>Undated release</title>
		<link>https://example.gov/release/2</link>
	</item>
</channel>
</rss>`

func TestRSSCollect(t *testing.T) {
	r := NewRSS("sec_rss", "sec", []Feed{{URL: "https://example.gov/feed", Language: "en"}},
		fixedFetch(rssFixture, nil))
	since := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	items, err := r.Collect(context.Background(), since)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1 (cursor and undated items filtered)", len(items))
	}
	it := items[0]
	if it.Source != "sec" || it.SourceID != "release-1" || it.Language != "en" {
		t.Errorf("item = %+v", it)
	}
	if !strings.Contains(it.Summary, "Summary of the action") {
		t.Errorf("summary = %q", it.Summary)
	}
	if it.Raw["feedTitle"] != "Press Releases" {
		t.Errorf("raw = %v", it.Raw)
	}
}

func TestRSSCollectAllFeedsFailing(t *testing.T) {
	r := NewRSS("sec_rss", "sec", []Feed{
		{URL: "https://a.example/feed"},
		{URL: "https://b.example/feed"},
	}, fixedFetch("", errors.New("unreachable")))

	if _, err := r.Collect(context.Background(), time.Time{}); err == nil {
		t.Fatal("expected error when every feed fails")
	}
}

func TestRSSCollectPartialFeedFailure(t *testing.T) {
	calls := 0
	fetch := func(context.Context, string) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("unreachable")
		}
		return []byte(rssFixture), nil
	}
	r := NewRSS("sec_rss", "sec", []Feed{
		{URL: "https://a.example/feed", Language: "en"},
		{URL: "https://b.example/feed", Language: "en"},
	}, fetch)

	items, err := r.Collect(context.Background(), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Errorf("items = %d, want 2 from the surviving feed", len(items))
	}
}
