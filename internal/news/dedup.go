package news

import (
	"sort"
	"time"
)

// Item is one normalized news record entering the pipeline. Raw carries
// the provider payload verbatim; the core never interprets it.
type Item struct {
	Source       string
	SourceID     string
	Title        string
	URL          string
	PublishedAt  time.Time
	Language     string
	Summary      string
	Raw          map[string]interface{}
	DiscoveredAt time.Time
}

// Dedup canonicalizes URLs, drops invalid items, and merges within-batch
// duplicates. The survivor of a duplicate group is the earliest-published
// record; later records contribute their raw fields (first writer wins,
// shadowed values land under _duplicates) and their source IDs and
// discovery times under _sourceIds and _discoveredAts. skipped counts
// both invalid and merged-away items.
func Dedup(items []Item) (valid []Item, skipped int) {
	groups := make(map[string][]Item)
	var order []string

	for _, it := range items {
		it.URL = Canonicalize(it.URL)
		if it.URL == "" || it.Source == "" || it.Title == "" || it.PublishedAt.IsZero() {
			skipped++
			continue
		}
		if _, seen := groups[it.URL]; !seen {
			order = append(order, it.URL)
		}
		groups[it.URL] = append(groups[it.URL], it)
	}

	valid = make([]Item, 0, len(order))
	for _, u := range order {
		group := groups[u]
		if len(group) == 1 {
			valid = append(valid, group[0])
			continue
		}
		skipped += len(group) - 1
		valid = append(valid, mergeGroup(group))
	}
	return valid, skipped
}

func mergeGroup(group []Item) Item {
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].PublishedAt.Before(group[j].PublishedAt)
	})
	base := group[0]

	raw := make(map[string]interface{}, len(base.Raw))
	for k, v := range base.Raw {
		raw[k] = v
	}
	dups := make(map[string][]interface{})
	sourceIDs := make([]interface{}, 0, len(group))
	discovered := make([]interface{}, 0, len(group))

	for _, it := range group {
		if it.SourceID != "" {
			sourceIDs = append(sourceIDs, it.SourceID)
		}
		if !it.DiscoveredAt.IsZero() {
			discovered = append(discovered, it.DiscoveredAt.UTC().Format(time.RFC3339))
		}
	}
	for _, it := range group[1:] {
		for k, v := range it.Raw {
			if _, held := raw[k]; !held {
				raw[k] = v
				continue
			}
			dups[k] = append(dups[k], v)
		}
	}

	if len(sourceIDs) > 0 {
		raw["_sourceIds"] = sourceIDs
	}
	if len(discovered) > 0 {
		raw["_discoveredAts"] = discovered
	}
	if len(dups) > 0 {
		raw["_duplicates"] = dups
	}
	base.Raw = raw
	return base
}
