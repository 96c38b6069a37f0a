package news

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Store is the persistence surface the pipeline drives. Attach calls
// tolerate duplicate keys internally and report whether a new row was
// written; any other storage error is fatal for the current chunk.
type Store interface {
	ExistingURLs(ctx context.Context, urls []string) (map[string]struct{}, error)
	InsertItems(ctx context.Context, items []Item) (inserted int, err error)
	UpdateRaw(ctx context.Context, url string, raw map[string]interface{}) error
	ItemIDByURL(ctx context.Context, url string) (int64, error)
	AttachTicker(ctx context.Context, itemID int64, symbol string, confidence float64) (bool, error)
	AttachTag(ctx context.Context, itemID int64, tag string) (bool, error)
}

// Result aggregates one ingestion run.
type Result struct {
	Inserted         int      `json:"inserted"`
	Updated          int      `json:"updated"`
	Skipped          int      `json:"skipped"`
	TickersAttached  int      `json:"tickersAttached"`
	TagsAttached     int      `json:"tagsAttached"`
	ProcessingTimeMs int64    `json:"processingTimeMs"`
	Errors           []string `json:"errors,omitempty"`
}

const defaultPipelineChunk = 50

// Pipeline runs dedup, partitioned upsert and tagging over item batches.
// Chunks fail independently: one bad chunk is recorded and the next one
// proceeds.
type Pipeline struct {
	store     Store
	tagger    *Tagger
	chunkSize int
}

// NewPipeline wires a pipeline. chunkSize <= 0 gets the default of 50.
func NewPipeline(store Store, tagger *Tagger, chunkSize int) *Pipeline {
	if chunkSize <= 0 {
		chunkSize = defaultPipelineChunk
	}
	return &Pipeline{store: store, tagger: tagger, chunkSize: chunkSize}
}

// Ingest processes a batch end to end and reports what happened.
// Re-running the same inputs is idempotent: inserts drop to zero and
// every surviving item counts as updated.
func (p *Pipeline) Ingest(ctx context.Context, items []Item) *Result {
	start := time.Now()
	res := &Result{}

	valid, skipped := Dedup(items)
	res.Skipped = skipped

	for i := 0; i < len(valid); i += p.chunkSize {
		end := min(i+p.chunkSize, len(valid))
		p.ingestChunk(ctx, valid[i:end], res)
	}

	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	log.Info().
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Int("tickers", res.TickersAttached).
		Int("tags", res.TagsAttached).
		Int("errors", len(res.Errors)).
		Int64("ms", res.ProcessingTimeMs).
		Msg("news ingestion finished")
	return res
}

func (p *Pipeline) ingestChunk(ctx context.Context, chunk []Item, res *Result) {
	urls := make([]string, 0, len(chunk))
	for _, it := range chunk {
		urls = append(urls, it.URL)
	}

	existing, err := p.store.ExistingURLs(ctx, urls)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("chunk lookup: %v", err))
		return
	}

	var inserts []Item
	var updates []Item
	for _, it := range chunk {
		if _, ok := existing[it.URL]; ok {
			updates = append(updates, it)
		} else {
			inserts = append(inserts, it)
		}
	}

	if len(inserts) > 0 {
		inserted, err := p.store.InsertItems(ctx, inserts)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("chunk insert: %v", err))
			return
		}
		res.Inserted += inserted
		// A concurrent writer may have won the race on some URLs; the
		// unique conflict is tolerated and counted as skipped.
		res.Skipped += len(inserts) - inserted
	}
	for _, it := range updates {
		if err := p.store.UpdateRaw(ctx, it.URL, it.Raw); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("update %s: %v", it.URL, err))
			continue
		}
		res.Updated++
	}

	for _, it := range chunk {
		id, err := p.store.ItemIDByURL(ctx, it.URL)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("id lookup %s: %v", it.URL, err))
			continue
		}
		matches, tags := p.tagger.Extract(it.Title + " " + it.Summary)
		aborted := false
		for _, m := range matches {
			attached, err := p.store.AttachTicker(ctx, id, m.Symbol, m.Confidence)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("attach ticker %s: %v", m.Symbol, err))
				aborted = true
				break
			}
			if attached {
				res.TickersAttached++
			}
		}
		if aborted {
			return
		}
		for _, tag := range tags {
			attached, err := p.store.AttachTag(ctx, id, tag)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("attach tag %s: %v", tag, err))
				return
			}
			if attached {
				res.TagsAttached++
			}
		}
	}
}
