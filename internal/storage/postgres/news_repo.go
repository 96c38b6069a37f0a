// Package postgres implements the storage repositories over PostgreSQL
// with sqlx.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/marketfeed/internal/news"
	"github.com/sawpanic/marketfeed/internal/storage"
)

const uniqueViolation = "23505"

type newsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewNewsRepo creates the PostgreSQL news repository.
func NewNewsRepo(db *sqlx.DB, timeout time.Duration) storage.NewsRepo {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &newsRepo{db: db, timeout: timeout}
}

func (r *newsRepo) ExistingURLs(ctx context.Context, urls []string) (map[string]struct{}, error) {
	if len(urls) == 0 {
		return map[string]struct{}{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx,
		`SELECT url FROM news_items WHERE url = ANY($1)`, pq.Array(urls))
	if err != nil {
		return nil, fmt.Errorf("query existing urls: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		out[u] = struct{}{}
	}
	return out, rows.Err()
}

func (r *newsRepo) InsertItems(ctx context.Context, items []news.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO news_items (hash_id, source, source_id, title, url, published_at, language, summary, raw_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (url) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, it := range items {
		rawJSON, err := json.Marshal(it.Raw)
		if err != nil {
			return 0, fmt.Errorf("marshal raw for %s: %w", it.URL, err)
		}
		res, err := stmt.ExecContext(ctx,
			news.HashID(it.URL), it.Source, nullStr(it.SourceID), it.Title, it.URL,
			it.PublishedAt, nullStr(it.Language), nullStr(it.Summary), rawJSON)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", it.URL, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert tx: %w", err)
	}
	return inserted, nil
}

func (r *newsRepo) UpdateRaw(ctx context.Context, url string, raw map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal raw: %w", err)
	}
	// Title and published_at are immutable once written.
	_, err = r.db.ExecContext(ctx,
		`UPDATE news_items SET raw_json = $1 WHERE url = $2`, rawJSON, url)
	if err != nil {
		return fmt.Errorf("update raw for %s: %w", url, err)
	}
	return nil
}

func (r *newsRepo) ItemIDByURL(ctx context.Context, url string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var id int64
	err := r.db.QueryRowxContext(ctx,
		`SELECT id FROM news_items WHERE url = $1`, url).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("lookup id for %s: %w", url, err)
	}
	return id, nil
}

func (r *newsRepo) AttachTicker(ctx context.Context, itemID int64, symbol string, confidence float64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin attach tx: %w", err)
	}
	defer tx.Rollback()

	var tickerID int64
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO tickers (symbol, market)
		VALUES ($1, $2)
		ON CONFLICT (symbol) DO UPDATE SET symbol = EXCLUDED.symbol
		RETURNING id`, symbol, marketFor(symbol)).Scan(&tickerID)
	if err != nil {
		return false, fmt.Errorf("upsert ticker %s: %w", symbol, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO news_item_tickers (news_item_id, ticker_id, confidence)
		VALUES ($1, $2, $3)
		ON CONFLICT (news_item_id, ticker_id) DO NOTHING`,
		itemID, tickerID, confidence)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return false, tx.Commit()
		}
		return false, fmt.Errorf("attach ticker %s: %w", symbol, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, tx.Commit()
}

func (r *newsRepo) AttachTag(ctx context.Context, itemID int64, tag string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin attach tx: %w", err)
	}
	defer tx.Rollback()

	var tagID int64
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO tags (name)
		VALUES (lower($1))
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, tag).Scan(&tagID)
	if err != nil {
		return false, fmt.Errorf("upsert tag %s: %w", tag, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO news_item_tags (news_item_id, tag_id)
		VALUES ($1, $2)
		ON CONFLICT (news_item_id, tag_id) DO NOTHING`,
		itemID, tagID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return false, tx.Commit()
		}
		return false, fmt.Errorf("attach tag %s: %w", tag, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, tx.Commit()
}

// List returns recent items for a category, newest first. A category
// matches items through their tag or their tickers' market.
func (r *newsRepo) List(ctx context.Context, category string, limit int) ([]storage.NewsItem, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT DISTINCT n.id, n.hash_id, n.source, n.source_id, n.title, n.url,
		       n.published_at, n.language, n.summary, n.created_at
		FROM news_items n
		LEFT JOIN news_item_tags nt ON nt.news_item_id = n.id
		LEFT JOIN tags t ON t.id = nt.tag_id
		LEFT JOIN news_item_tickers nk ON nk.news_item_id = n.id
		LEFT JOIN tickers k ON k.id = nk.ticker_id
		WHERE t.name = $1 OR k.market = $1
		ORDER BY n.published_at DESC
		LIMIT $2`, category, limit)
	if err != nil {
		return nil, fmt.Errorf("list news: %w", err)
	}
	defer rows.Close()

	var out []storage.NewsItem
	for rows.Next() {
		it, err := scanListItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.fillAssociations(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *newsRepo) GetByHashID(ctx context.Context, hashID string) (*storage.NewsItem, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowxContext(ctx, `
		SELECT id, hash_id, source, source_id, title, url, published_at,
		       language, summary, raw_json, created_at
		FROM news_items WHERE hash_id = $1`, hashID)

	var it storage.NewsItem
	err := row.Scan(&it.ID, &it.HashID, &it.Source, &it.SourceID, &it.Title,
		&it.URL, &it.PublishedAt, &it.Language, &it.Summary, &it.Raw, &it.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get news %s: %w", hashID, err)
	}

	items := []storage.NewsItem{it}
	if err := r.fillAssociations(ctx, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

func (r *newsRepo) KnownSymbols(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var syms []string
	if err := r.db.SelectContext(ctx, &syms, `SELECT symbol FROM tickers ORDER BY symbol`); err != nil {
		return nil, fmt.Errorf("known symbols: %w", err)
	}
	return syms, nil
}

func (r *newsRepo) LatestItemAt(ctx context.Context, source string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var at sql.NullTime
	query := `SELECT max(created_at) FROM news_items`
	args := []interface{}{}
	if source != "" {
		query += ` WHERE source = $1`
		args = append(args, source)
	}
	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&at); err != nil {
		return time.Time{}, fmt.Errorf("latest item: %w", err)
	}
	if !at.Valid {
		return time.Time{}, nil
	}
	return at.Time, nil
}

// fillAssociations loads ticker symbols and tag names for the given items.
func (r *newsRepo) fillAssociations(ctx context.Context, items []storage.NewsItem) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(items))
	index := make(map[int64]*storage.NewsItem, len(items))
	for i := range items {
		ids = append(ids, items[i].ID)
		index[items[i].ID] = &items[i]
	}

	rows, err := r.db.QueryxContext(ctx, `
		SELECT nk.news_item_id, k.symbol
		FROM news_item_tickers nk JOIN tickers k ON k.id = nk.ticker_id
		WHERE nk.news_item_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load ticker associations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var sym string
		if err := rows.Scan(&id, &sym); err != nil {
			return err
		}
		if it := index[id]; it != nil {
			it.Tickers = append(it.Tickers, sym)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	tagRows, err := r.db.QueryxContext(ctx, `
		SELECT nt.news_item_id, t.name
		FROM news_item_tags nt JOIN tags t ON t.id = nt.tag_id
		WHERE nt.news_item_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load tag associations: %w", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var id int64
		var name string
		if err := tagRows.Scan(&id, &name); err != nil {
			return err
		}
		if it := index[id]; it != nil {
			it.Tags = append(it.Tags, name)
		}
	}
	return tagRows.Err()
}

func scanListItem(rows *sqlx.Rows) (storage.NewsItem, error) {
	var it storage.NewsItem
	err := rows.Scan(&it.ID, &it.HashID, &it.Source, &it.SourceID, &it.Title,
		&it.URL, &it.PublishedAt, &it.Language, &it.Summary, &it.CreatedAt)
	if err != nil {
		return it, fmt.Errorf("scan news item: %w", err)
	}
	return it, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// crypto and BIST symbol sets for ticker market classification; anything
// else is treated as a US equity.
var cryptoSymbols = map[string]struct{}{
	"BTC": {}, "ETH": {}, "SOL": {}, "XRP": {}, "DOGE": {}, "BNB": {},
	"ADA": {}, "AVAX": {},
}

var bistSymbols = map[string]struct{}{
	"THYAO": {}, "GARAN": {}, "AKBNK": {}, "ASELS": {}, "KCHOL": {},
	"SAHOL": {}, "BIMAS": {}, "TCELL": {}, "EREGL": {}, "SISE": {}, "PETKM": {},
}

func marketFor(symbol string) string {
	s := strings.ToUpper(symbol)
	if _, ok := cryptoSymbols[s]; ok || strings.HasSuffix(s, "USDT") {
		return "crypto"
	}
	if _, ok := bistSymbols[s]; ok {
		return "bist"
	}
	return "us"
}
