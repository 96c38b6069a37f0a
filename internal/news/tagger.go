package news

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// TickerMatch is one extracted ticker with a confidence score.
type TickerMatch struct {
	Symbol     string
	Confidence float64
}

// Confidence levels: a literal symbol mention beats a name alias.
const (
	symbolConfidence = 0.9
	aliasConfidence  = 0.7
)

// tickerAliases maps company and common names to canonical symbols. The
// symbol itself always matches.
var tickerAliases = map[string]string{
	"bitcoin":          "BTC",
	"ethereum":         "ETH",
	"solana":           "SOL",
	"ripple":           "XRP",
	"dogecoin":         "DOGE",
	"apple":            "AAPL",
	"microsoft":        "MSFT",
	"alphabet":         "GOOGL",
	"google":           "GOOGL",
	"amazon":           "AMZN",
	"tesla":            "TSLA",
	"nvidia":           "NVDA",
	"meta":             "META",
	"netflix":          "NFLX",
	"turkish airlines": "THYAO",
	"türk hava yolları": "THYAO",
	"garanti":          "GARAN",
	"akbank":           "AKBNK",
	"aselsan":          "ASELS",
	"koç holding":      "KCHOL",
	"sabancı":          "SAHOL",
	"bim":              "BIMAS",
	"turkcell":         "TCELL",
	"ereğli":           "EREGL",
}

// knownSymbols are matched literally, uppercase word-boundary.
var knownSymbols = []string{
	"BTC", "ETH", "SOL", "XRP", "DOGE", "BNB", "ADA", "AVAX",
	"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "NVDA", "META", "NFLX",
	"THYAO", "GARAN", "AKBNK", "ASELS", "KCHOL", "SAHOL", "BIMAS",
	"TCELL", "EREGL", "SISE", "PETKM",
}

// keywordTags maps lowercase keywords to tags.
var keywordTags = map[string]string{
	"inflation":     "economy",
	"enflasyon":     "economy",
	"interest rate": "economy",
	"faiz":          "economy",
	"central bank":  "economy",
	"merkez bankası": "economy",
	"fed":           "economy",
	"gdp":           "economy",
	"recession":     "economy",
	"earnings":      "earnings",
	"bilanço":       "earnings",
	"dividend":      "dividend",
	"temettü":       "dividend",
	"merger":        "mna",
	"acquisition":   "mna",
	"ipo":           "ipo",
	"halka arz":     "ipo",
	"regulation":    "regulation",
	"sec":           "regulation",
	"etf":           "etf",
	"halving":       "crypto",
	"blockchain":    "crypto",
	"stablecoin":    "crypto",
	"bist":          "bist",
	"borsa istanbul": "bist",
}

// stopwords are short common words that would otherwise collide with
// symbols (English and Turkish).
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "is": {}, "are": {}, "was": {},
	"be": {}, "by": {}, "it": {}, "as": {}, "ve": {}, "ile": {}, "bir": {},
	"bu": {}, "da": {}, "de": {}, "mi": {}, "ne": {}, "o": {}, "en": {},
	"için": {}, "gibi": {}, "ama": {}, "ki": {},
}

// Tagger extracts tickers and tags from text with fixed tables. It is a
// pure function of its input; the optional symbol filter narrows ticker
// candidates to symbols known to storage.
type Tagger struct {
	symbolRe  *regexp.Regexp
	aliasRes  map[string]*regexp.Regexp // alias -> compiled pattern
	keywordRe map[string]*regexp.Regexp

	mu     sync.RWMutex
	filter map[string]struct{} // nil = accept all
}

// NewTagger compiles the match tables.
func NewTagger() *Tagger {
	t := &Tagger{
		aliasRes:  make(map[string]*regexp.Regexp, len(tickerAliases)),
		keywordRe: make(map[string]*regexp.Regexp, len(keywordTags)),
	}
	t.symbolRe = regexp.MustCompile(`\b(` + strings.Join(knownSymbols, "|") + `)\b`)
	for alias := range tickerAliases {
		t.aliasRes[alias] = wordPattern(alias)
	}
	for kw := range keywordTags {
		t.keywordRe[kw] = wordPattern(kw)
	}
	return t
}

// wordPattern builds a whole-word matcher that also works for phrases
// with non-ASCII letters, where \b is unreliable.
func wordPattern(phrase string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])` + regexp.QuoteMeta(phrase) + `(?:$|[^\p{L}\p{N}])`)
}

// SetSymbolFilter restricts ticker results to the given symbols. Nil
// clears the filter. Called periodically with the symbols storage knows.
func (t *Tagger) SetSymbolFilter(syms []string) {
	var filter map[string]struct{}
	if syms != nil {
		filter = make(map[string]struct{}, len(syms))
		for _, s := range syms {
			filter[strings.ToUpper(s)] = struct{}{}
		}
	}
	t.mu.Lock()
	t.filter = filter
	t.mu.Unlock()
}

func (t *Tagger) allowed(sym string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.filter == nil {
		return true
	}
	_, ok := t.filter[sym]
	return ok
}

// Extract returns deduplicated tickers and tags found in text. Matching
// is case-insensitive for aliases and keywords; literal symbols must be
// uppercase in the text and longer than a stopword collision.
func (t *Tagger) Extract(text string) ([]TickerMatch, []string) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	tickers := make(map[string]float64)
	for _, m := range t.symbolRe.FindAllString(text, -1) {
		if _, stop := stopwords[strings.ToLower(m)]; stop {
			continue
		}
		if t.allowed(m) && tickers[m] < symbolConfidence {
			tickers[m] = symbolConfidence
		}
	}
	for alias, re := range t.aliasRes {
		if !re.MatchString(text) {
			continue
		}
		sym := tickerAliases[alias]
		if t.allowed(sym) && tickers[sym] < aliasConfidence {
			tickers[sym] = aliasConfidence
		}
	}

	tagSet := make(map[string]struct{})
	for kw, re := range t.keywordRe {
		if re.MatchString(text) {
			tagSet[keywordTags[kw]] = struct{}{}
		}
	}

	matches := make([]TickerMatch, 0, len(tickers))
	for sym, conf := range tickers {
		matches = append(matches, TickerMatch{Symbol: sym, Confidence: conf})
	}
	tags := make([]string, 0, len(tagSet))
	for tag := range tagSet {
		tags = append(tags, tag)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Symbol < matches[j].Symbol })
	sort.Strings(tags)
	return matches, tags
}