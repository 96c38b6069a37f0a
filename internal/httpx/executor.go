// Package httpx wraps raw HTTP with the per-host policies every provider
// client shares: minimum inter-request interval, bounded concurrency, hard
// timeout, retries with exponential backoff and jitter, and an optional
// response-body cache. Errors are classified so provider clients can map
// them onto the taxonomy without string matching.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrorKind classifies executor failures.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindTimeout
	KindStatus
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindStatus:
		return "http_status"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is the executor's failure surface.
type Error struct {
	Kind    ErrorKind
	URL     string
	Status  int    // set for KindStatus
	Snippet string // first bytes of the failing body, for diagnostics
	cause   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("http %d from %s: %s", e.Status, e.URL, e.Snippet)
	default:
		return fmt.Sprintf("%s error for %s: %v", e.Kind, e.URL, e.cause)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// AsError extracts an executor error when err carries one.
func AsError(err error) (*Error, bool) {
	var he *Error
	ok := errors.As(err, &he)
	return he, ok
}

// Response is a fully drained HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HostPolicy tunes pacing for hosts matching Pattern (a regexp applied to
// the request host). First match wins.
type HostPolicy struct {
	Pattern        string        `yaml:"pattern"`
	MinInterval    time.Duration `yaml:"min_interval"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// Config holds executor-wide policy. Zero values take the defaults noted.
type Config struct {
	Timeout     time.Duration // per request, default 8s
	MaxRetries  int           // default 3
	BackoffBase time.Duration // default 500ms
	BackoffCap  time.Duration // default 10s
	CacheTTL    time.Duration // body cache default TTL, 0 = off
	UserAgent   string
	Policies    []HostPolicy
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Timeout <= 0 {
		out.Timeout = 8 * time.Second
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.BackoffBase <= 0 {
		out.BackoffBase = 500 * time.Millisecond
	}
	if out.BackoffCap <= 0 {
		out.BackoffCap = 10 * time.Second
	}
	return out
}

type hostPolicy struct {
	re             *regexp.Regexp
	minInterval    time.Duration
	maxConcurrency int
}

type hostState struct {
	pacer *rate.Limiter
	sem   chan struct{}
}

// Executor issues outbound requests under per-host pacing. One Executor is
// shared by all clients of a provider service.
type Executor struct {
	cfg      Config
	client   *http.Client
	policies []hostPolicy

	mu    sync.Mutex
	hosts map[string]*hostState

	bodyCache *gocache.Cache
}

// New builds an executor. Invalid policy patterns are rejected.
func New(cfg Config) (*Executor, error) {
	cfg = cfg.withDefaults()

	policies := make([]hostPolicy, 0, len(cfg.Policies))
	for _, p := range cfg.Policies {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("host policy %q: %w", p.Pattern, err)
		}
		policies = append(policies, hostPolicy{
			re:             re,
			minInterval:    p.MinInterval,
			maxConcurrency: p.MaxConcurrency,
		})
	}

	e := &Executor{
		cfg:      cfg,
		client:   &http.Client{},
		policies: policies,
		hosts:    make(map[string]*hostState),
	}
	if cfg.CacheTTL > 0 {
		e.bodyCache = gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return e, nil
}

// Get issues a GET with the executor's retry and pacing policy.
func (e *Executor) Get(ctx context.Context, url string, header http.Header) (*Response, error) {
	return e.Do(ctx, http.MethodGet, url, header, nil)
}

// GetCached serves from the body cache when a fresh entry exists, else
// fetches and caches for ttl. A ttl of zero uses the configured default.
func (e *Executor) GetCached(ctx context.Context, url string, header http.Header, ttl time.Duration) (*Response, error) {
	if e.bodyCache == nil {
		return e.Get(ctx, url, header)
	}
	key := cacheKey(url, header)
	if v, ok := e.bodyCache.Get(key); ok {
		return v.(*Response), nil
	}
	resp, err := e.Get(ctx, url, header)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = e.cfg.CacheTTL
	}
	e.bodyCache.Set(key, resp, ttl)
	return resp, nil
}

// Do runs the request through pacing, timeout and the retry loop.
// Retries apply to 429, 5xx and transport errors; other statuses surface
// immediately as KindStatus errors.
func (e *Executor) Do(ctx context.Context, method, url string, header http.Header, body io.Reader) (*Response, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: url, cause: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if e.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}

	host := req.URL.Host
	state := e.hostState(host)

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.backoff(attempt - 1)
			if ra, ok := retryAfterOf(lastErr); ok {
				delay = ra
			}
			log.Debug().
				Str("host", host).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, classifyCtx(ctx, url)
			}
		}

		resp, err := e.attempt(ctx, req, state)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		he, _ := AsError(err)
		if he == nil || !retryable(he) {
			return nil, err
		}
	}
	return nil, lastErr
}

// attempt performs one paced request with the hard per-request timeout.
func (e *Executor) attempt(ctx context.Context, req *http.Request, state *hostState) (*Response, error) {
	url := req.URL.String()

	select {
	case state.sem <- struct{}{}:
		defer func() { <-state.sem }()
	case <-ctx.Done():
		return nil, classifyCtx(ctx, url)
	}
	if err := state.pacer.Wait(ctx); err != nil {
		return nil, classifyCtx(ctx, url)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp, err := e.client.Do(req.WithContext(reqCtx))
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, classifyCtx(ctx, url)
		case errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded:
			return nil, &Error{Kind: KindTimeout, URL: url, cause: err}
		default:
			return nil, &Error{Kind: KindTransport, URL: url, cause: err}
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, &Error{Kind: KindTimeout, URL: url, cause: err}
		}
		return nil, &Error{Kind: KindTransport, URL: url, cause: err}
	}

	if resp.StatusCode >= 400 {
		he := &Error{
			Kind:    KindStatus,
			URL:     url,
			Status:  resp.StatusCode,
			Snippet: snippet(data),
		}
		if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			he.cause = retryAfterHint(ra)
		}
		return nil, he
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (e *Executor) hostState(host string) *hostState {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.hosts[host]; ok {
		return s
	}

	minInterval := time.Duration(0)
	maxConc := 4
	for _, p := range e.policies {
		if p.re.MatchString(host) {
			minInterval = p.minInterval
			if p.maxConcurrency > 0 {
				maxConc = p.maxConcurrency
			}
			break
		}
	}

	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	s := &hostState{
		pacer: rate.NewLimiter(limit, 1),
		sem:   make(chan struct{}, maxConc),
	}
	e.hosts[host] = s
	return s
}

// backoff computes min(cap, base*2^attempt) plus 0..200ms of jitter.
func (e *Executor) backoff(attempt int) time.Duration {
	d := e.cfg.BackoffBase << uint(attempt)
	if d > e.cfg.BackoffCap || d <= 0 {
		d = e.cfg.BackoffCap
	}
	return d + time.Duration(rand.Intn(200))*time.Millisecond
}

func retryable(he *Error) bool {
	switch he.Kind {
	case KindTransport, KindTimeout:
		return true
	case KindStatus:
		return he.Status == http.StatusTooManyRequests || he.Status >= 500
	default:
		return false
	}
}

func classifyCtx(ctx context.Context, url string) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, URL: url, cause: ctx.Err()}
	}
	return &Error{Kind: KindCanceled, URL: url, cause: ctx.Err()}
}

// retryAfterHint smuggles a parsed Retry-After through the error chain so
// the retry loop can honor it for the next attempt.
type retryAfterHint time.Duration

func (r retryAfterHint) Error() string { return fmt.Sprintf("retry after %s", time.Duration(r)) }

func retryAfterOf(err error) (time.Duration, bool) {
	var hint retryAfterHint
	if errors.As(err, &hint) {
		return time.Duration(hint), true
	}
	return 0, false
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max]
	}
	return s
}

// cacheKey sorts headers so equivalent requests share an entry.
func cacheKey(url string, header http.Header) string {
	if len(header) == 0 {
		return url
	}
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		vs := append([]string(nil), header[k]...)
		sort.Strings(vs)
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(strings.Join(vs, ","))
	}
	return b.String()
}
