// Package config loads service configuration from the environment with
// strict validation and optional YAML host policies.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/marketfeed/internal/httpx"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Port     int
	LogLevel string

	// DATABASE_URL; empty disables storage, news and collectors.
	DatabaseURL string

	// Outbound HTTP.
	HTTPTimeout  time.Duration
	HTTPRetries  int
	HTTPCacheTTL time.Duration
	HostPolicies []httpx.HostPolicy

	// Circuit breakers.
	FailureThreshold int
	RecoveryTimeout  time.Duration

	// Provider throttling.
	YahooConcurrency int
	YahooMinDelay    time.Duration

	// Response cache.
	CacheTTL     time.Duration
	CacheMaxSize int

	// Deterministic mock fallback when upstreams are down.
	MockFallback bool

	// Ingestion toggles.
	GDELTEnabled         bool
	SECRSSEnabled        bool
	KAPEnabled           bool
	GoogleNewsRSSEnabled bool

	NewsFreshness time.Duration

	// Auth. JWTSecret is required only when auth is enabled.
	AuthEnabled  bool
	JWTSecret    string
	BcryptRounds int
}

type parser struct {
	errs []string
}

func (p *parser) errorf(format string, args ...interface{}) {
	p.errs = append(p.errs, fmt.Sprintf(format, args...))
}

func (p *parser) str(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

func (p *parser) int(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errorf("%s: %q is not an integer", name, v)
		return def
	}
	return n
}

func (p *parser) bool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errorf("%s: %q is not a boolean", name, v)
		return def
	}
	return b
}

func (p *parser) millis(name string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.errorf("%s: %q is not a non-negative millisecond count", name, v)
		return def
	}
	return time.Duration(n) * time.Millisecond
}

// Load reads the environment, after loading an optional .env file, and
// refuses to proceed on any unparseable or missing required value.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env file")
	}

	var p parser
	cfg := &Config{
		Port:     p.int("PORT", 8080),
		LogLevel: p.str("LOG_LEVEL", "info"),

		DatabaseURL: p.str("DATABASE_URL", ""),

		HTTPTimeout:  p.millis("HTTP_TIMEOUT_MS", 8000*time.Millisecond),
		HTTPRetries:  p.int("HTTP_RETRY_COUNT", 3),
		HTTPCacheTTL: p.millis("HTTP_CACHE_TTL_MS", 0),

		FailureThreshold: p.int("FAILURE_THRESHOLD", 5),
		RecoveryTimeout:  p.millis("RECOVERY_TIMEOUT_MS", 1800000*time.Millisecond),

		YahooConcurrency: p.int("YAHOO_CONCURRENCY", 3),
		YahooMinDelay:    p.millis("YAHOO_MIN_DELAY_MS", 100*time.Millisecond),

		CacheTTL:     p.millis("CACHE_TTL_MS", 60000*time.Millisecond),
		CacheMaxSize: p.int("CACHE_MAX_SIZE", 1000),

		MockFallback: p.bool("MOCK_FALLBACK", true),

		GDELTEnabled:         p.bool("GDELT_ENABLED", false),
		SECRSSEnabled:        p.bool("SEC_RSS_ENABLED", false),
		KAPEnabled:           p.bool("KAP_ENABLED", false),
		GoogleNewsRSSEnabled: p.bool("GOOGLE_NEWS_RSS_ENABLED", false),

		NewsFreshness: p.millis("NEWS_FRESHNESS_MS", 2*time.Hour),

		AuthEnabled:  p.bool("AUTH_ENABLED", false),
		JWTSecret:    p.str("JWT_SECRET", ""),
		BcryptRounds: p.int("BCRYPT_ROUNDS", 12),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		p.errorf("PORT: %d is out of range", cfg.Port)
	}
	if cfg.HTTPRetries < 0 {
		p.errorf("HTTP_RETRY_COUNT: must be non-negative")
	}
	if cfg.FailureThreshold <= 0 {
		p.errorf("FAILURE_THRESHOLD: must be positive")
	}
	if cfg.YahooConcurrency <= 0 {
		p.errorf("YAHOO_CONCURRENCY: must be positive")
	}
	if cfg.CacheMaxSize <= 0 {
		p.errorf("CACHE_MAX_SIZE: must be positive")
	}
	if cfg.AuthEnabled && cfg.JWTSecret == "" {
		p.errorf("JWT_SECRET: required when AUTH_ENABLED is true")
	}
	if cfg.BcryptRounds < 4 || cfg.BcryptRounds > 31 {
		p.errorf("BCRYPT_ROUNDS: %d is out of range", cfg.BcryptRounds)
	}
	if anyEnabled(cfg.GDELTEnabled, cfg.SECRSSEnabled, cfg.KAPEnabled, cfg.GoogleNewsRSSEnabled) && cfg.DatabaseURL == "" {
		p.errorf("DATABASE_URL: required when any ingestion source is enabled")
	}

	if path := p.str("HOST_POLICY_FILE", ""); path != "" {
		policies, err := LoadHostPolicies(path)
		if err != nil {
			p.errorf("HOST_POLICY_FILE: %v", err)
		} else {
			cfg.HostPolicies = policies
		}
	}

	if len(p.errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(p.errs, "; "))
	}
	return cfg, nil
}

func anyEnabled(flags ...bool) bool {
	for _, f := range flags {
		if f {
			return true
		}
	}
	return false
}

type hostPolicyFile struct {
	Policies []struct {
		Pattern        string `yaml:"pattern"`
		MinIntervalMs  int    `yaml:"min_interval_ms"`
		MaxConcurrency int    `yaml:"max_concurrency"`
	} `yaml:"policies"`
}

// LoadHostPolicies reads per-host pacing rules from a YAML file.
func LoadHostPolicies(path string) ([]httpx.HostPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file hostPolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make([]httpx.HostPolicy, 0, len(file.Policies))
	for _, p := range file.Policies {
		if p.Pattern == "" {
			return nil, fmt.Errorf("%s: host policy without pattern", path)
		}
		out = append(out, httpx.HostPolicy{
			Pattern:        p.Pattern,
			MinInterval:    time.Duration(p.MinIntervalMs) * time.Millisecond,
			MaxConcurrency: p.MaxConcurrency,
		})
	}
	return out, nil
}
