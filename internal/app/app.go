// Package app wires configuration, providers, services, streams,
// storage and the HTTP server into one runnable unit.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketfeed/internal/api"
	"github.com/sawpanic/marketfeed/internal/cache"
	"github.com/sawpanic/marketfeed/internal/circuit"
	"github.com/sawpanic/marketfeed/internal/collector"
	"github.com/sawpanic/marketfeed/internal/config"
	"github.com/sawpanic/marketfeed/internal/health"
	"github.com/sawpanic/marketfeed/internal/httpx"
	"github.com/sawpanic/marketfeed/internal/limiter"
	"github.com/sawpanic/marketfeed/internal/metrics"
	"github.com/sawpanic/marketfeed/internal/news"
	"github.com/sawpanic/marketfeed/internal/provider/binance"
	"github.com/sawpanic/marketfeed/internal/provider/yahoo"
	"github.com/sawpanic/marketfeed/internal/service"
	"github.com/sawpanic/marketfeed/internal/storage"
	"github.com/sawpanic/marketfeed/internal/storage/postgres"
	"github.com/sawpanic/marketfeed/internal/stream"
	"github.com/sawpanic/marketfeed/internal/symbols"
)

// collector schedules; GDELT aggregates slowly, disclosure feeds move
// faster.
const (
	gdeltSchedule      = "@every 15m"
	secSchedule        = "@every 10m"
	kapSchedule        = "@every 5m"
	googleNewsSchedule = "@every 10m"
	symbolRefresh      = "@every 10m"
)

// App owns every long-lived component and tears them down in reverse
// order of construction.
type App struct {
	cfg *config.Config

	server     *api.Server
	priceHub   *stream.Hub
	tradeHub   *stream.Hub
	supervisor *stream.Supervisor
	scheduler  *collector.Scheduler
	caches     []*cache.TTLCache
	db         *sqlx.DB
}

// New builds the full object graph from configuration. Nothing is
// started yet; Run does that.
func New(cfg *config.Config) (*App, error) {
	exec, err := httpx.New(httpx.Config{
		Timeout:    cfg.HTTPTimeout,
		MaxRetries: cfg.HTTPRetries,
		CacheTTL:   cfg.HTTPCacheTTL,
		UserAgent:  "marketfeed/1.0",
		Policies:   cfg.HostPolicies,
	})
	if err != nil {
		return nil, fmt.Errorf("build http executor: %w", err)
	}
	get := func(ctx context.Context, url string) ([]byte, error) {
		resp, err := exec.Get(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}

	breakers := circuit.NewManager()
	binanceBreaker := breakers.Add(circuit.Config{
		Name:             "binance",
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
	})
	yahooBreaker := breakers.Add(circuit.Config{
		Name:             "yahoo",
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
	})

	cryptoCache := cache.New(cache.Options{MaxEntries: cfg.CacheMaxSize})
	yahooCache := cache.New(cache.Options{MaxEntries: cfg.CacheMaxSize})
	scanCache := cache.New(cache.Options{MaxEntries: cfg.CacheMaxSize})

	binanceClient := binance.NewClient("", exec)
	yahooClient := yahoo.NewClient("", get)

	cryptoSvc := service.NewCryptoService(binanceClient, service.CryptoOptions{
		Cache:        cryptoCache,
		Limiter:      limiter.New(8),
		Breaker:      binanceBreaker,
		MockFallback: cfg.MockFallback,
		ChartTTL:     cfg.CacheTTL,
	})

	yahooThrottle := limiter.NewThrottled(cfg.YahooConcurrency, cfg.YahooMinDelay)
	bistSvc := service.NewMarketService(symbols.MarketBIST, yahooClient, service.MarketOptions{
		Cache:        yahooCache,
		Limiter:      yahooThrottle,
		Breaker:      yahooBreaker,
		MockFallback: cfg.MockFallback,
		ChartTTL:     cfg.CacheTTL,
		DetailTTL:    cfg.CacheTTL,
	})
	usSvc := service.NewMarketService(symbols.MarketUS, yahooClient, service.MarketOptions{
		Cache:        yahooCache,
		Limiter:      yahooThrottle,
		Breaker:      yahooBreaker,
		MockFallback: cfg.MockFallback,
		ChartTTL:     cfg.CacheTTL,
		DetailTTL:    cfg.CacheTTL,
	})

	scans := map[symbols.Market]api.Scanner{
		symbols.MarketCrypto: service.NewBatchService(symbols.MarketCrypto, cryptoSvc, service.BatchOptions{Cache: scanCache}),
		symbols.MarketBIST:   service.NewBatchService(symbols.MarketBIST, bistSvc, service.BatchOptions{Cache: scanCache}),
		symbols.MarketUS:     service.NewBatchService(symbols.MarketUS, usSvc, service.BatchOptions{Cache: scanCache}),
	}

	priceHub := stream.NewHub(stream.Config{})
	supervisor := stream.NewSupervisor(func() stream.Upstream {
		return binance.NewStream("")
	}, priceHub)

	// Equity trades have no upstream feed wired yet; the hub still
	// enforces caps and serves the subscribe protocol.
	tradeHub := stream.NewHub(stream.Config{
		Normalize: func(raw string) (string, error) {
			return symbols.Normalize(raw, symbols.MarketUS)
		},
		ServerCap: 200,
	})

	app := &App{
		cfg:        cfg,
		priceHub:   priceHub,
		tradeHub:   tradeHub,
		supervisor: supervisor,
		caches:     []*cache.TTLCache{cryptoCache, yahooCache, scanCache},
	}

	reg := metrics.NewRegistry()
	reg.ObserveCache("crypto", cryptoCache.Stats)
	reg.ObserveCache("yahoo", yahooCache.Stats)
	reg.ObserveCache("scan", scanCache.Stats)
	for name, b := range map[string]*circuit.Breaker{"binance": binanceBreaker, "yahoo": yahooBreaker} {
		b := b
		reg.ObserveUpstream(name, func() (int64, int64) {
			s := b.Snapshot()
			return s.TotalRequests, s.TotalRejected
		})
	}
	for name, hub := range map[string]*stream.Hub{"price": priceHub, "trades": tradeHub} {
		hub := hub
		reg.ObserveStream(name, func() (int, int64, int64) {
			s := hub.Stats()
			return s.Clients, s.Delivered, s.Dropped
		})
	}

	var (
		newsRepo storage.NewsRepo
		pinger   storage.Pinger
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(postgres.DefaultConfig(cfg.DatabaseURL))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		app.db = db
		pinger = db.DB
		newsRepo = postgres.NewNewsRepo(db, 30*time.Second)

		if err := app.buildCollectors(newsRepo, postgres.NewIngestionRepo(db, 30*time.Second), get, reg); err != nil {
			db.Close()
			return nil, err
		}
	}

	checker := health.NewChecker(health.Options{
		DB:        pinger,
		News:      newsRepo,
		Scheduler: app.scheduler,
		Breakers:  breakers,
		Hubs:      map[string]*stream.Hub{"price": priceHub, "trades": tradeHub},
		Freshness: cfg.NewsFreshness,
	})

	handlers := &api.Handlers{
		Markets: map[symbols.Market]api.MarketService{
			symbols.MarketCrypto: cryptoSvc,
			symbols.MarketBIST:   bistSvc,
			symbols.MarketUS:     usSvc,
		},
		Scans:   scans,
		Checker: checker,
		Metrics: reg,
		Streams: map[string]http.HandlerFunc{
			"price":  stream.Handler(priceHub),
			"trades": stream.Handler(tradeHub),
		},
	}
	if newsRepo != nil {
		handlers.News = newsRepo
	}

	app.server = api.NewServer(api.DefaultServerConfig(cfg.Port), handlers)
	return app, nil
}

func (a *App) buildCollectors(newsRepo storage.NewsRepo, ingest storage.IngestionRepo, fetch func(context.Context, string) ([]byte, error), reg *metrics.Registry) error {
	tagger := news.NewTagger()
	pipe := news.NewPipeline(newsRepo, tagger, 0)
	sched := collector.NewScheduler()

	type entry struct {
		enabled  bool
		schedule string
		src      collector.Source
	}
	entries := []entry{
		{a.cfg.GDELTEnabled, gdeltSchedule, collector.NewGDELT("", fetch)},
		{a.cfg.SECRSSEnabled, secSchedule, collector.NewSECRSS(fetch)},
		{a.cfg.KAPEnabled, kapSchedule, collector.NewKAPRSS(fetch)},
		{a.cfg.GoogleNewsRSSEnabled, googleNewsSchedule, collector.NewGoogleNewsRSS(fetch)},
	}
	scheduled := 0
	for _, e := range entries {
		if !e.enabled {
			continue
		}
		r := collector.NewRunner(e.src, pipe, ingest)
		r.Metrics = reg
		if err := sched.Add(e.schedule, r); err != nil {
			return fmt.Errorf("schedule %s: %w", e.src.Name(), err)
		}
		scheduled++
	}
	if scheduled == 0 {
		return nil
	}
	if err := sched.AddFunc(symbolRefresh, func() {
		collector.RefreshSymbolFilter(context.Background(), newsRepo, tagger)
	}); err != nil {
		return err
	}
	a.scheduler = sched
	return nil
}

// Run starts everything and blocks until ctx is canceled, then shuts
// down gracefully.
func (a *App) Run(ctx context.Context) error {
	supCtx, cancelSup := context.WithCancel(ctx)
	defer cancelSup()
	go a.supervisor.Run(supCtx)

	if a.scheduler != nil {
		a.scheduler.Start()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	a.shutdown()
	return nil
}

func (a *App) shutdown() {
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}

	a.priceHub.Shutdown()
	a.tradeHub.Shutdown()

	if a.scheduler != nil {
		<-a.scheduler.Stop().Done()
	}
	for _, c := range a.caches {
		c.Stop()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("storage close")
		}
	}
}
