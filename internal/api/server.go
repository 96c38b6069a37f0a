package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// ServerConfig holds listener and middleware settings.
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	RatePerMinute  int
}

// DefaultServerConfig returns production defaults on the given port.
func DefaultServerConfig(port int) ServerConfig {
	return ServerConfig{
		Port:           port,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 10 * time.Second,
		RatePerMinute:  120,
	}
}

// Server is the HTTP front of the service.
type Server struct {
	router  *mux.Router
	server  *http.Server
	limiter *ipRateLimiter
	cfg     ServerConfig
}

// NewServer builds the router and wires middleware around the handlers.
func NewServer(cfg ServerConfig, h *Handlers) *Server {
	router := mux.NewRouter()
	limiter := newIPRateLimiter(cfg.RatePerMinute)

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware(h.Metrics))
	router.Use(corsMiddleware)
	router.Use(timeoutMiddleware(cfg.RequestTimeout))
	router.Use(rateLimitMiddleware(limiter))

	router.HandleFunc("/{market:crypto|bist|us}/quote", h.Quote).Methods("GET")
	router.HandleFunc("/{market:crypto|bist|us}/quotes", h.Quotes).Methods("GET")
	router.HandleFunc("/{market:crypto|bist|us}/chart", h.Chart).Methods("GET")
	router.HandleFunc("/{market:crypto|bist|us}/detail", h.Detail).Methods("GET")
	router.HandleFunc("/markets/{market}", h.MarketScan).Methods("GET")

	router.HandleFunc("/news", h.NewsList).Methods("GET")
	router.HandleFunc("/news/article/{id}", h.NewsArticle).Methods("GET")

	router.HandleFunc("/health", h.HealthReport).Methods("GET")
	router.HandleFunc("/health/live", h.HealthLive).Methods("GET")
	router.HandleFunc("/health/ready", h.HealthReady).Methods("GET")
	router.HandleFunc("/health/collectors", h.HealthCollectors).Methods("GET")

	if h.Metrics != nil {
		router.Handle("/metrics", h.Metrics.Handler()).Methods("GET")
		router.HandleFunc("/metrics/json", h.Metrics.JSONHandler()).Methods("GET")
	}

	for name, handler := range h.Streams {
		router.HandleFunc("/ws/"+name, handler)
	}

	router.NotFoundHandler = applyBase(http.HandlerFunc(h.NotFound))
	router.MethodNotAllowedHandler = applyBase(http.HandlerFunc(h.NotFound))

	s := &Server{
		router:  router,
		limiter: limiter,
		cfg:     cfg,
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// applyBase stamps a request id on responses that bypass the router
// middleware chain.
func applyBase(h http.Handler) http.Handler {
	return requestIDMiddleware(h)
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start blocks serving until the listener closes.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains connections and stops the rate limiter sweep.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.stop()
	return s.server.Shutdown(ctx)
}
