// Package circuit implements the data-plane circuit breaker that protects
// a named upstream. Rejections carry the remaining recovery time so the
// HTTP layer can surface a retry hint.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketfeed/internal/apperr"
)

// State represents the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the breaker parameters.
type Config struct {
	Name             string
	FailureThreshold int           // consecutive failures to open
	RecoveryTimeout  time.Duration // time open before a probe is admitted
}

// Breaker tracks consecutive failures against a named upstream and gates
// calls once the threshold is crossed.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	state    State
	failures int
	openedAt time.Time

	totalRequests int64
	totalRejected int64
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	return &Breaker{cfg: cfg}
}

// Execute runs fn when the breaker admits the call. While open and within
// the recovery timeout it rejects with CIRCUIT_OPEN carrying retryAfter;
// after the timeout one probe transitions the breaker to half-open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.settle(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	switch b.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		elapsed := time.Since(b.openedAt)
		if elapsed >= b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			log.Info().Str("breaker", b.cfg.Name).Msg("circuit half-open, probing upstream")
			return nil
		}
		b.totalRejected++
		return apperr.CircuitOpen(b.cfg.Name, b.cfg.RecoveryTimeout-elapsed)
	}
	return nil
}

func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state == StateHalfOpen {
			log.Info().Str("breaker", b.cfg.Name).Msg("circuit closed after successful probe")
		}
		b.state = StateClosed
		b.failures = 0
		return
	}

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	case StateHalfOpen:
		b.open()
	case StateOpen:
		// A probe admitted just before another's failure settled; stay open.
		b.openedAt = time.Now()
	}
}

// open transitions to Open with a fresh openedAt. Caller holds the lock.
func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = time.Now()
	log.Warn().
		Str("breaker", b.cfg.Name).
		Int("consecutive_failures", b.failures).
		Msg("circuit opened")
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot reports the breaker's observable state for health endpoints.
type Snapshot struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	TotalRequests       int64     `json:"total_requests"`
	TotalRejected       int64     `json:"total_rejected"`
}

// Snapshot returns a point-in-time view.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Name:                b.cfg.Name,
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
		TotalRequests:       b.totalRequests,
		TotalRejected:       b.totalRejected,
	}
	if b.state == StateOpen {
		snap.OpenedAt = b.openedAt
	}
	return snap
}

// Manager holds one breaker per upstream for health reporting.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{breakers: make(map[string]*Breaker)}
}

// Add registers a breaker under its configured name and returns it.
func (m *Manager) Add(cfg Config) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := New(cfg)
	m.breakers[cfg.Name] = b
	return b
}

// Get returns the breaker for a named upstream.
func (m *Manager) Get(name string) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.breakers[name]
	return b, ok
}

// Snapshots returns the state of every registered breaker.
func (m *Manager) Snapshots() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Snapshot, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.Snapshot()
	}
	return out
}
