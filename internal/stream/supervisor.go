package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketfeed/internal/model"
)

// Upstream is one connection to a provider tick feed. Connections are
// single-use: after Done yields, the supervisor dials a fresh one.
type Upstream interface {
	Connect(ctx context.Context) error
	Subscribe(syms []string) error
	Unsubscribe(syms []string) error
	Ticks() <-chan model.Tick
	Done() <-chan error
	Close() error
}

// Supervisor keeps exactly one live upstream connection, reconnecting
// with exponential backoff and replaying the hub's symbol interest after
// every reconnect.
type Supervisor struct {
	dial func() Upstream
	hub  *Hub

	mu  sync.Mutex
	cur Upstream

	backoffBase time.Duration
	backoffCap  time.Duration
}

// NewSupervisor wires a supervisor to a hub and becomes its upstream
// control. Call Run to start the connection loop.
func NewSupervisor(dial func() Upstream, hub *Hub) *Supervisor {
	s := &Supervisor{
		dial:        dial,
		hub:         hub,
		backoffBase: time.Second,
		backoffCap:  30 * time.Second,
	}
	hub.setUpstream(s)
	return s
}

// Run maintains the upstream connection until ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) {
	backoff := s.backoffBase
	for ctx.Err() == nil {
		up := s.dial()
		if err := up.Connect(ctx); err != nil {
			log.Warn().Err(err).Dur("backoff", backoff).Msg("upstream connect failed")
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.backoffCap)
			continue
		}
		backoff = s.backoffBase
		s.setCurrent(up)

		if syms := s.hub.Symbols(); len(syms) > 0 {
			if err := up.Subscribe(syms); err != nil {
				log.Warn().Err(err).Int("symbols", len(syms)).Msg("resubscribe failed")
			}
		}

		s.pump(ctx, up)
		s.setCurrent(nil)
		up.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warn().Dur("backoff", backoff).Msg("upstream connection lost, reconnecting")
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, s.backoffCap)
	}
}

// pump forwards ticks into the hub until the connection dies or ctx ends.
func (s *Supervisor) pump(ctx context.Context, up Upstream) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-up.Done():
			log.Warn().Err(err).Msg("upstream read failed")
			return
		case tick, ok := <-up.Ticks():
			if !ok {
				return
			}
			s.hub.Broadcast(tick)
		}
	}
}

func (s *Supervisor) setCurrent(up Upstream) {
	s.mu.Lock()
	s.cur = up
	s.mu.Unlock()
}

// subscribe forwards new interest to the live connection. While
// disconnected this is a no-op; the reconnect replay covers it.
func (s *Supervisor) subscribe(syms []string) {
	s.mu.Lock()
	up := s.cur
	s.mu.Unlock()
	if up == nil {
		return
	}
	if err := up.Subscribe(syms); err != nil {
		log.Warn().Err(err).Strs("symbols", syms).Msg("upstream subscribe failed")
	}
}

func (s *Supervisor) unsubscribe(syms []string) {
	s.mu.Lock()
	up := s.cur
	s.mu.Unlock()
	if up == nil {
		return
	}
	if err := up.Unsubscribe(syms); err != nil {
		log.Warn().Err(err).Strs("symbols", syms).Msg("upstream unsubscribe failed")
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
