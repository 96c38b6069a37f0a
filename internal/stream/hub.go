// Package stream fans one upstream tick feed out to many WebSocket
// subscribers. The hub owns the symbol index; upstream interest follows
// it: the first subscriber for a symbol triggers an upstream subscribe,
// the last departure an unsubscribe.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketfeed/internal/model"
	"github.com/sawpanic/marketfeed/internal/symbols"
)

// Error codes sent inside error events.
const (
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrParse          = "PARSE_ERROR"
	ErrInvalidSymbols = "INVALID_SYMBOLS"
	ErrLimitExceeded  = "LIMIT_EXCEEDED"
	ErrBadRequest     = "BAD_REQUEST"
)

const (
	defaultPerClientCap = 50
	defaultSendQueue    = 64
)

// upstreamControl is the slice of the supervisor the hub drives.
type upstreamControl interface {
	subscribe(syms []string)
	unsubscribe(syms []string)
}

// noopControl stands in until a supervisor attaches.
type noopControl struct{}

func (noopControl) subscribe([]string)   {}
func (noopControl) unsubscribe([]string) {}

// Config tunes a Hub. Zero values fall back to defaults.
type Config struct {
	// Normalize maps raw client symbols to canonical form. Defaults to
	// crypto normalization.
	Normalize func(raw string) (string, error)

	PerClientCap int // max symbols per client, default 50
	ServerCap    int // max distinct symbols hub-wide, 0 = unbounded
	SendQueue    int // per-client outbound queue, default 64
}

// Hub routes ticks to subscribers and keeps upstream interest in sync
// with the symbol index.
type Hub struct {
	cfg      Config
	upstream upstreamControl

	mu      sync.RWMutex
	index   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
	closed  bool

	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewHub creates a hub with no upstream attached yet.
func NewHub(cfg Config) *Hub {
	if cfg.Normalize == nil {
		cfg.Normalize = func(raw string) (string, error) {
			return symbols.Normalize(raw, symbols.MarketCrypto)
		}
	}
	if cfg.PerClientCap <= 0 {
		cfg.PerClientCap = defaultPerClientCap
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = defaultSendQueue
	}
	return &Hub{
		cfg:      cfg,
		upstream: noopControl{},
		index:    make(map[string]map[*Client]struct{}),
		clients:  make(map[*Client]struct{}),
	}
}

func (h *Hub) setUpstream(u upstreamControl) {
	h.mu.Lock()
	h.upstream = u
	h.mu.Unlock()
}

// register adds a connected client.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// subscribe adds symbols for a client and returns the accepted canonical
// set. The first subscriber for a symbol triggers an upstream subscribe.
func (h *Hub) subscribe(c *Client, raws []string) ([]string, *controlEvent) {
	if len(raws) == 0 {
		return nil, errorEvent(ErrBadRequest, "symbols are required")
	}

	canonical := make([]string, 0, len(raws))
	for _, raw := range raws {
		sym, err := h.cfg.Normalize(raw)
		if err != nil {
			return nil, errorEvent(ErrInvalidSymbols, "invalid symbol %q", raw)
		}
		canonical = append(canonical, sym)
	}

	h.mu.Lock()
	added := 0
	for _, sym := range canonical {
		if _, ok := c.subscribed[sym]; !ok {
			added++
		}
	}
	if len(c.subscribed)+added > h.cfg.PerClientCap {
		h.mu.Unlock()
		return nil, errorEvent(ErrLimitExceeded, "at most %d symbols per connection", h.cfg.PerClientCap)
	}

	var firstInterest []string
	if h.cfg.ServerCap > 0 {
		newServer := 0
		for _, sym := range canonical {
			if _, ok := h.index[sym]; !ok {
				newServer++
			}
		}
		if len(h.index)+newServer > h.cfg.ServerCap {
			h.mu.Unlock()
			return nil, errorEvent(ErrLimitExceeded, "server symbol capacity reached")
		}
	}
	for _, sym := range canonical {
		set, ok := h.index[sym]
		if !ok {
			set = make(map[*Client]struct{})
			h.index[sym] = set
			firstInterest = append(firstInterest, sym)
		}
		set[c] = struct{}{}
		c.subscribed[sym] = struct{}{}
	}
	h.mu.Unlock()

	if len(firstInterest) > 0 {
		h.upstream.subscribe(firstInterest)
	}
	return canonical, nil
}

// unsubscribe removes symbols for a client. Symbols left without any
// subscriber are unsubscribed upstream.
func (h *Hub) unsubscribe(c *Client, raws []string) ([]string, *controlEvent) {
	if len(raws) == 0 {
		return nil, errorEvent(ErrBadRequest, "symbols are required")
	}

	removed := make([]string, 0, len(raws))
	var lastDeparture []string

	h.mu.Lock()
	for _, raw := range raws {
		sym, err := h.cfg.Normalize(raw)
		if err != nil {
			continue // unknown spellings on unsubscribe are harmless
		}
		if _, ok := c.subscribed[sym]; !ok {
			continue
		}
		delete(c.subscribed, sym)
		removed = append(removed, sym)
		if set, ok := h.index[sym]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.index, sym)
				lastDeparture = append(lastDeparture, sym)
			}
		}
	}
	h.mu.Unlock()

	if len(lastDeparture) > 0 {
		h.upstream.unsubscribe(lastDeparture)
	}
	return removed, nil
}

// disconnect releases all of a client's state. Called exactly once per
// client from its read pump.
func (h *Hub) disconnect(c *Client) {
	var lastDeparture []string

	h.mu.Lock()
	delete(h.clients, c)
	for sym := range c.subscribed {
		if set, ok := h.index[sym]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.index, sym)
				lastDeparture = append(lastDeparture, sym)
			}
		}
	}
	c.subscribed = make(map[string]struct{})
	h.mu.Unlock()

	if len(lastDeparture) > 0 {
		h.upstream.unsubscribe(lastDeparture)
	}
}

// Broadcast delivers a tick to every subscriber of its symbol. Sends
// happen outside the lock; a full client queue drops its oldest event.
func (h *Hub) Broadcast(t model.Tick) {
	h.mu.RLock()
	set, ok := h.index[t.Symbol]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	ev := tickEvent{Type: "price", Tick: t}
	for _, c := range targets {
		if c.enqueue(ev) {
			h.delivered.Add(1)
		} else {
			h.dropped.Add(1)
		}
	}
}

// Symbols returns the currently subscribed symbol set, for resubscribing
// after an upstream reconnect.
func (h *Hub) Symbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.index))
	for sym := range h.index {
		out = append(out, sym)
	}
	return out
}

// Stats reports hub gauges for health endpoints.
type Stats struct {
	Clients   int   `json:"clients"`
	Symbols   int   `json:"symbols"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

// Stats returns a point-in-time view.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Clients:   len(h.clients),
		Symbols:   len(h.index),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// Shutdown closes every client with a normal close code and clears the
// index. New connections are rejected afterwards.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	syms := make([]string, 0, len(h.index))
	for sym := range h.index {
		syms = append(syms, sym)
	}
	h.index = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	if len(syms) > 0 {
		h.upstream.unsubscribe(syms)
	}
	log.Info().Int("clients", len(clients)).Msg("stream hub shut down")
}

func (h *Hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}
