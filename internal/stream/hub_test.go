package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sawpanic/marketfeed/internal/model"
)

// fakeUpstream records subscribe traffic and lets tests inject ticks and
// connection death.
type fakeUpstream struct {
	mu           sync.Mutex
	subscribed   map[string]int
	unsubscribed map[string]int

	connected chan struct{}
	ticks     chan model.Tick
	done      chan error
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		subscribed:   make(map[string]int),
		unsubscribed: make(map[string]int),
		connected:    make(chan struct{}),
		ticks:        make(chan model.Tick, 16),
		done:         make(chan error, 1),
	}
}

func (f *fakeUpstream) Connect(ctx context.Context) error {
	close(f.connected)
	return nil
}

func (f *fakeUpstream) Subscribe(syms []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range syms {
		f.subscribed[s]++
	}
	return nil
}

func (f *fakeUpstream) Unsubscribe(syms []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range syms {
		f.unsubscribed[s]++
	}
	return nil
}

func (f *fakeUpstream) Ticks() <-chan model.Tick { return f.ticks }
func (f *fakeUpstream) Done() <-chan error       { return f.done }
func (f *fakeUpstream) Close() error             { return nil }

func (f *fakeUpstream) subCount(sym string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[sym]
}

func (f *fakeUpstream) unsubCount(sym string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed[sym]
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// recv pulls the next event off a client's queue.
func recv(t *testing.T, c *Client) interface{} {
	t.Helper()
	select {
	case ev := <-c.send:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func noEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.send:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func startHub(t *testing.T, cfg Config, dial func() Upstream) *Hub {
	t.Helper()
	hub := NewHub(cfg)
	sup := NewSupervisor(dial, hub)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sup.Run(ctx)
	return hub
}

func TestFanOut(t *testing.T) {
	up := newFakeUpstream()
	hub := startHub(t, Config{}, func() Upstream { return up })
	<-up.connected

	a := newClient(hub, nil)
	b := newClient(hub, nil)
	hub.register(a)
	hub.register(b)

	if _, errEv := hub.subscribe(a, []string{"BTCUSDT", "ETHUSDT"}); errEv != nil {
		t.Fatalf("subscribe A: %+v", errEv)
	}
	if _, errEv := hub.subscribe(b, []string{"ETHUSDT"}); errEv != nil {
		t.Fatalf("subscribe B: %+v", errEv)
	}
	waitFor(t, func() bool { return up.subCount("BTCUSDT") == 1 && up.subCount("ETHUSDT") == 1 }, "upstream subscribes")

	// BTCUSDT tick reaches only A.
	up.ticks <- model.Tick{Symbol: "BTCUSDT", Price: 43000}
	ev := recv(t, a).(tickEvent)
	if ev.Symbol != "BTCUSDT" || ev.Price != 43000 {
		t.Errorf("tick = %+v", ev)
	}
	noEvent(t, b)

	// ETHUSDT tick reaches both.
	up.ticks <- model.Tick{Symbol: "ETHUSDT", Price: 2300}
	if ev := recv(t, a).(tickEvent); ev.Symbol != "ETHUSDT" {
		t.Errorf("A got %+v", ev)
	}
	if ev := recv(t, b).(tickEvent); ev.Symbol != "ETHUSDT" {
		t.Errorf("B got %+v", ev)
	}

	// B leaves ETHUSDT; A still holds it, upstream stays subscribed.
	if _, errEv := hub.unsubscribe(b, []string{"ETHUSDT"}); errEv != nil {
		t.Fatalf("unsubscribe B: %+v", errEv)
	}
	if up.unsubCount("ETHUSDT") != 0 {
		t.Error("upstream must stay subscribed while A holds ETHUSDT")
	}

	// A disconnects; both symbols lose their last subscriber.
	hub.disconnect(a)
	waitFor(t, func() bool { return up.unsubCount("BTCUSDT") == 1 && up.unsubCount("ETHUSDT") == 1 }, "upstream unsubscribes")
	if syms := hub.Symbols(); len(syms) != 0 {
		t.Errorf("symbol index should be empty, got %v", syms)
	}
}

func TestSubscribeNormalizesAliases(t *testing.T) {
	up := newFakeUpstream()
	hub := startHub(t, Config{}, func() Upstream { return up })
	<-up.connected

	c := newClient(hub, nil)
	hub.register(c)

	accepted, errEv := hub.subscribe(c, []string{"btc", "BTCUSDT", "$BTC"})
	if errEv != nil {
		t.Fatalf("subscribe: %+v", errEv)
	}
	for _, sym := range accepted {
		if sym != "BTCUSDT" {
			t.Errorf("accepted = %v", accepted)
		}
	}
	if got := up.subCount("BTCUSDT"); got != 1 {
		t.Errorf("one upstream subscribe expected, got %d", got)
	}
}

func TestPerClientCap(t *testing.T) {
	hub := NewHub(Config{PerClientCap: 2})
	c := newClient(hub, nil)
	hub.register(c)

	if _, errEv := hub.subscribe(c, []string{"BTC", "ETH"}); errEv != nil {
		t.Fatalf("within cap: %+v", errEv)
	}
	_, errEv := hub.subscribe(c, []string{"SOL"})
	if errEv == nil || errEv.Code != ErrLimitExceeded {
		t.Errorf("expected LIMIT_EXCEEDED, got %+v", errEv)
	}
	// Re-subscribing held symbols does not count against the cap.
	if _, errEv := hub.subscribe(c, []string{"BTC"}); errEv != nil {
		t.Errorf("re-subscribe should be free: %+v", errEv)
	}
}

func TestServerCap(t *testing.T) {
	hub := NewHub(Config{ServerCap: 1})
	a := newClient(hub, nil)
	b := newClient(hub, nil)
	hub.register(a)
	hub.register(b)

	if _, errEv := hub.subscribe(a, []string{"BTC"}); errEv != nil {
		t.Fatalf("first symbol: %+v", errEv)
	}
	// A second client on the same symbol adds no server-wide interest.
	if _, errEv := hub.subscribe(b, []string{"BTC"}); errEv != nil {
		t.Fatalf("same symbol: %+v", errEv)
	}
	_, errEv := hub.subscribe(b, []string{"ETH"})
	if errEv == nil || errEv.Code != ErrLimitExceeded {
		t.Errorf("expected LIMIT_EXCEEDED, got %+v", errEv)
	}
}

func TestInvalidSymbolsRejected(t *testing.T) {
	hub := NewHub(Config{})
	c := newClient(hub, nil)
	hub.register(c)

	_, errEv := hub.subscribe(c, []string{"not a symbol"})
	if errEv == nil || errEv.Code != ErrInvalidSymbols {
		t.Errorf("expected INVALID_SYMBOLS, got %+v", errEv)
	}
	if len(hub.Symbols()) != 0 {
		t.Error("nothing should be indexed after a rejected subscribe")
	}
}

func TestBackpressureDropsOldest(t *testing.T) {
	hub := NewHub(Config{SendQueue: 2})
	c := newClient(hub, nil)
	hub.register(c)
	if _, errEv := hub.subscribe(c, []string{"BTC"}); errEv != nil {
		t.Fatal(errEv)
	}

	for i := 1; i <= 3; i++ {
		hub.Broadcast(model.Tick{Symbol: "BTCUSDT", Price: float64(i)})
	}

	// Queue of two: tick 1 was displaced, 2 and 3 survive.
	if ev := recv(t, c).(tickEvent); ev.Price != 2 {
		t.Errorf("first delivered price = %v", ev.Price)
	}
	if ev := recv(t, c).(tickEvent); ev.Price != 3 {
		t.Errorf("second delivered price = %v", ev.Price)
	}
	if stats := hub.Stats(); stats.Dropped != 1 {
		t.Errorf("dropped = %d", stats.Dropped)
	}
}

func TestReconnectResubscribes(t *testing.T) {
	first := newFakeUpstream()
	second := newFakeUpstream()
	dials := 0
	var mu sync.Mutex
	dial := func() Upstream {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return first
		}
		return second
	}

	hub := startHub(t, Config{}, dial)
	<-first.connected

	c := newClient(hub, nil)
	hub.register(c)
	if _, errEv := hub.subscribe(c, []string{"BTCUSDT"}); errEv != nil {
		t.Fatal(errEv)
	}
	waitFor(t, func() bool { return first.subCount("BTCUSDT") == 1 }, "initial subscribe")

	// Kill the first connection; the supervisor reconnects after ~1s and
	// replays the index.
	first.done <- context.Canceled
	<-second.connected
	waitFor(t, func() bool { return second.subCount("BTCUSDT") == 1 }, "resubscribe after reconnect")

	// Ticks flow again on the new connection.
	second.ticks <- model.Tick{Symbol: "BTCUSDT", Price: 50000}
	if ev := recv(t, c).(tickEvent); ev.Price != 50000 {
		t.Errorf("tick after reconnect = %+v", ev)
	}
}

func TestShutdownClearsIndex(t *testing.T) {
	up := newFakeUpstream()
	hub := startHub(t, Config{}, func() Upstream { return up })
	<-up.connected

	c := newClient(hub, nil)
	hub.register(c)
	if _, errEv := hub.subscribe(c, []string{"BTC"}); errEv != nil {
		t.Fatal(errEv)
	}

	hub.Shutdown()
	if !hub.isClosed() {
		t.Error("hub should report closed")
	}
	if len(hub.Symbols()) != 0 {
		t.Error("index should be empty after shutdown")
	}
	waitFor(t, func() bool { return up.unsubCount("BTCUSDT") == 1 }, "upstream unsubscribe on shutdown")
}

func TestHandleProtocol(t *testing.T) {
	hub := NewHub(Config{})
	c := newClient(hub, nil)
	hub.register(c)

	c.handle([]byte(`{"type":"subscribe","symbols":["btc"]}`))
	ev := recv(t, c).(controlEvent)
	if ev.Type != "subscribed" || len(ev.Symbols) != 1 || ev.Symbols[0] != "BTCUSDT" {
		t.Errorf("subscribed ack = %+v", ev)
	}

	c.handle([]byte(`{"type":"ping"}`))
	if ev := recv(t, c).(controlEvent); ev.Type != "pong" {
		t.Errorf("ping ack = %+v", ev)
	}

	c.handle([]byte(`not json`))
	if ev := recv(t, c).(controlEvent); ev.Code != ErrParse {
		t.Errorf("parse failure = %+v", ev)
	}

	c.handle([]byte(`{"type":"frobnicate"}`))
	if ev := recv(t, c).(controlEvent); ev.Code != ErrInvalidMessage {
		t.Errorf("unknown type = %+v", ev)
	}

	c.handle([]byte(`{"type":"unsubscribe","symbols":["btc"]}`))
	if ev := recv(t, c).(controlEvent); ev.Type != "unsubscribed" {
		t.Errorf("unsubscribed ack = %+v", ev)
	}
}
