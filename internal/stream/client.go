package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketfeed/internal/model"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// clientMessage is everything a client may send.
type clientMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
}

// controlEvent is every non-tick server message.
type controlEvent struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
	Message string   `json:"message,omitempty"`
	Code    string   `json:"code,omitempty"`
}

// tickEvent is a price update; tick fields flatten into the envelope.
type tickEvent struct {
	Type string `json:"type"`
	model.Tick
}

func errorEvent(code, format string, args ...interface{}) *controlEvent {
	return &controlEvent{Type: "error", Code: code, Message: fmt.Sprintf(format, args...)}
}

// Client is one WebSocket subscriber. subscribed is guarded by the hub's
// lock; the send queue is the only channel between hub and socket.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan interface{}
	subscribed map[string]struct{}

	queueMu   sync.Mutex // serializes drop-oldest against enqueue
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan interface{}, hub.cfg.SendQueue),
		subscribed: make(map[string]struct{}),
	}
}

// enqueue queues an event for delivery. When the queue is full the oldest
// queued event is dropped so the freshest data survives. Reports whether
// the event went in without displacing anything.
func (c *Client) enqueue(ev interface{}) bool {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	select {
	case c.send <- ev:
		return true
	default:
	}
	for {
		select {
		case <-c.send: // drop oldest
		default:
		}
		select {
		case c.send <- ev:
			return false
		default:
		}
	}
}

// close ends the connection with a normal close code.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			c.conn.Close()
		}
	})
}

// readPump parses client messages until the socket dies, then releases
// the client's hub state.
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.enqueue(*errorEvent(ErrParse, "message is not valid JSON"))
		return
	}

	switch msg.Type {
	case "subscribe":
		accepted, errEv := c.hub.subscribe(c, msg.Symbols)
		if errEv != nil {
			c.enqueue(*errEv)
			return
		}
		c.enqueue(controlEvent{Type: "subscribed", Symbols: accepted})
	case "unsubscribe":
		removed, errEv := c.hub.unsubscribe(c, msg.Symbols)
		if errEv != nil {
			c.enqueue(*errEv)
			return
		}
		c.enqueue(controlEvent{Type: "unsubscribed", Symbols: removed})
	case "ping":
		c.enqueue(controlEvent{Type: "pong"})
	case "":
		c.enqueue(*errorEvent(ErrInvalidMessage, "missing message type"))
	default:
		c.enqueue(*errorEvent(ErrInvalidMessage, "unknown message type %q", msg.Type))
	}
}

// writePump drains the send queue onto the socket and keeps liveness
// pings flowing.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handler upgrades HTTP requests into hub subscribers.
func Handler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hub.isClosed() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}

		c := newClient(hub, conn)
		hub.register(c)
		c.enqueue(controlEvent{Type: "connected", Message: "stream ready"})

		go c.writePump()
		go c.readPump()
	}
}
