package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketfeed/internal/model"
)

const DefaultStreamURL = "wss://stream.binance.com:9443/stream"

// Stream is one WebSocket connection to the exchange's combined
// mini-ticker stream. It is single-use: when the connection dies, Done
// yields and the owner dials a fresh Stream.
type Stream struct {
	url  string
	conn *websocket.Conn

	writeMu sync.Mutex
	nextID  atomic.Int64

	ticks chan model.Tick
	done  chan error

	closeOnce sync.Once
}

// NewStream creates an unconnected stream. url empty means production.
func NewStream(url string) *Stream {
	if url == "" {
		url = DefaultStreamURL
	}
	return &Stream{
		url:   url,
		ticks: make(chan model.Tick, 256),
		done:  make(chan error, 1),
	}
}

// Connect dials the stream and starts the read loop.
func (s *Stream) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("binance stream dial: %w", err)
	}
	s.conn = conn

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	})
	conn.SetReadDeadline(time.Now().Add(90 * time.Second))

	go s.readLoop()
	go s.pingLoop()

	log.Info().Str("url", s.url).Msg("connected to binance stream")
	return nil
}

type wsCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// Subscribe adds mini-ticker channels for the given symbols.
func (s *Stream) Subscribe(syms []string) error {
	return s.send("SUBSCRIBE", syms)
}

// Unsubscribe removes mini-ticker channels for the given symbols.
func (s *Stream) Unsubscribe(syms []string) error {
	return s.send("UNSUBSCRIBE", syms)
}

func (s *Stream) send(method string, syms []string) error {
	if len(syms) == 0 {
		return nil
	}
	params := make([]string, 0, len(syms))
	for _, sym := range syms {
		params = append(params, strings.ToLower(sym)+"@miniTicker")
	}
	cmd := wsCommand{Method: method, Params: params, ID: s.nextID.Add(1)}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("binance stream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(cmd)
}

// Ticks delivers normalized ticks in upstream order.
func (s *Stream) Ticks() <-chan model.Tick { return s.ticks }

// Done yields once when the connection is no longer usable.
func (s *Stream) Done() <-chan error { return s.done }

// Close tears the connection down.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			s.conn.Close()
		}
	})
	return nil
}

type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type miniTicker struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
}

func (s *Stream) readLoop() {
	defer close(s.ticks)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.done <- err:
			default:
			}
			return
		}

		var frame combinedFrame
		if err := json.Unmarshal(data, &frame); err != nil || len(frame.Data) == 0 {
			continue // command acks and unknown frames
		}
		var mt miniTicker
		if err := json.Unmarshal(frame.Data, &mt); err != nil || mt.EventType != "24hrMiniTicker" {
			continue
		}

		price := parseF(mt.Close)
		open := parseF(mt.Open)
		tick := model.Tick{
			Symbol:    mt.Symbol,
			Price:     price,
			Timestamp: time.UnixMilli(mt.EventTime),
		}
		if open > 0 {
			tick.Change24h = model.Float(price - open)
			tick.ChangePercent24h = model.Float((price - open) / open * 100)
		}
		if v := parseF(mt.High); v > 0 {
			tick.High24h = model.Float(v)
		}
		if v := parseF(mt.Low); v > 0 {
			tick.Low24h = model.Float(v)
		}
		if v := parseF(mt.Volume); v > 0 {
			tick.Volume24h = model.Float(v)
		}

		select {
		case s.ticks <- tick:
		default:
			// Receiver lagging; freshest data wins, drop this tick.
		}
	}
}

func (s *Stream) pingLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		s.writeMu.Lock()
		err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		s.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}
