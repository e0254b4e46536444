// Package debugws streams the orchestrator's signal bus over WebSocket for
// live operator inspection, grounded on gateway/connection.go's
// mutex-wrapped websocket.Conn wrapper but one-directional (server→client
// only) and JSON-framed via json-iterator/go rather than the gateway's
// binary+zstd framing.
package debugws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/redwich/sentinel"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// frame is the JSON envelope written to every connected client.
type frame struct {
	Type  string `json:"type"`
	Shard int    `json:"shard"`
	At    string `json:"at"`
}

// conn wraps one client's websocket.Conn with its own outbound channel, so a
// slow client is dropped rather than blocking the hub (spec.md §9,
// SPEC_FULL §4.7/§5).
type conn struct {
	ws   *websocket.Conn
	wmux sync.Mutex
	out  chan frame
}

func (c *conn) writeLoop(log zerolog.Logger) {
	for f := range c.out {
		data, err := json.Marshal(f)
		if err != nil {
			continue
		}
		c.wmux.Lock()
		err = c.ws.WriteMessage(websocket.TextMessage, data)
		c.wmux.Unlock()
		if err != nil {
			log.Debug().Err(err).Msg("debugws: client write failed, closing")
			c.ws.Close()
			return
		}
	}
}

// Hub accepts WebSocket upgrades and fans every sentinel.Event out to every
// connected client.
type Hub struct {
	log zerolog.Logger
	s   *sentinel.Sentinel

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// NewHub wires a Hub to an orchestrator's signal bus.
func NewHub(s *sentinel.Sentinel, log zerolog.Logger) *Hub {
	h := &Hub{
		log:   log.With().Str("component", "debugws").Logger(),
		s:     s,
		conns: make(map[*conn]struct{}),
	}
	go h.pump()
	return h
}

func (h *Hub) pump() {
	events := h.s.Subscribe(256)
	for ev := range events {
		f := frame{Type: ev.Kind.String(), Shard: ev.Shard, At: time.Now().UTC().Format(time.RFC3339Nano)}
		h.broadcast(f)
	}
}

func (h *Hub) broadcast(f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		select {
		case c.out <- f:
		default:
			h.log.Warn().Msg("debugws: client too slow, frame dropped")
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers it as a
// signal-bus observer until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("debugws: upgrade failed")
		return
	}

	c := &conn{ws: ws, out: make(chan frame, 256)}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop(h.log)

	// Drain and discard any client reads; this is a server-push-only feed,
	// but we must keep reading to detect client disconnect per gorilla's
	// documented contract.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	close(c.out)
}
