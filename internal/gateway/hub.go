// Package gateway streams band sets and line-break signals to chart
// renderers over WebSocket.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vwap-engine/internal/model"
)

const replayCapacity = 500

type latestEntry struct {
	Data []byte // envelope
	Seq  int64
}

// Hub fans engine output out to WebSocket clients. Each channel carries a
// monotonic seq so clients can detect gaps and request a replay.
type Hub struct {
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string]latestEntry
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer

	// OnClientCount is called with the new client count on connect and
	// disconnect.
	OnClientCount func(n int)

	now func() time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		now:         time.Now,
	}
}

// PublishBands broadcasts a processed bar.
func (h *Hub) PublishBands(set model.BandSet) {
	h.Broadcast(set.PubSubChannel(), KindBands, set.JSON())
}

// PublishLineBreak broadcasts a line-break request.
func (h *Hub) PublishLineBreak(lb model.LineBreak) {
	h.Broadcast(lb.PubSubChannel(), KindLineBreak, lb.JSON())
}

// Broadcast wraps data in an envelope and sends it to every client
// subscribed to channel. Slow clients drop messages rather than block.
func (h *Hub) Broadcast(channel, kind string, data []byte) {
	h.mu.Lock()
	h.channelSeqs[channel]++
	seq := h.channelSeqs[channel]
	env := appendEnvelope(make([]byte, 0, len(channel)+len(data)+128), channel, kind, data, h.now().UTC(), seq)
	h.latest[channel] = latestEntry{Data: env, Seq: seq}
	rb, ok := h.replayBufs[channel]
	if !ok {
		rb = NewReplayBuffer(replayCapacity)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()

	rb.Push(seq, env)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matches(channel) {
			continue
		}
		select {
		case c.send <- env:
		default:
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket. The optional "keys" query
// parameter ("NSE:SBIN,NSE:INFY") restricts the instruments delivered.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "component", "gateway", "error", err)
		return
	}

	c := newClient(h, conn)
	if keys := r.URL.Query().Get("keys"); keys != "" {
		c.setKeys(strings.Split(keys, ","))
	}

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.clientCount(n)
	slog.Info("ws client connected", "component", "gateway", "clients", n)

	c.sendInitialState()
	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Latest returns the most recent envelope of every channel.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(h.latest))
	for ch, e := range h.latest {
		out[ch] = json.RawMessage(e.Data)
	}
	return out
}

// replay returns the envelopes of channel after seq.
func (h *Hub) replay(channel string, after int64) [][]byte {
	h.mu.RLock()
	rb := h.replayBufs[channel]
	h.mu.RUnlock()
	if rb == nil {
		return nil
	}
	return rb.Since(after)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()
	h.clientCount(n)
	slog.Info("ws client disconnected", "component", "gateway", "clients", n)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.conn.Close()
	}
}

func (h *Hub) clientCount(n int) {
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}
