package gateway

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu   sync.RWMutex
	keys map[string]bool // "exchange:token"; empty means everything
}

// clientMsg is a control message from the peer.
//
//	{"action":"subscribe","keys":["NSE:SBIN"]}
//	{"action":"replay","channel":"pub:vwap:60s:NSE:SBIN","after":41}
//	{"action":"ping","ping":1700000000000}
type clientMsg struct {
	Action  string   `json:"action"`
	Keys    []string `json:"keys,omitempty"`
	Channel string   `json:"channel,omitempty"`
	After   int64    `json:"after,omitempty"`
	Ping    int64    `json:"ping,omitempty"`
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		keys: map[string]bool{},
	}
}

func (c *Client) setKeys(keys []string) {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			m[k] = true
		}
	}
	c.mu.Lock()
	c.keys = m
	c.mu.Unlock()
}

// matches reports whether channel belongs to an instrument the client wants.
// Channels end in ":exchange:token".
func (c *Client) matches(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.keys) == 0 {
		return true
	}
	return c.keys[channelKey(channel)]
}

func channelKey(channel string) string {
	parts := strings.Split(channel, ":")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2] + ":" + parts[len(parts)-1]
}

// sendInitialState queues the latest envelope of each subscribed channel.
func (c *Client) sendInitialState() {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for channel, e := range c.hub.latest {
		if !c.matches(channel) {
			continue
		}
		select {
		case c.send <- e.Data:
		default:
		}
	}
}

// queue sends msg unless the client was already removed.
func (c *Client) queue(msg []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.setKeys(msg.Keys)
			c.sendInitialState()
		case "replay":
			if !c.matches(msg.Channel) {
				continue
			}
			for _, env := range c.hub.replay(msg.Channel, msg.After) {
				c.queue(env)
			}
		case "ping":
			pong, _ := json.Marshal(map[string]int64{
				"pong":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			c.queue(pong)
		}
	}
}
