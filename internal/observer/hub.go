package observer

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Observers are read-only; any origin may watch.
		return true
	},
}

// client is one connected observer. Each connection is its own sync channel,
// so a reconnect always starts with a full snapshot.
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	channel string
	send    chan []byte
}

// ChannelDropper is notified when an observer disconnects so per-channel
// diff state can be discarded.
type ChannelDropper interface {
	Forget(channelID string)
}

// Hub tracks connected observers and routes compressed sync frames to them.
// It satisfies the batcher's sink interface.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	dropper ChannelDropper
}

// NewHub creates an empty hub. dropper may be nil.
func NewHub(dropper ChannelDropper) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		dropper: dropper,
	}
}

// Channels returns the channel IDs of all connected observers.
func (h *Hub) Channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clients))
	for id := range h.clients {
		out = append(out, id)
	}
	return out
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send delivers a single frame to one channel's observer.
func (h *Hub) Send(channel string, frame []byte) error {
	h.deliver(channel, frame)
	return nil
}

// SendBatch delivers several frames as one JSON array message.
func (h *Hub) SendBatch(channel string, frames [][]byte) error {
	raw := make([]json.RawMessage, len(frames))
	for i, f := range frames {
		raw[i] = f
	}
	msg, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	h.deliver(channel, msg)
	return nil
}

func (h *Hub) deliver(channel string, msg []byte) {
	h.mu.RLock()
	c, ok := h.clients[channel]
	h.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		slog.Warn("dropping frame for slow observer", "channel", channel)
	}
}

// HandleWS upgrades the request and registers the connection as a new
// observer channel.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:     h,
		conn:    conn,
		channel: uuid.NewString(),
		send:    make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.clients[c.channel] = c
	total := len(h.clients)
	h.mu.Unlock()
	slog.Info("observer connected", "channel", c.channel, "total", total)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.channel]; ok {
		delete(h.clients, c.channel)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if h.dropper != nil {
		h.dropper.Forget(c.channel)
	}
	slog.Info("observer disconnected", "channel", c.channel, "total", total)
}

// readPump drains the connection so pings and close frames are processed.
// Observers never send data messages.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("observer read error", "channel", c.channel, "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
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
