package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Relay frame events.
const (
	FrameJoin      = "join"
	FrameLeave     = "leave"
	FrameBroadcast = "broadcast"
)

// Frame is the relay wire format, one JSON object per websocket message.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 * 1024
	connSendBuffer = 64
)

var hubUpgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	// Observers are trusted; any origin may join.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type hubConn struct {
	conn     *websocket.Conn
	send     chan []byte
	channels map[string]struct{} // guarded by Hub.mu
	closed   atomic.Bool
}

type hubListener struct {
	origin  string
	handler func(Envelope)
}

// Hub is the server side of the relayed channel: it forwards each broadcast
// frame to every other connection joined to the frame's channel, and to
// in-process listeners registered through HubTransport.
type Hub struct {
	mu        sync.RWMutex
	conns     map[*hubConn]struct{}
	channels  map[string]map[*hubConn]struct{}
	listeners map[string]map[*hubListener]struct{}
	closed    bool
}

func NewHub() *Hub {
	return &Hub{
		conns:     make(map[*hubConn]struct{}),
		channels:  make(map[string]map[*hubConn]struct{}),
		listeners: make(map[string]map[*hubListener]struct{}),
	}
}

// ServeWS upgrades the request and serves the connection until it drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hubUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WARN: realtime upgrade failed: %v", err)
		return
	}
	c := &hubConn{
		conn:     conn,
		send:     make(chan []byte, connSendBuffer),
		channels: make(map[string]struct{}),
	}
	if !h.register(c) {
		conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// Subscribers reports how many connections joined channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*hubConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.unregister(c)
	}
}

func (h *Hub) register(c *hubConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *hubConn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		for ch := range c.channels {
			h.leaveLocked(c, ch)
		}
	}
	h.mu.Unlock()
	if c.closed.CompareAndSwap(false, true) {
		close(c.send)
		c.conn.Close()
	}
}

func (h *Hub) join(c *hubConn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.channels[channel]
	if members == nil {
		members = make(map[*hubConn]struct{})
		h.channels[channel] = members
	}
	members[c] = struct{}{}
	c.channels[channel] = struct{}{}
}

func (h *Hub) leave(c *hubConn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, channel)
}

func (h *Hub) leaveLocked(c *hubConn, channel string) {
	delete(c.channels, channel)
	if members := h.channels[channel]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
}

// relay forwards a broadcast frame to everyone on channel except from.
func (h *Hub) relay(channel string, payload json.RawMessage, from *hubConn) {
	data, err := json.Marshal(Frame{Event: FrameBroadcast, Channel: channel, Payload: payload})
	if err != nil {
		return
	}

	h.mu.RLock()
	targets := make([]*hubConn, 0, len(h.channels[channel]))
	for c := range h.channels[channel] {
		if c != from {
			targets = append(targets, c)
		}
	}
	listeners := make([]*hubListener, 0, len(h.listeners[channel]))
	for l := range h.listeners[channel] {
		listeners = append(listeners, l)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		trySendBytes(c, data)
	}
	if len(listeners) == 0 {
		return
	}
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	for _, l := range listeners {
		if l.origin != env.Origin {
			go l.handler(env)
		}
	}
}

func trySendBytes(c *hubConn, data []byte) {
	defer func() {
		// the connection was closed concurrently
		if r := recover(); r != nil {
			c.closed.Store(true)
		}
	}()
	if c.closed.Load() {
		return
	}
	select {
	case c.send <- data:
	default:
		// Slow consumer: drop rather than stall the relay.
	}
}

func (h *Hub) readPump(c *hubConn) {
	defer h.unregister(c)

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WARN: realtime connection closed: %v", err)
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Channel == "" {
			continue
		}
		switch frame.Event {
		case FrameJoin:
			h.join(c, frame.Channel)
		case FrameLeave:
			h.leave(c, frame.Channel)
		case FrameBroadcast:
			h.relay(frame.Channel, frame.Payload, c)
		}
	}
}

func (h *Hub) writePump(c *hubConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HubTransport publishes straight into a Hub living in the same process,
// which is how server-side writes reach websocket subscribers.
type HubTransport struct {
	hub *Hub
}

func NewHubTransport(hub *Hub) *HubTransport {
	return &HubTransport{hub: hub}
}

func (t *HubTransport) Name() string { return "relay-hub" }

func (t *HubTransport) Publish(_ context.Context, channels []string, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		t.hub.relay(ch, payload, nil)
	}
	return nil
}

func (t *HubTransport) Subscribe(ctx context.Context, sub Subscription) error {
	l := &hubListener{origin: sub.Origin, handler: sub.Handler}
	h := t.hub
	h.mu.Lock()
	for _, ch := range sub.Channels {
		set := h.listeners[ch]
		if set == nil {
			set = make(map[*hubListener]struct{})
			h.listeners[ch] = set
		}
		set[l] = struct{}{}
	}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, ch := range sub.Channels {
			if set := h.listeners[ch]; set != nil {
				delete(set, l)
				if len(set) == 0 {
					delete(h.listeners, ch)
				}
			}
		}
	}()
	return nil
}
