package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errRelayClosed = errors.New("broadcast: relay connection closed")

type relaySub struct {
	origin  string
	handler func(Envelope)
}

// RelayTransport is the client side of the server-relayed channel. One
// websocket connection carries every channel the process joins.
type RelayTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]map[*relaySub]struct{}
	done chan struct{}
}

// DialRelay connects to a Hub at url (ws:// or wss://).
func DialRelay(ctx context.Context, url string) (*RelayTransport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	t := &RelayTransport{
		conn: conn,
		subs: make(map[string]map[*relaySub]struct{}),
		done: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *RelayTransport) Name() string { return "relay" }

func (t *RelayTransport) Publish(_ context.Context, channels []string, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		if err := t.writeFrame(Frame{Event: FrameBroadcast, Channel: ch, Payload: payload}); err != nil {
			return err
		}
	}
	return nil
}

func (t *RelayTransport) Subscribe(ctx context.Context, s Subscription) error {
	sub := &relaySub{origin: s.Origin, handler: s.Handler}

	t.mu.Lock()
	var joins []string
	for _, ch := range s.Channels {
		set := t.subs[ch]
		if set == nil {
			set = make(map[*relaySub]struct{})
			t.subs[ch] = set
			joins = append(joins, ch)
		}
		set[sub] = struct{}{}
	}
	t.mu.Unlock()

	for _, ch := range joins {
		if err := t.writeFrame(Frame{Event: FrameJoin, Channel: ch}); err != nil {
			t.unsubscribe(sub, s.Channels)
			return err
		}
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-t.done:
		}
		for _, ch := range t.unsubscribe(sub, s.Channels) {
			_ = t.writeFrame(Frame{Event: FrameLeave, Channel: ch})
		}
	}()
	return nil
}

// Close shuts the connection down.
func (t *RelayTransport) Close() error {
	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	t.writeMu.Unlock()
	return t.conn.Close()
}

// unsubscribe removes sub and returns the channels nobody listens to anymore.
func (t *RelayTransport) unsubscribe(sub *relaySub, channels []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var emptied []string
	for _, ch := range channels {
		set := t.subs[ch]
		if set == nil {
			continue
		}
		if _, ok := set[sub]; !ok {
			continue
		}
		delete(set, sub)
		if len(set) == 0 {
			delete(t.subs, ch)
			emptied = append(emptied, ch)
		}
	}
	return emptied
}

func (t *RelayTransport) writeFrame(f Frame) error {
	select {
	case <-t.done:
		return errRelayClosed
	default:
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *RelayTransport) readLoop() {
	defer close(t.done)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("WARN: relay connection lost: %v", err)
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event != FrameBroadcast {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(frame.Payload, &env); err != nil {
			continue
		}

		t.mu.Lock()
		targets := make([]*relaySub, 0, len(t.subs[frame.Channel]))
		for sub := range t.subs[frame.Channel] {
			if sub.origin != env.Origin {
				targets = append(targets, sub)
			}
		}
		t.mu.Unlock()

		for _, sub := range targets {
			sub.handler(env)
		}
	}
}
