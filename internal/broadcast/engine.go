package broadcast

import (
	"alcyxob/fitness-calendar/internal/domain"
	"alcyxob/fitness-calendar/internal/repository"
	"context"
	"log"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

const defaultDedupeSize = 512

// Engine publishes every change on all registered transports and merges the
// transports, plus the storage change feed, back into one listener callback.
type Engine struct {
	transports []Transport
	feed       repository.ChangeFeed
	queue      PendingQueue
	dedupeSize int
}

type Option func(*Engine)

// WithTransport registers a propagation path. Nil transports are skipped.
func WithTransport(t Transport) Option {
	return func(e *Engine) {
		if t != nil {
			e.transports = append(e.transports, t)
		}
	}
}

// WithChangeFeed adds the row-level "something changed" subscription.
func WithChangeFeed(feed repository.ChangeFeed) Option {
	return func(e *Engine) { e.feed = feed }
}

// WithPendingQueue buffers messages published while no same-device
// listener is alive.
func WithPendingQueue(q PendingQueue) Option {
	return func(e *Engine) { e.queue = q }
}

// WithDedupeSize bounds how many envelope ids each listener remembers.
func WithDedupeSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.dedupeSize = n
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{dedupeSize: defaultDedupeSize}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transports lists the registered transport names, in registration order.
func (e *Engine) Transports() []string {
	names := make([]string, len(e.transports))
	for i, t := range e.transports {
		names[i] = t.Name()
	}
	return names
}

// Publish is fire-and-forget: transport failures are logged and swallowed.
func (e *Engine) Publish(ctx context.Context, origin string, msg domain.ChangeMessage) {
	env := NewEnvelope(origin, msg)
	channels := ChannelsFor(msg)
	for _, t := range e.transports {
		if err := t.Publish(ctx, channels, env); err != nil {
			log.Printf("WARN: publish workout %d on %s: %v", msg.WorkoutID, t.Name(), err)
		}
	}

	if e.queue != nil && !e.hasLiveListener(origin) {
		if err := e.queue.Append(ctx, env); err != nil {
			log.Printf("WARN: queue workout %d change: %v", msg.WorkoutID, err)
		}
	}
}

// hasLiveListener is true when some transport can vouch for a live
// listener other than origin. Transports that cannot tell count as absent.
func (e *Engine) hasLiveListener(origin string) bool {
	for _, t := range e.transports {
		if p, ok := t.(Presence); ok && p.Listeners(origin) > 0 {
			return true
		}
	}
	return false
}

// Listener is one view's interest in changes.
type Listener struct {
	Origin   string
	Channels []string
	Filter   repository.WorkoutFilter
	// OnMessage receives each valid envelope's message once, whichever
	// transport delivered it first.
	OnMessage func(domain.ChangeMessage)
	// OnChange fires on storage change-feed notifications.
	OnChange func()
}

// Subscribe attaches l to every transport until ctx is cancelled. A
// transport that cannot subscribe is logged and skipped; the others keep
// working.
func (e *Engine) Subscribe(ctx context.Context, l Listener) error {
	seen, err := lru.New[string, struct{}](e.dedupeSize)
	if err != nil {
		return err
	}

	deliver := func(env Envelope) {
		if env.Origin == l.Origin {
			return
		}
		if err := env.Message.Validate(); err != nil {
			return
		}
		if found, _ := seen.ContainsOrAdd(env.ID, struct{}{}); found {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				log.Printf("ERROR: applying workout %d change panicked: %v", env.Message.WorkoutID, r)
			}
		}()
		if l.OnMessage != nil {
			l.OnMessage(env.Message)
		}
	}

	sub := Subscription{Origin: l.Origin, Channels: l.Channels, Handler: deliver}
	var g errgroup.Group
	for _, t := range e.transports {
		t := t
		g.Go(func() error {
			if err := t.Subscribe(ctx, sub); err != nil {
				log.Printf("WARN: subscribe on %s: %v", t.Name(), err)
			}
			return nil
		})
	}
	if e.feed != nil && l.OnChange != nil {
		g.Go(func() error {
			if err := e.feed.Watch(ctx, l.Filter, l.OnChange); err != nil {
				log.Printf("WARN: change feed unavailable, relying on broadcasts: %v", err)
			}
			return nil
		})
	}
	return g.Wait()
}
