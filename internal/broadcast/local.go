package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// localSubscriberBuffer bounds how far a slow view may lag before the bus
// starts dropping messages for it.
const localSubscriberBuffer = 256

var errBusClosed = errors.New("broadcast: local bus closed")

type localSub struct {
	origin  string
	ch      chan Envelope
	handler func(Envelope)
	closed  atomic.Bool
}

// LocalBus is the same-device channel between views living in one process.
// Publish never blocks; a subscriber whose buffer is full misses the message.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[*localSub]struct{}
	closed atomic.Bool
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[*localSub]struct{})}
}

func (b *LocalBus) Name() string { return "local" }

func (b *LocalBus) Publish(_ context.Context, _ []string, env Envelope) error {
	if b.closed.Load() {
		return errBusClosed
	}
	b.mu.RLock()
	subs := make([]*localSub, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.origin == env.Origin || sub.closed.Load() {
			continue
		}
		b.trySend(sub, env)
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, s Subscription) error {
	if b.closed.Load() {
		return errBusClosed
	}
	sub := &localSub{
		origin:  s.Origin,
		ch:      make(chan Envelope, localSubscriberBuffer),
		handler: s.Handler,
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return errBusClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(sub)
	}()
	go func() {
		for env := range sub.ch {
			sub.handler(env)
		}
	}()
	return nil
}

// Listeners counts live subscriptions that would receive a message from origin.
func (b *LocalBus) Listeners(origin string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for sub := range b.subs {
		if sub.origin != origin && !sub.closed.Load() {
			n++
		}
	}
	return n
}

// Close drops every subscription.
func (b *LocalBus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if sub.closed.CompareAndSwap(false, true) {
			close(sub.ch)
		}
	}
	b.subs = nil
}

func (b *LocalBus) remove(sub *localSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		return
	}
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	if sub.closed.CompareAndSwap(false, true) {
		close(sub.ch)
	}
}

func (b *LocalBus) trySend(sub *localSub, env Envelope) {
	defer func() {
		// send on a channel closed concurrently by remove
		if r := recover(); r != nil {
			sub.closed.Store(true)
		}
	}()
	select {
	case sub.ch <- env:
	default:
	}
}
