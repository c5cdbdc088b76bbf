package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const envelopeExt = ".json"

var errStorageEventClosed = errors.New("broadcast: storage-event transport closed")

// StorageEventTransport is the same-device fallback for views in separate
// processes: a publisher drops one file per envelope into a shared
// directory, observers pick it up from the create event, and the file is
// removed once ttl has passed or the publisher closes.
type StorageEventTransport struct {
	dir string
	ttl time.Duration

	mu      sync.Mutex
	pending map[string]*droppedFile
	closed  bool
}

type droppedFile struct {
	timer  *time.Timer
	written time.Time
}

// closeGrace is how long a file stays visible on Close before it is removed,
// so observers can still read what was published just before exit.
const closeGrace = 200 * time.Millisecond

// NewStorageEventTransport prepares dir for use as the exchange directory and
// sweeps files left behind by publishers that exited without closing.
func NewStorageEventTransport(dir string, ttl time.Duration) (*StorageEventTransport, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: no device directory", ErrUnsupported)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	t := &StorageEventTransport{dir: dir, ttl: ttl, pending: make(map[string]*droppedFile)}
	t.sweep(time.Now().Add(-ttl))
	return t, nil
}

// sweep removes envelope and temp files last modified before cutoff.
func (t *StorageEventTransport) sweep(cutoff time.Time) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		log.Printf("WARN: storage-event sweep of %s: %v", t.dir, err)
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, envelopeExt) || strings.HasSuffix(name, ".tmp")) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(t.dir, name)); err != nil && !os.IsNotExist(err) {
			log.Printf("WARN: storage-event sweep could not remove %s: %v", name, err)
		}
	}
}

func (t *StorageEventTransport) Name() string { return "storage-event" }

func (t *StorageEventTransport) Publish(_ context.Context, _ []string, env Envelope) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errStorageEventClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	// Write under a hidden name and rename, so observers never read a
	// half-written file.
	tmp := filepath.Join(t.dir, "."+env.ID+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	final := filepath.Join(t.dir, env.ID+envelopeExt)
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		_ = os.Remove(final)
		return errStorageEventClosed
	}
	t.pending[final] = &droppedFile{
		written: time.Now(),
		timer:  time.AfterFunc(t.ttl, func() { t.expire(final) }),
	}
	return nil
}

func (t *StorageEventTransport) expire(path string) {
	t.mu.Lock()
	delete(t.pending, path)
	t.mu.Unlock()
	_ = os.Remove(path)
}

// Close removes every file this publisher still owns. Files younger than
// the grace period are kept until they reach it.
func (t *StorageEventTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	grace := min(t.ttl, closeGrace)
	var newest time.Time
	for _, f := range pending {
		f.timer.Stop()
		if f.written.After(newest) {
			newest = f.written
		}
	}
	if wait := time.Until(newest.Add(grace)); len(pending) > 0 && wait > 0 {
		time.Sleep(wait)
	}
	for path := range pending {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("WARN: storage-event could not remove %s: %v", path, err)
		}
	}
	return nil
}

func (t *StorageEventTransport) Subscribe(ctx context.Context, sub Subscription) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if err := watcher.Add(t.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) || !strings.HasSuffix(ev.Name, envelopeExt) {
					continue
				}
				env, ok := readEnvelope(ev.Name)
				if !ok || env.Origin == sub.Origin {
					continue
				}
				sub.Handler(env)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("WARN: storage-event watcher on %s: %v", t.dir, err)
			}
		}
	}()
	return nil
}

// readEnvelope tolerates files that vanished or are not envelopes.
func readEnvelope(path string) (Envelope, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Envelope{}, false
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, false
	}
	return env, true
}

// SameDevice picks the same-device transport: the in-process bus when one is
// given, else the storage-event directory. When neither is available it
// returns ErrUnsupported and the caller carries on without one.
func SameDevice(bus *LocalBus, dir string, ttl time.Duration) (Transport, error) {
	if bus != nil && !bus.closed.Load() {
		return bus, nil
	}
	t, err := NewStorageEventTransport(dir, ttl)
	if err != nil {
		return nil, err
	}
	return t, nil
}
