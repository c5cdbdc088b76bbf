package broadcast

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageEventDeliversAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two transports over one directory stand in for two processes.
	pub, err := NewStorageEventTransport(dir, 50*time.Millisecond)
	require.NoError(t, err)
	sub, err := NewStorageEventTransport(dir, 50*time.Millisecond)
	require.NoError(t, err)

	var got, self collector
	require.NoError(t, sub.Subscribe(ctx, Subscription{Origin: "tab-b", Handler: got.handle}))
	require.NoError(t, sub.Subscribe(ctx, Subscription{Origin: "tab-a", Handler: self.handle}))

	env := NewEnvelope("tab-a", scheduleMsg(7, 1, 3, "2025-06-15"))
	require.NoError(t, pub.Publish(ctx, nil, env))

	require.Eventually(t, func() bool { return got.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, env.ID, got.last().ID)
	assert.Equal(t, "2025-06-15", *got.last().Message.Changes.ScheduledDate.Value)
	assert.Zero(t, self.count())

	// The drop file is cleaned up after the ttl.
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, env.ID+envelopeExt))
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStorageEventIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, err := NewStorageEventTransport(dir, time.Second)
	require.NoError(t, err)
	var got collector
	require.NoError(t, tr.Subscribe(ctx, Subscription{Origin: "tab", Handler: got.handle}))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))

	env := NewEnvelope("other", scheduleMsg(1, 1, 1, "2025-01-01"))
	require.NoError(t, tr.Publish(ctx, nil, env))
	require.Eventually(t, func() bool { return got.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, got.count())
	assert.Equal(t, env.ID, got.last().ID)
}

func TestStorageEventCloseRemovesDropFiles(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	tr, err := NewStorageEventTransport(dir, time.Hour)
	require.NoError(t, err)
	require.NoError(t, tr.Publish(ctx, nil, NewEnvelope("tab-a", scheduleMsg(7, 1, 3, "2025-06-15"))))
	require.NoError(t, tr.Publish(ctx, nil, NewEnvelope("tab-a", scheduleMsg(7, 1, 3, "2025-06-16"))))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, tr.Close())
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Error(t, tr.Publish(ctx, nil, NewEnvelope("tab-a", scheduleMsg(7, 1, 3, "2025-06-17"))))
	assert.NoError(t, tr.Close())
}

func TestStorageEventSweepsAbandonedFiles(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "abandoned.json")
	staleTmp := filepath.Join(dir, ".abandoned.tmp")
	fresh := filepath.Join(dir, "fresh.json")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{stale, staleTmp, fresh, other} {
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0o644))
	}
	old := time.Now().Add(-time.Hour)
	for _, p := range []string{stale, staleTmp, other} {
		require.NoError(t, os.Chtimes(p, old, old))
	}

	tr, err := NewStorageEventTransport(dir, time.Minute)
	require.NoError(t, err)
	defer tr.Close()

	assert.NoFileExists(t, stale)
	assert.NoFileExists(t, staleTmp)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
}

func TestSameDeviceFallback(t *testing.T) {
	bus := NewLocalBus()
	tr, err := SameDevice(bus, "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "local", tr.Name())

	bus.Close()
	tr, err = SameDevice(bus, t.TempDir(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "storage-event", tr.Name())

	_, err = SameDevice(nil, "", time.Second)
	assert.ErrorIs(t, err, ErrUnsupported)
}
