package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "fitness_calendar", cfg.Database.Name)
	assert.Equal(t, 10*time.Second, cfg.Database.ConnectTimeout)
	assert.Equal(t, 70.0, cfg.Calendar.EdgeThreshold)
	assert.Equal(t, 4.0, cfg.Calendar.EdgeBuffer)
	assert.Equal(t, 1100*time.Millisecond, cfg.Calendar.EdgeInitialDelay)
	assert.Equal(t, 1300*time.Millisecond, cfg.Calendar.EdgeRepeatInterval)
	assert.Equal(t, 5*time.Second, cfg.Sync.StorageEventTTL)
	assert.Equal(t, 512, cfg.Sync.DedupeSize)
	assert.True(t, cfg.Sync.ChangeFeed)
	assert.Equal(t, 50, cfg.Queue.MaxEntries)

	loc, err := cfg.Calendar.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  address: ":9000"
database:
  uri: "memory://"
  connect_timeout: "3s"
calendar:
  timezone: "Europe/Berlin"
  edge_initial_delay: "500ms"
sync:
  change_feed: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("SERVER_ADDRESS", ":9100")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Address, "env wins over file")
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, MemoryDatabaseURI, cfg.Database.URI)
	assert.Equal(t, 3*time.Second, cfg.Database.ConnectTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Calendar.EdgeInitialDelay)
	assert.False(t, cfg.Sync.ChangeFeed)

	loc, err := cfg.Calendar.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadConfigRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [unclosed"), 0o644))
	_, err := LoadConfig(dir)
	assert.Error(t, err)
}
