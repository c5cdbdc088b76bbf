package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MemoryDatabaseURI selects the in-process store instead of MongoDB.
const MemoryDatabaseURI = "memory://"

// Config holds all configuration for the application.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Calendar CalendarConfig `mapstructure:"calendar"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Queue    QueueConfig    `mapstructure:"queue"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	URI  string `mapstructure:"uri"`
	Name string `mapstructure:"name"`
	// ConnectTimeout bounds connecting and pinging the server at startup.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// JWTConfig carries the secret used to verify tokens minted by the auth provider.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// CalendarConfig tunes the grid and the drag edge band.
type CalendarConfig struct {
	// Timezone is an IANA name, or "Local".
	Timezone           string        `mapstructure:"timezone"`
	EdgeThreshold      float64       `mapstructure:"edge_threshold"`
	EdgeBuffer         float64       `mapstructure:"edge_buffer"`
	EdgeInitialDelay   time.Duration `mapstructure:"edge_initial_delay"`
	EdgeRepeatInterval time.Duration `mapstructure:"edge_repeat_interval"`
}

// Location resolves Timezone, falling back to time.Local.
func (c CalendarConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// SyncConfig selects the propagation paths of the CLI.
type SyncConfig struct {
	// DeviceDir is the drop directory of the same-device file transport.
	DeviceDir       string        `mapstructure:"device_dir"`
	RelayURL        string        `mapstructure:"relay_url"`
	StorageEventTTL time.Duration `mapstructure:"storage_event_ttl"`
	DedupeSize      int           `mapstructure:"dedupe_size"`
	ChangeFeed      bool          `mapstructure:"change_feed"`
}

type QueueConfig struct {
	Path       string `mapstructure:"path"`
	MaxEntries int    `mapstructure:"max_entries"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// server.address -> SERVER_ADDRESS
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	v.SetDefault("server.address", ":8080")
	v.SetDefault("database.uri", "mongodb://localhost:27017")
	v.SetDefault("database.name", "fitness_calendar")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("calendar.timezone", "Local")
	v.SetDefault("calendar.edge_threshold", 70)
	v.SetDefault("calendar.edge_buffer", 4)
	v.SetDefault("calendar.edge_initial_delay", "1100ms")
	v.SetDefault("calendar.edge_repeat_interval", "1300ms")
	v.SetDefault("sync.device_dir", "")
	v.SetDefault("sync.relay_url", "ws://localhost:8080/api/v1/realtime")
	v.SetDefault("sync.storage_event_ttl", "5s")
	v.SetDefault("sync.dedupe_size", 512)
	v.SetDefault("sync.change_feed", true)
	v.SetDefault("queue.path", "calendar-pending.db")
	v.SetDefault("queue.max_entries", 50)

	err = v.ReadInConfig()
	// A missing file is fine: defaults and env vars still apply.
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	} else if err != nil {
		return
	}

	// Duration strings ("1100ms") decode straight into time.Duration fields.
	err = v.Unmarshal(&config)
	if err != nil {
		return
	}
	return config, nil
}
