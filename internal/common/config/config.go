package config

import (
	"os"
	"regexp"
	"time"

	"github.com/lancachetools/lansync/pkg/helper"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the top-level lansync configuration.
	Config struct {
		Server   ServerConfig   `yaml:"server"`
		Listen   ListenConfig   `yaml:"listen"`
		Logger   LoggerConfig   `yaml:"logger"`
		Metrics  MetricsConfig  `yaml:"metrics"`
		Store    StoreConfig    `yaml:"store"`
		Polling  PollingConfig  `yaml:"polling"`
		Fetch    FetchConfig    `yaml:"fetch"`
		Tracker  TrackerConfig  `yaml:"tracker"`
		Prefs    PrefsConfig    `yaml:"prefs"`
		Channel  ChannelConfig  `yaml:"channel"`
	}

	// ServerConfig points at the monitored cache server.
	ServerConfig struct {
		BaseURL string `yaml:"base_url"` // e.g. http://lancache.lan:8080
		HubPath string `yaml:"hub_path"` // websocket hub path, default /hubs/downloads
		APIKey  string `yaml:"api_key"`  // optional, sent as X-Api-Key
	}

	// ListenConfig configures the local snapshot API.
	ListenConfig struct {
		Addr string `yaml:"addr"` // default :9612
	}

	// ChannelConfig tunes the push channel.
	ChannelConfig struct {
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"` // default 10s
		PingInterval     time.Duration `yaml:"ping_interval"`     // default 30s
	}

	// StoreConfig selects the durable store backend.
	StoreConfig struct {
		Type   string            `yaml:"type"` // memory, disk, redis, sqlite
		Disk   StoreDiskConfig   `yaml:"disk"`
		Redis  StoreRedisConfig  `yaml:"redis"`
		SQLite StoreSQLiteConfig `yaml:"sqlite"`
	}

	StoreDiskConfig struct {
		Dir string `yaml:"dir"` // default ./data
	}

	StoreRedisConfig struct {
		Addr     string        `yaml:"addr"`
		Username string        `yaml:"username"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"`
	}

	StoreSQLiteConfig struct {
		Path string `yaml:"path"` // default ./data/lansync.db
	}

	// PollingConfig holds the tiered refresh intervals.
	PollingConfig struct {
		Fast   time.Duration `yaml:"fast"`   // default 5s
		Medium time.Duration `yaml:"medium"` // default 30s
		Slow   time.Duration `yaml:"slow"`   // default 2m
	}

	// FetchConfig tunes the debounced fetch coordinator.
	FetchConfig struct {
		MinInterval time.Duration `yaml:"min_interval"` // default 250ms
		Timeout     time.Duration `yaml:"timeout"`      // default 10s
		BulkTimeout time.Duration `yaml:"bulk_timeout"` // default 30s while a bulk job runs
	}

	// TrackerConfig tunes operation notification lifecycle.
	TrackerConfig struct {
		DismissAfter time.Duration `yaml:"dismiss_after"` // default 10s
		ToastAfter   time.Duration `yaml:"toast_after"`   // default 5s
		Pinned       bool          `yaml:"pinned"`        // keep terminal notifications until dismissed
	}

	// PrefsConfig tunes the preference synchronizer.
	PrefsConfig struct {
		OptimisticCooldown time.Duration `yaml:"optimistic_cooldown"` // default 3s
	}

	// LoggerConfig represents the logger configuration.
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps
		TimeFormat string `yaml:"time_format"` // time format for log timestamps
	}

	// MetricsConfig configures the prometheus registry.
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Namespace string    `yaml:"namespace"` // default lansync
		Buckets   []float64 `yaml:"buckets"`
	}
)

// LoadConfig loads configuration from a YAML file with environment variable support.
func LoadConfig(filename string) (*Config, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}

	cfg.setDefaults()
	return &cfg, cfgPath, nil
}

func (c *Config) setDefaults() {
	if c.Server.HubPath == "" {
		c.Server.HubPath = "/hubs/downloads"
	}
	if c.Listen.Addr == "" {
		c.Listen.Addr = ":9612"
	}
	if c.Channel.HandshakeTimeout <= 0 {
		c.Channel.HandshakeTimeout = 10 * time.Second
	}
	if c.Channel.PingInterval <= 0 {
		c.Channel.PingInterval = 30 * time.Second
	}
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	if c.Store.Disk.Dir == "" {
		c.Store.Disk.Dir = "data"
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = "data/lansync.db"
	}
	if c.Polling.Fast <= 0 {
		c.Polling.Fast = 5 * time.Second
	}
	if c.Polling.Medium <= 0 {
		c.Polling.Medium = 30 * time.Second
	}
	if c.Polling.Slow <= 0 {
		c.Polling.Slow = 2 * time.Minute
	}
	if c.Fetch.MinInterval <= 0 {
		c.Fetch.MinInterval = 250 * time.Millisecond
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 10 * time.Second
	}
	if c.Fetch.BulkTimeout <= 0 {
		c.Fetch.BulkTimeout = 30 * time.Second
	}
	if c.Tracker.DismissAfter <= 0 {
		c.Tracker.DismissAfter = 10 * time.Second
	}
	if c.Tracker.ToastAfter <= 0 {
		c.Tracker.ToastAfter = 5 * time.Second
	}
	if c.Prefs.OptimisticCooldown <= 0 {
		c.Prefs.OptimisticCooldown = 3 * time.Second
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "lansync"
	}
}

// resolveEnv replaces environment variable placeholders in YAML content.
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
