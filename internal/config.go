package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the client configuration, read from config.yaml
type Config struct {
	Server     string           `yaml:"server,omitempty"`
	Database   string           `yaml:"database,omitempty"`
	Mode       string           `yaml:"mode,omitempty"`
	Connection ConnectionConfig `yaml:"connection"`
	History    HistoryConfig    `yaml:"history"`
}

// ConnectionConfig tunes the stream state machine
type ConnectionConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MaxMissedBeats    int           `yaml:"max_missed_heartbeats"`
	MaxRetries        int           `yaml:"max_retries"`
	BaseBackoff       time.Duration `yaml:"base_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// HistoryConfig tunes history pagination
type HistoryConfig struct {
	InitialLimit int `yaml:"initial_limit"`
	OlderLimit   int `yaml:"older_limit"`
	DisplayLimit int `yaml:"display_limit"`
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() Config {
	return Config{
		Mode: "build",
		Connection: ConnectionConfig{
			HeartbeatInterval: 30 * time.Second,
			MaxMissedBeats:    3,
			MaxRetries:        10,
			BaseBackoff:       time.Second,
			MaxBackoff:        30 * time.Second,
			SettleDelay:       100 * time.Millisecond,
			RequestTimeout:    15 * time.Second,
		},
		History: HistoryConfig{
			InitialLimit: 20,
			OlderLimit:   20,
			DisplayLimit: 10,
		},
	}
}

// LoadConfig reads path over the defaults. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		LogDebug("No config file at %s, using defaults", path)
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// SaveConfig writes cfg to path
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyDefaults fills zero values left by a partial config file
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	cc := &c.Connection
	if cc.HeartbeatInterval <= 0 {
		cc.HeartbeatInterval = def.Connection.HeartbeatInterval
	}
	if cc.MaxMissedBeats <= 0 {
		cc.MaxMissedBeats = def.Connection.MaxMissedBeats
	}
	if cc.MaxRetries <= 0 {
		cc.MaxRetries = def.Connection.MaxRetries
	}
	if cc.BaseBackoff <= 0 {
		cc.BaseBackoff = def.Connection.BaseBackoff
	}
	if cc.MaxBackoff <= 0 {
		cc.MaxBackoff = def.Connection.MaxBackoff
	}
	if cc.SettleDelay <= 0 {
		cc.SettleDelay = def.Connection.SettleDelay
	}
	if cc.RequestTimeout <= 0 {
		cc.RequestTimeout = def.Connection.RequestTimeout
	}
	h := &c.History
	if h.InitialLimit <= 0 {
		h.InitialLimit = def.History.InitialLimit
	}
	if h.OlderLimit <= 0 {
		h.OlderLimit = def.History.OlderLimit
	}
	if h.DisplayLimit <= 0 || h.DisplayLimit > h.OlderLimit {
		h.DisplayLimit = min(def.History.DisplayLimit, h.OlderLimit)
	}
}
