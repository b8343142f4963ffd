package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath     = "JANITOR_CONFIG"
	envListenAddr     = "LISTEN_ADDR"
	envOperatorSecret = "JANITOR_OPERATOR_SECRET"
	DefaultConfigPath = "/etc/janitor/janitor.yaml"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Engine EngineConfig `yaml:"engine"`
	Events EventsConfig `yaml:"events"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type EngineConfig struct {
	OperatorSecret string         `yaml:"operator_secret"`
	PingInterval   time.Duration  `yaml:"ping_interval"`
	PingTimeout    time.Duration  `yaml:"ping_timeout"`
	RateGovernance RateGovernance `yaml:"rate_governance"`
}

// RateGovernance caps outgoing ping checks across all monitors.
type RateGovernance struct {
	Enabled     bool    `yaml:"enabled"`
	PingsPerSec float64 `yaml:"pings_per_sec"`
	Burst       int     `yaml:"burst"`
}

type EventsConfig struct {
	SinkBuffer     int           `yaml:"sink_buffer"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	WSPingInterval time.Duration `yaml:"ws_ping_interval"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			PingInterval: 3 * time.Second,
			PingTimeout:  10 * time.Second,
		},
		Events: EventsConfig{
			SinkBuffer:     64,
			KeepAlive:      15 * time.Second,
			WSPingInterval: 30 * time.Second,
		},
	}
}

// Load reads path over the defaults.
func Load(ctx context.Context, path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv loads the file named by JANITOR_CONFIG (or path when set),
// falling back to defaults when the default location does not exist, then
// applies environment overrides.
func LoadFromEnv(ctx context.Context, path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv(envConfigPath)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultConfigPath
	}

	cfg, err := Load(ctx, path)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return cfg, err
		}
		cfg = Default()
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv(envOperatorSecret); v != "" {
		cfg.Engine.OperatorSecret = v
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr required")
	}
	if c.Engine.PingInterval <= 0 {
		return fmt.Errorf("engine.ping_interval must be positive, got %s", c.Engine.PingInterval)
	}
	if c.Engine.PingTimeout <= 0 {
		return fmt.Errorf("engine.ping_timeout must be positive, got %s", c.Engine.PingTimeout)
	}
	if rg := c.Engine.RateGovernance; rg.Enabled && rg.PingsPerSec <= 0 {
		return errors.New("engine.rate_governance.pings_per_sec must be positive when enabled")
	}
	if c.Events.SinkBuffer < 0 {
		return fmt.Errorf("events.sink_buffer must not be negative, got %d", c.Events.SinkBuffer)
	}
	return nil
}
