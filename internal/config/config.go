// Package config loads server settings: built-in defaults, then an optional
// YAML file, then LIFEGRID_* environment variables. Command-line flags are
// applied last by the caller.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"lifegrid.ai/internal/sim/participant"
	"lifegrid.ai/internal/sim/rules"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Grid        GridConfig        `yaml:"grid" envPrefix:"GRID_"`
	Store       StoreConfig       `yaml:"store" envPrefix:"STORE_"`
	Persistence PersistenceConfig `yaml:"persistence" envPrefix:"DATA_"`
	HTTP        HTTPConfig        `yaml:"http" envPrefix:"HTTP_"`
	Log         LogConfig         `yaml:"log" envPrefix:"LOG_"`
}

type GridConfig struct {
	Rows     int    `yaml:"rows" env:"ROWS"`
	Cols     int    `yaml:"cols" env:"COLS"`
	Rule     string `yaml:"rule" env:"RULE"`
	Viewer   string `yaml:"viewer" env:"VIEWER"`
	Autoplay bool   `yaml:"autoplay" env:"AUTOPLAY"`

	TickInterval   time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	CommitInterval time.Duration `yaml:"commit_interval" env:"COMMIT_INTERVAL"`
	SubmitTimeout  time.Duration `yaml:"submit_timeout" env:"SUBMIT_TIMEOUT"`
}

type StoreConfig struct {
	Backend       string `yaml:"backend" env:"BACKEND"`
	Document      string `yaml:"document" env:"DOCUMENT"`
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
}

type PersistenceConfig struct {
	// Dir is the data directory; empty disables logs, snapshots and index.
	Dir           string `yaml:"dir" env:"DIR"`
	SnapshotEvery int    `yaml:"snapshot_every" env:"SNAPSHOT_EVERY"`
	SnapshotKeep  int    `yaml:"snapshot_keep" env:"SNAPSHOT_KEEP"`
	Index         bool   `yaml:"index" env:"INDEX"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	Dev   bool   `yaml:"dev" env:"DEV"`
}

func Defaults() Config {
	return Config{
		Grid: GridConfig{
			Rows:           64,
			Cols:           64,
			Rule:           rules.Conway.String(),
			TickInterval:   100 * time.Millisecond,
			CommitInterval: 250 * time.Millisecond,
			SubmitTimeout:  5 * time.Second,
		},
		Store: StoreConfig{
			Backend:   BackendMemory,
			Document:  "default",
			RedisAddr: "localhost:6379",
		},
		Persistence: PersistenceConfig{
			Dir:           "./data",
			SnapshotEvery: 500,
			SnapshotKeep:  10,
			Index:         true,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info"},
	}
}

// Load reads path (optional) over the defaults and applies the environment.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "LIFEGRID_"}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	d := Defaults()
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = d.Store.Backend
	}
	if strings.TrimSpace(c.Store.Document) == "" {
		c.Store.Document = d.Store.Document
	}
	if c.Grid.Rule == "" {
		c.Grid.Rule = d.Grid.Rule
	}
	if c.Grid.TickInterval <= 0 {
		c.Grid.TickInterval = d.Grid.TickInterval
	}
	if c.Grid.CommitInterval <= 0 {
		c.Grid.CommitInterval = d.Grid.CommitInterval
	}
	if c.Grid.SubmitTimeout <= 0 {
		c.Grid.SubmitTimeout = d.Grid.SubmitTimeout
	}
	if c.Persistence.SnapshotKeep < 0 {
		c.Persistence.SnapshotKeep = 0
	}
	if c.Persistence.SnapshotEvery < 0 {
		c.Persistence.SnapshotEvery = 0
	}
}

func (c Config) Validate() error {
	if c.Grid.Rows <= 0 || c.Grid.Cols <= 0 {
		return fmt.Errorf("grid size must be positive: %dx%d", c.Grid.Rows, c.Grid.Cols)
	}
	if _, err := rules.Parse(c.Grid.Rule); err != nil {
		return fmt.Errorf("grid.rule: %w", err)
	}
	if c.Grid.Viewer != "" && !participant.Valid(c.Grid.Viewer) {
		return fmt.Errorf("grid.viewer %q: must not contain ',' or line breaks", c.Grid.Viewer)
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.Store.RedisAddr) == "" {
			return fmt.Errorf("store.redis_addr required for redis backend")
		}
	default:
		return fmt.Errorf("store.backend %q: want %s or %s", c.Store.Backend, BackendMemory, BackendRedis)
	}
	return nil
}
