// Package config loads the server configuration: YAML file first, then
// VOXELPRISM_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "VOXELPRISM_"

type Config struct {
	WorldID     string          `yaml:"world_id" env:"WORLD_ID"`
	DataDir     string          `yaml:"data_dir" env:"DATA_DIR"`
	CatalogsDir string          `yaml:"catalogs_dir" env:"CATALOGS_DIR"`
	Actions     map[string]bool `yaml:"actions"`

	Expectations ExpectationsConfig `yaml:"expectations" envPrefix:"EXPECT_"`
	Recording    RecordingConfig    `yaml:"recording" envPrefix:"RECORDING_"`
	Storage      StorageConfig      `yaml:"storage" envPrefix:"STORAGE_"`
	Server       ServerConfig       `yaml:"server" envPrefix:"SERVER_"`
}

type ExpectationsConfig struct {
	TTLMs           int    `yaml:"ttl_ms" env:"TTL_MS"`
	SweepIntervalMs int    `yaml:"sweep_interval_ms" env:"SWEEP_INTERVAL_MS"`
	Policy          string `yaml:"policy" env:"POLICY"`
	HangingRadius   int    `yaml:"hanging_radius" env:"HANGING_RADIUS"`
}

type RecordingConfig struct {
	BatchSize        int    `yaml:"batch_size" env:"BATCH_SIZE"`
	FlushIntervalMs  int    `yaml:"flush_interval_ms" env:"FLUSH_INTERVAL_MS"`
	MaxAttempts      int    `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialBackoffMs int    `yaml:"initial_backoff_ms" env:"INITIAL_BACKOFF_MS"`
	MaxBackoffMs     int    `yaml:"max_backoff_ms" env:"MAX_BACKOFF_MS"`
	OnExhausted      string `yaml:"on_exhausted" env:"ON_EXHAUSTED"`
	WarnDepth        int    `yaml:"warn_depth" env:"WARN_DEPTH"`
	DrainTimeoutMs   int    `yaml:"drain_timeout_ms" env:"DRAIN_TIMEOUT_MS"`
}

type StorageConfig struct {
	Backend    string       `yaml:"backend" env:"BACKEND"`
	SQLitePath string       `yaml:"sqlite_path" env:"SQLITE_PATH"`
	PebbleDir  string       `yaml:"pebble_dir" env:"PEBBLE_DIR"`
	Remote     RemoteConfig `yaml:"remote" envPrefix:"REMOTE_"`
	Archive    bool         `yaml:"archive" env:"ARCHIVE"`
	DeadLetter bool         `yaml:"dead_letter" env:"DEAD_LETTER"`
}

type RemoteConfig struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	Token     string `yaml:"token" env:"TOKEN"`
	TimeoutMs int    `yaml:"timeout_ms" env:"TIMEOUT_MS"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr" env:"ADDR"`
	IngestToken string `yaml:"ingest_token" env:"INGEST_TOKEN"`
}

const (
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
	BackendRemote = "remote"
)

// Load reads path (optional), applies environment overrides and validates
// the result. known lists the action keys the server can record.
func Load(path string, known []string) (Config, error) {
	cfg := defaults(known)
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(known); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults(known []string) Config {
	actions := make(map[string]bool, len(known))
	for _, k := range known {
		actions[k] = true
	}
	return Config{
		WorldID: "world",
		DataDir: "./data",
		Actions: actions,
		Expectations: ExpectationsConfig{
			TTLMs:           2000,
			SweepIntervalMs: 1000,
			Policy:          "last_writer_wins",
			HangingRadius:   2,
		},
		Recording: RecordingConfig{
			BatchSize:        256,
			FlushIntervalMs:  250,
			MaxAttempts:      5,
			InitialBackoffMs: 100,
			MaxBackoffMs:     5000,
			OnExhausted:      "drop",
			WarnDepth:        10000,
			DrainTimeoutMs:   10000,
		},
		Storage: StorageConfig{
			Backend:    BackendSQLite,
			Archive:    true,
			DeadLetter: true,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

func (c *Config) Normalize() {
	c.WorldID = strings.TrimSpace(c.WorldID)
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	c.Expectations.Policy = strings.ToLower(strings.TrimSpace(c.Expectations.Policy))
	c.Recording.OnExhausted = strings.ToLower(strings.TrimSpace(c.Recording.OnExhausted))
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendSQLite
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.DataDir, "index", "activities.sqlite")
	}
	if c.Storage.PebbleDir == "" {
		c.Storage.PebbleDir = filepath.Join(c.DataDir, "kv")
	}
	if c.Storage.Remote.TimeoutMs <= 0 {
		c.Storage.Remote.TimeoutMs = 10000
	}
	if c.Expectations.SweepIntervalMs <= 0 {
		c.Expectations.SweepIntervalMs = c.Expectations.TTLMs
	}
	if c.Actions == nil {
		c.Actions = map[string]bool{}
	}
}

func (c Config) Validate(known []string) error {
	if c.WorldID == "" {
		return fmt.Errorf("world_id is required")
	}
	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}
	var unknown []string
	for k := range c.Actions {
		if !knownSet[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown action types: %s", strings.Join(unknown, ", "))
	}

	e := c.Expectations
	if e.TTLMs <= 0 {
		return fmt.Errorf("expectations.ttl_ms must be > 0")
	}
	switch e.Policy {
	case "last_writer_wins", "first_writer_wins":
	default:
		return fmt.Errorf("expectations.policy: unknown %q", e.Policy)
	}
	if e.HangingRadius < 0 {
		return fmt.Errorf("expectations.hanging_radius must be >= 0")
	}

	r := c.Recording
	if r.BatchSize <= 0 || r.FlushIntervalMs <= 0 || r.MaxAttempts <= 0 {
		return fmt.Errorf("recording: batch_size, flush_interval_ms and max_attempts must be > 0")
	}
	if r.InitialBackoffMs <= 0 || r.MaxBackoffMs < r.InitialBackoffMs {
		return fmt.Errorf("recording: need 0 < initial_backoff_ms <= max_backoff_ms")
	}
	if r.OnExhausted != "drop" && r.OnExhausted != "halt" {
		return fmt.Errorf("recording.on_exhausted: unknown %q", r.OnExhausted)
	}
	if r.DrainTimeoutMs <= 0 {
		return fmt.Errorf("recording.drain_timeout_ms must be > 0")
	}

	switch c.Storage.Backend {
	case BackendSQLite, BackendPebble:
	case BackendRemote:
		if strings.TrimSpace(c.Storage.Remote.Endpoint) == "" {
			return fmt.Errorf("storage.remote.endpoint is required for backend=remote")
		}
	default:
		return fmt.Errorf("storage.backend: unknown %q", c.Storage.Backend)
	}
	return nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (e ExpectationsConfig) TTL() time.Duration           { return ms(e.TTLMs) }
func (e ExpectationsConfig) SweepInterval() time.Duration { return ms(e.SweepIntervalMs) }

func (r RecordingConfig) FlushInterval() time.Duration  { return ms(r.FlushIntervalMs) }
func (r RecordingConfig) InitialBackoff() time.Duration { return ms(r.InitialBackoffMs) }
func (r RecordingConfig) MaxBackoff() time.Duration     { return ms(r.MaxBackoffMs) }
func (r RecordingConfig) DrainTimeout() time.Duration   { return ms(r.DrainTimeoutMs) }

func (r RemoteConfig) Timeout() time.Duration { return ms(r.TimeoutMs) }

// Policy answers whether an action type should be recorded.
type Policy struct {
	enabled map[string]bool
}

func (c Config) Policy() Policy {
	m := make(map[string]bool, len(c.Actions))
	for k, v := range c.Actions {
		m[k] = v
	}
	return Policy{enabled: m}
}

func (p Policy) IsEnabled(key string) bool { return p.enabled[key] }
