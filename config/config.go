// Package config loads qtranspile settings: built-in defaults, then an
// optional YAML file, then QTRANSPILE_* environment variables, validated as
// a whole.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/perclft/qtranspile/backend/backends"
	"github.com/perclft/qtranspile/backend/sim"
)

// MaxFileSize bounds the configuration file.
const MaxFileSize = 1 << 20

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Registry  RegistryConfig  `yaml:"registry"`
	Remote    RemoteConfig    `yaml:"remote"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Cache     CacheConfig     `yaml:"cache"`
	Store     StoreConfig     `yaml:"store"`
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Encoding    string `yaml:"encoding" validate:"oneof=json console"`
	Development bool   `yaml:"development"`
}

type RegistryConfig struct {
	SimulatorQubits int `yaml:"simulator_qubits" validate:"gte=1,lte=64"`
	Shots           int `yaml:"shots" validate:"gte=1"`
}

// RemoteConfig holds IBM Quantum credentials. An empty token disables
// remote discovery.
type RemoteConfig struct {
	Token     string        `yaml:"token"`
	Hub       string        `yaml:"hub"`
	Group     string        `yaml:"group"`
	Project   string        `yaml:"project"`
	BaseURL   string        `yaml:"base_url" validate:"required,url"`
	RateLimit float64       `yaml:"rate_limit" validate:"gt=0"`
	Burst     int           `yaml:"burst" validate:"gte=1"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
}

type AnalysisConfig struct {
	Workers       int   `yaml:"workers" validate:"gte=1,lte=64"`
	Seed          int64 `yaml:"seed"`
	ExactQubits   int   `yaml:"exact_qubits" validate:"gte=1,lte=14"`
	SampledQubits int   `yaml:"sampled_qubits" validate:"gtefield=ExactQubits,lte=26"`
	// MemoryBytes of 0 disables the memory guard.
	MemoryBytes int64 `yaml:"memory_bytes" validate:"gte=0"`
}

type CacheConfig struct {
	Kind      string        `yaml:"kind" validate:"oneof=none memory redis"`
	Size      int           `yaml:"size" validate:"gte=1"`
	RedisAddr string        `yaml:"redis_addr" validate:"required_if=Kind redis"`
	RedisDB   int           `yaml:"redis_db" validate:"gte=0"`
	TTL       time.Duration `yaml:"ttl" validate:"gt=0"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=none sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required_unless=Driver none"`
}

type ServerConfig struct {
	Listen        string `yaml:"listen" validate:"required,hostname_port"`
	MetricsListen string `yaml:"metrics_listen" validate:"omitempty,hostname_port"`
}

type SchedulerConfig struct {
	Workers      int           `yaml:"workers" validate:"gte=1,lte=64"`
	Queue        string        `yaml:"queue" validate:"oneof=memory redis"`
	RedisAddr    string        `yaml:"redis_addr" validate:"required_if=Queue redis"`
	RedisKey     string        `yaml:"redis_key"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	limits := sim.DefaultLimits()
	return Config{
		Log:      LogConfig{Level: "info", Encoding: "json"},
		Registry: RegistryConfig{SimulatorQubits: backends.DefaultSimulatorQubits, Shots: sim.DefaultShots},
		Remote: RemoteConfig{
			BaseURL:   backends.DefaultIBMBaseURL,
			RateLimit: 5,
			Burst:     5,
			Timeout:   30 * time.Second,
		},
		Analysis: AnalysisConfig{
			Workers:       1,
			ExactQubits:   limits.ExactQubits,
			SampledQubits: limits.SampledQubits,
			MemoryBytes:   limits.MemoryBytes,
		},
		Cache:     CacheConfig{Kind: "memory", Size: 256, TTL: time.Hour, RedisDB: 1},
		Store:     StoreConfig{Driver: "none"},
		Server:    ServerConfig{Listen: "localhost:50055", MetricsListen: "localhost:9095"},
		Scheduler: SchedulerConfig{Workers: 2, Queue: "memory", RedisKey: "queue:jobs", PollInterval: time.Second},
	}
}

// Load builds the configuration. A missing file at path is not an error; an
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if info.Size() > MaxFileSize {
		return fmt.Errorf("config %s: %d bytes exceeds %d", path, info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Credentials returns the IBM account settings.
func (c *Config) Credentials() backends.Credentials {
	return backends.Credentials{Token: c.Remote.Token, Hub: c.Remote.Hub, Group: c.Remote.Group, Project: c.Remote.Project}
}

func (c *Config) Limits() sim.Limits {
	return sim.Limits{ExactQubits: c.Analysis.ExactQubits, SampledQubits: c.Analysis.SampledQubits, MemoryBytes: c.Analysis.MemoryBytes}
}

// ------------------------------------------------------------------
// Environment overrides
// ------------------------------------------------------------------

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"QTRANSPILE_LOG_LEVEL":        &c.Log.Level,
		"QTRANSPILE_LOG_ENCODING":     &c.Log.Encoding,
		"QTRANSPILE_IBM_TOKEN":        &c.Remote.Token,
		"QTRANSPILE_IBM_HUB":          &c.Remote.Hub,
		"QTRANSPILE_IBM_GROUP":        &c.Remote.Group,
		"QTRANSPILE_IBM_PROJECT":      &c.Remote.Project,
		"QTRANSPILE_IBM_BASE_URL":     &c.Remote.BaseURL,
		"QTRANSPILE_CACHE_KIND":       &c.Cache.Kind,
		"QTRANSPILE_CACHE_REDIS_ADDR": &c.Cache.RedisAddr,
		"QTRANSPILE_STORE_DRIVER":     &c.Store.Driver,
		"QTRANSPILE_STORE_DSN":        &c.Store.DSN,
		"QTRANSPILE_SERVER_LISTEN":    &c.Server.Listen,
		"QTRANSPILE_METRICS_LISTEN":   &c.Server.MetricsListen,
		"QTRANSPILE_SCHEDULER_QUEUE":  &c.Scheduler.Queue,
		"QTRANSPILE_SCHEDULER_REDIS":  &c.Scheduler.RedisAddr,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"QTRANSPILE_SIMULATOR_QUBITS":  &c.Registry.SimulatorQubits,
		"QTRANSPILE_SHOTS":             &c.Registry.Shots,
		"QTRANSPILE_ANALYSIS_WORKERS":  &c.Analysis.Workers,
		"QTRANSPILE_EXACT_QUBITS":      &c.Analysis.ExactQubits,
		"QTRANSPILE_SAMPLED_QUBITS":    &c.Analysis.SampledQubits,
		"QTRANSPILE_CACHE_SIZE":        &c.Cache.Size,
		"QTRANSPILE_SCHEDULER_WORKERS": &c.Scheduler.Workers,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	if v, ok := lookup("QTRANSPILE_SEED"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("QTRANSPILE_SEED: %w", err)
		}
		c.Analysis.Seed = n
	}
	if v, ok := lookup("QTRANSPILE_MEMORY_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("QTRANSPILE_MEMORY_BYTES: %w", err)
		}
		c.Analysis.MemoryBytes = n
	}
	if v, ok := lookup("QTRANSPILE_CACHE_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("QTRANSPILE_CACHE_TTL: %w", err)
		}
		c.Cache.TTL = d
	}
	return nil
}
