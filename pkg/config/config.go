package config

import (
	"bytes"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/zcomp/pkg/compression"
	"github.com/ajitpratap0/zcomp/pkg/errors"
	"github.com/ajitpratap0/zcomp/pkg/logger"
)

// EnvPrefix is the prefix of environment variables that override file values,
// e.g. ZCOMP_POOL_MAX_STREAMS.
const EnvPrefix = "ZCOMP"

// Config is the complete zcomp configuration
type Config struct {
	// Pool configures the compression stream pool
	Pool PoolConfig `yaml:"pool" json:"pool" mapstructure:"pool"`

	// Store configures the in-memory block store
	Store StoreConfig `yaml:"store" json:"store" mapstructure:"store"`

	// Memory configures the growth memory guard
	Memory MemoryConfig `yaml:"memory" json:"memory" mapstructure:"memory"`

	// Logging configures the global logger
	Logging logger.Config `yaml:"logging" json:"logging" mapstructure:"logging"`

	// Observability configures metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability" mapstructure:"observability"`

	// Bench holds defaults for the bench command
	Bench BenchConfig `yaml:"bench" json:"bench" mapstructure:"bench"`
}

// PoolConfig contains stream pool settings.
type PoolConfig struct {
	// Name labels the pool in metrics and logs
	Name string `yaml:"name" json:"name" mapstructure:"name"`
	// Algorithm is the registry name of the compression backend
	Algorithm string `yaml:"algorithm" json:"algorithm" mapstructure:"algorithm"`
	// MaxStreams is the stream ceiling. 1 selects the single-stream policy.
	MaxStreams int `yaml:"max_streams" json:"max_streams" mapstructure:"max_streams"`
	// BlockSize is the size of every block handed to a stream
	BlockSize int `yaml:"block_size" json:"block_size" mapstructure:"block_size"`
	// Level is the backend compression level, 0 for the backend default
	Level int `yaml:"level" json:"level" mapstructure:"level"`
}

// StoreConfig contains block store settings.
type StoreConfig struct {
	// Blocks is the number of block slots
	Blocks int `yaml:"blocks" json:"blocks" mapstructure:"blocks"`
}

// MemoryConfig contains the memory guard settings.
type MemoryConfig struct {
	// MinFreeBytes refuses lazy stream growth while available system memory
	// is below this value. 0 disables the guard.
	MinFreeBytes uint64 `yaml:"min_free_bytes" json:"min_free_bytes" mapstructure:"min_free_bytes"`
	// SampleInterval bounds how often system memory is probed
	SampleInterval time.Duration `yaml:"sample_interval" json:"sample_interval" mapstructure:"sample_interval"`
}

// ObservabilityConfig contains metrics and tracing settings.
type ObservabilityConfig struct {
	// MetricsAddr serves /metrics when non-empty
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr" mapstructure:"metrics_addr"`
	// EnableTracing exports spans to stderr
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing" mapstructure:"enable_tracing"`
	// TracingSampleRate is the fraction of traces kept
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate" mapstructure:"tracing_sample_rate"`
}

// BenchConfig contains defaults for the bench command.
type BenchConfig struct {
	Workers int `yaml:"workers" json:"workers" mapstructure:"workers"`
	Rounds  int `yaml:"rounds" json:"rounds" mapstructure:"rounds"`
	// Pattern selects the generated data: text, random, zero or mixed
	Pattern string `yaml:"pattern" json:"pattern" mapstructure:"pattern"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			Name:       "zcomp0",
			Algorithm:  compression.DefaultAlgorithm,
			MaxStreams: runtime.NumCPU(),
			BlockSize:  4096,
		},
		Store: StoreConfig{
			Blocks: 4096,
		},
		Memory: MemoryConfig{
			MinFreeBytes:   0,
			SampleInterval: time.Second,
		},
		Logging: logger.Config{
			Level:    "info",
			Encoding: "console",
		},
		Observability: ObservabilityConfig{
			TracingSampleRate: 1.0,
		},
		Bench: BenchConfig{
			Workers: runtime.NumCPU(),
			Rounds:  1,
			Pattern: "mixed",
		},
	}
}

// Validate validates the configuration for correctness.
func (c *Config) Validate() error {
	if !compression.IsAvailable(c.Pool.Algorithm) {
		return errors.Newf(errors.ErrorTypeConfig, "unknown algorithm %q", c.Pool.Algorithm)
	}
	if c.Pool.MaxStreams < 1 {
		return errors.New(errors.ErrorTypeConfig, "pool.max_streams must be at least 1")
	}
	if c.Pool.BlockSize <= 0 || c.Pool.BlockSize%8 != 0 {
		return errors.New(errors.ErrorTypeConfig, "pool.block_size must be a positive multiple of 8")
	}
	if c.Store.Blocks <= 0 {
		return errors.New(errors.ErrorTypeConfig, "store.blocks must be positive")
	}
	if c.Memory.SampleInterval < 0 {
		return errors.New(errors.ErrorTypeConfig, "memory.sample_interval cannot be negative")
	}
	if c.Bench.Workers <= 0 {
		return errors.New(errors.ErrorTypeConfig, "bench.workers must be positive")
	}
	if c.Bench.Rounds <= 0 {
		return errors.New(errors.ErrorTypeConfig, "bench.rounds must be positive")
	}
	switch c.Bench.Pattern {
	case "text", "random", "zero", "mixed":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown bench.pattern %q", c.Bench.Pattern)
	}
	return nil
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal YAML")
	}
	return data, nil
}

// Load reads the configuration. Defaults are overlaid by the YAML file at
// path (skipped when path is empty) and then by ZCOMP_* environment variables.
// The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults, err := Default().Marshal()
	if err != nil {
		return nil, err
	}
	// Seeding every key lets AutomaticEnv override keys absent from the file.
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load defaults")
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
				WithDetail("path", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
