package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/zcomp/pkg/errors"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown algorithm", func(c *Config) { c.Pool.Algorithm = "lzo" }},
		{"zero streams", func(c *Config) { c.Pool.MaxStreams = 0 }},
		{"block size", func(c *Config) { c.Pool.BlockSize = 100 }},
		{"no blocks", func(c *Config) { c.Store.Blocks = 0 }},
		{"negative interval", func(c *Config) { c.Memory.SampleInterval = -time.Second }},
		{"no workers", func(c *Config) { c.Bench.Workers = 0 }},
		{"no rounds", func(c *Config) { c.Bench.Rounds = 0 }},
		{"pattern", func(c *Config) { c.Bench.Pattern = "sparse" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Pool.Algorithm = "zstd"
	cfg.Memory.SampleInterval = 250 * time.Millisecond

	data, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "algorithm: zstd")
	assert.Contains(t, string(data), "sample_interval: 250ms")

	var back Config
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, cfg.Pool, back.Pool)
	assert.Equal(t, cfg.Memory, back.Memory)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Pool, cfg.Pool)
	assert.Equal(t, time.Second, cfg.Memory.SampleInterval)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zcomp.yaml")
	content := []byte(`
pool:
  algorithm: snappy
  max_streams: 3
memory:
  min_free_bytes: 1048576
  sample_interval: 2s
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("ZCOMP_POOL_MAX_STREAMS", "6")
	t.Setenv("ZCOMP_STORE_BLOCKS", "128")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "snappy", cfg.Pool.Algorithm)
	assert.Equal(t, 6, cfg.Pool.MaxStreams)
	assert.Equal(t, 4096, cfg.Pool.BlockSize)
	assert.Equal(t, 128, cfg.Store.Blocks)
	assert.Equal(t, uint64(1048576), cfg.Memory.MinFreeBytes)
	assert.Equal(t, 2*time.Second, cfg.Memory.SampleInterval)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  algorithm: lzo\n"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
