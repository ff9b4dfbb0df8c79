package performance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zerrors "github.com/ajitpratap0/zcomp/pkg/errors"
)

var sink [][]byte

func TestProfiler(t *testing.T) {
	dir := t.TempDir()
	cfg := ProfilerConfig{
		CPUProfile: filepath.Join(dir, "cpu.pprof"),
		MemProfile: filepath.Join(dir, "mem.pprof"),
	}

	p, err := StartProfiler(cfg)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		sink = append(sink, make([]byte, 1024))
	}
	sink = nil

	usage, err := p.Stop()
	require.NoError(t, err)
	assert.Positive(t, usage.Elapsed)
	assert.Positive(t, usage.GoroutineCount)
	assert.GreaterOrEqual(t, usage.Mallocs, uint64(1000))
	assert.GreaterOrEqual(t, usage.TotalAlloc, uint64(1000*1024))

	for _, path := range []string{cfg.CPUProfile, cfg.MemProfile} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size(), path)
	}
}

func TestProfiler_Disabled(t *testing.T) {
	p, err := StartProfiler(ProfilerConfig{})
	require.NoError(t, err)
	usage, err := p.Stop()
	require.NoError(t, err)
	assert.NotNil(t, usage)
}

func TestProfiler_BadPath(t *testing.T) {
	_, err := StartProfiler(ProfilerConfig{CPUProfile: filepath.Join(t.TempDir(), "missing", "cpu.pprof")})
	require.Error(t, err)
	assert.True(t, zerrors.IsType(err, zerrors.ErrorTypeConfig))
}

func TestResourceMonitor(t *testing.T) {
	rm := NewResourceMonitor()
	u := rm.Usage()
	assert.GreaterOrEqual(t, u.CPUPercent, 0.0)
	assert.Positive(t, u.GoroutineCount)
}
