package blockstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/zcomp/pkg/compression"
	"github.com/ajitpratap0/zcomp/pkg/errors"
	"github.com/ajitpratap0/zcomp/pkg/metrics"
	"github.com/ajitpratap0/zcomp/pkg/testutil"
	"github.com/ajitpratap0/zcomp/pkg/zcomp"
)

const testBlockSize = 4096

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.Blocks == 0 {
		cfg.Blocks = 64
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = testBlockSize
	}
	if cfg.MaxStreams == 0 {
		cfg.MaxStreams = 4
	}
	cfg.Logger = testutil.TestLogger(t)
	if cfg.Name == "" {
		cfg.Name = t.Name()
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no blocks", Config{Blocks: 0}},
		{"odd block size", Config{Blocks: 1, BlockSize: 4095}},
		{"tiny block size", Config{Blocks: 1, BlockSize: 4}},
		{"unknown algorithm", Config{Blocks: 1, Algorithm: "lzo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument), "got %v", err)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	s := newTestStore(t, Config{Blocks: 4})
	assert.Equal(t, compression.DefaultAlgorithm, s.Algorithm())
	st := s.Stats()
	assert.Equal(t, compression.DefaultAlgorithm, st.Pool.Algorithm)
	assert.Equal(t, zcomp.PolicyMulti, st.Pool.Policy)
}

func TestWriteRead_AllAlgorithms(t *testing.T) {
	blocks := [][]byte{
		testutil.TextBlock(testBlockSize),
		testutil.RandomBlock(testBlockSize, 3),
		testutil.SameFilledBlock(testBlockSize, 0xdeadbeefcafef00d),
		make([]byte, testBlockSize),
	}

	for _, name := range compression.Names() {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, Config{Algorithm: name, Blocks: len(blocks)})
			ctx := context.Background()

			for i, b := range blocks {
				require.NoError(t, s.Write(ctx, i, b))
			}
			for i, b := range blocks {
				got := make([]byte, testBlockSize)
				require.NoError(t, s.Read(ctx, i, got))
				assert.Equal(t, b, got, "block %d", i)
			}

			st := s.Stats()
			assert.Equal(t, int64(4), st.Blocks)
			assert.Equal(t, int64(2), st.SameFilled)
			assert.Equal(t, int64(1), st.Huge, "random data is stored raw")
			assert.Equal(t, int64(4*testBlockSize), st.OrigBytes)
			assert.Greater(t, st.CompressionRatio(), 1.0)
		})
	}
}

func TestRead_Unwritten(t *testing.T) {
	s := newTestStore(t, Config{Blocks: 2})
	dst := testutil.TextBlock(testBlockSize)
	require.NoError(t, s.Read(context.Background(), 1, dst))
	assert.Equal(t, make([]byte, testBlockSize), dst)
}

func TestSameFilled(t *testing.T) {
	tests := []struct {
		name  string
		block []byte
		fill  uint64
		same  bool
	}{
		{"zeros", make([]byte, 64), 0, true},
		{"pattern", testutil.SameFilledBlock(64, 0x0102030405060708), 0x0102030405060708, true},
		{"text", testutil.TextBlock(64), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fill, ok := sameFilled(tt.block)
			assert.Equal(t, tt.same, ok)
			if ok {
				assert.Equal(t, tt.fill, fill)
			}
		})
	}

	last := testutil.SameFilledBlock(64, 7)
	last[63] = 1
	_, ok := sameFilled(last)
	assert.False(t, ok, "a difference in the last word counts")
}

func TestOverwriteAndDiscard(t *testing.T) {
	s := newTestStore(t, Config{Blocks: 2})
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, 0, testutil.TextBlock(testBlockSize)))
	first := s.Stats()
	assert.Equal(t, int64(1), first.Blocks)
	assert.Positive(t, first.StoredBytes)

	require.NoError(t, s.Write(ctx, 0, testutil.RandomBlock(testBlockSize, 9)))
	st := s.Stats()
	assert.Equal(t, int64(1), st.Blocks, "overwrite replaces the old object")
	assert.Equal(t, int64(1), st.Huge)

	require.NoError(t, s.Discard(0))
	st = s.Stats()
	assert.Zero(t, st.Blocks)
	assert.Zero(t, st.ComprBytes)
	assert.Zero(t, st.StoredBytes, "buffers go back to the pool")

	got := make([]byte, testBlockSize)
	require.NoError(t, s.Read(ctx, 0, got))
	assert.Equal(t, make([]byte, testBlockSize), got)
}

func TestArgumentErrors(t *testing.T) {
	s := newTestStore(t, Config{Blocks: 2})
	ctx := context.Background()
	block := testutil.TextBlock(testBlockSize)

	assert.True(t, errors.IsType(s.Write(ctx, 2, block), errors.ErrorTypeInvalidArgument))
	assert.True(t, errors.IsType(s.Write(ctx, -1, block), errors.ErrorTypeInvalidArgument))
	assert.True(t, errors.IsType(s.Write(ctx, 0, block[:100]), errors.ErrorTypeInvalidArgument))
	assert.True(t, errors.IsType(s.Read(ctx, 0, make([]byte, 10)), errors.ErrorTypeInvalidArgument))
	assert.True(t, errors.IsType(s.Discard(5), errors.ErrorTypeInvalidArgument))

	st := s.Stats()
	assert.Equal(t, int64(3), st.FailedWrites)
	assert.Equal(t, int64(1), st.FailedReads)
}

func TestSetAlgorithm(t *testing.T) {
	s := newTestStore(t, Config{Blocks: 2})
	ctx := context.Background()

	require.NoError(t, s.SetAlgorithm("zstd"))
	assert.Equal(t, "zstd", s.Algorithm())

	err := s.SetAlgorithm("lzo")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument), "got %v", err)
	assert.Equal(t, "zstd", s.Algorithm())

	require.NoError(t, s.Write(ctx, 0, testutil.TextBlock(testBlockSize)))
	err = s.SetAlgorithm("lz4")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument), "got %v", err)

	require.NoError(t, s.Discard(0))
	require.NoError(t, s.SetAlgorithm("brotli"))
	assert.Equal(t, "brotli", s.Stats().Pool.Algorithm)
}

func TestSetMaxStreams(t *testing.T) {
	s := newTestStore(t, Config{Blocks: 8, MaxStreams: 4})
	assert.True(t, s.SetMaxStreams(2))
	assert.Equal(t, 2, s.Stats().Pool.MaxStreams)

	single := newTestStore(t, Config{Blocks: 8, MaxStreams: 1, Name: "single"})
	assert.False(t, single.SetMaxStreams(4))
}

func TestSetAlgorithm_KeepsCeiling(t *testing.T) {
	s := newTestStore(t, Config{Blocks: 8, MaxStreams: 4})
	require.True(t, s.SetMaxStreams(2))

	require.NoError(t, s.SetAlgorithm("zstd"))
	st := s.Stats().Pool
	assert.Equal(t, "zstd", st.Algorithm)
	assert.Equal(t, zcomp.PolicyMulti, st.Policy)
	assert.Equal(t, 2, st.MaxStreams)
}

func TestSetAlgorithm_SameAlgorithmKeepsMetrics(t *testing.T) {
	s := newTestStore(t, Config{Blocks: 8, Name: "same-algorithm"})
	require.Equal(t, 1, metrics.SeriesOwners("same-algorithm", "lz4"))

	require.NoError(t, s.SetAlgorithm("lz4"))
	assert.Equal(t, 1, metrics.SeriesOwners("same-algorithm", "lz4"),
		"the replaced pool must not take the new pool's series with it")

	require.NoError(t, s.Close())
	assert.Zero(t, metrics.SeriesOwners("same-algorithm", "lz4"))
}

func TestCancelledAcquire(t *testing.T) {
	s := newTestStore(t, Config{Blocks: 2, MaxStreams: 1})

	// Hold the only stream so the write has to wait.
	s.mu.RLock()
	held := s.comp.Acquire()
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Write(ctx, 0, testutil.TextBlock(testBlockSize))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	s.comp.Release(held)
	require.NoError(t, s.Write(context.Background(), 0, testutil.TextBlock(testBlockSize)))
}

func TestClose(t *testing.T) {
	s := newTestStore(t, Config{Blocks: 2})
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, 0, testutil.TextBlock(testBlockSize)))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.Write(ctx, 1, testutil.TextBlock(testBlockSize))
	assert.True(t, errors.IsType(err, errors.ErrorTypeState), "got %v", err)
	err = s.Read(ctx, 0, make([]byte, testBlockSize))
	assert.True(t, errors.IsType(err, errors.ErrorTypeState), "got %v", err)
	assert.False(t, s.SetMaxStreams(3))

	st := s.Stats()
	assert.Zero(t, st.Blocks)
	assert.Equal(t, st.Pool.Created, st.Pool.Destroyed)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	const (
		blocks  = 32
		workers = 8
		rounds  = 50
	)
	s := newTestStore(t, Config{Blocks: blocks, MaxStreams: 3, Algorithm: "zstd"})
	ctx := context.Background()

	// Each worker owns a disjoint set of indexes, so it knows what it wrote.
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			got := make([]byte, testBlockSize)
			for r := 0; r < rounds; r++ {
				idx := w + workers*(r%(blocks/workers))
				block := testutil.TextBlock(testBlockSize)
				copy(block, fmt.Sprintf("worker %d round %d", w, r))
				if err := s.Write(ctx, idx, block); err != nil {
					t.Errorf("write %d: %v", idx, err)
					return
				}
				if err := s.Read(ctx, idx, got); err != nil {
					t.Errorf("read %d: %v", idx, err)
					return
				}
				if string(got[:32]) != string(block[:32]) {
					t.Errorf("block %d: read back %q", idx, got[:32])
				}
			}
		}(w)
	}

	go func() {
		for _, n := range []int{1, 4, 2, 3} {
			s.SetMaxStreams(n)
			time.Sleep(2 * time.Millisecond)
		}
	}()
	wg.Wait()

	st := s.Stats()
	assert.Equal(t, int64(workers*rounds), st.Writes)
	assert.Zero(t, st.FailedReads)
	assert.Zero(t, st.FailedWrites)
}

func TestMaxCompressedSize(t *testing.T) {
	assert.Equal(t, 3072, MaxCompressedSize(4096))
	assert.Equal(t, 48, MaxCompressedSize(64))
}
