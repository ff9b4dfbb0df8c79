package zcomp

import (
	stderrors "errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/zcomp/pkg/compression"
	"github.com/ajitpratap0/zcomp/pkg/errors"
	"github.com/ajitpratap0/zcomp/pkg/testutil"
)

const fakeAlgorithm = "fake"

var (
	errBackendDown = stderrors.New("fake backend: out of handles")
	errCorrupt     = stderrors.New("fake backend: corrupt input")
)

// fakeBackend builds copy codecs and tracks how many are alive. Failures
// can be switched on while a test runs.
type fakeBackend struct {
	failCreate   atomic.Bool
	failCompress atomic.Bool
	built        atomic.Int64
	live         atomic.Int64
}

func (b *fakeBackend) registry(t *testing.T) *compression.Registry {
	t.Helper()
	r := compression.NewRegistry()
	require.NoError(t, r.Register(fakeAlgorithm, func(compression.Options) (compression.Codec, error) {
		if b.failCreate.Load() {
			return nil, errBackendDown
		}
		b.built.Add(1)
		b.live.Add(1)
		return &fakeCodec{backend: b}, nil
	}))
	return r
}

type fakeCodec struct {
	backend *fakeBackend
}

func (c *fakeCodec) Compress(dst, src []byte) (int, error) {
	if c.backend.failCompress.Load() {
		return 0, errCorrupt
	}
	return copy(dst, src), nil
}

func (c *fakeCodec) Decompress(dst, src []byte) (int, error) {
	return copy(dst, src), nil
}

func (c *fakeCodec) Algorithm() string { return fakeAlgorithm }

func (c *fakeCodec) Close() error {
	c.backend.live.Add(-1)
	return nil
}

// denyGuard refuses every growth attempt
type denyGuard struct {
	calls atomic.Int64
}

func (g *denyGuard) Allow() bool {
	g.calls.Add(1)
	return false
}

func newFakePool(t *testing.T, b *fakeBackend, ceiling int, opts ...Option) *Comp {
	t.Helper()
	opts = append([]Option{
		WithRegistry(b.registry(t)),
		WithLogger(testutil.TestLogger(t)),
		WithBlockSize(64),
	}, opts...)
	c, err := New(fakeAlgorithm, ceiling, opts...)
	require.NoError(t, err)
	return c
}

// acquireAsync starts an acquire and returns the channel it reports on
func acquireAsync(c *Comp) <-chan *Stream {
	got := make(chan *Stream, 1)
	go func() {
		got <- c.Acquire()
	}()
	return got
}

func received(ch <-chan *Stream) func() bool {
	return func() bool { return len(ch) > 0 }
}

func requireContractPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		assert.True(t, errors.IsType(err, errors.ErrorTypeContract), "unexpected panic: %v", err)
	}()
	fn()
}

// gaugeSeries reads the series of vec labelled pool and algorithm without
// creating it. ok is false when the series does not exist.
func gaugeSeries(t *testing.T, vec *prometheus.GaugeVec, pool, algorithm string) (value float64, ok bool) {
	t.Helper()
	ch := make(chan prometheus.Metric, 64)
	go func() {
		vec.Collect(ch)
		close(ch)
	}()
	for m := range ch {
		var out dto.Metric
		require.NoError(t, m.Write(&out))
		labels := make(map[string]string, len(out.GetLabel()))
		for _, lp := range out.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if labels["pool"] == pool && labels["algorithm"] == algorithm {
			value, ok = out.GetGauge().GetValue(), true
		}
	}
	return value, ok
}
