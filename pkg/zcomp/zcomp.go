package zcomp

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/zcomp/pkg/compression"
	"github.com/ajitpratap0/zcomp/pkg/errors"
	"github.com/ajitpratap0/zcomp/pkg/logger"
	"github.com/ajitpratap0/zcomp/pkg/metrics"
	"github.com/ajitpratap0/zcomp/pkg/observability"
	"github.com/ajitpratap0/zcomp/pkg/performance"
)

// Pooling policies reported by Stats and Policy.
const (
	PolicySingle = "single"
	PolicyMulti  = "multi"
)

// DefaultBlockSize is the block unit used when WithBlockSize is not given.
const DefaultBlockSize = 4096

// strategy is implemented by the single and multi stream policies. It is
// chosen once in New and never changes.
type strategy interface {
	acquire(ctx context.Context) (*Stream, error)
	release(s *Stream)
	setMaxStreams(n int) bool
	destroy()
	stats() Stats
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Algorithm    string `json:"algorithm"`
	Policy       string `json:"policy"`
	MaxStreams   int    `json:"max_streams"`
	AvailStreams int    `json:"avail_streams"`
	IdleStreams  int    `json:"idle_streams"`
	InUse        int    `json:"in_use"`
	Created      int64  `json:"created"`
	Destroyed    int64  `json:"destroyed"`
	GrowFailures int64  `json:"grow_failures"`
	Waits        int64  `json:"waits"`
}

// Option configures a pool
type Option func(*options)

type options struct {
	blockSize int
	level     int
	logger    *zap.Logger
	guard     performance.MemoryGuard
	name      string
	registry  *compression.Registry
}

// WithBlockSize sets the block unit. Stream buffers are twice this size.
func WithBlockSize(n int) Option {
	return func(o *options) { o.blockSize = n }
}

// WithLevel sets the backend compression level. Zero keeps the backend
// default.
func WithLevel(level int) Option {
	return func(o *options) { o.level = level }
}

// WithLogger sets the pool logger
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMemoryGuard sets the guard consulted before lazy growth
func WithMemoryGuard(g performance.MemoryGuard) Option {
	return func(o *options) { o.guard = g }
}

// WithName sets the pool label used for metrics and logs
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithRegistry resolves algorithm names against r instead of the
// process-wide registry.
func WithRegistry(r *compression.Registry) Option {
	return func(o *options) { o.registry = r }
}

// Comp is a pool of compression streams for one algorithm.
type Comp struct {
	impl      strategy
	factory   *streamFactory
	policy    string
	logger    *zap.Logger
	collector *metrics.Collector
	destroyed atomic.Bool
}

// New creates a pool for the named algorithm. A ceiling of 1 or less selects
// the single-stream policy; anything larger selects the multi-stream policy
// with that many streams at most.
func New(name string, ceiling int, opts ...Option) (*Comp, error) {
	o := options{
		blockSize: DefaultBlockSize,
		guard:     performance.AllowAll{},
		name:      "default",
		registry:  compression.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get()
	}

	algorithm, ok := o.registry.Lookup(name)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "unknown compression algorithm %q", name)
	}
	if ceiling < 0 {
		return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "ceiling must not be negative, got %d", ceiling)
	}
	if o.blockSize <= 0 {
		return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "block size must be positive, got %d", o.blockSize)
	}

	_, span := observability.StartSpan(context.Background(), "zcomp.create")
	defer span.End()
	span.SetAttribute("algorithm", algorithm).
		SetAttribute("ceiling", ceiling).
		SetAttribute("pool", o.name)

	log := o.logger.With(
		zap.String(string(logger.PoolKey), o.name),
		zap.String(string(logger.AlgorithmKey), algorithm),
	)
	collector := metrics.NewCollector(o.name, algorithm)
	f := &streamFactory{
		algorithm: algorithm,
		blockSize: o.blockSize,
		codecOpts: compression.Options{Level: o.level, BlockSize: o.blockSize},
		registry:  o.registry,
		guard:     o.guard,
		logger:    log,
		collector: collector,
	}

	c := &Comp{
		factory:   f,
		logger:    log,
		collector: collector,
	}
	var err error
	if ceiling <= 1 {
		c.policy = PolicySingle
		c.impl, err = newSinglePool(f)
	} else {
		c.policy = PolicyMulti
		c.impl, err = newMultiPool(f, ceiling)
	}
	if err != nil {
		span.RecordError(err)
		collector.Forget()
		return nil, err
	}

	span.SetAttribute("policy", c.policy)
	span.RecordError(nil)
	log.Info("compression pool created",
		zap.String("policy", c.policy),
		zap.Int("ceiling", ceiling),
		zap.Int("block_size", o.blockSize))
	return c, nil
}

// Acquire checks out a stream, blocking for as long as it takes.
func (c *Comp) Acquire() *Stream {
	s, err := c.AcquireContext(context.Background())
	if err != nil {
		// Background is never cancelled.
		panic(errors.Wrap(err, errors.ErrorTypeInternal, "acquire without a deadline failed"))
	}
	return s
}

// AcquireContext checks out a stream, giving up when ctx is done.
func (c *Comp) AcquireContext(ctx context.Context) (*Stream, error) {
	timer := metrics.NewTimer("acquire")
	s, err := c.impl.acquire(ctx)
	if err != nil {
		return nil, err
	}
	c.collector.ObserveWait(timer.Stop())
	s.held.Store(true)
	return s, nil
}

// Release returns a stream checked out from this pool. Releasing a nil
// stream, a stream of another pool, or a stream that is not checked out
// panics.
func (c *Comp) Release(s *Stream) {
	if s == nil {
		panic(errors.New(errors.ErrorTypeContract, "release of a nil stream"))
	}
	if s.owner != c.factory {
		panic(errors.New(errors.ErrorTypeContract, "stream released to a pool that does not own it").
			WithDetail("stream", s.id))
	}
	if !s.held.CompareAndSwap(true, false) {
		panic(errors.New(errors.ErrorTypeContract, "stream released while not held").
			WithDetail("stream", s.id))
	}
	c.impl.release(s)
}

// SetMaxStreams changes the ceiling. It reports false when the policy cannot
// be resized or n is negative. Streams that are checked out are never
// revoked; the excess is retired as they come back.
func (c *Comp) SetMaxStreams(n int) bool {
	if n < 0 {
		c.logger.Warn("rejected negative stream ceiling", zap.Int("max_streams", n))
		return false
	}

	_, span := observability.StartSpan(context.Background(), "zcomp.resize")
	defer span.End()

	before := c.impl.stats()
	ok := c.impl.setMaxStreams(n)
	after := c.impl.stats()
	span.SetAttribute("max_streams", n).
		SetAttribute("supported", ok).
		SetAttribute("avail_streams", after.AvailStreams)

	if ok {
		c.logger.Info("stream ceiling changed",
			zap.Int("from", before.MaxStreams),
			zap.Int("to", n),
			zap.Int("avail_streams", after.AvailStreams))
	}
	return ok
}

// Destroy tears the pool down. No stream may be checked out. Calling it
// again is a no-op.
func (c *Comp) Destroy() {
	if !c.destroyed.CompareAndSwap(false, true) {
		return
	}
	_, span := observability.StartSpan(context.Background(), "zcomp.destroy")
	defer span.End()

	st := c.impl.stats()
	if st.InUse > 0 {
		c.logger.Warn("destroying pool with streams checked out", zap.Int("in_use", st.InUse))
	}
	c.impl.destroy()
	c.collector.Forget()

	span.SetAttribute("created", c.factory.created.Load()).
		SetAttribute("destroyed", c.factory.destroyed.Load())
	c.logger.Info("compression pool destroyed",
		zap.Int64("created", c.factory.created.Load()),
		zap.Int64("destroyed", c.factory.destroyed.Load()))
}

// Stats returns a snapshot of the pool
func (c *Comp) Stats() Stats {
	st := c.impl.stats()
	st.Algorithm = c.factory.algorithm
	st.Created = c.factory.created.Load()
	st.Destroyed = c.factory.destroyed.Load()
	st.GrowFailures = c.factory.growFailures.Load()
	st.Waits = c.factory.waits.Load()
	return st
}

// Algorithm returns the canonical algorithm name
func (c *Comp) Algorithm() string {
	return c.factory.algorithm
}

// Policy returns PolicySingle or PolicyMulti
func (c *Comp) Policy() string {
	return c.policy
}

// BlockSize returns the block unit of the pool
func (c *Comp) BlockSize() int {
	return c.factory.blockSize
}

// Compress compresses src on s. See Stream.Compress.
func (c *Comp) Compress(s *Stream, src []byte) ([]byte, error) {
	return s.Compress(src)
}

// Decompress expands src into dst on s. See Stream.Decompress.
func (c *Comp) Decompress(s *Stream, src, dst []byte) error {
	return s.Decompress(src, dst)
}

// AvailableAlgorithms lists the registered algorithms in order, marking
// current as selected.
func AvailableAlgorithms(current string) []compression.Choice {
	return compression.Available(current)
}

// IsAvailable reports whether name is a registered algorithm
func IsAvailable(name string) bool {
	return compression.IsAvailable(name)
}
