// Package blockstore is an in-memory compressed block device built on a
// zcomp stream pool.
//
// The store holds a fixed number of block slots. Writes compress the block
// on a pooled stream and keep only the compressed bytes. Two kinds of block
// skip the backend: blocks in which every 64-bit word is equal are kept as
// that word alone, and blocks that do not compress below MaxCompressedSize
// are kept raw.
//
//	store, err := blockstore.New(blockstore.Config{
//	    Blocks:     1024,
//	    BlockSize:  4096,
//	    Algorithm:  "zstd",
//	    MaxStreams: runtime.NumCPU(),
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.Write(ctx, 7, block)
//	err = store.Read(ctx, 7, buf)
package blockstore

import (
	"context"
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/zcomp/pkg/compression"
	"github.com/ajitpratap0/zcomp/pkg/errors"
	"github.com/ajitpratap0/zcomp/pkg/logger"
	"github.com/ajitpratap0/zcomp/pkg/metrics"
	"github.com/ajitpratap0/zcomp/pkg/performance"
	"github.com/ajitpratap0/zcomp/pkg/pool"
	"github.com/ajitpratap0/zcomp/pkg/zcomp"
)

// Config configures a Store
type Config struct {
	// Name labels the store and its stream pool in logs and metrics
	Name       string
	Blocks     int
	BlockSize  int
	Algorithm  string
	MaxStreams int
	Level      int

	Logger *zap.Logger
	Guard  performance.MemoryGuard
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "blockstore"
	}
	if c.BlockSize == 0 {
		c.BlockSize = zcomp.DefaultBlockSize
	}
	if c.Algorithm == "" {
		c.Algorithm = compression.DefaultAlgorithm
	}
	if c.MaxStreams == 0 {
		c.MaxStreams = runtime.NumCPU()
	}
	if c.Logger == nil {
		c.Logger = logger.Get()
	}
	if c.Guard == nil {
		c.Guard = performance.AllowAll{}
	}
}

func (c *Config) validate() error {
	if c.Blocks <= 0 {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "blocks must be positive, got %d", c.Blocks)
	}
	if c.BlockSize < 8 || c.BlockSize%8 != 0 {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "block size must be a positive multiple of 8, got %d", c.BlockSize)
	}
	return nil
}

type slotKind uint8

const (
	slotEmpty slotKind = iota
	slotSame
	slotHuge
	slotCompressed
)

type slot struct {
	mu    sync.Mutex
	kind  slotKind
	fill  uint64
	data  []byte
	csize int
}

// Store is a fixed array of compressed blocks. It is safe for concurrent use;
// operations on the same index are serialized.
type Store struct {
	cfg       Config
	logger    *zap.Logger
	buffers   *pool.SizeClassPool
	collector *metrics.StoreCollector

	// mu is held shared by every block operation and exclusively while the
	// stream pool is swapped or torn down.
	mu     sync.RWMutex
	comp   *zcomp.Comp
	closed bool
	// ceiling survives SetAlgorithm
	maxStreams atomic.Int64

	slots []slot

	reads        atomic.Int64
	writes       atomic.Int64
	failedReads  atomic.Int64
	failedWrites atomic.Int64
	stored       atomic.Int64
	sameFilled   atomic.Int64
	huge         atomic.Int64
	comprBytes   atomic.Int64
}

// New creates a store and its stream pool
func New(cfg Config) (*Store, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	comp, err := newComp(cfg, cfg.Algorithm, cfg.MaxStreams)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:       cfg,
		logger:    cfg.Logger.With(zap.String("component", "blockstore"), zap.String("store", cfg.Name)),
		buffers:   pool.NewSizeClassPool(MaxCompressedSize(cfg.BlockSize), classStep(cfg.BlockSize)),
		collector: metrics.NewStoreCollector(cfg.Name),
		comp:      comp,
		slots:     make([]slot, cfg.Blocks),
	}
	s.cfg.Algorithm = comp.Algorithm()
	s.maxStreams.Store(int64(cfg.MaxStreams))
	s.publish()
	s.logger.Info("block store created",
		zap.Int("blocks", cfg.Blocks),
		zap.Int("block_size", cfg.BlockSize),
		zap.String("algorithm", comp.Algorithm()),
		zap.Int("max_streams", cfg.MaxStreams))
	return s, nil
}

func newComp(cfg Config, algorithm string, maxStreams int) (*zcomp.Comp, error) {
	return zcomp.New(algorithm, maxStreams,
		zcomp.WithBlockSize(cfg.BlockSize),
		zcomp.WithLevel(cfg.Level),
		zcomp.WithLogger(cfg.Logger),
		zcomp.WithMemoryGuard(cfg.Guard),
		zcomp.WithName(cfg.Name),
	)
}

// MaxCompressedSize is the largest compressed size worth keeping for a block.
// Anything larger is stored raw.
func MaxCompressedSize(blockSize int) int {
	return blockSize / 4 * 3
}

func classStep(blockSize int) int {
	if step := blockSize / 32; step >= 8 {
		return step
	}
	return 8
}

// Write stores block at index
func (s *Store) Write(ctx context.Context, index int, block []byte) error {
	s.writes.Add(1)
	err := s.write(ctx, index, block)
	if err != nil {
		s.failedWrites.Add(1)
	}
	return err
}

func (s *Store) write(ctx context.Context, index int, block []byte) error {
	if err := s.check(index, block); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New(errors.ErrorTypeState, "block store is closed")
	}

	if fill, ok := sameFilled(block); ok {
		s.replace(index, slotSame, fill, nil, 0)
		return nil
	}

	stream, err := s.comp.AcquireContext(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "no compression stream").WithDetail("index", index)
	}
	out, err := stream.Compress(block)
	if err != nil {
		s.comp.Release(stream)
		return err
	}

	// Copy out before releasing: out aliases the stream buffer. The slot lock
	// is only taken once the stream is back, so a reader holding the slot
	// lock can always obtain a stream.
	kind, csize := slotCompressed, len(out)
	var data []byte
	if csize > MaxCompressedSize(s.cfg.BlockSize) {
		kind, csize = slotHuge, len(block)
		s.comp.Release(stream)
		data = s.buffers.Get(len(block))
		copy(data, block)
	} else {
		data = s.buffers.Get(csize)
		copy(data, out)
		s.comp.Release(stream)
	}

	s.replace(index, kind, 0, data, csize)
	return nil
}

// Read fills dst with the block at index. Blocks never written read as zeros.
func (s *Store) Read(ctx context.Context, index int, dst []byte) error {
	s.reads.Add(1)
	err := s.read(ctx, index, dst)
	if err != nil {
		s.failedReads.Add(1)
	}
	return err
}

func (s *Store) read(ctx context.Context, index int, dst []byte) error {
	if err := s.check(index, dst); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New(errors.ErrorTypeState, "block store is closed")
	}

	sl := &s.slots[index]
	sl.mu.Lock()
	defer sl.mu.Unlock()

	switch sl.kind {
	case slotEmpty:
		clear(dst)
	case slotSame:
		fillWord(dst, sl.fill)
	case slotHuge:
		copy(dst, sl.data)
	case slotCompressed:
		stream, err := s.comp.AcquireContext(ctx)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeState, "no compression stream").WithDetail("index", index)
		}
		err = stream.Decompress(sl.data, dst)
		s.comp.Release(stream)
		if err != nil {
			s.logger.Error("block decompression failed", zap.Int("index", index), zap.Error(err))
			return err
		}
	}
	return nil
}

// Discard frees the block at index. Later reads return zeros.
func (s *Store) Discard(index int) error {
	if index < 0 || index >= len(s.slots) {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "index %d out of range [0, %d)", index, len(s.slots))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New(errors.ErrorTypeState, "block store is closed")
	}
	s.replace(index, slotEmpty, 0, nil, 0)
	return nil
}

// SetMaxStreams forwards a new stream ceiling to the pool
func (s *Store) SetMaxStreams(n int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	if !s.comp.SetMaxStreams(n) {
		return false
	}
	s.maxStreams.Store(int64(n))
	return true
}

// SetAlgorithm replaces the stream pool with one for name, keeping the
// current stream ceiling. Compressed data is not converted, so this is only
// allowed while the store holds no data.
func (s *Store) SetAlgorithm(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New(errors.ErrorTypeState, "block store is closed")
	}
	if s.stored.Load() > 0 {
		return errors.New(errors.ErrorTypeInvalidArgument, "algorithm can only change while the store is empty").
			WithDetail("stored_blocks", s.stored.Load())
	}

	comp, err := newComp(s.cfg, name, int(s.maxStreams.Load()))
	if err != nil {
		return err
	}
	old := s.comp
	s.comp = comp
	s.cfg.Algorithm = comp.Algorithm()
	old.Destroy()

	s.logger.Info("compression algorithm changed",
		zap.String("from", old.Algorithm()),
		zap.String("to", comp.Algorithm()))
	return nil
}

// BlockSize returns the size of every block
func (s *Store) BlockSize() int {
	return s.cfg.BlockSize
}

// Blocks returns the number of block slots
func (s *Store) Blocks() int {
	return len(s.slots)
}

// Algorithm returns the algorithm of the current stream pool
func (s *Store) Algorithm() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.comp.Algorithm()
}

// Stats returns a snapshot of the store
func (s *Store) Stats() Stats {
	s.mu.RLock()
	ps := s.comp.Stats()
	s.mu.RUnlock()

	stored := s.stored.Load()
	return Stats{
		Reads:        s.reads.Load(),
		Writes:       s.writes.Load(),
		FailedReads:  s.failedReads.Load(),
		FailedWrites: s.failedWrites.Load(),
		Blocks:       stored,
		SameFilled:   s.sameFilled.Load(),
		Huge:         s.huge.Load(),
		OrigBytes:    stored * int64(s.cfg.BlockSize),
		ComprBytes:   s.comprBytes.Load(),
		StoredBytes:  s.buffers.StoredBytes(),
		Pool:         ps,
	}
}

// Close frees every block and destroys the stream pool. Close waits for
// in-flight operations; later operations fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for i := range s.slots {
		s.replace(i, slotEmpty, 0, nil, 0)
	}
	s.comp.Destroy()
	s.collector.Forget()
	s.logger.Info("block store closed",
		zap.Int64("reads", s.reads.Load()),
		zap.Int64("writes", s.writes.Load()))
	return nil
}

func (s *Store) check(index int, block []byte) error {
	if index < 0 || index >= len(s.slots) {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "index %d out of range [0, %d)", index, len(s.slots))
	}
	if len(block) != s.cfg.BlockSize {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "block is %d bytes, want %d", len(block), s.cfg.BlockSize)
	}
	return nil
}

// replace installs new contents in a slot and frees the old ones
func (s *Store) replace(index int, kind slotKind, fill uint64, data []byte, csize int) {
	sl := &s.slots[index]
	sl.mu.Lock()
	oldKind, oldData, oldSize := sl.kind, sl.data, sl.csize
	sl.kind, sl.fill, sl.data, sl.csize = kind, fill, data, csize
	sl.mu.Unlock()

	s.account(oldKind, oldSize, -1)
	s.account(kind, csize, 1)
	s.buffers.Put(oldData)
	s.publish()
}

func (s *Store) account(kind slotKind, csize int, delta int64) {
	switch kind {
	case slotEmpty:
		return
	case slotSame:
		s.sameFilled.Add(delta)
	case slotHuge:
		s.huge.Add(delta)
	}
	s.stored.Add(delta)
	s.comprBytes.Add(delta * int64(csize))
}

func (s *Store) publish() {
	s.collector.Set(s.stored.Load()*int64(s.cfg.BlockSize), s.comprBytes.Load(), s.buffers.StoredBytes())
}

// sameFilled reports whether every 64-bit word of block is equal
func sameFilled(block []byte) (uint64, bool) {
	first := binary.LittleEndian.Uint64(block)
	for i := 8; i < len(block); i += 8 {
		if binary.LittleEndian.Uint64(block[i:]) != first {
			return 0, false
		}
	}
	return first, true
}

func fillWord(dst []byte, word uint64) {
	if word == 0 {
		clear(dst)
		return
	}
	for i := 0; i < len(dst); i += 8 {
		binary.LittleEndian.PutUint64(dst[i:], word)
	}
}
