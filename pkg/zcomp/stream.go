package zcomp

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/zcomp/pkg/compression"
	"github.com/ajitpratap0/zcomp/pkg/errors"
	"github.com/ajitpratap0/zcomp/pkg/metrics"
	"github.com/ajitpratap0/zcomp/pkg/performance"
)

// allocMode selects how hard stream creation may try.
type allocMode int

const (
	// allocEager is used at pool construction and may take as long as needed
	allocEager allocMode = iota
	// allocNoWait is used for growth inside acquire and must fail fast
	allocNoWait
)

func (m allocMode) String() string {
	if m == allocNoWait {
		return "nowait"
	}
	return "eager"
}

// Stream is one compression execution context. It is owned either by its
// pool's idle queue or by exactly one caller.
type Stream struct {
	id     uint64
	codec  compression.Codec
	buffer []byte
	owner  *streamFactory
	held   atomic.Bool
}

// ID returns the stream's identifier, unique within its pool
func (s *Stream) ID() uint64 {
	return s.id
}

// Algorithm returns the name of the stream's codec
func (s *Stream) Algorithm() string {
	return s.owner.algorithm
}

// Compress compresses one block. The result aliases the stream buffer and is
// valid until the stream is released.
func (s *Stream) Compress(src []byte) ([]byte, error) {
	if err := s.checkUse(src, "compress"); err != nil {
		return nil, err
	}
	// The backend sees the whole 2x buffer so expanding output still fits.
	n, err := s.codec.Compress(s.buffer, src)
	if err != nil {
		err = errors.Wrap(err, errors.ErrorTypeBackend, "compress failed").
			WithDetail("algorithm", s.owner.algorithm).
			WithDetail("stream", s.id)
	}
	s.owner.collector.Operation("compress", err)
	if err != nil {
		return nil, err
	}
	return s.buffer[:n], nil
}

// Decompress expands src into dst, which must be exactly one block long.
func (s *Stream) Decompress(src, dst []byte) error {
	if err := s.checkUse(dst, "decompress"); err != nil {
		return err
	}
	n, err := s.codec.Decompress(dst, src)
	var failure *errors.Error
	switch {
	case err != nil:
		failure = errors.Wrap(err, errors.ErrorTypeBackend, "decompress failed")
	case n != len(dst):
		failure = errors.Newf(errors.ErrorTypeBackend, "decompress produced %d bytes, want %d", n, len(dst))
	}
	if failure != nil {
		failure.WithDetail("algorithm", s.owner.algorithm).WithDetail("stream", s.id)
		s.owner.collector.Operation("decompress", failure)
		return failure
	}
	s.owner.collector.Operation("decompress", nil)
	return nil
}

func (s *Stream) checkUse(block []byte, op string) error {
	if !s.held.Load() {
		return errors.Newf(errors.ErrorTypeContract, "%s on a stream that is not checked out", op)
	}
	if len(block) != s.owner.blockSize {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "%s: block is %d bytes, want %d",
			op, len(block), s.owner.blockSize)
	}
	return nil
}

// streamFactory builds and destroys the streams of one pool and keeps the
// lifecycle counters shared by both policies.
type streamFactory struct {
	algorithm string
	blockSize int
	codecOpts compression.Options
	registry  *compression.Registry
	guard     performance.MemoryGuard
	logger    *zap.Logger
	collector *metrics.Collector

	nextID       atomic.Uint64
	created      atomic.Int64
	destroyed    atomic.Int64
	growFailures atomic.Int64
	waits        atomic.Int64
}

// newStream builds a stream. In allocNoWait mode the memory guard is
// consulted first and a refusal fails without touching the backend.
func (f *streamFactory) newStream(mode allocMode) (*Stream, error) {
	if mode == allocNoWait && !f.guard.Allow() {
		return nil, errors.New(errors.ErrorTypeAllocation, "memory guard refused stream growth")
	}

	codec, err := f.registry.NewCodec(f.algorithm, f.codecOpts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAllocation, "failed to create stream").
			WithDetail("mode", mode.String())
	}
	// Compress must never run out of room in the 2x buffer.
	if b, ok := codec.(compression.Bounded); ok {
		if bound := b.MaxCompressedLen(f.blockSize); bound < 0 || bound > 2*f.blockSize {
			_ = codec.Close()
			return nil, errors.Newf(errors.ErrorTypeInvalidArgument,
				"block size %d does not fit %s: worst-case output is %d bytes, stream buffer is %d",
				f.blockSize, f.algorithm, bound, 2*f.blockSize)
		}
	}

	s := &Stream{
		id:     f.nextID.Add(1),
		codec:  codec,
		buffer: make([]byte, 2*f.blockSize),
		owner:  f,
	}
	f.created.Add(1)
	f.collector.StreamEvent(metrics.EventCreated)
	f.logger.Debug("stream created", zap.Uint64("stream", s.id), zap.Stringer("mode", mode))
	return s, nil
}

// destroyStream releases the stream's codec and buffer. The caller
// guarantees the stream is neither checked out nor queued.
func (f *streamFactory) destroyStream(s *Stream) {
	if err := s.codec.Close(); err != nil {
		f.logger.Debug("codec close failed", zap.Uint64("stream", s.id), zap.Error(err))
	}
	s.codec = nil
	s.buffer = nil
	f.destroyed.Add(1)
	f.collector.StreamEvent(metrics.EventDestroyed)
	f.logger.Debug("stream destroyed", zap.Uint64("stream", s.id))
}
