// Package compression provides the block codecs used by zcomp streams and
// the registry that selects them by name.
//
// # Overview
//
// The compression package provides:
//   - A Codec interface that compresses one block into a caller-owned buffer
//   - Built-in codecs: lz4, lz4hc, zstd, snappy, s2, minlz, deflate, brotli
//   - An ordered registry used for name validation and for listing choices
//
// A Codec is not safe for concurrent use. Each zcomp stream owns one codec
// exclusively, which lets stateful backends (zstd, deflate, brotli) keep
// their encoder and decoder state between blocks.
//
// # Basic Usage
//
//	codec, err := compression.NewCodec("zstd", compression.Options{BlockSize: 4096})
//	if err != nil {
//	    return err
//	}
//	defer codec.Close()
//
//	dst := make([]byte, 2*4096)
//	n, err := codec.Compress(dst, block)
//	...
//	out := make([]byte, 4096)
//	m, err := codec.Decompress(out, dst[:n])
//
// # Algorithm Selection
//
// Speed (fastest to slowest): lz4 > snappy/s2/minlz > zstd > lz4hc > deflate > brotli
// Compression ratio (best to worst): brotli > zstd > deflate > lz4hc > s2/minlz > snappy/lz4
package compression

import (
	stderrors "errors"
	"io"
)

// ErrShortBuffer is returned when the output does not fit the destination.
var ErrShortBuffer = stderrors.New("compression: destination buffer too small")

// Codec compresses and decompresses single blocks.
type Codec interface {
	// Compress compresses src into dst and returns the number of bytes
	// written. It returns ErrShortBuffer when the output does not fit dst.
	Compress(dst, src []byte) (int, error)

	// Decompress expands src into dst and returns the number of bytes
	// written. It returns ErrShortBuffer when the output does not fit dst.
	Decompress(dst, src []byte) (int, error)

	// Algorithm returns the registry name of the codec.
	Algorithm() string

	// Close releases backend state. The codec must not be used afterwards.
	Close() error
}

// Bounded is implemented by codecs that can report the worst-case size of
// a compressed block. A destination of at least MaxCompressedLen(n) bytes
// never makes Compress fail with ErrShortBuffer for an n-byte source. A
// negative result means n is too large to encode.
type Bounded interface {
	MaxCompressedLen(n int) int
}

// Options configures a codec.
type Options struct {
	// Level is the backend compression level. 0 selects the backend default;
	// values outside the backend's range are clamped.
	Level int
	// BlockSize is the uncompressed size of the blocks the codec will see.
	// Backends use it to size internal windows.
	BlockSize int
}

// fixedWriter writes into a caller-owned buffer and fails once it is full.
type fixedWriter struct {
	buf []byte
	n   int
}

func (w *fixedWriter) reset(buf []byte) {
	w.buf = buf
	w.n = 0
}

func (w *fixedWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[w.n:], p)
	w.n += n
	if n < len(p) {
		return n, ErrShortBuffer
	}
	return n, nil
}

// readExact fills dst from r and verifies that r has no data left over.
// A short stream is not an error; the count tells the caller.
func readExact(r io.Reader, dst []byte) (int, error) {
	n, err := io.ReadFull(r, dst)
	switch {
	case err == io.ErrUnexpectedEOF || err == io.EOF:
		return n, nil
	case err != nil:
		return n, err
	}

	var extra [1]byte
	m, err := r.Read(extra[:])
	if m > 0 {
		return n, ErrShortBuffer
	}
	if err != nil && err != io.EOF {
		return n, err
	}
	return n, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
