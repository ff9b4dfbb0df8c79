package compression

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
)

// deflateCodec reuses one raw-deflate writer and reader across blocks.
type deflateCodec struct {
	w   *flate.Writer
	r   io.ReadCloser
	out fixedWriter
	in  bytes.Reader
}

func newDeflateCodec(opts Options) (Codec, error) {
	dc := &deflateCodec{}
	w, err := flate.NewWriter(&dc.out, mapDeflateLevel(opts.Level))
	if err != nil {
		return nil, err
	}
	dc.w = w
	dc.r = flate.NewReader(&dc.in)
	return dc, nil
}

func (dc *deflateCodec) Compress(dst, src []byte) (int, error) {
	dc.out.reset(dst)
	dc.w.Reset(&dc.out)
	if _, err := dc.w.Write(src); err != nil {
		return 0, err
	}
	if err := dc.w.Close(); err != nil {
		return 0, err
	}
	return dc.out.n, nil
}

func (dc *deflateCodec) Decompress(dst, src []byte) (int, error) {
	dc.in.Reset(src)
	if err := dc.r.(flate.Resetter).Reset(&dc.in, nil); err != nil {
		return 0, err
	}
	return readExact(dc.r, dst)
}

// MaxCompressedLen allows a stored block header every 16KiB plus the final
// block and bit padding.
func (dc *deflateCodec) MaxCompressedLen(n int) int {
	return n + 5*(n>>14+1) + 32
}

func (dc *deflateCodec) Algorithm() string { return Deflate }

func (dc *deflateCodec) Close() error {
	return dc.r.Close()
}

func mapDeflateLevel(level int) int {
	if level <= 0 {
		return flate.DefaultCompression
	}
	return clamp(level, flate.BestSpeed, flate.BestCompression)
}

// brotliCodec reuses one writer and reader across blocks.
type brotliCodec struct {
	w   *brotli.Writer
	r   *brotli.Reader
	out fixedWriter
	in  bytes.Reader
}

func newBrotliCodec(opts Options) (Codec, error) {
	bc := &brotliCodec{}
	bc.w = brotli.NewWriterOptions(&bc.out, brotli.WriterOptions{
		Quality: mapBrotliLevel(opts.Level),
		LGWin:   brotliWindow(opts.BlockSize),
	})
	bc.r = brotli.NewReader(&bc.in)
	return bc, nil
}

func (bc *brotliCodec) Compress(dst, src []byte) (int, error) {
	bc.out.reset(dst)
	bc.w.Reset(&bc.out)
	if _, err := bc.w.Write(src); err != nil {
		return 0, err
	}
	if err := bc.w.Close(); err != nil {
		return 0, err
	}
	return bc.out.n, nil
}

func (bc *brotliCodec) Decompress(dst, src []byte) (int, error) {
	bc.in.Reset(src)
	if err := bc.r.Reset(&bc.in); err != nil {
		return 0, err
	}
	return readExact(bc.r, dst)
}

// MaxCompressedLen allows uncompressed meta-block headers and the stream
// header and trailer.
func (bc *brotliCodec) MaxCompressedLen(n int) int {
	return n + n>>10 + 32
}

func (bc *brotliCodec) Algorithm() string { return Brotli }

func (bc *brotliCodec) Close() error { return nil }

func mapBrotliLevel(level int) int {
	if level <= 0 {
		return 4
	}
	return clamp(level, brotli.BestSpeed, brotli.BestCompression)
}

// brotliWindow picks the smallest window covering one block
func brotliWindow(blockSize int) int {
	lg := 10
	for lg < 24 && 1<<lg < blockSize {
		lg++
	}
	return lg
}
