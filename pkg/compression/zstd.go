package compression

import (
	"github.com/klauspost/compress/zstd"
)

// zstdCodec keeps one single-threaded encoder and decoder per codec, so a
// stream never touches shared zstd state.
type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec(opts Options) (Codec, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(mapZstdLevel(opts.Level)),
		zstd.WithEncoderConcurrency(1),
		zstd.WithLowerEncoderMem(true),
		zstd.WithEncoderCRC(false),
	)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
		zstd.WithDecoderMaxMemory(decoderMaxMemory(opts.BlockSize)),
	)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (zc *zstdCodec) Compress(dst, src []byte) (int, error) {
	out := zc.enc.EncodeAll(src, dst[:0])
	if len(out) > len(dst) {
		return 0, ErrShortBuffer
	}
	return copy(dst, out), nil
}

func (zc *zstdCodec) Decompress(dst, src []byte) (int, error) {
	out, err := zc.dec.DecodeAll(src, dst[:0])
	if err != nil {
		return 0, err
	}
	if len(out) > len(dst) {
		return 0, ErrShortBuffer
	}
	return copy(dst, out), nil
}

// MaxCompressedLen follows ZSTD_COMPRESSBOUND, which covers the frame header
// and one raw block for small inputs.
func (zc *zstdCodec) MaxCompressedLen(n int) int {
	const smallLimit = 128 << 10
	bound := n + n>>8
	if n < smallLimit {
		bound += (smallLimit - n) >> 11
	}
	return bound
}

func (zc *zstdCodec) Algorithm() string { return Zstd }

func (zc *zstdCodec) Close() error {
	zc.dec.Close()
	return zc.enc.Close()
}

func mapZstdLevel(level int) zstd.EncoderLevel {
	if level <= 0 {
		return zstd.SpeedDefault
	}
	return zstd.EncoderLevelFromZstd(level)
}

// decoderMaxMemory bounds what a corrupt frame can make the decoder allocate
func decoderMaxMemory(blockSize int) uint64 {
	const floor = 1 << 20
	if m := uint64(4 * blockSize); m > floor {
		return m
	}
	return floor
}
