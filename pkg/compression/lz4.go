package compression

import (
	"github.com/pierrec/lz4/v4"
)

// lz4Codec wraps the lz4 block format. The fast and HC variants share the
// decoder; only one of c or hc is used for compression.
type lz4Codec struct {
	name string
	c    lz4.Compressor
	hc   *lz4.CompressorHC
}

func newLZ4Codec(_ Options) (Codec, error) {
	return &lz4Codec{name: LZ4}, nil
}

func newLZ4HCCodec(opts Options) (Codec, error) {
	return &lz4Codec{
		name: LZ4HC,
		hc:   &lz4.CompressorHC{Level: mapLZ4Level(opts.Level)},
	}, nil
}

func (lc *lz4Codec) Compress(dst, src []byte) (int, error) {
	var (
		n   int
		err error
	)
	if lc.hc != nil {
		n, err = lc.hc.CompressBlock(src, dst)
	} else {
		n, err = lc.c.CompressBlock(src, dst)
	}
	if err != nil {
		if err == lz4.ErrInvalidSourceShortBuffer {
			return 0, ErrShortBuffer
		}
		return 0, err
	}
	// 0 with no error means incompressible into a dst below the bound
	if n == 0 && len(src) > 0 {
		return 0, ErrShortBuffer
	}
	return n, nil
}

func (lc *lz4Codec) Decompress(dst, src []byte) (int, error) {
	n, err := lz4.UncompressBlock(src, dst)
	if err == lz4.ErrInvalidSourceShortBuffer {
		return n, ErrShortBuffer
	}
	return n, err
}

func (lc *lz4Codec) MaxCompressedLen(n int) int {
	return lz4.CompressBlockBound(n)
}

func (lc *lz4Codec) Algorithm() string { return lc.name }

func (lc *lz4Codec) Close() error {
	lc.hc = nil
	return nil
}

func mapLZ4Level(level int) lz4.CompressionLevel {
	levels := []lz4.CompressionLevel{
		lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4, lz4.Level5,
		lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
	}
	if level <= 0 {
		return lz4.Level9
	}
	return levels[clamp(level, 1, 9)-1]
}
