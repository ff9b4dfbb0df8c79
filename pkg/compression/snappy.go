package compression

import (
	"github.com/golang/snappy"
	"github.com/klauspost/compress/s2"
	"github.com/minio/minlz"
)

// Snappy, S2 and MinLZ share one shape: a stateless block encoder that
// writes into dst when dst is large enough, plus a length-prefixed decoder.

type snappyCodec struct{}

func newSnappyCodec(_ Options) (Codec, error) {
	return snappyCodec{}, nil
}

func (snappyCodec) Compress(dst, src []byte) (int, error) {
	if len(dst) < snappy.MaxEncodedLen(len(src)) {
		return 0, ErrShortBuffer
	}
	return len(snappy.Encode(dst, src)), nil
}

func (snappyCodec) Decompress(dst, src []byte) (int, error) {
	n, err := snappy.DecodedLen(src)
	if err != nil {
		return 0, err
	}
	if n > len(dst) {
		return 0, ErrShortBuffer
	}
	out, err := snappy.Decode(dst, src)
	if err != nil {
		return 0, err
	}
	return len(out), nil
}

func (snappyCodec) MaxCompressedLen(n int) int { return snappy.MaxEncodedLen(n) }

func (snappyCodec) Algorithm() string { return Snappy }

func (snappyCodec) Close() error { return nil }

type s2Codec struct {
	encode func(dst, src []byte) []byte
}

func newS2Codec(opts Options) (Codec, error) {
	c := &s2Codec{encode: s2.Encode}
	switch {
	case opts.Level >= 7:
		c.encode = s2.EncodeBest
	case opts.Level >= 2:
		c.encode = s2.EncodeBetter
	}
	return c, nil
}

func (sc *s2Codec) Compress(dst, src []byte) (int, error) {
	bound := s2.MaxEncodedLen(len(src))
	if bound < 0 || len(dst) < bound {
		return 0, ErrShortBuffer
	}
	return len(sc.encode(dst, src)), nil
}

func (sc *s2Codec) Decompress(dst, src []byte) (int, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return 0, err
	}
	if n > len(dst) {
		return 0, ErrShortBuffer
	}
	out, err := s2.Decode(dst, src)
	if err != nil {
		return 0, err
	}
	return len(out), nil
}

func (sc *s2Codec) MaxCompressedLen(n int) int { return s2.MaxEncodedLen(n) }

func (sc *s2Codec) Algorithm() string { return S2 }

func (sc *s2Codec) Close() error { return nil }

type minlzCodec struct {
	level int
}

func newMinLZCodec(opts Options) (Codec, error) {
	level := minlz.LevelBalanced
	if opts.Level > 0 {
		level = clamp(opts.Level, minlz.LevelFastest, minlz.LevelSmallest)
	}
	return &minlzCodec{level: level}, nil
}

func (mc *minlzCodec) Compress(dst, src []byte) (int, error) {
	bound := minlz.MaxEncodedLen(len(src))
	if bound < 0 || len(dst) < bound {
		return 0, ErrShortBuffer
	}
	out, err := minlz.Encode(dst, src, mc.level)
	if err != nil {
		return 0, err
	}
	return copy(dst, out), nil
}

func (mc *minlzCodec) Decompress(dst, src []byte) (int, error) {
	n, err := minlz.DecodedLen(src)
	if err != nil {
		return 0, err
	}
	if n > len(dst) {
		return 0, ErrShortBuffer
	}
	out, err := minlz.Decode(dst, src)
	if err != nil {
		return 0, err
	}
	return copy(dst, out), nil
}

func (mc *minlzCodec) MaxCompressedLen(n int) int { return minlz.MaxEncodedLen(n) }

func (mc *minlzCodec) Algorithm() string { return MinLZ }

func (mc *minlzCodec) Close() error { return nil }
