package bench

import (
	"encoding/binary"
	"math/rand"
	"strconv"

	"github.com/ajitpratap0/zcomp/pkg/errors"
)

// Data patterns understood by NewGenerator
const (
	PatternText   = "text"
	PatternRandom = "random"
	PatternZero   = "zero"
	PatternMixed  = "mixed"
)

const prose = "The quick brown fox jumps over the lazy dog while the compressed " +
	"block store keeps every page it is handed. Pages that repeat compress well. "

// Generator produces deterministic block contents for a pattern. Block i
// always has the same contents for the same seed, so readers can verify
// what writers stored without sharing state.
type Generator struct {
	pattern   string
	blockSize int
	seed      int64
}

// NewGenerator returns a generator for pattern
func NewGenerator(pattern string, blockSize int, seed int64) (*Generator, error) {
	switch pattern {
	case PatternText, PatternRandom, PatternZero, PatternMixed:
	default:
		return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "unknown data pattern %q", pattern)
	}
	return &Generator{pattern: pattern, blockSize: blockSize, seed: seed}, nil
}

// Fill writes the contents of block i for the given round into dst
func (g *Generator) Fill(dst []byte, i, round int) {
	pattern := g.pattern
	if pattern == PatternMixed {
		// roughly zram-like: mostly text, some zero and same-filled pages,
		// a few incompressible ones
		switch (i + round) % 8 {
		case 0:
			pattern = PatternZero
		case 1:
			fillWord(dst, uint64(i)<<32|uint64(round)|1)
			return
		case 2:
			pattern = PatternRandom
		default:
			pattern = PatternText
		}
	}

	switch pattern {
	case PatternZero:
		clear(dst)
	case PatternRandom:
		r := rand.New(rand.NewSource(g.seed ^ int64(i)<<20 ^ int64(round))) //nolint:gosec // bench data
		r.Read(dst)
	default:
		fillText(dst, i, round)
	}
}

func fillText(dst []byte, i, round int) {
	stamp := "block " + strconv.Itoa(i) + " round " + strconv.Itoa(round) + ": "
	n := copy(dst, stamp)
	for n < len(dst) {
		n += copy(dst[n:], prose)
	}
}

func fillWord(dst []byte, word uint64) {
	for off := 0; off+8 <= len(dst); off += 8 {
		binary.LittleEndian.PutUint64(dst[off:], word)
	}
}

// Block returns a new block holding the contents of block i for round
func (g *Generator) Block(i, round int) []byte {
	b := make([]byte, g.blockSize)
	g.Fill(b, i, round)
	return b
}
