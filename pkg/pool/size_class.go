package pool

import (
	"sort"
	"sync/atomic"
)

// SizeClassPool stores variable-length objects in fixed-capacity buffers
// drawn from per-class pools, so that a compressed block of n bytes occupies
// the smallest class that holds it. The classes are fixed at construction.
type SizeClassPool struct {
	pools   []*Pool[[]byte]
	sizes   []int
	maxSize int

	// bytes handed out and not yet returned, by class capacity
	stored atomic.Int64
}

// NewSizeClassPool creates a pool with classes every step bytes up to
// maxSize. A step that does not divide maxSize still ends with a maxSize
// class.
//
// Example:
//
//	p := pool.NewSizeClassPool(4096, 256) // 256, 512, ..., 4096
//	buf := p.Get(1100)                   // len 1100, cap 1280
//	defer p.Put(buf)
func NewSizeClassPool(maxSize, step int) *SizeClassPool {
	if step <= 0 || step > maxSize {
		step = maxSize
	}
	sizes := make([]int, 0, maxSize/step+1)
	for s := step; s < maxSize; s += step {
		sizes = append(sizes, s)
	}
	sizes = append(sizes, maxSize)
	return NewSizeClassPoolWithSizes(sizes)
}

// NewSizeClassPoolWithSizes creates a pool with explicit class sizes
func NewSizeClassPoolWithSizes(sizes []int) *SizeClassPool {
	sorted := append([]int(nil), sizes...)
	sort.Ints(sorted)

	pools := make([]*Pool[[]byte], len(sorted))
	for i, size := range sorted {
		size := size
		pools[i] = New(
			func() []byte {
				return make([]byte, size)
			},
			nil,
		)
	}

	maxSize := 0
	if len(sorted) > 0 {
		maxSize = sorted[len(sorted)-1]
	}
	return &SizeClassPool{
		pools:   pools,
		sizes:   sorted,
		maxSize: maxSize,
	}
}

// ClassFor returns the capacity of the class serving size, or 0 when size
// exceeds the largest class
func (p *SizeClassPool) ClassFor(size int) int {
	i := sort.SearchInts(p.sizes, size)
	if i == len(p.sizes) {
		return 0
	}
	return p.sizes[i]
}

// Get returns a buffer of length size from the smallest fitting class.
// Sizes above the largest class are allocated directly.
func (p *SizeClassPool) Get(size int) []byte {
	i := sort.SearchInts(p.sizes, size)
	if i == len(p.sizes) {
		p.stored.Add(int64(size))
		return make([]byte, size)
	}
	buf := p.pools[i].Get()
	p.stored.Add(int64(cap(buf)))
	return buf[:size]
}

// Put returns a buffer obtained from Get
func (p *SizeClassPool) Put(buf []byte) {
	if buf == nil {
		return
	}
	size := cap(buf)
	i := sort.SearchInts(p.sizes, size)
	if i < len(p.sizes) && p.sizes[i] == size {
		p.stored.Add(-int64(size))
		p.pools[i].Put(buf[:size])
		return
	}
	// Oversized buffers are left to the GC
	p.stored.Add(-int64(len(buf)))
}

// StoredBytes returns the capacity of all buffers currently checked out
func (p *SizeClassPool) StoredBytes() int64 {
	return p.stored.Load()
}

// MaxSize returns the largest class capacity
func (p *SizeClassPool) MaxSize() int {
	return p.maxSize
}

// Stats returns statistics summed over all classes
func (p *SizeClassPool) Stats() Stats {
	var total Stats
	for _, cp := range p.pools {
		s := cp.Stats()
		total.Allocated += s.Allocated
		total.InUse += s.InUse
		total.Hits += s.Hits
		total.Misses += s.Misses
	}
	return total
}
