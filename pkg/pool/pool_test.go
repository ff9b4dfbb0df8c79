package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolStats(t *testing.T) {
	resets := 0
	p := New(func() *[]byte { b := make([]byte, 0, 16); return &b }, func(b *[]byte) {
		*b = (*b)[:0]
		resets++
	})

	a := p.Get()
	*a = append(*a, 1, 2, 3)
	assert.Equal(t, int64(1), p.Stats().InUse)
	assert.Equal(t, int64(1), p.Stats().Misses)

	p.Put(a)
	assert.Equal(t, 1, resets)
	assert.Equal(t, int64(0), p.Stats().InUse)

	st := p.Stats()
	assert.Equal(t, st.Allocated, st.Misses)
	assert.GreaterOrEqual(t, st.HitRate(), 0.0)
}

func TestStatsHitRate(t *testing.T) {
	assert.Equal(t, 0.0, Stats{}.HitRate())
	assert.Equal(t, 0.75, Stats{Hits: 3, Misses: 1}.HitRate())
}

func TestSizeClassPoolClasses(t *testing.T) {
	p := NewSizeClassPool(4096, 1024)

	tests := []struct {
		size  int
		class int
	}{
		{1, 1024},
		{1024, 1024},
		{1025, 2048},
		{3072, 3072},
		{4096, 4096},
		{4097, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.class, p.ClassFor(tt.size), "size %d", tt.size)
	}
	assert.Equal(t, 4096, p.MaxSize())
}

func TestSizeClassPoolUnevenStep(t *testing.T) {
	p := NewSizeClassPool(1000, 300)
	assert.Equal(t, 300, p.ClassFor(10))
	assert.Equal(t, 1000, p.ClassFor(901))

	whole := NewSizeClassPool(512, 0)
	assert.Equal(t, 512, whole.ClassFor(1))
}

func TestSizeClassPoolAccounting(t *testing.T) {
	p := NewSizeClassPool(4096, 512)

	a := p.Get(700)
	require.Len(t, a, 700)
	assert.Equal(t, 1024, cap(a))
	assert.Equal(t, int64(1024), p.StoredBytes())

	big := p.Get(5000)
	require.Len(t, big, 5000)
	assert.Equal(t, int64(6024), p.StoredBytes())

	p.Put(a)
	p.Put(big)
	p.Put(nil)
	assert.Equal(t, int64(0), p.StoredBytes())
	assert.Equal(t, int64(0), p.Stats().InUse)
}

func TestSizeClassPoolConcurrent(t *testing.T) {
	p := NewSizeClassPool(4096, 256)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 1; i < 200; i++ {
				buf := p.Get((i*g)%4096 + 1)
				buf[0] = byte(i)
				p.Put(buf)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, int64(0), p.StoredBytes())
}
