// Package pool provides object pooling for zcomp.
//
// The package provides:
//   - Generic type-safe object pooling with Pool[T]
//   - Size-class buffer pooling with SizeClassPool, used by the block store to
//     hold compressed blocks of varying length
//   - Statistics for monitoring pool efficiency
//
// Example usage:
//
//	classes := pool.NewSizeClassPool(4096, 256)
//	buf := classes.Get(len(compressed))
//	copy(buf, compressed)
//	...
//	classes.Put(buf)
//
// Buffers returned by Get are not zeroed.
package pool
