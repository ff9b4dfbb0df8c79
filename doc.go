// Package zcomp provides pooled compression streams for latency-sensitive
// block storage.
//
// Compressing a block needs a backend handle and a scratch buffer, and both
// are expensive to build. zcomp keeps them in a pool of streams that callers
// check out, use for one block, and return. Two pooling policies share one
// facade:
//   - single: one stream, callers are serialized on it
//   - multi: one stream up front, more built lazily up to a ceiling that can
//     be changed at runtime
//
// # Architecture
//
// The module is organised as:
//
//	pkg/zcomp        the stream pool: policies, streams and the Comp facade
//	pkg/compression  codecs (lz4, lz4hc, zstd, snappy, s2, minlz, deflate,
//	                 brotli) and the ordered algorithm registry
//	pkg/blockstore   an in-memory compressed block store built on a pool
//	pkg/performance  the memory guard consulted before lazy growth, profiler
//	pkg/pool         typed sync.Pool wrappers and size-class buffers
//	pkg/config       YAML and environment configuration
//	pkg/logger       zap logging
//	pkg/metrics      Prometheus collectors
//	pkg/observability OpenTelemetry tracing
//	cmd/zcomp        the command line tool
//
// # Quick Start
//
//	comp, err := zcomp.New("zstd", runtime.NumCPU())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer comp.Destroy()
//
//	s := comp.Acquire()
//	out, err := s.Compress(block)
//	stored := append([]byte(nil), out...)
//	comp.Release(s)
//
// From the command line:
//
//	zcomp algorithms --current zstd
//	zcomp bench --algorithm zstd --streams 4 --workers 8 --blocks 4096
//
// # Behaviour Under Pressure
//
// Growth inside Acquire must fail fast. When the memory guard refuses or the
// backend cannot build a stream, the acquirer waits for a stream to be
// released instead of failing, so a pool always makes progress with the
// streams it already has.
//
// Lowering the ceiling never revokes a stream that is in use. Idle streams
// above the new ceiling are destroyed immediately; the rest are retired as
// they are released.
package zcomp
