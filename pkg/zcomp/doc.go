// Package zcomp manages pools of reusable compression streams.
//
// A Stream bundles a codec with a scratch buffer twice the block size. Streams
// are expensive to build, so callers check one out, compress or decompress a
// block, and give it back:
//
//	comp, err := zcomp.New("lz4", 4)
//	if err != nil {
//	    return err
//	}
//	defer comp.Destroy()
//
//	s := comp.Acquire()
//	out, err := s.Compress(block)
//	stored := append([]byte(nil), out...)
//	comp.Release(s)
//
// # Policies
//
// A ceiling of 1 or less selects the single-stream policy: one stream guarded
// by an exclusive token. A larger ceiling selects the multi-stream policy: one
// stream is built up front and more are built lazily, one per acquirer that
// finds the idle queue empty, until the ceiling is reached. Acquirers beyond
// the ceiling block until a stream is released.
//
// Lazy growth never fails an acquire. If a new stream cannot be built (the
// memory guard refuses or the backend errors) the acquirer waits for an idle
// stream instead.
//
// # Resizing
//
// SetMaxStreams changes the ceiling of a multi-stream pool at runtime. Idle
// streams above the new ceiling are destroyed at once; streams that are
// checked out are retired when they are released. The single-stream policy
// cannot be resized and reports false.
//
// # Ownership
//
// Compress returns a view into the stream buffer. It stays valid until the
// stream is released; copy it out before calling Release.
package zcomp
