package zcomp

import (
	"context"

	"github.com/ajitpratap0/zcomp/pkg/errors"
	"github.com/ajitpratap0/zcomp/pkg/metrics"
)

// singlePool serializes all callers on one stream. The token channel holds
// the stream while it is idle, so acquisition can also watch a context.
type singlePool struct {
	f      *streamFactory
	stream *Stream
	token  chan *Stream
}

func newSinglePool(f *streamFactory) (*singlePool, error) {
	s, err := f.newStream(allocEager)
	if err != nil {
		return nil, err
	}
	p := &singlePool{
		f:      f,
		stream: s,
		token:  make(chan *Stream, 1),
	}
	p.token <- s
	p.publish()
	return p, nil
}

func (p *singlePool) acquire(ctx context.Context) (*Stream, error) {
	select {
	case s := <-p.token:
		p.publish()
		return s, nil
	default:
	}

	p.f.waits.Add(1)
	p.f.collector.StreamEvent(metrics.EventWaited)
	select {
	case s := <-p.token:
		p.publish()
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *singlePool) release(s *Stream) {
	if s != p.stream {
		panic(errors.New(errors.ErrorTypeContract, "released stream is not the pool's stream"))
	}
	select {
	case p.token <- s:
	default:
		panic(errors.New(errors.ErrorTypeContract, "stream released while not held"))
	}
	p.publish()
}

// setMaxStreams is not supported: the single policy only has one stream.
func (p *singlePool) setMaxStreams(int) bool {
	return false
}

func (p *singlePool) destroy() {
	p.f.destroyStream(p.stream)
}

func (p *singlePool) stats() Stats {
	idle := len(p.token)
	return Stats{
		Policy:       PolicySingle,
		MaxStreams:   1,
		AvailStreams: 1,
		IdleStreams:  idle,
		InUse:        1 - idle,
	}
}

func (p *singlePool) publish() {
	idle := len(p.token)
	p.f.collector.SetOccupancy(1, idle, 1)
}
