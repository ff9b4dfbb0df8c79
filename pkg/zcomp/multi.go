package zcomp

import (
	"context"
	"sync"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/ajitpratap0/zcomp/pkg/metrics"
)

// growRetryInterval paces eager creation attempts when the pool has no
// streams at all and the backend keeps failing.
const growRetryInterval = 10 * time.Millisecond

// multiPool grows lazily from one stream up to maxStreams.
//
// mu guards availStreams, maxStreams, idle and the wait state. It is held
// only for bookkeeping: stream creation, destruction and waiting all happen
// with mu released.
type multiPool struct {
	f *streamFactory

	mu           sync.Mutex
	maxStreams   int
	availStreams int          // instantiated or being instantiated
	idle         *queue.Queue // of *Stream

	// Waiters capture wake under mu and block on it; wakeLocked closes it
	// and installs a fresh channel, waking every waiter at once.
	wake    chan struct{}
	waiters int
}

func newMultiPool(f *streamFactory, maxStreams int) (*multiPool, error) {
	p := &multiPool{
		f:            f,
		maxStreams:   maxStreams,
		availStreams: 1,
		idle:         queue.New(),
		wake:         make(chan struct{}),
	}
	s, err := f.newStream(allocEager)
	if err != nil {
		return nil, err
	}
	p.idle.Add(s)
	p.publishLocked()
	return p, nil
}

func (p *multiPool) acquire(ctx context.Context) (*Stream, error) {
	for {
		p.mu.Lock()
		if p.idle.Length() > 0 {
			s := p.idle.Remove().(*Stream)
			p.publishLocked()
			p.mu.Unlock()
			return s, nil
		}

		if p.availStreams >= p.maxStreams {
			wake := p.waitLocked()
			p.mu.Unlock()
			if err := p.wait(ctx, wake); err != nil {
				return nil, err
			}
			continue
		}

		// Reserve a slot, then build the stream without the lock.
		p.availStreams++
		p.publishLocked()
		p.mu.Unlock()

		s, err := p.f.newStream(allocNoWait)
		if err == nil {
			return s, nil
		}

		p.f.growFailures.Add(1)
		p.f.collector.StreamEvent(metrics.EventGrowFailed)
		p.f.logger.Debug("stream growth failed, waiting for an idle stream", zap.Error(err))

		p.mu.Lock()
		p.availStreams--
		p.publishLocked()
		if p.idle.Length() > 0 {
			p.mu.Unlock()
			continue
		}
		if p.availStreams == 0 {
			// Nothing is checked out, so no release can ever wake us.
			p.availStreams++
			p.publishLocked()
			p.mu.Unlock()
			if s, err := p.growEager(); err == nil {
				return s, nil
			}
			select {
			case <-time.After(growRetryInterval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		wake := p.waitLocked()
		p.mu.Unlock()
		if err := p.wait(ctx, wake); err != nil {
			return nil, err
		}
	}
}

// growEager builds a stream in eager mode for a slot the caller already
// reserved. On failure the reservation is returned.
func (p *multiPool) growEager() (*Stream, error) {
	s, err := p.f.newStream(allocEager)
	if err != nil {
		p.f.logger.Warn("stream creation failed with an empty pool", zap.Error(err))
		p.mu.Lock()
		p.availStreams--
		p.publishLocked()
		p.mu.Unlock()
		return nil, err
	}
	return s, nil
}

func (p *multiPool) release(s *Stream) {
	p.mu.Lock()
	if p.availStreams <= p.maxStreams {
		p.idle.Add(s)
		p.wakeLocked()
		p.publishLocked()
		p.mu.Unlock()
		return
	}

	// The ceiling was lowered while s was checked out.
	p.availStreams--
	p.publishLocked()
	p.mu.Unlock()

	p.f.collector.StreamEvent(metrics.EventOverCeiling)
	p.f.destroyStream(s)
}

func (p *multiPool) setMaxStreams(n int) bool {
	var victims []*Stream

	p.mu.Lock()
	raised := n > p.maxStreams
	p.maxStreams = n
	for p.availStreams > n && p.idle.Length() > 0 {
		victims = append(victims, p.idle.Remove().(*Stream))
		p.availStreams--
	}
	if raised {
		// Blocked acquirers may now grow.
		p.wakeLocked()
	}
	p.publishLocked()
	p.mu.Unlock()

	for _, s := range victims {
		p.f.destroyStream(s)
	}
	p.f.collector.StreamEvents(metrics.EventShrunk, len(victims))
	return true
}

func (p *multiPool) destroy() {
	var victims []*Stream

	p.mu.Lock()
	for p.idle.Length() > 0 {
		victims = append(victims, p.idle.Remove().(*Stream))
		p.availStreams--
	}
	p.publishLocked()
	p.mu.Unlock()

	for _, s := range victims {
		p.f.destroyStream(s)
	}
}

func (p *multiPool) stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle := p.idle.Length()
	return Stats{
		Policy:       PolicyMulti,
		MaxStreams:   p.maxStreams,
		AvailStreams: p.availStreams,
		IdleStreams:  idle,
		InUse:        p.availStreams - idle,
	}
}

// waitLocked registers the caller as a waiter and returns the channel that
// the next wake will close.
func (p *multiPool) waitLocked() chan struct{} {
	p.waiters++
	p.f.waits.Add(1)
	p.f.collector.StreamEvent(metrics.EventWaited)
	return p.wake
}

func (p *multiPool) wakeLocked() {
	if p.waiters == 0 {
		return
	}
	close(p.wake)
	p.wake = make(chan struct{})
	p.waiters = 0
}

func (p *multiPool) wait(ctx context.Context, wake chan struct{}) error {
	select {
	case <-wake:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		if p.wake == wake {
			p.waiters--
		}
		p.mu.Unlock()
		return ctx.Err()
	}
}

func (p *multiPool) publishLocked() {
	p.f.collector.SetOccupancy(p.availStreams, p.idle.Length(), p.maxStreams)
}
