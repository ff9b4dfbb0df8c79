// Package metrics provides Prometheus instrumentation for zcomp stream pools
// and the compressed block store.
//
// # Overview
//
// The metrics package provides:
//   - Pre-registered collectors for stream pool occupancy and lifecycle events
//   - A per-pool Collector that binds the pool name label once
//   - Operation counters for compress and decompress calls
//   - Latency tracking utilities for the bench command
//
// # Basic Usage
//
//	c := metrics.NewCollector("zram0", "lz4")
//	c.StreamEvent(metrics.EventCreated)
//	c.SetOccupancy(avail, idle, max)
//
//	timer := metrics.NewTimer("acquire")
//	s := pool.Acquire()
//	c.ObserveWait(timer.Stop())
//
// # Metric Types
//
// Counter: stream lifecycle events and compress/decompress outcomes
// Gauge: available, idle and maximum stream counts, block store bytes
// Histogram: time spent waiting in acquire
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "zcomp"
)

// Stream lifecycle events recorded in StreamEvents.
const (
	EventCreated     = "created"
	EventDestroyed   = "destroyed"
	EventGrowFailed  = "grow_failed"
	EventWaited      = "waited"
	EventShrunk      = "shrunk"
	EventOverCeiling = "over_ceiling"
)

var (
	// StreamsAvailable tracks instantiated (or being instantiated) streams.
	// Labels: pool, algorithm
	StreamsAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_available",
			Help:      "Streams instantiated or being instantiated",
		},
		[]string{"pool", "algorithm"},
	)

	// StreamsIdle tracks streams sitting in the idle queue.
	StreamsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_idle",
			Help:      "Streams waiting in the idle queue",
		},
		[]string{"pool", "algorithm"},
	)

	// StreamsMax tracks the current stream ceiling.
	StreamsMax = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_max",
			Help:      "Current stream ceiling",
		},
		[]string{"pool", "algorithm"},
	)

	// StreamEvents counts stream lifecycle events.
	// Labels: pool, algorithm, event (created/destroyed/grow_failed/waited/shrunk/over_ceiling)
	StreamEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Stream lifecycle events",
		},
		[]string{"pool", "algorithm", "event"},
	)

	// AcquireWait tracks how long acquirers block before obtaining a stream.
	AcquireWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acquire_wait_seconds",
			Help:      "Time spent blocked in acquire",
			Buckets: []float64{
				1e-6, // 1μs - idle stream available
				1e-5, // 10μs
				1e-4, // 100μs - lazy growth
				1e-3, // 1ms
				1e-2, // 10ms - contended
				1e-1, // 100ms
				1,    // 1s
			},
		},
		[]string{"pool", "algorithm"},
	)

	// Operations counts compress and decompress calls.
	// Labels: pool, algorithm, op (compress/decompress), status (success/error)
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Compress and decompress operations",
		},
		[]string{"pool", "algorithm", "op", "status"},
	)

	// BlockStoreBytes tracks block store memory.
	// Labels: store, kind (orig/compressed/stored)
	BlockStoreBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "blockstore",
			Name:      "bytes",
			Help:      "Block store data size by kind",
		},
		[]string{"store", "kind"},
	)
)

// Pools and stores that share a name share their series. Gauges are
// published as deltas so a shared series holds the sum over its owners, and
// a series is deleted only when its last owner forgets it.
type seriesKey struct {
	vec  string
	name string
	sub  string
}

var (
	seriesMu   sync.Mutex
	seriesRefs = make(map[seriesKey]int)
)

// retain must be called with seriesMu held
func retain(k seriesKey) {
	seriesRefs[k]++
}

// release must be called with seriesMu held. It reports whether k has no
// owners left.
func release(k seriesKey) bool {
	seriesRefs[k]--
	if seriesRefs[k] > 0 {
		return false
	}
	delete(seriesRefs, k)
	return true
}

// SeriesOwners returns how many live collectors publish the pool series for
// name and algorithm.
func SeriesOwners(name, algorithm string) int {
	seriesMu.Lock()
	defer seriesMu.Unlock()
	return seriesRefs[seriesKey{vec: "pool", name: name, sub: algorithm}]
}

// Collector binds the pool and algorithm labels for one stream pool.
// A nil *Collector is valid and records nothing.
type Collector struct {
	name      string
	algorithm string

	avail  prometheus.Gauge
	idle   prometheus.Gauge
	max    prometheus.Gauge
	wait   prometheus.Observer
	events map[string]prometheus.Counter

	mu        sync.Mutex
	last      [3]float64 // avail, idle, max as last published
	forgotten bool
}

// NewCollector creates a collector for the pool called name. Every collector
// must be released with Forget.
func NewCollector(name, algorithm string) *Collector {
	seriesMu.Lock()
	defer seriesMu.Unlock()
	retain(seriesKey{vec: "pool", name: name, sub: algorithm})

	events := make(map[string]prometheus.Counter, 6)
	for _, ev := range []string{EventCreated, EventDestroyed, EventGrowFailed, EventWaited, EventShrunk, EventOverCeiling} {
		events[ev] = StreamEvents.WithLabelValues(name, algorithm, ev)
	}
	return &Collector{
		name:      name,
		algorithm: algorithm,
		avail:     StreamsAvailable.WithLabelValues(name, algorithm),
		idle:      StreamsIdle.WithLabelValues(name, algorithm),
		max:       StreamsMax.WithLabelValues(name, algorithm),
		wait:      AcquireWait.WithLabelValues(name, algorithm),
		events:    events,
	}
}

// Name returns the pool label
func (c *Collector) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// SetOccupancy publishes the pool counters
func (c *Collector) SetOccupancy(avail, idle, max int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.forgotten {
		return
	}
	next := [3]float64{float64(avail), float64(idle), float64(max)}
	c.avail.Add(next[0] - c.last[0])
	c.idle.Add(next[1] - c.last[1])
	c.max.Add(next[2] - c.last[2])
	c.last = next
}

// StreamEvent increments the counter for a lifecycle event
func (c *Collector) StreamEvent(event string) {
	c.StreamEvents(event, 1)
}

// StreamEvents adds n to the counter for a lifecycle event
func (c *Collector) StreamEvents(event string, n int) {
	if c == nil || n <= 0 {
		return
	}
	if ctr, ok := c.events[event]; ok {
		ctr.Add(float64(n))
		return
	}
	StreamEvents.WithLabelValues(c.name, c.algorithm, event).Add(float64(n))
}

// ObserveWait records time spent in acquire
func (c *Collector) ObserveWait(d time.Duration) {
	if c == nil {
		return
	}
	c.wait.Observe(d.Seconds())
}

// Operation records the outcome of a compress or decompress call
func (c *Collector) Operation(op string, err error) {
	if c == nil {
		return
	}
	Operations.WithLabelValues(c.name, c.algorithm, op, status(err)).Inc()
}

// Forget withdraws the pool's share of the occupancy gauges and removes the
// series once no other pool publishes them. Later calls are no-ops.
func (c *Collector) Forget() {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.forgotten {
		c.mu.Unlock()
		return
	}
	c.forgotten = true
	c.avail.Sub(c.last[0])
	c.idle.Sub(c.last[1])
	c.max.Sub(c.last[2])
	c.last = [3]float64{}
	c.mu.Unlock()

	seriesMu.Lock()
	defer seriesMu.Unlock()
	if !release(seriesKey{vec: "pool", name: c.name, sub: c.algorithm}) {
		return
	}
	labels := prometheus.Labels{"pool": c.name, "algorithm": c.algorithm}
	StreamsAvailable.Delete(labels)
	StreamsIdle.Delete(labels)
	StreamsMax.Delete(labels)
}

// StoreCollector publishes the byte gauges of one block store.
type StoreCollector struct {
	name  string
	kinds [3]prometheus.Gauge // orig, compressed, stored

	mu        sync.Mutex
	last      [3]float64
	forgotten bool
}

var storeKinds = [3]string{"orig", "compressed", "stored"}

// NewStoreCollector creates the collector for the store called name. It
// must be released with Forget.
func NewStoreCollector(name string) *StoreCollector {
	seriesMu.Lock()
	defer seriesMu.Unlock()
	retain(seriesKey{vec: "store", name: name})

	c := &StoreCollector{name: name}
	for i, kind := range storeKinds {
		c.kinds[i] = BlockStoreBytes.WithLabelValues(name, kind)
	}
	return c
}

// Set publishes the store's current byte counts
func (c *StoreCollector) Set(orig, compressed, stored int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.forgotten {
		return
	}
	next := [3]float64{float64(orig), float64(compressed), float64(stored)}
	for i := range next {
		c.kinds[i].Add(next[i] - c.last[i])
	}
	c.last = next
}

// Forget withdraws the store's bytes and removes the series once no other
// store with the same name is open.
func (c *StoreCollector) Forget() {
	c.mu.Lock()
	if c.forgotten {
		c.mu.Unlock()
		return
	}
	c.forgotten = true
	for i := range c.last {
		c.kinds[i].Sub(c.last[i])
	}
	c.last = [3]float64{}
	c.mu.Unlock()

	seriesMu.Lock()
	defer seriesMu.Unlock()
	if !release(seriesKey{vec: "store", name: c.name}) {
		return
	}
	for _, kind := range storeKinds {
		BlockStoreBytes.DeleteLabelValues(c.name, kind)
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer label
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. The timer can be stopped
// multiple times, each returning the total elapsed time since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// LatencyTracker provides percentile tracking over a bounded window
type LatencyTracker struct {
	mu      sync.Mutex
	values  []time.Duration
	maxSize int
}

// NewLatencyTracker creates a new latency tracker
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &LatencyTracker{
		values:  make([]time.Duration, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record records a latency value
func (l *LatencyTracker) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.values) >= l.maxSize {
		// Remove oldest
		l.values = l.values[1:]
	}
	l.values = append(l.values, d)
}

// Count returns the number of recorded values
func (l *LatencyTracker) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.values)
}

// GetPercentile returns the percentile value (0-100)
func (l *LatencyTracker) GetPercentile(p float64) time.Duration {
	l.mu.Lock()
	sorted := make([]time.Duration, len(l.values))
	copy(sorted, l.values)
	l.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := int(float64(len(sorted)) * p / 100)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	if index < 0 {
		index = 0
	}

	return sorted[index]
}
