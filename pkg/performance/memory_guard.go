// Package performance provides system resource probes used by zcomp to decide
// whether optional allocations should proceed, and the profiler used by the
// bench command.
package performance

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// MemoryGuard reports whether an optional allocation may proceed.
// Implementations must not block for long; they are consulted on the
// acquire path of a stream pool.
type MemoryGuard interface {
	Allow() bool
}

// AllowAll is a MemoryGuard that never refuses
type AllowAll struct{}

// Allow always returns true
func (AllowAll) Allow() bool { return true }

// AvailableFunc returns the number of bytes of memory available for new
// allocations.
type AvailableFunc func() (uint64, error)

// SystemAvailable reads available memory from the operating system
func SystemAvailable() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// SystemMemoryGuard refuses allocations while available system memory is
// below a floor. The probe runs at most once per interval; between probes
// the last verdict is served from cache.
type SystemMemoryGuard struct {
	minFree   uint64
	interval  time.Duration
	available AvailableFunc
	now       func() time.Time

	verdict    atomic.Bool
	lastSample atomic.Int64 // unix nanos, 0 before the first sample
	sampling   sync.Mutex
	probes     atomic.Int64
}

// NewSystemMemoryGuard creates a guard with the given floor. A floor of 0
// disables the guard.
func NewSystemMemoryGuard(minFreeBytes uint64, interval time.Duration) *SystemMemoryGuard {
	return NewMemoryGuard(minFreeBytes, interval, SystemAvailable)
}

// NewMemoryGuard creates a guard backed by an arbitrary probe
func NewMemoryGuard(minFreeBytes uint64, interval time.Duration, available AvailableFunc) *SystemMemoryGuard {
	g := &SystemMemoryGuard{
		minFree:   minFreeBytes,
		interval:  interval,
		available: available,
		now:       time.Now,
	}
	g.verdict.Store(true)
	return g
}

// Allow reports whether available memory was above the floor at the last
// sample. Only one caller probes at a time; concurrent callers get the
// cached verdict.
func (g *SystemMemoryGuard) Allow() bool {
	if g.minFree == 0 {
		return true
	}

	now := g.now().UnixNano()
	last := g.lastSample.Load()
	if last != 0 && now-last < int64(g.interval) {
		return g.verdict.Load()
	}

	if !g.sampling.TryLock() {
		return g.verdict.Load()
	}
	defer g.sampling.Unlock()

	g.probes.Add(1)
	avail, err := g.available()
	// A failed probe keeps the previous verdict
	if err == nil {
		g.verdict.Store(avail >= g.minFree)
	}
	g.lastSample.Store(now)
	return g.verdict.Load()
}

// Probes returns how many times the guard sampled memory
func (g *SystemMemoryGuard) Probes() int64 {
	return g.probes.Load()
}

// ProcessMemory returns the resident set size of the current process
func ProcessMemory() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
