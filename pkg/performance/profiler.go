package performance

import (
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/ajitpratap0/zcomp/pkg/errors"
)

// ProfilerConfig selects the pprof profiles to write. Empty paths disable
// the corresponding profile.
type ProfilerConfig struct {
	CPUProfile string
	MemProfile string
}

// Profiler captures pprof profiles and resource usage around a run
type Profiler struct {
	cfg     ProfilerConfig
	cpuFile *os.File
	monitor *ResourceMonitor
	start   runtime.MemStats
}

// StartProfiler starts CPU profiling when configured and records the
// starting resource counters.
func StartProfiler(cfg ProfilerConfig) (*Profiler, error) {
	p := &Profiler{cfg: cfg, monitor: NewResourceMonitor()}
	runtime.ReadMemStats(&p.start)

	if cfg.CPUProfile != "" {
		f, err := os.Create(cfg.CPUProfile)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create CPU profile").
				WithDetail("path", cfg.CPUProfile)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to start CPU profile")
		}
		p.cpuFile = f
	}
	return p, nil
}

// Stop ends CPU profiling, writes the heap profile and returns the resources
// used since StartProfiler.
func (p *Profiler) Stop() (*ResourceUsage, error) {
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := p.cpuFile.Close(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to close CPU profile")
		}
		p.cpuFile = nil
	}

	if p.cfg.MemProfile != "" {
		f, err := os.Create(p.cfg.MemProfile)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create heap profile").
				WithDetail("path", p.cfg.MemProfile)
		}
		runtime.GC()
		werr := pprof.WriteHeapProfile(f)
		cerr := f.Close()
		if werr != nil {
			return nil, errors.Wrap(werr, errors.ErrorTypeInternal, "failed to write heap profile")
		}
		if cerr != nil {
			return nil, errors.Wrap(cerr, errors.ErrorTypeInternal, "failed to close heap profile")
		}
	}

	usage := p.monitor.Usage()
	var end runtime.MemStats
	runtime.ReadMemStats(&end)
	usage.Mallocs = end.Mallocs - p.start.Mallocs
	usage.TotalAlloc = end.TotalAlloc - p.start.TotalAlloc
	usage.NumGC = end.NumGC - p.start.NumGC
	usage.GCPause = time.Duration(end.PauseTotalNs - p.start.PauseTotalNs)
	return usage, nil
}

// ResourceMonitor measures process CPU time and memory through gopsutil
type ResourceMonitor struct {
	process      *process.Process
	startCPUTime float64
	startTime    time.Time
}

// NewResourceMonitor creates a monitor for the current process. When the
// process cannot be inspected the monitor reports Go runtime figures only.
func NewResourceMonitor() *ResourceMonitor {
	rm := &ResourceMonitor{startTime: time.Now()}
	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		return rm
	}
	rm.process = proc
	if t, err := proc.Times(); err == nil {
		rm.startCPUTime = t.User + t.System
	}
	return rm
}

// Usage returns resource usage since the monitor was created
func (rm *ResourceMonitor) Usage() *ResourceUsage {
	usage := &ResourceUsage{
		Elapsed:        time.Since(rm.startTime),
		GoroutineCount: runtime.NumGoroutine(),
	}

	if rm.process != nil {
		if t, err := rm.process.Times(); err == nil && usage.Elapsed > 0 {
			usage.CPUPercent = (t.User + t.System - rm.startCPUTime) / usage.Elapsed.Seconds() * 100
		}
		if info, err := rm.process.MemoryInfo(); err == nil {
			usage.MemoryRSS = info.RSS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		usage.SystemMemoryAvailable = vm.Available
	}
	return usage
}

// ResourceUsage contains resource usage information
type ResourceUsage struct {
	Elapsed               time.Duration `json:"elapsed_ns"`
	CPUPercent            float64       `json:"cpu_percent"`
	MemoryRSS             uint64        `json:"memory_rss"`
	SystemMemoryAvailable uint64        `json:"system_memory_available"`
	GoroutineCount        int           `json:"goroutines"`

	// Go runtime deltas, filled by Profiler.Stop
	Mallocs    uint64        `json:"mallocs"`
	TotalAlloc uint64        `json:"total_alloc"`
	NumGC      uint32        `json:"num_gc"`
	GCPause    time.Duration `json:"gc_pause_ns"`
}
