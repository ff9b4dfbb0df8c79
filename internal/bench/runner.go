// Package bench drives a block store with concurrent writers and readers and
// reports throughput, latency and pool behaviour.
package bench

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/zcomp/pkg/blockstore"
	"github.com/ajitpratap0/zcomp/pkg/errors"
	"github.com/ajitpratap0/zcomp/pkg/logger"
	"github.com/ajitpratap0/zcomp/pkg/metrics"
	"github.com/ajitpratap0/zcomp/pkg/observability"
	"github.com/ajitpratap0/zcomp/pkg/performance"
)

const latencyWindow = 100000

// Config configures a run
type Config struct {
	Store   blockstore.Config
	Workers int
	Rounds  int
	Pattern string
	Seed    int64

	// Resize, when set, is applied as the stream ceiling halfway through
	// the run to exercise shrink and growth under load.
	Resize int

	// Profile writes pprof profiles covering the write and read phases
	Profile performance.ProfilerConfig

	// RunID tags the run's logs and result. One is generated when empty.
	RunID string
}

// Result summarizes a run
type Result struct {
	RunID     string        `json:"run_id"`
	Algorithm string        `json:"algorithm"`
	Pattern   string        `json:"pattern"`
	Workers   int           `json:"workers"`
	Rounds    int           `json:"rounds"`
	Duration  time.Duration `json:"duration_ns"`

	WriteMBps float64       `json:"write_mbps"`
	ReadMBps  float64       `json:"read_mbps"`
	WriteP50  time.Duration `json:"write_p50_ns"`
	WriteP99  time.Duration `json:"write_p99_ns"`
	ReadP50   time.Duration `json:"read_p50_ns"`
	ReadP99   time.Duration `json:"read_p99_ns"`

	RSSBytes uint64                     `json:"rss_bytes"`
	Usage    *performance.ResourceUsage `json:"usage,omitempty"`
	Store    blockstore.Stats           `json:"store"`
	Baseline *Comparison                `json:"baseline,omitempty"`
}

// Comparison relates a run to an earlier one. Changes are percentages of
// the earlier value.
type Comparison struct {
	RunID       string  `json:"run_id"`
	Algorithm   string  `json:"algorithm"`
	WriteChange float64 `json:"write_change_pct"`
	ReadChange  float64 `json:"read_change_pct"`
	RatioChange float64 `json:"ratio_change_pct"`
}

// Compare returns how r differs from base
func (r *Result) Compare(base *Result) *Comparison {
	return &Comparison{
		RunID:       base.RunID,
		Algorithm:   base.Algorithm,
		WriteChange: change(r.WriteMBps, base.WriteMBps),
		ReadChange:  change(r.ReadMBps, base.ReadMBps),
		RatioChange: change(r.Store.CompressionRatio(), base.Store.CompressionRatio()),
	}
}

func change(cur, base float64) float64 {
	if base == 0 {
		return 0
	}
	return (cur - base) / base * 100
}

// Run creates a store, writes every block Rounds times and reads each one
// back, failing on the first mismatch. Workers own disjoint sets of blocks.
func Run(ctx context.Context, cfg Config, log *zap.Logger) (*Result, error) {
	if cfg.Workers <= 0 {
		return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "workers must be positive, got %d", cfg.Workers)
	}
	if cfg.Rounds <= 0 {
		return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "rounds must be positive, got %d", cfg.Rounds)
	}

	if cfg.RunID == "" {
		cfg.RunID = newRunID()
	}
	ctx = logger.WithRunID(ctx, cfg.RunID)
	if log == nil {
		log = logger.WithContext(ctx)
	} else {
		log = log.With(logger.ContextFields(ctx)...)
	}

	ctx, span := observability.StartSpan(ctx, "bench.run")
	defer span.End()
	span.SetAttribute("run_id", cfg.RunID)

	cfg.Store.Logger = log
	store, err := blockstore.New(cfg.Store)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			log.Warn("failed to close block store", zap.Error(cerr))
		}
	}()

	cfg.Store.BlockSize = store.BlockSize()
	gen, err := NewGenerator(cfg.Pattern, cfg.Store.BlockSize, cfg.Seed)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttribute("algorithm", store.Algorithm()).
		SetAttribute("workers", cfg.Workers).
		SetAttribute("blocks", cfg.Store.Blocks).
		SetAttribute("pattern", cfg.Pattern)
	log.Info("bench started",
		zap.String("algorithm", store.Algorithm()),
		zap.Int("workers", cfg.Workers),
		zap.Int("blocks", cfg.Store.Blocks),
		zap.Int("rounds", cfg.Rounds),
		zap.String("pattern", cfg.Pattern))

	writeLat := metrics.NewLatencyTracker(latencyWindow)
	readLat := metrics.NewLatencyTracker(latencyWindow)
	var writeTime, readTime time.Duration

	profiler, err := performance.StartProfiler(cfg.Profile)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	timer := metrics.NewTimer("bench")
	for round := 0; round < cfg.Rounds; round++ {
		if cfg.Resize > 0 && round == cfg.Rounds/2 {
			ok := store.SetMaxStreams(cfg.Resize)
			span.AddEvent("resize")
			log.Info("stream ceiling resized", zap.Int("max_streams", cfg.Resize), zap.Bool("applied", ok))
		}

		start := time.Now()
		if err := runPhase(ctx, cfg, func(ctx context.Context, idx int, buf []byte) error {
			gen.Fill(buf, idx, round)
			t := time.Now()
			err := store.Write(ctx, idx, buf)
			writeLat.Record(time.Since(t))
			return err
		}); err != nil {
			_, _ = profiler.Stop()
			span.RecordError(err)
			return nil, err
		}
		writeTime += time.Since(start)

		start = time.Now()
		if err := runPhase(ctx, cfg, func(ctx context.Context, idx int, buf []byte) error {
			t := time.Now()
			if err := store.Read(ctx, idx, buf); err != nil {
				return err
			}
			readLat.Record(time.Since(t))
			if !bytes.Equal(buf, gen.Block(idx, round)) {
				return errors.Newf(errors.ErrorTypeInternal, "block %d read back different data", idx).
					WithDetail("round", round)
			}
			return nil
		}); err != nil {
			_, _ = profiler.Stop()
			span.RecordError(err)
			return nil, err
		}
		readTime += time.Since(start)
	}

	elapsed := timer.Stop()
	usage, err := profiler.Stop()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	moved := float64(cfg.Rounds) * float64(cfg.Store.Blocks) * float64(cfg.Store.BlockSize) / (1 << 20)
	res := &Result{
		RunID:     cfg.RunID,
		Algorithm: store.Algorithm(),
		Pattern:   cfg.Pattern,
		Workers:   cfg.Workers,
		Rounds:    cfg.Rounds,
		Duration:  elapsed,
		WriteMBps: throughput(moved, writeTime),
		ReadMBps:  throughput(moved, readTime),
		WriteP50:  writeLat.GetPercentile(50),
		WriteP99:  writeLat.GetPercentile(99),
		ReadP50:   readLat.GetPercentile(50),
		ReadP99:   readLat.GetPercentile(99),
		Usage:     usage,
		Store:     store.Stats(),
	}
	if rss, err := performance.ProcessMemory(); err == nil {
		res.RSSBytes = rss
	} else {
		log.Debug("process memory unavailable", zap.Error(err))
	}

	span.SetAttribute("duration_ms", res.Duration.Milliseconds()).
		SetAttribute("compression_ratio", res.Store.CompressionRatio())
	span.RecordError(nil)
	log.Info("bench finished",
		zap.Duration("duration", res.Duration),
		zap.Float64("write_mbps", res.WriteMBps),
		zap.Float64("read_mbps", res.ReadMBps),
		zap.Float64("ratio", res.Store.CompressionRatio()),
		zap.Int64("grow_failures", res.Store.Pool.GrowFailures))
	return res, nil
}

// runPhase runs fn for every block, split across the workers
func runPhase(ctx context.Context, cfg Config, fn func(ctx context.Context, idx int, buf []byte) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workers; w++ {
		w := w
		g.Go(func() error {
			buf := make([]byte, cfg.Store.BlockSize)
			for idx := w; idx < cfg.Store.Blocks; idx += cfg.Workers {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := fn(ctx, idx, buf); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func newRunID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}

func throughput(mb float64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return mb / d.Seconds()
}
