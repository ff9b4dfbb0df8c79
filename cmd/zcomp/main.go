package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/zcomp/internal/bench"
	"github.com/ajitpratap0/zcomp/pkg/blockstore"
	"github.com/ajitpratap0/zcomp/pkg/compression"
	"github.com/ajitpratap0/zcomp/pkg/config"
	"github.com/ajitpratap0/zcomp/pkg/errors"
	"github.com/ajitpratap0/zcomp/pkg/json"
	"github.com/ajitpratap0/zcomp/pkg/logger"
	"github.com/ajitpratap0/zcomp/pkg/observability"
	"github.com/ajitpratap0/zcomp/pkg/performance"
)

var version = "0.1.0"

// globalFlags are shared by every command
type globalFlags struct {
	configFile  string
	logLevel    string
	metricsAddr string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "zcomp",
		Short: "zcomp - pooled compression streams for block storage",
		Long: `zcomp manages pools of reusable compression streams and drives an
in-memory compressed block store with them. Use it to compare backends, size
stream pools and watch how pools grow and shrink under load.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to a YAML configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	root.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs, e.g. :9090")

	root.AddCommand(
		newVersionCmd(),
		newAlgorithmsCmd(),
		newBenchCmd(flags),
		newConfigCmd(flags),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "zcomp v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newAlgorithmsCmd() *cobra.Command {
	var current string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "algorithms",
		Short: "List available compression algorithms",
		Long: `List the registered compression backends in order. The selected one is
shown in brackets, e.g. "[lz4] lz4hc zstd".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				return writeJSON(cmd, compression.Available(current))
			}
			_, err := fmt.Fprint(cmd.OutOrStdout(), compression.FormatAvailable(current))
			return err
		},
	}
	cmd.Flags().StringVar(&current, "current", compression.DefaultAlgorithm, "Algorithm to mark as selected")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of the bracketed list")
	return cmd
}

func newBenchCmd(flags *globalFlags) *cobra.Command {
	var (
		algorithm string
		streams   int
		workers   int
		blocks    int
		rounds    int
		blockSize int
		level     int
		pattern   string
		resize    int
		seed      int64
		asJSON    bool
		trace     bool
		baseline  string
		profile   performance.ProfilerConfig
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run the block store under concurrent writers and readers",
		Long: `Run a compressed block store with concurrent workers. Every block is
written and read back each round and verified. Flags override the bench,
pool and store sections of the configuration.

Example:
  zcomp bench --algorithm zstd --streams 4 --workers 8 --blocks 4096 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(flags)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			fs := cmd.Flags()
			if fs.Changed("algorithm") {
				cfg.Pool.Algorithm = algorithm
			}
			if fs.Changed("streams") {
				cfg.Pool.MaxStreams = streams
			}
			if fs.Changed("block-size") {
				cfg.Pool.BlockSize = blockSize
			}
			if fs.Changed("level") {
				cfg.Pool.Level = level
			}
			if fs.Changed("blocks") {
				cfg.Store.Blocks = blocks
			}
			if fs.Changed("workers") {
				cfg.Bench.Workers = workers
			}
			if fs.Changed("rounds") {
				cfg.Bench.Rounds = rounds
			}
			if fs.Changed("pattern") {
				cfg.Bench.Pattern = pattern
			}
			if trace {
				cfg.Observability.EnableTracing = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			var base *bench.Result
			if baseline != "" {
				if base, err = loadBaseline(baseline); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Observability.EnableTracing {
				tc := observability.DefaultTracingConfig()
				tc.ServiceVersion = version
				tc.SamplingRate = cfg.Observability.TracingSampleRate
				tc.Writer = cmd.ErrOrStderr()
				shutdown, err := observability.InitTracing(tc)
				if err != nil {
					return err
				}
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = shutdown(sctx)
				}()
			}

			res, err := bench.Run(ctx, bench.Config{
				Store: blockstore.Config{
					Name:       cfg.Pool.Name,
					Blocks:     cfg.Store.Blocks,
					BlockSize:  cfg.Pool.BlockSize,
					Algorithm:  cfg.Pool.Algorithm,
					MaxStreams: cfg.Pool.MaxStreams,
					Level:      cfg.Pool.Level,
					Guard:      newGuard(cfg),
				},
				Workers: cfg.Bench.Workers,
				Rounds:  cfg.Bench.Rounds,
				Pattern: cfg.Bench.Pattern,
				Seed:    seed,
				Resize:  resize,
				Profile: profile,
			}, logger.With(zap.String("component", "zcomp-cli")))
			if err != nil {
				return err
			}
			if base != nil {
				res.Baseline = res.Compare(base)
			}

			if asJSON {
				return writeJSON(cmd, res)
			}
			printResult(cmd, res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", compression.DefaultAlgorithm, "Compression algorithm")
	cmd.Flags().IntVarP(&streams, "streams", "s", runtime.NumCPU(), "Stream ceiling; 1 selects the single-stream policy")
	cmd.Flags().IntVarP(&workers, "workers", "w", runtime.NumCPU(), "Concurrent workers")
	cmd.Flags().IntVar(&blocks, "blocks", 4096, "Number of blocks in the store")
	cmd.Flags().IntVar(&rounds, "rounds", 1, "Write and read passes over every block")
	cmd.Flags().IntVar(&blockSize, "block-size", 4096, "Block size in bytes, a multiple of 8")
	cmd.Flags().IntVar(&level, "level", 0, "Backend compression level, 0 for the default")
	cmd.Flags().StringVar(&pattern, "pattern", bench.PatternMixed, "Data pattern: text, random, zero or mixed")
	cmd.Flags().IntVar(&resize, "resize", 0, "Stream ceiling to apply halfway through the run (0 keeps it)")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Seed for generated data")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVar(&trace, "trace", false, "Export trace spans to stderr")
	cmd.Flags().StringVar(&baseline, "baseline", "", "Compare against a result saved from an earlier --json run")
	cmd.Flags().StringVar(&profile.CPUProfile, "cpuprofile", "", "Write a CPU profile to this file")
	cmd.Flags().StringVar(&profile.MemProfile, "memprofile", "", "Write a heap profile to this file")
	return cmd
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configFile)
			if err != nil {
				return err
			}
			if flags.logLevel != "" {
				cfg.Logging.Level = flags.logLevel
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	return cmd
}

// setup loads the configuration, initializes the global logger and starts
// the metrics endpoint when one is configured.
func setup(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.metricsAddr != "" {
		cfg.Observability.MetricsAddr = flags.metricsAddr
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}
	if cfg.Observability.MetricsAddr != "" {
		serveMetrics(cfg.Observability.MetricsAddr)
	}
	return cfg, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

func newGuard(cfg *config.Config) performance.MemoryGuard {
	if cfg.Memory.MinFreeBytes == 0 {
		return performance.AllowAll{}
	}
	return performance.NewSystemMemoryGuard(cfg.Memory.MinFreeBytes, cfg.Memory.SampleInterval)
}

// loadBaseline reads a result written by bench --json
func loadBaseline(path string) (*bench.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read baseline").WithDetail("path", path)
	}
	var base bench.Result
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid baseline result").WithDetail("path", path)
	}
	return &base, nil
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	return json.WriteIndented(cmd.OutOrStdout(), v)
}

func printResult(cmd *cobra.Command, res *bench.Result) {
	out := cmd.OutOrStdout()
	st := res.Store
	fmt.Fprintf(out, "run:         %s\n", res.RunID)
	fmt.Fprintf(out, "algorithm:   %s (%s policy, ceiling %d)\n", res.Algorithm, st.Pool.Policy, st.Pool.MaxStreams)
	fmt.Fprintf(out, "pattern:     %s, %d workers, %d rounds\n", res.Pattern, res.Workers, res.Rounds)
	fmt.Fprintf(out, "duration:    %v\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "write:       %.1f MB/s (p50 %v, p99 %v)\n", res.WriteMBps, res.WriteP50, res.WriteP99)
	fmt.Fprintf(out, "read:        %.1f MB/s (p50 %v, p99 %v)\n", res.ReadMBps, res.ReadP50, res.ReadP99)
	fmt.Fprintf(out, "blocks:      %d stored, %d same-filled, %d huge\n", st.Blocks, st.SameFilled, st.Huge)
	fmt.Fprintf(out, "bytes:       %d orig, %d compressed, %d in buffers (ratio %.2f)\n",
		st.OrigBytes, st.ComprBytes, st.StoredBytes, st.CompressionRatio())
	fmt.Fprintf(out, "streams:     %d created, %d destroyed, %d grow failures, %d waits\n",
		st.Pool.Created, st.Pool.Destroyed, st.Pool.GrowFailures, st.Pool.Waits)
	if res.RSSBytes > 0 {
		fmt.Fprintf(out, "rss:         %.1f MiB\n", float64(res.RSSBytes)/(1<<20))
	}
	if u := res.Usage; u != nil {
		fmt.Fprintf(out, "cpu:         %.0f%%, %d GCs (%v paused), %d allocs\n",
			u.CPUPercent, u.NumGC, u.GCPause, u.Mallocs)
	}
	if b := res.Baseline; b != nil {
		fmt.Fprintf(out, "baseline:    run %s (%s): write %+.1f%%, read %+.1f%%, ratio %+.1f%%\n",
			b.RunID, b.Algorithm, b.WriteChange, b.ReadChange, b.RatioChange)
	}
}
