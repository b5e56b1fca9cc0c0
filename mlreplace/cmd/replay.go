package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/pkg/browser"
	"github.com/sarchlab/mlreplace/cachesim"
	"github.com/sarchlab/mlreplace/featurelog"
	"github.com/sarchlab/mlreplace/monitoring"
	"github.com/sarchlab/mlreplace/replacement"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const monitorRefreshInterval = 10000

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a memory trace through a cache.",
	Long: "`replay --trace FILE` replays a trace through a cache that uses the " +
		"selected replacement strategy and prints hit and miss statistics " +
		"together with the final leaf counters.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts, err := parseReplayOptions(cmd)
		if err != nil {
			return err
		}

		return replay(opts, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	addReplayFlags(replayCmd.Flags())
}

func addReplayFlags(f *pflag.FlagSet) {
	f.String("trace", "", "Trace file to replay")
	f.Int("sets", 2048, "Number of sets [MLREPLACE_SETS]")
	f.Int("ways", 16, "Number of ways [MLREPLACE_WAYS]")
	f.Int("block-size", 64, "Cache line size in bytes [MLREPLACE_BLOCK_SIZE]")
	f.String("strategy", "enhanced",
		"Replacement strategy: lru, baseline, or enhanced [MLREPLACE_STRATEGY]")
	f.Int("signature-bits", replacement.DefaultSignatureBits,
		"Signature bits of the reuse predictor")
	f.String("log", "none",
		"Feature log: none, csv, sqlite, or clickhouse [MLREPLACE_LOG]")
	f.String("log-path", "",
		"Feature log file name without extension. A random name is used "+
			"if empty.")
	f.String("eviction-log", "",
		"Write an eviction event per fill to this file, without extension")
	f.Bool("monitor", false, "Serve the replay state over HTTP")
	f.Int("port", 0, "Port of the monitoring server. 0 picks a random port.")
	f.Bool("open", false, "Open the monitoring page in a browser")
}

type replayOptions struct {
	trace         string
	sets          int
	ways          int
	blockSize     int
	strategy      string
	signatureBits int
	logType       string
	logPath       string
	evictionLog   string
	clickHouseDSN string
	monitor       bool
	port          int
	open          bool
}

func parseReplayOptions(cmd *cobra.Command) (replayOptions, error) {
	var err error

	opts := replayOptions{
		clickHouseDSN: os.Getenv("MLREPLACE_CLICKHOUSE_DSN"),
	}

	f := cmd.Flags()
	opts.trace, _ = f.GetString("trace")
	opts.signatureBits, _ = f.GetInt("signature-bits")
	opts.logPath, _ = f.GetString("log-path")
	opts.evictionLog, _ = f.GetString("eviction-log")
	opts.monitor, _ = f.GetBool("monitor")
	opts.port, _ = f.GetInt("port")
	opts.open, _ = f.GetBool("open")
	opts.strategy = stringOption(cmd, "strategy", "MLREPLACE_STRATEGY")
	opts.logType = stringOption(cmd, "log", "MLREPLACE_LOG")

	if opts.sets, err = intOption(cmd, "sets", "MLREPLACE_SETS"); err != nil {
		return opts, err
	}

	if opts.ways, err = intOption(cmd, "ways", "MLREPLACE_WAYS"); err != nil {
		return opts, err
	}

	opts.blockSize, err = intOption(cmd, "block-size", "MLREPLACE_BLOCK_SIZE")
	if err != nil {
		return opts, err
	}

	return opts, opts.validate()
}

// stringOption returns the flag value if it is set on the command line, the
// environment variable if it is set, and the flag default otherwise.
func stringOption(cmd *cobra.Command, flag, env string) string {
	value, _ := cmd.Flags().GetString(flag)
	if cmd.Flags().Changed(flag) {
		return value
	}

	if envValue, ok := os.LookupEnv(env); ok {
		return envValue
	}

	return value
}

func intOption(cmd *cobra.Command, flag, env string) (int, error) {
	value, _ := cmd.Flags().GetInt(flag)
	if cmd.Flags().Changed(flag) {
		return value, nil
	}

	envValue, ok := os.LookupEnv(env)
	if !ok {
		return value, nil
	}

	value, err := strconv.Atoi(envValue)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", env, err)
	}

	return value, nil
}

func (o replayOptions) validate() error {
	if o.trace == "" {
		return errors.New("a trace file is required")
	}

	switch o.strategy {
	case "lru", "baseline", "enhanced":
	default:
		return fmt.Errorf("unknown replacement strategy %q", o.strategy)
	}

	if o.sets <= 0 || o.ways <= 0 || o.blockSize <= 0 {
		return fmt.Errorf("invalid cache geometry: %d sets, %d ways, %dB lines",
			o.sets, o.ways, o.blockSize)
	}

	if o.signatureBits < 1 || o.signatureBits > replacement.MaxSignatureBits {
		return fmt.Errorf("signature bits must be in [1, %d], got %d",
			replacement.MaxSignatureBits, o.signatureBits)
	}

	return nil
}

func replay(opts replayOptions, out io.Writer) error {
	entries, err := readTrace(opts.trace)
	if err != nil {
		return err
	}

	sink, err := featurelog.NewSinkWithConfig(featurelog.SinkConfig{
		Type:    opts.logType,
		Path:    opts.logPath,
		ConnStr: opts.clickHouseDSN,
	})
	if err != nil {
		return err
	}

	builder := replacement.MakeBuilder().
		WithNumSets(opts.sets).
		WithNumWays(opts.ways).
		WithReplaceStrategy(opts.strategy).
		WithSignatureBits(opts.signatureBits)

	if _, discard := sink.(featurelog.Discard); !discard {
		builder = builder.WithFeatureSink(sink)
	}

	var evictions *featurelog.EvictionCSVSink

	if opts.evictionLog != "" {
		evictions, err = featurelog.NewEvictionCSVSink(opts.evictionLog)
		if err != nil {
			sink.Close()
			return err
		}

		builder = builder.WithEvictionSink(evictions)
	}

	policy := builder.Build("LLC")
	cache := cachesim.New(cachesim.Config{
		NumSets:   opts.sets,
		NumWays:   opts.ways,
		BlockSize: opts.blockSize,
	}, policy)

	var onStep func(int)

	if opts.monitor {
		var finish func()

		onStep, finish = startMonitor(opts, policy, len(entries))
		defer finish()
	}

	cache.Replay(entries, onStep)

	err = sink.Close()
	if err != nil {
		return fmt.Errorf("failed to close feature log: %w", err)
	}

	if evictions != nil {
		err = evictions.Close()
		if err != nil {
			return fmt.Errorf("failed to close eviction log: %w", err)
		}
	}

	err = printReport(out, cache)
	if err != nil {
		return err
	}

	if sink.Dropped() > 0 {
		fmt.Fprintf(out, "Feature records dropped: %d\n", sink.Dropped())
	}

	return nil
}

func readTrace(path string) ([]cachesim.TraceEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return cachesim.ReadTrace(f)
}

func startMonitor(
	opts replayOptions,
	policy *replacement.Policy,
	total int,
) (onStep func(int), finish func()) {
	m := monitoring.NewMonitor().WithPortNumber(opts.port)
	m.RegisterPolicy(policy)

	url := m.StartServer()
	if opts.open {
		err := browser.OpenURL(url)
		if err != nil {
			log.Printf("failed to open %s: %v", url, err)
		}
	}

	bar := m.CreateProgressBar("Replay", uint64(total))

	onStep = func(done int) {
		if done%monitorRefreshInterval == 0 || done == total {
			bar.SetFinished(uint64(done))
			m.Refresh()
		}
	}

	finish = func() {
		m.Refresh()
		m.CompleteProgressBar(bar)
	}

	return onStep, finish
}

var reportKinds = []replacement.AccessKind{
	replacement.AccessLoad,
	replacement.AccessRFO,
	replacement.AccessPrefetch,
	replacement.AccessWrite,
	replacement.AccessTranslation,
}

func printReport(out io.Writer, cache *cachesim.Cache) error {
	stats := cache.Stats()
	policy := cache.Policy()
	policyStats := policy.Stats()

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "Policy\t%s (%s)\n", policy.Name(),
		monitoring.StrategyName(policy))
	fmt.Fprintf(w, "Accesses\t%d\n", stats.Accesses)
	fmt.Fprintf(w, "Hits\t%d\t%.2f%%\n", stats.Hits, 100*stats.HitRate())
	fmt.Fprintf(w, "Misses\t%d\n", stats.Misses)

	for _, kind := range reportKinds {
		hits, misses := stats.HitsByKind[kind], stats.MissesByKind[kind]
		if hits+misses == 0 {
			continue
		}

		fmt.Fprintf(w, "  %s\t%d hits\t%d misses\n", kind, hits, misses)
	}

	fmt.Fprintf(w, "Evictions\t%d\t%d reused\t%d dirty\n",
		stats.Evictions, stats.ReusedEvictions, stats.DirtyEvictions)
	fmt.Fprintf(w, "Victims\t%d invalid\t%d engine\t%d lru\n",
		policyStats.InvalidVictims, policyStats.EngineVictims,
		policyStats.LRUVictims)

	if policyStats.Clamps > 0 {
		fmt.Fprintf(w, "Clamps\t%d\n", policyStats.Clamps)
	}

	if policyStats.SinkErrors > 0 {
		fmt.Fprintf(w, "Feature log errors\t%d\n", policyStats.SinkErrors)
	}

	if policy.Engine() != nil {
		fmt.Fprintf(w, "Leaf counters\t%v\n", policy.Engine().Counters())
	}

	return w.Flush()
}
