// Package main provides the CLI entry point for the load generator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/eventsink/tools/loadgen/internal/config"
	"github.com/example/eventsink/tools/loadgen/internal/event"
	"github.com/example/eventsink/tools/loadgen/internal/logger"
	"github.com/example/eventsink/tools/loadgen/internal/runner"
	"github.com/example/eventsink/tools/loadgen/internal/schema"
	"github.com/example/eventsink/tools/loadgen/internal/session"
	"github.com/example/eventsink/tools/loadgen/internal/user"
)

// Version information (populated at build time)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// Exit codes.
const (
	exitOK        = 0
	exitError     = 1
	exitThreshold = 2
)

// options holds the parsed command-line flags.
type options struct {
	configPath     string
	host           string
	users          int
	spawnRate      float64
	duration       time.Duration
	qps            float64
	class          string
	outputFormat   string
	outputFile     string
	prometheusAddr string
	logLevel       string
	logFormat      string
	seed           uint64
	quiet          bool
	verbose        bool
	validate       bool
	dryRun         bool
	checkEvents    int
	showVersion    bool
}

func newFlagSet(opts *options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("loadgen", flag.ContinueOnError)
	fs.SetOutput(stderr)

	// Configuration
	fs.StringVar(&opts.configPath, "config", "", "Path to the YAML configuration file")
	fs.StringVar(&opts.configPath, "c", "", "Path to the YAML configuration file (shorthand)")

	// Override flags
	fs.StringVar(&opts.host, "host", "", "Override target base URL (e.g., http://localhost:3000)")
	fs.IntVar(&opts.users, "users", 0, "Override number of concurrent users")
	fs.IntVar(&opts.users, "u", 0, "Override number of concurrent users (shorthand)")
	fs.Float64Var(&opts.spawnRate, "spawn-rate", 0, "Override users started per second")
	fs.Float64Var(&opts.spawnRate, "r", 0, "Override users started per second (shorthand)")
	fs.DurationVar(&opts.duration, "duration", 0, "Override test duration (e.g., 5m, 1h)")
	fs.DurationVar(&opts.duration, "d", 0, "Override test duration (shorthand)")
	fs.Float64Var(&opts.qps, "qps", 0, "Cap total requests per second across all users")
	fs.StringVar(&opts.class, "class", "", "Run only this user class ("+strings.Join(user.Names(), ", ")+")")
	fs.Uint64Var(&opts.seed, "seed", 0, "Random seed for a reproducible run (0 = random)")

	// Utility flags
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable verbose output")
	fs.BoolVar(&opts.verbose, "v", false, "Enable verbose output (shorthand)")
	fs.BoolVar(&opts.quiet, "quiet", false, "Disable the live progress view")
	fs.BoolVar(&opts.validate, "validate", false, "Validate configuration and exit")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Parse config and show execution plan without running")
	fs.IntVar(&opts.checkEvents, "check-events", 0, "Generate N rounds of every event kind, validate them against the schema and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")

	// Output flags
	fs.StringVar(&opts.outputFormat, "output", "", "Output format: console, json, or console,json (enables JSON report)")
	fs.StringVar(&opts.outputFile, "output-file", "", "JSON output file path (overrides config, supports {{.Timestamp}})")
	fs.StringVar(&opts.prometheusAddr, "prometheus", "", "Prometheus metrics endpoint (e.g., :9090 or localhost:9090)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&opts.logFormat, "log-format", "", "Log format: console or json")

	fs.Usage = func() { printUsage(stderr) }
	return fs
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `Load Generator - Playback Telemetry Ingestion Load Testing Tool

USAGE:
    loadgen -config <path> [options]
    loadgen -host <url> [options]
    loadgen -check-events <n>

DESCRIPTION:
    Simulates many concurrent video playback sessions posting telemetry events
    (init, metadata, heartbeat, playback state changes, bitrate changes, errors,
    warnings, stopped) to a single HTTP ingestion endpoint.

    Three user classes are available:
      baseline        realistic event mix, 1-3s between actions
      high_volume     baseline plus rapid heartbeats, 0.1-0.5s between actions
      invalid_event   malformed requests that must be rejected with 400, 2-5s

CONFIGURATION:
    -config, -c <path>      Path to the YAML configuration file
                            Without it, built-in defaults are used and -host is required.

OVERRIDE OPTIONS:
    -host <url>             Target base URL
    -users, -u <n>          Number of concurrent users
    -spawn-rate, -r <n>     Users started per second
    -duration, -d <dur>     Test duration (e.g., "5m", "1h30m")
    -qps <n>                Cap total requests per second
    -class <name>           Run only one user class
    -seed <n>               Random seed for a reproducible run

UTILITY OPTIONS:
    -validate               Validate configuration and exit
    -dry-run                Show execution plan without running
    -check-events <n>       Validate generated events against the envelope schema
    -quiet                  Disable the live progress view
    -verbose, -v            Enable verbose output
    -version                Show version information
    -help, -h               Show this help message

OUTPUT OPTIONS:
    -output <format>        Output format: console, json, or console,json
    -output-file <path>     JSON output file (supports {{.Timestamp}} template)
    -prometheus <addr>      Enable Prometheus metrics endpoint (e.g., :9090)
    -log-level <level>      debug, info, warn or error
    -log-format <format>    console or json

EXIT CODES:
    0   run completed
    1   usage, configuration or runtime error
    2   failure ratio exceeded thresholds.maxFailureRatio

EXAMPLES:
    # Ten users against a local sink for one minute
    loadgen -host http://localhost:3000 -users 10 -spawn-rate 2 -duration 1m

    # Run with a configuration file and overridden duration
    loadgen -config configs/default.yaml -duration 10m

    # Stress the endpoint with high-volume users only
    loadgen -config configs/default.yaml -class high_volume -users 200 -r 20

    # Generate JSON report with custom file path
    loadgen -config configs/default.yaml -output json -output-file results/run-{{.Timestamp}}.json

    # Enable Prometheus metrics endpoint
    loadgen -config configs/default.yaml -prometheus :9090

    # Validate configuration
    loadgen -config configs/default.yaml -validate

    # Dry run to see execution plan
    loadgen -config configs/default.yaml -dry-run

    # Check 100 rounds of generated events against the schema
    loadgen -check-events 100
`)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := newFlagSet(&opts, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitError
	}

	if opts.showVersion {
		printVersion(stdout)
		return exitOK
	}

	if opts.checkEvents > 0 {
		if err := checkEvents(stdout, opts.checkEvents, opts.seed); err != nil {
			fmt.Fprintf(stderr, "Error checking events: %v\n", err)
			return exitError
		}
		return exitOK
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %v\n", err)
		return exitError
	}

	applyOverrides(cfg, &opts, stdout)

	if cfg.Target.BaseURL == "" {
		fmt.Fprintln(stderr, "Error: a target is required: set target.baseURL in -config or pass -host")
		fmt.Fprintln(stderr)
		printUsage(stderr)
		return exitError
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error validating configuration: %v\n", err)
		return exitError
	}
	if _, err := runner.BuildClassTable(cfg); err != nil {
		fmt.Fprintf(stderr, "Error validating configuration: %v\n", err)
		return exitError
	}

	if opts.validate {
		fmt.Fprintf(stdout, "Configuration '%s' is valid.\n", cfg.Name)
		printConfigSummary(stdout, cfg)
		return exitOK
	}

	if opts.dryRun {
		if err := printExecutionPlan(stdout, cfg, opts.verbose); err != nil {
			fmt.Fprintf(stderr, "Error building execution plan: %v\n", err)
			return exitError
		}
		return exitOK
	}

	result, err := runLoadTest(cfg, &opts, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "Error running load test: %v\n", err)
		return exitError
	}
	if result.ThresholdExceeded {
		fmt.Fprintf(stderr, "Failure ratio %.4f exceeded threshold %.4f\n",
			result.Snapshot.FailureRatio(), cfg.Thresholds.MaxFailureRatio)
		return exitThreshold
	}
	return exitOK
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "loadgen version %s\n", version)
	fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// loadConfig reads the configuration file, or returns defaults when path
// is empty. Validation happens after overrides are applied.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	return config.ReadFile(absPath)
}

func applyOverrides(cfg *config.Config, opts *options, w io.Writer) {
	logf := func(format string, args ...any) {
		if opts.verbose {
			fmt.Fprintf(w, "Override: "+format+"\n", args...)
		}
	}

	if opts.host != "" {
		cfg.Target.BaseURL = opts.host
		logf("host = %s", opts.host)
	}

	if opts.users > 0 {
		cfg.Users.Count = opts.users
		logf("users = %d", opts.users)
	}

	if opts.spawnRate > 0 {
		cfg.Users.SpawnRate = opts.spawnRate
		logf("spawn rate = %.1f/s", opts.spawnRate)
	}

	if opts.duration > 0 {
		cfg.Duration = opts.duration
		logf("duration = %v", opts.duration)
	}

	if opts.qps > 0 {
		cfg.RateLimiter.QPS = opts.qps
		logf("qps = %.1f", opts.qps)
	}

	if opts.class != "" {
		restrictToClass(cfg, opts.class)
		logf("class = %s", opts.class)
	}

	if opts.verbose {
		cfg.Output.Verbose = true
	}
	if opts.quiet {
		cfg.Output.Quiet = true
	}

	// Apply output format override
	if opts.outputFormat != "" {
		format := strings.ToLower(opts.outputFormat)
		if strings.Contains(format, "json") {
			cfg.Output.JSON.Enabled = true
			logf("output format = %s (JSON enabled)", opts.outputFormat)
		}
		if !strings.Contains(format, "console") {
			cfg.Output.Quiet = true
		}
	}

	// Apply output file override
	if opts.outputFile != "" {
		cfg.Output.JSON.Enabled = true
		cfg.Output.JSON.File = opts.outputFile
		logf("output file = %s", opts.outputFile)
	}

	// Apply Prometheus override
	if opts.prometheusAddr != "" {
		cfg.Output.Prometheus.Enabled = true
		if port := parsePrometheusPort(opts.prometheusAddr); port > 0 {
			cfg.Output.Prometheus.Port = port
		}
		logf("Prometheus enabled on port %d", cfg.Output.Prometheus.Port)
	}

	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
}

// restrictToClass keeps only the named class, preserving its configured
// think time if the file had one.
func restrictToClass(cfg *config.Config, name string) {
	selected := config.ClassConfig{Name: name, Weight: 1}
	for _, cc := range cfg.Classes {
		if cc.Name == name {
			selected.ThinkTime = cc.ThinkTime
			if cc.Weight > 0 {
				selected.Weight = cc.Weight
			}
		}
	}
	cfg.Classes = []config.ClassConfig{selected}
}

// parsePrometheusPort extracts port from address string.
// Supports formats: :9090, localhost:9090, 9090
// Returns 0 for invalid ports (including out of range 1-65535).
func parsePrometheusPort(addr string) int {
	addr = strings.TrimSpace(addr)

	// Handle just port number
	if !strings.Contains(addr, ":") {
		var port int
		if _, err := fmt.Sscanf(addr, "%d", &port); err == nil {
			if port > 0 && port <= 65535 {
				return port
			}
		}
		return 0
	}

	// Handle :port or host:port
	parts := strings.Split(addr, ":")
	var port int
	if _, err := fmt.Sscanf(parts[len(parts)-1], "%d", &port); err == nil {
		if port > 0 && port <= 65535 {
			return port
		}
	}
	return 0
}

func printConfigSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration Summary:")
	fmt.Fprintf(w, "  Name:        %s\n", cfg.Name)
	fmt.Fprintf(w, "  Target:      %s\n", cfg.Target.BaseURL)
	fmt.Fprintf(w, "  Duration:    %v\n", cfg.Duration)
	fmt.Fprintf(w, "  Users:       %d\n", cfg.Users.Count)
	fmt.Fprintf(w, "  Spawn Rate:  %.1f/s\n", cfg.Users.SpawnRate)
	fmt.Fprintf(w, "  Rate Limit:  %s\n", rateLimitSummary(cfg))
	fmt.Fprintf(w, "  Log Level:   %s\n", cfg.Log.Level)
}

func rateLimitSummary(cfg *config.Config) string {
	if !cfg.RateLimiter.Enabled() {
		return "none"
	}
	typ := string(cfg.RateLimiter.Type)
	if typ == "" {
		typ = "token_bucket"
	}
	return fmt.Sprintf("%.1f qps (%s)", cfg.RateLimiter.QPS, typ)
}

func printExecutionPlan(w io.Writer, cfg *config.Config, verbose bool) error {
	classes, err := runner.BuildClassTable(cfg)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "=== Execution Plan (Dry Run) ===")
	fmt.Fprintln(w)

	printConfigSummary(w, cfg)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "User Classes:")
	for _, e := range classes.Entries() {
		tt := e.Value.ThinkTime
		dist := tt.Distribution
		if dist == "" {
			dist = "uniform"
		}
		fmt.Fprintf(w, "  %-16s w:%-3d (%.1f%%)  think %v-%v %s\n",
			e.Name, e.Weight, classes.Share(e.Name)*100, tt.Min, tt.Max, dist)

		if verbose {
			behaviors := e.Value.Behaviors.Entries()
			sort.SliceStable(behaviors, func(i, j int) bool { return behaviors[i].Weight > behaviors[j].Weight })
			for _, b := range behaviors {
				fmt.Fprintf(w, "      %-20s w:%-3d (%.1f%%)\n",
					b.Name, b.Weight, e.Value.Behaviors.Share(b.Name)*100)
			}
		}
	}

	sc := session.ConfigFrom(cfg.Session)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Session:")
	fmt.Fprintf(w, "  Content Duration:  %ds\n", sc.ContentDuration)
	fmt.Fprintf(w, "  Stop Probability:  %.0f%%\n", sc.StopProbability*100)
	fmt.Fprintf(w, "  Shard Probability: %.0f%% across %d shards\n", sc.ShardProbability*100, sc.ShardCount)
	fmt.Fprintf(w, "  Heartbeat Step:    %d-%d\n", sc.HeartbeatMin, sc.HeartbeatMax)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Output:")
	fmt.Fprintf(w, "  Live View:   %v\n", !cfg.Output.Quiet)
	fmt.Fprintf(w, "  JSON Report: %v\n", cfg.Output.JSON.Enabled)
	if cfg.Output.JSON.Enabled {
		fmt.Fprintf(w, "  JSON File:   %s\n", cfg.Output.JSON.File)
	}
	fmt.Fprintf(w, "  Prometheus:  %v\n", cfg.Output.Prometheus.Enabled)
	if cfg.Thresholds.MaxFailureRatio > 0 {
		fmt.Fprintf(w, "  Max Failure Ratio: %.2f%%\n", cfg.Thresholds.MaxFailureRatio*100)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Ready to execute. Remove -dry-run flag to start the load test.")
	return nil
}

// checkEvents generates rounds of every event kind and validates them, then
// checks that the negative-testing bodies are rejected.
func checkEvents(w io.Writer, rounds int, seed uint64) error {
	v, err := schema.Default()
	if err != nil {
		return err
	}

	src := event.NewSource(seed)
	b := event.NewBuilder(src, event.DefaultOptions())

	var invalid int
	total := 0
	for i := 0; i < rounds; i++ {
		sid := event.NewSessionID(src, b.Now())
		playhead := b.SeekTarget(config.DefaultContentDuration)
		for _, e := range b.Samples(sid, playhead, config.DefaultContentDuration) {
			total++
			if err := v.ValidateValue(e); err != nil {
				invalid++
				fmt.Fprintf(w, "  invalid %s event: %v\n", e.Event, err)
			}
		}
	}
	fmt.Fprintf(w, "Generated events: %d, valid: %d, invalid: %d\n", total, total-invalid, invalid)

	negatives := []struct {
		name string
		err  error
	}{
		{"invalid JSON", v.ValidateBytes(event.InvalidJSONBody)},
		{"missing fields", v.ValidateValue(event.MissingFieldsBody())},
		{"invalid event type", v.ValidateValue(event.InvalidTypeEvent(time.Now()))},
	}
	accepted := 0
	for _, n := range negatives {
		status := "rejected"
		if n.err == nil {
			status = "ACCEPTED"
			accepted++
		}
		fmt.Fprintf(w, "Negative body %-20s %s\n", n.name+":", status)
	}

	if invalid > 0 || accepted > 0 {
		return fmt.Errorf("%d generated events invalid, %d negative bodies accepted", invalid, accepted)
	}
	return nil
}

func runLoadTest(cfg *config.Config, opts *options, stdout io.Writer) (*runner.Result, error) {
	log, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	r, err := runner.New(cfg, runner.Options{
		Version:       version,
		Out:           stdout,
		Logger:        log,
		Seed:          opts.seed,
		HandleSignals: true,
		Colors:        stdout == io.Writer(os.Stdout),
	})
	if err != nil {
		return nil, err
	}

	log.Info("starting load test",
		zap.String("name", cfg.Name),
		zap.String("target", cfg.Target.BaseURL),
		zap.String("run_id", r.RunID()),
	)
	return r.Run(context.Background())
}
