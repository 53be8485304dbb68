// Package runner orchestrates a load test run: it spawns simulated users,
// wires them to the shared HTTP client and metrics, and produces the reports.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/eventsink/tools/loadgen/internal/client"
	"github.com/example/eventsink/tools/loadgen/internal/config"
	"github.com/example/eventsink/tools/loadgen/internal/event"
	"github.com/example/eventsink/tools/loadgen/internal/loadctrl"
	"github.com/example/eventsink/tools/loadgen/internal/metrics"
	"github.com/example/eventsink/tools/loadgen/internal/selector"
	"github.com/example/eventsink/tools/loadgen/internal/session"
	"github.com/example/eventsink/tools/loadgen/internal/user"
)

// ErrAlreadyRunning is returned when Run is called on a running Runner.
var ErrAlreadyRunning = errors.New("runner: already running")

// Options configures a Runner beyond the file configuration.
type Options struct {
	// Version is written into the JSON report.
	Version string

	// Out receives the banner, live view and final report. Default: os.Stdout
	Out io.Writer

	// Logger receives structured lifecycle logs. Default: no-op
	Logger *zap.Logger

	// Seed makes the run reproducible when non-zero.
	Seed uint64

	// HandleSignals stops the run on SIGINT or SIGTERM.
	HandleSignals bool

	// Colors enables ANSI colors in console output.
	Colors bool
}

// Result summarizes a finished run.
type Result struct {
	RunID             string
	Snapshot          metrics.Snapshot
	ReportPath        string
	Interrupted       bool
	ThresholdExceeded bool

	// SkippedBehaviors counts picks that sent nothing because their
	// precondition was not met. They are not part of Snapshot.
	SkippedBehaviors int64
}

// Runner is the main load test runner.
type Runner struct {
	cfg    *config.Config
	opts   Options
	logger *zap.Logger
	runID  string

	httpClient   *client.Client
	limiter      loadctrl.RateLimiter
	spawnLimiter *loadctrl.TokenBucketLimiter
	classes      *selector.Table[user.Class]
	sessionCfg   session.Config
	src          *rngSource

	collector *metrics.Collector
	console   *metrics.Console
	exporter  *metrics.PrometheusExporter
	reporter  *metrics.Reporter

	running     atomic.Bool
	activeUsers atomic.Int64
	spawned     atomic.Int64
	wg          sync.WaitGroup

	mu          sync.Mutex
	classCounts map[string]int
	users       []*user.User
}

// New creates a runner for a validated configuration.
func New(cfg *config.Config, opts Options) (*Runner, error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	classes, err := BuildClassTable(cfg)
	if err != nil {
		return nil, err
	}

	limiter, err := loadctrl.NewRateLimiter(cfg.RateLimiter)
	if err != nil {
		return nil, fmt.Errorf("creating rate limiter: %w", err)
	}

	httpClient, err := client.NewClient(cfg.Target, limiter)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP client: %w", err)
	}

	runID := uuid.NewString()
	r := &Runner{
		cfg:          cfg,
		opts:         opts,
		logger:       opts.Logger.With(zap.String("run_id", runID)),
		runID:        runID,
		httpClient:   httpClient,
		limiter:      limiter,
		spawnLimiter: loadctrl.NewLeakyBucketLimiter(cfg.Users.SpawnRate),
		classes:      classes,
		sessionCfg:   session.ConfigFrom(cfg.Session),
		src:          newRNGSource(opts.Seed),
		collector:    metrics.NewCollector(metrics.DefaultCollectorConfig()),
		reporter:     metrics.NewReporter(opts.Version),
		classCounts:  make(map[string]int),
	}

	consoleCfg := metrics.DefaultConsoleConfig()
	consoleCfg.Writer = opts.Out
	consoleCfg.UseColors = opts.Colors
	consoleCfg.ShowBehaviors = cfg.Output.Verbose
	consoleCfg.TotalDuration = cfg.Duration
	r.console = metrics.NewConsole(consoleCfg)

	if cfg.Output.Prometheus.Enabled {
		promCfg := metrics.DefaultPrometheusExporterConfig()
		promCfg.Port = cfg.Output.Prometheus.Port
		promCfg.Path = cfg.Output.Prometheus.Path
		r.exporter = metrics.NewPrometheusExporter(promCfg)
		r.collector.AddObserver(r.exporter)
	}

	return r, nil
}

// BuildClassTable turns the class configuration into a weighted table.
// Without configured classes every registered class gets weight 1.
func BuildClassTable(cfg *config.Config) (*selector.Table[user.Class], error) {
	classCfgs := cfg.EnabledClasses()
	if len(cfg.Classes) == 0 {
		for _, name := range user.Names() {
			classCfgs = append(classCfgs, config.ClassConfig{Name: name, Weight: 1})
		}
	}

	entries := make([]selector.Entry[user.Class], 0, len(classCfgs))
	for _, cc := range classCfgs {
		c, err := user.Lookup(cc.Name)
		if err != nil {
			return nil, err
		}
		entries = append(entries, selector.Entry[user.Class]{
			Name:   c.Name,
			Weight: cc.Weight,
			Value:  c.WithThinkTime(cc.ThinkTime),
		})
	}

	t, err := selector.NewTable(entries...)
	if err != nil {
		return nil, fmt.Errorf("building class table: %w", err)
	}
	return t, nil
}

// RunID returns the identifier of this run.
func (r *Runner) RunID() string { return r.runID }

// Collector returns the run's metrics collector.
func (r *Runner) Collector() *metrics.Collector { return r.collector }

// ActiveUsers returns the number of running users.
func (r *Runner) ActiveUsers() int64 { return r.activeUsers.Load() }

// ClassCounts returns how many users of each class were spawned.
func (r *Runner) ClassCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.classCounts))
	for k, v := range r.classCounts {
		out[k] = v
	}
	return out
}

// Run executes the load test until the configured duration elapses, ctx is
// canceled, or a signal arrives.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer r.running.Store(false)

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Duration)
	defer cancel()

	var interrupted atomic.Bool
	if r.opts.HandleSignals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		go func() {
			select {
			case sig := <-sigCh:
				r.logger.Info("received signal, stopping", zap.String("signal", sig.String()))
				interrupted.Store(true)
				cancel()
			case <-runCtx.Done():
			}
		}()
	}

	if r.exporter != nil {
		if err := r.exporter.Start(); err != nil {
			return nil, err
		}
		r.exporter.SetTargetUsers(r.cfg.Users.Count)
		r.logger.Info("prometheus exporter listening", zap.String("address", r.exporter.GetAddress()))
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := r.exporter.Stop(stopCtx); err != nil {
				r.logger.Warn("stopping prometheus exporter", zap.Error(err))
			}
		}()
	}

	r.printBanner()
	r.logger.Info("spawning users",
		zap.Int("users", r.cfg.Users.Count),
		zap.Float64("spawn_rate", r.cfg.Users.SpawnRate),
		zap.Duration("duration", r.cfg.Duration),
	)

	r.collector.Start()
	if !r.cfg.Output.Quiet {
		r.console.Start(r.collector, r.statusLine)
	}

	r.wg.Add(2)
	go r.spawnUsers(runCtx)
	go r.runProgressReporter(runCtx)

	<-runCtx.Done()
	if ctx.Err() != nil {
		interrupted.Store(true)
	}

	r.wg.Wait()
	r.collector.Stop()
	r.console.Stop()
	_ = r.httpClient.Close()
	r.logLimiterStats()

	snapshot := r.collector.Snapshot()
	r.console.PrintFinalReport(snapshot)

	result := &Result{
		RunID:            r.runID,
		Snapshot:         snapshot,
		Interrupted:      interrupted.Load(),
		SkippedBehaviors: r.skippedBehaviors(),
	}
	if limit := r.cfg.Thresholds.MaxFailureRatio; limit > 0 && snapshot.FailureRatio() > limit {
		result.ThresholdExceeded = true
	}

	r.logger.Info("test finished",
		zap.Int64("requests", snapshot.TotalRequests),
		zap.Int64("failures", snapshot.FailedRequests),
		zap.Int64("skipped", result.SkippedBehaviors),
		zap.Float64("failure_ratio", snapshot.FailureRatio()),
		zap.Bool("interrupted", result.Interrupted),
		zap.Bool("threshold_exceeded", result.ThresholdExceeded),
	)

	if r.cfg.Output.JSON.Enabled {
		path, err := r.writeReport(snapshot)
		if err != nil {
			return result, err
		}
		result.ReportPath = path
		fmt.Fprintf(r.opts.Out, "\nJSON report written to %s\n", path)
	}

	return result, nil
}

// spawnUsers starts users one at a time at the configured spawn rate.
func (r *Runner) spawnUsers(ctx context.Context) {
	defer r.wg.Done()

	for i := 0; i < r.cfg.Users.Count; i++ {
		if err := r.spawnLimiter.Acquire(ctx); err != nil {
			return
		}

		class := r.classes.Pick(r.src).Value
		u := r.newUser(class, i)

		r.mu.Lock()
		r.classCounts[u.ClassName()]++
		r.users = append(r.users, u)
		r.mu.Unlock()

		r.spawned.Add(1)
		r.addActiveUsers(1)

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer r.addActiveUsers(-1)
			u.Run(ctx)
		}()
	}

	r.logger.Info("all users spawned", zap.Any("classes", r.ClassCounts()))
}

// addActiveUsers adjusts the active user count and the exported gauge.
func (r *Runner) addActiveUsers(delta int64) {
	n := r.activeUsers.Add(delta)
	if r.exporter != nil {
		r.exporter.SetActiveUsers(int(n))
	}
}

func (r *Runner) skippedBehaviors() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int64
	for _, u := range r.users {
		_, skipped, _ := u.Stats()
		total += skipped
	}
	return total
}

func (r *Runner) logLimiterStats() {
	spawn := r.spawnLimiter.Stats()
	r.logger.Info("spawn limiter",
		zap.Int64("acquired", spawn.TotalAcquired),
		zap.Duration("avg_wait", spawn.AvgWaitTime),
	)
	if r.limiter == nil {
		return
	}
	stats := r.limiter.Stats()
	r.logger.Info("request limiter",
		zap.Float64("qps", stats.QPS),
		zap.Int64("acquired", stats.TotalAcquired),
		zap.Duration("avg_wait", stats.AvgWaitTime),
	)
}

func (r *Runner) newUser(class user.Class, index int) *user.User {
	var seed uint64
	if r.opts.Seed != 0 {
		seed = r.opts.Seed + uint64(index) + 1
	}
	src := event.NewSource(seed)
	sim := session.New(r.httpClient, r.collector, src, r.sessionCfg, r.logger)
	return user.New(class, sim, src, r.logger)
}

// runProgressReporter logs progress and refreshes exporter gauges.
func (r *Runner) runProgressReporter(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Output.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := r.collector.Snapshot()
			if r.exporter != nil {
				r.exporter.SetActiveUsers(int(r.activeUsers.Load()))
				r.exporter.UpdateFromSnapshot(snapshot)
			}
			r.logger.Info("progress",
				zap.Int64("users", r.activeUsers.Load()),
				zap.Int64("requests", snapshot.TotalRequests),
				zap.Int64("failures", snapshot.FailedRequests),
				zap.Float64("rps", snapshot.QPS),
				zap.Duration("p95", snapshot.P95Latency),
			)
		}
	}
}

func (r *Runner) statusLine() string {
	return fmt.Sprintf("%d/%d running (spawned %d)",
		r.activeUsers.Load(), r.cfg.Users.Count, r.spawned.Load())
}

func (r *Runner) writeReport(snapshot metrics.Snapshot) (string, error) {
	entries := r.classes.Entries()
	classes := make([]metrics.ClassReport, 0, len(entries))
	for _, e := range entries {
		classes = append(classes, metrics.ClassReport{Name: e.Name, Weight: e.Weight})
	}

	report := r.reporter.GenerateReport(snapshot, metrics.ReportOptions{
		RunID:             r.runID,
		ConfigName:        r.cfg.Name,
		ConfigDescription: r.cfg.Description,
		TargetBaseURL:     r.cfg.Target.BaseURL,
		TestDuration:      r.cfg.Duration,
		Users:             r.cfg.Users.Count,
		SpawnRate:         r.cfg.Users.SpawnRate,
		Classes:           classes,
		RateLimiter:       r.limiterReport(),
		MaxFailureRatio:   r.cfg.Thresholds.MaxFailureRatio,
	})

	path, err := r.reporter.WriteToFile(report, r.cfg.Output.JSON.File)
	if err != nil {
		return "", fmt.Errorf("writing JSON report: %w", err)
	}
	r.logger.Info("json report written", zap.String("path", path))
	return path, nil
}

func (r *Runner) limiterReport() *metrics.RateLimiter {
	if r.limiter == nil {
		return nil
	}
	typ := r.cfg.RateLimiter.Type
	if typ == "" {
		typ = loadctrl.RateLimiterTokenBucket
	}
	stats := r.limiter.Stats()
	return &metrics.RateLimiter{
		Type:     string(typ),
		QPS:      stats.QPS,
		Burst:    stats.Burst,
		Acquired: stats.TotalAcquired,
		AvgWait:  metrics.Duration{Duration: stats.AvgWaitTime},
	}
}

// printBanner prints the test banner.
func (r *Runner) printBanner() {
	w := r.opts.Out
	fmt.Fprintln(w, "╔════════════════════════════════════════════════════════════╗")
	fmt.Fprintf(w, "║  Load Generator: %-42s ║\n", truncate(r.cfg.Name, 42))
	fmt.Fprintln(w, "╠════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Target:    %-48s ║\n", truncate(r.cfg.Target.BaseURL, 48))
	fmt.Fprintf(w, "║  Duration:  %-48s ║\n", r.cfg.Duration)
	fmt.Fprintf(w, "║  Users:     %-48s ║\n",
		fmt.Sprintf("%d @ %.1f/s", r.cfg.Users.Count, r.cfg.Users.SpawnRate))
	fmt.Fprintf(w, "║  Classes:   %-48s ║\n", truncate(classSummary(r.classes), 48))
	fmt.Fprintln(w, "╚════════════════════════════════════════════════════════════╝")
}

func classSummary(t *selector.Table[user.Class]) string {
	entries := t.Entries()
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Weight > entries[j].Weight })
	s := ""
	for i, e := range entries {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s %.0f%%", e.Name, t.Share(e.Name)*100)
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
