// Package metrics aggregates request outcomes and renders them as a live
// console view, a final report, a JSON file and Prometheus metrics.
package metrics

import (
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates load test results.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type Collector struct {
	mu sync.RWMutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64

	// Latency samples in nanoseconds, kept as a sliding window.
	latencies    []int64
	latencyMu    sync.RWMutex
	maxLatencies int

	behaviorStats   map[string]*BehaviorStats
	behaviorStatsMu sync.RWMutex

	statusCodes   map[int]int64
	statusCodesMu sync.RWMutex

	failures   map[failureKey]*FailureEntry
	failuresMu sync.Mutex

	// Observers are notified of every recorded result (e.g. the Prometheus exporter).
	observers []Observer

	startTime time.Time
	endTime   time.Time

	config CollectorConfig
}

// Observer receives every result recorded by a Collector.
type Observer interface {
	Observe(Result)
}

// CollectorConfig holds configuration for the metrics collector.
type CollectorConfig struct {
	// MaxLatencies is the number of latency samples retained for
	// percentile calculations. Default: 100000.
	MaxLatencies int
}

const (
	defaultMaxLatencies         = 100000
	defaultBehaviorMaxLatencies = 10000
)

// DefaultCollectorConfig returns default configuration.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{MaxLatencies: defaultMaxLatencies}
}

// Result is the outcome of one executed behavior.
type Result struct {
	// Name identifies the behavior, e.g. "POST heartbeat".
	Name         string
	Method       string
	Path         string
	StatusCode   int // 0 when no response was received
	Latency      time.Duration
	Success      bool
	ResponseSize int64
	Timestamp    time.Time
	// Failure is the human-readable failure message; empty on success.
	Failure string
}

// BehaviorStats holds running statistics for one behavior name.
type BehaviorStats struct {
	mu sync.RWMutex

	Name            string
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	TotalLatencyNs  int64
	MinLatency      time.Duration
	MaxLatency      time.Duration
	TotalBytes      int64
	latencies       []int64
}

type failureKey struct {
	name    string
	message string
}

// FailureEntry counts identical failures of one behavior.
type FailureEntry struct {
	Name       string    `json:"name"`
	Message    string    `json:"message"`
	Count      int64     `json:"count"`
	FirstSeen  time.Time `json:"firstSeen"`
	LastSeen   time.Time `json:"lastSeen"`
	LastStatus int       `json:"lastStatus"`
}

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	TotalBytes      int64

	MinLatency time.Duration
	AvgLatency time.Duration
	P50Latency time.Duration
	P95Latency time.Duration
	P99Latency time.Duration
	MaxLatency time.Duration

	SuccessRate float64 // 0.0 - 100.0 percentage
	QPS         float64

	StatusCodes map[int]int64

	BehaviorStats map[string]*BehaviorSnapshot

	// Failures is sorted by descending count.
	Failures []FailureEntry
}

// FailureRatio returns failed / total in [0, 1].
func (s Snapshot) FailureRatio() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.FailedRequests) / float64(s.TotalRequests)
}

// BehaviorSnapshot is a point-in-time view of one behavior.
type BehaviorSnapshot struct {
	Name            string
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	TotalBytes      int64
	MinLatency      time.Duration
	AvgLatency      time.Duration
	P50Latency      time.Duration
	P95Latency      time.Duration
	P99Latency      time.Duration
	MaxLatency      time.Duration
	SuccessRate     float64
	QPS             float64
}

// NewCollector creates a new metrics collector.
func NewCollector(config CollectorConfig) *Collector {
	if config.MaxLatencies <= 0 {
		config.MaxLatencies = defaultMaxLatencies
	}

	return &Collector{
		latencies:     make([]int64, 0, min(config.MaxLatencies, 4096)),
		maxLatencies:  config.MaxLatencies,
		behaviorStats: make(map[string]*BehaviorStats),
		statusCodes:   make(map[int]int64),
		failures:      make(map[failureKey]*FailureEntry),
		config:        config,
	}
}

// AddObserver registers o to receive every subsequent result.
// It must be called before recording starts.
func (c *Collector) AddObserver(o Observer) {
	c.observers = append(c.observers, o)
}

// Start marks the beginning of metrics collection.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()
}

// Stop marks the end of metrics collection.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endTime = time.Now()
}

// Record records a behavior result.
func (c *Collector) Record(result Result) {
	c.totalRequests.Add(1)
	if result.Success {
		c.successRequests.Add(1)
	} else {
		c.failedRequests.Add(1)
		c.recordFailure(result)
	}
	c.totalBytes.Add(result.ResponseSize)

	c.recordLatency(result.Latency.Nanoseconds())

	if result.StatusCode > 0 {
		c.recordStatusCode(result.StatusCode)
	}

	if result.Name != "" {
		c.recordBehaviorResult(result)
	}

	for _, o := range c.observers {
		o.Observe(result)
	}
}

// recordLatency keeps the most recent half of the window once it is full.
func (c *Collector) recordLatency(latencyNs int64) {
	c.latencyMu.Lock()
	defer c.latencyMu.Unlock()

	if len(c.latencies) >= c.maxLatencies {
		half := c.maxLatencies / 2
		c.latencies = c.latencies[len(c.latencies)-half:]
	}
	c.latencies = append(c.latencies, latencyNs)
}

func (c *Collector) recordStatusCode(code int) {
	c.statusCodesMu.Lock()
	defer c.statusCodesMu.Unlock()
	c.statusCodes[code]++
}

func (c *Collector) recordFailure(result Result) {
	ts := result.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	key := failureKey{name: result.Name, message: result.Failure}

	c.failuresMu.Lock()
	defer c.failuresMu.Unlock()

	entry, ok := c.failures[key]
	if !ok {
		entry = &FailureEntry{Name: result.Name, Message: result.Failure, FirstSeen: ts}
		c.failures[key] = entry
	}
	entry.Count++
	entry.LastSeen = ts
	entry.LastStatus = result.StatusCode
}

func (c *Collector) recordBehaviorResult(result Result) {
	c.behaviorStatsMu.Lock()
	stats, ok := c.behaviorStats[result.Name]
	if !ok {
		stats = &BehaviorStats{
			Name:      result.Name,
			latencies: make([]int64, 0, 256),
		}
		c.behaviorStats[result.Name] = stats
	}
	c.behaviorStatsMu.Unlock()

	stats.mu.Lock()
	defer stats.mu.Unlock()

	stats.TotalRequests++
	if result.Success {
		stats.SuccessRequests++
	} else {
		stats.FailedRequests++
	}

	latencyNs := result.Latency.Nanoseconds()
	stats.TotalLatencyNs += latencyNs
	stats.TotalBytes += result.ResponseSize

	if stats.MinLatency == 0 || result.Latency < stats.MinLatency {
		stats.MinLatency = result.Latency
	}
	if result.Latency > stats.MaxLatency {
		stats.MaxLatency = result.Latency
	}

	if len(stats.latencies) >= defaultBehaviorMaxLatencies {
		half := defaultBehaviorMaxLatencies / 2
		stats.latencies = stats.latencies[len(stats.latencies)-half:]
	}
	stats.latencies = append(stats.latencies, latencyNs)
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	startTime := c.startTime
	endTime := c.endTime
	c.mu.RUnlock()

	duration := elapsed(startTime, endTime)

	totalRequests := c.totalRequests.Load()
	successRequests := c.successRequests.Load()

	minLat, avgLat, p50Lat, p95Lat, p99Lat, maxLat := c.calculateLatencyStats()

	var successRate float64
	if totalRequests > 0 {
		successRate = float64(successRequests) / float64(totalRequests) * 100
	}

	var qps float64
	if duration > 0 {
		qps = float64(totalRequests) / duration.Seconds()
	}

	return Snapshot{
		StartTime:       startTime,
		EndTime:         endTime,
		Duration:        duration,
		TotalRequests:   totalRequests,
		SuccessRequests: successRequests,
		FailedRequests:  c.failedRequests.Load(),
		TotalBytes:      c.totalBytes.Load(),
		MinLatency:      minLat,
		AvgLatency:      avgLat,
		P50Latency:      p50Lat,
		P95Latency:      p95Lat,
		P99Latency:      p99Lat,
		MaxLatency:      maxLat,
		SuccessRate:     successRate,
		QPS:             qps,
		StatusCodes:     c.copyStatusCodes(),
		BehaviorStats:   c.copyBehaviorStats(duration),
		Failures:        c.copyFailures(),
	}
}

func elapsed(start, end time.Time) time.Duration {
	if start.IsZero() {
		return 0
	}
	if end.IsZero() {
		return time.Since(start)
	}
	return end.Sub(start)
}

func (c *Collector) calculateLatencyStats() (minLat, avg, p50, p95, p99, maxLat time.Duration) {
	c.latencyMu.RLock()
	sorted := slices.Clone(c.latencies)
	c.latencyMu.RUnlock()

	if len(sorted) == 0 {
		return 0, 0, 0, 0, 0, 0
	}
	slices.Sort(sorted)

	var sum int64
	for _, lat := range sorted {
		sum += lat
	}

	n := len(sorted)
	minLat = time.Duration(sorted[0])
	maxLat = time.Duration(sorted[n-1])
	avg = time.Duration(sum / int64(n))
	p50 = time.Duration(sorted[percentileIndex(n, 0.50)])
	p95 = time.Duration(sorted[percentileIndex(n, 0.95)])
	p99 = time.Duration(sorted[percentileIndex(n, 0.99)])

	return minLat, avg, p50, p95, p99, maxLat
}

// percentileIndex returns the index for a given percentile.
func percentileIndex(n int, percentile float64) int {
	idx := int(float64(n) * percentile)
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func (c *Collector) copyStatusCodes() map[int]int64 {
	c.statusCodesMu.RLock()
	defer c.statusCodesMu.RUnlock()
	return maps.Clone(c.statusCodes)
}

func (c *Collector) copyBehaviorStats(totalDuration time.Duration) map[string]*BehaviorSnapshot {
	c.behaviorStatsMu.RLock()
	defer c.behaviorStatsMu.RUnlock()

	result := make(map[string]*BehaviorSnapshot, len(c.behaviorStats))
	for name, stats := range c.behaviorStats {
		result[name] = stats.snapshot(totalDuration)
	}
	return result
}

func (c *Collector) copyFailures() []FailureEntry {
	c.failuresMu.Lock()
	out := make([]FailureEntry, 0, len(c.failures))
	for _, f := range c.failures {
		out = append(out, *f)
	}
	c.failuresMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Message < out[j].Message
	})
	return out
}

func (s *BehaviorStats) snapshot(totalDuration time.Duration) *BehaviorSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &BehaviorSnapshot{
		Name:            s.Name,
		TotalRequests:   s.TotalRequests,
		SuccessRequests: s.SuccessRequests,
		FailedRequests:  s.FailedRequests,
		TotalBytes:      s.TotalBytes,
		MinLatency:      s.MinLatency,
		MaxLatency:      s.MaxLatency,
	}

	if s.TotalRequests > 0 {
		snap.AvgLatency = time.Duration(s.TotalLatencyNs / s.TotalRequests)
		snap.SuccessRate = float64(s.SuccessRequests) / float64(s.TotalRequests) * 100
	}
	if totalDuration > 0 {
		snap.QPS = float64(s.TotalRequests) / totalDuration.Seconds()
	}

	if len(s.latencies) > 0 {
		sorted := slices.Clone(s.latencies)
		slices.Sort(sorted)
		n := len(sorted)
		snap.P50Latency = time.Duration(sorted[percentileIndex(n, 0.50)])
		snap.P95Latency = time.Duration(sorted[percentileIndex(n, 0.95)])
		snap.P99Latency = time.Duration(sorted[percentileIndex(n, 0.99)])
	}

	return snap
}
