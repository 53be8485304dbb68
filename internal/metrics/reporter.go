package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JSONReport is the machine-readable result of a load test run.
type JSONReport struct {
	Metadata      ReportMetadata      `json:"metadata"`
	Configuration ReportConfiguration `json:"configuration"`
	Summary       ReportSummary       `json:"summary"`
	Behaviors     []BehaviorReport    `json:"behaviors"`
	StatusCodes   map[string]int64    `json:"statusCodes"`
	Failures      []FailureEntry      `json:"failures,omitempty"`
	Threshold     *ThresholdResult    `json:"threshold,omitempty"`
}

// ReportMetadata contains metadata about the report.
type ReportMetadata struct {
	RunID       string    `json:"runId"`
	Version     string    `json:"version"`
	GeneratedAt time.Time `json:"generatedAt"`
	Generator   string    `json:"generator"`
}

// ReportConfiguration captures the run configuration.
type ReportConfiguration struct {
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	TargetBaseURL string        `json:"targetBaseURL"`
	Duration      Duration      `json:"duration"`
	Users         int           `json:"users"`
	SpawnRate     float64       `json:"spawnRate"`
	Classes       []ClassReport `json:"classes,omitempty"`
	RateLimiter   *RateLimiter  `json:"rateLimiter,omitempty"`
}

// ClassReport describes one user class in the mix.
type ClassReport struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// RateLimiter captures the global request limiter and how much it held
// requests back.
type RateLimiter struct {
	Type     string   `json:"type"`
	QPS      float64  `json:"qps"`
	Burst    int      `json:"burst"`
	Acquired int64    `json:"acquired"`
	AvgWait  Duration `json:"avgWait"`
}

// ThresholdResult records the failure-ratio check.
type ThresholdResult struct {
	MaxFailureRatio float64 `json:"maxFailureRatio"`
	FailureRatio    float64 `json:"failureRatio"`
	Passed          bool    `json:"passed"`
}

// Duration wraps time.Duration for JSON serialization.
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler for Duration.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"seconds": d.Seconds(),
		"display": formatDuration(d.Duration),
	})
}

// UnmarshalJSON implements json.Unmarshaler for Duration.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if seconds, ok := obj["seconds"].(float64); ok {
		d.Duration = time.Duration(seconds * float64(time.Second))
	}
	return nil
}

// ReportSummary contains overall run statistics.
type ReportSummary struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Duration  Duration  `json:"duration"`

	TotalRequests   int64 `json:"totalRequests"`
	SuccessRequests int64 `json:"successRequests"`
	FailedRequests  int64 `json:"failedRequests"`
	TotalBytes      int64 `json:"totalBytes"`

	SuccessRate  float64 `json:"successRate"`
	FailureRatio float64 `json:"failureRatio"`
	QPS          float64 `json:"qps"`

	Latency LatencyStats `json:"latency"`
}

// LatencyStats contains latency statistics in milliseconds.
type LatencyStats struct {
	MinMs float64 `json:"minMs"`
	AvgMs float64 `json:"avgMs"`
	P50Ms float64 `json:"p50Ms"`
	P95Ms float64 `json:"p95Ms"`
	P99Ms float64 `json:"p99Ms"`
	MaxMs float64 `json:"maxMs"`
}

// BehaviorReport contains statistics for a single behavior.
type BehaviorReport struct {
	Name            string       `json:"name"`
	TotalRequests   int64        `json:"totalRequests"`
	SuccessRequests int64        `json:"successRequests"`
	FailedRequests  int64        `json:"failedRequests"`
	TotalBytes      int64        `json:"totalBytes"`
	SuccessRate     float64      `json:"successRate"`
	QPS             float64      `json:"qps"`
	Latency         LatencyStats `json:"latency"`
}

// Reporter generates JSON reports from test metrics.
type Reporter struct {
	version string
	now     func() time.Time
}

// NewReporter creates a new Reporter.
func NewReporter(version string) *Reporter {
	if version == "" {
		version = "dev"
	}
	return &Reporter{version: version, now: time.Now}
}

// ReportOptions carries the run configuration into the report.
type ReportOptions struct {
	RunID             string
	ConfigName        string
	ConfigDescription string
	TargetBaseURL     string
	TestDuration      time.Duration
	Users             int
	SpawnRate         float64
	Classes           []ClassReport

	// RateLimiter is set when a global request limiter was active.
	RateLimiter *RateLimiter

	// MaxFailureRatio adds a threshold section when positive.
	MaxFailureRatio float64
}

// GenerateReport creates a JSON report from a metrics snapshot.
func (r *Reporter) GenerateReport(snapshot Snapshot, opts ReportOptions) *JSONReport {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	report := &JSONReport{
		Metadata: ReportMetadata{
			RunID:       runID,
			Version:     r.version,
			GeneratedAt: r.now().UTC(),
			Generator:   "eventsink-loadgen",
		},
		Configuration: ReportConfiguration{
			Name:          opts.ConfigName,
			Description:   opts.ConfigDescription,
			TargetBaseURL: opts.TargetBaseURL,
			Duration:      Duration{opts.TestDuration},
			Users:         opts.Users,
			SpawnRate:     opts.SpawnRate,
			Classes:       opts.Classes,
		},
		Summary:     buildSummary(snapshot),
		Behaviors:   buildBehaviorReports(snapshot),
		StatusCodes: make(map[string]int64, len(snapshot.StatusCodes)),
		Failures:    snapshot.Failures,
	}

	for code, count := range snapshot.StatusCodes {
		report.StatusCodes[strconv.Itoa(code)] = count
	}

	if opts.RateLimiter != nil {
		rl := *opts.RateLimiter
		report.Configuration.RateLimiter = &rl
	}

	if opts.MaxFailureRatio > 0 {
		ratio := snapshot.FailureRatio()
		report.Threshold = &ThresholdResult{
			MaxFailureRatio: opts.MaxFailureRatio,
			FailureRatio:    ratio,
			Passed:          ratio <= opts.MaxFailureRatio,
		}
	}

	return report
}

func buildSummary(snapshot Snapshot) ReportSummary {
	return ReportSummary{
		StartTime:       snapshot.StartTime,
		EndTime:         snapshot.EndTime,
		Duration:        Duration{snapshot.Duration},
		TotalRequests:   snapshot.TotalRequests,
		SuccessRequests: snapshot.SuccessRequests,
		FailedRequests:  snapshot.FailedRequests,
		TotalBytes:      snapshot.TotalBytes,
		SuccessRate:     snapshot.SuccessRate,
		FailureRatio:    snapshot.FailureRatio(),
		QPS:             snapshot.QPS,
		Latency: latencyStats(snapshot.MinLatency, snapshot.AvgLatency, snapshot.P50Latency,
			snapshot.P95Latency, snapshot.P99Latency, snapshot.MaxLatency),
	}
}

func latencyStats(minLat, avg, p50, p95, p99, maxLat time.Duration) LatencyStats {
	ms := func(d time.Duration) float64 { return float64(d.Nanoseconds()) / 1e6 }
	return LatencyStats{
		MinMs: ms(minLat),
		AvgMs: ms(avg),
		P50Ms: ms(p50),
		P95Ms: ms(p95),
		P99Ms: ms(p99),
		MaxMs: ms(maxLat),
	}
}

// buildBehaviorReports sorts by name for stable output across runs.
func buildBehaviorReports(snapshot Snapshot) []BehaviorReport {
	names := make([]string, 0, len(snapshot.BehaviorStats))
	for name := range snapshot.BehaviorStats {
		names = append(names, name)
	}
	sort.Strings(names)

	reports := make([]BehaviorReport, 0, len(names))
	for _, name := range names {
		s := snapshot.BehaviorStats[name]
		reports = append(reports, BehaviorReport{
			Name:            name,
			TotalRequests:   s.TotalRequests,
			SuccessRequests: s.SuccessRequests,
			FailedRequests:  s.FailedRequests,
			TotalBytes:      s.TotalBytes,
			SuccessRate:     s.SuccessRate,
			QPS:             s.QPS,
			Latency: latencyStats(s.MinLatency, s.AvgLatency, s.P50Latency,
				s.P95Latency, s.P99Latency, s.MaxLatency),
		})
	}
	return reports
}

// ToJSON serializes a report to indented JSON.
func (r *Reporter) ToJSON(report *JSONReport) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

// WriteToFile writes a report and returns the path actually written.
// The path supports template variables:
//   - {{.Timestamp}} - YYYYMMDD-HHMMSS
//   - {{.Date}} - YYYY-MM-DD
//   - {{.Time}} - HHMMSS
//   - {{.RunID}} - the report's run identifier
func (r *Reporter) WriteToFile(report *JSONReport, path string) (string, error) {
	expanded := filepath.Clean(expandPathTemplate(path, r.now(), report.Metadata.RunID))

	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	data, err := r.ToJSON(report)
	if err != nil {
		return "", fmt.Errorf("marshaling report to JSON: %w", err)
	}

	if err := os.WriteFile(expanded, data, 0644); err != nil {
		return "", fmt.Errorf("writing report file: %w", err)
	}
	return expanded, nil
}

func expandPathTemplate(path string, now time.Time, runID string) string {
	return strings.NewReplacer(
		"{{.Timestamp}}", now.Format("20060102-150405"),
		"{{.Date}}", now.Format("2006-01-02"),
		"{{.Time}}", now.Format("150405"),
		"{{.RunID}}", runID,
	).Replace(path)
}
