package metrics

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Console renders live progress and the final report to a terminal.
//
// Thread Safety: Safe for concurrent use.
type Console struct {
	mu sync.Mutex

	writer   io.Writer
	config   ConsoleConfig
	lastLine int

	isRunning bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// ConsoleConfig holds configuration for console output.
type ConsoleConfig struct {
	// Writer is the output destination. Default: os.Stdout
	Writer io.Writer

	// RefreshInterval is how often to update the display. Default: 500ms
	RefreshInterval time.Duration

	// ShowBehaviors adds the per-behavior table to live output.
	ShowBehaviors bool

	// MaxBehaviors limits how many behaviors the live view lists. Default: 10
	MaxBehaviors int

	// MaxFailures limits the rows of the final failure table. Default: 20
	MaxFailures int

	// ProgressBarWidth is the width of the progress bar. Default: 50
	ProgressBarWidth int

	// UseColors enables ANSI color codes.
	UseColors bool

	// TotalDuration is the planned run length. Zero shows elapsed time only.
	TotalDuration time.Duration
}

// DefaultConsoleConfig returns default configuration.
func DefaultConsoleConfig() ConsoleConfig {
	return ConsoleConfig{
		Writer:           os.Stdout,
		RefreshInterval:  500 * time.Millisecond,
		ShowBehaviors:    true,
		MaxBehaviors:     10,
		MaxFailures:      20,
		ProgressBarWidth: 50,
		UseColors:        true,
	}
}

// ANSI color codes.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// NewConsole creates a new console output handler.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = 500 * time.Millisecond
	}
	if config.MaxBehaviors <= 0 {
		config.MaxBehaviors = 10
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = 20
	}
	if config.ProgressBarWidth <= 0 {
		config.ProgressBarWidth = 50
	}

	return &Console{
		writer: config.Writer,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (c *Console) color(code string) string {
	if c.config.UseColors {
		return code
	}
	return ""
}

// Start begins periodic redraws. status, if set, supplies an extra line
// such as the number of running users.
func (c *Console) Start(collector *Collector, status func() string) {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	go c.updateLoop(collector, status)
}

// Stop stops the console updates and waits for the last redraw.
func (c *Console) Stop() {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = false
	close(c.stopCh)
	c.mu.Unlock()

	<-c.doneCh
}

func (c *Console) updateLoop(collector *Collector, status func() string) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.update(collector, status)
		}
	}
}

func (c *Console) update(collector *Collector, status func() string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := collector.Snapshot()
	c.clearPreviousOutput()

	lines := []string{
		fmt.Sprintf("%s[%s]%s Load Test Progress",
			c.color(colorDim), time.Now().Format("15:04:05"), c.color(colorReset)),
		c.formatProgressBar(snapshot.Duration),
	}
	if status != nil {
		lines = append(lines, fmt.Sprintf("  Users: %s%s%s",
			c.color(colorCyan), status(), c.color(colorReset)))
	}
	lines = append(lines,
		c.formatMainStats(snapshot),
		c.formatLatencyStats(snapshot),
		c.formatStatusCodes(snapshot),
	)

	if c.config.ShowBehaviors && len(snapshot.BehaviorStats) > 0 {
		lines = append(lines, "")
		lines = append(lines, c.formatBehaviorStats(snapshot.BehaviorStats)...)
	}

	fmt.Fprint(c.writer, strings.Join(lines, "\n")+"\n")
	c.lastLine = len(lines)
}

func (c *Console) clearPreviousOutput() {
	for range c.lastLine {
		fmt.Fprint(c.writer, "\033[A\033[K")
	}
}

func (c *Console) formatProgressBar(elapsed time.Duration) string {
	if c.config.TotalDuration <= 0 {
		return fmt.Sprintf("  %sRunning...%s %s",
			c.color(colorCyan), c.color(colorReset), formatDuration(elapsed))
	}

	width := c.config.ProgressBarWidth
	progress := min(float64(elapsed)/float64(c.config.TotalDuration), 1)
	filled := int(progress * float64(width))

	bar := c.color(colorGreen) + strings.Repeat("█", filled) +
		c.color(colorDim) + strings.Repeat("░", width-filled) + c.color(colorReset)

	return fmt.Sprintf("  [%s] %.1f%% (%s / %s)",
		bar, progress*100, formatDuration(elapsed), formatDuration(c.config.TotalDuration))
}

func (c *Console) formatMainStats(snapshot Snapshot) string {
	return fmt.Sprintf("  Requests: %s%d%s | RPS: %s%.1f%s | Failures: %s%d%s (%.1f%%)",
		c.color(colorBold), snapshot.TotalRequests, c.color(colorReset),
		c.color(colorBlue), snapshot.QPS, c.color(colorReset),
		c.color(colorRed), snapshot.FailedRequests, c.color(colorReset),
		snapshot.FailureRatio()*100)
}

func (c *Console) formatLatencyStats(snapshot Snapshot) string {
	return fmt.Sprintf("  Latency: min=%s avg=%s p50=%s p95=%s p99=%s max=%s",
		formatLatency(snapshot.MinLatency),
		formatLatency(snapshot.AvgLatency),
		formatLatency(snapshot.P50Latency),
		c.color(colorYellow)+formatLatency(snapshot.P95Latency)+c.color(colorReset),
		c.color(colorRed)+formatLatency(snapshot.P99Latency)+c.color(colorReset),
		formatLatency(snapshot.MaxLatency))
}

func (c *Console) formatStatusCodes(snapshot Snapshot) string {
	if len(snapshot.StatusCodes) == 0 {
		return "  Status: (no responses yet)"
	}

	codes := sortedCodes(snapshot.StatusCodes)
	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		parts = append(parts, fmt.Sprintf("%s%d%s:%d",
			c.statusCodeColor(code), code, c.color(colorReset), snapshot.StatusCodes[code]))
	}
	return "  Status: " + strings.Join(parts, " ")
}

func (c *Console) formatBehaviorStats(stats map[string]*BehaviorSnapshot) []string {
	lines := []string{
		fmt.Sprintf("  %sBehaviors:%s", c.color(colorBold), c.color(colorReset)),
	}

	entries := sortedBehaviors(stats)
	shown := min(c.config.MaxBehaviors, len(entries))

	for _, s := range entries[:shown] {
		lines = append(lines, fmt.Sprintf("    %-30s reqs=%5d fails=%4d p95=%s",
			truncate(s.Name, 30), s.TotalRequests, s.FailedRequests, formatLatency(s.P95Latency)))
	}

	if len(entries) > shown {
		lines = append(lines, fmt.Sprintf("    %s... and %d more%s",
			c.color(colorDim), len(entries)-shown, c.color(colorReset)))
	}
	return lines
}

// PrintFinalReport prints the end-of-run summary: totals, latency
// percentiles, status codes, the per-behavior table and the failure table.
func (c *Console) PrintFinalReport(snapshot Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearPreviousOutput()
	c.lastLine = 0

	w := c.writer

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s╔══════════════════════════════════════════════════════════════╗%s\n",
		c.color(colorBold), c.color(colorReset))
	fmt.Fprintf(w, "%s║               LOAD TEST FINAL REPORT                         ║%s\n",
		c.color(colorBold), c.color(colorReset))
	fmt.Fprintf(w, "%s╚══════════════════════════════════════════════════════════════╝%s\n",
		c.color(colorBold), c.color(colorReset))
	fmt.Fprintln(w)

	c.section("Test Duration")
	if !snapshot.StartTime.IsZero() {
		fmt.Fprintf(w, "  Start Time:     %s\n", snapshot.StartTime.Format("2006-01-02 15:04:05"))
	}
	if !snapshot.EndTime.IsZero() {
		fmt.Fprintf(w, "  End Time:       %s\n", snapshot.EndTime.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "  Duration:       %s\n", formatDuration(snapshot.Duration))
	fmt.Fprintln(w)

	c.section("Request Statistics")
	fmt.Fprintf(w, "  Total Requests:    %s%d%s\n",
		c.color(colorBold), snapshot.TotalRequests, c.color(colorReset))
	fmt.Fprintf(w, "  Successful:        %s%d%s\n",
		c.color(colorGreen), snapshot.SuccessRequests, c.color(colorReset))
	fmt.Fprintf(w, "  Failed:            %s%d%s\n",
		c.color(colorRed), snapshot.FailedRequests, c.color(colorReset))
	fmt.Fprintf(w, "  Success Rate:      %s%.2f%%%s\n",
		c.successRateColor(snapshot.SuccessRate), snapshot.SuccessRate, c.color(colorReset))
	fmt.Fprintf(w, "  Throughput:        %s%.2f req/s%s\n",
		c.color(colorBlue), snapshot.QPS, c.color(colorReset))
	fmt.Fprintf(w, "  Data Received:     %s\n", formatBytes(snapshot.TotalBytes))
	fmt.Fprintln(w)

	c.section("Latency Distribution")
	fmt.Fprintf(w, "  Min:    %12s\n", formatLatency(snapshot.MinLatency))
	fmt.Fprintf(w, "  Avg:    %12s\n", formatLatency(snapshot.AvgLatency))
	fmt.Fprintf(w, "  P50:    %12s\n", formatLatency(snapshot.P50Latency))
	fmt.Fprintf(w, "  P95:    %12s\n", formatLatency(snapshot.P95Latency))
	fmt.Fprintf(w, "  P99:    %12s\n", formatLatency(snapshot.P99Latency))
	fmt.Fprintf(w, "  Max:    %12s\n", formatLatency(snapshot.MaxLatency))
	fmt.Fprintln(w)

	if len(snapshot.StatusCodes) > 0 {
		c.section("Status Code Distribution")
		for _, code := range sortedCodes(snapshot.StatusCodes) {
			count := snapshot.StatusCodes[code]
			pct := float64(count) / float64(snapshot.TotalRequests) * 100
			color := c.statusCodeColor(code)
			barWidth := max(int(pct/2), 1)

			fmt.Fprintf(w, "  %s%d%s: %6d (%5.1f%%) %s%s%s\n",
				color, code, c.color(colorReset),
				count, pct,
				color, strings.Repeat("█", barWidth), c.color(colorReset))
		}
		fmt.Fprintln(w)
	}

	if len(snapshot.BehaviorStats) > 0 {
		c.section("Per-Behavior Statistics")
		fmt.Fprintf(w, "  %-32s %8s %8s %8s %10s %10s\n",
			"Behavior", "Requests", "Failures", "RPS", "P95", "Avg")
		fmt.Fprintf(w, "  %s%s%s\n",
			c.color(colorDim), strings.Repeat("─", 82), c.color(colorReset))

		for _, s := range sortedBehaviors(snapshot.BehaviorStats) {
			fmt.Fprintf(w, "  %-32s %8d %8d %8.2f %10s %10s\n",
				truncate(s.Name, 32),
				s.TotalRequests,
				s.FailedRequests,
				s.QPS,
				formatLatency(s.P95Latency),
				formatLatency(s.AvgLatency))
		}
		fmt.Fprintln(w)
	}

	if len(snapshot.Failures) > 0 {
		c.section("Failures")
		fmt.Fprintf(w, "  %8s  %-28s %s\n", "Count", "Behavior", "Message")
		shown := min(len(snapshot.Failures), c.config.MaxFailures)
		for _, f := range snapshot.Failures[:shown] {
			fmt.Fprintf(w, "  %s%8d%s  %-28s %s\n",
				c.color(colorRed), f.Count, c.color(colorReset),
				truncate(f.Name, 28), f.Message)
		}
		if len(snapshot.Failures) > shown {
			fmt.Fprintf(w, "  %s... and %d more%s\n",
				c.color(colorDim), len(snapshot.Failures)-shown, c.color(colorReset))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "%s══════════════════════════════════════════════════════════════%s\n",
		c.color(colorDim), c.color(colorReset))
	fmt.Fprintln(w)
}

func (c *Console) section(title string) {
	fill := max(60-len(title)-4, 3)
	fmt.Fprintf(c.writer, "%s── %s %s%s\n",
		c.color(colorCyan), title, strings.Repeat("─", fill), c.color(colorReset))
}

// Success rate thresholds for color coding.
const (
	successRateExcellent = 99.0
	successRateGood      = 95.0
)

func (c *Console) successRateColor(rate float64) string {
	switch {
	case rate >= successRateExcellent:
		return c.color(colorGreen)
	case rate >= successRateGood:
		return c.color(colorYellow)
	default:
		return c.color(colorRed)
	}
}

func (c *Console) statusCodeColor(code int) string {
	switch {
	case code >= 200 && code < 300:
		return c.color(colorGreen)
	case code >= 300 && code < 400:
		return c.color(colorBlue)
	case code >= 400 && code < 500:
		return c.color(colorYellow)
	default:
		return c.color(colorRed)
	}
}

func sortedCodes(m map[int]int64) []int {
	codes := make([]int, 0, len(m))
	for code := range m {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// sortedBehaviors orders by request count, then name.
func sortedBehaviors(m map[string]*BehaviorSnapshot) []*BehaviorSnapshot {
	out := make([]*BehaviorSnapshot, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalRequests != out[j].TotalRequests {
			return out[i].TotalRequests > out[j].TotalRequests
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// formatLatency formats a duration for display.
func formatLatency(d time.Duration) string {
	if d == 0 {
		return "0ms"
	}
	if d < time.Microsecond {
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%.2fµs", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// formatBytes formats a byte count for display.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
