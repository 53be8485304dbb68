package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() Snapshot {
	c := NewCollector(DefaultCollectorConfig())
	c.Start()
	for range 9 {
		c.Record(Result{Name: "POST heartbeat", Success: true, StatusCode: 200, Latency: 20 * time.Millisecond, ResponseSize: 15})
	}
	c.Record(Result{Name: "POST init", StatusCode: 503, Latency: 80 * time.Millisecond, Failure: "Init failed: 503"})
	c.Stop()
	return c.Snapshot()
}

func TestNewReporter(t *testing.T) {
	assert.Equal(t, "dev", NewReporter("").version)
	assert.Equal(t, "1.2.3", NewReporter("1.2.3").version)
}

func TestReporter_GenerateReport(t *testing.T) {
	r := NewReporter("1.0.0")

	report := r.GenerateReport(testSnapshot(), ReportOptions{
		ConfigName:    "smoke",
		TargetBaseURL: "http://localhost:3000",
		TestDuration:  time.Minute,
		Users:         50,
		SpawnRate:     5,
		Classes:       []ClassReport{{Name: "baseline", Weight: 10}},
		RateLimiter: &RateLimiter{
			Type:     "token_bucket",
			QPS:      200,
			Burst:    20,
			Acquired: 10,
			AvgWait:  Duration{15 * time.Millisecond},
		},
		MaxFailureRatio: 0.05,
	})

	_, err := uuid.Parse(report.Metadata.RunID)
	assert.NoError(t, err)
	assert.Equal(t, "1.0.0", report.Metadata.Version)
	assert.Equal(t, "eventsink-loadgen", report.Metadata.Generator)

	assert.Equal(t, "smoke", report.Configuration.Name)
	assert.Equal(t, 50, report.Configuration.Users)
	require.NotNil(t, report.Configuration.RateLimiter)
	assert.Equal(t, 200.0, report.Configuration.RateLimiter.QPS)
	assert.Equal(t, int64(10), report.Configuration.RateLimiter.Acquired)
	assert.Equal(t, 15*time.Millisecond, report.Configuration.RateLimiter.AvgWait.Duration)

	assert.Equal(t, int64(10), report.Summary.TotalRequests)
	assert.InDelta(t, 0.1, report.Summary.FailureRatio, 1e-9)
	assert.Equal(t, int64(9), report.StatusCodes["200"])
	assert.Equal(t, int64(1), report.StatusCodes["503"])

	require.Len(t, report.Behaviors, 2)
	assert.Equal(t, "POST heartbeat", report.Behaviors[0].Name)
	assert.Equal(t, "POST init", report.Behaviors[1].Name)
	assert.InDelta(t, 20.0, report.Behaviors[0].Latency.AvgMs, 0.001)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "Init failed: 503", report.Failures[0].Message)

	require.NotNil(t, report.Threshold)
	assert.False(t, report.Threshold.Passed)
}

func TestReporter_GenerateReport_Optional(t *testing.T) {
	report := NewReporter("").GenerateReport(Snapshot{}, ReportOptions{RunID: "run-1"})

	assert.Equal(t, "run-1", report.Metadata.RunID)
	assert.Nil(t, report.Configuration.RateLimiter)
	assert.Nil(t, report.Threshold)
	assert.Empty(t, report.Behaviors)
}

func TestReporter_WriteToFile(t *testing.T) {
	r := NewReporter("1.0.0")
	r.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC) }

	report := r.GenerateReport(testSnapshot(), ReportOptions{RunID: "abc", TestDuration: 90 * time.Second})
	dir := t.TempDir()

	path, err := r.WriteToFile(report, filepath.Join(dir, "reports", "run-{{.Timestamp}}-{{.RunID}}.json"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "reports", "run-20240309-140506-abc.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded JSONReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, int64(10), decoded.Summary.TotalRequests)
	assert.Equal(t, 90*time.Second, decoded.Configuration.Duration.Duration)
	assert.True(t, strings.Contains(string(data), `"display": "1m30s"`))
}

func TestExpandPathTemplate(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		in, want string
	}{
		{"report.json", "report.json"},
		{"r-{{.Date}}.json", "r-2024-01-02.json"},
		{"r-{{.Time}}.json", "r-030405.json"},
		{"{{.RunID}}/{{.Timestamp}}.json", "id/20240102-030405.json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expandPathTemplate(tt.in, now, "id"))
	}
}
