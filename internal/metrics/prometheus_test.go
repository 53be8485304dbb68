package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(t *testing.T, families []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestDefaultPrometheusExporterConfig(t *testing.T) {
	cfg := DefaultPrometheusExporterConfig()
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/metrics", cfg.Path)
	assert.Equal(t, "loadgen", cfg.Namespace)
	assert.Equal(t, prometheus.DefBuckets, cfg.HistogramBuckets)
}

func TestPrometheusExporter_Observe(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{})

	e.Observe(Result{Name: "POST heartbeat", StatusCode: 200, Success: true, Latency: 20 * time.Millisecond, ResponseSize: 15})
	e.Observe(Result{Name: "POST heartbeat", StatusCode: 200, Success: true, Latency: 30 * time.Millisecond, ResponseSize: 15})
	e.Observe(Result{Name: "POST init", StatusCode: 500, Latency: 10 * time.Millisecond, Failure: "Init failed: 500"})
	e.SetActiveUsers(4)
	e.SetTargetUsers(10)
	e.UpdateFromSnapshot(Snapshot{QPS: 12.5, SuccessRate: 66.6})

	families, err := e.Gather()
	require.NoError(t, err)

	requests := findFamily(t, families, MetricRequestsTotal)
	require.Len(t, requests.GetMetric(), 2)
	for _, m := range requests.GetMetric() {
		switch labelValue(m, "behavior") {
		case "POST heartbeat":
			assert.Equal(t, "200", labelValue(m, "status"))
			assert.Equal(t, "true", labelValue(m, "success"))
			assert.Equal(t, 2.0, m.GetCounter().GetValue())
		case "POST init":
			assert.Equal(t, "false", labelValue(m, "success"))
		default:
			t.Errorf("unexpected behavior label %q", labelValue(m, "behavior"))
		}
	}

	failures := findFamily(t, families, MetricFailuresTotal)
	require.Len(t, failures.GetMetric(), 1)
	assert.Equal(t, 1.0, failures.GetMetric()[0].GetCounter().GetValue())

	hist := findFamily(t, families, MetricRequestDurationSeconds)
	assert.Len(t, hist.GetMetric(), 2)

	bytesTotal := findFamily(t, families, MetricResponseBytesTotal)
	assert.Equal(t, 30.0, bytesTotal.GetMetric()[0].GetCounter().GetValue())

	assert.Equal(t, 4.0, findFamily(t, families, MetricActiveUsers).GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 10.0, findFamily(t, families, MetricTargetUsers).GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 12.5, findFamily(t, families, MetricCurrentRPS).GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 66.6, findFamily(t, families, MetricSuccessRate).GetMetric()[0].GetGauge().GetValue())
}

func TestPrometheusExporter_AsObserver(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{})
	c := NewCollector(DefaultCollectorConfig())
	c.AddObserver(e)

	c.Record(Result{Name: "OPTIONS /", StatusCode: 200, Success: true})

	families, err := e.Gather()
	require.NoError(t, err)
	assert.Equal(t, 1.0, findFamily(t, families, MetricRequestsTotal).GetMetric()[0].GetCounter().GetValue())
}

func TestPrometheusExporter_Handler(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{Path: "/custom"})
	e.Observe(Result{Name: "POST metadata", StatusCode: 200, Success: true})

	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/custom")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `loadgen_requests_total{behavior="POST metadata",status="200",success="true"} 1`)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPrometheusExporter_StartStop(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{Port: 19090 + int(time.Now().UnixNano()%1000)})

	require.NoError(t, e.Start())
	assert.True(t, e.IsRunning())
	require.NoError(t, e.Start())

	resp, err := http.Get(e.GetAddress())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))
	assert.False(t, e.IsRunning())
	assert.NoError(t, e.LastError())
	require.NoError(t, e.Stop(ctx))
}

func TestPrometheusExporter_Namespace(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{Namespace: "sink"})
	e.Observe(Result{Name: "x", StatusCode: 200, Success: true})

	families, err := e.Gather()
	require.NoError(t, err)
	findFamily(t, families, "sink_requests_total")
}
