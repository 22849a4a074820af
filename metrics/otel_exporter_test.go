package metrics_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelsud/webhook-dispatch/metrics"
)

type staticCollector struct {
	m metrics.Metrics
}

func (c staticCollector) Collect(context.Context) (metrics.Metrics, error) { return c.m, nil }

func (c staticCollector) GetQueueLength(context.Context) (int64, error) {
	return c.m.QueueLength, nil
}

func (c staticCollector) GetStatusCounts(context.Context) (map[string]int64, error) {
	return c.m.StatusCounts, nil
}

func (c staticCollector) GetAttempts(context.Context) (metrics.AttemptMetrics, error) {
	return c.m.Attempts, nil
}

func (c staticCollector) GetThroughput(context.Context) (metrics.ThroughputMetrics, error) {
	return c.m.Throughput, nil
}

func (c staticCollector) GetOpenCircuits(context.Context) (int64, error) {
	return c.m.OpenCircuits, nil
}

func (c staticCollector) GetActiveDispatchers(context.Context) ([]metrics.DispatcherInfo, error) {
	return c.m.Dispatchers, nil
}

func TestOTelExporter(t *testing.T) {
	collector := staticCollector{m: metrics.Metrics{
		QueueLength:  7,
		StatusCounts: map[string]int64{"pending": 7, "delivered": 12},
		Attempts:     metrics.AttemptMetrics{Total: 20, Retries: 8},
		Throughput:   metrics.ThroughputMetrics{LastMinute: 1, LastFiveMinutes: 4, LastFifteenMinutes: 9},
		OpenCircuits: 2,
		Dispatchers:  []metrics.DispatcherInfo{{InstanceID: "api-1"}},
	}}

	exporter, err := metrics.NewOTelExporter(collector, metrics.WithRegistry(promclient.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = exporter.Shutdown(context.Background()) })

	server := httptest.NewServer(exporter.ServeHTTP())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "webhook_queue_length")
	assert.Contains(t, text, "webhook_status_count")
	assert.Contains(t, text, `webhook_status="delivered"`)
	assert.Contains(t, text, "webhook_attempts")
	assert.Contains(t, text, `attempt_kind="retry"`)
	assert.Contains(t, text, `time_window="15m"`)
	assert.Contains(t, text, "webhook_circuits_open")
	assert.Contains(t, text, "webhook_dispatchers_active")
}
