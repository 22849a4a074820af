package metrics

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "webhook-dispatch"

// OTelExporter provides OpenTelemetry metrics export following OTel standards
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	collector     Collector
	gatherer      promclient.Gatherer

	// OTel meters and instruments
	meter             metric.Meter
	queueLengthGauge  metric.Int64ObservableGauge
	statusCountGauge  metric.Int64ObservableGauge
	attemptsCounter   metric.Int64ObservableCounter
	throughputGauge   metric.Int64ObservableGauge
	openCircuitsGauge metric.Int64ObservableGauge
	activeDispatchers metric.Int64ObservableGauge
}

type ExporterOption func(*exporterOptions)

type exporterOptions struct {
	registry *promclient.Registry
}

// WithRegistry exports into reg instead of the default prometheus registry
func WithRegistry(reg *promclient.Registry) ExporterOption {
	return func(o *exporterOptions) { o.registry = reg }
}

// NewOTelExporter creates a new OpenTelemetry metrics exporter with Prometheus format
func NewOTelExporter(collector Collector, opts ...ExporterOption) (*OTelExporter, error) {
	var o exporterOptions
	for _, opt := range opts {
		opt(&o)
	}

	var promOpts []prometheus.Option
	var gatherer promclient.Gatherer = promclient.DefaultGatherer
	if o.registry != nil {
		promOpts = append(promOpts, prometheus.WithRegisterer(o.registry))
		gatherer = o.registry
	}

	exporter, err := prometheus.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	// Only the process-wide exporter owns the global provider
	if o.registry == nil {
		otel.SetMeterProvider(meterProvider)
	}

	meter := meterProvider.Meter(
		meterName,
		metric.WithInstrumentationVersion("1.0.0"),
	)

	oe := &OTelExporter{
		meterProvider: meterProvider,
		collector:     collector,
		gatherer:      gatherer,
		meter:         meter,
	}

	if err := oe.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return oe, nil
}

// registerInstruments creates and registers all OpenTelemetry metric instruments
func (oe *OTelExporter) registerInstruments() error {
	var err error

	oe.queueLengthGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.queue.length",
		metric.WithDescription("Number of deliveries waiting for an attempt"),
		metric.WithUnit("{webhooks}"),
		metric.WithInt64Callback(oe.observeQueueLength),
	)
	if err != nil {
		return fmt.Errorf("creating queue length gauge: %w", err)
	}

	oe.statusCountGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.status.count",
		metric.WithDescription("Number of deliveries by status"),
		metric.WithUnit("{webhooks}"),
		metric.WithInt64Callback(oe.observeStatusCounts),
	)
	if err != nil {
		return fmt.Errorf("creating status count gauge: %w", err)
	}

	oe.attemptsCounter, err = oe.meter.Int64ObservableCounter(
		"webhook.attempts",
		metric.WithDescription("HTTP attempts made, split into first tries and retries"),
		metric.WithUnit("{attempts}"),
		metric.WithInt64Callback(oe.observeAttempts),
	)
	if err != nil {
		return fmt.Errorf("creating attempts counter: %w", err)
	}

	oe.throughputGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.throughput",
		metric.WithDescription("Number of webhooks delivered over time window"),
		metric.WithUnit("{webhooks}"),
		metric.WithInt64Callback(oe.observeThroughput),
	)
	if err != nil {
		return fmt.Errorf("creating throughput gauge: %w", err)
	}

	oe.openCircuitsGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.circuits.open",
		metric.WithDescription("Number of destinations whose circuit breaker is not closed"),
		metric.WithUnit("{circuits}"),
		metric.WithInt64Callback(oe.observeOpenCircuits),
	)
	if err != nil {
		return fmt.Errorf("creating open circuits gauge: %w", err)
	}

	oe.activeDispatchers, err = oe.meter.Int64ObservableGauge(
		"webhook.dispatchers.active",
		metric.WithDescription("Number of dispatcher instances with a live heartbeat"),
		metric.WithUnit("{dispatchers}"),
		metric.WithInt64Callback(oe.observeActiveDispatchers),
	)
	if err != nil {
		return fmt.Errorf("creating active dispatchers gauge: %w", err)
	}

	return nil
}

func (oe *OTelExporter) observeQueueLength(ctx context.Context, observer metric.Int64Observer) error {
	length, err := oe.collector.GetQueueLength(ctx)
	if err != nil {
		return err
	}
	observer.Observe(length)
	return nil
}

// observeStatusCounts is a callback that reports webhook counts by status
func (oe *OTelExporter) observeStatusCounts(ctx context.Context, observer metric.Int64Observer) error {
	statusCounts, err := oe.collector.GetStatusCounts(ctx)
	if err != nil {
		return err
	}

	for status, count := range statusCounts {
		observer.Observe(count, metric.WithAttributes(
			attribute.String("webhook.status", status),
		))
	}

	return nil
}

func (oe *OTelExporter) observeAttempts(ctx context.Context, observer metric.Int64Observer) error {
	attempts, err := oe.collector.GetAttempts(ctx)
	if err != nil {
		return err
	}

	observer.Observe(attempts.Total-attempts.Retries, metric.WithAttributes(
		attribute.String("attempt.kind", "first"),
	))
	observer.Observe(attempts.Retries, metric.WithAttributes(
		attribute.String("attempt.kind", "retry"),
	))
	return nil
}

// observeThroughput is a callback that reports throughput metrics
func (oe *OTelExporter) observeThroughput(ctx context.Context, observer metric.Int64Observer) error {
	throughput, err := oe.collector.GetThroughput(ctx)
	if err != nil {
		return err
	}

	observer.Observe(throughput.LastMinute, metric.WithAttributes(
		attribute.String("time.window", "1m"),
	))
	observer.Observe(throughput.LastFiveMinutes, metric.WithAttributes(
		attribute.String("time.window", "5m"),
	))
	observer.Observe(throughput.LastFifteenMinutes, metric.WithAttributes(
		attribute.String("time.window", "15m"),
	))

	return nil
}

func (oe *OTelExporter) observeOpenCircuits(ctx context.Context, observer metric.Int64Observer) error {
	open, err := oe.collector.GetOpenCircuits(ctx)
	if err != nil {
		return err
	}
	observer.Observe(open)
	return nil
}

func (oe *OTelExporter) observeActiveDispatchers(ctx context.Context, observer metric.Int64Observer) error {
	dispatchers, err := oe.collector.GetActiveDispatchers(ctx)
	if err != nil {
		return err
	}
	observer.Observe(int64(len(dispatchers)))
	return nil
}

// ServeHTTP returns the handler serving Prometheus-formatted metrics
func (oe *OTelExporter) ServeHTTP() http.Handler {
	return promhttp.HandlerFor(oe.gatherer, promhttp.HandlerOpts{})
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}
