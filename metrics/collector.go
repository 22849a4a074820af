package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/dispatch"
	"github.com/marcelsud/webhook-dispatch/webhook/redis"
)

// DispatcherSource is the live state of the delivery loop
type DispatcherSource interface {
	Len() int
	OpenCount() int
	Counters() dispatch.Counters
}

// HeartbeatSource lists running dispatcher instances
type HeartbeatSource interface {
	ActiveDispatchers(ctx context.Context) ([]redis.DispatcherHeartbeat, error)
}

// DeliveryCollector implements Collector from the dispatcher and the delivery store
type DeliveryCollector struct {
	dispatcher DispatcherSource
	store      webhook.Reader
	heartbeats HeartbeatSource
	clock      webhook.Clock
}

// NewDeliveryCollector creates a collector. heartbeats may be nil when the
// store has no heartbeat support.
func NewDeliveryCollector(dispatcher DispatcherSource, store webhook.Reader, heartbeats HeartbeatSource, clock webhook.Clock) *DeliveryCollector {
	if clock == nil {
		clock = webhook.SystemClock{}
	}
	return &DeliveryCollector{
		dispatcher: dispatcher,
		store:      store,
		heartbeats: heartbeats,
		clock:      clock,
	}
}

// Collect gathers all metrics
func (c *DeliveryCollector) Collect(ctx context.Context) (Metrics, error) {
	queueLength, err := c.GetQueueLength(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting queue length: %w", err)
	}

	statusCounts, err := c.GetStatusCounts(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting status counts: %w", err)
	}

	attempts, err := c.GetAttempts(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting attempts: %w", err)
	}

	throughput, err := c.GetThroughput(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting throughput: %w", err)
	}

	openCircuits, err := c.GetOpenCircuits(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting open circuits: %w", err)
	}

	dispatchers, err := c.GetActiveDispatchers(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting active dispatchers: %w", err)
	}

	return Metrics{
		QueueLength:  queueLength,
		StatusCounts: statusCounts,
		Attempts:     attempts,
		Throughput:   throughput,
		OpenCircuits: openCircuits,
		Dispatchers:  dispatchers,
		Timestamp:    c.clock.Now(),
	}, nil
}

func (c *DeliveryCollector) GetQueueLength(_ context.Context) (int64, error) {
	return int64(c.dispatcher.Len()), nil
}

// GetStatusCounts returns counts of deliveries grouped by status
func (c *DeliveryCollector) GetStatusCounts(_ context.Context) (map[string]int64, error) {
	counters := c.dispatcher.Counters()
	return map[string]int64{
		webhook.Pending.String():     int64(c.dispatcher.Len()),
		webhook.Delivered.String():   counters.Delivered,
		webhook.Failed.String():      counters.Failed,
		webhook.CircuitOpen.String(): counters.CircuitOpen,
	}, nil
}

func (c *DeliveryCollector) GetAttempts(_ context.Context) (AttemptMetrics, error) {
	counters := c.dispatcher.Counters()
	return AttemptMetrics{Total: counters.Attempts, Retries: counters.Retries}, nil
}

// GetThroughput counts deliveries that reached delivered within each window
func (c *DeliveryCollector) GetThroughput(ctx context.Context) (ThroughputMetrics, error) {
	now := c.clock.Now()
	oneMinuteAgo := now.Add(-1 * time.Minute)
	fiveMinutesAgo := now.Add(-5 * time.Minute)
	fifteenMinutesAgo := now.Add(-15 * time.Minute)

	deliveries, err := c.store.ListSince(ctx, fifteenMinutesAgo)
	if err != nil {
		return ThroughputMetrics{}, fmt.Errorf("listing deliveries: %w", err)
	}

	var throughput ThroughputMetrics
	for _, d := range deliveries {
		if d.Status != webhook.Delivered {
			continue
		}
		at := d.CreatedAt
		if d.DeliveredAt != nil {
			at = *d.DeliveredAt
		}

		if !at.Before(fifteenMinutesAgo) {
			throughput.LastFifteenMinutes++
			if !at.Before(fiveMinutesAgo) {
				throughput.LastFiveMinutes++
				if !at.Before(oneMinuteAgo) {
					throughput.LastMinute++
				}
			}
		}
	}

	return throughput, nil
}

func (c *DeliveryCollector) GetOpenCircuits(_ context.Context) (int64, error) {
	return int64(c.dispatcher.OpenCount()), nil
}

// GetActiveDispatchers returns instances with a live heartbeat
func (c *DeliveryCollector) GetActiveDispatchers(ctx context.Context) ([]DispatcherInfo, error) {
	if c.heartbeats == nil {
		return []DispatcherInfo{}, nil
	}

	heartbeats, err := c.heartbeats.ActiveDispatchers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing heartbeats: %w", err)
	}

	dispatchers := make([]DispatcherInfo, 0, len(heartbeats))
	for _, hb := range heartbeats {
		dispatchers = append(dispatchers, DispatcherInfo{
			InstanceID:    hb.InstanceID,
			Status:        hb.Status,
			Pending:       hb.Pending,
			LastHeartbeat: hb.LastHeartbeat,
		})
	}
	return dispatchers, nil
}
