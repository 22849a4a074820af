package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/marcelsud/webhook-dispatch/metrics"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/dispatch"
	"github.com/marcelsud/webhook-dispatch/webhook/mocks"
	"github.com/marcelsud/webhook-dispatch/webhook/redis"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeDispatcher struct {
	pending  int
	open     int
	counters dispatch.Counters
}

func (f fakeDispatcher) Len() int                    { return f.pending }
func (f fakeDispatcher) OpenCount() int              { return f.open }
func (f fakeDispatcher) Counters() dispatch.Counters { return f.counters }

type fakeHeartbeats struct {
	beats []redis.DispatcherHeartbeat
	err   error
}

func (f fakeHeartbeats) ActiveDispatchers(context.Context) ([]redis.DispatcherHeartbeat, error) {
	return f.beats, f.err
}

func delivered(createdAgo, deliveredAgo time.Duration) webhook.Delivery {
	at := now.Add(-deliveredAgo)
	return webhook.Delivery{
		Status:      webhook.Delivered,
		CreatedAt:   now.Add(-createdAgo),
		DeliveredAt: &at,
	}
}

func TestDeliveryCollector(t *testing.T) {
	ctx := context.Background()
	source := fakeDispatcher{
		pending: 3,
		open:    1,
		counters: dispatch.Counters{
			Attempts:    10,
			Retries:     4,
			Delivered:   5,
			Failed:      2,
			CircuitOpen: 1,
		},
	}

	t.Run("success - collects all metrics", func(t *testing.T) {
		store := mocks.NewStore(t)
		store.On("ListSince", ctx, now.Add(-15*time.Minute)).Return([]webhook.Delivery{
			delivered(30*time.Second, 20*time.Second),
			delivered(4*time.Minute, 3*time.Minute),
			delivered(14*time.Minute, 10*time.Minute),
			{Status: webhook.Failed, CreatedAt: now.Add(-time.Minute)},
		}, nil)

		heartbeats := fakeHeartbeats{beats: []redis.DispatcherHeartbeat{
			{InstanceID: "api-1", Status: "idle", Pending: 3, LastHeartbeat: now},
		}}
		collector := metrics.NewDeliveryCollector(source, store, heartbeats, webhook.NewFakeClock(now))

		m, err := collector.Collect(ctx)
		require.NoError(t, err)

		assert.Equal(t, int64(3), m.QueueLength)
		assert.Equal(t, map[string]int64{
			"pending":      3,
			"delivered":    5,
			"failed":       2,
			"circuit_open": 1,
		}, m.StatusCounts)
		assert.Equal(t, metrics.AttemptMetrics{Total: 10, Retries: 4}, m.Attempts)
		assert.Equal(t, metrics.ThroughputMetrics{
			LastMinute:         1,
			LastFiveMinutes:    2,
			LastFifteenMinutes: 3,
		}, m.Throughput)
		assert.Equal(t, int64(1), m.OpenCircuits)
		require.Len(t, m.Dispatchers, 1)
		assert.Equal(t, "api-1", m.Dispatchers[0].InstanceID)
		assert.Equal(t, now, m.Timestamp)
	})

	t.Run("success - no heartbeat source", func(t *testing.T) {
		collector := metrics.NewDeliveryCollector(source, mocks.NewStore(t), nil, webhook.NewFakeClock(now))

		dispatchers, err := collector.GetActiveDispatchers(ctx)
		require.NoError(t, err)
		assert.Empty(t, dispatchers)
	})

	t.Run("success - throughput falls back to creation time", func(t *testing.T) {
		store := mocks.NewStore(t)
		store.On("ListSince", ctx, mock.Anything).Return([]webhook.Delivery{
			{Status: webhook.Delivered, CreatedAt: now.Add(-2 * time.Minute)},
		}, nil)
		collector := metrics.NewDeliveryCollector(source, store, nil, webhook.NewFakeClock(now))

		throughput, err := collector.GetThroughput(ctx)
		require.NoError(t, err)
		assert.Equal(t, metrics.ThroughputMetrics{LastFiveMinutes: 1, LastFifteenMinutes: 1}, throughput)
	})

	t.Run("error - store failure", func(t *testing.T) {
		store := mocks.NewStore(t)
		store.On("ListSince", ctx, mock.Anything).Return(nil, errors.New("connection refused"))
		collector := metrics.NewDeliveryCollector(source, store, nil, webhook.NewFakeClock(now))

		_, err := collector.Collect(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "getting throughput")
	})

	t.Run("error - heartbeat failure", func(t *testing.T) {
		store := mocks.NewStore(t)
		store.On("ListSince", ctx, mock.Anything).Return([]webhook.Delivery{}, nil)
		heartbeats := fakeHeartbeats{err: errors.New("timeout")}
		collector := metrics.NewDeliveryCollector(source, store, heartbeats, webhook.NewFakeClock(now))

		_, err := collector.Collect(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "getting active dispatchers")
	})
}
