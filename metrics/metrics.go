package metrics

import (
	"context"
	"time"
)

// Metrics represents the current state of the delivery engine.
type Metrics struct {
	// QueueLength is the number of deliveries waiting for an attempt, retries included
	QueueLength int64 `json:"queue_length"`

	// StatusCounts maps status name to count of deliveries in that status.
	// pending is live; the others are cumulative since start.
	StatusCounts map[string]int64 `json:"status_counts"`

	// Attempts counts HTTP attempts and scheduled retries since start
	Attempts AttemptMetrics `json:"attempts"`

	// Throughput represents deliveries completed per time window
	Throughput ThroughputMetrics `json:"throughput"`

	// OpenCircuits is the number of destinations whose breaker is not closed
	OpenCircuits int64 `json:"open_circuits"`

	// Dispatchers lists instances that reported a heartbeat recently
	Dispatchers []DispatcherInfo `json:"dispatchers"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// AttemptMetrics are cumulative counters
type AttemptMetrics struct {
	Total   int64 `json:"total"`
	Retries int64 `json:"retries"`
}

// ThroughputMetrics represents deliveries completed over different time windows.
type ThroughputMetrics struct {
	// LastMinute is deliveries completed in the last 1 minute
	LastMinute int64 `json:"last_minute"`

	// LastFiveMinutes is deliveries completed in the last 5 minutes
	LastFiveMinutes int64 `json:"last_five_minutes"`

	// LastFifteenMinutes is deliveries completed in the last 15 minutes
	LastFifteenMinutes int64 `json:"last_fifteen_minutes"`
}

// DispatcherInfo represents information about a running dispatcher.
type DispatcherInfo struct {
	InstanceID    string    `json:"instance_id"`
	Status        string    `json:"status"`
	Pending       int       `json:"pending"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Collector defines the interface for collecting metrics from the delivery engine.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetQueueLength returns the number of queued deliveries
	GetQueueLength(ctx context.Context) (int64, error)

	// GetStatusCounts returns the count of deliveries by status
	GetStatusCounts(ctx context.Context) (map[string]int64, error)

	// GetAttempts returns cumulative attempt counters
	GetAttempts(ctx context.Context) (AttemptMetrics, error)

	// GetThroughput returns deliveries completed over time windows
	GetThroughput(ctx context.Context) (ThroughputMetrics, error)

	// GetOpenCircuits returns the number of breakers not closed
	GetOpenCircuits(ctx context.Context) (int64, error)

	// GetActiveDispatchers returns dispatchers with a recent heartbeat
	GetActiveDispatchers(ctx context.Context) ([]DispatcherInfo, error)
}
