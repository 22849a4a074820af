package webhook

import (
	"fmt"
	"math"
	"time"
)

// TimeRange selects the reporting window of Stats
type TimeRange string

const (
	RangeHour  TimeRange = "hour"
	RangeDay   TimeRange = "day"
	RangeWeek  TimeRange = "week"
	RangeMonth TimeRange = "month"
)

// Duration returns the length of the window
func (r TimeRange) Duration() (time.Duration, error) {
	switch r {
	case RangeHour:
		return time.Hour, nil
	case RangeDay:
		return 24 * time.Hour, nil
	case RangeWeek:
		return 7 * 24 * time.Hour, nil
	case RangeMonth:
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeRange, string(r))
	}
}

// Stats summarizes delivery outcomes
type Stats struct {
	Range                 TimeRange
	Since                 time.Time
	TotalDeliveries       int
	SuccessRate           float64 // percent of deliveries that reached Delivered
	AverageResponseTime   time.Duration
	FailedDeliveries      int // Failed and CircuitOpen
	ActiveCircuitBreakers int
}

// Aggregate computes delivery counters. Circuit breaker counts are live
// state and are filled in by the caller.
func Aggregate(deliveries []Delivery) Stats {
	var (
		stats      Stats
		delivered  int
		responded  int
		totalRTime time.Duration
	)

	for _, d := range deliveries {
		stats.TotalDeliveries++
		switch d.Status {
		case Delivered:
			delivered++
		case Failed, CircuitOpen:
			stats.FailedDeliveries++
		}
		if d.StatusCode != 0 {
			responded++
			totalRTime += d.ResponseTime
		}
	}

	if stats.TotalDeliveries > 0 {
		rate := float64(delivered) / float64(stats.TotalDeliveries) * 100
		stats.SuccessRate = math.Round(rate*100) / 100
	}
	if responded > 0 {
		stats.AverageResponseTime = totalRTime / time.Duration(responded)
	}
	return stats
}
