package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	heartbeatPrefix = "dispatcher:heartbeat"
	HeartbeatTTL    = 60 * time.Second
)

// DispatcherHeartbeat is the liveness record of one dispatcher process
type DispatcherHeartbeat struct {
	InstanceID    string    `json:"instance_id"`
	Status        string    `json:"status"` // "idle", "processing"
	Pending       int       `json:"pending"`
	OpenCircuits  int       `json:"open_circuits"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// SetHeartbeat stores or refreshes an instance heartbeat. The key expires
// after HeartbeatTTL, so an instance that stops reporting disappears.
func (r *Repository) SetHeartbeat(ctx context.Context, hb DispatcherHeartbeat) error {
	key := fmt.Sprintf("%s:%s", heartbeatPrefix, hb.InstanceID)

	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshaling heartbeat: %w", err)
	}

	if err := r.client.Set(ctx, key, data, HeartbeatTTL).Err(); err != nil {
		return fmt.Errorf("setting heartbeat: %w", err)
	}

	return nil
}

// ActiveDispatchers lists instances that reported within HeartbeatTTL
func (r *Repository) ActiveDispatchers(ctx context.Context) ([]DispatcherHeartbeat, error) {
	pattern := heartbeatPrefix + ":*"
	heartbeats := []DispatcherHeartbeat{}

	var cursor uint64
	for {
		keys, nextCursor, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning heartbeat keys: %w", err)
		}

		for _, key := range keys {
			data, err := r.client.Get(ctx, key).Result()
			if err == redis.Nil {
				// Key expired between scan and get
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("getting heartbeat: %w", err)
			}

			var hb DispatcherHeartbeat
			if err := json.Unmarshal([]byte(data), &hb); err != nil {
				continue
			}
			heartbeats = append(heartbeats, hb)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return heartbeats, nil
}

// DispatcherState is the live dispatcher data a heartbeat reports
type DispatcherState interface {
	Len() int
	OpenCount() int
}

// RunHeartbeat reports state every interval until ctx is done. The first
// heartbeat is sent immediately.
func (r *Repository) RunHeartbeat(ctx context.Context, instanceID string, state DispatcherState, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.SetHeartbeat(ctx, snapshot(instanceID, state, time.Now())); err != nil && ctx.Err() == nil {
			r.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("heartbeat failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func snapshot(instanceID string, state DispatcherState, now time.Time) DispatcherHeartbeat {
	status := "idle"
	pending := state.Len()
	if pending > 0 {
		status = "processing"
	}
	return DispatcherHeartbeat{
		InstanceID:    instanceID,
		Status:        status,
		Pending:       pending,
		OpenCircuits:  state.OpenCount(),
		LastHeartbeat: now,
	}
}
