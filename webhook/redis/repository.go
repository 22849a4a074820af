package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
)

/* Redis implementation of webhook.Store and webhook.Auditor
 * Uses Redis Hashes for finished deliveries, expired by status
 * Uses a Sorted Set scored by creation time as the listing index
 * Uses a Redis Stream as the audit log
 */

const (
	hashPrefix  = "webhook:delivery"    // Hash naming: webhook:delivery:{delivery_id}
	indexKey    = "webhooks:deliveries" // Sorted set of delivery ids, score = created_at in ms
	auditStream = "webhooks:audit"      // Stream of created deliveries
	auditMaxLen = 10000

	DefaultDeliveredTTL = 7 * 24 * time.Hour
	DefaultFailedTTL    = 30 * 24 * time.Hour
)

type Repository struct {
	client       *redis.Client
	deliveredTTL time.Duration
	failedTTL    time.Duration
	logger       zerolog.Logger
}

// Option configures a Repository
type Option func(*Repository)

// WithTTL sets how long delivered and failed records are kept
func WithTTL(delivered, failed time.Duration) Option {
	return func(r *Repository) {
		if delivered > 0 {
			r.deliveredTTL = delivered
		}
		if failed > 0 {
			r.failedTTL = failed
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// NewRepository creates a new Redis repository
func NewRepository(addr, password string, db int, opts ...Option) (*Repository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return NewRepositoryWithClient(client, opts...), nil
}

// NewRepositoryWithClient wraps an existing client
func NewRepositoryWithClient(client *redis.Client, opts ...Option) *Repository {
	r := &Repository{
		client:       client,
		deliveredTTL: DefaultDeliveredTTL,
		failedTTL:    DefaultFailedTTL,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SaveResult stores a finished delivery and indexes it by creation time
func (r *Repository) SaveResult(ctx context.Context, d webhook.Delivery) error {
	fields, err := encode(d)
	if err != nil {
		return err
	}

	key := hashKey(d.ID)
	ttl := r.ttlFor(d.Status)

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, ttl)
		pipe.ZAdd(ctx, indexKey, redis.Z{
			Score:  float64(d.CreatedAt.UnixMilli()),
			Member: d.ID,
		})
		// Index entries older than the longest TTL point at expired hashes
		cutoff := time.Now().Add(-max(r.deliveredTTL, r.failedTTL)).UnixMilli()
		pipe.ZRemRangeByScore(ctx, indexKey, "-inf", "("+strconv.FormatInt(cutoff, 10))
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing delivery: %w", err)
	}

	return nil
}

// ListSince returns deliveries created at or after since, oldest first
func (r *Repository) ListSince(ctx context.Context, since time.Time) ([]webhook.Delivery, error) {
	ids, err := r.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("listing delivery ids: %w", err)
	}

	return r.load(ctx, ids)
}

// ListRecent returns up to limit deliveries, newest first
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]webhook.Delivery, error) {
	if limit <= 0 {
		return []webhook.Delivery{}, nil
	}

	ids, err := r.client.ZRevRange(ctx, indexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing recent delivery ids: %w", err)
	}

	return r.load(ctx, ids)
}

// DeliveryCreated appends the delivery to the audit stream. Failures are
// logged only.
func (r *Repository) DeliveryCreated(ctx context.Context, d webhook.Delivery) {
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: auditStream,
		MaxLen: auditMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"delivery_id":    d.ID,
			"event":          d.Event,
			"url":            webhook.MaskURL(d.WebhookURL),
			"user_id":        d.UserID,
			"source_user_id": d.SourceUserID,
			"status":         d.Status.String(),
			"created_at":     d.CreatedAt.UnixMilli(),
		},
	}).Err()
	if err != nil {
		r.logger.Error().Err(err).Str("delivery_id", d.ID).Msg("appending audit entry")
	}
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Close()
}

// GetClient returns the underlying Redis client for advanced operations
func (r *Repository) GetClient() *redis.Client {
	return r.client
}

// load fetches hashes in one round trip, skipping expired ones
func (r *Repository) load(ctx context.Context, ids []string) ([]webhook.Delivery, error) {
	if len(ids) == 0 {
		return []webhook.Delivery{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, hashKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading deliveries: %w", err)
	}

	deliveries := make([]webhook.Delivery, 0, len(ids))
	for i, cmd := range cmds {
		data := cmd.Val()
		if len(data) == 0 {
			continue
		}
		d, err := decode(data)
		if err != nil {
			r.logger.Warn().Err(err).Str("delivery_id", ids[i]).Msg("skipping unreadable delivery")
			continue
		}
		deliveries = append(deliveries, d)
	}

	return deliveries, nil
}

func (r *Repository) ttlFor(status webhook.Status) time.Duration {
	if status == webhook.Delivered {
		return r.deliveredTTL
	}
	return r.failedTTL
}

// Helper functions

func hashKey(id string) string {
	return fmt.Sprintf("%s:%s", hashPrefix, id)
}

func encode(d webhook.Delivery) (map[string]interface{}, error) {
	body, err := d.Payload.Bytes()
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	headersJSON, err := json.Marshal(d.Headers)
	if err != nil {
		return nil, fmt.Errorf("marshaling headers: %w", err)
	}

	var deliveredAt int64
	if d.DeliveredAt != nil {
		deliveredAt = d.DeliveredAt.UnixMilli()
	}

	return map[string]interface{}{
		"id":             d.ID,
		"url":            d.WebhookURL,
		"event":          d.Event,
		"payload":        string(body),
		"headers":        string(headersJSON),
		"attempt":        d.Attempt,
		"max_retries":    d.MaxRetries,
		"status":         d.Status.String(),
		"status_code":    d.StatusCode,
		"response_time":  d.ResponseTime.Milliseconds(),
		"error_message":  d.ErrorMessage,
		"delivered_at":   deliveredAt,
		"created_at":     d.CreatedAt.UnixMilli(),
		"user_id":        d.UserID,
		"source_user_id": d.SourceUserID,
	}, nil
}

func decode(data map[string]string) (webhook.Delivery, error) {
	var p payload.Payload
	if raw := data["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return webhook.Delivery{}, fmt.Errorf("unmarshaling payload: %w", err)
		}
	}

	headers := make(map[string]string)
	if raw := data["headers"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &headers); err != nil {
			return webhook.Delivery{}, fmt.Errorf("unmarshaling headers: %w", err)
		}
	}

	d := webhook.Delivery{
		ID:           data["id"],
		WebhookURL:   data["url"],
		Event:        data["event"],
		Payload:      p,
		Headers:      headers,
		Attempt:      int(parseInt64(data["attempt"])),
		MaxRetries:   int(parseInt64(data["max_retries"])),
		StatusCode:   int(parseInt64(data["status_code"])),
		ResponseTime: time.Duration(parseInt64(data["response_time"])) * time.Millisecond,
		ErrorMessage: data["error_message"],
		CreatedAt:    time.UnixMilli(parseInt64(data["created_at"])).UTC(),
		UserID:       data["user_id"],
		SourceUserID: data["source_user_id"],
	}
	status, err := webhook.ParseStatus(data["status"])
	if err != nil {
		return webhook.Delivery{}, err
	}
	d.Status = status

	if ms := parseInt64(data["delivered_at"]); ms > 0 {
		t := time.UnixMilli(ms).UTC()
		d.DeliveredAt = &t
	}

	return d, nil
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
