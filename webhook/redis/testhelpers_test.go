//go:build integration

package redis_test

import (
	"context"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	testcontainersredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/marcelsud/webhook-dispatch/webhook/redis"
)

/* Test Helpers for Redis Integration Tests
 * One container per test function, one repository per subtest
 */

// RedisContainer holds the Redis testcontainer and connection details
type RedisContainer struct {
	Container *testcontainersredis.RedisContainer
	Addr      string
}

// SetupRedisContainer creates and starts a Redis testcontainer
func SetupRedisContainer(t *testing.T, ctx context.Context) (*RedisContainer, func()) {
	t.Helper()

	redisContainer, err := testcontainersredis.Run(ctx,
		"redis:7-alpine",
		testcontainersredis.WithLogLevel(testcontainersredis.LogLevelVerbose),
	)
	require.NoError(t, err, "failed to start Redis container")

	addr, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err, "failed to get Redis connection string")

	rc := &RedisContainer{
		Container: redisContainer,
		Addr:      strings.TrimPrefix(addr, "redis://"),
	}

	cleanup := func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	}

	return rc, cleanup
}

// CreateTestRepository creates a repository on a flushed database
func CreateTestRepository(t *testing.T, addr string, opts ...redis.Option) *redis.Repository {
	t.Helper()

	client := createRedisClient(addr)
	require.NoError(t, client.FlushDB(context.Background()).Err())
	require.NoError(t, client.Close())

	repo, err := redis.NewRepository(addr, "", 0, opts...)
	require.NoError(t, err, "failed to create Redis repository")

	return repo
}

// NewTestDelivery builds a finished delivery created at createdAt
func NewTestDelivery(id string, status webhook.Status, createdAt time.Time) webhook.Delivery {
	builder := payload.NewBuilder("1.0", "flow-matrix", "test",
		payload.WithClock(func() time.Time { return createdAt }),
	)
	return webhook.Delivery{
		ID:           id,
		WebhookURL:   "https://hooks.example.test/" + id,
		Event:        "matrix_created",
		Payload:      builder.Build("matrix_created", map[string]any{"matrix_id": id}),
		Attempt:      1,
		MaxRetries:   3,
		Status:       status,
		StatusCode:   200,
		ResponseTime: 120 * time.Millisecond,
		CreatedAt:    createdAt.UTC().Truncate(time.Millisecond),
		UserID:       "u1",
		Headers:      map[string]string{"X-Team": "netops"},
	}
}

// GetKeyTTL returns the TTL of a Redis key
func GetKeyTTL(t *testing.T, addr string, key string) time.Duration {
	t.Helper()

	client := createRedisClient(addr)
	defer client.Close()

	ttl, err := client.TTL(context.Background(), key).Result()
	require.NoError(t, err)

	return ttl
}

// StreamLength returns the number of entries in a stream
func StreamLength(t *testing.T, addr string, key string) int64 {
	t.Helper()

	client := createRedisClient(addr)
	defer client.Close()

	n, err := client.XLen(context.Background(), key).Result()
	require.NoError(t, err)

	return n
}

func createRedisClient(addr string) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr: addr,
	})
}
