package dispatch_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/dispatch"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/marcelsud/webhook-dispatch/webhook/signature"
)

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newDelivery(url string) webhook.Delivery {
	builder := payload.NewBuilder("1.0", "flow-matrix", "test",
		payload.WithClock(func() time.Time { return start }),
		payload.WithIDGenerator(func() string { return "req-1" }),
	)
	policy := webhook.DefaultRetryPolicy()
	return webhook.Delivery{
		ID:         "dlv-1",
		WebhookURL: url,
		Event:      "matrix_created",
		Payload:    builder.Build("matrix_created", map[string]any{"id": 42}),
		MaxRetries: policy.MaxRetries,
		Status:     webhook.Pending,
		CreatedAt:  start,
		Policy:     policy,
	}
}

func TestHTTPExecutor(t *testing.T) {
	ctx := context.Background()

	t.Run("success - sends payload and headers", func(t *testing.T) {
		var (
			got  http.Header
			body []byte
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			got = r.Header.Clone()
			body, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		delivery := newDelivery(server.URL)
		delivery.Attempt = 2
		delivery.Secret = "s3cr3t"
		delivery.Headers = map[string]string{
			"X-Team":              "netops",
			"x-webhook-event":     "spoofed",
			"X-Webhook-Signature": "v1,forged",
		}

		executor := dispatch.NewHTTPExecutor(webhook.NewFakeClock(start))
		result, err := executor.Execute(ctx, delivery)

		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, result.StatusCode)
		assert.Equal(t, "application/json", got.Get("Content-Type"))
		assert.Equal(t, "matrix_created", got.Get(dispatch.HeaderEvent))
		assert.Equal(t, "dlv-1", got.Get(dispatch.HeaderDelivery))
		assert.Equal(t, "2", got.Get(dispatch.HeaderAttempt))
		assert.Equal(t, "2024-06-01T12:00:00Z", got.Get(dispatch.HeaderTimestamp))
		assert.Equal(t, strconv.FormatInt(start.Unix(), 10), got.Get(dispatch.HeaderSignatureTimestamp))
		assert.Equal(t, "netops", got.Get("X-Team"))
		assert.JSONEq(t, `{
			"event": "matrix_created",
			"timestamp": "2024-06-01T12:00:00Z",
			"data": {"id": 42},
			"metadata": {"version": "1.0", "source": "flow-matrix", "environment": "test", "requestId": "req-1"}
		}`, string(body))

		secret, err := signature.ParseSecret("s3cr3t")
		require.NoError(t, err)
		valid, err := signature.VerifyHeader(secret, "dlv-1", start, body, got.Get(signature.HeaderName))
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("success - timestamp header is the payload's, not the attempt's", func(t *testing.T) {
		var (
			got  http.Header
			body []byte
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Clone()
			body, _ = io.ReadAll(r.Body)
		}))
		defer server.Close()

		attemptAt := start.Add(90 * time.Second)
		delivery := newDelivery(server.URL)
		delivery.Secret = "s3cr3t"

		_, err := dispatch.NewHTTPExecutor(webhook.NewFakeClock(attemptAt)).Execute(ctx, delivery)
		require.NoError(t, err)

		assert.Equal(t, delivery.Payload.Timestamp.Format(time.RFC3339Nano), got.Get(dispatch.HeaderTimestamp))
		assert.Equal(t, strconv.FormatInt(attemptAt.Unix(), 10), got.Get(dispatch.HeaderSignatureTimestamp))

		secret, err := signature.ParseSecret("s3cr3t")
		require.NoError(t, err)
		valid, err := signature.VerifyHeader(secret, "dlv-1", attemptAt, body, got.Get(signature.HeaderName))
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("no signature without secret", func(t *testing.T) {
		var got http.Header
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Clone()
		}))
		defer server.Close()

		_, err := dispatch.NewHTTPExecutor(nil).Execute(ctx, newDelivery(server.URL))

		require.NoError(t, err)
		assert.Empty(t, got.Get(signature.HeaderName))
		assert.Empty(t, got.Get(dispatch.HeaderSignatureTimestamp))
		assert.NotEmpty(t, got.Get(dispatch.HeaderTimestamp))
	})

	t.Run("error - non 2xx response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("try later"))
		}))
		defer server.Close()

		result, err := dispatch.NewHTTPExecutor(nil).Execute(ctx, newDelivery(server.URL))

		var httpErr *dispatch.HTTPError
		require.True(t, errors.As(err, &httpErr))
		assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
		assert.Equal(t, "HTTP 503: Service Unavailable", err.Error())
		assert.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
	})

	t.Run("error - network failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		url := server.URL
		server.Close()

		result, err := dispatch.NewHTTPExecutor(nil).Execute(ctx, newDelivery(url))

		require.Error(t, err)
		assert.Zero(t, result.StatusCode)
		var httpErr *dispatch.HTTPError
		assert.False(t, errors.As(err, &httpErr))
	})

	t.Run("error - timeout", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			<-release
		}))
		defer server.Close()
		defer close(release)

		executor := dispatch.NewHTTPExecutor(nil)
		executor.Client.Timeout = 50 * time.Millisecond

		_, err := executor.Execute(ctx, newDelivery(server.URL))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "sending request")
	})
}
