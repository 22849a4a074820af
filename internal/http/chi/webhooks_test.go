package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/marcelsud/webhook-dispatch/subscribers"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/mocks"
	"github.com/marcelsud/webhook-dispatch/webhook/transform"
)

var created = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type staticLister []*subscribers.Subscriber

func (l staticLister) List() []*subscribers.Subscriber { return l }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newRouter(s webhook.UseCase, deps ...func(*Dependencies)) http.Handler {
	d := Dependencies{Webhooks: s, Subscribers: staticLister{}}
	for _, f := range deps {
		f(&d)
	}
	return Handlers(zerolog.Nop(), d)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPostWebhook(t *testing.T) {
	t.Run("success - delivery queued", func(t *testing.T) {
		s := mocks.NewUseCase(t)
		s.On("Send", mock.Anything, "https://hooks.example.com/in?token=abc", "matrix_created",
			map[string]any{"id": float64(7)},
			webhook.SendOptions{
				UserID:  "user-1",
				Headers: map[string]string{"X-Team": "core"},
				Secret:  "whsec_c2VjcmV0",
			},
		).Return(webhook.Delivery{
			ID:         "dlv-1",
			WebhookURL: "https://hooks.example.com/in?token=abc",
			Event:      "matrix_created",
			Status:     webhook.Pending,
			MaxRetries: 3,
			CreatedAt:  created,
		}, nil)

		w := do(t, newRouter(s), http.MethodPost, "/v1/webhooks", `{
			"url": "https://hooks.example.com/in?token=abc",
			"event": "matrix_created",
			"data": {"id": 7},
			"user_id": "user-1",
			"headers": {"X-Team": "core"},
			"secret": "whsec_c2VjcmV0"
		}`)

		require.Equal(t, http.StatusAccepted, w.Code)
		var got deliveryResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "dlv-1", got.ID)
		assert.Equal(t, "pending", got.Status)
		assert.Equal(t, "https://hooks.example.com/in***", got.URL)
		assert.NotContains(t, w.Body.String(), "token=abc")
	})

	t.Run("success - custom retry policy", func(t *testing.T) {
		s := mocks.NewUseCase(t)
		s.On("Send", mock.Anything, "https://example.test/hook", "matrix_created", nil,
			mock.MatchedBy(func(opts webhook.SendOptions) bool {
				return opts.RetryPolicy != nil &&
					opts.RetryPolicy.MaxRetries == 5 &&
					opts.RetryPolicy.InitialDelay == 500*time.Millisecond
			}),
		).Return(webhook.Delivery{ID: "dlv-2", Status: webhook.Pending}, nil)

		w := do(t, newRouter(s), http.MethodPost, "/v1/webhooks", `{
			"url": "https://example.test/hook",
			"event": "matrix_created",
			"retry_policy": {"max_retries": 5, "initial_delay": 500, "max_delay": 10000, "backoff_multiplier": 2}
		}`)

		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("error - malformed body", func(t *testing.T) {
		w := do(t, newRouter(mocks.NewUseCase(t)), http.MethodPost, "/v1/webhooks", `{"url":`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("error - missing event", func(t *testing.T) {
		w := do(t, newRouter(mocks.NewUseCase(t)), http.MethodPost, "/v1/webhooks", `{"url":"https://example.test/hook"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Event")
	})

	t.Run("error - empty header name", func(t *testing.T) {
		w := do(t, newRouter(mocks.NewUseCase(t)), http.MethodPost, "/v1/webhooks",
			`{"url":"https://example.test/hook","event":"e","headers":{"":"x"}}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("error - validation failure", func(t *testing.T) {
		s := mocks.NewUseCase(t)
		s.On("Send", mock.Anything, "/relative", "matrix_created", nil, mock.Anything).
			Return(webhook.Delivery{}, webhook.ErrInvalidURL)

		w := do(t, newRouter(s), http.MethodPost, "/v1/webhooks", `{"url":"/relative","event":"matrix_created"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("error - transform failure returns the failed delivery", func(t *testing.T) {
		s := mocks.NewUseCase(t)
		s.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(webhook.Delivery{
				ID:           "dlv-3",
				Status:       webhook.Failed,
				ErrorMessage: "transforming payload: no such key",
			}, &transform.Error{Err: errors.New("no such key")})

		w := do(t, newRouter(s), http.MethodPost, "/v1/webhooks",
			`{"url":"https://example.test/hook","event":"matrix_created","transform":"payload.missing"}`)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var got deliveryResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "failed", got.Status)
		assert.Contains(t, got.Error, "no such key")
	})

	t.Run("error - service failure", func(t *testing.T) {
		s := mocks.NewUseCase(t)
		s.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(webhook.Delivery{}, errors.New("boom"))

		w := do(t, newRouter(s), http.MethodPost, "/v1/webhooks", `{"url":"https://example.test/hook","event":"e"}`)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestPostBroadcast(t *testing.T) {
	t.Run("success - one delivery per subscriber", func(t *testing.T) {
		s := mocks.NewUseCase(t)
		s.On("Broadcast", mock.Anything, "user.created", map[string]any{"name": "ada"},
			webhook.BroadcastOptions{UserID: "user-1", SourceUserID: "admin"},
		).Return([]webhook.Delivery{
			{ID: "dlv-1", WebhookURL: "https://a.example.com/hook", Status: webhook.Pending},
			{ID: "dlv-2", WebhookURL: "https://b.example.com/hook", Status: webhook.Pending},
		}, nil)

		w := do(t, newRouter(s), http.MethodPost, "/v1/events/user.created/broadcast",
			`{"data":{"name":"ada"},"user_id":"user-1","source_user_id":"admin"}`)

		require.Equal(t, http.StatusAccepted, w.Code)
		var got broadcastResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "user.created", got.Event)
		require.Len(t, got.Deliveries, 2)
		assert.Equal(t, "https://b.example.com/hook***", got.Deliveries[1].URL)
	})

	t.Run("success - no subscribers", func(t *testing.T) {
		s := mocks.NewUseCase(t)
		s.On("Broadcast", mock.Anything, "quiet", nil, webhook.BroadcastOptions{}).Return([]webhook.Delivery{}, nil)

		w := do(t, newRouter(s), http.MethodPost, "/v1/events/quiet/broadcast", `{}`)

		require.Equal(t, http.StatusAccepted, w.Code)
		assert.JSONEq(t, `{"event":"quiet","deliveries":[]}`, w.Body.String())
	})

	t.Run("error - resolver failure", func(t *testing.T) {
		s := mocks.NewUseCase(t)
		s.On("Broadcast", mock.Anything, "e", mock.Anything, mock.Anything).Return(nil, errors.New("resolving subscribers: boom"))

		w := do(t, newRouter(s), http.MethodPost, "/v1/events/e/broadcast", `{}`)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("error - invalid event", func(t *testing.T) {
		s := mocks.NewUseCase(t)

		w := do(t, newRouter(s), http.MethodPost, "/v1/events/user-created/broadcast", `{"data":{}}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "event type must contain only")
		s.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestWriteJSON(t *testing.T) {
	t.Run("success - encodes with status", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeJSON(w, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusCreated, map[string]int{"n": 1})

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"n":1}`, w.Body.String())
	})

	t.Run("error - encode failure keeps the written status", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeJSON(w, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]any{"c": make(chan int)})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.NotContains(t, w.Body.String(), "unsupported type")
	})
}

func TestGetStats(t *testing.T) {
	t.Run("success - requested range", func(t *testing.T) {
		s := mocks.NewUseCase(t)
		s.On("Stats", mock.Anything, webhook.RangeHour).Return(webhook.Stats{
			Range:                 webhook.RangeHour,
			Since:                 created,
			TotalDeliveries:       4,
			SuccessRate:           50,
			AverageResponseTime:   200 * time.Millisecond,
			FailedDeliveries:      2,
			ActiveCircuitBreakers: 1,
		}, nil)

		w := do(t, newRouter(s), http.MethodGet, "/v1/webhooks/stats?range=hour", "")

		require.Equal(t, http.StatusOK, w.Code)
		var got statsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, statsResponse{
			Range:                 "hour",
			Since:                 created,
			TotalDeliveries:       4,
			SuccessRate:           50,
			AverageResponseTimeMs: 200,
			FailedDeliveries:      2,
			ActiveCircuitBreakers: 1,
		}, got)
	})

	t.Run("success - defaults to day", func(t *testing.T) {
		s := mocks.NewUseCase(t)
		s.On("Stats", mock.Anything, webhook.RangeDay).Return(webhook.Stats{Range: webhook.RangeDay}, nil)

		w := do(t, newRouter(s), http.MethodGet, "/v1/webhooks/stats", "")

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("error - invalid range", func(t *testing.T) {
		s := mocks.NewUseCase(t)
		s.On("Stats", mock.Anything, webhook.TimeRange("year")).Return(webhook.Stats{}, webhook.ErrInvalidTimeRange)

		w := do(t, newRouter(s), http.MethodGet, "/v1/webhooks/stats?range=year", "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetDeliveries(t *testing.T) {
	t.Run("success - passes the limit", func(t *testing.T) {
		s := mocks.NewUseCase(t)
		s.On("RecentDeliveries", mock.Anything, 10).Return([]webhook.Delivery{
			{ID: "dlv-1", WebhookURL: "https://hooks.example.com/t/abcd***", Status: webhook.Delivered, StatusCode: 200},
		}, nil)

		w := do(t, newRouter(s), http.MethodGet, "/v1/webhooks/deliveries?limit=10", "")

		require.Equal(t, http.StatusOK, w.Code)
		var got []deliveryResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "delivered", got[0].Status)
		assert.Equal(t, 200, got[0].StatusCode)
	})

	t.Run("success - no limit uses the service default", func(t *testing.T) {
		s := mocks.NewUseCase(t)
		s.On("RecentDeliveries", mock.Anything, 0).Return([]webhook.Delivery{}, nil)

		w := do(t, newRouter(s), http.MethodGet, "/v1/webhooks/deliveries", "")

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())
	})

	t.Run("error - invalid limit", func(t *testing.T) {
		w := do(t, newRouter(mocks.NewUseCase(t)), http.MethodGet, "/v1/webhooks/deliveries?limit=abc", "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetSubscribers(t *testing.T) {
	lister := staticLister{{
		Name:    "siem",
		URL:     "https://siem.example.com/ingest?key=secret",
		Secret:  "whsec_c2VjcmV0",
		Events:  []string{"user.*"},
		Headers: map[string]string{"Authorization": "Bearer xyz", "X-Team": "sec"},
		Enabled: true,
	}}
	h := newRouter(mocks.NewUseCase(t), func(d *Dependencies) { d.Subscribers = lister })

	w := do(t, h, http.MethodGet, "/v1/subscribers", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.NotContains(t, body, "whsec_")
	assert.NotContains(t, body, "Bearer xyz")
	assert.NotContains(t, body, "key=secret")

	var got []subscriberResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.True(t, got[0].Signed)
	assert.Equal(t, []string{"Authorization", "X-Team"}, got[0].HeaderNames)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Run("success - healthy", func(t *testing.T) {
		h := newRouter(mocks.NewUseCase(t), func(d *Dependencies) { d.Health = pinger{} })

		w := do(t, h, http.MethodGet, "/health", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
	})

	t.Run("error - store unreachable", func(t *testing.T) {
		h := newRouter(mocks.NewUseCase(t), func(d *Dependencies) { d.Health = pinger{err: errors.New("dial tcp: refused")} })

		w := do(t, h, http.MethodGet, "/health", "")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("success - metrics handler mounted", func(t *testing.T) {
		metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("webhook_queue_length 0\n"))
		})
		h := newRouter(mocks.NewUseCase(t), func(d *Dependencies) { d.Metrics = metrics })

		w := do(t, h, http.MethodGet, "/metrics", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "webhook_queue_length")
	})

	t.Run("error - metrics not configured", func(t *testing.T) {
		w := do(t, newRouter(mocks.NewUseCase(t)), http.MethodGet, "/metrics", "")

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
