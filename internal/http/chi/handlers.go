package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/rs/zerolog"

	"github.com/marcelsud/webhook-dispatch/subscribers"
	"github.com/marcelsud/webhook-dispatch/webhook"
)

const requestTimeout = 30 * time.Second

// SubscriberLister exposes the loaded subscriber configuration
type SubscriberLister interface {
	List() []*subscribers.Subscriber
}

// HealthChecker reports whether the delivery store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Dependencies groups what the API needs. Metrics and Health are optional.
type Dependencies struct {
	Webhooks    webhook.UseCase
	Subscribers SubscriberLister
	Metrics     http.Handler
	Health      HealthChecker
}

// Handlers sets up the dispatch API routes
func Handlers(logger zerolog.Logger, deps Dependencies) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", getHealth(deps.Health).ServeHTTP)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Method(http.MethodPost, "/webhooks", postWebhook(deps.Webhooks))
		r.Method(http.MethodGet, "/webhooks/stats", getStats(deps.Webhooks))
		r.Method(http.MethodGet, "/webhooks/deliveries", getDeliveries(deps.Webhooks))
		r.Method(http.MethodPost, "/events/{event}/broadcast", postBroadcast(deps.Webhooks))
		r.Method(http.MethodGet, "/subscribers", getSubscribers(deps.Subscribers))
	})

	return r
}

func getHealth(checker HealthChecker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.Ping(r.Context()); err != nil {
				writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "healthy"})
	})
}
