package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog"
	"github.com/go-playground/validator/v10"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/marcelsud/webhook-dispatch/webhook/transform"
)

const maxRequestBody = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

/* HTTP layer DTOs for the dispatch API
 * Separate from domain entities to avoid leaking internal structure
 */

type sendRequest struct {
	URL          string               `json:"url" validate:"required,max=2048"`
	Event        string               `json:"event" validate:"required,max=255"`
	Data         any                  `json:"data"`
	UserID       string               `json:"user_id,omitempty" validate:"max=255"`
	SourceUserID string               `json:"source_user_id,omitempty" validate:"max=255"`
	Headers      map[string]string    `json:"headers,omitempty" validate:"max=50,dive,keys,required,max=256,endkeys,max=4096"`
	Transform    string               `json:"transform,omitempty" validate:"max=8192"`
	Secret       string               `json:"secret,omitempty" validate:"max=1024"`
	RetryPolicy  *webhook.RetryPolicy `json:"retry_policy,omitempty"`
}

type broadcastRequest struct {
	Data         any    `json:"data"`
	UserID       string `json:"user_id,omitempty" validate:"max=255"`
	SourceUserID string `json:"source_user_id,omitempty" validate:"max=255"`
}

type deliveryResponse struct {
	ID             string     `json:"id"`
	URL            string     `json:"url"`
	Event          string     `json:"event"`
	Status         string     `json:"status"`
	Attempt        int        `json:"attempt"`
	MaxRetries     int        `json:"max_retries"`
	StatusCode     int        `json:"status_code,omitempty"`
	ResponseTimeMs int64      `json:"response_time_ms,omitempty"`
	Error          string     `json:"error,omitempty"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UserID         string     `json:"user_id,omitempty"`
}

type broadcastResponse struct {
	Event      string             `json:"event"`
	Deliveries []deliveryResponse `json:"deliveries"`
}

type statsResponse struct {
	Range                 string    `json:"range"`
	Since                 time.Time `json:"since"`
	TotalDeliveries       int       `json:"total_deliveries"`
	SuccessRate           float64   `json:"success_rate"`
	AverageResponseTimeMs int64     `json:"average_response_time_ms"`
	FailedDeliveries      int       `json:"failed_deliveries"`
	ActiveCircuitBreakers int       `json:"active_circuit_breakers"`
}

func toDeliveryResponse(d webhook.Delivery) deliveryResponse {
	return deliveryResponse{
		ID:             d.ID,
		URL:            webhook.MaskURL(d.WebhookURL),
		Event:          d.Event,
		Status:         d.Status.String(),
		Attempt:        d.Attempt,
		MaxRetries:     d.MaxRetries,
		StatusCode:     d.StatusCode,
		ResponseTimeMs: d.ResponseTime.Milliseconds(),
		Error:          d.ErrorMessage,
		NextRetryAt:    d.NextRetryAt,
		DeliveredAt:    d.DeliveredAt,
		CreatedAt:      d.CreatedAt,
		UserID:         d.UserID,
	}
}

// postWebhook handles POST /v1/webhooks
func postWebhook(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := decodeJSON(w, r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		delivery, err := webhookService.Send(r.Context(), req.URL, req.Event, req.Data, webhook.SendOptions{
			UserID:       req.UserID,
			SourceUserID: req.SourceUserID,
			RetryPolicy:  req.RetryPolicy,
			Headers:      req.Headers,
			Transform:    req.Transform,
			Secret:       req.Secret,
		})
		if err != nil {
			var transformErr *transform.Error
			if errors.As(err, &transformErr) && delivery.ID != "" {
				writeJSON(w, r, http.StatusUnprocessableEntity, toDeliveryResponse(delivery))
				return
			}
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		writeJSON(w, r, http.StatusAccepted, toDeliveryResponse(delivery))
	})
}

// postBroadcast handles POST /v1/events/{event}/broadcast
func postBroadcast(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		event := chi.URLParam(r, "event")
		if err := payload.ValidateEventType(event); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req broadcastRequest
		if err := decodeJSON(w, r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		deliveries, err := webhookService.Broadcast(r.Context(), event, req.Data, webhook.BroadcastOptions{
			UserID:       req.UserID,
			SourceUserID: req.SourceUserID,
		})
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		response := broadcastResponse{
			Event:      event,
			Deliveries: make([]deliveryResponse, 0, len(deliveries)),
		}
		for _, d := range deliveries {
			response.Deliveries = append(response.Deliveries, toDeliveryResponse(d))
		}
		writeJSON(w, r, http.StatusAccepted, response)
	})
}

// getStats handles GET /v1/webhooks/stats?range=
func getStats(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timeRange := webhook.TimeRange(r.URL.Query().Get("range"))
		if timeRange == "" {
			timeRange = webhook.RangeDay
		}

		stats, err := webhookService.Stats(r.Context(), timeRange)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		writeJSON(w, r, http.StatusOK, statsResponse{
			Range:                 string(stats.Range),
			Since:                 stats.Since,
			TotalDeliveries:       stats.TotalDeliveries,
			SuccessRate:           stats.SuccessRate,
			AverageResponseTimeMs: stats.AverageResponseTime.Milliseconds(),
			FailedDeliveries:      stats.FailedDeliveries,
			ActiveCircuitBreakers: stats.ActiveCircuitBreakers,
		})
	})
}

// getDeliveries handles GET /v1/webhooks/deliveries?limit=
func getDeliveries(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				http.Error(w, fmt.Sprintf("invalid limit: %q", raw), http.StatusBadRequest)
				return
			}
			limit = n
		}

		deliveries, err := webhookService.RecentDeliveries(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		responses := make([]deliveryResponse, 0, len(deliveries))
		for _, d := range deliveries {
			responses = append(responses, toDeliveryResponse(d))
		}
		writeJSON(w, r, http.StatusOK, responses)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validating request body: %w", err)
	}
	return nil
}

// writeJSON sends v with status. The header is already out when encoding
// fails, so the error only reaches the request log.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := httplog.LogEntry(r.Context())
		logger.Error().Err(err).Int("status", status).Msg("encoding response body")
	}
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	var transformErr *transform.Error
	switch {
	case errors.Is(err, webhook.ErrInvalidURL),
		errors.Is(err, webhook.ErrInvalidEvent),
		errors.Is(err, webhook.ErrInvalidTimeRange),
		errors.Is(err, webhook.ErrInvalidPolicy),
		errors.Is(err, webhook.ErrInvalidSecret),
		errors.Is(err, webhook.ErrNoTransformer):
		return http.StatusBadRequest
	case errors.As(err, &transformErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
