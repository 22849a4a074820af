package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/signature"
)

const (
	// DefaultTimeout bounds a single delivery attempt
	DefaultTimeout = 30 * time.Second

	// maxResponseBody is how much of a response is drained before closing
	maxResponseBody = 64 * 1024

	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
	HeaderAttempt   = "X-Webhook-Attempt"
	HeaderTimestamp = "X-Webhook-Timestamp"

	// HeaderSignatureTimestamp is the unix second the signature was computed
	// for; receivers verify against it and may bound its age
	HeaderSignatureTimestamp = "X-Webhook-Signature-Timestamp"

	userAgent = "webhook-dispatch/1.0"
)

// Result of one HTTP attempt
type Result struct {
	StatusCode   int
	ResponseTime time.Duration
}

// Executor performs one delivery attempt
type Executor interface {
	Execute(ctx context.Context, delivery webhook.Delivery) (Result, error)
}

// HTTPError is returned for responses outside 2xx
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

/* HTTPExecutor POSTs the payload as JSON.
 * It never mutates the delivery; the dispatcher applies the result.
 */
type HTTPExecutor struct {
	Client *http.Client
	Clock  webhook.Clock
}

// NewHTTPExecutor creates an executor with a 30s client instrumented by otelhttp
func NewHTTPExecutor(clock webhook.Clock) *HTTPExecutor {
	if clock == nil {
		clock = webhook.SystemClock{}
	}
	return &HTTPExecutor{
		Client: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Clock: clock,
	}
}

// Execute sends delivery once. Network errors, timeouts included, are
// returned as is; non-2xx responses become *HTTPError.
func (e *HTTPExecutor) Execute(ctx context.Context, delivery webhook.Delivery) (Result, error) {
	body, err := delivery.Payload.Bytes()
	if err != nil {
		return Result{}, fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}

	headers, err := e.headers(delivery, body)
	if err != nil {
		return Result{}, err
	}
	for key, value := range delivery.Headers {
		req.Header.Set(key, value)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	start := e.Clock.Now()
	resp, err := e.Client.Do(req)
	elapsed := e.Clock.Now().Sub(start)
	if err != nil {
		return Result{ResponseTime: elapsed}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	result := Result{StatusCode: resp.StatusCode, ResponseTime: elapsed}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, &HTTPError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}
	return result, nil
}

// headers builds the reserved headers. They are set after the custom ones
// and always win.
func (e *HTTPExecutor) headers(delivery webhook.Delivery, body []byte) (map[string]string, error) {
	headers := make(map[string]string, 8)
	headers["Content-Type"] = "application/json"
	headers["User-Agent"] = userAgent
	headers[HeaderEvent] = delivery.Event
	headers[HeaderDelivery] = delivery.ID
	headers[HeaderAttempt] = strconv.Itoa(delivery.Attempt)
	headers[HeaderTimestamp] = delivery.Payload.Timestamp.UTC().Format(time.RFC3339Nano)

	if delivery.Secret != "" {
		secret, err := signature.ParseSecret(delivery.Secret)
		if err != nil {
			return nil, fmt.Errorf("parsing secret: %w", err)
		}
		now := e.Clock.Now()
		sig, err := signature.Sign(secret, delivery.ID, now, body)
		if err != nil {
			return nil, fmt.Errorf("signing payload: %w", err)
		}
		headers[signature.HeaderName] = sig.String()
		headers[HeaderSignatureTimestamp] = strconv.FormatInt(now.Unix(), 10)
	}
	return headers, nil
}
