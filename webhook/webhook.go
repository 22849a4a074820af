package webhook

import (
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook/payload"
)

/* Delivery is one payload on its way to one URL
 * Uses value semantics as it represents data, not behavior
 * After Enqueue only the dispatcher mutates it
 */
type Delivery struct {
	ID           string
	WebhookURL   string
	Event        string
	Payload      payload.Payload
	Attempt      int
	MaxRetries   int
	Status       Status
	StatusCode   int
	ResponseTime time.Duration
	ErrorMessage string
	NextRetryAt  *time.Time
	DeliveredAt  *time.Time
	CreatedAt    time.Time

	UserID       string
	SourceUserID string
	Headers      map[string]string

	// Policy and Secret stay in memory; stores never persist them
	Policy RetryPolicy
	Secret string
}

// Subscriber is an endpoint interested in one or more events
type Subscriber struct {
	Name        string
	UserID      string
	URL         string
	Secret      string
	Events      []string
	Headers     map[string]string
	Transform   string
	RetryPolicy *RetryPolicy
}
