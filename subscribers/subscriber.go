package subscribers

import (
	"fmt"
	"maps"
	"slices"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/marcelsud/webhook-dispatch/webhook/signature"
)

/* Subscriber is a webhook template: one endpoint and the events it wants
 * Read-only once loaded
 */
type Subscriber struct {
	Name        string
	UserID      string
	URL         string
	Secret      string
	Events      []string // empty or "*" means every event
	Headers     map[string]string
	Transform   string
	RetryPolicy *webhook.RetryPolicy // nil uses the service default
	Enabled     bool
}

// Validate checks if the subscriber configuration is valid
func (s *Subscriber) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if err := webhook.ValidateURL(s.URL); err != nil {
		return fmt.Errorf("invalid url for subscriber %s: %w", s.Name, err)
	}
	for _, filter := range s.Events {
		if err := payload.ValidateEventFilter(filter); err != nil {
			return fmt.Errorf("invalid event '%s' for subscriber %s: %w", filter, s.Name, err)
		}
	}
	if s.Secret != "" {
		if _, err := signature.ParseSecret(s.Secret); err != nil {
			return fmt.Errorf("invalid secret for subscriber %s: %w", s.Name, err)
		}
	}
	if s.RetryPolicy != nil {
		if err := s.RetryPolicy.Validate(); err != nil {
			return fmt.Errorf("invalid retry_policy for subscriber %s: %w", s.Name, err)
		}
	}
	return nil
}

// Matches reports whether the subscriber wants event
func (s *Subscriber) Matches(event string) bool {
	return s.Enabled && payload.MatchesEvent(event, s.Events)
}

// ToWebhook converts to the core representation
func (s *Subscriber) ToWebhook() webhook.Subscriber {
	var policy *webhook.RetryPolicy
	if s.RetryPolicy != nil {
		p := *s.RetryPolicy
		policy = &p
	}
	return webhook.Subscriber{
		Name:        s.Name,
		UserID:      s.UserID,
		URL:         s.URL,
		Secret:      s.Secret,
		Events:      slices.Clone(s.Events),
		Headers:     maps.Clone(s.Headers),
		Transform:   s.Transform,
		RetryPolicy: policy,
	}
}
