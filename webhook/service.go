package webhook

import (
	"context"
	"fmt"
	"maps"
	"net/url"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/marcelsud/webhook-dispatch/webhook/signature"
)

/* Service represents the business logic layer
 * Uses pointer semantics as it's an API, not data
 */

// UseCase defines the business operations for webhook delivery
type UseCase interface {
	Send(ctx context.Context, webhookURL, event string, data any, opts SendOptions) (Delivery, error)
	Broadcast(ctx context.Context, event string, data any, opts BroadcastOptions) ([]Delivery, error)
	Stats(ctx context.Context, timeRange TimeRange) (Stats, error)
	RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error)
}

// Transformer rewrites a payload with a subscriber expression
type Transformer interface {
	Apply(p payload.Payload, source string) (payload.Payload, error)
}

// SendOptions customizes a single delivery
type SendOptions struct {
	UserID       string
	SourceUserID string
	RetryPolicy  *RetryPolicy
	Headers      map[string]string
	Transform    string
	Secret       string
}

// BroadcastOptions narrows a fan-out
type BroadcastOptions struct {
	// UserID limits the fan-out to that user's endpoints
	UserID string

	// SourceUserID is the user whose action produced the event
	SourceUserID string
}

type Service struct {
	Repo        Store
	Queue       Queue
	Resolver    Resolver
	Builder     *payload.Builder
	Transformer Transformer
	Auditor     Auditor
	Breakers    BreakerMonitor
	Policy      RetryPolicy
	Clock       Clock
	Logger      zerolog.Logger
	NewID       func() string
}

// Option configures optional Service collaborators
type Option func(*Service)

func WithTransformer(t Transformer) Option   { return func(s *Service) { s.Transformer = t } }
func WithAuditor(a Auditor) Option           { return func(s *Service) { s.Auditor = a } }
func WithBreakers(b BreakerMonitor) Option   { return func(s *Service) { s.Breakers = b } }
func WithDefaultPolicy(p RetryPolicy) Option { return func(s *Service) { s.Policy = p } }
func WithClock(c Clock) Option               { return func(s *Service) { s.Clock = c } }
func WithLogger(l zerolog.Logger) Option     { return func(s *Service) { s.Logger = l } }
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.NewID = f } }

// NewService creates a new webhook service with dependency injection
func NewService(repo Store, queue Queue, resolver Resolver, builder *payload.Builder, opts ...Option) *Service {
	s := &Service{
		Repo:     repo,
		Queue:    queue,
		Resolver: resolver,
		Builder:  builder,
		Policy:   DefaultRetryPolicy(),
		Clock:    SystemClock{},
		Logger:   zerolog.Nop(),
		NewID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send builds the payload for event and queues one delivery to webhookURL.
// It returns as soon as the delivery is queued. A failing transform yields a
// failed delivery together with the error.
func (s *Service) Send(ctx context.Context, webhookURL, event string, data any, opts SendOptions) (Delivery, error) {
	if err := ValidateURL(webhookURL); err != nil {
		return Delivery{}, err
	}
	if err := payload.ValidateEventType(event); err != nil {
		return Delivery{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	policy := s.Policy
	if opts.RetryPolicy != nil {
		policy = *opts.RetryPolicy
	}
	if err := policy.Validate(); err != nil {
		return Delivery{}, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	if opts.Secret != "" {
		if _, err := signature.ParseSecret(opts.Secret); err != nil {
			return Delivery{}, fmt.Errorf("%w: %w", ErrInvalidSecret, err)
		}
	}

	delivery := Delivery{
		ID:           s.NewID(),
		WebhookURL:   webhookURL,
		Event:        event,
		Payload:      s.Builder.Build(event, data),
		Attempt:      0,
		MaxRetries:   policy.MaxRetries,
		Status:       Pending,
		CreatedAt:    s.Clock.Now(),
		UserID:       opts.UserID,
		SourceUserID: opts.SourceUserID,
		Headers:      maps.Clone(opts.Headers),
		Policy:       policy,
		Secret:       opts.Secret,
	}

	if opts.Transform != "" {
		transformed, err := s.transform(delivery.Payload, opts.Transform)
		if err != nil {
			delivery.Status = Failed
			delivery.ErrorMessage = err.Error()
			s.audit(ctx, delivery)
			if saveErr := s.Repo.SaveResult(ctx, delivery); saveErr != nil {
				s.Logger.Error().Err(saveErr).Str("delivery_id", delivery.ID).Msg("saving failed delivery")
			}
			return delivery, err
		}
		delivery.Payload = transformed
	}

	s.audit(ctx, delivery)
	s.Queue.Enqueue(delivery)

	s.Logger.Debug().
		Str("delivery_id", delivery.ID).
		Str("event", event).
		Str("url", MaskURL(webhookURL)).
		Msg("webhook delivery queued")

	return delivery, nil
}

// Broadcast sends event to every subscribed endpoint. A failure for one
// endpoint is logged and does not stop the others.
func (s *Service) Broadcast(ctx context.Context, event string, data any, opts BroadcastOptions) ([]Delivery, error) {
	subscribers, err := s.Resolver.SubscribersForEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("resolving subscribers: %w", err)
	}

	deliveries := make([]Delivery, 0, len(subscribers))
	for _, sub := range subscribers {
		if opts.UserID != "" && sub.UserID != opts.UserID {
			continue
		}

		delivery, err := s.sendTo(ctx, sub, event, data, opts)
		if err != nil {
			s.Logger.Warn().
				Err(err).
				Str("event", event).
				Str("subscriber", sub.Name).
				Str("url", MaskURL(sub.URL)).
				Msg("broadcast to subscriber failed")
		}
		if delivery.ID != "" {
			deliveries = append(deliveries, delivery)
		}
	}

	return deliveries, nil
}

func (s *Service) sendTo(ctx context.Context, sub Subscriber, event string, data any, opts BroadcastOptions) (delivery Delivery, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sending to %s: panic: %v", sub.Name, r)
		}
	}()

	return s.Send(ctx, sub.URL, event, data, SendOptions{
		UserID:       sub.UserID,
		SourceUserID: opts.SourceUserID,
		RetryPolicy:  sub.RetryPolicy,
		Headers:      sub.Headers,
		Transform:    sub.Transform,
		Secret:       sub.Secret,
	})
}

// Stats aggregates persisted deliveries created within timeRange
func (s *Service) Stats(ctx context.Context, timeRange TimeRange) (Stats, error) {
	window, err := timeRange.Duration()
	if err != nil {
		return Stats{}, err
	}

	since := s.Clock.Now().Add(-window)
	deliveries, err := s.Repo.ListSince(ctx, since)
	if err != nil {
		return Stats{}, fmt.Errorf("listing deliveries: %w", err)
	}

	stats := Aggregate(deliveries)
	stats.Range = timeRange
	stats.Since = since
	if s.Breakers != nil {
		stats.ActiveCircuitBreakers = s.Breakers.OpenCount()
	}
	return stats, nil
}

// RecentDeliveries returns the latest persisted deliveries with masked URLs
func (s *Service) RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	limit = clampLimit(limit)

	deliveries, err := s.Repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent deliveries: %w", err)
	}

	for i := range deliveries {
		deliveries[i].WebhookURL = MaskURL(deliveries[i].WebhookURL)
		deliveries[i].Secret = ""
	}
	return deliveries, nil
}

func (s *Service) transform(p payload.Payload, source string) (payload.Payload, error) {
	if s.Transformer == nil {
		return payload.Payload{}, ErrNoTransformer
	}
	return s.Transformer.Apply(p, source)
}

func (s *Service) audit(ctx context.Context, delivery Delivery) {
	if s.Auditor != nil {
		s.Auditor.DeliveryCreated(ctx, delivery)
	}
}

// ValidateURL accepts absolute http and https URLs only
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https: %q", ErrInvalidURL, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host: %q", ErrInvalidURL, raw)
	}
	return nil
}

const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	return min(limit, MaxRecentLimit)
}
