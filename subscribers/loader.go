package subscribers

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marcelsud/webhook-dispatch/webhook"
)

/* Loader manages subscriber configuration from subscribers.yaml
 * Implements webhook.Resolver with an in-memory lookup
 * Load can be called again to replace the configuration
 */

// Config represents the structure of subscribers.yaml
type Config struct {
	Subscribers []SubscriberConfig `yaml:"subscribers"`
}

// SubscriberConfig represents a single subscriber in the YAML file
type SubscriberConfig struct {
	Name        string             `yaml:"name"`
	UserID      string             `yaml:"user_id"`
	URL         string             `yaml:"url"`
	Secret      string             `yaml:"secret"`
	Events      []string           `yaml:"events"`
	Headers     map[string]string  `yaml:"headers"`
	Transform   string             `yaml:"transform"`
	Enabled     *bool              `yaml:"enabled"` // Default: true
	RetryPolicy *RetryPolicyConfig `yaml:"retry_policy"`
}

// RetryPolicyConfig overrides fields of the default policy; unset fields are inherited
type RetryPolicyConfig struct {
	MaxRetries        *int     `yaml:"max_retries"`
	InitialDelayMs    *int     `yaml:"initial_delay_ms"`
	MaxDelayMs        *int     `yaml:"max_delay_ms"`
	BackoffMultiplier *float64 `yaml:"backoff_multiplier"`
	CircuitBreaker    *struct {
		Enabled   *bool `yaml:"enabled"`
		Threshold *int  `yaml:"threshold"`
		TimeoutMs *int  `yaml:"timeout_ms"`
	} `yaml:"circuit_breaker"`
}

// Compiler checks transform expressions at load time
type Compiler interface {
	Compile(source string) error
}

// Loader holds the loaded subscribers
type Loader struct {
	mu          sync.RWMutex
	subscribers []*Subscriber
	base        webhook.RetryPolicy
	compiler    Compiler
}

// Option configures a Loader
type Option func(*Loader)

// WithDefaultPolicy sets the policy retry_policy overrides are merged into
func WithDefaultPolicy(p webhook.RetryPolicy) Option {
	return func(l *Loader) { l.base = p }
}

// WithCompiler rejects subscribers whose transform does not compile
func WithCompiler(c Compiler) Option {
	return func(l *Loader) { l.compiler = c }
}

// NewLoader creates a new subscriber loader
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		base: webhook.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads and parses the subscribers file
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading subscribers file: %w", err)
	}
	return l.LoadBytes(data)
}

// LoadBytes parses YAML and replaces the current subscribers. On error the
// previous configuration is kept.
func (l *Loader) LoadBytes(data []byte) error {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("parsing subscribers YAML: %w", err)
	}

	loaded := make([]*Subscriber, 0, len(config.Subscribers))
	seen := make(map[string]bool, len(config.Subscribers))
	for _, sc := range config.Subscribers {
		sub := &Subscriber{
			Name:      sc.Name,
			UserID:    sc.UserID,
			URL:       sc.URL,
			Secret:    sc.Secret,
			Events:    sc.Events,
			Headers:   sc.Headers,
			Transform: sc.Transform,
			Enabled:   sc.Enabled == nil || *sc.Enabled,
		}
		if sc.RetryPolicy != nil {
			policy := sc.RetryPolicy.merge(l.base)
			sub.RetryPolicy = &policy
		}

		if err := sub.Validate(); err != nil {
			return fmt.Errorf("validating subscriber: %w", err)
		}
		if seen[sub.Name] {
			return fmt.Errorf("duplicate subscriber name: %s", sub.Name)
		}
		seen[sub.Name] = true

		if sub.Transform != "" && l.compiler != nil {
			if err := l.compiler.Compile(sub.Transform); err != nil {
				return fmt.Errorf("compiling transform for subscriber %s: %w", sub.Name, err)
			}
		}

		loaded = append(loaded, sub)
	}

	slices.SortFunc(loaded, func(a, b *Subscriber) int { return cmp.Compare(a.Name, b.Name) })

	l.mu.Lock()
	l.subscribers = loaded
	l.mu.Unlock()

	return nil
}

// Get retrieves a subscriber by name
func (l *Loader) Get(name string) (*Subscriber, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, sub := range l.subscribers {
		if sub.Name == name {
			return sub, nil
		}
	}
	return nil, fmt.Errorf("subscriber not found: %s", name)
}

// List returns all loaded subscribers sorted by name
func (l *Loader) List() []*Subscriber {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.subscribers)
}

// SubscribersForEvent returns the enabled subscribers whose filters match event
func (l *Loader) SubscribersForEvent(_ context.Context, event string) ([]webhook.Subscriber, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	matched := []webhook.Subscriber{}
	for _, sub := range l.subscribers {
		if sub.Matches(event) {
			matched = append(matched, sub.ToWebhook())
		}
	}
	return matched, nil
}

func (c *RetryPolicyConfig) merge(base webhook.RetryPolicy) webhook.RetryPolicy {
	p := base
	if c.MaxRetries != nil {
		p.MaxRetries = *c.MaxRetries
	}
	if c.InitialDelayMs != nil {
		p.InitialDelay = time.Duration(*c.InitialDelayMs) * time.Millisecond
	}
	if c.MaxDelayMs != nil {
		p.MaxDelay = time.Duration(*c.MaxDelayMs) * time.Millisecond
	}
	if c.BackoffMultiplier != nil {
		p.BackoffMultiplier = *c.BackoffMultiplier
	}
	if cb := c.CircuitBreaker; cb != nil {
		if cb.Enabled != nil {
			p.EnableCircuitBreaker = *cb.Enabled
		}
		if cb.Threshold != nil {
			p.CircuitBreakerThreshold = *cb.Threshold
		}
		if cb.TimeoutMs != nil {
			p.CircuitBreakerTimeout = time.Duration(*cb.TimeoutMs) * time.Millisecond
		}
	}
	return p
}
