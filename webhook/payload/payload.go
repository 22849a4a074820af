package payload

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
)

// eventTypePattern validates event names: [a-zA-Z0-9_], optionally full-stop delimited
var eventTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+)*$`)

// eventFilterPattern admits event characters plus the glob syntax MatchesEvent
// understands, with the same non-empty dot-delimited segments as event names
var eventFilterPattern = regexp.MustCompile(`^[a-zA-Z0-9_*?{},\[\]!]+(\.[a-zA-Z0-9_*?{},\[\]!]+)*$`)

// Wildcard subscribes to every event
const Wildcard = "*"

// Metadata travels with every payload
type Metadata struct {
	Version     string `json:"version"`
	Source      string `json:"source"`
	Environment string `json:"environment"`

	// RequestID is unique per Build call, receivers use it as an idempotency key
	RequestID string `json:"requestId"`
}

// Payload is the envelope POSTed to subscriber endpoints
type Payload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Metadata  Metadata  `json:"metadata"`
}

// MarshalJSON returns the JSON encoding of the payload
func (p Payload) MarshalJSON() ([]byte, error) {
	type Alias Payload
	return json.Marshal(&struct {
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		Timestamp: p.Timestamp.UTC().Format(time.RFC3339Nano),
		Alias:     (*Alias)(&p),
	})
}

// UnmarshalJSON parses the JSON-encoded data and stores the result
func (p *Payload) UnmarshalJSON(data []byte) error {
	type Alias Payload
	aux := &struct {
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("unmarshaling payload: %w", err)
	}

	if aux.Timestamp == "" {
		p.Timestamp = time.Time{}
		return nil
	}
	timestamp, err := time.Parse(time.RFC3339Nano, aux.Timestamp)
	if err != nil {
		return fmt.Errorf("parsing timestamp: %w", err)
	}
	p.Timestamp = timestamp

	return nil
}

// Bytes returns the minified JSON encoding of the payload
func (p Payload) Bytes() ([]byte, error) {
	return json.Marshal(p)
}

// ToMap returns a deep copy of the payload as generic JSON values
func (p Payload) ToMap() (map[string]any, error) {
	raw, err := p.Bytes()
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling payload map: %w", err)
	}
	return m, nil
}

// FromMap rebuilds a payload from generic JSON values
func FromMap(m map[string]any) (Payload, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return Payload{}, fmt.Errorf("marshaling payload map: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Builder creates payload envelopes stamped with service metadata
type Builder struct {
	version     string
	source      string
	environment string
	now         func() time.Time
	newID       func() string
}

// Option customizes a Builder
type Option func(*Builder)

// WithClock replaces the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithIDGenerator replaces the request id generator
func WithIDGenerator(newID func() string) Option {
	return func(b *Builder) { b.newID = newID }
}

// NewBuilder creates a Builder for the given metadata
func NewBuilder(version, source, environment string, opts ...Option) *Builder {
	b := &Builder{
		version:     version,
		source:      source,
		environment: environment,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build creates a new payload for the event. It never fails.
func (b *Builder) Build(event string, data any) Payload {
	return Payload{
		Event:     event,
		Timestamp: b.now().UTC(),
		Data:      data,
		Metadata: Metadata{
			Version:     b.version,
			Source:      b.source,
			Environment: b.environment,
			RequestID:   b.newID(),
		},
	}
}

// MatchesEvent reports whether event is selected by the filter list.
// An empty list or a "*" entry selects everything. Filters are globs over
// dot-separated segments: "matrix.*" selects every event under the matrix
// prefix, "matrix.*.created" one segment deep, "user_{login,logout}" either
// name. Filters that do not compile select nothing.
func MatchesEvent(event string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}

	for _, filter := range filters {
		if filter == Wildcard || filter == event {
			return true
		}

		g, err := compileFilter(filter)
		if err != nil {
			continue
		}
		if g.Match(event) {
			return true
		}
	}

	return false
}

// compiled filters, keyed by source; filters come from configuration so the
// set stays small
var filterCache sync.Map

func compileFilter(filter string) (glob.Glob, error) {
	if g, ok := filterCache.Load(filter); ok {
		return g.(glob.Glob), nil
	}

	pattern := filter
	if prefix, ok := strings.CutSuffix(filter, ".*"); ok && prefix != "" {
		pattern = prefix + ".?**"
	}
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, fmt.Errorf("compiling event filter %q: %w", filter, err)
	}

	filterCache.Store(filter, g)
	return g, nil
}

// ValidateEventType validates an event name
func ValidateEventType(eventType string) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}
	if !eventTypePattern.MatchString(eventType) {
		return fmt.Errorf("event type must contain only [a-zA-Z0-9_.]: %s", eventType)
	}
	return nil
}

// ValidateEventFilter validates an entry of a subscriber's event list
func ValidateEventFilter(filter string) error {
	if filter == Wildcard {
		return nil
	}
	if !eventFilterPattern.MatchString(filter) {
		return fmt.Errorf("event filter must be non-empty segments of [a-zA-Z0-9_] and glob syntax, full-stop delimited: %q", filter)
	}
	_, err := compileFilter(filter)
	return err
}
