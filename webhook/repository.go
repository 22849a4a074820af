package webhook

import (
	"context"
	"time"
)

/* Small, focused interfaces following "The Go Way"
 * Interfaces abstract behavior, not things
 */

// Reader provides read operations over persisted delivery results
type Reader interface {
	ListSince(ctx context.Context, since time.Time) ([]Delivery, error)
	ListRecent(ctx context.Context, limit int) ([]Delivery, error)
}

// Writer persists terminal delivery results
type Writer interface {
	/* SaveResult is best effort
	 * Callers log a failure and move on, the delivery outcome does not change
	 */
	SaveResult(ctx context.Context, delivery Delivery) error
}

type Store interface {
	Reader
	Writer
	Close(ctx context.Context) error
}

// Resolver finds the endpoints subscribed to an event
type Resolver interface {
	SubscribersForEvent(ctx context.Context, event string) ([]Subscriber, error)
}

// Auditor records delivery creation. Implementations must not block for long
// and report their own failures.
type Auditor interface {
	DeliveryCreated(ctx context.Context, delivery Delivery)
}

// Queue accepts deliveries for asynchronous processing
type Queue interface {
	Enqueue(delivery Delivery)
	Len() int
}

// BreakerMonitor reports the number of currently open circuit breakers
type BreakerMonitor interface {
	OpenCount() int
}

// Clock abstracts time so tests can control it
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
