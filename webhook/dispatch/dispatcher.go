package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/breaker"
	"github.com/marcelsud/webhook-dispatch/webhook/retry"
)

// DefaultIdleInterval is the longest the loop sleeps without a wake signal
const DefaultIdleInterval = 5 * time.Second

// ErrAlreadyRunning is returned by a second concurrent Run
var ErrAlreadyRunning = errors.New("dispatcher is already running")

// Counters are cumulative delivery outcomes since start
type Counters struct {
	Attempts    int64
	Retries     int64
	Delivered   int64
	Failed      int64
	CircuitOpen int64
}

type counters struct {
	attempts    atomic.Int64
	retries     atomic.Int64
	delivered   atomic.Int64
	failed      atomic.Int64
	circuitOpen atomic.Int64
}

/* Dispatcher owns the delivery state machine.
 * A single Run loop pops due deliveries, gates them through the per-URL
 * breaker, executes them and either requeues or finalizes them.
 * Terminal deliveries are saved once; requeues are never saved.
 */
type Dispatcher struct {
	queue     *Queue
	executor  Executor
	breakers  *breaker.Registry
	scheduler *retry.Scheduler
	store     webhook.Writer
	clock     webhook.Clock
	logger    zerolog.Logger
	idle      time.Duration

	running  atomic.Bool
	counters counters
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

func WithClock(c webhook.Clock) Option        { return func(d *Dispatcher) { d.clock = c } }
func WithLogger(l zerolog.Logger) Option      { return func(d *Dispatcher) { d.logger = l } }
func WithScheduler(s *retry.Scheduler) Option { return func(d *Dispatcher) { d.scheduler = s } }
func WithBreakers(r *breaker.Registry) Option { return func(d *Dispatcher) { d.breakers = r } }
func WithIdleInterval(t time.Duration) Option { return func(d *Dispatcher) { d.idle = t } }

func NewDispatcher(store webhook.Writer, executor Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		executor: executor,
		store:    store,
		clock:    webhook.SystemClock{},
		logger:   zerolog.Nop(),
		idle:     DefaultIdleInterval,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.queue == nil {
		d.queue = NewQueue(d.clock)
	}
	if d.breakers == nil {
		d.breakers = breaker.NewRegistry(d.clock.Now)
	}
	if d.scheduler == nil {
		d.scheduler = retry.NewScheduler(d.clock, nil)
	}
	if d.idle <= 0 {
		d.idle = DefaultIdleInterval
	}
	return d
}

// Enqueue accepts a delivery from any goroutine
func (d *Dispatcher) Enqueue(delivery webhook.Delivery) {
	d.queue.Push(delivery)
}

// Len is the number of deliveries waiting, retries included
func (d *Dispatcher) Len() int {
	return d.queue.Len()
}

// OpenCount is the number of breakers not closed
func (d *Dispatcher) OpenCount() int {
	return d.breakers.OpenCount()
}

// Queue exposes the underlying queue
func (d *Dispatcher) Queue() *Queue {
	return d.queue
}

// Breakers exposes the breaker registry
func (d *Dispatcher) Breakers() *breaker.Registry {
	return d.breakers
}

// Running reports whether Run is active
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

func (d *Dispatcher) Counters() Counters {
	return Counters{
		Attempts:    d.counters.attempts.Load(),
		Retries:     d.counters.retries.Load(),
		Delivered:   d.counters.delivered.Load(),
		Failed:      d.counters.failed.Load(),
		CircuitOpen: d.counters.circuitOpen.Load(),
	}
}

// Run processes deliveries until ctx is done. Deliveries still queued at
// that point are dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	d.logger.Info().Dur("idle_interval", d.idle).Msg("webhook dispatcher started")

	timer := time.NewTimer(d.idle)
	defer timer.Stop()

	for {
		d.ProcessDue(ctx)

		wait := d.idle
		if next, ok := d.queue.NextDue(); ok {
			wait = min(wait, max(next.Sub(d.clock.Now()), 0))
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			if n := d.queue.Len(); n > 0 {
				d.logger.Warn().Int("pending", n).Msg("dispatcher stopped with pending deliveries")
			}
			d.logger.Info().Msg("webhook dispatcher stopped")
			return nil
		case <-timer.C:
		case <-d.queue.Wake():
		}
	}
}

// ProcessDue attempts every delivery due now and returns how many were handled.
// Deliveries requeued during the pass wait for a later one.
func (d *Dispatcher) ProcessDue(ctx context.Context) int {
	now := d.clock.Now()
	n := 0
	for ctx.Err() == nil {
		delivery, ok := d.queue.PopDue(now)
		if !ok {
			break
		}
		d.process(ctx, delivery)
		n++
	}
	return n
}

// process runs one step of the state machine. A panic fails the delivery
// and leaves the loop running. A delivery is finalized at most once, so a
// panic raised while recording its result is only logged.
func (d *Dispatcher) process(ctx context.Context, delivery webhook.Delivery) {
	finalized := false
	finish := func(done webhook.Delivery) {
		if finalized {
			return
		}
		finalized = true
		d.finalize(ctx, done)
	}

	defer func() {
		if r := recover(); r != nil {
			d.recovered(delivery, r, finalized, finish)
		}
	}()

	d.step(ctx, &delivery, finish)
}

func (d *Dispatcher) recovered(delivery webhook.Delivery, r any, finalized bool, finish func(webhook.Delivery)) {
	// a second panic while logging or finalizing stays inside the loop
	defer func() { _ = recover() }()

	d.logger.Error().
		Str("delivery_id", delivery.ID).
		Interface("panic", r).
		Bool("finalized", finalized).
		Msg("delivery processing panicked")
	if finalized {
		return
	}

	delivery.Status = webhook.Failed
	delivery.NextRetryAt = nil
	delivery.ErrorMessage = fmt.Sprintf("panic: %v", r)
	finish(delivery)
}

func (d *Dispatcher) step(ctx context.Context, delivery *webhook.Delivery, finish func(webhook.Delivery)) {
	if delivery.Attempt >= delivery.MaxRetries {
		delivery.Status = webhook.Failed
		delivery.NextRetryAt = nil
		if delivery.ErrorMessage == "" {
			delivery.ErrorMessage = "max retries exceeded"
		}
		finish(*delivery)
		return
	}

	delivery.Attempt++
	delivery.NextRetryAt = nil
	d.counters.attempts.Add(1)

	policy := delivery.Policy
	var result Result
	call := func() error {
		var err error
		result, err = d.executor.Execute(ctx, *delivery)
		return err
	}

	var err error
	if policy.EnableCircuitBreaker {
		cb := d.breakers.Get(delivery.WebhookURL, policy.CircuitBreakerThreshold, policy.CircuitBreakerTimeout)
		err = cb.Execute(call)
	} else {
		err = call()
	}

	delivery.StatusCode = result.StatusCode
	delivery.ResponseTime = result.ResponseTime

	if err == nil {
		now := d.clock.Now()
		delivery.Status = webhook.Delivered
		delivery.DeliveredAt = &now
		delivery.ErrorMessage = ""
		finish(*delivery)
		return
	}

	delivery.ErrorMessage = err.Error()
	if delivery.Attempt >= delivery.MaxRetries {
		delivery.Status = webhook.Failed
		if errors.Is(err, breaker.ErrOpen) {
			delivery.Status = webhook.CircuitOpen
		}
		finish(*delivery)
		return
	}

	next := d.scheduler.NextRetryTime(delivery.Attempt, policy)
	delivery.NextRetryAt = &next
	d.counters.retries.Add(1)
	d.queue.Push(*delivery)

	d.logger.Debug().
		Err(err).
		Str("delivery_id", delivery.ID).
		Str("url", webhook.MaskURL(delivery.WebhookURL)).
		Int("attempt", delivery.Attempt).
		Time("next_retry_at", next).
		Msg("webhook delivery scheduled for retry")
}

func (d *Dispatcher) finalize(ctx context.Context, delivery webhook.Delivery) {
	switch delivery.Status {
	case webhook.Delivered:
		d.counters.delivered.Add(1)
	case webhook.CircuitOpen:
		d.counters.circuitOpen.Add(1)
	default:
		d.counters.failed.Add(1)
	}

	event := d.logger.Info()
	if delivery.Status != webhook.Delivered {
		event = d.logger.Warn()
	}
	event.
		Str("delivery_id", delivery.ID).
		Str("event", delivery.Event).
		Str("url", webhook.MaskURL(delivery.WebhookURL)).
		Str("status", delivery.Status.String()).
		Int("attempt", delivery.Attempt).
		Int("status_code", delivery.StatusCode).
		Str("error", delivery.ErrorMessage).
		Msg("webhook delivery finished")

	d.save(ctx, delivery)
}

// save persists a terminal delivery. Store failures, panics included, are
// logged and never reach the loop.
func (d *Dispatcher) save(ctx context.Context, delivery webhook.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("delivery_id", delivery.ID).Interface("panic", r).Msg("saving delivery result panicked")
		}
	}()

	if err := d.store.SaveResult(context.WithoutCancel(ctx), delivery); err != nil {
		d.logger.Error().Err(err).Str("delivery_id", delivery.ID).Msg("saving delivery result")
	}
}
