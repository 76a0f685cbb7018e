// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package eventbus

import (
	"context"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nexusruntime/nexus/internal/concurrency"
	"github.com/nexusruntime/nexus/internal/config"
	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/logging"
	"github.com/nexusruntime/nexus/internal/metrics"
)

// Intake and per-subscription queue defaults. The intake size comes from
// event_bus.max_queue_size; subscriber queues are fixed.
const (
	defaultIntakeSize    = 1000
	subscriberQueueSize  = 256
	defaultCallbackSlots = 4
)

// ErrQueueFull is returned by Publish when the intake buffer is at
// capacity. Callers decide whether to retry, drop, or fall back to
// PublishWait.
var ErrQueueFull = errs.New(errs.KindApplication, "event bus queue is full")

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errs.New(errs.KindApplication, "event bus is closed")

// TaskRunner is the slice of the concurrency facility the bus uses to
// run callbacks. A nil runner degrades to running callbacks on the
// subscription worker goroutine.
type TaskRunner interface {
	RunIO(ctx context.Context, name string, fn concurrency.Func) (*concurrency.Task, error)
}

type subKey struct {
	subscriberID string
	pattern      string
	callback     uintptr
}

type subscription struct {
	id        string
	pattern   string
	cb        Callback
	createdAt time.Time
	noSelf    bool

	queue chan Event
	quit  chan struct{}
}

// Bus is the in-process event bus.
type Bus struct {
	mu     sync.RWMutex
	subs   map[subKey]*subscription
	closed bool

	intake         chan Event
	quit           chan struct{}
	dispatcherDone chan struct{}
	workers        sync.WaitGroup

	// sem bounds concurrently running callbacks bus-wide
	// (event_bus.thread_pool_size).
	sem chan struct{}

	publishTimeout time.Duration
	runner         TaskRunner
	logger         zerolog.Logger
}

// New builds a bus from event_bus configuration and starts its
// dispatcher. runner may be nil in degraded setups and tests.
func New(cfg config.EventBusConfig, runner TaskRunner) *Bus {
	intakeSize := cfg.MaxQueueSize
	if intakeSize <= 0 {
		intakeSize = defaultIntakeSize
	}
	slots := cfg.ThreadPoolSize
	if slots <= 0 {
		slots = defaultCallbackSlots
	}

	b := &Bus{
		subs:           make(map[subKey]*subscription),
		intake:         make(chan Event, intakeSize),
		quit:           make(chan struct{}),
		dispatcherDone: make(chan struct{}),
		sem:            make(chan struct{}, slots),
		publishTimeout: cfg.PublishTimeout,
		runner:         runner,
		logger:         logging.Named("eventbus"),
	}
	go b.dispatch()

	b.logger.Info().
		Int("intake_size", intakeSize).
		Int("callback_slots", slots).
		Msg("Event bus started")
	return b
}

// Subscribe registers cb for every event matching pattern. Registering
// the same (pattern, callback) under the same subscriber id again is
// idempotent and returns the original handle.
func (b *Bus) Subscribe(pattern string, cb Callback, opts ...SubscribeOption) (SubscriptionHandle, error) {
	if cb == nil {
		return SubscriptionHandle{}, errs.New(errs.KindValidation, "subscription callback must not be nil")
	}
	if !validPattern(pattern) {
		return SubscriptionHandle{}, errs.Newf(errs.KindValidation, "invalid subscription pattern %q", pattern).
			WithDetail("pattern", pattern)
	}

	options := subscribeOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.subscriberID == "" {
		options.subscriberID = uuid.NewString()
	}

	key := subKey{
		subscriberID: options.subscriberID,
		pattern:      pattern,
		callback:     reflect.ValueOf(cb).Pointer(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return SubscriptionHandle{}, ErrClosed
	}
	if existing, ok := b.subs[key]; ok {
		return SubscriptionHandle{
			SubscriberID: existing.id,
			Pattern:      existing.pattern,
			CreatedAt:    existing.createdAt,
		}, nil
	}

	s := &subscription{
		id:        options.subscriberID,
		pattern:   pattern,
		cb:        cb,
		createdAt: time.Now().UTC(),
		noSelf:    options.noSelf,
		queue:     make(chan Event, subscriberQueueSize),
		quit:      make(chan struct{}),
	}
	b.subs[key] = s
	b.workers.Add(1)
	go b.subscriptionWorker(s)
	metrics.BusSubscriptions.Inc()

	b.logger.Debug().
		Str("subscriber_id", s.id).
		Str("pattern", pattern).
		Msg("Subscription added")
	return SubscriptionHandle{SubscriberID: s.id, Pattern: pattern, CreatedAt: s.createdAt}, nil
}

// Unsubscribe removes every subscription registered under subscriberID
// and returns how many were removed. Events already queued for those
// subscriptions are discarded.
func (b *Bus) Unsubscribe(subscriberID string) int {
	b.mu.Lock()
	var removed []*subscription
	for key, s := range b.subs {
		if key.subscriberID == subscriberID {
			removed = append(removed, s)
			delete(b.subs, key)
		}
	}
	b.mu.Unlock()

	for _, s := range removed {
		close(s.quit)
		metrics.BusSubscriptions.Dec()
	}
	if len(removed) > 0 {
		b.logger.Debug().
			Str("subscriber_id", subscriberID).
			Int("count", len(removed)).
			Msg("Subscriptions removed")
	}
	return len(removed)
}

// Publish stamps the event and enqueues it without blocking. On a full
// intake buffer it fails fast with ErrQueueFull.
func (b *Bus) Publish(eventType, source string, payload map[string]any) (uuid.UUID, error) {
	e, err := b.prepare(eventType, source, payload)
	if err != nil {
		return uuid.Nil, err
	}
	select {
	case <-b.quit:
		return uuid.Nil, ErrClosed
	case b.intake <- e:
		b.noteEnqueued(e)
		return e.ID, nil
	default:
		metrics.RecordEventDropped("queue_full")
		return uuid.Nil, ErrQueueFull
	}
}

// PublishWait is the blocking variant: it waits for intake space up to
// event_bus.publish_timeout (or ctx, whichever ends first) before giving
// up with ErrQueueFull.
func (b *Bus) PublishWait(ctx context.Context, eventType, source string, payload map[string]any) (uuid.UUID, error) {
	e, err := b.prepare(eventType, source, payload)
	if err != nil {
		return uuid.Nil, err
	}
	if b.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.publishTimeout)
		defer cancel()
	}
	select {
	case b.intake <- e:
		b.noteEnqueued(e)
		return e.ID, nil
	case <-ctx.Done():
		metrics.RecordEventDropped("queue_full")
		return uuid.Nil, ErrQueueFull
	case <-b.quit:
		return uuid.Nil, ErrClosed
	}
}

func (b *Bus) prepare(eventType, source string, payload map[string]any) (Event, error) {
	if eventType == "" {
		return Event{}, errs.New(errs.KindValidation, "event type must not be empty")
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return Event{}, ErrClosed
	}
	return newEvent(eventType, source, payload), nil
}

func (b *Bus) noteEnqueued(e Event) {
	metrics.RecordEventPublished(e.Type)
	metrics.EventQueueDepth.Inc()
}

// dispatch drains the intake buffer and fans events out to matching
// subscription queues. A full subscription queue drops the event for
// that subscriber only.
func (b *Bus) dispatch() {
	defer close(b.dispatcherDone)
	for {
		select {
		case e := <-b.intake:
			metrics.EventQueueDepth.Dec()
			b.fanOut(e)
		case <-b.quit:
			// Flush whatever made it into intake before Close.
			for {
				select {
				case e := <-b.intake:
					metrics.EventQueueDepth.Dec()
					b.fanOut(e)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) fanOut(e Event) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if !matches(s.pattern, e.Type) {
			continue
		}
		if s.noSelf && s.id == e.Source {
			continue
		}
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.queue <- e:
		default:
			metrics.RecordEventDropped("subscriber_queue_full")
			b.logger.Warn().
				Str("subscriber_id", s.id).
				Str("pattern", s.pattern).
				Str("event_type", e.Type).
				Msg("Subscriber queue full; event dropped")
		}
	}
}

// subscriptionWorker preserves publish order for one subscription.
func (b *Bus) subscriptionWorker(s *subscription) {
	defer b.workers.Done()
	for {
		select {
		case e, ok := <-s.queue:
			if !ok {
				// Close flushed the queue and ended the stream.
				return
			}
			b.runCallback(s, e)
		case <-s.quit:
			for {
				select {
				case <-s.queue:
					metrics.RecordEventDropped("unsubscribed")
				default:
					return
				}
			}
		}
	}
}

// runCallback executes one delivery, preferring the facility's IO pool
// and falling back to the worker goroutine when the pool rejects the
// submission. Either way the panic is contained to this delivery.
func (b *Bus) runCallback(s *subscription, e Event) {
	b.sem <- struct{}{}
	defer func() { <-b.sem }()

	if b.runner != nil {
		task, err := b.runner.RunIO(context.Background(), "eventbus-delivery", func(_ context.Context) (any, error) {
			s.cb(e)
			return nil, nil
		})
		if err == nil {
			<-task.Done()
			if terr := task.Err(); terr != nil {
				b.logger.Error().
					Err(terr).
					Str("subscriber_id", s.id).
					Str("event_type", e.Type).
					Msg("Event callback failed")
			}
			metrics.RecordEventDelivered(e.Type, time.Since(e.Timestamp))
			return
		}
		b.logger.Warn().
			Err(err).
			Str("event_type", e.Type).
			Msg("IO pool rejected event delivery; running on bus worker")
	}

	b.invokeInline(s, e)
	metrics.RecordEventDelivered(e.Type, time.Since(e.Timestamp))
}

func (b *Bus) invokeInline(s *subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("subscriber_id", s.id).
				Str("event_type", e.Type).
				Msg("Event callback panicked")
		}
	}()
	s.cb(e)
}

// SubscriptionCount returns the number of live subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// QueueDepth returns the current intake backlog.
func (b *Bus) QueueDepth() int {
	return len(b.intake)
}

// Close stops intake, flushes events already accepted, and waits for
// subscription workers within ctx. Publish and Subscribe fail afterwards.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.quit)
	select {
	case <-b.dispatcherDone:
	case <-ctx.Done():
		return errs.Wrap(errs.KindApplication, "event bus dispatcher did not drain in time", ctx.Err())
	}

	// The dispatcher has exited; it is now safe to end each stream so
	// workers finish their backlog and return.
	b.mu.Lock()
	for key, s := range b.subs {
		close(s.queue)
		delete(b.subs, key)
		metrics.BusSubscriptions.Dec()
	}
	b.mu.Unlock()

	workersDone := make(chan struct{})
	go func() {
		b.workers.Wait()
		close(workersDone)
	}()
	select {
	case <-workersDone:
		b.logger.Info().Msg("Event bus stopped")
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.KindApplication, "event bus workers did not finish in time", ctx.Err())
	}
}
