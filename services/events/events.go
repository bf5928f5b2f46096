// Package events carries booking lifecycle events from the commit path to the
// side-effect handlers (token rewards, push notifications).
//
// Publishing never blocks on a handler. Handler failures are logged and
// counted; they never reach the caller of the operation that emitted the event.
package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"wellbook/metrics"
	"wellbook/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUnknownHandler  = errors.New("unknown side-effect handler")
	ErrPublisherClosed = errors.New("event publisher closed")
)

// Publisher hands a lifecycle event off for asynchronous processing.
type Publisher interface {
	Publish(ctx context.Context, ev models.LifecycleEvent) error
}

// Handler performs one side effect for an event. It must tolerate redelivery.
type Handler func(ctx context.Context, ev models.LifecycleEvent) error

// NewEvent stamps an event with a fresh id.
func NewEvent(t models.LifecycleEventType, b models.Booking, actor string, at time.Time) models.LifecycleEvent {
	return models.LifecycleEvent{
		ID:         uuid.NewString(),
		Type:       t,
		Booking:    b,
		Actor:      actor,
		OccurredAt: at,
	}
}

type route struct {
	name    string
	handler Handler
	types   map[models.LifecycleEventType]bool
}

// Router holds the named side-effect handlers and runs them with a bounded
// timeout each.
type Router struct {
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	routes map[string]route
}

func NewRouter(logger *zap.Logger, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Router{logger: logger, timeout: timeout, routes: make(map[string]route)}
}

// Handle registers h under name for the given event types (all types if none).
func (r *Router) Handle(name string, h Handler, types ...models.LifecycleEventType) {
	rt := route{name: name, handler: h}
	if len(types) > 0 {
		rt.types = make(map[models.LifecycleEventType]bool, len(types))
		for _, t := range types {
			rt.types[t] = true
		}
	}
	r.mu.Lock()
	r.routes[name] = rt
	r.mu.Unlock()
}

// HandlersFor lists, in name order, the handlers subscribed to t.
func (r *Router) HandlersFor(t models.LifecycleEventType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, rt := range r.routes {
		if rt.types == nil || rt.types[t] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Run executes a single named handler.
func (r *Router) Run(ctx context.Context, name string, ev models.LifecycleEvent) error {
	r.mu.RLock()
	rt, ok := r.routes[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandler, name)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := rt.handler(ctx, ev)
	if err != nil {
		metrics.SideEffectsTotal.WithLabelValues(name, metrics.OutcomeError).Inc()
		r.logger.Warn("side effect failed",
			zap.String("handler", name),
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.Type)),
			zap.String("booking_id", ev.Booking.ID),
			zap.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}
	metrics.SideEffectsTotal.WithLabelValues(name, metrics.OutcomeOK).Inc()
	return nil
}

// Dispatch runs every handler subscribed to the event. One failing handler
// does not stop the others.
func (r *Router) Dispatch(ctx context.Context, ev models.LifecycleEvent) error {
	var errs models.MultiError
	for _, name := range r.HandlersFor(ev.Type) {
		if err := r.Run(ctx, name, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errs.ErrOrNil()
}

// AsyncPublisher runs side effects on background goroutines inside this
// process. Used when the task queue is disabled, and by tests.
type AsyncPublisher struct {
	router *Router
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsyncPublisher(router *Router, logger *zap.Logger) *AsyncPublisher {
	return &AsyncPublisher{router: router, logger: logger}
}

func (p *AsyncPublisher) Publish(ctx context.Context, ev models.LifecycleEvent) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPublisherClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	// The request that emitted the event may finish first.
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer p.wg.Done()
		if err := p.router.Dispatch(ctx, ev); err != nil {
			p.logger.Warn("lifecycle side effects incomplete",
				zap.String("event_id", ev.ID), zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every published event has been handled.
func (p *AsyncPublisher) Wait() {
	p.wg.Wait()
}

// Close stops accepting events and drains the ones in flight.
func (p *AsyncPublisher) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
