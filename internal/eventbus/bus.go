// Package eventbus is the in-process publish/subscribe core.
//
// Events are queued on an unbounded FIFO and delivered by a single dispatch
// loop. For each event the handlers subscribed to its exact kind run
// sequentially in ascending priority, ties in registration order. A handler
// that fails or panics is logged and skipped; it never stops delivery to the
// remaining handlers or to later events.
package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/faithleysath/pt-web-automation/internal/metrics"
	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

type registration struct {
	handler  Handler
	priority int
	seq      uint64
}

// Bus is the event dispatcher. The zero value is not usable; call New.
type Bus struct {
	log     logger.Logger
	metrics *metrics.Collector

	hmu      sync.RWMutex
	handlers map[Kind][]registration
	seq      uint64

	mu      sync.Mutex
	queue   []Event
	notify  chan struct{}
	stopCh  chan struct{}
	stopped bool
	running bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithMetrics records publish and dispatch counts on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(b *Bus) { b.metrics = c }
}

// New creates a Bus. Call Run to start dispatching.
func New(l logger.Logger, opts ...Option) *Bus {
	if l == nil {
		l = logger.NewNopLogger()
	}
	b := &Bus{
		log:      l,
		handlers: make(map[Kind][]registration),
		notify:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for kind. Lower priority runs first. h must be
// comparable, such as the pointers returned by On, so that Unsubscribe can
// find it again.
func (b *Bus) Subscribe(kind Kind, h Handler, priority int) error {
	if h == nil {
		return ErrNilHandler
	}
	if !reflect.ValueOf(h).Comparable() {
		return fmt.Errorf("%w: %s (%T)", ErrIncomparableHandler, h.Name(), h)
	}
	if !kind.concrete() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	if accepts := h.Accepts(); accepts != KindAny && accepts != kind {
		return &TypeConstraintError{Handler: h.Name(), Accepts: accepts, Kind: kind}
	}

	b.hmu.Lock()
	defer b.hmu.Unlock()
	b.seq++
	regs := append(b.handlers[kind], registration{handler: h, priority: priority, seq: b.seq})
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority < regs[j].priority
		}
		return regs[i].seq < regs[j].seq
	})
	b.handlers[kind] = regs
	return nil
}

// Unsubscribe removes the first registration of h for kind in dispatch
// order. It is a no-op when h is not registered.
func (b *Bus) Unsubscribe(kind Kind, h Handler) {
	if h == nil {
		return
	}
	b.hmu.Lock()
	defer b.hmu.Unlock()
	regs := b.handlers[kind]
	for i, r := range regs {
		if !sameHandler(r.handler, h) {
			continue
		}
		kept := make([]registration, 0, len(regs)-1)
		kept = append(kept, regs[:i]...)
		kept = append(kept, regs[i+1:]...)
		if len(kept) == 0 {
			delete(b.handlers, kind)
		} else {
			b.handlers[kind] = kept
		}
		return
	}
}

func sameHandler(a, b Handler) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() || !va.Comparable() || !vb.Comparable() {
		return false
	}
	return va.Equal(vb)
}

// Handlers returns the names of the handlers for kind in dispatch order.
func (b *Bus) Handlers(kind Kind) []string {
	b.hmu.RLock()
	defer b.hmu.RUnlock()
	names := make([]string, 0, len(b.handlers[kind]))
	for _, r := range b.handlers[kind] {
		names = append(names, r.handler.Name())
	}
	return names
}

// Publish enqueues ev for asynchronous delivery. It never waits for
// handlers.
func (b *Bus) Publish(ev Event) error {
	if isNil(ev) {
		return ErrNilEvent
	}
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrBusStopped
	}
	b.queue = append(b.queue, ev)
	depth := len(b.queue)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	b.metrics.EventPublished(ev.Kind().String(), depth)
	return nil
}

// Len returns the number of queued events.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Run dispatches events until ctx is cancelled or Stop is called. It
// returns nil on either; only one Run may be active at a time.
func (b *Bus) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrBusStopped
	}
	if b.running {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.running = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	b.log.Debug("eventbus: dispatch loop started")
	for {
		ev, ok := b.next(ctx)
		if !ok {
			b.log.Debug("eventbus: dispatch loop exited")
			return nil
		}
		b.dispatch(ctx, ev)
	}
}

// Stop halts the dispatch loop once the current event has been handled.
// Queued events are discarded and later publishes fail with ErrBusStopped.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	if n := len(b.queue); n > 0 {
		b.log.Warning("eventbus: discarding %d queued events on stop", n)
	}
	b.queue = nil
	close(b.stopCh)
}

func (b *Bus) next(ctx context.Context) (Event, bool) {
	for {
		b.mu.Lock()
		if b.stopped {
			b.mu.Unlock()
			return nil, false
		}
		if len(b.queue) > 0 {
			ev := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return ev, true
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-b.stopCh:
			return nil, false
		case <-b.notify:
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, ev Event) {
	kind := ev.Kind()
	b.hmu.RLock()
	regs := append([]registration(nil), b.handlers[kind]...)
	b.hmu.RUnlock()

	if len(regs) == 0 {
		b.log.Debug("eventbus: no handlers for %s", kind)
	}
	for _, r := range regs {
		if err := b.invoke(ctx, r.handler, ev); err != nil {
			b.log.Error("eventbus: handler %s failed on %s: %v", r.handler.Name(), kind, err)
			b.metrics.HandlerFailed(kind.String(), r.handler.Name())
		}
	}
	b.metrics.EventDispatched(kind.String(), b.Len())
}

func (b *Bus) invoke(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrHandlerPanic, r, debug.Stack())
		}
	}()
	return h.Handle(ctx, ev)
}
