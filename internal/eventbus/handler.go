package eventbus

import (
	"context"
	"fmt"
)

// Handler consumes events of the kind it Accepts.
type Handler interface {
	Name() string
	// Accepts returns the kind this handler can process; KindAny means every
	// kind.
	Accepts() Kind
	Handle(ctx context.Context, ev Event) error
}

type funcHandler[E Event] struct {
	name string
	kind Kind
	fn   func(context.Context, E) error
}

// On adapts fn into a Handler. The accepted kind is taken from E: a
// concrete event pointer type accepts its own kind, the Event interface
// accepts KindAny.
func On[E Event](name string, fn func(context.Context, E) error) Handler {
	var zero E
	kind := KindAny
	if any(zero) != nil {
		kind = zero.Kind()
	}
	return &funcHandler[E]{name: name, kind: kind, fn: fn}
}

func (h *funcHandler[E]) Name() string  { return h.name }
func (h *funcHandler[E]) Accepts() Kind { return h.kind }

func (h *funcHandler[E]) Handle(ctx context.Context, ev Event) error {
	e, ok := ev.(E)
	if !ok {
		return fmt.Errorf("handler %s: unexpected event %s", h.name, ev.Kind())
	}
	return h.fn(ctx, e)
}
