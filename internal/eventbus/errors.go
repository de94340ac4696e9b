package eventbus

import (
	"errors"
	"fmt"
)

var (
	ErrNilEvent            = errors.New("eventbus: nil event")
	ErrNilHandler          = errors.New("eventbus: nil handler")
	ErrIncomparableHandler = errors.New("eventbus: handler is not comparable")
	ErrUnknownKind         = errors.New("eventbus: unknown event kind")
	ErrBusStopped          = errors.New("eventbus: bus stopped")
	ErrAlreadyRunning      = errors.New("eventbus: dispatch loop already running")
	ErrHandlerPanic        = errors.New("eventbus: handler panicked")
)

// TypeConstraintError is returned by Subscribe when a handler cannot accept
// the kind it is being registered for.
type TypeConstraintError struct {
	Handler string
	Accepts Kind
	Kind    Kind
}

func (e *TypeConstraintError) Error() string {
	return fmt.Sprintf("eventbus: handler %s accepts %s, cannot subscribe to %s", e.Handler, e.Accepts, e.Kind)
}
