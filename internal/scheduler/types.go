package scheduler

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidSchedule = errors.New("invalid schedule expression")
	ErrStopped         = errors.New("scheduler stopped")
)

// Schedule yields successive trigger times. Next returns the zero time when
// there is no occurrence after the given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Parser turns a schedule expression into a Schedule.
type Parser interface {
	Parse(expr string) (Schedule, error)
}

// ScheduleError reports an expression a Parser rejected.
type ScheduleError struct {
	Expr string
	Err  error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("%v %q: %v", ErrInvalidSchedule, e.Expr, e.Err)
}

func (e *ScheduleError) Unwrap() []error {
	return []error{ErrInvalidSchedule, e.Err}
}

// job is one entry in the scheduler heap.
type job struct {
	// ID is the unique key of the job; for subscription jobs it is the
	// subscription id.
	ID string
	// TriggerAt is the wall-clock time of the next fire.
	TriggerAt time.Time
	// Expr is kept for introspection only.
	Expr     string
	schedule Schedule
}

// JobInfo describes an installed job.
type JobInfo struct {
	ID   string
	Expr string
	Next time.Time
}
