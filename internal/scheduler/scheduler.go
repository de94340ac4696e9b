package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

const maxSleepCap = 60 * time.Second

// Scheduler manages recurring jobs using a min-heap.
// It runs a background goroutine that sleeps until the next job's trigger
// time, then calls the onTrigger callback with the job id.
type Scheduler struct {
	parser Parser
	log    logger.Logger
	ops    chan func(h *scheduleHeap)
	ctx    context.Context
	done   chan struct{}
}

// New creates and starts a new Scheduler.
// The onTrigger callback is invoked on its own goroutine each time a job
// fires, so it may call back into the Scheduler. A panic inside it is
// recovered and logged. The scheduler goroutine exits when ctx is cancelled.
func New(ctx context.Context, parser Parser, l logger.Logger, onTrigger func(id string)) *Scheduler {
	if parser == nil {
		parser = GronxParser{}
	}
	if l == nil {
		l = logger.NewNopLogger()
	}
	s := &Scheduler{
		parser: parser,
		log:    l,
		ops:    make(chan func(h *scheduleHeap)),
		ctx:    ctx,
		done:   make(chan struct{}),
	}
	go s.run(onTrigger)
	return s
}

// Add installs a recurring job for id. An existing job with the same id is
// removed in the same step, so the two can never both fire. A malformed
// expression returns a *ScheduleError and leaves any existing job untouched.
// replaced reports whether a previous job was removed.
func (s *Scheduler) Add(id, expr string) (replaced bool, err error) {
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return false, err
	}
	next := sched.Next(time.Now())
	if next.IsZero() {
		return false, &ScheduleError{Expr: expr, Err: fmt.Errorf("no upcoming occurrence")}
	}
	j := job{ID: id, TriggerAt: next, Expr: expr, schedule: sched}
	err = s.do(func(h *scheduleHeap) {
		replaced = heapRemoveByID(h, id)
		heapPush(h, j)
	})
	return replaced, err
}

// Remove cancels the job for id. It reports whether a job existed.
func (s *Scheduler) Remove(id string) bool {
	var removed bool
	_ = s.do(func(h *scheduleHeap) {
		removed = heapRemoveByID(h, id)
	})
	return removed
}

// RemoveAll cancels every job and returns how many were removed.
func (s *Scheduler) RemoveAll() int {
	var n int
	_ = s.do(func(h *scheduleHeap) {
		n = h.Len()
		*h = (*h)[:0]
	})
	return n
}

// Has reports whether a job is installed for id.
func (s *Scheduler) Has(id string) bool {
	var ok bool
	_ = s.do(func(h *scheduleHeap) {
		_, ok = heapFind(*h, id)
	})
	return ok
}

// Len returns the number of installed jobs.
func (s *Scheduler) Len() int {
	var n int
	_ = s.do(func(h *scheduleHeap) {
		n = h.Len()
	})
	return n
}

// Jobs returns the installed jobs sorted by id.
func (s *Scheduler) Jobs() []JobInfo {
	var out []JobInfo
	_ = s.do(func(h *scheduleHeap) {
		for _, j := range *h {
			out = append(out, JobInfo{ID: j.ID, Expr: j.Expr, Next: j.TriggerAt})
		}
	})
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Done is closed once the scheduler goroutine has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// do runs fn on the scheduler goroutine and waits for it to finish.
func (s *Scheduler) do(fn func(h *scheduleHeap)) error {
	finished := make(chan struct{})
	op := func(h *scheduleHeap) {
		fn(h)
		close(finished)
	}
	select {
	case s.ops <- op:
	case <-s.done:
		return ErrStopped
	}
	<-finished
	return nil
}

// run is the core scheduler goroutine implementing the active-object pattern.
// It maintains a min-heap of jobs and sleeps with a 60s max-sleep-cap.
// After a job fires, its next occurrence is computed and pushed back.
func (s *Scheduler) run(onTrigger func(string)) {
	defer close(s.done)

	h := &scheduleHeap{}
	heap.Init(h)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	resetTimer := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		if h.Len() == 0 {
			// No jobs, block on channels only
			return nil
		}
		dur := time.Until((*h)[0].TriggerAt)
		if dur > maxSleepCap {
			dur = maxSleepCap
		}
		if dur < 0 {
			dur = 0
		}
		timer = time.NewTimer(dur)
		return timer.C
	}

	timerCh := resetTimer()

	for {
		select {
		case <-s.ctx.Done():
			return

		case op := <-s.ops:
			op(h)
			timerCh = resetTimer()

		case <-timerCh:
			now := time.Now()
			for h.Len() > 0 && !(*h)[0].TriggerAt.After(now) {
				j := heapPop(h)
				s.fire(onTrigger, j.ID)
				next := j.schedule.Next(now)
				if next.IsZero() {
					s.log.Warning("scheduler: job %s has no further occurrences, dropping", j.ID)
					continue
				}
				j.TriggerAt = next
				heapPush(h, j)
			}
			timerCh = resetTimer()
		}
	}
}

// fire calls onTrigger on its own goroutine with panic recovery.
func (s *Scheduler) fire(onTrigger func(string), id string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("scheduler: PANIC [trigger %s]: %v\n%s", id, r, debug.Stack())
			}
		}()
		onTrigger(id)
	}()
}
