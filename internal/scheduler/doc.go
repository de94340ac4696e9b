// Package scheduler is the recurring trigger engine behind subscription jobs.
// It implements a single-goroutine scheduler using a min-heap of jobs sorted
// by their next trigger time, with a 60-second max-sleep-cap to handle NTP
// steps, DST transitions, and system sleep.
//
// Jobs are keyed by id and there is never more than one job per id in the
// heap: installing a job removes any existing job with the same id in the
// same step. Schedule expressions are parsed by a pluggable Parser, so the
// cron dialect can be swapped without touching the trigger loop.
package scheduler
