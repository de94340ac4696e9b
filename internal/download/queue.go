// Package download runs episode downloads one at a time and enforces the
// retry ceiling of download requests.
package download

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/faithleysath/pt-web-automation/internal/eventbus"
	"github.com/faithleysath/pt-web-automation/internal/metrics"
	"github.com/faithleysath/pt-web-automation/internal/model"
	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

// DefaultMaxRetries is the number of submissions a request may go through.
const DefaultMaxRetries = 3

var (
	ErrRetriesExhausted = errors.New("download retries exhausted")
	ErrQueueStopped     = errors.New("download queue stopped")
	ErrAlreadyRunning   = errors.New("download queue already running")
	ErrDownloaderPanic  = errors.New("downloader panicked")
)

// Downloader fetches the file behind one request.
type Downloader interface {
	Download(ctx context.Context, req *eventbus.DownloadRequested) error
}

// DownloaderFunc adapts a function to Downloader.
type DownloaderFunc func(ctx context.Context, req *eventbus.DownloadRequested) error

func (f DownloaderFunc) Download(ctx context.Context, req *eventbus.DownloadRequested) error {
	return f(ctx, req)
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxRetries overrides DefaultMaxRetries.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxRetries = n
		}
	}
}

// WithMetrics records submissions, drops and results in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(q *Queue) { q.metrics = c }
}

// WithFailureHook sets the function called with every request whose
// download failed. The queue never retries on its own.
func WithFailureHook(fn func(req *eventbus.DownloadRequested, err error)) Option {
	return func(q *Queue) { q.onFailure = fn }
}

type episodeKey struct {
	sub     string
	episode int
}

func keyOf(req *eventbus.DownloadRequested) episodeKey {
	return episodeKey{sub: req.Subscription.ID, episode: req.Episode}
}

// Queue is an unbounded FIFO of download requests with a single consumer.
type Queue struct {
	log        logger.Logger
	metrics    *metrics.Collector
	maxRetries int
	onFailure  func(req *eventbus.DownloadRequested, err error)

	mu          sync.Mutex
	pending     []*eventbus.DownloadRequested
	inFlight    map[episodeKey]int
	downloaders map[model.FileKind]Downloader
	running     bool
	stopped     bool

	notify chan struct{}
	stopCh chan struct{}
}

func NewQueue(l logger.Logger, opts ...Option) *Queue {
	if l == nil {
		l = logger.NewNopLogger()
	}
	q := &Queue{
		log:         l,
		maxRetries:  DefaultMaxRetries,
		downloaders: make(map[model.FileKind]Downloader),
		inFlight:    make(map[episodeKey]int),
		notify:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Register installs d for links of the given kind, replacing any previous
// downloader for it.
func (q *Queue) Register(kind model.FileKind, d Downloader) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.downloaders[kind] = d
}

// Kinds lists the kinds with a registered downloader.
func (q *Queue) Kinds() []model.FileKind {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.FileKind, 0, len(q.downloaders))
	for k := range q.downloaders {
		out = append(out, k)
	}
	return out
}

// Submit counts one more attempt for req and enqueues it, unless the
// attempt exceeds the ceiling, in which case req is dropped.
func (q *Queue) Submit(req *eventbus.DownloadRequested) error {
	if req == nil {
		return eventbus.ErrNilEvent
	}
	req.RetryCount++
	if req.RetryCount > q.maxRetries {
		q.metrics.DownloadDropped()
		q.log.Warning("download: dropping %s episode %d after %d attempts",
			req.Subscription.ID, req.Episode, req.RetryCount-1)
		return fmt.Errorf("%w: %s episode %d", ErrRetriesExhausted, req.Subscription.ID, req.Episode)
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrQueueStopped
	}
	q.pending = append(q.pending, req)
	q.inFlight[keyOf(req)]++
	q.mu.Unlock()

	q.metrics.DownloadSubmitted()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending reports whether episode of subscription subID is queued or being
// downloaded.
func (q *Queue) Pending(subID string, episode int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight[episodeKey{sub: subID, episode: episode}] > 0
}

func (q *Queue) done(req *eventbus.DownloadRequested) {
	q.mu.Lock()
	defer q.mu.Unlock()
	k := keyOf(req)
	if q.inFlight[k] <= 1 {
		delete(q.inFlight, k)
		return
	}
	q.inFlight[k]--
}

// Handler returns the bus handler feeding DownloadRequested events into q.
func (q *Queue) Handler() eventbus.Handler {
	return eventbus.On("download-queue", func(_ context.Context, ev *eventbus.DownloadRequested) error {
		if err := q.Submit(ev); err != nil && !errors.Is(err, ErrRetriesExhausted) {
			return err
		}
		return nil
	})
}

// Run consumes requests until ctx is done or Stop is called.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return ErrAlreadyRunning
	}
	if q.stopped {
		q.mu.Unlock()
		return ErrQueueStopped
	}
	q.running = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	for {
		req, ok := q.next(ctx)
		if !ok {
			return nil
		}
		q.process(ctx, req)
	}
}

// Drain processes queued requests on the calling goroutine until the queue
// is empty or ctx is done, and returns the number of downloads attempted.
// It is meant for one-shot use without Run.
func (q *Queue) Drain(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		q.mu.Lock()
		if q.stopped || len(q.pending) == 0 {
			q.mu.Unlock()
			return n
		}
		req := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.process(ctx, req)
		n++
	}
	return n
}

// Stop ends Run after the current download. Queued requests are discarded.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	if n := len(q.pending); n > 0 {
		q.log.Warning("download: discarding %d queued requests on stop", n)
	}
	q.pending = nil
	clear(q.inFlight)
	close(q.stopCh)
}

func (q *Queue) next(ctx context.Context) (*eventbus.DownloadRequested, bool) {
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.pending) > 0 {
			req := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return req, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.stopCh:
			return nil, false
		case <-q.notify:
		}
	}
}

func (q *Queue) process(ctx context.Context, req *eventbus.DownloadRequested) {
	defer q.done(req)
	kind := req.Link.Kind
	q.mu.Lock()
	d := q.downloaders[kind]
	q.mu.Unlock()
	if d == nil {
		q.log.Debug("download: no downloader for %q, skipping %s episode %d", kind, req.Subscription.ID, req.Episode)
		return
	}

	q.log.Info("download: %s episode %d (%s, attempt %d)", req.Subscription.ID, req.Episode, kind, req.RetryCount)
	err := q.safeDownload(ctx, d, req)
	q.metrics.DownloadFinished(string(kind), err)
	if err == nil {
		q.log.Info("download: %s episode %d done", req.Subscription.ID, req.Episode)
		return
	}
	q.log.Error("download: %s episode %d failed: %v", req.Subscription.ID, req.Episode, err)
	if q.onFailure != nil && ctx.Err() == nil {
		q.onFailure(req, err)
	}
}

// safeDownload runs d with panic recovery.
func (q *Queue) safeDownload(ctx context.Context, d Downloader, req *eventbus.DownloadRequested) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("download: PANIC [%s E%02d]: %v\n%s", req.Subscription.ID, req.Episode, r, debug.Stack())
			err = fmt.Errorf("%w: %v", ErrDownloaderPanic, r)
		}
	}()
	return d.Download(ctx, req)
}
