// Package metrics exposes Prometheus counters for the orchestration engine.
//
// A nil *Collector is valid and records nothing, so components can take an
// optional collector without nil checks at every call site.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

const namespace = "ptauto"

// Collector owns a private registry and the engine's metric vectors.
type Collector struct {
	registry *prometheus.Registry

	eventsPublished  *prometheus.CounterVec
	eventsDispatched *prometheus.CounterVec
	handlerFailures  *prometheus.CounterVec
	busQueueDepth    prometheus.Gauge

	jobsActive   prometheus.Gauge
	jobFires     prometheus.Counter
	jobsRejected prometheus.Counter

	reconciliations *prometheus.CounterVec

	downloadsSubmitted prometheus.Counter
	downloadsDropped   prometheus.Counter
	downloads          *prometheus.CounterVec
}

// New creates a Collector with all metrics registered on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events accepted by the bus, by kind.",
		}, []string{"kind"}),
		eventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Events delivered to their handlers, by kind.",
		}, []string{"kind"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_failures_total",
			Help:      "Handler invocations that returned an error or panicked.",
		}, []string{"kind", "handler"}),
		busQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_queue_depth",
			Help:      "Events waiting for dispatch.",
		}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Installed subscription jobs.",
		}),
		jobFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_fires_total",
			Help:      "Subscription job triggers.",
		}),
		jobsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Jobs not installed because of an invalid schedule.",
		}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Reconciliation passes, by outcome.",
		}, []string{"outcome"}),
		downloadsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_submitted_total",
			Help:      "Download requests accepted by the queue.",
		}),
		downloadsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_dropped_total",
			Help:      "Download requests dropped after exceeding the retry ceiling.",
		}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Finished download attempts, by file kind and result.",
		}, []string{"kind", "result"}),
	}
	c.registry.MustRegister(
		c.eventsPublished,
		c.eventsDispatched,
		c.handlerFailures,
		c.busQueueDepth,
		c.jobsActive,
		c.jobFires,
		c.jobsRejected,
		c.reconciliations,
		c.downloadsSubmitted,
		c.downloadsDropped,
		c.downloads,
	)
	return c
}

// Registry returns the registry holding the engine metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) EventPublished(kind string, depth int) {
	if c == nil {
		return
	}
	c.eventsPublished.WithLabelValues(kind).Inc()
	c.busQueueDepth.Set(float64(depth))
}

func (c *Collector) EventDispatched(kind string, depth int) {
	if c == nil {
		return
	}
	c.eventsDispatched.WithLabelValues(kind).Inc()
	c.busQueueDepth.Set(float64(depth))
}

func (c *Collector) HandlerFailed(kind, handler string) {
	if c == nil {
		return
	}
	c.handlerFailures.WithLabelValues(kind, handler).Inc()
}

func (c *Collector) SetActiveJobs(n int) {
	if c == nil {
		return
	}
	c.jobsActive.Set(float64(n))
}

func (c *Collector) JobFired() {
	if c == nil {
		return
	}
	c.jobFires.Inc()
}

func (c *Collector) JobRejected() {
	if c == nil {
		return
	}
	c.jobsRejected.Inc()
}

// Reconciled records the outcome of one reconciliation pass
// ("completed", "requested", "up_to_date", "aborted").
func (c *Collector) Reconciled(outcome string) {
	if c == nil {
		return
	}
	c.reconciliations.WithLabelValues(outcome).Inc()
}

func (c *Collector) DownloadSubmitted() {
	if c == nil {
		return
	}
	c.downloadsSubmitted.Inc()
}

func (c *Collector) DownloadDropped() {
	if c == nil {
		return
	}
	c.downloadsDropped.Inc()
}

// DownloadFinished records a downloader result for kind.
func (c *Collector) DownloadFinished(kind string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.downloads.WithLabelValues(kind, result).Inc()
}

// Handler returns an http.Handler serving the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, c *Collector, l logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		l.Info("metrics: listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
