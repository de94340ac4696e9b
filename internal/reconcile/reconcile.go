// Package reconcile compares what is on disk and what was published with
// what a platform currently lists, and decides what a subscription needs
// next: completion, nothing, or new downloads.
package reconcile

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/faithleysath/pt-web-automation/internal/eventbus"
	"github.com/faithleysath/pt-web-automation/internal/metrics"
	"github.com/faithleysath/pt-web-automation/internal/model"
	"github.com/faithleysath/pt-web-automation/internal/platform"
	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

// Outcome is the result of one reconciliation pass.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRequested Outcome = "requested"
	OutcomeUpToDate  Outcome = "up_to_date"
	OutcomeAborted   Outcome = "aborted"
)

// Repository persists status transitions.
type Repository interface {
	UpdateStatus(ctx context.Context, id string, status model.Status) error
}

// JobUpdater re-syncs the recurring job of a subscription with the store.
type JobUpdater interface {
	UpdateSubscription(ctx context.Context, id string) error
}

// Platforms resolves a platform by name.
type Platforms interface {
	Get(name string) (platform.Platform, error)
}

// Publisher accepts events for asynchronous delivery.
type Publisher interface {
	Publish(ev eventbus.Event) error
}

// InFlight reports downloads that were requested but have not finished.
type InFlight interface {
	Pending(subID string, episode int) bool
}

// Dirs locates local episode files.
type Dirs struct {
	// Media holds one season folder per subscription.
	Media string
	// Download holds one folder per subscription id for finished downloads
	// that have not been staged yet.
	Download string
}

// Result describes a reconciliation pass.
type Result struct {
	Outcome   Outcome
	Local     []int
	Latest    []int
	Missing   []int
	Requested []int
	// InFlight lists missing episodes skipped because their download is
	// still queued or running.
	InFlight []int
}

// Reconciler runs reconciliation passes.
type Reconciler struct {
	fs        afero.Fs
	dirs      Dirs
	repo      Repository
	jobs      JobUpdater
	platforms Platforms
	bus       Publisher
	inFlight  InFlight
	log       logger.Logger
	metrics   *metrics.Collector
}

func New(fs afero.Fs, dirs Dirs, repo Repository, jobs JobUpdater, platforms Platforms, bus Publisher, l logger.Logger, m *metrics.Collector) *Reconciler {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Reconciler{
		fs:        fs,
		dirs:      dirs,
		repo:      repo,
		jobs:      jobs,
		platforms: platforms,
		bus:       bus,
		log:       l,
		metrics:   m,
	}
}

// SetInFlight makes passes skip missing episodes that f still holds.
func (r *Reconciler) SetInFlight(f InFlight) {
	r.inFlight = f
}

// Handler returns the bus handler for SubscriptionTriggered events.
func (r *Reconciler) Handler() eventbus.Handler {
	return eventbus.On("reconcile", func(ctx context.Context, ev *eventbus.SubscriptionTriggered) error {
		_, err := r.Reconcile(ctx, ev.Subscription)
		return err
	})
}

// LocalEpisodes returns the episodes present in the season folder or
// the download folder of sub.
func (r *Reconciler) LocalEpisodes(sub *model.Subscription) (EpisodeSet, error) {
	dirs := []string{filepath.Join(r.dirs.Media, sub.SeasonFolder())}
	if r.dirs.Download != "" {
		dirs = append(dirs, filepath.Join(r.dirs.Download, sub.ID))
	}
	return ScanEpisodes(r.fs, dirs...)
}

// Reconcile runs one pass for sub. An error means the pass was aborted.
func (r *Reconciler) Reconcile(ctx context.Context, sub model.Subscription) (Result, error) {
	res, err := r.reconcile(ctx, &sub)
	if err != nil {
		res.Outcome = OutcomeAborted
	}
	r.metrics.Reconciled(string(res.Outcome))
	return res, err
}

func (r *Reconciler) reconcile(ctx context.Context, sub *model.Subscription) (Result, error) {
	var res Result

	local, err := r.LocalEpisodes(sub)
	if err != nil {
		return res, fmt.Errorf("scan %s: %w", sub.ID, err)
	}
	res.Local = local.Sorted()

	recorded := make(EpisodeSet, len(sub.TorrentIDs))
	for ep := range sub.TorrentIDs {
		recorded[ep] = struct{}{}
	}

	expected := sub.ExpectedEpisodes()
	if expected > 0 && len(local) == expected && len(recorded) == expected {
		if err := r.repo.UpdateStatus(ctx, sub.ID, model.StatusCompleted); err != nil {
			return res, fmt.Errorf("mark %s completed: %w", sub.ID, err)
		}
		r.log.Info("reconcile: %s complete with %d episodes", sub.ID, expected)
		if err := r.jobs.UpdateSubscription(ctx, sub.ID); err != nil {
			r.log.Error("reconcile: retire job %s: %v", sub.ID, err)
		}
		res.Outcome = OutcomeCompleted
		return res, nil
	}

	if onlyLocal, onlyRecorded := local.Minus(recorded), recorded.Minus(local); len(onlyLocal) > 0 || len(onlyRecorded) > 0 {
		r.log.Warning("reconcile: %s local episodes and torrent ids disagree: local only %v, torrent only %v",
			sub.ID, onlyLocal, onlyRecorded)
	}

	p, err := r.platforms.Get(sub.Platform)
	if err != nil {
		return res, fmt.Errorf("subscription %s: %w", sub.ID, err)
	}

	latest, err := p.EpisodesList(ctx, sub.URL)
	if err != nil {
		return res, fmt.Errorf("list episodes of %s: %w", sub.ID, err)
	}
	latestSet := make(EpisodeSet, len(latest))
	for ep := range latest {
		latestSet[ep] = struct{}{}
	}
	res.Latest = latestSet.Sorted()

	res.Missing = latestSet.Minus(local)
	if len(res.Missing) == 0 {
		r.log.Info("reconcile: %s nothing to do", sub.ID)
		res.Outcome = OutcomeUpToDate
		return res, nil
	}

	for _, ep := range res.Missing {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if r.inFlight != nil && r.inFlight.Pending(sub.ID, ep) {
			r.log.Debug("reconcile: %s episode %d already queued", sub.ID, ep)
			res.InFlight = append(res.InFlight, ep)
			continue
		}
		link, err := p.DownloadLink(ctx, latest[ep])
		if err != nil {
			r.log.Error("reconcile: %s episode %d: resolve link: %v", sub.ID, ep, err)
			continue
		}
		if err := r.bus.Publish(eventbus.NewDownloadRequested(sub.Clone(), ep, link)); err != nil {
			r.log.Error("reconcile: %s episode %d: publish download: %v", sub.ID, ep, err)
			continue
		}
		r.log.Info("reconcile: %s episode %d requested (%s)", sub.ID, ep, link.Kind)
		res.Requested = append(res.Requested, ep)
	}
	res.Outcome = OutcomeRequested
	return res, nil
}
