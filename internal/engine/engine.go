// Package engine assembles the watcher: store, event bus, platforms,
// subscription jobs, reconciliation, downloads, filesystem watch and
// staging, and runs the long-lived parts under one errgroup.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/faithleysath/pt-web-automation/internal/config"
	"github.com/faithleysath/pt-web-automation/internal/download"
	"github.com/faithleysath/pt-web-automation/internal/eventbus"
	"github.com/faithleysath/pt-web-automation/internal/metrics"
	"github.com/faithleysath/pt-web-automation/internal/model"
	"github.com/faithleysath/pt-web-automation/internal/platform"
	"github.com/faithleysath/pt-web-automation/internal/platform/script"
	"github.com/faithleysath/pt-web-automation/internal/reconcile"
	"github.com/faithleysath/pt-web-automation/internal/scheduler"
	"github.com/faithleysath/pt-web-automation/internal/staging"
	"github.com/faithleysath/pt-web-automation/internal/store"
	"github.com/faithleysath/pt-web-automation/internal/subscription"
	"github.com/faithleysath/pt-web-automation/internal/watch"
	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

// SourceFactory creates the filesystem notification source of the watcher.
type SourceFactory func() (watch.Source, error)

// Options overrides collaborators, mostly for tests.
type Options struct {
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// Store defaults to the SQLite database below the data dir.
	Store *store.Store
	// Platforms are registered in addition to the built-in and script ones.
	Platforms []platform.Platform
	// Source defaults to fsnotify.
	Source SourceFactory
	// Parser overrides the parser named in the config.
	Parser scheduler.Parser
}

// Engine owns every component of a running watcher.
type Engine struct {
	cfg      *config.Config
	log      logger.Logger
	fs       afero.Fs
	source   SourceFactory
	ownStore bool

	Metrics       *metrics.Collector
	Store         *store.Store
	Bus           *eventbus.Bus
	Platforms     *platform.Registry
	Subscriptions *subscription.Service
	Reconciler    *reconcile.Reconciler
	Queue         *download.Queue
	Stager        *staging.Stager
}

// New builds an engine from a resolved config. The subscription jobs live
// until ctx is cancelled.
func New(ctx context.Context, cfg *config.Config, l logger.Logger, opts Options) (*Engine, error) {
	if l == nil {
		l = logger.NewNopLogger()
	}
	e := &Engine{
		cfg:     cfg,
		log:     l,
		fs:      opts.Fs,
		source:  opts.Source,
		Metrics: metrics.New(),
		Store:   opts.Store,
	}
	if e.fs == nil {
		e.fs = afero.NewOsFs()
	}
	if e.source == nil {
		e.source = func() (watch.Source, error) { return watch.NewFSNotifySource() }
	}
	if e.Store == nil {
		st, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		e.Store = st
		e.ownStore = true
	}

	parser := opts.Parser
	if parser == nil {
		p, err := scheduler.ParserByName(cfg.Schedule.Parser)
		if err != nil {
			e.Close()
			return nil, err
		}
		parser = p
	}

	client, err := NewHTTPClient(cfg)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.Platforms, err = LoadPlatforms(cfg, client, l)
	if err != nil {
		e.Close()
		return nil, err
	}
	for _, p := range opts.Platforms {
		if err := e.Platforms.Register(p); err != nil {
			e.Close()
			return nil, err
		}
	}

	e.Bus = eventbus.New(l, eventbus.WithMetrics(e.Metrics))
	e.Subscriptions = subscription.New(ctx, e.Store, e.Bus, parser, l, e.Metrics)
	e.Reconciler = reconcile.New(e.fs, reconcile.Dirs{Media: cfg.MediaDir, Download: cfg.DownloadDir},
		e.Store, e.Subscriptions, e.Platforms, e.Bus, l, e.Metrics)
	e.Stager = staging.New(e.fs, cfg.DownloadDir, cfg.MediaDir, e.Store, l)

	e.Queue = download.NewQueue(l,
		download.WithMaxRetries(cfg.Download.MaxRetries),
		download.WithMetrics(e.Metrics),
		download.WithFailureHook(e.republish),
	)
	RegisterDownloaders(e.Queue, cfg, e.fs, client, nil, l)
	e.Reconciler.SetInFlight(e.Queue)

	if err := e.subscribeHandlers(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) subscribeHandlers() error {
	subs := []struct {
		kind eventbus.Kind
		h    eventbus.Handler
	}{
		{eventbus.KindSubscriptionTriggered, e.Reconciler.Handler()},
		{eventbus.KindDownloadRequested, e.Queue.Handler()},
		{eventbus.KindFileChanged, e.Stager.Handler()},
	}
	for _, s := range subs {
		if err := e.Bus.Subscribe(s.kind, s.h, 0); err != nil {
			return err
		}
	}
	return nil
}

// republish hands a failed request back to the bus, whose queue handler
// submits it again and so counts the retry.
func (e *Engine) republish(req *eventbus.DownloadRequested, err error) {
	if perr := e.Bus.Publish(req); perr != nil {
		e.log.Error("engine: republish %s episode %d: %v", req.Subscription.ID, req.Episode, perr)
	}
}

// Run starts every long-lived component and blocks until ctx is cancelled
// or one of them fails.
func (e *Engine) Run(ctx context.Context) error {
	kinds, err := e.cfg.WatchKinds()
	if err != nil {
		return err
	}
	src, err := e.source()
	if err != nil {
		return fmt.Errorf("create watch source: %w", err)
	}
	watcher := watch.New(e.cfg.DownloadDir, e.fs, src, e.Bus, kinds, e.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := e.Bus.Run(gctx); !errors.Is(err, eventbus.ErrBusStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := e.Queue.Run(gctx); !errors.Is(err, download.ErrQueueStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error { return watcher.Run(gctx) })
	if addr := e.cfg.Metrics.Listen; addr != "" {
		g.Go(func() error { return metrics.Serve(gctx, addr, e.Metrics, e.log) })
	}
	g.Go(func() error {
		if err := e.Subscriptions.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		e.Subscriptions.Stop()
		e.Queue.Stop()
		e.Bus.Stop()
		watcher.Stop()
		return nil
	})

	e.log.Info("engine: running, platforms %v, downloads %s, media %s",
		e.Platforms.Names(), e.cfg.DownloadDir, e.cfg.MediaDir)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	e.log.Info("engine: stopped")
	return err
}

// Check runs one reconciliation pass for id outside the schedule. Download
// requests go to pub instead of the bus.
func (e *Engine) Check(ctx context.Context, id string, pub reconcile.Publisher) (reconcile.Result, error) {
	sub, err := e.Store.GetByID(ctx, id)
	if err != nil {
		return reconcile.Result{}, err
	}
	r := reconcile.New(e.fs, reconcile.Dirs{Media: e.cfg.MediaDir, Download: e.cfg.DownloadDir},
		e.Store, e.Subscriptions, e.Platforms, pub, e.log, e.Metrics)
	return r.Reconcile(ctx, *sub)
}

// Fs returns the filesystem the engine works on.
func (e *Engine) Fs() afero.Fs { return e.fs }

// Close releases the store if the engine opened it.
func (e *Engine) Close() error {
	if e.ownStore && e.Store != nil {
		return e.Store.Close()
	}
	return nil
}

// NewHTTPClient builds the client used for platforms and media.
func NewHTTPClient(cfg *config.Config) (*http.Client, error) {
	return platform.NewHTTPClient(cfg.Proxy, cfg.HTTPTimeout)
}

// LoadPlatforms registers the built-in platforms and every script platform
// found below cfg.PlatformDir.
func LoadPlatforms(cfg *config.Config, client *http.Client, l logger.Logger) (*platform.Registry, error) {
	reg := platform.NewRegistry()
	if err := reg.Register(platform.NewIndex(client)); err != nil {
		return nil, err
	}
	if cfg.PlatformDir == "" {
		return reg, nil
	}
	scripts, err := script.LoadDir(cfg.PlatformDir, client, l)
	if err != nil {
		return nil, err
	}
	for _, p := range scripts {
		if err := reg.Register(p); err != nil {
			l.Error("engine: platform %s: %v", p.Name(), err)
		}
	}
	return reg, nil
}

// RegisterDownloaders installs the downloaders enabled by cfg on q.
func RegisterDownloaders(q *download.Queue, cfg *config.Config, fs afero.Fs, client *http.Client, progress download.ProgressFunc, l logger.Logger) {
	target := download.Target{Fs: fs, Root: cfg.DownloadDir}
	hls := download.NewHLSDownloader(target, client, l)
	hls.Progress = progress
	q.Register(model.FileM3U8, hls)
	if !cfg.Download.Direct {
		return
	}
	file := download.NewFileDownloader(target, client, l)
	file.Progress = progress
	for _, kind := range []model.FileKind{model.FileMP4, model.FileMKV, model.FileASS} {
		q.Register(kind, file)
	}
}
