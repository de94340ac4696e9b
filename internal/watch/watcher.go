// Package watch turns filesystem notifications below a root directory into
// FileChanged events.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"sync"

	"github.com/spf13/afero"

	"github.com/faithleysath/pt-web-automation/internal/eventbus"
	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

var (
	ErrSourceClosed   = errors.New("watch: source closed")
	ErrAlreadyRunning = errors.New("watch: already running")
)

// DefaultKinds are published when no kinds are configured.
var DefaultKinds = []eventbus.ChangeKind{eventbus.ChangeAdded}

// Publisher accepts events for asynchronous delivery.
type Publisher interface {
	Publish(ev eventbus.Event) error
}

// Watcher observes Root recursively through a Source.
type Watcher struct {
	root  string
	fs    afero.Fs
	src   Source
	bus   Publisher
	kinds map[eventbus.ChangeKind]bool
	log   logger.Logger

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Watcher. fs is used to walk directories so newly created
// subdirectories get watched too.
func New(root string, fsys afero.Fs, src Source, bus Publisher, kinds []eventbus.ChangeKind, l logger.Logger) *Watcher {
	if l == nil {
		l = logger.NewNopLogger()
	}
	if len(kinds) == 0 {
		kinds = DefaultKinds
	}
	set := make(map[eventbus.ChangeKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return &Watcher{
		root:   root,
		fs:     fsys,
		src:    src,
		bus:    bus,
		kinds:  set,
		log:    l,
		stopCh: make(chan struct{}),
	}
}

// Run watches until ctx is done, Stop is called or the source fails. The
// source is closed when Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		if err := w.src.Close(); err != nil {
			w.log.Warning("watch: close source: %v", err)
		}
	}()

	if err := w.fs.MkdirAll(w.root, 0o755); err != nil {
		return err
	}
	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.log.Info("watch: watching %s", w.root)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopCh:
			return nil
		case err, ok := <-w.src.Errors():
			if !ok {
				return ErrSourceClosed
			}
			w.log.Error("watch: %v", err)
		case c, ok := <-w.src.Changes():
			if !ok {
				return ErrSourceClosed
			}
			w.handle(c)
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *Watcher) handle(c Change) {
	if c.Kind == eventbus.ChangeAdded {
		if fi, err := w.fs.Stat(c.Path); err == nil && fi.IsDir() {
			if err := w.addTree(c.Path); err != nil {
				w.log.Error("watch: add %s: %v", c.Path, err)
			}
		}
	}
	if !w.kinds[c.Kind] {
		return
	}
	w.log.Debug("watch: %s %s", c.Kind, c.Path)
	if err := w.bus.Publish(eventbus.NewFileChanged(c.Kind, c.Path)); err != nil {
		w.log.Error("watch: publish %s: %v", c.Path, err)
	}
}

// addTree watches dir and every directory below it.
func (w *Watcher) addTree(dir string) error {
	return afero.Walk(w.fs, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			return nil
		}
		return w.src.Add(path)
	})
}
