package watch

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/faithleysath/pt-web-automation/internal/eventbus"
)

// Change is one filesystem notification.
type Change struct {
	Kind eventbus.ChangeKind
	Path string
}

// Source delivers raw filesystem notifications for watched directories.
type Source interface {
	// Add starts watching a single directory.
	Add(path string) error
	Changes() <-chan Change
	Errors() <-chan error
	Close() error
}

// FSNotifySource is a Source backed by fsnotify.
type FSNotifySource struct {
	w       *fsnotify.Watcher
	changes chan Change
	closing chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewFSNotifySource() (*FSNotifySource, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	s := &FSNotifySource{
		w:       w,
		changes: make(chan Change, 64),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.translate()
	return s, nil
}

func (s *FSNotifySource) Add(path string) error { return s.w.Add(path) }

func (s *FSNotifySource) Changes() <-chan Change { return s.changes }

func (s *FSNotifySource) Errors() <-chan error { return s.w.Errors }

// Close is safe to call more than once.
func (s *FSNotifySource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closing)
		err = s.w.Close()
		<-s.done
	})
	return err
}

func (s *FSNotifySource) translate() {
	defer close(s.done)
	defer close(s.changes)
	for ev := range s.w.Events {
		kind, ok := changeKind(ev.Op)
		if !ok {
			continue
		}
		select {
		case s.changes <- Change{Kind: kind, Path: ev.Name}:
		case <-s.closing:
			return
		}
	}
}

// changeKind maps an fsnotify op to a ChangeKind. Chmod is ignored.
func changeKind(op fsnotify.Op) (eventbus.ChangeKind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return eventbus.ChangeAdded, true
	case op.Has(fsnotify.Write):
		return eventbus.ChangeModified, true
	case op.Has(fsnotify.Remove):
		return eventbus.ChangeDeleted, true
	case op.Has(fsnotify.Rename):
		return eventbus.ChangeRenamed, true
	default:
		return 0, false
	}
}
