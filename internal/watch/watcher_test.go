package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/faithleysath/pt-web-automation/internal/eventbus"
	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

type fakeSource struct {
	mu      sync.Mutex
	added   []string
	closed  int
	addErr  error
	changes chan Change
	errs    chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{changes: make(chan Change), errs: make(chan error)}
}

func (f *fakeSource) Add(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, path)
	return nil
}

func (f *fakeSource) Changes() <-chan Change { return f.changes }
func (f *fakeSource) Errors() <-chan error   { return f.errs }

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeSource) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSource) watched(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.added {
		if p == path {
			return true
		}
	}
	return false
}

type capture struct {
	mu     sync.Mutex
	events []*eventbus.FileChanged
}

func (c *capture) Publish(ev eventbus.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev.(*eventbus.FileChanged))
	return nil
}

func (c *capture) snapshot() []*eventbus.FileChanged {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*eventbus.FileChanged(nil), c.events...)
}

func runWatcher(t *testing.T, w *Watcher, ctx context.Context) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return done
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
		return nil
	}
}

func TestWatcherFiltersKindsAndWatchesNewDirs(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/dl/existing", 0o755)
	src := newFakeSource()
	bus := &capture{}
	w := New("/dl", fs, src, bus, []eventbus.ChangeKind{eventbus.ChangeAdded, eventbus.ChangeRenamed}, nil)
	done := runWatcher(t, w, context.Background())

	// unbuffered channel: each send returns once Run has picked it up
	_ = fs.MkdirAll("/dl/sub2", 0o755)
	src.changes <- Change{Kind: eventbus.ChangeAdded, Path: "/dl/sub2"}
	src.changes <- Change{Kind: eventbus.ChangeModified, Path: "/dl/sub2/E01.ts.part"}
	src.changes <- Change{Kind: eventbus.ChangeRenamed, Path: "/dl/sub2/E01.ts.part"}
	src.changes <- Change{Kind: eventbus.ChangeAdded, Path: "/dl/sub2/E01.ts"}
	w.Stop()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("Run = %v", err)
	}

	for _, dir := range []string{"/dl", "/dl/existing", "/dl/sub2"} {
		if !src.watched(dir) {
			t.Errorf("%s not watched", dir)
		}
	}
	got := bus.snapshot()
	if len(got) != 3 {
		t.Fatalf("published %d events, want 3", len(got))
	}
	if got[2].Change != eventbus.ChangeAdded || got[2].Path != "/dl/sub2/E01.ts" {
		t.Fatalf("last event = %+v", got[2])
	}
	for _, ev := range got {
		if ev.Change == eventbus.ChangeModified {
			t.Fatalf("modified event published: %+v", ev)
		}
	}
	if src.closeCount() != 1 {
		t.Fatalf("source closed %d times", src.closeCount())
	}
}

func TestWatcherContextCancelClosesSource(t *testing.T) {
	src := newFakeSource()
	w := New("/dl", afero.NewMemMapFs(), src, &capture{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := runWatcher(t, w, ctx)

	cancel()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if src.closeCount() != 1 {
		t.Fatal("source not closed on cancel")
	}
	w.Stop()
	w.Stop()
}

func TestWatcherErrorTeardownClosesSource(t *testing.T) {
	src := newFakeSource()
	src.addErr = errors.New("too many watches")
	w := New("/dl", afero.NewMemMapFs(), src, &capture{}, nil, nil)
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected add error")
	}
	if src.closeCount() != 1 {
		t.Fatal("source not closed on error")
	}

	src = newFakeSource()
	log := logger.NewMockLogger()
	w = New("/dl", afero.NewMemMapFs(), src, &capture{}, nil, log)
	done := runWatcher(t, w, context.Background())
	src.errs <- errors.New("queue overflow")
	close(src.changes)
	if err := waitErr(t, done); !errors.Is(err, ErrSourceClosed) {
		t.Fatalf("Run = %v", err)
	}
	if src.closeCount() != 1 || !log.HasError("queue overflow") {
		t.Fatalf("closed=%d errors=%v", src.closeCount(), log.Errors())
	}
}

func TestFSNotifySource(t *testing.T) {
	root := t.TempDir()
	src, err := NewFSNotifySource()
	if err != nil {
		t.Fatal(err)
	}
	bus := &capture{}
	w := New(root, afero.NewOsFs(), src, bus, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := runWatcher(t, w, ctx)
	defer func() {
		cancel()
		waitErr(t, done)
	}()

	// Run adds the root before it starts reading events.
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(root, "E01.ts")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range bus.snapshot() {
			if ev.Path == path && ev.Change == eventbus.ChangeAdded {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no added event for %s, got %v", path, bus.snapshot())
}
