package reconcile

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/faithleysath/pt-web-automation/internal/eventbus"
	"github.com/faithleysath/pt-web-automation/internal/metrics"
	"github.com/faithleysath/pt-web-automation/internal/model"
	"github.com/faithleysath/pt-web-automation/internal/platform"
	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

type fakeRepo struct {
	mu      sync.Mutex
	updates map[string]model.Status
}

func (f *fakeRepo) UpdateStatus(_ context.Context, id string, status model.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updates == nil {
		f.updates = make(map[string]model.Status)
	}
	f.updates[id] = status
	return nil
}

type fakeJobs struct{ updated []string }

func (f *fakeJobs) UpdateSubscription(_ context.Context, id string) error {
	f.updated = append(f.updated, id)
	return nil
}

type fakePlatform struct {
	name      string
	episodes  map[int]model.RemoteRef
	listErr   error
	linkErr   map[int]bool
	listCalls int
	linkCalls []model.RemoteRef
}

func (f *fakePlatform) Name() string { return f.name }

func (f *fakePlatform) EpisodesList(context.Context, string) (map[int]model.RemoteRef, error) {
	f.listCalls++
	return f.episodes, f.listErr
}

func (f *fakePlatform) DownloadLink(_ context.Context, ref model.RemoteRef) (model.DownloadLink, error) {
	f.linkCalls = append(f.linkCalls, ref)
	for ep, r := range f.episodes {
		if r == ref && f.linkErr[ep] {
			return model.DownloadLink{}, errors.New("link expired")
		}
	}
	return model.DownloadLink{URL: "https://cdn.example/" + string(ref) + ".m3u8", Kind: model.FileM3U8}, nil
}

type capture struct{ events []eventbus.Event }

func (c *capture) Publish(ev eventbus.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *capture) episodes() []int {
	var out []int
	for _, ev := range c.events {
		if dr, ok := ev.(*eventbus.DownloadRequested); ok {
			out = append(out, dr.Episode)
		}
	}
	return out
}

type fixture struct {
	fs   afero.Fs
	repo *fakeRepo
	jobs *fakeJobs
	plat *fakePlatform
	bus  *capture
	log  *logger.MockLogger
	m    *metrics.Collector
	r    *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		fs:   afero.NewMemMapFs(),
		repo: &fakeRepo{},
		jobs: &fakeJobs{},
		plat: &fakePlatform{name: "baha"},
		bus:  &capture{},
		log:  logger.NewMockLogger(),
		m:    metrics.New(),
	}
	reg := platform.NewRegistry()
	if err := reg.Register(f.plat); err != nil {
		t.Fatal(err)
	}
	f.r = New(f.fs, Dirs{Media: "/media", Download: "/downloads"}, f.repo, f.jobs, reg, f.bus, f.log, f.m)
	return f
}

func (f *fixture) touch(t *testing.T, path string) {
	t.Helper()
	if err := afero.WriteFile(f.fs, path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testSub(expected int, recorded ...int) model.Subscription {
	ids := make(map[int]string)
	for _, ep := range recorded {
		ids[ep] = fmt.Sprintf("t%d", ep)
	}
	return model.Subscription{
		ID:         "sub1",
		Platform:   "baha",
		URL:        "https://ani.example/sn=1",
		FolderName: "Show.S01",
		Status:     model.StatusUpdating,
		Media:      model.MediaMetadata{Title: "Show", EpisodeCount: expected},
		TorrentIDs: ids,
	}
}

func TestEpisodeNumber(t *testing.T) {
	tests := []struct {
		name string
		want int
		ok   bool
	}{
		{"E01.ts", 1, true},
		{"Show.S01E12.1080p.mkv", 12, true},
		{"Show.S01.E3.mp4", 3, true},
		{"E00.ts", 0, false},
		{"episode-one.mkv", 0, false},
		{"e05.mkv", 0, false},
	}
	for _, tt := range tests {
		got, ok := EpisodeNumber(tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("EpisodeNumber(%q) = %d, %v; want %d, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestScanEpisodesSkipsPartialAndMalformed(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, name := range []string{"/a/E01.ts", "/a/E02.ts.part", "/a/notes.txt", "/b/Show.E03.mkv", "/a/E04/inner.ts"} {
		if err := afero.WriteFile(fs, name, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	set, err := ScanEpisodes(fs, "/a", "/b", "/missing")
	if err != nil {
		t.Fatal(err)
	}
	if got := set.Sorted(); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Fatalf("ScanEpisodes = %v", got)
	}
}

func TestCompleteWhenAllCountsAgree(t *testing.T) {
	f := newFixture(t)
	for ep := 1; ep <= 5; ep++ {
		f.touch(t, fmt.Sprintf("/media/Show.S01/Show.S01.E%02d.mkv", ep))
	}

	res, err := f.r.Reconcile(context.Background(), testSub(5, 1, 2, 3, 4, 5))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if f.repo.updates["sub1"] != model.StatusCompleted {
		t.Fatalf("status not persisted: %v", f.repo.updates)
	}
	if len(f.jobs.updated) != 1 || f.jobs.updated[0] != "sub1" {
		t.Fatalf("job not retired: %v", f.jobs.updated)
	}
	if f.plat.listCalls != 0 || len(f.bus.events) != 0 {
		t.Fatalf("platform consulted after completion: list=%d events=%d", f.plat.listCalls, len(f.bus.events))
	}
}

func TestRequestsOnlyMissingEpisodes(t *testing.T) {
	f := newFixture(t)
	f.touch(t, "/media/Show.S01/Show.S01.E01.mkv")
	f.touch(t, "/media/Show.S01/Show.S01.E02.mkv")
	f.plat.episodes = map[int]model.RemoteRef{1: "r1", 2: "r2", 3: "r3"}

	res, err := f.r.Reconcile(context.Background(), testSub(12, 1, 2))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeRequested {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if got := f.bus.episodes(); !reflect.DeepEqual(got, []int{3}) {
		t.Fatalf("requested = %v", got)
	}
	dr := f.bus.events[0].(*eventbus.DownloadRequested)
	if dr.RetryCount != 0 || dr.Link.URL != "https://cdn.example/r3.m3u8" || dr.Subscription.ID != "sub1" {
		t.Fatalf("request = %+v", dr)
	}
	if len(f.repo.updates) != 0 {
		t.Fatalf("status changed: %v", f.repo.updates)
	}
}

func TestDownloadFolderCountsAsLocal(t *testing.T) {
	f := newFixture(t)
	f.touch(t, "/media/Show.S01/Show.S01.E01.mkv")
	f.touch(t, "/downloads/sub1/E02.ts")
	f.touch(t, "/downloads/sub1/E03.ts.part")
	f.plat.episodes = map[int]model.RemoteRef{1: "r1", 2: "r2", 3: "r3", 4: "r4"}

	if _, err := f.r.Reconcile(context.Background(), testSub(12, 1)); err != nil {
		t.Fatal(err)
	}
	if got := f.bus.episodes(); !reflect.DeepEqual(got, []int{3, 4}) {
		t.Fatalf("requested = %v, want ascending [3 4]", got)
	}
	if !f.log.HasWarning("local only [2]") {
		t.Errorf("expected discrepancy warning, got %v", f.log.Warnings())
	}
}

type queuedEpisodes map[int]bool

func (q queuedEpisodes) Pending(subID string, episode int) bool {
	return subID == "sub1" && q[episode]
}

func TestSkipsEpisodesStillDownloading(t *testing.T) {
	f := newFixture(t)
	f.touch(t, "/downloads/sub1/E02.ts.part")
	f.plat.episodes = map[int]model.RemoteRef{1: "r1", 2: "r2", 3: "r3"}
	f.r.SetInFlight(queuedEpisodes{2: true})

	res, err := f.r.Reconcile(context.Background(), testSub(12))
	if err != nil {
		t.Fatal(err)
	}
	if got := f.bus.episodes(); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Fatalf("requested = %v, want [1 3]", got)
	}
	if !reflect.DeepEqual(res.InFlight, []int{2}) || !reflect.DeepEqual(res.Missing, []int{1, 2, 3}) {
		t.Fatalf("result = %+v", res)
	}
}

func TestNothingToDo(t *testing.T) {
	f := newFixture(t)
	f.touch(t, "/media/Show.S01/E01.mkv")
	f.plat.episodes = map[int]model.RemoteRef{1: "r1"}

	res, err := f.r.Reconcile(context.Background(), testSub(12, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeUpToDate || len(f.bus.events) != 0 {
		t.Fatalf("outcome = %s, events = %d", res.Outcome, len(f.bus.events))
	}
	if !f.log.HasInfo("nothing to do") {
		t.Errorf("expected nothing-to-do log, got %v", f.log.Infos())
	}
}

func TestUnknownPlatformAborts(t *testing.T) {
	f := newFixture(t)
	sub := testSub(12)
	sub.Platform = "nope"

	res, err := f.r.Reconcile(context.Background(), sub)
	if !errors.Is(err, platform.ErrPlatformNotFound) {
		t.Fatalf("err = %v", err)
	}
	if res.Outcome != OutcomeAborted || len(f.bus.events) != 0 {
		t.Fatalf("outcome = %s, events = %d", res.Outcome, len(f.bus.events))
	}
}

func TestListFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.plat.listErr = errors.New("403")

	if _, err := f.r.Reconcile(context.Background(), testSub(12)); err == nil {
		t.Fatal("expected error")
	}
	if len(f.bus.events) != 0 {
		t.Fatalf("published %d events", len(f.bus.events))
	}
}

func TestLinkFailureContinues(t *testing.T) {
	f := newFixture(t)
	f.plat.episodes = map[int]model.RemoteRef{1: "r1", 2: "r2", 3: "r3"}
	f.plat.linkErr = map[int]bool{2: true}

	if _, err := f.r.Reconcile(context.Background(), testSub(12)); err != nil {
		t.Fatal(err)
	}
	if got := f.bus.episodes(); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Fatalf("requested = %v", got)
	}
	if !f.log.HasError("episode 2") {
		t.Errorf("expected link error log, got %v", f.log.Errors())
	}
}

func TestZeroExpectedNeverCompletes(t *testing.T) {
	f := newFixture(t)
	f.plat.episodes = map[int]model.RemoteRef{}

	res, err := f.r.Reconcile(context.Background(), testSub(0))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeUpToDate || len(f.repo.updates) != 0 {
		t.Fatalf("outcome = %s, updates = %v", res.Outcome, f.repo.updates)
	}
}

func TestHandlerAcceptsTriggeredEvents(t *testing.T) {
	f := newFixture(t)
	f.plat.episodes = map[int]model.RemoteRef{1: "r1"}

	h := f.r.Handler()
	if h.Accepts() != eventbus.KindSubscriptionTriggered {
		t.Fatalf("Accepts() = %s", h.Accepts())
	}
	if err := h.Handle(context.Background(), eventbus.NewSubscriptionTriggered(testSub(12))); err != nil {
		t.Fatal(err)
	}
	if got := f.bus.episodes(); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("requested = %v", got)
	}
}
