package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"

	"github.com/faithleysath/pt-web-automation/cmd/common"
	"github.com/faithleysath/pt-web-automation/internal/config"
	"github.com/faithleysath/pt-web-automation/internal/download"
	"github.com/faithleysath/pt-web-automation/internal/engine"
	"github.com/faithleysath/pt-web-automation/internal/eventbus"
	"github.com/faithleysath/pt-web-automation/internal/model"
	"github.com/faithleysath/pt-web-automation/internal/reconcile"
	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

var (
	checkDownload bool

	checkFlags = []cli.Flag{
		cli.BoolFlag{
			Name:        "download, d",
			Usage:       "download the missing episodes now (default: false)",
			Destination: &checkDownload,
		},
	}
)

// collector keeps the download requests of a one-shot reconciliation.
type collector struct {
	mu   sync.Mutex
	reqs []*eventbus.DownloadRequested
}

func (c *collector) Publish(ev eventbus.Event) error {
	req, ok := ev.(*eventbus.DownloadRequested)
	if !ok {
		return nil
	}
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	c.mu.Unlock()
	return nil
}

// withEngine builds an engine that is never run, for the one-shot commands.
func withEngine(ctx *cli.Context, cmd string, fn func(context.Context, *config.Config, *engine.Engine, logger.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		common.PrintRuntimeErr(ctx, cmd, "load_config", err)
		return nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		common.PrintRuntimeErr(ctx, cmd, "data_dir", err)
		return nil
	}
	l, err := cliLogger(cfg)
	if err != nil {
		common.PrintRuntimeErr(ctx, cmd, "logger", err)
		return nil
	}
	defer l.Close()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := engine.New(sigCtx, cfg, l, engine.Options{})
	if err != nil {
		common.PrintRuntimeErr(ctx, cmd, "engine", err)
		return nil
	}
	defer e.Close()
	return fn(sigCtx, cfg, e, l)
}

func check(ctx *cli.Context) error {
	id := ctx.Args().First()
	if id == "" {
		return common.PrintErrWithCmdHelp(ctx, errMissingID)
	}
	if id == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	return withEngine(ctx, "check", func(c context.Context, cfg *config.Config, e *engine.Engine, l logger.Logger) error {
		var reqs collector
		res, err := e.Check(c, id, &reqs)
		if err != nil {
			common.PrintRuntimeErr(ctx, "check", "reconcile", err)
			return nil
		}
		fmt.Println(renderResult(id, res))
		if !checkDownload || len(reqs.reqs) == 0 {
			return nil
		}
		failed := downloadNow(c, cfg, e, l, reqs.reqs)
		if failed > 0 {
			common.PrintRuntimeErr(ctx, "check", "download", fmt.Errorf("%d of %d episodes failed", failed, len(reqs.reqs)))
		}
		return nil
	})
}

func renderResult(id string, res reconcile.Result) string {
	return renderFields([][2]string{
		{"Subscription", id},
		{"Outcome", string(res.Outcome)},
		{"Local", joinEpisodes(res.Local)},
		{"Remote", joinEpisodes(res.Latest)},
		{"Missing", joinEpisodes(res.Missing)},
		{"Requested", joinEpisodes(res.Requested)},
		{"In flight", joinEpisodes(res.InFlight)},
	})
}

func joinEpisodes(eps []int) string {
	if len(eps) == 0 {
		return "-"
	}
	parts := make([]string, len(eps))
	for i, ep := range eps {
		parts[i] = fmt.Sprintf("E%02d", ep)
	}
	return strings.Join(parts, " ")
}

func fetch(ctx *cli.Context) error {
	id := ctx.Args().First()
	if id == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	if id == "" || ctx.NArg() < 2 {
		return common.PrintErrWithCmdHelp(ctx, errors.New("usage: fetch <id> <episode>"))
	}
	ep, err := strconv.Atoi(ctx.Args().Get(1))
	if err != nil || ep <= 0 {
		return common.PrintErrWithCmdHelp(ctx, fmt.Errorf("invalid episode %q", ctx.Args().Get(1)))
	}
	return withEngine(ctx, "fetch", func(c context.Context, cfg *config.Config, e *engine.Engine, l logger.Logger) error {
		req, err := resolveEpisode(c, e, id, ep)
		if err != nil {
			common.PrintRuntimeErr(ctx, "fetch", "resolve", err)
			return nil
		}
		if downloadNow(c, cfg, e, l, []*eventbus.DownloadRequested{req}) > 0 {
			common.PrintRuntimeErr(ctx, "fetch", "download", fmt.Errorf("episode %d failed", ep))
		}
		return nil
	})
}

// resolveEpisode asks the subscription's platform for the link of episode ep.
func resolveEpisode(ctx context.Context, e *engine.Engine, id string, ep int) (*eventbus.DownloadRequested, error) {
	sub, err := e.Store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := e.Platforms.Get(sub.Platform)
	if err != nil {
		return nil, err
	}
	refs, err := p.EpisodesList(ctx, sub.URL)
	if err != nil {
		return nil, err
	}
	ref, ok := refs[ep]
	if !ok {
		return nil, fmt.Errorf("episode %d is not available on %s", ep, p.Name())
	}
	link, err := p.DownloadLink(ctx, ref)
	if err != nil {
		return nil, err
	}
	return eventbus.NewDownloadRequested(sub.Clone(), ep, link), nil
}

// downloadNow runs reqs through a private queue with progress bars and
// returns the number of requests that did not finish.
func downloadNow(ctx context.Context, cfg *config.Config, e *engine.Engine, l logger.Logger, reqs []*eventbus.DownloadRequested) int {
	p := mpb.NewWithContext(ctx)
	tr := &tracker{
		p:      p,
		bars:   make(map[*eventbus.DownloadRequested]*mpb.Bar),
		failed: make(map[*eventbus.DownloadRequested]bool),
		full:   make(map[*eventbus.DownloadRequested]bool),
	}

	var q *download.Queue
	q = download.NewQueue(l,
		download.WithMaxRetries(cfg.Download.MaxRetries),
		download.WithFailureHook(func(req *eventbus.DownloadRequested, err error) {
			tr.fail(req)
			_ = q.Submit(req)
		}),
	)
	client, err := engine.NewHTTPClient(cfg)
	if err != nil {
		l.Error("download: %v", err)
		return len(reqs)
	}
	engine.RegisterDownloaders(q, cfg, e.Fs(), client, tr.progress, l)
	kinds := make(map[model.FileKind]bool)
	for _, k := range q.Kinds() {
		kinds[k] = true
	}
	for _, req := range reqs {
		tr.bar(req)
		if !kinds[req.Link.Kind] {
			l.Warning("download: %s episode %d: no downloader for %q", req.Subscription.ID, req.Episode, req.Link.Kind)
			tr.fail(req)
			continue
		}
		if err := q.Submit(req); err != nil {
			tr.fail(req)
		}
	}
	q.Drain(ctx)
	failed := tr.finish(ctx.Err() != nil)
	p.Wait()
	return failed
}

// tracker maps download progress of requests onto mpb bars.
type tracker struct {
	p      *mpb.Progress
	mu     sync.Mutex
	bars   map[*eventbus.DownloadRequested]*mpb.Bar
	failed map[*eventbus.DownloadRequested]bool
	full   map[*eventbus.DownloadRequested]bool
}

func (t *tracker) bar(req *eventbus.DownloadRequested) *mpb.Bar {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bars[req]
	if !ok {
		name := fmt.Sprintf("%s E%02d", req.Subscription.SeasonFolder(), req.Episode)
		b = common.InitBar(t.p, name, 0)
		t.bars[req] = b
	}
	return b
}

func (t *tracker) progress(req *eventbus.DownloadRequested, done, total int64) {
	b := t.bar(req)
	t.mu.Lock()
	delete(t.failed, req)
	t.full[req] = total > 0 && done >= total
	t.mu.Unlock()
	if total > 0 {
		b.SetTotal(total, false)
	}
	b.SetCurrent(done)
}

func (t *tracker) fail(req *eventbus.DownloadRequested) {
	t.mu.Lock()
	t.failed[req] = true
	t.mu.Unlock()
}

// finish completes the bars of finished requests and aborts the others.
// After an interrupt every request that did not reach its total counts
// as failed.
func (t *tracker) finish(interrupted bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for req, b := range t.bars {
		if t.failed[req] || (interrupted && !t.full[req]) {
			n++
			b.Abort(false)
			continue
		}
		b.SetTotal(-1, true)
	}
	return n
}
