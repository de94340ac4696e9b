package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/faithleysath/pt-web-automation/cmd/common"
	"github.com/faithleysath/pt-web-automation/internal/config"
	"github.com/faithleysath/pt-web-automation/internal/model"
	"github.com/faithleysath/pt-web-automation/internal/scheduler"
	"github.com/faithleysath/pt-web-automation/internal/store"
)

var (
	errMissingID = errors.New("subscription id is required")

	addID         string
	addPlatform   string
	addURL        string
	addTitle      string
	addEpisodes   int
	addCron       string
	addResolution string
	addFolder     string

	subAddFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "platform, p",
			Usage:       "name of the platform serving the title",
			Destination: &addPlatform,
		},
		cli.StringFlag{
			Name:        "url, u",
			Usage:       "page or index url of the title on the platform",
			Destination: &addURL,
		},
		cli.StringFlag{
			Name:        "title, t",
			Usage:       "title of the series",
			Destination: &addTitle,
		},
		cli.IntFlag{
			Name:        "episodes, e",
			Usage:       "announced number of episodes (0 if unknown)",
			Destination: &addEpisodes,
		},
		cli.StringFlag{
			Name:        "cron",
			Usage:       "polling schedule",
			Value:       "0 * * * *",
			Destination: &addCron,
		},
		cli.StringFlag{
			Name:        "resolution, r",
			Usage:       "preferred resolution: 480p, 720p, 1080p or 2160p",
			Value:       string(model.ResolutionFHD),
			Destination: &addResolution,
		},
		cli.StringFlag{
			Name:        "folder, f",
			Usage:       "season folder name below the media directory (default: the id)",
			Destination: &addFolder,
		},
		cli.StringFlag{
			Name:        "id",
			Usage:       "explicit subscription id (default: a random uuid)",
			Destination: &addID,
		},
	}

	listStatus string

	subListFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "status, s",
			Usage:       "only list subscriptions with this status",
			Destination: &listStatus,
		},
	}

	updateCron   string
	updateFolder string

	subUpdateFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "cron",
			Usage:       "new polling schedule",
			Destination: &updateCron,
		},
		cli.StringFlag{
			Name:        "folder, f",
			Usage:       "new season folder name",
			Destination: &updateFolder,
		},
	}
)

// withStore loads the config, opens the store and runs fn with it.
func withStore(ctx *cli.Context, cmd string, fn func(context.Context, *config.Config, *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		common.PrintRuntimeErr(ctx, cmd, "load_config", err)
		return nil
	}
	st, err := openStore(cfg)
	if err != nil {
		common.PrintRuntimeErr(ctx, cmd, "open_store", err)
		return nil
	}
	defer st.Close()
	return fn(context.Background(), cfg, st)
}

func subAdd(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	if addPlatform == "" || addURL == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("--platform and --url are required"))
	}
	res, err := model.ParseResolution(addResolution)
	if err != nil {
		return common.PrintErrWithCmdHelp(ctx, err)
	}
	return withStore(ctx, "sub-add", func(c context.Context, cfg *config.Config, st *store.Store) error {
		if err := validateCron(cfg, addCron); err != nil {
			common.PrintRuntimeErr(ctx, "sub-add", "cron", err)
			return nil
		}
		sub, err := st.CreateFromMetadata(c, model.Subscription{
			ID:         addID,
			Platform:   addPlatform,
			URL:        addURL,
			CronExpr:   addCron,
			Resolution: res,
			FolderName: addFolder,
			Media: model.MediaMetadata{
				Title:        addTitle,
				MediaType:    model.MediaTVShow,
				EpisodeCount: addEpisodes,
			},
		})
		if err != nil {
			common.PrintRuntimeErr(ctx, "sub-add", "create", err)
			return nil
		}
		fmt.Printf("ptauto: added subscription %s\n", sub.ID)
		return nil
	})
}

func validateCron(cfg *config.Config, expr string) error {
	parser, err := scheduler.ParserByName(cfg.Schedule.Parser)
	if err != nil {
		return err
	}
	_, err = parser.Parse(expr)
	return err
}

func subList(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	return withStore(ctx, "sub-list", func(c context.Context, _ *config.Config, st *store.Store) error {
		var (
			subs []model.Subscription
			err  error
		)
		if listStatus != "" {
			status, perr := model.ParseStatus(listStatus)
			if perr != nil {
				return common.PrintErrWithCmdHelp(ctx, perr)
			}
			subs, err = st.GetByStatus(c, status)
		} else {
			subs, err = st.List(c)
		}
		if err != nil {
			common.PrintRuntimeErr(ctx, "sub-list", "query", err)
			return nil
		}
		if len(subs) == 0 {
			fmt.Println("ptauto: no subscriptions found")
			return nil
		}
		fmt.Println(renderSubscriptions(subs))
		return nil
	})
}

func renderSubscriptions(subs []model.Subscription) string {
	rows := make([][]string, 0, len(subs))
	for i := range subs {
		s := &subs[i]
		rows = append(rows, []string{
			s.ID,
			s.Media.Title,
			s.Platform,
			string(s.Status),
			s.CronExpr,
			episodeProgress(s),
		})
	}
	return renderTable(
		[]string{"ID", "Title", "Platform", "Status", "Schedule", "Episodes"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	)
}

func episodeProgress(s *model.Subscription) string {
	if s.ExpectedEpisodes() == 0 {
		return strconv.Itoa(len(s.TorrentIDs)) + " / ?"
	}
	return fmt.Sprintf("%d / %d", len(s.TorrentIDs), s.ExpectedEpisodes())
}

func subShow(ctx *cli.Context) error {
	id := ctx.Args().First()
	if id == "" {
		return common.PrintErrWithCmdHelp(ctx, errMissingID)
	}
	if id == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	return withStore(ctx, "sub-show", func(c context.Context, _ *config.Config, st *store.Store) error {
		sub, err := st.GetByID(c, id)
		if err != nil {
			common.PrintRuntimeErr(ctx, "sub-show", "get", err)
			return nil
		}
		fmt.Println(renderSubscription(sub))
		return nil
	})
}

func renderSubscription(s *model.Subscription) string {
	torrents := make([]string, 0, len(s.TorrentIDs))
	for _, ep := range s.RecordedEpisodes() {
		torrents = append(torrents, fmt.Sprintf("E%02d=%s", ep, s.TorrentIDs[ep]))
	}
	return renderFields([][2]string{
		{"ID", s.ID},
		{"Title", s.Media.Title},
		{"Platform", s.Platform},
		{"URL", s.URL},
		{"Status", string(s.Status)},
		{"Schedule", s.CronExpr},
		{"Resolution", string(s.Resolution)},
		{"Folder", s.SeasonFolder()},
		{"Episodes", episodeProgress(s)},
		{"Torrents", strings.Join(torrents, " ")},
		{"Created", formatTime(s.CreatedAt)},
		{"Updated", formatTime(s.UpdatedAt)},
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func subUpdate(ctx *cli.Context) error {
	id := ctx.Args().First()
	if id == "" {
		return common.PrintErrWithCmdHelp(ctx, errMissingID)
	}
	if id == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	if updateCron == "" && updateFolder == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("nothing to update, pass --cron or --folder"))
	}
	return withStore(ctx, "sub-update", func(c context.Context, cfg *config.Config, st *store.Store) error {
		if updateCron != "" {
			if err := validateCron(cfg, updateCron); err != nil {
				common.PrintRuntimeErr(ctx, "sub-update", "cron", err)
				return nil
			}
			if err := st.UpdateSchedule(c, id, updateCron); err != nil {
				common.PrintRuntimeErr(ctx, "sub-update", "schedule", err)
				return nil
			}
		}
		if updateFolder != "" {
			if err := st.UpdateFolderName(c, id, updateFolder); err != nil {
				common.PrintRuntimeErr(ctx, "sub-update", "folder", err)
				return nil
			}
		}
		fmt.Printf("ptauto: updated subscription %s\n", id)
		return nil
	})
}

func subStatus(ctx *cli.Context) error {
	id := ctx.Args().First()
	if id == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	if id == "" || ctx.NArg() < 2 {
		return common.PrintErrWithCmdHelp(ctx, errors.New("usage: sub status <id> <status>"))
	}
	status, err := model.ParseStatus(ctx.Args().Get(1))
	if err != nil {
		return common.PrintErrWithCmdHelp(ctx, err)
	}
	return withStore(ctx, "sub-status", func(c context.Context, _ *config.Config, st *store.Store) error {
		if err := st.UpdateStatus(c, id, status); err != nil {
			common.PrintRuntimeErr(ctx, "sub-status", "update", err)
			return nil
		}
		fmt.Printf("ptauto: %s is now %s\n", id, status)
		return nil
	})
}

func subTorrent(ctx *cli.Context) error {
	id := ctx.Args().First()
	if id == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	if id == "" || ctx.NArg() < 3 {
		return common.PrintErrWithCmdHelp(ctx, errors.New("usage: sub torrent <id> <episode> <torrent id>"))
	}
	ep, err := strconv.Atoi(ctx.Args().Get(1))
	if err != nil || ep <= 0 {
		return common.PrintErrWithCmdHelp(ctx, fmt.Errorf("invalid episode %q", ctx.Args().Get(1)))
	}
	torrentID := ctx.Args().Get(2)
	return withStore(ctx, "sub-torrent", func(c context.Context, _ *config.Config, st *store.Store) error {
		if err := st.AddTorrentID(c, id, ep, torrentID); err != nil {
			common.PrintRuntimeErr(ctx, "sub-torrent", "record", err)
			return nil
		}
		fmt.Printf("ptauto: recorded torrent %s for %s E%02d\n", torrentID, id, ep)
		return nil
	})
}
