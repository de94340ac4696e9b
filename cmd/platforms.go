package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli"

	"github.com/faithleysath/pt-web-automation/cmd/common"
	"github.com/faithleysath/pt-web-automation/internal/config"
	"github.com/faithleysath/pt-web-automation/internal/engine"
	"github.com/faithleysath/pt-web-automation/internal/platform"
	"github.com/faithleysath/pt-web-automation/internal/store"
)

func platforms(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	return withStore(ctx, "platforms", func(c context.Context, cfg *config.Config, st *store.Store) error {
		client, err := engine.NewHTTPClient(cfg)
		if err != nil {
			common.PrintRuntimeErr(ctx, "platforms", "http_client", err)
			return nil
		}
		l, err := cliLogger(cfg)
		if err != nil {
			common.PrintRuntimeErr(ctx, "platforms", "logger", err)
			return nil
		}
		defer l.Close()
		reg, err := engine.LoadPlatforms(cfg, client, l)
		if err != nil {
			common.PrintRuntimeErr(ctx, "platforms", "load", err)
			return nil
		}
		fmt.Println(renderPlatforms(c, reg, st))
		return nil
	})
}

func renderPlatforms(ctx context.Context, reg *platform.Registry, st *store.Store) string {
	names := reg.Names()
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		count := "?"
		if subs, err := st.GetByPlatform(ctx, name); err == nil {
			count = fmt.Sprint(len(subs))
		}
		rows = append(rows, []string{name, count})
	}
	return renderTable([]string{"Platform", "Subscriptions"}, rows, []columnAlignment{alignLeft, alignRight})
}
