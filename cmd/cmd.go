package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"

	"github.com/faithleysath/pt-web-automation/cmd/common"
	envs "github.com/faithleysath/pt-web-automation/common"
)

type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

var (
	configPath string
	dataDir    string
	debugLog   bool

	globalFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "config, c",
			Usage:       "path of the config file (default: <data dir>/config.yaml)",
			EnvVar:      envs.ConfigEnv,
			Destination: &configPath,
		},
		cli.StringFlag{
			Name:        "data-dir",
			Usage:       "override data_dir of the config file",
			EnvVar:      envs.DataDirEnv,
			Destination: &dataDir,
		},
		cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging",
			EnvVar:      envs.DebugEnv,
			Destination: &debugLog,
		},
	}
)

func Execute(args []string, bArgs BuildArgs) error {
	app := cli.App{
		Name:                  "ptauto",
		HelpName:              "ptauto",
		Usage:                 "Watches streaming platforms for new episodes of your subscriptions.",
		Version:               fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:             "ptauto [global options] <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: HELP_TEMPL,
		OnUsageError:          common.UsageErrorCallback,
		Flags:                 globalFlags,
		Commands: []cli.Command{
			{
				Name:               "run",
				Aliases:            []string{"daemon"},
				Usage:              "runs the watcher until interrupted",
				Description:        RunDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             run,
			},
			{
				Name:  "sub",
				Usage: "manages subscriptions",
				Subcommands: []cli.Command{
					{
						Name:               "add",
						Usage:              "adds a subscription",
						UsageText:          "sub add [flags...]",
						Description:        SubAddDescription,
						CustomHelpTemplate: CMD_HELP_TEMPL,
						OnUsageError:       common.UsageErrorCallback,
						Action:             subAdd,
						Flags:              subAddFlags,
					},
					{
						Name:               "list",
						Aliases:            []string{"l"},
						Usage:              "lists subscriptions",
						UsageText:          "sub list [flags...]",
						CustomHelpTemplate: CMD_HELP_TEMPL,
						OnUsageError:       common.UsageErrorCallback,
						Action:             subList,
						Flags:              subListFlags,
					},
					{
						Name:               "show",
						Usage:              "shows one subscription",
						UsageText:          "sub show <id>",
						CustomHelpTemplate: CMD_HELP_TEMPL,
						Action:             subShow,
					},
					{
						Name:               "update",
						Usage:              "changes the schedule or folder of a subscription",
						UsageText:          "sub update <id> [flags...]",
						CustomHelpTemplate: CMD_HELP_TEMPL,
						OnUsageError:       common.UsageErrorCallback,
						Action:             subUpdate,
						Flags:              subUpdateFlags,
					},
					{
						Name:               "torrent",
						Usage:              "records the torrent id published for an episode",
						UsageText:          "sub torrent <id> <episode> <torrent id>",
						CustomHelpTemplate: CMD_HELP_TEMPL,
						Action:             subTorrent,
					},
					{
						Name:               "status",
						Usage:              "sets the status of a subscription",
						UsageText:          "sub status <id> <updating|completed|packed>",
						CustomHelpTemplate: CMD_HELP_TEMPL,
						Action:             subStatus,
					},
				},
			},
			{
				Name:                   "check",
				Usage:                  "reconciles one subscription now",
				UsageText:              "check <id> [flags...]",
				Description:            CheckDescription,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				OnUsageError:           common.UsageErrorCallback,
				Action:                 check,
				Flags:                  checkFlags,
				UseShortOptionHandling: true,
			},
			{
				Name:               "fetch",
				Usage:              "downloads one episode of a subscription",
				UsageText:          "fetch <id> <episode>",
				Description:        FetchDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             fetch,
			},
			{
				Name:               "platforms",
				Usage:              "lists the registered platforms",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             platforms,
			},
			{
				Name:    "help",
				Aliases: []string{"h"},
				Usage:   "prints the help message",
				Action:  common.Help,
			},
			{
				Name:               "version",
				Aliases:            []string{"v"},
				Usage:              "prints installed version of ptauto",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             common.GetVersion,
			},
		},
		HideHelp:    true,
		HideVersion: true,
	}
	common.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s\n",
		app.Name,
		app.Version,
		runtime.GOOS,
		runtime.GOARCH,
		bArgs.Date, bArgs.Commit,
	)
	return app.Run(args)
}
