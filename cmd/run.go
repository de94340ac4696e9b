package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/urfave/cli"

	"github.com/faithleysath/pt-web-automation/cmd/common"
	"github.com/faithleysath/pt-web-automation/internal/daemon"
	"github.com/faithleysath/pt-web-automation/internal/engine"
)

func run(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	cfg, err := loadConfig()
	if err != nil {
		common.PrintRuntimeErr(ctx, "run", "load_config", err)
		return nil
	}
	l, err := newLogger(cfg)
	if err != nil {
		common.PrintRuntimeErr(ctx, "run", "new_logger", err)
		return nil
	}
	defer l.Close()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		common.PrintRuntimeErr(ctx, "run", "data_dir", err)
		return nil
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var running atomic.Pointer[engine.Engine]
	runner := daemon.New(&daemon.Config{
		LockPath:        cfg.LockPath(),
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, &daemon.Dependencies{
		Service: func(ctx context.Context) error {
			e, err := engine.New(ctx, cfg, l, engine.Options{})
			if err != nil {
				return err
			}
			running.Store(e)
			return e.Run(ctx)
		},
		ShutdownFunc: func() error {
			if e := running.Load(); e != nil {
				return e.Close()
			}
			return nil
		},
	})

	l.Info("ptauto: starting with data dir %s", cfg.DataDir)
	if err := runner.Start(sigCtx); err != nil {
		l.Error("ptauto: %v", err)
		common.PrintRuntimeErr(ctx, "run", "start", err)
		return nil
	}
	l.Info("ptauto: shut down")
	return nil
}
