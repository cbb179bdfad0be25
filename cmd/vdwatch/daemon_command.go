package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/1broseidon/vdwatch/internal/daemon"
	"github.com/1broseidon/vdwatch/internal/logging"
	"github.com/1broseidon/vdwatch/internal/platform"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the vdwatch daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(cmd.Context(), ctx, watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "Reload tasks when the config file changes")
	return cmd
}

func runDaemonProcess(cmdCtx context.Context, ctx *commandContext, watch bool) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := ctx.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := res.Config
	path, _ := ctx.configPath()

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.Info("configuration loaded",
		"path", path,
		"files", len(res.Files),
		"monitors", len(cfg.Monitors),
		"tasks", len(cfg.Tasks))

	if cfg.Display != "" {
		os.Setenv("DISPLAY", cfg.Display)
	}
	backend, err := platform.NewLinuxBackendFromDisplay()
	if err != nil {
		return fmt.Errorf("connect to display: %w", err)
	}
	defer backend.Disconnect()

	d, err := daemon.New(daemon.Options{
		ConfigPath:  path,
		Config:      cfg,
		Backend:     backend,
		Logger:      logger,
		SocketPath:  ctx.socketPath(),
		WatchConfig: watch,
	})
	if err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-signalCtx.Done():
				return
			case <-hup:
				logger.Info("received SIGHUP, reloading tasks")
				_, _ = d.ReloadTasks()
			}
		}
	}()

	return d.Run(signalCtx)
}
