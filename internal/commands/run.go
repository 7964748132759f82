package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/txguard-dev/txguard/internal/app"
	"github.com/txguard-dev/txguard/internal/buildinfo"
	"github.com/txguard-dev/txguard/internal/config"
	"github.com/txguard-dev/txguard/internal/logger"
)

func newRunCommand() *cobra.Command {
	var configPath string
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Monitor the configured accounts until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMonitor(ctx, configPath, once, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "txguard.yaml", "config file")
	cmd.Flags().BoolVar(&once, "once", false, "check every account once and exit")

	return cmd
}

func runMonitor(ctx context.Context, configPath string, once bool, stdout io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	out := stdout
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.ResolvePath(cfg.General.LogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		out = f
	}

	log, err := logger.New(out, cfg.General.LogLevel)
	if err != nil {
		return err
	}

	log.Info("Starting txguard", "version", buildinfo.String(), "config", configPath)

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}

	if once {
		if err := a.RunOnce(ctx, cfg.General.ShutdownGraceDuration()); err != nil {
			return fmt.Errorf("waiting for notifications: %w", err)
		}
		return nil
	}
	return a.Scheduler.Run(ctx)
}
