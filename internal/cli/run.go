package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"homehub/internal/hub"
	"homehub/internal/version"
	"homehub/pkg/addon"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the hub and every enabled add-on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			logger.Info("Starting homehub",
				zap.String("version", version.Version),
				zap.String("commit", version.Commit),
				zap.String("storage", cfg.Storage.Driver))

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			h, err := hub.New(ctx, cfg, addon.Global(), logger)
			if err != nil {
				return err
			}

			report, err := h.Start()
			if err != nil {
				// An expired watchdog leaves StartAll running; exit without
				// waiting for it.
				if !errors.Is(err, hub.ErrStartupTimeout) {
					_, _ = h.Stop()
				}
				return fmt.Errorf("starting add-ons: %w", err)
			}
			for _, f := range report.Failed {
				logger.Warn("Add-on unavailable", zap.String("addon", f.Name), zap.Error(f.Err))
			}
			if api := h.API(); api != nil {
				logger.Info("HTTP API listening", zap.String("addr", api.Addr()))
			}

			<-ctx.Done()
			logger.Info("Shutdown signal received")

			shutdown, err := h.Stop()
			if err != nil {
				logger.Error("Shutdown completed with errors", zap.Error(err))
				return err
			}
			logger.Info("Shutdown complete", zap.Strings("destroyed", shutdown.Destroyed))
			return nil
		},
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
