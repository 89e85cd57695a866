package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ClippyCDN/clippy/internal/app"
	"github.com/ClippyCDN/clippy/internal/config"
	"github.com/ClippyCDN/clippy/internal/logging"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if err := logging.Init(cfg.Logging()); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			defer logging.Sync()

			logging.Info("clippy starting...",
				zap.String("listen", cfg.ListenAddr),
				zap.String("metrics", cfg.MetricsAddr),
				zap.String("env", cfg.AppEnv),
				zap.String("storage", cfg.StorageProvider))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				a.Stop(context.Background())
				return err
			}

			<-ctx.Done()
			logging.Info("shutting down...", zap.Duration("timeout", cfg.ShutdownTimeout))

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return a.Stop(shutdownCtx)
		},
	}
}
