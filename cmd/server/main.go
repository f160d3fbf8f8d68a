package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/burnroom/internal/app"
	"github.com/vovakirdan/burnroom/internal/config"
	applog "github.com/vovakirdan/burnroom/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	cmd := &cobra.Command{
		Use:           "burnroom",
		Short:         "Ephemeral password-protected chat rooms over WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLog := applog.New(overrides.LogLevel, overrides.LogFormat)

			cfg, path, err := config.Load(bootLog, configPath)
			if err != nil {
				bootLog.Error().Err(err).Str("path", path).Msg("failed to load config")
				return err
			}
			cfg.UpdateFrom(overrides)

			logger := applog.New(cfg.LogLevel, cfg.LogFormat)
			if cfg.LogLevel != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(&cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("failed to initialize")
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Str("config", path).Msg("starting burnroom server")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return fmt.Errorf("run: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to config.yaml (created with defaults when missing)")
	flags.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&overrides.LogFormat, "log-format", "", "log format: console or json")
	flags.StringVar(&overrides.DatabasePath, "db", "", "upload ledger sqlite path")
	flags.StringVar(&overrides.UploadDir, "upload-dir", "", "directory for uploaded files")
	flags.StringVar(&overrides.StaticDir, "static-dir", "", "serve a web client from this directory")
	flags.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")

	return cmd
}
