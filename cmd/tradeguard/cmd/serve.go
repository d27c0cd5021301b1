package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/tradeguard/internal/app"
	"github.com/alanyoungcy/tradeguard/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server or background worker",
	Long: `Serve wires storage, cache, broker and services from the config and runs
the configured mode until interrupted.

Modes:
  server - HTTP + WebSocket API (and background jobs when Redis is off)
  worker - quote ingestion, notifications and the archive scheduler

Example:
  tradeguard serve --config config.toml --mode worker`,
	RunE: runServe,
}

var serveMode string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveMode, "mode", "m", "", "override the configured mode (server, worker)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, func(c *config.Config) {
		if serveMode != "" {
			c.Mode = serveMode
		}
	})
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("tradeguard stopped")
	return nil
}
