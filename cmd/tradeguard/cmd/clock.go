package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/tradeguard/internal/clock"
)

var clockCmd = &cobra.Command{
	Use:   "clock",
	Short: "Show the market status for now or a given instant",
	Long: `Clock prints what the market clock decides for an instant: trading date,
status and whether the opening no-trade zone is active.

Example:
  tradeguard clock --at 2026-10-13T09:40:00-04:00`,
	RunE: runClock,
}

var clockAt string

func init() {
	rootCmd.AddCommand(clockCmd)
	clockCmd.Flags().StringVar(&clockAt, "at", "", "RFC3339 instant (default now)")
}

func runClock(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cal, err := cfg.Calendar()
	if err != nil {
		return err
	}
	clk := clock.New(cal, cfg.NoTradeZone())

	now := time.Now()
	if clockAt != "" {
		if now, err = time.Parse(time.RFC3339, clockAt); err != nil {
			return fmt.Errorf("--at: %w", err)
		}
	}
	local := now.In(clk.Location())

	printf(cmd, "time:          %s\n", local.Format(time.RFC3339))
	printf(cmd, "trading date:  %s\n", clk.TradingDate(now))
	printf(cmd, "trading day:   %t\n", clk.IsTradingDay(now))
	printf(cmd, "status:        %s\n", clk.Status(now))
	if open, closeAt, ok := clk.SessionBounds(now); ok {
		printf(cmd, "regular hours: %s - %s\n", open.Format("15:04"), closeAt.Format("15:04"))
	}
	printf(cmd, "no-trade zone: %t\n", clk.IsNoTradeZone(now))
	return nil
}
