package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/tradeguard/internal/app"
	"github.com/alanyoungcy/tradeguard/internal/domain"
	"github.com/alanyoungcy/tradeguard/internal/risk"
)

var sizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Compute a position size with the configured risk policy",
	Long: `Size runs the position sizing calculator offline and prints the result as
JSON. Equity defaults to account.equity from the config.

Example:
  tradeguard size --entry 50 --stop 49 --direction long`,
	RunE: runSize,
}

var (
	sizeEquity    string
	sizeEntry     string
	sizeStop      string
	sizeDirection string
)

func init() {
	rootCmd.AddCommand(sizeCmd)
	sizeCmd.Flags().StringVar(&sizeEquity, "equity", "", "account equity (default account.equity)")
	sizeCmd.Flags().StringVar(&sizeEntry, "entry", "", "entry price (required)")
	sizeCmd.Flags().StringVar(&sizeStop, "stop", "", "stop loss price (required)")
	sizeCmd.Flags().StringVarP(&sizeDirection, "direction", "d", "long", "long or short")
	_ = sizeCmd.MarkFlagRequired("entry")
	_ = sizeCmd.MarkFlagRequired("stop")
}

func runSize(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	calc, err := risk.NewCalculator(app.PolicyFromConfig(cfg.Policy))
	if err != nil {
		return err
	}

	equity := decimal.NewFromFloat(cfg.Account.Equity)
	if sizeEquity != "" {
		if equity, err = decimal.NewFromString(sizeEquity); err != nil {
			return fmt.Errorf("--equity: %w", err)
		}
	}
	entry, err := decimal.NewFromString(sizeEntry)
	if err != nil {
		return fmt.Errorf("--entry: %w", err)
	}
	stop, err := decimal.NewFromString(sizeStop)
	if err != nil {
		return fmt.Errorf("--stop: %w", err)
	}

	res := calc.ComputePositionSize(risk.Input{
		AccountEquity: equity,
		EntryPrice:    entry,
		StopLossPrice: stop,
		Direction:     domain.Direction(strings.ToLower(sizeDirection)),
	})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.IsValid() {
		return fmt.Errorf("invalid sizing: %s", strings.Join(res.Errors(), "; "))
	}
	return nil
}
