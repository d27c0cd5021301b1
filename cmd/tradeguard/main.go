// Command tradeguard runs the trading discipline API and its operator tools.
package main

import (
	"os"

	"github.com/alanyoungcy/tradeguard/cmd/tradeguard/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
