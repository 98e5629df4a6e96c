package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "eegstream",
		Short: "Stream and analyse a single-channel BLE EEG sensor",
		Long: `eegstream connects to a BLE EEG sensor, keeps the link alive and turns the
sample stream into Delta, Theta, Alpha, Beta and Gamma band power.

- stream: connect, log every sample and show live band power
- export: hand the sample log to another tool
- bands:  replay an existing sample log through the band-power pipeline`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
	}

	// main() prints clean errors
	root.SilenceErrors = true

	root.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringP("config", "c", "", "YAML configuration file")

	root.AddCommand(newStreamCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newBandsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
