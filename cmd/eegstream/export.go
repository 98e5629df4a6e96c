package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/eegstream/internal/samplelog"
)

func newExportCmd() *cobra.Command {
	var logFile string
	cmd := &cobra.Command{
		Use:   "export [dest]",
		Short: "Export the sample log",
		Long: `Copy the sample log to dest, or to stdout when dest is omitted or "-".
The log is one "timestamp,value" line per accepted sample.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if logFile != "" {
				cfg.SampleLog.Path = logFile
			}
			logger, err := configureLogger(cmd, cfg, "")
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			src := cfg.SampleLogPath()
			dest := "-"
			if len(args) == 1 {
				dest = args[0]
			}

			var w io.Writer = cmd.OutOrStdout()
			if dest != "-" {
				if abs, err := filepath.Abs(dest); err == nil && abs == mustAbs(src) {
					return fmt.Errorf("destination %s is the sample log itself", dest)
				}
				f, err := os.Create(dest)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", dest, err)
				}
				defer f.Close()
				w = f
			}

			n, err := samplelog.Export(src, w)
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"source": src,
				"dest":   dest,
				"bytes":  n,
			}).Debug("Sample log exported")
			if dest != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d bytes from %s to %s\n", n, src, dest)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&logFile, "log-file", "o", "", "Sample log path")
	return cmd
}

func mustAbs(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
