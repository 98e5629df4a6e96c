package main

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/eegstream/internal/samplelog"
	"github.com/srg/eegstream/pkg/monitor"
)

func newBandsCmd() *cobra.Command {
	var (
		format     string
		script     string
		sampleRate float64
		noColor    bool
	)
	cmd := &cobra.Command{
		Use:   "bands <log>",
		Short: "Replay a sample log through the band-power pipeline",
		Long: `Read a sample log written by "stream" and print band power for every
complete 256-sample window, exactly as the live pipeline would have
computed it. A trailing partial window is ignored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("invalid format '%s': must be one of [text json]", format)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if script != "" {
				cfg.Pipeline.DeriveScript = script
			}
			if sampleRate != 0 {
				cfg.Pipeline.SampleRate = sampleRate
			}
			logger, err := configureLogger(cmd, cfg, "")
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			samples, err := samplelog.ReadFile(args[0])
			if err != nil {
				return err
			}

			engine, err := monitor.LoadDeriveEngine(cfg.Pipeline.DeriveScript, logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			windows, err := monitor.Analyze(samples, cfg.Pipeline.SampleRate, engine)
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"samples": len(samples),
				"windows": len(windows),
			}).Debug("Sample log replayed")

			out := cmd.OutOrStdout()
			if format == "json" {
				if windows == nil {
					windows = []monitor.Window{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(windows)
			}

			if len(windows) == 0 {
				fmt.Fprintf(out, "No complete window in %d samples\n", len(samples))
				return nil
			}
			r := newRenderer(out, colorsFor(out, noColor))
			for _, w := range windows {
				r.Window(w)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&format, "format", "f", "text", "Output format (text, json)")
	f.StringVar(&script, "script", "", "Lua derive script replacing the built-in one")
	f.Float64Var(&sampleRate, "sample-rate", 0, "Sample rate the log was recorded at, in Hz")
	f.BoolVar(&noColor, "no-color", false, "Disable colored output")
	return cmd
}
