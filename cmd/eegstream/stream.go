package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srg/eegstream/internal/device/goble"
	"github.com/srg/eegstream/internal/state"
	"github.com/srg/eegstream/pkg/config"
	"github.com/srg/eegstream/pkg/monitor"
)

type streamOptions struct {
	name       string
	service    string
	char       string
	logFile    string
	noLog      bool
	script     string
	sampleRate float64
	mqtt       string
	mirror     bool
	symlink    string
	format     string
	noColor    bool
}

func newStreamCmd() *cobra.Command {
	opts := &streamOptions{}
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Connect to the sensor and stream band power",
		Long: `Scan for the sensor, connect, subscribe to its sample characteristic and
stream until interrupted. The link is re-established automatically when it
drops. Every accepted sample is appended to the sample log; band power is
printed each time a 256-sample window closes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.name, "name", "n", "", "Advertised name filter (case-insensitive substring)")
	f.StringVar(&opts.service, "service", "", "Sensor service UUID")
	f.StringVar(&opts.char, "characteristic", "", "Sample characteristic UUID")
	f.StringVarP(&opts.logFile, "log-file", "o", "", "Sample log path")
	f.BoolVar(&opts.noLog, "no-log", false, "Do not write the sample log")
	f.StringVar(&opts.script, "script", "", "Lua derive script replacing the built-in one")
	f.Float64Var(&opts.sampleRate, "sample-rate", 0, "Sensor sample rate in Hz")
	f.StringVar(&opts.mqtt, "mqtt", "", "Publish telemetry to this MQTT broker (host:port)")
	f.BoolVar(&opts.mirror, "mirror", false, "Mirror samples to a pseudo-terminal")
	f.StringVar(&opts.symlink, "mirror-link", "", "Symlink to create for the mirror PTY")
	f.StringVarP(&opts.format, "format", "f", "text", "Output format (text, json)")
	f.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	f.BoolP("verbose", "v", false, "Verbose output")
	return cmd
}

// apply overlays command-line flags onto cfg.
func (o *streamOptions) apply(cfg *config.Config) {
	if o.name != "" {
		cfg.Device.NameFilter = o.name
	}
	if o.service != "" {
		cfg.Device.ServiceUUID = o.service
	}
	if o.char != "" {
		cfg.Device.CharacteristicUUID = o.char
	}
	if o.logFile != "" {
		cfg.SampleLog.Path = o.logFile
	}
	if o.noLog {
		cfg.SampleLog.Disabled = true
	}
	if o.script != "" {
		cfg.Pipeline.DeriveScript = o.script
	}
	if o.sampleRate != 0 {
		cfg.Pipeline.SampleRate = o.sampleRate
	}
	if o.mqtt != "" {
		cfg.MQTT.Broker = o.mqtt
	}
	if o.mirror || o.symlink != "" {
		cfg.Mirror.Enabled = true
		cfg.Mirror.Symlink = o.symlink
	}
}

func runStream(cmd *cobra.Command, opts *streamOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [text json]", opts.format)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	mon, err := monitor.New(cfg, goble.NewTransport(logger), logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	out := cmd.OutOrStdout()
	if !cfg.SampleLog.Disabled {
		fmt.Fprintf(cmd.ErrOrStderr(), "Logging samples to %s\n", cfg.SampleLogPath())
	}
	if m := mon.Mirror(); m != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Mirroring samples to %s\n", m.TTYName())
	}

	views, unwatch := mon.Store().Watch()
	defer unwatch()

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printViews(ctx, views, out, opts.format, colorsFor(out, opts.noColor))
	}()

	err = mon.Run(ctx)
	cancel()
	<-printed

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// printViews renders connection changes and every newly closed window until ctx ends.
func printViews(ctx context.Context, views <-chan *state.View, w io.Writer, format string, colors bool) {
	r := newRenderer(w, colors)
	enc := json.NewEncoder(w)

	var (
		lastConn    string
		lastWindows uint64
	)
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			connChanged := v.Connection != lastConn
			windowClosed := v.Windows != lastWindows
			lastConn, lastWindows = v.Connection, v.Windows

			if format == "json" {
				if connChanged || windowClosed {
					_ = enc.Encode(v)
				}
				continue
			}
			if connChanged {
				r.Connection(v)
			}
			if windowClosed {
				r.View(v)
			}
		}
	}
}
