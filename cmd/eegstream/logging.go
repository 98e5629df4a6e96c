package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/eegstream/pkg/config"
)

// loadConfig reads --config when given, otherwise returns the defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// configureLogger picks the level from --log-level, then --verbose, then the
// configuration file.
func configureLogger(cmd *cobra.Command, cfg *config.Config, verboseFlagName string) (*logrus.Logger, error) {
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		override := &config.Config{LogLevel: lvl}
		level, err := override.Level()
		if err != nil {
			return nil, err
		}
		return config.NewLogger(level), nil
	}

	if verboseFlagName != "" {
		if verbose, _ := cmd.Flags().GetBool(verboseFlagName); verbose {
			return config.NewLogger(logrus.DebugLevel), nil
		}
	}

	level, err := cfg.Level()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return config.NewLogger(level), nil
}
