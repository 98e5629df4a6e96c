// Package config holds eegstream configuration: struct-tag defaults, an
// optional YAML file and the logger factory.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/eegstream/internal/device"
	"github.com/srg/eegstream/internal/samplelog"
)

// Config holds application configuration
type Config struct {
	LogLevel  string          `yaml:"log_level" default:"info"`
	Device    DeviceConfig    `yaml:"device"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	SampleLog SampleLogConfig `yaml:"sample_log"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Mirror    MirrorConfig    `yaml:"mirror"`
}

// DeviceConfig selects the sensor.
type DeviceConfig struct {
	NameFilter         string        `yaml:"name_filter" default:"esp32"`
	ServiceUUID        string        `yaml:"service_uuid" default:"12345678-1234-1234-1234-123456789abc"`
	CharacteristicUUID string        `yaml:"characteristic_uuid" default:"abcd5678-ab12-cd34-ef56-abcdef123456"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" default:"15s"`
}

type PipelineConfig struct {
	SampleRate float64 `yaml:"sample_rate" default:"256"`
	// DeriveScript replaces the embedded derive.lua when set.
	DeriveScript string `yaml:"derive_script"`
}

type SampleLogConfig struct {
	Disabled   bool   `yaml:"disabled" default:"false"`
	Path       string `yaml:"path"`
	BufferSize uint32 `yaml:"buffer_size" default:"4096"`
}

// MQTTConfig enables telemetry when Broker is set.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix" default:"eegstream"`
	ClientID    string `yaml:"client_id"`
}

type MirrorConfig struct {
	Enabled    bool   `yaml:"enabled" default:"false"`
	Symlink    string `yaml:"symlink"`
	BufferSize int    `yaml:"buffer_size" default:"16384"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses YAML from r over the defaults and validates the result.
func Decode(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("invalid yaml: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := device.ValidateUUID(c.Device.ServiceUUID, c.Device.CharacteristicUUID); err != nil {
		errs = append(errs, fmt.Errorf("device: %w", err))
	}
	if c.Device.NameFilter == "" {
		errs = append(errs, errors.New("device: name_filter cannot be empty"))
	}
	if c.Device.ConnectTimeout < 0 {
		errs = append(errs, errors.New("device: connect_timeout cannot be negative"))
	}
	if c.Pipeline.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("pipeline: sample_rate must be positive, got %g", c.Pipeline.SampleRate))
	}
	if !c.SampleLog.Disabled && (c.SampleLog.BufferSize == 0 || c.SampleLog.BufferSize > samplelog.MaxBufferSize) {
		errs = append(errs, fmt.Errorf("sample_log: buffer_size must be in [1, %d]", samplelog.MaxBufferSize))
	}
	if c.Mirror.Enabled && c.Mirror.BufferSize <= 0 {
		errs = append(errs, errors.New("mirror: buffer_size must be positive"))
	}

	return errors.Join(errs...)
}

// SampleLogPath returns the configured log path or the default one.
func (c *Config) SampleLogPath() string {
	if c.SampleLog.Path != "" {
		return c.SampleLog.Path
	}
	return samplelog.DefaultPath()
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	switch c.LogLevel {
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info", "":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %s (must be trace, debug, info, warn, or error)", c.LogLevel)
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	level, _ := c.Level()
	return NewLogger(level)
}

// NewLogger creates a logger with the shared text format.
func NewLogger(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
