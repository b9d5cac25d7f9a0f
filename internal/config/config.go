// Package config holds the application configuration file, the instrument
// list and the live settings the poller snapshots every cycle.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata" // Windows hosts ship no zoneinfo

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/temperature.report/internal/protocol"
	"github.com/banshee-data/temperature.report/internal/serialport"
)

const (
	DefaultDatabase        = "multi_channel_history.db"
	DefaultListen          = ":8080"
	DefaultInstrumentsFile = "instruments_config.json"
	DefaultMaxPlotPoints   = 1000
	DefaultLatestRows      = 20

	DefaultPollInterval      = time.Second
	DefaultIdleBackoff       = time.Second
	DefaultRetentionWindow   = 7 * 24 * time.Hour
	DefaultRetentionInterval = time.Hour

	maxConfigSize = 1 * 1024 * 1024 // 1MB
)

// Config is the YAML application configuration. Zero values are replaced by
// defaults in Normalize, so a partial file is safe.
type Config struct {
	Database        string          `yaml:"database"`
	Listen          string          `yaml:"listen"`
	InstrumentsFile string          `yaml:"instruments_file"`
	Serial          SerialConfig    `yaml:"serial"`
	Poll            PollConfig      `yaml:"poll"`
	Retention       RetentionConfig `yaml:"retention"`
	Display         DisplayConfig   `yaml:"display"`
}

type SerialConfig struct {
	// Port is the initially selected port; empty leaves the poller idle
	// until one is chosen through the API.
	Port           string                 `yaml:"port"`
	Protocol       string                 `yaml:"protocol"`
	StrictChecksum bool                   `yaml:"strict_checksum"`
	ReadTimeout    time.Duration          `yaml:"read_timeout"`
	Options        serialport.PortOptions `yaml:"options"`
}

type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	IdleBackoff time.Duration `yaml:"idle_backoff"`
}

type RetentionConfig struct {
	Window   time.Duration `yaml:"window"`
	Interval time.Duration `yaml:"interval"`
}

type DisplayConfig struct {
	// Timezone names the zone used for the date and time keys; empty
	// means the host's local zone.
	Timezone      string `yaml:"timezone"`
	MaxPlotPoints int    `yaml:"max_plot_points"`
	LatestRows    int    `yaml:"latest_rows"`
}

// Default returns a fully populated configuration.
func Default() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Load reads a YAML configuration file. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, normalizes and validates a YAML document. An empty
// document yields the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.InstrumentsFile == "" {
		c.InstrumentsFile = DefaultInstrumentsFile
	}
	if c.Serial.Protocol == "" {
		c.Serial.Protocol = protocol.AIBUS.String()
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = serialport.DefaultReadTimeout
	}
	if opts, err := c.Serial.Options.Normalize(); err == nil {
		c.Serial.Options = opts
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = DefaultPollInterval
	}
	if c.Poll.IdleBackoff == 0 {
		c.Poll.IdleBackoff = DefaultIdleBackoff
	}
	if c.Retention.Window == 0 {
		c.Retention.Window = DefaultRetentionWindow
	}
	if c.Retention.Interval == 0 {
		c.Retention.Interval = DefaultRetentionInterval
	}
	if c.Display.MaxPlotPoints == 0 {
		c.Display.MaxPlotPoints = DefaultMaxPlotPoints
	}
	if c.Display.LatestRows == 0 {
		c.Display.LatestRows = DefaultLatestRows
	}
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if _, err := protocol.ParseProtocol(c.Serial.Protocol); err != nil {
		return err
	}
	if _, err := c.Serial.Options.Normalize(); err != nil {
		return fmt.Errorf("serial.options: %w", err)
	}
	if c.Serial.ReadTimeout < 0 {
		return fmt.Errorf("serial.read_timeout must be positive, got %s", c.Serial.ReadTimeout)
	}
	if c.Poll.Interval < 0 || c.Poll.IdleBackoff < 0 {
		return fmt.Errorf("poll durations must be positive")
	}
	if c.Retention.Window < 0 || c.Retention.Interval < 0 {
		return fmt.Errorf("retention durations must be positive")
	}
	if c.Display.MaxPlotPoints < 0 {
		return fmt.Errorf("display.max_plot_points must be positive, got %d", c.Display.MaxPlotPoints)
	}
	if c.Display.LatestRows < 0 {
		return fmt.Errorf("display.latest_rows must be positive, got %d", c.Display.LatestRows)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Protocol returns the configured wire protocol. Call after Validate.
func (c *Config) Protocol() protocol.Protocol {
	p, _ := protocol.ParseProtocol(c.Serial.Protocol)
	return p
}

// Location resolves display.timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Display.Timezone == "" || c.Display.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Display.Timezone)
	if err != nil {
		return nil, fmt.Errorf("display.timezone: %w", err)
	}
	return loc, nil
}
