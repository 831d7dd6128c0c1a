// SPDX-License-Identifier: MIT

// Package config loads and validates the rtnavd configuration with
// precedence ENV > file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects how the pipeline treats reference sessions.
type Mode string

const (
	// ModeDirect solves from the local receiver's observations only.
	ModeDirect Mode = "direct"
	// ModeDifferential requires matched corrections from every live
	// reference session.
	ModeDifferential Mode = "differential"
)

// Influx holds the optional InfluxDB result sink settings.
type Influx struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether the sink is configured.
func (i Influx) Enabled() bool { return i.URL != "" }

// Config is the full daemon configuration.
type Config struct {
	// Receiver link
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	// Epoch pipeline
	Mode           Mode          `yaml:"mode"`
	SamplingPeriod time.Duration `yaml:"sampling_period"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	CorrectionWait time.Duration `yaml:"correction_wait"`
	RetentionAge   time.Duration `yaml:"retention_age"`

	// Solver
	SolverTimeout time.Duration `yaml:"solver_timeout"`
	MaxInFlight   int           `yaml:"max_in_flight"`

	// Reference stations
	Stations       []Station     `yaml:"stations"`
	LivenessWindow time.Duration `yaml:"liveness_window"`

	// HTTP surface and logging
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`

	// Optional sinks
	Influx Influx `yaml:"influx"`

	// stationParseErr defers an RTNAV_STATIONS parse failure until Validate
	// so the operator sees a fatal startup error, not a silent direct-mode
	// run.
	stationParseErr error `yaml:"-"`
}

// UnmarshalYAML decodes the file form of the configuration. Durations are
// written as Go duration strings ("200ms", "2s"); keys absent from the file
// keep their current values.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	raw := struct {
		Device         string    `yaml:"device"`
		Baud           *int      `yaml:"baud"`
		Mode           *Mode     `yaml:"mode"`
		SamplingPeriod string    `yaml:"sampling_period"`
		SettleDelay    string    `yaml:"settle_delay"`
		CorrectionWait string    `yaml:"correction_wait"`
		RetentionAge   string    `yaml:"retention_age"`
		SolverTimeout  string    `yaml:"solver_timeout"`
		MaxInFlight    *int      `yaml:"max_in_flight"`
		Stations       []Station `yaml:"stations"`
		LivenessWindow string    `yaml:"liveness_window"`
		Listen         string    `yaml:"listen"`
		LogLevel       string    `yaml:"log_level"`
		Influx         *Influx   `yaml:"influx"`
	}{}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if raw.Device != "" {
		c.Device = raw.Device
	}
	if raw.Baud != nil {
		c.Baud = *raw.Baud
	}
	if raw.Mode != nil {
		c.Mode = *raw.Mode
	}
	if raw.Stations != nil {
		c.Stations = raw.Stations
	}
	if raw.Listen != "" {
		c.Listen = raw.Listen
	}
	if raw.LogLevel != "" {
		c.LogLevel = raw.LogLevel
	}
	if raw.Influx != nil {
		c.Influx = *raw.Influx
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"sampling_period", raw.SamplingPeriod, &c.SamplingPeriod},
		{"settle_delay", raw.SettleDelay, &c.SettleDelay},
		{"correction_wait", raw.CorrectionWait, &c.CorrectionWait},
		{"retention_age", raw.RetentionAge, &c.RetentionAge},
		{"solver_timeout", raw.SolverTimeout, &c.SolverTimeout},
		{"liveness_window", raw.LivenessWindow, &c.LivenessWindow},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if raw.MaxInFlight != nil {
		c.MaxInFlight = *raw.MaxInFlight
	}

	return nil
}

// Defaults returns the conservative default configuration.
func Defaults() Config {
	return Config{
		Device:         "/dev/ttyACM0",
		Baud:           115200,
		Mode:           "",
		SamplingPeriod: time.Second,
		SettleDelay:    200 * time.Millisecond,
		CorrectionWait: 2 * time.Second,
		RetentionAge:   10 * time.Second,
		SolverTimeout:  5 * time.Second,
		MaxInFlight:    1,
		LivenessWindow: 10 * time.Second,
		Listen:         ":8088",
		LogLevel:       "info",
	}
}

var (
	ErrNoStations        = errors.New("differential mode requires at least one reference station")
	ErrStationsInDirect  = errors.New("direct mode must not configure reference stations")
	ErrNonPositivePeriod = errors.New("sampling period must be positive")
)

// Load builds the configuration: defaults, overlaid by an optional YAML
// file, overlaid by RTNAV_* environment variables. The result is validated.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Device = ParseString("RTNAV_DEVICE", c.Device)
	c.Baud = ParseInt("RTNAV_BAUD", c.Baud)
	c.Mode = Mode(ParseString("RTNAV_MODE", string(c.Mode)))
	c.SamplingPeriod = ParseDuration("RTNAV_SAMPLING_PERIOD", c.SamplingPeriod)
	c.SettleDelay = ParseDuration("RTNAV_SETTLE_DELAY", c.SettleDelay)
	c.CorrectionWait = ParseDuration("RTNAV_CORRECTION_WAIT", c.CorrectionWait)
	c.RetentionAge = ParseDuration("RTNAV_RETENTION_AGE", c.RetentionAge)
	c.SolverTimeout = ParseDuration("RTNAV_SOLVER_TIMEOUT", c.SolverTimeout)
	c.MaxInFlight = ParseInt("RTNAV_MAX_INFLIGHT", c.MaxInFlight)
	c.LivenessWindow = ParseDuration("RTNAV_LIVENESS_WINDOW", c.LivenessWindow)
	c.Listen = ParseString("RTNAV_LISTEN", c.Listen)
	c.LogLevel = ParseString("RTNAV_LOG_LEVEL", c.LogLevel)

	if raw := ParseString("RTNAV_STATIONS", ""); raw != "" {
		if stations, err := ParseStationList(raw); err == nil {
			c.Stations = stations
		} else {
			// Surface the problem through validation instead of silently
			// running without corrections.
			c.Stations = nil
			c.stationParseErr = err
		}
	}

	c.Influx.URL = ParseString("RTNAV_INFLUX_URL", c.Influx.URL)
	c.Influx.Token = ParseString("RTNAV_INFLUX_TOKEN", c.Influx.Token)
	c.Influx.Org = ParseString("RTNAV_INFLUX_ORG", c.Influx.Org)
	c.Influx.Bucket = ParseString("RTNAV_INFLUX_BUCKET", c.Influx.Bucket)
}

// Validate enforces the startup contract. It is fatal before any streaming
// begins.
func (c *Config) Validate() error {
	if c.stationParseErr != nil {
		return c.stationParseErr
	}

	// Infer mode from the station list when unset.
	if c.Mode == "" {
		if len(c.Stations) > 0 {
			c.Mode = ModeDifferential
		} else {
			c.Mode = ModeDirect
		}
	}

	switch c.Mode {
	case ModeDirect:
		if len(c.Stations) > 0 {
			return ErrStationsInDirect
		}
	case ModeDifferential:
		if len(c.Stations) == 0 {
			return ErrNoStations
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}

	if c.SamplingPeriod <= 0 {
		return ErrNonPositivePeriod
	}
	if c.SettleDelay < 0 || c.CorrectionWait < 0 {
		return fmt.Errorf("settle delay and correction wait must be non-negative")
	}
	if c.RetentionAge <= c.SettleDelay {
		return fmt.Errorf("retention age %s must exceed settle delay %s", c.RetentionAge, c.SettleDelay)
	}
	if c.Mode == ModeDifferential && c.RetentionAge <= c.CorrectionWait {
		return fmt.Errorf("retention age %s must exceed correction wait %s", c.RetentionAge, c.CorrectionWait)
	}
	if c.SolverTimeout <= 0 {
		return fmt.Errorf("solver timeout must be positive")
	}
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("max in-flight solver invocations must be positive")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud rate must be positive")
	}
	if c.Device == "" {
		return fmt.Errorf("receiver device must be set")
	}

	seen := make(map[string]struct{}, len(c.Stations))
	for _, st := range c.Stations {
		if st.Host == "" || st.Mount == "" || st.Port <= 0 {
			return fmt.Errorf("station %q: incomplete endpoint", st.ID())
		}
		if _, dup := seen[st.ID()]; dup {
			return fmt.Errorf("station %q: duplicate endpoint", st.ID())
		}
		seen[st.ID()] = struct{}{}
	}

	return nil
}
