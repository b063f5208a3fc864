// Package config loads Pierre's TOML configuration file. Defaults are
// applied before the file is parsed so a minimal or absent config still
// runs.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Magnitudes is a peak-filter floor/ceiling pair, used both for the DSP
// stage's own filtering and for the MajorPeak FX's re-filtering.
type Magnitudes struct {
	Floor   float64 `toml:"floor"`
	Ceiling float64 `toml:"ceiling"`
}

// Unit describes one physical fixture entry under [units].
type Unit struct {
	Name    string `toml:"name"`
	Type    string `toml:"type"` // pinspot | dimmable | switch
	Address int    `toml:"address"`
}

// Config is the parsed contents of the TOML config file.
type Config struct {
	Pierre struct {
		WorkingDir string `toml:"working_dir"`
		PIDFile    string `toml:"pid_file"`
		LogLevel   string `toml:"log_level"`
	} `toml:"pierre"`

	RTSP struct {
		Port        int `toml:"port"`
		IdleTimeout int `toml:"idle_timeout_secs"`
	} `toml:"rtsp"`

	Audio struct {
		Port int `toml:"port"`
	} `toml:"audio"`

	Timing struct {
		ControlPort int `toml:"control_port"`
	} `toml:"timing"`

	MDNS struct {
		ServiceName string `toml:"service_name"`
	} `toml:"mdns"`

	Metrics struct {
		Port int `toml:"port"` // 0 disables the /metrics listener
	} `toml:"metrics"`

	Frame struct {
		Peaks struct {
			Magnitudes `toml:"magnitudes"`
		} `toml:"peaks"`
	} `toml:"frame"`

	FX struct {
		MajorPeak struct {
			Magnitudes     Magnitudes `toml:"magnitudes"`
			SilenceTimeout int        `toml:"silence_timeout"` // seconds
		} `toml:"majorpeak"`
	} `toml:"fx"`

	DMX struct {
		Host string `toml:"host"`
		Port int    `toml:"port"`
	} `toml:"dmx"`

	Units []Unit `toml:"units"`
}

// Default returns a Config with working defaults: peak floor/ceiling
// 2.1/32.0, silence_timeout 10s, RTSP idle 30s, and the full fixture
// set on sequential DMX addresses.
func Default() *Config {
	var c Config

	c.Pierre.WorkingDir = "."
	c.Pierre.PIDFile = "pierre.pid"
	c.Pierre.LogLevel = "info"

	c.RTSP.Port = 7000
	c.RTSP.IdleTimeout = 30

	c.Audio.Port = 0 // 0 = allocate ephemeral at SETUP
	c.Timing.ControlPort = 0

	c.MDNS.ServiceName = "Pierre"
	c.Metrics.Port = 0

	c.Frame.Peaks.Magnitudes = Magnitudes{Floor: 2.1, Ceiling: 32.0}
	c.FX.MajorPeak.Magnitudes = Magnitudes{Floor: 2.1, Ceiling: 32.0}
	c.FX.MajorPeak.SilenceTimeout = 10

	c.DMX.Host = "127.0.0.1"
	c.DMX.Port = 4430

	c.Units = []Unit{
		{Name: "main pinspot", Type: "pinspot", Address: 1},
		{Name: "fill pinspot", Type: "pinspot", Address: 7},
		{Name: "el entry", Type: "dimmable", Address: 13},
		{Name: "el dance", Type: "dimmable", Address: 14},
		{Name: "led forest", Type: "dimmable", Address: 15},
		{Name: "disco ball", Type: "switch", Address: 16},
		{Name: "ac power", Type: "switch", Address: 17},
	}

	return &c
}

// Load reads and parses path over the defaults. An empty path is not an
// error: Pierre runs fine on defaults alone.
func Load(path string) (*Config, error) {
	c := Default()

	if path == "" {
		return c, nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return c, nil
}
