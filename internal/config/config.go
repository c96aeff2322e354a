// internal/config/config.go
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"ctrhle/hal"
	"ctrhle/hle/settings"
	"ctrhle/hle/sharedpage"
)

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Settings   SettingsConfig   `yaml:"settings"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Clock      ClockConfig      `yaml:"clock"`
	SharedPage SharedPageConfig `yaml:"shared_page"`
}

// ---- LOG ----

type LogConfig struct {
	Level string `yaml:"level"`
}

// ---- SETTINGS ----

type SettingsConfig struct {
	AdapterConnected bool    `yaml:"adapter_connected"`
	BatteryCharging  bool    `yaml:"battery_charging"`
	BatteryLevel     uint8   `yaml:"battery_level"`
	WifiStatus       uint8   `yaml:"wifi_status"`
	WifiLinkLevel    uint8   `yaml:"wifi_link_level"`
	NetworkState     string  `yaml:"network_state"` // name or number
	Slider3D         float32 `yaml:"slider_3d"`
	SystemModel      uint8   `yaml:"system_model"`
	Username         string  `yaml:"username"` // truncated to 10 characters

	// Script is an optional file of "set <key> <value>" lines applied at boot.
	Script string `yaml:"script"`
}

// ---- ARCHIVE ----

type ArchiveConfig struct {
	// Root is the host directory holding archives. CTRHLE_ARCHIVE_ROOT
	// overrides it.
	Root string `yaml:"root"`
	// InMemory keeps archives in memory; nothing survives the session.
	InMemory bool `yaml:"in_memory"`
}

// ---- CLOCK ----

type ClockConfig struct {
	TickPeriodMs     int `yaml:"tick_period_ms"`
	UpdateIntervalMs int `yaml:"update_interval_ms"`
}

// ---- SHARED PAGE ----

type SharedPageConfig struct {
	RunningHW uint8  `yaml:"running_hw"`
	MCUHWInfo uint8  `yaml:"mcu_hw_info"`
	WifiMAC   string `yaml:"wifi_mac"` // aa:bb:cc:dd:ee:ff

	// MAC is WifiMAC parsed by Normalize.
	MAC [6]byte `yaml:"-"`
}

// Default returns the configuration of a retail unit on external power.
func Default() *Config {
	v := settings.DefaultValues()
	d := sharedpage.DefaultDefaults()
	return &Config{
		Log: LogConfig{Level: "info"},
		Settings: SettingsConfig{
			AdapterConnected: v.AdapterConnected,
			BatteryCharging:  v.BatteryCharging,
			BatteryLevel:     v.BatteryLevel,
			WifiStatus:       v.WifiStatus,
			WifiLinkLevel:    v.WifiLinkLevel,
			NetworkState:     v.NetworkState.String(),
			Slider3D:         v.Slider3D,
			SystemModel:      v.SystemModel,
			Username:         v.Username,
		},
		Archive: ArchiveConfig{Root: "ctrhle-data"},
		Clock: ClockConfig{
			TickPeriodMs:     int(hal.TickDuration.Milliseconds()),
			UpdateIntervalMs: int(sharedpage.DefaultUpdateInterval.Milliseconds()),
		},
		SharedPage: SharedPageConfig{
			RunningHW: d.RunningHW,
			MCUHWInfo: d.MCUHWInfo,
			WifiMAC:   FormatMAC(d.WifiMAC),
			MAC:       d.WifiMAC,
		},
	}
}

// Load reads a YAML file over Default. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default.
func Parse(b []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// LogLevel returns the parsed log level. Call after Validate.
func (c *Config) LogLevel() hal.Level {
	lvl, _ := hal.ParseLevel(c.Log.Level)
	return lvl
}

// Values returns the settings the session starts with. Call after Normalize.
func (c *Config) Values() settings.Values {
	s := c.Settings
	ns, _ := settings.ParseNetworkState(s.NetworkState)
	return settings.Values{
		AdapterConnected: s.AdapterConnected,
		BatteryCharging:  s.BatteryCharging,
		BatteryLevel:     s.BatteryLevel,
		WifiStatus:       s.WifiStatus,
		WifiLinkLevel:    s.WifiLinkLevel,
		NetworkState:     ns,
		Slider3D:         s.Slider3D,
		SystemModel:      s.SystemModel,
		Username:         s.Username,
	}
}

// PageDefaults returns the shared page values. Call after Normalize.
func (c *Config) PageDefaults() sharedpage.Defaults {
	d := c.Values().PageDefaults(c.SharedPage.MAC)
	d.RunningHW = c.SharedPage.RunningHW
	d.MCUHWInfo = c.SharedPage.MCUHWInfo
	return d
}
