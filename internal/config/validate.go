// internal/config/validate.go
package config

import (
	"fmt"
	"strings"

	"ctrhle/hal"
	"ctrhle/hle/settings"
	"ctrhle/hle/sharedpage"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	// ---- log ----
	if _, err := hal.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	// ---- settings ----
	s := cfg.Settings
	if s.BatteryLevel < sharedpage.MinChargeLevel || s.BatteryLevel > sharedpage.MaxChargeLevel {
		return fmt.Errorf(
			"settings.battery_level: %d not in %d..%d",
			s.BatteryLevel,
			sharedpage.MinChargeLevel,
			sharedpage.MaxChargeLevel,
		)
	}
	if s.Slider3D < 0 || s.Slider3D > 1 {
		return fmt.Errorf("settings.slider_3d: %v not in 0..1", s.Slider3D)
	}
	if _, err := settings.ParseNetworkState(s.NetworkState); err != nil {
		return fmt.Errorf("settings.network_state: %w", err)
	}

	// ---- archive ----
	if !cfg.Archive.InMemory && strings.TrimSpace(cfg.Archive.Root) == "" {
		return fmt.Errorf("archive.root: required unless archive.in_memory is set")
	}

	// ---- clock ----
	if cfg.Clock.TickPeriodMs <= 0 {
		return fmt.Errorf("clock.tick_period_ms: must be positive, got %d", cfg.Clock.TickPeriodMs)
	}
	if cfg.Clock.UpdateIntervalMs <= 0 {
		return fmt.Errorf("clock.update_interval_ms: must be positive, got %d", cfg.Clock.UpdateIntervalMs)
	}

	// ---- shared page ----
	if _, err := ParseMAC(cfg.SharedPage.WifiMAC); err != nil {
		return fmt.Errorf("shared_page.wifi_mac: %w", err)
	}
	switch cfg.SharedPage.RunningHW {
	case sharedpage.RunningHWProduct, sharedpage.RunningHWDevice:
	default:
		return fmt.Errorf("shared_page.running_hw: unknown value %d", cfg.SharedPage.RunningHW)
	}

	return nil
}
