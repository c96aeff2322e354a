// internal/config/normalize.go
package config

import (
	"fmt"
	"strconv"
	"strings"

	"ctrhle/hle/settings"
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	// Usernames longer than the system allows are cut, not rejected.
	if r := []rune(cfg.Settings.Username); len(r) > settings.MaxUsernameLength {
		cfg.Settings.Username = string(r[:settings.MaxUsernameLength])
	}

	// Canonical network state name.
	if ns, err := settings.ParseNetworkState(cfg.Settings.NetworkState); err == nil {
		cfg.Settings.NetworkState = ns.String()
		if ns.String() == "unknown" {
			cfg.Settings.NetworkState = strconv.Itoa(int(ns))
		}
	}

	// Validated already.
	cfg.SharedPage.MAC, _ = ParseMAC(cfg.SharedPage.WifiMAC)
	cfg.SharedPage.WifiMAC = FormatMAC(cfg.SharedPage.MAC)
}

// ParseMAC parses six hex octets separated by ':' or '-'.
func ParseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '-' })
	if len(parts) != len(mac) {
		return mac, fmt.Errorf("%q: want 6 octets", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return mac, fmt.Errorf("%q: octet %d: %w", s, i, err)
		}
		mac[i] = byte(v)
	}
	return mac, nil
}

// FormatMAC renders mac as lower-case colon-separated hex.
func FormatMAC(mac [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}
