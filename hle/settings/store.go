// Package settings holds the canonical host settings and the actor that
// mirrors them into the shared system page.
package settings

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"ctrhle/hle/sharedpage"
)

var (
	ErrUnknownKey   = errors.New("settings: unknown key")
	ErrInvalidValue = errors.New("settings: invalid value")
)

// MaxUsernameLength is the longest username the system settings accept.
const MaxUsernameLength = 10

// Values are the settings services and the shared page read.
type Values struct {
	AdapterConnected bool
	BatteryCharging  bool
	BatteryLevel     uint8
	WifiStatus       uint8
	WifiLinkLevel    uint8
	NetworkState     sharedpage.NetworkState
	Slider3D         float32
	SystemModel      uint8
	Username         string
}

// DefaultValues match sharedpage.DefaultDefaults.
func DefaultValues() Values {
	d := sharedpage.DefaultDefaults()
	return Values{
		AdapterConnected: d.AdapterConnected,
		BatteryCharging:  d.Charging,
		BatteryLevel:     d.ChargeLevel,
		WifiLinkLevel:    d.WifiLinkLevel,
		NetworkState:     d.NetworkState,
		Username:         "CITRA",
	}
}

// Validate checks ranges.
func (v Values) Validate() error {
	if v.BatteryLevel < sharedpage.MinChargeLevel || v.BatteryLevel > sharedpage.MaxChargeLevel {
		return fmt.Errorf("%w: battery level %d not in %d..%d", ErrInvalidValue,
			v.BatteryLevel, sharedpage.MinChargeLevel, sharedpage.MaxChargeLevel)
	}
	if v.Slider3D < 0 || v.Slider3D > 1 {
		return fmt.Errorf("%w: 3D slider %v not in 0..1", ErrInvalidValue, v.Slider3D)
	}
	if n := utf8.RuneCountInString(v.Username); n > MaxUsernameLength {
		return fmt.Errorf("%w: username has %d characters, max %d", ErrInvalidValue, n, MaxUsernameLength)
	}
	return nil
}

// PageDefaults returns the shared page values derived from v.
func (v Values) PageDefaults(mac [6]byte) sharedpage.Defaults {
	d := sharedpage.DefaultDefaults()
	d.WifiMAC = mac
	d.WifiLinkLevel = v.WifiLinkLevel
	d.NetworkState = v.NetworkState
	d.AdapterConnected = v.AdapterConnected
	d.Charging = v.BatteryCharging
	d.ChargeLevel = v.BatteryLevel
	return d
}

// Store is the canonical copy of the settings, safe for concurrent use.
type Store struct {
	mu sync.RWMutex
	v  Values
}

// NewStore returns a store holding v.
func NewStore(v Values) *Store {
	return &Store{v: v}
}

// Get returns a copy of the current values.
func (s *Store) Get() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

func (s *Store) update(fn func(v *Values)) {
	s.mu.Lock()
	fn(&s.v)
	s.mu.Unlock()
}
