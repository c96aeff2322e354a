package settings

import (
	"context"
	"fmt"
	"unicode/utf8"

	"ctrhle/hal"
	"ctrhle/hle/sharedpage"
)

const logClass = "Settings"

// NetworkStateFromIndex maps a control-panel list index to a network state.
func NetworkStateFromIndex(index int) (sharedpage.NetworkState, error) {
	switch index {
	case 0:
		return sharedpage.NetworkEnabled, nil
	case 1:
		return sharedpage.NetworkDisabled, nil
	case 2:
		return sharedpage.NetworkLocal, nil
	case 3:
		return sharedpage.NetworkInternet, nil
	default:
		return 0, fmt.Errorf("%w: network index %d", ErrInvalidValue, index)
	}
}

// IndexFromNetworkState is the inverse of NetworkStateFromIndex. States 4 and
// 6 share the local entry; unknown states map to 0.
func IndexFromNetworkState(s sharedpage.NetworkState) int {
	switch s {
	case 2:
		return 3
	case 3, 4, 6:
		return 2
	case 7:
		return 1
	default:
		return 0
	}
}

// Actor applies setting changes: the store first, then the shared page.
// Methods may be called from any goroutine, but a single writer keeps the
// page consistent with the store.
type Actor struct {
	store  *Store
	page   sharedpage.Writer
	logger hal.Logger
}

// NewActor returns an actor writing to store and page.
func NewActor(store *Store, page sharedpage.Writer, logger hal.Logger) *Actor {
	return &Actor{store: store, page: page, logger: logger}
}

// Store returns the backing store.
func (a *Actor) Store() *Store { return a.store }

func (a *Actor) SetAdapterConnected(v bool) {
	a.store.update(func(s *Values) { s.AdapterConnected = v })
	a.page.SetAdapterConnected(v)
}

func (a *Actor) SetBatteryCharging(v bool) {
	a.store.update(func(s *Values) { s.BatteryCharging = v })
	a.page.SetCharging(v)
}

// SetBatteryLevel accepts levels 1..5.
func (a *Actor) SetBatteryLevel(level uint8) error {
	if level < sharedpage.MinChargeLevel || level > sharedpage.MaxChargeLevel {
		return fmt.Errorf("%w: battery level %d", ErrInvalidValue, level)
	}
	a.store.update(func(s *Values) { s.BatteryLevel = level })
	return a.page.SetChargeLevel(level)
}

// SetWifiStatus only updates the store; the page has no such field.
func (a *Actor) SetWifiStatus(v uint8) {
	a.store.update(func(s *Values) { s.WifiStatus = v })
}

func (a *Actor) SetWifiLinkLevel(v uint8) {
	a.store.update(func(s *Values) { s.WifiLinkLevel = v })
	a.page.SetWifiLinkLevel(v)
}

func (a *Actor) SetNetworkState(v sharedpage.NetworkState) {
	a.store.update(func(s *Values) { s.NetworkState = v })
	a.page.SetNetworkState(v)
}

// SetNetworkIndex selects a network state by control-panel index.
func (a *Actor) SetNetworkIndex(index int) error {
	st, err := NetworkStateFromIndex(index)
	if err != nil {
		return err
	}
	a.SetNetworkState(st)
	return nil
}

// SetSlider3D sets the 3D depth, 0..1.
func (a *Actor) SetSlider3D(v float32) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: 3D slider %v", ErrInvalidValue, v)
	}
	a.store.update(func(s *Values) { s.Slider3D = v })
	a.page.SetSlider3D(v)
	return nil
}

func (a *Actor) SetSystemModel(v uint8) {
	a.store.update(func(s *Values) { s.SystemModel = v })
}

// SetUsername accepts at most MaxUsernameLength characters.
func (a *Actor) SetUsername(name string) error {
	if n := utf8.RuneCountInString(name); n > MaxUsernameLength {
		return fmt.Errorf("%w: username has %d characters, max %d", ErrInvalidValue, n, MaxUsernameLength)
	}
	a.store.update(func(s *Values) { s.Username = name })
	return nil
}

// Sync writes every page-backed setting to the page.
func (a *Actor) Sync() error {
	v := a.store.Get()
	a.page.SetAdapterConnected(v.AdapterConnected)
	a.page.SetCharging(v.BatteryCharging)
	a.page.SetWifiLinkLevel(v.WifiLinkLevel)
	a.page.SetNetworkState(v.NetworkState)
	a.page.SetSlider3D(v.Slider3D)
	return a.page.SetChargeLevel(v.BatteryLevel)
}

// Run applies changes from ch until ctx is done or ch closes. Invalid changes
// are logged and skipped.
func (a *Actor) Run(ctx context.Context, ch <-chan Change) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return nil
			}
			if err := a.Apply(c); err != nil {
				hal.Logf(a.logger, hal.LevelWarning, logClass, "%s: %v", c, err)
				continue
			}
			hal.Logf(a.logger, hal.LevelDebug, logClass, "%s", c)
		}
	}
}
