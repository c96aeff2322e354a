package settings

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"ctrhle/hal"
	"ctrhle/hle/sharedpage"
)

// Keys accepted by Change.
const (
	KeyAdapterConnected = "adapter_connected"
	KeyBatteryCharging  = "battery_charging"
	KeyBatteryLevel     = "battery_level"
	KeyWifiStatus       = "wifi_status"
	KeyWifiLinkLevel    = "wifi_link_level"
	KeyNetworkState     = "network_state"
	KeyNetworkIndex     = "network_index"
	KeySlider3D         = "slider_3d"
	KeySystemModel      = "system_model"
	KeyUsername         = "username"
)

// Change is one setting update produced by a host actor.
type Change struct {
	Key   string
	Value string
}

func (c Change) String() string { return fmt.Sprintf("set %s %q", c.Key, c.Value) }

// ParseChange parses a "set <key> <value>" line. Blank lines and comments
// yield ok == false.
func ParseChange(line string) (c Change, ok bool, err error) {
	args, err := shlex.Split(line)
	if err != nil {
		return Change{}, false, fmt.Errorf("parse %q: %w", line, err)
	}
	if len(args) == 0 {
		return Change{}, false, nil
	}
	if args[0] != "set" || len(args) != 3 {
		return Change{}, false, fmt.Errorf("parse %q: want: set <key> <value>", line)
	}
	return Change{Key: args[1], Value: args[2]}, true, nil
}

// Apply performs one change.
func (a *Actor) Apply(c Change) error {
	switch c.Key {
	case KeyAdapterConnected:
		v, err := parseBool(c.Value)
		if err != nil {
			return err
		}
		a.SetAdapterConnected(v)
	case KeyBatteryCharging:
		v, err := parseBool(c.Value)
		if err != nil {
			return err
		}
		a.SetBatteryCharging(v)
	case KeyBatteryLevel:
		v, err := parseUint8(c.Value)
		if err != nil {
			return err
		}
		return a.SetBatteryLevel(v)
	case KeyWifiStatus:
		v, err := parseUint8(c.Value)
		if err != nil {
			return err
		}
		a.SetWifiStatus(v)
	case KeyWifiLinkLevel:
		v, err := parseUint8(c.Value)
		if err != nil {
			return err
		}
		a.SetWifiLinkLevel(v)
	case KeyNetworkState:
		v, err := ParseNetworkState(c.Value)
		if err != nil {
			return err
		}
		a.SetNetworkState(v)
	case KeyNetworkIndex:
		v, err := strconv.Atoi(c.Value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return a.SetNetworkIndex(v)
	case KeySlider3D:
		v, err := strconv.ParseFloat(c.Value, 32)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return a.SetSlider3D(float32(v))
	case KeySystemModel:
		v, err := parseUint8(c.Value)
		if err != nil {
			return err
		}
		a.SetSystemModel(v)
	case KeyUsername:
		return a.SetUsername(c.Value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, c.Key)
	}
	return nil
}

// RunScript applies every change in r, one per line. It stops at the first
// malformed or rejected line.
func (a *Actor) RunScript(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		c, ok, err := ParseChange(sc.Text())
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if !ok {
			continue
		}
		if err := a.Apply(c); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		hal.Logf(a.logger, hal.LevelDebug, logClass, "line %d: %s", line, c)
	}
	return sc.Err()
}

// ParseNetworkState accepts a state name or its numeric value.
func ParseNetworkState(s string) (sharedpage.NetworkState, error) {
	switch strings.ToLower(s) {
	case "enabled":
		return sharedpage.NetworkEnabled, nil
	case "internet":
		return sharedpage.NetworkInternet, nil
	case "local":
		return sharedpage.NetworkLocal, nil
	case "disabled":
		return sharedpage.NetworkDisabled, nil
	}
	v, err := parseUint8(s)
	if err != nil {
		return 0, err
	}
	return sharedpage.NetworkState(v), nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, s)
	}
	return v, nil
}

func parseUint8(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a byte", ErrInvalidValue, s)
	}
	return uint8(v), nil
}
