package settings

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ctrhle/hle/sharedpage"
)

func newTestActor(t *testing.T) (*Actor, *sharedpage.Page) {
	t.Helper()
	v := DefaultValues()
	page := sharedpage.New(v.PageDefaults(sharedpage.DefaultWifiMAC))
	return NewActor(NewStore(v), page, nil), page
}

func TestNetworkIndexMapping(t *testing.T) {
	cases := []struct {
		index int
		state sharedpage.NetworkState
	}{
		{0, sharedpage.NetworkEnabled},
		{1, sharedpage.NetworkDisabled},
		{2, sharedpage.NetworkLocal},
		{3, sharedpage.NetworkInternet},
	}
	for _, tc := range cases {
		got, err := NetworkStateFromIndex(tc.index)
		if err != nil {
			t.Fatalf("NetworkStateFromIndex(%d): %v", tc.index, err)
		}
		if got != tc.state {
			t.Fatalf("NetworkStateFromIndex(%d) = %s, want %s", tc.index, got, tc.state)
		}
		if back := IndexFromNetworkState(got); back != tc.index {
			t.Fatalf("IndexFromNetworkState(%s) = %d, want %d", got, back, tc.index)
		}
	}
	for _, s := range []sharedpage.NetworkState{4, 6} {
		if got := IndexFromNetworkState(s); got != 2 {
			t.Fatalf("IndexFromNetworkState(%d) = %d, want 2", s, got)
		}
	}
	if got := IndexFromNetworkState(1); got != 0 {
		t.Fatalf("expected unknown state to map to 0, got %d", got)
	}
	if _, err := NetworkStateFromIndex(4); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
}

func TestActorUpdatesStoreAndPage(t *testing.T) {
	a, page := newTestActor(t)

	a.SetAdapterConnected(false)
	a.SetBatteryCharging(false)
	if err := a.SetBatteryLevel(2); err != nil {
		t.Fatalf("SetBatteryLevel: %v", err)
	}
	a.SetWifiLinkLevel(1)
	if err := a.SetNetworkIndex(1); err != nil {
		t.Fatalf("SetNetworkIndex: %v", err)
	}
	if err := a.SetSlider3D(0.25); err != nil {
		t.Fatalf("SetSlider3D: %v", err)
	}

	v := a.Store().Get()
	if v.AdapterConnected || v.BatteryCharging || v.BatteryLevel != 2 || v.WifiLinkLevel != 1 ||
		v.NetworkState != sharedpage.NetworkDisabled || v.Slider3D != 0.25 {
		t.Fatalf("unexpected store values %+v", v)
	}

	s := page.Read()
	want := sharedpage.BatteryState{ChargeLevel: 2}
	if s.Battery != want {
		t.Fatalf("page battery = %+v, want %+v", s.Battery, want)
	}
	if s.WifiLinkLevel != 1 || s.NetworkState != sharedpage.NetworkDisabled || s.Slider3D != 0.25 {
		t.Fatalf("unexpected page snapshot %+v", s)
	}
}

func TestActorRejectsOutOfRange(t *testing.T) {
	a, page := newTestActor(t)
	if err := a.SetBatteryLevel(0); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	if err := a.SetSlider3D(1.5); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	if err := a.SetUsername("ABCDEFGHIJK"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	if got := page.Read().Battery.ChargeLevel; got != sharedpage.MaxChargeLevel {
		t.Fatalf("expected page level untouched, got %d", got)
	}
}

func TestParseChange(t *testing.T) {
	cases := []struct {
		line string
		want Change
		ok   bool
	}{
		{`set battery_level 3`, Change{Key: KeyBatteryLevel, Value: "3"}, true},
		{`set username "Mii Name"`, Change{Key: KeyUsername, Value: "Mii Name"}, true},
		{`   `, Change{}, false},
		{`# adapter unplugged`, Change{}, false},
	}
	for _, tc := range cases {
		got, ok, err := ParseChange(tc.line)
		if err != nil {
			t.Fatalf("ParseChange(%q): %v", tc.line, err)
		}
		if ok != tc.ok {
			t.Fatalf("ParseChange(%q) ok = %v, want %v", tc.line, ok, tc.ok)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("ParseChange(%q) mismatch (-want +got):\n%s", tc.line, diff)
		}
	}

	for _, bad := range []string{`get battery_level`, `set battery_level`, `set a b c`, `set "unterminated`} {
		if _, _, err := ParseChange(bad); err == nil {
			t.Fatalf("ParseChange(%q): expected error", bad)
		}
	}
}

func TestApplyKeys(t *testing.T) {
	a, _ := newTestActor(t)
	changes := []Change{
		{KeyAdapterConnected, "off"},
		{KeyBatteryCharging, "false"},
		{KeyBatteryLevel, "4"},
		{KeyWifiStatus, "1"},
		{KeyWifiLinkLevel, "0x2"},
		{KeyNetworkState, "local"},
		{KeySlider3D, "0.5"},
		{KeySystemModel, "2"},
		{KeyUsername, "Tester"},
	}
	for _, c := range changes {
		if err := a.Apply(c); err != nil {
			t.Fatalf("Apply(%s): %v", c, err)
		}
	}
	want := Values{
		BatteryLevel:  4,
		WifiStatus:    1,
		WifiLinkLevel: 2,
		NetworkState:  sharedpage.NetworkLocal,
		Slider3D:      0.5,
		SystemModel:   2,
		Username:      "Tester",
	}
	if diff := cmp.Diff(want, a.Store().Get()); diff != "" {
		t.Fatalf("store mismatch (-want +got):\n%s", diff)
	}

	if err := a.Apply(Change{Key: "volume", Value: "3"}); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
	if err := a.Apply(Change{Key: KeyAdapterConnected, Value: "maybe"}); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
}

func TestRunScript(t *testing.T) {
	a, page := newTestActor(t)
	script := strings.Join([]string{
		"# unplug and drain",
		"set adapter_connected false",
		"set battery_charging false",
		"",
		"set battery_level 1",
		"set network_index 2",
	}, "\n")
	if err := a.RunScript(context.Background(), strings.NewReader(script)); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	s := page.Read()
	if s.Battery != (sharedpage.BatteryState{ChargeLevel: 1}) || s.NetworkState != sharedpage.NetworkLocal {
		t.Fatalf("unexpected page %+v", s)
	}

	err := a.RunScript(context.Background(), strings.NewReader("set battery_level 1\nset battery_level 9\n"))
	if !errors.Is(err, ErrInvalidValue) || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line 2 ErrInvalidValue, got %v", err)
	}
}

func TestRunAppliesChanges(t *testing.T) {
	a, page := newTestActor(t)
	ch := make(chan Change)
	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background(), ch) }()

	ch <- Change{Key: KeyBatteryLevel, Value: "9"} // rejected and skipped
	ch <- Change{Key: KeyWifiLinkLevel, Value: "0"}
	close(ch)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := page.Read().WifiLinkLevel; got != 0 {
		t.Fatalf("expected link level 0, got %d", got)
	}
	if got := page.Read().Battery.ChargeLevel; got != sharedpage.MaxChargeLevel {
		t.Fatalf("expected rejected level to leave %d, got %d", sharedpage.MaxChargeLevel, got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a, _ := newTestActor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Run(ctx, make(chan Change)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSyncWritesPage(t *testing.T) {
	v := DefaultValues()
	v.BatteryLevel = 2
	v.NetworkState = sharedpage.NetworkDisabled
	page := sharedpage.New(sharedpage.DefaultDefaults())
	a := NewActor(NewStore(v), page, nil)
	if err := a.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	s := page.Read()
	if s.Battery.ChargeLevel != 2 || s.NetworkState != sharedpage.NetworkDisabled {
		t.Fatalf("unexpected page %+v", s)
	}
}

func TestValuesValidate(t *testing.T) {
	if err := DefaultValues().Validate(); err != nil {
		t.Fatalf("defaults: %v", err)
	}
	v := DefaultValues()
	v.BatteryLevel = 6
	if err := v.Validate(); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
}
