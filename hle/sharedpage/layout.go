package sharedpage

import (
	"encoding/binary"
	"math"
)

const (
	// BaseAddress is where the page is mapped in the guest address space.
	BaseAddress = 0x1FF81000
	// Size is the mapped size of the page.
	Size = 0x1000
)

// Byte offsets of the guest-visible fields.
const (
	OffsetDateTimeCounter = 0x00
	OffsetRunningHW       = 0x04
	OffsetMCUHWInfo       = 0x05
	OffsetDateTime0       = 0x20
	OffsetDateTime1       = 0x40
	OffsetWifiMAC         = 0x60
	OffsetWifiLinkLevel   = 0x66
	OffsetNetworkState    = 0x67
	OffsetSlider3D        = 0x80
	OffsetLED3D           = 0x84
	OffsetBatteryState    = 0x85

	dateTimeSize = 0x20
	layoutEnd    = OffsetBatteryState + 1
)

// Battery state bits at OffsetBatteryState.
const (
	batteryAdapterBit  = 1 << 0
	batteryChargingBit = 1 << 1
	batteryLevelShift  = 2
	batteryLevelMask   = 0x7
)

// NetworkState is the link state reported to the guest.
type NetworkState uint8

const (
	NetworkEnabled  NetworkState = 0
	NetworkInternet NetworkState = 2
	NetworkLocal    NetworkState = 3
	NetworkDisabled NetworkState = 7
)

func (s NetworkState) String() string {
	switch s {
	case NetworkEnabled:
		return "enabled"
	case NetworkInternet:
		return "internet"
	case NetworkLocal:
		return "local"
	case NetworkDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// RunningHW values.
const (
	RunningHWProduct = 1
	RunningHWDevice  = 2
)

// BatteryState is the battery byte decoded.
type BatteryState struct {
	AdapterConnected bool
	Charging         bool
	ChargeLevel      uint8
}

// Byte packs the state: bit 0 adapter, bit 1 charging, bits 2-4 level.
func (b BatteryState) Byte() uint8 {
	v := (b.ChargeLevel & batteryLevelMask) << batteryLevelShift
	if b.AdapterConnected {
		v |= batteryAdapterBit
	}
	if b.Charging {
		v |= batteryChargingBit
	}
	return v
}

// DecodeBatteryState is the inverse of BatteryState.Byte.
func DecodeBatteryState(v uint8) BatteryState {
	return BatteryState{
		AdapterConnected: v&batteryAdapterBit != 0,
		Charging:         v&batteryChargingBit != 0,
		ChargeLevel:      v >> batteryLevelShift & batteryLevelMask,
	}
}

// DateTime is one date/time slot.
//
// Layout (little-endian):
//   - [0:8]   u64 milliseconds since 1900-01-01
//   - [8:16]  u64 system tick at the update
//   - [16:24] u64 ticks per second
//   - [24:32] u64 tick offset
type DateTime struct {
	Millis                  uint64
	UpdateTick              uint64
	TickToSecondCoefficient uint64
	TickOffset              uint64
}

func (d DateTime) encode(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], d.Millis)
	binary.LittleEndian.PutUint64(b[8:16], d.UpdateTick)
	binary.LittleEndian.PutUint64(b[16:24], d.TickToSecondCoefficient)
	binary.LittleEndian.PutUint64(b[24:32], d.TickOffset)
}

// Snapshot is a copy of every field, each loaded independently.
type Snapshot struct {
	DateTimeCounter uint32
	RunningHW       uint8
	MCUHWInfo       uint8
	DateTime        [2]DateTime
	WifiMAC         [6]byte
	WifiLinkLevel   uint8
	NetworkState    NetworkState
	Slider3D        float32
	LED3D           uint8
	Battery         BatteryState
}

// CurrentDateTime returns the slot selected by the counter.
func (s Snapshot) CurrentDateTime() DateTime {
	return s.DateTime[s.DateTimeCounter&1]
}

// Encode renders the guest-visible page. dst must hold at least
// OffsetBatteryState+1 bytes; bytes past the known fields are left alone.
func (s Snapshot) Encode(dst []byte) {
	_ = dst[layoutEnd-1]
	binary.LittleEndian.PutUint32(dst[OffsetDateTimeCounter:], s.DateTimeCounter)
	dst[OffsetRunningHW] = s.RunningHW
	dst[OffsetMCUHWInfo] = s.MCUHWInfo
	s.DateTime[0].encode(dst[OffsetDateTime0 : OffsetDateTime0+dateTimeSize])
	s.DateTime[1].encode(dst[OffsetDateTime1 : OffsetDateTime1+dateTimeSize])
	copy(dst[OffsetWifiMAC:OffsetWifiMAC+6], s.WifiMAC[:])
	dst[OffsetWifiLinkLevel] = s.WifiLinkLevel
	dst[OffsetNetworkState] = uint8(s.NetworkState)
	binary.LittleEndian.PutUint32(dst[OffsetSlider3D:], math.Float32bits(s.Slider3D))
	dst[OffsetLED3D] = s.LED3D
	dst[OffsetBatteryState] = s.Battery.Byte()
}
