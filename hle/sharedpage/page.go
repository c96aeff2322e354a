// Package sharedpage implements the shared system page: host-observed
// hardware, network and time state that guest code reads directly.
//
// Every field is stored in its own atomic. There is no cross-field
// transaction: a reader may see one field updated and another not yet.
package sharedpage

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"ctrhle/hal"
)

var (
	ErrClosed      = errors.New("sharedpage: closed")
	ErrChargeLevel = errors.New("sharedpage: charge level out of range")
)

// MinChargeLevel and MaxChargeLevel bound SetChargeLevel.
const (
	MinChargeLevel = 1
	MaxChargeLevel = 5
)

// DefaultWifiMAC is the MAC address reported when none is configured.
var DefaultWifiMAC = [6]byte{0x40, 0xF4, 0x07, 0x00, 0x00, 0x00}

// Writer is the host-side interface. Only host actors hold it.
type Writer interface {
	SetAdapterConnected(bool)
	SetCharging(bool)
	SetChargeLevel(uint8) error
	SetNetworkState(NetworkState)
	SetWifiLinkLevel(uint8)
	SetWifiMAC([6]byte)
	SetSlider3D(float32)
	SetLED3D(uint8)
	UpdateDateTime(DateTime)
}

// Reader is the guest-side interface.
type Reader interface {
	Read() Snapshot
	DateTime() DateTime
}

// Defaults are the values a page takes on Reset.
type Defaults struct {
	RunningHW        uint8
	MCUHWInfo        uint8
	WifiMAC          [6]byte
	WifiLinkLevel    uint8
	NetworkState     NetworkState
	AdapterConnected bool
	Charging         bool
	ChargeLevel      uint8
}

// DefaultDefaults returns the values of a retail unit on external power.
func DefaultDefaults() Defaults {
	return Defaults{
		RunningHW:        RunningHWProduct,
		WifiMAC:          DefaultWifiMAC,
		WifiLinkLevel:    3,
		NetworkState:     NetworkInternet,
		AdapterConnected: true,
		Charging:         true,
		ChargeLevel:      MaxChargeLevel,
	}
}

type dateTimeSlot struct {
	millis     atomic.Uint64
	updateTick atomic.Uint64
	coeff      atomic.Uint64
	offset     atomic.Uint64
}

func (s *dateTimeSlot) load() DateTime {
	return DateTime{
		Millis:                  s.millis.Load(),
		UpdateTick:              s.updateTick.Load(),
		TickToSecondCoefficient: s.coeff.Load(),
		TickOffset:              s.offset.Load(),
	}
}

func (s *dateTimeSlot) store(d DateTime) {
	s.millis.Store(d.Millis)
	s.updateTick.Store(d.UpdateTick)
	s.coeff.Store(d.TickToSecondCoefficient)
	s.offset.Store(d.TickOffset)
}

// Page is the shared system page. The zero value is closed; call Reset.
//
// Time fields are written by the clock; the remaining fields by the settings
// actor. Both groups sit on separate cache lines.
type Page struct {
	open atomic.Bool

	dateTimeCounter atomic.Uint32
	runningHW       atomic.Uint32
	mcuHWInfo       atomic.Uint32
	dateTime        [2]dateTimeSlot

	_ cpu.CacheLinePad

	wifiMAC          atomic.Uint64
	wifiLinkLevel    atomic.Uint32
	networkState     atomic.Uint32
	slider3D         atomic.Uint32
	led3D            atomic.Uint32
	adapterConnected atomic.Bool
	charging         atomic.Bool
	chargeLevel      atomic.Uint32
}

// New returns a page initialised with d.
func New(d Defaults) *Page {
	p := &Page{}
	p.Reset(d)
	return p
}

// Reset zeroes the page, applies d and opens it.
func (p *Page) Reset(d Defaults) {
	p.dateTimeCounter.Store(0)
	p.runningHW.Store(uint32(d.RunningHW))
	p.mcuHWInfo.Store(uint32(d.MCUHWInfo))
	p.dateTime[0].store(DateTime{})
	p.dateTime[1].store(DateTime{})
	p.wifiMAC.Store(macToUint64(d.WifiMAC))
	p.wifiLinkLevel.Store(uint32(d.WifiLinkLevel))
	p.networkState.Store(uint32(d.NetworkState))
	p.slider3D.Store(0)
	p.led3D.Store(0)
	p.adapterConnected.Store(d.AdapterConnected)
	p.charging.Store(d.Charging)
	level := d.ChargeLevel
	if level < MinChargeLevel || level > MaxChargeLevel {
		level = MaxChargeLevel
	}
	p.chargeLevel.Store(uint32(level))
	p.open.Store(true)
}

// Close tears the page down. Reads return the zero snapshot afterwards.
func (p *Page) Close() error {
	if !p.open.Swap(false) {
		return ErrClosed
	}
	return nil
}

// Open reports whether the page is between Reset and Close.
func (p *Page) Open() bool { return p.open.Load() }

func (p *Page) SetAdapterConnected(v bool) { p.adapterConnected.Store(v) }
func (p *Page) SetCharging(v bool)         { p.charging.Store(v) }

// SetChargeLevel stores a level in 1..5.
func (p *Page) SetChargeLevel(level uint8) error {
	if level < MinChargeLevel || level > MaxChargeLevel {
		return fmt.Errorf("%w: %d", ErrChargeLevel, level)
	}
	p.chargeLevel.Store(uint32(level))
	return nil
}

func (p *Page) SetNetworkState(s NetworkState) { p.networkState.Store(uint32(s)) }
func (p *Page) SetWifiLinkLevel(v uint8)       { p.wifiLinkLevel.Store(uint32(v)) }
func (p *Page) SetWifiMAC(mac [6]byte)         { p.wifiMAC.Store(macToUint64(mac)) }
func (p *Page) SetSlider3D(v float32)          { p.slider3D.Store(math.Float32bits(v)) }
func (p *Page) SetLED3D(v uint8)               { p.led3D.Store(uint32(v)) }

// UpdateDateTime writes the inactive slot, then publishes it by bumping the
// counter. It must only be called from the clock goroutine.
func (p *Page) UpdateDateTime(d DateTime) {
	next := (p.dateTimeCounter.Load() + 1) & 1
	p.dateTime[next].store(d)
	p.dateTimeCounter.Add(1)
}

// Read loads every field.
func (p *Page) Read() Snapshot {
	if !p.open.Load() {
		return Snapshot{}
	}
	return Snapshot{
		DateTimeCounter: p.dateTimeCounter.Load(),
		RunningHW:       uint8(p.runningHW.Load()),
		MCUHWInfo:       uint8(p.mcuHWInfo.Load()),
		DateTime:        [2]DateTime{p.dateTime[0].load(), p.dateTime[1].load()},
		WifiMAC:         uint64ToMAC(p.wifiMAC.Load()),
		WifiLinkLevel:   uint8(p.wifiLinkLevel.Load()),
		NetworkState:    NetworkState(p.networkState.Load()),
		Slider3D:        math.Float32frombits(p.slider3D.Load()),
		LED3D:           uint8(p.led3D.Load()),
		Battery: BatteryState{
			AdapterConnected: p.adapterConnected.Load(),
			Charging:         p.charging.Load(),
			ChargeLevel:      uint8(p.chargeLevel.Load()),
		},
	}
}

// DateTime returns the published date/time slot, retrying while the clock
// publishes a new one.
func (p *Page) DateTime() DateTime {
	if !p.open.Load() {
		return DateTime{}
	}
	for {
		c := p.dateTimeCounter.Load()
		d := p.dateTime[c&1].load()
		if p.dateTimeCounter.Load() == c {
			return d
		}
	}
}

// ReadAt renders guest-visible bytes, so the page can back a read-only I/O
// region.
func (p *Page) ReadAt(b []byte, off uint32) (int, error) {
	if !p.open.Load() {
		return 0, ErrClosed
	}
	if uint64(off)+uint64(len(b)) > Size {
		return 0, fmt.Errorf("sharedpage: read [0x%X, 0x%X): %w", off, uint64(off)+uint64(len(b)), hal.ErrInvalidGuestAddress)
	}
	var img [layoutEnd]byte
	if off < layoutEnd {
		p.Read().Encode(img[:])
	}
	for i := range b {
		pos := int(off) + i
		if pos < layoutEnd {
			b[i] = img[pos]
		} else {
			b[i] = 0
		}
	}
	return len(b), nil
}

// WriteAt always fails: the guest mapping is read-only.
func (p *Page) WriteAt(b []byte, off uint32) (int, error) {
	return 0, hal.ErrReadOnly
}

// Map installs the page read-only at BaseAddress.
func (p *Page) Map(m hal.Mapper) error {
	return m.MapIO(BaseAddress, Size, hal.ProtRead, p)
}

// Unmap removes the page from m.
func (p *Page) Unmap(m hal.Mapper) error {
	return m.Unmap(BaseAddress)
}

func macToUint64(mac [6]byte) uint64 {
	var v uint64
	for i, b := range mac {
		v |= uint64(b) << (8 * i)
	}
	return v
}

func uint64ToMAC(v uint64) [6]byte {
	var mac [6]byte
	for i := range mac {
		mac[i] = byte(v >> (8 * i))
	}
	return mac
}

var (
	_ Writer       = (*Page)(nil)
	_ Reader       = (*Page)(nil)
	_ hal.IODevice = (*Page)(nil)
)
