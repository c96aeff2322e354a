// Package frd implements the friend list services.
package frd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"unicode/utf16"

	"ctrhle/hal"
	"ctrhle/hle/settings"
	"ctrhle/kernel"
)

const logClass = "Service.FRD"

// MaxSessions is the session limit of frd:u and frd:a.
const MaxSessions = 8

// ServiceNames lists the services fronting the module.
var ServiceNames = []string{"frd:a", "frd:u"}

const (
	friendKeySize       = 16
	profileSize         = 8
	scrambledCodeSize   = 12
	friendCodeSize      = 8
	PresenceSize        = 0x12C
	MiiSize             = 0x60
	screenNameUnits     = 11
	commentUnits        = 33
	defaultComment      = "Citra is awesome!"
	attributeFlagsWidth = 1
)

// FriendKey identifies a friend.
type FriendKey struct {
	FriendID   uint32
	Unknown    uint32
	FriendCode uint64
}

func (k FriendKey) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], k.FriendID)
	binary.LittleEndian.PutUint32(b[4:8], k.Unknown)
	binary.LittleEndian.PutUint64(b[8:16], k.FriendCode)
}

// Profile is a friend's region and platform record, eight bytes on the wire.
type Profile struct {
	Region   uint8
	Country  uint8
	Area     uint8
	Language uint8
	Platform uint8
}

func (p Profile) words() (uint32, uint32) {
	return uint32(p.Region) | uint32(p.Country)<<8 | uint32(p.Area)<<16 | uint32(p.Language)<<24,
		uint32(p.Platform)
}

// Deps are the collaborators of the FRD module.
type Deps struct {
	Settings *settings.Store
	Logger   hal.Logger
}

// Module is the friend state shared by frd:u and frd:a.
type Module struct {
	settings *settings.Store
	logger   hal.Logger

	mu          sync.Mutex
	friends     []FriendKey
	loggedIn    bool
	myKey       FriendKey
	presence    [PresenceSize]byte
	profile     Profile
	mii         [MiiSize]byte
	sdkVersions map[string]uint32
	closed      bool
}

// NewModule returns a logged-out module with an empty friend list.
func NewModule(d Deps) (*Module, error) {
	if d.Settings == nil {
		return nil, errors.New("frd: settings store is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = hal.Discard
	}
	return &Module{
		settings:    d.Settings,
		logger:      logger,
		myKey:       FriendKey{FriendID: 1, Unknown: 2, FriendCode: 3},
		profile:     Profile{Region: 1, Country: 2, Area: 3, Language: 4, Platform: 5},
		sdkVersions: make(map[string]uint32),
	}, nil
}

func (m *Module) Name() string { return "frd" }

// Close logs the user out and drops the friend list.
func (m *Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loggedIn = false
	m.friends = nil
	m.closed = true
	return nil
}

func (m *Module) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// AddFriend appends k to the friend list.
func (m *Module) AddFriend(k FriendKey) {
	m.mu.Lock()
	m.friends = append(m.friends, k)
	m.mu.Unlock()
}

func (m *Module) LoggedIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loggedIn
}

// SdkVersion returns the version a client of service reported, if any.
func (m *Module) SdkVersion(service string) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.sdkVersions[service]
	return v, ok
}

// packUTF16 encodes s as UTF-16, truncated to maxUnits, into words 32-bit
// words with the low unit first. Unused units are zero.
func packUTF16(s string, maxUnits, words int) []uint32 {
	units := utf16.Encode([]rune(s))
	if len(units) > maxUnits {
		units = units[:maxUnits]
	}
	out := make([]uint32, words)
	for i, u := range units {
		if i/2 >= words {
			break
		}
		out[i/2] |= uint32(u) << (16 * (i % 2))
	}
	return out
}

// packBytes packs b into little-endian words.
func packBytes(b []byte) []uint32 {
	out := make([]uint32, (len(b)+3)/4)
	for i, v := range b {
		out[i/4] |= uint32(v) << (8 * (i % 4))
	}
	return out
}

// unscramble recovers a friend code from its 12-byte scrambled form: the
// first four halfwords are XORed with the sixth.
func unscramble(b []byte) uint64 {
	key := binary.LittleEndian.Uint16(b[10:12])
	var code uint64
	for i := 0; i < 4; i++ {
		code |= uint64(binary.LittleEndian.Uint16(b[2*i:])^key) << (16 * i)
	}
	return code
}

// Install registers frd:a and frd:u on k around one shared module.
func Install(k *kernel.Kernel, d Deps) (*Module, error) {
	m, err := NewModule(d)
	if err != nil {
		return nil, err
	}
	ref := kernel.NewModuleRef(m)
	for i, name := range ServiceNames {
		err := k.Register(&kernel.Service{
			Name:        name,
			Class:       logClass,
			MaxSessions: MaxSessions,
			Handlers:    m.table(),
			Module:      ref,
		})
		if err != nil {
			for _, done := range ServiceNames[:i] {
				_ = k.Unregister(done)
			}
			if ref.Refs() == 0 {
				_ = m.Close()
			}
			return nil, fmt.Errorf("frd: install %s: %w", name, err)
		}
	}
	return m, nil
}
