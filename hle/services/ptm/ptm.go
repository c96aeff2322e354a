// Package ptm implements the power and time management services.
package ptm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"ctrhle/hal"
	"ctrhle/hle/archive"
	"ctrhle/hle/settings"
	"ctrhle/hle/sharedpage"
	"ctrhle/kernel"
)

const logClass = "Service.PTM"

// MaxSessions is the session limit of every PTM service.
const MaxSessions = 26

// ExtSaveDataPath is the shared extdata archive holding gamecoin.dat.
var ExtSaveDataPath = archive.ExtSaveDataPath(0, 0xF000000B, 0)

// GameCoinFile is the path of the play coin record inside the archive.
const GameCoinFile = "/gamecoin.dat"

// GameCoinSize is the encoded size of GameCoin.
const GameCoinSize = 20

// GameCoin is the play coin record.
//
// Layout (little-endian):
//   - [0:4]   u32 magic
//   - [4:6]   u16 total coins
//   - [6:8]   u16 coins obtained today
//   - [8:12]  u32 step count
//   - [12:16] u32 step count at last update
//   - [16:18] u16 year
//   - [18]    u8 month
//   - [19]    u8 day
type GameCoin struct {
	Magic            uint32
	TotalCoins       uint16
	TotalCoinsOnDate uint16
	StepCount        uint32
	LastStepCount    uint32
	Year             uint16
	Month            uint8
	Day              uint8
}

// DefaultGameCoin is written when the archive is first formatted.
var DefaultGameCoin = GameCoin{Magic: 0x4F00, TotalCoins: 42, Year: 2014, Month: 12, Day: 29}

func (g GameCoin) MarshalBinary() ([]byte, error) {
	b := make([]byte, GameCoinSize)
	binary.LittleEndian.PutUint32(b[0:4], g.Magic)
	binary.LittleEndian.PutUint16(b[4:6], g.TotalCoins)
	binary.LittleEndian.PutUint16(b[6:8], g.TotalCoinsOnDate)
	binary.LittleEndian.PutUint32(b[8:12], g.StepCount)
	binary.LittleEndian.PutUint32(b[12:16], g.LastStepCount)
	binary.LittleEndian.PutUint16(b[16:18], g.Year)
	b[18] = g.Month
	b[19] = g.Day
	return b, nil
}

func (g *GameCoin) UnmarshalBinary(b []byte) error {
	if len(b) < GameCoinSize {
		return fmt.Errorf("ptm: gamecoin record is %d bytes, want %d", len(b), GameCoinSize)
	}
	*g = GameCoin{
		Magic:            binary.LittleEndian.Uint32(b[0:4]),
		TotalCoins:       binary.LittleEndian.Uint16(b[4:6]),
		TotalCoinsOnDate: binary.LittleEndian.Uint16(b[6:8]),
		StepCount:        binary.LittleEndian.Uint32(b[8:12]),
		LastStepCount:    binary.LittleEndian.Uint32(b[12:16]),
		Year:             binary.LittleEndian.Uint16(b[16:18]),
		Month:            b[18],
		Day:              b[19],
	}
	return nil
}

// Deps are the collaborators of the PTM module. Archives may be nil, in
// which case no gamecoin record is kept.
type Deps struct {
	Settings *settings.Store
	Page     sharedpage.Reader
	Archives *archive.Manager
	Logger   hal.Logger
}

// Module is the state shared by the PTM services.
type Module struct {
	settings *settings.Store
	page     sharedpage.Reader
	logger   hal.Logger
	extdata  *archive.Archive

	mu                sync.Mutex
	shellOpen         bool
	pedometerCounting bool
	new3DSCPUConfig   uint8
	closed            bool
}

// NewModule builds the module and makes sure the gamecoin record exists.
func NewModule(d Deps) (*Module, error) {
	if d.Settings == nil || d.Page == nil {
		return nil, errors.New("ptm: settings store and shared page are required")
	}
	logger := d.Logger
	if logger == nil {
		logger = hal.Discard
	}
	m := &Module{
		settings:  d.Settings,
		page:      d.Page,
		logger:    logger,
		shellOpen: true,
	}
	if d.Archives != nil {
		a, err := openExtData(d.Archives, logger)
		if err != nil {
			return nil, err
		}
		m.extdata = a
	}
	return m, nil
}

func openExtData(mgr *archive.Manager, logger hal.Logger) (*archive.Archive, error) {
	a, err := mgr.Open(archive.CodeSharedExtSaveData, ExtSaveDataPath)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, archive.ErrNotFormatted) {
		return nil, fmt.Errorf("ptm: open extdata: %w", err)
	}

	hal.Logf(logger, hal.LevelInfo, logClass, "formatting shared extdata 0xF000000B")
	if err := mgr.Format(archive.CodeSharedExtSaveData, ExtSaveDataPath); err != nil {
		return nil, fmt.Errorf("ptm: format extdata: %w", err)
	}
	if a, err = mgr.Open(archive.CodeSharedExtSaveData, ExtSaveDataPath); err != nil {
		return nil, fmt.Errorf("ptm: open extdata: %w", err)
	}
	if err := a.CreateFile(GameCoinFile, GameCoinSize); err != nil {
		return nil, fmt.Errorf("ptm: %w", err)
	}
	b, _ := DefaultGameCoin.MarshalBinary()
	if err := a.WriteFile(GameCoinFile, 0, b); err != nil {
		return nil, fmt.Errorf("ptm: %w", err)
	}
	return a, nil
}

func (m *Module) Name() string { return "ptm" }

// Close releases the module. Further Close calls are no-ops.
func (m *Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		hal.Logf(m.logger, hal.LevelDebug, logClass, "module closed")
	}
	return nil
}

// Closed reports whether the last service released the module.
func (m *Module) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GameCoin reads the stored play coin record.
func (m *Module) GameCoin() (GameCoin, error) {
	var g GameCoin
	if m.extdata == nil {
		return g, archive.ErrNotFormatted
	}
	b, err := m.extdata.ReadFile(GameCoinFile)
	if err != nil {
		return g, err
	}
	return g, g.UnmarshalBinary(b)
}

// SetShellOpen records the lid state reported by GetShellState.
func (m *Module) SetShellOpen(open bool) {
	m.mu.Lock()
	m.shellOpen = open
	m.mu.Unlock()
}

// New3DSCPUConfig returns the last value set by ConfigureNew3DSCPU.
func (m *Module) New3DSCPUConfig() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.new3DSCPUConfig
}

// ServiceNames lists the services fronting the module, in install order.
var ServiceNames = []string{"ptm:gets", "ptm:play", "ptm:sets", "ptm:s", "ptm:sysm", "ptm:u"}

func (m *Module) tables() map[string]kernel.HandlerTable {
	common := m.commonTable()
	sysm := common.Merge(m.sysmTable())
	return map[string]kernel.HandlerTable{
		"ptm:u":    common,
		"ptm:gets": common.Merge(m.getsTable()),
		"ptm:play": common.Merge(playTable()),
		"ptm:sets": setsTable(),
		"ptm:s":    sysm,
		"ptm:sysm": sysm,
	}
}

// Install registers every PTM service on k around one shared module. On
// failure the services already registered are removed again.
func Install(k *kernel.Kernel, d Deps) (*Module, error) {
	m, err := NewModule(d)
	if err != nil {
		return nil, err
	}
	ref := kernel.NewModuleRef(m)
	tables := m.tables()
	for i, name := range ServiceNames {
		err := k.Register(&kernel.Service{
			Name:        name,
			Class:       logClass,
			MaxSessions: MaxSessions,
			Handlers:    tables[name],
			Module:      ref,
		})
		if err != nil {
			for _, done := range ServiceNames[:i] {
				_ = k.Unregister(done)
			}
			if ref.Refs() == 0 {
				_ = m.Close()
			}
			return nil, fmt.Errorf("ptm: install %s: %w", name, err)
		}
	}
	return m, nil
}
