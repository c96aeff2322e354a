package hal

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
)

// Prot is a guest mapping permission set.
type Prot uint8

const (
	ProtRead Prot = 1 << iota
	ProtWrite

	ProtReadWrite = ProtRead | ProtWrite
)

func (p Prot) String() string {
	switch p {
	case 0:
		return "---"
	case ProtRead:
		return "r--"
	case ProtWrite:
		return "-w-"
	case ProtReadWrite:
		return "rw-"
	default:
		return "???"
	}
}

// Mapper is implemented by address spaces that accept new regions.
type Mapper interface {
	MapRAM(base VAddr, size uint32, prot Prot) error
	MapIO(base VAddr, size uint32, prot Prot, dev IODevice) error
	Unmap(base VAddr) error
}

type region struct {
	base VAddr
	size uint32
	prot Prot
	ram  []byte
	dev  IODevice
}

func (r *region) end() uint64 { return uint64(r.base) + uint64(r.size) }

// HostMemory is a sparse guest address space made of RAM and I/O regions.
//
// An access must fall entirely inside a single region. Accesses are
// serialized with an RWMutex; device reads run under the read lock.
type HostMemory struct {
	mu      sync.RWMutex
	regions []*region // sorted by base
}

// NewHostMemory returns an empty address space.
func NewHostMemory() *HostMemory {
	return &HostMemory{}
}

// MapRAM maps size zeroed bytes at base.
func (m *HostMemory) MapRAM(base VAddr, size uint32, prot Prot) error {
	return m.insert(&region{base: base, size: size, prot: prot, ram: make([]byte, size)})
}

// MapIO maps a device-backed region at base.
func (m *HostMemory) MapIO(base VAddr, size uint32, prot Prot, dev IODevice) error {
	if dev == nil {
		return fmt.Errorf("map io at 0x%08X: nil device", uint32(base))
	}
	return m.insert(&region{base: base, size: size, prot: prot, dev: dev})
}

// Unmap removes the region starting exactly at base.
func (m *HostMemory) Unmap(base VAddr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.regions {
		if r.base == base {
			m.regions = append(m.regions[:i], m.regions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("unmap 0x%08X: %w", uint32(base), ErrInvalidGuestAddress)
}

func (m *HostMemory) insert(nr *region) error {
	if nr.size == 0 {
		return fmt.Errorf("map 0x%08X: empty region", uint32(nr.base))
	}
	if nr.end() > 1<<32 {
		return fmt.Errorf("map 0x%08X+0x%X: beyond 32-bit address space", uint32(nr.base), nr.size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regions {
		if uint64(nr.base) < r.end() && uint64(r.base) < nr.end() {
			return fmt.Errorf("map 0x%08X+0x%X: overlaps region at 0x%08X", uint32(nr.base), nr.size, uint32(r.base))
		}
	}
	m.regions = append(m.regions, nr)
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].base < m.regions[j].base })
	return nil
}

// lookup returns the region containing [addr, addr+n). Caller holds mu.
func (m *HostMemory) lookup(addr VAddr, n int) (*region, uint32, error) {
	i := sort.Search(len(m.regions), func(i int) bool { return m.regions[i].end() > uint64(addr) })
	if i == len(m.regions) {
		return nil, 0, fmt.Errorf("0x%08X+0x%X: %w", uint32(addr), n, ErrInvalidGuestAddress)
	}
	r := m.regions[i]
	if uint64(addr) < uint64(r.base) || uint64(addr)+uint64(n) > r.end() {
		return nil, 0, fmt.Errorf("0x%08X+0x%X: %w", uint32(addr), n, ErrInvalidGuestAddress)
	}
	return r, uint32(addr - r.base), nil
}

// ReadBlock copies len(p) guest bytes at addr into p.
func (m *HostMemory) ReadBlock(addr VAddr, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, off, err := m.lookup(addr, len(p))
	if err != nil {
		return err
	}
	if r.prot&ProtRead == 0 {
		return fmt.Errorf("read 0x%08X: %w", uint32(addr), ErrInvalidGuestAddress)
	}
	if r.dev != nil {
		n, err := r.dev.ReadAt(p, off)
		if err != nil {
			return fmt.Errorf("read io 0x%08X: %w", uint32(addr), err)
		}
		if n != len(p) {
			return fmt.Errorf("read io 0x%08X: short read %d/%d", uint32(addr), n, len(p))
		}
		return nil
	}
	copy(p, r.ram[off:])
	return nil
}

// WriteBlock copies p into guest memory at addr.
func (m *HostMemory) WriteBlock(addr VAddr, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, off, err := m.lookup(addr, len(p))
	if err != nil {
		return err
	}
	if r.prot&ProtWrite == 0 {
		return fmt.Errorf("write 0x%08X: %w", uint32(addr), ErrReadOnly)
	}
	if r.dev != nil {
		if _, err := r.dev.WriteAt(p, off); err != nil {
			return fmt.Errorf("write io 0x%08X: %w", uint32(addr), err)
		}
		return nil
	}
	copy(r.ram[off:], p)
	return nil
}

func (m *HostMemory) Read8(addr VAddr) (uint8, error) {
	var b [1]byte
	if err := m.ReadBlock(addr, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *HostMemory) Read16(addr VAddr) (uint16, error) {
	var b [2]byte
	if err := m.ReadBlock(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (m *HostMemory) Read32(addr VAddr) (uint32, error) {
	var b [4]byte
	if err := m.ReadBlock(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (m *HostMemory) Read64(addr VAddr) (uint64, error) {
	var b [8]byte
	if err := m.ReadBlock(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (m *HostMemory) Write8(addr VAddr, v uint8) error {
	return m.WriteBlock(addr, []byte{v})
}

func (m *HostMemory) Write16(addr VAddr, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return m.WriteBlock(addr, b[:])
}

func (m *HostMemory) Write32(addr VAddr, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return m.WriteBlock(addr, b[:])
}

func (m *HostMemory) Write64(addr VAddr, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return m.WriteBlock(addr, b[:])
}
