package hal

import "errors"

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

// VAddr is a guest virtual address.
type VAddr uint32

var (
	ErrNotImplemented = errors.New("not implemented")

	// ErrInvalidGuestAddress reports an access to an unmapped guest range.
	ErrInvalidGuestAddress = errors.New("invalid guest address")
	// ErrReadOnly reports a write to a region mapped without write permission.
	ErrReadOnly = errors.New("read-only guest region")
)

// Memory is the emulated address space as seen by HLE services.
//
// Every access is range-checked: an access touching any unmapped byte fails
// with ErrInvalidGuestAddress and transfers nothing.
type Memory interface {
	ReadBlock(addr VAddr, p []byte) error
	WriteBlock(addr VAddr, p []byte) error

	Read8(addr VAddr) (uint8, error)
	Read16(addr VAddr) (uint16, error)
	Read32(addr VAddr) (uint32, error)
	Read64(addr VAddr) (uint64, error)

	Write8(addr VAddr, v uint8) error
	Write16(addr VAddr, v uint16) error
	Write32(addr VAddr, v uint32) error
	Write64(addr VAddr, v uint64) error
}

// IODevice backs a memory-mapped I/O region.
//
// Offsets are relative to the region base. A device that rejects guest
// writes returns ErrReadOnly from WriteAt.
type IODevice interface {
	ReadAt(p []byte, off uint32) (int, error)
	WriteAt(p []byte, off uint32) (int, error)
}

// Time provides a base tick stream.
//
// The tick duration is platform-defined; higher-level timers live in userland.
type Time interface {
	Ticks() <-chan uint64
}

// HAL provides the only contact point between the HLE layer and the host.
type HAL interface {
	Logger() Logger
	Memory() Memory
	Time() Time
}
