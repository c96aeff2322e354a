package hal

import (
	"bytes"
	"errors"
	"testing"
)

type recordingDevice struct {
	data   [16]byte
	writes int
}

func (d *recordingDevice) ReadAt(p []byte, off uint32) (int, error) {
	return copy(p, d.data[off:]), nil
}

func (d *recordingDevice) WriteAt(p []byte, off uint32) (int, error) {
	d.writes++
	return copy(d.data[off:], p), nil
}

func TestHostMemoryRAM(t *testing.T) {
	m := NewHostMemory()
	if err := m.MapRAM(0x1000, 0x100, ProtReadWrite); err != nil {
		t.Fatalf("MapRAM: %v", err)
	}
	if err := m.Write32(0x1010, 0xDEADBEEF); err != nil {
		t.Fatalf("Write32: %v", err)
	}
	b, err := m.Read8(0x1010)
	if err != nil {
		t.Fatalf("Read8: %v", err)
	}
	if b != 0xEF {
		t.Fatalf("expected little-endian low byte 0xEF, got 0x%02X", b)
	}
	if err := m.Write64(0x10F8, 0x0102030405060708); err != nil {
		t.Fatalf("Write64 at region end: %v", err)
	}
	v, err := m.Read64(0x10F8)
	if err != nil || v != 0x0102030405060708 {
		t.Fatalf("expected 0x0102030405060708, got 0x%X (%v)", v, err)
	}
}

func TestHostMemoryBounds(t *testing.T) {
	m := NewHostMemory()
	if err := m.MapRAM(0x1000, 0x10, ProtReadWrite); err != nil {
		t.Fatalf("MapRAM: %v", err)
	}
	if err := m.MapRAM(0x1010, 0x10, ProtReadWrite); err != nil {
		t.Fatalf("MapRAM adjacent: %v", err)
	}

	// Straddling two regions is rejected and transfers nothing.
	if err := m.Write32(0x100E, 0xFFFFFFFF); !errors.Is(err, ErrInvalidGuestAddress) {
		t.Fatalf("expected ErrInvalidGuestAddress, got %v", err)
	}
	got := make([]byte, 4)
	if err := m.ReadBlock(0x100C, got); err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !bytes.Equal(got, make([]byte, 4)) {
		t.Fatalf("expected untouched memory, got %x", got)
	}

	for _, addr := range []VAddr{0x0FFF, 0x1020, 0xFFFFFFFF} {
		if _, err := m.Read8(addr); !errors.Is(err, ErrInvalidGuestAddress) {
			t.Fatalf("Read8(0x%08X): expected ErrInvalidGuestAddress, got %v", uint32(addr), err)
		}
	}
	if err := m.ReadBlock(0x5000, nil); err != nil {
		t.Fatalf("empty read should succeed, got %v", err)
	}
}

func TestHostMemoryMapErrors(t *testing.T) {
	m := NewHostMemory()
	if err := m.MapRAM(0x2000, 0x100, ProtRead); err != nil {
		t.Fatalf("MapRAM: %v", err)
	}
	cases := []struct {
		name string
		base VAddr
		size uint32
	}{
		{"overlap", 0x20F0, 0x20},
		{"empty", 0x3000, 0},
		{"wrap", 0xFFFFFF00, 0x200},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := m.MapRAM(tc.base, tc.size, ProtRead); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if err := m.Unmap(0x2010); !errors.Is(err, ErrInvalidGuestAddress) {
		t.Fatalf("expected unmap by base only, got %v", err)
	}
	if err := m.Unmap(0x2000); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if err := m.MapRAM(0x20F0, 0x20, ProtRead); err != nil {
		t.Fatalf("MapRAM after unmap: %v", err)
	}
}

func TestHostMemoryProtection(t *testing.T) {
	m := NewHostMemory()
	if err := m.MapRAM(0x1000, 0x10, ProtRead); err != nil {
		t.Fatalf("MapRAM: %v", err)
	}
	if err := m.Write8(0x1000, 1); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if err := m.MapRAM(0x2000, 0x10, ProtWrite); err != nil {
		t.Fatalf("MapRAM: %v", err)
	}
	if _, err := m.Read8(0x2000); !errors.Is(err, ErrInvalidGuestAddress) {
		t.Fatalf("expected unreadable region, got %v", err)
	}
}

func TestHostMemoryIO(t *testing.T) {
	m := NewHostMemory()
	dev := &recordingDevice{}
	dev.data[4] = 0x7F
	if err := m.MapIO(0x1FF81000, 16, ProtReadWrite, dev); err != nil {
		t.Fatalf("MapIO: %v", err)
	}
	if v, err := m.Read8(0x1FF81004); err != nil || v != 0x7F {
		t.Fatalf("expected 0x7F, got 0x%02X (%v)", v, err)
	}
	if err := m.Write16(0x1FF81008, 0xABCD); err != nil {
		t.Fatalf("Write16: %v", err)
	}
	if dev.writes != 1 || dev.data[8] != 0xCD || dev.data[9] != 0xAB {
		t.Fatalf("unexpected device state %x after %d writes", dev.data, dev.writes)
	}
	if err := m.MapIO(0x3000, 4, ProtRead, nil); err == nil {
		t.Fatal("expected error for nil device")
	}
}

func TestProtString(t *testing.T) {
	for p, want := range map[Prot]string{0: "---", ProtRead: "r--", ProtWrite: "-w-", ProtReadWrite: "rw-", 8: "???"} {
		if got := p.String(); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}
