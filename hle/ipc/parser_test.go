package ipc

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"ctrhle/hal"
)

const testBufBase hal.VAddr = 0x08000000

func newTestMemory(t *testing.T) *hal.HostMemory {
	t.Helper()
	mem := hal.NewHostMemory()
	if err := mem.MapRAM(testBufBase, 0x1000, hal.ProtReadWrite); err != nil {
		t.Fatalf("MapRAM: %v", err)
	}
	return mem
}

func TestScalarRoundTrip(t *testing.T) {
	var cmd CommandBuffer
	b := NewRequestBuilder(&cmd, 0x42, 9, 0)
	b.PushResult(ResultSuccess)
	b.PushU8(0xAB)
	b.PushU16(0xBEEF)
	b.PushU32(0xDEADBEEF)
	b.PushS32(-7)
	b.PushBool(true)
	b.PushBool(false)
	b.PushU64(0x0123456789ABCDEF)
	if !b.Complete() {
		t.Fatalf("expected complete builder, err=%v", b.Err())
	}

	p := NewRequestParser(&cmd, nil)
	if got := ResultCode(p.PopU32()); got != ResultSuccess {
		t.Fatalf("expected success, got %s", got)
	}
	if got := p.PopU8(); got != 0xAB {
		t.Fatalf("PopU8 = 0x%X, want 0xAB", got)
	}
	if got := p.PopU16(); got != 0xBEEF {
		t.Fatalf("PopU16 = 0x%X, want 0xBEEF", got)
	}
	if got := p.PopU32(); got != 0xDEADBEEF {
		t.Fatalf("PopU32 = 0x%X, want 0xDEADBEEF", got)
	}
	if got := p.PopS32(); got != -7 {
		t.Fatalf("PopS32 = %d, want -7", got)
	}
	if !p.PopBool() || p.PopBool() {
		t.Fatal("expected true then false")
	}
	if got := p.PopU64(); got != 0x0123456789ABCDEF {
		t.Fatalf("PopU64 = 0x%X, want 0x0123456789ABCDEF", got)
	}
	if err := p.Err(); err != nil {
		t.Fatalf("unexpected parser error: %v", err)
	}
	if p.Remaining() != 0 {
		t.Fatalf("expected all words consumed, %d left", p.Remaining())
	}
}

func TestU64LowWordFirst(t *testing.T) {
	var cmd CommandBuffer
	cmd[0] = EncodeHeader(1, 2, 0)
	cmd[1] = 0x89ABCDEF
	cmd[2] = 0x01234567
	p := NewRequestParser(&cmd, nil)
	if got := p.PopU64(); got != 0x0123456789ABCDEF {
		t.Fatalf("expected 0x0123456789ABCDEF, got 0x%X", got)
	}
}

func TestPopPastNormalWordsOverruns(t *testing.T) {
	var cmd CommandBuffer
	cmd[0] = EncodeHeader(1, 1, 0)
	p := NewRequestParser(&cmd, nil)
	p.PopU32()
	if got := p.PopU32(); got != 0 {
		t.Fatalf("expected zero value after overrun, got %d", got)
	}
	if !errors.Is(p.Err(), ErrBufferOverrun) {
		t.Fatalf("expected ErrBufferOverrun, got %v", p.Err())
	}
}

func TestDescriptorOverrunAtCapacity(t *testing.T) {
	// 62 normal words leave a single word before the 64-word capacity ends.
	var cmd CommandBuffer
	cmd[0] = EncodeHeader(7, 62, 2)
	cmd[63] = StaticBuffer{Size: 4}.encode()
	cmd[64] = 0xFFFFFFFF

	p := NewRequestParser(&cmd, nil)
	sb := p.PopStaticBuffer()
	if !errors.Is(p.Err(), ErrBufferOverrun) {
		t.Fatalf("expected ErrBufferOverrun, got %v", p.Err())
	}
	if sb != (StaticBuffer{}) {
		t.Fatalf("expected zero descriptor, got %+v", sb)
	}
}

func TestSecondDescriptorOverruns(t *testing.T) {
	var cmd CommandBuffer
	cmd[0] = EncodeHeader(7, 60, 4)
	cmd[61], cmd[62] = EncodeDescriptor(StaticBuffer{Size: 4, Address: testBufBase})
	cmd[63] = StaticBuffer{Size: 4}.encode()

	p := NewRequestParser(&cmd, nil)
	if sb := p.PopStaticBuffer(); sb.Size != 4 || sb.Address != testBufBase {
		t.Fatalf("unexpected first descriptor %+v", sb)
	}
	if err := p.Err(); err != nil {
		t.Fatalf("first descriptor: %v", err)
	}
	p.PopStaticBuffer()
	if !errors.Is(p.Err(), ErrBufferOverrun) {
		t.Fatalf("expected ErrBufferOverrun on second descriptor, got %v", p.Err())
	}
}

func TestDescriptorBeyondTranslateWords(t *testing.T) {
	var cmd CommandBuffer
	cmd[0] = EncodeHeader(7, 0, 1)
	cmd[1], cmd[2] = EncodeDescriptor(StaticBuffer{Size: 4})
	p := NewRequestParser(&cmd, nil)
	p.PopStaticBuffer()
	if !errors.Is(p.Err(), ErrBufferOverrun) {
		t.Fatalf("expected ErrBufferOverrun, got %v", p.Err())
	}
}

func TestErrorsAreSticky(t *testing.T) {
	var cmd CommandBuffer
	cmd[0] = EncodeHeader(1, 1, 2)
	cmd[1] = 5
	cmd[2] = 0x1 // not a descriptor
	p := NewRequestParser(&cmd, nil)
	p.PopStaticBuffer()
	first := p.Err()
	if !errors.Is(first, ErrBadDescriptor) {
		t.Fatalf("expected ErrBadDescriptor, got %v", first)
	}
	p.PopU32()
	if p.Err() != first {
		t.Fatalf("expected first error to stick, got %v", p.Err())
	}
}

func TestPopStaticRejectsMapped(t *testing.T) {
	var cmd CommandBuffer
	cmd[0] = EncodeHeader(1, 0, 2)
	cmd[1], cmd[2] = EncodeDescriptor(MappedBufferDesc{Size: 4, Perm: PermRead})
	p := NewRequestParser(&cmd, nil)
	p.PopStaticBuffer()
	if !errors.Is(p.Err(), ErrBadDescriptor) {
		t.Fatalf("expected ErrBadDescriptor, got %v", p.Err())
	}
}

func TestPopMappedBufferWireWords(t *testing.T) {
	mem := newTestMemory(t)
	want := []byte("0123456789abcdef")
	if err := mem.WriteBlock(testBufBase, want); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	cases := []struct {
		low  uint32
		perm Permission
	}{
		{1, PermRead},
		{2, PermWrite},
		{3, PermReadWrite},
	}
	for _, tc := range cases {
		t.Run(tc.perm.String(), func(t *testing.T) {
			var cmd CommandBuffer
			cmd[0] = EncodeHeader(0xB, 0, 2)
			cmd[1] = 16<<14 | tc.low
			cmd[2] = uint32(testBufBase)

			p := NewRequestParser(&cmd, mem)
			mb := p.PopMappedBuffer()
			if err := p.Err(); err != nil {
				t.Fatalf("PopMappedBuffer(0x%08X): %v", cmd[1], err)
			}
			if mb.Size() != 16 || mb.Perm() != tc.perm || mb.Addr() != testBufBase {
				t.Fatalf("unexpected handle %+v", mb.Desc())
			}
			if !tc.perm.CanRead() {
				return
			}
			got := make([]byte, 16)
			if _, err := mb.ReadAt(got, 0); err != nil {
				t.Fatalf("ReadAt: %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("expected %q, got %q", want, got)
			}
		})
	}
}

func TestPopMappedRejectsStatic(t *testing.T) {
	for _, low := range []uint32{0, 0x402, 8} {
		var cmd CommandBuffer
		cmd[0] = EncodeHeader(1, 0, 2)
		cmd[1] = 4<<14 | low
		p := NewRequestParser(&cmd, nil)
		p.PopMappedBuffer()
		if !errors.Is(p.Err(), ErrBadDescriptor) {
			t.Fatalf("low=0x%X: expected ErrBadDescriptor, got %v", low, p.Err())
		}
	}
}

func TestPeekStaticBufferRejectsMapped(t *testing.T) {
	var cmd CommandBuffer
	cmd[0] = EncodeHeader(8, 0, 0)
	cmd[CommandBufferWords] = 4<<14 | uint32(PermRead)
	p := NewRequestParser(&cmd, nil)
	if _, err := p.PeekStaticBuffer(0); !errors.Is(err, ErrBadDescriptor) {
		t.Fatalf("expected ErrBadDescriptor, got %v", err)
	}
}

func TestNegativeCountsOverrun(t *testing.T) {
	var cmd CommandBuffer
	cmd[0] = EncodeHeader(1, 2, 0)
	cmd[1], cmd[2] = 7, 8

	p := NewRequestParser(&cmd, nil)
	if got := p.PopRaw(-1); got != nil {
		t.Fatalf("expected nil slice, got %v", got)
	}
	if !errors.Is(p.Err(), ErrBufferOverrun) {
		t.Fatalf("expected ErrBufferOverrun, got %v", p.Err())
	}

	p = NewRequestParser(&cmd, nil)
	p.Skip(-1)
	if !errors.Is(p.Err(), ErrBufferOverrun) {
		t.Fatalf("expected ErrBufferOverrun from Skip, got %v", p.Err())
	}
	if got := p.PopU32(); got != 0 {
		t.Fatalf("expected sticky error to block reads, got %d", got)
	}
}

func TestExpectSize(t *testing.T) {
	for count := uint32(0); count < 8; count++ {
		for _, elem := range []uint32{1, 2, 8, 12, 16} {
			if err := ExpectSize(elem*count, elem, count); err != nil {
				t.Fatalf("ExpectSize(%d, %d, %d): %v", elem*count, elem, count, err)
			}
			err := ExpectSize(elem*count+1, elem, count)
			if !errors.Is(err, ErrSizeMismatch) {
				t.Fatalf("expected ErrSizeMismatch, got %v", err)
			}
			var sm *SizeMismatchError
			if !errors.As(err, &sm) || sm.Declared != elem*count+1 {
				t.Fatalf("expected *SizeMismatchError, got %#v", err)
			}
		}
	}
}

func TestMappedBufferSizeMismatchLeavesMemory(t *testing.T) {
	mem := newTestMemory(t)
	sentinel := bytes.Repeat([]byte{0xCC}, 16)
	if err := mem.WriteBlock(testBufBase, sentinel); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	var cmd CommandBuffer
	cmd[0] = EncodeHeader(0xB, 1, 2)
	cmd[1] = 4
	cmd[2], cmd[3] = EncodeDescriptor(MappedBufferDesc{Size: 7, Perm: PermWrite, Address: testBufBase})

	p := NewRequestParser(&cmd, mem)
	hours := p.PopU32()
	mb := p.PopMappedBuffer()
	if err := p.Err(); err != nil {
		t.Fatalf("unexpected parser error: %v", err)
	}
	err := mb.Expect(2, hours)
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}

	b := p.MakeBuilder(1, 0)
	b.PushResult(ResultFromError(err))
	if ResultCode(cmd[1]).IsSuccess() {
		t.Fatal("expected failure result in word 1")
	}

	got := make([]byte, 16)
	if err := mem.ReadBlock(testBufBase, got); err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !bytes.Equal(got, sentinel) {
		t.Fatalf("guest memory modified: %x", got)
	}
}

func TestMappedBufferBoundsAndPermissions(t *testing.T) {
	mem := newTestMemory(t)
	cases := []struct {
		perm      Permission
		readErr   error
		writeErr  error
		writeSize int
	}{
		{PermRead, nil, ErrBufferPermission, 4},
		{PermWrite, ErrBufferPermission, nil, 4},
		{PermReadWrite, nil, nil, 4},
		{PermReadWrite, nil, ErrBufferOverrun, 9},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%d", tc.perm, tc.writeSize), func(t *testing.T) {
			mb := &MappedBuffer{desc: MappedBufferDesc{Size: 8, Perm: tc.perm, Address: testBufBase}, mem: mem}
			if _, err := mb.ReadAt(make([]byte, 4), 0); !errors.Is(err, tc.readErr) {
				t.Fatalf("ReadAt: expected %v, got %v", tc.readErr, err)
			}
			if _, err := mb.WriteAt(make([]byte, tc.writeSize), 0); !errors.Is(err, tc.writeErr) {
				t.Fatalf("WriteAt: expected %v, got %v", tc.writeErr, err)
			}
		})
	}
}

func TestMappedBufferUnmappedAddress(t *testing.T) {
	mem := newTestMemory(t)
	mb := &MappedBuffer{desc: MappedBufferDesc{Size: 8, Perm: PermReadWrite, Address: 0x20000000}, mem: mem}
	_, err := mb.WriteAt([]byte{1}, 0)
	if !errors.Is(err, hal.ErrInvalidGuestAddress) {
		t.Fatalf("expected ErrInvalidGuestAddress, got %v", err)
	}
	if rc := ResultFromError(err); rc != ResultInvalidGuestAddress {
		t.Fatalf("expected ResultInvalidGuestAddress, got %s", rc)
	}
}

func TestMappedBufferFill(t *testing.T) {
	mem := newTestMemory(t)
	if err := mem.WriteBlock(testBufBase, []byte{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	mb := &MappedBuffer{desc: MappedBufferDesc{Size: 4, Perm: PermWrite, Address: testBufBase}, mem: mem}
	if err := mb.Fill(0); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	got := make([]byte, 5)
	_ = mem.ReadBlock(testBufBase, got)
	if !bytes.Equal(got, []byte{0, 0, 0, 0, 5}) {
		t.Fatalf("expected fill bounded to 4 bytes, got %v", got)
	}
}

func TestPeekStaticBufferDoesNotMoveCursor(t *testing.T) {
	var cmd CommandBuffer
	cmd[0] = EncodeHeader(8, 1, 0)
	cmd[1] = 99
	cmd[CommandBufferWords+2], cmd[CommandBufferWords+3] = EncodeDescriptor(StaticBuffer{Size: 0x12C, Index: 1, Address: testBufBase})

	p := NewRequestParser(&cmd, nil)
	sb, err := p.PeekStaticBuffer(1)
	if err != nil {
		t.Fatalf("PeekStaticBuffer: %v", err)
	}
	if sb.Size != 0x12C || sb.Address != testBufBase {
		t.Fatalf("unexpected descriptor %+v", sb)
	}
	if got := p.PopU32(); got != 99 {
		t.Fatalf("expected cursor at word 1, got value %d", got)
	}
	if _, err := p.PeekStaticBuffer(StaticBufferSlots); !errors.Is(err, ErrBufferOverrun) {
		t.Fatalf("expected ErrBufferOverrun for slot out of range, got %v", err)
	}
}

func TestStaticBufferAccessIsBounded(t *testing.T) {
	mem := newTestMemory(t)
	var cmd CommandBuffer
	p := NewRequestParser(&cmd, mem)
	sb := StaticBuffer{Size: 4, Address: testBufBase}

	if err := p.WriteStatic(sb, 0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteStatic: %v", err)
	}
	if err := p.WriteStatic(sb, 2, []byte{1, 2, 3}); !errors.Is(err, ErrBufferOverrun) {
		t.Fatalf("expected ErrBufferOverrun, got %v", err)
	}
	got := make([]byte, 4)
	if err := p.ReadStatic(sb, 0, got); err != nil {
		t.Fatalf("ReadStatic: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("expected [1 2 3 4], got %v", got)
	}
}
