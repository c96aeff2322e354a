package ipc

import (
	"fmt"

	"ctrhle/hal"
)

// RequestParser is a sequential cursor over an inbound command buffer.
//
// Scalars are consumed from the normal-parameter region and descriptors from
// the translate region; unread normal words are skipped when the first
// descriptor is popped. The first failure is sticky: later pops return zero
// values and Err reports it. Handlers must check Err before touching guest
// memory or building a response.
type RequestParser struct {
	cmd *CommandBuffer
	mem hal.Memory
	hdr Header

	pos       int
	normalEnd int
	end       int

	err error
}

// NewRequestParser binds a parser to cmd. mem resolves buffer descriptors and
// may be nil for handlers that take none.
func NewRequestParser(cmd *CommandBuffer, mem hal.Memory) *RequestParser {
	hdr := DecodeHeader(cmd[0])
	normalEnd := 1 + int(hdr.NormalWords)
	return &RequestParser{
		cmd:       cmd,
		mem:       mem,
		hdr:       hdr,
		pos:       1,
		normalEnd: normalEnd,
		end:       normalEnd + int(hdr.TranslateWords),
	}
}

// Header returns the decoded request header.
func (p *RequestParser) Header() Header { return p.hdr }

// Err returns the first error recorded by the parser.
func (p *RequestParser) Err() error { return p.err }

// Remaining returns the number of declared parameter words not yet consumed.
func (p *RequestParser) Remaining() int {
	if p.pos >= p.end {
		return 0
	}
	return p.end - p.pos
}

func (p *RequestParser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

// take returns the start index of n consecutive words ending at or before
// limit, or -1 after recording ErrBufferOverrun.
func (p *RequestParser) take(n, limit int, what string) int {
	if p.err != nil {
		return -1
	}
	if n < 0 {
		p.fail(fmt.Errorf("%w: %s of %d words", ErrBufferOverrun, what, n))
		return -1
	}
	if p.pos+n > limit || p.pos+n > CommandBufferWords {
		p.fail(fmt.Errorf("%w: %s at word %d (declared normal=%d translate=%d)",
			ErrBufferOverrun, what, p.pos, p.hdr.NormalWords, p.hdr.TranslateWords))
		return -1
	}
	at := p.pos
	p.pos += n
	return at
}

func (p *RequestParser) popWord(what string) uint32 {
	at := p.take(1, p.normalEnd, what)
	if at < 0 {
		return 0
	}
	return p.cmd[at]
}

func (p *RequestParser) PopU8() uint8   { return uint8(p.popWord("u8")) }
func (p *RequestParser) PopU16() uint16 { return uint16(p.popWord("u16")) }
func (p *RequestParser) PopU32() uint32 { return p.popWord("u32") }
func (p *RequestParser) PopS32() int32  { return int32(p.popWord("s32")) }

// PopBool reads a word whose low byte is non-zero for true.
func (p *RequestParser) PopBool() bool { return p.popWord("bool")&0xFF != 0 }

// PopU64 reads two words, low word first.
func (p *RequestParser) PopU64() uint64 {
	at := p.take(2, p.normalEnd, "u64")
	if at < 0 {
		return 0
	}
	return uint64(p.cmd[at]) | uint64(p.cmd[at+1])<<32
}

// PopRaw copies n normal words.
func (p *RequestParser) PopRaw(n int) []uint32 {
	if n < 0 {
		p.take(n, p.normalEnd, "raw")
		return nil
	}
	out := make([]uint32, n)
	at := p.take(n, p.normalEnd, "raw")
	if at < 0 {
		return out
	}
	copy(out, p.cmd[at:at+n])
	return out
}

// Skip discards n normal words.
func (p *RequestParser) Skip(n int) {
	p.take(n, p.normalEnd, "skip")
}

func (p *RequestParser) popDescriptor(kind DescriptorKind) Descriptor {
	if p.err != nil {
		return nil
	}
	if p.pos < p.normalEnd {
		p.pos = p.normalEnd
	}
	at := p.take(2, p.end, "descriptor")
	if at < 0 {
		return nil
	}
	d, err := DecodeDescriptorAs(kind, p.cmd[at], p.cmd[at+1])
	if err != nil {
		p.fail(err)
		return nil
	}
	return d
}

// PopStaticBuffer reads a static buffer descriptor. Guest memory is not
// copied; use ReadStatic for bounded access.
func (p *RequestParser) PopStaticBuffer() StaticBuffer {
	d := p.popDescriptor(KindStatic)
	if d == nil {
		return StaticBuffer{}
	}
	return d.(StaticBuffer)
}

// PopMappedBuffer reads a mapped buffer descriptor and returns a handle bound
// to its address, size and permission.
func (p *RequestParser) PopMappedBuffer() *MappedBuffer {
	d := p.popDescriptor(KindMapped)
	if d == nil {
		return &MappedBuffer{}
	}
	return &MappedBuffer{desc: d.(MappedBufferDesc), mem: p.mem}
}

// PeekStaticBuffer returns the output static buffer the client registered in
// slot index. The cursor does not move.
func (p *RequestParser) PeekStaticBuffer(index int) (StaticBuffer, error) {
	if index < 0 || index >= StaticBufferSlots {
		return StaticBuffer{}, fmt.Errorf("%w: static buffer slot %d", ErrBufferOverrun, index)
	}
	at := CommandBufferWords + 2*index
	d, err := DecodeDescriptorAs(KindStatic, p.cmd[at], p.cmd[at+1])
	if err != nil {
		return StaticBuffer{}, fmt.Errorf("output slot %d: %w", index, err)
	}
	return d.(StaticBuffer), nil
}

// ReadStatic copies len(dst) bytes at off within sb from guest memory.
func (p *RequestParser) ReadStatic(sb StaticBuffer, off uint32, dst []byte) error {
	if err := checkRange(sb.Size, off, len(dst)); err != nil {
		return err
	}
	if p.mem == nil {
		return hal.ErrInvalidGuestAddress
	}
	return p.mem.ReadBlock(sb.Address+hal.VAddr(off), dst)
}

// WriteStatic copies src into an output static buffer at off.
func (p *RequestParser) WriteStatic(sb StaticBuffer, off uint32, src []byte) error {
	if err := checkRange(sb.Size, off, len(src)); err != nil {
		return err
	}
	if p.mem == nil {
		return hal.ErrInvalidGuestAddress
	}
	return p.mem.WriteBlock(sb.Address+hal.VAddr(off), src)
}

// MakeBuilder returns a builder for the response to this request. The
// builder overwrites the request words; pop every parameter first.
func (p *RequestParser) MakeBuilder(normal, translate uint8) *RequestBuilder {
	return NewRequestBuilder(p.cmd, p.hdr.CommandID, normal, translate)
}

func checkRange(size, off uint32, n int) error {
	if uint64(off)+uint64(n) > uint64(size) {
		return fmt.Errorf("%w: access [%d, %d) outside %d-byte buffer", ErrBufferOverrun, off, uint64(off)+uint64(n), size)
	}
	return nil
}

// MappedBuffer is the handle to a mapped buffer for the duration of a call.
// Every access is checked against the declared size and permission.
type MappedBuffer struct {
	desc MappedBufferDesc
	mem  hal.Memory
}

func (b *MappedBuffer) Size() uint32           { return b.desc.Size }
func (b *MappedBuffer) Perm() Permission       { return b.desc.Perm }
func (b *MappedBuffer) Addr() hal.VAddr        { return b.desc.Address }
func (b *MappedBuffer) Desc() MappedBufferDesc { return b.desc }

// Expect checks the declared size against elemSize*count.
func (b *MappedBuffer) Expect(elemSize, count uint32) error {
	return ExpectSize(b.desc.Size, elemSize, count)
}

func (b *MappedBuffer) ReadAt(p []byte, off uint32) (int, error) {
	if !b.desc.Perm.CanRead() {
		return 0, fmt.Errorf("%w: read from %s buffer", ErrBufferPermission, b.desc.Perm)
	}
	if err := checkRange(b.desc.Size, off, len(p)); err != nil {
		return 0, err
	}
	if b.mem == nil {
		return 0, hal.ErrInvalidGuestAddress
	}
	if err := b.mem.ReadBlock(b.desc.Address+hal.VAddr(off), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (b *MappedBuffer) WriteAt(p []byte, off uint32) (int, error) {
	if !b.desc.Perm.CanWrite() {
		return 0, fmt.Errorf("%w: write to %s buffer", ErrBufferPermission, b.desc.Perm)
	}
	if err := checkRange(b.desc.Size, off, len(p)); err != nil {
		return 0, err
	}
	if b.mem == nil {
		return 0, hal.ErrInvalidGuestAddress
	}
	if err := b.mem.WriteBlock(b.desc.Address+hal.VAddr(off), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Fill writes v over the whole buffer.
func (b *MappedBuffer) Fill(v byte) error {
	buf := make([]byte, b.desc.Size)
	if v != 0 {
		for i := range buf {
			buf[i] = v
		}
	}
	_, err := b.WriteAt(buf, 0)
	return err
}
