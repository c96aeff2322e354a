package ipc

import (
	"fmt"

	"ctrhle/hal"
)

// RequestBuilder writes a response into a command buffer.
//
// The word counts are fixed at construction and the header is written
// immediately. PushResult must come first; scalars fill the normal region and
// descriptors the translate region. Misuse is a host defect reported as
// ErrBuilderUsage; with the hledebug build tag it panics.
type RequestBuilder struct {
	cmd *CommandBuffer
	hdr Header

	pos       int
	normalEnd int
	end       int

	result ResultCode
	pushed bool
	err    error
}

// NewRequestBuilder writes the response header (commandID, normal, translate)
// into cmd and returns a builder positioned at word 1.
func NewRequestBuilder(cmd *CommandBuffer, commandID uint16, normal, translate uint8) *RequestBuilder {
	hdr := Header{CommandID: commandID, NormalWords: normal, TranslateWords: translate}
	b := &RequestBuilder{
		cmd:       cmd,
		hdr:       hdr,
		pos:       1,
		normalEnd: 1 + int(normal),
		end:       1 + hdr.Words(),
	}
	if normal == 0 || !hdr.Fits() || normal > headerNormalMask || translate > headerTranslateMask {
		b.usage("response header normal=%d translate=%d", normal, translate)
		return b
	}
	cmd[0] = hdr.Encode()
	return b
}

// Header returns the response header.
func (b *RequestBuilder) Header() Header { return b.hdr }

// Err returns the first usage error.
func (b *RequestBuilder) Err() error { return b.err }

// Result returns the pushed result code.
func (b *RequestBuilder) Result() ResultCode { return b.result }

// Complete reports whether every declared word was written without error.
func (b *RequestBuilder) Complete() bool {
	return b.err == nil && b.pushed && b.pos == b.end
}

func (b *RequestBuilder) usage(format string, args ...any) {
	err := fmt.Errorf("%w: "+format, append([]any{ErrBuilderUsage}, args...)...)
	if DebugAssertions {
		panic(err)
	}
	if b.err == nil {
		b.err = err
	}
}

func (b *RequestBuilder) take(n, start, limit int, what string) int {
	if b.err != nil {
		return -1
	}
	if !b.pushed {
		b.usage("%s pushed before the result code", what)
		return -1
	}
	if b.pos < start {
		b.pos = start
	}
	if b.pos+n > limit {
		b.usage("%s at word %d exceeds declared normal=%d translate=%d",
			what, b.pos, b.hdr.NormalWords, b.hdr.TranslateWords)
		return -1
	}
	at := b.pos
	b.pos += n
	return at
}

// PushResult writes the result code to word 1.
func (b *RequestBuilder) PushResult(rc ResultCode) {
	if b.err != nil {
		return
	}
	if b.pushed || b.pos != 1 {
		b.usage("result code pushed twice")
		return
	}
	b.cmd[1] = uint32(rc)
	b.result = rc
	b.pushed = true
	b.pos = 2
}

func (b *RequestBuilder) pushWord(v uint32, what string) {
	if at := b.take(1, 0, b.normalEnd, what); at >= 0 {
		b.cmd[at] = v
	}
}

func (b *RequestBuilder) PushU8(v uint8)   { b.pushWord(uint32(v), "u8") }
func (b *RequestBuilder) PushU16(v uint16) { b.pushWord(uint32(v), "u16") }
func (b *RequestBuilder) PushU32(v uint32) { b.pushWord(v, "u32") }
func (b *RequestBuilder) PushS32(v int32)  { b.pushWord(uint32(v), "s32") }

func (b *RequestBuilder) PushBool(v bool) {
	var w uint32
	if v {
		w = 1
	}
	b.pushWord(w, "bool")
}

// PushU64 writes two words, low word first.
func (b *RequestBuilder) PushU64(v uint64) {
	if at := b.take(2, 0, b.normalEnd, "u64"); at >= 0 {
		b.cmd[at] = uint32(v)
		b.cmd[at+1] = uint32(v >> 32)
	}
}

// PushRaw writes words verbatim into the normal region.
func (b *RequestBuilder) PushRaw(words ...uint32) {
	if at := b.take(len(words), 0, b.normalEnd, "raw"); at >= 0 {
		copy(b.cmd[at:], words)
	}
}

func (b *RequestBuilder) pushDescriptor(d Descriptor, what string) {
	if b.err == nil && b.pos < b.normalEnd {
		b.usage("%s pushed with %d normal words unwritten", what, b.normalEnd-b.pos)
		return
	}
	if at := b.take(2, b.normalEnd, b.end, what); at >= 0 {
		b.cmd[at], b.cmd[at+1] = EncodeDescriptor(d)
	}
}

// PushStaticBuffer writes a static buffer descriptor pair.
func (b *RequestBuilder) PushStaticBuffer(addr hal.VAddr, size uint32, index uint8) {
	if size > MaxDescriptorSize || index > staticIndexMask {
		b.usage("static buffer size=%d index=%d not encodable", size, index)
		return
	}
	b.pushDescriptor(StaticBuffer{Size: size, Index: index, Address: addr}, "static buffer")
}

// PushMappedBuffer hands a mapped buffer back to the client.
func (b *RequestBuilder) PushMappedBuffer(mb *MappedBuffer) {
	if mb == nil || !mb.desc.Perm.Valid() {
		b.usage("mapped buffer without permission")
		return
	}
	b.pushDescriptor(mb.desc, "mapped buffer")
}

// WriteFailure writes a one-word failure response for commandID.
func WriteFailure(cmd *CommandBuffer, commandID uint16, rc ResultCode) {
	cmd[0] = EncodeHeader(commandID, 1, 0)
	cmd[1] = uint32(rc)
}
