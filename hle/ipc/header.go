package ipc

// CommandBufferWords is the number of message words in a command buffer,
// header and result included.
const CommandBufferWords = 64

// StaticBufferSlots is the number of output static buffer descriptors a
// client can pre-register after the message words.
const StaticBufferSlots = 8

// StaticBufferWords is the size of the output static buffer descriptor area.
const StaticBufferWords = StaticBufferSlots * 2

// CommandBuffer is the per-thread IPC buffer shared between guest and host.
//
// Layout (32-bit words):
//   - [0]: header
//   - [1]: result code (responses only)
//   - [2..63]: normal parameters, then translate parameters
//   - [64..79]: output static buffer descriptor pairs (descriptor, address)
type CommandBuffer [CommandBufferWords + StaticBufferWords]uint32

const (
	headerTranslateBits = 6
	headerNormalBits    = 6
	headerNormalShift   = 6
	headerCommandShift  = 16

	headerTranslateMask = 1<<headerTranslateBits - 1
	headerNormalMask    = 1<<headerNormalBits - 1
)

// maxParamWords is the room left for parameters after the header word.
const maxParamWords = CommandBufferWords - 1

// Header is the decoded first word of a command buffer.
type Header struct {
	CommandID      uint16
	NormalWords    uint8
	TranslateWords uint8
}

// EncodeHeader packs a command header.
//
// Layout: (command_id << 16) | (normal << 6) | translate. Word counts wider
// than 6 bits are truncated.
func EncodeHeader(commandID uint16, normal, translate uint8) uint32 {
	return uint32(commandID)<<headerCommandShift |
		(uint32(normal)&headerNormalMask)<<headerNormalShift |
		uint32(translate)&headerTranslateMask
}

// DecodeHeader unpacks a command header. Bits 12-15 are ignored.
func DecodeHeader(word uint32) Header {
	return Header{
		CommandID:      uint16(word >> headerCommandShift),
		NormalWords:    uint8(word >> headerNormalShift & headerNormalMask),
		TranslateWords: uint8(word & headerTranslateMask),
	}
}

// Encode returns the packed header word.
func (h Header) Encode() uint32 {
	return EncodeHeader(h.CommandID, h.NormalWords, h.TranslateWords)
}

// Words returns the number of parameter words the header declares.
func (h Header) Words() int {
	return int(h.NormalWords) + int(h.TranslateWords)
}

// Fits reports whether the declared parameters fit in a command buffer.
func (h Header) Fits() bool {
	return h.Words() <= maxParamWords
}
