package ipc

import (
	"fmt"

	"ctrhle/hal"
)

const (
	descSizeShift = 14
	descLowMask   = 1<<descSizeShift - 1

	// MaxDescriptorSize is the largest byte size a descriptor word can carry.
	MaxDescriptorSize = 1<<(32-descSizeShift) - 1

	staticTag        = 0x2
	staticTagMask    = 0xF
	staticIndexShift = 10
	staticIndexMask  = 0xF

	mappedPermMask = 0x3
)

// DescriptorKind selects how a descriptor word is read. A mapped buffer with
// PermWrite and a static buffer in slot 0 share the low bits 2, so the word
// alone cannot tell them apart; the parser knows which one it expects.
type DescriptorKind uint8

const (
	KindStatic DescriptorKind = iota + 1
	KindMapped
)

func (k DescriptorKind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindMapped:
		return "mapped"
	default:
		return "unknown"
	}
}

// Permission is the access a client grants on a mapped buffer.
type Permission uint8

const (
	PermRead      Permission = 1
	PermWrite     Permission = 2
	PermReadWrite Permission = 3
)

func (p Permission) String() string {
	switch p {
	case PermRead:
		return "r"
	case PermWrite:
		return "w"
	case PermReadWrite:
		return "rw"
	default:
		return "invalid"
	}
}

// Valid reports whether p is one of the three encodable permissions.
func (p Permission) Valid() bool {
	return p >= PermRead && p <= PermReadWrite
}

// CanRead reports whether the service may read the buffer.
func (p Permission) CanRead() bool { return p&PermRead != 0 }

// CanWrite reports whether the service may write the buffer.
func (p Permission) CanWrite() bool { return p&PermWrite != 0 }

// Descriptor is a translate-parameter buffer descriptor: either a
// StaticBuffer or a MappedBufferDesc.
type Descriptor interface {
	// Bytes returns the size the client declared.
	Bytes() uint32
	// Addr returns the guest address of the buffer.
	Addr() hal.VAddr

	encode() uint32
}

// StaticBuffer grants copy-once, read-only access to a guest region.
type StaticBuffer struct {
	Size    uint32
	Index   uint8
	Address hal.VAddr
}

func (b StaticBuffer) Bytes() uint32   { return b.Size }
func (b StaticBuffer) Addr() hal.VAddr { return b.Address }

// Layout: (size << 14) | (index << 10) | 2.
func (b StaticBuffer) encode() uint32 {
	return b.Size<<descSizeShift | (uint32(b.Index)&staticIndexMask)<<staticIndexShift | staticTag
}

// Expect checks the declared size against elemSize*count.
func (b StaticBuffer) Expect(elemSize, count uint32) error {
	return ExpectSize(b.Size, elemSize, count)
}

// MappedBufferDesc grants in-place access to a guest region for the
// duration of a call.
type MappedBufferDesc struct {
	Size    uint32
	Perm    Permission
	Address hal.VAddr
}

func (b MappedBufferDesc) Bytes() uint32   { return b.Size }
func (b MappedBufferDesc) Addr() hal.VAddr { return b.Address }

// Layout: (size << 14) | perm.
func (b MappedBufferDesc) encode() uint32 {
	return b.Size<<descSizeShift | uint32(b.Perm)&mappedPermMask
}

// EncodeDescriptor returns the descriptor word and the address word.
//
// Sizes above MaxDescriptorSize are truncated by the encoding.
func EncodeDescriptor(d Descriptor) (descWord, addrWord uint32) {
	return d.encode(), uint32(d.Addr())
}

// DecodeDescriptor decodes a descriptor pair without knowing which kind the
// command expects. Low bits 1 and 3 are mapped buffers; any word carrying the
// static tag, including a bare 2, is a static buffer. Use DecodeDescriptorAs
// to read a mapped buffer with PermWrite.
func DecodeDescriptor(descWord, addrWord uint32) (Descriptor, error) {
	switch low := descWord & descLowMask; {
	case low == uint32(PermRead) || low == uint32(PermReadWrite):
		return DecodeDescriptorAs(KindMapped, descWord, addrWord)
	case low&staticTagMask == staticTag:
		return DecodeDescriptorAs(KindStatic, descWord, addrWord)
	default:
		return nil, fmt.Errorf("%w: 0x%08X", ErrBadDescriptor, descWord)
	}
}

// DecodeDescriptorAs is the inverse of EncodeDescriptor for a descriptor of
// the given kind. A word whose low bits do not fit that kind yields
// ErrBadDescriptor.
func DecodeDescriptorAs(kind DescriptorKind, descWord, addrWord uint32) (Descriptor, error) {
	size := descWord >> descSizeShift
	low := descWord & descLowMask
	addr := hal.VAddr(addrWord)

	switch kind {
	case KindStatic:
		if low&staticTagMask != staticTag {
			return nil, fmt.Errorf("%w: 0x%08X is not a static buffer", ErrBadDescriptor, descWord)
		}
		return StaticBuffer{
			Size:    size,
			Index:   uint8(low >> staticIndexShift & staticIndexMask),
			Address: addr,
		}, nil
	case KindMapped:
		perm := Permission(low)
		if low > mappedPermMask || !perm.Valid() {
			return nil, fmt.Errorf("%w: 0x%08X is not a mapped buffer", ErrBadDescriptor, descWord)
		}
		return MappedBufferDesc{Size: size, Perm: perm, Address: addr}, nil
	default:
		return nil, fmt.Errorf("%w: unknown descriptor kind %d", ErrBadDescriptor, kind)
	}
}
