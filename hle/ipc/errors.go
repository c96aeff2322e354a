package ipc

import (
	"errors"
	"fmt"

	"ctrhle/hal"
)

var (
	// ErrSizeMismatch reports a declared buffer size that disagrees with the
	// size the handler expects.
	ErrSizeMismatch = errors.New("ipc: size mismatch")
	// ErrBufferOverrun reports a cursor advance past the declared word counts
	// or past the command buffer.
	ErrBufferOverrun = errors.New("ipc: buffer overrun")
	// ErrUnimplementedCommand reports a command id with no handler.
	ErrUnimplementedCommand = errors.New("ipc: unimplemented command")
	// ErrInvalidSessionState reports a dispatch on a session that is not connected.
	ErrInvalidSessionState = errors.New("ipc: invalid session state")
	// ErrServiceNotFound reports a connect to an unregistered service name.
	ErrServiceNotFound = errors.New("ipc: service not found")
	// ErrServiceExists reports a duplicate service registration.
	ErrServiceExists = errors.New("ipc: service already registered")
	// ErrSessionLimit reports a connect beyond a service's session limit.
	ErrSessionLimit = errors.New("ipc: session limit reached")
	// ErrBuilderUsage reports misuse of a RequestBuilder. It is a host defect,
	// never a guest-triggerable condition.
	ErrBuilderUsage = errors.New("ipc: builder usage error")
	// ErrBadDescriptor reports a translate word that is not a known descriptor.
	ErrBadDescriptor = errors.New("ipc: bad descriptor")
	// ErrBufferPermission reports an access the mapped buffer's permission forbids.
	ErrBufferPermission = errors.New("ipc: buffer permission denied")
)

// SizeMismatchError carries the sizes of a failed ExpectSize check.
type SizeMismatchError struct {
	Declared uint32
	Expected uint64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("ipc: size mismatch: declared %d bytes, expected %d", e.Declared, e.Expected)
}

func (e *SizeMismatchError) Is(target error) bool { return target == ErrSizeMismatch }

// ExpectSize checks a declared byte size against elemSize*count.
func ExpectSize(declared, elemSize, count uint32) error {
	want := uint64(elemSize) * uint64(count)
	if uint64(declared) != want {
		return &SizeMismatchError{Declared: declared, Expected: want}
	}
	return nil
}

// Resulter is implemented by errors that carry their own result code.
type Resulter interface {
	Result() ResultCode
}

// ResultFromError maps an error to the result code reported to the guest.
//
// nil maps to ResultSuccess; errors that are not recognized map to
// ResultInternal.
func ResultFromError(err error) ResultCode {
	if err == nil {
		return ResultSuccess
	}

	var r Resulter
	if errors.As(err, &r) {
		return r.Result()
	}

	switch {
	case errors.Is(err, ErrSizeMismatch):
		return ResultSizeMismatch
	case errors.Is(err, ErrBufferOverrun):
		return ResultBufferOverrun
	case errors.Is(err, ErrUnimplementedCommand):
		return ResultUnimplementedCommand
	case errors.Is(err, ErrInvalidSessionState):
		return ResultInvalidSessionState
	case errors.Is(err, ErrServiceNotFound):
		return ResultServiceNotFound
	case errors.Is(err, ErrSessionLimit):
		return ResultSessionLimit
	case errors.Is(err, ErrBadDescriptor):
		return ResultBadDescriptor
	case errors.Is(err, ErrBufferPermission), errors.Is(err, hal.ErrReadOnly):
		return ResultBufferPermission
	case errors.Is(err, hal.ErrInvalidGuestAddress):
		return ResultInvalidGuestAddress
	default:
		return ResultInternal
	}
}
