package kernel

import (
	"runtime/debug"

	"ctrhle/hal"
)

// PanicInfo contains details about a recovered handler panic.
type PanicInfo struct {
	Service   string
	Handler   string
	CommandID uint16
	Value     any
	Stack     []byte
}

// SetPanicHandler installs a hook called for every recovered handler panic.
//
// The hook runs on the dispatching goroutine. It must not panic.
func (k *Kernel) SetPanicHandler(fn func(PanicInfo)) {
	k.panicHandler.Store(fn)
}

// Panics returns the number of handler panics recovered so far.
func (k *Kernel) Panics() uint64 {
	return k.panics.Load()
}

func (k *Kernel) reportPanic(info PanicInfo) {
	k.panics.Add(1)
	info.Stack = debug.Stack()
	hal.Logf(k.logger, hal.LevelCritical, logClass, "%s: %s (0x%04X) panicked: %v\n%s",
		info.Service, info.Handler, info.CommandID, info.Value, info.Stack)
	if v := k.panicHandler.Load(); v != nil {
		if fn, ok := v.(func(PanicInfo)); ok && fn != nil {
			fn(info)
		}
	}
}
