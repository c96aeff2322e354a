package kernel

import (
	"fmt"
	"sync"
)

// Module is state shared by the services that front it.
type Module interface {
	Name() string
	Close() error
}

// ModuleRef counts the services holding a Module. The module is closed when
// the last reference is released.
type ModuleRef struct {
	mod Module

	mu     sync.Mutex
	refs   int
	closed bool
}

// NewModuleRef wraps m with no references held.
func NewModuleRef(m Module) *ModuleRef {
	return &ModuleRef{mod: m}
}

// Module returns the wrapped module.
func (r *ModuleRef) Module() Module { return r.mod }

// Acquire adds a reference. It fails once the module has been closed.
func (r *ModuleRef) Acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("module %s: acquire after close", r.mod.Name())
	}
	r.refs++
	return nil
}

// Release drops a reference and closes the module when none remain.
func (r *ModuleRef) Release() error {
	r.mu.Lock()
	if r.refs == 0 || r.closed {
		r.mu.Unlock()
		return fmt.Errorf("module %s: release without reference", r.mod.Name())
	}
	r.refs--
	last := r.refs == 0
	if last {
		r.closed = true
	}
	r.mu.Unlock()

	if last {
		return r.mod.Close()
	}
	return nil
}

// Refs returns the number of references held.
func (r *ModuleRef) Refs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs
}

// Closed reports whether the module has been torn down.
func (r *ModuleRef) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
