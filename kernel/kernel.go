package kernel

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"ctrhle/hal"
	"ctrhle/hle/ipc"
)

const logClass = "Kernel"

type installed struct {
	*Service

	// sessions is guarded by Kernel.mu.
	sessions map[SessionID]*Session
}

// Kernel is the HLE service dispatcher: a registry of services and the
// sessions connected to them.
//
// Dispatch is synchronous on the caller's goroutine. Sessions of different
// services may be dispatched concurrently.
type Kernel struct {
	logger hal.Logger
	mem    hal.Memory

	mu       sync.RWMutex
	services map[string]*installed

	nextSession atomic.Uint32

	panicHandler atomic.Value // func(PanicInfo)
	panics       atomic.Uint64
}

// New creates a dispatcher. mem resolves buffer descriptors for handlers.
func New(logger hal.Logger, mem hal.Memory) *Kernel {
	if logger == nil {
		logger = hal.Discard
	}
	return &Kernel{
		logger:   logger,
		mem:      mem,
		services: make(map[string]*installed),
	}
}

func (k *Kernel) Logger() hal.Logger { return k.logger }
func (k *Kernel) Memory() hal.Memory { return k.mem }

// Register installs s. Duplicate names are rejected with ipc.ErrServiceExists.
func (k *Kernel) Register(s *Service) error {
	if s == nil || s.Name == "" {
		return errors.New("register service: empty name")
	}
	for id, h := range s.Handlers {
		if !h.Header(id).Fits() {
			return fmt.Errorf("register %s: command 0x%04X declares %d words", s.Name, id, h.Header(id).Words())
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.services[s.Name]; ok {
		return fmt.Errorf("register %s: %w", s.Name, ipc.ErrServiceExists)
	}
	if s.Module != nil {
		if err := s.Module.Acquire(); err != nil {
			return fmt.Errorf("register %s: %w", s.Name, err)
		}
	}
	k.services[s.Name] = &installed{Service: s, sessions: make(map[SessionID]*Session)}
	hal.Logf(k.logger, hal.LevelDebug, logClass, "installed service %s (%d commands)", s.Name, len(s.Handlers))
	return nil
}

// RegisterService installs a service with no module and no session limit.
func (k *Kernel) RegisterService(name string, table HandlerTable) error {
	return k.Register(&Service{Name: name, Handlers: table})
}

// Unregister uninstalls a service. Its sessions are closed and its module
// reference released.
func (k *Kernel) Unregister(name string) error {
	k.mu.Lock()
	svc, ok := k.services[name]
	if !ok {
		k.mu.Unlock()
		return fmt.Errorf("unregister %s: %w", name, ipc.ErrServiceNotFound)
	}
	delete(k.services, name)
	for id, s := range svc.sessions {
		s.close()
		delete(svc.sessions, id)
	}
	k.mu.Unlock()

	hal.Logf(k.logger, hal.LevelDebug, logClass, "uninstalled service %s", name)
	if svc.Module != nil {
		if err := svc.Module.Release(); err != nil {
			return fmt.Errorf("unregister %s: %w", name, err)
		}
	}
	return nil
}

// Services returns the installed service names in order.
func (k *Kernel) Services() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	names := make([]string, 0, len(k.services))
	for name := range k.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connect opens a session to the named service.
func (k *Kernel) Connect(name string) (*Session, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	svc, ok := k.services[name]
	if !ok {
		err := fmt.Errorf("connect %s: %w", name, ipc.ErrServiceNotFound)
		if ipc.DebugAssertions {
			panic(err)
		}
		return nil, err
	}
	if svc.MaxSessions > 0 && len(svc.sessions) >= svc.MaxSessions {
		return nil, fmt.Errorf("connect %s: %w (%d)", name, ipc.ErrSessionLimit, svc.MaxSessions)
	}

	s := &Session{id: SessionID(k.nextSession.Add(1)), svc: svc}
	svc.sessions[s.id] = s
	return s, nil
}

// Disconnect closes s. Closing a closed session fails with
// ipc.ErrInvalidSessionState.
func (k *Kernel) Disconnect(s *Session) error {
	if s == nil || !s.close() {
		return ipc.ErrInvalidSessionState
	}
	k.mu.Lock()
	delete(s.svc.sessions, s.id)
	k.mu.Unlock()
	return nil
}

// Shutdown uninstalls every service.
func (k *Kernel) Shutdown() error {
	var errs []error
	for _, name := range k.Services() {
		if err := k.Unregister(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatch serves the request in cmd on session s and leaves the response in
// cmd.
//
// A session that is not connected fails with ipc.ErrInvalidSessionState and
// cmd is left untouched. Every other failure, including a handler panic, is
// reported to the guest as a result code and Dispatch returns nil.
func (k *Kernel) Dispatch(s *Session, cmd *ipc.CommandBuffer) error {
	if s == nil || s.State() != SessionConnected {
		return ipc.ErrInvalidSessionState
	}
	svc := s.svc
	hdr := ipc.DecodeHeader(cmd[0])

	h, ok := svc.Handlers[hdr.CommandID]
	if !ok || h.Func == nil {
		name := h.Name
		if name == "" {
			name = fmt.Sprintf("0x%08X", cmd[0])
		}
		hal.Logf(k.logger, hal.LevelError, svc.class(), "%s: unknown / unimplemented function '%s'", svc.Name, name)
		ipc.WriteFailure(cmd, hdr.CommandID, ipc.ResultUnimplementedCommand)
		return nil
	}
	if hdr != h.Header(hdr.CommandID) {
		hal.Logf(k.logger, hal.LevelError, svc.class(), "%s: %s: header declares normal=%d translate=%d, want %d,%d",
			svc.Name, h.Name, hdr.NormalWords, hdr.TranslateWords, h.Normal, h.Translate)
		ipc.WriteFailure(cmd, hdr.CommandID, ipc.ResultSizeMismatch)
		return nil
	}

	ctx := &Context{
		k:       k,
		session: s,
		svc:     svc,
		handler: h,
		parser:  ipc.NewRequestParser(cmd, k.mem),
	}
	panicked, err := k.invoke(ctx)
	switch {
	case panicked:
		ipc.WriteFailure(cmd, hdr.CommandID, ipc.ResultInternal)
	case err != nil:
		rc := ipc.ResultFromError(err)
		lvl := hal.LevelError
		if rc == ipc.ResultInternal {
			lvl = hal.LevelCritical
		}
		hal.Logf(k.logger, lvl, svc.class(), "%s: %s failed: %v (%s)", svc.Name, h.Name, err, rc)
		ipc.WriteFailure(cmd, hdr.CommandID, rc)
	default:
		if berr := ctx.responseErr(); berr != nil {
			hal.Logf(k.logger, hal.LevelCritical, svc.class(), "%s: %s: %v", svc.Name, h.Name, berr)
			if ipc.DebugAssertions {
				panic(berr)
			}
			ipc.WriteFailure(cmd, hdr.CommandID, ipc.ResultInternal)
		}
	}
	return nil
}

func (k *Kernel) invoke(ctx *Context) (panicked bool, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if e, ok := r.(error); ok && ipc.DebugAssertions && errors.Is(e, ipc.ErrBuilderUsage) {
			panic(r)
		}
		panicked = true
		k.reportPanic(PanicInfo{
			Service:   ctx.svc.Name,
			Handler:   ctx.handler.Name,
			CommandID: ctx.CommandID(),
			Value:     r,
		})
	}()
	return false, ctx.handler.Func(ctx)
}
