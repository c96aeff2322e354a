package kernel

import "sync/atomic"

// SessionID identifies a session for the lifetime of a Kernel.
type SessionID uint32

// SessionState is the state of a Session.
type SessionState uint32

const (
	SessionConnected SessionState = iota
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnected:
		return "connected"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session binds one client to one installed service.
//
// Connected -> Closed is the only transition. A session is a single-threaded
// pipe: callers must not dispatch on it concurrently.
type Session struct {
	id    SessionID
	svc   *installed
	state atomic.Uint32
}

func (s *Session) ID() SessionID { return s.id }

// Service returns the name of the bound service.
func (s *Session) Service() string { return s.svc.Name }

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// close reports whether this call performed the transition.
func (s *Session) close() bool {
	return s.state.CompareAndSwap(uint32(SessionConnected), uint32(SessionClosed))
}
