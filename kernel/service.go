package kernel

import "ctrhle/hle/ipc"

// HandlerFunc serves one command. It reads arguments through ctx.Parser and
// writes the response through ctx.MakeBuilder. A returned error replaces the
// response with a failure result.
type HandlerFunc func(ctx *Context) error

// Handler is one entry of a handler table.
//
// Normal and Translate are the word counts the request header must declare.
// A nil Func marks a command that is known but not implemented.
type Handler struct {
	Name      string
	Normal    uint8
	Translate uint8
	Func      HandlerFunc
}

// Header returns the request header the handler expects for id.
func (h Handler) Header(id uint16) ipc.Header {
	return ipc.Header{CommandID: id, NormalWords: h.Normal, TranslateWords: h.Translate}
}

// HandlerTable maps command ids to handlers.
type HandlerTable map[uint16]Handler

// Merge returns a table holding t's entries overlaid with other's.
func (t HandlerTable) Merge(other HandlerTable) HandlerTable {
	out := make(HandlerTable, len(t)+len(other))
	for id, h := range t {
		out[id] = h
	}
	for id, h := range other {
		out[id] = h
	}
	return out
}

// Service is a named handler table. It is not modified after registration.
type Service struct {
	Name string
	// Class is the log class for the service's handlers; "IPC" when empty.
	Class string
	// MaxSessions limits concurrent sessions; zero means unlimited.
	MaxSessions int
	Handlers    HandlerTable
	// Module is the shared module context, if any. Registration acquires a
	// reference and uninstall releases it.
	Module *ModuleRef
}

func (s *Service) class() string {
	if s.Class == "" {
		return "IPC"
	}
	return s.Class
}
