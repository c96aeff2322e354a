package kernel

import (
	"fmt"

	"ctrhle/hal"
	"ctrhle/hle/ipc"
)

// Context carries one dispatched request to its handler.
type Context struct {
	k       *Kernel
	session *Session
	svc     *installed
	handler Handler

	parser  *ipc.RequestParser
	builder *ipc.RequestBuilder
}

// Parser returns the request cursor.
func (c *Context) Parser() *ipc.RequestParser { return c.parser }

// CommandID returns the id of the command being served.
func (c *Context) CommandID() uint16 { return c.parser.Header().CommandID }

func (c *Context) Session() *Session  { return c.session }
func (c *Context) Memory() hal.Memory { return c.k.mem }
func (c *Context) Logger() hal.Logger { return c.k.logger }

// Module returns the service's module context, or nil.
func (c *Context) Module() Module {
	if c.svc.Module == nil {
		return nil
	}
	return c.svc.Module.Module()
}

// MakeBuilder starts the response. Call it once, after popping every
// parameter.
func (c *Context) MakeBuilder(normal, translate uint8) *ipc.RequestBuilder {
	if c.builder != nil {
		err := fmt.Errorf("%w: %s: response started twice", ipc.ErrBuilderUsage, c.handler.Name)
		if ipc.DebugAssertions {
			panic(err)
		}
		hal.Logf(c.k.logger, hal.LevelCritical, c.svc.class(), "%v", err)
	}
	c.builder = c.parser.MakeBuilder(normal, translate)
	return c.builder
}

// Respond writes a response holding only rc.
func (c *Context) Respond(rc ipc.ResultCode) {
	c.MakeBuilder(1, 0).PushResult(rc)
}

// Logf logs under the service's class, prefixed with the handler name.
func (c *Context) Logf(lvl hal.Level, format string, args ...any) {
	hal.Logf(c.k.logger, lvl, c.svc.class(), c.handler.Name+": "+format, args...)
}

// Stub logs that a stubbed handler was called.
func (c *Context) Stub() {
	c.Logf(hal.LevelWarning, "(STUBBED) called")
}

func (c *Context) responseErr() error {
	switch {
	case c.builder == nil:
		return fmt.Errorf("%w: returned without a response", ipc.ErrBuilderUsage)
	case c.builder.Err() != nil:
		return c.builder.Err()
	case !c.builder.Complete():
		return fmt.Errorf("%w: response declares %d words, not all written",
			ipc.ErrBuilderUsage, c.builder.Header().Words())
	default:
		return nil
	}
}
