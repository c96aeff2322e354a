package kernel

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"ctrhle/hle/ipc"
)

type recordLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordLogger) WriteLineString(s string) {
	l.mu.Lock()
	l.lines = append(l.lines, s)
	l.mu.Unlock()
}

func (l *recordLogger) WriteLineBytes(b []byte) { l.WriteLineString(string(b)) }

func (l *recordLogger) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

func echoTable() HandlerTable {
	return HandlerTable{
		0x1: {Name: "Echo", Normal: 1, Translate: 0, Func: func(ctx *Context) error {
			v := ctx.Parser().PopU32()
			if err := ctx.Parser().Err(); err != nil {
				return err
			}
			rb := ctx.MakeBuilder(2, 0)
			rb.PushResult(ipc.ResultSuccess)
			rb.PushU32(v + 1)
			return nil
		}},
		0x2: {Name: "Planned"},
	}
}

func newTestKernel(t *testing.T) (*Kernel, *recordLogger) {
	t.Helper()
	log := &recordLogger{}
	k := New(log, nil)
	if err := k.RegisterService("test:u", echoTable()); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	return k, log
}

func connect(t *testing.T, k *Kernel, name string) *Session {
	t.Helper()
	s, err := k.Connect(name)
	if err != nil {
		t.Fatalf("Connect(%s): %v", name, err)
	}
	return s
}

func TestDispatchEcho(t *testing.T) {
	k, _ := newTestKernel(t)
	s := connect(t, k, "test:u")

	var cmd ipc.CommandBuffer
	cmd[0] = ipc.EncodeHeader(0x1, 1, 0)
	cmd[1] = 41
	if err := k.Dispatch(s, &cmd); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := ipc.DecodeHeader(cmd[0]); got != (ipc.Header{CommandID: 0x1, NormalWords: 2}) {
		t.Fatalf("unexpected response header %+v", got)
	}
	if rc := ipc.ResultCode(cmd[1]); rc != ipc.ResultSuccess {
		t.Fatalf("expected success, got %s", rc)
	}
	if cmd[2] != 42 {
		t.Fatalf("expected 42, got %d", cmd[2])
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	k, log := newTestKernel(t)
	s := connect(t, k, "test:u")

	for _, id := range []uint16{0x2, 0x99, 0xFFFF} {
		var cmd ipc.CommandBuffer
		cmd[0] = ipc.EncodeHeader(id, 0, 0)
		if err := k.Dispatch(s, &cmd); err != nil {
			t.Fatalf("Dispatch(0x%X): %v", id, err)
		}
		if got := ipc.DecodeHeader(cmd[0]); got != (ipc.Header{CommandID: id, NormalWords: 1}) {
			t.Fatalf("unexpected response header %+v", got)
		}
		if rc := ipc.ResultCode(cmd[1]); rc != ipc.ResultUnimplementedCommand {
			t.Fatalf("expected ResultUnimplementedCommand, got %s", rc)
		}
	}
	if !log.contains("unimplemented function 'Planned'") {
		t.Fatal("expected the handler name in the log")
	}
	if s.State() != SessionConnected {
		t.Fatalf("expected session to stay connected, got %s", s.State())
	}
}

func TestDispatchHeaderMismatchSkipsHandler(t *testing.T) {
	log := &recordLogger{}
	k := New(log, nil)
	called := false
	err := k.RegisterService("test:u", HandlerTable{
		0x3: {Name: "Strict", Normal: 2, Func: func(ctx *Context) error {
			called = true
			ctx.Respond(ipc.ResultSuccess)
			return nil
		}},
	})
	if err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	s := connect(t, k, "test:u")

	var cmd ipc.CommandBuffer
	cmd[0] = ipc.EncodeHeader(0x3, 1, 2)
	if err := k.Dispatch(s, &cmd); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if called {
		t.Fatal("expected handler not to run")
	}
	if rc := ipc.ResultCode(cmd[1]); rc != ipc.ResultSizeMismatch {
		t.Fatalf("expected ResultSizeMismatch, got %s", rc)
	}
}

func TestDispatchAfterDisconnect(t *testing.T) {
	k, _ := newTestKernel(t)
	s := connect(t, k, "test:u")
	if err := k.Disconnect(s); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if s.State() != SessionClosed {
		t.Fatalf("expected closed, got %s", s.State())
	}

	var cmd ipc.CommandBuffer
	cmd[0] = ipc.EncodeHeader(0x1, 1, 0)
	cmd[1] = 7
	before := cmd
	err := k.Dispatch(s, &cmd)
	if !errors.Is(err, ipc.ErrInvalidSessionState) {
		t.Fatalf("expected ErrInvalidSessionState, got %v", err)
	}
	if cmd != before {
		t.Fatal("expected command buffer untouched")
	}
	if err := k.Disconnect(s); !errors.Is(err, ipc.ErrInvalidSessionState) {
		t.Fatalf("expected second Disconnect to fail, got %v", err)
	}
}

func TestDispatchHandlerErrorBecomesResult(t *testing.T) {
	k := New(nil, nil)
	err := k.RegisterService("test:u", HandlerTable{
		0x4: {Name: "Sized", Normal: 1, Func: func(ctx *Context) error {
			n := ctx.Parser().PopU32()
			return ipc.ExpectSize(n, 8, 2)
		}},
	})
	if err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	s := connect(t, k, "test:u")

	var cmd ipc.CommandBuffer
	cmd[0] = ipc.EncodeHeader(0x4, 1, 0)
	cmd[1] = 15
	if err := k.Dispatch(s, &cmd); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if rc := ipc.ResultCode(cmd[1]); rc != ipc.ResultSizeMismatch {
		t.Fatalf("expected ResultSizeMismatch, got %s", rc)
	}
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	log := &recordLogger{}
	k := New(log, nil)
	err := k.RegisterService("test:u", HandlerTable{
		0x5: {Name: "Boom", Func: func(ctx *Context) error {
			var m map[string]int
			m["x"] = 1
			return nil
		}},
	})
	if err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	var got PanicInfo
	k.SetPanicHandler(func(info PanicInfo) { got = info })
	s := connect(t, k, "test:u")

	var cmd ipc.CommandBuffer
	cmd[0] = ipc.EncodeHeader(0x5, 0, 0)
	if err := k.Dispatch(s, &cmd); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if rc := ipc.ResultCode(cmd[1]); rc != ipc.ResultInternal {
		t.Fatalf("expected ResultInternal, got %s", rc)
	}
	if k.Panics() != 1 {
		t.Fatalf("expected 1 panic, got %d", k.Panics())
	}
	if got.Handler != "Boom" || got.CommandID != 0x5 || len(got.Stack) == 0 {
		t.Fatalf("unexpected panic info %+v", got)
	}
	if !log.contains("<Critical>") {
		t.Fatal("expected a critical log line")
	}

	// The dispatcher keeps serving after a panic.
	cmd[0] = ipc.EncodeHeader(0x5, 0, 0)
	if err := k.Dispatch(s, &cmd); err != nil {
		t.Fatalf("Dispatch after panic: %v", err)
	}
	if k.Panics() != 2 {
		t.Fatalf("expected 2 panics, got %d", k.Panics())
	}
}

func TestRegisterDuplicate(t *testing.T) {
	k, _ := newTestKernel(t)
	err := k.RegisterService("test:u", echoTable())
	if !errors.Is(err, ipc.ErrServiceExists) {
		t.Fatalf("expected ErrServiceExists, got %v", err)
	}
}

func TestRegisterRejectsOversizedHandler(t *testing.T) {
	k := New(nil, nil)
	err := k.RegisterService("test:u", HandlerTable{0x1: {Name: "Huge", Normal: 63, Translate: 2}})
	if err == nil {
		t.Fatal("expected oversized handler to be rejected")
	}
}

func TestSessionLimit(t *testing.T) {
	k := New(nil, nil)
	if err := k.Register(&Service{Name: "lim:u", MaxSessions: 2, Handlers: echoTable()}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	a := connect(t, k, "lim:u")
	connect(t, k, "lim:u")
	if _, err := k.Connect("lim:u"); !errors.Is(err, ipc.ErrSessionLimit) {
		t.Fatalf("expected ErrSessionLimit, got %v", err)
	}
	if err := k.Disconnect(a); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	connect(t, k, "lim:u")
}

func TestSessionIDsAreUnique(t *testing.T) {
	k, _ := newTestKernel(t)
	a := connect(t, k, "test:u")
	b := connect(t, k, "test:u")
	if a.ID() == b.ID() {
		t.Fatalf("expected distinct session ids, got %d twice", a.ID())
	}
	if a.Service() != "test:u" {
		t.Fatalf("expected service test:u, got %s", a.Service())
	}
}

func TestUnregisterClosesSessions(t *testing.T) {
	k, _ := newTestKernel(t)
	s := connect(t, k, "test:u")
	if err := k.Unregister("test:u"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if s.State() != SessionClosed {
		t.Fatalf("expected closed session, got %s", s.State())
	}
	var cmd ipc.CommandBuffer
	if err := k.Dispatch(s, &cmd); !errors.Is(err, ipc.ErrInvalidSessionState) {
		t.Fatalf("expected ErrInvalidSessionState, got %v", err)
	}
	if err := k.Unregister("test:u"); !errors.Is(err, ipc.ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}
}

func TestConcurrentSessions(t *testing.T) {
	k, _ := newTestKernel(t)
	const workers = 8
	const calls = 500

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		s := connect(t, k, "test:u")
		wg.Add(1)
		go func(s *Session, base uint32) {
			defer wg.Done()
			for i := uint32(0); i < calls; i++ {
				var cmd ipc.CommandBuffer
				cmd[0] = ipc.EncodeHeader(0x1, 1, 0)
				cmd[1] = base + i
				if err := k.Dispatch(s, &cmd); err != nil {
					errs <- err
					return
				}
				if cmd[2] != base+i+1 {
					errs <- errors.New("unexpected echo value")
					return
				}
			}
		}(s, uint32(w)*calls)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}
