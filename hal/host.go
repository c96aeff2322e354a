package hal

import (
	"fmt"
	"io"
	"os"
	"sync"
)

type hostHAL struct {
	logger Logger
	mem    *HostMemory
	t      *hostTime
}

// New returns a host HAL implementation logging to stdout.
func New() HAL {
	return NewWithLogger(NewWriterLogger(os.Stdout))
}

// NewWithLogger returns a host HAL implementation that logs to l.
func NewWithLogger(l Logger) HAL {
	if l == nil {
		l = Discard
	}
	return &hostHAL{
		logger: l,
		mem:    NewHostMemory(),
		t:      newHostTime(),
	}
}

func (h *hostHAL) Logger() Logger { return h.logger }
func (h *hostHAL) Memory() Memory { return h.mem }
func (h *hostHAL) Time() Time     { return h.t }

// StepTime advances the host tick stream by n ticks.
func (h *hostHAL) StepTime(n uint64) { h.t.stepN(n) }

// Stepper is implemented by HALs whose tick stream can be advanced manually.
type Stepper interface {
	StepTime(n uint64)
}

type hostLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterLogger returns a Logger that writes each line to w.
func NewWriterLogger(w io.Writer) Logger {
	return &hostLogger{w: w}
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}
