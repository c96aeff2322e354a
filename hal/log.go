package hal

import (
	"fmt"
	"strings"
)

// Level is a log severity.
type Level uint8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "Trace"
	case LevelDebug:
		return "Debug"
	case LevelInfo:
		return "Info"
	case LevelWarning:
		return "Warning"
	case LevelError:
		return "Error"
	case LevelCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	case "critical":
		return LevelCritical, nil
	default:
		return LevelInfo, fmt.Errorf("log level %q: unknown", s)
	}
}

// levelLogger is implemented by sinks that filter on severity.
type levelLogger interface {
	Enabled(Level) bool
}

// Logf formats one line for a log class and writes it to l.
//
// Lines look like "[Service.PTM] <Warning> GetStepHistory: (STUBBED) called".
// A nil logger drops the line.
func Logf(l Logger, lvl Level, class string, format string, args ...any) {
	if l == nil {
		return
	}
	if f, ok := l.(levelLogger); ok && !f.Enabled(lvl) {
		return
	}
	l.WriteLineString(fmt.Sprintf("[%s] <%s> %s", class, lvl, fmt.Sprintf(format, args...)))
}

// LevelFilter drops lines below a minimum level when written through Logf.
type LevelFilter struct {
	next Logger
	min  Level
}

// NewLevelFilter wraps next so that Logf skips lines below min.
func NewLevelFilter(next Logger, min Level) *LevelFilter {
	return &LevelFilter{next: next, min: min}
}

func (f *LevelFilter) Enabled(l Level) bool { return f != nil && f.next != nil && l >= f.min }

func (f *LevelFilter) WriteLineString(s string) {
	if f == nil || f.next == nil {
		return
	}
	f.next.WriteLineString(s)
}

func (f *LevelFilter) WriteLineBytes(b []byte) {
	if f == nil || f.next == nil {
		return
	}
	f.next.WriteLineBytes(b)
}

type nullLogger struct{}

func (nullLogger) WriteLineString(string) {}
func (nullLogger) WriteLineBytes([]byte)  {}

// Discard is a Logger that drops everything.
var Discard Logger = nullLogger{}
