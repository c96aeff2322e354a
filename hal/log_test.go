package hal

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogfFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)
	Logf(l, LevelWarning, "Service.PTM", "%s: (STUBBED) called", "GetStepHistory")
	if got, want := buf.String(), "[Service.PTM] <Warning> GetStepHistory: (STUBBED) called\n"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	Logf(nil, LevelCritical, "X", "dropped")
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	f := NewLevelFilter(NewWriterLogger(&buf), LevelWarning)
	Logf(f, LevelDebug, "Kernel", "hidden")
	Logf(f, LevelInfo, "Kernel", "hidden")
	Logf(f, LevelError, "Kernel", "shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("expected lines below Warning dropped, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "[Kernel] <Error> shown") {
		t.Fatalf("expected error line, got %q", buf.String())
	}

	// Direct writes bypass the level check.
	f.WriteLineString("raw")
	if !strings.HasSuffix(buf.String(), "raw\n") {
		t.Fatalf("expected raw line, got %q", buf.String())
	}

	var nilFilter *LevelFilter
	if nilFilter.Enabled(LevelCritical) {
		t.Fatal("nil filter must not be enabled")
	}
	nilFilter.WriteLineString("ignored")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"trace":    LevelTrace,
		"DEBUG":    LevelDebug,
		"":         LevelInfo,
		" warn ":   LevelWarning,
		"Warning":  LevelWarning,
		"error":    LevelError,
		"critical": LevelCritical,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q): expected %s, got %s", in, want, got)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if got := Level(42).String(); got != "Unknown" {
		t.Fatalf("expected Unknown, got %q", got)
	}
}
