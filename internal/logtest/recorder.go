// Package logtest provides a hal.Logger that records lines for tests.
package logtest

import (
	"strings"
	"sync"
)

// Recorder keeps every line written to it.
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *Recorder) WriteLineString(s string) {
	r.mu.Lock()
	r.lines = append(r.lines, s)
	r.mu.Unlock()
}

func (r *Recorder) WriteLineBytes(b []byte) { r.WriteLineString(string(b)) }

// Lines returns a copy of the recorded lines.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Contains reports whether any line contains sub.
func (r *Recorder) Contains(sub string) bool {
	for _, line := range r.Lines() {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}
