package app

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"ctrhle/kernel"
)

// reportWidth is the column limit of a crash report line.
const reportWidth = 100

func (s *System) installPanicHandler() {
	s.k.SetPanicHandler(func(info kernel.PanicInfo) {
		s.mu.Lock()
		p := info
		s.lastPanic = &p
		s.mu.Unlock()

		if s.panicLog != nil {
			writePanicReport(s.panicLog, info, reportWidth)
		}
	})
}

// LastPanic returns the most recent recovered handler panic, if any.
func (s *System) LastPanic() (kernel.PanicInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPanic == nil {
		return kernel.PanicInfo{}, false
	}
	return *s.lastPanic, true
}

func writePanicReport(w io.Writer, info kernel.PanicInfo, cols int) {
	lines := []string{
		"ctrhle panic:",
		fmt.Sprintf("service: %s", info.Service),
		fmt.Sprintf("handler: %s (0x%04X)", info.Handler, info.CommandID),
		fmt.Sprintf("panic: %v", info.Value),
	}
	if len(info.Stack) > 0 {
		lines = append(lines, "stack:")
		for _, line := range strings.Split(string(info.Stack), "\n") {
			if line == "" {
				continue
			}
			lines = append(lines, line)
		}
	} else {
		lines = append(lines, "stack: unavailable")
	}

	for _, line := range lines {
		for len(line) > 0 {
			chunk, rest := takeRunes(line, cols)
			fmt.Fprintln(w, chunk)
			line = strings.TrimLeft(rest, " ")
		}
	}
}

func takeRunes(s string, n int) (prefix, rest string) {
	if n <= 0 || s == "" {
		return s, ""
	}
	if len(s) <= n {
		return s, ""
	}
	var i, count int
	for i < len(s) && count < n {
		_, size := utf8.DecodeRuneInString(s[i:])
		if size <= 0 {
			break
		}
		i += size
		count++
	}
	if i >= len(s) {
		return s, ""
	}
	return s[:i], s[i:]
}
