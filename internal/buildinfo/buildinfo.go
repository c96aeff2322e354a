// Package buildinfo reports the build identity logged at boot.
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Version, Commit and Date are set at build time via -ldflags. When they are
// left unset, the VCS stamp the go tool embeds is used instead.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

var stampOnce sync.Once

func stamp() {
	stampOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		fillFrom(info.Settings)
	})
}

func fillFrom(settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "unknown" && s.Value != "" {
				Commit = s.Value
				if len(Commit) > 12 {
					Commit = Commit[:12]
				}
			}
		case "vcs.time":
			if Date == "unknown" && s.Value != "" {
				Date = s.Value
			}
		}
	}
}

// Short returns a compact build identifier for logging.
func Short() string {
	stamp()
	if Version != "" && Version != "dev" {
		return Version
	}
	if Commit != "" && Commit != "unknown" {
		return Commit
	}
	return "dev"
}

// String is the full boot banner identity.
func String() string {
	stamp()
	return fmt.Sprintf("ctrhle %s (commit %s, built %s)", Version, Commit, Date)
}
