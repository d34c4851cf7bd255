// Package version provides build version information and runtime metadata.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

var (
	// These are set via ldflags at build time
	Version = ""
	Commit  = ""
	Date    = ""

	version, commit, date string

	readBuildInfo = debug.ReadBuildInfo
	once          sync.Once
)

func ensureInitialized() {
	once.Do(func() {
		version, commit, date = Version, Commit, Date

		info, ok := readBuildInfo()
		if ok {
			if version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
				version = strings.TrimPrefix(info.Main.Version, "v")
			}
			dirty := false
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					if commit == "" {
						commit = s.Value[:min(len(s.Value), 12)]
					}
				case "vcs.time":
					if date == "" {
						date, _, _ = strings.Cut(s.Value, "T")
					}
				case "vcs.modified":
					dirty = s.Value == "true"
				}
			}
			if dirty && commit != "" && Commit == "" {
				commit += "-dirty"
			}
		}

		if version == "" {
			version = "dev"
		}
		if commit == "" {
			commit = "unknown"
		}
		if date == "" {
			date = "unknown"
		}
	})
}

// Reset forgets the resolved values so the next accessor resolves them again.
func Reset() {
	once = sync.Once{}
}

// GetVersion returns the release version, or "dev".
func GetVersion() string {
	ensureInitialized()
	return version
}

// GetCommit returns the VCS revision the binary was built from.
func GetCommit() string {
	ensureInitialized()
	return commit
}

// GetDate returns the build or commit date.
func GetDate() string {
	ensureInitialized()
	return date
}

func Info() string {
	ensureInitialized()
	return fmt.Sprintf("cpamc %s (commit: %s, built: %s, %s/%s)",
		version, commit, date, runtime.GOOS, runtime.GOARCH)
}
