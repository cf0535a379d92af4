// Package version reports the build version of the chatvault binaries.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/markwave/chatvault/internal/version.Version=..." at build time.
var (
	Version    = "dev"
	CommitHash = ""
	BuildTime  = ""
)

var readBuildInfo = sync.OnceFunc(func() {
	if CommitHash != "" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			CommitHash = setting.Value
		case "vcs.time":
			if BuildTime == "" {
				BuildTime = setting.Value
			}
		}
	}
})

// ShortHash returns the first seven characters of the commit hash, if known.
func ShortHash() string {
	readBuildInfo()
	if len(CommitHash) > 7 {
		return CommitHash[:7]
	}
	return CommitHash
}

// GetInfo returns "<version>" or "<version> (<short hash>)".
func GetInfo() string {
	if h := ShortHash(); h != "" {
		return fmt.Sprintf("%s (%s)", Version, h)
	}
	return Version
}
