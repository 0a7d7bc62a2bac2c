// This file contains build information and initialization logic.
// Version, commit and build time are injected at link time, e.g.
// -ldflags "-X github.com/nobletooth/kache/pkg/utils.Version=v0.3.0".
// CAUTION: This file shouldn't be removed or else flags wouldn't be set properly.

package utils

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

const unknownBuildValue = "unknown"

var (
	TestMode   string // Should be true when running tests.
	IsTestMode bool
	Version    string
	Commit     string
	BuildTime  string
	StartTime  time.Time
	Hostname   string
)

func init() {
	StartTime = time.Now()

	// If build info is not set, make that clear.
	if Version == "" {
		Version = unknownBuildValue
	}
	if Commit == "" {
		Commit = unknownBuildValue
	}
	if BuildTime == "" {
		BuildTime = unknownBuildValue
	}
	if hostname, err := os.Hostname(); err == nil {
		Hostname = hostname
	} else {
		Hostname = unknownBuildValue
	}
	if len(TestMode) > 0 {
		if isTestMode, err := strconv.ParseBool(TestMode); err == nil {
			IsTestMode = isTestMode
		} else {
			slog.Warn("Failed to parse TestMode build flag, defaulting to false", "error", err)
		}
	}
}

// BuildInfo returns the build information as log attributes.
func BuildInfo() []any {
	return []any{"version", Version, "commit", Commit, "build", BuildTime, "host", Hostname,
		"uptime", time.Since(StartTime).Round(time.Second).String()}
}
