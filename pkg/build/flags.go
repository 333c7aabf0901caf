// SPDX-License-Identifier: MIT
//
// Package build provides functionality to manage and retrieve build information
// for a Go application. Release builds embed the application name, build
// timestamp, Git commit hash and semantic version with linker flags:
//
//	-ldflags "-X lipsync/pkg/build.buildName=lipsync -X lipsync/pkg/build.buildVersion=v1.2.0 ..."
//
// Development builds carry no flags; their information is read from the
// module's embedded build info instead.
package build

import (
	"fmt"
	"runtime/debug"
)

// DefaultName is used when the binary was built without linker flags.
const DefaultName = "lipsync"

const description = "Real-time audio lip-sync engine: streams speech audio and emits viseme frames"

type ldFlags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// String formats the version line printed by --version.
func (f ldFlags) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", f.Version, f.Commit, f.Time)
}

// Package-level variables for build information. These are populated by -ldflags
// during compilation.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:        DefaultName,
		Description: description,
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "unknown",
	}

	readBuildInfo = debug.ReadBuildInfo
)

// Initialize copies build information from the ldflags variables into the
// build flags. Without any ldflags it falls back to the embedded module
// build info. A partial set of ldflags is an error: a release build must
// set all four.
func Initialize() error {
	if buildName == "" && buildTime == "" && buildCommit == "" && buildVersion == "" {
		fromBuildInfo()
		return nil
	}
	if buildName == "" {
		return fmt.Errorf("BuildName is required")
	}
	if buildTime == "" {
		return fmt.Errorf("BuildTime is required")
	}
	if buildCommit == "" {
		return fmt.Errorf("BuildCommit is required")
	}
	if buildVersion == "" {
		return fmt.Errorf("BuildVersion is required")
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion

	return nil
}

func fromBuildInfo() {
	buildFlags.Name = DefaultName
	info, ok := readBuildInfo()
	if !ok {
		return
	}
	if v := info.Main.Version; v != "" {
		buildFlags.Version = v
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			buildFlags.Commit = s.Value
		case "vcs.time":
			buildFlags.Time = s.Value
		}
	}
}

// GetBuildFlags returns the current build information. Initialize()
// must be called before this function to ensure the build information
// is valid. This function is safe to call after initialization.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
