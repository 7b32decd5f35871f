package version

import "runtime/debug"

// Version is set at build time via -ldflags
var Version = "dev"

// Get returns the current version, falling back to module build info when the
// binary was installed with `go install`.
func Get() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// IsDev reports whether this is an unreleased development build. Development
// builds resolve the handler script relative to the working directory.
func IsDev() bool {
	return Get() == "dev"
}
