package version

import "runtime/debug"

const (
	AppName        = "Warden"
	AppDescription = "Per-guild command authorization and moderation for Discord."
)

// Revision returns the VCS revision baked in by the Go toolchain, or "dev".
func Revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return "dev"
}
