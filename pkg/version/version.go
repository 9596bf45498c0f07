// Package version exposes the build version.
//
// Priority: -ldflags override > VCS revision from debug.BuildInfo > "dev".
package version

import "runtime/debug"

// AppName is used in the health response, metric resource and client user-agent.
const AppName = "hearth"

// gitCommitOverride is set via -ldflags for container builds without .git.
var gitCommitOverride string

// GitCommit is the short (8 char) commit hash, or "dev".
var GitCommit = resolveCommit(gitCommitOverride, readBuildRevision())

func readBuildRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

func resolveCommit(override, revision string) string {
	v := override
	if v == "" {
		v = revision
	}
	if v == "" {
		return "dev"
	}
	if len(v) > 8 {
		return v[:8]
	}
	return v
}

// Full returns "hearth/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
