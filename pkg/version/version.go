// Package version stamps build metadata into startup logs, health responses,
// and the User-Agent sent to the LINE platform.
package version

import "runtime/debug"

// AppName prefixes version strings and the outbound User-Agent.
const AppName = "linecore"

// commit can be injected with -ldflags for container images built without a
// .git directory:
//
//	go build -ldflags "-X github.com/chatbridge/linecore/pkg/version.commit=$SHA"
var commit string

// GitCommit is the short revision of this build, or "dev" when no revision
// is known, as under `go test`.
var GitCommit = resolve()

func resolve() string {
	if commit != "" {
		return short(commit)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "linecore/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
