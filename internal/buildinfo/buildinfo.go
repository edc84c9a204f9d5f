// Package buildinfo names the binary's build for banners and window titles.
package buildinfo

import "runtime/debug"

// Set at link time with -ldflags "-X newtcore/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = ""
)

// Short returns the release version, else a short commit, else "dev". The
// commit falls back to the VCS stamp the go tool embeds.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if c := commit(); c != "" {
		return "dev-" + c
	}
	return "dev"
}

// commit returns at most 12 hex digits, with a "+" for a dirty tree.
func commit() string {
	if Commit != "" {
		return truncate(Commit)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	rev, dirty := "", false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	rev = truncate(rev)
	if rev != "" && dirty {
		rev += "+"
	}
	return rev
}

func truncate(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
