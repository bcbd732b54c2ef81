// Package version holds the CLI version string. Default is "dev"; release
// builds can set it via: go build -ldflags "-X aiowasp/cli/internal/version.Version=v1.0.0"
// Commit is the short (7-char) git commit hash for dev builds.
package version

// Version is the aiowasp CLI version. Set at build time for releases.
var Version = "dev"

// Commit is the short git commit hash (e.g. 7 chars). Set at build time for dev builds via ldflags.
var Commit = ""

// String returns the version string for display (--version, the User-Agent header).
// For dev builds with Commit set, returns "dev (abc1234)"; otherwise returns Version.
func String() string {
	if Version != "dev" || Commit == "" {
		return Version
	}
	return Version + " (" + Commit + ")"
}

// UserAgent returns the User-Agent sent by the gateway client, e.g. "aiowasp/v1.0.0".
func UserAgent() string {
	v := Version
	if v == "dev" && Commit != "" {
		v += "-" + Commit
	}
	return "aiowasp/" + v
}
