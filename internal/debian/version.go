package debian

import "strings"

// StripEpoch removes the epoch ("1:") from a Debian version, as done for
// artifact file names
func StripEpoch(version string) string {
	if i := strings.IndexByte(version, ':'); i >= 0 {
		return version[i+1:]
	}
	return version
}

// UpstreamVersion returns the version without epoch and Debian revision
func UpstreamVersion(version string) string {
	v := StripEpoch(version)
	if i := strings.LastIndexByte(v, '-'); i >= 0 {
		return v[:i]
	}
	return v
}

// EscapeVersion makes a full version (epoch included) safe as a single path
// element
func EscapeVersion(version string) string {
	return strings.ReplaceAll(version, ":", "%3a")
}
