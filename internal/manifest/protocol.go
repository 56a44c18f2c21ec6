package manifest

import (
	"strings"

	"golang.org/x/mod/semver"
)

// DefaultProtocolRange returns the caret range covering the host's major
// version, e.g. "^2.0.0" for host "2.3.1".
func DefaultProtocolRange(host string) string {
	v, ok := parseVersion(host)
	if !ok {
		return "^" + DefaultHostProtocol
	}
	return "^" + strings.TrimPrefix(semver.Major(v), "v") + ".0.0"
}

// ProtocolCompatible reports whether host satisfies the declared range.
//
// Supported forms are "^x.y.z", ">=x.y.z", "=x.y.z" and bare "x.y.z".
// Prerelease and build suffixes are ignored on both sides. An empty range, or
// a version on either side that cannot be parsed, counts as compatible.
func ProtocolCompatible(declared, host string) bool {
	r := strings.TrimSpace(declared)
	if r == "" {
		return true
	}

	op := "="
	switch {
	case strings.HasPrefix(r, "^"):
		op, r = "^", r[1:]
	case strings.HasPrefix(r, ">="):
		op, r = ">=", r[2:]
	case strings.HasPrefix(r, "="):
		r = r[1:]
	}

	base, ok := parseVersion(strings.TrimSpace(r))
	if !ok {
		return true
	}
	v, ok := parseVersion(strings.TrimSpace(host))
	if !ok {
		return true
	}

	switch op {
	case "^":
		return semver.Major(base) == semver.Major(v) && semver.Compare(v, base) >= 0
	case ">=":
		return semver.Compare(v, base) >= 0
	default:
		return semver.Compare(v, base) == 0
	}
}

// parseVersion strips prerelease/build metadata and returns a canonical
// "vMAJOR.MINOR.PATCH". Shorthand forms like "1.2" are rejected.
func parseVersion(s string) (string, bool) {
	core, _, _ := strings.Cut(s, "-")
	core, _, _ = strings.Cut(core, "+")
	if strings.Count(core, ".") != 2 {
		return "", false
	}
	v := ensureVPrefix(core)
	if !semver.IsValid(v) {
		return "", false
	}
	return semver.Canonical(v), true
}

func ensureVPrefix(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
