package modlife

import (
	"strconv"
	"strings"
)

// versionSegments splits a version string into numeric segments on "." and
// "-". Non-numeric segments (pre-release tags and similar) count as zero so
// that "1.2.3-beta" compares as 1.2.3.0.
func versionSegments(version string) []int {
	parts := strings.FieldsFunc(version, func(r rune) bool {
		return r == '.' || r == '-'
	})
	segments := make([]int, len(parts))
	for i, part := range parts {
		if n, err := strconv.Atoi(part); err == nil {
			segments[i] = n
		}
	}
	return segments
}

// compareVersions compares two version strings segment-wise, padding the
// shorter with zeros. Returns -1, 0 or 1.
func compareVersions(a, b string) int {
	as := versionSegments(a)
	bs := versionSegments(b)

	length := len(as)
	if len(bs) > length {
		length = len(bs)
	}
	for i := 0; i < length; i++ {
		var av, bv int
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	}
	return 0
}

// versionSegment returns the nth numeric segment of a version, or 0.
func versionSegment(version string, n int) int {
	segments := versionSegments(version)
	if n < len(segments) {
		return segments[n]
	}
	return 0
}

// versionSatisfies reports whether the available version satisfies the
// required range expression. Supported forms:
//
//	"^1.2.3"        caret: major segment must match exactly
//	"~1.2.3"        tilde: major and minor segments must match exactly
//	"a || b"        alternation: either alternative satisfies
//	"1.0.0 - 2.0.0" inclusive range under the segment comparator
//	">=1.2.3", ">1.2.3"
//	anything else   exact string equality
func versionSatisfies(available, required string) bool {
	required = strings.TrimSpace(required)
	available = strings.TrimSpace(available)

	if required == "" || required == "*" {
		return true
	}

	if strings.Contains(required, "||") {
		for _, alternative := range strings.Split(required, "||") {
			if versionSatisfies(available, alternative) {
				return true
			}
		}
		return false
	}

	if strings.Contains(required, " - ") {
		bounds := strings.SplitN(required, " - ", 2)
		minVersion := strings.TrimSpace(bounds[0])
		maxVersion := strings.TrimSpace(bounds[1])
		return compareVersions(available, minVersion) >= 0 &&
			compareVersions(available, maxVersion) <= 0
	}

	switch {
	case strings.HasPrefix(required, "^"):
		base := strings.TrimPrefix(required, "^")
		return versionSegment(available, 0) == versionSegment(base, 0)

	case strings.HasPrefix(required, "~"):
		base := strings.TrimPrefix(required, "~")
		return versionSegment(available, 0) == versionSegment(base, 0) &&
			versionSegment(available, 1) == versionSegment(base, 1)

	case strings.HasPrefix(required, ">="):
		base := strings.TrimSpace(strings.TrimPrefix(required, ">="))
		return compareVersions(available, base) >= 0

	case strings.HasPrefix(required, ">"):
		base := strings.TrimSpace(strings.TrimPrefix(required, ">"))
		return compareVersions(available, base) > 0

	default:
		return available == required
	}
}
