package pin

import (
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Direction describes how an installed version relates to its pin.
type Direction string

const (
	// DirectionSame means the versions are equal.
	DirectionSame Direction = "same"
	// DirectionUpgrade means the installed version is newer than the pin.
	DirectionUpgrade Direction = "upgrade"
	// DirectionDowngrade means the installed version is older than the pin.
	DirectionDowngrade Direction = "downgrade"
)

// Compare orders two versions. Semantic versions are compared with semver
// rules; anything else falls back to a segment-wise numeric comparison.
func Compare(a, b string) int {
	if a == b {
		return 0
	}
	va, errA := semver.StrictNewVersion(a)
	vb, errB := semver.StrictNewVersion(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	return compareSegments(a, b)
}

// DirectionOf returns the direction from pinned to installed.
func DirectionOf(pinned, installed string) Direction {
	switch c := Compare(installed, pinned); {
	case c > 0:
		return DirectionUpgrade
	case c < 0:
		return DirectionDowngrade
	default:
		return DirectionSame
	}
}

// Equal reports whether two versions denote the same release, treating
// trailing zero components as insignificant ("1.0" equals "1.0.0").
func Equal(a, b string) bool {
	return Compare(a, b) == 0
}

func compareSegments(a, b string) int {
	ra, sa := splitVersion(a)
	rb, sb := splitVersion(b)
	for len(ra) < len(rb) {
		ra = append(ra, 0)
	}
	for len(rb) < len(ra) {
		rb = append(rb, 0)
	}
	for i := range ra {
		if c := compareInt(ra[i], rb[i]); c != 0 {
			return c
		}
	}
	for i := 0; i < len(sa) || i < len(sb); i++ {
		// A missing suffix is the final release itself.
		pa, pb := suffix{rank: rankRelease}, suffix{rank: rankRelease}
		if i < len(sa) {
			pa = sa[i]
		}
		if i < len(sb) {
			pb = sb[i]
		}
		if c := pa.compare(pb); c != 0 {
			return c
		}
	}
	return 0
}

// Suffix ranks follow PEP 440: dev < a < b < rc < release < post.
// Labels outside that vocabulary (local or distribution revisions) sort
// after the release.
const (
	rankDev = iota
	rankAlpha
	rankBeta
	rankCandidate
	rankRelease
	rankPost
	rankOther
)

var suffixRanks = map[string]int{
	"dev":     rankDev,
	"a":       rankAlpha,
	"alpha":   rankAlpha,
	"b":       rankBeta,
	"beta":    rankBeta,
	"c":       rankCandidate,
	"rc":      rankCandidate,
	"pre":     rankCandidate,
	"preview": rankCandidate,
	"post":    rankPost,
	"rev":     rankPost,
	"r":       rankPost,
}

type suffix struct {
	rank  int
	label string
	num   int
}

func (s suffix) compare(o suffix) int {
	if c := compareInt(s.rank, o.rank); c != 0 {
		return c
	}
	if c := strings.Compare(s.label, o.label); c != 0 {
		return c
	}
	return compareInt(s.num, o.num)
}

// splitVersion separates the numeric release from its labelled suffixes.
// Letters and digits are split apart, so "2.0rc1" yields release [2 0] and
// suffix rc1.
func splitVersion(v string) ([]int, []suffix) {
	v = strings.TrimPrefix(strings.ToLower(v), "v")
	var tokens []string
	for _, field := range strings.FieldsFunc(v, func(r rune) bool {
		return r == '.' || r == '-' || r == '_' || r == '+'
	}) {
		tokens = append(tokens, splitAlnum(field)...)
	}

	var release []int
	for len(tokens) > 0 {
		n, err := strconv.Atoi(tokens[0])
		if err != nil {
			break
		}
		release = append(release, n)
		tokens = tokens[1:]
	}

	var suffixes []suffix
	for len(tokens) > 0 {
		s := suffix{rank: rankOther}
		if _, err := strconv.Atoi(tokens[0]); err != nil {
			s.label = tokens[0]
			if r, ok := suffixRanks[s.label]; ok {
				s.rank = r
				s.label = ""
			}
			tokens = tokens[1:]
		}
		if len(tokens) > 0 {
			if n, err := strconv.Atoi(tokens[0]); err == nil {
				s.num = n
				tokens = tokens[1:]
			}
		}
		suffixes = append(suffixes, s)
	}
	return release, suffixes
}

func splitAlnum(s string) []string {
	var out []string
	start := 0
	for i := 1; i < len(s); i++ {
		if isDigit(s[i]) != isDigit(s[i-1]) {
			out = append(out, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
