// Package entities defines the core value types of the glibc version
// management domain.
package entities

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	version "github.com/hashicorp/go-version"
)

// glibcVersionPattern matches Ubuntu glibc package versions such as
// "2.31-0ubuntu9.5" as well as bare release numbers such as "2.31".
var glibcVersionPattern = regexp.MustCompile(`^(\d+\.\d+(?:\.\d+)?)(?:-(\d+)ubuntu(\d+)(?:\.(\d+))?)?$`)

// GlibcVersion is an installed glibc version. The release part ("2.31")
// orders against symbol version requirements; the Ubuntu suffix
// ("0ubuntu9.5") breaks ties between builds of the same release.
type GlibcVersion struct {
	Raw     string
	Release *version.Version
	Suffix  string

	ubuntu [3]int
}

// ParseGlibcVersion parses a version string like "2.31-0ubuntu9.5" or "2.31".
func ParseGlibcVersion(s string) (GlibcVersion, error) {
	m := glibcVersionPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return GlibcVersion{}, fmt.Errorf("invalid glibc version %q", s)
	}

	release, err := version.NewVersion(m[1])
	if err != nil {
		return GlibcVersion{}, fmt.Errorf("invalid glibc release %q: %w", m[1], err)
	}

	v := GlibcVersion{Raw: m[0], Release: release}
	if m[2] != "" {
		v.Suffix = strings.TrimPrefix(m[0], m[1]+"-")
		for i, part := range m[2:5] {
			if part == "" {
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil {
				return GlibcVersion{}, fmt.Errorf("invalid glibc version %q: %w", s, err)
			}
			v.ubuntu[i] = n
		}
	}
	return v, nil
}

// MustParseGlibcVersion is ParseGlibcVersion for known-good inputs, panicking
// on error. Intended for tests and static defaults.
func MustParseGlibcVersion(s string) GlibcVersion {
	v, err := ParseGlibcVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Compare orders two glibc versions: release first, then Ubuntu build
// components numerically. Returns -1, 0 or 1.
func (v GlibcVersion) Compare(o GlibcVersion) int {
	if c := v.Release.Compare(o.Release); c != 0 {
		return c
	}
	for i := range v.ubuntu {
		switch {
		case v.ubuntu[i] < o.ubuntu[i]:
			return -1
		case v.ubuntu[i] > o.ubuntu[i]:
			return 1
		}
	}
	return 0
}

// Satisfies reports whether this installed version can serve a binary whose
// maximum referenced symbol version is max, i.e. release >= max.
func (v GlibcVersion) Satisfies(max *version.Version) bool {
	return v.Release.Compare(max) >= 0
}

func (v GlibcVersion) String() string {
	return v.Raw
}

// IsZero reports whether v is the zero value.
func (v GlibcVersion) IsZero() bool {
	return v.Release == nil
}

// ParseSymbolVersion parses a symbol version reference such as "2.27" or
// "GLIBC_2.27" into an orderable version value.
func ParseSymbolVersion(s string) (*version.Version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "GLIBC_")
	v, err := version.NewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("invalid symbol version %q: %w", s, err)
	}
	return v, nil
}
