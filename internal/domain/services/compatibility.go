package services

import (
	"fmt"

	version "github.com/hashicorp/go-version"

	"github.com/GeekCmore/epwn/internal/domain/entities"
)

// ExportedVersionSource reads the exported symbol-version definition set of
// an installed libc (e.g. GLIBC_2.2.5 .. GLIBC_2.35).
type ExportedVersionSource interface {
	ExportedVersions(libcPath string) ([]*version.Version, error)
}

// Rejection explains why a candidate cannot serve a requirement. The caller
// may re-resolve excluding the candidate, or surface the reason.
type Rejection struct {
	Candidate entities.VersionEntry
	Reason    string
}

func (r *Rejection) String() string {
	return fmt.Sprintf("glibc %s (%s) rejected: %s", r.Candidate.Version, r.Candidate.Architecture, r.Reason)
}

// CompatibilityChecker verifies that a resolved candidate actually exports
// every symbol version the target binary references. The coarse version
// number alone is not enough: distributions diverge in which version nodes a
// given release ships.
type CompatibilityChecker struct {
	source ExportedVersionSource
}

// NewCompatibilityChecker creates a checker backed by the given version source
func NewCompatibilityChecker(source ExportedVersionSource) *CompatibilityChecker {
	return &CompatibilityChecker{source: source}
}

// Check returns nil when the candidate's exported version set covers every
// referenced version, a Rejection when it does not, and an error only when
// the candidate's library could not be inspected.
func (c *CompatibilityChecker) Check(candidate entities.VersionEntry, req entities.Requirement) (*Rejection, error) {
	exported, err := c.source.ExportedVersions(candidate.LibcPath)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", candidate.LibcPath, err)
	}
	if len(exported) == 0 {
		return &Rejection{Candidate: candidate, Reason: "library exports no symbol versions"}, nil
	}

	oldest := exported[0]
	for _, v := range exported[1:] {
		if v.LessThan(oldest) {
			oldest = v
		}
	}

	for _, ref := range req.ReferencedVersions {
		if containsVersion(exported, ref) {
			continue
		}
		// Version nodes older than the oldest shipped one are implied:
		// some builds prune ancient compat nodes.
		if ref.LessThan(oldest) {
			continue
		}
		return &Rejection{
			Candidate: candidate,
			Reason:    fmt.Sprintf("exported version set is missing GLIBC_%s", ref),
		}, nil
	}

	return nil, nil
}

func containsVersion(set []*version.Version, v *version.Version) bool {
	for _, s := range set {
		if s.Equal(v) {
			return true
		}
	}
	return false
}
