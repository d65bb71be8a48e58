package entities

import (
	version "github.com/hashicorp/go-version"
)

// Requirement is the glibc requirement extracted from one target ELF:
// the architecture it was built for, every GLIBC_x.y symbol version it
// references, and the maximum of that set. It is ephemeral, computed per
// patch invocation.
type Requirement struct {
	Architecture       string
	MaxSymbolVersion   *version.Version
	ReferencedVersions []*version.Version
}

// References reports whether the requirement's referenced set contains v.
func (r Requirement) References(v *version.Version) bool {
	for _, ref := range r.ReferencedVersions {
		if ref.Equal(v) {
			return true
		}
	}
	return false
}

// NeedsFetch is the resolver outcome when no installed version satisfies the
// requirement. It is a terminal result handed back to the caller for the
// external download pipeline; the resolver never fetches anything itself.
type NeedsFetch struct {
	Requirement Requirement
}
