// Package services contains the pure domain logic for version resolution and
// compatibility checking.
package services

import (
	"github.com/GeekCmore/epwn/internal/domain/entities"
)

// Resolver matches an extracted requirement against the version catalog.
type Resolver struct{}

// NewResolver creates a new resolver
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve picks the installed entry for the requirement, or returns a
// NeedsFetch when none qualifies. Newer glibc releases are backward
// compatible with binaries built against older ones, so the smallest
// installed version >= the requirement's maximum symbol version is chosen to
// minimize behavioral drift. Ties on version are broken by the most recent
// InstalledAt. Entries in exclude (e.g. rejected by the compatibility
// checker) are skipped.
func (r *Resolver) Resolve(req entities.Requirement, catalog entities.VersionCatalog, exclude ...entities.VersionEntry) (*entities.VersionEntry, *entities.NeedsFetch) {
	var best *entities.VersionEntry

	for _, entry := range catalog.ByArchitecture(req.Architecture) {
		if !entry.Usable() || isExcluded(entry, exclude) {
			continue
		}
		if !entry.Version.Satisfies(req.MaxSymbolVersion) {
			continue
		}

		if best == nil {
			e := entry
			best = &e
			continue
		}
		switch entry.Version.Compare(best.Version) {
		case -1:
			e := entry
			best = &e
		case 0:
			if entry.InstalledAt.After(best.InstalledAt) {
				e := entry
				best = &e
			}
		}
	}

	if best == nil {
		return nil, &entities.NeedsFetch{Requirement: req}
	}
	return best, nil
}

func isExcluded(entry entities.VersionEntry, exclude []entities.VersionEntry) bool {
	for _, e := range exclude {
		if entry.Same(e) {
			return true
		}
	}
	return false
}
