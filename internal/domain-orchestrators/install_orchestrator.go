// Package orchestrators coordinates the version management workflows across
// the catalog, the archive gateways and the patcher.
package orchestrators

import (
	"context"
	"fmt"
	"sort"

	"github.com/GeekCmore/epwn/internal/domain/entities"
	"github.com/GeekCmore/epwn/internal/domain/interfaces"
	gatewayif "github.com/GeekCmore/epwn/internal/domain/interfaces/gateways"
	"github.com/GeekCmore/epwn/internal/domain/interfaces/repositories"
)

// VersionRemover deletes the on-disk trees of an installed version.
type VersionRemover interface {
	RemoveVersion(version, arch string) error
}

// InstallOrchestrator manages the installed glibc set: installing versions
// from the archive, removing them, and pruning the store.
type InstallOrchestrator struct {
	repo         repositories.CatalogRepository
	materializer gatewayif.Materializer
	remover      VersionRemover
	log          interfaces.Logger
}

// NewInstallOrchestrator creates a new install orchestrator. A nil logger
// disables logging.
func NewInstallOrchestrator(
	repo repositories.CatalogRepository,
	materializer gatewayif.Materializer,
	remover VersionRemover,
	log interfaces.Logger,
) *InstallOrchestrator {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &InstallOrchestrator{
		repo:         repo,
		materializer: materializer,
		remover:      remover,
		log:          log,
	}
}

// Install downloads and catalogs one glibc version. Installing a version that
// is already usable is a no-op returning the existing entry.
func (o *InstallOrchestrator) Install(ctx context.Context, version, arch string, kinds []gatewayif.PackageKind) (entities.VersionEntry, error) {
	catalog, err := o.repo.Load(ctx)
	if err != nil {
		return entities.VersionEntry{}, err
	}
	if existing, ok := catalog.Find(version, arch); ok && existing.Usable() {
		o.log.Debug("already installed",
			interfaces.F("version", version),
			interfaces.F("arch", arch))
		return existing, nil
	}

	entry, err := o.materializer.Materialize(ctx, version, arch, kinds)
	if err != nil {
		return entities.VersionEntry{}, fmt.Errorf("install glibc %s (%s): %w", version, arch, err)
	}

	catalog.Upsert(entry)
	if err := o.repo.Replace(ctx, catalog); err != nil {
		return entities.VersionEntry{}, fmt.Errorf("update catalog: %w", err)
	}
	return entry, nil
}

// Uninstall removes one version from the catalog and deletes its trees.
func (o *InstallOrchestrator) Uninstall(ctx context.Context, version, arch string) error {
	catalog, err := o.repo.Load(ctx)
	if err != nil {
		return err
	}
	if !catalog.Remove(version, arch) {
		return fmt.Errorf("glibc %s (%s) is not installed", version, arch)
	}
	if err := o.repo.Replace(ctx, catalog); err != nil {
		return fmt.Errorf("update catalog: %w", err)
	}
	if o.remover != nil {
		if err := o.remover.RemoveVersion(version, arch); err != nil {
			return err
		}
	}
	o.log.Info("uninstalled glibc",
		interfaces.F("version", version),
		interfaces.F("arch", arch))
	return nil
}

// List returns the installed entries, optionally filtered by architecture,
// sorted by architecture then version.
func (o *InstallOrchestrator) List(ctx context.Context, arch string) ([]entities.VersionEntry, error) {
	catalog, err := o.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	entries := catalog.Entries
	if arch != "" {
		entries = catalog.ByArchitecture(arch)
	}
	sorted := make([]entities.VersionEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Architecture != sorted[j].Architecture {
			return sorted[i].Architecture < sorted[j].Architecture
		}
		return sorted[i].Version.Compare(sorted[j].Version) < 0
	})
	return sorted, nil
}

// Prune keeps the newest keep versions per architecture and uninstalls the
// rest, returning what was removed.
func (o *InstallOrchestrator) Prune(ctx context.Context, keep int) ([]entities.VersionEntry, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep count must not be negative")
	}
	catalog, err := o.repo.Load(ctx)
	if err != nil {
		return nil, err
	}

	byArch := map[string][]entities.VersionEntry{}
	for _, e := range catalog.Entries {
		byArch[e.Architecture] = append(byArch[e.Architecture], e)
	}

	var removed []entities.VersionEntry
	for _, entries := range byArch {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Version.Compare(entries[j].Version) > 0
		})
		if len(entries) <= keep {
			continue
		}
		removed = append(removed, entries[keep:]...)
	}

	for _, e := range removed {
		catalog.Remove(e.Version.Raw, e.Architecture)
	}
	if err := o.repo.Replace(ctx, catalog); err != nil {
		return nil, fmt.Errorf("update catalog: %w", err)
	}
	if o.remover != nil {
		for _, e := range removed {
			if err := o.remover.RemoveVersion(e.Version.Raw, e.Architecture); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}
