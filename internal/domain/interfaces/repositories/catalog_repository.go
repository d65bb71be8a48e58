// Package repositories defines interfaces for data access layers.
package repositories

import (
	"context"

	"github.com/GeekCmore/epwn/internal/domain/entities"
)

// CatalogRepository persists the version catalog. Implementations must
// replace the persisted snapshot atomically so a concurrent reader never
// observes a half-written entry.
type CatalogRepository interface {
	// Load reads the current catalog snapshot. A missing snapshot yields an
	// empty catalog, not an error.
	Load(ctx context.Context) (entities.VersionCatalog, error)

	// Replace atomically replaces the persisted snapshot with the given
	// catalog, holding an exclusive lock for the duration of the mutation.
	Replace(ctx context.Context, catalog entities.VersionCatalog) error
}
