// Package gateways defines interfaces for external service adapters.
package gateways

import (
	"context"
	"errors"

	"github.com/GeekCmore/epwn/internal/domain/entities"
)

// ErrNotAvailable reports that the upstream archive has no build for the
// requested version and architecture.
var ErrNotAvailable = errors.New("package not available")

// PackageKind is the closed set of glibc package variants the download
// pipeline understands.
type PackageKind string

const (
	// PackageLibc is the runtime package (libc.so.6 and the loader).
	PackageLibc PackageKind = "libc6"
	// PackageDebug carries detached debug symbols.
	PackageDebug PackageKind = "libc6-dbg"
	// PackageSource carries the glibc source tree.
	PackageSource PackageKind = "glibc-source"
)

// AllPackageKinds lists every supported kind in a stable order.
func AllPackageKinds() []PackageKind {
	return []PackageKind{PackageLibc, PackageDebug, PackageSource}
}

// ValidPackageKind reports whether s names a supported package kind.
func ValidPackageKind(s string) bool {
	switch PackageKind(s) {
	case PackageLibc, PackageDebug, PackageSource:
		return true
	}
	return false
}

// PackageFile is one downloadable package file discovered by the index.
type PackageFile struct {
	Kind PackageKind
	URL  string
}

// PackageIndex locates download URLs for a glibc version and architecture
// from the upstream package archive.
type PackageIndex interface {
	// Lookup returns the downloadable files for the requested kinds.
	Lookup(ctx context.Context, version, arch string, kinds []PackageKind) ([]PackageFile, error)

	// Versions enumerates the versions published for an architecture,
	// optionally filtered by version prefix.
	Versions(ctx context.Context, arch, prefix string) ([]string, error)
}

// Materializer turns a (version, architecture) pair into an installed
// VersionEntry by driving the download and extraction pipeline. It fails with
// ErrNotAvailable when the archive has no such build.
type Materializer interface {
	Materialize(ctx context.Context, version, arch string, kinds []PackageKind) (entities.VersionEntry, error)
}

// SignatureVerifier verifies detached signatures over downloaded files.
type SignatureVerifier interface {
	VerifyFile(filePath, sigPath string) error
}
