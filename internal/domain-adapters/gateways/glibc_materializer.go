package gateways

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/GeekCmore/epwn/internal/domain/entities"
	"github.com/GeekCmore/epwn/internal/domain/interfaces"
	gatewayif "github.com/GeekCmore/epwn/internal/domain/interfaces/gateways"
)

// GlibcMaterializer turns a (version, architecture) pair into an installed
// version entry: it looks up the archive publications, downloads the package
// files, optionally verifies signatures, and extracts the trees under the
// store root.
//
// Store layout:
//
//	<root>/cache/<version>_<arch>/        downloaded .deb files
//	<root>/libs/<version>/<arch>/         runtime tree (libc, loader)
//	<root>/debug/<version>/<arch>/        detached debug symbols
//	<root>/source/<version>/<arch>/       source package tree
type GlibcMaterializer struct {
	index      gatewayif.PackageIndex
	downloader *Downloader
	extractor  *DebExtractor
	rootDir    string
	log        interfaces.Logger
}

// NewGlibcMaterializer creates a new materializer rooted at rootDir.
func NewGlibcMaterializer(index gatewayif.PackageIndex, downloader *Downloader, extractor *DebExtractor, rootDir string, log interfaces.Logger) *GlibcMaterializer {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &GlibcMaterializer{
		index:      index,
		downloader: downloader,
		extractor:  extractor,
		rootDir:    rootDir,
		log:        log,
	}
}

// Materialize downloads and installs the requested package kinds and returns
// the resulting catalog entry. ErrNotAvailable passes through from the index
// when the archive has no such build.
func (m *GlibcMaterializer) Materialize(ctx context.Context, version, arch string, kinds []gatewayif.PackageKind) (entities.VersionEntry, error) {
	parsed, err := entities.ParseGlibcVersion(version)
	if err != nil {
		return entities.VersionEntry{}, err
	}

	files, err := m.index.Lookup(ctx, version, arch, kinds)
	if err != nil {
		return entities.VersionEntry{}, err
	}

	cacheDir := filepath.Join(m.rootDir, "cache", version+"_"+arch)
	debs, err := m.downloader.Fetch(ctx, files, cacheDir)
	if err != nil {
		return entities.VersionEntry{}, err
	}

	libcDeb, ok := debs[gatewayif.PackageLibc]
	if !ok {
		return entities.VersionEntry{}, gatewayif.ErrNotAvailable
	}

	libDir := filepath.Join(m.rootDir, "libs", version, arch)
	if err := m.extractor.Extract(libcDeb, libDir); err != nil {
		return entities.VersionEntry{}, err
	}
	libcPath, interpPath, err := LocateGlibc(libDir)
	if err != nil {
		return entities.VersionEntry{}, err
	}

	entry := entities.VersionEntry{
		Version:         parsed,
		Architecture:    arch,
		LibcPath:        libcPath,
		InterpreterPath: interpPath,
		InstalledAt:     time.Now(),
	}

	if debugDeb, ok := debs[gatewayif.PackageDebug]; ok {
		dbgDir := filepath.Join(m.rootDir, "debug", version, arch)
		if err := m.extractor.Extract(debugDeb, dbgDir); err != nil {
			return entities.VersionEntry{}, err
		}
		entry.DebugPath = debugRoot(dbgDir)
	}
	if sourceDeb, ok := debs[gatewayif.PackageSource]; ok {
		srcDir := filepath.Join(m.rootDir, "source", version, arch)
		if err := m.extractor.Extract(sourceDeb, srcDir); err != nil {
			return entities.VersionEntry{}, err
		}
		entry.SourcePath = srcDir
	}

	m.log.Info("installed glibc",
		interfaces.F("version", version),
		interfaces.F("arch", arch),
		interfaces.F("libc", libcPath))
	return entry, nil
}

// RemoveVersion deletes every tree the materializer created for the version.
func (m *GlibcMaterializer) RemoveVersion(version, arch string) error {
	var firstErr error
	for _, dir := range []string{
		filepath.Join(m.rootDir, "cache", version+"_"+arch),
		filepath.Join(m.rootDir, "libs", version, arch),
		filepath.Join(m.rootDir, "debug", version, arch),
		filepath.Join(m.rootDir, "source", version, arch),
	} {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", dir, err)
		}
	}
	return firstErr
}

// debugRoot returns the conventional detached-symbols directory inside an
// extracted libc6-dbg tree, falling back to the tree itself.
func debugRoot(dbgDir string) string {
	conventional := filepath.Join(dbgDir, "usr", "lib", "debug")
	if _, err := os.Stat(conventional); err == nil {
		return conventional
	}
	return dbgDir
}
