package yaml

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
	goyaml "gopkg.in/yaml.v3"

	"github.com/GeekCmore/epwn/internal/domain/entities"
)

// CatalogStore persists the version catalog as a YAML snapshot. Replace
// serializes writers with an advisory file lock and swaps the snapshot in
// with a same-directory rename, so readers always observe a complete file.
type CatalogStore struct {
	path string
}

// NewCatalogStore creates a catalog store backed by the YAML file at path.
func NewCatalogStore(path string) *CatalogStore {
	return &CatalogStore{path: path}
}

// catalogDoc is the persisted document shape.
type catalogDoc struct {
	Entries []catalogEntryDoc `yaml:"entries"`
}

type catalogEntryDoc struct {
	Version         string    `yaml:"version"`
	Architecture    string    `yaml:"architecture"`
	LibcPath        string    `yaml:"libc_path"`
	InterpreterPath string    `yaml:"interpreter_path"`
	DebugPath       string    `yaml:"debug_path,omitempty"`
	SourcePath      string    `yaml:"source_path,omitempty"`
	InstalledAt     time.Time `yaml:"installed_at"`
}

// Load reads the current catalog snapshot. A missing file yields an empty
// catalog.
func (s *CatalogStore) Load(ctx context.Context) (entities.VersionCatalog, error) {
	if err := ctx.Err(); err != nil {
		return entities.VersionCatalog{}, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return entities.VersionCatalog{}, nil
		}
		return entities.VersionCatalog{}, fmt.Errorf("failed to read catalog: %w", err)
	}

	var doc catalogDoc
	if err := goyaml.Unmarshal(data, &doc); err != nil {
		return entities.VersionCatalog{}, fmt.Errorf("failed to parse catalog %s: %w", s.path, err)
	}

	var catalog entities.VersionCatalog
	for _, e := range doc.Entries {
		v, err := entities.ParseGlibcVersion(e.Version)
		if err != nil {
			return entities.VersionCatalog{}, fmt.Errorf("catalog entry %s/%s: %w", e.Version, e.Architecture, err)
		}
		catalog.Entries = append(catalog.Entries, entities.VersionEntry{
			Version:         v,
			Architecture:    e.Architecture,
			LibcPath:        e.LibcPath,
			InterpreterPath: e.InterpreterPath,
			DebugPath:       e.DebugPath,
			SourcePath:      e.SourcePath,
			InstalledAt:     e.InstalledAt,
		})
	}
	return catalog, nil
}

// Replace atomically replaces the snapshot with the given catalog.
func (s *CatalogStore) Replace(ctx context.Context, catalog entities.VersionCatalog) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := catalogDoc{Entries: make([]catalogEntryDoc, 0, len(catalog.Entries))}
	for _, e := range catalog.Entries {
		doc.Entries = append(doc.Entries, catalogEntryDoc{
			Version:         e.Version.Raw,
			Architecture:    e.Architecture,
			LibcPath:        e.LibcPath,
			InterpreterPath: e.InterpreterPath,
			DebugPath:       e.DebugPath,
			SourcePath:      e.SourcePath,
			InstalledAt:     e.InstalledAt,
		})
	}
	data, err := goyaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}

	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create catalog temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close catalog: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace catalog: %w", err)
	}
	return nil
}

// lock takes an exclusive advisory lock on the catalog's lock file, blocking
// until it is available.
func (s *CatalogStore) lock() (func(), error) {
	f, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to lock catalog: %w", err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
