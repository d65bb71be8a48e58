package entities

import (
	"os"
	"path/filepath"
	"time"
)

// VersionEntry is one installed glibc version in the catalog. Entries are
// unique by (version, architecture). DebugPath and SourcePath are optional.
type VersionEntry struct {
	Version         GlibcVersion
	Architecture    string
	LibcPath        string
	InterpreterPath string
	DebugPath       string
	SourcePath      string
	InstalledAt     time.Time
}

// Usable reports whether the entry's required backing files still exist on
// disk. Entries with missing files are skipped by the resolver; they are
// never repaired implicitly.
func (e VersionEntry) Usable() bool {
	if e.LibcPath == "" || e.InterpreterPath == "" {
		return false
	}
	if _, err := os.Stat(e.LibcPath); err != nil {
		return false
	}
	if _, err := os.Stat(e.InterpreterPath); err != nil {
		return false
	}
	return true
}

// LibraryDir is the directory the dynamic loader must search to find this
// entry's libc.
func (e VersionEntry) LibraryDir() string {
	return filepath.Dir(e.LibcPath)
}

// Same reports whether two entries identify the same installed version.
func (e VersionEntry) Same(o VersionEntry) bool {
	return e.Architecture == o.Architecture && e.Version.Raw == o.Version.Raw
}

// VersionCatalog is the collection of installed glibc versions. It is a plain
// value: the resolver consults it read-only, and persistence is handled by an
// injected store with atomic snapshot-replace semantics.
type VersionCatalog struct {
	Entries []VersionEntry
}

// ByArchitecture returns the entries matching arch, preserving order.
func (c VersionCatalog) ByArchitecture(arch string) []VersionEntry {
	var out []VersionEntry
	for _, e := range c.Entries {
		if e.Architecture == arch {
			out = append(out, e)
		}
	}
	return out
}

// Find returns the entry for an exact (version, architecture) pair.
func (c VersionCatalog) Find(rawVersion, arch string) (VersionEntry, bool) {
	for _, e := range c.Entries {
		if e.Architecture == arch && e.Version.Raw == rawVersion {
			return e, true
		}
	}
	return VersionEntry{}, false
}

// Upsert inserts the entry, replacing any existing entry with the same
// (version, architecture) pair.
func (c *VersionCatalog) Upsert(entry VersionEntry) {
	for i, e := range c.Entries {
		if e.Same(entry) {
			c.Entries[i] = entry
			return
		}
	}
	c.Entries = append(c.Entries, entry)
}

// Remove deletes the entry for the (version, architecture) pair and reports
// whether anything was removed.
func (c *VersionCatalog) Remove(rawVersion, arch string) bool {
	for i, e := range c.Entries {
		if e.Architecture == arch && e.Version.Raw == rawVersion {
			c.Entries = append(c.Entries[:i], c.Entries[i+1:]...)
			return true
		}
	}
	return false
}
