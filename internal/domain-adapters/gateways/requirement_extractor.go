package gateways

import (
	"debug/elf"
	"errors"
	"fmt"
	"sort"
	"strings"

	version "github.com/hashicorp/go-version"

	"github.com/GeekCmore/epwn/internal/domain/entities"
)

const glibcVersionPrefix = "GLIBC_"

// RequirementExtractor reads an executable's dynamic-linking metadata and
// computes the glibc requirement it was built against.
type RequirementExtractor struct{}

// NewRequirementExtractor creates a new requirement extractor
func NewRequirementExtractor() *RequirementExtractor {
	return &RequirementExtractor{}
}

// Extract produces the Requirement for the ELF file at path. A nil
// Requirement with a nil error means the binary has no versioned glibc
// dependency (statically linked, or glibc unused): there is nothing to
// patch. Non-ELF input, unsupported machines and binaries referencing glibc
// versions through more than one soname yield a FormatError.
func (x *RequirementExtractor) Extract(path string) (*entities.Requirement, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, &entities.FormatError{Path: path, Detail: fmt.Sprintf("not a supported ELF file: %v", err)}
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return nil, &entities.FormatError{Path: path, Detail: fmt.Sprintf("not an executable or shared object (type %v)", f.Type)}
	}

	arch := architectureOf(f.Machine)
	if arch == "" {
		return nil, &entities.FormatError{Path: path, Detail: fmt.Sprintf("unsupported machine %v", f.Machine)}
	}

	syms, err := f.ImportedSymbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return nil, nil
		}
		return nil, &entities.FormatError{Path: path, Detail: fmt.Sprintf("cannot read dynamic symbols: %v", err)}
	}

	// Collect the referenced GLIBC_x.y versions, tracking which sonames they
	// resolve through.
	seen := map[string]*version.Version{}
	libraries := map[string]bool{}
	for _, sym := range syms {
		if !strings.HasPrefix(sym.Version, glibcVersionPrefix) {
			continue
		}
		v, err := entities.ParseSymbolVersion(sym.Version)
		if err != nil {
			// GLIBC_PRIVATE and similar non-numeric version nodes carry no
			// ordering information.
			continue
		}
		seen[v.String()] = v
		if sym.Library != "" {
			libraries[sym.Library] = true
		}
	}

	if len(seen) == 0 {
		return nil, nil
	}
	if len(libraries) > 1 {
		names := make([]string, 0, len(libraries))
		for lib := range libraries {
			names = append(names, lib)
		}
		sort.Strings(names)
		return nil, &entities.FormatError{
			Path:   path,
			Detail: fmt.Sprintf("glibc versions referenced through multiple sonames (%s)", strings.Join(names, ", ")),
		}
	}

	req := &entities.Requirement{Architecture: arch}
	for _, v := range seen {
		req.ReferencedVersions = append(req.ReferencedVersions, v)
	}
	sort.Slice(req.ReferencedVersions, func(i, j int) bool {
		return req.ReferencedVersions[i].LessThan(req.ReferencedVersions[j])
	})
	req.MaxSymbolVersion = req.ReferencedVersions[len(req.ReferencedVersions)-1]

	return req, nil
}

// Interpreter returns the PT_INTERP path recorded in the ELF file at path,
// or "" when the binary requests no interpreter.
func (x *RequirementExtractor) Interpreter(path string) (string, error) {
	f, err := elf.Open(path)
	if err != nil {
		return "", &entities.FormatError{Path: path, Detail: fmt.Sprintf("not a supported ELF file: %v", err)}
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	return readInterpreter(f)
}

func readInterpreter(f *elf.File) (string, error) {
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_INTERP {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return "", fmt.Errorf("cannot read interpreter segment: %w", err)
		}
		return string(data[:cStringLen(data)]), nil
	}
	return "", nil
}

// cStringLen returns the length of the NUL-terminated string at the start of
// data, or len(data) when no terminator exists.
func cStringLen(data []byte) int {
	for i, b := range data {
		if b == 0 {
			return i
		}
	}
	return len(data)
}
