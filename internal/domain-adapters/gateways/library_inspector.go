package gateways

import (
	"debug/elf"
	"fmt"
	"sort"
	"strings"

	version "github.com/hashicorp/go-version"

	"github.com/GeekCmore/epwn/internal/domain/entities"
)

// LibraryInspector reads the symbol-version definition set a shared library
// exports. The resolver's coarse version match is not enough on its own:
// distributions diverge in which GLIBC_x.y nodes a given release ships, so
// the compatibility checker consults this set directly.
type LibraryInspector struct{}

// NewLibraryInspector creates a new library inspector
func NewLibraryInspector() *LibraryInspector {
	return &LibraryInspector{}
}

// ExportedVersions returns the sorted, de-duplicated GLIBC_x.y versions
// defined by the library at libcPath. The version-definition section is
// authoritative; libraries without one fall back to a dynamic string table
// scan.
func (li *LibraryInspector) ExportedVersions(libcPath string) ([]*version.Version, error) {
	f, err := elf.Open(libcPath)
	if err != nil {
		return nil, &entities.FormatError{Path: libcPath, Detail: fmt.Sprintf("not a supported ELF file: %v", err)}
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	names, err := versionDefinitionNames(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", libcPath, err)
	}
	if names == nil {
		names, err = dynstrVersionNames(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", libcPath, err)
		}
	}

	seen := map[string]*version.Version{}
	for _, name := range names {
		if !strings.HasPrefix(name, glibcVersionPrefix) {
			continue
		}
		v, err := entities.ParseSymbolVersion(name)
		if err != nil {
			// GLIBC_PRIVATE and friends.
			continue
		}
		seen[v.String()] = v
	}

	out := make([]*version.Version, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })
	return out, nil
}

// versionDefinitionNames walks the SHT_GNU_verdef section and returns every
// defined version name. Returns nil with no error when the section is
// absent.
func versionDefinitionNames(f *elf.File) ([]string, error) {
	verdef := f.SectionByType(elf.SHT_GNU_VERDEF)
	if verdef == nil {
		return nil, nil
	}
	data, err := verdef.Data()
	if err != nil {
		return nil, fmt.Errorf("cannot read version definitions: %w", err)
	}
	if int(verdef.Link) >= len(f.Sections) {
		return nil, fmt.Errorf("version definition string table link %d out of range", verdef.Link)
	}
	strtab, err := f.Sections[verdef.Link].Data()
	if err != nil {
		return nil, fmt.Errorf("cannot read version definition strings: %w", err)
	}

	// Verdef records: vd_version, vd_flags, vd_ndx, vd_cnt (u16 each),
	// vd_hash, vd_aux, vd_next (u32 each). Aux records: vda_name, vda_next.
	// All offsets are relative to the record they appear in.
	var names []string
	order := f.ByteOrder
	for off := 0; ; {
		if off < 0 || off+20 > len(data) {
			return nil, fmt.Errorf("version definition record at %#x out of bounds", off)
		}
		count := int(order.Uint16(data[off+6 : off+8]))
		aux := int(order.Uint32(data[off+8+4 : off+16]))
		next := int(order.Uint32(data[off+16 : off+20]))

		auxOff := off + aux
		for i := 0; i < count; i++ {
			if auxOff < 0 || auxOff+8 > len(data) {
				return nil, fmt.Errorf("version definition aux record at %#x out of bounds", auxOff)
			}
			nameOff := int(order.Uint32(data[auxOff : auxOff+4]))
			if nameOff >= len(strtab) {
				return nil, fmt.Errorf("version definition name offset %#x out of bounds", nameOff)
			}
			name := string(strtab[nameOff : nameOff+cStringLen(strtab[nameOff:])])
			// The first aux of each record is the version name itself;
			// later ones are predecessor references already covered by
			// their own records.
			if i == 0 {
				names = append(names, name)
			}
			auxNext := int(order.Uint32(data[auxOff+4 : auxOff+8]))
			if auxNext == 0 {
				break
			}
			auxOff += auxNext
		}

		if next == 0 {
			break
		}
		off += next
	}
	return names, nil
}

// dynstrVersionNames scans the dynamic string table for GLIBC_ version
// strings. Coarser than the definition section but serviceable for stripped
// or unusual builds.
func dynstrVersionNames(f *elf.File) ([]string, error) {
	dynstr := f.Section(".dynstr")
	if dynstr == nil {
		return nil, fmt.Errorf("no dynamic string table")
	}
	data, err := dynstr.Data()
	if err != nil {
		return nil, fmt.Errorf("cannot read dynamic string table: %w", err)
	}

	var names []string
	for off := 0; off < len(data); {
		end := off + cStringLen(data[off:])
		if end > off {
			names = append(names, string(data[off:end]))
		}
		off = end + 1
	}
	return names, nil
}
