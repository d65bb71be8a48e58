package gateways

import (
	"bytes"
	"debug/elf"
	"fmt"
)

// Dynamic tags the patcher manipulates.
const (
	tagNull    = int64(elf.DT_NULL)
	tagRPath   = int64(elf.DT_RPATH)
	tagRunPath = int64(elf.DT_RUNPATH)
)

// elfView is a parsed, bounds-checked view over a raw ELF image. All byte
// patching goes through this view; its capacity checks are the single source
// of the fixed-size-field rejections.
type elfView struct {
	file *elf.File
	data []byte
}

// dynEntry is one dynamic-section record with its location in the image.
type dynEntry struct {
	index int
	tag   int64
	val   uint64
	off   int
}

// parseView parses data as an ELF image. The returned view keeps data and
// mutates it in place through the write methods.
func parseView(data []byte) (*elfView, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("not a supported ELF file: %w", err)
	}
	return &elfView{file: f, data: data}, nil
}

// interpreterSlot locates the PT_INTERP segment: the byte offset of the
// interpreter path string and the allocated size of the slot, which cannot
// grow without restructuring the file.
func (v *elfView) interpreterSlot() (off, size int, ok bool) {
	for _, prog := range v.file.Progs {
		if prog.Type != elf.PT_INTERP {
			continue
		}
		off = int(prog.Off)
		size = int(prog.Filesz)
		if off < 0 || size <= 0 || off+size > len(v.data) {
			return 0, 0, false
		}
		return off, size, true
	}
	return 0, 0, false
}

// interpreter reads the current interpreter path, or "" when the binary
// requests none.
func (v *elfView) interpreter() string {
	off, size, ok := v.interpreterSlot()
	if !ok {
		return ""
	}
	slot := v.data[off : off+size]
	return string(slot[:cStringLen(slot)])
}

func (v *elfView) dynEntrySize() int {
	if v.file.Class == elf.ELFCLASS64 {
		return 16
	}
	return 8
}

// dynamicEntries parses the dynamic section records, including DT_NULL
// padding slots after the terminator.
func (v *elfView) dynamicEntries() ([]dynEntry, error) {
	sec := v.file.SectionByType(elf.SHT_DYNAMIC)
	if sec == nil {
		return nil, fmt.Errorf("no dynamic section")
	}
	off := int(sec.Offset)
	size := int(sec.Size)
	entSize := v.dynEntrySize()
	if off < 0 || size < 0 || off+size > len(v.data) {
		return nil, fmt.Errorf("dynamic section out of bounds")
	}

	order := v.file.ByteOrder
	var entries []dynEntry
	for i := 0; (i+1)*entSize <= size; i++ {
		entOff := off + i*entSize
		var tag int64
		var val uint64
		if v.file.Class == elf.ELFCLASS64 {
			tag = int64(order.Uint64(v.data[entOff : entOff+8]))
			val = order.Uint64(v.data[entOff+8 : entOff+16])
		} else {
			tag = int64(int32(order.Uint32(v.data[entOff : entOff+4])))
			val = uint64(order.Uint32(v.data[entOff+4 : entOff+8]))
		}
		entries = append(entries, dynEntry{index: i, tag: tag, val: val, off: entOff})
	}
	return entries, nil
}

// setDynEntry rewrites one dynamic-section record in place.
func (v *elfView) setDynEntry(entry dynEntry, tag int64, val uint64) error {
	entSize := v.dynEntrySize()
	if entry.off < 0 || entry.off+entSize > len(v.data) {
		return fmt.Errorf("dynamic entry %d out of bounds", entry.index)
	}
	order := v.file.ByteOrder
	if v.file.Class == elf.ELFCLASS64 {
		order.PutUint64(v.data[entry.off:entry.off+8], uint64(tag))
		order.PutUint64(v.data[entry.off+8:entry.off+16], val)
	} else {
		order.PutUint32(v.data[entry.off:entry.off+4], uint32(tag))
		order.PutUint32(v.data[entry.off+4:entry.off+8], uint32(val))
	}
	return nil
}

// searchPathEntry returns the DT_RUNPATH record, falling back to DT_RPATH.
func (v *elfView) searchPathEntry() (dynEntry, bool, error) {
	entries, err := v.dynamicEntries()
	if err != nil {
		return dynEntry{}, false, err
	}
	var rpath *dynEntry
	for i, e := range entries {
		switch e.tag {
		case tagRunPath:
			return e, true, nil
		case tagRPath:
			if rpath == nil {
				rpath = &entries[i]
			}
		case tagNull:
			// Terminator: nothing relevant beyond it.
			if rpath != nil {
				return *rpath, true, nil
			}
			return dynEntry{}, false, nil
		}
	}
	if rpath != nil {
		return *rpath, true, nil
	}
	return dynEntry{}, false, nil
}

// spareDynSlot returns a DT_NULL padding record after the terminator that a
// new entry can occupy, keeping at least one terminator in place.
func (v *elfView) spareDynSlot() (dynEntry, bool, error) {
	entries, err := v.dynamicEntries()
	if err != nil {
		return dynEntry{}, false, err
	}
	for i, e := range entries {
		if e.tag == tagNull {
			// The slot before the final record is usable: the section still
			// ends with a DT_NULL.
			if i+1 < len(entries) && entries[len(entries)-1].tag == tagNull {
				return e, true, nil
			}
			return dynEntry{}, false, nil
		}
	}
	return dynEntry{}, false, nil
}

// dynstrBounds returns the file-offset range of the dynamic string table.
func (v *elfView) dynstrBounds() (off, size int, err error) {
	sec := v.file.Section(".dynstr")
	if sec == nil {
		return 0, 0, fmt.Errorf("no dynamic string table")
	}
	off = int(sec.Offset)
	size = int(sec.Size)
	if off < 0 || size <= 0 || off+size > len(v.data) {
		return 0, 0, fmt.Errorf("dynamic string table out of bounds")
	}
	return off, size, nil
}

// dynString reads the NUL-terminated string at strOff within the dynamic
// string table.
func (v *elfView) dynString(strOff int) (string, error) {
	off, size, err := v.dynstrBounds()
	if err != nil {
		return "", err
	}
	if strOff < 0 || strOff >= size {
		return "", fmt.Errorf("string offset %#x outside dynamic string table", strOff)
	}
	tab := v.data[off : off+size]
	return string(tab[strOff : strOff+cStringLen(tab[strOff:])]), nil
}

// dynstrSlack returns the offset (within the string table) and length of the
// unused zero-padded tail following the last string's terminator.
func (v *elfView) dynstrSlack() (slackOff, slackLen int, err error) {
	off, size, err := v.dynstrBounds()
	if err != nil {
		return 0, 0, err
	}
	tab := v.data[off : off+size]
	end := size
	for end > 0 && tab[end-1] == 0 {
		end--
	}
	// tab[end] is the last string's own terminator; slack begins after it.
	slackOff = end + 1
	if slackOff >= size {
		return size, 0, nil
	}
	return slackOff, size - slackOff, nil
}

// writeCString writes s with its NUL terminator into the fixed-size slot at
// off, zero-filling the remainder. It reports false, touching nothing, when
// the encoded length exceeds the slot: this check is the sole authority for
// the path-too-long and no-slot rejections.
func (v *elfView) writeCString(off, capacity int, s string) bool {
	if len(s)+1 > capacity {
		return false
	}
	if off < 0 || off+capacity > len(v.data) {
		return false
	}
	slot := v.data[off : off+capacity]
	copy(slot, s)
	for i := len(s); i < capacity; i++ {
		slot[i] = 0
	}
	return true
}
