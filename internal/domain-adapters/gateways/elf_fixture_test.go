package gateways

import (
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// libNeed declares one versioned library dependency of a fixture binary.
type libNeed struct {
	name     string
	versions []string
}

// elfImage describes a synthetic ELF64 little-endian binary. The builder
// produces a minimal but structurally valid dynamic executable: program
// headers (PT_LOAD, PT_INTERP, PT_DYNAMIC), dynamic symbols with GNU symbol
// versioning, a dynamic section and a section header table.
type elfImage struct {
	machine     elf.Machine
	etype       elf.Type
	interp      string
	interpAlloc int // allocated PT_INTERP bytes; 0 means len(interp)+1
	needs       []libNeed
	runpath     string // existing DT_RUNPATH string, "" for none
	spareSlots  int    // DT_NULL padding records after the terminator
	strSlack    int    // unused zero bytes at the end of .dynstr
}

const (
	fixtureEhdrSize = 64
	fixturePhdrSize = 56
	fixtureShdrSize = 64
	fixtureSymSize  = 24
	fixtureDynSize  = 16
)

// build produces the raw image bytes.
func (img elfImage) build(t *testing.T) []byte {
	t.Helper()

	if img.machine == elf.EM_NONE {
		img.machine = elf.EM_X86_64
	}
	if img.etype == elf.ET_NONE {
		img.etype = elf.ET_EXEC
	}
	if img.interp == "" {
		img.interp = "/lib64/ld-linux-x86-64.so.2"
	}
	if img.interpAlloc == 0 {
		img.interpAlloc = len(img.interp) + 1
	}
	if img.interpAlloc < len(img.interp)+1 {
		t.Fatalf("interpAlloc %d cannot hold interpreter %q", img.interpAlloc, img.interp)
	}

	// Dynamic string table: library names, symbol names, version strings,
	// optional runpath, then slack.
	var dynstr []byte
	dynstr = append(dynstr, 0)
	addStr := func(s string) uint32 {
		off := uint32(len(dynstr))
		dynstr = append(dynstr, s...)
		dynstr = append(dynstr, 0)
		return off
	}

	libOffs := make([]uint32, len(img.needs))
	verOffs := make([][]uint32, len(img.needs))
	var symNameOffs []uint32
	for i, need := range img.needs {
		libOffs[i] = addStr(need.name)
		verOffs[i] = make([]uint32, len(need.versions))
		for j, v := range need.versions {
			symNameOffs = append(symNameOffs, addStr("sym_"+v))
			verOffs[i][j] = addStr(v)
		}
	}
	runpathOff := uint32(0)
	if img.runpath != "" {
		runpathOff = addStr(img.runpath)
	}
	for i := 0; i < img.strSlack; i++ {
		dynstr = append(dynstr, 0)
	}

	totalVers := len(symNameOffs)
	nsyms := 1 + totalVers

	// Section header string table.
	var shstr []byte
	shstr = append(shstr, 0)
	shName := func(s string) uint32 {
		off := uint32(len(shstr))
		shstr = append(shstr, s...)
		shstr = append(shstr, 0)
		return off
	}
	nameDynsym := shName(".dynsym")
	nameDynstr := shName(".dynstr")
	nameVersym := shName(".gnu.version")
	nameVerneed := shName(".gnu.version_r")
	nameDynamic := shName(".dynamic")
	nameShstrtab := shName(".shstrtab")

	align8 := func(n int) int { return (n + 7) &^ 7 }

	phnum := 3
	interpOff := fixtureEhdrSize + phnum*fixturePhdrSize
	dynstrOff := align8(interpOff + img.interpAlloc)
	dynsymOff := align8(dynstrOff + len(dynstr))
	dynsymSize := nsyms * fixtureSymSize
	versymOff := align8(dynsymOff + dynsymSize)
	versymSize := nsyms * 2
	verneedOff := align8(versymOff + versymSize)
	verneedSize := 0
	for _, need := range img.needs {
		verneedSize += 16 + 16*len(need.versions)
	}
	dynOff := align8(verneedOff + verneedSize)
	ndyn := len(img.needs) + 2 /* DT_STRTAB, DT_SYMTAB */ + 1 /* DT_DEBUG */ + 1 /* DT_NULL */ + img.spareSlots
	if img.runpath != "" {
		ndyn++
	}
	dynSize := ndyn * fixtureDynSize
	shstrOff := align8(dynOff + dynSize)
	shoff := align8(shstrOff + len(shstr))
	shnum := 7
	total := shoff + shnum*fixtureShdrSize

	buf := make([]byte, total)
	le := binary.LittleEndian

	// ELF header.
	copy(buf, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le.PutUint16(buf[16:], uint16(img.etype))
	le.PutUint16(buf[18:], uint16(img.machine))
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[24:], 0x1000)              // e_entry
	le.PutUint64(buf[32:], fixtureEhdrSize)     // e_phoff
	le.PutUint64(buf[40:], uint64(shoff))       // e_shoff
	le.PutUint16(buf[52:], fixtureEhdrSize)     // e_ehsize
	le.PutUint16(buf[54:], fixturePhdrSize)     // e_phentsize
	le.PutUint16(buf[56:], uint16(phnum))       // e_phnum
	le.PutUint16(buf[58:], fixtureShdrSize)     // e_shentsize
	le.PutUint16(buf[60:], uint16(shnum))       // e_shnum
	le.PutUint16(buf[62:], 6)                   // e_shstrndx

	phdr := func(i int, ptype elf.ProgType, flags elf.ProgFlag, off, size int) {
		base := fixtureEhdrSize + i*fixturePhdrSize
		le.PutUint32(buf[base:], uint32(ptype))
		le.PutUint32(buf[base+4:], uint32(flags))
		le.PutUint64(buf[base+8:], uint64(off))  // p_offset
		le.PutUint64(buf[base+16:], uint64(off)) // p_vaddr
		le.PutUint64(buf[base+24:], uint64(off)) // p_paddr
		le.PutUint64(buf[base+32:], uint64(size))
		le.PutUint64(buf[base+40:], uint64(size))
		le.PutUint64(buf[base+48:], 1)
	}
	phdr(0, elf.PT_LOAD, elf.PF_R|elf.PF_X, 0, total)
	phdr(1, elf.PT_INTERP, elf.PF_R, interpOff, img.interpAlloc)
	phdr(2, elf.PT_DYNAMIC, elf.PF_R|elf.PF_W, dynOff, dynSize)

	// Interpreter slot, NUL padded to its allocated size.
	copy(buf[interpOff:], img.interp)

	copy(buf[dynstrOff:], dynstr)

	// Dynamic symbols: the null symbol, then one undefined global function
	// per referenced version.
	verIndex := uint16(2)
	versym := make([]uint16, nsyms)
	symIdx := 1
	for i := range img.needs {
		for range img.needs[i].versions {
			base := dynsymOff + symIdx*fixtureSymSize
			le.PutUint32(buf[base:], symNameOffs[symIdx-1])
			buf[base+4] = byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_FUNC)
			// st_shndx stays SHN_UNDEF, value and size stay zero.
			versym[symIdx] = verIndex
			verIndex++
			symIdx++
		}
	}
	for i, v := range versym {
		le.PutUint16(buf[versymOff+i*2:], v)
	}

	// Version requirements, one verneed record per library.
	vnOff := verneedOff
	verIndex = 2
	for i, need := range img.needs {
		cnt := len(need.versions)
		le.PutUint16(buf[vnOff:], 1) // vn_version
		le.PutUint16(buf[vnOff+2:], uint16(cnt))
		le.PutUint32(buf[vnOff+4:], libOffs[i]) // vn_file
		le.PutUint32(buf[vnOff+8:], 16)         // vn_aux
		next := 16 + 16*cnt
		if i == len(img.needs)-1 {
			next = 0
		}
		le.PutUint32(buf[vnOff+12:], uint32(next))

		auxOff := vnOff + 16
		for j := range need.versions {
			le.PutUint16(buf[auxOff+6:], verIndex)       // vna_other
			le.PutUint32(buf[auxOff+8:], verOffs[i][j])  // vna_name
			auxNext := 16
			if j == cnt-1 {
				auxNext = 0
			}
			le.PutUint32(buf[auxOff+12:], uint32(auxNext))
			verIndex++
			auxOff += 16
		}
		vnOff += 16 + 16*cnt
	}

	// Dynamic section.
	dent := 0
	putDyn := func(tag int64, val uint64) {
		base := dynOff + dent*fixtureDynSize
		le.PutUint64(buf[base:], uint64(tag))
		le.PutUint64(buf[base+8:], val)
		dent++
	}
	for i := range img.needs {
		putDyn(int64(elf.DT_NEEDED), uint64(libOffs[i]))
	}
	putDyn(int64(elf.DT_STRTAB), uint64(dynstrOff))
	putDyn(int64(elf.DT_SYMTAB), uint64(dynsymOff))
	if img.runpath != "" {
		putDyn(int64(elf.DT_RUNPATH), uint64(runpathOff))
	}
	putDyn(int64(elf.DT_DEBUG), 0)
	putDyn(int64(elf.DT_NULL), 0)
	for i := 0; i < img.spareSlots; i++ {
		putDyn(int64(elf.DT_NULL), 0)
	}

	copy(buf[shstrOff:], shstr)

	shdr := func(i int, name uint32, stype elf.SectionType, off, size, link, info, entsize int) {
		base := shoff + i*fixtureShdrSize
		le.PutUint32(buf[base:], name)
		le.PutUint32(buf[base+4:], uint32(stype))
		le.PutUint64(buf[base+8:], uint64(elf.SHF_ALLOC))
		le.PutUint64(buf[base+16:], uint64(off)) // sh_addr
		le.PutUint64(buf[base+24:], uint64(off)) // sh_offset
		le.PutUint64(buf[base+32:], uint64(size))
		le.PutUint32(buf[base+40:], uint32(link))
		le.PutUint32(buf[base+44:], uint32(info))
		le.PutUint64(buf[base+48:], 1)
		le.PutUint64(buf[base+56:], uint64(entsize))
	}
	shdr(1, nameDynsym, elf.SHT_DYNSYM, dynsymOff, dynsymSize, 2, 1, fixtureSymSize)
	shdr(2, nameDynstr, elf.SHT_STRTAB, dynstrOff, len(dynstr), 0, 0, 0)
	shdr(3, nameVersym, elf.SHT_GNU_VERSYM, versymOff, versymSize, 1, 0, 2)
	shdr(4, nameVerneed, elf.SHT_GNU_VERNEED, verneedOff, verneedSize, 2, len(img.needs), 0)
	shdr(5, nameDynamic, elf.SHT_DYNAMIC, dynOff, dynSize, 2, 0, fixtureDynSize)
	shdr(6, nameShstrtab, elf.SHT_STRTAB, shstrOff, len(shstr), 0, 0, 0)

	return buf
}

// write materializes the image into dir and returns its path.
func (img elfImage) write(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, img.build(t), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// libImage describes a synthetic shared library exporting symbol-version
// definitions (a stand-in libc.so.6 for inspector and checker tests).
type libImage struct {
	soname   string
	defines  []string // version definition names, e.g. GLIBC_2.27
	noVerdef bool     // emit only the string table, no verdef section
}

// build produces an ET_DYN image carrying a SHT_GNU_verdef section.
func (img libImage) build(t *testing.T) []byte {
	t.Helper()

	if img.soname == "" {
		img.soname = "libc.so.6"
	}

	var dynstr []byte
	dynstr = append(dynstr, 0)
	addStr := func(s string) uint32 {
		off := uint32(len(dynstr))
		dynstr = append(dynstr, s...)
		dynstr = append(dynstr, 0)
		return off
	}
	sonameOff := addStr(img.soname)
	defOffs := make([]uint32, len(img.defines))
	for i, d := range img.defines {
		defOffs[i] = addStr(d)
	}

	var shstr []byte
	shstr = append(shstr, 0)
	shName := func(s string) uint32 {
		off := uint32(len(shstr))
		shstr = append(shstr, s...)
		shstr = append(shstr, 0)
		return off
	}
	nameDynstr := shName(".dynstr")
	nameVerdef := shName(".gnu.version_d")
	nameShstrtab := shName(".shstrtab")

	align8 := func(n int) int { return (n + 7) &^ 7 }

	// Verdef records: the base record naming the soname, then one record
	// per defined version. Each record has a single aux naming it.
	ndefs := 1 + len(img.defines)
	verdefSize := ndefs * (20 + 8)
	if img.noVerdef {
		verdefSize = 0
	}

	dynstrOff := fixtureEhdrSize
	verdefOff := align8(dynstrOff + len(dynstr))
	shstrOff := align8(verdefOff + verdefSize)
	shoff := align8(shstrOff + len(shstr))
	shnum := 4
	if img.noVerdef {
		shnum = 3
	}
	total := shoff + shnum*fixtureShdrSize

	buf := make([]byte, total)
	le := binary.LittleEndian

	copy(buf, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le.PutUint16(buf[16:], uint16(elf.ET_DYN))
	le.PutUint16(buf[18:], uint16(elf.EM_X86_64))
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[40:], uint64(shoff))
	le.PutUint16(buf[52:], fixtureEhdrSize)
	le.PutUint16(buf[54:], fixturePhdrSize)
	le.PutUint16(buf[58:], fixtureShdrSize)
	le.PutUint16(buf[60:], uint16(shnum))
	le.PutUint16(buf[62:], uint16(shnum-1))

	copy(buf[dynstrOff:], dynstr)

	if !img.noVerdef {
		off := verdefOff
		writeDef := func(idx int, flags uint16, ndx uint16, nameOff uint32, last bool) {
			le.PutUint16(buf[off:], 1)      // vd_version
			le.PutUint16(buf[off+2:], flags)
			le.PutUint16(buf[off+4:], ndx)
			le.PutUint16(buf[off+6:], 1) // vd_cnt
			le.PutUint32(buf[off+12:], 20) // vd_aux
			next := 28
			if last {
				next = 0
			}
			le.PutUint32(buf[off+16:], uint32(next))
			le.PutUint32(buf[off+20:], nameOff) // vda_name
			le.PutUint32(buf[off+24:], 0)       // vda_next
			off += 28
		}
		writeDef(0, 1 /* VER_FLG_BASE */, 1, sonameOff, len(img.defines) == 0)
		for i := range img.defines {
			writeDef(i+1, 0, uint16(i+2), defOffs[i], i == len(img.defines)-1)
		}
	}

	copy(buf[shstrOff:], shstr)

	shdr := func(i int, name uint32, stype elf.SectionType, off, size, link, info, entsize int) {
		base := shoff + i*fixtureShdrSize
		le.PutUint32(buf[base:], name)
		le.PutUint32(buf[base+4:], uint32(stype))
		le.PutUint64(buf[base+8:], uint64(elf.SHF_ALLOC))
		le.PutUint64(buf[base+16:], uint64(off))
		le.PutUint64(buf[base+24:], uint64(off))
		le.PutUint64(buf[base+32:], uint64(size))
		le.PutUint32(buf[base+40:], uint32(link))
		le.PutUint32(buf[base+44:], uint32(info))
		le.PutUint64(buf[base+48:], 1)
		le.PutUint64(buf[base+56:], uint64(entsize))
	}
	shdr(1, nameDynstr, elf.SHT_STRTAB, dynstrOff, len(dynstr), 0, 0, 0)
	if img.noVerdef {
		shdr(2, nameShstrtab, elf.SHT_STRTAB, shstrOff, len(shstr), 0, 0, 0)
	} else {
		shdr(2, nameVerdef, elf.SHT_GNU_VERDEF, verdefOff, verdefSize, 1, ndefs, 0)
		shdr(3, nameShstrtab, elf.SHT_STRTAB, shstrOff, len(shstr), 0, 0, 0)
	}

	return buf
}

// write materializes the library image into dir and returns its path.
func (img libImage) write(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, img.build(t), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}
