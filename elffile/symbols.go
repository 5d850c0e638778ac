package elffile

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
)

// Status taxonomy of a symbol parse. Anything else returned by ParseSymbols
// is a parse error.
var (
	ErrNoSymbols       = errors.New("no symbol table")
	ErrBuildIDMismatch = errors.New("build id mismatch")
)

// Symbol is one raw symbol-table entry with the flags the filtering layers
// upstream care about.
type Symbol struct {
	Name    string
	Addr    uint64
	Len     uint64
	IsFunc  bool
	IsLabel bool
	InText  bool
}

// ParseSymbols reads symbol entries of a binary and hands each one to cb.
// Archive paths ("app.apk!/lib/libx.so") read the embedded entry. When
// expected is non-empty the file's own build-id must match or
// ErrBuildIDMismatch is returned before any callback fires.
func ParseSymbols(path string, expected []byte, cb func(Symbol)) error {
	container, entry, ok := SplitArchivePath(path)
	if ok {
		r, closer, err := openArchiveEntry(container, entry)
		if err != nil {
			return err
		}
		defer closer()
		return ParseSymbolsFrom(r, expected, cb)
	}
	f, err := NewMMapedFile(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return parseSymbolsInMem(&f.InMemFile, expected, cb)
}

// ParseSymbolsFrom is ParseSymbols over an already-open reader, for callers
// that decompress or unpack the binary themselves.
func ParseSymbolsFrom(r io.ReaderAt, expected []byte, cb func(Symbol)) error {
	f, err := NewInMemFile(r)
	if err != nil {
		return err
	}
	return parseSymbolsInMem(f, expected, cb)
}

func parseSymbolsInMem(f *InMemFile, expected []byte, cb func(Symbol)) error {
	if err := verifyBuildID(f, expected); err != nil {
		return err
	}
	if s := f.sectionByType(elf.SHT_SYMTAB); s != nil {
		return f.forEachSymbolIn(s, cb)
	}
	// A stripped binary may still carry MiniDebugInfo with the function
	// symbols that were removed from .dynsym.
	if inner, err := f.miniDebugInfo(); err == nil {
		if s := inner.sectionByType(elf.SHT_SYMTAB); s != nil {
			return inner.forEachSymbolIn(s, cb)
		}
	}
	if s := f.sectionByType(elf.SHT_DYNSYM); s != nil {
		return f.forEachSymbolIn(s, cb)
	}
	return ErrNoSymbols
}

func verifyBuildID(f *InMemFile, expected []byte) error {
	if len(expected) == 0 {
		return nil
	}
	id, err := f.GNUBuildID()
	if err != nil {
		return ErrBuildIDMismatch
	}
	if !buildIDEqual(expected, id) {
		return ErrBuildIDMismatch
	}
	return nil
}

// buildIDEqual compares two raw build-ids treating the shorter one as
// zero-padded; recorded ids are fixed-size while file notes may be 8 or 20
// bytes long.
func buildIDEqual(a, b []byte) bool {
	if len(a) < len(b) {
		a, b = b, a
	}
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	for _, v := range a[len(b):] {
		if v != 0 {
			return false
		}
	}
	return true
}

func (f *InMemFile) forEachSymbolIn(s *elf.SectionHeader, cb func(Symbol)) error {
	data, err := f.SectionData(s)
	if err != nil {
		return err
	}
	if int(s.Link) >= len(f.Sections) {
		return fmt.Errorf("symbol section has bad string table link %d", s.Link)
	}
	strtab := &f.Sections[s.Link]
	bo := f.ByteOrder
	exec := f.execSections()

	var entsize int
	if f.Class == elf.ELFCLASS64 {
		entsize = 24
	} else {
		entsize = 16
	}
	// entry 0 is the null symbol
	for off := entsize; off+entsize <= len(data); off += entsize {
		e := data[off : off+entsize]
		var nameOff uint32
		var value, size uint64
		var info uint8
		var shndx uint16
		if f.Class == elf.ELFCLASS64 {
			nameOff = bo.Uint32(e[0:4])
			info = e[4]
			shndx = bo.Uint16(e[6:8])
			value = bo.Uint64(e[8:16])
			size = bo.Uint64(e[16:24])
		} else {
			nameOff = bo.Uint32(e[0:4])
			value = uint64(bo.Uint32(e[4:8]))
			size = uint64(bo.Uint32(e[8:12]))
			info = e[12]
			shndx = bo.Uint16(e[14:16])
		}
		typ := elf.SymType(info & 0xf)
		if typ != elf.STT_FUNC && typ != elf.STT_NOTYPE {
			continue
		}
		name, ok := f.getString(int(strtab.Offset) + int(nameOff))
		if !ok || name == "" {
			continue
		}
		cb(Symbol{
			Name:    name,
			Addr:    value,
			Len:     size,
			IsFunc:  typ == elf.STT_FUNC,
			IsLabel: typ == elf.STT_NOTYPE,
			InText:  exec[shndx],
		})
	}
	return nil
}

func (f *InMemFile) execSections() map[uint16]bool {
	res := make(map[uint16]bool, 2)
	for i := range f.Sections {
		if f.Sections[i].Flags&elf.SHF_EXECINSTR != 0 {
			res[uint16(i)] = true
		}
	}
	return res
}

// MinExecutableVaddr returns the lowest virtual address among executable
// loadable segments of the binary.
func MinExecutableVaddr(path string, expected []byte) (uint64, error) {
	container, entry, ok := SplitArchivePath(path)
	if ok {
		r, closer, err := openArchiveEntry(container, entry)
		if err != nil {
			return 0, err
		}
		defer closer()
		f, err := NewInMemFile(r)
		if err != nil {
			return 0, err
		}
		return minExecutableVaddr(f, expected)
	}
	f, err := NewMMapedFile(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return minExecutableVaddr(&f.InMemFile, expected)
}

func minExecutableVaddr(f *InMemFile, expected []byte) (uint64, error) {
	if err := verifyBuildID(f, expected); err != nil {
		return 0, err
	}
	var min uint64
	found := false
	for i := range f.Progs {
		p := &f.Progs[i]
		if p.Type == elf.PT_LOAD && p.Flags&elf.PF_X != 0 {
			if !found || p.Vaddr < min {
				min = p.Vaddr
				found = true
			}
		}
	}
	if !found {
		return 0, fmt.Errorf("no executable segments")
	}
	return min, nil
}
