// Package testkit synthesizes minimal ELF and DEX fixtures so tests do not
// depend on checked-in binaries.
package testkit

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// ElfSym describes one symbol of a generated ELF. Func emits STT_FUNC,
// otherwise STT_NOTYPE (a label). OutsideText places the symbol in a
// non-executable section.
type ElfSym struct {
	Name        string
	Value       uint64
	Size        uint64
	Func        bool
	OutsideText bool
}

// ElfOpts controls the generated file.
type ElfOpts struct {
	BuildID      []byte
	Syms         []ElfSym
	DynSyms      []ElfSym // emitted into .dynsym
	NoSymtab     bool     // drop .symtab even when Syms is set
	GnuDebugData []byte   // raw .gnu_debugdata content (xz stream)
	ExecVaddrs   []uint64 // one executable PT_LOAD per address
}

type elfSection struct {
	name      string
	typ       uint32
	flags     uint64
	addr      uint64
	link      uint32
	entsize   uint64
	addralign uint64
	data      []byte

	offset uint64
	nameOff uint32
}

const (
	shtProgbits = 1
	shtSymtab   = 2
	shtStrtab   = 3
	shtNote     = 7
	shtDynsym   = 11
)

// BuildElf produces a little-endian ELF64 image in memory.
func BuildElf(t testing.TB, opts ElfOpts) []byte {
	t.Helper()

	secs := []*elfSection{
		{}, // SHN_UNDEF
		{name: ".text", typ: shtProgbits, flags: 0x6, addr: 0x1000, addralign: 16, data: make([]byte, 16)},
		{name: ".rodata", typ: shtProgbits, flags: 0x2, addralign: 1, data: make([]byte, 4)},
	}
	const textIdx, rodataIdx = 1, 2

	if len(opts.BuildID) > 0 {
		secs = append(secs, &elfSection{
			name: ".note.gnu.build-id", typ: shtNote, flags: 0x2, addralign: 4,
			data: buildNote("GNU", 3, opts.BuildID),
		})
	}
	if len(opts.GnuDebugData) > 0 {
		secs = append(secs, &elfSection{
			name: ".gnu_debugdata", typ: shtProgbits, addralign: 1, data: opts.GnuDebugData,
		})
	}
	addSymtab := func(name string, typ uint32, syms []ElfSym) {
		strtab := &elfSection{name: name + "str", typ: shtStrtab, addralign: 1}
		symtab := &elfSection{name: name, typ: typ, entsize: 24, addralign: 8}
		var strData bytes.Buffer
		strData.WriteByte(0)
		var symData bytes.Buffer
		symData.Write(make([]byte, 24)) // null symbol
		for _, s := range syms {
			nameOff := uint32(strData.Len())
			strData.WriteString(s.Name)
			strData.WriteByte(0)
			var info byte = 0x10 // STB_GLOBAL | STT_NOTYPE
			if s.Func {
				info = 0x12 // STB_GLOBAL | STT_FUNC
			}
			shndx := uint16(textIdx)
			if s.OutsideText {
				shndx = rodataIdx
			}
			var e [24]byte
			binary.LittleEndian.PutUint32(e[0:], nameOff)
			e[4] = info
			binary.LittleEndian.PutUint16(e[6:], shndx)
			binary.LittleEndian.PutUint64(e[8:], s.Value)
			binary.LittleEndian.PutUint64(e[16:], s.Size)
			symData.Write(e[:])
		}
		strtab.data = strData.Bytes()
		symtab.data = symData.Bytes()
		secs = append(secs, symtab, strtab)
		symtab.link = uint32(len(secs) - 1)
	}
	if !opts.NoSymtab && len(opts.Syms) > 0 {
		addSymtab(".symtab", shtSymtab, opts.Syms)
	}
	if len(opts.DynSyms) > 0 {
		addSymtab(".dynsym", shtDynsym, opts.DynSyms)
	}

	// .shstrtab goes last and names every section
	shstr := &elfSection{name: ".shstrtab", typ: shtStrtab, addralign: 1}
	secs = append(secs, shstr)
	var shstrData bytes.Buffer
	shstrData.WriteByte(0)
	for _, s := range secs {
		if s.name == "" {
			continue
		}
		s.nameOff = uint32(shstrData.Len())
		shstrData.WriteString(s.name)
		shstrData.WriteByte(0)
	}
	shstr.data = shstrData.Bytes()

	const ehsize = 64
	const phentsize = 56
	const shentsize = 64
	phnum := len(opts.ExecVaddrs)

	var buf bytes.Buffer
	buf.Write(make([]byte, ehsize))
	phoff := 0
	if phnum > 0 {
		phoff = buf.Len()
		for _, vaddr := range opts.ExecVaddrs {
			var p [phentsize]byte
			binary.LittleEndian.PutUint32(p[0:], 1)  // PT_LOAD
			binary.LittleEndian.PutUint32(p[4:], 5)  // PF_R | PF_X
			binary.LittleEndian.PutUint64(p[16:], vaddr)
			binary.LittleEndian.PutUint64(p[24:], vaddr)
			binary.LittleEndian.PutUint64(p[32:], 16) // filesz
			binary.LittleEndian.PutUint64(p[40:], 16) // memsz
			binary.LittleEndian.PutUint64(p[48:], 0x1000)
			buf.Write(p[:])
		}
	}
	for _, s := range secs[1:] {
		for buf.Len()%8 != 0 {
			buf.WriteByte(0)
		}
		s.offset = uint64(buf.Len())
		buf.Write(s.data)
	}
	for buf.Len()%8 != 0 {
		buf.WriteByte(0)
	}
	shoff := buf.Len()
	for _, s := range secs {
		var h [shentsize]byte
		binary.LittleEndian.PutUint32(h[0:], s.nameOff)
		binary.LittleEndian.PutUint32(h[4:], s.typ)
		binary.LittleEndian.PutUint64(h[8:], s.flags)
		binary.LittleEndian.PutUint64(h[16:], s.addr)
		binary.LittleEndian.PutUint64(h[24:], s.offset)
		binary.LittleEndian.PutUint64(h[32:], uint64(len(s.data)))
		binary.LittleEndian.PutUint32(h[40:], s.link)
		binary.LittleEndian.PutUint64(h[48:], s.addralign)
		binary.LittleEndian.PutUint64(h[56:], s.entsize)
		buf.Write(h[:])
	}

	out := buf.Bytes()
	copy(out, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	binary.LittleEndian.PutUint16(out[16:], 3)  // ET_DYN
	binary.LittleEndian.PutUint16(out[18:], 62) // EM_X86_64
	binary.LittleEndian.PutUint32(out[20:], 1)
	binary.LittleEndian.PutUint64(out[32:], uint64(phoff))
	binary.LittleEndian.PutUint64(out[40:], uint64(shoff))
	binary.LittleEndian.PutUint16(out[52:], ehsize)
	if phnum > 0 {
		binary.LittleEndian.PutUint16(out[54:], phentsize)
		binary.LittleEndian.PutUint16(out[56:], uint16(phnum))
	}
	binary.LittleEndian.PutUint16(out[58:], shentsize)
	binary.LittleEndian.PutUint16(out[60:], uint16(len(secs)))
	binary.LittleEndian.PutUint16(out[62:], uint16(len(secs)-1))
	return out
}

// WriteElf writes a generated ELF under dir and returns its path.
func WriteElf(t testing.TB, dir, name string, opts ElfOpts) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, BuildElf(t, opts), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func buildNote(name string, typ uint32, desc []byte) []byte {
	var buf bytes.Buffer
	nameZ := append([]byte(name), 0)
	var h [12]byte
	binary.LittleEndian.PutUint32(h[0:], uint32(len(nameZ)))
	binary.LittleEndian.PutUint32(h[4:], uint32(len(desc)))
	binary.LittleEndian.PutUint32(h[8:], typ)
	buf.Write(h[:])
	buf.Write(nameZ)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	buf.Write(desc)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}
