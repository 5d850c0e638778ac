package dso

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perftools/symres/testkit"
)

func TestCreateDsoBasics(t *testing.T) {
	c := testContext(t)
	d := c.CreateDso(TypeKernel, "[kernel.kallsyms]", false)
	defer d.Close()
	require.Equal(t, TypeKernel, d.Type())
	require.Equal(t, "[kernel.kallsyms]", d.Path())
	require.Equal(t, "[kernel.kallsyms]", d.DebugFilePath())
	require.Equal(t, "[kernel.kallsyms]", d.FileName())

	e := c.CreateDso(TypeElfFile, "/system/lib/libc.so", true)
	defer e.Close()
	require.Equal(t, "libc.so", e.FileName())
	require.Equal(t, "/system/lib/libc.so", e.DebugFilePath())
}

func TestFindSymbol(t *testing.T) {
	c := testContext(t)
	d := c.CreateDso(TypeUnknown, "/fake", false)
	defer d.Close()
	d.SetSymbols([]Symbol{
		d.NewSymbol("one", 0x1000, 0),
		d.NewSymbol("two", 0x2000, 0x10),
	})

	require.Nil(t, d.FindSymbol(0xfff))
	s := d.FindSymbol(0x1000)
	require.NotNil(t, s)
	require.Equal(t, "one", s.Name())
	// length of "one" was resolved to the gap to the next symbol
	require.Equal(t, "one", d.FindSymbol(0x1fff).Name())
	require.Equal(t, "two", d.FindSymbol(0x200f).Name())
	require.Nil(t, d.FindSymbol(0x2010))
}

func TestFindSymbolUnknownFallback(t *testing.T) {
	c := testContext(t)
	d := c.CreateDso(TypeUnknown, "/fake", false)
	defer d.Close()
	d.AddUnknownSymbol(0x5000, "mystery")

	s := d.FindSymbol(0x5000)
	require.NotNil(t, s)
	require.Equal(t, "mystery", s.Name())
	require.Equal(t, uint64(1), s.Len)
	require.Nil(t, d.FindSymbol(0x5001))
}

func TestElfDsoLoadsSymbols(t *testing.T) {
	c := testContext(t)
	path := testkit.WriteElf(t, t.TempDir(), "libfoo.so", testkit.ElfOpts{
		Syms: []testkit.ElfSym{
			{Name: "func_a", Value: 0x1000, Size: 0x10, Func: true},
			{Name: "label_in_text", Value: 0x1010},
			{Name: "data_label", Value: 0x3000, OutsideText: true},
		},
	})
	d := c.CreateDso(TypeElfFile, path, true)
	defer d.Close()

	symbols := d.Symbols()
	require.Len(t, symbols, 2)
	require.Equal(t, "func_a", symbols[0].Name())
	require.Equal(t, "label_in_text", symbols[1].Name())
}

func TestLoadMergesWithPresetSymbols(t *testing.T) {
	c := testContext(t)
	path := testkit.WriteElf(t, t.TempDir(), "libfoo.so", testkit.ElfOpts{
		Syms: []testkit.ElfSym{
			{Name: "from_file", Value: 0x1000, Size: 0x10, Func: true},
			{Name: "shadowed", Value: 0x2000, Size: 0x10, Func: true},
		},
	})
	d := c.CreateDso(TypeElfFile, path, true)
	defer d.Close()
	d.SetSymbols([]Symbol{d.NewSymbol("preset", 0x2000, 0x10)})

	symbols := d.Symbols()
	require.Len(t, symbols, 2)
	require.Equal(t, "from_file", symbols[0].Name())
	// same-address entries collapse to the pre-populated one
	require.Equal(t, "preset", symbols[1].Name())

	// a second load does not duplicate entries
	d.Load()
	require.Len(t, d.Symbols(), 2)
}

func TestMinVirtualAddress(t *testing.T) {
	c := testContext(t)
	path := testkit.WriteElf(t, t.TempDir(), "libfoo.so", testkit.ElfOpts{
		ExecVaddrs: []uint64{0x4000, 0x2000},
	})
	d := c.CreateDso(TypeElfFile, path, true)
	defer d.Close()
	require.Equal(t, uint64(0x2000), d.MinVirtualAddress())

	d.SetMinVirtualAddress(0x8000)
	require.Equal(t, uint64(0x8000), d.MinVirtualAddress())

	k := c.CreateDso(TypeKernel, "vmlinux", false)
	defer k.Close()
	require.Equal(t, uint64(0), k.MinVirtualAddress())
}

func TestDumpIDs(t *testing.T) {
	c := testContext(t)
	d1 := c.CreateDso(TypeUnknown, "/a", false)
	defer d1.Close()
	d2 := c.CreateDso(TypeUnknown, "/b", false)
	defer d2.Close()

	require.False(t, d1.HasDumpID())
	require.Equal(t, uint32(0), d1.CreateDumpID())
	require.Equal(t, uint32(1), d2.CreateDumpID())
	require.True(t, d1.HasDumpID())
	require.Panics(t, func() { d1.CreateDumpID() })

	d1.SetSymbols([]Symbol{d1.NewSymbol("s1", 0x1000, 1), d1.NewSymbol("s2", 0x2000, 1)})
	syms := d1.Symbols()
	require.Equal(t, uint32(0), d1.CreateSymbolDumpID(&syms[0]))
	require.Equal(t, uint32(1), d1.CreateSymbolDumpID(&syms[1]))
	require.True(t, syms[0].HasDumpID())
	require.Panics(t, func() { d1.CreateSymbolDumpID(&syms[0]) })
}

func TestCloseResetsContext(t *testing.T) {
	c := testContext(t)
	c.SetBuildIDs([]BuildIDEntry{{Path: "/a", ID: BuildIDFromBytes(testID)}})

	d1 := c.CreateDso(TypeUnknown, "/a", false)
	d2 := c.CreateDso(TypeUnknown, "/b", false)
	require.Equal(t, 2, c.LiveDsoCount())
	require.Equal(t, uint32(0), d1.CreateDumpID())

	d1.Close()
	d1.Close() // second close is a no-op
	require.Equal(t, 1, c.LiveDsoCount())
	require.False(t, c.ExpectedBuildID("/a").IsEmpty())

	d2.Close()
	require.Equal(t, 0, c.LiveDsoCount())
	// the registry and the dump-id counter were reset with the last close
	require.True(t, c.ExpectedBuildID("/a").IsEmpty())
	d3 := c.CreateDso(TypeUnknown, "/c", false)
	defer d3.Close()
	require.Equal(t, uint32(0), d3.CreateDumpID())
}

func TestElfReclassifiesToDex(t *testing.T) {
	c := testContext(t)
	image, insnOffs := testkit.BuildDex(t, []testkit.DexMethod{
		{Class: "Lcom/example/Foo;", Name: "run", Insns: []uint16{0x0e00}},
	})
	path := filepath.Join(t.TempDir(), "classes.dex")
	require.NoError(t, os.WriteFile(path, image, 0o644))

	d := c.CreateDso(TypeElfFile, path, true)
	defer d.Close()
	require.Equal(t, TypeElfFile, d.Type())
	require.Nil(t, d.DexFileOffsets())

	d.AddDexFileOffset(0)
	require.Equal(t, TypeDexFile, d.Type())
	require.Equal(t, []uint64{0}, d.DexFileOffsets())
	// a reclassified binary is addressed by file offset
	require.Equal(t, uint64(0), d.MinVirtualAddress())

	symbols := d.Symbols()
	require.Len(t, symbols, 1)
	require.Equal(t, "com.example.Foo.run", symbols[0].Name())
	require.Equal(t, insnOffs[0], symbols[0].Addr)
	require.Equal(t, uint64(2), symbols[0].Len)

	s := d.FindSymbol(insnOffs[0])
	require.NotNil(t, s)
	require.Equal(t, "com.example.Foo.run", s.DemangledName())
}

func TestReclassifiedDexReadsRecordedPath(t *testing.T) {
	// the recorded file resolves to a debug copy while it looks like an
	// ELF; registered dex offsets refer to the recorded file itself
	binDir := t.TempDir()
	path := testkit.WriteElf(t, binDir, "base.vdex", testkit.ElfOpts{BuildID: testID})
	symfs := t.TempDir()
	mirror := testkit.WriteElf(t, symfs, path, testkit.ElfOpts{BuildID: testID})

	c := testContext(t)
	require.NoError(t, c.SetSymFS(symfs))
	c.SetBuildIDs([]BuildIDEntry{{Path: path, ID: BuildIDFromBytes(testID)}})

	d := c.CreateDso(TypeElfFile, path, true)
	defer d.Close()
	require.Equal(t, mirror, d.DebugFilePath())

	d.AddDexFileOffset(0)
	require.Equal(t, TypeDexFile, d.Type())
	require.Equal(t, path, d.DebugFilePath())
}

func TestDexLoadFailureKeepsPresetSymbols(t *testing.T) {
	c := testContext(t)
	path := filepath.Join(t.TempDir(), "broken.dex")
	require.NoError(t, os.WriteFile(path, []byte("not a dex image"), 0o644))

	d := c.CreateDso(TypeDexFile, path, false)
	defer d.Close()
	d.AddDexFileOffset(0)
	d.SetSymbols([]Symbol{d.NewSymbol("preset", 0x100, 0x10)})

	symbols := d.Symbols()
	require.Len(t, symbols, 1)
	require.Equal(t, "preset", symbols[0].Name())
}
