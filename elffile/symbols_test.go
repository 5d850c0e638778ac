package elffile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/perftools/symres/testkit"
)

func collect(t *testing.T, path string, expected []byte) ([]Symbol, error) {
	t.Helper()
	var syms []Symbol
	err := ParseSymbols(path, expected, func(s Symbol) {
		syms = append(syms, s)
	})
	return syms, err
}

func TestParseSymbols(t *testing.T) {
	dir := t.TempDir()
	path := testkit.WriteElf(t, dir, "libx.so", testkit.ElfOpts{
		Syms: []testkit.ElfSym{
			{Name: "main", Value: 0x1000, Size: 0x20, Func: true},
			{Name: "label_in_text", Value: 0x1040},
			{Name: "data_label", Value: 0x2000, OutsideText: true},
		},
	})
	syms, err := collect(t, path, nil)
	require.NoError(t, err)
	require.Len(t, syms, 3)

	require.Equal(t, "main", syms[0].Name)
	require.Equal(t, uint64(0x1000), syms[0].Addr)
	require.Equal(t, uint64(0x20), syms[0].Len)
	require.True(t, syms[0].IsFunc)
	require.True(t, syms[0].InText)

	require.True(t, syms[1].IsLabel)
	require.True(t, syms[1].InText)

	require.True(t, syms[2].IsLabel)
	require.False(t, syms[2].InText)
}

func TestParseSymbolsNoSymtab(t *testing.T) {
	dir := t.TempDir()
	path := testkit.WriteElf(t, dir, "stripped.so", testkit.ElfOpts{})
	_, err := collect(t, path, nil)
	require.ErrorIs(t, err, ErrNoSymbols)
}

func TestParseSymbolsDynsymFallback(t *testing.T) {
	dir := t.TempDir()
	path := testkit.WriteElf(t, dir, "dyn.so", testkit.ElfOpts{
		DynSyms: []testkit.ElfSym{
			{Name: "exported", Value: 0x1100, Size: 0x10, Func: true},
		},
	})
	syms, err := collect(t, path, nil)
	require.NoError(t, err)
	require.Len(t, syms, 1)
	require.Equal(t, "exported", syms[0].Name)
}

func TestParseSymbolsMiniDebugInfo(t *testing.T) {
	inner := testkit.BuildElf(t, testkit.ElfOpts{
		Syms: []testkit.ElfSym{
			{Name: "stripped_fn", Value: 0x1200, Size: 8, Func: true},
		},
	})
	var compressed bytes.Buffer
	w, err := xz.NewWriter(&compressed)
	require.NoError(t, err)
	_, err = w.Write(inner)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	dir := t.TempDir()
	path := testkit.WriteElf(t, dir, "mini.so", testkit.ElfOpts{
		GnuDebugData: compressed.Bytes(),
	})
	syms, err := collect(t, path, nil)
	require.NoError(t, err)
	require.Len(t, syms, 1)
	require.Equal(t, "stripped_fn", syms[0].Name)
}

func TestParseSymbolsBuildIDMismatch(t *testing.T) {
	dir := t.TempDir()
	id := bytes.Repeat([]byte{0xab}, 20)
	path := testkit.WriteElf(t, dir, "libid.so", testkit.ElfOpts{
		BuildID: id,
		Syms:    []testkit.ElfSym{{Name: "f", Value: 0x1000, Size: 4, Func: true}},
	})

	other := bytes.Repeat([]byte{0xcd}, 20)
	_, err := collect(t, path, other)
	require.ErrorIs(t, err, ErrBuildIDMismatch)

	syms, err := collect(t, path, id)
	require.NoError(t, err)
	require.Len(t, syms, 1)
}

func TestBuildIDEqualPadding(t *testing.T) {
	short := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	padded := make([]byte, 20)
	copy(padded, short)
	require.True(t, buildIDEqual(padded, short))
	require.True(t, buildIDEqual(short, padded))
	padded[19] = 1
	require.False(t, buildIDEqual(padded, short))
}

func TestMinExecutableVaddr(t *testing.T) {
	dir := t.TempDir()
	path := testkit.WriteElf(t, dir, "exec.so", testkit.ElfOpts{
		ExecVaddrs: []uint64{0x4000, 0x1000, 0x8000},
	})
	v, err := MinExecutableVaddr(path, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), v)

	noexec := testkit.WriteElf(t, dir, "noexec.so", testkit.ElfOpts{})
	_, err = MinExecutableVaddr(noexec, nil)
	require.Error(t, err)
}

func TestReadBuildID(t *testing.T) {
	dir := t.TempDir()
	id := bytes.Repeat([]byte{0x5a}, 20)
	path := testkit.WriteElf(t, dir, "id.so", testkit.ElfOpts{BuildID: id})
	got, err := ReadBuildID(path)
	require.NoError(t, err)
	require.Equal(t, id, got)

	plain := testkit.WriteElf(t, dir, "noid.so", testkit.ElfOpts{})
	_, err = ReadBuildID(plain)
	require.ErrorIs(t, err, ErrNoBuildID)
}

func TestCurrentKernelBuildID(t *testing.T) {
	id := []byte{9, 8, 7, 6, 5, 4, 3, 2, 1, 0, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0}
	notes := buildTestNote(t, "GNU", 3, id)
	dir := t.TempDir()
	notesPath := filepath.Join(dir, "notes")
	require.NoError(t, os.WriteFile(notesPath, notes, 0o644))

	old := kernelNotesPath
	kernelNotesPath = notesPath
	defer func() { kernelNotesPath = old }()

	got, err := CurrentKernelBuildID()
	require.NoError(t, err)
	require.Equal(t, id, got)
}

// buildTestNote prepends an unrelated note record to exercise iteration.
func buildTestNote(t *testing.T, name string, typ uint32, desc []byte) []byte {
	t.Helper()
	other := noteRecord("Xen", 1, []byte{1, 2, 3, 4})
	return append(other, noteRecord(name, typ, desc)...)
}

func noteRecord(name string, typ uint32, desc []byte) []byte {
	nameZ := append([]byte(name), 0)
	out := make([]byte, 12)
	le := func(off int, v uint32) {
		out[off] = byte(v)
		out[off+1] = byte(v >> 8)
		out[off+2] = byte(v >> 16)
		out[off+3] = byte(v >> 24)
	}
	le(0, uint32(len(nameZ)))
	le(4, uint32(len(desc)))
	le(8, typ)
	out = append(out, nameZ...)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	out = append(out, desc...)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}
