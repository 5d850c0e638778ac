package dso

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/perftools/symres/elffile"
)

// kernelModuleLoader reads function symbols and text-section labels from a
// module's ELF file. Modern kernels ship modules compressed, so .ko.gz,
// .ko.xz and .ko.zst are unpacked transparently.
type kernelModuleLoader struct{ baseLoader }

func (kernelModuleLoader) loadSymbols(d *Dso) []Symbol {
	expected := d.ctx.ExpectedBuildID(d.path)
	var symbols []Symbol
	cb := func(es elffile.Symbol) {
		if es.IsFunc || es.InText {
			symbols = append(symbols, d.NewSymbol(es.Name, es.Addr, es.Len))
		}
	}
	var err error
	if r, derr, compressed := openCompressedModule(d.debugFilePath); compressed {
		if derr != nil {
			err = derr
		} else {
			err = elffile.ParseSymbolsFrom(r, expected.Bytes(), cb)
		}
	} else {
		err = elffile.ParseSymbols(d.debugFilePath, expected.Bytes(), cb)
	}
	d.reportElfSymbolLoad(d.debugFilePath, err)
	sortAndFixSymbols(symbols)
	return symbols
}

// openCompressedModule inflates a compressed module into memory. Returns
// compressed=false when the path carries no known compression suffix.
func openCompressedModule(path string) (io.ReaderAt, error, bool) {
	var open func(r io.Reader) (io.Reader, error)
	switch {
	case strings.HasSuffix(path, ".gz"):
		open = func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) }
	case strings.HasSuffix(path, ".xz"):
		open = func(r io.Reader) (io.Reader, error) { return xz.NewReader(r) }
	case strings.HasSuffix(path, ".zst"):
		open = func(r io.Reader) (io.Reader, error) { return zstd.NewReader(r) }
	default:
		return nil, nil, false
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err, true
	}
	defer f.Close()
	r, err := open(f)
	if err != nil {
		return nil, err, true
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err, true
	}
	return bytes.NewReader(data), nil, true
}
