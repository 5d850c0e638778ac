package dso

import (
	"errors"

	"github.com/go-kit/log/level"

	"github.com/perftools/symres/elffile"
)

// elfLoader reads function symbols and text labels from the resolved debug
// file, which may live inside an archive container. Once a dex file offset
// is registered the embedded dex loader takes over.
type elfLoader struct {
	minVaddr    uint64
	minVaddrSet bool
	dex         *dexLoader
}

func (l *elfLoader) loadSymbols(d *Dso) []Symbol {
	if l.dex != nil {
		return l.dex.loadSymbols(d)
	}
	expected := d.ctx.ExpectedBuildID(d.path)
	var symbols []Symbol
	err := elffile.ParseSymbols(d.debugFilePath, expected.Bytes(), func(es elffile.Symbol) {
		if es.IsFunc || (es.IsLabel && es.InText) {
			symbols = append(symbols, d.NewSymbol(es.Name, es.Addr, es.Len))
		}
	})
	d.reportElfSymbolLoad(d.debugFilePath, err)
	sortAndFixSymbols(symbols)
	return symbols
}

func (l *elfLoader) minVirtualAddress(d *Dso) uint64 {
	if l.minVaddrSet {
		return l.minVaddr
	}
	l.minVaddrSet = true
	l.minVaddr = 0
	// dex-reclassified binaries are addressed by file offset already
	if d.typ != TypeElfFile {
		return 0
	}
	expected := d.ctx.ExpectedBuildID(d.path)
	addr, err := elffile.MinExecutableVaddr(d.debugFilePath, expected.Bytes())
	if err != nil {
		level.Warn(d.ctx.logger).Log("msg", "failed to read min virtual address", "f", d.debugFilePath, "err", err)
		return 0
	}
	l.minVaddr = addr
	return addr
}

func (l *elfLoader) setMinVirtualAddress(v uint64) {
	l.minVaddr = v
	l.minVaddrSet = true
}

func (l *elfLoader) addDexFileOffset(d *Dso, offset uint64) {
	if l.dex == nil {
		// Mapping records are processed before the dex file list is known,
		// so this binary was first seen as a plain mapped ELF. The offset
		// registration tells us it is really a dex blob; the offsets refer
		// to the recorded file, not to whatever debug copy the finder picked.
		d.typ = TypeDexFile
		d.debugFilePath = d.path
		l.dex = &dexLoader{}
	}
	l.dex.addDexFileOffset(d, offset)
}

func (l *elfLoader) dexFileOffsets() []uint64 {
	if l.dex == nil {
		return nil
	}
	return l.dex.dexFileOffsets()
}

// reportElfSymbolLoad logs load outcomes without failing the Dso: a missing
// or unreadable symbol table degrades to an empty table. The warning drops
// to debug level when symbols were already supplied out of band.
func (d *Dso) reportElfSymbolLoad(debugFilePath string, err error) {
	logger := d.ctx.logger
	switch {
	case err == nil:
		level.Debug(logger).Log("msg", "read symbols", "f", debugFilePath)
	case errors.Is(err, elffile.ErrNoSymbols):
		if d.path == "[vdso]" {
			// vdso only carries a dynamic symbol table; nothing to report
			return
		}
		d.symbolWarn("msg", "no symbol table", "f", debugFilePath)
	default:
		if errors.Is(err, elffile.ErrBuildIDMismatch) && d.ctx.metrics != nil {
			d.ctx.metrics.BuildIDMismatch.Inc()
		}
		if d.ctx.metrics != nil {
			d.ctx.metrics.LoadErrors.WithLabelValues(d.typ.String()).Inc()
		}
		d.symbolWarn("msg", "failed to read symbols", "f", debugFilePath, "err", err)
	}
}

func (d *Dso) symbolWarn(keyvals ...interface{}) {
	if len(d.symbols) > 0 {
		level.Debug(d.ctx.logger).Log(keyvals...)
	} else {
		level.Warn(d.ctx.logger).Log(keyvals...)
	}
}
