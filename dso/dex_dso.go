package dso

import (
	"github.com/perftools/symres/dexfile"
)

// dexLoader owns the byte offsets of DEX images inside a container file and
// produces one symbol per method that has bytecode.
type dexLoader struct {
	baseLoader
	offsets []uint64
}

func (l *dexLoader) loadSymbols(d *Dso) []Symbol {
	var symbols []Symbol
	err := dexfile.ReadSymbols(d.debugFilePath, l.offsets, d.ctx.dexDecoder, func(m dexfile.MethodSymbol) {
		symbols = append(symbols, d.NewSymbol(m.Name, m.CodeOffset, m.CodeLen))
	})
	if err != nil {
		// keep whatever was known before; a broken container must not
		// replace previously loaded symbols
		if d.ctx.metrics != nil {
			d.ctx.metrics.LoadErrors.WithLabelValues(TypeDexFile.String()).Inc()
		}
		d.symbolWarn("msg", "failed to read dex symbols", "f", d.debugFilePath, "err", err)
		return nil
	}
	sortAndFixSymbols(symbols)
	return symbols
}

func (l *dexLoader) addDexFileOffset(_ *Dso, offset uint64) {
	l.offsets = append(l.offsets, offset)
}

func (l *dexLoader) dexFileOffsets() []uint64 {
	return l.offsets
}
