package dso

import (
	"os"
	"strings"

	"github.com/go-kit/log/level"

	"github.com/perftools/symres/elffile"
)

// liveKallsymsPath is the running system's kernel symbol table.
var liveKallsymsPath = "/proc/kallsyms"

// kernelLoader reads kernel function symbols from, in order of preference:
// a configured kernel image, a configured kallsyms snapshot, or the live
// system table. Live reads are gated by an explicit permission or a
// build-id match, so a perf recording from a device is never symbolized
// against the host kernel by accident.
type kernelLoader struct{ baseLoader }

func (kernelLoader) loadSymbols(d *Dso) []Symbol {
	ctx := d.ctx
	expected := ctx.ExpectedBuildID(d.path)
	var symbols []Symbol
	switch {
	case ctx.vmlinux != "":
		err := elffile.ParseSymbols(ctx.vmlinux, expected.Bytes(), func(es elffile.Symbol) {
			if es.IsFunc {
				symbols = append(symbols, d.NewSymbol(es.Name, es.Addr, es.Len))
			}
		})
		d.reportElfSymbolLoad(ctx.vmlinux, err)
	case ctx.kallsyms != "":
		data, err := os.ReadFile(ctx.kallsyms)
		if err != nil {
			d.symbolWarn("msg", "failed to read kallsyms snapshot", "f", ctx.kallsyms, "err", err)
		} else {
			symbols = d.symbolsFromKallsyms(data)
		}
	default:
		canRead := ctx.kernelSymbolsFromProc || !expected.IsEmpty()
		if canRead && !expected.IsEmpty() {
			raw, err := elffile.CurrentKernelBuildID()
			if err != nil || BuildIDFromBytes(raw) != expected {
				level.Debug(ctx.logger).Log("msg", "not reading live kernel symbols: build id mismatch")
				canRead = false
			}
		}
		if canRead {
			data, err := os.ReadFile(liveKallsymsPath)
			if err != nil {
				level.Debug(ctx.logger).Log("msg", "failed to read live kernel symbols", "f", liveKallsymsPath, "err", err)
			} else {
				symbols = d.symbolsFromKallsyms(data)
			}
		}
	}
	sortAndFixSymbols(symbols)
	extendLastSymbol(symbols)
	return symbols
}

func (d *Dso) symbolsFromKallsyms(kallsyms []byte) []Symbol {
	var symbols []Symbol
	parseKallsyms(kallsyms, func(addr uint64, typ byte, name string) {
		if strings.IndexByte("TtWw", typ) != -1 && addr != 0 {
			symbols = append(symbols, d.NewSymbol(name, addr, 0))
		}
	})
	if len(symbols) == 0 {
		d.symbolWarn("msg", "kernel symbol addresses are all zero, "+
			"`echo 0 >/proc/sys/kernel/kptr_restrict` if possible")
	}
	return symbols
}
