package dso

import (
	"math"

	"golang.org/x/exp/slices"
)

// Symbol is one (name, address, length) entry of a symbol table. Names are
// interned in the owning context's arena; the demangled form is computed on
// first use and cached for the symbol's lifetime.
type Symbol struct {
	Addr uint64
	Len  uint64

	name      string
	demangled string

	dumpID    uint32
	hasDumpID bool

	ctx *Context
}

func (s *Symbol) Name() string {
	return s.name
}

// DemangledName demangles lazily. When demangling leaves the name
// unchanged the cached value aliases the interned original, so nothing is
// stored twice.
func (s *Symbol) DemangledName() string {
	if s.demangled == "" {
		d := s.ctx.Demangle(s.name)
		if d == s.name {
			s.demangled = s.name
		} else {
			s.demangled = s.ctx.arena.intern(d)
		}
	}
	return s.demangled
}

func (s *Symbol) HasDumpID() bool {
	return s.hasDumpID
}

// DumpID is only valid after the owning DSO assigned one, see
// Dso.CreateSymbolDumpID.
func (s *Symbol) DumpID() uint32 {
	return s.dumpID
}

func compareByAddr(a, b Symbol) int {
	if a.Addr < b.Addr {
		return -1
	}
	if a.Addr > b.Addr {
		return 1
	}
	return 0
}

// sortAndFixSymbols orders entries by address and resolves "length unknown
// yet" entries to the distance to the next symbol. The final entry's length
// is left as loaded; kernel tables patch it afterwards.
func sortAndFixSymbols(symbols []Symbol) {
	slices.SortStableFunc(symbols, compareByAddr)
	var prev *Symbol
	for i := range symbols {
		if prev != nil && prev.Len == 0 {
			prev.Len = symbols[i].Addr - prev.Addr
		}
		prev = &symbols[i]
	}
}

// extendLastSymbol makes the final entry run to the end of the address
// space, the way kernel symbol tables are open-ended.
func extendLastSymbol(symbols []Symbol) {
	if len(symbols) > 0 {
		last := &symbols[len(symbols)-1]
		last.Len = math.MaxUint64 - last.Addr
	}
}

// mergeByAddr unions two address-sorted tables. Entries comparing equal by
// address collapse to the one from a; the pick is positional, not
// name-based.
func mergeByAddr(a, b []Symbol) []Symbol {
	res := make([]Symbol, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Addr < b[j].Addr:
			res = append(res, a[i])
			i++
		case b[j].Addr < a[i].Addr:
			res = append(res, b[j])
			j++
		default:
			res = append(res, a[i])
			i++
			j++
		}
	}
	res = append(res, a[i:]...)
	res = append(res, b[j:]...)
	return res
}
