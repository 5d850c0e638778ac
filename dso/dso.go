// Package dso resolves addresses inside profiled binaries to symbols. Each
// binary recorded by a profiling session becomes a Dso that locates its
// debug file, loads a symbol table on first use and answers "what function
// owns this address" queries.
package dso

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/go-kit/log/level"
)

// Type tells which loader a Dso uses.
type Type int

const (
	TypeKernel Type = iota
	TypeKernelModule
	TypeElfFile
	TypeDexFile
	TypeUnknown
)

func (t Type) String() string {
	switch t {
	case TypeKernel:
		return "dso_kernel"
	case TypeKernelModule:
		return "dso_kernel_module"
	case TypeElfFile:
		return "dso_elf_file"
	case TypeDexFile:
		return "dso_dex_file"
	default:
		return "unknown"
	}
}

// loader is the kind-specific part of a Dso.
type loader interface {
	loadSymbols(d *Dso) []Symbol
	minVirtualAddress(d *Dso) uint64
	setMinVirtualAddress(v uint64)
	addDexFileOffset(d *Dso, offset uint64)
	dexFileOffsets() []uint64
}

// baseLoader provides the defaults for kinds that have no file offsets and
// whose addresses need no normalization.
type baseLoader struct{}

func (baseLoader) minVirtualAddress(*Dso) uint64 { return 0 }
func (baseLoader) setMinVirtualAddress(uint64)   {}
func (baseLoader) addDexFileOffset(*Dso, uint64) {}
func (baseLoader) dexFileOffsets() []uint64      { return nil }

// Dso is one resolvable binary unit: executable, library, kernel, kernel
// module or dex file.
type Dso struct {
	ctx *Context

	typ           Type
	path          string
	debugFilePath string
	fileName      string

	loaded  bool
	symbols []Symbol
	// one-byte placeholder symbols callers record for addresses nothing
	// covers, keyed by exact address
	unknownSymbols map[uint64]*Symbol

	dumpID       uint32
	hasDumpID    bool
	symbolDumpID uint32

	loader loader
	closed bool
}

// CreateDso makes a binary entity of the given kind. For ELF binaries the
// debug file is resolved through the finder using the registry's expected
// build-id; other kinds read the recorded path directly. force64Bit picks
// the vdso flavor.
func (c *Context) CreateDso(typ Type, path string, force64Bit bool) *Dso {
	d := &Dso{
		ctx:      c,
		typ:      typ,
		path:     path,
		fileName: filepath.Base(path),
	}
	switch typ {
	case TypeElfFile:
		expected := c.ExpectedBuildID(path)
		d.debugFilePath = c.finder.FindDebugFile(path, force64Bit, expected)
		d.loader = &elfLoader{}
	case TypeKernel:
		d.debugFilePath = path
		d.loader = kernelLoader{}
	case TypeKernelModule:
		d.debugFilePath = path
		d.loader = kernelModuleLoader{}
	case TypeDexFile:
		d.debugFilePath = path
		d.loader = &dexLoader{}
	case TypeUnknown:
		d.debugFilePath = path
		d.loader = unknownLoader{}
	default:
		panic(fmt.Sprintf("unexpected dso type %d", typ))
	}
	c.dsoCount++
	return d
}

// Close releases the Dso. Closing the last live Dso of a context resets
// all of the context's process-wide caches.
func (d *Dso) Close() {
	if d.closed {
		return
	}
	d.closed = true
	d.ctx.dsoCount--
	if d.ctx.dsoCount == 0 {
		d.ctx.reset()
	}
}

// Type reflects reclassification: an ELF Dso that received a dex file
// offset reports TypeDexFile. Callers must re-read it rather than cache it.
func (d *Dso) Type() Type { return d.typ }

func (d *Dso) Path() string { return d.path }

func (d *Dso) DebugFilePath() string { return d.debugFilePath }

// FileName is the base name of the recorded path.
func (d *Dso) FileName() string { return d.fileName }

// CreateDumpID assigns the Dso its compact output identifier. Ids are
// handed out once; asking twice is a logic bug.
func (d *Dso) CreateDumpID() uint32 {
	if d.hasDumpID {
		panic("dump id requested twice for " + d.path)
	}
	d.hasDumpID = true
	d.dumpID = d.ctx.createDumpID()
	return d.dumpID
}

func (d *Dso) HasDumpID() bool { return d.hasDumpID }

func (d *Dso) DumpID() uint32 { return d.dumpID }

// CreateSymbolDumpID assigns a symbol its per-Dso output identifier,
// monotonically increasing in assignment order.
func (d *Dso) CreateSymbolDumpID(s *Symbol) uint32 {
	if s.hasDumpID {
		panic("symbol dump id requested twice for " + s.name)
	}
	s.hasDumpID = true
	s.dumpID = d.symbolDumpID
	d.symbolDumpID++
	return s.dumpID
}

// MinVirtualAddress is the lowest virtual address among executable segments
// of the debug file for ELF binaries, 0 for every other kind. Callers use
// it to translate between file offsets and runtime addresses.
func (d *Dso) MinVirtualAddress() uint64 {
	return d.loader.minVirtualAddress(d)
}

func (d *Dso) SetMinVirtualAddress(v uint64) {
	d.loader.setMinVirtualAddress(v)
}

// AddDexFileOffset registers the byte offset of a DEX image inside this
// binary. On an ELF Dso the first offset reclassifies it to TypeDexFile;
// symbol loading is taken over by the dex loader from then on.
func (d *Dso) AddDexFileOffset(offset uint64) {
	d.loader.addDexFileOffset(d, offset)
}

// DexFileOffsets returns the registered image offsets, nil for binaries
// that have none.
func (d *Dso) DexFileOffsets() []uint64 {
	return d.loader.dexFileOffsets()
}

// SetSymbols pre-populates the table before the lazy load, for callers that
// parse symbols out of band. Load merges these with whatever the loader
// finds.
func (d *Dso) SetSymbols(symbols []Symbol) {
	sortAndFixSymbols(symbols)
	d.symbols = symbols
}

// NewSymbol makes a symbol owned by this Dso with its name interned in the
// context arena. Len 0 means "unknown yet"; table finalization fills it in.
func (d *Dso) NewSymbol(name string, addr, length uint64) Symbol {
	return Symbol{
		Addr: addr,
		Len:  length,
		name: d.ctx.arena.intern(name),
		ctx:  d.ctx,
	}
}

// AddUnknownSymbol records a one-byte placeholder so that an observed
// program-counter value maps to something even when no table entry covers
// it.
func (d *Dso) AddUnknownSymbol(addr uint64, name string) {
	if d.unknownSymbols == nil {
		d.unknownSymbols = make(map[uint64]*Symbol)
	}
	s := d.NewSymbol(name, addr, 1)
	d.unknownSymbols[addr] = &s
}

// Load is lazy and idempotent; the first symbol query triggers it. Freshly
// loaded symbols are unioned with any pre-populated ones, duplicates by
// address collapsing to the pre-populated entry.
func (d *Dso) Load() {
	if d.loaded {
		return
	}
	d.loaded = true
	symbols := d.loader.loadSymbols(d)
	if len(d.symbols) == 0 {
		d.symbols = symbols
	} else {
		d.symbols = mergeByAddr(d.symbols, symbols)
	}
	if d.ctx.metrics != nil {
		d.ctx.metrics.SymbolsLoaded.WithLabelValues(d.typ.String()).Add(float64(len(symbols)))
	}
	level.Debug(d.ctx.logger).Log("msg", "loaded symbols", "dso", d.path, "type", d.typ, "count", len(d.symbols))
}

// Symbols triggers the lazy load and returns the table, sorted by address.
// The slice is owned by the Dso.
func (d *Dso) Symbols() []Symbol {
	if !d.loaded {
		d.Load()
	}
	return d.symbols
}

// FindSymbol returns the symbol whose [Addr, Addr+Len) range contains the
// address, falling back to previously recorded unknown-address
// placeholders, or nil.
func (d *Dso) FindSymbol(vaddrInDso uint64) *Symbol {
	if !d.loaded {
		d.Load()
	}
	i := sort.Search(len(d.symbols), func(i int) bool {
		return d.symbols[i].Addr > vaddrInDso
	})
	if i > 0 {
		s := &d.symbols[i-1]
		if s.Addr <= vaddrInDso && s.Addr+s.Len > vaddrInDso {
			return s
		}
	}
	if s, ok := d.unknownSymbols[vaddrInDso]; ok {
		return s
	}
	if d.ctx.metrics != nil {
		d.ctx.metrics.UnknownSymbols.Inc()
	}
	return nil
}

type unknownLoader struct{ baseLoader }

func (unknownLoader) loadSymbols(*Dso) []Symbol { return nil }
