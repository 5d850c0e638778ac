package dso

import (
	"github.com/go-kit/log"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/perftools/symres/dexfile"
	"github.com/perftools/symres/metrics"
)

// BuildIDEntry is one recorded (path, build-id) pair from the profiling
// session's metadata.
type BuildIDEntry struct {
	Path string
	ID   BuildID
}

// Context owns everything shared by the DSOs of a profiling session: the
// name-interning arena, the expected-build-id registry, the debug-file
// finder and kernel symbol configuration. It is constructed explicitly and
// resets itself once the last live DSO is closed, so the next session
// starts from clean state.
//
// DSOs and the context are meant to be driven by one goroutine at a time;
// only the build-id registry tolerates concurrent readers.
type Context struct {
	logger  log.Logger
	metrics *metrics.Metrics

	arena    *arena
	demangle bool

	vmlinux               string
	kallsyms              string
	kernelSymbolsFromProc bool

	buildIDs *xsync.MapOf[string, BuildID]
	finder   *DebugFileFinder

	dexDecoder dexfile.Decoder

	dsoCount int
	dumpID   uint32
}

// NewContext creates a session context. metrics may be nil for tests.
func NewContext(logger log.Logger, m *metrics.Metrics) *Context {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	finder := NewDebugFileFinder(logger)
	finder.metrics = m
	return &Context{
		logger:     logger,
		metrics:    m,
		arena:      newArena(),
		demangle:   true,
		buildIDs:   xsync.NewMapOf[string, BuildID](),
		finder:     finder,
		dexDecoder: dexfile.TableDecoder{},
	}
}

func (c *Context) SetDemangle(demangle bool) { c.demangle = demangle }

// SetVmlinux points the kernel loader at a full kernel image.
func (c *Context) SetVmlinux(path string) { c.vmlinux = path }

// SetKallsyms points the kernel loader at a textual symbol-table snapshot.
func (c *Context) SetKallsyms(path string) { c.kallsyms = path }

// AllowKernelSymbolsFromProc permits reading the live /proc/kallsyms even
// when no expected kernel build-id is known. Without it, live reads only
// happen when the recorded build-id matches the running kernel.
func (c *Context) AllowKernelSymbolsFromProc(allow bool) { c.kernelSymbolsFromProc = allow }

// SetDexDecoder overrides the DEX image decoder; the default decodes
// class/method tables directly.
func (c *Context) SetDexDecoder(dec dexfile.Decoder) { c.dexDecoder = dec }

// SetSymFS configures the debug-file search root.
func (c *Context) SetSymFS(dir string) error { return c.finder.SetSymFS(dir) }

// SetVdso records a vdso override for the given process bitness.
func (c *Context) SetVdso(path string, is64Bit bool) { c.finder.SetVdso(path, is64Bit) }

// Finder exposes debug-file resolution to collaborators that normalize
// paths themselves.
func (c *Context) Finder() *DebugFileFinder { return c.finder }

// SetBuildIDs installs the expected-build-id registry, replacing any
// previous content. Set once per session from recorded metadata.
func (c *Context) SetBuildIDs(entries []BuildIDEntry) {
	c.buildIDs.Clear()
	for _, e := range entries {
		c.buildIDs.Store(e.Path, e.ID)
	}
}

// ExpectedBuildID returns the build-id the session recorded for a path, or
// the empty id.
func (c *Context) ExpectedBuildID(path string) BuildID {
	id, _ := c.buildIDs.Load(path)
	return id
}

func (c *Context) createDumpID() uint32 {
	id := c.dumpID
	c.dumpID++
	return id
}

// reset drops all process-wide caches. Runs when the last DSO is closed.
func (c *Context) reset() {
	c.arena.reset()
	c.demangle = true
	c.vmlinux = ""
	c.kallsyms = ""
	c.kernelSymbolsFromProc = false
	c.buildIDs.Clear()
	c.dumpID = 0
	c.finder.Reset()
	c.dexDecoder = dexfile.TableDecoder{}
}

// LiveDsoCount reports how many DSOs created from this context are still
// open.
func (c *Context) LiveDsoCount() int { return c.dsoCount }
