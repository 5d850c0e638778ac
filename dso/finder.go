package dso

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/perftools/symres/metrics"
)

// hostDebugDir is where Linux hosts keep debug copies of shared libraries.
const hostDebugDir = "/usr/lib/debug"

const buildIDListName = "build_id_list"

const buildIDProbeCacheSize = 512

// DebugFileFinder locates the on-disk file that actually holds debug
// symbols for a recorded binary path. Candidates are only accepted when
// their own build-id equals the one the session expects, so a wrong-version
// file is never silently used.
type DebugFileFinder struct {
	logger  log.Logger
	metrics *metrics.Metrics

	symfsDir      string
	buildIDToFile map[string]string
	vdso32        string
	vdso64        string

	// path -> build-id read results; the same candidate files get probed
	// for many binaries
	probeCache *lru.Cache[string, BuildID]
}

func NewDebugFileFinder(logger log.Logger) *DebugFileFinder {
	cache, _ := lru.New[string, BuildID](buildIDProbeCacheSize)
	return &DebugFileFinder{
		logger:        logger,
		buildIDToFile: make(map[string]string),
		probeCache:    cache,
	}
}

func (f *DebugFileFinder) Reset() {
	f.symfsDir = ""
	f.buildIDToFile = make(map[string]string)
	f.vdso32 = ""
	f.vdso64 = ""
	f.probeCache.Purge()
}

// SetSymFS configures the search root. An empty dir disables the search.
// The root may contain a build_id_list index file with
// "<hex-build-id>=<relative-file>" lines; malformed lines are skipped.
func (f *DebugFileFinder) SetSymFS(dir string) error {
	if dir != "" {
		st, err := os.Stat(dir)
		if err != nil || !st.IsDir() {
			return fmt.Errorf("invalid symfs dir %q", dir)
		}
	}
	f.symfsDir = dir
	f.buildIDToFile = make(map[string]string)
	if dir == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(dir, buildIDListName))
	if err != nil {
		// the index is optional
		return nil
	}
	for _, line := range strings.Split(string(data), "\n") {
		items := strings.Split(line, "=")
		if len(items) != 2 {
			continue
		}
		f.buildIDToFile[items[0]] = items[1]
	}
	level.Debug(f.logger).Log("msg", "loaded build_id_list", "dir", dir, "entries", len(f.buildIDToFile))
	return nil
}

// SetVdso records an override for the synthetic "[vdso]" pseudo-binary,
// kept separately for 32-bit and 64-bit processes.
func (f *DebugFileFinder) SetVdso(path string, is64Bit bool) {
	if is64Bit {
		f.vdso64 = path
	} else {
		f.vdso32 = path
	}
}

// FindDebugFile returns the path to read debug symbols from for a recorded
// binary path, or the recorded path unchanged when nothing better is found.
func (f *DebugFileFinder) FindDebugFile(dsoPath string, force64Bit bool, expected BuildID) string {
	if dsoPath == "[vdso]" {
		if force64Bit && f.vdso64 != "" {
			return f.vdso64
		}
		if !force64Bit && f.vdso32 != "" {
			return f.vdso32
		}
		return dsoPath
	}
	if f.symfsDir == "" {
		return dsoPath
	}
	target := expected
	if target.IsEmpty() {
		target = f.buildIDOf(dsoPath)
	}
	if target.IsEmpty() {
		return dsoPath
	}
	check := func(path string) bool {
		id := f.buildIDOf(path)
		return !id.IsEmpty() && id == target
	}
	// 1. The explicit index is most trustworthy.
	if rel, ok := f.buildIDToFile[target.Hex()]; ok {
		if p := filepath.Join(f.symfsDir, rel); check(p) {
			return p
		}
	}
	// 2. A mirrored directory tree under the search root is the common case.
	if p := filepath.Join(f.symfsDir, dsoPath); check(p) {
		return p
	}
	// 3. Host debug directory as a last resort.
	if p := filepath.Join(hostDebugDir, dsoPath); check(p) {
		return p
	}
	if f.metrics != nil {
		f.metrics.DebugFileMissing.Inc()
	}
	level.Debug(f.logger).Log("msg", "no debug file found", "path", dsoPath, "build_id", target.Hex())
	return dsoPath
}

func (f *DebugFileFinder) buildIDOf(path string) BuildID {
	if id, ok := f.probeCache.Get(path); ok {
		return id
	}
	id := ReadBuildIDFromPath(path)
	f.probeCache.Add(path, id)
	return id
}
