package dso

import (
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// linkerPrefix marks symbols internal to the Android dynamic linker; they
// are kept visually distinguishable in reports.
const linkerPrefix = "__dl_"

// Demangle converts a mangled symbol name into its human-readable form.
// Linker-internal names are demangled on the remainder and tagged
// "[linker]" whether or not demangling succeeds.
func (c *Context) Demangle(name string) string {
	if !c.demangle {
		return name
	}
	isLinker := strings.HasPrefix(name, linkerPrefix)
	mangled := name
	if isLinker {
		mangled = name[len(linkerPrefix):]
	}
	out, err := demangle.ToString(mangled)
	if err != nil {
		out = mangled
	}
	if isLinker {
		return "[linker]" + out
	}
	if err != nil {
		return name
	}
	return out
}
