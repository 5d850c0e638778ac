package dso

import (
	"bytes"
	"strconv"
)

// parseKallsyms scans a textual kernel symbol table:
//
//	ffffffffa0064000 T do_sys_open\t[module]
//
// and calls cb for every well-formed line. Malformed lines are skipped.
func parseKallsyms(kallsyms []byte, cb func(addr uint64, typ byte, name string)) {
	for len(kallsyms) > 0 {
		var line []byte
		if i := bytes.IndexByte(kallsyms, '\n'); i == -1 {
			line = kallsyms
			kallsyms = nil
		} else {
			line = kallsyms[:i]
			kallsyms = kallsyms[i+1:]
		}
		if len(line) == 0 {
			continue
		}
		space := bytes.IndexByte(line, ' ')
		if space == -1 {
			continue
		}
		addrStr := line[:space]
		line = line[space+1:]

		space = bytes.IndexByte(line, ' ')
		if space == -1 || space == 0 {
			continue
		}
		typ := line[0]
		line = line[space+1:]

		name := line
		if tab := bytes.IndexByte(line, '\t'); tab != -1 {
			name = line[:tab]
		}
		if len(name) == 0 {
			continue
		}
		addr, err := strconv.ParseUint(string(addrStr), 16, 64)
		if err != nil {
			continue
		}
		cb(addr, typ, string(name))
	}
}
