package dso

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// arena interns symbol names so the hundreds of thousands of entries a big
// symbol table carries share storage. Interned strings stay alive until the
// arena is reset, which only happens once no DSOs remain.
type arena struct {
	buckets map[uint64][]string
	count   int
}

func newArena() *arena {
	return &arena{buckets: make(map[uint64][]string)}
}

func (a *arena) intern(s string) string {
	h := xxhash.Sum64String(s)
	for _, v := range a.buckets[h] {
		if v == s {
			return v
		}
	}
	// detach from whatever larger buffer the caller sliced this out of
	v := strings.Clone(s)
	a.buckets[h] = append(a.buckets[h], v)
	a.count++
	return v
}

func (a *arena) reset() {
	a.buckets = make(map[uint64][]string)
	a.count = 0
}
