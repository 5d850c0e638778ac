package dso

import (
	"encoding/hex"

	"github.com/perftools/symres/elffile"
)

// BuildIDSize is the fixed identifier length (SHA1-sized). Shorter raw ids
// seen in the wild (8-byte xxhash) are zero-padded.
const BuildIDSize = 20

// BuildID is an immutable binary identity fingerprint. The zero value is
// the empty id.
type BuildID struct {
	data [BuildIDSize]byte
}

func BuildIDFromBytes(b []byte) BuildID {
	var id BuildID
	copy(id.data[:], b)
	return id
}

// BuildIDFromHex decodes the lowercase-hex textual form. A string of the
// wrong length or with non-hex characters yields the empty id.
func BuildIDFromHex(s string) BuildID {
	if len(s) != BuildIDSize*2 {
		return BuildID{}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return BuildID{}
	}
	return BuildIDFromBytes(b)
}

func (id BuildID) Hex() string {
	return hex.EncodeToString(id.data[:])
}

func (id BuildID) IsEmpty() bool {
	return id == BuildID{}
}

func (id BuildID) Bytes() []byte {
	if id.IsEmpty() {
		return nil
	}
	return id.data[:]
}

// ReadBuildIDFromPath reads the build-id embedded in a binary, looking
// inside archive containers when the path says so. The empty id is returned
// when the binary has none.
func ReadBuildIDFromPath(path string) BuildID {
	raw, err := elffile.ReadBuildID(path)
	if err != nil {
		return BuildID{}
	}
	return BuildIDFromBytes(raw)
}
