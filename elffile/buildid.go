package elffile

import (
	"encoding/binary"
	"fmt"
	"os"
)

var (
	ErrNoBuildID = fmt.Errorf("build ID note not found")
)

const ntGNUBuildID = 3

// parseNotes walks a SHT_NOTE payload and returns the descriptor of the
// first GNU build-id record, if any.
func parseNotes(data []byte) ([]byte, error) {
	for len(data) >= 12 {
		namesz := binary.LittleEndian.Uint32(data[0:4])
		descsz := binary.LittleEndian.Uint32(data[4:8])
		typ := binary.LittleEndian.Uint32(data[8:12])
		data = data[12:]
		nameEnd := align4(namesz)
		if uint64(nameEnd)+uint64(align4(descsz)) > uint64(len(data)) {
			break
		}
		name := data[:namesz]
		desc := data[nameEnd : nameEnd+descsz]
		data = data[nameEnd+align4(descsz):]
		if typ == ntGNUBuildID && string(trimNul(name)) == "GNU" {
			return desc, nil
		}
	}
	return nil, ErrNoBuildID
}

func align4(v uint32) uint32 {
	return (v + 3) &^ 3
}

func trimNul(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b
}

// GNUBuildID returns the raw GNU build-id bytes of the file, usually 20
// bytes of SHA1 but 8-byte xxhash ids exist in the wild.
func (f *InMemFile) GNUBuildID() ([]byte, error) {
	s := f.Section(".note.gnu.build-id")
	if s == nil {
		return nil, ErrNoBuildID
	}
	data, err := f.SectionData(s)
	if err != nil {
		return nil, fmt.Errorf("reading .note.gnu.build-id: %w", err)
	}
	return parseNotes(data)
}

// ReadBuildID reads the GNU build-id of an on-disk binary. Archive paths
// of the form "app.apk!/lib/libx.so" read the embedded entry.
func ReadBuildID(path string) ([]byte, error) {
	container, entry, ok := SplitArchivePath(path)
	if ok {
		r, closer, err := openArchiveEntry(container, entry)
		if err != nil {
			return nil, err
		}
		defer closer()
		f, err := NewInMemFile(r)
		if err != nil {
			return nil, err
		}
		return f.GNUBuildID()
	}
	f, err := NewMMapedFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.GNUBuildID()
}

// kernelNotesPath is the note blob the running kernel exposes; it carries
// the same GNU build-id record as a vmlinux image.
var kernelNotesPath = "/sys/kernel/notes"

// CurrentKernelBuildID returns the build-id of the running kernel.
func CurrentKernelBuildID() ([]byte, error) {
	data, err := os.ReadFile(kernelNotesPath)
	if err != nil {
		return nil, err
	}
	return parseNotes(data)
}
