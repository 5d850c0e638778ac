package elffile

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

// archiveSeparator splits an archive container path from the entry inside
// it: "base.apk!/lib/arm64/libapp.so".
const archiveSeparator = "!/"

func SplitArchivePath(path string) (container string, entry string, ok bool) {
	i := strings.Index(path, archiveSeparator)
	if i <= 0 || i+len(archiveSeparator) >= len(path) {
		return "", "", false
	}
	return path[:i], path[i+len(archiveSeparator):], true
}

// openArchiveEntry gives ReaderAt access to one zip entry. Stored entries
// are read in place through a section of the archive file; compressed
// entries are inflated into memory.
func openArchiveEntry(container, entry string) (io.ReaderAt, func(), error) {
	zr, err := zip.OpenReader(container)
	if err != nil {
		return nil, nil, err
	}
	for _, zf := range zr.File {
		if zf.Name != entry {
			continue
		}
		if zf.Method == zip.Store {
			off, err := zf.DataOffset()
			if err != nil {
				zr.Close()
				return nil, nil, err
			}
			f, err := os.Open(container)
			if err != nil {
				zr.Close()
				return nil, nil, err
			}
			zr.Close()
			r := io.NewSectionReader(f, off, int64(zf.UncompressedSize64))
			return r, func() { f.Close() }, nil
		}
		rc, err := zf.Open()
		if err != nil {
			zr.Close()
			return nil, nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		zr.Close()
		if err != nil {
			return nil, nil, err
		}
		return bytes.NewReader(data), func() {}, nil
	}
	zr.Close()
	return nil, nil, fmt.Errorf("entry %q not found in %s", entry, container)
}
