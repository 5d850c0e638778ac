package elffile

import (
	"bytes"
	"io"

	"github.com/ulikunitz/xz"
)

// miniDebugInfo opens the xz-compressed inner ELF stored in .gnu_debugdata.
func (f *InMemFile) miniDebugInfo() (*InMemFile, error) {
	s := f.Section(".gnu_debugdata")
	if s == nil {
		return nil, ErrNoSymbols
	}
	data, err := f.SectionData(s)
	if err != nil {
		return nil, err
	}
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var uncompressed bytes.Buffer
	if _, err := io.Copy(&uncompressed, r); err != nil {
		return nil, err
	}
	return NewInMemFile(bytes.NewReader(uncompressed.Bytes()))
}
