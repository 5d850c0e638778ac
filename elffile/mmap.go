package elffile

import (
	"bytes"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MMapedFile is an InMemFile backed by a read-only memory mapping of the
// file on disk.
type MMapedFile struct {
	InMemFile
	fpath string
	data  []byte
}

func NewMMapedFile(fpath string) (*MMapedFile, error) {
	f, err := os.Open(fpath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() == 0 {
		return nil, fmt.Errorf("%s is empty", fpath)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", fpath, err)
	}
	res := &MMapedFile{fpath: fpath, data: data}
	inmem, err := NewInMemFile(bytes.NewReader(data))
	if err != nil {
		_ = unix.Munmap(data)
		return nil, err
	}
	res.InMemFile = *inmem
	return res, nil
}

func (f *MMapedFile) FilePath() string {
	return f.fpath
}

// Data returns the whole mapping. Valid until Close.
func (f *MMapedFile) Data() []byte {
	return f.data
}

func (f *MMapedFile) Close() error {
	if f.data == nil {
		return nil
	}
	err := unix.Munmap(f.data)
	f.data = nil
	f.reader = nil
	return err
}
