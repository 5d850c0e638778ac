package elffile

import (
	"bytes"
	"debug/elf"
	"io"
	"strings"
)

// InMemFile keeps only the parsed ELF headers and reads section contents
// on demand through an io.ReaderAt, so huge binaries do not get their
// section data pulled into memory up front.
type InMemFile struct {
	elf.FileHeader
	Sections []elf.SectionHeader
	Progs    []elf.ProgHeader

	stringCache map[int]string

	reader io.ReaderAt
}

func NewInMemFile(r io.ReaderAt) (*InMemFile, error) {
	res := &InMemFile{
		reader: r,
	}
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	progs := make([]elf.ProgHeader, 0, len(ef.Progs))
	sections := make([]elf.SectionHeader, 0, len(ef.Sections))
	for i := range ef.Progs {
		progs = append(progs, ef.Progs[i].ProgHeader)
	}
	for i := range ef.Sections {
		sections = append(sections, ef.Sections[i].SectionHeader)
	}
	res.FileHeader = ef.FileHeader
	res.Progs = progs
	res.Sections = sections
	return res, nil
}

func (f *InMemFile) Section(name string) *elf.SectionHeader {
	for i := range f.Sections {
		s := &f.Sections[i]
		if s.Name == name {
			return s
		}
	}
	return nil
}

func (f *InMemFile) sectionByType(typ elf.SectionType) *elf.SectionHeader {
	for i := range f.Sections {
		s := &f.Sections[i]
		if s.Type == typ {
			return s
		}
	}
	return nil
}

func (f *InMemFile) SectionData(s *elf.SectionHeader) ([]byte, error) {
	res := make([]byte, s.Size)
	if _, err := f.reader.ReadAt(res, int64(s.Offset)); err != nil {
		return nil, err
	}
	return res, nil
}

// getString extracts a NUL-terminated string from an ELF string table.
func (f *InMemFile) getString(start int) (string, bool) {
	if s, ok := f.stringCache[start]; ok {
		return s, true
	}
	const tmpBufSize = 128
	var tmpBuf [tmpBufSize]byte
	sb := strings.Builder{}
	for i := 0; i < 10; i++ {
		n, err := f.reader.ReadAt(tmpBuf[:], int64(start+i*tmpBufSize))
		if err != nil && n == 0 {
			return "", false
		}
		idx := bytes.IndexByte(tmpBuf[:n], 0)
		if idx >= 0 {
			sb.Write(tmpBuf[:idx])
			s := sb.String()
			if f.stringCache == nil {
				f.stringCache = make(map[int]string)
			}
			f.stringCache[start] = s
			return s, true
		}
		sb.Write(tmpBuf[:n])
		if err != nil {
			return "", false
		}
	}
	return "", false
}
