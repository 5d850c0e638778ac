// Package dexfile produces symbol entries from DEX bytecode images embedded
// in a container file (a vdex/apk/odex blob recorded during profiling).
package dexfile

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// HeaderSize is the size of a DEX file header.
const HeaderSize = 0x70

const fileSizeOffset = 32

// MethodSymbol is one method with executable bytecode. CodeOffset and
// CodeLen describe the instruction stream, relative to the start of the
// DEX image the method was decoded from.
type MethodSymbol struct {
	Name       string
	CodeOffset uint64
	CodeLen    uint64
}

// Decoder turns a single in-memory DEX image into its method table.
type Decoder interface {
	Decode(image []byte) ([]MethodSymbol, error)
}

// ReadSymbols memory-maps the container at path and decodes a DEX image at
// every given byte offset, reporting each method through cb with
// container-relative addresses. Any out-of-range or truncated offset, or a
// decode failure, aborts the whole read: partial tables are never reported.
func ReadSymbols(path string, offsets []uint64, dec Decoder, cb func(MethodSymbol)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	fileSize := uint64(st.Size())
	if fileSize == 0 {
		return fmt.Errorf("%s is empty", path)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(fileSize), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return fmt.Errorf("mmap %s: %w", path, err)
	}
	defer unix.Munmap(data)

	for _, offset := range offsets {
		if offset >= fileSize || fileSize-offset < HeaderSize {
			return fmt.Errorf("dex offset %#x out of range in %s (size %#x)", offset, path, fileSize)
		}
		declared := uint64(binary.LittleEndian.Uint32(data[offset+fileSizeOffset:]))
		if fileSize-offset < declared {
			return fmt.Errorf("dex image at %#x truncated in %s", offset, path)
		}
		methods, err := dec.Decode(data[offset : offset+declared])
		if err != nil {
			return fmt.Errorf("decode dex image at %#x in %s: %w", offset, path, err)
		}
		for _, m := range methods {
			m.CodeOffset += offset
			cb(m)
		}
	}
	return nil
}
