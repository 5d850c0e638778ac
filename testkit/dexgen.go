package testkit

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// DexMethod is one bytecode-carrying method of a generated DEX image.
type DexMethod struct {
	Class string // type descriptor, e.g. "Lcom/example/Foo;"
	Name  string
	Insns []uint16 // instruction stream, 16-bit code units
}

// BuildDex produces a single-class DEX image. All methods must share the
// same class descriptor. Returns the image and the image-relative offsets
// of each method's instruction stream.
func BuildDex(t testing.TB, methods []DexMethod) ([]byte, []uint64) {
	t.Helper()
	if len(methods) == 0 {
		t.Fatal("BuildDex needs at least one method")
	}
	class := methods[0].Class
	for _, m := range methods {
		if m.Class != class {
			t.Fatal("BuildDex supports one class per image")
		}
	}

	// strings: class descriptor, "V" (void), shorty "V", method names
	strnames := []string{class, "V"}
	nameIdx := make([]uint32, len(methods))
	for i, m := range methods {
		nameIdx[i] = uint32(len(strnames))
		strnames = append(strnames, m.Name)
	}

	const headerSize = 0x70
	stringIDsOff := headerSize
	typeIDsOff := stringIDsOff + 4*len(strnames)
	protoIDsOff := typeIDsOff + 4*2 // two types: class, V
	methodIDsOff := protoIDsOff + 12
	classDefsOff := methodIDsOff + 8*len(methods)
	classDataOff := classDefsOff + 32

	// class_data: 4 list sizes + per-method (idx_diff, access, code_off)
	// uleb128 values; generate with final code offsets, so lay code items
	// first at a known aligned position after a generous class-data slot.
	classDataMax := 4 + len(methods)*15
	codeOff := align(classDataOff+classDataMax, 4)

	codeOffsets := make([]int, len(methods))
	insnOffsets := make([]uint64, len(methods))
	pos := codeOff
	for i, m := range methods {
		codeOffsets[i] = pos
		insnOffsets[i] = uint64(pos + 16)
		pos = align(pos+16+2*len(m.Insns), 4)
	}
	stringDataOff := pos

	buf := make([]byte, stringDataOff)
	u32 := func(off int, v uint32) { binary.LittleEndian.PutUint32(buf[off:], v) }
	u16 := func(off int, v uint16) { binary.LittleEndian.PutUint16(buf[off:], v) }

	// string data, appended at the tail
	var tail bytes.Buffer
	for i, s := range strnames {
		u32(stringIDsOff+4*i, uint32(stringDataOff+tail.Len()))
		tail.Write(uleb(uint64(len(s)))) // utf16 length; ascii only here
		tail.WriteString(s)
		tail.WriteByte(0)
	}

	u32(typeIDsOff, 0)   // type 0 -> class descriptor string
	u32(typeIDsOff+4, 1) // type 1 -> "V"

	u32(protoIDsOff, 1)   // shorty_idx, reuses the "V" string
	u32(protoIDsOff+4, 1) // return type V
	u32(protoIDsOff+8, 0) // no parameters

	for i := range methods {
		off := methodIDsOff + 8*i
		u16(off, 0)   // class_idx
		u16(off+2, 0) // proto_idx
		u32(off+4, nameIdx[i])
	}

	// class_def
	u32(classDefsOff, 0)             // class_idx
	u32(classDefsOff+8, 0xffffffff)  // superclass NO_INDEX
	u32(classDefsOff+16, 0xffffffff) // source_file NO_INDEX
	u32(classDefsOff+24, uint32(classDataOff))

	// class_data: no fields, all methods direct
	var cd bytes.Buffer
	cd.Write(uleb(0))
	cd.Write(uleb(0))
	cd.Write(uleb(uint64(len(methods))))
	cd.Write(uleb(0))
	for i := range methods {
		diff := uint64(0)
		if i > 0 {
			diff = 1
		}
		cd.Write(uleb(diff))
		cd.Write(uleb(1)) // ACC_PUBLIC
		cd.Write(uleb(uint64(codeOffsets[i])))
	}
	if cd.Len() > classDataMax {
		t.Fatal("class data overflow")
	}
	copy(buf[classDataOff:], cd.Bytes())

	for i, m := range methods {
		off := codeOffsets[i]
		u16(off, 1) // registers_size
		u32(off+12, uint32(len(m.Insns)))
		for j, ins := range m.Insns {
			u16(off+16+2*j, ins)
		}
	}

	image := append(buf, tail.Bytes()...)

	copy(image, []byte("dex\n035\x00"))
	binary.LittleEndian.PutUint32(image[32:], uint32(len(image))) // file_size
	binary.LittleEndian.PutUint32(image[36:], headerSize)
	binary.LittleEndian.PutUint32(image[40:], 0x12345678) // endian_tag
	binary.LittleEndian.PutUint32(image[56:], uint32(len(strnames)))
	binary.LittleEndian.PutUint32(image[60:], uint32(stringIDsOff))
	binary.LittleEndian.PutUint32(image[64:], 2)
	binary.LittleEndian.PutUint32(image[68:], uint32(typeIDsOff))
	binary.LittleEndian.PutUint32(image[72:], 1)
	binary.LittleEndian.PutUint32(image[76:], uint32(protoIDsOff))
	binary.LittleEndian.PutUint32(image[88:], uint32(len(methods)))
	binary.LittleEndian.PutUint32(image[92:], uint32(methodIDsOff))
	binary.LittleEndian.PutUint32(image[96:], 1)
	binary.LittleEndian.PutUint32(image[100:], uint32(classDefsOff))
	return image, insnOffsets
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func align(v, to int) int {
	return (v + to - 1) / to * to
}
