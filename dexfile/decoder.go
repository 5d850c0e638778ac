package dexfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// TableDecoder decodes the class/method tables of a DEX image enough to
// enumerate methods that carry bytecode. Verification beyond what is needed
// to walk the tables safely is not attempted.
type TableDecoder struct{}

var dexMagic = []byte("dex\n")

const endianConstant = 0x12345678

type dexImage struct {
	data []byte

	stringIDsSize uint32
	stringIDsOff  uint32
	typeIDsSize   uint32
	typeIDsOff    uint32
	methodIDsSize uint32
	methodIDsOff  uint32
	classDefsSize uint32
	classDefsOff  uint32
}

func (TableDecoder) Decode(image []byte) ([]MethodSymbol, error) {
	img, err := newDexImage(image)
	if err != nil {
		return nil, err
	}
	var res []MethodSymbol
	for i := uint32(0); i < img.classDefsSize; i++ {
		if err := img.classMethods(i, &res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func newDexImage(data []byte) (*dexImage, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("dex image smaller than header")
	}
	if !bytes.Equal(data[0:4], dexMagic) {
		return nil, fmt.Errorf("bad dex magic")
	}
	if binary.LittleEndian.Uint32(data[40:44]) != endianConstant {
		return nil, fmt.Errorf("unsupported dex byte order")
	}
	img := &dexImage{
		data:          data,
		stringIDsSize: binary.LittleEndian.Uint32(data[56:60]),
		stringIDsOff:  binary.LittleEndian.Uint32(data[60:64]),
		typeIDsSize:   binary.LittleEndian.Uint32(data[64:68]),
		typeIDsOff:    binary.LittleEndian.Uint32(data[68:72]),
		methodIDsSize: binary.LittleEndian.Uint32(data[88:92]),
		methodIDsOff:  binary.LittleEndian.Uint32(data[92:96]),
		classDefsSize: binary.LittleEndian.Uint32(data[96:100]),
		classDefsOff:  binary.LittleEndian.Uint32(data[100:104]),
	}
	return img, nil
}

func (img *dexImage) u32(off uint64) (uint32, error) {
	if off+4 > uint64(len(img.data)) {
		return 0, fmt.Errorf("dex read at %#x out of bounds", off)
	}
	return binary.LittleEndian.Uint32(img.data[off:]), nil
}

func (img *dexImage) uleb128(off uint64) (uint64, uint64, error) {
	var res uint64
	var shift uint
	for i := uint64(0); i < 5; i++ {
		if off+i >= uint64(len(img.data)) {
			return 0, 0, fmt.Errorf("dex uleb128 at %#x out of bounds", off)
		}
		b := img.data[off+i]
		res |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return res, off + i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("dex uleb128 at %#x too long", off)
}

func (img *dexImage) stringAt(idx uint32) (string, error) {
	if idx >= img.stringIDsSize {
		return "", fmt.Errorf("dex string index %d out of range", idx)
	}
	off, err := img.u32(uint64(img.stringIDsOff) + uint64(idx)*4)
	if err != nil {
		return "", err
	}
	// string_data_item: uleb128 utf16 length, then MUTF-8 bytes, NUL terminated
	_, pos, err := img.uleb128(uint64(off))
	if err != nil {
		return "", err
	}
	end := bytes.IndexByte(img.data[pos:], 0)
	if end < 0 {
		return "", fmt.Errorf("unterminated dex string at %#x", off)
	}
	return string(img.data[pos : pos+uint64(end)]), nil
}

func (img *dexImage) typeDescriptor(idx uint32) (string, error) {
	if idx >= img.typeIDsSize {
		return "", fmt.Errorf("dex type index %d out of range", idx)
	}
	strIdx, err := img.u32(uint64(img.typeIDsOff) + uint64(idx)*4)
	if err != nil {
		return "", err
	}
	return img.stringAt(strIdx)
}

// prettyMethod renders a method_id the way humans read it:
// "com.example.Foo$1.run".
func (img *dexImage) prettyMethod(idx uint64) (string, error) {
	if idx >= uint64(img.methodIDsSize) {
		return "", fmt.Errorf("dex method index %d out of range", idx)
	}
	off := uint64(img.methodIDsOff) + idx*8
	if off+8 > uint64(len(img.data)) {
		return "", fmt.Errorf("dex method_id at %#x out of bounds", off)
	}
	classIdx := uint32(binary.LittleEndian.Uint16(img.data[off:]))
	nameIdx := binary.LittleEndian.Uint32(img.data[off+4:])
	desc, err := img.typeDescriptor(classIdx)
	if err != nil {
		return "", err
	}
	name, err := img.stringAt(nameIdx)
	if err != nil {
		return "", err
	}
	return prettyDescriptor(desc) + "." + name, nil
}

func prettyDescriptor(desc string) string {
	var dims int
	for dims < len(desc) && desc[dims] == '[' {
		dims++
	}
	elem := desc[dims:]
	var pretty string
	switch {
	case len(elem) > 2 && elem[0] == 'L' && elem[len(elem)-1] == ';':
		pretty = strings.ReplaceAll(elem[1:len(elem)-1], "/", ".")
	default:
		primitives := map[string]string{
			"V": "void", "Z": "boolean", "B": "byte", "S": "short", "C": "char",
			"I": "int", "J": "long", "F": "float", "D": "double",
		}
		if p, ok := primitives[elem]; ok {
			pretty = p
		} else {
			pretty = elem
		}
	}
	return pretty + strings.Repeat("[]", dims)
}

func (img *dexImage) classMethods(classIdx uint32, out *[]MethodSymbol) error {
	const classDefSize = 32
	const classDataOffField = 24
	off := uint64(img.classDefsOff) + uint64(classIdx)*classDefSize
	classDataOff, err := img.u32(off + classDataOffField)
	if err != nil {
		return err
	}
	if classDataOff == 0 {
		// class without code, e.g. a marker interface
		return nil
	}
	pos := uint64(classDataOff)
	var sizes [4]uint64 // static fields, instance fields, direct methods, virtual methods
	for i := range sizes {
		sizes[i], pos, err = img.uleb128(pos)
		if err != nil {
			return err
		}
	}
	// encoded_field: field_idx_diff, access_flags
	for i := uint64(0); i < sizes[0]+sizes[1]; i++ {
		if _, pos, err = img.uleb128(pos); err != nil {
			return err
		}
		if _, pos, err = img.uleb128(pos); err != nil {
			return err
		}
	}
	for _, count := range sizes[2:] {
		var methodIdx uint64
		for i := uint64(0); i < count; i++ {
			var diff, codeOff uint64
			if diff, pos, err = img.uleb128(pos); err != nil {
				return err
			}
			if _, pos, err = img.uleb128(pos); err != nil { // access_flags
				return err
			}
			if codeOff, pos, err = img.uleb128(pos); err != nil {
				return err
			}
			methodIdx += diff
			if codeOff == 0 {
				continue // abstract or native
			}
			sym, err := img.codeItemSymbol(methodIdx, codeOff)
			if err != nil {
				return err
			}
			*out = append(*out, sym)
		}
	}
	return nil
}

func (img *dexImage) codeItemSymbol(methodIdx, codeOff uint64) (MethodSymbol, error) {
	const insnsSizeField = 12
	const insnsField = 16
	insnsSize, err := img.u32(codeOff + insnsSizeField)
	if err != nil {
		return MethodSymbol{}, err
	}
	codeLen := uint64(insnsSize) * 2 // insns_size counts 16-bit units
	if codeOff+insnsField+codeLen > uint64(len(img.data)) {
		return MethodSymbol{}, fmt.Errorf("dex code item at %#x out of bounds", codeOff)
	}
	name, err := img.prettyMethod(methodIdx)
	if err != nil {
		return MethodSymbol{}, err
	}
	return MethodSymbol{
		Name:       name,
		CodeOffset: codeOff + insnsField,
		CodeLen:    codeLen,
	}, nil
}
