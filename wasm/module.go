package wasm

import (
	"errors"
	"fmt"

	"github.com/colrdavidson/spall-web/wasm/internal/binary"
)

// Parsing errors returned by Decode.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// ParseError is the positioned error type returned for malformed sections.
type ParseError = binary.ParseError

// ValType is a value type byte.
type ValType byte

// Module is a partially decoded binary module.
type Module struct {
	Name     string
	Imports  []Import
	Funcs    []uint32
	Exports  []Export
	Code     []FuncBody
	Names    map[uint32]string
	Sections []Section
}

// Section locates a raw section within the module bytes.
type Section struct {
	ID     byte
	Name   string // custom sections only
	Offset int
	Size   int
}

// Import is an imported definition.
type Import struct {
	Module string
	Name   string
	Kind   byte
}

// Export is an exported definition.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// FuncBody represents a function's local declarations and bytecode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // raw code bytes including the end opcode
	Offset int    // absolute offset of the body size prefix
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// Decode parses the header and sections of a binary module.
func Decode(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastSectionOrder int

	for r.Len() > 0 {
		offset := r.Position()
		id, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("section header", err)
		}
		if id != SectionCustom {
			order := sectionOrder(id)
			if order == 0 {
				return nil, fmt.Errorf("unknown section ID: 0x%02x", id)
			}
			if order <= lastSectionOrder {
				return nil, fmt.Errorf("section %d appears out of order", id)
			}
			lastSectionOrder = order
		}

		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		sr, err := r.Sub(int(size))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}
		sec := Section{ID: id, Offset: offset, Size: int(size)}

		switch id {
		case SectionCustom:
			sec.Name, err = sr.ReadName()
			if err != nil {
				return nil, sr.WrapError("custom section", err)
			}
			if sec.Name == "name" {
				// A malformed name section does not invalidate the module.
				m.decodeNames(sr)
			}
		case SectionImport:
			err = m.decodeImports(sr)
		case SectionFunction:
			err = m.decodeFunctions(sr)
		case SectionExport:
			err = m.decodeExports(sr)
		case SectionCode:
			err = m.decodeCode(sr)
		}
		if err != nil {
			return nil, sr.WrapError(sectionName(id), err)
		}
		m.Sections = append(m.Sections, sec)
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("function and code section counts differ: %d vs %d", len(m.Funcs), len(m.Code))
	}
	return m, nil
}

// NumImportedFuncs returns the count of imported functions.
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			n++
		}
	}
	return n
}

// Body returns the code of the defIndex-th defined function.
func (m *Module) Body(defIndex int) (*FuncBody, bool) {
	if defIndex < 0 || defIndex >= len(m.Code) {
		return nil, false
	}
	return &m.Code[defIndex], true
}

// FuncIndex resolves a function name through the name section, falling back
// to function exports.
func (m *Module) FuncIndex(name string) (uint32, bool) {
	for idx, n := range m.Names {
		if n == name {
			return idx, true
		}
	}
	for _, exp := range m.Exports {
		if exp.Kind == KindFunc && exp.Name == name {
			return exp.Idx, true
		}
	}
	return 0, false
}

// HasSection reports whether a section with the given ID is present.
func (m *Module) HasSection(id byte) bool {
	for _, s := range m.Sections {
		if s.ID == id {
			return true
		}
	}
	return false
}

// sectionOrder returns the canonical ordering for a section ID, or 0 for
// unknown IDs.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	}
	return 0
}

func sectionName(id byte) string {
	switch id {
	case SectionImport:
		return "import section"
	case SectionFunction:
		return "function section"
	case SectionExport:
		return "export section"
	case SectionCode:
		return "code section"
	}
	return fmt.Sprintf("section %d", id)
}

// readCount reads a vector length. Every entry occupies at least one byte,
// so a count larger than the remaining input is corrupt.
func readCount(r *binary.Reader) (uint32, error) {
	count, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if uint64(count) > uint64(r.Len()) {
		return 0, fmt.Errorf("vector count %d exceeds %d remaining bytes", count, r.Len())
	}
	return count, nil
}

func (m *Module) decodeImports(r *binary.Reader) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Imports = make([]Import, 0, count)
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		switch kind {
		case KindFunc:
			_, err = r.ReadU32()
		case KindTable:
			if err = skipValType(r); err == nil {
				err = skipLimits(r)
			}
		case KindMemory:
			err = skipLimits(r)
		case KindGlobal:
			if err = skipValType(r); err == nil {
				_, err = r.ReadByte()
			}
		case KindTag:
			if _, err = r.ReadByte(); err == nil {
				_, err = r.ReadU32()
			}
		default:
			return fmt.Errorf("unknown import kind: %d", kind)
		}
		if err != nil {
			return err
		}
		m.Imports = append(m.Imports, Import{Module: module, Name: name, Kind: kind})
	}
	return nil
}

func (m *Module) decodeFunctions(r *binary.Reader) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := range m.Funcs {
		if m.Funcs[i], err = r.ReadU32(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) decodeExports(r *binary.Reader) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	for i := range m.Exports {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindTag {
			return fmt.Errorf("invalid export kind: 0x%02x", kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports[i] = Export{Name: name, Kind: kind, Idx: idx}
	}
	return nil
}

func (m *Module) decodeCode(r *binary.Reader) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, count)
	for i := range m.Code {
		offset := r.Position()
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		br, err := r.Sub(int(size))
		if err != nil {
			return err
		}

		localCount, err := br.ReadU32()
		if err != nil {
			return err
		}
		var locals []LocalEntry
		for j := uint32(0); j < localCount; j++ {
			n, err := br.ReadU32()
			if err != nil {
				return err
			}
			t, err := br.ReadByte()
			if err != nil {
				return err
			}
			if t == byte(ValRefNull) || t == byte(ValRef) {
				if err := br.SkipLEB128(); err != nil {
					return err
				}
			}
			locals = append(locals, LocalEntry{Count: n, ValType: ValType(t)})
		}

		m.Code[i] = FuncBody{Locals: locals, Code: br.Remaining(), Offset: offset}
	}
	return nil
}

func (m *Module) decodeNames(r *binary.Reader) {
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return
		}
		size, err := r.ReadU32()
		if err != nil {
			return
		}
		sub, err := r.Sub(int(size))
		if err != nil {
			return
		}
		switch id {
		case nameSubsectionModule:
			if name, err := sub.ReadName(); err == nil {
				m.Name = name
			}
		case nameSubsectionFunction:
			count, err := sub.ReadU32()
			if err != nil {
				return
			}
			names := make(map[uint32]string, count)
			for i := uint32(0); i < count; i++ {
				idx, err := sub.ReadU32()
				if err != nil {
					return
				}
				name, err := sub.ReadName()
				if err != nil {
					return
				}
				names[idx] = name
			}
			m.Names = names
		}
	}
}

func skipValType(r *binary.Reader) error {
	t, err := r.ReadByte()
	if err != nil {
		return err
	}
	if t == byte(ValRefNull) || t == byte(ValRef) {
		return r.SkipLEB128()
	}
	return nil
}

// skipLimits handles the limits flag byte, including the shared and
// 64-bit address variants.
func skipLimits(r *binary.Reader) error {
	flags, err := r.ReadByte()
	if err != nil {
		return err
	}
	if flags > 0x07 {
		return fmt.Errorf("invalid limits flags: 0x%02x", flags)
	}
	if _, err := r.ReadU64(); err != nil {
		return err
	}
	if flags&0x01 != 0 {
		if _, err := r.ReadU64(); err != nil {
			return err
		}
	}
	return nil
}
