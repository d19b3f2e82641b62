// Package wasmtest builds small binary modules for tests that must not
// depend on an external assembler.
package wasmtest

import (
	"bytes"

	"github.com/colrdavidson/spall-web/wasm"
)

const i32 = byte(wasm.ValI32)

// Func describes one defined function. Code is the instruction bytes
// including the final end opcode.
type Func struct {
	Name    string
	Export  string
	Params  []byte
	Results []byte
	Locals  []byte
	Code    []byte
}

// Module describes a module with optional function imports and one memory.
type Module struct {
	ImportFuncs []string // names of (param i32) -> () imports from "env"
	MemoryPages uint32   // 0 means no memory
	Funcs       []Func
	Names       bool // emit a name section
}

// Memcpy is a byte-at-a-time copy loop returning the destination, the shape
// compilers emit as their portable fallback. It needs one i32 local.
var Memcpy = []byte{
	0x02, 0x40, // block
	0x20, 0x02, 0x45, 0x0D, 0x00, // local.get 2; i32.eqz; br_if 0
	0x03, 0x40, // loop
	0x20, 0x00, 0x20, 0x03, 0x6A, // local.get 0; local.get 3; i32.add
	0x20, 0x01, 0x20, 0x03, 0x6A, // local.get 1; local.get 3; i32.add
	0x2D, 0x00, 0x00, // i32.load8_u
	0x3A, 0x00, 0x00, // i32.store8
	0x20, 0x03, 0x41, 0x01, 0x6A, 0x22, 0x03, // local.get 3; i32.const 1; i32.add; local.tee 3
	0x20, 0x02, 0x49, 0x0D, 0x00, // local.get 2; i32.lt_u; br_if 0
	0x0B, 0x0B, // end; end
	0x20, 0x00, 0x0B, // local.get 0; end
}

// Memset is the fill counterpart of Memcpy. It needs one i32 local.
var Memset = []byte{
	0x02, 0x40,
	0x20, 0x02, 0x45, 0x0D, 0x00,
	0x03, 0x40,
	0x20, 0x00, 0x20, 0x03, 0x6A, // local.get 0; local.get 3; i32.add
	0x20, 0x01, // local.get 1
	0x3A, 0x00, 0x00, // i32.store8
	0x20, 0x03, 0x41, 0x01, 0x6A, 0x22, 0x03,
	0x20, 0x02, 0x49, 0x0D, 0x00,
	0x0B, 0x0B,
	0x20, 0x00, 0x0B,
}

// BulkCopy is the memory.copy replacement body.
var BulkCopy = []byte{0x20, 0x00, 0x20, 0x01, 0x20, 0x02, 0xFC, 0x0A, 0x00, 0x00, 0x20, 0x00, 0x0B}

// BulkFill is the memory.fill replacement body.
var BulkFill = []byte{0x20, 0x00, 0x20, 0x01, 0x20, 0x02, 0xFC, 0x0B, 0x00, 0x20, 0x00, 0x0B}

// MemFunc returns a (param i32 i32 i32) (result i32) function with the
// given body and one spare i32 local when the body is a software loop.
func MemFunc(name string, code []byte) Func {
	f := Func{
		Name:    name,
		Export:  name,
		Params:  []byte{i32, i32, i32},
		Results: []byte{i32},
		Code:    code,
	}
	if !bytes.Equal(code, BulkCopy) && !bytes.Equal(code, BulkFill) {
		f.Locals = []byte{i32}
	}
	return f
}

// Encode renders the module in the binary format.
func (m Module) Encode() []byte {
	var out bytes.Buffer
	out.Write([]byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00})

	// One type per defined function, then the shared import type.
	var types bytes.Buffer
	importType := uint32(len(m.Funcs))
	writeU32(&types, importType+1)
	for _, f := range m.Funcs {
		types.WriteByte(0x60)
		writeVec(&types, f.Params)
		writeVec(&types, f.Results)
	}
	types.Write([]byte{0x60, 0x01, i32, 0x00})
	section(&out, wasm.SectionType, types.Bytes())

	if len(m.ImportFuncs) > 0 {
		var imports bytes.Buffer
		writeU32(&imports, uint32(len(m.ImportFuncs)))
		for _, name := range m.ImportFuncs {
			writeName(&imports, "env")
			writeName(&imports, name)
			imports.WriteByte(wasm.KindFunc)
			writeU32(&imports, importType)
		}
		section(&out, wasm.SectionImport, imports.Bytes())
	}

	var funcs bytes.Buffer
	writeU32(&funcs, uint32(len(m.Funcs)))
	for i := range m.Funcs {
		writeU32(&funcs, uint32(i))
	}
	section(&out, wasm.SectionFunction, funcs.Bytes())

	if m.MemoryPages > 0 {
		var mem bytes.Buffer
		mem.Write([]byte{0x01, 0x00})
		writeU32(&mem, m.MemoryPages)
		section(&out, wasm.SectionMemory, mem.Bytes())
	}

	var exports bytes.Buffer
	var nexports uint32
	var body bytes.Buffer
	base := uint32(len(m.ImportFuncs))
	for i, f := range m.Funcs {
		if f.Export == "" {
			continue
		}
		nexports++
		writeName(&body, f.Export)
		body.WriteByte(wasm.KindFunc)
		writeU32(&body, base+uint32(i))
	}
	if m.MemoryPages > 0 {
		nexports++
		writeName(&body, "memory")
		body.WriteByte(wasm.KindMemory)
		writeU32(&body, 0)
	}
	writeU32(&exports, nexports)
	exports.Write(body.Bytes())
	section(&out, wasm.SectionExport, exports.Bytes())

	var code bytes.Buffer
	writeU32(&code, uint32(len(m.Funcs)))
	for _, f := range m.Funcs {
		var fb bytes.Buffer
		writeU32(&fb, uint32(len(f.Locals)))
		for _, l := range f.Locals {
			fb.Write([]byte{0x01, l})
		}
		fb.Write(f.Code)
		writeU32(&code, uint32(fb.Len()))
		code.Write(fb.Bytes())
	}
	section(&out, wasm.SectionCode, code.Bytes())

	if m.Names {
		var names bytes.Buffer
		writeName(&names, "name")
		var sub bytes.Buffer
		writeU32(&sub, uint32(len(m.ImportFuncs)+len(m.Funcs)))
		for i, name := range m.ImportFuncs {
			writeU32(&sub, uint32(i))
			writeName(&sub, name)
		}
		for i, f := range m.Funcs {
			writeU32(&sub, base+uint32(i))
			writeName(&sub, f.Name)
		}
		names.WriteByte(0x01)
		writeU32(&names, uint32(sub.Len()))
		names.Write(sub.Bytes())
		section(&out, wasm.SectionCustom, names.Bytes())
	}

	return out.Bytes()
}

func section(out *bytes.Buffer, id byte, payload []byte) {
	out.WriteByte(id)
	writeU32(out, uint32(len(payload)))
	out.Write(payload)
}

func writeVec(b *bytes.Buffer, v []byte) {
	writeU32(b, uint32(len(v)))
	b.Write(v)
}

func writeName(b *bytes.Buffer, s string) {
	writeU32(b, uint32(len(s)))
	b.WriteString(s)
}

func writeU32(b *bytes.Buffer, v uint32) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b.WriteByte(c)
		if v == 0 {
			return
		}
	}
}
