// Package wasm decodes the parts of a WebAssembly binary module that the
// build pipeline needs to inspect after reassembly.
//
// It is not a full decoder. Decode walks every section, checks header and
// section order, and materializes only:
//
//	module.Imports   []Import    // all imports; function imports shift indices
//	module.Funcs     []uint32    // type index per defined function
//	module.Exports   []Export
//	module.Code      []FuncBody  // locals and raw bytecode per defined function
//	module.Names     map[uint32]string // "name" custom section, if present
//
// Other sections are skipped and listed in module.Sections.
//
// Typical use:
//
//	mod, err := wasm.Decode(data)
//	if err != nil {
//	    return err
//	}
//	body, ok := mod.Body(defIndex)
package wasm
