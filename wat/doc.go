// Package wat provides a structural view of WebAssembly Text modules.
//
// It does not compile text to binary. It parses just enough of the text
// format to locate top-level function definitions and describe them: name,
// signature clauses, locals, and the byte span of the whole form, so callers
// can rewrite a function in place without disturbing any other text.
//
// Basic usage:
//
//	mod, err := wat.Parse(text)
//	for _, f := range mod.Lookup("memcpy") {
//		fmt.Println(f.Name, f.Header(), f.Line, f.EndLine)
//	}
//
// Handled forms:
//   - (module $id? field*) and bare field sequences without a module wrapper
//   - (func $id? (export "n")* (import "m" "n")? (type N)? (param ...)* (result ...)* (local ...)* instr*)
//   - (import "m" "n" (func ...)) counted into the function index space
//   - every other top-level field is skipped as an opaque balanced form
//   - line (;;) and block (; ;) comments, including disassembler index annotations
//
// Instruction bodies are kept as tokens and never interpreted beyond what
// Func.References needs.
package wat
