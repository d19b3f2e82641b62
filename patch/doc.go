// Package patch replaces compiler-emitted memory routines in a text module
// with single bulk-memory instructions.
//
// Toolchains targeting wasm32 ship byte-at-a-time fallbacks for memcpy,
// memmove and memset because they cannot assume the bulk-memory proposal.
// When the target engine supports it, each of those bodies can become:
//
//	local.get 0
//	local.get 1
//	local.get 2
//	memory.copy   ;; memory.fill for memset
//	local.get 0
//
// Apply locates the functions structurally (see package wat), keeps every
// header byte-for-byte, and swaps only the body. A target that is absent or
// has an unexpected shape is reported in the Result and logged as a
// warning; the module is still valid, only slower.
package patch
