// Package errors provides structured error types for the build pipeline.
//
// Errors are categorized by Phase (the pipeline stage that failed) and Kind
// (error category). The Error type carries the context needed to act on a
// failure: the external tool, the file path, the patched function and its
// line span, and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseAssemble, errors.KindMalformedText).
//		Function("memcpy").
//		Span("lines 120-126").
//		Detail("wat2wasm rejected replacement body").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.ToolFailed(errors.PhaseCompile, "odin", 1, stderr, cause)
//	err := errors.FileError(errors.PhaseBundle, "build/dist/index.html", cause)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
