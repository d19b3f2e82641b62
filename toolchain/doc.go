// Package toolchain wraps the external programs the build depends on: the
// Odin compiler, the wabt disassembler and assembler, and binaryen's
// optimizer.
//
// Every invocation goes through a Runner so the pipeline can be tested
// without the tools installed. ExecRunner is the real implementation; it
// captures output and classifies failures:
//
//	binary not on PATH      -> errors.KindToolMissing
//	nonzero exit status     -> errors.KindToolFailed, last lines of output in Detail
//	context canceled        -> errors.KindToolFailed wrapping ctx.Err()
//
// Failures are never ignored; a build that cannot run a tool stops.
package toolchain
