// Package verify checks a reassembled module after patching.
//
// The checks:
//
//	Checker.Validate   compiles the module with wazero (bulk memory enabled)
//	Bodies             decodes the code section and compares each patched
//	                   body byte-for-byte with the expected encoding
//	Checker.Equivalent runs probe calls against two modules and compares
//	                   results and linear memory
//	Checker.Behavior   builds probes for each exported replacement and runs
//	                   Equivalent against the compiled original
//
// The pipeline runs Validate and Bodies through Checker.Check, then
// Behavior. Behavior skips modules that import their memory.
package verify
