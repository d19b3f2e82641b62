// Package spallweb builds the spall trace viewer into a static web bundle.
//
// The build compiles the viewer to WebAssembly, optionally replaces the
// compiler's software memcpy, memmove and memset loops with single
// bulk-memory instructions, and publishes the module and its JavaScript
// runtime under build-unique names so browsers never serve a stale copy.
//
// # Architecture Overview
//
//	spallweb/
//	├── cmd/build/     CLI: profile selection, progress view, preview server
//	├── pipeline/      Stage orchestration, events and build report
//	├── toolchain/     Compiler, disassembler, assembler and optimizer adapters
//	├── wat/           Structural parse of text modules (function spans)
//	├── patch/         Locates target functions and substitutes bulk-memory bodies
//	├── wasm/          Binary decoder used to check reassembled modules
//	├── verify/        wazero validation and patched-body comparison
//	├── bundle/        Build ids, asset fingerprinting, distribution directory
//	├── preview/       Static file server for build/dist
//	├── config/        YAML configuration and build profiles
//	├── telemetry/     OpenTelemetry tracing of pipeline stages
//	└── errors/        Structured error types for debugging
//
// # Quick Start
//
// Build and serve a release bundle:
//
//	go run ./cmd/build extrarelease run
//
// Or drive the pipeline from Go:
//
//	cfg := config.Default()
//	report, err := pipeline.New(cfg, pipeline.WithLogger(logger)).Run(ctx, config.ExtraRelease)
//	if err != nil {
//		return err
//	}
//	fmt.Println(report.BuildID, report.Files)
//
// # Profiles
//
//	debug         odin -debug; module published as compiled
//	release       odin -o:speed
//	extrarelease  odin -o:speed, then wasm2wat → patch → wat2wasm → verify
//
// # Error Handling
//
// Every failure is an *errors.Error carrying the pipeline phase, a kind,
// and where known the tool, path, and patched function with its line span:
//
//	var e *errors.Error
//	if stderrors.As(err, &e) && e.Kind == errors.KindMalformedText {
//		fmt.Printf("%s rejected $%s (%s)\n", e.Tool, e.Function, e.Span)
//	}
//
// A failed build never leaves a distribution directory behind.
package spallweb
