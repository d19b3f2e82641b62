package toolchain

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/colrdavidson/spall-web/errors"
)

// Tools names the executables. Values may be bare names resolved on PATH or
// paths.
type Tools struct {
	Compiler     string
	Disassembler string
	Assembler    string
	Optimizer    string
}

// DefaultTools are the names the build has always used.
var DefaultTools = Tools{
	Compiler:     "odin",
	Disassembler: "wasm2wat",
	Assembler:    "wat2wasm",
	Optimizer:    "wasm-opt",
}

// Collection is a named Odin library collection passed to the compiler.
type Collection struct {
	Name string
	Path string
}

// Memory configures the imported linear memory. Sizes are in bytes and
// must be multiples of the 64KiB page size.
type Memory struct {
	Import  bool
	Initial uint64
	Max     uint64
}

// CompileOptions describe one compiler invocation.
type CompileOptions struct {
	Source      string
	Output      string
	Target      string
	Collections []Collection
	// Flags are the profile's optimization flags, e.g. -debug or -o:speed.
	Flags  []string
	Memory Memory
	Extra  []string
}

// Option configures a Toolchain.
type Option func(*Toolchain)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Toolchain) {
		t.logger = logger
	}
}

// WithDir sets the working directory for every invocation.
func WithDir(dir string) Option {
	return func(t *Toolchain) {
		t.dir = dir
	}
}

// Toolchain issues the fixed argument shapes for each tool.
type Toolchain struct {
	runner Runner
	logger *zap.Logger
	tools  Tools
	dir    string
}

// New creates a Toolchain. Empty tool names fall back to DefaultTools.
func New(runner Runner, tools Tools, opts ...Option) *Toolchain {
	if tools.Compiler == "" {
		tools.Compiler = DefaultTools.Compiler
	}
	if tools.Disassembler == "" {
		tools.Disassembler = DefaultTools.Disassembler
	}
	if tools.Assembler == "" {
		tools.Assembler = DefaultTools.Assembler
	}
	if tools.Optimizer == "" {
		tools.Optimizer = DefaultTools.Optimizer
	}

	t := &Toolchain{runner: runner, tools: tools}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	return t
}

// Tools returns the resolved tool names.
func (t *Toolchain) Tools() Tools {
	return t.tools
}

// Compile builds the source package into a binary module.
func (t *Toolchain) Compile(ctx context.Context, opts CompileOptions) (Output, error) {
	return t.run(ctx, errors.PhaseCompile, t.tools.Compiler, CompileArgs(opts))
}

// Disassemble converts a binary module to text.
func (t *Toolchain) Disassemble(ctx context.Context, in, out string) (Output, error) {
	return t.run(ctx, errors.PhaseDisassemble, t.tools.Disassembler, []string{"-o", out, in})
}

// Assemble converts a text module to binary. On failure the diagnostics the
// assembler printed are returned alongside the error.
func (t *Toolchain) Assemble(ctx context.Context, in, out string) ([]Diagnostic, error) {
	res, err := t.run(ctx, errors.PhaseAssemble, t.tools.Assembler, []string{"-o", out, in})
	if err != nil {
		return Diagnostics(res.Stderr), err
	}
	return nil, nil
}

// Optimize runs the optimizer with the given passes. Bulk memory is always
// enabled so patched bodies survive.
func (t *Toolchain) Optimize(ctx context.Context, in, out string, passes []string) (Output, error) {
	args := make([]string, 0, len(passes)+4)
	args = append(args, passes...)
	args = append(args, "--enable-bulk-memory", in, "-o", out)
	return t.run(ctx, errors.PhaseOptimize, t.tools.Optimizer, args)
}

// CompileArgs renders the compiler command line:
//
//	build <src> -collection:<k>=<v>... -target:<t> -out:<path> <flags...>
//	    [-extra-linker-flags:--import-memory --initial-memory=N --max-memory=M]
func CompileArgs(opts CompileOptions) []string {
	args := []string{"build", opts.Source}
	for _, c := range opts.Collections {
		args = append(args, "-collection:"+c.Name+"="+c.Path)
	}
	target := opts.Target
	if target == "" {
		target = "js_wasm32"
	}
	args = append(args, "-target:"+target, "-out:"+opts.Output)
	args = append(args, opts.Flags...)
	if opts.Memory.Import {
		args = append(args, fmt.Sprintf("-extra-linker-flags:--import-memory --initial-memory=%d --max-memory=%d",
			opts.Memory.Initial, opts.Memory.Max))
	}
	return append(args, opts.Extra...)
}

func (t *Toolchain) run(ctx context.Context, phase errors.Phase, tool string, args []string) (Output, error) {
	cmd := Command{Phase: phase, Tool: tool, Args: args, Dir: t.dir}
	t.logger.Info("running tool", zap.String("phase", string(phase)), zap.Stringer("command", cmd))

	out, err := t.runner.Run(ctx, cmd)
	if err != nil {
		t.logger.Error("tool failed", zap.String("tool", tool), zap.Error(err))
		return out, err
	}
	if out.Stderr != "" {
		t.logger.Debug("tool output", zap.String("tool", tool), zap.String("stderr", out.Stderr))
	}
	return out, nil
}
