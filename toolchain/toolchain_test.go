package toolchain_test

import (
	"context"
	stderrors "errors"
	"os/exec"
	"reflect"
	"strings"
	"testing"

	"github.com/colrdavidson/spall-web/errors"
	"github.com/colrdavidson/spall-web/toolchain"
	"github.com/colrdavidson/spall-web/toolchain/toolchaintest"
)

func TestCompileArgs(t *testing.T) {
	tests := []struct {
		name string
		opts toolchain.CompileOptions
		want []string
	}{
		{
			name: "debug",
			opts: toolchain.CompileOptions{
				Source:      "src",
				Output:      "build/spall.wasm",
				Collections: []toolchain.Collection{{Name: "formats", Path: "formats"}},
				Flags:       []string{"-debug"},
			},
			want: []string{"build", "src", "-collection:formats=formats", "-target:js_wasm32", "-out:build/spall.wasm", "-debug"},
		},
		{
			name: "release with imported memory",
			opts: toolchain.CompileOptions{
				Source: "src",
				Output: "build/spall.wasm",
				Target: "freestanding_wasm32",
				Flags:  []string{"-o:speed"},
				Memory: toolchain.Memory{Import: true, Initial: 65536 * 32, Max: 65536 * 65536},
				Extra:  []string{"-vet"},
			},
			want: []string{
				"build", "src", "-target:freestanding_wasm32", "-out:build/spall.wasm", "-o:speed",
				"-extra-linker-flags:--import-memory --initial-memory=2097152 --max-memory=4294967296",
				"-vet",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toolchain.CompileArgs(tt.opts); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("CompileArgs() = %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestToolchainCommands(t *testing.T) {
	ctx := context.Background()
	runner := toolchaintest.New().
		Handle("odin", toolchaintest.Succeed("")).
		Handle("wasm2wat", toolchaintest.Succeed("")).
		Handle("wat2wasm", toolchaintest.Succeed("")).
		Handle("wasm-opt", toolchaintest.Succeed(""))
	tc := toolchain.New(runner, toolchain.Tools{}, toolchain.WithDir("/work"))

	if _, err := tc.Compile(ctx, toolchain.CompileOptions{Source: "src", Output: "build/a.wasm", Flags: []string{"-debug"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := tc.Disassemble(ctx, "build/a.wasm", "build/a.wat"); err != nil {
		t.Fatal(err)
	}
	if _, err := tc.Assemble(ctx, "build/a_patched.wat", "build/a_patched.wasm"); err != nil {
		t.Fatal(err)
	}
	if _, err := tc.Optimize(ctx, "build/a_patched.wasm", "build/a_opt.wasm", []string{"-O3", "--strip-debug"}); err != nil {
		t.Fatal(err)
	}

	want := []toolchain.Command{
		{Phase: errors.PhaseCompile, Tool: "odin", Dir: "/work",
			Args: []string{"build", "src", "-target:js_wasm32", "-out:build/a.wasm", "-debug"}},
		{Phase: errors.PhaseDisassemble, Tool: "wasm2wat", Dir: "/work",
			Args: []string{"-o", "build/a.wat", "build/a.wasm"}},
		{Phase: errors.PhaseAssemble, Tool: "wat2wasm", Dir: "/work",
			Args: []string{"-o", "build/a_patched.wasm", "build/a_patched.wat"}},
		{Phase: errors.PhaseOptimize, Tool: "wasm-opt", Dir: "/work",
			Args: []string{"-O3", "--strip-debug", "--enable-bulk-memory", "build/a_patched.wasm", "-o", "build/a_opt.wasm"}},
	}
	if got := runner.Commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands:\n%+v\nwant:\n%+v", got, want)
	}
}

func TestToolchainFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		tc := toolchain.New(toolchaintest.New(), toolchain.Tools{})
		_, err := tc.Disassemble(ctx, "in.wasm", "out.wat")
		if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseDisassemble, Kind: errors.KindToolMissing}) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("assembler diagnostics", func(t *testing.T) {
		stderr := "build/spall_patched.wat:12:5: error: unexpected token \"memory.cpy\", expected an instr.\n" +
			"    memory.cpy\n    ^^^^^^^^^^\n" +
			"build/spall_patched.wat:40:1: warning: unused label\n"
		runner := toolchaintest.New().Handle("wat2wasm", toolchaintest.Fail(1, stderr))
		tc := toolchain.New(runner, toolchain.Tools{})

		diags, err := tc.Assemble(ctx, "build/spall_patched.wat", "build/spall_patched.wasm")
		if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseAssemble, Kind: errors.KindToolFailed}) {
			t.Fatalf("got %v", err)
		}
		if len(diags) != 2 {
			t.Fatalf("got %d diagnostics, want 2", len(diags))
		}
		if d := diags[0]; d.Line != 12 || d.Column != 5 || d.File != "build/spall_patched.wat" || d.Severity != "error" {
			t.Errorf("diagnostic = %+v", d)
		}
		if errs := toolchain.Errors(diags); len(errs) != 1 {
			t.Errorf("Errors() = %+v", errs)
		}
	})

	t.Run("canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		runner := toolchaintest.New().Handle("odin", toolchaintest.Succeed(""))
		_, err := toolchain.New(runner, toolchain.Tools{}).Compile(cctx, toolchain.CompileOptions{})
		if !stderrors.Is(err, context.Canceled) {
			t.Errorf("got %v", err)
		}
	})
}

func TestDiagnostics(t *testing.T) {
	out := "C:\\proj\\build\\a.wat:3:14: error: bad\r\nnoise\nnot:a:diag\n"
	diags := toolchain.Diagnostics(out)
	if len(diags) != 1 {
		t.Fatalf("got %+v", diags)
	}
	if diags[0].File != `C:\proj\build\a.wat` || diags[0].Line != 3 || diags[0].Column != 14 || diags[0].Message != "bad" {
		t.Errorf("diagnostic = %+v", diags[0])
	}
	if toolchain.Diagnostics("") != nil {
		t.Error("empty output should yield no diagnostics")
	}
}

func TestRequireVersion(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		output  string
		minimum string
		kind    errors.Kind
	}{
		{"newer", "1.0.34\n", "1.0.24", ""},
		{"equal", "1.0.24", "1.0.24", ""},
		{"with suffix", "wat2wasm 1.0.34 (git~v1.0.34)", "1.0.30", ""},
		{"older", "1.0.13\n", "1.0.24", errors.KindUnsupported},
		{"garbage", "unknown", "1.0.24", errors.KindUnsupported},
		{"bad minimum", "1.0.34", "one", errors.KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := toolchaintest.New().Handle("wat2wasm", toolchaintest.Succeed(tt.output))
			tc := toolchain.New(runner, toolchain.Tools{})
			err := tc.RequireVersion(ctx, errors.PhaseAssemble, "wat2wasm", tt.minimum)
			if tt.kind == "" {
				if err != nil {
					t.Fatalf("RequireVersion() failed: %v", err)
				}
				return
			}
			var e *errors.Error
			if !stderrors.As(err, &e) || e.Kind != tt.kind {
				t.Errorf("got %v, want kind %s", err, tt.kind)
			}
		})
	}

	t.Run("disabled check runs nothing", func(t *testing.T) {
		runner := toolchaintest.New()
		if err := toolchain.New(runner, toolchain.Tools{}).RequireVersion(ctx, errors.PhaseAssemble, "wat2wasm", ""); err != nil {
			t.Fatal(err)
		}
		if len(runner.Commands()) != 0 {
			t.Errorf("unexpected commands: %v", runner.Commands())
		}
	})
}

func TestExecRunner(t *testing.T) {
	ctx := context.Background()
	r := toolchain.NewExecRunner(nil)

	t.Run("missing binary", func(t *testing.T) {
		_, err := r.Run(ctx, toolchain.Command{Phase: errors.PhaseCompile, Tool: "spall-web-no-such-tool"})
		if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseCompile, Kind: errors.KindToolMissing}) {
			t.Errorf("got %v", err)
		}
	})

	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	t.Run("nonzero exit", func(t *testing.T) {
		out, err := r.Run(ctx, toolchain.Command{
			Phase: errors.PhaseAssemble,
			Tool:  sh,
			Args:  []string{"-c", "echo partial; echo boom >&2; exit 3"},
		})
		var e *errors.Error
		if !stderrors.As(err, &e) {
			t.Fatalf("got %v", err)
		}
		if e.Kind != errors.KindToolFailed || e.ExitCode != 3 {
			t.Errorf("error = %+v", e)
		}
		if !strings.Contains(e.Detail, "boom") || !strings.Contains(e.Detail, "partial") {
			t.Errorf("detail = %q", e.Detail)
		}
		if strings.TrimSpace(out.Stderr) != "boom" {
			t.Errorf("stderr = %q", out.Stderr)
		}
	})

	t.Run("success", func(t *testing.T) {
		out, err := r.Run(ctx, toolchain.Command{Tool: sh, Args: []string{"-c", "echo ok"}, Dir: t.TempDir()})
		if err != nil {
			t.Fatal(err)
		}
		if out.Stdout != "ok\n" {
			t.Errorf("stdout = %q", out.Stdout)
		}
	})

	t.Run("canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := r.Run(cctx, toolchain.Command{Phase: errors.PhaseCompile, Tool: sh, Args: []string{"-c", "sleep 5"}})
		if !stderrors.Is(err, context.Canceled) {
			t.Errorf("got %v", err)
		}
	})
}
