package verify

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/colrdavidson/spall-web/errors"
)

// Probe is one exported function call made against both modules.
type Probe struct {
	Func string
	Args []uint64
	// Memory is written at address 0 before the call.
	Memory []byte
}

type outcome struct {
	results []uint64
	memory  []byte
}

// Equivalent runs each probe on fresh instances of original and patched and
// compares the returned values and the final contents of linear memory.
// Function imports are satisfied by stubs returning zeros; modules that
// import their memory are not supported.
func (c *Checker) Equivalent(ctx context.Context, original, patched []byte, probes []Probe) error {
	for i, probe := range probes {
		fail := errors.New(errors.PhaseVerify, errors.KindVerification).Function(probe.Func)

		want, err := c.run(ctx, original, probe)
		if err != nil {
			return fail.Detail("probe %d on original module", i).Cause(err).Build()
		}
		got, err := c.run(ctx, patched, probe)
		if err != nil {
			return fail.Detail("probe %d on patched module", i).Cause(err).Build()
		}

		if !slices.Equal(want.results, got.results) {
			return fail.Detail("probe %d returned %v, original returned %v", i, got.results, want.results).Build()
		}
		if len(want.memory) != len(got.memory) {
			return fail.Detail("probe %d left %d bytes of memory, original left %d", i, len(got.memory), len(want.memory)).Build()
		}
		if off := firstDiff(want.memory, got.memory); off >= 0 {
			return fail.Detail("probe %d memory differs at offset %d: got 0x%02x, want 0x%02x",
				i, off, got.memory[off], want.memory[off]).Build()
		}
		c.logger.Debug("probe matched",
			zap.String("function", probe.Func),
			zap.Uint64s("args", probe.Args))
	}
	return nil
}

func (c *Checker) run(ctx context.Context, bin []byte, probe Probe) (*outcome, error) {
	rt := wazero.NewRuntimeWithConfig(ctx, c.runtime)
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, err
	}
	if len(compiled.ImportedMemories()) > 0 {
		return nil, errors.New(errors.PhaseVerify, errors.KindUnsupported).
			Detail("module imports its memory").
			Build()
	}
	if err := stubImports(ctx, rt, compiled); err != nil {
		return nil, err
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return nil, err
	}

	fn := mod.ExportedFunction(probe.Func)
	if fn == nil {
		return nil, fmt.Errorf("function %q is not exported", probe.Func)
	}

	mem := mod.Memory()
	if len(probe.Memory) > 0 {
		if mem == nil {
			return nil, fmt.Errorf("module has no memory")
		}
		if !mem.Write(0, probe.Memory) {
			return nil, fmt.Errorf("probe memory of %d bytes exceeds %d", len(probe.Memory), mem.Size())
		}
	}

	results, err := fn.Call(ctx, probe.Args...)
	if err != nil {
		return nil, err
	}

	out := &outcome{results: results}
	if mem != nil {
		data, _ := mem.Read(0, mem.Size())
		out.memory = bytes.Clone(data)
	}
	return out, nil
}

// stubImports instantiates one host module per imported module name, each
// function returning zero values.
func stubImports(ctx context.Context, rt wazero.Runtime, compiled wazero.CompiledModule) error {
	builders := make(map[string]wazero.HostModuleBuilder)
	var order []string

	for _, def := range compiled.ImportedFunctions() {
		moduleName, name, _ := def.Import()
		b, ok := builders[moduleName]
		if !ok {
			b = rt.NewHostModuleBuilder(moduleName)
			order = append(order, moduleName)
		}
		results := def.ResultTypes()
		builders[moduleName] = b.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
				for i := range results {
					stack[i] = 0
				}
			}), def.ParamTypes(), results).
			Export(name)
	}

	for _, name := range order {
		if _, err := builders[name].Instantiate(ctx); err != nil {
			return fmt.Errorf("stub imports for %q: %w", name, err)
		}
	}
	return nil
}

func firstDiff(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return -1
}
