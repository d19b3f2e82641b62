package verify

import (
	"bytes"
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/colrdavidson/spall-web/errors"
	"github.com/colrdavidson/spall-web/patch"
	"github.com/colrdavidson/spall-web/wasm"
)

// Config holds wazero settings for verification runtimes.
type Config struct {
	// MemoryLimitPages caps instance memory in 64KiB pages. 0 keeps the
	// wazero default.
	MemoryLimitPages uint32
}

// Checker validates and executes modules with wazero.
type Checker struct {
	logger  *zap.Logger
	runtime wazero.RuntimeConfig
}

// NewChecker creates a Checker. A nil logger disables logging and a nil
// config uses defaults.
func NewChecker(logger *zap.Logger, cfg *Config) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	runtimeCfg := wazero.NewRuntimeConfig().WithCoreFeatures(api.CoreFeaturesV2)
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	return &Checker{logger: logger, runtime: runtimeCfg}
}

// Check validates bin and confirms every replacement landed in it.
func (c *Checker) Check(ctx context.Context, bin []byte, reps []patch.Replacement) error {
	if err := c.Validate(ctx, bin); err != nil {
		return err
	}
	return Bodies(bin, reps)
}

// Validate compiles bin, which type-checks every function body.
func (c *Checker) Validate(ctx context.Context, bin []byte) error {
	rt := wazero.NewRuntimeWithConfig(ctx, c.runtime)
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return errors.New(errors.PhaseVerify, errors.KindVerification).
			Detail("module does not compile").
			Cause(err).
			Build()
	}
	c.logger.Debug("module compiled",
		zap.Int("size", len(bin)),
		zap.Int("imported_functions", len(compiled.ImportedFunctions())),
		zap.Int("exported_functions", len(compiled.ExportedFunctions())))
	return compiled.Close(ctx)
}

// Expected returns the binary encoding of the replacement body for a class,
// including the end opcode.
func Expected(class patch.Class) []byte {
	code := []byte{
		wasm.OpLocalGet, 0,
		wasm.OpLocalGet, 1,
		wasm.OpLocalGet, 2,
		wasm.OpPrefixMisc,
	}
	if class == patch.ClassFill {
		code = append(code, wasm.MiscMemoryFill, 0) // memory index
	} else {
		code = append(code, wasm.MiscMemoryCopy, 0, 0) // destination, source memory
	}
	return append(code, wasm.OpLocalGet, 0, wasm.OpEnd)
}

// Bodies decodes bin and compares the body at each replacement's defined
// function index with Expected. Positions are used instead of names because
// the assembler does not emit a name section by default.
func Bodies(bin []byte, reps []patch.Replacement) error {
	if len(reps) == 0 {
		return nil
	}
	mod, err := wasm.Decode(bin)
	if err != nil {
		return errors.New(errors.PhaseVerify, errors.KindInvalidData).
			Detail("decode reassembled module").
			Cause(err).
			Build()
	}

	imported := mod.NumImportedFuncs()
	for _, rep := range reps {
		fail := errors.New(errors.PhaseVerify, errors.KindVerification).
			Function(rep.Func).
			Span(rep.Span())

		if want := uint32(imported + rep.DefIndex); rep.Index != want {
			return fail.Detail("function index %d in text, %d in binary", rep.Index, want).Build()
		}
		body, ok := mod.Body(rep.DefIndex)
		if !ok {
			return fail.Detail("code section has %d bodies", len(mod.Code)).Build()
		}
		if name, ok := mod.Names[rep.Index]; ok && name != rep.Func {
			return fail.Detail("name section calls index %d %q", rep.Index, name).Build()
		}
		if len(body.Locals) != 0 {
			return fail.Detail("body declares %d local groups", len(body.Locals)).Build()
		}
		if want := Expected(rep.Target.Class); !bytes.Equal(body.Code, want) {
			return fail.Detail("body is %s, want %s", hex(body.Code), hex(want)).Build()
		}
	}
	return nil
}

func hex(b []byte) string {
	const limit = 32
	if len(b) > limit {
		return fmt.Sprintf("% x ... (%d bytes)", b[:limit], len(b))
	}
	return fmt.Sprintf("% x", b)
}
