package verify

import (
	"context"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/colrdavidson/spall-web/errors"
	"github.com/colrdavidson/spall-web/patch"
)

// Behavior calls every exported replacement on the compiled original and
// on the patched module and requires identical results and memory. Modules
// that import their memory are skipped, as are replacements that are not
// exported under their own name.
func (c *Checker) Behavior(ctx context.Context, original, patched []byte, reps []patch.Replacement) error {
	if len(reps) == 0 {
		return nil
	}

	rt := wazero.NewRuntimeWithConfig(ctx, c.runtime)
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, patched)
	if err != nil {
		return errors.New(errors.PhaseVerify, errors.KindVerification).
			Detail("module does not compile").
			Cause(err).
			Build()
	}
	if len(compiled.ImportedMemories()) > 0 {
		c.logger.Debug("skipping behavior check", zap.String("reason", "module imports its memory"))
		return nil
	}

	exports := compiled.ExportedFunctions()
	var probes []Probe
	for _, rep := range reps {
		def, ok := exports[rep.Func]
		if !ok || len(def.ParamTypes()) != 3 || len(def.ResultTypes()) != 1 {
			c.logger.Debug("skipping behavior check",
				zap.String("function", rep.Func),
				zap.String("reason", "not exported with the expected signature"))
			continue
		}
		probes = append(probes, Probes(rep.Func, rep.Target)...)
	}
	if len(probes) == 0 {
		return nil
	}
	return c.Equivalent(ctx, original, patched, probes)
}

// Probes returns the calls used to compare a replaced function with its
// original. Copies are disjoint except for memmove, whose original must
// already handle overlap.
func Probes(fn string, target patch.Target) []Probe {
	seed := make([]byte, 64)
	for i := range seed {
		seed[i] = byte(i*7 + 1)
	}

	if target.Class == patch.ClassFill {
		return []Probe{
			{Func: fn, Args: []uint64{16, 0xA5, 24}, Memory: seed},
			{Func: fn, Args: []uint64{0, 0, 0}, Memory: seed},
		}
	}

	probes := []Probe{
		{Func: fn, Args: []uint64{128, 0, 32}, Memory: seed},
		{Func: fn, Args: []uint64{128, 0, 0}, Memory: seed},
	}
	if target.Name == "memmove" {
		probes = append(probes,
			Probe{Func: fn, Args: []uint64{8, 0, 32}, Memory: seed},
			Probe{Func: fn, Args: []uint64{0, 8, 32}, Memory: seed},
		)
	}
	return probes
}
