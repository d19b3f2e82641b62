package toolchain

import (
	"context"
	"regexp"

	"github.com/hashicorp/go-version"

	"github.com/colrdavidson/spall-web/errors"
)

var versionPattern = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// Version runs "<tool> --version" and parses the first version number in
// its output.
func (t *Toolchain) Version(ctx context.Context, phase errors.Phase, tool string) (*version.Version, error) {
	out, err := t.runner.Run(ctx, Command{Phase: phase, Tool: tool, Args: []string{"--version"}, Dir: t.dir})
	if err != nil {
		return nil, err
	}
	raw := versionPattern.FindString(out.Combined())
	if raw == "" {
		return nil, errors.New(phase, errors.KindUnsupported).
			Tool(tool).
			Detail("no version in %q", out.Combined()).
			Build()
	}
	v, err := version.NewVersion(raw)
	if err != nil {
		return nil, errors.New(phase, errors.KindUnsupported).Tool(tool).Cause(err).Build()
	}
	return v, nil
}

// RequireVersion fails unless tool reports at least minimum. An empty
// minimum disables the check.
func (t *Toolchain) RequireVersion(ctx context.Context, phase errors.Phase, tool, minimum string) error {
	if minimum == "" {
		return nil
	}
	want, err := version.NewVersion(minimum)
	if err != nil {
		return errors.InvalidInput(errors.PhaseConfig, "minimum version %q for %s: %v", minimum, tool, err)
	}
	got, err := t.Version(ctx, phase, tool)
	if err != nil {
		return err
	}
	if got.LessThan(want) {
		return errors.New(phase, errors.KindUnsupported).
			Tool(tool).
			Detail("version %s is older than required %s", got, want).
			Build()
	}
	return nil
}
