package toolchain

import (
	"bytes"
	"context"
	stderrors "errors"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/colrdavidson/spall-web/errors"
)

// Command is one external tool invocation.
type Command struct {
	Phase errors.Phase
	Tool  string
	Args  []string
	Dir   string
}

// String renders the command line for logs.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Tool
	}
	return c.Tool + " " + strings.Join(c.Args, " ")
}

// Output is what a finished command printed.
type Output struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Combined returns stderr followed by stdout, for error details.
func (o Output) Combined() string {
	switch {
	case o.Stdout == "":
		return o.Stderr
	case o.Stderr == "":
		return o.Stdout
	}
	return o.Stderr + "\n" + o.Stdout
}

// Runner executes commands synchronously. Implementations return the
// captured output even when the command fails.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger *zap.Logger
}

// NewExecRunner creates an ExecRunner. A nil logger disables logging.
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{logger: logger}
}

// Run starts the command and waits for it. Canceling ctx kills the process.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, cmd.Tool, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = &stdout
	c.Stderr = &stderr

	r.logger.Debug("exec", zap.Stringer("command", cmd), zap.String("dir", cmd.Dir))

	start := time.Now()
	err := c.Run()
	out := Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		r.logger.Debug("exec finished",
			zap.String("tool", cmd.Tool),
			zap.Duration("duration", out.Duration))
		return out, nil
	}

	if stderrors.Is(err, exec.ErrNotFound) {
		return out, errors.ToolMissing(cmd.Phase, cmd.Tool, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, errors.New(cmd.Phase, errors.KindToolFailed).
			Tool(cmd.Tool).
			Detail("interrupted").
			Cause(ctxErr).
			Build()
	}

	code := -1
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	r.logger.Debug("exec failed",
		zap.String("tool", cmd.Tool),
		zap.Int("exit_code", code),
		zap.Duration("duration", out.Duration))
	return out, errors.ToolFailed(cmd.Phase, cmd.Tool, code, out.Combined(), err)
}
