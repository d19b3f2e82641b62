// Package toolchaintest provides a scripted toolchain.Runner for tests that
// must not depend on installed tools.
package toolchaintest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/colrdavidson/spall-web/errors"
	"github.com/colrdavidson/spall-web/toolchain"
)

// Handler simulates one tool.
type Handler func(cmd toolchain.Command) (toolchain.Output, error)

// Runner records every command and dispatches it to the handler registered
// for its tool. Unregistered tools behave as if missing from PATH.
type Runner struct {
	mu       sync.Mutex
	commands []toolchain.Command
	handlers map[string]Handler
}

// New creates an empty Runner.
func New() *Runner {
	return &Runner{handlers: make(map[string]Handler)}
}

// Handle registers h for tool and returns the Runner for chaining.
func (r *Runner) Handle(tool string, h Handler) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[tool] = h
	return r
}

// Run implements toolchain.Runner.
func (r *Runner) Run(ctx context.Context, cmd toolchain.Command) (toolchain.Output, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	h := r.handlers[cmd.Tool]
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return toolchain.Output{}, errors.New(cmd.Phase, errors.KindToolFailed).
			Tool(cmd.Tool).
			Detail("interrupted").
			Cause(err).
			Build()
	}
	if h == nil {
		return toolchain.Output{}, errors.ToolMissing(cmd.Phase, cmd.Tool, fmt.Errorf("%s: not registered", cmd.Tool))
	}
	return h(cmd)
}

// Commands returns the recorded commands in call order.
func (r *Runner) Commands() []toolchain.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]toolchain.Command(nil), r.commands...)
}

// Tools returns the tool of each recorded command in call order.
func (r *Runner) Tools() []string {
	cmds := r.Commands()
	tools := make([]string, len(cmds))
	for i, c := range cmds {
		tools[i] = c.Tool
	}
	return tools
}

// Arg returns the argument following flag, e.g. Arg(args, "-o").
func Arg(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// Prefixed returns the remainder of the first argument starting with
// prefix, e.g. Prefixed(args, "-out:").
func Prefixed(args []string, prefix string) string {
	for _, a := range args {
		if v, ok := strings.CutPrefix(a, prefix); ok {
			return v
		}
	}
	return ""
}

// Succeed returns a handler that prints stdout and exits zero.
func Succeed(stdout string) Handler {
	return func(toolchain.Command) (toolchain.Output, error) {
		return toolchain.Output{Stdout: stdout}, nil
	}
}

// Fail returns a handler that prints stderr and exits with code.
func Fail(code int, stderr string) Handler {
	return func(cmd toolchain.Command) (toolchain.Output, error) {
		out := toolchain.Output{Stderr: stderr}
		return out, errors.ToolFailed(cmd.Phase, cmd.Tool, code, stderr, fmt.Errorf("exit status %d", code))
	}
}

// Write returns a handler that writes data to the path chosen by dest.
func Write(dest func(args []string) string, data []byte) Handler {
	return func(cmd toolchain.Command) (toolchain.Output, error) {
		path := dest(cmd.Args)
		if path == "" {
			return toolchain.Output{}, fmt.Errorf("%s: no output path in %v", cmd.Tool, cmd.Args)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return toolchain.Output{}, err
		}
		return toolchain.Output{}, nil
	}
}

// OutFlag locates the value of "-o".
func OutFlag(args []string) string {
	return Arg(args, "-o")
}

// OutPrefix locates the value of "-out:".
func OutPrefix(args []string) string {
	return Prefixed(args, "-out:")
}
