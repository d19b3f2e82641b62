package patch

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/colrdavidson/spall-web/errors"
	"github.com/colrdavidson/spall-web/wat"
)

// Class selects the replacement template.
type Class int

const (
	ClassCopy Class = iota // memory.copy: memcpy, memmove
	ClassFill              // memory.fill: memset
)

func (c Class) String() string {
	switch c {
	case ClassCopy:
		return "copy"
	case ClassFill:
		return "fill"
	}
	return "unknown"
}

// Instruction returns the bulk-memory instruction for the class.
func (c Class) Instruction() string {
	if c == ClassFill {
		return "memory.fill"
	}
	return "memory.copy"
}

// Body returns the replacement instruction sequence. Parameters are
// referenced by position: destination, source or value, length.
func (c Class) Body() []string {
	return []string{
		"local.get 0",
		"local.get 1",
		"local.get 2",
		c.Instruction(),
		"local.get 0",
	}
}

// Target names a function to patch and its template.
type Target struct {
	Name  string
	Class Class
}

// Targets is the fixed set of routines the pipeline patches.
var Targets = []Target{
	{Name: "memcpy", Class: ClassCopy},
	{Name: "memmove", Class: ClassCopy},
	{Name: "memset", Class: ClassFill},
}

// Replacement records one rewritten function.
type Replacement struct {
	Target   Target
	Func     string
	Index    uint32
	DefIndex int
	Header   string

	// Line and EndLine locate the function in the input text, OutLine and
	// OutEndLine in the patched text.
	Line       int
	EndLine    int
	OutLine    int
	OutEndLine int
}

// Span describes the replacement's location in the patched text.
func (r Replacement) Span() string {
	return fmt.Sprintf("lines %d-%d", r.OutLine, r.OutEndLine)
}

// Skip records a function that matched a target name but not its shape.
type Skip struct {
	Target Target
	Func   string
	Line   int
	Reason string
}

// Result is the outcome of one Apply call.
type Result struct {
	Text         string
	Replacements []Replacement
	Skipped      []Skip
	Missing      []string
}

// Changed reports whether any function was rewritten.
func (r *Result) Changed() bool {
	return len(r.Replacements) > 0
}

// At returns the replacement covering a line of the patched text.
func (r *Result) At(line int) (Replacement, bool) {
	for _, rep := range r.Replacements {
		if line >= rep.OutLine && line <= rep.OutEndLine {
			return rep, true
		}
	}
	return Replacement{}, false
}

// Option configures a Patcher.
type Option func(*Patcher)

// WithTargets overrides the default target set.
func WithTargets(targets ...Target) Option {
	return func(p *Patcher) {
		p.targets = targets
	}
}

// WithLogger sets the logger for diagnostics. A nil logger disables logging.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Patcher) {
		p.logger = logger
	}
}

// Patcher rewrites text modules.
type Patcher struct {
	logger  *zap.Logger
	targets []Target
}

// New creates a Patcher for Targets.
func New(opts ...Option) *Patcher {
	p := &Patcher{targets: Targets}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// Apply patches text with the default Patcher.
func Apply(text string) (*Result, error) {
	return New().Apply(text)
}

type plan struct {
	fn     *wat.Func
	target Target
}

// Apply rewrites every eligible target function. Either all planned
// replacements land in Result.Text or an error is returned; text without
// any target comes back unchanged.
func (p *Patcher) Apply(text string) (*Result, error) {
	mod, err := wat.Parse(text)
	if err != nil {
		return nil, errors.New(errors.PhasePatch, errors.KindMalformedText).
			Detail("parse text module").
			Cause(err).
			Build()
	}

	res := &Result{Text: text}
	var plans []plan
	seen := make(map[int]bool)

	for _, target := range p.targets {
		funcs := mod.Lookup(target.Name)
		if len(funcs) == 0 {
			res.Missing = append(res.Missing, target.Name)
			p.logger.Warn("patch target not found, leaving it unpatched",
				zap.String("function", target.Name),
				zap.Stringer("class", target.Class))
			continue
		}
		for _, f := range funcs {
			if seen[f.Start] {
				continue
			}
			if reason := shapeMismatch(f); reason != "" {
				res.Skipped = append(res.Skipped, Skip{Target: target, Func: f.Name, Line: f.Line, Reason: reason})
				p.logger.Warn("patch target has unexpected shape, leaving it unpatched",
					zap.String("function", f.Name),
					zap.Int("line", f.Line),
					zap.String("signature", f.Signature()),
					zap.String("reason", reason))
				continue
			}
			seen[f.Start] = true
			plans = append(plans, plan{fn: f, target: target})
		}
	}

	if len(plans) == 0 {
		return res, nil
	}

	sort.Slice(plans, func(i, j int) bool { return plans[i].fn.Start < plans[j].fn.Start })

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	line := 1
	for _, pl := range plans {
		f := pl.fn
		prefix := text[last:f.Start]
		b.WriteString(prefix)
		line += strings.Count(prefix, "\n")

		body := Render(f.Header(), indentOf(text, f.Start), pl.target.Class)
		b.WriteString(body)

		rep := Replacement{
			Target:     pl.target,
			Func:       f.Name,
			Index:      f.Index,
			DefIndex:   f.DefIndex,
			Header:     f.Header(),
			Line:       f.Line,
			EndLine:    f.EndLine,
			OutLine:    line,
			OutEndLine: line + strings.Count(body, "\n"),
		}
		res.Replacements = append(res.Replacements, rep)
		line = rep.OutEndLine
		last = f.End

		p.logger.Debug("replaced function body",
			zap.String("function", f.Name),
			zap.String("instruction", pl.target.Class.Instruction()),
			zap.Int("line", f.Line),
			zap.Int("removed_bytes", f.End-f.Start-len(body)+len(f.Header())))
	}
	b.WriteString(text[last:])
	res.Text = b.String()
	return res, nil
}

// Render produces the replacement form: the original header followed by
// the class body, one instruction per line.
func Render(header, indent string, c Class) string {
	var b strings.Builder
	b.WriteString(header)
	for _, instr := range c.Body() {
		b.WriteByte('\n')
		b.WriteString(indent)
		b.WriteString(instr)
	}
	b.WriteByte(')')
	return b.String()
}

// shapeMismatch returns why f cannot take a bulk-memory body, or "".
func shapeMismatch(f *wat.Func) string {
	if len(f.Results) != 1 || f.Results[0] != "i32" {
		return "result is not a single i32"
	}
	if len(f.Params) < 3 {
		return fmt.Sprintf("expected at least 3 parameters, found %d", len(f.Params))
	}
	for i := 0; i < 3; i++ {
		if f.Params[i].Type != "i32" {
			return fmt.Sprintf("parameter %d is %s, not i32", i, f.Params[i].Type)
		}
	}
	if !f.References(0) {
		return "body never pushes parameter 0"
	}
	return ""
}

// indentOf returns the indentation for body lines of the form starting at
// offset: the form's own line indentation plus two spaces.
func indentOf(text string, offset int) string {
	lineStart := strings.LastIndexByte(text[:offset], '\n') + 1
	n := lineStart
	for n < offset && (text[n] == ' ' || text[n] == '\t') {
		n++
	}
	return text[lineStart:n] + "  "
}
