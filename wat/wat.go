package wat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/colrdavidson/spall-web/wat/internal/token"
)

// Module is the structural view of a text module.
type Module struct {
	Source string
	Funcs  []*Func
	// ImportedFuncs is the number of imported functions, which precede
	// every defined function in the function index space.
	ImportedFuncs int
}

// Param is a parameter or local declaration. Name is empty for
// anonymous declarations and never carries the '$' sigil.
type Param struct {
	Name string
	Type string
}

// Func is a defined (non-imported) function of a text module.
type Func struct {
	Name    string
	Exports []string
	Params  []Param
	Results []string
	Locals  []Param

	// Index is the position in the function index space; DefIndex is the
	// position among defined functions, i.e. in the code section.
	Index    uint32
	DefIndex int

	// Start and End delimit the whole "(func ...)" form. HeaderEnd is the
	// end of the last name, export, type, param or result clause.
	Start     int
	End       int
	HeaderEnd int
	BodyStart int

	Line    int
	EndLine int

	src  string
	body []token.Token
}

// Parse builds the structural view of a text module. It accepts a
// (module ...) form or a bare sequence of module fields.
func Parse(source string) (*Module, error) {
	p := &parser{
		src:    source,
		tokens: token.Tokenize(source),
		mod:    &Module{Source: source},
	}
	if err := p.parse(); err != nil {
		return nil, err
	}
	return p.mod, nil
}

// Lookup returns the functions named name, including aliases that a
// disassembler disambiguated with a numeric suffix (memcpy.1, memcpy.2).
func (m *Module) Lookup(name string) []*Func {
	var out []*Func
	for _, f := range m.Funcs {
		if MatchName(f.Name, name) {
			out = append(out, f)
		}
	}
	return out
}

// MatchName reports whether candidate is name or name followed by a
// ".N" disambiguation suffix.
func MatchName(candidate, name string) bool {
	if candidate == name {
		return true
	}
	suffix, ok := strings.CutPrefix(candidate, name+".")
	if !ok || suffix == "" {
		return false
	}
	for i := 0; i < len(suffix); i++ {
		if suffix[i] < '0' || suffix[i] > '9' {
			return false
		}
	}
	return true
}

// Text returns the whole function form as it appears in the source.
func (f *Func) Text() string {
	return f.src[f.Start:f.End]
}

// Header returns the source text from the opening parenthesis through the
// last signature clause, e.g. "(func $memcpy (type 3) (param i32 i32 i32) (result i32)".
func (f *Func) Header() string {
	return f.src[f.Start:f.HeaderEnd]
}

// Body returns the instruction text, excluding locals and the closing paren.
func (f *Func) Body() string {
	return strings.TrimSpace(f.src[f.BodyStart : f.End-1])
}

// Words returns the body tokens without parentheses, which is enough to
// compare instruction sequences regardless of folded or flat layout.
func (f *Func) Words() []string {
	words := make([]string, 0, len(f.body))
	for _, t := range f.body {
		if t.Type == token.LParen || t.Type == token.RParen {
			continue
		}
		words = append(words, t.Value)
	}
	return words
}

// References reports whether the body pushes parameter idx with local.get,
// by number or by the parameter's symbolic name.
func (f *Func) References(idx int) bool {
	if idx < 0 || idx >= len(f.Params) {
		return false
	}
	num := strconv.Itoa(idx)
	name := ""
	if f.Params[idx].Name != "" {
		name = "$" + f.Params[idx].Name
	}
	for i := 0; i+1 < len(f.body); i++ {
		if !f.body[i].Is("local.get") {
			continue
		}
		operand := f.body[i+1]
		if operand.Value == num || (name != "" && operand.Value == name) {
			return true
		}
	}
	return false
}

// Signature renders the parameter and result types, e.g. "(i32 i32 i32) -> (i32)".
func (f *Func) Signature() string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.Type
	}
	return "(" + strings.Join(params, " ") + ") -> (" + strings.Join(f.Results, " ") + ")"
}

// Span describes the source lines covered by the function.
func (f *Func) Span() string {
	if f.Line == f.EndLine {
		return fmt.Sprintf("line %d", f.Line)
	}
	return fmt.Sprintf("lines %d-%d", f.Line, f.EndLine)
}

type parser struct {
	mod    *Module
	src    string
	tokens []token.Token
	pos    int
}

func (p *parser) peek() *token.Token {
	return p.peekAt(0)
}

func (p *parser) peekAt(n int) *token.Token {
	if p.pos+n >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos+n]
}

func (p *parser) next() *token.Token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	t := &p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) expect(typ token.Type) (*token.Token, error) {
	t := p.next()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of input")
	}
	if t.Type != typ {
		return nil, fmt.Errorf("line %d: expected %v, got %q", t.Line, typ, t.Value)
	}
	return t, nil
}

// atForm reports whether the next tokens open a form with the given keyword.
func (p *parser) atForm(keyword string) bool {
	t, kw := p.peek(), p.peekAt(1)
	return t != nil && t.Type == token.LParen && kw != nil && kw.Is(keyword)
}

// skipForm consumes a balanced form starting at '(' and returns its closing token.
func (p *parser) skipForm() (*token.Token, error) {
	open, err := p.expect(token.LParen)
	if err != nil {
		return nil, err
	}
	depth := 1
	for {
		t := p.next()
		if t == nil {
			return nil, fmt.Errorf("line %d: unclosed form", open.Line)
		}
		switch t.Type {
		case token.LParen:
			depth++
		case token.RParen:
			depth--
			if depth == 0 {
				return t, nil
			}
		}
	}
}

func (p *parser) parse() error {
	if p.atForm("module") {
		open := p.next()
		p.next()
		if t := p.peek(); t != nil && t.Type == token.Ident && strings.HasPrefix(t.Value, "$") {
			p.next()
		}
		if err := p.parseFields(); err != nil {
			return err
		}
		if _, err := p.expect(token.RParen); err != nil {
			return fmt.Errorf("module opened on line %d: %w", open.Line, err)
		}
	} else if err := p.parseFields(); err != nil {
		return err
	}

	if t := p.peek(); t != nil {
		return fmt.Errorf("line %d: unexpected %q after module", t.Line, t.Value)
	}

	for i, f := range p.mod.Funcs {
		f.DefIndex = i
		f.Index = uint32(p.mod.ImportedFuncs + i)
	}
	return nil
}

func (p *parser) parseFields() error {
	for {
		t := p.peek()
		if t == nil || t.Type == token.RParen {
			return nil
		}
		if t.Type != token.LParen {
			return fmt.Errorf("line %d: expected module field, got %q", t.Line, t.Value)
		}

		switch {
		case p.atForm("func"):
			if err := p.parseFunc(); err != nil {
				return err
			}
		case p.atForm("import"):
			line := t.Line
			desc := p.peekAt(5)
			if desc != nil && desc.Is("func") {
				if err := p.importFunc(line); err != nil {
					return err
				}
			}
			if _, err := p.skipForm(); err != nil {
				return err
			}
		default:
			if _, err := p.skipForm(); err != nil {
				return err
			}
		}
	}
}

// importFunc counts an imported function. Imports must precede definitions,
// otherwise code section positions could not be derived from text order.
func (p *parser) importFunc(line int) error {
	if len(p.mod.Funcs) > 0 {
		return fmt.Errorf("line %d: function import after function definition", line)
	}
	p.mod.ImportedFuncs++
	return nil
}

func (p *parser) parseFunc() error {
	open := p.next()
	kw := p.next()
	f := &Func{
		Start: open.Offset,
		Line:  open.Line,
		src:   p.src,
	}
	headerEnd := kw.End

	if t := p.peek(); t != nil && t.Type == token.Ident && strings.HasPrefix(t.Value, "$") {
		f.Name = t.Value[1:]
		headerEnd = t.End
		p.next()
	}

	imported := false
clauses:
	for {
		switch {
		case p.atForm("export"):
			p.next()
			p.next()
			name, err := p.expect(token.String)
			if err != nil {
				return err
			}
			f.Exports = append(f.Exports, name.Value)
			if _, err := p.expect(token.RParen); err != nil {
				return err
			}
		case p.atForm("import"):
			imported = true
			if _, err := p.skipForm(); err != nil {
				return err
			}
		case p.atForm("type"):
			if _, err := p.skipForm(); err != nil {
				return err
			}
		case p.atForm("param"):
			params, err := p.parseDecls()
			if err != nil {
				return err
			}
			f.Params = append(f.Params, params...)
		case p.atForm("result"):
			p.next()
			p.next()
			types, err := p.parseTypes()
			if err != nil {
				return err
			}
			f.Results = append(f.Results, types...)
		default:
			break clauses
		}
		headerEnd = p.tokens[p.pos-1].End
	}
	f.HeaderEnd = headerEnd

	for p.atForm("local") {
		locals, err := p.parseDecls()
		if err != nil {
			return err
		}
		f.Locals = append(f.Locals, locals...)
	}

	depth := 0
	for {
		t := p.next()
		if t == nil {
			return fmt.Errorf("line %d: unclosed func %s", f.Line, f.displayName())
		}
		if len(f.body) == 0 {
			f.BodyStart = t.Offset
		}
		if t.Type == token.LParen {
			depth++
		} else if t.Type == token.RParen {
			if depth == 0 {
				f.End = t.End
				f.EndLine = t.Line
				break
			}
			depth--
		}
		f.body = append(f.body, *t)
	}

	if imported {
		return p.importFunc(f.Line)
	}
	p.mod.Funcs = append(p.mod.Funcs, f)
	return nil
}

// parseDecls parses "(param $x i32)" or "(param i32 i32)", and the same
// shapes for locals.
func (p *parser) parseDecls() ([]Param, error) {
	p.next()
	p.next()
	if t := p.peek(); t != nil && t.Type == token.Ident && strings.HasPrefix(t.Value, "$") {
		p.next()
		types, err := p.parseTypes()
		if err != nil {
			return nil, err
		}
		if len(types) != 1 {
			return nil, fmt.Errorf("line %d: named declaration %s must have exactly one type", t.Line, t.Value)
		}
		return []Param{{Name: t.Value[1:], Type: types[0]}}, nil
	}
	types, err := p.parseTypes()
	if err != nil {
		return nil, err
	}
	decls := make([]Param, len(types))
	for i, typ := range types {
		decls[i] = Param{Type: typ}
	}
	return decls, nil
}

// parseTypes reads value types up to and including the closing paren.
// Reference type forms such as (ref null $t) are kept as source text.
func (p *parser) parseTypes() ([]string, error) {
	var types []string
	for {
		t := p.peek()
		if t == nil {
			return nil, fmt.Errorf("unexpected end of input")
		}
		switch t.Type {
		case token.RParen:
			p.next()
			return types, nil
		case token.Ident:
			p.next()
			types = append(types, t.Value)
		case token.LParen:
			start := t.Offset
			end, err := p.skipForm()
			if err != nil {
				return nil, err
			}
			types = append(types, p.src[start:end.End])
		default:
			return nil, fmt.Errorf("line %d: expected value type, got %q", t.Line, t.Value)
		}
	}
}

func (f *Func) displayName() string {
	if f.Name == "" {
		return "(anonymous)"
	}
	return "$" + f.Name
}
