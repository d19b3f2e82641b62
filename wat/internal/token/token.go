package token

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type Type int

const (
	LParen Type = iota
	RParen
	Ident
	String
	Number
)

func (t Type) String() string {
	switch t {
	case LParen:
		return "'('"
	case RParen:
		return "')'"
	case Ident:
		return "identifier"
	case String:
		return "string"
	case Number:
		return "number"
	}
	return "unknown"
}

// Token is a lexical element of the text format. Offset and End are byte
// offsets into the tokenized source; for strings they include the quotes.
type Token struct {
	Value  string
	Type   Type
	Line   int
	Offset int
	End    int
}

// Is reports whether the token is the identifier or keyword s.
func (t Token) Is(s string) bool {
	return t.Type == Ident && t.Value == s
}

// Tokenize splits WebAssembly text into tokens, dropping whitespace, line
// comments and (possibly nested) block comments such as the "(;0;)" index
// annotations emitted by disassemblers.
func Tokenize(input string) []Token {
	var tokens []Token
	line := 1
	n := len(input)

	for i := 0; i < n; {
		c := input[i]

		if c == '\n' {
			line++
			i++
			continue
		}
		if c < utf8.RuneSelf && unicode.IsSpace(rune(c)) {
			i++
			continue
		}

		// Line comment
		if c == ';' && i+1 < n && input[i+1] == ';' {
			for i < n && input[i] != '\n' {
				i++
			}
			continue
		}

		// Block comment or left paren
		if c == '(' {
			if i+1 < n && input[i+1] == ';' {
				depth := 1
				i += 2
				for i < n && depth > 0 {
					switch {
					case input[i] == '(' && i+1 < n && input[i+1] == ';':
						depth++
						i += 2
					case input[i] == ';' && i+1 < n && input[i+1] == ')':
						depth--
						i += 2
					default:
						if input[i] == '\n' {
							line++
						}
						i++
					}
				}
				continue
			}
			tokens = append(tokens, Token{"(", LParen, line, i, i + 1})
			i++
			continue
		}

		if c == ')' {
			tokens = append(tokens, Token{")", RParen, line, i, i + 1})
			i++
			continue
		}

		// String literal
		if c == '"' {
			start := i
			startLine := line
			i++
			for i < n && input[i] != '"' {
				if input[i] == '\\' {
					i++
				} else if input[i] == '\n' {
					line++
				}
				i++
			}
			end := min(i+1, n)
			tokens = append(tokens, Token{input[start+1 : min(i, n)], String, startLine, start, end})
			i = end
			continue
		}

		// Number (including negative) or signed special float values
		if c == '-' || c == '+' || isDigit(c) {
			start := i
			// Check for -inf, +inf, -nan, +nan
			if (c == '-' || c == '+') && (strings.HasPrefix(input[i+1:], "inf") || strings.HasPrefix(input[i+1:], "nan")) {
				i++
				for i < n && (isLetter(input[i]) || input[i] == ':' || isDigit(input[i])) {
					i++
				}
				tokens = append(tokens, Token{input[start:i], Ident, line, start, i})
				continue
			}
			if c == '-' || c == '+' {
				i++
			}
			for i < n {
				d := input[i]
				if isDigit(d) || d == '.' || d == 'e' || d == 'E' ||
					d == 'x' || d == 'X' || d == '_' || d == 'p' || d == 'P' ||
					(d >= 'a' && d <= 'f') || (d >= 'A' && d <= 'F') ||
					((d == '-' || d == '+') && i > start && isExponent(input[i-1])) {
					i++
				} else {
					break
				}
			}
			tokens = append(tokens, Token{input[start:i], Number, line, start, i})
			continue
		}

		// Identifier (including $names, keywords, and offset=/align= forms)
		if isIdentChar(c) {
			start := i
			for i < n && isIdentChar(input[i]) {
				i++
			}
			tokens = append(tokens, Token{input[start:i], Ident, line, start, i})
			continue
		}

		// Anything else is a lone reserved character; keep it so the
		// parser can report it instead of silently dropping text.
		_, size := utf8.DecodeRuneInString(input[i:])
		tokens = append(tokens, Token{input[i : i+size], Ident, line, i, i + size})
		i += size
	}

	return tokens
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isExponent(c byte) bool {
	return c == 'e' || c == 'E' || c == 'p' || c == 'P'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// isIdentChar covers the idchar class of the text format, which
// disassemblers use for names such as $runtime.memcpy or $__stack_pointer.
func isIdentChar(c byte) bool {
	if isLetter(c) || isDigit(c) || c >= utf8.RuneSelf {
		return true
	}
	switch c {
	case '$', '_', '.', '-', ':', '=', '!', '#', '%', '&', '\'', '*', '+', '/', '<', '>', '?', '@', '\\', '^', '`', '|', '~':
		return true
	}
	return false
}
