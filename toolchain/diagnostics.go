package toolchain

import (
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic is one located message printed by an assembler.
type Diagnostic struct {
	File     string
	Line     int
	Column   int
	Severity string
	Message  string
}

// "build/spall_patched.wat:12:5: error: unexpected token ..."
var diagnosticLine = regexp.MustCompile(`^(.+?):(\d+):(\d+): (error|warning): (.*)$`)

// Diagnostics extracts located messages from tool output. Source excerpts
// and caret lines that follow each message are ignored.
func Diagnostics(output string) []Diagnostic {
	var out []Diagnostic
	for _, line := range strings.Split(output, "\n") {
		m := diagnosticLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		ln, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		out = append(out, Diagnostic{
			File:     m[1],
			Line:     ln,
			Column:   col,
			Severity: m[4],
			Message:  m[5],
		})
	}
	return out
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.Severity == "error" {
			out = append(out, d)
		}
	}
	return out
}
