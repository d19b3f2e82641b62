package main

import (
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/colrdavidson/spall-web/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	doneStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#90EE90"))

	fileStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// timed stages print how long they took.
var timed = map[pipeline.Stage]bool{
	pipeline.StageCompile:     true,
	pipeline.StageDisassemble: true,
	pipeline.StagePatch:       true,
	pipeline.StageAssemble:    true,
	pipeline.StageVerify:      true,
	pipeline.StageOptimize:    true,
}

// eventLine returns the line printed for an event, if any.
func eventLine(e pipeline.Event) (string, bool) {
	switch e.Status {
	case pipeline.StatusStarted:
		return stageStyle.Render(e.Stage.Title()), true
	case pipeline.StatusFinished:
		if !timed[e.Stage] {
			return "", false
		}
		return fmt.Sprintf("%s in %.1f seconds", e.Stage.Verb(), e.Duration.Seconds()), true
	case pipeline.StatusFailed:
		return errorStyle.Render(fmt.Sprintf("%s failed after %.1f seconds", e.Stage, e.Duration.Seconds())), true
	}
	return "", false
}

// plainObserver prints progress lines for non-interactive output.
type plainObserver struct {
	w io.Writer
}

func (o plainObserver) Observe(e pipeline.Event) {
	if line, ok := eventLine(e); ok {
		fmt.Fprintln(o.w, line)
	}
}

func printSummary(w io.Writer, r *pipeline.Report) {
	if r.Patch != nil {
		for _, rep := range r.Patch.Replacements {
			fmt.Fprintf(w, "  patched %s with %s (%s)\n",
				fileStyle.Render("$"+rep.Func), rep.Target.Class.Instruction(), rep.Span())
		}
		for _, s := range r.Patch.Skipped {
			fmt.Fprintf(w, "  skipped %s: %s\n", fileStyle.Render("$"+s.Func), s.Reason)
		}
	}
	for _, e := range r.Entries {
		fmt.Fprintf(w, "  %s %s\n", fileStyle.Render(e.Fingerprinted), helpStyle.Render(byteSize(e.Size)+", "+shortDigest(e.Digest)))
	}
	fmt.Fprintln(w, doneStyle.Render("Done!"))
	fmt.Fprintln(w)
}

func printHints(w io.Writer, dist, addr string) {
	fmt.Fprintf(w, "Go to the %s folder and serve it with any static file server to open the trace viewer.\n", dist)
	fmt.Fprintln(w, `Or, build with "run" to start the preview server.`)
	fmt.Fprintf(w, "Then, connect to %s in your browser to open the trace viewer.\n", browseURL(addr))
}

func printBanner(w io.Writer, addr string) {
	fmt.Fprintln(w, titleStyle.Render("Running server..."))
	fmt.Fprintf(w, "Connect to %s in your browser to open the trace viewer.\n", browseURL(addr))
	fmt.Fprintln(w, helpStyle.Render("Press Control-C to stop running the server."))
	fmt.Fprintln(w)
}

// browseURL turns a listen address into the URL a browser should open.
func browseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func byteSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func formatError(err error) string {
	return errorStyle.Render("Error: " + strings.TrimSpace(err.Error()))
}
