package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap/zapcore"

	"github.com/colrdavidson/spall-web/bundle"
	"github.com/colrdavidson/spall-web/config"
	"github.com/colrdavidson/spall-web/patch"
	"github.com/colrdavidson/spall-web/pipeline"
)

func TestEventLine(t *testing.T) {
	tests := []struct {
		name  string
		event pipeline.Event
		want  string
		ok    bool
	}{
		{"started", pipeline.Event{Stage: pipeline.StageCompile, Status: pipeline.StatusStarted}, "Compiling...", true},
		{"timed", pipeline.Event{Stage: pipeline.StageCompile, Status: pipeline.StatusFinished, Duration: 1250 * time.Millisecond}, "Compiled in 1.2 seconds", true},
		{"patched", pipeline.Event{Stage: pipeline.StagePatch, Status: pipeline.StatusFinished, Duration: 300 * time.Millisecond}, "Patched in 0.3 seconds", true},
		{"untimed", pipeline.Event{Stage: pipeline.StageBundle, Status: pipeline.StatusFinished}, "", false},
		{"skipped", pipeline.Event{Stage: pipeline.StageOptimize, Status: pipeline.StatusSkipped}, "", false},
		{"failed", pipeline.Event{Stage: pipeline.StageAssemble, Status: pipeline.StatusFailed, Err: stderrors.New("x")}, "assemble failed", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := eventLine(tt.event)
			if ok != tt.ok || !strings.Contains(got, tt.want) {
				t.Errorf("eventLine() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestBrowseURL(t *testing.T) {
	tests := map[string]string{
		":8000":          "http://localhost:8000",
		"0.0.0.0:9000":   "http://localhost:9000",
		"127.0.0.1:8000": "http://127.0.0.1:8000",
		"[::]:8000":      "http://localhost:8000",
		"example":        "http://example",
	}
	for addr, want := range tests {
		if got := browseURL(addr); got != want {
			t.Errorf("browseURL(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestByteSize(t *testing.T) {
	tests := map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1536:    "1.5 KiB",
		3 << 20: "3.0 MiB",
	}
	for n, want := range tests {
		if got := byteSize(n); got != want {
			t.Errorf("byteSize(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestPrintSummary(t *testing.T) {
	report := &pipeline.Report{
		Patch: &patch.Result{
			Replacements: []patch.Replacement{{
				Target:  patch.Target{Name: "memcpy", Class: patch.ClassCopy},
				Func:    "memcpy",
				OutLine: 4, OutEndLine: 9,
			}},
		},
		Entries: []bundle.Entry{{Fingerprinted: "spall.ABCD1234.wasm", Size: 2048, Digest: "0123456789abcdef"}},
	}

	var buf bytes.Buffer
	printSummary(&buf, report)
	out := buf.String()
	for _, want := range []string{"memory.copy", "lines 4-9", "spall.ABCD1234.wasm", "2.0 KiB", "0123456789ab", "Done!"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestPrintHints(t *testing.T) {
	var buf bytes.Buffer
	printHints(&buf, "build/dist", ":8000")
	out := buf.String()
	for _, want := range []string{"build/dist", `"run"`, "http://localhost:8000"} {
		if !strings.Contains(out, want) {
			t.Errorf("hints missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printBanner(&buf, ":8000")
	if !strings.Contains(buf.String(), "Control-C") {
		t.Errorf("banner = %q", buf.String())
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.LogConfig
		interactive bool
		level       zapcore.Level
	}{
		{"console debug", config.LogConfig{Level: "debug", Format: "console"}, false, zapcore.DebugLevel},
		{"json warn", config.LogConfig{Level: "warn", Format: "json"}, false, zapcore.WarnLevel},
		{"interactive raises level", config.LogConfig{Level: "info", Format: "console"}, true, zapcore.WarnLevel},
		{"interactive keeps error", config.LogConfig{Level: "error", Format: "console"}, true, zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := newLogger(tt.cfg, tt.interactive)
			if err != nil {
				t.Fatal(err)
			}
			if !logger.Core().Enabled(tt.level) {
				t.Errorf("level %s should be enabled", tt.level)
			}
			if tt.level > zapcore.DebugLevel && logger.Core().Enabled(tt.level-1) {
				t.Errorf("level %s should be disabled", tt.level-1)
			}
		})
	}

	if _, err := newLogger(config.LogConfig{Level: "loud"}, false); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestProgressModel(t *testing.T) {
	canceled := false
	m := newProgressModel(config.Release, context.CancelFunc(func() { canceled = true }))

	if !strings.Contains(m.View(), "Starting...") {
		t.Errorf("initial view = %q", m.View())
	}

	m.Update(eventMsg{Stage: pipeline.StageCompile, Status: pipeline.StatusStarted})
	if !strings.Contains(m.View(), "Compiling...") {
		t.Errorf("view = %q", m.View())
	}

	_, cmd := m.Update(eventMsg{Stage: pipeline.StageCompile, Status: pipeline.StatusFinished, Duration: time.Second})
	if cmd == nil {
		t.Error("finished timed stage should print a line")
	}

	m.Update(keyCtrlC())
	m.Update(keyCtrlC())
	if !canceled || !m.canceled {
		t.Error("ctrl+c should cancel the build")
	}
	if !strings.Contains(m.View(), "Stopping...") {
		t.Errorf("view after cancel = %q", m.View())
	}

	buildErr := stderrors.New("interrupted")
	if _, cmd := m.Update(doneMsg{err: buildErr}); cmd == nil {
		t.Error("done should quit")
	}
	if m.View() != "" || m.err != buildErr {
		t.Errorf("final state: view %q err %v", m.View(), m.err)
	}
}

func keyCtrlC() tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyCtrlC}
}
