package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/colrdavidson/spall-web/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Program != "spall" {
		t.Errorf("expected program=spall, got %s", cfg.Program)
	}
	if cfg.ModuleEmbed() != "src/spall.wasm" {
		t.Errorf("expected module embed src/spall.wasm, got %s", cfg.ModuleEmbed())
	}
	if cfg.Build.Dist != "build/dist" || cfg.Build.DocumentName != "index.html" {
		t.Errorf("unexpected build config: %+v", cfg.Build)
	}
	if cfg.Optimizer.Enabled {
		t.Error("optimizer should be off by default")
	}
	if !cfg.Patch.Verify {
		t.Error("verification should be on by default")
	}
	if cfg.Serve.Addr != ":8000" || cfg.Serve.Timeout() != 5*time.Second {
		t.Errorf("unexpected serve config: %+v", cfg.Serve)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestProfileFlags(t *testing.T) {
	cfg := Default()
	tests := []struct {
		profile Profile
		flags   []string
		patches bool
	}{
		{Debug, []string{"-debug"}, false},
		{Release, []string{"-o:speed"}, false},
		{ExtraRelease, []string{"-o:speed"}, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.profile), func(t *testing.T) {
			if got := cfg.Flags(tt.profile); !reflect.DeepEqual(got, tt.flags) {
				t.Errorf("Flags() = %v, want %v", got, tt.flags)
			}
			if tt.profile.Patches() != tt.patches {
				t.Errorf("Patches() = %v", tt.profile.Patches())
			}
		})
	}
}

func TestParseProfile(t *testing.T) {
	for _, name := range []string{"debug", "release", "extrarelease"} {
		if p, ok := ParseProfile(name); !ok || string(p) != name {
			t.Errorf("ParseProfile(%q) = %q, %v", name, p, ok)
		}
	}
	if _, ok := ParseProfile("Release"); ok {
		t.Error("profiles are case sensitive")
	}
}

func TestLoad_WithoutConfig(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Program != "spall" {
		t.Errorf("expected defaults, got program=%s", cfg.Program)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level from environment, got %s", cfg.Log.Level)
	}
}

func TestLoad_WithConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "spall.yaml")

	configContent := `
program: viewer
source:
  dir: app
  document: app/index.html
  assets:
    - source: app/runtime.js
      embed: app/runtime.js
    - source: app/worker.js
      embed: app/worker.js
build:
  dir: out
  dist: out/${PROGRAM}-dist
tools:
  assembler: ${SPALL_TEST_WABT:-/opt/wabt}/bin/wat2wasm
log:
  level: warn
  format: json
release:
  flags: ["-o:size"]
extrarelease:
  memory:
    import: true
    initial_pages: 64
    max_pages: 1024
  optimizer:
    enabled: true
    passes: ["-O4", "--strip-debug"]
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfig, configPath)
	t.Setenv(EnvLogLevel, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Program != "viewer" || cfg.Build.Dist != "out/viewer-dist" {
		t.Errorf("program=%s dist=%s", cfg.Program, cfg.Build.Dist)
	}
	if cfg.ModuleEmbed() != "app/viewer.wasm" {
		t.Errorf("module embed = %s", cfg.ModuleEmbed())
	}
	if len(cfg.Source.Assets) != 2 {
		t.Errorf("assets = %+v", cfg.Source.Assets)
	}
	if cfg.Tools.Assembler != "/opt/wabt/bin/wat2wasm" {
		t.Errorf("assembler = %s", cfg.Tools.Assembler)
	}
	if cfg.Tools.Compiler != "odin" {
		t.Errorf("unset tools should keep defaults, got %s", cfg.Tools.Compiler)
	}
	if cfg.Log.Level != "warn" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if got := cfg.Flags(Release); !reflect.DeepEqual(got, []string{"-o:size"}) {
		t.Errorf("release flags = %v", got)
	}

	extra := cfg.ForProfile(ExtraRelease)
	if !extra.Optimizer.Enabled || !reflect.DeepEqual(extra.Optimizer.Passes, []string{"-O4", "--strip-debug"}) {
		t.Errorf("extrarelease optimizer = %+v", extra.Optimizer)
	}
	if !extra.Memory.Import || extra.Memory.InitialBytes() != 64*PageSize || extra.Memory.MaxBytes() != 1024*PageSize {
		t.Errorf("extrarelease memory = %+v", extra.Memory)
	}
	if cfg.Optimizer.Enabled || cfg.Memory.Import {
		t.Error("ForProfile must not modify the base config")
	}
	if debug := cfg.ForProfile(Debug); debug.Optimizer.Enabled {
		t.Error("debug profile has no overrides")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindNotFound}) {
		t.Errorf("missing file: got %v", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("program: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = LoadFile(bad)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindInvalidData}) {
		t.Errorf("malformed file: got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"empty program", func(c *Config) { c.Program = "" }, "program is required"},
		{"program with path", func(c *Config) { c.Program = "a/b" }, "bare name"},
		{"dist outside build", func(c *Config) { c.Build.Dist = "dist" }, "must be inside build.dir"},
		{"dist equals build", func(c *Config) { c.Build.Dist = "build/" }, "must be inside build.dir"},
		{"dist escapes build", func(c *Config) { c.Build.Dist = "build/../dist" }, "must be inside build.dir"},
		{"empty tool", func(c *Config) { c.Tools.Assembler = "" }, "tools.assembler is required"},
		{"bad pattern", func(c *Config) { c.Build.Intermediates = []string{"[a-"} }, "bad pattern"},
		{"asset without embed", func(c *Config) { c.Source.Assets = []AssetConfig{{Source: "x.js"}} }, "source.assets[0]"},
		{"memory max below initial", func(c *Config) {
			c.Memory = MemoryConfig{Import: true, InitialPages: 10, MaxPages: 5}
		}, "below initial_pages"},
		{"profile memory too large", func(c *Config) {
			c.Release = &ProfileOverrides{Memory: &MemoryConfig{Import: true, InitialPages: 1, MaxPages: 70000}}
		}, "release.memory.max_pages"},
		{"bad timeout", func(c *Config) { c.Serve.ShutdownTimeout = "soon" }, "serve.shutdown_timeout"},
		{"telemetry without endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = ""
		}, "telemetry.endpoint"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindInvalidInput}) {
				t.Errorf("unexpected error type: %v", err)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error %q should contain %q", err, tt.errMsg)
			}
		})
	}
}
