// Package config loads the build configuration.
//
// Configuration comes from a single YAML file named by SPALL_BUILD_CONFIG.
// There is no discovery: without the variable the built-in defaults apply,
// and they reproduce the original build exactly (program "spall", sources
// under src/, output under build/dist, wabt on PATH, optimizer off).
//
// The file may contain per-profile sections (debug, release, extrarelease)
// that override compiler flags, memory and optimizer settings when that
// profile is built.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/colrdavidson/spall-web/errors"
)

// Environment variables read by Load.
const (
	EnvConfig   = "SPALL_BUILD_CONFIG"
	EnvLogLevel = "SPALL_LOG_LEVEL"
)

// PageSize is the WebAssembly page size in bytes.
const PageSize = 65536

// Profile selects compiler optimization and whether the module is patched.
type Profile string

const (
	Debug        Profile = "debug"
	Release      Profile = "release"
	ExtraRelease Profile = "extrarelease"
)

// Profiles lists the profiles in CLI order.
var Profiles = []Profile{Debug, Release, ExtraRelease}

// ParseProfile reports whether s names a profile.
func ParseProfile(s string) (Profile, bool) {
	for _, p := range Profiles {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// Patches reports whether the profile runs the bulk-memory patch.
func (p Profile) Patches() bool {
	return p == ExtraRelease
}

// DefaultFlags returns the compiler flags the profile uses unless
// overridden.
func (p Profile) DefaultFlags() []string {
	if p == Debug {
		return []string{"-debug"}
	}
	return []string{"-o:speed"}
}

// Config is the complete build configuration.
type Config struct {
	// Program names the output module, e.g. spall.wasm.
	Program string `yaml:"program"`

	Source    SourceConfig    `yaml:"source"`
	Build     BuildConfig     `yaml:"build"`
	Memory    MemoryConfig    `yaml:"memory"`
	Tools     ToolsConfig     `yaml:"tools"`
	Patch     PatchConfig     `yaml:"patch"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Serve     ServeConfig     `yaml:"serve"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`

	// Per-profile overrides, applied by ForProfile.
	Debug        *ProfileOverrides `yaml:"debug,omitempty"`
	Release      *ProfileOverrides `yaml:"release,omitempty"`
	ExtraRelease *ProfileOverrides `yaml:"extrarelease,omitempty"`
}

// ProfileOverrides holds the settings a profile section may change.
type ProfileOverrides struct {
	Flags     []string         `yaml:"flags,omitempty"`
	Memory    *MemoryConfig    `yaml:"memory,omitempty"`
	Optimizer *OptimizerConfig `yaml:"optimizer,omitempty"`
}

// SourceConfig locates the inputs.
type SourceConfig struct {
	// Dir is the compiler's source package.
	Dir string `yaml:"dir"`

	// Document is the host page whose asset references are rewritten.
	Document string `yaml:"document"`

	// Assets are published alongside the module, in order.
	Assets []AssetConfig `yaml:"assets"`

	// ModuleEmbed is the name the document uses for the module.
	// Default: src/<program>.wasm
	ModuleEmbed string `yaml:"module_embed"`

	// Collections are passed to the compiler as -collection:<name>=<path>.
	Collections []CollectionConfig `yaml:"collections"`
}

// AssetConfig is a published file and the name the document knows it by.
type AssetConfig struct {
	Source string `yaml:"source"`
	Embed  string `yaml:"embed"`
}

// CollectionConfig is a named library collection.
type CollectionConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// BuildConfig locates the outputs.
type BuildConfig struct {
	Dir  string `yaml:"dir"`
	Dist string `yaml:"dist"`

	// DocumentName is the host document's name inside Dist.
	DocumentName string `yaml:"document_name"`

	// Target is the compiler target triple.
	Target string `yaml:"target"`

	// Intermediates are basename patterns removed from Dir before a build.
	Intermediates []string `yaml:"intermediates"`

	// ExtraArgs are appended to the compiler command line.
	ExtraArgs []string `yaml:"extra_args"`
}

// MemoryConfig configures an imported linear memory. Sizes are in pages.
type MemoryConfig struct {
	Import       bool   `yaml:"import"`
	InitialPages uint32 `yaml:"initial_pages"`
	MaxPages     uint32 `yaml:"max_pages"`
}

// InitialBytes returns the initial size in bytes.
func (m MemoryConfig) InitialBytes() uint64 {
	return uint64(m.InitialPages) * PageSize
}

// MaxBytes returns the maximum size in bytes.
func (m MemoryConfig) MaxBytes() uint64 {
	return uint64(m.MaxPages) * PageSize
}

// ToolsConfig names the external executables.
type ToolsConfig struct {
	Compiler     string `yaml:"compiler"`
	Disassembler string `yaml:"disassembler"`
	Assembler    string `yaml:"assembler"`
	Optimizer    string `yaml:"optimizer"`

	// MinWabtVersion is checked against the assembler before patching.
	// Empty disables the check.
	MinWabtVersion string `yaml:"min_wabt_version"`
}

// PatchConfig configures the bulk-memory patch.
type PatchConfig struct {
	// Verify runs wazero validation and body comparison on the
	// reassembled module.
	Verify bool `yaml:"verify"`

	// KeepText keeps the disassembled and patched text files in the build
	// directory. They are always removed by the next build's clean.
	KeepText bool `yaml:"keep_text"`
}

// OptimizerConfig configures wasm-opt.
type OptimizerConfig struct {
	Enabled bool     `yaml:"enabled"`
	Passes  []string `yaml:"passes"`
}

// ServeConfig configures the preview server.
type ServeConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// Timeout parses ShutdownTimeout, falling back to five seconds.
func (s ServeConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(s.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// LogConfig configures the logger.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is console or json.
	Format string `yaml:"format"`
}

// Default returns the configuration the build uses without a file.
func Default() *Config {
	return &Config{
		Program: "spall",
		Source: SourceConfig{
			Dir:      "src",
			Document: "src/index.html",
			Assets: []AssetConfig{
				{Source: "src/runtime.js", Embed: "src/runtime.js"},
			},
			Collections: []CollectionConfig{
				{Name: "formats", Path: "formats"},
			},
		},
		Build: BuildConfig{
			Dir:           "build",
			Dist:          "build/dist",
			DocumentName:  "index.html",
			Target:        "js_wasm32",
			Intermediates: []string{"*.o", "*.wasm", "*.wat"},
		},
		Memory: MemoryConfig{
			Import:       false,
			InitialPages: 32,
			MaxPages:     65536,
		},
		Tools: ToolsConfig{
			Compiler:       "odin",
			Disassembler:   "wasm2wat",
			Assembler:      "wat2wasm",
			Optimizer:      "wasm-opt",
			MinWabtVersion: "1.0.24",
		},
		Patch: PatchConfig{
			Verify: true,
		},
		Optimizer: OptimizerConfig{
			Enabled: false,
			Passes:  []string{"-O3"},
		},
		Serve: ServeConfig{
			Addr:            ":8000",
			ShutdownTimeout: "5s",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			ServiceName: "spall-build",
			Insecure:    true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the file named by SPALL_BUILD_CONFIG, or returns the defaults
// when the variable is unset. SPALL_LOG_LEVEL overrides log.level.
func Load() (*Config, error) {
	var cfg *Config
	if path := os.Getenv(EnvConfig); path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	} else {
		cfg = Default()
		cfg.expandVariables()
	}

	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

// LoadFile reads a configuration file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(errors.PhaseConfig, path, "configuration file")
		}
		return nil, errors.FileError(errors.PhaseConfig, path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
			Path(path).
			Cause(err).
			Build()
	}

	cfg.expandVariables()
	return cfg, nil
}

// Overrides returns the override section for p, or nil.
func (c *Config) Overrides(p Profile) *ProfileOverrides {
	switch p {
	case Debug:
		return c.Debug
	case Release:
		return c.Release
	case ExtraRelease:
		return c.ExtraRelease
	}
	return nil
}

// Flags returns the compiler flags for p.
func (c *Config) Flags(p Profile) []string {
	if o := c.Overrides(p); o != nil && o.Flags != nil {
		return o.Flags
	}
	return p.DefaultFlags()
}

// ForProfile returns a copy of the configuration with p's overrides
// applied. The receiver is not modified.
func (c *Config) ForProfile(p Profile) *Config {
	out := *c
	o := c.Overrides(p)
	if o == nil {
		return &out
	}
	if o.Memory != nil {
		out.Memory = *o.Memory
	}
	if o.Optimizer != nil {
		// Enabled is a bool, so it is always taken from the override.
		out.Optimizer.Enabled = o.Optimizer.Enabled
		if o.Optimizer.Passes != nil {
			out.Optimizer.Passes = o.Optimizer.Passes
		}
	}
	return &out
}

// ModuleEmbed returns the name the document uses for the module.
func (c *Config) ModuleEmbed() string {
	if c.Source.ModuleEmbed != "" {
		return c.Source.ModuleEmbed
	}
	return filepath.ToSlash(filepath.Join(c.Source.Dir, c.Program+".wasm"))
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Program == "" {
		errs = append(errs, fmt.Errorf("program is required"))
	} else if strings.ContainsAny(c.Program, `/\`) {
		errs = append(errs, fmt.Errorf("program must be a bare name, got %q", c.Program))
	}

	if c.Source.Dir == "" {
		errs = append(errs, fmt.Errorf("source.dir is required"))
	}
	if c.Source.Document == "" {
		errs = append(errs, fmt.Errorf("source.document is required"))
	}
	for i, a := range c.Source.Assets {
		if a.Source == "" || a.Embed == "" {
			errs = append(errs, fmt.Errorf("source.assets[%d] needs source and embed", i))
		}
	}
	for i, col := range c.Source.Collections {
		if col.Name == "" || col.Path == "" {
			errs = append(errs, fmt.Errorf("source.collections[%d] needs name and path", i))
		}
	}

	if c.Build.Dir == "" || c.Build.Dist == "" {
		errs = append(errs, fmt.Errorf("build.dir and build.dist are required"))
	} else if !within(c.Build.Dir, c.Build.Dist) {
		errs = append(errs, fmt.Errorf("build.dist %q must be inside build.dir %q", c.Build.Dist, c.Build.Dir))
	}
	if c.Build.DocumentName == "" || strings.ContainsAny(c.Build.DocumentName, `/\`) {
		errs = append(errs, fmt.Errorf("build.document_name must be a bare file name"))
	}
	if c.Build.Target == "" {
		errs = append(errs, fmt.Errorf("build.target is required"))
	}
	for _, pattern := range c.Build.Intermediates {
		if _, err := filepath.Match(pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("build.intermediates: bad pattern %q", pattern))
		}
	}

	errs = append(errs, validateMemory("memory", c.Memory)...)
	for _, p := range Profiles {
		if o := c.Overrides(p); o != nil && o.Memory != nil {
			errs = append(errs, validateMemory(string(p)+".memory", *o.Memory)...)
		}
	}

	tools := map[string]string{
		"tools.compiler":     c.Tools.Compiler,
		"tools.disassembler": c.Tools.Disassembler,
		"tools.assembler":    c.Tools.Assembler,
		"tools.optimizer":    c.Tools.Optimizer,
	}
	for _, key := range []string{"tools.compiler", "tools.disassembler", "tools.assembler", "tools.optimizer"} {
		if tools[key] == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	if c.Serve.Addr == "" {
		errs = append(errs, fmt.Errorf("serve.addr is required"))
	}
	if c.Serve.ShutdownTimeout != "" {
		if d, err := time.ParseDuration(c.Serve.ShutdownTimeout); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("serve.shutdown_timeout must be a positive duration, got %q", c.Serve.ShutdownTimeout))
		}
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, fmt.Errorf("telemetry.endpoint is required when telemetry is enabled"))
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, stderrors.Join(errs...), "invalid configuration")
	}
	return nil
}

func validateMemory(key string, m MemoryConfig) []error {
	if !m.Import {
		return nil
	}
	var errs []error
	if m.InitialPages == 0 {
		errs = append(errs, fmt.Errorf("%s.initial_pages must be positive", key))
	}
	if m.MaxPages < m.InitialPages {
		errs = append(errs, fmt.Errorf("%s.max_pages (%d) is below initial_pages (%d)", key, m.MaxPages, m.InitialPages))
	}
	if m.MaxPages > 65536 {
		errs = append(errs, fmt.Errorf("%s.max_pages exceeds the 4GiB limit of 65536", key))
	}
	return errs
}

// within reports whether sub is strictly inside dir.
func within(dir, sub string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(sub))
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// expandVariables expands ${VAR} and ${VAR:-default} in path settings.
// ${PROGRAM} refers to the program name.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"PROGRAM": c.Program,
		"HOME":    os.Getenv("HOME"),
	}

	c.Source.Dir = expandVars(c.Source.Dir, vars)
	c.Source.Document = expandVars(c.Source.Document, vars)
	c.Source.ModuleEmbed = expandVars(c.Source.ModuleEmbed, vars)
	for i := range c.Source.Assets {
		c.Source.Assets[i].Source = expandVars(c.Source.Assets[i].Source, vars)
		c.Source.Assets[i].Embed = expandVars(c.Source.Assets[i].Embed, vars)
	}
	for i := range c.Source.Collections {
		c.Source.Collections[i].Path = expandVars(c.Source.Collections[i].Path, vars)
	}
	c.Build.Dir = expandVars(c.Build.Dir, vars)
	c.Build.Dist = expandVars(c.Build.Dist, vars)
	c.Tools.Compiler = expandVars(c.Tools.Compiler, vars)
	c.Tools.Disassembler = expandVars(c.Tools.Disassembler, vars)
	c.Tools.Assembler = expandVars(c.Tools.Assembler, vars)
	c.Tools.Optimizer = expandVars(c.Tools.Optimizer, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return parts[2]
	})
}
