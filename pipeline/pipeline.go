// Package pipeline runs a build from source package to distribution
// directory.
//
// Stages run strictly in order:
//
//	clean → compile → [disassemble → patch → assemble → verify] → [optimize] → fingerprint → bundle
//
// The bracketed patch stages run for the extrarelease profile only, verify
// only when enabled in the configuration, and optimize only when the
// optimizer is enabled. Any failure aborts the build and removes the
// staging directory, so a failed build never leaves a distribution
// directory behind.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/colrdavidson/spall-web/bundle"
	"github.com/colrdavidson/spall-web/config"
	"github.com/colrdavidson/spall-web/errors"
	"github.com/colrdavidson/spall-web/patch"
	"github.com/colrdavidson/spall-web/telemetry"
	"github.com/colrdavidson/spall-web/toolchain"
	"github.com/colrdavidson/spall-web/verify"
)

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithRunner sets how external tools are executed.
func WithRunner(runner toolchain.Runner) Option {
	return func(b *Builder) {
		b.runner = runner
	}
}

// WithIDSource sets the randomness behind build identifiers.
func WithIDSource(src bundle.IDSource) Option {
	return func(b *Builder) {
		b.ids = src
	}
}

// WithObserver receives stage events.
func WithObserver(o Observer) Option {
	return func(b *Builder) {
		b.observer = o
	}
}

// WithChecker sets the verifier for reassembled modules.
func WithChecker(c *verify.Checker) Option {
	return func(b *Builder) {
		b.checker = c
	}
}

// WithTracer sets the tracer stage spans are recorded with.
func WithTracer(t trace.Tracer) Option {
	return func(b *Builder) {
		b.tracer = t
	}
}

// Builder runs builds for one configuration.
type Builder struct {
	cfg      *config.Config
	logger   *zap.Logger
	runner   toolchain.Runner
	ids      bundle.IDSource
	observer Observer
	checker  *verify.Checker
	tracer   trace.Tracer
}

// New creates a Builder. Unset options default to os/exec tools, a
// ChaCha8 id source, the global tracer and no observer.
func New(cfg *config.Config, opts ...Option) *Builder {
	b := &Builder{cfg: cfg}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.runner == nil {
		b.runner = toolchain.NewExecRunner(b.logger)
	}
	if b.ids == nil {
		b.ids = bundle.NewIDSource()
	}
	if b.observer == nil {
		b.observer = nopObserver{}
	}
	if b.checker == nil {
		b.checker = verify.NewChecker(b.logger, nil)
	}
	if b.tracer == nil {
		b.tracer = telemetry.Tracer()
	}
	return b
}

// Run builds profile. On success the distribution directory holds the host
// document and every fingerprinted asset, and nothing else.
func (b *Builder) Run(ctx context.Context, profile config.Profile) (report *Report, err error) {
	cfg := b.cfg.ForProfile(profile)

	ctx, span := b.tracer.Start(ctx, "build", trace.WithAttributes(
		attribute.String("profile", string(profile)),
		attribute.String("program", cfg.Program),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	r := &run{
		Builder: b,
		cfg:     cfg,
		profile: profile,
		tc: toolchain.New(b.runner, toolchain.Tools{
			Compiler:     cfg.Tools.Compiler,
			Disassembler: cfg.Tools.Disassembler,
			Assembler:    cfg.Tools.Assembler,
			Optimizer:    cfg.Tools.Optimizer,
		}, toolchain.WithLogger(b.logger)),
		dist: bundle.NewDist(cfg.Build.Dir, cfg.Build.Dist,
			bundle.WithIntermediates(cfg.Build.Intermediates...),
			bundle.WithDistLogger(b.logger)),
		report: &Report{Profile: profile, Dist: cfg.Build.Dist},
	}

	start := time.Now()
	b.logger.Info("build started", zap.String("profile", string(profile)), zap.String("program", cfg.Program))

	if err := r.execute(ctx); err != nil {
		if derr := r.dist.Discard(); derr != nil {
			b.logger.Warn("failed to remove staging directory", zap.Error(derr))
		}
		b.logger.Error("build failed", zap.String("profile", string(profile)), zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("build_id", r.report.BuildID))
	b.logger.Info("build finished",
		zap.String("profile", string(profile)),
		zap.String("build_id", r.report.BuildID),
		zap.Duration("duration", time.Since(start)))
	return r.report, nil
}

// run is the state of one build.
type run struct {
	*Builder
	cfg     *config.Config
	profile config.Profile
	tc      *toolchain.Toolchain
	dist    *bundle.Dist
	report  *Report

	module   string // current binary, replaced by each stage that rewrites it
	compiled string
	text     string
	patched  string
	doc      bundle.Document
}

type step struct {
	stage   Stage
	enabled bool
	fn      func(context.Context) error
}

func (r *run) execute(ctx context.Context) error {
	patching := r.profile.Patches()
	steps := []step{
		{StageClean, true, r.clean},
		{StageCompile, true, r.compile},
		{StageDisassemble, patching, r.disassemble},
		{StagePatch, patching, r.patch},
		{StageAssemble, patching, r.assemble},
		{StageVerify, patching && r.cfg.Patch.Verify, r.verify},
		{StageOptimize, r.cfg.Optimizer.Enabled, r.optimize},
		{StageFingerprint, true, r.fingerprint},
		{StageBundle, true, r.bundle},
	}

	for _, s := range steps {
		if !s.enabled {
			r.observer.Observe(Event{Stage: s.stage, Status: StatusSkipped})
			continue
		}
		if err := r.stage(ctx, s.stage, s.fn); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) stage(ctx context.Context, s Stage, fn func(context.Context) error) error {
	phase := errors.Phase(s)
	if err := ctx.Err(); err != nil {
		return errors.New(phase, errors.KindToolFailed).Detail("interrupted").Cause(err).Build()
	}

	ctx, span := r.tracer.Start(ctx, "stage."+string(s), trace.WithAttributes(attribute.String("stage", string(s))))
	defer span.End()

	r.observer.Observe(Event{Stage: s, Status: StatusStarted})
	r.logger.Debug("stage started", zap.String("stage", string(s)))

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.observer.Observe(Event{Stage: s, Status: StatusFailed, Duration: elapsed, Err: err})
		return err
	}

	r.report.Timings = append(r.report.Timings, Timing{Stage: s, Duration: elapsed})
	r.observer.Observe(Event{Stage: s, Status: StatusFinished, Duration: elapsed})
	r.logger.Info("stage finished", zap.String("stage", string(s)), zap.Duration("duration", elapsed))
	return nil
}

func (r *run) path(name string) string {
	return filepath.Join(r.cfg.Build.Dir, name)
}

func (r *run) clean(context.Context) error {
	return r.dist.Clean()
}

func (r *run) compile(ctx context.Context) error {
	out := r.path(r.cfg.Program + ".wasm")
	opts := toolchain.CompileOptions{
		Source: r.cfg.Source.Dir,
		Output: out,
		Target: r.cfg.Build.Target,
		Flags:  r.cfg.Flags(r.profile),
		Memory: toolchain.Memory{
			Import:  r.cfg.Memory.Import,
			Initial: r.cfg.Memory.InitialBytes(),
			Max:     r.cfg.Memory.MaxBytes(),
		},
		Extra: r.cfg.Build.ExtraArgs,
	}
	for _, c := range r.cfg.Source.Collections {
		opts.Collections = append(opts.Collections, toolchain.Collection{Name: c.Name, Path: c.Path})
	}

	if _, err := r.tc.Compile(ctx, opts); err != nil {
		return err
	}
	if _, err := os.Stat(out); err != nil {
		return errors.New(errors.PhaseCompile, errors.KindNotFound).
			Tool(r.tc.Tools().Compiler).
			Path(out).
			Detail("compiler exited cleanly but wrote no module").
			Cause(err).
			Build()
	}
	r.module = out
	r.compiled = out
	return nil
}

func (r *run) disassemble(ctx context.Context) error {
	if err := r.tc.RequireVersion(ctx, errors.PhaseDisassemble, r.tc.Tools().Assembler, r.cfg.Tools.MinWabtVersion); err != nil {
		return err
	}
	r.text = r.path(r.cfg.Program + ".wat")
	_, err := r.tc.Disassemble(ctx, r.module, r.text)
	return err
}

func (r *run) patch(context.Context) error {
	data, err := os.ReadFile(r.text)
	if err != nil {
		return errors.FileError(errors.PhasePatch, r.text, err)
	}

	res, err := patch.New(patch.WithLogger(r.logger)).Apply(string(data))
	if err != nil {
		if e, ok := err.(*errors.Error); ok && e.Path == "" {
			e.Path = r.text
		}
		return err
	}
	r.report.Patch = res

	r.patched = r.path(r.cfg.Program + "_patched.wat")
	if err := os.WriteFile(r.patched, []byte(res.Text), 0o644); err != nil {
		return errors.FileError(errors.PhasePatch, r.patched, err)
	}
	r.logger.Info("patched module",
		zap.Int("replaced", len(res.Replacements)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Strings("missing", res.Missing))
	return nil
}

func (r *run) assemble(ctx context.Context) error {
	out := r.path(r.cfg.Program + "_patched.wasm")
	diags, err := r.tc.Assemble(ctx, r.patched, out)
	if err != nil {
		return r.assemblyError(err, diags)
	}
	r.module = out

	if !r.cfg.Patch.KeepText {
		for _, p := range []string{r.text, r.patched} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				r.logger.Warn("failed to remove text module", zap.String("path", p), zap.Error(err))
			}
		}
	}
	return nil
}

// assemblyError names the patched function when one of the assembler's
// errors points inside replaced text.
func (r *run) assemblyError(err error, diags []toolchain.Diagnostic) error {
	for _, d := range toolchain.Errors(diags) {
		rep, ok := r.report.Patch.At(d.Line)
		if !ok {
			continue
		}
		return errors.New(errors.PhaseAssemble, errors.KindMalformedText).
			Tool(r.tc.Tools().Assembler).
			Path(r.patched).
			Function(rep.Func).
			Span(rep.Span()).
			Detail("%s", d.Message).
			Cause(err).
			Build()
	}
	return err
}

func (r *run) verify(ctx context.Context) error {
	bin, err := os.ReadFile(r.module)
	if err != nil {
		return errors.FileError(errors.PhaseVerify, r.module, err)
	}
	reps := r.report.Patch.Replacements
	if err := r.checker.Check(ctx, bin, reps); err != nil {
		return err
	}

	original, err := os.ReadFile(r.compiled)
	if err != nil {
		return errors.FileError(errors.PhaseVerify, r.compiled, err)
	}
	return r.checker.Behavior(ctx, original, bin, reps)
}

func (r *run) optimize(ctx context.Context) error {
	out := r.path(r.cfg.Program + "_opt.wasm")
	if _, err := r.tc.Optimize(ctx, r.module, out, r.cfg.Optimizer.Passes); err != nil {
		return err
	}
	r.module = out
	return nil
}

func (r *run) fingerprint(context.Context) error {
	staging, err := r.dist.Stage()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(r.cfg.Source.Document)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NotFound(errors.PhaseFingerprint, r.cfg.Source.Document, "host document")
		}
		return errors.FileError(errors.PhaseFingerprint, r.cfg.Source.Document, err)
	}

	id := bundle.NewBuildID(r.ids)
	fp, err := bundle.NewFingerprinter(id, staging, bundle.WithFingerprintLogger(r.logger))
	if err != nil {
		return err
	}

	assets := make([]bundle.Asset, 0, len(r.cfg.Source.Assets)+1)
	for _, a := range r.cfg.Source.Assets {
		assets = append(assets, bundle.Asset{Source: a.Source, Embed: a.Embed})
	}
	assets = append(assets, bundle.Asset{Source: r.module, Embed: r.cfg.ModuleEmbed()})

	doc, entries, err := fp.ApplyAll(bundle.NewDocument(string(data)), assets)
	if err != nil {
		return err
	}
	r.doc = doc
	r.report.BuildID = id
	r.report.Entries = entries
	r.report.Module = r.module
	return nil
}

func (r *run) bundle(context.Context) error {
	if err := r.dist.Commit(r.doc, r.cfg.Build.DocumentName); err != nil {
		return err
	}
	files, err := r.dist.Files()
	if err != nil {
		return err
	}
	r.report.Files = files
	return nil
}
