// Command build compiles the trace viewer, patches its bulk-memory
// routines for extrarelease builds, and writes a fingerprinted bundle to
// the distribution directory.
//
// Usage:
//
//	build [debug|release|extrarelease] [run]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/colrdavidson/spall-web/config"
	"github.com/colrdavidson/spall-web/pipeline"
	"github.com/colrdavidson/spall-web/preview"
	"github.com/colrdavidson/spall-web/telemetry"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	args := ParseArgs(argv)

	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		return 1
	}

	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	logger, err := newLogger(cfg.Log, interactive)
	if err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		return 1
	}
	defer func() { _ = logger.Sync() }()

	for _, a := range args.Ignored {
		logger.Debug("ignoring argument", zap.String("arg", a))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
		shutdown = func() {}
	}
	defer shutdown()

	var report *pipeline.Report
	if interactive {
		report, err = runInteractive(ctx, cfg, args.Profile, logger)
	} else {
		report, err = pipeline.New(cfg,
			pipeline.WithLogger(logger),
			pipeline.WithObserver(plainObserver{w: os.Stdout}),
		).Run(ctx, args.Profile)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		return 1
	}

	printSummary(os.Stdout, report)

	if !args.Serve {
		printHints(os.Stdout, cfg.Build.Dist, cfg.Serve.Addr)
		return 0
	}

	printBanner(os.Stdout, cfg.Serve.Addr)
	srv := preview.New(cfg.Build.Dist, cfg.Serve.Addr,
		preview.WithLogger(logger),
		preview.WithShutdownTimeout(cfg.Serve.Timeout()))
	if err := srv.Serve(ctx); err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		return 1
	}
	fmt.Println()
	return 0
}
