package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/colrdavidson/spall-web/config"
)

// newLogger builds the process logger. Logs go to stderr; in interactive
// mode the level is raised to warn so stage logs do not fight the spinner.
func newLogger(cfg config.LogConfig, interactive bool) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if interactive && level < zapcore.WarnLevel {
		level = zapcore.WarnLevel
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.DisableStacktrace = true
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
