// Package logging builds the process-wide structured logger. Every
// component receives a *zap.Logger scoped with With(...) rather than a
// positional varargs call, so downstream aggregation can filter on
// structured fields (drive fingerprint, pass, component).
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"wipecore/internal/config"
)

// New builds the process logger from the logging section of cfg. verbose
// forces debug-level console output regardless of the configured level.
func New(cfg *config.Config, verbose bool) (*zap.Logger, error) {
	level := parseLevel(cfg.Logging.Level)
	if verbose {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), level),
	}

	if cfg.Logging.File != "" {
		core, err := fileCore(cfg.Logging.File, level)
		if err != nil {
			// Degrade to stdout-only logging rather than fail startup over
			// a log file we cannot open.
			fmt.Fprintf(os.Stderr, "logging: falling back to stdout: %v\n", err)
		} else {
			cores = append(cores, core)
		}
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	if cfg.Logging.SIEMEnabled {
		logger = logger.With(zap.String("siem_forward", cfg.Logging.SIEMServer))
	}
	return logger, nil
}

func fileCore(path string, level zapcore.Level) (zapcore.Core, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	jsonCfg := zap.NewProductionEncoderConfig()
	jsonCfg.TimeKey = "ts"
	jsonCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), zapcore.AddSync(f), level), nil
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	case "FATAL":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
