// Package logger builds the zap loggers used by the CLI and server.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service is attached to every entry as the "service" field.
const Service = "tpsl"

// Options selects the logger flavour.
type Options struct {
	Development bool
	Level       string // empty keeps the mode default (debug or info)
	Encoding    string // "json" or "console"; empty keeps the mode default
}

// New creates a zap logger. Development mode logs colored console output
// at debug, otherwise JSON at info with ISO8601 timestamps.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if opts.Level != "" {
		lvl, err := zap.ParseAtomicLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		cfg.Level = lvl
	}
	if opts.Encoding != "" {
		cfg.Encoding = opts.Encoding
		if opts.Encoding == "json" {
			cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		}
	}
	cfg.InitialFields = map[string]any{"service": Service}

	return cfg.Build()
}

// Must creates a logger or panics
func Must(opts Options) *zap.Logger {
	log, err := New(opts)
	if err != nil {
		panic(err)
	}
	return log
}
