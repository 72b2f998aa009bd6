// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging builds the zap logger used for diagnostics. Decoded
// telemetry printed by the CLI goes to stdout separately.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Thermoquad/sbsmon/pkg/config"
)

// New builds a logger from cfg. Without a filename the logger writes to
// stderr; with one, output is rotated by lumberjack.
func New(cfg config.LogConfig) *zap.Logger {
	var sink io.Writer = os.Stderr
	if cfg.Filename != "" {
		sink = &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize, // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}
	}
	return NewWithWriter(cfg, zapcore.AddSync(sink))
}

// NewWithWriter builds a logger writing to ws
func NewWithWriter(cfg config.LogConfig, ws zapcore.WriteSyncer) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if cfg.Filename != "" {
			encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, ws, zap.NewAtomicLevelAt(ParseLevel(cfg.Level)))
	return zap.New(core, zap.AddCaller())
}

// ParseLevel parses a level name, falling back to info for unknown names
func ParseLevel(name string) zapcore.Level {
	level, err := zapcore.ParseLevel(name)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}
