// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canbus

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Thermoquad/sbsmon/pkg/sbs"
)

// LogOption selects which operations a logged bus records
type LogOption uint8

const (
	LogRead LogOption = 1 << iota
	LogWrite

	LogNone LogOption = 0
	LogAll            = LogRead | LogWrite
)

// NewLoggedBus wraps a Bus and logs frames at the given level.
// Errors are always logged at error level.
func NewLoggedBus(inner Bus, logger *zap.Logger, level zapcore.Level, opts LogOption) Bus {
	return &loggedBus{inner: inner, logger: logger, level: level, opts: opts}
}

type loggedBus struct {
	inner  Bus
	logger *zap.Logger
	level  zapcore.Level
	opts   LogOption
}

func (l *loggedBus) Send(ctx context.Context, frame sbs.Frame) error {
	err := l.inner.Send(ctx, frame)
	if l.opts&LogWrite == 0 {
		return err
	}
	if err != nil {
		l.logger.Error("canbus send failed", zap.Stringer("frame", frame), zap.Error(err))
		return err
	}
	if ce := l.logger.Check(l.level, "canbus send"); ce != nil {
		ce.Write(zap.Stringer("frame", frame))
	}
	return nil
}

func (l *loggedBus) Receive(ctx context.Context) (sbs.Frame, error) {
	f, err := l.inner.Receive(ctx)
	if l.opts&LogRead == 0 {
		return f, err
	}
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Error("canbus receive failed", zap.Error(err))
		}
		return f, err
	}
	if ce := l.logger.Check(l.level, "canbus receive"); ce != nil {
		ce.Write(zap.Stringer("frame", f), zap.String("message", sbs.FormatMessageType(f.ID)))
	}
	return f, nil
}

func (l *loggedBus) Close() error {
	return l.inner.Close()
}
