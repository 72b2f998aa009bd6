// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sink publishes battery snapshots to message brokers and stores.
package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Thermoquad/sbsmon/pkg/config"
	"github.com/Thermoquad/sbsmon/pkg/sbs"
)

// Sink receives snapshots from the dispatcher. Publish may be called from
// several worker goroutines at once.
type Sink interface {
	Name() string
	Publish(ctx context.Context, snap sbs.Snapshot) error
	Close() error
}

// NoOp discards every snapshot. It is used when no sink is configured.
type NoOp struct{}

func (NoOp) Name() string { return "noop" }
func (NoOp) Publish(context.Context, sbs.Snapshot) error { return nil }
func (NoOp) Close() error { return nil }

func encode(snap sbs.Snapshot) ([]byte, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return body, nil
}

// Open creates every sink listed in cfg.Enabled. On error the sinks opened
// so far are closed.
func Open(cfg config.SinksConfig, logger *zap.Logger) ([]Sink, error) {
	var sinks []Sink
	for _, name := range cfg.Enabled {
		var (
			s   Sink
			err error
		)
		switch name {
		case config.SinkKafka:
			s, err = NewKafka(cfg.Kafka, logger)
		case config.SinkRabbitMQ:
			s, err = NewRabbitMQ(cfg.RabbitMQ, logger)
		case config.SinkRedis:
			s, err = NewRedis(cfg.Redis, logger)
		default:
			err = fmt.Errorf("unknown sink %q", name)
		}
		if err != nil {
			CloseAll(sinks, logger)
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, NoOp{})
	}
	return sinks, nil
}

// CloseAll closes every sink and logs failures
func CloseAll(sinks []Sink, logger *zap.Logger) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			logger.Error("Failed to close sink", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
}
